package safety

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrLocked 表示已有存活进程持有锁文件。
var ErrLocked = errors.New("safety: 已有实例在运行")

// Lock 为单实例锁，内容为持有者 PID。
type Lock struct {
	path   string
	logger *zap.Logger
}

// processAlive 通过 /proc/<pid> 判断进程是否存活。
var processAlive = func(pid int) bool {
	_, err := os.Stat(filepath.Join("/proc", strconv.Itoa(pid)))
	return err == nil
}

// Acquire 获取锁文件。持有者进程已退出时清理旧锁后重新获取。
func Acquire(path string, logger *zap.Logger) (*Lock, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("safety: 创建锁目录失败: %w", err)
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, writeErr := f.WriteString(strconv.Itoa(os.Getpid()))
			closeErr := f.Close()
			if writeErr != nil || closeErr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("safety: 写入锁文件失败: %w", multierr.Combine(writeErr, closeErr))
			}
			return &Lock{path: path, logger: logger}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("safety: 创建锁文件失败: %w", err)
		}

		pid := readPID(path)
		if pid > 0 && processAlive(pid) {
			return nil, fmt.Errorf("%w (pid %d)", ErrLocked, pid)
		}
		logger.Warn("清理失效的锁文件", zap.String("path", path), zap.Int("pid", pid))
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("safety: 清理锁文件失败: %w", err)
		}
	}

	return nil, fmt.Errorf("%w: 锁文件被并发抢占", ErrLocked)
}

// Release 删除锁文件，可重复调用。
func (l *Lock) Release() {
	if l == nil {
		return
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("删除锁文件失败", zap.String("path", l.path), zap.Error(err))
	}
}

func readPID(path string) int {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0
	}
	return pid
}
