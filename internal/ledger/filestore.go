package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

const backupSuffix = ".bak"

// FileStore 以 JSON Lines 持久化账本。
// 每次写入先备份旧文件，再写临时文件、fsync 后原子重命名。
type FileStore struct {
	path      string
	statsPath string
	logger    *zap.Logger
}

// NewFileStore 创建文件账本。
func NewFileStore(path, statsPath string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		path:      path,
		statsPath: statsPath,
		logger:    logger,
	}
}

// Path 返回账本文件路径。
func (s *FileStore) Path() string {
	return s.path
}

// Load 读取完整账本。文件不存在视为空账本。
// 主文件中间行损坏时回退到备份文件。
func (s *FileStore) Load() ([]Entry, error) {
	entries, err := s.readFile(s.path)
	if err == nil {
		return entries, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return []Entry{}, nil
	}

	s.logger.Warn("账本主文件损坏，尝试读取备份",
		zap.String("path", s.path),
		zap.Error(err),
	)

	backup, backupErr := s.readFile(s.path + backupSuffix)
	if backupErr != nil {
		return nil, fmt.Errorf("ledger: 读取账本失败: %w", err)
	}
	return backup, nil
}

// Append 追加一条新记录。
func (s *FileStore) Append(entry Entry) error {
	if entry.ID == "" {
		return errors.New("ledger: 条目缺少 id")
	}

	entries, err := s.Load()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID == entry.ID {
			return fmt.Errorf("ledger: 条目 %s 已存在", entry.ID)
		}
	}

	return s.writeAll(append(entries, entry))
}

// Settle 将指定条目由 Pending 迁移到终态并落盘，返回更新后的条目。
func (s *FileStore) Settle(id string, settled Entry) (Entry, error) {
	entries, err := s.Load()
	if err != nil {
		return Entry{}, err
	}

	idx := -1
	for i := range entries {
		if entries[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if entries[idx].Outcome != OutcomePending {
		return entries[idx], fmt.Errorf("%w: %s (%s)", ErrNotPending, id, entries[idx].Outcome)
	}
	if !settled.Outcome.Terminal() {
		return entries[idx], fmt.Errorf("ledger: 无效的结算状态 %q", settled.Outcome)
	}

	entries[idx] = settled
	if err := s.writeAll(entries); err != nil {
		return Entry{}, err
	}
	return settled, nil
}

// WriteStats 原子写出统计快照。
func (s *FileStore) WriteStats(stats Stats) error {
	if s.statsPath == "" {
		return nil
	}
	payload, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: 序列化统计失败: %w", err)
	}
	return writeFileAtomic(s.statsPath, append(payload, '\n'))
}

// ReadStats 读取最近一次写出的统计快照。
func (s *FileStore) ReadStats() (Stats, error) {
	var stats Stats
	raw, err := os.ReadFile(s.statsPath)
	if err != nil {
		return stats, fmt.Errorf("ledger: 读取统计失败: %w", err)
	}
	if err := json.Unmarshal(raw, &stats); err != nil {
		return stats, fmt.Errorf("ledger: 解析统计失败: %w", err)
	}
	return stats, nil
}

func (s *FileStore) writeAll(entries []Entry) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("ledger: 序列化条目失败: %w", err)
		}
	}

	if err := s.backup(); err != nil {
		return err
	}
	if err := writeFileAtomic(s.path, buf.Bytes()); err != nil {
		return err
	}
	return nil
}

func (s *FileStore) backup() error {
	current, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger: 读取账本用于备份失败: %w", err)
	}
	if _, parseErr := decodeEntries(current); parseErr != nil {
		// 不用损坏的内容覆盖仍然有效的备份
		s.logger.Warn("账本主文件不可解析，保留旧备份", zap.Error(parseErr))
		return nil
	}
	if err := writeFileAtomic(s.path+backupSuffix, current); err != nil {
		return fmt.Errorf("ledger: 写入备份失败: %w", err)
	}
	return nil
}

func (s *FileStore) readFile(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	entries, err := decodeEntries(raw)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// decodeEntries 逐行解析。仅末行截断时容忍并丢弃，其余损坏返回错误。
func decodeEntries(raw []byte) ([]Entry, error) {
	entries := make([]Entry, 0, 64)
	reader := bufio.NewReader(bytes.NewReader(raw))
	lineNo := 0

	for {
		line, readErr := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			lineNo++
			var e Entry
			if err := json.Unmarshal(bytes.TrimSpace(line), &e); err != nil {
				if readErr == io.EOF {
					break
				}
				return nil, fmt.Errorf("ledger: 第 %d 行解析失败: %w", lineNo, err)
			}
			entries = append(entries, e)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, readErr
		}
	}

	return entries, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ledger: 创建目录 %q 失败: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("ledger: 创建临时文件失败: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("ledger: 写入临时文件失败: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("ledger: 刷盘失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("ledger: 关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("ledger: 替换文件失败: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
