package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// 同一毫秒内生成的 ID 仍保持字典序递增
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New 返回按时间排序的 ULID 字符串。
func New() string {
	return At(time.Now())
}

// At 以给定时间生成 ULID。
func At(ts time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	v, err := ulid.New(ulid.Timestamp(ts.UTC()), mono)
	if err != nil {
		panic(err)
	}
	return v.String()
}

// Time 解析 ULID 中的时间戳。
func Time(s string) (time.Time, bool) {
	v, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(v.Time()).UTC(), true
}
