package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// Stock returns a stock item id: base36 milliseconds plus six random base36
// characters. Unique in practice, not cryptographically.
func Stock() string {
	var suffix strings.Builder
	limit := big.NewInt(int64(len(base36)))
	for i := 0; i < 6; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			suffix.WriteString(strconv.FormatInt(time.Now().UnixNano()%36, 36))
			continue
		}
		suffix.WriteByte(base36[n.Int64()])
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + suffix.String()
}

// New returns a prefixed opaque id.
func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// Session returns a time-ordered session id.
func Session() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

var (
	clockMu  sync.Mutex
	lastTick int64
)

// Millis returns the current Unix millisecond, bumped so that successive calls
// in one process never repeat. Notification ids rely on it for ordering.
func Millis(now time.Time) int64 {
	clockMu.Lock()
	defer clockMu.Unlock()
	tick := now.UnixMilli()
	if tick <= lastTick {
		tick = lastTick + 1
	}
	lastTick = tick
	return tick
}
