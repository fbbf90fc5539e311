package util

import (
	"crypto/rand"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a time-sortable identifier, optionally namespaced by prefix.
func NewID(prefix string) string {
	entropyMu.Lock()
	id := strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
	entropyMu.Unlock()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// NewToken returns n URL-safe characters drawn from crypto/rand.
func NewToken(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = tokenAlphabet[int(b)&63]
	}
	return string(out)
}
