// Package xid mints prefixed identifiers for orders, transfers and audit
// entries ("ord-...", "trf-...", "audit-...").
package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a fresh identifier of the form prefix-nanos-random. The
// random suffix keeps ids unique across processes that share a clock tick;
// if the entropy source is unavailable the timestamp alone is used.
func New(prefix string) string {
	now := time.Now().UnixNano()
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, now)
	}
	return fmt.Sprintf("%s-%d-%s", prefix, now, hex.EncodeToString(buf))
}
