package idgen

import (
	"crypto/rand"
	"fmt"
)

// NewEntityID mints a random base36 id for daemon-owned entities
// (directories, repositories, conversations, tasks, subscriptions,
// controllers). Unlike GenerateHashID, which derives a deterministic
// id from issue content for import stability, daemon entities have no
// stable content to hash at creation time, so this draws from
// crypto/rand instead.
func NewEntityID(prefix string) string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("idgen: read random bytes: %v", err))
	}
	return fmt.Sprintf("%s-%s", prefix, EncodeBase36(buf[:], 12))
}
