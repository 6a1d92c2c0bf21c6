package session

import (
	"crypto/rand"
	"encoding/hex"
)

// NewProcessID generates the random 16-byte identity of this gateway
// process. It doubles as the broker routing key and the directory's
// process-id value and lives for the whole process lifetime.
func NewProcessID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic("session: cannot read random bytes: " + err.Error())
	}
	return hex.EncodeToString(buf)
}
