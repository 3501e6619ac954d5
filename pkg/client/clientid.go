package client

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DeriveClientID returns a stable client identifier for a username. The id
// is the truncated SHA-256 of a salted, normalized username, rendered in
// UUID form so it is valid wherever a UUID is expected. The same username
// always maps to the same id, which lets a reinstalled client resume its
// version-vector history instead of forking it.
func DeriveClientID(username string) string {
	normalized := strings.ToLower(strings.TrimSpace(username))
	sum := sha256.Sum256([]byte("filesync_user_" + normalized))
	return formatUUID(sum[:16])
}

// RandomClientID returns a fresh random client identifier. Used before
// login, when no username is known yet.
func RandomClientID() string {
	return uuid.New().String()
}

func formatUUID(b []byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
