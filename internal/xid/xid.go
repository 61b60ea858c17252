package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random identifier carrying a short type prefix, e.g. "ord-9f0c…".
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
