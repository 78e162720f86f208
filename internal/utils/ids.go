package utils

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// NewID returns a new ULID string.  ULIDs sort by creation time, which keeps
// list ordering stable without a separate sequence column.
func NewID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// ValidID reports whether s parses as a ULID.
func ValidID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
