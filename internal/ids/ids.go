package ids

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a lexicographically sortable id. Creation order of rows
// inserted in the same transaction is preserved by id order.
func NewULID() (string, error) {
	id, err := ulid.New(ulid.Now(), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID panics on entropy failure. Used where an id failure means the
// process is unusable anyway (tests, startup wiring).
func MustULID() string {
	s, err := NewULID()
	if err != nil {
		panic(err)
	}
	return s
}
