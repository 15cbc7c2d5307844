package app

import "github.com/google/uuid"

// newID returns a random (v4) UUID string. uuid draws from crypto/rand.
func newID() string {
	return uuid.NewString()
}
