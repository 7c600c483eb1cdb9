package util

import (
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
)

const base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// GenID returns a random base62 id of the given length. Collisions are not
// checked here; the store rejects duplicates on insert.
func GenID(length int) (string, error) {
	id, err := gonanoid.Generate(base62Chars, length)
	if err != nil {
		return "", errors.Wrap(err, "generate id")
	}
	return id, nil
}

// ValidID reports whether s could have been produced by GenID.
func ValidID(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}
