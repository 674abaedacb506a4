package utils

import (
	"crypto/rand"
)

const (
	shortURLLength = 6
	charset        = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateShortURL generates a random 6-character alphanumeric short URL
func GenerateShortURL() string {
	bytes := make([]byte, shortURLLength)
	rand.Read(bytes)

	code := make([]byte, shortURLLength)
	for i := 0; i < shortURLLength; i++ {
		code[i] = charset[bytes[i]%byte(len(charset))]
	}

	return string(code)
}
