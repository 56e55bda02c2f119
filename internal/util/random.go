package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

var (
	tokenChars = []rune("0123456789abcdefghijklmnopqrstuvwxyz")
)

// RandomToken returns n characters drawn uniformly from [0-9a-z].
func RandomToken(n int) (string, error) {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		idx, err := RandomIntn(len(tokenChars))
		if err != nil {
			return "", fmt.Errorf("generating random char index: %w", err)
		}
		sb.WriteRune(tokenChars[idx])
	}
	return sb.String(), nil
}

// RandomIntn returns a uniform integer in [0, max).
func RandomIntn(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("generating random number: %w", err)
	}
	return int(n.Int64()), nil
}
