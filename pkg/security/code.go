package security

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

var errCodeLength = errors.New("code length must be positive")

var ten = big.NewInt(10)

// GenerateCode returns a numeric code of the given length.
// Each digit is drawn uniformly from crypto/rand.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", errCodeLength
	}

	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
