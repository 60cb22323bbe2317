package util

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

const (
	IDLength    = 10
	idAlphabet  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	alphabetLen = int64(len(idAlphabet))
)

// GenID returns a random identifier of IDLength characters drawn uniformly
// from [a-zA-Z0-9]. Uniqueness is enforced by the store, not here.
func GenID() (string, error) {
	buf := make([]byte, IDLength)
	max := big.NewInt(alphabetLen)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		buf[i] = idAlphabet[n.Int64()]
	}
	return string(buf), nil
}
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}
