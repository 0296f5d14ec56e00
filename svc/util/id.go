package util

import (
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

const (
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	idLength   = 6
	idRetries  = 5
)

// GenID produces a 6-character base-36 identifier from a cryptographically
// strong source. The exists callback lets the caller reject ids already
// present in the store; after idRetries collisions the generator gives up.
func GenID(exists func(string) (bool, error)) (string, error) {
	max := big.NewInt(int64(len(idAlphabet)))
	for retry := 0; retry < idRetries; retry++ {
		buf := make([]byte, idLength)
		for i := range buf {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", errors.Wrap(err, "rand fail")
			}
			buf[i] = idAlphabet[n.Int64()]
		}
		id := string(buf)
		exist, err := exists(id)
		if err != nil {
			return "", err
		}
		if !exist {
			return id, nil
		}
	}
	return "", errors.Errorf("id collision after %d retries", idRetries)
}
