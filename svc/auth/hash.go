package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

const maxPasswordLength = 1024

// Hasher produces and verifies argon2id digests. Passwords are pre-hashed
// with an HMAC-SHA256 pepper so a database dump alone is not crackable.
type Hasher struct {
	iterations  uint32
	memory      uint32
	parallelism uint8
	keyLength   uint32
	pepper      []byte
}

func NewHasher(time, memory uint32, parallelism uint8, keyLength uint32, pepper []byte) (*Hasher, error) {
	if len(pepper) < 32 {
		return nil, errors.New("pepper must be at least 32 bytes")
	}
	if time == 0 || time > 100 {
		return nil, errors.New("iterations must be between 1 and 100")
	}
	if memory < 8*1024 || memory > 2*1024*1024 {
		return nil, errors.New("memory must be between 8192 and 2097152 KiB")
	}
	if parallelism == 0 {
		return nil, errors.New("parallelism must be at least 1")
	}
	if keyLength < 32 {
		return nil, errors.New("key length must be at least 32")
	}
	pepperCopy := make([]byte, len(pepper))
	copy(pepperCopy, pepper)
	return &Hasher{
		iterations:  time,
		memory:      memory,
		parallelism: parallelism,
		keyLength:   keyLength,
		pepper:      pepperCopy,
	}, nil
}

func (h *Hasher) Hash(password string) (string, error) {
	if len(password) > maxPasswordLength {
		return "", errors.New("password too long")
	}
	peppered := h.applyPepper(password)
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "salt")
	}
	hash := argon2.IDKey(peppered, salt, h.iterations, h.memory, h.parallelism, h.keyLength)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.memory, h.iterations, h.parallelism, b64Salt, b64Hash), nil
}

// Verify compares a password against an encoded digest in constant time.
// Malformed digests run a dummy comparison so the failure path costs the
// same as a real mismatch.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	if len(password) > maxPasswordLength {
		return false, nil
	}
	mem, iters, threads := h.memory, h.iterations, h.parallelism
	var salt, hash []byte
	valid := true
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		valid = false
	} else if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &threads); err != nil {
		valid = false
	} else if mem > 2*1024*1024 || iters > 1000 {
		valid = false
	} else {
		var err error
		salt, err = base64.RawStdEncoding.DecodeString(parts[4])
		if err != nil || len(salt) == 0 {
			valid = false
		}
		hash, err = base64.RawStdEncoding.DecodeString(parts[5])
		if err != nil || len(hash) == 0 || len(hash) > 256 {
			valid = false
		}
	}
	if !valid {
		mem, iters, threads = h.memory, h.iterations, h.parallelism
		salt = make([]byte, 16)
		hash = make([]byte, 32)
	}
	peppered := h.applyPepper(password)
	otherHash := argon2.IDKey(peppered, salt, iters, mem, threads, uint32(len(hash)))
	match := subtle.ConstantTimeCompare(hash, otherHash) == 1
	if !valid || !match {
		return false, nil
	}
	return true, nil
}

func (h *Hasher) applyPepper(password string) []byte {
	mac := hmac.New(sha256.New, h.pepper)
	mac.Write([]byte(password))
	return mac.Sum(nil)
}
