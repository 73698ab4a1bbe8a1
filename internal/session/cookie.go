package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

var errInvalidSignature = errors.New("invalid cookie signature")

// signer authenticates cookie values with HMAC-SHA256.
type signer struct {
	key []byte
}

func (s signer) mac(value string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(value))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// sign returns "value.signature".
func (s signer) sign(value string) string {
	return value + "." + s.mac(value)
}

// verify returns the value of a signed string.
func (s signer) verify(signed string) (string, error) {
	i := strings.LastIndexByte(signed, '.')
	if i <= 0 {
		return "", errInvalidSignature
	}
	value, sig := signed[:i], signed[i+1:]
	if !hmac.Equal([]byte(sig), []byte(s.mac(value))) {
		return "", errInvalidSignature
	}
	return value, nil
}

func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
