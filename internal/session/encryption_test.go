package session

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealer_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	s, err := NewSealer(key)
	require.NoError(t, err)
	assert.True(t, s.Enabled())

	sealed, err := s.Seal([]byte(`{"accessToken":"secret"}`))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "secret")

	opened, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, `{"accessToken":"secret"}`, string(opened))
}

func TestSealer_NonceIsRandom(t *testing.T) {
	key, _ := GenerateKey()
	s, err := NewSealer(key)
	require.NoError(t, err)

	a, _ := s.Seal([]byte("same"))
	b, _ := s.Seal([]byte("same"))
	assert.NotEqual(t, a, b)
}

func TestSealer_Disabled(t *testing.T) {
	s, err := NewSealer(nil)
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	sealed, err := s.Seal([]byte("plain"))
	require.NoError(t, err)
	assert.Equal(t, "plain", sealed)
}

func TestSealer_Tampered(t *testing.T) {
	key, _ := GenerateKey()
	s, _ := NewSealer(key)

	sealed, err := s.Seal([]byte("payload"))
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(sealed)
	raw[len(raw)-1] ^= 0xff

	_, err = s.Open(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)

	_, err = s.Open("AAAA")
	assert.EqualError(t, err, "ciphertext too short")

	_, err = s.Open("not base64!")
	assert.Error(t, err)

	other, _ := GenerateKey()
	s2, _ := NewSealer(other)
	_, err = s2.Open(sealed)
	assert.Error(t, err)
}

func TestNewSealer_BadKey(t *testing.T) {
	_, err := NewSealer([]byte("short"))
	assert.Error(t, err)
}

func TestKeyFromBase64(t *testing.T) {
	key, err := KeyFromBase64("")
	require.NoError(t, err)
	assert.Nil(t, key)

	valid := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", KeySize)))
	key, err = KeyFromBase64(valid)
	require.NoError(t, err)
	assert.Len(t, key, KeySize)

	_, err = KeyFromBase64(base64.StdEncoding.EncodeToString([]byte("too short")))
	assert.Error(t, err)

	_, err = KeyFromBase64("%%%")
	assert.Error(t, err)
}
