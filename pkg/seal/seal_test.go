package seal

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestSealOpen(t *testing.T) {
	s, err := New(testKey())
	require.NoError(t, err)

	ct, err := s.Seal("abc", []byte("hello"))
	require.NoError(t, err)
	assert.NotContains(t, string(ct), "hello")
	assert.Equal(t, formatBound, ct[0])
	assert.Len(t, ct, 1+s.aead.NonceSize()+len("hello")+s.aead.Overhead())
	assert.Equal(t, cap(ct), len(ct), "sealed output fits the first allocation")

	pt, err := s.Open("abc", ct)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(pt))
}

func TestSealedContentIsBoundToID(t *testing.T) {
	s, err := New(testKey())
	require.NoError(t, err)
	ct, err := s.Seal("first", []byte("secret"))
	require.NoError(t, err)

	_, err = s.Open("second", ct)
	assert.Error(t, err, "content moved to another id must not open")
}

func TestOpenReadsUnboundRecords(t *testing.T) {
	s, err := New(testKey())
	require.NoError(t, err)
	nonce := make([]byte, s.aead.NonceSize())
	_, err = rand.Read(nonce)
	require.NoError(t, err)
	legacy := append([]byte{formatSealed}, s.aead.Seal(nonce, nonce, []byte("old"), nil)...)

	pt, err := s.Open("any", legacy)
	require.NoError(t, err)
	assert.Equal(t, "old", string(pt))
}

func TestSealUsesFreshNonce(t *testing.T) {
	s, err := New(testKey())
	require.NoError(t, err)
	a, _ := s.Seal("id", []byte("same"))
	b, _ := s.Seal("id", []byte("same"))
	assert.NotEqual(t, a, b)
}

func TestNilSealerIsPlain(t *testing.T) {
	var s *Sealer
	data, err := s.Seal("id", []byte("clear"))
	require.NoError(t, err)
	pt, err := s.Open("id", data)
	require.NoError(t, err)
	assert.Equal(t, "clear", string(pt))

	keyed, err := New(testKey())
	require.NoError(t, err)
	pt, err = keyed.Open("id", data)
	require.NoError(t, err, "keyed sealer must still read plain records")
	assert.Equal(t, "clear", string(pt))
}

func TestOpenFailures(t *testing.T) {
	keyed, err := New(testKey())
	require.NoError(t, err)
	sealed, err := keyed.Seal("id", []byte("secret"))
	require.NoError(t, err)

	var plain *Sealer
	_, err = plain.Open("id", sealed)
	assert.ErrorIs(t, err, ErrKeyRequired)

	other, err := New(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)
	_, err = other.Open("id", sealed)
	assert.Error(t, err)

	_, err = keyed.Open("id", nil)
	assert.ErrorIs(t, err, ErrTooShort)
	_, err = keyed.Open("id", []byte{formatBound, 1, 2})
	assert.ErrorIs(t, err, ErrTooShort)
	_, err = keyed.Open("id", []byte{9, 1, 2})
	assert.ErrorIs(t, err, ErrUnknownFmt)
}

func TestFromBase64(t *testing.T) {
	s, err := FromBase64("")
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = FromBase64(base64.StdEncoding.EncodeToString(testKey()))
	require.NoError(t, err)
	assert.NotNil(t, s)

	_, err = FromBase64("not base64!")
	assert.Error(t, err)
	_, err = FromBase64(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidKeyLn)
}
