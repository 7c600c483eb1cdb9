package seal

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	formatPlain  byte = 0
	formatSealed byte = 1
	// formatBound is sealed with the paste id as additional data.
	formatBound byte = 2
)

var (
	ErrTooShort     = errors.New("sealed content too short")
	ErrUnknownFmt   = errors.New("unknown content format")
	ErrKeyRequired  = errors.New("content is sealed but no key is configured")
	ErrInvalidKeyLn = errors.New("content key must be 32 bytes")
)

// Sealer encrypts paste content at rest. A nil *Sealer stores content in the
// clear but can still read plain records written by one.
type Sealer struct {
	aead cipher.AEAD
}

func New(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKeyLn
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.Wrap(err, "init xchacha20poly1305")
	}
	return &Sealer{aead: aead}, nil
}

// FromBase64 returns a nil Sealer for an empty key.
func FromBase64(key string) (*Sealer, error) {
	if key == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, errors.Wrap(err, "decode content key")
	}
	defer wipe(raw)
	return New(raw)
}

// Seal encrypts plaintext bound to id, so the result only opens for the
// same id.
func (s *Sealer) Seal(id string, plaintext []byte) ([]byte, error) {
	if s == nil {
		out := make([]byte, 0, len(plaintext)+1)
		out = append(out, formatPlain)
		return append(out, plaintext...), nil
	}
	ns := s.aead.NonceSize()
	out := make([]byte, 1+ns, 1+ns+len(plaintext)+s.aead.Overhead())
	out[0] = formatBound
	nonce := out[1:]
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "read nonce")
	}
	return s.aead.Seal(out, nonce, plaintext, []byte(id)), nil
}

// Open reverses Seal. Records sealed before id binding open without it.
func (s *Sealer) Open(id string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrTooShort
	}
	var ad []byte
	switch data[0] {
	case formatPlain:
		return append([]byte(nil), data[1:]...), nil
	case formatBound:
		ad = []byte(id)
	case formatSealed:
	default:
		return nil, ErrUnknownFmt
	}
	if s == nil {
		return nil, ErrKeyRequired
	}
	body := data[1:]
	ns := s.aead.NonceSize()
	if len(body) < ns {
		return nil, ErrTooShort
	}
	pt, err := s.aead.Open(nil, body[:ns], body[ns:], ad)
	if err != nil {
		return nil, errors.Wrap(err, "open sealed content")
	}
	return pt, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
