package sessions

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	apperrors "github.com/jrsteele09/go-salesforce-proxy/internal/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// HKDF info labels; each purpose gets an independent key from SESSION_SECRET.
const (
	cookieKeyInfo = "sfproxy session cookie v1"
	sealKeyInfo   = "sfproxy session store v1"
)

// Keys are the purpose-bound keys derived from the session secret.
type Keys struct {
	Cookie []byte
	Seal   []byte
}

func DeriveKeys(secret string) (Keys, error) {
	if secret == "" {
		return Keys{}, fmt.Errorf("%w: empty session secret", apperrors.ErrConfiguration)
	}
	cookie, err := deriveKey(secret, cookieKeyInfo, 32)
	if err != nil {
		return Keys{}, err
	}
	seal, err := deriveKey(secret, sealKeyInfo, chacha20poly1305.KeySize)
	if err != nil {
		return Keys{}, err
	}
	return Keys{Cookie: cookie, Seal: seal}, nil
}

func deriveKey(secret, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("%w: derive %s key: %v", apperrors.ErrConfiguration, info, err)
	}
	return key, nil
}

// Sealer encrypts session payloads before they leave the process. The
// session ID is bound as associated data so a payload cannot be replayed
// under another ID.
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(key []byte) (*Sealer, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: session sealer: %v", apperrors.ErrConfiguration, err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns nonce || ciphertext.
func (s *Sealer) Seal(id string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(id)), nil
}

func (s *Sealer) Open(id string, sealed []byte) ([]byte, error) {
	if len(sealed) < s.aead.NonceSize() {
		return nil, apperrors.New("sealed session too short")
	}
	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, []byte(id))
	if err != nil {
		return nil, apperrors.New("sealed session failed authentication")
	}
	return plaintext, nil
}
