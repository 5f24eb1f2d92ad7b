package sign

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

const DefaultKeyBits = 2048

var (
	ErrSignInvalid = errors.New("sign invalid")
	ErrKeyInvalid  = errors.New("key invalid")
)

// Signer produces RSA-PSS signatures with a privately held key.
type Signer interface {
	Sign(message string) ([]byte, error)
	PublicKeyPEM() string
}

// pssOptions uses the maximum salt length when signing and detects it when
// verifying, so every signature over the same message differs.
var pssOptions = &rsa.PSSOptions{
	SaltLength: rsa.PSSSaltLengthAuto,
	Hash:       crypto.SHA256,
}

func GenerateKey(bits int) (*rsa.PrivateKey, error) {
	if bits == 0 {
		bits = DefaultKeyBits
	}
	return rsa.GenerateKey(rand.Reader, bits)
}

func Sign(key *rsa.PrivateKey, message string) ([]byte, error) {
	digest := sha256.Sum256([]byte(message))
	return rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], pssOptions)
}

// Verify checks signature over message against a PEM SubjectPublicKeyInfo key.
func Verify(publicKeyPEM, message string, signature []byte) error {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return err
	}

	digest := sha256.Sum256([]byte(message))
	if err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], signature, pssOptions); err != nil {
		return ErrSignInvalid
	}
	return nil
}

func ParsePublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(publicKeyPEM)))
	if block == nil {
		return nil, fmt.Errorf("public key is not PEM: %w", ErrKeyInvalid)
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %v: %w", err, ErrKeyInvalid)
	}

	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA: %w", parsed, ErrKeyInvalid)
	}
	return pub, nil
}

// ParsePrivateKey accepts PKCS#8 and PKCS#1 PEM blocks.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("private key is not PEM: %w", ErrKeyInvalid)
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %v: %w", err, ErrKeyInvalid)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA: %w", parsed, ErrKeyInvalid)
	}
	return key, nil
}

func EncodePublicKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func EncodePrivateKey(key *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// DecodeHex parses a wire signature, tolerating a 0x prefix and surrounding space.
func DecodeHex(signature string) ([]byte, error) {
	s := strings.TrimPrefix(strings.TrimSpace(signature), "0x")
	if s == "" {
		return nil, ErrSignInvalid
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrSignInvalid
	}
	return b, nil
}

func EncodeHex(signature []byte) string {
	return hex.EncodeToString(signature)
}

// KeySigner is a Signer over an in-memory RSA key.
type KeySigner struct {
	key    *rsa.PrivateKey
	pubPEM string
}

func NewKeySigner(key *rsa.PrivateKey) (*KeySigner, error) {
	pub, err := EncodePublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeySigner{key: key, pubPEM: pub}, nil
}

func (s *KeySigner) Sign(message string) ([]byte, error) {
	return Sign(s.key, message)
}

func (s *KeySigner) PublicKeyPEM() string {
	return s.pubPEM
}
