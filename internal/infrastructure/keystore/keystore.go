// Package keystore reads and writes RSA private keys at rest, either as
// plain PKCS#8 PEM or as PEM sealed with an age passphrase.
package keystore

import (
	"bytes"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"
	"github.com/hilthontt/escrow/internal/infrastructure/sign"
)

const sealedSuffix = ".age"

var ErrPassphraseRequired = errors.New("key file is encrypted and no passphrase was given")

// Seal encrypts plaintext with an scrypt passphrase recipient and armors the
// result. A workFactor of zero keeps the age default.
func Seal(plaintext []byte, passphrase string, workFactor int) ([]byte, error) {
	recipient, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt recipient: %w", err)
	}
	if workFactor > 0 {
		recipient.SetWorkFactor(workFactor)
	}

	var buf bytes.Buffer
	armored := armor.NewWriter(&buf)
	w, err := age.Encrypt(armored, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	if err := armored.Close(); err != nil {
		return nil, fmt.Errorf("finalizing armor: %w", err)
	}
	return buf.Bytes(), nil
}

// Open reverses Seal. Unarmored age files are accepted too.
func Open(ciphertext []byte, passphrase string) ([]byte, error) {
	identity, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}

	var src io.Reader = bytes.NewReader(ciphertext)
	if bytes.HasPrefix(bytes.TrimSpace(ciphertext), []byte(armor.Header)) {
		src = armor.NewReader(bytes.NewReader(ciphertext))
	}

	r, err := age.Decrypt(src, identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting key: %w", err)
	}
	return io.ReadAll(r)
}

func sealed(path string, data []byte) bool {
	if strings.HasSuffix(path, sealedSuffix) {
		return true
	}
	trimmed := bytes.TrimSpace(data)
	return bytes.HasPrefix(trimmed, []byte(armor.Header)) || bytes.HasPrefix(trimmed, []byte("age-encryption.org/"))
}

// LoadPrivateKey reads an RSA private key, decrypting it first when the
// file is age sealed.
func LoadPrivateKey(path, passphrase string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	if sealed(path, data) {
		if passphrase == "" {
			return nil, ErrPassphraseRequired
		}
		if data, err = Open(data, passphrase); err != nil {
			return nil, err
		}
	}

	return sign.ParsePrivateKey(data)
}

// LoadSigner is LoadPrivateKey wrapped as a sign.Signer.
func LoadSigner(path, passphrase string) (*sign.KeySigner, error) {
	key, err := LoadPrivateKey(path, passphrase)
	if err != nil {
		return nil, err
	}
	return sign.NewKeySigner(key)
}

type Paths struct {
	Private string
	Public  string
}

// WriteKeyPair writes <name>_private.pem (or .pem.age when a passphrase is
// given) and <name>_public.pem into dir. Existing files are not replaced.
func WriteKeyPair(dir, name string, key *rsa.PrivateKey, passphrase string, workFactor int) (Paths, error) {
	private, err := sign.EncodePrivateKey(key)
	if err != nil {
		return Paths{}, fmt.Errorf("encoding private key: %w", err)
	}
	public, err := sign.EncodePublicKey(&key.PublicKey)
	if err != nil {
		return Paths{}, fmt.Errorf("encoding public key: %w", err)
	}

	paths := Paths{
		Private: filepath.Join(dir, name+"_private.pem"),
		Public:  filepath.Join(dir, name+"_public.pem"),
	}
	if passphrase != "" {
		if private, err = Seal(private, passphrase, workFactor); err != nil {
			return Paths{}, err
		}
		paths.Private += sealedSuffix
	}

	if err := writeNew(paths.Private, private, 0o600); err != nil {
		return Paths{}, err
	}
	if err := writeNew(paths.Public, []byte(public), 0o644); err != nil {
		return Paths{}, err
	}
	return paths, nil
}

func writeNew(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
