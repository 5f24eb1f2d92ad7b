// Command keygen writes an RSA keypair for a party or the arbiter. With
// --passphrase-env the private key is age-encrypted under that passphrase.
package main

import (
	"fmt"
	"os"

	"github.com/hilthontt/escrow/internal/infrastructure/keystore"
	"github.com/hilthontt/escrow/internal/infrastructure/sign"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("keygen", pflag.ExitOnError)
	name := fs.StringP("name", "n", "arbiter", "file name prefix")
	dir := fs.StringP("dir", "d", ".", "output directory")
	bits := fs.Int("bits", sign.DefaultKeyBits, "RSA modulus size")
	passphraseEnv := fs.String("passphrase-env", "", "environment variable holding the private key passphrase")
	workFactor := fs.Int("work-factor", 0, "scrypt work factor for the encrypted key; 0 keeps the default")
	_ = fs.Parse(os.Args[1:])

	if err := run(*name, *dir, *bits, *passphraseEnv, *workFactor); err != nil {
		fmt.Fprintln(os.Stderr, "keygen:", err)
		os.Exit(1)
	}
}

func run(name, dir string, bits int, passphraseEnv string, workFactor int) error {
	passphrase := ""
	if passphraseEnv != "" {
		passphrase = os.Getenv(passphraseEnv)
		if passphrase == "" {
			return fmt.Errorf("%s is empty", passphraseEnv)
		}
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	key, err := sign.GenerateKey(bits)
	if err != nil {
		return err
	}

	paths, err := keystore.WriteKeyPair(dir, name, key, passphrase, workFactor)
	if err != nil {
		return err
	}

	fmt.Println("private key:", paths.Private)
	fmt.Println("public key: ", paths.Public)
	return nil
}
