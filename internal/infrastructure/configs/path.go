package configs

import (
	"errors"
	"os"

	"github.com/hilthontt/escrow/internal/infrastructure/env"
	"github.com/spf13/pflag"
)

var ErrConfigNotFound = errors.New("config file not found. Use --config or ESCROW_CONFIG env")

var candidates = []string{
	"./config.yaml",
	"./config.yml",
	"../../config.yaml",
	"/etc/escrow/config.yaml",
	"/app/config.yaml",
}

// BindFlags registers --config on fs and returns the bound value.
func BindFlags(fs *pflag.FlagSet) *string {
	return fs.String("config", "", "path to config file")
}

// DetermineConfigPath resolves the flag value, then ESCROW_CONFIG, then the
// first existing candidate path.
func DetermineConfigPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if p := env.GetString("ESCROW_CONFIG", ""); p != "" {
		return p, nil
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrConfigNotFound
}
