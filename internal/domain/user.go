package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hilthontt/escrow/internal/infrastructure/validate"
)

type Role string

const (
	RoleBuyer  Role = "BUYER"
	RoleSeller Role = "SELLER"
)

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	PublicKey string    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	validateUsername = validate.Compose(
		validate.Required(),
		validate.MinLength(2),
		validate.MaxLength(32),
		validate.NoSpaces(),
		validate.Matches(`^[a-zA-Z0-9][a-zA-Z0-9_-]*[a-zA-Z0-9]$|^[a-zA-Z0-9]$`,
			"username can only contain letters, numbers, underscores, and hyphens (cannot start/end with _ or -)"),
	)
	validateRole      = validate.OneOf(string(RoleBuyer), string(RoleSeller))
	validatePublicKey = validate.Compose(validate.Required(), validate.PEMBlock("PUBLIC KEY"))
)

func NewUser(rawName, rawRole, publicKey string, now time.Time) (*User, error) {
	if err := validate.Field("username", validateUsername)(strings.TrimSpace(rawName)); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrValidation)
	}

	role := strings.ToUpper(strings.TrimSpace(rawRole))
	if role == "" {
		role = string(RoleBuyer)
	}
	if err := validate.Field("role", validateRole)(role); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrValidation)
	}

	if err := validate.Field("public_key", validatePublicKey)(publicKey); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrValidation)
	}

	return &User{
		ID:        uuid.NewString(),
		Username:  strings.ToLower(strings.TrimSpace(rawName)),
		Role:      Role(role),
		PublicKey: strings.TrimSpace(publicKey) + "\n",
		CreatedAt: now,
	}, nil
}
