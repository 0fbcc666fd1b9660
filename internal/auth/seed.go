package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/reportline/reportline-core/internal/infrastructure/logging"
)

// seedPasswordBytes is the number of random bytes for the seed admin password.
const seedPasswordBytes = 16

// SeedAdmin creates an admin identity with email on first boot if no
// identities exist. The generated password is written once to notice, never
// to the logger, and must be changed with reportline-admin set-password or
// a reset. Returns the generated password (empty string if seeding was
// skipped).
func SeedAdmin(ctx context.Context, identities IdentityRepository, email string, logger *logging.Logger, notice io.Writer) (string, error) {
	if email == "" {
		return "", nil
	}
	if !IsValidEmail(NormalizeEmail(email)) {
		return "", fmt.Errorf("bootstrap admin email %q is not a valid address", email)
	}

	count, err := identities.Count(ctx)
	if err != nil {
		return "", fmt.Errorf("checking identity count: %w", err)
	}

	if count > 0 {
		logger.Info("identities exist, skipping admin seed")
		return "", nil
	}

	passwordBytes := make([]byte, seedPasswordBytes)
	if _, err := rand.Read(passwordBytes); err != nil { //nolint:govet // shadow: err re-declared in nested scope
		return "", fmt.Errorf("generating seed password: %w", err)
	}
	password := hex.EncodeToString(passwordBytes)

	hash, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hashing seed password: %w", err)
	}

	admin := &Identity{
		Email:        email,
		PasswordHash: hash,
		RoleID:       RoleAdmin,
		Status:       StatusActive,
	}

	if err := identities.Create(ctx, admin); err != nil {
		return "", fmt.Errorf("creating seed admin: %w", err)
	}

	logger.Warn("seed admin account created",
		"email", admin.Email,
		"action_required", "change the generated password immediately",
	)
	if notice != nil {
		fmt.Fprintf(notice, "Seed admin %s created with password: %s\nChange it immediately.\n", admin.Email, password)
	}

	return password, nil
}
