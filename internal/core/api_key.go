package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/rollout/internal/platform"
)

// ErrKeyRevoked is returned when an API key exists but has been revoked.
var ErrKeyRevoked = errors.New("api key revoked")

// APIKeyService manages control plane API keys. Only the SHA-256 hash of a
// key is stored; the raw value is shown once at creation.
type APIKeyService struct {
	db DB
}

// NewAPIKeyService creates a new APIKeyService.
func NewAPIKeyService(db DB) *APIKeyService {
	return &APIKeyService{db: db}
}

// Create generates a new API key and stores its hash, returning the key ID
// and the raw key string.
func (s *APIKeyService) Create(ctx context.Context, name string) (string, string, error) {
	id := platform.NewID()
	rawKey := platform.NewAPIKey()
	hash := sha256.Sum256([]byte(rawKey))

	_, err := s.db.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash) VALUES ($1, $2, $3)`,
		id, name, hex.EncodeToString(hash[:]))
	if err != nil {
		return "", "", fmt.Errorf("insert api key: %w", err)
	}
	return id, rawKey, nil
}

// Authenticate resolves a raw key to the key's name. Unknown and revoked
// keys both fail.
func (s *APIKeyService) Authenticate(ctx context.Context, rawKey string) (string, error) {
	hash := sha256.Sum256([]byte(rawKey))

	var name string
	var revoked bool
	err := s.db.QueryRow(ctx,
		`SELECT name, revoked_at IS NOT NULL FROM api_keys WHERE key_hash = $1`,
		hex.EncodeToString(hash[:]),
	).Scan(&name, &revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errors.New("unknown api key")
	}
	if err != nil {
		return "", fmt.Errorf("authenticate api key: %w", err)
	}
	if revoked {
		return "", ErrKeyRevoked
	}
	return name, nil
}

// Revoke marks a key revoked by ID. Revocation takes effect immediately.
func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New("api key not found or already revoked")
	}
	return nil
}
