package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"taskroom/internal/domain"
)

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKey stores a hashed API key. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIKey(ctx context.Context, tx *sqlx.Tx, key domain.APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.OrgID == "" || key.UserID == "" {
		return errors.New("org_id and user_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	_, err := exec(ctx, r.q(tx), `INSERT INTO api_keys(id, org_id, user_id, name, key_hash, created_at) VALUES (?,?,?,?,?,?)`,
		key.ID, key.OrgID, key.UserID, key.Name, key.KeyHash, key.CreatedAt)
	return err
}

// GetAPIKeyByHash returns an API key by its hashed value.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var key domain.APIKey
	err := get(ctx, r.DB, &key, `SELECT id, org_id, user_id, name, key_hash, created_at FROM api_keys WHERE key_hash=? LIMIT 1`, hash)
	return key, err
}

// ListAPIKeys returns an org's API keys, optionally filtered by user ID.
func (r Repo) ListAPIKeys(ctx context.Context, orgID, userID string) ([]domain.APIKey, error) {
	query := `SELECT id, org_id, user_id, name, key_hash, created_at FROM api_keys WHERE org_id=?`
	args := []any{orgID}
	if userID != "" {
		query += ` AND user_id=?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC`
	var keys []domain.APIKey
	err := selectAll(ctx, r.DB, &keys, query, args...)
	return keys, err
}

// DeleteAPIKey deletes an API key by ID.
func (r Repo) DeleteAPIKey(ctx context.Context, orgID, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	n, err := execAffected(ctx, r.DB, `DELETE FROM api_keys WHERE org_id=? AND id=?`, orgID, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
