package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/auth"
)

const (
	getAPIKeyByHashSQL = `SELECT id, key_hash, name, scopes FROM api_keys WHERE key_hash = $1 AND active`

	insertAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, scopes) VALUES ($1, $2, $3, $4)`
)

// ErrDuplicateKey is returned by Create when the id or hash already exists.
var ErrDuplicateKey = errors.New("api key already exists")

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups backed by PostgreSQL.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// FindByHash returns the active key with the given hash, or
// auth.ErrKeyNotFound.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var info auth.APIKeyInfo
	err := conn(ctx, r.pool).QueryRow(ctx, getAPIKeyByHashSQL, hash).
		Scan(&info.ID, &info.KeyHash, &info.Name, &info.Scopes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	return &info, nil
}

// Create stores a key. Returns ErrDuplicateKey when it is already present.
func (r *APIKeyRepository) Create(ctx context.Context, info *auth.APIKeyInfo) error {
	_, err := conn(ctx, r.pool).Exec(ctx, insertAPIKeySQL, info.ID, info.KeyHash, info.Name, info.Scopes)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting api key %q: %w", info.ID, err)
	}
	return nil
}
