package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-apiaccess/app/entity"
)

type APIKeyRepository struct {
	db DBTX
}

func NewAPIKeyRepository(db DBTX) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `id, ` + "`key`" + `, secret_hash, description, is_active, expires_at, last_used_at,
	       usage_count, mode, owner_type, owner_id, created_at, updated_at, deleted_at`

func (r *APIKeyRepository) Create(ctx context.Context, key *entity.APIKey) error {
	query := `
		INSERT INTO api_keys (
			` + "`key`" + `, secret_hash, description, is_active, expires_at, usage_count, mode,
			owner_type, owner_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		key.Key,
		key.SecretHash,
		key.Description,
		key.IsActive,
		key.ExpiresAt,
		key.UsageCount,
		key.Mode,
		key.OwnerType,
		key.OwnerID,
		key.CreatedAt,
		key.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	key.ID = uint64(id)
	return nil
}

// FindByKey looks a key record up by its public key value. Soft-deleted
// keys are treated as not found.
func (r *APIKeyRepository) FindByKey(ctx context.Context, key string) (*entity.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE ` + "`key`" + ` = ? AND deleted_at IS NULL
	`
	return r.findOne(ctx, query, key)
}

func (r *APIKeyRepository) List(ctx context.Context) ([]*entity.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*entity.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

func (r *APIKeyRepository) Update(ctx context.Context, key *entity.APIKey) error {
	query := `
		UPDATE api_keys SET
			secret_hash = ?,
			description = ?,
			is_active = ?,
			expires_at = ?,
			mode = ?,
			owner_type = ?,
			owner_id = ?,
			updated_at = ?
		WHERE id = ?
	`
	key.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, query,
		key.SecretHash,
		key.Description,
		key.IsActive,
		key.ExpiresAt,
		key.Mode,
		key.OwnerType,
		key.OwnerID,
		key.UpdatedAt,
		key.ID,
	)
	return err
}

// IncrementUsage bumps the usage counter and stamps last_used_at in a
// single statement so concurrent requests on the same key never lose
// updates.
func (r *APIKeyRepository) IncrementUsage(ctx context.Context, id uint64, now time.Time) error {
	query := `
		UPDATE api_keys SET
			usage_count = usage_count + 1,
			last_used_at = ?
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, query, now, id)
	return err
}

func (r *APIKeyRepository) SoftDelete(ctx context.Context, id uint64, now time.Time) error {
	query := `UPDATE api_keys SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`
	_, err := r.db.ExecContext(ctx, query, now, now, id)
	return err
}

// FindDomains returns the key's domain rules in a stable order.
func (r *APIKeyRepository) FindDomains(ctx context.Context, apiKeyID uint64) ([]*entity.APIKeyDomain, error) {
	query := `
		SELECT id, api_key_id, domain_pattern, created_at, updated_at
		FROM api_key_domains
		WHERE api_key_id = ?
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, apiKeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	domains := make([]*entity.APIKeyDomain, 0)
	for rows.Next() {
		domain := &entity.APIKeyDomain{}
		if err := rows.Scan(
			&domain.ID,
			&domain.APIKeyID,
			&domain.Pattern,
			&domain.CreatedAt,
			&domain.UpdatedAt,
		); err != nil {
			return nil, err
		}
		domains = append(domains, domain)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return domains, nil
}

func (r *APIKeyRepository) AddDomain(ctx context.Context, domain *entity.APIKeyDomain) error {
	query := `
		INSERT INTO api_key_domains (api_key_id, domain_pattern, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		domain.APIKeyID,
		domain.Pattern,
		domain.CreatedAt,
		domain.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	domain.ID = uint64(id)
	return nil
}

func (r *APIKeyRepository) RemoveDomain(ctx context.Context, apiKeyID uint64, pattern string) (bool, error) {
	query := `DELETE FROM api_key_domains WHERE api_key_id = ? AND domain_pattern = ?`
	result, err := r.db.ExecContext(ctx, query, apiKeyID, pattern)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *APIKeyRepository) DomainExists(ctx context.Context, apiKeyID uint64, pattern string) (bool, error) {
	query := `SELECT COUNT(*) FROM api_key_domains WHERE api_key_id = ? AND domain_pattern = ?`
	var count int64
	if err := r.db.QueryRowContext(ctx, query, apiKeyID, pattern).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *APIKeyRepository) findOne(ctx context.Context, query string, args ...interface{}) (*entity.APIKey, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	key, err := scanAPIKey(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return key, nil
}

func scanAPIKey(scan rowScanner) (*entity.APIKey, error) {
	key := &entity.APIKey{}
	if err := scan(
		&key.ID,
		&key.Key,
		&key.SecretHash,
		&key.Description,
		&key.IsActive,
		&key.ExpiresAt,
		&key.LastUsedAt,
		&key.UsageCount,
		&key.Mode,
		&key.OwnerType,
		&key.OwnerID,
		&key.CreatedAt,
		&key.UpdatedAt,
		&key.DeletedAt,
	); err != nil {
		return nil, err
	}

	return key, nil
}
