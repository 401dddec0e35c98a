package repository_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/vibast-solutions/ms-go-apiaccess/app/entity"
	"github.com/vibast-solutions/ms-go-apiaccess/app/repository"
)

const (
	insertAPIKeyQuery   = `(?s)INSERT INTO api_keys \(\s+.key., secret_hash, description, is_active, expires_at, usage_count, mode,\s+owner_type, owner_id, created_at, updated_at\s+\) VALUES \(\?, \?, \?, \?, \?, \?, \?, \?, \?, \?, \?\)`
	findByKeyQuery      = `(?s)SELECT id, .key., secret_hash, description, is_active, expires_at, last_used_at,\s+usage_count, mode, owner_type, owner_id, created_at, updated_at, deleted_at\s+FROM api_keys\s+WHERE .key. = \? AND deleted_at IS NULL`
	listKeysQuery       = `(?s)SELECT id, .key., secret_hash, description, is_active, expires_at, last_used_at,\s+usage_count, mode, owner_type, owner_id, created_at, updated_at, deleted_at\s+FROM api_keys\s+WHERE deleted_at IS NULL\s+ORDER BY created_at DESC`
	incrementUsageQuery = `(?s)UPDATE api_keys SET\s+usage_count = usage_count \+ 1,\s+last_used_at = \?\s+WHERE id = \?`
	softDeleteQuery     = `(?s)UPDATE api_keys SET deleted_at = \?, updated_at = \? WHERE id = \? AND deleted_at IS NULL`
	findDomainsQuery    = `(?s)SELECT id, api_key_id, domain_pattern, created_at, updated_at\s+FROM api_key_domains\s+WHERE api_key_id = \?\s+ORDER BY id`
	insertDomainQuery   = `(?s)INSERT INTO api_key_domains \(api_key_id, domain_pattern, created_at, updated_at\)\s+VALUES \(\?, \?, \?, \?\)`
	removeDomainQuery   = `(?s)DELETE FROM api_key_domains WHERE api_key_id = \? AND domain_pattern = \?`
	domainExistsQuery   = `(?s)SELECT COUNT\(\*\) FROM api_key_domains WHERE api_key_id = \? AND domain_pattern = \?`
)

var apiKeyColumns = []string{
	"id",
	"key",
	"secret_hash",
	"description",
	"is_active",
	"expires_at",
	"last_used_at",
	"usage_count",
	"mode",
	"owner_type",
	"owner_id",
	"created_at",
	"updated_at",
	"deleted_at",
}

var domainColumns = []string{
	"id",
	"api_key_id",
	"domain_pattern",
	"created_at",
	"updated_at",
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { _ = db.Close() }
}

func TestAPIKeyRepository_Create(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewAPIKeyRepository(db)
	now := time.Now()
	key := &entity.APIKey{
		Key:         "ak_0123456789abcdef",
		Description: sql.NullString{String: "billing", Valid: true},
		IsActive:    true,
		Mode:        entity.ModeLive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	mock.ExpectExec(insertAPIKeyQuery).
		WithArgs(
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
		).
		WillReturnResult(sqlmock.NewResult(5, 1))

	if err := repo.Create(context.Background(), key); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if key.ID != 5 {
		t.Fatalf("expected ID 5, got %d", key.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAPIKeyRepository_FindByKey(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewAPIKeyRepository(db)
	now := time.Now()

	mock.ExpectQuery(findByKeyQuery).
		WithArgs("ak_0123456789abcdef").
		WillReturnRows(sqlmock.NewRows(apiKeyColumns).AddRow(
			uint64(1),
			"ak_0123456789abcdef",
			sql.NullString{Valid: false},
			sql.NullString{String: "billing", Valid: true},
			true,
			sql.NullTime{Valid: false},
			sql.NullTime{Time: now, Valid: true},
			uint64(12),
			entity.ModeLive,
			sql.NullString{Valid: false},
			sql.NullInt64{Valid: false},
			now,
			now,
			sql.NullTime{Valid: false},
		))

	key, err := repo.FindByKey(context.Background(), "ak_0123456789abcdef")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if key == nil || key.ID != 1 || key.UsageCount != 12 {
		t.Fatalf("unexpected key: %+v", key)
	}
	if !key.LastUsedAt.Valid {
		t.Fatalf("expected last_used_at to be set")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAPIKeyRepository_FindByKey_NotFound(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewAPIKeyRepository(db)

	mock.ExpectQuery(findByKeyQuery).
		WithArgs("ak_missing").
		WillReturnRows(sqlmock.NewRows(apiKeyColumns))

	key, err := repo.FindByKey(context.Background(), "ak_missing")
	if err != nil {
		t.Fatalf("expected nil error for missing key, got %v", err)
	}
	if key != nil {
		t.Fatalf("expected nil key, got %+v", key)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAPIKeyRepository_List(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewAPIKeyRepository(db)
	now := time.Now()

	mock.ExpectQuery(listKeysQuery).
		WillReturnRows(sqlmock.NewRows(apiKeyColumns).
			AddRow(uint64(2), "ak_b", sql.NullString{}, sql.NullString{}, true, sql.NullTime{}, sql.NullTime{}, uint64(0), entity.ModeTest, sql.NullString{}, sql.NullInt64{}, now, now, sql.NullTime{}).
			AddRow(uint64(1), "ak_a", sql.NullString{}, sql.NullString{}, false, sql.NullTime{}, sql.NullTime{}, uint64(3), entity.ModeLive, sql.NullString{}, sql.NullInt64{}, now, now, sql.NullTime{}))

	keys, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(keys) != 2 || keys[0].Key != "ak_b" || keys[1].Key != "ak_a" {
		t.Fatalf("unexpected keys: %+v", keys)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAPIKeyRepository_IncrementUsage(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewAPIKeyRepository(db)
	now := time.Now()

	mock.ExpectExec(incrementUsageQuery).
		WithArgs(now, uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.IncrementUsage(context.Background(), 1, now); err != nil {
		t.Fatalf("increment failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAPIKeyRepository_IncrementUsage_Concurrent(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewAPIKeyRepository(db)
	const workers = 16

	mock.MatchExpectationsInOrder(false)
	for i := 0; i < workers; i++ {
		mock.ExpectExec(incrementUsageQuery).
			WithArgs(sqlmock.AnyArg(), uint64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.IncrementUsage(context.Background(), 1, time.Now())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent increment failed: %v", err)
		}
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAPIKeyRepository_SoftDelete(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewAPIKeyRepository(db)
	now := time.Now()

	mock.ExpectExec(softDeleteQuery).
		WithArgs(now, now, uint64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SoftDelete(context.Background(), 1, now); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAPIKeyRepository_FindDomains(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewAPIKeyRepository(db)
	now := time.Now()

	mock.ExpectQuery(findDomainsQuery).
		WithArgs(uint64(1)).
		WillReturnRows(sqlmock.NewRows(domainColumns).
			AddRow(uint64(1), uint64(1), "example.com", now, now).
			AddRow(uint64(2), uint64(1), "*.example.com", now, now))

	domains, err := repo.FindDomains(context.Background(), 1)
	if err != nil {
		t.Fatalf("find domains failed: %v", err)
	}
	if len(domains) != 2 || domains[0].Pattern != "example.com" || domains[1].Pattern != "*.example.com" {
		t.Fatalf("unexpected domains: %+v", domains)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAPIKeyRepository_AddDomain(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewAPIKeyRepository(db)
	now := time.Now()
	domain := &entity.APIKeyDomain{
		APIKeyID:  1,
		Pattern:   "api.example.com",
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec(insertDomainQuery).
		WithArgs(domain.APIKeyID, domain.Pattern, domain.CreatedAt, domain.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(4, 1))

	if err := repo.AddDomain(context.Background(), domain); err != nil {
		t.Fatalf("add domain failed: %v", err)
	}
	if domain.ID != 4 {
		t.Fatalf("expected ID 4, got %d", domain.ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAPIKeyRepository_RemoveDomain(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewAPIKeyRepository(db)

	mock.ExpectExec(removeDomainQuery).
		WithArgs(uint64(1), "api.example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(removeDomainQuery).
		WithArgs(uint64(1), "other.example.com").
		WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := repo.RemoveDomain(context.Background(), 1, "api.example.com")
	if err != nil || !removed {
		t.Fatalf("expected removal, got %v %v", removed, err)
	}

	removed, err = repo.RemoveDomain(context.Background(), 1, "other.example.com")
	if err != nil || removed {
		t.Fatalf("expected no removal, got %v %v", removed, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAPIKeyRepository_DomainExists(t *testing.T) {
	db, mock, cleanup := newMockDB(t)
	defer cleanup()

	repo := repository.NewAPIKeyRepository(db)

	mock.ExpectQuery(domainExistsQuery).
		WithArgs(uint64(1), "api.example.com").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(int64(1)))

	exists, err := repo.DomainExists(context.Background(), 1, "api.example.com")
	if err != nil {
		t.Fatalf("domain exists failed: %v", err)
	}
	if !exists {
		t.Fatalf("expected domain to exist")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
