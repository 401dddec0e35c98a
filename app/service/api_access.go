package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/vibast-solutions/ms-go-apiaccess/app/entity"
	"github.com/vibast-solutions/ms-go-apiaccess/config"
)

// Denial reasons. The messages are surfaced verbatim to callers in the
// 401 body, so changing them is a wire-level change.
var (
	ErrAPIKeyRequired   = errors.New("API key is required")
	ErrInvalidAPIKey    = errors.New("Invalid API key")
	ErrAPIKeyInactive   = errors.New("API key is inactive or expired")
	ErrAPIKeyExpired    = errors.New("API key has expired")
	ErrInvalidSecret    = errors.New("Invalid API key secret")
	ErrDomainNotAllowed = errors.New("Domain not allowed for this API key")

	ErrAPIKeyNotFound = errors.New("api key not found")
)

// IsAuthDenied reports whether err is an expected authorization denial, as
// opposed to a storage or runtime fault that must fail the request closed.
func IsAuthDenied(err error) bool {
	return errors.Is(err, ErrAPIKeyRequired) ||
		errors.Is(err, ErrInvalidAPIKey) ||
		errors.Is(err, ErrAPIKeyInactive) ||
		errors.Is(err, ErrAPIKeyExpired) ||
		errors.Is(err, ErrInvalidSecret) ||
		errors.Is(err, ErrDomainNotAllowed)
}

type APIKeyRepository interface {
	Create(ctx context.Context, key *entity.APIKey) error
	FindByKey(ctx context.Context, key string) (*entity.APIKey, error)
	List(ctx context.Context) ([]*entity.APIKey, error)
	Update(ctx context.Context, key *entity.APIKey) error
	IncrementUsage(ctx context.Context, id uint64, now time.Time) error
	SoftDelete(ctx context.Context, id uint64, now time.Time) error
	FindDomains(ctx context.Context, apiKeyID uint64) ([]*entity.APIKeyDomain, error)
	AddDomain(ctx context.Context, domain *entity.APIKeyDomain) error
	RemoveDomain(ctx context.Context, apiKeyID uint64, pattern string) (bool, error)
	DomainExists(ctx context.Context, apiKeyID uint64, pattern string) (bool, error)
}

type APIAccessService struct {
	apiKeyRepo APIKeyRepository
	matcher    *DomainMatcher
	cfg        *config.Config
}

func NewAPIAccessService(apiKeyRepo APIKeyRepository, matcher *DomainMatcher, cfg *config.Config) *APIAccessService {
	return &APIAccessService{
		apiKeyRepo: apiKeyRepo,
		matcher:    matcher,
		cfg:        cfg,
	}
}

// Authenticate runs the gate sequence for one request: lookup, liveness,
// expiry, secret, domain, then the usage increment. Gates are strictly
// ordered and short-circuit on first failure. The resolved key record is
// returned even on denial so the audit trail can reference it; it is nil
// only when the key was never resolved.
func (s *APIAccessService) Authenticate(ctx context.Context, apiKey, secret, host string) (*entity.APIKey, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	record, err := s.apiKeyRepo.FindByKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrInvalidAPIKey
	}

	now := time.Now()
	if !record.Active(now) {
		return record, ErrAPIKeyInactive
	}
	if record.Expired(now) {
		return record, ErrAPIKeyExpired
	}

	if !VerifySecret(record, secret) {
		return record, ErrInvalidSecret
	}

	domains, err := s.apiKeyRepo.FindDomains(ctx, record.ID)
	if err != nil {
		return record, err
	}
	if !s.matcher.Allowed(record, domains, host) {
		return record, ErrDomainNotAllowed
	}

	// Increment happens once per request, before handler invocation, so a
	// slow or failing handler cannot affect accounting.
	if err := s.apiKeyRepo.IncrementUsage(ctx, record.ID, now); err != nil {
		return record, err
	}

	return record, nil
}

// VerifySecret checks a provided secret against the key's stored hash.
// A key with no stored secret accepts any request without one; this is a
// deliberate policy carried over from the original system, not a default
// to tighten silently.
func VerifySecret(record *entity.APIKey, secret string) bool {
	if !record.RequiresSecret() {
		return true
	}
	if secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(record.SecretHash.String), []byte(secret)) == nil
}

// HashKey returns the sha256 hex digest of a key value, used to correlate
// audit entries without storing the raw key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type CreateKeyParams struct {
	Description string
	Mode        string
	ExpiresAt   sql.NullTime
	OwnerType   string
	OwnerID     int64
	WithSecret  bool
}

// CreateKey mints a new key and, when requested, a secret. The plain
// secret is returned exactly once; only its bcrypt hash is stored.
func (s *APIAccessService) CreateKey(ctx context.Context, params CreateKeyParams) (*entity.APIKey, string, error) {
	mode := params.Mode
	if mode == "" {
		mode = s.cfg.DefaultMode
	}
	if mode != entity.ModeLive && mode != entity.ModeTest {
		return nil, "", errors.New("mode must be either live or test")
	}

	rawKey, err := s.generateKey(ctx)
	if err != nil {
		return nil, "", err
	}

	var plainSecret string
	var secretHash sql.NullString
	if params.WithSecret {
		plainSecret, err = generateSecret()
		if err != nil {
			return nil, "", err
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(plainSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, "", err
		}
		secretHash = sql.NullString{String: string(hashed), Valid: true}
	}

	now := time.Now()
	key := &entity.APIKey{
		Key:        rawKey,
		SecretHash: secretHash,
		IsActive:   true,
		ExpiresAt:  params.ExpiresAt,
		Mode:       mode,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if params.Description != "" {
		key.Description = sql.NullString{String: params.Description, Valid: true}
	}
	if params.OwnerType != "" {
		key.OwnerType = sql.NullString{String: params.OwnerType, Valid: true}
		key.OwnerID = sql.NullInt64{Int64: params.OwnerID, Valid: true}
	}

	if err := s.apiKeyRepo.Create(ctx, key); err != nil {
		return nil, "", err
	}

	return key, plainSecret, nil
}

// RegenerateSecret replaces the key's secret and returns the new plain
// value once.
func (s *APIAccessService) RegenerateSecret(ctx context.Context, apiKey string) (*entity.APIKey, string, error) {
	record, err := s.mustFindByKey(ctx, apiKey)
	if err != nil {
		return nil, "", err
	}

	plainSecret, err := generateSecret()
	if err != nil {
		return nil, "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plainSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", err
	}

	record.SecretHash = sql.NullString{String: string(hashed), Valid: true}
	if err := s.apiKeyRepo.Update(ctx, record); err != nil {
		return nil, "", err
	}

	return record, plainSecret, nil
}

func (s *APIAccessService) SetActive(ctx context.Context, apiKey string, active bool) (*entity.APIKey, error) {
	record, err := s.mustFindByKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	record.IsActive = active
	if err := s.apiKeyRepo.Update(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *APIAccessService) DeleteKey(ctx context.Context, apiKey string) error {
	record, err := s.mustFindByKey(ctx, apiKey)
	if err != nil {
		return err
	}
	return s.apiKeyRepo.SoftDelete(ctx, record.ID, time.Now())
}

func (s *APIAccessService) ListKeys(ctx context.Context) ([]*entity.APIKey, error) {
	return s.apiKeyRepo.List(ctx)
}

// AddDomain validates and attaches a domain rule to a key. Patterns are
// normalized before the uniqueness check so "API.Example.com" and
// "api.example.com" are the same rule.
func (s *APIAccessService) AddDomain(ctx context.Context, apiKey, pattern string) (*entity.APIKeyDomain, error) {
	record, err := s.mustFindByKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}
	normalized := NormalizePattern(pattern)

	exists, err := s.apiKeyRepo.DomainExists(ctx, record.ID, normalized)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateDomainPattern
	}

	now := time.Now()
	domain := &entity.APIKeyDomain{
		APIKeyID:  record.ID,
		Pattern:   normalized,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.apiKeyRepo.AddDomain(ctx, domain); err != nil {
		return nil, err
	}
	return domain, nil
}

func (s *APIAccessService) RemoveDomain(ctx context.Context, apiKey, pattern string) (bool, error) {
	record, err := s.mustFindByKey(ctx, apiKey)
	if err != nil {
		return false, err
	}
	return s.apiKeyRepo.RemoveDomain(ctx, record.ID, NormalizePattern(pattern))
}

func (s *APIAccessService) ListDomains(ctx context.Context, apiKey string) ([]*entity.APIKeyDomain, error) {
	record, err := s.mustFindByKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return s.apiKeyRepo.FindDomains(ctx, record.ID)
}

type DomainTestResult struct {
	Host            string
	Mode            string
	Allowed         bool
	MatchingPattern string
	Reason          string
}

// TestDomain explains how the matcher would decide for a host, for the
// management tooling.
func (s *APIAccessService) TestDomain(ctx context.Context, apiKey, host string) (*DomainTestResult, error) {
	record, err := s.mustFindByKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	domains, err := s.apiKeyRepo.FindDomains(ctx, record.ID)
	if err != nil {
		return nil, err
	}

	host = strings.ToLower(StripPort(host))
	result := &DomainTestResult{Host: host, Mode: record.Mode}

	if record.Mode == entity.ModeTest && s.matcher.LocalhostAllowed(host) {
		result.Allowed = true
		result.MatchingPattern = "localhost (test mode)"
		result.Reason = "Test mode automatically allows local development hosts"
		return result, nil
	}

	if pattern, ok := s.matcher.MatchingPattern(domains, host); ok {
		result.Allowed = true
		result.MatchingPattern = pattern
		result.Reason = "Matches pattern: " + pattern
		return result, nil
	}

	if len(domains) == 0 {
		result.Allowed = true
		result.Reason = "No domain restrictions set - all hosts allowed"
		return result, nil
	}

	result.Reason = "Host does not match any configured pattern"
	return result, nil
}

func (s *APIAccessService) mustFindByKey(ctx context.Context, apiKey string) (*entity.APIKey, error) {
	record, err := s.apiKeyRepo.FindByKey(ctx, strings.TrimSpace(apiKey))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrAPIKeyNotFound
	}
	return record, nil
}

func (s *APIAccessService) generateKey(ctx context.Context) (string, error) {
	// Collisions on 16 random bytes are effectively impossible, but the
	// key column is unique so retry a few times rather than surface a
	// constraint violation.
	for i := 0; i < 3; i++ {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		key := s.cfg.KeyPrefix + hex.EncodeToString(buf)

		existing, err := s.apiKeyRepo.FindByKey(ctx, key)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return key, nil
		}
	}
	return "", errors.New("failed to generate a unique api key")
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
