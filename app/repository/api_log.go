package repository

import (
	"context"
	"time"

	"github.com/vibast-solutions/ms-go-apiaccess/app/entity"
)

type APILogRepository struct {
	db DBTX
}

func NewAPILogRepository(db DBTX) *APILogRepository {
	return &APILogRepository{db: db}
}

func (r *APILogRepository) Create(ctx context.Context, log *entity.APILog) error {
	query := `
		INSERT INTO api_logs (
			api_key_id, ip_address, user_agent, method, url, route,
			request_headers, request_body, query_parameters,
			response_status, response_headers, response_body,
			execution_time_ms, error_message, error_trace,
			api_key_hash, is_authenticated, request_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		log.APIKeyID,
		log.IPAddress,
		log.UserAgent,
		log.Method,
		log.URL,
		log.Route,
		log.RequestHeaders,
		log.RequestBody,
		log.QueryParameters,
		log.ResponseStatus,
		log.ResponseHeaders,
		log.ResponseBody,
		log.ExecutionTimeMS,
		log.ErrorMessage,
		log.ErrorTrace,
		log.APIKeyHash,
		log.IsAuthenticated,
		log.RequestID,
		log.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	log.ID = uint64(id)
	return nil
}

func (r *APILogRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_logs`).Scan(&count)
	return count, err
}

func (r *APILogRepository) CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_logs WHERE created_at < ?`, cutoff).Scan(&count)
	return count, err
}

// DeleteOlderThan removes at most limit entries created before cutoff and
// reports how many were deleted. Retention cleanup calls it repeatedly so
// large backlogs are removed in chunks.
func (r *APILogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	query := `DELETE FROM api_logs WHERE created_at < ? LIMIT ?`
	result, err := r.db.ExecContext(ctx, query, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
