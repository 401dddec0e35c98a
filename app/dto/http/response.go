package http

import (
	"time"

	"github.com/vibast-solutions/ms-go-apiaccess/app/entity"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func NewUnauthorizedResponse(message, requestID string) ErrorResponse {
	return ErrorResponse{
		Error:     "Unauthorized",
		Message:   message,
		RequestID: requestID,
	}
}

func NewInternalErrorResponse(requestID string) ErrorResponse {
	return ErrorResponse{
		Error:     "Internal Server Error",
		Message:   "An unexpected error occurred",
		RequestID: requestID,
	}
}

// APIKeyInfoResponse is the explicit allow-list of key fields exposed to
// callers. The secret hash is structurally unreachable from this type.
type APIKeyInfoResponse struct {
	Key        string     `json:"key"`
	Mode       string     `json:"mode"`
	IsActive   bool       `json:"is_active"`
	UsageCount uint64     `json:"usage_count"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RequestID  string     `json:"request_id"`
}

func NewAPIKeyInfoResponse(key *entity.APIKey, requestID string) APIKeyInfoResponse {
	resp := APIKeyInfoResponse{
		Key:        key.Key,
		Mode:       key.Mode,
		IsActive:   key.IsActive,
		UsageCount: key.UsageCount,
		RequestID:  requestID,
	}
	if key.ExpiresAt.Valid {
		t := key.ExpiresAt.Time
		resp.ExpiresAt = &t
	}
	if key.LastUsedAt.Valid {
		t := key.LastUsedAt.Time
		resp.LastUsedAt = &t
	}
	return resp
}
