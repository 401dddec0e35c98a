package entity

import (
	"database/sql"
	"time"
)

// APILog is one audit trail entry per gated request. Header and body
// fields are sanitized before the entity is ever constructed.
type APILog struct {
	ID              uint64
	APIKeyID        sql.NullInt64
	IPAddress       string
	UserAgent       sql.NullString
	Method          string
	URL             string
	Route           sql.NullString
	RequestHeaders  sql.NullString
	RequestBody     sql.NullString
	QueryParameters sql.NullString
	ResponseStatus  int
	ResponseHeaders sql.NullString
	ResponseBody    sql.NullString
	ExecutionTimeMS sql.NullInt64
	ErrorMessage    sql.NullString
	ErrorTrace      sql.NullString
	APIKeyHash      sql.NullString
	IsAuthenticated bool
	RequestID       string
	CreatedAt       time.Time
}
