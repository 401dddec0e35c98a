package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-apiaccess/app/entity"
	"github.com/vibast-solutions/ms-go-apiaccess/app/metrics"
	"github.com/vibast-solutions/ms-go-apiaccess/config"
)

const (
	RedactedMarker  = "[REDACTED]"
	TruncatedMarker = "... [TRUNCATED]"
)

type APILogRepository interface {
	Create(ctx context.Context, log *entity.APILog) error
	Count(ctx context.Context) (int64, error)
	CountOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type RequestFacts struct {
	Time        time.Time
	IP          string
	UserAgent   string
	Method      string
	URL         string
	Route       string
	Headers     http.Header
	QueryParams url.Values
	Body        []byte
}

type ResponseFacts struct {
	Status   int
	Headers  http.Header
	Body     []byte
	Duration time.Duration
}

type OutcomeFacts struct {
	Authenticated bool
	Key           *entity.APIKey
	ErrorMessage  string
	ErrorTrace    string
	RequestID     string
}

// AuditLogger sanitizes and persists one log entry per gated request.
// Redaction and truncation always run before anything reaches the
// repository, and a failed write is reported to the operational log but
// never propagated to the caller.
type AuditLogger struct {
	logRepo APILogRepository
	cfg     config.LoggingConfig
	metrics *metrics.Metrics

	fieldPatterns []*regexp.Regexp
}

// WithMetrics attaches gate metrics so persistence failures are counted.
func (l *AuditLogger) WithMetrics(m *metrics.Metrics) *AuditLogger {
	l.metrics = m
	return l
}

func NewAuditLogger(logRepo APILogRepository, cfg config.LoggingConfig) *AuditLogger {
	patterns := make([]*regexp.Regexp, 0, len(cfg.SensitiveFields))
	for _, field := range cfg.SensitiveFields {
		// Matches key: value and key=value shapes in non-JSON payloads.
		patterns = append(patterns, regexp.MustCompile(`(?i)("?`+regexp.QuoteMeta(field)+`"?\s*[:=]\s*)[^&\s"]*`))
	}
	return &AuditLogger{
		logRepo:       logRepo,
		cfg:           cfg,
		fieldPatterns: patterns,
	}
}

// Record is called exactly once per gated request, after the response is
// finalized. It must never fail the caller: persistence errors are
// swallowed, and the write uses a context detached from the request's so
// cancelled requests are still logged.
func (l *AuditLogger) Record(ctx context.Context, req RequestFacts, resp ResponseFacts, out OutcomeFacts) {
	if !l.cfg.Enabled {
		return
	}

	entry := &entity.APILog{
		Method:          req.Method,
		URL:             req.URL,
		ResponseStatus:  resp.Status,
		IsAuthenticated: out.Authenticated,
		RequestID:       out.RequestID,
		CreatedAt:       req.Time,
	}

	if req.Route != "" {
		entry.Route = sql.NullString{String: req.Route, Valid: true}
	}
	if l.cfg.LogIP {
		entry.IPAddress = req.IP
	}
	if l.cfg.LogUserAgent && req.UserAgent != "" {
		entry.UserAgent = sql.NullString{String: req.UserAgent, Valid: true}
	}
	if l.cfg.LogExecutionTime {
		entry.ExecutionTimeMS = sql.NullInt64{Int64: resp.Duration.Milliseconds(), Valid: true}
	}
	if out.Key != nil {
		entry.APIKeyID = sql.NullInt64{Int64: int64(out.Key.ID), Valid: true}
		entry.APIKeyHash = sql.NullString{String: HashKey(out.Key.Key), Valid: true}
	}
	if out.ErrorMessage != "" {
		entry.ErrorMessage = sql.NullString{String: out.ErrorMessage, Valid: true}
	}
	if out.ErrorTrace != "" {
		entry.ErrorTrace = sql.NullString{String: out.ErrorTrace, Valid: true}
	}

	if l.cfg.LogHeaders {
		entry.RequestHeaders = marshalHeaders(l.SanitizeHeaders(req.Headers))
	}
	if l.cfg.LogQueryParams && len(req.QueryParams) > 0 {
		if data, err := json.Marshal(req.QueryParams); err == nil {
			entry.QueryParameters = sql.NullString{String: string(data), Valid: true}
		}
	}
	if l.cfg.LogRequestBody && len(req.Body) > 0 {
		body := l.Truncate(l.SanitizeBody(string(req.Body)))
		entry.RequestBody = sql.NullString{String: body, Valid: true}
	}

	if l.cfg.LogResponses {
		if l.cfg.LogHeaders {
			entry.ResponseHeaders = marshalHeaders(l.SanitizeHeaders(resp.Headers))
		}
		if l.cfg.LogResponseBody && len(resp.Body) > 0 {
			body := l.Truncate(l.SanitizeBody(string(resp.Body)))
			entry.ResponseBody = sql.NullString{String: body, Valid: true}
		}
	}

	// Detached from the request context: cancellation must not skip the
	// audit trail.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := l.logRepo.Create(writeCtx, entry); err != nil {
		l.metrics.ObserveLogFailure()
		logrus.WithError(err).WithFields(logrus.Fields{
			"request_id": out.RequestID,
			"url":        req.URL,
		}).Error("Failed to create API log entry")
	}
}

// SanitizeHeaders replaces the values of configured sensitive headers with
// the redaction marker, case-insensitively.
func (l *AuditLogger) SanitizeHeaders(headers http.Header) map[string][]string {
	sanitized := make(map[string][]string, len(headers))
	for name, values := range headers {
		if l.isSensitiveHeader(name) {
			sanitized[name] = []string{RedactedMarker}
			continue
		}
		sanitized[name] = values
	}
	return sanitized
}

func (l *AuditLogger) isSensitiveHeader(name string) bool {
	name = strings.ToLower(name)
	for _, sensitive := range l.cfg.SensitiveHeaders {
		if name == strings.ToLower(sensitive) {
			return true
		}
	}
	return false
}

// SanitizeBody redacts sensitive fields from a body. JSON objects are
// rewritten field by field and re-serialized; anything else gets a
// best-effort key/value pattern substitution. Redaction is idempotent:
// sanitizing an already-sanitized body is a no-op.
func (l *AuditLogger) SanitizeBody(body string) string {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(body), &data); err == nil && data != nil {
		changed := false
		for _, field := range l.cfg.SensitiveFields {
			if _, ok := data[field]; ok {
				data[field] = RedactedMarker
				changed = true
			}
		}
		if changed {
			if out, err := json.Marshal(data); err == nil {
				return string(out)
			}
		}
		return body
	}

	for _, pattern := range l.fieldPatterns {
		body = pattern.ReplaceAllString(body, "${1}"+RedactedMarker)
	}
	return body
}

// Truncate caps a body at the configured byte length, appending the
// truncation marker when anything was cut. Runs after redaction so a
// sensitive value can never survive by being past the cutoff.
func (l *AuditLogger) Truncate(content string) string {
	if l.cfg.MaxBodySize <= 0 || len(content) <= l.cfg.MaxBodySize {
		return content
	}
	return content[:l.cfg.MaxBodySize] + TruncatedMarker
}

func marshalHeaders(headers map[string][]string) sql.NullString {
	if len(headers) == 0 {
		return sql.NullString{}
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(data), Valid: true}
}
