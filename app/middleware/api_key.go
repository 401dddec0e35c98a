package middleware

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	dtohttp "github.com/vibast-solutions/ms-go-apiaccess/app/dto/http"
	"github.com/vibast-solutions/ms-go-apiaccess/app/entity"
	"github.com/vibast-solutions/ms-go-apiaccess/app/metrics"
	"github.com/vibast-solutions/ms-go-apiaccess/app/service"
)

const (
	ContextKeyAPIKey    = "api_key"
	ContextKeyRequestID = "request_id"
)

// StatusClientClosedRequest is recorded when the client goes away before
// a response could be written.
const StatusClientClosedRequest = 499

type APIKeyMiddleware struct {
	access  *service.APIAccessService
	audit   *service.AuditLogger
	metrics *metrics.Metrics
}

func NewAPIKeyMiddleware(access *service.APIAccessService, audit *service.AuditLogger, m *metrics.Metrics) *APIKeyMiddleware {
	return &APIKeyMiddleware{access: access, audit: audit, metrics: m}
}

// RequireAPIKey gates a request behind API-key authentication. The gates
// run in a fixed order and short-circuit on the first failure; the audit
// trail records every gated request exactly once, whatever the outcome,
// including panics and cancelled requests.
func (m *APIKeyMiddleware) RequireAPIKey(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		// Let CORS preflight pass.
		if c.Request().Method == http.MethodOptions {
			return next(c)
		}

		start := time.Now()
		requestID := uuid.New().String()
		req := c.Request()
		reqBody := bufferBody(req)

		respBody := new(bytes.Buffer)
		c.Response().Writer = &bodyCaptureWriter{
			Writer:         io.MultiWriter(c.Response().Writer, respBody),
			ResponseWriter: c.Response().Writer,
		}

		var (
			record   *entity.APIKey
			authed   bool
			errMsg   string
			errTrace string
			outcome  = metrics.OutcomeDenied
		)

		defer func() {
			if r := recover(); r != nil {
				authed = false
				outcome = metrics.OutcomeError
				errMsg = fmt.Sprintf("Internal server error: %v", r)
				errTrace = string(debug.Stack())
				logrus.WithField("request_id", requestID).Errorf("Panic while handling gated request: %v", r)
				if !c.Response().Committed {
					_ = c.JSON(http.StatusInternalServerError, dtohttp.NewInternalErrorResponse(requestID))
				}
			}
			m.finish(c, start, requestID, record, authed, outcome, errMsg, errTrace, reqBody, respBody.Bytes())
		}()

		creds := ExtractCredentials(c, reqBody)

		var err error
		record, err = m.access.Authenticate(req.Context(), creds.Key, creds.Secret, req.Host)
		if err != nil {
			if service.IsAuthDenied(err) {
				errMsg = err.Error()
				return c.JSON(http.StatusUnauthorized, dtohttp.NewUnauthorizedResponse(errMsg, requestID))
			}
			// Storage faults fail closed.
			outcome = metrics.OutcomeError
			errMsg = "Internal server error: " + err.Error()
			logrus.WithError(err).WithField("request_id", requestID).Error("API key verification failed")
			return c.JSON(http.StatusInternalServerError, dtohttp.NewInternalErrorResponse(requestID))
		}

		authed = true
		outcome = metrics.OutcomeAuthorized
		c.Set(ContextKeyAPIKey, record)
		c.Set(ContextKeyRequestID, requestID)

		if err := next(c); err != nil {
			// Render the error now so the audit entry sees the final
			// response rather than echo's later error handling.
			c.Error(err)
		}
		return nil
	}
}

func (m *APIKeyMiddleware) finish(c echo.Context, start time.Time, requestID string, record *entity.APIKey, authed bool, outcome, errMsg, errTrace string, reqBody, respBody []byte) {
	req := c.Request()
	duration := time.Since(start)

	status := c.Response().Status
	if !c.Response().Committed && req.Context().Err() != nil {
		status = StatusClientClosedRequest
	}

	m.metrics.ObserveDecision(outcome, duration)

	m.audit.Record(req.Context(),
		service.RequestFacts{
			Time:        start,
			IP:          clientIP(c),
			UserAgent:   req.UserAgent(),
			Method:      req.Method,
			URL:         requestURL(req),
			Route:       c.Path(),
			Headers:     req.Header.Clone(),
			QueryParams: c.QueryParams(),
			Body:        reqBody,
		},
		service.ResponseFacts{
			Status:   status,
			Headers:  c.Response().Header().Clone(),
			Body:     respBody,
			Duration: duration,
		},
		service.OutcomeFacts{
			Authenticated: authed,
			Key:           record,
			ErrorMessage:  errMsg,
			ErrorTrace:    errTrace,
			RequestID:     requestID,
		},
	)
}

// APIKeyFromContext returns the key record attached by RequireAPIKey.
func APIKeyFromContext(c echo.Context) (*entity.APIKey, bool) {
	record, ok := c.Get(ContextKeyAPIKey).(*entity.APIKey)
	return record, ok
}

// RequestIDFromContext returns the correlation id attached by RequireAPIKey.
func RequestIDFromContext(c echo.Context) string {
	if id, ok := c.Get(ContextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

func clientIP(c echo.Context) string {
	if forwarded := c.Request().Header.Get(echo.HeaderXForwardedFor); forwarded != "" {
		// May contain multiple hops; the first entry is the client.
		return strings.TrimSpace(strings.Split(forwarded, ",")[0])
	}
	return c.RealIP()
}

func requestURL(req *http.Request) string {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + req.Host + req.RequestURI
}

// bodyCaptureWriter tees the response body into a buffer for the audit
// trail while writing through to the client.
type bodyCaptureWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w *bodyCaptureWriter) WriteHeader(code int) {
	w.ResponseWriter.WriteHeader(code)
}

func (w *bodyCaptureWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func (w *bodyCaptureWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
