package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
)

type Credentials struct {
	Key    string
	Secret string
}

// ExtractCredentials pulls the candidate key and optional secret out of a
// request. Key precedence: bearer token, X-API-Key header, api_key query
// parameter, api_key body field. Secret precedence: X-API-Secret header,
// api_secret query parameter, api_secret body field. Absent values stay
// empty; absence is the gate's concern, not an error here.
func ExtractCredentials(c echo.Context, body []byte) Credentials {
	return Credentials{
		Key:    extractKey(c, body),
		Secret: extractSecret(c, body),
	}
}

func extractKey(c echo.Context, body []byte) string {
	if token := bearerToken(c.Request()); token != "" {
		return token
	}
	if key := strings.TrimSpace(c.Request().Header.Get("X-API-Key")); key != "" {
		return key
	}
	if key := c.QueryParam("api_key"); key != "" {
		return key
	}
	return bodyField(c.Request(), body, "api_key")
}

func extractSecret(c echo.Context, body []byte) string {
	if secret := strings.TrimSpace(c.Request().Header.Get("X-API-Secret")); secret != "" {
		return secret
	}
	if secret := c.QueryParam("api_secret"); secret != "" {
		return secret
	}
	return bodyField(c.Request(), body, "api_secret")
}

func bearerToken(req *http.Request) string {
	auth := req.Header.Get(echo.HeaderAuthorization)
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// bodyField reads a named string field from a JSON or form-encoded body.
func bodyField(req *http.Request, body []byte, name string) string {
	if len(body) == 0 {
		return ""
	}

	contentType := req.Header.Get(echo.HeaderContentType)
	switch {
	case strings.HasPrefix(contentType, echo.MIMEApplicationJSON):
		var data map[string]interface{}
		if err := json.Unmarshal(body, &data); err != nil {
			return ""
		}
		if value, ok := data[name].(string); ok {
			return value
		}
	case strings.HasPrefix(contentType, echo.MIMEApplicationForm):
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return ""
		}
		return values.Get(name)
	}
	return ""
}

// bufferBody drains the request body and replaces it with a re-readable
// copy so credential extraction, the protected handler, and the audit
// trail all see the same bytes.
func bufferBody(req *http.Request) []byte {
	if req.Body == nil {
		return nil
	}
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	return body
}
