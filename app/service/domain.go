package service

import (
	"errors"
	"net"
	"regexp"
	"strings"

	"github.com/vibast-solutions/ms-go-apiaccess/app/entity"
)

var (
	ErrEmptyDomainPattern      = errors.New("domain pattern cannot be empty")
	ErrInvalidDomainCharacters = errors.New("domain pattern can only contain letters, numbers, dots, hyphens, and asterisks")
	ErrConsecutiveDots         = errors.New("domain pattern cannot contain consecutive dots")
	ErrPartialLabelWildcard    = errors.New("wildcards must occupy a whole label (e.g. *.example.com)")
	ErrDuplicateDomainPattern  = errors.New("domain pattern already exists for this API key")
)

var domainPatternCharset = regexp.MustCompile(`^[a-zA-Z0-9*.\-]+$`)

// NormalizePattern lowercases and trims a pattern so (api_key_id, pattern)
// uniqueness is evaluated on the canonical form.
func NormalizePattern(pattern string) string {
	return strings.ToLower(strings.TrimSpace(pattern))
}

// ValidatePattern enforces the management-layer rules: restricted charset,
// no consecutive dots, and wildcards replacing exactly one whole label.
func ValidatePattern(pattern string) error {
	normalized := NormalizePattern(pattern)
	if normalized == "" {
		return ErrEmptyDomainPattern
	}
	if !domainPatternCharset.MatchString(normalized) {
		return ErrInvalidDomainCharacters
	}
	if strings.Contains(normalized, "..") {
		return ErrConsecutiveDots
	}
	if normalized == "*" {
		return nil
	}
	for _, label := range strings.Split(normalized, ".") {
		if strings.Contains(label, "*") && label != "*" {
			return ErrPartialLabelWildcard
		}
	}
	return nil
}

// MatchHost reports whether a lowercased, port-stripped host satisfies a
// single pattern. The bare wildcard matches everything; patterns without a
// wildcard must match exactly; wildcard patterns are compiled label by
// label, with `*` standing for one non-empty label.
func MatchHost(pattern, host string) bool {
	pattern = NormalizePattern(pattern)
	host = strings.ToLower(host)

	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == host
	}

	re, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(host)
}

// compilePattern builds an anchored regexp from the pattern's labels rather
// than substituting into a regex string, which keeps escaping rules out of
// the matching path.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	labels := strings.Split(pattern, ".")
	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		if label == "*" {
			parts = append(parts, `[^.]+`)
			continue
		}
		parts = append(parts, regexp.QuoteMeta(label))
	}
	return regexp.Compile(`^` + strings.Join(parts, `\.`) + `$`)
}

// StripPort removes a trailing :port from a request host, leaving IPv6
// literals without a port untouched.
func StripPort(host string) string {
	if !strings.Contains(host, ":") {
		return host
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// DomainMatcher evaluates a key's domain allow-list. Test-mode keys get an
// extra allow-list of local/development host patterns from configuration.
type DomainMatcher struct {
	localhostDomains []string
}

func NewDomainMatcher(localhostDomains []string) *DomainMatcher {
	return &DomainMatcher{localhostDomains: localhostDomains}
}

// Allowed decides whether host may use the key given its domain rules.
// A key with zero rules is allowed from any host regardless of mode; the
// management side warns about live keys without rules, but the gate keeps
// the permissive behavior for compatibility.
func (m *DomainMatcher) Allowed(key *entity.APIKey, domains []*entity.APIKeyDomain, host string) bool {
	host = strings.ToLower(StripPort(host))

	if key.Mode == entity.ModeTest && m.LocalhostAllowed(host) {
		return true
	}

	if len(domains) == 0 {
		return true
	}

	for _, domain := range domains {
		if MatchHost(domain.Pattern, host) {
			return true
		}
	}
	return false
}

func (m *DomainMatcher) LocalhostAllowed(host string) bool {
	host = strings.ToLower(StripPort(host))
	for _, pattern := range m.localhostDomains {
		if MatchHost(pattern, host) {
			return true
		}
	}
	return false
}

// MatchingPattern returns the first rule pattern that matches host, for
// the management tooling's domain-test explanations.
func (m *DomainMatcher) MatchingPattern(domains []*entity.APIKeyDomain, host string) (string, bool) {
	host = strings.ToLower(StripPort(host))
	for _, domain := range domains {
		if MatchHost(domain.Pattern, host) {
			return domain.Pattern, true
		}
	}
	return "", false
}
