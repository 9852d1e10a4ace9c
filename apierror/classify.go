// Package apierror classifies failed API responses and carries them to
// callers as typed errors.
//
// Classification is pure: a status code and a request path map to a Kind,
// a Severity and an Expected flag. Expected failures are the normal answer
// of a probe (an anonymous caller asking /auth/me) and are never surfaced to
// the user; everything else propagates as an *Error.
package apierror

import (
	"net/http"
	"strings"
)

// Kind identifies where a failure sits in the error taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindExpectedAuthProbe
	KindExpectedMissingFeature
	KindRefreshDenied
	KindRefreshIndeterminate
	KindUnauthorizedAction
	KindServerError
	KindValidationFailure
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindExpectedAuthProbe:
		return "expected_auth_probe"
	case KindExpectedMissingFeature:
		return "expected_missing_feature"
	case KindRefreshDenied:
		return "refresh_denied"
	case KindRefreshIndeterminate:
		return "refresh_indeterminate"
	case KindUnauthorizedAction:
		return "unauthorized_action"
	case KindServerError:
		return "server_error"
	case KindValidationFailure:
		return "validation_failure"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Severity ranks how loudly a failure is reported.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	default:
		return "high"
	}
}

// Classification is the result of classifying one failed response.
type Classification struct {
	Kind     Kind
	Severity Severity
	Expected bool
}

// DefaultProbePaths answer 401 to anonymous callers by design.
var DefaultProbePaths = []string{"/auth/me", "/auth/refresh"}

// DefaultOptionalFeatures may legitimately 404 while a profile or feature
// has not been created yet. Matched by prefix.
var DefaultOptionalFeatures = []string{
	"/tutors/me/profile",
	"/students/me/profile",
	"/notifications/preferences",
}

// Classifier holds the allow-lists used to decide expected failures.
type Classifier struct {
	probes   map[string]struct{}
	optional []string
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithExpectedUnauthorized adds exact paths on which a 401 is expected.
func WithExpectedUnauthorized(paths ...string) Option {
	return func(c *Classifier) {
		for _, p := range paths {
			c.probes[cleanPath(p)] = struct{}{}
		}
	}
}

// WithOptionalFeatures adds path prefixes on which a 404 is expected.
func WithOptionalFeatures(prefixes ...string) Option {
	return func(c *Classifier) {
		for _, p := range prefixes {
			c.optional = append(c.optional, cleanPath(p))
		}
	}
}

// NewClassifier returns a Classifier seeded with the default allow-lists.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{probes: make(map[string]struct{})}
	WithExpectedUnauthorized(DefaultProbePaths...)(c)
	WithOptionalFeatures(DefaultOptionalFeatures...)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultClassifier = NewClassifier()

// Classify uses the default allow-lists.
func Classify(status int, path string) Classification {
	return defaultClassifier.Classify(status, path)
}

// Classify maps a failed status and the request path to a Classification.
func (c *Classifier) Classify(status int, path string) Classification {
	p := cleanPath(path)
	switch {
	case status == http.StatusUnauthorized:
		if _, ok := c.probes[p]; ok {
			return Classification{Kind: KindExpectedAuthProbe, Severity: SeverityLow, Expected: true}
		}
		return Classification{Kind: KindUnauthorizedAction, Severity: SeverityMedium}
	case status == http.StatusNotFound:
		if c.isOptional(p) {
			return Classification{Kind: KindExpectedMissingFeature, Severity: SeverityLow, Expected: true}
		}
		return Classification{Kind: KindNotFound, Severity: SeverityMedium}
	case status >= 500:
		return Classification{Kind: KindServerError, Severity: SeverityHigh}
	case status >= 400:
		return Classification{Kind: KindValidationFailure, Severity: SeverityMedium}
	default:
		return Classification{Kind: KindUnknown, Severity: SeverityMedium}
	}
}

func (c *Classifier) isOptional(p string) bool {
	for _, prefix := range c.optional {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}

// cleanPath drops the query, fragment and trailing slash so that
// "/auth/me/?x=1" and "/auth/me" classify the same way.
func cleanPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}
