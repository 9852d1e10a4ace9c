package apierror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

var (
	// ErrRefreshDenied indicates the server explicitly rejected the refresh credential.
	ErrRefreshDenied = errors.New("refresh denied")
	// ErrRefreshIndeterminate indicates a refresh attempt failed without a verdict.
	ErrRefreshIndeterminate = errors.New("refresh indeterminate")
	// ErrUnauthorizedAction indicates a 401 on an authenticated action.
	ErrUnauthorizedAction = errors.New("unauthorized access attempt")
	// ErrServer indicates a 5xx response.
	ErrServer = errors.New("server error")
	// ErrValidation indicates a 4xx response carrying a user-facing message.
	ErrValidation = errors.New("validation failure")
	// ErrNotFound indicates a 404 outside the optional-feature allow-list.
	ErrNotFound = errors.New("not found")
	// ErrExpected is the parent of all expected probe failures.
	ErrExpected = errors.New("expected failure")
)

// GenericMessage is shown to users for server errors; details stay in logs.
const GenericMessage = "Something went wrong. Please try again later."

// Error is returned for every non-2xx terminal response.
type Error struct {
	// Message is safe to display to the user.
	Message string
	Status  int
	Path    string
	// Expected is true when the failure is the normal answer of a probe.
	Expected bool
	Kind     Kind
	Severity Severity
	// Detail is the raw server message, for debug logging only.
	Detail string
}

// New builds an Error for a failed response, classifying it with c.
// serverMsg is the message extracted from the response body, if any.
func New(c *Classifier, status int, path, serverMsg string) *Error {
	if c == nil {
		c = defaultClassifier
	}
	cl := c.Classify(status, path)
	e := &Error{
		Status:   status,
		Path:     path,
		Expected: cl.Expected,
		Kind:     cl.Kind,
		Severity: cl.Severity,
		Detail:   serverMsg,
	}
	switch {
	case cl.Kind == KindServerError:
		e.Message = GenericMessage
	case serverMsg != "":
		e.Message = serverMsg
	default:
		e.Message = defaultMessage(status)
	}
	return e
}

func defaultMessage(status int) string {
	if status == http.StatusUnauthorized {
		return "authentication required"
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fmt.Sprintf("request failed with status %d", status)
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Kind, e.Path, e.Status, e.Message)
}

// Unwrap exposes the sentinel for the error's kind so callers can use errors.Is.
func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindExpectedAuthProbe, KindExpectedMissingFeature:
		return ErrExpected
	case KindRefreshDenied:
		return ErrRefreshDenied
	case KindRefreshIndeterminate:
		return ErrRefreshIndeterminate
	case KindUnauthorizedAction:
		return ErrUnauthorizedAction
	case KindServerError:
		return ErrServer
	case KindValidationFailure:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Is reports whether err carries an *Error of the given kind.
func Is(err error, kind Kind) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Kind == kind
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	if apiErr, ok := As(err); ok {
		return apiErr.Status
	}
	return 0
}

// IsExpected reports whether err is an expected probe failure.
func IsExpected(err error) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Expected
}

// Report applies the logging policy: expected failures are only logged
// when debug is set, unexpected ones always are.
func Report(ctx context.Context, logger *slog.Logger, err error, debug bool) {
	if err == nil || logger == nil {
		return
	}
	apiErr, ok := As(err)
	if !ok {
		logger.LogAttrs(ctx, slog.LevelWarn, "request failed", slog.String("error", err.Error()))
		return
	}
	attrs := []slog.Attr{
		slog.String("kind", apiErr.Kind.String()),
		slog.String("severity", apiErr.Severity.String()),
		slog.Int("status", apiErr.Status),
		slog.String("path", apiErr.Path),
	}
	if debug && apiErr.Detail != "" {
		attrs = append(attrs, slog.String("detail", apiErr.Detail))
	}
	switch {
	case apiErr.Expected:
		if debug {
			logger.LogAttrs(ctx, slog.LevelDebug, "expected api failure", attrs...)
		}
	case apiErr.Severity == SeverityHigh:
		logger.LogAttrs(ctx, slog.LevelError, "api failure", attrs...)
	default:
		logger.LogAttrs(ctx, slog.LevelWarn, "api failure", attrs...)
	}
}
