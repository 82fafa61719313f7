package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// Sentinel causes a Backend may return to pick the error class explicitly.
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrUnavailable   = errors.New("service unavailable")

	// ErrRowsRemain reports rows that are still listed after being deleted.
	ErrRowsRemain = errors.New("rows remain after delete")
)

// NetworkError reports a remote call that failed for connectivity reasons.
// Failures that cannot be classified are reported as NetworkError as well.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("remote %s: network error: %v", e.Op, e.Err) }
func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError reports a remote call rejected because the session is missing,
// expired or lacks permission.
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("remote %s: not authorized: %v", e.Op, e.Err) }
func (e *AuthError) Unwrap() error { return e.Err }

// QuotaError reports a remote call rejected by rate limits or storage quota.
type QuotaError struct {
	Op  string
	Err error
}

func (e *QuotaError) Error() string { return fmt.Sprintf("remote %s: quota exceeded: %v", e.Op, e.Err) }
func (e *QuotaError) Unwrap() error { return e.Err }

// IsAuth reports whether err is (or wraps) an *AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

var (
	authCodes = map[string]bool{
		"AccessDenied":          true,
		"InvalidAccessKeyId":    true,
		"SignatureDoesNotMatch": true,
		"ExpiredToken":          true,
		"InvalidToken":          true,
		"Unauthorized":          true,
	}
	quotaCodes = map[string]bool{
		"SlowDown":             true,
		"Throttling":           true,
		"ThrottlingException":  true,
		"TooManyRequests":      true,
		"QuotaExceeded":        true,
		"RequestLimitExceeded": true,
	}
)

// classify wraps err in the matching typed error. Already classified errors
// are returned unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var (
		ne *NetworkError
		ae *AuthError
		qe *QuotaError
	)
	if errors.As(err, &ne) || errors.As(err, &ae) || errors.As(err, &qe) {
		return err
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return &AuthError{Op: op, Err: err}
	case errors.Is(err, ErrQuotaExceeded):
		return &QuotaError{Op: op, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrUnavailable):
		return &NetworkError{Op: op, Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if authCodes[apiErr.ErrorCode()] {
			return &AuthError{Op: op, Err: err}
		}
		if quotaCodes[apiErr.ErrorCode()] {
			return &QuotaError{Op: op, Err: err}
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &AuthError{Op: op, Err: err}
		case http.StatusTooManyRequests, http.StatusInsufficientStorage:
			return &QuotaError{Op: op, Err: err}
		}
	}

	// libSQL reports HTTP failures from the primary as plain text.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "jwt"):
		return &AuthError{Op: op, Err: err}
	case strings.Contains(msg, "429") || strings.Contains(msg, "quota") || strings.Contains(msg, "rate limit"):
		return &QuotaError{Op: op, Err: err}
	}

	return &NetworkError{Op: op, Err: err}
}
