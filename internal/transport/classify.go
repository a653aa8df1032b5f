package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"lazymic/internal/domain"
)

// ClassifyInput is the raw outcome of one round trip.
type ClassifyInput struct {
	BaseURL string
	Timeout time.Duration
	Status  int
	Body    []byte
	Err     error
}

// Classify maps a raw outcome to exactly one error category, or nil when the
// call succeeded with a 2xx status.
func Classify(in ClassifyInput) *domain.APIError {
	if in.Err != nil {
		if isTimeout(in.Err) {
			return &domain.APIError{
				Category:       domain.CategoryTimeout,
				Message:        fmt.Sprintf("no response within %s", in.Timeout),
				OriginalStatus: in.Status,
			}
		}
		if errors.Is(in.Err, context.Canceled) {
			return &domain.APIError{
				Category:       domain.CategoryUnknown,
				Message:        "request cancelled before the backend answered",
				OriginalStatus: in.Status,
			}
		}
		if in.Status > 0 {
			return &domain.APIError{
				Category:       domain.CategoryUnknown,
				Message:        fmt.Sprintf("could not read backend response: %v", in.Err),
				OriginalStatus: in.Status,
			}
		}
		return &domain.APIError{
			Category: domain.CategoryNetworkUnreachable,
			Message:  fmt.Sprintf("could not reach backend at %s (%v); check that it is running and reachable", in.BaseURL, rootCause(in.Err)),
		}
	}

	if in.Status >= 200 && in.Status <= 299 {
		return nil
	}

	if detail, ok := structuredDetail(in.Body); ok {
		return &domain.APIError{
			Category:       domain.CategoryServerRejected,
			Message:        detail,
			OriginalStatus: in.Status,
		}
	}

	message := strings.TrimSpace(string(in.Body))
	if message == "" {
		message = http.StatusText(in.Status)
	}
	if message == "" {
		message = fmt.Sprintf("unexpected status %d", in.Status)
	}
	return &domain.APIError{
		Category:       domain.CategoryUnknown,
		Message:        message,
		OriginalStatus: in.Status,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func rootCause(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return opErr.Err
	}
	return err
}

type errorEnvelope struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

type validationIssue struct {
	Msg string `json:"msg"`
	Loc []any  `json:"loc"`
}

// structuredDetail extracts the human-readable message from a JSON error
// body. Validation failures carry a list of issues which are flattened.
func structuredDetail(body []byte) (string, bool) {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", false
	}

	if len(envelope.Detail) > 0 {
		var text string
		if err := json.Unmarshal(envelope.Detail, &text); err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text), true
		}
		var issues []validationIssue
		if err := json.Unmarshal(envelope.Detail, &issues); err == nil && len(issues) > 0 {
			parts := make([]string, 0, len(issues))
			for _, issue := range issues {
				if msg := formatIssue(issue); msg != "" {
					parts = append(parts, msg)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, "; "), true
			}
		}
	}
	if msg := strings.TrimSpace(envelope.Message); msg != "" {
		return msg, true
	}
	if msg := strings.TrimSpace(envelope.Error); msg != "" {
		return msg, true
	}
	return "", false
}

func formatIssue(issue validationIssue) string {
	msg := strings.TrimSpace(issue.Msg)
	if msg == "" {
		return ""
	}
	if len(issue.Loc) == 0 {
		return msg
	}
	field := fmt.Sprint(issue.Loc[len(issue.Loc)-1])
	return field + ": " + msg
}
