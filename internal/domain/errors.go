package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

var (
	// ErrNotFound means the resource is absent or not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized means the caller does not own the resource being read.
	ErrUnauthorized = errors.New("user not authorized")
	// ErrUnknownModel means a builder names a model nobody registered.
	ErrUnknownModel = errors.New("unknown model")
)

// ValidationResult partitions submitted parameter values.
type ValidationResult struct {
	Valid   []string `json:"valid"`
	Invalid []string `json:"invalid"`
	Errors  []string `json:"errors"`
}

// OK reports whether nothing was rejected.
func (r ValidationResult) OK() bool {
	return len(r.Invalid) == 0 && len(r.Errors) == 0
}

// ValidationError blocks persistence of a builder and carries the full result.
type ValidationError struct {
	Result ValidationResult
}

func (e *ValidationError) Error() string {
	parts := append([]string{}, e.Result.Errors...)
	if n := len(e.Result.Invalid); n > 0 {
		parts = append(parts, fmt.Sprintf("%d invalid values", n))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// QuotaExceededError reports a selection too large to package.
type QuotaExceededError struct {
	ArticleCount    int
	MaxArticleCount int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("too many articles: %d > %d", e.ArticleCount, e.MaxArticleCount)
}

// UserMessage explains the limit in terms an owner can act on.
func (e *QuotaExceededError) UserMessage() string {
	return fmt.Sprintf(
		"The selection has %s articles, which is more than the maximum of %s. Please reduce the number of articles and try again.",
		humanize.Comma(int64(e.ArticleCount)),
		humanize.Comma(int64(e.MaxArticleCount)),
	)
}

// ExternalServiceError wraps an infrastructure failure talking to the farm.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return "zimfarm " + e.Op + " failed"
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// MalformedCallbackError rejects a webhook missing a required field.
type MalformedCallbackError struct {
	Field string
}

func (e *MalformedCallbackError) Error() string {
	return "malformed callback: missing " + e.Field
}
