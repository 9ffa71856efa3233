package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrBackendUnavailable is returned by Submit while the backing store
	// health circuit is open. Callers should retry later.
	ErrBackendUnavailable = errors.New("backing store unavailable")

	// ErrNotFound is returned for status queries on unknown job ids.
	ErrNotFound = errors.New("job not found")

	// Pipeline stage errors. These are terminal for the attempt and drive
	// the retry/backoff machinery; best-effort stages never raise them.
	ErrScrapeFailed    = errors.New("scrape returned no content")
	ErrTransformFailed = errors.New("query transform failed")
	ErrAnswerFailed    = errors.New("answer generation failed")
)

// QueueFullError is the admission-control rejection. It carries the
// observed depth so callers can size their backoff.
type QueueFullError struct {
	Outstanding int
	Max         int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue full: %d/%d jobs outstanding", e.Outstanding, e.Max)
}
