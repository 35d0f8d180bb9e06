// Package zimtask holds the lifecycle of a ZIM packaging task as a pure
// transition function. Callers load a task, translate a webhook or poll
// result into an Event, apply it, persist the returned task and carry out
// the returned effects.
package zimtask

import (
	"time"

	"SelectionBuilder/internal/domain"
)

// EventKind names the signals that move a task.
type EventKind string

const (
	EventFailed       EventKind = "failed"
	EventFileUploaded EventKind = "file_uploaded"
	EventEnded        EventKind = "ended"
	EventPollReady    EventKind = "poll_ready"
	EventPollPending  EventKind = "poll_pending"
)

// Event is one webhook or poll observation about a task.
type Event struct {
	Kind    EventKind
	At      time.Time
	FileURL string
	// Attempt is the poll attempt that produced a poll event.
	Attempt int
}

// EffectKind names work the caller must perform after a transition.
type EffectKind string

const (
	EffectPersist     EffectKind = "persist"
	EffectEnqueuePoll EffectKind = "enqueue_poll"
	EffectNotify      EffectKind = "notify"
)

// Effect is a side effect requested by a transition.
type Effect struct {
	Kind    EffectKind
	Attempt int
	Delay   time.Duration
}

// Policy bounds status polling.
type Policy struct {
	MaxPollAttempts int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
}

// DefaultPolicy polls for roughly a day before giving up.
func DefaultPolicy() Policy {
	return Policy{MaxPollAttempts: 12, BaseDelay: 2 * time.Minute, MaxDelay: 4 * time.Hour}
}

// maxBackoff caps the poll delay when the policy sets no MaxDelay.
const maxBackoff = 24 * time.Hour

// Backoff returns the delay before the given poll attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	limit := p.MaxDelay
	if limit <= 0 {
		limit = maxBackoff
	}
	delay := p.BaseDelay
	if delay >= limit {
		return limit
	}
	for i := 0; i < attempt && delay > 0; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	return delay
}

// Apply computes the task after ev and the effects the caller must run.
// FAILED is terminal, FILE_READY only yields to FAILED, and ENDED never
// regresses to SUBMITTED.
func Apply(task domain.ZimTask, ev Event, policy Policy) (domain.ZimTask, []Effect) {
	if task.Status == domain.TaskFailed {
		return task, nil
	}

	switch ev.Kind {
	case EventFailed:
		task.Status = domain.TaskFailed
		return task, []Effect{{Kind: EffectPersist}, {Kind: EffectNotify}}

	case EventFileUploaded:
		wasReady := task.Status == domain.TaskFileReady
		task = markReady(task, ev)
		effects := []Effect{{Kind: EffectPersist}}
		if !wasReady {
			effects = append(effects, Effect{Kind: EffectNotify})
		}
		return task, effects

	case EventEnded:
		if task.Status != domain.TaskSubmitted {
			return task, nil
		}
		task.Status = domain.TaskEnded
		return task, []Effect{
			{Kind: EffectPersist},
			{Kind: EffectEnqueuePoll, Attempt: 0, Delay: policy.Backoff(0)},
		}

	case EventPollReady:
		if task.Status != domain.TaskEnded {
			return task, nil
		}
		task = markReady(task, ev)
		return task, []Effect{{Kind: EffectPersist}, {Kind: EffectNotify}}

	case EventPollPending:
		if task.Status != domain.TaskEnded {
			return task, nil
		}
		next := ev.Attempt + 1
		if next >= policy.MaxPollAttempts {
			return task, nil
		}
		return task, []Effect{{Kind: EffectEnqueuePoll, Attempt: next, Delay: policy.Backoff(next)}}
	}

	return task, nil
}

func markReady(task domain.ZimTask, ev Event) domain.ZimTask {
	at := ev.At.UTC()
	task.Status = domain.TaskFileReady
	task.UpdatedAt = &at
	if ev.FileURL != "" {
		task.FileURL = ev.FileURL
	}
	return task
}

// Has reports whether effects contains kind.
func Has(effects []Effect, kind EffectKind) bool {
	for _, e := range effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}
