// Package nudge decides when an overdue task deserves another reminder.
package nudge

import "time"

const (
	// MinInterval suppresses a nudge when the previous one is more recent.
	MinInterval = 3 * time.Hour
	// SecondNudgeAfter is how long after the due time level 1 escalates.
	SecondNudgeAfter = 24 * time.Hour
	// EscalationStep spaces out nudges from level 2 on.
	EscalationStep = 3 * 24 * time.Hour
)

// Decision is the outcome of ShouldNudge. NextLevel equals the input level
// when Nudge is false.
type Decision struct {
	Nudge     bool
	NextLevel int
}

// ShouldNudge is a pure function of its inputs. Callers must not call it for
// tasks that are no longer in progress.
func ShouldNudge(dueAt, now time.Time, level int, lastNudgeAt *time.Time) Decision {
	hold := Decision{Nudge: false, NextLevel: level}
	if !dueAt.Before(now) {
		return hold
	}

	overdue := now.Sub(dueAt)
	escalate := false
	switch {
	case level <= 0:
		escalate = true
	case level == 1:
		escalate = overdue >= SecondNudgeAfter
	default:
		escalate = overdue >= time.Duration(level-1)*EscalationStep
	}
	if !escalate {
		return hold
	}

	// Rate limit is independent of the ladder and must be applied last.
	if lastNudgeAt != nil && now.Sub(*lastNudgeAt) < MinInterval {
		return hold
	}

	next := level + 1
	if level < 0 {
		next = 1
	}
	return Decision{Nudge: true, NextLevel: next}
}
