// Package sla computes resolution deadlines and live countdowns for tickets.
package sla

import (
	"context"
	"fmt"
	"time"

	"github.com/spec-kit/support-portal/internal/domain"
)

// Classification thresholds for open tickets.
const (
	CriticalThreshold = 2 * time.Hour
	WarningThreshold  = 8 * time.Hour
)

// DefaultPeakModeMultiplier stretches every window while peak mode is on.
const DefaultPeakModeMultiplier = 2

// Class buckets the remaining time of a ticket.
type Class string

const (
	ClassOK       Class = "ok"
	ClassWarning  Class = "warning"
	ClassCritical Class = "critical"
	ClassMet      Class = "met"
)

// Policy is one snapshot of the process-wide SLA configuration.
type Policy struct {
	BaseWindows        map[domain.TicketPriority]time.Duration
	PeakModeMultiplier int
	PeakModeActive     bool
	MaxOpenTickets     int
}

// DefaultPolicy returns the stock resolution windows.
func DefaultPolicy() Policy {
	return Policy{
		BaseWindows: map[domain.TicketPriority]time.Duration{
			domain.TicketPriorityUrgent: 4 * time.Hour,
			domain.TicketPriorityHigh:   24 * time.Hour,
			domain.TicketPriorityMedium: 48 * time.Hour,
			domain.TicketPriorityLow:    72 * time.Hour,
		},
		PeakModeMultiplier: DefaultPeakModeMultiplier,
	}
}

// Validate checks that windows exist for every priority and do not grow with severity.
func (p Policy) Validate() error {
	var previous time.Duration
	for i, priority := range domain.Priorities {
		window, ok := p.BaseWindows[priority]
		if !ok || window <= 0 {
			return fmt.Errorf("sla: missing window for %s", priority)
		}
		if i > 0 && window > previous {
			return fmt.Errorf("sla: window for %s exceeds the less severe tier", priority)
		}
		previous = window
	}
	return nil
}

// BaseWindow returns the window for priority. Unknown priorities get the
// longest configured window.
func (p Policy) BaseWindow(priority domain.TicketPriority) time.Duration {
	if window, ok := p.BaseWindows[priority]; ok {
		return window
	}
	var longest time.Duration
	for _, window := range p.BaseWindows {
		if window > longest {
			longest = window
		}
	}
	return longest
}

// Multiplier returns the scale factor currently in force.
func (p Policy) Multiplier() int {
	if !p.PeakModeActive || p.PeakModeMultiplier < 1 {
		return 1
	}
	return p.PeakModeMultiplier
}

// ComputeDeadline returns createdAt plus the scaled window for priority.
func (p Policy) ComputeDeadline(createdAt time.Time, priority domain.TicketPriority) time.Time {
	return createdAt.Add(p.BaseWindow(priority) * time.Duration(p.Multiplier()))
}

// Countdown is the live SLA view of a ticket at some instant.
type Countdown struct {
	Deadline  *time.Time
	Remaining time.Duration
	Class     Class
	Breached  bool
}

// Remaining evaluates the ticket at now. Negative remaining means breached.
// Resolved and closed tickets are always classified as met.
func Remaining(t domain.Ticket, now time.Time) Countdown {
	countdown := Countdown{Deadline: t.SLADeadline, Class: ClassOK}
	if t.SLADeadline != nil {
		countdown.Remaining = t.SLADeadline.Sub(now)
	}
	if t.Status.Terminal() {
		countdown.Class = ClassMet
		return countdown
	}
	if t.SLADeadline == nil {
		return countdown
	}
	countdown.Breached = countdown.Remaining < 0
	switch {
	case countdown.Remaining < CriticalThreshold:
		countdown.Class = ClassCritical
	case countdown.Remaining < WarningThreshold:
		countdown.Class = ClassWarning
	}
	return countdown
}

// Breached reports whether an open ticket is past its deadline.
func Breached(t domain.Ticket, now time.Time) bool {
	return Remaining(t, now).Breached
}

// Source supplies the latest policy snapshot.
type Source interface {
	Get(ctx context.Context) (Policy, error)
}

// Clock stamps deadlines using whatever policy is in force at stamping time.
type Clock struct {
	settings Source
}

// NewClock builds a clock over the given settings source.
func NewClock(settings Source) *Clock {
	return &Clock{settings: settings}
}

// Policy returns the current snapshot.
func (c *Clock) Policy(ctx context.Context) (Policy, error) {
	policy, err := c.settings.Get(ctx)
	if err != nil {
		return Policy{}, fmt.Errorf("sla: read settings: %w", err)
	}
	return policy, nil
}

// Stamp sets the deadline from the ticket's timer start. Deadlines of resolved
// or closed tickets are frozen and left untouched.
func Stamp(t *domain.Ticket, policy Policy) {
	if t.Status.Terminal() {
		return
	}
	start := t.SLAStartedAt
	if start.IsZero() {
		start = t.CreatedAt
	}
	deadline := policy.ComputeDeadline(start, t.Priority)
	t.SLADeadline = &deadline
}
