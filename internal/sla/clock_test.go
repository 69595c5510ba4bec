package sla

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-portal/internal/domain"
)

var createdAt = time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC)

type fixedSource struct {
	policy Policy
	err    error
}

func (f *fixedSource) Get(context.Context) (Policy, error) {
	return f.policy, f.err
}

func TestComputeDeadline_UrgentScenario(t *testing.T) {
	policy := DefaultPolicy()

	assert.Equal(t, createdAt.Add(4*time.Hour), policy.ComputeDeadline(createdAt, domain.TicketPriorityUrgent))

	policy.PeakModeActive = true
	assert.Equal(t, createdAt.Add(8*time.Hour), policy.ComputeDeadline(createdAt, domain.TicketPriorityUrgent))
}

func TestComputeDeadline_Monotonic(t *testing.T) {
	for _, peak := range []bool{false, true} {
		policy := DefaultPolicy()
		policy.PeakModeActive = peak
		for i := 1; i < len(domain.Priorities); i++ {
			lower := policy.ComputeDeadline(createdAt, domain.Priorities[i-1])
			higher := policy.ComputeDeadline(createdAt, domain.Priorities[i])
			assert.False(t, higher.After(lower), "peak=%v %s must not outlast %s", peak, domain.Priorities[i], domain.Priorities[i-1])
		}
	}
}

func TestComputeDeadline_MultiplierGuards(t *testing.T) {
	policy := DefaultPolicy()
	policy.PeakModeActive = true
	policy.PeakModeMultiplier = 0
	assert.Equal(t, createdAt.Add(72*time.Hour), policy.ComputeDeadline(createdAt, domain.TicketPriorityLow))

	policy.PeakModeMultiplier = 3
	policy.PeakModeActive = false
	assert.Equal(t, createdAt.Add(24*time.Hour), policy.ComputeDeadline(createdAt, domain.TicketPriorityHigh))
}

func TestComputeDeadline_UnknownPriorityUsesLongestWindow(t *testing.T) {
	policy := DefaultPolicy()
	assert.Equal(t, createdAt.Add(72*time.Hour), policy.ComputeDeadline(createdAt, "WHENEVER"))
}

func TestPolicy_Validate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	inverted := DefaultPolicy()
	inverted.BaseWindows[domain.TicketPriorityUrgent] = 100 * time.Hour
	assert.Error(t, inverted.Validate())

	missing := DefaultPolicy()
	delete(missing.BaseWindows, domain.TicketPriorityLow)
	assert.Error(t, missing.Validate())
}

func TestRemaining_Classification(t *testing.T) {
	deadline := createdAt.Add(24 * time.Hour)
	ticket := domain.Ticket{Status: domain.TicketStatusInProgress, CreatedAt: createdAt, SLADeadline: &deadline}

	tests := []struct {
		name     string
		now      time.Time
		class    Class
		breached bool
	}{
		{"plenty of time", deadline.Add(-10 * time.Hour), ClassOK, false},
		{"exactly eight hours", deadline.Add(-8 * time.Hour), ClassOK, false},
		{"under eight hours", deadline.Add(-7 * time.Hour), ClassWarning, false},
		{"under two hours", deadline.Add(-time.Hour), ClassCritical, false},
		{"breached", deadline.Add(time.Minute), ClassCritical, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			countdown := Remaining(ticket, tt.now)
			assert.Equal(t, tt.class, countdown.Class)
			assert.Equal(t, tt.breached, countdown.Breached)
			assert.Equal(t, deadline.Sub(tt.now), countdown.Remaining)
		})
	}
}

func TestRemaining_TerminalIsAlwaysMet(t *testing.T) {
	deadline := createdAt.Add(4 * time.Hour)
	for _, status := range []domain.TicketStatus{domain.TicketStatusResolved, domain.TicketStatusClosed} {
		ticket := domain.Ticket{Status: status, SLADeadline: &deadline}
		for _, now := range []time.Time{createdAt, deadline, deadline.Add(1000 * time.Hour)} {
			countdown := Remaining(ticket, now)
			assert.Equal(t, ClassMet, countdown.Class)
			assert.False(t, countdown.Breached)
		}
	}
}

func TestRemaining_NoDeadline(t *testing.T) {
	countdown := Remaining(domain.Ticket{Status: domain.TicketStatusOpen}, createdAt)
	assert.Equal(t, ClassOK, countdown.Class)
	assert.Zero(t, countdown.Remaining)
	assert.False(t, Breached(domain.Ticket{Status: domain.TicketStatusOpen}, createdAt))
}

func TestStamp_UsesTimerStartAndFreezesTerminal(t *testing.T) {
	policy := DefaultPolicy()
	reopened := createdAt.Add(50 * time.Hour)
	ticket := domain.Ticket{
		Status:       domain.TicketStatusOpen,
		Priority:     domain.TicketPriorityUrgent,
		CreatedAt:    createdAt,
		SLAStartedAt: reopened,
	}
	Stamp(&ticket, policy)
	require.NotNil(t, ticket.SLADeadline)
	assert.Equal(t, reopened.Add(4*time.Hour), *ticket.SLADeadline)

	frozen := *ticket.SLADeadline
	ticket.Status = domain.TicketStatusResolved
	policy.PeakModeActive = true
	Stamp(&ticket, policy)
	assert.Equal(t, frozen, *ticket.SLADeadline)
}

func TestStamp_PeakToggleIsNotRetroactive(t *testing.T) {
	source := &fixedSource{policy: DefaultPolicy()}
	clock := NewClock(source)

	first := domain.Ticket{Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityUrgent, CreatedAt: createdAt, SLAStartedAt: createdAt}
	policy, err := clock.Policy(context.Background())
	require.NoError(t, err)
	Stamp(&first, policy)

	source.policy.PeakModeActive = true
	second := domain.Ticket{Status: domain.TicketStatusOpen, Priority: domain.TicketPriorityUrgent, CreatedAt: createdAt, SLAStartedAt: createdAt}
	policy, err = clock.Policy(context.Background())
	require.NoError(t, err)
	Stamp(&second, policy)

	assert.Equal(t, createdAt.Add(4*time.Hour), *first.SLADeadline)
	assert.Equal(t, createdAt.Add(8*time.Hour), *second.SLADeadline)
}

func TestClock_PolicyError(t *testing.T) {
	clock := NewClock(&fixedSource{err: errors.New("settings down")})
	_, err := clock.Policy(context.Background())
	assert.ErrorContains(t, err, "settings down")
}
