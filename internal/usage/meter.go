// Package usage gates and records consumption against daily quotas. It is
// independent of any specific vendor; the gateway wires it around adapter
// dispatch.
package usage

import (
	"context"
	"time"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/apperror"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
)

// State is the per-user usage row. A counter and its paired reset timestamp
// are always written together.
type State struct {
	DailyMessageCount    int
	DailyReset           *time.Time
	DailyProMessageCount int
	DailyProReset        *time.Time
	PlanID               string
}

// Patch is a partial update to a user's usage row.
type Patch struct {
	DailyMessageCount    *int
	DailyReset           *time.Time
	DailyProMessageCount *int
	DailyProReset        *time.Time
	LastActiveAt         *time.Time
}

// UsersStore persists authenticated users' usage rows.
type UsersStore interface {
	Usage(ctx context.Context, userID string) (*State, error)
	Update(ctx context.Context, userID string, patch Patch) error
}

// AnonymousStore tracks per-anonymous-id usage with the same lazy daily
// reset semantics but a single counter.
type AnonymousStore interface {
	// CheckAndResetDaily returns the current count, resetting it first when
	// a new UTC day has started.
	CheckAndResetDaily(ctx context.Context, anonID string) (int, error)
	Increment(ctx context.Context, anonID string) error
}

// Limits holds the per-track daily caps.
type Limits struct {
	Daily     int
	Anonymous int
	Pro       int
}

// Baseline holds the per-1k-token reference costs the multiplier is derived
// from.
type Baseline struct {
	InputCost  float64
	OutputCost float64
}

// Meter is the per-user usage state machine.
type Meter struct {
	users    UsersStore
	anon     AnonymousStore
	limits   Limits
	baseline Baseline
	now      func() time.Time
}

// NewMeter constructs a meter. A nil clock uses time.Now.
func NewMeter(users UsersStore, anon AnonymousStore, limits Limits, baseline Baseline, clock func() time.Time) *Meter {
	if clock == nil {
		clock = time.Now
	}
	return &Meter{users: users, anon: anon, limits: limits, baseline: baseline, now: clock}
}

// isNewDay reports whether reset belongs to an earlier UTC calendar day than
// now. A missing reset counts as a new day.
func isNewDay(reset *time.Time, now time.Time) bool {
	if reset == nil {
		return true
	}
	ry, rm, rd := reset.UTC().Date()
	ny, nm, nd := now.UTC().Date()
	return ry != ny || rm != nm || rd != nd
}

// CheckUsage verifies the caller may consume the model. The pro gate runs
// before any counter is read: a paid model always requires a paid plan.
// Counters reset lazily on the first use after a UTC day boundary; the reset
// is persisted before the limit is evaluated.
func (m *Meter) CheckUsage(ctx context.Context, user *models.User, cfg *models.ModelConfig) error {
	if cfg != nil && !cfg.IsFree && !user.IsPro() {
		return apperror.New(apperror.CodeAuthentication, "this model requires a paid plan")
	}
	if user == nil {
		return apperror.New(apperror.CodeParams, "user is required")
	}

	state, err := m.users.Usage(ctx, user.ID)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, "load usage state", err)
	}

	now := m.now()
	if m.proTrack(cfg) {
		count := state.DailyProMessageCount
		if isNewDay(state.DailyProReset, now) {
			count = 0
			if err := m.users.Update(ctx, user.ID, Patch{
				DailyProMessageCount: intPtr(0),
				DailyProReset:        timePtr(now),
			}); err != nil {
				return apperror.Wrap(apperror.CodeInternal, "reset pro usage", err)
			}
		}
		if count >= m.limits.Pro {
			return apperror.New(apperror.CodeUsageLimit, "daily pro message limit reached")
		}
		return nil
	}

	count := state.DailyMessageCount
	if isNewDay(state.DailyReset, now) {
		count = 0
		if err := m.users.Update(ctx, user.ID, Patch{
			DailyMessageCount: intPtr(0),
			DailyReset:        timePtr(now),
		}); err != nil {
			return apperror.Wrap(apperror.CodeInternal, "reset usage", err)
		}
	}
	if count >= m.limits.Daily {
		return apperror.New(apperror.CodeUsageLimit, "daily message limit reached")
	}
	return nil
}

// IncrementUsage records one consumed message. The new-day decision is
// re-derived here rather than reusing CheckUsage's result; check and
// increment are deliberately not atomic (see the SQLite store's
// IncrementIfUnder for the conditional alternative).
func (m *Meter) IncrementUsage(ctx context.Context, user *models.User, cfg *models.ModelConfig) error {
	state, err := m.users.Usage(ctx, user.ID)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, "load usage state", err)
	}

	now := m.now()
	if m.proTrack(cfg) {
		count := state.DailyProMessageCount
		reset := state.DailyProReset
		if isNewDay(reset, now) {
			count = 0
			reset = timePtr(now)
		}
		delta := CostMultiplier(cfg, m.baseline)
		if err := m.users.Update(ctx, user.ID, Patch{
			DailyProMessageCount: intPtr(count + delta),
			DailyProReset:        reset,
			LastActiveAt:         timePtr(now),
		}); err != nil {
			return apperror.Wrap(apperror.CodeInternal, "increment pro usage", err)
		}
		return nil
	}

	count := state.DailyMessageCount
	reset := state.DailyReset
	if isNewDay(reset, now) {
		count = 0
		reset = timePtr(now)
	}
	if err := m.users.Update(ctx, user.ID, Patch{
		DailyMessageCount: intPtr(count + 1),
		DailyReset:        reset,
		LastActiveAt:      timePtr(now),
	}); err != nil {
		return apperror.Wrap(apperror.CodeInternal, "increment usage", err)
	}
	return nil
}

// CheckAnonymousUsage gates an anonymous caller. Paid models are never
// available anonymously.
func (m *Meter) CheckAnonymousUsage(ctx context.Context, anonID string, cfg *models.ModelConfig) error {
	if cfg != nil && !cfg.IsFree {
		return apperror.New(apperror.CodeAuthentication, "this model requires a paid plan")
	}
	count, err := m.anon.CheckAndResetDaily(ctx, anonID)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, "load anonymous usage", err)
	}
	if count >= m.limits.Anonymous {
		return apperror.New(apperror.CodeUsageLimit, "daily message limit reached")
	}
	return nil
}

// IncrementAnonymousUsage records one anonymous message.
func (m *Meter) IncrementAnonymousUsage(ctx context.Context, anonID string) error {
	if err := m.anon.Increment(ctx, anonID); err != nil {
		return apperror.Wrap(apperror.CodeInternal, "increment anonymous usage", err)
	}
	return nil
}

// proTrack selects the pro counter for paid models.
func (m *Meter) proTrack(cfg *models.ModelConfig) bool {
	return cfg != nil && !cfg.IsFree
}

func intPtr(v int) *int              { return &v }
func timePtr(v time.Time) *time.Time { return &v }
