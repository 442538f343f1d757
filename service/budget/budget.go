package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/liberatelabs/liberate/db/docstore"
	"github.com/liberatelabs/liberate/db/models"
	"github.com/liberatelabs/liberate/pkg/reactive"
)

// EventScrollLimitReached is the canonical event name consumers emit
// when Consume reports the budget is exhausted. The policy itself only
// computes the boolean; emission stays with the caller.
const EventScrollLimitReached = "scroll_limit_reached"

// StateKey is the bus state key holding a user's accumulated scroll
// seconds.
func StateKey(userID string) string {
	return "scroll_time_" + userID
}

// ErrPersistence is returned when the document store failed; in-memory
// accumulation is not rolled back and callers must re-sync on the next
// read.
type ErrPersistence struct {
	Err error
}

func (e *ErrPersistence) Error() string {
	return fmt.Sprintf("persisting scroll budget: %v", e.Err)
}

func (e *ErrPersistence) Unwrap() error {
	return e.Err
}

const (
	DefaultDailyLimit       = 1800 // seconds, 30 minutes
	DefaultWarningThreshold = 300  // seconds, last 5 minutes
)

type Config struct {
	Logger           *slog.Logger
	Users            *docstore.Collection
	Bus              *reactive.Bus
	DailyLimit       int              // seconds; 0 means DefaultDailyLimit
	WarningThreshold int              // seconds; 0 means DefaultWarningThreshold
	Now              func() time.Time // nil means time.Now
}

// Policy enforces the daily attention budget: accumulated scroll
// seconds per user, clamped at the daily limit, reset lazily on date
// rollover exactly like the post quota. The policy is the only mutator
// of User.ScrollTimeToday/LastScrollReset.
type Policy struct {
	logger  *slog.Logger
	users   *docstore.Collection
	bus     *reactive.Bus
	limit   int
	warning int
	now     func() time.Time
}

func New(cfg Config) *Policy {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.DailyLimit
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	warning := cfg.WarningThreshold
	if warning <= 0 {
		warning = DefaultWarningThreshold
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Policy{
		logger:  logger.WithGroup("budget"),
		users:   cfg.Users,
		bus:     cfg.Bus,
		limit:   limit,
		warning: warning,
		now:     now,
	}
}

func (p *Policy) DailyLimit() int {
	return p.limit
}

// Check applies the lazy rollover and reports whether the user still
// has budget left. Persistence failures are distinct from a reached
// limit.
func (p *Policy) Check(ctx context.Context, user *models.User) (bool, error) {
	if err := p.rollover(ctx, user); err != nil {
		return false, err
	}
	return user.ScrollTimeToday < p.limit, nil
}

// Remaining reports the seconds of budget left today, never negative.
func (p *Policy) Remaining(ctx context.Context, user *models.User) (int, error) {
	if err := p.rollover(ctx, user); err != nil {
		return 0, err
	}
	remaining := p.limit - user.ScrollTimeToday
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Consume accrues seconds against the user's budget, clamping at the
// daily limit, persists the counter, and updates the bus state key.
// It reports whether the clamped value now sits at the limit; emitting
// scroll_limit_reached on that signal is the caller's job. Exceeding
// the limit is not an error, only the clamp.
func (p *Policy) Consume(ctx context.Context, user *models.User, seconds int) (bool, error) {
	if err := p.rollover(ctx, user); err != nil {
		return false, err
	}

	user.ScrollTimeToday += seconds
	if user.ScrollTimeToday > p.limit {
		user.ScrollTimeToday = p.limit
	}
	if user.ScrollTimeToday < 0 {
		user.ScrollTimeToday = 0
	}

	if err := p.persist(ctx, user); err != nil {
		return false, &ErrPersistence{Err: err}
	}

	p.logger.Debug("scroll time accrued", "user", user.ID, "seconds", seconds, "total", user.ScrollTimeToday)
	p.bus.SetState(StateKey(user.ID), user.ScrollTimeToday)

	return user.ScrollTimeToday >= p.limit, nil
}

// WarningNeeded reports whether the user sits inside the warning band:
// some budget left, but no more than the threshold.
func (p *Policy) WarningNeeded(ctx context.Context, user *models.User) (bool, error) {
	remaining, err := p.Remaining(ctx, user)
	if err != nil {
		return false, err
	}
	return remaining > 0 && remaining <= p.warning, nil
}

// Reset zeroes the user's scroll time for today (admin operation).
func (p *Policy) Reset(ctx context.Context, user *models.User) error {
	user.ScrollTimeToday = 0
	user.LastScrollReset = models.Today(p.now())

	if err := p.persist(ctx, user); err != nil {
		return &ErrPersistence{Err: err}
	}

	p.bus.SetState(StateKey(user.ID), 0)
	return nil
}

func (p *Policy) rollover(ctx context.Context, user *models.User) error {
	today := models.Today(p.now())
	if user.LastScrollReset == today {
		return nil
	}

	user.ScrollTimeToday = 0
	user.LastScrollReset = today

	if err := p.persist(ctx, user); err != nil {
		return &ErrPersistence{Err: err}
	}

	p.logger.Debug("scroll budget rolled over", "user", user.ID, "date", today)
	p.bus.SetState(StateKey(user.ID), user.ScrollTimeToday)
	return nil
}

func (p *Policy) persist(ctx context.Context, user *models.User) error {
	_, err := p.users.UpdateOne(ctx, docstore.Filter{"user_id": user.ID}, docstore.Update{
		Set: map[string]any{
			"scroll_time_today": user.ScrollTimeToday,
			"last_scroll_reset": user.LastScrollReset,
		},
	})
	return err
}
