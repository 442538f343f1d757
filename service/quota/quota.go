package quota

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/liberatelabs/liberate/db/docstore"
	"github.com/liberatelabs/liberate/db/models"
	"github.com/liberatelabs/liberate/pkg/reactive"
)

// EventUserUpdated fires after a successful consume so dependent UI
// counters can refresh.
const EventUserUpdated = "user_updated"

// StateKey is the bus state key holding a user's current daily post
// count.
func StateKey(userID string) string {
	return "daily_posts_" + userID
}

// ErrQuotaExceeded is returned when Consume is called for a user who is
// already at the daily limit. Callers are expected to Check first;
// hitting this is a caller error, not a transient condition.
type ErrQuotaExceeded struct {
	UserID string
	Limit  int
}

func (e *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("user %s reached the daily post limit of %d", e.UserID, e.Limit)
}

// ErrPersistence is returned when the document store failed; the
// in-memory counter may be ahead of the stored one and callers must
// treat the user record as stale until the next read.
type ErrPersistence struct {
	Err error
}

func (e *ErrPersistence) Error() string {
	return fmt.Sprintf("persisting post quota: %v", e.Err)
}

func (e *ErrPersistence) Unwrap() error {
	return e.Err
}

type Config struct {
	Logger *slog.Logger
	Users  *docstore.Collection
	Bus    *reactive.Bus
	Limit  int              // 0 means the default of 3
	Now    func() time.Time // nil means time.Now
}

/*
	Daily post quota policy. Two states per user: under the limit and at
	the limit. The counter only grows within a day; the transition back
	happens solely through the lazy date-rollover guard that runs at the
	top of every operation. There is no background reset job.

	The policy is the only mutator of User.DailyPosts/LastPostDate.
	Concurrent consumption for the same user serializes on the store's
	atomic update, and the single-session access pattern keeps the
	read-modify-write on the in-memory User safe.
*/
type Policy struct {
	logger *slog.Logger
	users  *docstore.Collection
	bus    *reactive.Bus
	limit  int
	now    func() time.Time
}

const DefaultLimit = 3

func New(cfg Config) *Policy {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Policy{
		logger: logger.WithGroup("quota"),
		users:  cfg.Users,
		bus:    cfg.Bus,
		limit:  limit,
		now:    now,
	}
}

func (p *Policy) Limit() int {
	return p.limit
}

// Check applies the lazy rollover and reports whether the user may
// post. A false return with a nil error means the limit is reached; a
// non-nil error is a persistence failure, distinct so callers can show
// "try again" instead of "limit reached".
func (p *Policy) Check(ctx context.Context, user *models.User) (bool, error) {
	if err := p.rollover(ctx, user); err != nil {
		return false, err
	}
	return user.DailyPosts < p.limit, nil
}

// Remaining reports how many posts the user has left today.
func (p *Policy) Remaining(ctx context.Context, user *models.User) (int, error) {
	if err := p.rollover(ctx, user); err != nil {
		return 0, err
	}
	remaining := p.limit - user.DailyPosts
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Consume increments the user's daily counter, persists it, updates the
// bus state key, and announces the user change. Consuming at the limit
// is ErrQuotaExceeded. A persistence failure leaves the in-memory
// counter incremented (no implicit rollback); the next read re-syncs.
func (p *Policy) Consume(ctx context.Context, user *models.User) error {
	if err := p.rollover(ctx, user); err != nil {
		return err
	}

	if user.DailyPosts >= p.limit {
		return &ErrQuotaExceeded{UserID: user.ID, Limit: p.limit}
	}

	user.DailyPosts++
	user.LastPostDate = models.Today(p.now())

	if err := p.persist(ctx, user); err != nil {
		return &ErrPersistence{Err: err}
	}

	p.logger.Debug("post quota consumed", "user", user.ID, "count", user.DailyPosts, "limit", p.limit)

	p.bus.SetState(StateKey(user.ID), user.DailyPosts)
	p.bus.Emit(EventUserUpdated, user)
	return nil
}

// rollover resets the counter when the wall-clock date moved past the
// stored reset date, persisting the reset so the stored counter never
// lags a day behind.
func (p *Policy) rollover(ctx context.Context, user *models.User) error {
	today := models.Today(p.now())
	if user.LastPostDate == today {
		return nil
	}

	user.DailyPosts = 0
	user.LastPostDate = today

	if err := p.persist(ctx, user); err != nil {
		return &ErrPersistence{Err: err}
	}

	p.logger.Debug("post quota rolled over", "user", user.ID, "date", today)
	p.bus.SetState(StateKey(user.ID), user.DailyPosts)
	return nil
}

func (p *Policy) persist(ctx context.Context, user *models.User) error {
	_, err := p.users.UpdateOne(ctx, docstore.Filter{"user_id": user.ID}, docstore.Update{
		Set: map[string]any{
			"daily_posts":    user.DailyPosts,
			"last_post_date": user.LastPostDate,
		},
	})
	return err
}
