package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/liberatelabs/liberate/config"
	"github.com/liberatelabs/liberate/db/docstore"
	"github.com/liberatelabs/liberate/db/models"
	"github.com/liberatelabs/liberate/pkg/reactive"
	"github.com/liberatelabs/liberate/security"
	"github.com/liberatelabs/liberate/service/budget"
	"github.com/liberatelabs/liberate/service/chat"
	"github.com/liberatelabs/liberate/service/posts"
	"github.com/liberatelabs/liberate/service/quota"
)

// Events announced by the session itself.
const (
	// EventFeedRefresh is the debounced signal bound views listen to
	// instead of re-querying on every single post_created.
	EventFeedRefresh = "feed_refresh"

	// EventScrollWarning fires when the user enters the warning band of
	// the scroll budget.
	EventScrollWarning = "scroll_warning"
)

type Config struct {
	Logger    *slog.Logger
	Store     *docstore.Store
	App       *config.Config
	User      *models.User
	Sanitizer *security.Sanitizer
	Now       func() time.Time // nil means time.Now
}

/*
	Session is the coordination context for one logged-in user: it owns
	the event bus, the two resource policies, and the content services
	wired against them. One Session per login; Close disposes the bus.

	This is deliberately an explicit, passed-around object with a
	construction/teardown lifecycle, never process-wide state.
*/
type Session struct {
	logger *slog.Logger
	bus    *reactive.Bus
	user   *models.User

	Quota  *quota.Policy
	Budget *budget.Policy
	Posts  *posts.Service
	Chat   *chat.Service

	refreshFeed func(any)
	feedToken   reactive.Token
}

func Open(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_user", cfg.User.ID)

	sanitizer := cfg.Sanitizer
	if sanitizer == nil {
		sanitizer = security.NewSanitizer()
	}

	bus := reactive.New(reactive.Config{
		Logger:          logger,
		HistoryCapacity: cfg.App.Reactive.HistoryCapacity,
	})

	users := cfg.Store.Collection("users")

	quotaPolicy := quota.New(quota.Config{
		Logger: logger,
		Users:  users,
		Bus:    bus,
		Limit:  cfg.App.Limits.DailyPosts,
		Now:    cfg.Now,
	})

	budgetPolicy := budget.New(budget.Config{
		Logger:           logger,
		Users:            users,
		Bus:              bus,
		DailyLimit:       cfg.App.Limits.DailyScrollSeconds,
		WarningThreshold: cfg.App.Limits.ScrollWarningSeconds,
		Now:              cfg.Now,
	})

	postService := posts.New(posts.Config{
		Logger:    logger,
		Posts:     cfg.Store.Collection("posts"),
		Bus:       bus,
		Quota:     quotaPolicy,
		Sanitizer: sanitizer,
		Now:       cfg.Now,
	})

	chatService := chat.New(chat.Config{
		Logger:    logger,
		Messages:  cfg.Store.Collection("messages"),
		Bus:       bus,
		Sanitizer: sanitizer,
		Now:       cfg.Now,
	})

	s := &Session{
		logger: logger.WithGroup("session"),
		bus:    bus,
		user:   cfg.User,
		Quota:  quotaPolicy,
		Budget: budgetPolicy,
		Posts:  postService,
		Chat:   chatService,
	}

	// Bursts of post/message activity collapse into one feed refresh.
	s.refreshFeed = bus.DebouncedEmitter(EventFeedRefresh, cfg.App.Reactive.DebounceInterval)
	s.feedToken = bus.Subscribe(posts.EventPostCreated, func(data any) {
		s.refreshFeed(data)
	})

	s.logger.Info("session opened", "username", cfg.User.Username)
	return s
}

// Bus exposes the session's event bus for the display layer to
// subscribe and bind against. Callbacks run on the emitting goroutine,
// never on any particular UI thread.
func (s *Session) Bus() *reactive.Bus {
	return s.bus
}

func (s *Session) User() *models.User {
	return s.user
}

// CanScroll reports whether the user has scroll budget left.
func (s *Session) CanScroll(ctx context.Context) (bool, error) {
	return s.Budget.Check(ctx, s.user)
}

// Scroll accrues viewing time against the budget and announces the
// boundary events the policies leave to their caller: the limit event
// when the budget clamps out, the warning event inside the final band.
func (s *Session) Scroll(ctx context.Context, seconds int) error {
	limitReached, err := s.Budget.Consume(ctx, s.user, seconds)
	if err != nil {
		return err
	}

	if limitReached {
		s.bus.Emit(budget.EventScrollLimitReached, s.Budget.Stats(s.user))
		return nil
	}

	warn, err := s.Budget.WarningNeeded(ctx, s.user)
	if err != nil {
		return err
	}
	if warn {
		s.bus.Emit(EventScrollWarning, s.Budget.Stats(s.user))
	}
	return nil
}

// CreatePost runs the quota-gated post creation workflow for the
// session user.
func (s *Session) CreatePost(ctx context.Context, draft posts.Draft) (*models.Post, error) {
	return s.Posts.Create(ctx, s.user, draft)
}

// UsageReport renders the session user's daily scroll summary.
func (s *Session) UsageReport() string {
	return s.Budget.UsageReport(s.user)
}

// Close disposes the session's bus. The session must not be used
// afterwards.
func (s *Session) Close() {
	s.bus.Unsubscribe(posts.EventPostCreated, s.feedToken)
	s.bus.Close()
	s.logger.Info("session closed")
}
