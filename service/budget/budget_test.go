package budget

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liberatelabs/liberate/db/docstore"
	"github.com/liberatelabs/liberate/db/models"
	"github.com/liberatelabs/liberate/pkg/reactive"
)

type fixture struct {
	store *docstore.Store
	users *docstore.Collection
	bus   *reactive.Bus
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	store, err := docstore.New(docstore.Config{
		Logger:    logger,
		Directory: t.TempDir(),
		AppCtx:    context.Background(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return &fixture{
		store: store,
		users: store.Collection("users"),
		bus:   reactive.New(reactive.Config{Logger: logger}),
		now:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) policy() *Policy {
	return New(Config{
		Users: f.users,
		Bus:   f.bus,
		Now:   func() time.Time { return f.now },
	})
}

func (f *fixture) seedUser(t *testing.T, id string) *models.User {
	t.Helper()
	user := &models.User{
		ID:              id,
		Username:        "u_" + id,
		LastPostDate:    models.Today(f.now),
		LastScrollReset: models.Today(f.now),
		CreatedAt:       f.now,
	}
	require.NoError(t, f.users.InsertOne(context.Background(), id, user))
	return user
}

func TestPolicy_ConsumeClampsAtLimit(t *testing.T) {
	f := newFixture(t)
	p := f.policy()
	user := f.seedUser(t, "u1")
	ctx := context.Background()

	reached, err := p.Consume(ctx, user, 1000)
	require.NoError(t, err)
	assert.False(t, reached)
	assert.Equal(t, 1000, user.ScrollTimeToday)

	// Would be 2000; clamps to the 1800 limit and reports it.
	reached, err = p.Consume(ctx, user, 1000)
	require.NoError(t, err)
	assert.True(t, reached)
	assert.Equal(t, 1800, user.ScrollTimeToday)

	var stored models.User
	require.NoError(t, f.users.FindOneByID(ctx, "u1", &stored))
	assert.Equal(t, 1800, stored.ScrollTimeToday)

	ok, err := p.Check(ctx, user)
	require.NoError(t, err)
	assert.False(t, ok, "Check at the limit")
}

func TestPolicy_ConsumeUpdatesBusState(t *testing.T) {
	f := newFixture(t)
	p := f.policy()
	user := f.seedUser(t, "u1")
	ctx := context.Background()

	_, err := p.Consume(ctx, user, 120)
	require.NoError(t, err)
	assert.Equal(t, 120, f.bus.GetStateDefault(StateKey("u1"), 0))
}

func TestPolicy_WarningBand(t *testing.T) {
	f := newFixture(t)
	p := f.policy()
	user := f.seedUser(t, "u1")
	ctx := context.Background()

	testCases := []struct {
		name    string
		used    int
		warning bool
	}{
		{"fresh budget", 0, false},
		{"well inside", 900, false},
		{"just before threshold", 1499, false}, // 301s remaining
		{"exactly at threshold", 1500, true},   // 300s remaining
		{"inside warning band", 1501, true},    // 299s remaining
		{"nearly spent", 1799, true},
		{"spent", 1800, false}, // nothing remaining, warning pointless
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			user.ScrollTimeToday = tc.used
			got, err := p.WarningNeeded(ctx, user)
			require.NoError(t, err)
			assert.Equal(t, tc.warning, got, "used=%d", tc.used)
		})
	}
}

func TestPolicy_DateRolloverResetsBudget(t *testing.T) {
	f := newFixture(t)
	p := f.policy()
	user := f.seedUser(t, "u1")
	ctx := context.Background()

	_, err := p.Consume(ctx, user, 1800)
	require.NoError(t, err)

	f.now = f.now.Add(24 * time.Hour)

	ok, err := p.Check(ctx, user)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, user.ScrollTimeToday)
	assert.Equal(t, models.Today(f.now), user.LastScrollReset)

	var stored models.User
	require.NoError(t, f.users.FindOneByID(ctx, "u1", &stored))
	assert.Equal(t, 0, stored.ScrollTimeToday)
}

func TestPolicy_Reset(t *testing.T) {
	f := newFixture(t)
	p := f.policy()
	user := f.seedUser(t, "u1")
	ctx := context.Background()

	_, err := p.Consume(ctx, user, 600)
	require.NoError(t, err)

	require.NoError(t, p.Reset(ctx, user))
	assert.Equal(t, 0, user.ScrollTimeToday)

	var stored models.User
	require.NoError(t, f.users.FindOneByID(ctx, "u1", &stored))
	assert.Equal(t, 0, stored.ScrollTimeToday)
}

func TestPolicy_PersistenceFailureIsDistinct(t *testing.T) {
	f := newFixture(t)
	p := f.policy()
	ctx := context.Background()

	ghost := &models.User{ID: "ghost", LastScrollReset: models.Today(f.now)}

	_, err := p.Consume(ctx, ghost, 100)
	var persistence *ErrPersistence
	require.ErrorAs(t, err, &persistence)

	// No rollback of in-memory accumulation.
	assert.Equal(t, 100, ghost.ScrollTimeToday)
}

func TestPolicy_Stats(t *testing.T) {
	f := newFixture(t)
	p := f.policy()
	user := f.seedUser(t, "u1")
	user.ScrollTimeToday = 754 // 12:34

	stats := p.Stats(user)
	assert.Equal(t, 754, stats.UsedSeconds)
	assert.Equal(t, "12:34", stats.UsedFormatted)
	assert.Equal(t, 1046, stats.RemainingSeconds)
	assert.Equal(t, "17:26", stats.RemainingFormatted)
	assert.Equal(t, "30:00", stats.LimitFormatted())
	assert.InDelta(t, 41.9, stats.PercentUsed, 0.1)
	assert.False(t, stats.LimitReached)

	user.ScrollTimeToday = 1800
	stats = p.Stats(user)
	assert.True(t, stats.LimitReached)
	assert.Equal(t, 0, stats.RemainingSeconds)
	assert.InDelta(t, 100.0, stats.PercentUsed, 0.01)
}

func TestPolicy_UsageReportMentionsVerdict(t *testing.T) {
	f := newFixture(t)
	p := f.policy()
	user := f.seedUser(t, "u1")

	user.ScrollTimeToday = 100
	report := p.UsageReport(user)
	assert.Contains(t, report, "Within the daily limit")
	assert.Contains(t, report, user.Username)

	user.ScrollTimeToday = 1800
	assert.Contains(t, p.UsageReport(user), "LIMIT REACHED")
}

func TestPolicy_AllUsersStats(t *testing.T) {
	f := newFixture(t)
	p := f.policy()
	ctx := context.Background()

	a := f.seedUser(t, "a")
	b := f.seedUser(t, "b")
	_, err := p.Consume(ctx, a, 300)
	require.NoError(t, err)
	_, err = p.Consume(ctx, b, 600)
	require.NoError(t, err)

	stats, err := p.AllUsersStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "u_a", stats[0].Username)
	assert.Equal(t, 300, stats[0].UsedSeconds)
	assert.Equal(t, 600, stats[1].UsedSeconds)
}
