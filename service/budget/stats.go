package budget

import (
	"context"
	"fmt"
	"strings"

	"github.com/liberatelabs/liberate/db/docstore"
	"github.com/liberatelabs/liberate/db/models"
)

// Stats is a usage summary derived purely from the user's current
// counters. Producing it has no side effects; in particular it does not
// apply the rollover guard.
type Stats struct {
	Username           string
	LimitSeconds       int
	UsedSeconds        int
	UsedFormatted      string // m:ss
	RemainingSeconds   int
	RemainingFormatted string // m:ss
	PercentUsed        float64
	LimitReached       bool
}

func formatClock(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// Stats summarizes the user's scroll usage against the daily limit.
func (p *Policy) Stats(user *models.User) Stats {
	used := user.ScrollTimeToday
	if used < 0 {
		used = 0
	}
	if used > p.limit {
		used = p.limit
	}
	remaining := p.limit - used

	return Stats{
		Username:           user.Username,
		LimitSeconds:       p.limit,
		UsedSeconds:        used,
		UsedFormatted:      formatClock(used),
		RemainingSeconds:   remaining,
		RemainingFormatted: formatClock(remaining),
		PercentUsed:        float64(used) / float64(p.limit) * 100,
		LimitReached:       used >= p.limit,
	}
}

// UsageReport renders the daily usage summary as display text.
func (p *Policy) UsageReport(user *models.User) string {
	stats := p.Stats(user)

	verdict := "Within the daily limit"
	if stats.LimitReached {
		verdict = "LIMIT REACHED"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Daily usage report for %s\n", models.Today(p.now()))
	fmt.Fprintf(&b, "User: %s\n", user.Username)
	fmt.Fprintf(&b, "Time used: %s / %s\n", stats.UsedFormatted, stats.LimitFormatted())
	fmt.Fprintf(&b, "Time remaining: %s\n", stats.RemainingFormatted)
	fmt.Fprintf(&b, "Percentage used: %.1f%%\n", stats.PercentUsed)
	b.WriteString(verdict)
	return b.String()
}

// LimitFormatted renders the full daily limit as m:ss for the
// "used / limit" line of the report.
func (s Stats) LimitFormatted() string {
	return formatClock(s.LimitSeconds)
}

// AllUsersStats summarizes scroll usage for every user (admin view).
func (p *Policy) AllUsersStats(ctx context.Context) ([]Stats, error) {
	var users []models.User
	if err := p.users.Find(ctx, docstore.Filter{}, docstore.FindOptions{
		SortBy: "username",
	}, &users); err != nil {
		return nil, &ErrPersistence{Err: err}
	}

	stats := make([]Stats, 0, len(users))
	for i := range users {
		stats = append(stats, p.Stats(&users[i]))
	}
	return stats, nil
}
