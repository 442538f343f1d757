package models

import "time"

// DateLayout is how counter reset dates are persisted (ISO-8601 date).
const DateLayout = "2006-01-02"

// User is the users-collection document. The daily counters
// (DailyPosts/LastPostDate, ScrollTimeToday/LastScrollReset) are owned
// by the quota and budget policies respectively; nothing else mutates
// them.
type User struct {
	ID           string    `json:"user_id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	ProfileImage string    `json:"profile_image,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	DailyPosts   int    `json:"daily_posts"`
	LastPostDate string `json:"last_post_date"` // ISO-8601 date

	ScrollTimeToday int    `json:"scroll_time_today"` // seconds
	LastScrollReset string `json:"last_scroll_reset"` // ISO-8601 date
}

// Today formats now as a persisted reset date.
func Today(now time.Time) string {
	return now.Format(DateLayout)
}
