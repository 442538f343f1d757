package models

import "time"

// Post is the posts-collection document.
type Post struct {
	ID        string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Purpose   string    `json:"purpose,omitempty"`
	Source    string    `json:"source,omitempty"`
	ImagePath string    `json:"image_path,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	Likes    int       `json:"likes"`
	LikedBy  []string  `json:"liked_by"`
	Shares   int       `json:"shares"`
	Comments []Comment `json:"comments"`
}

type Comment struct {
	ID        string    `json:"comment_id"`
	PostID    string    `json:"post_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// LikedByUser reports whether userID already liked the post.
func (p *Post) LikedByUser(userID string) bool {
	for _, id := range p.LikedBy {
		if id == userID {
			return true
		}
	}
	return false
}
