package posts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/liberatelabs/liberate/db/docstore"
	"github.com/liberatelabs/liberate/db/models"
	"github.com/liberatelabs/liberate/pkg/reactive"
	"github.com/liberatelabs/liberate/security"
	"github.com/liberatelabs/liberate/service/quota"
)

// Events announced on the session bus.
const (
	EventPostCreated = "post_created"
	EventPostLiked   = "post_liked"
	EventPostShared  = "post_shared"
	EventPostDeleted = "post_deleted"
)

// StateKeyFeedDirty flips whenever the feed's contents changed and
// bound views should re-query.
const StateKeyFeedDirty = "posts_dirty"

var (
	ErrEmptyContent = errors.New("post content must not be empty")
	ErrEmptyComment = errors.New("comment content must not be empty")
)

// ErrPersistence wraps a document-store failure.
type ErrPersistence struct {
	Err error
}

func (e *ErrPersistence) Error() string {
	return "posts persistence failure: " + e.Err.Error()
}

func (e *ErrPersistence) Unwrap() error {
	return e.Err
}

// Draft is the caller-facing input for a new post.
type Draft struct {
	Content   string
	Purpose   string
	Source    string
	ImagePath string
}

type Config struct {
	Logger    *slog.Logger
	Posts     *docstore.Collection
	Bus       *reactive.Bus
	Quota     *quota.Policy
	Sanitizer *security.Sanitizer
	Now       func() time.Time // nil means time.Now
}

// Service owns the post workflows: creation under the daily quota plus
// feed reads and the social counters (likes, shares, comments).
type Service struct {
	logger    *slog.Logger
	posts     *docstore.Collection
	bus       *reactive.Bus
	quota     *quota.Policy
	sanitizer *security.Sanitizer
	now       func() time.Time
}

func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	sanitizer := cfg.Sanitizer
	if sanitizer == nil {
		sanitizer = security.NewSanitizer()
	}
	return &Service{
		logger:    logger.WithGroup("posts"),
		posts:     cfg.Posts,
		bus:       cfg.Bus,
		quota:     cfg.Quota,
		sanitizer: sanitizer,
		now:       now,
	}
}

// Create publishes a new post for user. The quota gate runs first: a
// user at the daily limit gets quota.ErrQuotaExceeded before any
// content is stored. On success the quota is consumed, the feed state
// key flips, and post_created is announced.
func (s *Service) Create(ctx context.Context, user *models.User, draft Draft) (*models.Post, error) {
	ok, err := s.quota.Check(ctx, user)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &quota.ErrQuotaExceeded{UserID: user.ID, Limit: s.quota.Limit()}
	}

	content := s.sanitizer.Sanitize(draft.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	post := &models.Post{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Username:  user.Username,
		Content:   content,
		Purpose:   s.sanitizer.Sanitize(draft.Purpose),
		Source:    s.sanitizer.Sanitize(draft.Source),
		ImagePath: draft.ImagePath,
		CreatedAt: s.now(),
		LikedBy:   []string{},
		Comments:  []models.Comment{},
	}

	if err := s.posts.InsertOne(ctx, post.ID, post); err != nil {
		return nil, &ErrPersistence{Err: err}
	}

	if err := s.quota.Consume(ctx, user); err != nil {
		// The post is stored but the counter persist failed; surface
		// the failure, the next read re-syncs the counter.
		return post, err
	}

	s.logger.Info("post created", "post", post.ID, "user", user.ID)
	s.bus.SetState(StateKeyFeedDirty, post.ID)
	s.bus.Emit(EventPostCreated, post)
	return post, nil
}

// List returns the newest posts, most recent first.
func (s *Service) List(ctx context.Context, limit int) ([]models.Post, error) {
	var out []models.Post
	err := s.posts.Find(ctx, docstore.Filter{}, docstore.FindOptions{
		SortBy:     "created_at",
		Descending: true,
		Limit:      limit,
	}, &out)
	if err != nil {
		return nil, &ErrPersistence{Err: err}
	}
	return out, nil
}

// ListByUser returns one user's posts, most recent first.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]models.Post, error) {
	var out []models.Post
	err := s.posts.Find(ctx, docstore.Filter{"user_id": userID}, docstore.FindOptions{
		SortBy:     "created_at",
		Descending: true,
		Limit:      limit,
	}, &out)
	if err != nil {
		return nil, &ErrPersistence{Err: err}
	}
	return out, nil
}

// Get loads one post by id. A missing post surfaces as
// docstore.ErrNotFound so callers can tell it from a backend failure.
func (s *Service) Get(ctx context.Context, postID string) (*models.Post, error) {
	var post models.Post
	if err := s.posts.FindOneByID(ctx, postID, &post); err != nil {
		var notFound *docstore.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, err
		}
		return nil, &ErrPersistence{Err: err}
	}
	return &post, nil
}

// Delete removes a post, but only for its author: the filter carries
// both ids, so someone else's postID quietly matches nothing. Reports
// whether a post was actually deleted. On deletion the feed state key
// flips and post_deleted is announced.
func (s *Service) Delete(ctx context.Context, postID, userID string) (bool, error) {
	err := s.posts.DeleteOne(ctx, docstore.Filter{"post_id": postID, "user_id": userID})
	if err != nil {
		var notFound *docstore.ErrNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, &ErrPersistence{Err: err}
	}

	s.logger.Info("post deleted", "post", postID, "user", userID)
	s.bus.SetState(StateKeyFeedDirty, "deleted:"+postID)
	s.bus.Emit(EventPostDeleted, postID)
	return true, nil
}

// Search returns the newest posts whose content, purpose, or source
// contains query, case-insensitively. The query passes through the
// sanitizer first; a query that sanitizes to nothing matches nothing.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]models.Post, error) {
	query = strings.ToLower(s.sanitizer.Sanitize(query))
	if query == "" {
		return nil, nil
	}

	var all []models.Post
	err := s.posts.Find(ctx, docstore.Filter{}, docstore.FindOptions{
		SortBy:     "created_at",
		Descending: true,
	}, &all)
	if err != nil {
		return nil, &ErrPersistence{Err: err}
	}

	var matched []models.Post
	for _, post := range all {
		if strings.Contains(strings.ToLower(post.Content), query) ||
			strings.Contains(strings.ToLower(post.Purpose), query) ||
			strings.Contains(strings.ToLower(post.Source), query) {
			matched = append(matched, post)
			if limit > 0 && len(matched) == limit {
				break
			}
		}
	}
	return matched, nil
}

// ToggleLike adds or removes userID's like on a post and reports
// whether the post is liked after the call.
func (s *Service) ToggleLike(ctx context.Context, postID, userID string) (bool, error) {
	var post models.Post
	if err := s.posts.FindOneByID(ctx, postID, &post); err != nil {
		return false, &ErrPersistence{Err: err}
	}

	var update docstore.Update
	liked := !post.LikedByUser(userID)
	if liked {
		update = docstore.Update{
			Push: map[string]any{"liked_by": userID},
			Inc:  map[string]int{"likes": 1},
		}
	} else {
		update = docstore.Update{
			Pull: map[string]any{"liked_by": userID},
			Inc:  map[string]int{"likes": -1},
		}
	}

	if _, err := s.posts.UpdateOne(ctx, docstore.Filter{"post_id": postID}, update); err != nil {
		return false, &ErrPersistence{Err: err}
	}

	s.bus.Emit(EventPostLiked, &post)
	return liked, nil
}

// Share bumps a post's share counter, reporting whether the post
// existed and was updated.
func (s *Service) Share(ctx context.Context, postID string) (bool, error) {
	modified, err := s.posts.UpdateOne(ctx, docstore.Filter{"post_id": postID}, docstore.Update{
		Inc: map[string]int{"shares": 1},
	})
	if err != nil {
		var notFound *docstore.ErrNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, &ErrPersistence{Err: err}
	}

	if modified {
		s.bus.Emit(EventPostShared, postID)
	}
	return modified, nil
}

// AddComment appends a comment to a post.
func (s *Service) AddComment(ctx context.Context, postID string, user *models.User, content string) (*models.Comment, error) {
	content = s.sanitizer.Sanitize(content)
	if content == "" {
		return nil, ErrEmptyComment
	}

	comment := models.Comment{
		ID:        uuid.New().String(),
		PostID:    postID,
		UserID:    user.ID,
		Username:  user.Username,
		Content:   content,
		CreatedAt: s.now(),
	}

	if _, err := s.posts.UpdateOne(ctx, docstore.Filter{"post_id": postID}, docstore.Update{
		Push: map[string]any{"comments": comment},
	}); err != nil {
		return nil, &ErrPersistence{Err: err}
	}

	return &comment, nil
}
