package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/liberatelabs/liberate/db/docstore"
	"github.com/liberatelabs/liberate/db/models"
	"github.com/liberatelabs/liberate/security"
)

var (
	ErrUsernameInvalid    = errors.New("username must be at least 3 characters")
	ErrEmailInvalid       = errors.New("email address is invalid")
	ErrPasswordTooShort   = errors.New("password must be at least 6 characters")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

const passwordMinLength = 6

// ErrPersistence wraps a document-store failure during an auth
// operation so callers can distinguish it from a validation rejection.
type ErrPersistence struct {
	Err error
}

func (e *ErrPersistence) Error() string {
	return "auth persistence failure: " + e.Err.Error()
}

func (e *ErrPersistence) Unwrap() error {
	return e.Err
}

type Config struct {
	Logger    *slog.Logger
	Users     *docstore.Collection
	Sanitizer *security.Sanitizer
	Now       func() time.Time // nil means time.Now
}

// Service registers and authenticates users. Passwords are stored as
// bcrypt hashes; inputs pass through the sanitizer before validation.
type Service struct {
	logger    *slog.Logger
	users     *docstore.Collection
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
		logger:    logger.WithGroup("auth"),
		users:     cfg.Users,
		sanitizer: sanitizer,
		now:       now,
	}
}

// Register validates and creates a new user. The fresh user starts with
// both daily counters at zero, reset-dated today.
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = s.sanitizer.Sanitize(username)
	email = s.sanitizer.Sanitize(email)

	if !s.sanitizer.ValidateUsername(username) {
		return nil, ErrUsernameInvalid
	}
	if !s.sanitizer.ValidateEmail(email) {
		return nil, ErrEmailInvalid
	}
	if len(password) < passwordMinLength {
		return nil, ErrPasswordTooShort
	}

	if err := s.ensureAvailable(ctx, "username", username, ErrUsernameTaken); err != nil {
		return nil, err
	}
	if err := s.ensureAvailable(ctx, "email", email, ErrEmailTaken); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, &ErrPersistence{Err: err}
	}

	today := models.Today(s.now())
	user := &models.User{
		ID:              uuid.New().String(),
		Username:        username,
		Email:           email,
		PasswordHash:    string(hash),
		CreatedAt:       s.now(),
		LastPostDate:    today,
		LastScrollReset: today,
	}

	if err := s.users.InsertOne(ctx, user.ID, user); err != nil {
		return nil, &ErrPersistence{Err: err}
	}

	s.logger.Info("user registered", "user", user.ID, "username", username)
	return user, nil
}

// Login authenticates by username and password.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, error) {
	username = s.sanitizer.Sanitize(username)
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user models.User
	err := s.users.FindOne(ctx, docstore.Filter{"username": username}, &user)
	if err != nil {
		var notFound *docstore.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, &ErrPersistence{Err: err}
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	s.logger.Info("user logged in", "user", user.ID)
	return &user, nil
}

// AllUsers lists every registered user, ordered by username.
func (s *Service) AllUsers(ctx context.Context) ([]models.User, error) {
	var users []models.User
	if err := s.users.Find(ctx, docstore.Filter{}, docstore.FindOptions{SortBy: "username"}, &users); err != nil {
		return nil, &ErrPersistence{Err: err}
	}
	return users, nil
}

func (s *Service) ensureAvailable(ctx context.Context, field, value string, taken error) error {
	var existing models.User
	err := s.users.FindOne(ctx, docstore.Filter{field: value}, &existing)
	if err == nil {
		return taken
	}
	var notFound *docstore.ErrNotFound
	if errors.As(err, &notFound) {
		return nil
	}
	return &ErrPersistence{Err: err}
}
