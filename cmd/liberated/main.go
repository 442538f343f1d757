package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/liberatelabs/liberate/config"
	"github.com/liberatelabs/liberate/db/docstore"
	"github.com/liberatelabs/liberate/db/models"
	"github.com/liberatelabs/liberate/pkg/reactive"
	"github.com/liberatelabs/liberate/service/auth"
	"github.com/liberatelabs/liberate/service/budget"
	"github.com/liberatelabs/liberate/service/posts"
	"github.com/liberatelabs/liberate/service/quota"
	"github.com/liberatelabs/liberate/session"
)

const defaultConfigFile = "liberate.yaml"

func main() {
	args := os.Args[1:]
	configFile := defaultConfigFile

	var command string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 >= len(args) {
				slog.Error("--config flag requires a path argument")
				os.Exit(1)
			}
			configFile = args[i+1]
			i++
		case "--generate-config":
			if err := generateConfig(configFile); err != nil {
				slog.Error("Failed to generate configuration", "error", err)
				os.Exit(1)
			}
			fmt.Printf("Wrote default configuration to %s\n", color.CyanString(configFile))
			return
		default:
			if command == "" {
				command = args[i]
			}
		}
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		if errors.Is(err, config.ErrConfigFileMissing) {
			slog.Error("Configuration file not found; run with --generate-config first", "path", configFile)
		} else {
			slog.Error("Failed to load configuration", "path", configFile, "error", err)
		}
		os.Exit(1)
	}

	logger := buildLogger(cfg)

	store, err := docstore.New(docstore.Config{
		Logger:     logger,
		Directory:  cfg.DataDir,
		AppCtx:     context.Background(),
		CacheTTL:   cfg.Cache.StandardTTL,
		RateLimits: rateLimits(cfg),
	})
	if err != nil {
		logger.Error("Failed to open document store", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	app := &application{
		logger: logger,
		cfg:    cfg,
		store:  store,
		auth: auth.New(auth.Config{
			Logger: logger,
			Users:  store.Collection("users"),
		}),
	}

	switch command {
	case "", "demo":
		err = app.runDemo(context.Background())
	case "report":
		err = app.runReport(context.Background())
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q; expected demo or report\n", command)
		os.Exit(1)
	}

	if err != nil {
		logger.Error("Command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

func buildLogger(cfg *config.Config) *slog.Logger {
	level := charmlog.InfoLevel
	switch cfg.Logging.Level {
	case "", "info":
	case "debug":
		level = charmlog.DebugLevel
	case "warn":
		level = charmlog.WarnLevel
	case "error":
		level = charmlog.ErrorLevel
	default:
		color.HiYellow("Unknown logging level: %s, defaulting to info", cfg.Logging.Level)
	}

	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Level:           level,
	})
	return slog.New(handler).With("service", "liberated")
}

func rateLimits(cfg *config.Config) map[string]docstore.RateLimit {
	out := make(map[string]docstore.RateLimit)
	for name, rl := range map[string]config.RateLimiterConfig{
		"users":    cfg.RateLimiters.Users,
		"posts":    cfg.RateLimiters.Posts,
		"messages": cfg.RateLimiters.Messages,
		"default":  cfg.RateLimiters.Default,
	} {
		if rl.Limit > 0 {
			out[name] = docstore.RateLimit{Limit: rl.Limit, Burst: rl.Burst}
		}
	}
	return out
}

func generateConfig(path string) error {
	cfg := &config.Config{DataDir: "liberate-data"}
	if err := cfg.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

type application struct {
	logger *slog.Logger
	cfg    *config.Config
	store  *docstore.Store
	auth   *auth.Service
}

// loginOrRegister makes the demo re-runnable against an existing data
// directory.
func (a *application) loginOrRegister(ctx context.Context, username, email, password string) (*models.User, error) {
	user, err := a.auth.Login(ctx, username, password)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, auth.ErrInvalidCredentials) {
		return nil, err
	}
	return a.auth.Register(ctx, username, email, password)
}

// runDemo walks one user through the full day: posting up to the
// quota, chatting, and scrolling until the attention budget runs out.
func (a *application) runDemo(ctx context.Context) error {
	alice, err := a.loginOrRegister(ctx, "alice", "alice@example.com", "demo-password")
	if err != nil {
		return err
	}
	bob, err := a.loginOrRegister(ctx, "bob", "bob@example.com", "demo-password")
	if err != nil {
		return err
	}

	s := session.Open(session.Config{
		Logger: a.logger,
		Store:  a.store,
		App:    a.cfg,
		User:   alice,
	})
	defer s.Close()

	s.Bus().Subscribe(posts.EventPostCreated, func(data any) {
		if p, ok := data.(*models.Post); ok {
			fmt.Printf("%s %s\n", color.GreenString("posted:"), p.Content)
		}
	})
	s.Bus().Subscribe(session.EventScrollWarning, func(data any) {
		if st, ok := data.(budget.Stats); ok {
			color.HiYellow("scroll warning: %s remaining", st.RemainingFormatted)
		}
	})
	s.Bus().Subscribe(budget.EventScrollLimitReached, func(any) {
		color.HiRed("scroll limit reached, feed closed for today")
	})

	drafts := []posts.Draft{
		{Content: "Spent the morning offline and it was great", Purpose: "reflection"},
		{Content: "Reading instead of scrolling today", Purpose: "habit", Source: "book club"},
		{Content: "Third and final post of the day", Purpose: "limit test"},
		{Content: "This one should be rejected", Purpose: "limit test"},
	}
	for _, draft := range drafts {
		if _, err := s.CreatePost(ctx, draft); err != nil {
			var exceeded *quota.ErrQuotaExceeded
			if errors.As(err, &exceeded) {
				color.HiRed("daily post limit of %d reached", exceeded.Limit)
				break
			}
			return err
		}
	}

	chatSvc := s.Chat
	if _, err := chatSvc.Send(ctx, alice.ID, bob.ID, "are you on here today?"); err != nil {
		return err
	}
	if _, err := chatSvc.Send(ctx, bob.ID, alice.ID, "only for a few minutes"); err != nil {
		return err
	}
	thread, err := chatSvc.Conversation(ctx, alice.ID, bob.ID, 10)
	if err != nil {
		return err
	}
	for _, m := range thread {
		fmt.Printf("%s %s\n", color.CyanString("%s:", m.FromID), m.Body)
	}

	// Scroll in bursts until the budget clamps out.
	for {
		ok, err := s.CanScroll(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := s.Scroll(ctx, a.cfg.Limits.DailyScrollSeconds/4); err != nil {
			return err
		}
	}

	fmt.Println()
	fmt.Println(s.UsageReport())
	return nil
}

// runReport prints the scroll usage summary for every registered user.
func (a *application) runReport(ctx context.Context) error {
	bus := reactive.New(reactive.Config{Logger: a.logger})
	defer bus.Close()

	policy := budget.New(budget.Config{
		Logger:           a.logger,
		Users:            a.store.Collection("users"),
		Bus:              bus,
		DailyLimit:       a.cfg.Limits.DailyScrollSeconds,
		WarningThreshold: a.cfg.Limits.ScrollWarningSeconds,
	})

	stats, err := policy.AllUsersStats(ctx)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Println("No registered users.")
		return nil
	}

	for _, st := range stats {
		verdict := color.GreenString("ok")
		if st.LimitReached {
			verdict = color.RedString("limit reached")
		} else if st.RemainingSeconds <= a.cfg.Limits.ScrollWarningSeconds {
			verdict = color.YellowString("warning")
		}
		fmt.Printf("%-16s %s / %s  (%.1f%%)  %s\n",
			st.Username,
			st.UsedFormatted,
			st.LimitFormatted(),
			st.PercentUsed,
			verdict,
		)
	}
	return nil
}
