package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"helpbot/internal/assistant"
	"helpbot/internal/config"
	"helpbot/internal/db"
	"helpbot/internal/dialogue"
	"helpbot/internal/domain"
	"helpbot/internal/endpoint"
	"helpbot/internal/events"
	"helpbot/internal/migrate"
	"helpbot/internal/registry"
	"helpbot/internal/repo"
	"helpbot/internal/search"
)

// Services is everything a chat or server process needs, built once.
type Services struct {
	Config   *config.Config
	DB       *sql.DB
	Repo     repo.Repo
	Endpoint *endpoint.Resolver
	Registry *registry.Client
	Search   *search.Orchestrator
	Dialogue dialogue.Orchestrator
	Unit     domain.DateUnit
	Logger   *slog.Logger
}

// Options tune Open beyond the config file.
type Options struct {
	Workspace string
	// BaseOverride replaces the configured backend base for this process.
	BaseOverride string
	HTTPClient   *http.Client
}

// ResolveConfig loads the workspace config, or the defaults when the
// workspace has none, and applies the base override.
func ResolveConfig(workspace, baseOverride string) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		return nil, err
	}
	if baseOverride != "" {
		norm, err := endpoint.NormalizeBase(baseOverride)
		if err != nil {
			return nil, err
		}
		cfg.Backend.BaseURL = norm
	}
	return cfg, nil
}

// Open opens and migrates the workspace store and wires the dialogue stack.
func Open(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	svc, err := Wire(ctx, cfg, conn, opts.HTTPClient, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return svc, nil
}

// Wire builds the services on an already migrated database.
func Wire(ctx context.Context, cfg *config.Config, conn *sql.DB, httpClient *http.Client, logger *slog.Logger) (*Services, error) {
	unit, err := domain.ParseUnit(cfg.Backend.DateUnit)
	if err != nil {
		return nil, err
	}
	r := repo.Repo{DB: conn}
	ep := endpoint.New(endpoint.Config{
		Configured:   cfg.Backend.BaseURL,
		DefaultPort:  cfg.Backend.DefaultPort,
		Fallbacks:    cfg.Backend.Fallbacks,
		HealthPath:   cfg.Backend.HealthPath,
		TTL:          cfg.Backend.HealthTTL,
		ProbeTimeout: cfg.Backend.ProbeTimeout,
		ProbeRetries: cfg.Backend.ProbeRetries,
		HTTPClient:   httpClient,
	}, r, logger)
	if err := ep.Load(ctx); err != nil {
		return nil, fmt.Errorf("load backend base: %w", err)
	}
	client := registry.New(ep, registry.Config{
		Timeout:       cfg.Backend.RequestTimeout,
		RateLimit:     cfg.Backend.RateLimit,
		RateBurst:     cfg.Backend.RateBurst,
		MaxCandidates: cfg.Dialogue.MaxCandidates,
		HTTPClient:    httpClient,
	}, logger)

	var summarizer search.Summarizer
	if cfg.Assistant.Enabled() {
		summarizer = assistant.New(assistant.Config{
			Endpoint:    cfg.Assistant.Endpoint,
			Model:       cfg.Assistant.Model,
			APIKey:      cfg.Assistant.APIKey(),
			Temperature: cfg.Assistant.Temperature,
			MaxTokens:   cfg.Assistant.MaxTokens,
			Timeout:     cfg.Assistant.Timeout,
			MaxRows:     cfg.Search.FallbackRows,
			Unit:        unit,
			HTTPClient:  httpClient,
		})
	}
	searcher := search.New(client, summarizer, search.Config{
		Limit:           cfg.Search.Limit,
		SummaryMaxCtx:   cfg.Search.SummaryMaxCtx,
		FallbackEnabled: cfg.Search.SummaryFallbackEnabled,
		FallbackRows:    cfg.Search.FallbackRows,
	}, logger)

	classifier, err := dialogue.NewKeywordClassifier(cfg.Dialogue.CasualPatterns)
	if err != nil {
		return nil, err
	}
	orch := dialogue.New(client, searcher, classifier, dialogue.Config{
		CompanyRequired: cfg.Dialogue.CompanyRequired,
		CategoryEnabled: cfg.Dialogue.CategoryEnabled,
		MaxCandidates:   cfg.Dialogue.MaxCandidates,
		SkipTokens:      cfg.Dialogue.SkipTokens,
		ResetTokens:     cfg.Dialogue.ResetTokens,
	})
	orch.Events = events.Writer{DB: conn}
	orch.Logger = logger.With("component", "dialogue")

	return &Services{
		Config:   cfg,
		DB:       conn,
		Repo:     r,
		Endpoint: ep,
		Registry: client,
		Search:   searcher,
		Dialogue: orch,
		Unit:     unit,
		Logger:   logger,
	}, nil
}

// NewConversation starts a conversation using the configured view settings.
func (s *Services) NewConversation(id, owner string) *Conversation {
	return NewConversation(id, owner, s.Dialogue, s.Config.View.PageSize, s.Config.View.Debounce, s.Unit)
}

func (s *Services) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}
