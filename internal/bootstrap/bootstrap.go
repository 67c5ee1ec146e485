// Package bootstrap wires the query source, model provider and transcript
// store shared by the console and the API server.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/duckmesh/sqlchat/internal/chat"
	"github.com/duckmesh/sqlchat/internal/config"
	"github.com/duckmesh/sqlchat/internal/llm"
	"github.com/duckmesh/sqlchat/internal/nl2sql"
	"github.com/duckmesh/sqlchat/internal/observability"
	"github.com/duckmesh/sqlchat/internal/query"
	duckdbengine "github.com/duckmesh/sqlchat/internal/query/duckdb"
	"github.com/duckmesh/sqlchat/internal/query/sqldb"
	s3store "github.com/duckmesh/sqlchat/internal/storage/s3"
	"github.com/duckmesh/sqlchat/internal/transcript"
	transcriptpostgres "github.com/duckmesh/sqlchat/internal/transcript/postgres"
)

// App holds the long-lived collaborators every chat session shares.
type App struct {
	Config      config.Config
	Logger      *slog.Logger
	Source      query.Source
	Schema      query.Schema
	Provider    llm.Provider
	Synthesizer nl2sql.Synthesizer
	// Transcript is nil unless transcripts are enabled.
	Transcript transcript.Store

	closers []func() error
}

type Option func(*options)

type options struct {
	provider llm.Provider
	source   query.Source
}

// WithProvider replaces the OpenAI-compatible provider.
func WithProvider(provider llm.Provider) Option {
	return func(o *options) { o.provider = provider }
}

// WithSource replaces the configured database or lake.
func WithSource(source query.Source) Option {
	return func(o *options) { o.source = source }
}

// Build opens every dependency named by cfg and loads the schema once.
// On error everything opened so far is closed again.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (app *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app = &App{Config: cfg, Logger: observability.LoggerOrDiscard(logger)}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	app.Source = o.source
	if app.Source == nil {
		if app.Source, err = openSource(ctx, cfg, app); err != nil {
			return app, err
		}
	}

	app.Schema, err = query.LoadSchema(ctx, app.Source, app.Source.Dialect(), cfg.Database.SampleRows)
	if err != nil {
		return app, fmt.Errorf("load schema: %w", err)
	}
	if len(app.Schema.Tables) == 0 {
		app.Logger.WarnContext(ctx, "database has no tables; questions cannot be answered")
	}
	app.Logger.InfoContext(ctx, "schema loaded",
		slog.String("dialect", app.Schema.Dialect),
		slog.Any("tables", app.Schema.Names()),
	)

	app.Provider = o.provider
	if app.Provider == nil {
		app.Provider, err = llm.NewOpenAI(llm.OpenAIConfig{
			BaseURL:     cfg.AI.BaseURL,
			APIKey:      cfg.AI.APIKey,
			Model:       cfg.AI.Model,
			Temperature: cfg.AI.Temperature,
			MaxTokens:   cfg.AI.MaxTokens,
			Timeout:     cfg.AI.Timeout,
		})
		if err != nil {
			return app, fmt.Errorf("create llm provider: %w", err)
		}
	}

	app.Synthesizer, err = nl2sql.NewLLMSynthesizer(app.Provider, nl2sql.Config{
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
	}, app.Logger)
	if err != nil {
		return app, err
	}

	if cfg.Transcript.Enabled {
		db, err := transcriptpostgres.Open(ctx, transcriptpostgres.DBConfig{
			DSN:             cfg.Transcript.DSN,
			MaxOpenConns:    cfg.Transcript.MaxOpenConns,
			MaxIdleConns:    cfg.Transcript.MaxIdleConns,
			ConnMaxIdleTime: cfg.Transcript.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Transcript.ConnMaxLifetime,
		})
		if err != nil {
			return app, err
		}
		app.closers = append(app.closers, db.Close)
		app.Transcript = transcriptpostgres.NewRepository(db)
	}

	return app, nil
}

func openSource(ctx context.Context, cfg config.Config, app *App) (query.Source, error) {
	opts := sqldb.Options{MaxRows: cfg.Database.MaxResultRows, QueryTimeout: cfg.Database.QueryTimeout}

	if cfg.Lake.Enabled {
		store, err := s3store.New(ctx, s3store.Config{
			Endpoint:        cfg.Lake.Endpoint,
			Region:          cfg.Lake.Region,
			Bucket:          cfg.Lake.Bucket,
			AccessKeyID:     cfg.Lake.AccessKeyID,
			SecretAccessKey: cfg.Lake.SecretAccessKey,
			UseSSL:          cfg.Lake.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("open lake object store: %w", err)
		}
		lake, err := duckdbengine.OpenLake(ctx, store, duckdbengine.LakeConfig{Prefix: cfg.Lake.Prefix}, opts)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, lake.Close)
		return lake, nil
	}

	db, err := sqldb.Open(ctx, sqldb.DBConfig{
		URI:             cfg.Database.URI,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, opts)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, db.Close)
	return db, nil
}

// NewSession is a chat.Factory over the shared collaborators.
func (a *App) NewSession(subject string) (*chat.Session, error) {
	var recorder transcript.Recorder
	if a.Transcript != nil {
		recorder = a.Transcript
	}
	return chat.New(chat.Config{
		Subject:        subject,
		MemoryCapacity: a.Config.Chat.MemoryCapacity,
		MaxAttempts:    a.Config.Chat.MaxAttempts,
		MaxTokens:      a.Config.AI.MaxTokens,
	}, chat.Deps{
		Synthesizer: a.Synthesizer,
		Executor:    a.Source,
		Provider:    a.Provider,
		Schema:      a.Schema,
		Transcript:  recorder,
		Logger:      a.Logger,
	})
}

// HealthCheck reports the query source and, when enabled, the transcript
// store.
func (a *App) HealthCheck(ctx context.Context) error {
	if err := a.Source.HealthCheck(ctx); err != nil {
		return fmt.Errorf("query source: %w", err)
	}
	if a.Transcript != nil {
		if err := a.Transcript.HealthCheck(ctx); err != nil {
			return fmt.Errorf("transcript store: %w", err)
		}
	}
	return nil
}

// Close releases everything Build opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
