// Package clientflow boots the workflow automation engine: database, repositories, action
// handlers, the engine itself and the operator HTTP API.
package clientflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dmayes77/clientflow/internal/actions"
	"github.com/dmayes77/clientflow/internal/config"
	"github.com/dmayes77/clientflow/internal/controllers"
	"github.com/dmayes77/clientflow/internal/engine"
	"github.com/dmayes77/clientflow/internal/repository"
	"github.com/dmayes77/clientflow/pkg/clientflow/core"
	"github.com/lmittmann/tint"
)

// App holds the wired components. Producers embedded in the same process raise events
// through App.Engine.
type App struct {
	DB        *sql.DB
	Clock     core.Clock
	Workflows *repository.WorkflowRepository
	Runs      *repository.WorkflowRunRepository
	Executors *repository.ExecutorRepository
	ApiKeys   *repository.ApiKeyRepository
	Tags      *repository.TagAssociationRepository
	Registry  *actions.Registry
	Engine    *engine.Engine
}

// NewApp wires repositories, handlers and the engine over an already migrated db.
func NewApp(db *sql.DB, clock core.Clock, mailer actions.Mailer) (*App, error) {
	app := &App{
		DB:        db,
		Clock:     clock,
		Workflows: repository.NewWorkflowRepository(db, clock),
		Runs:      repository.NewWorkflowRunRepository(db, clock),
		Executors: repository.NewExecutorRepository(db),
		ApiKeys:   repository.NewApiKeyRepository(db),
		Tags:      repository.NewTagAssociationRepository(db, clock),
	}
	registry, err := actions.NewRegistry(
		actions.NewSendEmailHandler(mailer, config.GetSystemSettingString(config.SMTP_FROM)),
		actions.NewAddTagHandler(app.Tags),
		actions.NewRemoveTagHandler(app.Tags),
		actions.NewWebhookHandler(config.GetSystemSettingDuration(config.ACTION_WEBHOOK_TIMEOUT, 10*time.Second), clock),
	)
	if err != nil {
		return nil, fmt.Errorf("build action registry: %w", err)
	}
	app.Registry = registry
	app.Engine = engine.New(app.Workflows, app.Runs, app.Executors, registry, clock, engine.OptionsFromConfig())
	return app, nil
}

// RegisterRoutes adds the operator API and /metrics to mux.
func (a *App) RegisterRoutes(mux *http.ServeMux) {
	auth := controllers.NewAuthController(a.ApiKeys, a.Clock)
	controllers.NewWorkflowsController(a.Workflows, a.Runs, a.Registry, auth).RegisterRoutes(mux)
	controllers.NewEventsController(a.Engine, auth).RegisterRoutes(mux)
	controllers.NewExecutorsController(a.Executors, auth).RegisterRoutes(mux)
	controllers.RegisterMetrics(mux)
}

// Start opens and migrates the configured database, then runs the engine and the HTTP
// server until ctx is cancelled or the server fails. mux may be nil.
func Start(ctx context.Context, mux *http.ServeMux) error {
	shutdownTracing, err := SetupTracing(ctx)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer stop()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Error("Tracer provider shutdown failed", "error", err)
		}
	}()

	db, err := OpenDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	app, err := NewApp(db, core.NewRealClock(), NewMailer())
	if err != nil {
		return err
	}

	if mux == nil {
		mux = http.NewServeMux()
	}
	app.RegisterRoutes(mux)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	engineDone := make(chan error, 1)
	go func() { engineDone <- app.Engine.Start(ctx) }()

	addr := ":" + config.GetSystemSettingString(config.ENGINE_SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err = <-serveErr:
		slog.Error("HTTP server failed", "error", err)
		cancel()
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer stop()
		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			slog.Error("HTTP server shutdown failed", "error", shutdownErr)
		}
	}
	if engineErr := <-engineDone; engineErr != nil {
		return engineErr
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// OpenDatabase connects to the configured database and applies the embedded migrations.
func OpenDatabase() (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	switch databaseType := config.GetSystemSettingString(config.DATABASE_TYPE); databaseType {
	case config.DATABASE_TYPE_POSTGRES:
		db, err = setupPostgresDatabase()
	case config.DATABASE_TYPE_MYSQL:
		db, err = setupMysqlDatabase()
	case config.DATABASE_TYPE_SQLLITE:
		db, err = setupSqlLiteDatabase()
	default:
		return nil, fmt.Errorf("%s must be one of POSTGRES, MYSQL, SQLLITE, got %q", config.DATABASE_TYPE, databaseType)
	}
	if err != nil {
		return nil, err
	}
	repository.ConfigurePool(db)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	slog.Info("Running migrations")
	if err := repository.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func setupPostgresDatabase() (*sql.DB, error) {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		return nil, fmt.Errorf("%s must be set when using the POSTGRES database type", config.DATABASE_URL)
	}
	slog.Info("Opening Postgres database")
	return sql.Open("postgres", dbURL)
}

func setupSqlLiteDatabase() (*sql.DB, error) {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	if fileName == "" {
		return nil, fmt.Errorf("%s must be set", config.DATABASE_SQLLITE_FILE_NAME)
	}
	slog.Info("Opening SQLite database", "file", fileName)
	return sql.Open("sqlite3", fileName)
}

func setupMysqlDatabase() (*sql.DB, error) {
	dsn, err := mysqlDSN(config.GetSystemSettingString(config.DATABASE_URL))
	if err != nil {
		return nil, err
	}
	slog.Info("Opening MySQL database")
	return sql.Open("mysql", dsn)
}

// mysqlDSN accepts the DSN with or without a mysql:// prefix. parseTime is required for the
// timestamp columns; multiStatements is added for the migrations.
func mysqlDSN(dbURL string) (string, error) {
	if dbURL == "" {
		return "", fmt.Errorf("%s must be set when using the MYSQL database type", config.DATABASE_URL)
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		return "", fmt.Errorf("%s must contain 'parseTime=true' for MySQL", config.DATABASE_URL)
	}
	dsn := strings.TrimPrefix(dbURL, "mysql://")
	if !strings.Contains(dsn, "multiStatements=true") {
		dsn += "&multiStatements=true"
	}
	return dsn, nil
}

// NewMailer returns an SMTP mailer when a host is configured and a log mailer otherwise.
func NewMailer() actions.Mailer {
	host := config.GetSystemSettingString(config.SMTP_HOST)
	if host == "" {
		slog.Warn("No SMTP host configured, emails will only be logged")
		return actions.LogMailer{}
	}
	return &actions.SMTPMailer{
		Host:     host,
		Port:     config.GetSystemSettingString(config.SMTP_PORT),
		Username: config.GetSystemSettingString(config.SMTP_USERNAME),
		Password: config.GetSystemSettingString(config.SMTP_PASSWORD),
	}
}

func SetupLogger() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(config.GetSystemSettingString(config.LOG_LEVEL))); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
