// Package commands wires the actionpacks CLI: stack management, rule
// authoring, and the check command that drives the decision engine.
package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/doninones/actionpacks/internal/stack"
	"github.com/doninones/actionpacks/pkg/audit"
	"github.com/doninones/actionpacks/pkg/pack"
	"github.com/doninones/actionpacks/pkg/policy"
)

// Workspace file names, all kept in the --dir directory.
const (
	rulesFileName   = "rules.json"
	callLogFileName = "calls.db"
)

// app carries the per-invocation state every command needs.
type app struct {
	dir      string
	logLevel string
	logger   *zap.Logger
}

// Execute runs the CLI and returns the process exit code. Verdict-bearing
// commands signal their outcome through the code: 0 ok, 1 blocked,
// 2 needs confirmation, 3 rate limited. Other failures exit 1.
func Execute(ctx context.Context) int {
	root := Root()
	if err := root.ExecuteContext(ctx); err != nil {
		var ve *verdictError
		if errors.As(err, &ve) {
			return ve.code
		}
		fmt.Fprintln(os.Stderr, "actionpacks:", err)
		return 1
	}
	return 0
}

// Root builds the command tree.
func Root() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "actionpacks",
		Short:         "Govern tool invocations with per-pack policy rules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(a.logLevel)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			a.logger = logger

			abs, err := filepath.Abs(a.dir)
			if err != nil {
				return err
			}
			a.dir = abs
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.dir, "dir", envOrDefault("ACTIONPACKS_DIR", "."),
		"workspace directory holding stack.yaml, rules.json and the call log")
	flags.StringVar(&a.logLevel, "log-level", envOrDefault("ACTIONPACKS_LOG_LEVEL", "info"),
		"log level: debug, info, warn, error")

	cmd.AddCommand(packCommand(a))
	cmd.AddCommand(rulesCommand(a))
	cmd.AddCommand(checkCommand(a))
	cmd.AddCommand(stackCommand(a))
	cmd.AddCommand(exportCommand(a))
	cmd.AddCommand(versionCommand())
	return cmd
}

func (a *app) rulesPath() string   { return filepath.Join(a.dir, rulesFileName) }
func (a *app) callLogPath() string { return filepath.Join(a.dir, callLogFileName) }

func (a *app) loadStack() (*stack.Stack, error) {
	return stack.Load(a.dir)
}

// resolvedStack loads the stack with every entry path made absolute against
// the workspace, for callers that read pack files off the entries.
func (a *app) resolvedStack() (*stack.Stack, error) {
	st, err := a.loadStack()
	if err != nil {
		return nil, err
	}
	for i := range st.Packs {
		st.Packs[i].Path = a.entryPath(&st.Packs[i])
	}
	return st, nil
}

func (a *app) openRules() (*policy.FileStore, error) {
	return policy.OpenFileStore(a.rulesPath())
}

// resolvePack finds a pack by stack identity first, then by treating the
// argument as a path, so packs can be inspected before they are stacked.
func (a *app) resolvePack(id string) (*pack.Pack, error) {
	st, err := a.loadStack()
	if err != nil {
		return nil, err
	}
	if entry := st.Find(nameOf(id)); entry != nil {
		p, err := pack.Load(a.entryPath(entry))
		if err != nil {
			return nil, err
		}
		if _, version := pack.ParseID(id); version != "" && p.Version != version {
			return nil, fmt.Errorf("pack %s is stacked at version %s, not %s", p.Name, p.Version, version)
		}
		return p, nil
	}
	if _, statErr := os.Stat(id); statErr == nil {
		return pack.Load(id)
	}
	return nil, fmt.Errorf("pack %s is not in the stack (add it with `actionpacks stack add`)", id)
}

// entryPath resolves a stack entry's pack path against the workspace for
// relative entries.
func (a *app) entryPath(e *stack.Entry) string {
	if filepath.IsAbs(e.Path) {
		return e.Path
	}
	return filepath.Join(a.dir, e.Path)
}

// ruleStore picks the rule source for decisions: Postgres when a DSN is
// configured, the workspace rules.json otherwise. The returned closer is
// always safe to call.
func (a *app) ruleStore() (policy.Store, func(), error) {
	dsn := os.Getenv("ACTIONPACKS_POSTGRES_DSN")
	if dsn == "" {
		fs, err := a.openRules()
		if err != nil {
			return nil, func() {}, err
		}
		return fs, func() {}, nil
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, func() {}, fmt.Errorf("ping postgres: %w", err)
	}

	ttl := envOrDefaultInt("ACTIONPACKS_RULE_CACHE_TTL_S", 60)
	store := policy.NewPostgresStore(policy.PostgresStoreConfig{
		DB:       db,
		CacheTTL: time.Duration(ttl) * time.Second,
		Logger:   a.logger,
	})
	return store, func() { _ = db.Close() }, nil
}

// auditWriter connects to ClickHouse when a DSN is configured and falls
// back to logging events otherwise.
func (a *app) auditWriter() audit.Writer {
	dsn := os.Getenv("ACTIONPACKS_CLICKHOUSE_DSN")
	if dsn == "" {
		return audit.NewLogWriter(a.logger)
	}
	w, err := audit.NewClickHouseWriter(dsn, a.logger)
	if err != nil {
		a.logger.Warn("clickhouse connection failed, falling back to log writer",
			zap.Error(err),
		)
		return audit.NewLogWriter(a.logger)
	}
	return w
}

func nameOf(id string) string {
	name, _ := pack.ParseID(id)
	return name
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	if os.Getenv("ACTIONPACKS_LOG_JSON") == "1" {
		cfg.Encoding = "json"
		cfg.EncoderConfig = zap.NewProductionEncoderConfig()
	}
	return cfg.Build()
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
