package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/doninones/actionpacks/pkg/pack"
)

// ruleQuerier abstracts DB queries for testability.
type ruleQuerier interface {
	LookupExact(ctx context.Context, packID, toolName string) (*ruleRow, error)
	LookupByName(ctx context.Context, packName, toolName string) (*ruleRow, error)
}

type ruleRow struct {
	Pack            string
	Tool            string
	Description     sql.NullString
	ConfirmRequired bool
	ConfirmMessage  sql.NullString
	Allowlist       string // JSONB as string
	MaxCalls        int
	WindowSec       int
}

const ruleColumns = `pack, tool, description, confirm_required, confirm_message, allowlist, max_calls, window_sec`

// sqlRuleQuerier is the real implementation using *sql.DB.
type sqlRuleQuerier struct {
	db *sql.DB
}

func (q *sqlRuleQuerier) LookupExact(ctx context.Context, packID, toolName string) (*ruleRow, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM policy_rules
		WHERE pack = $1 AND tool = $2
	`, packID, toolName)
	return scanRuleRow(row)
}

func (q *sqlRuleQuerier) LookupByName(ctx context.Context, packName, toolName string) (*ruleRow, error) {
	// pack_name is a generated column holding the identity before "@".
	row := q.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM policy_rules
		WHERE pack_name = $1 AND tool = $2
		ORDER BY pack
		LIMIT 1
	`, packName, toolName)
	return scanRuleRow(row)
}

func scanRuleRow(row *sql.Row) (*ruleRow, error) {
	var r ruleRow
	if err := row.Scan(
		&r.Pack, &r.Tool, &r.Description, &r.ConfirmRequired,
		&r.ConfirmMessage, &r.Allowlist, &r.MaxCalls, &r.WindowSec,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

// PostgresStore resolves rules from the policy_rules table, fronted by a
// TTL cache so steady-state decisions stay off the database.
type PostgresStore struct {
	querier ruleQuerier
	cache   *ruleCache
	logger  *zap.Logger
}

// PostgresStoreConfig configures the PostgresStore.
type PostgresStoreConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(cfg PostgresStoreConfig) *PostgresStore {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	return &PostgresStore{
		querier: &sqlRuleQuerier{db: cfg.DB},
		cache:   newRuleCache(ttl),
		logger:  cfg.Logger,
	}
}

// newPostgresStoreWithQuerier creates a store with a custom querier (for testing).
func newPostgresStoreWithQuerier(q ruleQuerier, cacheTTL time.Duration, logger *zap.Logger) *PostgresStore {
	if cacheTTL == 0 {
		cacheTTL = 60 * time.Second
	}
	return &PostgresStore{
		querier: q,
		cache:   newRuleCache(cacheTTL),
		logger:  logger,
	}
}

// Resolve implements Store. Lookup order mirrors in-memory matching: exact
// (pack, tool) first, then pack name alone. Both misses are cached
// negatively so absent rules do not hammer the database.
func (s *PostgresStore) Resolve(ctx context.Context, packID, toolName string) (*Rule, error) {
	cached := s.cache.get(packID, toolName)
	if cached.hit {
		if cached.needsRefresh {
			go s.refreshInBackground(packID, toolName)
		}
		return cached.rule, nil
	}

	rule, err := s.fetch(ctx, packID, toolName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.cache.set(packID, toolName, nil)
			return nil, nil
		}
		return nil, fmt.Errorf("Resolve: %w", err)
	}

	s.cache.set(packID, toolName, rule)
	return rule, nil
}

func (s *PostgresStore) fetch(ctx context.Context, packID, toolName string) (*Rule, error) {
	row, err := s.querier.LookupExact(ctx, packID, toolName)
	if errors.Is(err, sql.ErrNoRows) {
		name, _ := pack.ParseID(packID)
		row, err = s.querier.LookupByName(ctx, name, toolName)
	}
	if err != nil {
		return nil, err
	}
	return parseRuleRow(row)
}

func (s *PostgresStore) refreshInBackground(packID, toolName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rule, err := s.fetch(ctx, packID, toolName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.cache.set(packID, toolName, nil)
			return
		}
		s.logger.Warn("background rule refresh failed",
			zap.String("pack", packID),
			zap.String("tool", toolName),
			zap.Error(err),
		)
		return
	}
	s.cache.set(packID, toolName, rule)
}

func parseRuleRow(row *ruleRow) (*Rule, error) {
	r := &Rule{
		Pack: row.Pack,
		Tool: row.Tool,
		Confirm: Confirm{
			Required: row.ConfirmRequired,
		},
		Allowlist: []string{},
		RateLimit: RateLimit{
			MaxCalls:  row.MaxCalls,
			WindowSec: row.WindowSec,
		},
	}

	if row.Description.Valid {
		r.Description = row.Description.String
	}
	if row.ConfirmMessage.Valid {
		r.Confirm.Message = row.ConfirmMessage.String
	}

	// Parse allowlist (JSONB array)
	if row.Allowlist != "" && row.Allowlist != "[]" {
		if err := json.Unmarshal([]byte(row.Allowlist), &r.Allowlist); err != nil {
			return nil, fmt.Errorf("parseRuleRow: allowlist: %w", err)
		}
	}

	return r, nil
}
