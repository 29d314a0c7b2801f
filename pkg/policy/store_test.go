package policy

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "rules.json"))
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	if len(s.Rules()) != 0 {
		t.Fatalf("expected empty store, got %v", s.Rules())
	}

	r, err := s.Resolve(context.Background(), "any@1.0.0", "tool")
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Fatalf("expected nil rule from empty store, got %+v", r)
	}
}

func TestFileStore_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatal(err)
	}

	s.Upsert(Rule{
		Pack:      "team-mailer@2.1.0",
		Tool:      "send_email",
		Confirm:   Confirm{Required: true, Message: "Proceed with send_email?"},
		Allowlist: []string{"body", "subject", "to"},
		RateLimit: RateLimit{MaxCalls: 20, WindowSec: 60},
	})
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	rules := reloaded.Rules()
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule after reload, got %d", len(rules))
	}
	got := rules[0]
	if got.Pack != "team-mailer@2.1.0" || !got.Confirm.Required || got.RateLimit.MaxCalls != 20 {
		t.Fatalf("rule did not survive round trip: %+v", got)
	}
}

func TestFileStore_UpsertReplacesInPlace(t *testing.T) {
	s := &FileStore{}
	s.Upsert(Rule{Pack: "a@1.0.0", Tool: "x", Description: "one"})
	s.Upsert(Rule{Pack: "b@1.0.0", Tool: "y", Description: "two"})
	s.Upsert(Rule{Pack: "a@1.0.0", Tool: "x", Description: "replaced"})

	rules := s.Rules()
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].Description != "replaced" {
		t.Fatalf("expected in-place replacement, got %+v", rules)
	}
}

func TestFileStore_Remove(t *testing.T) {
	s := &FileStore{}
	s.Upsert(Rule{Pack: "a@1.0.0", Tool: "x"})

	if !s.Remove("a@1.0.0", "x") {
		t.Fatal("expected Remove to report the rule existed")
	}
	if s.Remove("a@1.0.0", "x") {
		t.Fatal("expected second Remove to report absence")
	}
	if len(s.Rules()) != 0 {
		t.Fatalf("expected empty store, got %v", s.Rules())
	}
}

func TestFileStore_RejectsMalformedDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFileStore(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFileStore_ResolveUsesNameFallback(t *testing.T) {
	s := &FileStore{}
	s.Upsert(Rule{Pack: "team-mailer@1.0.0", Tool: "send_email", Description: "v1"})

	r, err := s.Resolve(context.Background(), "team-mailer@2.0.0", "send_email")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.Description != "v1" {
		t.Fatalf("expected v1 rule via fallback, got %+v", r)
	}
}

// countingQuerier tracks lookups and serves canned rows.
type countingQuerier struct {
	exactRow  *ruleRow
	byNameRow *ruleRow
	err       error

	exactCalls  int
	byNameCalls int
}

func (q *countingQuerier) LookupExact(_ context.Context, _, _ string) (*ruleRow, error) {
	q.exactCalls++
	if q.err != nil {
		return nil, q.err
	}
	if q.exactRow == nil {
		return nil, sql.ErrNoRows
	}
	return q.exactRow, nil
}

func (q *countingQuerier) LookupByName(_ context.Context, _, _ string) (*ruleRow, error) {
	q.byNameCalls++
	if q.err != nil {
		return nil, q.err
	}
	if q.byNameRow == nil {
		return nil, sql.ErrNoRows
	}
	return q.byNameRow, nil
}

func sampleRow() *ruleRow {
	return &ruleRow{
		Pack:            "team-mailer@2.1.0",
		Tool:            "send_email",
		Description:     sql.NullString{String: "outbound mail", Valid: true},
		ConfirmRequired: true,
		ConfirmMessage:  sql.NullString{String: "Proceed with send_email?", Valid: true},
		Allowlist:       `["body","subject","to"]`,
		MaxCalls:        20,
		WindowSec:       60,
	}
}

func TestPostgresStore_CacheHit(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	q := &countingQuerier{exactRow: sampleRow()}
	store := newPostgresStoreWithQuerier(q, 30*time.Second, logger)

	// First call — cache miss
	r, err := store.Resolve(context.Background(), "team-mailer@2.1.0", "send_email")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || r.Tool != "send_email" {
		t.Fatalf("unexpected rule %+v", r)
	}
	if q.exactCalls != 1 {
		t.Fatalf("expected 1 DB call, got %d", q.exactCalls)
	}

	// Second call — cache hit
	r, err = store.Resolve(context.Background(), "team-mailer@2.1.0", "send_email")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil || len(r.Allowlist) != 3 {
		t.Fatalf("unexpected cached rule %+v", r)
	}
	if q.exactCalls != 1 {
		t.Fatalf("expected still 1 DB call (cache hit), got %d", q.exactCalls)
	}
}

func TestPostgresStore_NameFallbackLookup(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	q := &countingQuerier{byNameRow: sampleRow()}
	store := newPostgresStoreWithQuerier(q, 30*time.Second, logger)

	r, err := store.Resolve(context.Background(), "team-mailer@9.0.0", "send_email")
	if err != nil {
		t.Fatal(err)
	}
	if r == nil {
		t.Fatal("expected rule via pack-name lookup")
	}
	if q.exactCalls != 1 || q.byNameCalls != 1 {
		t.Fatalf("expected exact then by-name lookups, got %d/%d", q.exactCalls, q.byNameCalls)
	}
}

func TestPostgresStore_NegativeCache(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	q := &countingQuerier{}
	store := newPostgresStoreWithQuerier(q, 30*time.Second, logger)

	r, err := store.Resolve(context.Background(), "ghost@1.0.0", "tool")
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Fatalf("expected nil for unruled pair, got %+v", r)
	}
	if q.exactCalls != 1 {
		t.Fatalf("expected 1 DB call, got %d", q.exactCalls)
	}

	// Second call — negative cache hit (no DB call)
	r, err = store.Resolve(context.Background(), "ghost@1.0.0", "tool")
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Fatal("expected nil from negative cache")
	}
	if q.exactCalls != 1 {
		t.Fatalf("expected still 1 DB call (negative cache), got %d", q.exactCalls)
	}
}

func TestPostgresStore_DBError(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	q := &countingQuerier{err: context.DeadlineExceeded}
	store := newPostgresStoreWithQuerier(q, 30*time.Second, logger)

	if _, err := store.Resolve(context.Background(), "a@1.0.0", "tool"); err == nil {
		t.Fatal("expected error on DB failure")
	}
}

func TestPostgresStore_ParsesAllowlistJSON(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	row := sampleRow()
	row.Allowlist = `[]`
	q := &countingQuerier{exactRow: row}
	store := newPostgresStoreWithQuerier(q, 30*time.Second, logger)

	r, err := store.Resolve(context.Background(), "team-mailer@2.1.0", "send_email")
	if err != nil {
		t.Fatal(err)
	}
	if r.Allowlist == nil || len(r.Allowlist) != 0 {
		t.Fatalf("expected empty non-nil allowlist, got %v", r.Allowlist)
	}
}

func TestRuleCache_StaleEntryTriggersSingleRefresh(t *testing.T) {
	c := newRuleCache(time.Millisecond)
	c.set("p@1.0.0", "t", &Rule{Pack: "p@1.0.0", Tool: "t"})
	time.Sleep(5 * time.Millisecond)

	first := c.get("p@1.0.0", "t")
	if !first.hit || !first.needsRefresh {
		t.Fatalf("expected stale hit needing refresh, got %+v", first)
	}
	second := c.get("p@1.0.0", "t")
	if !second.hit || second.needsRefresh {
		t.Fatalf("only one caller should win the refresh, got %+v", second)
	}

	c.delete("p@1.0.0", "t")
	if res := c.get("p@1.0.0", "t"); res.hit {
		t.Fatalf("expected miss after delete, got %+v", res)
	}
}
