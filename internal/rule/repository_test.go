package rule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const testSchema = `
CREATE TABLE rules (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    enabled     INTEGER NOT NULL DEFAULT 1,
    triggers    TEXT NOT NULL DEFAULT '[]',
    nodes       TEXT NOT NULL DEFAULT '[]',
    sinks       TEXT NOT NULL DEFAULT '[]',
    version     INTEGER NOT NULL DEFAULT 1,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);
`

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return NewSQLiteRepository(db)
}

func storedRule() *Rule {
	now := time.Now().UTC().Truncate(time.Second)
	return &Rule{
		ID:       "rule-1",
		Name:     "High temperature alarm",
		Enabled:  true,
		Triggers: []string{"boiler/*", "tank/temp"},
		Nodes: []NodeSpec{
			{Type: NodeFilter, Params: json.RawMessage(`{"operator":"gt","value":80}`)},
			{Type: NodeTransform, Params: json.RawMessage(`{"scale":0.1}`)},
		},
		Sinks: []SinkRef{
			{Type: SinkMQTT},
			{Type: SinkDeviceWrite, Target: "boiler/setpoint"},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRepositoryCreateAndGet(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	ru := storedRule()

	if err := repo.Create(ctx, ru); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(ctx, "rule-1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != ru.Name || !got.Enabled || got.Version != 1 {
		t.Errorf("loaded rule = %+v", got)
	}
	if len(got.Triggers) != 2 || got.Triggers[1] != "tank/temp" {
		t.Errorf("triggers = %v", got.Triggers)
	}
	if len(got.Nodes) != 2 || got.Nodes[0].Type != NodeFilter {
		t.Errorf("nodes = %+v", got.Nodes)
	}
	if len(got.Sinks) != 2 || got.Sinks[1].Target != "boiler/setpoint" {
		t.Errorf("sinks = %+v", got.Sinks)
	}
	if !got.CreatedAt.Equal(ru.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, ru.CreatedAt)
	}
}

func TestRepositoryCreateDuplicate(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, storedRule()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(ctx, storedRule()); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate create = %v, want ErrExists", err)
	}
}

func TestRepositoryGetMissing(t *testing.T) {
	repo := setupRepo(t)
	if _, err := repo.GetByID(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID = %v, want ErrNotFound", err)
	}
}

func TestRepositoryUpdate(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()
	ru := storedRule()

	if err := repo.Create(ctx, ru); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ru.Name = "Renamed"
	ru.Enabled = false
	ru.Version = 2
	ru.Nodes = ru.Nodes[:1]
	if err := repo.Update(ctx, ru); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.GetByID(ctx, ru.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "Renamed" || got.Enabled || got.Version != 2 || len(got.Nodes) != 1 {
		t.Errorf("updated rule = %+v", got)
	}
}

func TestRepositoryUpdateMissing(t *testing.T) {
	repo := setupRepo(t)
	if err := repo.Update(context.Background(), storedRule()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update = %v, want ErrNotFound", err)
	}
}

func TestRepositoryDelete(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	if err := repo.Create(ctx, storedRule()); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Delete(ctx, "rule-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, "rule-1"); !errors.Is(err, ErrNotFound) {
		t.Error("rule still present after delete")
	}
	if err := repo.Delete(ctx, "rule-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestRepositoryList(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	a := storedRule()
	a.ID, a.Name = "rule-a", "Alpha"
	b := storedRule()
	b.ID, b.Name = "rule-b", "Beta"
	for _, ru := range []*Rule{b, a} {
		if err := repo.Create(ctx, ru); err != nil {
			t.Fatalf("Create %s: %v", ru.ID, err)
		}
	}

	got, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].Name != "Alpha" || got[1].Name != "Beta" {
		t.Errorf("list order = %v, want Alpha then Beta", got)
	}
}
