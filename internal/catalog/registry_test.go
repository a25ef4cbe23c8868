package catalog

import (
	"testing"
	"time"

	"aquadb/internal/storage"
	"aquadb/pkg/types"
)

func newTestRegistry(t *testing.T, dataDir string) *Registry {
	t.Helper()
	pool := storage.NewBufferPool(map[types.TableID]*storage.BlockManager{}, 64, time.Second)
	r, err := OpenRegistry(pool, dataDir, 4096, 8)
	if err != nil {
		t.Fatalf("OpenRegistry() error = %v", err)
	}
	return r
}

func TestRegistryCreateDatabaseIsolatesTableIDs(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)

	a, err := r.CreateDatabase("a")
	if err != nil {
		t.Fatalf("CreateDatabase(a) error = %v", err)
	}
	b, err := r.CreateDatabase("b")
	if err != nil {
		t.Fatalf("CreateDatabase(b) error = %v", err)
	}

	ta, err := a.CreateTable(usersSchema())
	if err != nil {
		t.Fatalf("a.CreateTable() error = %v", err)
	}
	tb, err := b.CreateTable(usersSchema())
	if err != nil {
		t.Fatalf("b.CreateTable() error = %v", err)
	}
	if ta.ID == tb.ID {
		t.Fatalf("table ids collided across databases: a=%d b=%d", ta.ID, tb.ID)
	}

	if _, err := ta.Heap.Insert([]types.Value{types.IntValue(1), types.StrValue("Alice"), types.BoolValue(true)}); err != nil {
		t.Fatalf("insert into a.users error = %v", err)
	}
	rows, err := tb.Heap.Scan()
	if err != nil {
		t.Fatalf("b.users.Scan() error = %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("b.users rows = %v, want none (databases must not share table data)", rows)
	}
}

func TestRegistryDuplicateDatabaseRejected(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)

	if _, err := r.CreateDatabase("shop"); err != nil {
		t.Fatalf("first CreateDatabase() error = %v", err)
	}
	if _, err := r.CreateDatabase("shop"); err == nil {
		t.Errorf("second CreateDatabase(shop) error = nil, want an error")
	}
}

func TestRegistryReopenRestoresDatabasesAndTables(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry(t, dir)
	a, err := r.CreateDatabase("shop")
	if err != nil {
		t.Fatalf("CreateDatabase() error = %v", err)
	}
	want := usersSchema()
	if _, err := a.CreateTable(want); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	if err := r.pool.FlushAll(); err != nil {
		t.Fatalf("FlushAll() error = %v", err)
	}

	r2 := newTestRegistry(t, dir)
	dbs := r2.ListDatabases()
	if len(dbs) != 1 || dbs[0] != "shop" {
		t.Fatalf("ListDatabases() after reopen = %v, want [shop]", dbs)
	}
	cat, ok := r2.Database("shop")
	if !ok {
		t.Fatalf("Database(shop) ok = false after reopen")
	}
	if _, ok := cat.GetTable("users"); !ok {
		t.Fatalf("GetTable(users) ok = false after reopen")
	}
}
