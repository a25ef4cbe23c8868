// Package engine wires the storage, index, catalog, planner, and SQL front
// end into one embeddable database, scoped to a single writer with no
// cross-statement transactions.
package engine

import (
	"fmt"
	"os"
	"strings"
	"time"

	"aquadb/internal/catalog"
	"aquadb/internal/dblog"
	"aquadb/internal/exec"
	"aquadb/internal/index"
	"aquadb/internal/plan"
	"aquadb/internal/planner"
	"aquadb/internal/sqlfront"
	"aquadb/internal/storage"
	"aquadb/internal/wal"
	"aquadb/pkg/types"
)

// defaultDatabase is the database a freshly opened engine starts connected
// to, created automatically if the data directory is empty, so every
// existing single-database caller keeps working without ever naming one.
const defaultDatabase = "default"

// Config holds the tunables exposed for an engine instance.
type Config struct {
	DataDir              string
	BlockSize            int
	BufferPoolSlots      int
	PinTimeoutMS         int
	WorkingMemBytes      int64
	FreeSpaceGranularity int
}

// Engine is a single-node, single-process database: one buffer pool shared
// by every database, one database connected at a time (switched with USE or
// CREATE DATABASE), with no cross-statement transaction isolation (MVCC and
// multi-statement transactions are out of scope entirely).
type Engine struct {
	cfg       Config
	pool      *storage.BufferPool
	registry  *catalog.Registry
	currentDB string
	logMgr    wal.LogManager

	// indexed by database name, then table name, then field name.
	btrees map[string]map[string]map[string]*index.BTree
	hashes map[string]map[string]map[string]*index.HashIndex

	indexBlockMgrs map[types.TableID]*storage.BlockManager

	planner *planner.Planner
}

// New opens (or initializes) an engine rooted at cfg.DataDir, connecting it
// to defaultDatabase (created automatically on a fresh data directory).
func New(cfg Config) (*Engine, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("engine: creating data directory: %w", err)
	}

	pool := storage.NewBufferPool(make(map[types.TableID]*storage.BlockManager), cfg.BufferPoolSlots, time.Duration(cfg.PinTimeoutMS)*time.Millisecond)

	registry, err := catalog.OpenRegistry(pool, cfg.DataDir, cfg.BlockSize, cfg.FreeSpaceGranularity)
	if err != nil {
		return nil, fmt.Errorf("engine: opening database registry: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		pool:     pool,
		registry: registry,
		logMgr:   wal.NopLogManager{},
		btrees:   make(map[string]map[string]map[string]*index.BTree),
		hashes:   make(map[string]map[string]map[string]*index.HashIndex),

		indexBlockMgrs: make(map[types.TableID]*storage.BlockManager),
	}

	if _, ok := registry.Database(defaultDatabase); !ok {
		if _, err := registry.CreateDatabase(defaultDatabase); err != nil {
			return nil, fmt.Errorf("engine: creating default database: %w", err)
		}
	}
	if err := e.useDatabase(defaultDatabase); err != nil {
		return nil, err
	}

	dblog.WithComponent("engine").Info().Str("data_dir", cfg.DataDir).Msg("engine opened")
	return e, nil
}

func (e *Engine) currentCatalog() *catalog.Catalog {
	cat, _ := e.registry.Database(e.currentDB)
	return cat
}

// useDatabase switches the engine's active database, rebuilding its planner
// against that database's catalog. It does not create the database.
func (e *Engine) useDatabase(name string) error {
	cat, ok := e.registry.Database(name)
	if !ok {
		return fmt.Errorf("engine: unknown database %q", name)
	}
	e.currentDB = name
	e.planner = planner.New(cat, e, e.cfg.WorkingMemBytes)
	return nil
}

// CreateDatabase registers a new database and connects the engine to it.
func (e *Engine) CreateDatabase(name string) error {
	if _, err := e.registry.CreateDatabase(name); err != nil {
		return err
	}
	return e.useDatabase(name)
}

// UseDatabase switches the engine's active database to an already-existing
// one.
func (e *Engine) UseDatabase(name string) error {
	return e.useDatabase(name)
}

// CurrentDatabase returns the name of the database the engine is presently
// connected to.
func (e *Engine) CurrentDatabase() string { return e.currentDB }

// ListDatabases returns every known database name, sorted.
func (e *Engine) ListDatabases() []string { return e.registry.ListDatabases() }

// BTreeFor implements planner.Indexes.
func (e *Engine) BTreeFor(table, field string) (*index.BTree, bool) {
	db, ok := e.btrees[e.currentDB]
	if !ok {
		return nil, false
	}
	m, ok := db[table]
	if !ok {
		return nil, false
	}
	bt, ok := m[field]
	return bt, ok
}

// HashFor implements planner.Indexes.
func (e *Engine) HashFor(table, field string) (*index.HashIndex, bool) {
	db, ok := e.hashes[e.currentDB]
	if !ok {
		return nil, false
	}
	m, ok := db[table]
	if !ok {
		return nil, false
	}
	h, ok := m[field]
	return h, ok
}

// CreateBTreeIndex builds a B+Tree index over table.field from whatever
// rows already exist, and registers it for use by the planner going
// forward.
func (e *Engine) CreateBTreeIndex(tableName, field string) error {
	t, ok := e.currentCatalog().GetTable(tableName)
	if !ok {
		return fmt.Errorf("engine: unknown table %q", tableName)
	}
	fi, ok := t.Schema.FieldIndex(field)
	if !ok {
		return fmt.Errorf("engine: unknown field %q on %q", field, tableName)
	}

	indexTableID := types.TableID(1<<24) + t.ID // indexes live in their own block-file namespace, keyed off the owning table
	if err := e.registerIndexBlockManager(indexTableID); err != nil {
		return err
	}
	keySize := indexKeySize(t.Schema.Columns[fi])
	bt, err := index.NewBTree(e.pool, indexTableID, keySize, e.cfg.BlockSize)
	if err != nil {
		return err
	}

	entries, err := t.Heap.Scan()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		key := index.EncodeKey(entry.Values[fi], keySize)
		if err := bt.Insert(key, entry.Rid); err != nil {
			return err
		}
	}

	if e.btrees[e.currentDB] == nil {
		e.btrees[e.currentDB] = make(map[string]map[string]*index.BTree)
	}
	if e.btrees[e.currentDB][tableName] == nil {
		e.btrees[e.currentDB][tableName] = make(map[string]*index.BTree)
	}
	e.btrees[e.currentDB][tableName][field] = bt
	dblog.WithComponent("engine").Info().Str("table", tableName).Str("field", field).Msg("b+tree index built")
	return nil
}

// CreateHashIndex builds an extendible hash index over table.field.
func (e *Engine) CreateHashIndex(tableName, field string, initialDepth uint8) error {
	t, ok := e.currentCatalog().GetTable(tableName)
	if !ok {
		return fmt.Errorf("engine: unknown table %q", tableName)
	}
	fi, ok := t.Schema.FieldIndex(field)
	if !ok {
		return fmt.Errorf("engine: unknown field %q on %q", field, tableName)
	}

	indexTableID := types.TableID(1<<25) + t.ID
	if err := e.registerIndexBlockManager(indexTableID); err != nil {
		return err
	}
	keySize := indexKeySize(t.Schema.Columns[fi])
	h, err := index.NewHashIndex(e.pool, indexTableID, keySize, e.cfg.BlockSize, initialDepth)
	if err != nil {
		return err
	}

	entries, err := t.Heap.Scan()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		key := index.EncodeKey(entry.Values[fi], keySize)
		if err := h.Insert(key, entry.Rid); err != nil {
			return err
		}
	}

	if e.hashes[e.currentDB] == nil {
		e.hashes[e.currentDB] = make(map[string]map[string]*index.HashIndex)
	}
	if e.hashes[e.currentDB][tableName] == nil {
		e.hashes[e.currentDB][tableName] = make(map[string]*index.HashIndex)
	}
	e.hashes[e.currentDB][tableName][field] = h
	dblog.WithComponent("engine").Info().Str("table", tableName).Str("field", field).Msg("hash index built")
	return nil
}

// registerIndexBlockManager opens (or reuses) the backing file for an
// index's own block-file namespace and registers it with the buffer pool,
// the same two-step catalog.openBlockManager/pool.AddTable sequence every
// user table goes through before the pool will serve its blocks.
func (e *Engine) registerIndexBlockManager(indexTableID types.TableID) error {
	if _, ok := e.indexBlockMgrs[indexTableID]; ok {
		return nil
	}
	bm, err := storage.OpenBlockManager(e.cfg.DataDir, indexTableID, e.cfg.BlockSize)
	if err != nil {
		return fmt.Errorf("engine: opening index block file: %w", err)
	}
	e.pool.AddTable(indexTableID, bm)
	e.indexBlockMgrs[indexTableID] = bm
	return nil
}

func indexKeySize(c types.Column) int {
	if c.Type == types.TypeVarchar {
		if c.CharLimit > 0 {
			return int(c.CharLimit)
		}
		return 64
	}
	return 8
}

// Result is the outcome of one SQL statement: either a row stream (for
// SELECT) or an affected-row count (for INSERT/UPDATE/DELETE/CREATE TABLE).
// Status carries a terse outcome tag (e.g. "DatabaseCreated") for
// statements that aren't naturally row-affecting, mirroring the status
// codes the wire protocol reports back to a client.
type Result struct {
	Columns      []string
	Rows         []types.Row
	RowsAffected int
	Status       string
}

// ExecuteSQL compiles and runs a single SQL statement. CREATE DATABASE and
// USE are handled here, ahead of the SQL grammar proper, since they address
// the CatalogManager's database dimension rather than any one table.
func (e *Engine) ExecuteSQL(stmt string) (*Result, error) {
	if res, handled, err := e.tryDatabaseCommand(stmt); handled {
		return res, err
	}

	node, err := sqlfront.NewParser(stmt).Parse()
	if err != nil {
		return nil, err
	}
	return e.Execute(node)
}

// tryDatabaseCommand recognizes "CREATE DATABASE <name>" and "USE <name>"
// case-insensitively, handling them directly instead of through the plan
// tree, since they switch which catalog every other statement targets
// rather than reading or writing within one.
func (e *Engine) tryDatabaseCommand(stmt string) (*Result, bool, error) {
	fields := strings.Fields(strings.TrimSuffix(strings.TrimSpace(stmt), ";"))
	if len(fields) == 0 {
		return nil, false, nil
	}

	switch {
	case len(fields) == 3 && strings.EqualFold(fields[0], "create") && strings.EqualFold(fields[1], "database"):
		name := fields[2]
		if err := e.CreateDatabase(name); err != nil {
			return nil, true, fmt.Errorf("engine: %w", err)
		}
		return &Result{Status: "DatabaseCreated"}, true, nil

	case len(fields) == 2 && strings.EqualFold(fields[0], "use"):
		name := fields[1]
		if err := e.UseDatabase(name); err != nil {
			return nil, true, fmt.Errorf("engine: DatabaseNotFound: %w", err)
		}
		return &Result{Status: "DatabaseConnection"}, true, nil
	}
	return nil, false, nil
}

// Execute runs a pre-built logical plan node directly, bypassing SQL
// entirely (the path taken by anything that builds plan.Node trees itself
// rather than through sqlfront).
func (e *Engine) Execute(node plan.Node) (*Result, error) {
	switch n := node.(type) {
	case plan.CreateTable:
		if err := e.planner.ExecCreateTable(n); err != nil {
			return nil, err
		}
		return &Result{RowsAffected: 1}, nil

	case plan.Insert:
		if _, err := e.planner.ExecInsert(n); err != nil {
			return nil, err
		}
		return &Result{RowsAffected: 1}, nil

	case plan.Update:
		count, err := e.planner.ExecUpdate(n)
		if err != nil {
			return nil, err
		}
		return &Result{RowsAffected: count}, nil

	case plan.Delete:
		count, err := e.planner.ExecDelete(n)
		if err != nil {
			return nil, err
		}
		return &Result{RowsAffected: count}, nil

	default:
		return e.executeQuery(node)
	}
}

func (e *Engine) executeQuery(node plan.Node) (*Result, error) {
	op, err := e.planner.Build(node)
	if err != nil {
		return nil, err
	}
	if err := op.Open(); err != nil {
		return nil, err
	}
	defer op.Close()

	var rows []types.Row
	for {
		row, ok, err := op.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	return &Result{Columns: op.Columns(), Rows: rows}, nil
}

// ExplainSQL parses stmt and returns its logical plan, pretty-printed,
// without running it.
func (e *Engine) ExplainSQL(stmt string) (string, error) {
	node, err := sqlfront.NewParser(stmt).Parse()
	if err != nil {
		return "", err
	}
	return planner.ExplainLogical(node), nil
}

// Vacuum physically reclaims tombstoned space in every table of the current
// database.
func (e *Engine) Vacuum() (map[string]int, error) {
	result := make(map[string]int)
	for _, name := range e.currentCatalog().ListTables() {
		t, _ := e.currentCatalog().GetTable(name)
		reclaimed, err := t.Heap.Vacuum()
		if err != nil {
			return result, fmt.Errorf("engine: vacuum %s: %w", name, err)
		}
		result[name] = reclaimed
	}
	return result, nil
}

// Stats reports buffer pool hit/miss counters and table counts, the
// embeddable engine's analogue of the server's status message.
func (e *Engine) Stats() map[string]any {
	hits, misses := e.pool.Stats()
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = float64(hits) / float64(hits+misses) * 100
	}
	return map[string]any{
		"buffer_pool_hits":   hits,
		"buffer_pool_misses": misses,
		"buffer_hit_rate":    fmt.Sprintf("%.1f%%", hitRate),
		"database":           e.currentDB,
		"tables":             len(e.currentCatalog().ListTables()),
	}
}

// Close flushes every dirty page to disk.
func (e *Engine) Close() error {
	return e.pool.FlushAll()
}

// ListTables returns every known table name in the current database.
func (e *Engine) ListTables() []string { return e.currentCatalog().ListTables() }

// TableSchema returns a table's schema in the current database, if it
// exists.
func (e *Engine) TableSchema(name string) (*types.Schema, bool) {
	t, ok := e.currentCatalog().GetTable(name)
	if !ok {
		return nil, false
	}
	return t.Schema, true
}
