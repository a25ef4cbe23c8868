package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"aquadb/internal/dblog"
	"aquadb/internal/storage"
	"aquadb/pkg/types"
)

// globalTableID is the fixed id of the database registry's own backing
// table. It sits one below the B+Tree index namespace (1<<24), which makes
// it also the last id of the range of database index maxDatabases-1.
const globalTableID types.TableID = 1<<24 - 1

func databasesSchema() *types.Schema {
	return &types.Schema{
		TableName: "aqua_database",
		Columns: []types.Column{
			{Name: "database_name", Type: types.TypeVarchar, CharLimit: 64, PrimaryKey: true},
		},
	}
}

// Registry is the top-level, multi-database catalog: one global system
// table (global/aqua_database) listing every known database name, plus one
// per-database Catalog (base/<name>/) opened when the database is created or
// when OpenRegistry replays the global table, and kept open afterward.
type Registry struct {
	pool        *storage.BufferPool
	dataDir     string
	blockSize   int
	granularity int

	databasesTM *storage.TableManager
	catalogs    map[string]*Catalog
	dbIndex     map[string]uint32
	nextDBIndex uint32
}

// OpenRegistry loads the database registry from dataDir/global, or
// initializes a fresh one, then opens every database it already knows
// about so their catalogs are ready for use.
func OpenRegistry(pool *storage.BufferPool, dataDir string, blockSize, granularity int) (*Registry, error) {
	globalDir := filepath.Join(dataDir, "global")
	if err := os.MkdirAll(globalDir, 0755); err != nil {
		return nil, fmt.Errorf("catalog: creating global directory: %w", err)
	}

	isNew := !fileExists(filepath.Join(globalDir, fmt.Sprintf("%d.blk", globalTableID)))
	bm, err := storage.OpenBlockManager(globalDir, globalTableID, blockSize)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening database registry: %w", err)
	}
	pool.AddTable(globalTableID, bm)

	r := &Registry{
		pool:        pool,
		dataDir:     dataDir,
		blockSize:   blockSize,
		granularity: granularity,
		catalogs:    make(map[string]*Catalog),
		dbIndex:     make(map[string]uint32),
	}

	layout := storage.NewLayout(databasesSchema())
	if isNew {
		tm, err := storage.NewTableManager(pool, globalTableID, layout, granularity)
		if err != nil {
			return nil, err
		}
		r.databasesTM = tm
		return r, nil
	}

	tm, err := storage.LoadTableManager(pool, globalTableID, layout, granularity, 0, lastBlockOf(bm))
	if err != nil {
		return nil, err
	}
	r.databasesTM = tm

	rows, err := tm.Scan()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, row := range rows {
		names = append(names, row.Values[0].Str)
	}
	for _, name := range names {
		if _, err := r.openDatabase(name); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// CreateDatabase registers a new database in the global registry and opens
// its catalog, the Go analogue of create_db_schema_table: one row appended
// to the registry, one fresh per-database Catalog rooted under base/<name>.
func (r *Registry) CreateDatabase(name string) (*Catalog, error) {
	if _, exists := r.catalogs[name]; exists {
		return nil, fmt.Errorf("catalog: database %q already exists", name)
	}
	if _, err := r.databasesTM.Insert([]types.Value{types.StrValue(name)}); err != nil {
		return nil, err
	}
	cat, err := r.openDatabase(name)
	if err != nil {
		return nil, err
	}
	dblog.WithComponent("catalog").Info().Str("database", name).Msg("database created")
	return cat, nil
}

func (r *Registry) openDatabase(name string) (*Catalog, error) {
	dbIndex := r.nextDBIndex
	r.nextDBIndex++

	dbDir := filepath.Join(r.dataDir, "base", name)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("catalog: creating database directory for %q: %w", name, err)
	}
	cat, err := OpenForDatabase(r.pool, dbDir, r.blockSize, r.granularity, dbIndex)
	if err != nil {
		return nil, fmt.Errorf("catalog: opening database %q: %w", name, err)
	}
	r.dbIndex[name] = dbIndex
	r.catalogs[name] = cat
	return cat, nil
}

// Database returns the already-open catalog for name.
func (r *Registry) Database(name string) (*Catalog, bool) {
	c, ok := r.catalogs[name]
	return c, ok
}

// ListDatabases returns every known database name, sorted.
func (r *Registry) ListDatabases() []string {
	names := make([]string, 0, len(r.catalogs))
	for name := range r.catalogs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
