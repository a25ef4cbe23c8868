// Package catalog manages table metadata: schemas, their assigned TableIDs,
// and the open heap/index handles that back them. Metadata itself lives in
// an ordinary table (table 0 of each database's own id range), one row per
// field, rather than the hand-rolled single-page binary blob a
// fixed-capacity catalog would use. Registry adds the database dimension on
// top: one Catalog per database, all sharing one BufferPool.
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

// localSystemTableID is reserved for the catalog's own backing table,
// relative to whatever per-database id range a Catalog was opened with.
const localSystemTableID types.TableID = 0

// firstUserTableID is the first id handed out to a user-created table in
// the default (dbIndex 0) catalog, relative to its id range.
const firstUserTableID types.TableID = 1

// dbIndexShift reserves the low 16 bits of a TableID for a table's position
// within its own database, and the bits above that for which database it
// belongs to. A database's table ids therefore span
// [dbIndex<<dbIndexShift, (dbIndex+1)<<dbIndexShift), capped at
// maxDatabases so every such id stays clear of the B+Tree/hash index
// namespaces (1<<24, 1<<25) engine.go layers on top of a table id.
const dbIndexShift = 16

// maxDatabases bounds how many databases Registry can hand out distinct id
// ranges for before a database's table ids would run into the index
// namespace bits above 1<<24.
const maxDatabases = 1 << (24 - dbIndexShift)

func systemSchema() *types.Schema {
	return &types.Schema{
		TableName: "aquadb_catalog",
		Columns: []types.Column{
			{Name: "tablename", Type: types.TypeVarchar},
			{Name: "tableid", Type: types.TypeInt},
			{Name: "fieldindex", Type: types.TypeInt},
			{Name: "fieldname", Type: types.TypeVarchar},
			{Name: "fieldtype", Type: types.TypeVarchar},
			{Name: "pkey_piece", Type: types.TypeBool},
			{Name: "nullable", Type: types.TypeBool},
			{Name: "unique", Type: types.TypeBool},
			{Name: "char_limit", Type: types.TypeInt, Nullable: true},
			{Name: "foreign_table", Type: types.TypeVarchar, Nullable: true},
			{Name: "foreign_field", Type: types.TypeVarchar, Nullable: true},
		},
	}
}

// Table bundles a schema with the live handles a planner or executor needs
// to read and write it.
type Table struct {
	ID     types.TableID
	Schema *types.Schema
	Heap   *storage.TableManager
}

// Catalog owns every table's metadata and is the only component that
// assigns TableIDs or opens a table's backing files, within one database's
// id range (see dbIndexShift).
type Catalog struct {
	pool        *storage.BufferPool
	dataDir     string
	blockSize   int
	granularity int
	base        types.TableID // this database's id-range offset

	blockMgrs map[types.TableID]*storage.BlockManager
	systemTM  *storage.TableManager
	tables    map[string]*Table
	nextID    types.TableID
}

// Open loads an existing catalog from dataDir, or initializes a fresh one if
// the system table's file does not yet exist. It is OpenForDatabase for
// database index 0, the range every single-database caller uses.
func Open(pool *storage.BufferPool, dataDir string, blockSize, granularity int) (*Catalog, error) {
	return OpenForDatabase(pool, dataDir, blockSize, granularity, 0)
}

// OpenForDatabase is Open, but places every table this catalog owns inside
// the table-id range reserved for database dbIndex, so Registry can run
// several Catalogs against one shared BufferPool without their table ids
// colliding. dbIndex must be below maxDatabases.
func OpenForDatabase(pool *storage.BufferPool, dataDir string, blockSize, granularity int, dbIndex uint32) (*Catalog, error) {
	if dbIndex >= maxDatabases {
		return nil, fmt.Errorf("catalog: database index %d exceeds the %d databases this id layout supports", dbIndex, maxDatabases)
	}
	base := types.TableID(dbIndex) << dbIndexShift

	c := &Catalog{
		pool:        pool,
		dataDir:     dataDir,
		blockSize:   blockSize,
		granularity: granularity,
		base:        base,
		blockMgrs:   make(map[types.TableID]*storage.BlockManager),
		tables:      make(map[string]*Table),
		nextID:      base + firstUserTableID,
	}

	systemTableID := base + localSystemTableID
	bm, isNew, err := c.openBlockManager(systemTableID)
	if err != nil {
		return nil, err
	}
	pool.AddTable(systemTableID, bm)

	layout := storage.NewLayout(systemSchema())
	if isNew {
		tm, err := storage.NewTableManager(pool, systemTableID, layout, granularity)
		if err != nil {
			return nil, err
		}
		c.systemTM = tm
		return c, nil
	}

	tm, err := storage.LoadTableManager(pool, systemTableID, layout, granularity, 0, lastBlockOf(bm))
	if err != nil {
		return nil, err
	}
	c.systemTM = tm

	if err := c.rebuild(); err != nil {
		return nil, err
	}
	return c, nil
}

func lastBlockOf(bm *storage.BlockManager) types.BlockID {
	n := bm.NumBlocks()
	if n == 0 {
		return 0
	}
	return types.BlockID(n - 1)
}

func (c *Catalog) openBlockManager(table types.TableID) (*storage.BlockManager, bool, error) {
	path := filepath.Join(c.dataDir, fmt.Sprintf("%d.blk", table))
	isNew := !fileExists(path)

	bm, err := storage.OpenBlockManager(c.dataDir, table, c.blockSize)
	if err != nil {
		return nil, false, err
	}
	c.blockMgrs[table] = bm
	return bm, isNew, nil
}

// rebuild re-reads every row of the system table and reconstructs each
// user table's Schema and live handles. This is the catalog's analogue of
// TableManager's free space map rebuild: nothing about table layout is
// persisted beyond the raw rows themselves.
func (c *Catalog) rebuild() error {
	rows, err := c.systemTM.Scan()
	if err != nil {
		return err
	}

	type fieldRow struct {
		index int
		col    types.Column
	}
	byTable := make(map[string][]fieldRow)
	idByTable := make(map[string]types.TableID)

	for _, r := range rows {
		v := r.Values
		tableName := v[0].Str
		tableID := types.TableID(v[1].Int)
		fieldIndex := int(v[2].Int)
		col := types.Column{
			Name:       v[3].Str,
			Type:       parseType(v[4].Str),
			PrimaryKey: v[5].Bool,
			Nullable:   v[6].Bool,
			Unique:     v[7].Bool,
		}
		if !v[8].Null {
			col.CharLimit = uint32(v[8].Int)
		}
		if !v[9].Null {
			col.ForeignTable = v[9].Str
		}
		if !v[10].Null {
			col.ForeignField = v[10].Str
		}
		byTable[tableName] = append(byTable[tableName], fieldRow{index: fieldIndex, col: col})
		idByTable[tableName] = tableID
	}

	maxID := c.nextID - 1
	for name, fields := range byTable {
		sort.Slice(fields, func(i, j int) bool { return fields[i].index < fields[j].index })
		cols := make([]types.Column, len(fields))
		for i, f := range fields {
			cols[i] = f.col
		}
		schema := &types.Schema{TableName: name, Columns: cols}
		id := idByTable[name]
		if id > maxID {
			maxID = id
		}

		bm, _, err := c.openBlockManager(id)
		if err != nil {
			return err
		}
		c.pool.AddTable(id, bm)

		layout := storage.NewLayout(schema)
		tm, err := storage.LoadTableManager(c.pool, id, layout, c.granularity, 0, lastBlockOf(bm))
		if err != nil {
			return err
		}
		c.tables[name] = &Table{ID: id, Schema: schema, Heap: tm}
	}
	c.nextID = maxID + 1
	return nil
}

// CreateTable allocates a fresh TableID, opens its backing file, persists
// its schema as catalog rows, and registers it for lookup.
func (c *Catalog) CreateTable(schema *types.Schema) (*Table, error) {
	if _, exists := c.tables[schema.TableName]; exists {
		return nil, fmt.Errorf("catalog: table %q already exists", schema.TableName)
	}

	id := c.nextID
	c.nextID++

	bm, _, err := c.openBlockManager(id)
	if err != nil {
		return nil, err
	}
	c.pool.AddTable(id, bm)

	layout := storage.NewLayout(schema)
	tm, err := storage.NewTableManager(c.pool, id, layout, c.granularity)
	if err != nil {
		return nil, err
	}

	if err := c.persistSchema(schema, id); err != nil {
		return nil, err
	}

	table := &Table{ID: id, Schema: schema, Heap: tm}
	c.tables[schema.TableName] = table
	dblog.WithComponent("catalog").Info().
		Str("table", schema.TableName).
		Uint32("table_id", uint32(id)).
		Msg("table created")
	return table, nil
}

func (c *Catalog) persistSchema(schema *types.Schema, id types.TableID) error {
	for i, col := range schema.Columns {
		values := []types.Value{
			types.StrValue(schema.TableName),
			types.IntValue(int64(id)),
			types.IntValue(int64(i)),
			types.StrValue(col.Name),
			types.StrValue(col.Type.String()),
			types.BoolValue(col.PrimaryKey),
			types.BoolValue(col.Nullable),
			types.BoolValue(col.Unique),
			charLimitValue(col),
			foreignValue(col.ForeignTable),
			foreignValue(col.ForeignField),
		}
		if _, err := c.systemTM.Insert(values); err != nil {
			return err
		}
	}
	return nil
}

func charLimitValue(col types.Column) types.Value {
	if col.Type != types.TypeVarchar || col.CharLimit == 0 {
		return types.NullValue(types.TypeInt)
	}
	return types.IntValue(int64(col.CharLimit))
}

func foreignValue(s string) types.Value {
	if s == "" {
		return types.NullValue(types.TypeVarchar)
	}
	return types.StrValue(s)
}

func parseType(s string) types.Type {
	switch s {
	case "INT":
		return types.TypeInt
	case "BOOL":
		return types.TypeBool
	default:
		return types.TypeVarchar
	}
}

// GetTable returns the live handle for a table by name.
func (c *Catalog) GetTable(name string) (*Table, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// ListTables returns every known table name, sorted for stable output.
func (c *Catalog) ListTables() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
