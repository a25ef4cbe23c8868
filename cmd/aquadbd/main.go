// Command aquadbd is aquadb's command-line entry point: an embeddable-engine
// REPL by default, plus subcommands for running it as a TCP server and for
// one-off maintenance operations, all built on cobra/pflag.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"aquadb/internal/config"
	"aquadb/internal/dblog"
	"aquadb/internal/engine"
	"aquadb/internal/server"
	"aquadb/pkg/types"
)

var (
	configPath  string
	dataDir     string
	blockSize   int
	bufferSlots int
	workingMem  int64
	logLevel    string
	jsonLogs    bool
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "aquadbd",
		Short: "aquadb is an embeddable single-node relational database engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dblog.Init(dblog.Config{Level: dblog.Level(logLevel), JSONOutput: jsonLogs})
			return nil
		},
		RunE: runREPL,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "YAML config file (defaults, then this file, then the flags below, each overriding the last)")
	flags.StringVar(&dataDir, "data", "", "directory holding table and index files (overrides the config file)")
	flags.IntVar(&blockSize, "block-size", 0, "page size in bytes (overrides the config file)")
	flags.IntVar(&bufferSlots, "buffer-slots", 0, "number of buffer pool frames (overrides the config file)")
	flags.Int64Var(&workingMem, "working-mem", 0, "per-operator working memory budget in bytes, before spilling to disk (overrides the config file)")
	flags.StringVar(&logLevel, "log-level", "info", "debug|info|warn|error")
	flags.BoolVar(&jsonLogs, "json-logs", false, "emit structured JSON logs instead of console output")

	root.AddCommand(newServeCommand())
	root.AddCommand(newVacuumCommand())
	root.AddCommand(newStatsCommand())

	return root
}

// resolveConfig layers built-in defaults, an optional YAML config file, and
// any CLI flags the user actually set, in that order.
func resolveConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if blockSize != 0 {
		cfg.BlockSize = blockSize
	}
	if bufferSlots != 0 {
		cfg.BufferPoolSlots = bufferSlots
	}
	if workingMem != 0 {
		cfg.WorkingMemBytes = workingMem
	}
	return cfg, nil
}

func openEngine() (*engine.Engine, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{
		DataDir:              cfg.DataDir,
		BlockSize:            cfg.BlockSize,
		BufferPoolSlots:      cfg.BufferPoolSlots,
		PinTimeoutMS:         cfg.PinTimeoutMS,
		WorkingMemBytes:      cfg.WorkingMemBytes,
		FreeSpaceGranularity: cfg.FreeSpaceGranularity,
	})
}

func newServeCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run aquadb as a TCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openEngine()
			if err != nil {
				return err
			}
			defer db.Close()
			return server.New(db).ListenAndServe(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":5433", "address to listen on")
	return cmd
}

func newVacuumCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "reclaim tombstoned tuple space in every table of the default database",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openEngine()
			if err != nil {
				return err
			}
			defer db.Close()
			reclaimed, err := db.Vacuum()
			if err != nil {
				return err
			}
			total := 0
			for table, n := range reclaimed {
				if n > 0 {
					fmt.Printf("  %s: reclaimed %d tuple(s)\n", table, n)
				}
				total += n
			}
			fmt.Printf("vacuum: reclaimed %d tuple(s) total\n", total)
			return nil
		},
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print buffer pool and table statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openEngine()
			if err != nil {
				return err
			}
			defer db.Close()
			printStats(db)
			return nil
		},
	}
}

func runREPL(cmd *cobra.Command, args []string) error {
	db, err := openEngine()
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("aquadb — type \\h for help, \\q to exit")
	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Printf("aquadb[%s]> ", db.CurrentDatabase())
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		lower := strings.ToLower(input)
		switch {
		case lower == "exit" || lower == "quit" || lower == "\\q":
			return nil
		case lower == "help" || lower == "\\h":
			printHelp()
			continue
		case lower == "stats" || lower == "\\s":
			printStats(db)
			continue
		case lower == "tables" || lower == "\\dt":
			printTables(db)
			continue
		case lower == "databases" || lower == "\\l":
			for _, name := range db.ListDatabases() {
				fmt.Printf("  %s\n", name)
			}
			continue
		case lower == "vacuum":
			reclaimed, err := db.Vacuum()
			if err != nil {
				fmt.Printf("VACUUM failed: %v\n", err)
				continue
			}
			total := 0
			for _, n := range reclaimed {
				total += n
			}
			fmt.Printf("VACUUM: reclaimed %d dead tuple(s)\n", total)
			continue
		case strings.HasPrefix(lower, "explain "):
			plan, err := db.ExplainSQL(input[len("explain "):])
			if err != nil {
				fmt.Printf("EXPLAIN failed: %v\n", err)
				continue
			}
			fmt.Println(plan)
			continue
		case strings.HasPrefix(lower, "create index on "):
			rest := strings.TrimSpace(input[len("create index on "):])
			if err := handleCreateIndex(db, rest); err != nil {
				fmt.Println(err)
			}
			continue
		}

		result, err := db.ExecuteSQL(input)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			continue
		}
		printResult(result)
	}
}

// handleCreateIndex parses "<table>(<column>)" optionally followed by
// "using hash", and builds a B+Tree index by default or an extendible hash
// index when hash is requested.
func handleCreateIndex(db *engine.Engine, rest string) error {
	useHash := false
	if idx := strings.Index(strings.ToLower(rest), " using hash"); idx >= 0 {
		useHash = true
		rest = strings.TrimSpace(rest[:idx])
	}

	parenIdx := strings.Index(rest, "(")
	if parenIdx < 0 || !strings.HasSuffix(rest, ")") {
		return fmt.Errorf("usage: create index on <table>(<column>) [using hash]")
	}
	table := strings.TrimSpace(rest[:parenIdx])
	column := strings.TrimSpace(rest[parenIdx+1 : len(rest)-1])

	if useHash {
		cfg, err := resolveConfig()
		if err != nil {
			return err
		}
		if err := db.CreateHashIndex(table, column, cfg.HashGlobalDepth); err != nil {
			return fmt.Errorf("create index failed: %w", err)
		}
		fmt.Printf("hash index created on %s(%s)\n", table, column)
		return nil
	}

	if err := db.CreateBTreeIndex(table, column); err != nil {
		return fmt.Errorf("create index failed: %w", err)
	}
	fmt.Printf("b+tree index created on %s(%s)\n", table, column)
	return nil
}

func printHelp() {
	fmt.Print(`
Commands:
  help, \h          Show this help message
  stats, \s         Show database statistics
  tables, \dt       List all tables in the current database
  databases, \l     List all databases
  vacuum            Reclaim tombstoned tuple space
  explain <sql>     Print the logical plan for a statement without running it
  create index on <table>(<column>) [using hash]  Build a B+Tree (default) or hash index
  exit, quit, \q    Exit

SQL statements:
  CREATE DATABASE name       Create a database and connect to it
  USE name                   Connect to an already-existing database
  CREATE TABLE name (col1 TYPE, col2 TYPE, ...)
    Types: INT, VARCHAR(n), BOOL
  INSERT INTO table VALUES (val1, val2, ...)
  SELECT col1, col2 FROM table [WHERE condition]
  SELECT * FROM table
  UPDATE table SET col1 = val1 [WHERE condition]
  DELETE FROM table [WHERE condition]

Examples:
  CREATE DATABASE shop
  CREATE TABLE users (id INT PRIMARY KEY, name VARCHAR(64), active BOOL)
  INSERT INTO users VALUES (1, 'Alice', true)
  SELECT * FROM users WHERE active = true
`)
}

func printStats(db *engine.Engine) {
	stats := db.Stats()
	fmt.Println("\nStatistics")
	fmt.Printf("  tables:             %v\n", stats["tables"])
	fmt.Printf("  buffer pool hits:   %v\n", stats["buffer_pool_hits"])
	fmt.Printf("  buffer pool misses: %v\n", stats["buffer_pool_misses"])
	fmt.Printf("  buffer hit rate:    %v\n", stats["buffer_hit_rate"])
	fmt.Println()
}

func printTables(db *engine.Engine) {
	names := db.ListTables()
	if len(names) == 0 {
		fmt.Println("no tables")
		return
	}
	for _, name := range names {
		schema, _ := db.TableSchema(name)
		fmt.Printf("  %s\n", name)
		for _, col := range schema.Columns {
			fmt.Printf("    - %s %s%s\n", col.Name, typeName(col.Type), nullableSuffix(col))
		}
	}
}

func typeName(t types.Type) string {
	switch t {
	case types.TypeInt:
		return "INT"
	case types.TypeVarchar:
		return "VARCHAR"
	case types.TypeBool:
		return "BOOL"
	default:
		return "UNKNOWN"
	}
}

func nullableSuffix(c types.Column) string {
	if !c.Nullable {
		return " NOT NULL"
	}
	return ""
}

func printResult(result *engine.Result) {
	if result.Status != "" {
		fmt.Println(result.Status)
		return
	}
	if result.Columns == nil {
		fmt.Printf("OK, %d row(s) affected\n", result.RowsAffected)
		return
	}

	widths := make([]int, len(result.Columns))
	for i, col := range result.Columns {
		widths[i] = len(col)
	}
	rendered := make([][]string, len(result.Rows))
	for r, row := range result.Rows {
		rendered[r] = make([]string, len(row.Values))
		for i, v := range row.Values {
			rendered[r][i] = formatValue(v)
			if len(rendered[r][i]) > widths[i] {
				widths[i] = len(rendered[r][i])
			}
		}
	}

	printSeparator(widths)
	printRow(result.Columns, widths)
	printSeparator(widths)
	for _, row := range rendered {
		printRow(row, widths)
	}
	printSeparator(widths)
	fmt.Printf("(%d row(s))\n\n", len(result.Rows))
}

func formatValue(v types.Value) string {
	if v.Null {
		return "NULL"
	}
	switch v.Type {
	case types.TypeInt:
		return fmt.Sprintf("%d", v.Int)
	case types.TypeVarchar:
		return v.Str
	case types.TypeBool:
		if v.Bool {
			return "true"
		}
		return "false"
	default:
		return "NULL"
	}
}

func printRow(values []string, widths []int) {
	fmt.Print("| ")
	for i, v := range values {
		fmt.Printf("%-*s | ", widths[i], v)
	}
	fmt.Println()
}

func printSeparator(widths []int) {
	fmt.Print("+")
	for _, w := range widths {
		fmt.Print(strings.Repeat("-", w+2) + "+")
	}
	fmt.Println()
}
