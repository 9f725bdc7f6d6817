package cmd

import (
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/iksnae/opencode-sync/internal"
	"github.com/iksnae/opencode-sync/internal/classifier"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	inspectFormat     string
	inspectSampleRows int
	inspectSession    string
	inspectListen     time.Duration
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect local state or how a session's events are classified",
	Long: `Inspect the local state database, or with --session, the classification
of every event seen for a session.

The database view shows:
  • Tables and their schema
  • Row counts
  • Sample rows (saved servers, last selections, queued deep links)

The session view groups history and live events by classified type and lists
the payload types that were not recognised.

Examples:
  opencode-sync inspect                                   # Local state
  opencode-sync inspect --session ses_abc --listen 30s    # Classify 30s of live events
  opencode-sync inspect --session ses_abc --format yaml   # Full YAML dump`,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := setup(nil)
		if err != nil {
			return err
		}
		defer e.Close()

		out := cmd.OutOrStdout()
		if inspectSession == "" {
			return inspectDatabase(out, e.store.Path())
		}

		ctx := cmdContext(cmd)
		if _, err := e.openSession(ctx, inspectSession); err != nil {
			return err
		}
		if inspectListen > 0 {
			internal.LogInfo("Listening for %s...", inspectListen)
			select {
			case <-time.After(inspectListen):
			case <-ctx.Done():
			}
		}
		return displayGrouped(out, e.orch.GroupedAll(), inspectFormat)
	},
}

func displayGrouped(w io.Writer, g classifier.Grouped, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(g); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	}

	fmt.Fprintln(w, sectionStyle.Render("Classified"))
	writeCounts(w, g.Classified)
	fmt.Fprintln(w)
	fmt.Fprintln(w, sectionStyle.Render("Unclassified"))
	if len(g.Unclassified) == 0 {
		fmt.Fprintln(w, "  (none)")
		return nil
	}
	for _, key := range sortedKeys(g.Unclassified) {
		msgs := g.Unclassified[key]
		fmt.Fprintf(w, "  • %s: %d\n", key, len(msgs))
		if inspectSampleRows > 0 {
			for i, m := range msgs {
				if i >= inspectSampleRows {
					break
				}
				fmt.Fprintf(w, "      %s\n", firstLine(m.DisplayMessage, 120))
			}
		}
	}
	return nil
}

func writeCounts(w io.Writer, groups map[string][]classifier.ClassifiedMessage) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for _, key := range sortedKeys(groups) {
		fmt.Fprintf(w, "  • %s: %d\n", key, len(groups[key]))
	}
}

func sortedKeys(m map[string][]classifier.ClassifiedMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func inspectDatabase(w io.Writer, dbPath string) error {
	db, err := internal.OpenDatabase(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	// Get all tables
	tables, err := getTables(db)
	if err != nil {
		return fmt.Errorf("failed to get tables: %w", err)
	}

	if len(tables) == 0 {
		fmt.Fprintln(w, "⚠️  No tables found in database")
		return nil
	}

	fmt.Fprintf(w, "📋 Database: %s\n", dbPath)
	fmt.Fprintf(w, "📊 Found %d table(s)\n\n", len(tables))

	for _, tableName := range tables {
		if err := inspectTable(w, db, tableName); err != nil {
			fmt.Fprintf(w, "⚠️  Error inspecting table %s: %v\n", tableName, err)
			continue
		}
		fmt.Fprintln(w)
	}

	return nil
}

func getTables(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			continue
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func inspectTable(w io.Writer, db *sql.DB, tableName string) error {
	fmt.Fprintf(w, "📦 Table: %s\n", tableName)

	var rowCount int
	if err := db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", tableName)).Scan(&rowCount); err != nil {
		return fmt.Errorf("failed to get row count: %w", err)
	}
	fmt.Fprintf(w, "📊 Rows: %d\n\n", rowCount)

	columns, err := getTableSchema(db, tableName)
	if err != nil {
		return fmt.Errorf("failed to get schema: %w", err)
	}

	fmt.Fprintf(w, "📐 Schema:\n")
	for _, col := range columns {
		pk := ""
		if col.PrimaryKey {
			pk = " [PRIMARY KEY]"
		}
		notNull := ""
		if col.NotNull {
			notNull = " NOT NULL"
		}
		fmt.Fprintf(w, "  • %s: %s%s%s\n", col.Name, col.Type, notNull, pk)
	}
	fmt.Fprintln(w)

	if tableName == "kv" && rowCount > 0 && inspectSampleRows > 0 {
		pairs, err := internal.QueryKV(db, "%")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "📄 Entries (first %d):\n", inspectSampleRows)
		for i, p := range pairs {
			if i >= inspectSampleRows {
				break
			}
			fmt.Fprintf(w, "  %s = %s\n", p.Key, firstLine(p.Value, 200))
		}
	}

	return nil
}

// ColumnInfo is one row of PRAGMA table_info
type ColumnInfo struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
}

func getTableSchema(db *sql.DB, tableName string) ([]ColumnInfo, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var columns []ColumnInfo
	for rows.Next() {
		var col ColumnInfo
		var cid int
		var notNull, pk int
		var defaultValue sql.NullString

		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &defaultValue, &pk); err != nil {
			continue
		}
		col.NotNull = notNull == 1
		col.PrimaryKey = pk == 1
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// firstLine truncates s to its first line and at most n bytes
func firstLine(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + "..."
	}
	if len(s) > n {
		s = s[:n] + "..."
	}
	return s
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "text", "Output format for --session (text, yaml)")
	inspectCmd.Flags().IntVar(&inspectSampleRows, "sample", 3, "Number of sample rows to show")
	inspectCmd.Flags().StringVar(&inspectSession, "session", "", "Classify the events of this session instead")
	inspectCmd.Flags().DurationVar(&inspectListen, "listen", 0, "With --session, collect live events for this long first")
}
