package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/wvfoia/wvfoia/internal/db"
	"github.com/wvfoia/wvfoia/internal/store"
)

var (
	importSQLitePath string
	importBatchSize  int
)

// entryImportColumns matches the entries schema in both stores; id is the
// conflict key.
var entryImportColumns = []string{
	"id", "agency", "organization", "first_name", "middle_name", "last_name",
	"request_date", "completion_date", "entry_date", "fee", "is_amended",
	"subject", "details", "resolution", "response",
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-load entries from a SQLite export into Postgres",
	Long: `Reads every entry from a SQLite database file and upserts it into the
configured Postgres store in batches. Used to seed a fresh deployment from
the published export instead of re-scraping two decades of entries.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Store.Driver != "postgres" {
			return eris.Errorf("import requires the postgres store, got driver %q", cfg.Store.Driver)
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		pg, ok := env.Store.(*store.PostgresStore)
		if !ok {
			return eris.New("import: store is not postgres-backed")
		}

		source, err := sql.Open("sqlite", importSQLitePath)
		if err != nil {
			return eris.Wrapf(err, "import: open %s", importSQLitePath)
		}
		defer source.Close() //nolint:errcheck

		upsert := db.UpsertConfig{
			Table:        "entries",
			Columns:      entryImportColumns,
			ConflictKeys: []string{"id"},
		}

		var total int64
		err = forEachEntryBatch(ctx, source, importBatchSize, func(rows [][]any) error {
			n, err := db.BulkUpsert(ctx, pg.Pool(), upsert, rows)
			if err != nil {
				return err
			}
			total += n
			zap.L().Debug("imported batch", zap.Int("rows", len(rows)), zap.Int64("total", total))
			return nil
		})
		if err != nil {
			return err
		}

		if err := env.Cache.FlushAll(ctx); err != nil {
			return eris.Wrap(err, "import: flush cache")
		}

		zap.L().Info("import complete", zap.Int64("rows", total), zap.String("source", importSQLitePath))
		fmt.Printf("Imported %d entries from %s\n", total, importSQLitePath)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importSQLitePath, "sqlite", "", "path to SQLite database file (required)")
	importCmd.Flags().IntVar(&importBatchSize, "batch", 500, "rows per upsert batch")
	_ = importCmd.MarkFlagRequired("sqlite")
	rootCmd.AddCommand(importCmd)
}

// forEachEntryBatch streams the source entries table in id order, handing
// batches of column-ordered value slices to fn.
func forEachEntryBatch(ctx context.Context, source *sql.DB, batchSize int, fn func([][]any) error) error {
	if batchSize <= 0 {
		batchSize = 500
	}

	rows, err := source.QueryContext(ctx,
		`SELECT id, agency, organization, first_name, middle_name, last_name,
		        request_date, completion_date, entry_date, fee, is_amended,
		        subject, details, resolution, response
		 FROM entries ORDER BY id`)
	if err != nil {
		return eris.Wrap(err, "import: query source entries")
	}
	defer rows.Close() //nolint:errcheck

	batch := make([][]any, 0, batchSize)
	for rows.Next() {
		var (
			id        int
			agency    string
			isAmended bool
			optional  [12]sql.NullString
		)
		if err := rows.Scan(&id, &agency,
			&optional[0], &optional[1], &optional[2], &optional[3],
			&optional[4], &optional[5], &optional[6], &optional[7],
			&isAmended,
			&optional[8], &optional[9], &optional[10], &optional[11],
		); err != nil {
			return eris.Wrap(err, "import: scan source entry")
		}

		values := make([]any, 0, len(entryImportColumns))
		values = append(values, id, agency)
		for i := 0; i < 8; i++ {
			values = append(values, nullable(optional[i]))
		}
		values = append(values, isAmended)
		for i := 8; i < 12; i++ {
			values = append(values, nullable(optional[i]))
		}

		batch = append(batch, values)
		if len(batch) >= batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "import: iterate source entries")
	}

	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

func nullable(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.String
}
