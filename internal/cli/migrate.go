package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"pinboard/api/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long: `Applies every *.up.sql migration that is not yet recorded in
schema_migrations. The migrations compiled into the binary are used unless
--dir points at a directory of migration files.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().String("dir", "", "directory of migration files")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	db, err := openDB(cmd.Context())
	if err != nil {
		return err
	}
	defer db.Close()

	var migrations fs.FS = store.Migrations()
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		migrations = os.DirFS(dir)
	}

	applied, err := store.ApplyMigrations(cmd.Context(), db, migrations)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
	return nil
}

// cliPool keeps one-shot commands to a couple of connections.
var cliPool = store.Pool{MaxOpen: 2, MaxIdle: 1, MaxLifetime: time.Minute, MaxIdleTime: time.Minute}

func openDB(ctx context.Context) (*sql.DB, error) {
	url, err := databaseURL()
	if err != nil {
		return nil, err
	}
	db, err := store.OpenWithPool(ctx, url, cliPool)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}
