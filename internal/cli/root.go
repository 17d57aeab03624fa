// Package cli implements boardctl, the operator tool for the board database.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pinboard/api/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "boardctl",
	Short: "Operate the pinboard position store",
	Long: `boardctl applies schema migrations, audits card and list positions for
gaps or duplicates, compacts them back to a dense order, and issues API tokens
for scripts.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default .boardctl.yaml)")
	flags.String("database-url", "", "postgres connection string")
	_ = viper.BindPFlag("database_url", flags.Lookup("database-url"))
	_ = viper.BindEnv("database_url", "PINBOARD_DATABASE_URL", "DATABASE_URL")
}

func initConfig() {
	if cfgFile, _ := rootCmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".boardctl")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("PINBOARD")
	viper.AutomaticEnv()

	// No config file is fine; flags and env still apply.
	_ = viper.ReadInConfig()
}

// positionStore is the part of the store the audit commands need.
type positionStore interface {
	Anomalies(ctx context.Context) ([]store.Anomaly, error)
	Compact(ctx context.Context) (store.Compaction, error)
}

// openPositionStore is replaced in tests.
var openPositionStore = func(ctx context.Context) (positionStore, io.Closer, error) {
	db, err := openDB(ctx)
	if err != nil {
		return nil, nil, err
	}
	return store.NewPostgresStore(db), db, nil
}

func databaseURL() (string, error) {
	url := viper.GetString("database_url")
	if url == "" {
		return "", fmt.Errorf("database url required: use --database-url or set DATABASE_URL")
	}
	return url, nil
}
