// Package commands contains the admin subcommands for the walletd service.
package commands

import (
	"database/sql"
	"os"

	"github.com/spf13/cobra"

	"github.com/walletd/walletd/business/sys/database"
)

var (
	dbUser     string
	dbPassword string
	dbHost     string
	dbName     string
	disableTLS bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dbUser, "db-user", "postgres", "Database user.")
	rootCmd.PersistentFlags().StringVar(&dbPassword, "db-password", "postgres", "Database password.")
	rootCmd.PersistentFlags().StringVar(&dbHost, "db-host", "localhost", "Database host.")
	rootCmd.PersistentFlags().StringVar(&dbName, "db-name", "walletd", "Database name.")
	rootCmd.PersistentFlags().BoolVar(&disableTLS, "db-disable-tls", true, "Disable TLS for the database connection.")
}

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative tooling for the walletd service",
}

// Execute runs the command specified on the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB() (*sql.DB, error) {
	return database.Open(database.Config{
		User:       dbUser,
		Password:   dbPassword,
		Host:       dbHost,
		Name:       dbName,
		DisableTLS: disableTLS,
	})
}
