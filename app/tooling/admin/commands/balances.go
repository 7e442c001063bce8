package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(balancesCmd)
}

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Display the balances for all accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return fmt.Errorf("connecting to db: %w", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		const q = `
		SELECT
			account_id, available_balance, current_balance
		FROM
			accounts
		ORDER BY
			account_id`

		rows, err := db.QueryContext(ctx, q)
		if err != nil {
			return fmt.Errorf("selecting accounts: %w", err)
		}
		defer rows.Close()

		fmt.Printf("%-40s %-30s %-30s\n", "ACCOUNT", "AVAILABLE", "CURRENT")
		for rows.Next() {
			var accountID, available, current string
			if err := rows.Scan(&accountID, &available, &current); err != nil {
				return fmt.Errorf("scanning account: %w", err)
			}
			fmt.Printf("%-40s %-30s %-30s\n", accountID, available, current)
		}

		return rows.Err()
	},
}
