package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var transfersAccount string

func init() {
	transfersCmd.Flags().StringVar(&transfersAccount, "account", "", "Only show transfers for this account id.")
	rootCmd.AddCommand(transfersCmd)
}

var transfersCmd = &cobra.Command{
	Use:   "transfers",
	Short: "Display transfers, optionally filtered by account",
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
			transfer_id, account_id, hash, amount, fee_total, fee_ledger, status
		FROM
			transfers
		WHERE
			($1 = '' OR account_id::text = $1)
		ORDER BY
			transfer_id`

		rows, err := db.QueryContext(ctx, q, transfersAccount)
		if err != nil {
			return fmt.Errorf("selecting transfers: %w", err)
		}
		defer rows.Close()

		fmt.Printf("%-40s %-40s %-12s %-24s %-20s %-20s\n", "TRANSFER", "ACCOUNT", "STATUS", "AMOUNT", "FEE", "CHAIN FEE")
		for rows.Next() {
			var transferID, accountID, hash, amount, feeTotal, feeLedger, status string
			if err := rows.Scan(&transferID, &accountID, &hash, &amount, &feeTotal, &feeLedger, &status); err != nil {
				return fmt.Errorf("scanning transfer: %w", err)
			}
			fmt.Printf("%-40s %-40s %-12s %-24s %-20s %-20s\n", transferID, accountID, status, amount, feeTotal, feeLedger)
		}

		return rows.Err()
	},
}
