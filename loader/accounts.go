package loader

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
)

const accountsBatchSize = 5000

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// LoadAccounts reads the wallet_accounts table page by page and replaces the
// directory contents with it.
func LoadAccounts(ctx context.Context, db Querier, dir *balances.AccountDirectory, logger *logrus.Entry) error {
	var accounts []balances.Account
	lastKey := ""

	for {
		rows, err := db.Query(ctx, `
			SELECT address, hardware, generic, genesis_hashes
			FROM wallet_accounts
			WHERE address > $1
			ORDER BY address
			LIMIT $2
		`, lastKey, accountsBatchSize)
		if err != nil {
			return fmt.Errorf("query wallet_accounts: %w", err)
		}

		page, err := scanAccounts(rows)
		if err != nil {
			return err
		}
		accounts = append(accounts, page...)
		if len(page) > 0 {
			lastKey = page[len(page)-1].Address
		}
		if len(page) < accountsBatchSize {
			break
		}
	}

	dir.Replace(accounts)
	logger.WithField("accounts", len(accounts)).Info("account directory loaded")
	return nil
}

func scanAccounts(rows pgx.Rows) ([]balances.Account, error) {
	defer rows.Close()

	var res []balances.Account
	for rows.Next() {
		var a balances.Account
		var hashes []string
		if err := rows.Scan(&a.Address, &a.Hardware, &a.Generic, &hashes); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		a.GenesisHashes = hashes
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return res, nil
}
