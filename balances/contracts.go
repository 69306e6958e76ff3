package balances

import (
	"context"
	"math/big"
	"time"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

// startContracts polls contract tokens hosted on an account-model chain, one
// read per (token, address).
func startContracts(ctx context.Context, e *env, chain *models.ChainDescriptor, tokens []*models.TokenDescriptor, addresses []string, client AccountModelClient, emit emitFunc) TeardownFunc {
	logger := e.chainLogger(chain, "contracts")

	return startPolling(ctx, chain.ID+"/contracts", e.intervals.Contracts, logger, func(ctx context.Context, flag *cancelFlag) {
		for _, token := range tokens {
			if !flag.live() {
				return
			}
			contract := token.ContractAddress
			amounts := fanOut(ctx, e.limit, addresses, func(ctx context.Context, addr string) (*big.Int, error) {
				return client.ContractBalance(ctx, contract, addr)
			}, zeroOnError(logger, token.ID))
			flag.emit(emit, readyBatch(addresses, token.ID, amounts, time.Now()))
		}
	})
}
