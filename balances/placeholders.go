package balances

import (
	"time"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

// Placeholders builds zero-balance records for addresses that cannot (yet) be
// queried on chain, one per fungible token of the chain found in tokens.
func Placeholders(skipped []string, chain *models.ChainDescriptor, tokens []*models.TokenDescriptor, readiness models.Readiness) []models.BalanceRecord {
	state := models.StateNotSupported
	if readiness == models.NotReady {
		state = models.StatePending
	}

	chainTokens := tokensOfChain(tokens, chain.ID)
	if len(skipped) == 0 || len(chainTokens) == 0 {
		return nil
	}

	now := time.Now()
	records := make([]models.BalanceRecord, 0, len(skipped)*len(chainTokens))
	for _, token := range chainTokens {
		if !token.Kind.Fungible() {
			continue
		}
		for _, addr := range skipped {
			records = append(records, models.ZeroRecord(addr, token.ID, state, now))
		}
	}
	return records
}

func tokensOfChain(tokens []*models.TokenDescriptor, chainID string) []*models.TokenDescriptor {
	res := make([]*models.TokenDescriptor, 0)
	for _, t := range tokens {
		if t.OriginChain == chainID {
			res = append(res, t)
		}
	}
	return res
}

func tokensOfKind(tokens []*models.TokenDescriptor, kinds ...models.TokenKind) []*models.TokenDescriptor {
	res := make([]*models.TokenDescriptor, 0)
	for _, t := range tokens {
		for _, k := range kinds {
			if t.Kind == k {
				res = append(res, t)
				break
			}
		}
	}
	return res
}
