package balances

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

// nativeLocation addresses the native token inside a token pallet when the
// descriptor carries no explicit reference.
const nativeLocation = "native"

func tokenRef(token *models.TokenDescriptor) (models.AssetRef, bool) {
	if token.AssetRef != nil {
		return *token.AssetRef, true
	}
	if token.Kind == models.TokenNative {
		return models.AssetRef{Kind: models.AssetRefLocation, Location: nativeLocation}, true
	}
	return models.AssetRef{}, false
}

// startTokens opens one push subscription per token on the given ledger.
// ErrFeatureAbsent from the ledger aborts the whole strategy; any other
// subscribe error degrades that token to zero records.
func startTokens(ctx context.Context, e *env, chain *models.ChainDescriptor, source TokenSource, tokens []*models.TokenDescriptor, addresses []string, client AccountModelClient, emit emitFunc) (TeardownFunc, error) {
	logger := e.chainLogger(chain, string(source))

	var handles []TeardownFunc
	for _, token := range tokens {
		ref, ok := tokenRef(token)
		if !ok {
			logger.WithField("token", token.ID).Warn("token has no asset reference")
			emit(Placeholders(addresses, chain, []*models.TokenDescriptor{token}, models.Ready))
			continue
		}

		flag := &cancelFlag{}
		unsub, err := client.SubscribeTokenAccounts(ctx, source, ref, addresses, func(accounts []*TokenAccount) {
			flag.emit(emit, tokenRecords(addresses, token.ID, accounts, time.Now()))
		})
		if errors.Is(err, ErrFeatureAbsent) {
			merge(handles...)()
			return nil, err
		}
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{"token": token.ID}).Debug("token subscription failed")
			flag.emit(emit, tokenRecords(addresses, token.ID, nil, time.Now()))
			continue
		}
		handles = append(handles, pushTeardown(flag, unsub, logger))
	}

	logger.WithField("subscriptions", len(handles)).Debug("token subscriptions started")
	return merge(handles...), nil
}

func tokenRecords(addresses []string, tokenID string, accounts []*TokenAccount, now time.Time) []models.BalanceRecord {
	records := make([]models.BalanceRecord, len(addresses))
	for i, addr := range addresses {
		var acc *TokenAccount
		if i < len(accounts) {
			acc = accounts[i]
		}
		free, locked := tokenAmounts(acc)
		records[i] = models.NewReadyRecord(addr, tokenID, free, locked, now)
	}
	return records
}
