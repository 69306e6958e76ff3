package balances

import (
	"context"
	"errors"
	"math/big"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

// ErrFeatureAbsent is returned at setup time when a chain lacks the module a
// strategy needs.
var ErrFeatureAbsent = errors.New("feature is absent on chain")

// TokenSource selects the on-chain ledger a token subscription reads from.
type TokenSource string

const (
	SourceAssets        TokenSource = "assets"
	SourceForeignAssets TokenSource = "foreign-assets"
	SourceOrmlTokens    TokenSource = "tokens"
)

// AccountTotals is the raw account snapshot of the native token.
type AccountTotals struct {
	Free     *big.Int `json:"free" msgpack:"free"`
	Reserved *big.Int `json:"reserved" msgpack:"reserved"`
	// Frozen is the largest of the chain's freeze/lock amounts.
	Frozen *big.Int `json:"frozen" msgpack:"frozen"`
}

type PoolMembership struct {
	PoolID    uint32   `json:"pool_id" msgpack:"pool_id"`
	Points    *big.Int `json:"points" msgpack:"points"`
	Unbonding *big.Int `json:"unbonding" msgpack:"unbonding"`
}

// AccountState is one push of the system subscription for one address.
// A nil Totals means the account does not exist.
type AccountState struct {
	Address     string          `json:"address" msgpack:"address"`
	Totals      *AccountTotals  `json:"totals,omitempty" msgpack:"totals,omitempty"`
	Pool        *PoolMembership `json:"pool,omitempty" msgpack:"pool,omitempty"`
	DerivedLock *big.Int        `json:"derived_lock,omitempty" msgpack:"derived_lock,omitempty"`
}

// TokenAccount is the per-address state of a pallet token.
type TokenAccount struct {
	Free     *big.Int `json:"free" msgpack:"free"`
	Reserved *big.Int `json:"reserved,omitempty" msgpack:"reserved,omitempty"`
	Frozen   *big.Int `json:"frozen,omitempty" msgpack:"frozen,omitempty"`
	IsFrozen bool     `json:"is_frozen,omitempty" msgpack:"is_frozen,omitempty"`
}

// DerivedStake is one row of the staking-derived sub-ledger table.
type DerivedStake struct {
	Address   string   `json:"address" msgpack:"address"`
	SubLedger uint16   `json:"sub_ledger" msgpack:"sub_ledger"`
	Amount    *big.Int `json:"amount" msgpack:"amount"`
}

// AccountModelClient is a push-capable chain client.
//
// Subscription callbacks receive slices aligned with the subscribed addresses;
// a nil element means the chain returned nothing for that address.
type AccountModelClient interface {
	Ready() bool
	WaitReady(ctx context.Context) error

	SubscribeAccounts(ctx context.Context, addresses []string, withPools bool, cb func([]*AccountState)) (UnsubscribeFunc, error)
	SubscribeTokenAccounts(ctx context.Context, source TokenSource, ref models.AssetRef, addresses []string, cb func([]*TokenAccount)) (UnsubscribeFunc, error)

	QueryDerivedStake(ctx context.Context, addresses []string) ([]DerivedStake, error)
	ContractBalance(ctx context.Context, contract, address string) (*big.Int, error)
	// StakingMigrated reports whether pool bookkeeping moved to the newer representation.
	StakingMigrated(ctx context.Context) (bool, error)
}

// TokenHandle reads one contract token. Handles are resolved once per strategy.
type TokenHandle interface {
	BalanceOf(ctx context.Context, address string) (*big.Int, error)
}

// PullClient is a poll-only chain client.
type PullClient interface {
	NativeBalance(ctx context.Context, address string) (*big.Int, error)
	ResolveToken(ctx context.Context, token *models.TokenDescriptor) (TokenHandle, error)
}

type (
	EVMClient          = PullClient
	NativeLedgerClient = PullClient
	UTXOClient         = PullClient
)

// Clients holds one client per chain, keyed by chain id.
type Clients struct {
	AccountModel map[string]AccountModelClient
	EVM          map[string]EVMClient
	NativeLedger map[string]NativeLedgerClient
	UTXO         map[string]UTXOClient
}

func (c Clients) pull(family models.Family, chainID string) (PullClient, bool) {
	var m map[string]PullClient
	switch family {
	case models.FamilyEVM:
		m = c.EVM
	case models.FamilyNativeLedger:
		m = c.NativeLedger
	case models.FamilyUTXO:
		m = c.UTXO
	}
	cl, ok := m[chainID]
	return cl, ok && cl != nil
}
