package relay

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

// Keys written by the node relay, all under the chain prefix:
//
//	<prefix>:meta                  hash   ready, staking_migrated, features, last_heartbeat
//	<prefix>:accounts              hash   address -> msgpack Account
//	<prefix>:pools                 hash   address -> msgpack Pool
//	<prefix>:tokens:<source>:<ref> hash   address -> msgpack Token
//	<prefix>:derived:<address>     hash   sub-ledger -> amount
//	<prefix>:contracts:<contract>  hash   address -> amount
//	<prefix>:updates               channel of msgpack Update
const (
	keyMeta      = "meta"
	keyAccounts  = "accounts"
	keyPools     = "pools"
	keyTokens    = "tokens"
	keyDerived   = "derived"
	keyContracts = "contracts"
	keyUpdates   = "updates"

	fieldReady           = "ready"
	fieldStakingMigrated = "staking_migrated"
	fieldFeatures        = "features"
	fieldHeartbeat       = "last_heartbeat"

	featureContracts = "contracts"
	featureDerived   = "staking-derived"
)

// Account is the relay encoding of balances.AccountTotals plus the derived lock.
type Account struct {
	Free        string `msgpack:"free"`
	Reserved    string `msgpack:"reserved,omitempty"`
	Frozen      string `msgpack:"frozen,omitempty"`
	DerivedLock string `msgpack:"derived_lock,omitempty"`
}

type Pool struct {
	PoolID    uint32 `msgpack:"pool_id"`
	Points    string `msgpack:"points"`
	Unbonding string `msgpack:"unbonding,omitempty"`
}

type Token struct {
	Free     string `msgpack:"free"`
	Reserved string `msgpack:"reserved,omitempty"`
	Frozen   string `msgpack:"frozen,omitempty"`
	IsFrozen bool   `msgpack:"is_frozen,omitempty"`
}

// Update tells subscribers that the hash Key changed for Addresses.
// An empty address list means every address.
type Update struct {
	Key       string   `msgpack:"key"`
	Addresses []string `msgpack:"addresses,omitempty"`
}

// RefKey renders an asset reference the way the relay names token hashes.
func RefKey(ref models.AssetRef) string {
	switch ref.Kind {
	case models.AssetRefNumeric:
		return fmt.Sprintf("n%d", ref.Numeric)
	case models.AssetRefVersionedLocation:
		return fmt.Sprintf("v%d.%s", ref.Version, ref.Location)
	default:
		return "l." + ref.Location
	}
}

// TokenKey is the hash suffix for one token ledger entry.
func TokenKey(source balances.TokenSource, ref models.AssetRef) string {
	return strings.Join([]string{keyTokens, string(source), RefKey(ref)}, ":")
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("bad amount %q", s)
	}
	return v, nil
}

func (a *Account) state(address string) (*balances.AccountState, error) {
	var err error
	totals := &balances.AccountTotals{}
	if totals.Free, err = parseAmount(a.Free); err != nil {
		return nil, err
	}
	if totals.Reserved, err = parseAmount(a.Reserved); err != nil {
		return nil, err
	}
	if totals.Frozen, err = parseAmount(a.Frozen); err != nil {
		return nil, err
	}
	st := &balances.AccountState{Address: address, Totals: totals}
	if st.DerivedLock, err = parseAmount(a.DerivedLock); err != nil {
		return nil, err
	}
	return st, nil
}

func (p *Pool) membership() (*balances.PoolMembership, error) {
	var err error
	m := &balances.PoolMembership{PoolID: p.PoolID}
	if m.Points, err = parseAmount(p.Points); err != nil {
		return nil, err
	}
	if m.Unbonding, err = parseAmount(p.Unbonding); err != nil {
		return nil, err
	}
	return m, nil
}

func (t *Token) account() (*balances.TokenAccount, error) {
	var err error
	acc := &balances.TokenAccount{IsFrozen: t.IsFrozen}
	if acc.Free, err = parseAmount(t.Free); err != nil {
		return nil, err
	}
	if acc.Reserved, err = parseAmount(t.Reserved); err != nil {
		return nil, err
	}
	if acc.Frozen, err = parseAmount(t.Frozen); err != nil {
		return nil, err
	}
	return acc, nil
}
