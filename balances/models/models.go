package models

import (
	"math/big"
	"time"
)

type Family string

const (
	FamilyAccountModel Family = "account-model-pushable"
	FamilyEVM          Family = "evm-like"
	FamilyNativeLedger Family = "native-ledger"
	FamilyUTXO         Family = "utxo-like"
)

func (f Family) Valid() bool {
	switch f {
	case FamilyAccountModel, FamilyEVM, FamilyNativeLedger, FamilyUTXO:
		return true
	}
	return false
}

type TokenKind string

const (
	TokenNative         TokenKind = "native"
	TokenLocal          TokenKind = "local"
	TokenContract       TokenKind = "contract-fungible"
	TokenBridged        TokenKind = "bridged"
	TokenStakingDerived TokenKind = "staking-derived"
)

func (k TokenKind) Valid() bool {
	switch k {
	case TokenNative, TokenLocal, TokenContract, TokenBridged, TokenStakingDerived:
		return true
	}
	return false
}

// Fungible reports whether placeholder records are produced for the kind.
func (k TokenKind) Fungible() bool {
	return k.Valid()
}

type BalanceState string

const (
	StateReady        BalanceState = "READY"
	StatePending      BalanceState = "PENDING"
	StateNotSupported BalanceState = "NOT_SUPPORTED"
)

// BalanceRecord is one (address, token) balance observation.
// Records overwrite each other by (Address, TokenID); they are not events.
type BalanceRecord struct {
	Address    string            `json:"address" msgpack:"a"`
	TokenID    string            `json:"token_id" msgpack:"t"`
	Free       string            `json:"free" msgpack:"f"`
	Locked     string            `json:"locked" msgpack:"l"`
	State      BalanceState      `json:"state" msgpack:"s"`
	ObservedAt time.Time         `json:"observed_at" msgpack:"o"`
	Metadata   map[string]string `json:"metadata,omitempty" msgpack:"m,omitempty"`
}

// Key returns the overwrite key of the record.
func (r BalanceRecord) Key() string {
	return r.Address + ":" + r.TokenID
}

func NewReadyRecord(address, tokenID string, free, locked *big.Int, at time.Time) BalanceRecord {
	return BalanceRecord{
		Address:    address,
		TokenID:    tokenID,
		Free:       amountString(free),
		Locked:     amountString(locked),
		State:      StateReady,
		ObservedAt: at,
	}
}

func ZeroRecord(address, tokenID string, state BalanceState, at time.Time) BalanceRecord {
	return BalanceRecord{
		Address:    address,
		TokenID:    tokenID,
		Free:       "0",
		Locked:     "0",
		State:      state,
		ObservedAt: at,
	}
}

// amountString renders nil and negative values as "0".
func amountString(v *big.Int) string {
	if v == nil || v.Sign() <= 0 {
		return "0"
	}
	return v.String()
}

type AssetRefKind string

const (
	AssetRefNumeric           AssetRefKind = "numeric"
	AssetRefLocation          AssetRefKind = "location"
	AssetRefVersionedLocation AssetRefKind = "versioned-location"
)

// AssetRef is the identity of a token inside the underlying chain query.
type AssetRef struct {
	Kind     AssetRefKind `json:"kind" yaml:"kind" msgpack:"k"`
	Numeric  uint64       `json:"numeric,omitempty" yaml:"numeric,omitempty" msgpack:"n,omitempty"`
	Location string       `json:"location,omitempty" yaml:"location,omitempty" msgpack:"l,omitempty"`
	Version  int          `json:"version,omitempty" yaml:"version,omitempty" msgpack:"v,omitempty"`
}

type TokenDescriptor struct {
	ID              string    `json:"id" yaml:"id"`
	OriginChain     string    `json:"origin_chain" yaml:"origin_chain"`
	Kind            TokenKind `json:"kind" yaml:"kind"`
	Symbol          string    `json:"symbol" yaml:"symbol"`
	Decimals        int       `json:"decimals" yaml:"decimals"`
	MinimumBalance  *big.Int  `json:"minimum_balance,omitempty" yaml:"-"`
	ContractAddress string    `json:"contract_address,omitempty" yaml:"contract_address,omitempty"`
	AssetRef        *AssetRef `json:"asset_ref,omitempty" yaml:"asset_ref,omitempty"`
	SubLedger       *uint16   `json:"sub_ledger,omitempty" yaml:"sub_ledger,omitempty"`
}

// MinBalance never returns nil.
func (t *TokenDescriptor) MinBalance() *big.Int {
	if t.MinimumBalance == nil {
		return new(big.Int)
	}
	return t.MinimumBalance
}

// Features are statically known per chain and decide which account-model
// sub-strategies are attempted.
type Features struct {
	Assets          bool `json:"assets" yaml:"assets"`
	ForeignAssets   bool `json:"foreign_assets" yaml:"foreign_assets"`
	OrmlTokens      bool `json:"orml_tokens" yaml:"orml_tokens"`
	Contracts       bool `json:"contracts" yaml:"contracts"`
	StakingDerived  bool `json:"staking_derived" yaml:"staking_derived"`
	NominationPools bool `json:"nomination_pools" yaml:"nomination_pools"`
}

type ChainDescriptor struct {
	ID            string   `json:"id" yaml:"id"`
	Name          string   `json:"name" yaml:"name"`
	Family        Family   `json:"family" yaml:"family"`
	NativeTokenID string   `json:"native_token_id" yaml:"native_token_id"`
	GenesisHash   string   `json:"genesis_hash,omitempty" yaml:"genesis_hash,omitempty"`
	Testnet       bool     `json:"testnet,omitempty" yaml:"testnet,omitempty"`
	Features      Features `json:"features" yaml:"features"`
}

// Partition is a strict split of an address set for one chain.
type Partition struct {
	Queryable []string
	Skipped   []string
}

type Readiness string

const (
	Ready    Readiness = "ready"
	NotReady Readiness = "not-ready"
)

// TransferContext affects fee-reservation accounting of transferable amounts.
type TransferContext struct {
	// KeepAlive keeps the minimum balance out of the transferable amount.
	KeepAlive bool
}

func DefaultTransferContext() TransferContext {
	return TransferContext{KeepAlive: true}
}
