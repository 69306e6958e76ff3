package balances

import (
	"errors"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
)

var ErrUnknownAddress = errors.New("address is not in the account directory")

// Account is the owning record of a wallet address.
type Account struct {
	Address  string `json:"address" msgpack:"address"`
	Hardware bool   `json:"hardware" msgpack:"hardware"`
	// Generic hardware accounts are not locked to a particular chain.
	Generic bool `json:"generic" msgpack:"generic"`
	// GenesisHashes lists the chain identities a locked hardware account may query.
	GenesisHashes []string `json:"genesis_hashes,omitempty" msgpack:"genesis_hashes,omitempty"`
}

// AllowsChain reports whether the account may be queried on a chain with the given identity.
func (a *Account) AllowsChain(genesisHash string) bool {
	if !a.Hardware || a.Generic {
		return true
	}
	for _, h := range a.GenesisHashes {
		if h == genesisHash {
			return true
		}
	}
	return false
}

type AccountEventType string

const (
	AccountAdded   AccountEventType = "added"
	AccountRemoved AccountEventType = "removed"
)

type AccountEvent struct {
	Type    AccountEventType `json:"type" msgpack:"type"`
	Account Account          `json:"account" msgpack:"account"`
}

// AccountDirectory is the session's view of known accounts, refreshed on add/remove events.
type AccountDirectory struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewAccountDirectory(accounts ...Account) *AccountDirectory {
	d := &AccountDirectory{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		d.accounts[a.Address] = a
	}
	return d
}

func (d *AccountDirectory) Lookup(addr string) (Account, error) {
	if d == nil {
		return Account{}, ErrUnknownAddress
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.accounts[addr]
	if !ok {
		return Account{}, ErrUnknownAddress
	}
	return a, nil
}

func (d *AccountDirectory) Put(a Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accounts[a.Address] = a
}

func (d *AccountDirectory) Remove(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.accounts, addr)
}

// Replace swaps the whole directory content, used after a full reload.
func (d *AccountDirectory) Replace(accounts []Account) {
	next := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		next[a.Address] = a
	}
	d.mu.Lock()
	d.accounts = next
	d.mu.Unlock()
}

func (d *AccountDirectory) Apply(ev AccountEvent) {
	switch ev.Type {
	case AccountAdded:
		d.Put(ev.Account)
	case AccountRemoved:
		d.Remove(ev.Account.Address)
	}
}

func (d *AccountDirectory) Addresses() mapset.Set[string] {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := mapset.NewThreadUnsafeSetWithSize[string](len(d.accounts))
	for addr := range d.accounts {
		s.Add(addr)
	}
	return s
}

func (d *AccountDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.accounts)
}
