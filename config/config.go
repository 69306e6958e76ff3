package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"gopkg.in/yaml.v3"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

var ErrInvalidRegistry = errors.New("invalid registry")

// Client describes how to reach a chain.
type Client struct {
	// URL is the evm rpc endpoint, the esplora base url or the ton global config url.
	URL string `yaml:"url"`
	// RelayPrefix is the redis key prefix the account-model relay writes under.
	RelayPrefix string        `yaml:"relay_prefix"`
	Timeout     time.Duration `yaml:"timeout"`
}

type Chain struct {
	models.ChainDescriptor `yaml:",inline"`
	Client                 Client `yaml:"client"`
}

type Token struct {
	models.TokenDescriptor `yaml:",inline"`
	// RawMinimumBalance is a decimal integer in the smallest unit.
	RawMinimumBalance string `yaml:"minimum_balance"`
}

// Registry is the static chain and token catalogue of the service.
type Registry struct {
	Chains           []Chain            `yaml:"chains"`
	Tokens           []Token            `yaml:"tokens"`
	Intervals        balances.Intervals `yaml:"intervals"`
	NativeExclusions []string           `yaml:"native_exclusions"`
	FanOutLimit      int                `yaml:"fan_out_limit"`
	// WatchAddresses are tracked by the background sink next to the account directory.
	WatchAddresses []string `yaml:"watch_addresses"`
}

func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	for i := range r.Tokens {
		if r.Tokens[i].RawMinimumBalance == "" {
			continue
		}
		v, ok := new(big.Int).SetString(r.Tokens[i].RawMinimumBalance, 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("%w: token %s: bad minimum_balance %q", ErrInvalidRegistry, r.Tokens[i].ID, r.Tokens[i].RawMinimumBalance)
		}
		r.Tokens[i].MinimumBalance = v
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate reports every problem found, joined.
func (r *Registry) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidRegistry}, args...)...))
	}

	chains := mapset.NewThreadUnsafeSet[string]()
	for _, c := range r.Chains {
		if c.ID == "" {
			fail("chain without id")
			continue
		}
		if !chains.Add(c.ID) {
			fail("duplicate chain %s", c.ID)
		}
		if !c.Family.Valid() {
			fail("chain %s: unknown family %q", c.ID, c.Family)
		}
		if c.Family == models.FamilyAccountModel && c.Client.RelayPrefix == "" {
			fail("chain %s: relay_prefix is required", c.ID)
		}
		if c.Family != models.FamilyAccountModel && c.Client.URL == "" {
			fail("chain %s: client url is required", c.ID)
		}
	}

	tokens := mapset.NewThreadUnsafeSet[string]()
	for _, t := range r.Tokens {
		if t.ID == "" {
			fail("token without id")
			continue
		}
		if !tokens.Add(t.ID) {
			fail("duplicate token %s", t.ID)
		}
		if !t.Kind.Valid() {
			fail("token %s: unknown kind %q", t.ID, t.Kind)
		}
		if !chains.Contains(t.OriginChain) {
			fail("token %s: unknown chain %s", t.ID, t.OriginChain)
		}
		if t.Kind == models.TokenContract && t.ContractAddress == "" {
			fail("token %s: contract_address is required", t.ID)
		}
		if t.Kind == models.TokenStakingDerived && t.SubLedger == nil {
			fail("token %s: sub_ledger is required", t.ID)
		}
	}

	for _, c := range r.Chains {
		if c.NativeTokenID != "" && !tokens.Contains(c.NativeTokenID) {
			fail("chain %s: unknown native token %s", c.ID, c.NativeTokenID)
		}
	}
	for _, id := range r.NativeExclusions {
		if !chains.Contains(id) {
			fail("native exclusion: unknown chain %s", id)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) ChainIndex() map[string]*models.ChainDescriptor {
	index := make(map[string]*models.ChainDescriptor, len(r.Chains))
	for i := range r.Chains {
		c := r.Chains[i].ChainDescriptor
		index[c.ID] = &c
	}
	return index
}

func (r *Registry) TokenIndex() map[string]*models.TokenDescriptor {
	index := make(map[string]*models.TokenDescriptor, len(r.Tokens))
	for i := range r.Tokens {
		t := r.Tokens[i].TokenDescriptor
		index[t.ID] = &t
	}
	return index
}

func (r *Registry) ChainIDs() []string {
	ids := make([]string, len(r.Chains))
	for i, c := range r.Chains {
		ids[i] = c.ID
	}
	return ids
}

func (r *Registry) TokenIDs() []string {
	ids := make([]string, len(r.Tokens))
	for i, t := range r.Tokens {
		ids[i] = t.ID
	}
	return ids
}

func (r *Registry) Chain(id string) (Chain, bool) {
	for _, c := range r.Chains {
		if c.ID == id {
			return c, true
		}
	}
	return Chain{}, false
}

func (r *Registry) EngineOptions() balances.Options {
	return balances.Options{
		Intervals:        r.Intervals,
		NativeExclusions: r.NativeExclusions,
		FanOutLimit:      r.FanOutLimit,
	}
}
