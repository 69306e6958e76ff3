package ton

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/jetton"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

const walletCacheSize = 4096

// accountAPI is the part of ton.APIClientWrapped used for native balances.
type accountAPI interface {
	CurrentMasterchainInfo(ctx context.Context) (*ton.BlockIDExt, error)
	GetAccount(ctx context.Context, block *ton.BlockIDExt, addr *address.Address) (*tlb.Account, error)
}

type balanceReader interface {
	GetBalance(ctx context.Context) (*big.Int, error)
}

// masterClient resolves jetton wallets of one jetton master.
type masterClient interface {
	GetJettonData(ctx context.Context) (*jetton.Data, error)
	Wallet(ctx context.Context, owner *address.Address) (balanceReader, error)
}

type jettonMaster struct {
	*jetton.Client
}

func (m jettonMaster) Wallet(ctx context.Context, owner *address.Address) (balanceReader, error) {
	return m.GetJettonWallet(ctx, owner)
}

type Client struct {
	api       accountAPI
	newMaster func(master *address.Address) masterClient
}

var _ balances.NativeLedgerClient = (*Client)(nil)

func New(api ton.APIClientWrapped) *Client {
	return &Client{
		api: api,
		newMaster: func(master *address.Address) masterClient {
			return jettonMaster{jetton.NewJettonMasterClient(api, master)}
		},
	}
}

// Connect joins the lite servers listed in the global config at configURL.
func Connect(ctx context.Context, configURL string) (*Client, *liteclient.ConnectionPool, error) {
	pool := liteclient.NewConnectionPool()
	if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
		return nil, nil, fmt.Errorf("connect lite servers: %w", err)
	}
	api := ton.NewAPIClient(pool, ton.ProofCheckPolicyFast).WithRetry()
	return New(api), pool, nil
}

func ParseAddress(s string) (*address.Address, error) {
	if strings.Contains(s, ":") {
		return address.ParseRawAddr(s)
	}
	return address.ParseAddr(s)
}

// NativeBalance is zero for accounts that are not active.
func (c *Client) NativeBalance(ctx context.Context, addr string) (*big.Int, error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("masterchain info: %w", err)
	}
	acc, err := c.api.GetAccount(ctx, block, a)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", addr, err)
	}
	if acc == nil || !acc.IsActive || acc.State == nil {
		return new(big.Int), nil
	}
	return acc.State.Balance.Nano(), nil
}

// ResolveToken checks the jetton master of token and returns a handle that
// remembers the jetton wallet of every owner it has seen.
func (c *Client) ResolveToken(ctx context.Context, token *models.TokenDescriptor) (balances.TokenHandle, error) {
	master, err := ParseAddress(token.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", token.ID, err)
	}
	mc := c.newMaster(master)
	if _, err := mc.GetJettonData(ctx); err != nil {
		return nil, fmt.Errorf("token %s: jetton data: %w", token.ID, err)
	}
	wallets, err := lru.New[string, balanceReader](walletCacheSize)
	if err != nil {
		return nil, err
	}
	return &jettonHandle{master: mc, wallets: wallets}, nil
}

type jettonHandle struct {
	master  masterClient
	wallets *lru.Cache[string, balanceReader]
}

func (h *jettonHandle) BalanceOf(ctx context.Context, owner string) (*big.Int, error) {
	w, ok := h.wallets.Get(owner)
	if !ok {
		a, err := ParseAddress(owner)
		if err != nil {
			return nil, err
		}
		if w, err = h.master.Wallet(ctx, a); err != nil {
			return nil, fmt.Errorf("jetton wallet of %s: %w", owner, err)
		}
		h.wallets.Add(owner, w)
	}
	return w.GetBalance(ctx)
}
