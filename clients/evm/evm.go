package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

const erc20BalanceABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var (
	ErrBadAddress = errors.New("not an evm address")
	ErrNoContract = errors.New("no contract code at address")

	erc20 = mustParseABI(erc20BalanceABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Backend is the subset of ethclient.Client the balance client uses.
type Backend interface {
	bind.ContractCaller
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

type Client struct {
	backend Backend
}

var _ balances.EVMClient = (*Client)(nil)

func New(backend Backend) *Client {
	return &Client{backend: backend}
}

// Dial connects to a JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (*Client, *ethclient.Client, error) {
	ec, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return New(ec), ec, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrBadAddress, s)
	}
	return common.HexToAddress(s), nil
}

func (c *Client) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	addr, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	return c.backend.BalanceAt(ctx, addr, nil)
}

// ResolveToken binds the ERC-20 contract of token after checking that code is deployed.
func (c *Client) ResolveToken(ctx context.Context, token *models.TokenDescriptor) (balances.TokenHandle, error) {
	addr, err := parseAddress(token.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("token %s: %w", token.ID, err)
	}
	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("token %s: read code: %w", token.ID, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("token %s: %w", token.ID, ErrNoContract)
	}
	return &tokenHandle{contract: bind.NewBoundContract(addr, erc20, c.backend, nil, nil)}, nil
}

type tokenHandle struct {
	contract *bind.BoundContract
}

func (h *tokenHandle) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	owner, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	var out []interface{}
	if err := h.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", owner); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("empty balanceOf result")
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}
