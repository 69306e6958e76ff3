package esplora

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

const defaultTimeout = 10 * time.Second

var ErrStatus = errors.New("unexpected esplora status")

type txoStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
}

type addressInfo struct {
	Address      string   `json:"address"`
	ChainStats   txoStats `json:"chain_stats"`
	MempoolStats txoStats `json:"mempool_stats"`
}

// spendable is the confirmed balance minus outputs already spent in the mempool.
// Unconfirmed incoming funds are not counted.
func (a *addressInfo) spendable() *big.Int {
	v := a.ChainStats.FundedTxoSum - a.ChainStats.SpentTxoSum - a.MempoolStats.SpentTxoSum
	if v < 0 {
		v = 0
	}
	return big.NewInt(v)
}

// Client reads balances from an Esplora REST API.
type Client struct {
	base    string
	timeout time.Duration
	http    *fasthttp.Client
}

var _ balances.UTXOClient = (*Client)(nil)

func New(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		timeout: timeout,
		http: &fasthttp.Client{
			Name:                "wallet-balances",
			MaxConnsPerHost:     64,
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: time.Minute,
		},
	}
}

func (c *Client) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.base + path)
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return fmt.Errorf("GET %s: %w %d: %s", path, ErrStatus, resp.StatusCode(), strings.TrimSpace(string(resp.Body())))
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) NativeBalance(ctx context.Context, addr string) (*big.Int, error) {
	var info addressInfo
	if err := c.get(ctx, "/address/"+addr, &info); err != nil {
		return nil, err
	}
	return info.spendable(), nil
}

// ResolveToken always fails: the Esplora API has no token ledger.
func (c *Client) ResolveToken(_ context.Context, token *models.TokenDescriptor) (balances.TokenHandle, error) {
	return nil, fmt.Errorf("token %s on esplora: %w", token.ID, balances.ErrFeatureAbsent)
}

// Ping checks that the API answers.
func (c *Client) Ping(ctx context.Context) error {
	var height int64
	return c.get(ctx, "/blocks/tip/height", &height)
}
