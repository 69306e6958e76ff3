package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

type Operation string

const (
	OpPing        Operation = "ping"
	OpSubscribe   Operation = "subscribe"
	OpUnsubscribe Operation = "unsubscribe"
)

type Envelope struct {
	Operation Operation `json:"operation"`
	Id        *string   `json:"id,omitempty"`
}

type SubscribeRequest struct {
	Envelope
	Addresses []string `json:"addresses"`
	Chains    []string `json:"chains,omitempty"`
	Tokens    []string `json:"tokens,omitempty"`
	// TransferAll reports free balances without the keep-alive reserve.
	TransferAll bool `json:"transfer_all,omitempty"`
}

type StatusResponse struct {
	Id     *string `json:"id,omitempty"`
	Status string  `json:"status"`
}

type ErrorResponse struct {
	Id    *string `json:"id,omitempty"`
	Error string  `json:"error"`
}

type BalancesNotification struct {
	Type     string        `json:"type"`
	Balances []BalanceView `json:"balances"`
}

// wsSession holds at most one engine subscription. A new subscribe replaces it.
type wsSession struct {
	svc  *Service
	ctx  context.Context
	send func(v any) error

	writeMu sync.Mutex
	mu      sync.Mutex
	stop    balances.TeardownFunc
}

func newSession(ctx context.Context, svc *Service, send func(v any) error) *wsSession {
	return &wsSession{svc: svc, ctx: ctx, send: send}
}

func (s *wsSession) write(v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.send(v); err != nil {
		s.svc.logger.WithError(err).Debug("websocket write failed")
	}
}

func (s *wsSession) fail(id *string, err error) {
	s.write(ErrorResponse{Id: id, Error: err.Error()})
}

func (s *wsSession) validate(req *SubscribeRequest) error {
	if len(req.Addresses) == 0 {
		return errors.New("addresses are required")
	}
	if n := mapset.NewThreadUnsafeSet(req.Addresses...).Cardinality(); s.svc.maxAddresses > 0 && n > s.svc.maxAddresses {
		return fmt.Errorf("too many addresses: %d > %d", n, s.svc.maxAddresses)
	}
	for _, id := range req.Chains {
		if _, ok := s.svc.chains[id]; !ok {
			return fmt.Errorf("unknown chain: %s", id)
		}
	}
	for _, id := range req.Tokens {
		if _, ok := s.svc.tokens[id]; !ok {
			return fmt.Errorf("unknown token: %s", id)
		}
	}
	return nil
}

func (s *wsSession) subscribe(req SubscribeRequest) error {
	if err := s.validate(&req); err != nil {
		return err
	}
	transfer := models.DefaultTransferContext()
	if req.TransferAll {
		transfer.KeepAlive = false
	}

	s.unsubscribe()
	s.write(StatusResponse{Id: req.Id, Status: "subscribed"})

	params := s.svc.params(req.Addresses, req.Chains, req.Tokens, &transfer)
	stop := s.svc.engine.Subscribe(s.ctx, params, func(records []models.BalanceRecord) {
		s.write(BalancesNotification{Type: "balances", Balances: s.svc.views(records)})
	})

	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
	return nil
}

func (s *wsSession) unsubscribe() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (s *wsSession) handle(msg []byte) {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		s.fail(nil, fmt.Errorf("invalid request: %v", err))
		return
	}

	switch env.Operation {
	case OpPing:
		s.write(StatusResponse{Id: env.Id, Status: "pong"})

	case OpSubscribe:
		var req SubscribeRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			s.fail(env.Id, fmt.Errorf("invalid subscribe request: %v", err))
			return
		}
		if err := s.subscribe(req); err != nil {
			s.fail(env.Id, err)
		}

	case OpUnsubscribe:
		s.unsubscribe()
		s.write(StatusResponse{Id: env.Id, Status: "unsubscribed"})

	default:
		s.fail(env.Id, fmt.Errorf("unknown operation: %s", env.Operation))
	}
}

// @summary		Stream balances
// @description	WebSocket endpoint. Send {"operation":"subscribe","addresses":[...],"chains":[...],"tokens":[...]} to start streaming balance batches; a new subscribe replaces the previous one.
// @id			api_v1_ws
// @tags		balances
// @router		/api/v1/ws [get]
func (s *Service) WebSocketHandler(c *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := newSession(ctx, s, func(v any) error { return c.WriteJSON(v) })
	defer session.unsubscribe()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			s.logger.WithError(err).Debug("websocket closed")
			return
		}
		session.handle(msg)
	}
}
