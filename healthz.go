package main

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const (
	relayMaxAge   = 30 * time.Second
	healthTimeout = 2 * time.Second
)

type componentHealth struct {
	OK            bool   `json:"ok"`
	Error         string `json:"error,omitempty"`
	AgeSeconds    *int64 `json:"age_seconds,omitempty"`
	LastHeartbeat *int64 `json:"last_heartbeat,omitempty"`
}

type healthzResponse struct {
	OK         bool                       `json:"ok"`
	Now        int64                      `json:"now"`
	Accounts   int                        `json:"accounts"`
	Components map[string]componentHealth `json:"components"`
}

func errorHealth(err error) componentHealth {
	if err != nil {
		return componentHealth{OK: false, Error: err.Error()}
	}
	return componentHealth{OK: true}
}

func (s *Service) relayHealth(ctx context.Context, chainID string, now time.Time) componentHealth {
	rc := s.relays[chainID]
	status := componentHealth{OK: true}

	hb, err := rc.Heartbeat(ctx)
	if err != nil {
		return componentHealth{OK: false, Error: "missing heartbeat: " + err.Error()}
	}
	last := hb.Unix()
	age := now.Unix() - last
	status.LastHeartbeat = &last
	status.AgeSeconds = &age
	if time.Duration(age)*time.Second > relayMaxAge {
		status.OK = false
		status.Error = "heartbeat is too old"
	} else if !rc.Ready() {
		status.OK = false
		status.Error = "relay is not ready"
	}
	return status
}

func (s *Service) health(ctx context.Context, now time.Time) healthzResponse {
	response := healthzResponse{
		OK:         true,
		Now:        now.Unix(),
		Accounts:   s.engine.Directory().Len(),
		Components: make(map[string]componentHealth),
	}
	add := func(name string, status componentHealth) {
		response.OK = response.OK && status.OK
		response.Components[name] = status
	}

	add("redis", errorHealth(s.rdb.Ping(ctx).Err()))
	if s.db != nil {
		add("postgres", errorHealth(s.db.Ping(ctx)))
	}
	for id := range s.relays {
		add("relay:"+id, s.relayHealth(ctx, id, now))
	}
	return response
}

// @summary		Health check
// @description	Reports redis, postgres and per-chain relay health. Responds 503 when any component fails.
// @id			healthz
// @tags		system
// @Produce		json
// @success		200	{object}	healthzResponse
// @failure		503	{object}	healthzResponse
// @router		/healthz [get]
func (s *Service) Healthz(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	response := s.health(ctx, time.Now())
	if response.OK {
		return c.Status(fiber.StatusOK).JSON(response)
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(response)
}
