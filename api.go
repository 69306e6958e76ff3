package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const apiTimeout = 3 * time.Second

type RequestError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (r RequestError) Error() string {
	return fmt.Sprintf("Error %d: %s", r.Code, r.Message)
}

type BalancesRequest struct {
	Address string   `query:"address"`
	Tokens  []string `query:"token"`
}

type BalancesResponse struct {
	Balances []BalanceView `json:"balances"`
}

// @summary		Get balances
// @description	Returns the latest stored balance records of an address.
// @id			api_v1_get_balances
// @tags		balances
// @Produce		json
// @param		address	query	string		true	"Wallet address."
// @param		token	query	[]string	false	"Token ids. All tokens seen for the address by default."	collectionFormat(multi)
// @success		200	{object}	BalancesResponse
// @failure		400	{object}	RequestError
// @router		/api/v1/balances [get]
func (s *Service) GetBalances(c *fiber.Ctx) error {
	var req BalancesRequest
	if err := c.QueryParser(&req); err != nil {
		return RequestError{Code: fiber.StatusUnprocessableEntity, Message: err.Error()}
	}
	if req.Address == "" {
		return RequestError{Code: fiber.StatusBadRequest, Message: "address is required"}
	}
	for _, t := range req.Tokens {
		if _, ok := s.tokens[t]; !ok {
			return RequestError{Code: fiber.StatusBadRequest, Message: fmt.Sprintf("unknown token: %s", t)}
		}
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), apiTimeout)
	defer cancel()

	records, err := s.store.ByAddress(ctx, req.Address, req.Tokens)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return RequestError{Code: fiber.StatusNotFound, Message: "balances not found"}
	}
	return c.JSON(BalancesResponse{Balances: s.views(records)})
}

func errorHandler(logger *logrus.Entry) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var reqErr RequestError
		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &reqErr):
			if reqErr.Code != fiber.StatusNotFound {
				logger.WithFields(logrus.Fields{"code": reqErr.Code, "path": c.Path(), "ip": c.IP()}).Info(reqErr.Message)
			}
			return c.Status(reqErr.Code).JSON(reqErr)
		case errors.As(err, &fiberErr):
			return c.Status(fiberErr.Code).JSON(RequestError{Code: fiberErr.Code, Message: fiberErr.Message})
		default:
			logger.WithError(err).WithField("path", c.Path()).Error("request failed")
		}
		return c.Status(fiber.StatusInternalServerError).JSON(RequestError{
			Code:    fiber.StatusInternalServerError,
			Message: fmt.Sprintf("internal server error: %s", err.Error()),
		})
	}
}
