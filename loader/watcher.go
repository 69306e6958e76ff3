package loader

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
)

const DefaultAccountsChannel = "accounts:events"

// WatchEvents applies msgpack-encoded AccountEvents published on channel
// until ctx is done.
func WatchEvents(ctx context.Context, client redis.UniversalClient, channel string, dir *balances.AccountDirectory, logger *logrus.Entry) error {
	pubsub := client.Subscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	logger = logger.WithField("channel", channel)
	logger.Info("watching account events")

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive: %w", err)
		}

		var ev balances.AccountEvent
		if err := msgpack.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logger.WithError(err).Warn("bad account event")
			continue
		}
		if ev.Account.Address == "" {
			continue
		}
		dir.Apply(ev)
	}
}
