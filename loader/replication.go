package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"github.com/sirupsen/logrus"

	"github.com/kdimentionaltree/wallet-balances-go/balances"
)

const (
	defaultAccountsTable = "public.wallet_accounts"
	defaultSlotName      = "wallet_accounts_slot"
	defaultPublication   = "wallet_accounts_pub"
)

type ReplicationConfig struct {
	// ConnectionString must carry replication=database.
	ConnectionString string
	Table            string
	SlotName         string
	PublicationName  string
	// TemporarySlot slots are dropped when the connection closes.
	TemporarySlot         bool
	CreatePublication     bool
	StandbyMessageTimeout time.Duration
}

func (c *ReplicationConfig) applyDefaults() {
	if c.Table == "" {
		c.Table = defaultAccountsTable
	}
	if c.SlotName == "" {
		c.SlotName = defaultSlotName
	}
	if c.PublicationName == "" {
		c.PublicationName = defaultPublication
	}
	if c.StandbyMessageTimeout == 0 {
		c.StandbyMessageTimeout = 10 * time.Second
	}
}

// Replicator follows logical replication of the accounts table and applies
// every row change to the directory.
type Replicator struct {
	config  ReplicationConfig
	dir     *balances.AccountDirectory
	logger  *logrus.Entry
	conn    *pgconn.PgConn
	decoder *accountDecoder
	lastMsg atomic.Int64
}

func NewReplicator(cfg ReplicationConfig, dir *balances.AccountDirectory, logger *logrus.Entry) (*Replicator, error) {
	if cfg.ConnectionString == "" {
		return nil, errors.New("replication connection string is required")
	}
	cfg.applyDefaults()
	return &Replicator{
		config:  cfg,
		dir:     dir,
		logger:  logger.WithField("component", "replicator"),
		decoder: newAccountDecoder(cfg.Table),
	}, nil
}

// TimeSinceLastMsg is zero-based on the unix epoch until the first message arrives.
func (r *Replicator) TimeSinceLastMsg() time.Duration {
	return time.Since(time.UnixMilli(r.lastMsg.Load()))
}

// Run blocks until ctx is done or the stream fails.
func (r *Replicator) Run(ctx context.Context) error {
	conn, err := pgconn.Connect(ctx, r.config.ConnectionString)
	if err != nil {
		return fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	r.conn = conn
	defer conn.Close(context.Background())

	if r.config.CreatePublication {
		sql := fmt.Sprintf("CREATE PUBLICATION %s FOR TABLE %s;", r.config.PublicationName, r.config.Table)
		if _, err := conn.Exec(ctx, sql).ReadAll(); err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("create publication: %w", err)
		}
	}

	_, err = pglogrepl.CreateReplicationSlot(ctx, conn, r.config.SlotName, "pgoutput",
		pglogrepl.CreateReplicationSlotOptions{Temporary: r.config.TemporarySlot})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("create replication slot: %w", err)
	}

	sysident, err := pglogrepl.IdentifySystem(ctx, conn)
	if err != nil {
		return fmt.Errorf("identify system: %w", err)
	}

	err = pglogrepl.StartReplication(ctx, conn, r.config.SlotName, sysident.XLogPos,
		pglogrepl.StartReplicationOptions{PluginArgs: []string{
			"proto_version '2'",
			fmt.Sprintf("publication_names '%s'", r.config.PublicationName),
			"streaming 'true'",
		}})
	if err != nil {
		return fmt.Errorf("start replication: %w", err)
	}
	r.logger.WithField("slot", r.config.SlotName).Info("replication started")

	return r.receive(ctx, sysident.XLogPos)
}

func (r *Replicator) receive(ctx context.Context, pos pglogrepl.LSN) error {
	deadline := time.Now().Add(r.config.StandbyMessageTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if time.Now().After(deadline) {
			err := pglogrepl.SendStandbyStatusUpdate(ctx, r.conn, pglogrepl.StandbyStatusUpdate{WALWritePosition: pos})
			if err != nil {
				return fmt.Errorf("send standby status: %w", err)
			}
			deadline = time.Now().Add(r.config.StandbyMessageTimeout)
		}

		msgCtx, cancel := context.WithDeadline(ctx, deadline)
		raw, err := r.conn.ReceiveMessage(msgCtx)
		cancel()
		if err != nil {
			if pgconn.Timeout(err) {
				continue
			}
			return fmt.Errorf("receive message: %w", err)
		}
		if errMsg, ok := raw.(*pgproto3.ErrorResponse); ok {
			return fmt.Errorf("postgres error: %s", errMsg.Message)
		}
		r.lastMsg.Store(time.Now().UnixMilli())

		msg, ok := raw.(*pgproto3.CopyData)
		if !ok || len(msg.Data) == 0 {
			continue
		}

		switch msg.Data[0] {
		case pglogrepl.PrimaryKeepaliveMessageByteID:
			pkm, err := pglogrepl.ParsePrimaryKeepaliveMessage(msg.Data[1:])
			if err != nil {
				return fmt.Errorf("parse keepalive: %w", err)
			}
			if pkm.ServerWALEnd > pos {
				pos = pkm.ServerWALEnd
			}
			if pkm.ReplyRequested {
				deadline = time.Time{}
			}

		case pglogrepl.XLogDataByteID:
			xld, err := pglogrepl.ParseXLogData(msg.Data[1:])
			if err != nil {
				return fmt.Errorf("parse xlog data: %w", err)
			}
			events, err := r.decoder.decode(xld.WALData)
			if err != nil {
				return fmt.Errorf("decode wal data: %w", err)
			}
			for _, ev := range events {
				r.dir.Apply(ev)
				r.logger.WithFields(logrus.Fields{"address": ev.Account.Address, "type": ev.Type}).Debug("account changed")
			}
			if xld.WALStart > pos {
				pos = xld.WALStart
			}
		}
	}
}
