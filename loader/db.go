package loader

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DbClient struct {
	Pool *pgxpool.Pool
}

func NewDbClient(ctx context.Context, dsn string, minConns int, maxConns int) (*DbClient, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	config.MinConns = int32(minConns)
	config.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	return &DbClient{Pool: pool}, nil
}

func (c *DbClient) Ping(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

func (c *DbClient) Close() {
	c.Pool.Close()
}
