package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

const (
	DefaultChannel = "balances:updates"

	recordPrefix = "bal"
	indexPrefix  = "balidx"
)

// Notification is published after every stored batch.
type Notification struct {
	Addresses []string  `msgpack:"addresses" json:"addresses"`
	Tokens    []string  `msgpack:"tokens" json:"tokens"`
	At        time.Time `msgpack:"at" json:"at"`
}

// BalanceStore keeps the latest record per (address, token).
type BalanceStore struct {
	client  redis.UniversalClient
	records *Cache[models.BalanceRecord]
	channel string
	ttl     time.Duration
}

func NewBalanceStore(client redis.UniversalClient, channel string, ttl time.Duration) *BalanceStore {
	if channel == "" {
		channel = DefaultChannel
	}
	return &BalanceStore{
		client: client,
		records: New(Options[models.BalanceRecord]{
			Client:  client,
			Encoder: MsgpackEncoder[models.BalanceRecord](),
			Decoder: MsgpackDecoder[models.BalanceRecord](),
			Prefix:  recordPrefix,
		}),
		channel: channel,
		ttl:     ttl,
	}
}

func indexKey(address string) string {
	return indexPrefix + ":" + address
}

// Put overwrites the stored records and publishes one notification.
// Within a batch the last record for a key wins.
func (s *BalanceStore) Put(ctx context.Context, records []models.BalanceRecord) error {
	if len(records) == 0 {
		return nil
	}

	items := make(map[string]models.BalanceRecord, len(records))
	addresses := mapset.NewThreadUnsafeSet[string]()
	tokens := mapset.NewThreadUnsafeSet[string]()

	pipe := s.client.TxPipeline()
	for _, r := range records {
		items[r.Key()] = r
		addresses.Add(r.Address)
		tokens.Add(r.TokenID)
		pipe.SAdd(ctx, indexKey(r.Address), r.TokenID)
	}
	if err := s.records.MSet(ctx, pipe, items, s.ttl); err != nil {
		return err
	}

	note, err := msgpack.Marshal(Notification{
		Addresses: sorted(addresses),
		Tokens:    sorted(tokens),
		At:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	pipe.Publish(ctx, s.channel, note)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store %d records: %w", len(records), err)
	}
	return nil
}

func (s *BalanceStore) Get(ctx context.Context, address, tokenID string) (models.BalanceRecord, error) {
	r := models.BalanceRecord{Address: address, TokenID: tokenID}
	return s.records.Get(ctx, r.Key())
}

// ByAddress returns the stored records of address, ordered by token id.
// With no tokenIDs every token seen for the address is returned.
func (s *BalanceStore) ByAddress(ctx context.Context, address string, tokenIDs []string) ([]models.BalanceRecord, error) {
	if len(tokenIDs) == 0 {
		members, err := s.client.SMembers(ctx, indexKey(address)).Result()
		if err != nil {
			return nil, fmt.Errorf("read index of %s: %w", address, err)
		}
		tokenIDs = members
	}

	keys := make([]string, len(tokenIDs))
	for i, id := range tokenIDs {
		keys[i] = models.BalanceRecord{Address: address, TokenID: id}.Key()
	}
	found, err := s.records.MGet(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("read records of %s: %w", address, err)
	}

	res := make([]models.BalanceRecord, 0, len(found))
	for _, r := range found {
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].TokenID < res[j].TokenID })
	return res, nil
}

func (s *BalanceStore) Channel() string {
	return s.channel
}

func sorted(s mapset.Set[string]) []string {
	res := s.ToSlice()
	sort.Strings(res)
	return res
}
