package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kdimentionaltree/wallet-balances-go/balances/models"
)

func setupTestStore(t *testing.T) (*BalanceStore, *redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewBalanceStore(client, "", 0), client, mr
}

func record(address, token, free string, state models.BalanceState) models.BalanceRecord {
	return models.BalanceRecord{
		Address:    address,
		TokenID:    token,
		Free:       free,
		Locked:     "0",
		State:      state,
		ObservedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestPutOverwritesByKey(t *testing.T) {
	s, _, mr := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	if err := s.Put(ctx, []models.BalanceRecord{record("A", "T", "0", models.StatePending)}); err != nil {
		t.Fatalf("put pending: %v", err)
	}
	if err := s.Put(ctx, []models.BalanceRecord{record("A", "T", "1000", models.StateReady)}); err != nil {
		t.Fatalf("put ready: %v", err)
	}

	got, err := s.Get(ctx, "A", "T")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Free != "1000" || got.State != models.StateReady {
		t.Errorf("expected READY 1000, got %s %s", got.State, got.Free)
	}
	if !got.ObservedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("observed_at not preserved: %v", got.ObservedAt)
	}
}

func TestGetMissing(t *testing.T) {
	s, _, mr := setupTestStore(t)
	defer mr.Close()

	_, err := s.Get(context.Background(), "A", "T")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestByAddress(t *testing.T) {
	s, _, mr := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	err := s.Put(ctx, []models.BalanceRecord{
		record("A", "T2", "2", models.StateReady),
		record("A", "T1", "1", models.StateReady),
		record("B", "T1", "5", models.StateReady),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	all, err := s.ByAddress(ctx, "A", nil)
	if err != nil {
		t.Fatalf("by address: %v", err)
	}
	if len(all) != 2 || all[0].TokenID != "T1" || all[1].TokenID != "T2" {
		t.Errorf("unexpected records: %+v", all)
	}

	some, err := s.ByAddress(ctx, "A", []string{"T2", "T9"})
	if err != nil {
		t.Fatalf("by address filtered: %v", err)
	}
	if len(some) != 1 || some[0].Free != "2" {
		t.Errorf("unexpected filtered records: %+v", some)
	}
}

func TestPutPublishesNotification(t *testing.T) {
	s, client, mr := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	pubsub := client.Subscribe(ctx, s.Channel())
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	err := s.Put(ctx, []models.BalanceRecord{
		record("B", "T", "1", models.StateReady),
		record("A", "T", "1", models.StateReady),
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	recvCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := pubsub.ReceiveMessage(recvCtx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	var note Notification
	if err := msgpack.Unmarshal([]byte(msg.Payload), &note); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(note.Addresses) != 2 || note.Addresses[0] != "A" || note.Tokens[0] != "T" {
		t.Errorf("unexpected notification: %+v", note)
	}
}

func TestDecodeFailureIsReported(t *testing.T) {
	s, client, mr := setupTestStore(t)
	defer mr.Close()
	ctx := context.Background()

	client.Set(ctx, recordPrefix+":A:T", "not msgpack", 0)
	_, err := s.Get(ctx, "A", "T")
	if !errors.Is(err, ErrDecodeFailed) {
		t.Errorf("expected ErrDecodeFailed, got %v", err)
	}
}
