package cache

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/toncenter/jetton-lockup/models"
)

// Manager holds all typed caches for the application.
type Manager struct {
	// States: lockup_address -> LockupState (no TTL)
	States *Cache[models.LockupState]

	// ByClaimer: claimer_address -> sorted set of lockup addresses.
	// Score is the deploy time.
	ByClaimer *SortedSetCache

	// History: lockup_address -> sorted set of msgpack ClaimRecord.
	// Score is the lockup seqno at which the event happened.
	History *SortedSetCache

	Events *EventBus
}

func NewManager(client *redis.Client) *Manager {
	return &Manager{
		States: New(Options[models.LockupState]{
			Client:  client,
			Encoder: MsgpackEncoder[models.LockupState](),
			Decoder: MsgpackDecoder[models.LockupState](),
			Prefix:  "lk",
		}),
		ByClaimer: NewSortedSetCache(client, "lkclm"),
		History:   NewSortedSetCache(client, "lkhist"),
		Events:    NewEventBus(client, EventsChannel),
	}
}

func (m *Manager) AppendHistory(ctx context.Context, rec models.ClaimRecord) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return errors.Join(ErrEncodeFailed, err)
	}
	return m.History.Add(ctx, rec.Lockup, float64(rec.Seqno), string(data))
}

// LoadHistory returns records with seqno >= fromSeqno, oldest first.
func (m *Manager) LoadHistory(ctx context.Context, lockup string, fromSeqno uint64, limit int64) ([]models.ClaimRecord, error) {
	members, err := m.History.RangeByScore(ctx, lockup, float64(fromSeqno), float64(^uint64(0)), limit)
	if err != nil {
		return nil, err
	}
	records := make([]models.ClaimRecord, 0, len(members))
	for _, member := range members {
		var rec models.ClaimRecord
		if err := msgpack.Unmarshal([]byte(member), &rec); err != nil {
			return nil, errors.Join(ErrDecodeFailed, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
