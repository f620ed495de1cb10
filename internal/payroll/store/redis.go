package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"paygate/internal/payroll/address"
	"paygate/internal/payroll/models"
	dErrors "paygate/pkg/domain-errors"
	"paygate/pkg/requestcontext"
)

const (
	// Redis key prefixes for records and per-owner indexes.
	accountKeyPrefix = "paygate:acct:"
	ownerKeyPrefix   = "paygate:owner:"
)

// Redis stores records in Redis. Transactions use WATCH/MULTI: every key a
// callback reads or creates is watched, and the staged writes are applied in
// one MULTI/EXEC. A transaction that loses a race is not retried; it fails
// with ErrAlreadyUsed when the race was over a created address and with
// ErrConflict otherwise.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithRedisTxTimeout bounds transactions that carry no deadline.
func WithRedisTxTimeout(d time.Duration) RedisOption {
	return func(s *Redis) {
		s.timeout = d
	}
}

// NewRedis constructs a Redis-backed record store.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	s := &Redis{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func accountKey(addr address.Address) string {
	return accountKeyPrefix + addr.String()
}

func ownerKey(owner address.Address, kind models.Kind) string {
	return fmt.Sprintf("%s%s:%d", ownerKeyPrefix, owner, uint8(kind))
}

// Stored value: kind (1 byte) | owner (32 bytes) | layout.
func encodeValue(a *Account) []byte {
	buf := make([]byte, 0, 1+address.Size+len(a.Data))
	buf = append(buf, byte(a.Kind))
	buf = append(buf, a.Owner[:]...)
	return append(buf, a.Data...)
}

func decodeValue(addr address.Address, raw []byte) (*Account, error) {
	if len(raw) < 1+address.Size {
		return nil, fmt.Errorf("decode stored account %s: short value", addr)
	}
	acct := &Account{Address: addr, Kind: models.Kind(raw[0])}
	copy(acct.Owner[:], raw[1:1+address.Size])
	acct.Data = append([]byte(nil), raw[1+address.Size:]...)
	return acct, nil
}

func (s *Redis) Get(ctx context.Context, addr address.Address) (*Account, error) {
	raw, err := s.client.Get(ctx, accountKey(addr)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return decodeValue(addr, raw)
}

func (s *Redis) ListByOwner(ctx context.Context, owner address.Address, kind models.Kind) ([]*Account, error) {
	members, err := s.client.ZRange(ctx, ownerKey(owner, kind), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list accounts by owner: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = accountKeyPrefix + m
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load accounts by owner: %w", err)
	}
	out := make([]*Account, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		addr, err := address.Parse(members[i])
		if err != nil {
			return nil, fmt.Errorf("parse indexed address: %w", err)
		}
		acct, err := decodeValue(addr, []byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

func (s *Redis) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	timeout := s.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var view *redisTx
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		view = &redisTx{tx: tx, staged: make(map[address.Address]*Account)}
		if err := fn(ctx, view); err != nil {
			return err
		}
		if len(view.order) == 0 {
			return nil
		}
		score := float64(requestcontext.Now(ctx).UnixNano())
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, addr := range view.order {
				acct := view.staged[addr]
				pipe.Set(ctx, accountKey(addr), encodeValue(acct), 0)
				if view.created[addr] {
					pipe.ZAdd(ctx, ownerKey(acct.Owner, acct.Kind), redis.Z{Score: score, Member: addr.String()})
				}
			}
			return nil
		})
		return err
	})
	if errors.Is(err, redis.TxFailedErr) {
		return s.raceError(ctx, view)
	}
	return err
}

// raceError reports ErrAlreadyUsed when another writer took an address this
// transaction meant to create.
func (s *Redis) raceError(ctx context.Context, view *redisTx) error {
	for addr := range view.created {
		n, err := s.client.Exists(ctx, accountKey(addr)).Result()
		if err != nil {
			return fmt.Errorf("check raced account: %w", err)
		}
		if n > 0 {
			return ErrAlreadyUsed
		}
	}
	return fmt.Errorf("concurrent update: %w", ErrConflict)
}

type redisTx struct {
	tx      *redis.Tx
	staged  map[address.Address]*Account
	created map[address.Address]bool
	order   []address.Address
}

func (t *redisTx) Get(ctx context.Context, addr address.Address) (*Account, error) {
	if acct, ok := t.staged[addr]; ok {
		return clone(acct), nil
	}
	key := accountKey(addr)
	if err := t.tx.Watch(ctx, key).Err(); err != nil {
		return nil, fmt.Errorf("watch account: %w", err)
	}
	raw, err := t.tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	return decodeValue(addr, raw)
}

func (t *redisTx) Create(ctx context.Context, account *Account) error {
	if _, ok := t.staged[account.Address]; ok {
		return ErrAlreadyUsed
	}
	exists, err := t.watchExists(ctx, account.Address)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyUsed
	}
	if t.created == nil {
		t.created = make(map[address.Address]bool)
	}
	t.created[account.Address] = true
	t.stage(account)
	return nil
}

func (t *redisTx) Update(ctx context.Context, account *Account) error {
	if _, ok := t.staged[account.Address]; !ok {
		exists, err := t.watchExists(ctx, account.Address)
		if err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	t.stage(account)
	return nil
}

func (t *redisTx) watchExists(ctx context.Context, addr address.Address) (bool, error) {
	key := accountKey(addr)
	if err := t.tx.Watch(ctx, key).Err(); err != nil {
		return false, fmt.Errorf("watch account: %w", err)
	}
	n, err := t.tx.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check account: %w", err)
	}
	return n > 0, nil
}

func (t *redisTx) stage(account *Account) {
	if _, ok := t.staged[account.Address]; !ok {
		t.order = append(t.order, account.Address)
	}
	t.staged[account.Address] = clone(account)
}
