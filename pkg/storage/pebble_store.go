package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
)

// PebbleStore persists the vault ledger. Commit writes a change-set as one
// synced batch.
type PebbleStore struct {
	mu     sync.RWMutex
	db     *pebble.DB
	closed bool
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ledger.ErrStorage, path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// get loads key into out. It reports false when the key does not exist.
func (s *PebbleStore) get(key []byte, decode func([]byte) error) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false, ledger.ErrStoreClosed
	}
	val, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get %s: %v", ledger.ErrStorage, key, err)
	}
	defer closer.Close()
	if err := decode(val); err != nil {
		return false, fmt.Errorf("%w: decode %s: %v", ledger.ErrStorage, key, err)
	}
	return true, nil
}

func decodeJSON(out any) func([]byte) error {
	return func(b []byte) error { return json.Unmarshal(b, out) }
}

func decodeInt(out *uint256.Int) func([]byte) error {
	return func(b []byte) error {
		if len(b) != 32 {
			return fmt.Errorf("want 32 bytes, got %d", len(b))
		}
		out.SetBytes(b)
		return nil
	}
}

func (s *PebbleStore) Pool(token common.Address) (ledger.PoolState, error) {
	p := ledger.PoolState{Token: token}
	_, err := s.get(poolKey(token), decodeJSON(&p))
	return p, err
}

func (s *PebbleStore) Funding(token common.Address) (ledger.FundingState, error) {
	f := ledger.FundingState{Token: token}
	_, err := s.get(fundingKey(token), decodeJSON(&f))
	return f, err
}

func (s *PebbleStore) Position(key ledger.PositionKey) (ledger.Position, error) {
	var p ledger.Position
	_, err := s.get(positionKey(key), decodeJSON(&p))
	return p, err
}

func (s *PebbleStore) StableSupply() (uint256.Int, error) {
	var v uint256.Int
	_, err := s.get([]byte(keySupply), decodeInt(&v))
	return v, err
}

func (s *PebbleStore) StableBalance(account common.Address) (uint256.Int, error) {
	var v uint256.Int
	_, err := s.get(balanceKey(account), decodeInt(&v))
	return v, err
}

// scan visits every value under prefix in key order.
func (s *PebbleStore) scan(prefix []byte, fn func(key, val []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ledger.ErrStoreClosed
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("%w: iter: %v", ledger.ErrStorage, err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleStore) Pools() ([]ledger.PoolState, error) {
	var out []ledger.PoolState
	err := s.scan([]byte(prefixPool), func(key, val []byte) error {
		var p ledger.PoolState
		if err := json.Unmarshal(val, &p); err != nil {
			return fmt.Errorf("%w: decode %s: %v", ledger.ErrStorage, key, err)
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (s *PebbleStore) OpenPositions() ([]ledger.Position, error) {
	var out []ledger.Position
	err := s.scan([]byte(prefixPosition), func(key, val []byte) error {
		var p ledger.Position
		if err := json.Unmarshal(val, &p); err != nil {
			return fmt.Errorf("%w: decode %s: %v", ledger.ErrStorage, key, err)
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (s *PebbleStore) AccountPositions(account common.Address) ([]ledger.Position, error) {
	prefix := accountPositionPrefix(account)
	var keys []ledger.PositionKey
	err := s.scan(prefix, func(key, _ []byte) error {
		var k ledger.PositionKey
		if err := k.UnmarshalText([]byte(strings.TrimPrefix(string(key), string(prefix)))); err != nil {
			return fmt.Errorf("%w: index %s: %v", ledger.ErrStorage, key, err)
		}
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]ledger.Position, 0, len(keys))
	for _, k := range keys {
		p, err := s.Position(k)
		if err != nil {
			return nil, err
		}
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	return out, nil
}

// Commit writes every row in cs in a single batch. Closed positions are
// deleted along with their account index entry.
func (s *PebbleStore) Commit(cs *ledger.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ledger.ErrStoreClosed
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for token := range cs.Pools {
		p := cs.Pools[token]
		if err := setJSON(batch, poolKey(token), &p); err != nil {
			return err
		}
	}
	for token := range cs.Funding {
		f := cs.Funding[token]
		if err := setJSON(batch, fundingKey(token), &f); err != nil {
			return err
		}
	}
	for key := range cs.Positions {
		p := cs.Positions[key]
		if !p.IsOpen() {
			if err := batch.Delete(positionKey(key), nil); err != nil {
				return fmt.Errorf("%w: %v", ledger.ErrStorage, err)
			}
			if err := batch.Delete(accountPositionKey(p.Account, key), nil); err != nil {
				return fmt.Errorf("%w: %v", ledger.ErrStorage, err)
			}
			continue
		}
		if err := setJSON(batch, positionKey(key), &p); err != nil {
			return err
		}
		if err := batch.Set(accountPositionKey(p.Account, key), nil, nil); err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrStorage, err)
		}
	}
	for account, b := range cs.Balances {
		raw := b.Bytes32()
		if err := batch.Set(balanceKey(account), raw[:], nil); err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrStorage, err)
		}
	}
	if cs.Supply != nil {
		raw := cs.Supply.Bytes32()
		if err := batch.Set([]byte(keySupply), raw[:], nil); err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrStorage, err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("%w: commit: %v", ledger.ErrStorage, err)
	}
	return nil
}

// setJSON marshals through a pointer so uint256 fields use their decimal
// encoding.
func setJSON(batch *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ledger.ErrStorage, key, err)
	}
	if err := batch.Set(key, data, nil); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrStorage, err)
	}
	return nil
}

var _ ledger.Store = (*PebbleStore)(nil)
