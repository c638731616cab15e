package ledger

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrStoreClosed = errors.New("ledger: store closed")
	// ErrStorage wraps failures from a persistent backend.
	ErrStorage = errors.New("ledger: storage failure")
)

// Reader serves rows by identity. Missing rows come back as zero values with
// their identity fields filled in, never as an error.
type Reader interface {
	Pool(token common.Address) (PoolState, error)
	Funding(token common.Address) (FundingState, error)
	Position(key PositionKey) (Position, error)
	StableSupply() (uint256.Int, error)
	StableBalance(account common.Address) (uint256.Int, error)
}

// Store is a Reader that can apply a change-set atomically.
type Store interface {
	Reader
	Pools() ([]PoolState, error)
	// OpenPositions lists every position with non-zero size.
	OpenPositions() ([]Position, error)
	AccountPositions(account common.Address) ([]Position, error)
	Commit(cs *ChangeSet) error
	Close() error
}

// MemStore keeps every row in maps. It backs tests and vaultd serve --mem.
type MemStore struct {
	mu        sync.RWMutex
	closed    bool
	pools     map[common.Address]PoolState
	funding   map[common.Address]FundingState
	positions map[PositionKey]Position
	balances  map[common.Address]uint256.Int
	supply    uint256.Int
}

func NewMemStore() *MemStore {
	return &MemStore{
		pools:     make(map[common.Address]PoolState),
		funding:   make(map[common.Address]FundingState),
		positions: make(map[PositionKey]Position),
		balances:  make(map[common.Address]uint256.Int),
	}
}

func (s *MemStore) Pool(token common.Address) (PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.pools[token]; ok {
		return p, nil
	}
	return PoolState{Token: token}, nil
}

func (s *MemStore) Funding(token common.Address) (FundingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.funding[token]; ok {
		return f, nil
	}
	return FundingState{Token: token}, nil
}

// Position returns a zero Position without identity fields when the key is
// unknown; Tx.Position fills identity in from the tuple.
func (s *MemStore) Position(key PositionKey) (Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positions[key], nil
}

func (s *MemStore) StableSupply() (uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.supply, nil
}

func (s *MemStore) StableBalance(account common.Address) (uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[account], nil
}

func (s *MemStore) Pools() ([]PoolState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PoolState, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Token[:], out[j].Token[:]) < 0 })
	return out, nil
}

func (s *MemStore) OpenPositions() ([]Position, error) {
	return s.filterPositions(func(p *Position) bool { return true })
}

func (s *MemStore) AccountPositions(account common.Address) ([]Position, error) {
	return s.filterPositions(func(p *Position) bool { return p.Account == account })
}

func (s *MemStore) filterPositions(keep func(*Position) bool) ([]Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Position
	for _, p := range s.positions {
		if p.IsOpen() && keep(&p) {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out, nil
}

// Commit applies every row in cs while holding the write lock, so readers see
// either none or all of it.
func (s *MemStore) Commit(cs *ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	for token, p := range cs.Pools {
		s.pools[token] = p
	}
	for token, f := range cs.Funding {
		s.funding[token] = f
	}
	for key, p := range cs.Positions {
		s.positions[key] = p
	}
	for account, b := range cs.Balances {
		s.balances[account] = b
	}
	if cs.Supply != nil {
		s.supply = *cs.Supply
	}
	return nil
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func sortPositions(ps []Position) {
	sort.Slice(ps, func(i, j int) bool {
		ki, kj := ps[i].Key(), ps[j].Key()
		return bytes.Compare(ki[:], kj[:]) < 0
	})
}

var _ Store = (*MemStore)(nil)
