// Package oracle supplies prices to the vault. Source is the boundary the
// engines consume; Feed is the in-process implementation the node runs with.
package oracle

import (
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hypervault/pkg/fixed"
	"github.com/uhyunpark/hypervault/pkg/util"
)

var (
	ErrPriceUnavailable = errors.New("vault: price unavailable")
	ErrInvalidPrice     = errors.New("oracle: price must be positive")
	ErrInvalidSpread    = errors.New("oracle: spread must be below 10000 bps")
)

const (
	// DefaultSampleSpace is how many recent rounds GetPrice considers.
	DefaultSampleSpace = 1
	// MaxRounds bounds the per-token history.
	MaxRounds = 64
)

// Source returns the current price of token scaled to 1e30. wantMax selects
// the side that is worse for the pool. valid is false for stale or missing
// prices.
type Source interface {
	GetPrice(token common.Address, wantMax bool) (price *uint256.Int, valid bool)
}

// Round is one reported price.
type Round struct {
	Price uint256.Int
	At    time.Time
}

// Feed keeps the last rounds per token and answers with the extreme of the
// most recent SampleSpace rounds, widened by the token's spread.
type Feed struct {
	mu          sync.RWMutex
	clock       util.Clock
	maxAge      time.Duration
	sampleSpace int
	spreads     map[common.Address]uint64
	rounds      map[common.Address][]Round
}

// NewFeed creates a feed. maxAge of zero disables the staleness check.
func NewFeed(clock util.Clock, maxAge time.Duration, sampleSpace int) *Feed {
	if sampleSpace <= 0 {
		sampleSpace = DefaultSampleSpace
	}
	return &Feed{
		clock:       clock,
		maxAge:      maxAge,
		sampleSpace: sampleSpace,
		spreads:     make(map[common.Address]uint64),
		rounds:      make(map[common.Address][]Round),
	}
}

// SetPrice records a new round for token at the clock's current time.
func (f *Feed) SetPrice(token common.Address, price *uint256.Int) error {
	if price == nil || price.IsZero() {
		return ErrInvalidPrice
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	rounds := append(f.rounds[token], Round{Price: *price, At: f.clock.Now()})
	if len(rounds) > MaxRounds {
		rounds = rounds[len(rounds)-MaxRounds:]
	}
	f.rounds[token] = rounds
	return nil
}

// SetSpread sets the spread in basis points applied outward from the sampled
// price.
func (f *Feed) SetSpread(token common.Address, bps uint64) error {
	if bps >= fixed.BasisPointsDivisor {
		return ErrInvalidSpread
	}
	f.mu.Lock()
	f.spreads[token] = bps
	f.mu.Unlock()
	return nil
}

// Latest returns the most recent round for token.
func (f *Feed) Latest(token common.Address) (Round, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rounds := f.rounds[token]
	if len(rounds) == 0 {
		return Round{}, false
	}
	return rounds[len(rounds)-1], true
}

func (f *Feed) GetPrice(token common.Address, wantMax bool) (*uint256.Int, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	rounds := f.rounds[token]
	if len(rounds) == 0 {
		return nil, false
	}
	latest := rounds[len(rounds)-1]
	if f.maxAge > 0 && f.clock.Now().Sub(latest.At) > f.maxAge {
		return nil, false
	}

	start := len(rounds) - f.sampleSpace
	if start < 0 {
		start = 0
	}
	price := fixed.Clone(&latest.Price)
	for i := start; i < len(rounds); i++ {
		p := &rounds[i].Price
		if wantMax && p.Cmp(price) > 0 || !wantMax && p.Cmp(price) < 0 {
			price.Set(p)
		}
	}

	if spread := f.spreads[token]; spread > 0 {
		if wantMax {
			price = fixed.MulDiv(price, fixed.U64(fixed.BasisPointsDivisor+spread), fixed.U64(fixed.BasisPointsDivisor))
		} else {
			price = fixed.ApplyBps(price, spread)
		}
	}
	return price, !price.IsZero()
}
