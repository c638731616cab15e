// Package funding accrues the per-token cumulative funding rate that open
// positions pay for the pool capacity they hold reserved.
package funding

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/app/core/registry"
	"github.com/uhyunpark/hypervault/pkg/fixed"
)

var ErrInvalidInterval = errors.New("funding: interval must be positive")

// Params configures accrual. Rate factors are per interval at 1e6 precision.
type Params struct {
	IntervalSeconds  uint64
	RateFactor       uint64
	StableRateFactor uint64
}

// Engine is stateless; every call reads and stages rows through the Tx.
type Engine struct {
	params Params
	reg    registry.Reader
}

func New(params Params, reg registry.Reader) (*Engine, error) {
	if params.IntervalSeconds == 0 {
		return nil, ErrInvalidInterval
	}
	return &Engine{params: params, reg: reg}, nil
}

func (e *Engine) Params() Params { return e.params }

// Update accrues funding for token up to now. The first touch only aligns
// lastFundingTime to the interval; later calls add one rate step per elapsed
// interval and never accrue twice inside the same interval. It reports whether
// the cumulative rate moved.
func (e *Engine) Update(tx *ledger.Tx, token common.Address, now uint64) (bool, error) {
	st, err := tx.Funding(token)
	if err != nil {
		return false, err
	}
	interval := e.params.IntervalSeconds
	aligned := now / interval * interval

	if st.LastFundingTime == 0 {
		st.LastFundingTime = aligned
		tx.PutFunding(st)
		return false, nil
	}
	if st.LastFundingTime+interval > now {
		return false, nil
	}

	rate, err := e.NextRate(tx, token, now, st.LastFundingTime)
	if err != nil {
		return false, err
	}
	st.CumulativeRate = *fixed.Add(&st.CumulativeRate, rate)
	st.LastFundingTime = aligned
	tx.PutFunding(st)
	return !rate.IsZero(), nil
}

// NextRate is the rate that Update would add at now given lastFundingTime:
// factor * reserved * intervals / pool, zero for an empty pool.
func (e *Engine) NextRate(tx *ledger.Tx, token common.Address, now, lastFundingTime uint64) (*uint256.Int, error) {
	if lastFundingTime+e.params.IntervalSeconds > now {
		return fixed.Zero(), nil
	}
	intervals := (now - lastFundingTime) / e.params.IntervalSeconds

	pool, err := tx.Pool(token)
	if err != nil {
		return nil, err
	}
	if pool.PoolAmount.IsZero() {
		return fixed.Zero(), nil
	}

	factor := e.params.RateFactor
	if e.reg.IsStable(token) {
		factor = e.params.StableRateFactor
	}
	num := fixed.Mul(fixed.Mul(fixed.U64(factor), &pool.ReservedAmount), fixed.U64(intervals))
	return fixed.Div(num, &pool.PoolAmount), nil
}

// CumulativeRate returns the staged cumulative rate for token.
func (e *Engine) CumulativeRate(tx *ledger.Tx, token common.Address) (*uint256.Int, error) {
	st, err := tx.Funding(token)
	if err != nil {
		return nil, err
	}
	return fixed.Clone(&st.CumulativeRate), nil
}

// Fee is the funding a position of size owes since entryRate.
func (e *Engine) Fee(tx *ledger.Tx, token common.Address, size, entryRate *uint256.Int) (*uint256.Int, error) {
	if size.IsZero() {
		return fixed.Zero(), nil
	}
	cumulative, err := e.CumulativeRate(tx, token)
	if err != nil {
		return nil, err
	}
	rate := fixed.SubFloor(cumulative, entryRate)
	if rate.IsZero() {
		return rate, nil
	}
	return fixed.MulDiv(size, rate, fixed.U64(fixed.FundingRatePrecision)), nil
}

// Utilisation is reserved / pool at 1e6 precision.
func Utilisation(pool *ledger.PoolState) *uint256.Int {
	if pool.PoolAmount.IsZero() {
		return fixed.Zero()
	}
	return fixed.MulDiv(&pool.ReservedAmount, fixed.U64(fixed.FundingRatePrecision), &pool.PoolAmount)
}
