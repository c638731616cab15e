package vault

import (
	"errors"

	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/app/core/oracle"
	"github.com/uhyunpark/hypervault/pkg/app/core/position"
	"github.com/uhyunpark/hypervault/pkg/app/core/registry"
	"github.com/uhyunpark/hypervault/pkg/app/core/stable"
)

var (
	ErrReentrantCall = errors.New("vault: reentrant call")
	ErrArithmetic    = errors.New("vault: arithmetic overflow")
)

// Kind groups errors by who can fix them.
type Kind uint8

const (
	KindNone Kind = iota
	// KindInput is a request the vault will never accept as given.
	KindInput
	// KindSolvency means the pool cannot currently cover the request.
	KindSolvency
	// KindHealth is a position health rule.
	KindHealth
	// KindExternal is a price or storage dependency failing.
	KindExternal
	// KindInternal is a bug or a broken invariant.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindInput:
		return "input"
	case KindSolvency:
		return "solvency"
	case KindHealth:
		return "health"
	case KindExternal:
		return "external"
	default:
		return "internal"
	}
}

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindInput, []error{
		registry.ErrTokenNotWhitelisted,
		registry.ErrTokenNotFound,
		registry.ErrTokenExists,
		registry.ErrInvalidConfig,
		oracle.ErrInvalidPrice,
		oracle.ErrInvalidSpread,
		stable.ErrInvalidAmount,
		stable.ErrInvalidRedemptionAmount,
		stable.ErrTokenNotRedeemable,
		ledger.ErrInsufficientStableBalance,
		position.ErrMismatchedTokens,
		position.ErrLongCollateralStable,
		position.ErrShortCollateralNotStable,
		position.ErrShortIndexStable,
		position.ErrIndexNotShortable,
		position.ErrEmptyPosition,
		position.ErrPositionSizeExceeded,
		position.ErrPositionCollateralExceeded,
		position.ErrInvalidPositionSize,
		position.ErrSizeMustExceedCollateral,
		position.ErrInvalidAveragePrice,
		position.ErrInsufficientCollateralForFees,
	}},
	{KindSolvency, []error{
		ledger.ErrReserveExceedsPool,
		ledger.ErrPoolAmountExceeded,
		stable.ErrInsufficientRedemptionCollateral,
	}},
	{KindHealth, []error{
		position.ErrLossesExceedCollateral,
		position.ErrFeesExceedCollateral,
		position.ErrLiquidationFeesExceedCollateral,
		position.ErrMaxLeverageExceeded,
		position.ErrPositionNotLiquidatable,
	}},
	{KindExternal, []error{
		oracle.ErrPriceUnavailable,
		ledger.ErrStoreClosed,
		ledger.ErrStorage,
	}},
}

// Classify maps err onto a Kind. Unknown errors are internal.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	for _, group := range kinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	return KindInternal
}
