package position

import "errors"

// Pairing and input errors.
var (
	ErrMismatchedTokens           = errors.New("vault: mismatched tokens")
	ErrLongCollateralStable       = errors.New("vault: long collateral must not be a stable token")
	ErrShortCollateralNotStable   = errors.New("vault: short collateral must be a stable token")
	ErrShortIndexStable           = errors.New("vault: short index must not be a stable token")
	ErrIndexNotShortable          = errors.New("vault: index token not shortable")
	ErrEmptyPosition              = errors.New("vault: empty position")
	ErrPositionSizeExceeded       = errors.New("vault: position size exceeded")
	ErrPositionCollateralExceeded = errors.New("vault: position collateral exceeded")
	ErrInvalidPositionSize        = errors.New("vault: invalid position size")
	ErrSizeMustExceedCollateral   = errors.New("vault: size must exceed collateral")
	ErrInvalidAveragePrice        = errors.New("vault: invalid average price")
)

// Health errors. The existing position is left as it was.
var (
	ErrInsufficientCollateralForFees   = errors.New("vault: insufficient collateral for fees")
	ErrLossesExceedCollateral          = errors.New("vault: losses exceed collateral")
	ErrFeesExceedCollateral            = errors.New("vault: fees exceed collateral")
	ErrLiquidationFeesExceedCollateral = errors.New("vault: liquidation fees exceed collateral")
	ErrMaxLeverageExceeded             = errors.New("vault: max leverage exceeded")
	ErrPositionNotLiquidatable         = errors.New("vault: position cannot be liquidated")
)
