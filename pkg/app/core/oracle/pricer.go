package oracle

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hypervault/pkg/app/core/registry"
	"github.com/uhyunpark/hypervault/pkg/fixed"
)

// Pricer converts between token amounts and USD using a Source and the
// registry's decimals. The *Min conversions round in the pool's favour.
type Pricer struct {
	src Source
	reg registry.Reader
}

func NewPricer(src Source, reg registry.Reader) *Pricer {
	return &Pricer{src: src, reg: reg}
}

func (p *Pricer) price(token common.Address, wantMax bool) (*uint256.Int, error) {
	price, ok := p.src.GetPrice(token, wantMax)
	if !ok || price == nil || price.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, token.Hex())
	}
	return price, nil
}

func (p *Pricer) MinPrice(token common.Address) (*uint256.Int, error) {
	return p.price(token, false)
}

func (p *Pricer) MaxPrice(token common.Address) (*uint256.Int, error) {
	return p.price(token, true)
}

// TokenToUsdMin values amount at the min price.
func (p *Pricer) TokenToUsdMin(token common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return fixed.Zero(), nil
	}
	price, err := p.MinPrice(token)
	if err != nil {
		return nil, err
	}
	return fixed.MulDiv(amount, price, fixed.Pow10(p.reg.Decimals(token))), nil
}

// UsdToTokenMax converts at the min price, yielding the larger token amount.
func (p *Pricer) UsdToTokenMax(token common.Address, usd *uint256.Int) (*uint256.Int, error) {
	if usd.IsZero() {
		return fixed.Zero(), nil
	}
	price, err := p.MinPrice(token)
	if err != nil {
		return nil, err
	}
	return p.UsdToToken(token, usd, price), nil
}

// UsdToTokenMin converts at the max price, yielding the smaller token amount.
func (p *Pricer) UsdToTokenMin(token common.Address, usd *uint256.Int) (*uint256.Int, error) {
	if usd.IsZero() {
		return fixed.Zero(), nil
	}
	price, err := p.MaxPrice(token)
	if err != nil {
		return nil, err
	}
	return p.UsdToToken(token, usd, price), nil
}

// UsdToToken converts usd at an explicit price.
func (p *Pricer) UsdToToken(token common.Address, usd, price *uint256.Int) *uint256.Int {
	if usd.IsZero() {
		return fixed.Zero()
	}
	return fixed.MulDiv(usd, fixed.Pow10(p.reg.Decimals(token)), price)
}

// Decimals exposes the registry's decimals for token.
func (p *Pricer) Decimals(token common.Address) uint8 {
	return p.reg.Decimals(token)
}
