package api

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hypervault/pkg/app/core/action"
	"github.com/uhyunpark/hypervault/pkg/app/core/ledger"
	"github.com/uhyunpark/hypervault/pkg/app/core/registry"
	"github.com/uhyunpark/hypervault/pkg/app/vault"
	"github.com/uhyunpark/hypervault/pkg/fixed"
)

func formatUSD(v *uint256.Int) string { return fixed.FormatUSD(v) }

func formatStable(v *uint256.Int) string { return fixed.FormatUnits(v, fixed.StableDecimals) }

func parseUSD(s string) (*uint256.Int, error) { return fixed.ParseUnits(s, fixed.PriceDecimals) }

func parseStableUnits(s string) (*uint256.Int, error) {
	return fixed.ParseUnits(s, fixed.StableDecimals)
}

func tokenInfo(v *vault.Vault, cfg registry.TokenConfig) TokenInfo {
	info := TokenInfo{
		Symbol:        cfg.Symbol,
		Address:       cfg.Address.Hex(),
		Decimals:      cfg.Decimals,
		Weight:        cfg.Weight,
		MinProfitBps:  cfg.MinProfitBps,
		RedemptionBps: cfg.RedemptionBps,
		IsStable:      cfg.IsStable,
		IsShortable:   cfg.IsShortable,
		SelfShorts:    cfg.SelfCollateralShorts,
		Whitelisted:   cfg.Whitelisted,
	}
	if p, err := v.Pricer().MinPrice(cfg.Address); err == nil {
		info.MinPrice = formatUSD(p)
	}
	if p, err := v.Pricer().MaxPrice(cfg.Address); err == nil {
		info.MaxPrice = formatUSD(p)
	}
	return info
}

// poolInfo renders a pool with funding projected to now. detail adds the
// price-dependent redemption figures.
func poolInfo(v *vault.Vault, cfg registry.TokenConfig, detail bool) (PoolInfo, error) {
	pool, err := v.GetPool(cfg.Address)
	if err != nil {
		return PoolInfo{}, err
	}
	fs, err := v.GetFunding(cfg.Address)
	if err != nil {
		return PoolInfo{}, err
	}
	units := func(x *uint256.Int) string { return fixed.FormatUnits(x, cfg.Decimals) }
	info := PoolInfo{
		Token:                 cfg.Address.Hex(),
		Symbol:                cfg.Symbol,
		PoolAmount:            units(&pool.PoolAmount),
		ReservedAmount:        units(&pool.ReservedAmount),
		AvailableAmount:       units(pool.Available()),
		FeeReserve:            units(&pool.FeeReserve),
		GuaranteedUsd:         formatUSD(&pool.GuaranteedUsd),
		StableLiability:       formatStable(&pool.StableLiability),
		Balance:               units(&pool.Balance),
		CumulativeFundingRate: fs.CumulativeRate.Dec(),
		LastFundingTime:       fs.LastFundingTime,
	}
	if !detail {
		return info, nil
	}
	// redemption collateral needs a price; leave it out when there is none
	if usd, err := v.GetRedemptionCollateralUsd(cfg.Address); err == nil {
		info.RedemptionCollateralUsd = formatUSD(usd)
	} else if vault.Classify(err) != vault.KindExternal {
		return PoolInfo{}, err
	}
	target, err := v.GetTargetStableAmount(cfg.Address)
	if err != nil {
		return PoolInfo{}, err
	}
	info.TargetStableAmount = formatStable(target)
	return info, nil
}

func positionInfo(p *ledger.Position) PositionInfo {
	pnl := formatUSD(&p.RealisedPnl)
	if !p.HasRealisedProfit && !p.RealisedPnl.IsZero() {
		pnl = "-" + pnl
	}
	return PositionInfo{
		Key:               p.Key().Hex(),
		Account:           p.Account.Hex(),
		CollateralToken:   p.CollateralToken.Hex(),
		IndexToken:        p.IndexToken.Hex(),
		IsLong:            p.IsLong,
		Open:              p.IsOpen(),
		Size:              formatUSD(&p.Size),
		Collateral:        formatUSD(&p.Collateral),
		AveragePrice:      formatUSD(&p.AveragePrice),
		EntryFundingRate:  p.EntryFundingRate.Dec(),
		ReserveAmount:     p.ReserveAmount.Dec(),
		RealisedPnl:       pnl,
		LastIncreasedTime: p.LastIncreasedTime,
	}
}

func positionInfos(ps []ledger.Position) []PositionInfo {
	out := make([]PositionInfo, 0, len(ps))
	for i := range ps {
		if ps[i].IsOpen() {
			out = append(out, positionInfo(&ps[i]))
		}
	}
	return out
}

func orZero(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}

func (s *Server) actionResponse(r *action.Receipt) ActionResponse {
	reg := s.serial.Vault().Registry()
	units := func(token common.Address, x *uint256.Int) string {
		return fixed.FormatUnits(orZero(x), reg.Decimals(token))
	}

	resp := ActionResponse{
		Status:  "applied",
		Kind:    r.Kind.String(),
		Account: r.Account.Hex(),
		Nonce:   r.Nonce,
	}
	switch {
	case r.Mint != nil:
		resp.Mint = &MintInfo{
			Minted: formatStable(orZero(r.Mint.Minted)),
			Fee:    units(r.Token, r.Mint.FeeTokens),
			FeeBps: r.Mint.FeeBps,
			Price:  formatUSD(orZero(r.Mint.Price)),
		}
	case r.Redeem != nil:
		resp.Redeem = &RedeemInfo{
			AmountOut: units(r.Token, r.Redeem.AmountOut),
			Fee:       units(r.Token, r.Redeem.FeeTokens),
			FeeBps:    r.Redeem.FeeBps,
			Price:     formatUSD(orZero(r.Redeem.Price)),
		}
	case r.Increase != nil:
		resp.Increase = &IncreaseInfo{
			Position:        positionInfo(&r.Increase.Position),
			Price:           formatUSD(orZero(r.Increase.Price)),
			Fee:             formatUSD(orZero(r.Increase.Fee)),
			CollateralDelta: formatUSD(orZero(r.Increase.CollateralDeltaUsd)),
		}
	case r.Decrease != nil:
		d := r.Decrease
		resp.Decrease = &DecreaseInfo{
			Position:      positionInfo(&d.Position),
			Closed:        d.Closed,
			Price:         formatUSD(orZero(d.Price)),
			Fee:           formatUSD(orZero(d.Fee)),
			HasProfit:     d.HasProfit,
			RealisedDelta: formatUSD(orZero(d.RealisedDelta)),
			AmountOut:     units(d.Position.CollateralToken, d.AmountOut),
		}
	case r.Liquidate != nil:
		l := r.Liquidate
		resp.Liquidate = &LiquidationInfo{
			Position:       positionInfo(&l.Position),
			State:          l.State.String(),
			MarginFees:     formatUSD(orZero(l.MarginFees)),
			LiquidationFee: units(l.Position.CollateralToken, l.LiquidationFeeTokens),
		}
	}
	return resp
}
