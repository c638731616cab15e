package api

import (
	"encoding/json"

	"github.com/uhyunpark/hypervault/pkg/app/vault"
)

// API response types. Amounts are decimal strings: token amounts in whole
// token units, USD values in dollars.

type TokenInfo struct {
	Symbol        string `json:"symbol"`
	Address       string `json:"address"`
	Decimals      uint8  `json:"decimals"`
	Weight        uint64 `json:"weight"`
	MinProfitBps  uint64 `json:"minProfitBps"`
	RedemptionBps uint64 `json:"redemptionBps"`
	IsStable      bool   `json:"isStable"`
	IsShortable   bool   `json:"isShortable"`
	SelfShorts    bool   `json:"selfCollateralShorts"`
	Whitelisted   bool   `json:"whitelisted"`
	MinPrice      string `json:"minPrice,omitempty"` // empty when no valid price
	MaxPrice      string `json:"maxPrice,omitempty"`
}

type PoolInfo struct {
	Token                   string `json:"token"`
	Symbol                  string `json:"symbol"`
	PoolAmount              string `json:"poolAmount"`
	ReservedAmount          string `json:"reservedAmount"`
	AvailableAmount         string `json:"availableAmount"`
	FeeReserve              string `json:"feeReserve"`
	GuaranteedUsd           string `json:"guaranteedUsd"`
	StableLiability         string `json:"stableLiability"`
	Balance                 string `json:"balance"`
	CumulativeFundingRate   string `json:"cumulativeFundingRate"`
	LastFundingTime         uint64 `json:"lastFundingTime"`
	RedemptionCollateralUsd string `json:"redemptionCollateralUsd,omitempty"`
	TargetStableAmount      string `json:"targetStableAmount,omitempty"`
}

type PositionInfo struct {
	Key               string `json:"key"`
	Account           string `json:"account"`
	CollateralToken   string `json:"collateralToken"`
	IndexToken        string `json:"indexToken"`
	IsLong            bool   `json:"isLong"`
	Open              bool   `json:"open"`
	Size              string `json:"size"`
	Collateral        string `json:"collateral"`
	AveragePrice      string `json:"averagePrice"`
	EntryFundingRate  string `json:"entryFundingRate"`
	ReserveAmount     string `json:"reserveAmount"`
	RealisedPnl       string `json:"realisedPnl"` // signed
	LastIncreasedTime uint64 `json:"lastIncreasedTime"`

	// Filled by the single-position endpoint only.
	Delta            string `json:"delta,omitempty"`
	HasProfit        *bool  `json:"hasProfit,omitempty"`
	LeverageBps      string `json:"leverageBps,omitempty"`
	LiquidationState string `json:"liquidationState,omitempty"`
}

type AccountInfo struct {
	Address       string         `json:"address"`
	StableBalance string         `json:"stableBalance"`
	Nonce         uint64         `json:"nonce"`
	Positions     []PositionInfo `json:"positions"`
}

type StableInfo struct {
	Supply string `json:"supply"`
}

type FeeInfo struct {
	Token  string `json:"token"`
	Op     string `json:"op"`
	FeeBps uint64 `json:"feeBps"`
	Amount string `json:"amount"` // stable units priced
}

type MintInfo struct {
	Minted string `json:"minted"`
	Fee    string `json:"fee"`
	FeeBps uint64 `json:"feeBps"`
	Price  string `json:"price"`
}

type RedeemInfo struct {
	AmountOut string `json:"amountOut"`
	Fee       string `json:"fee"`
	FeeBps    uint64 `json:"feeBps"`
	Price     string `json:"price"`
}

type IncreaseInfo struct {
	Position        PositionInfo `json:"position"`
	Price           string       `json:"price"`
	Fee             string       `json:"fee"`
	CollateralDelta string       `json:"collateralDelta"`
}

type DecreaseInfo struct {
	Position      PositionInfo `json:"position"`
	Closed        bool         `json:"closed"`
	Price         string       `json:"price"`
	Fee           string       `json:"fee"`
	HasProfit     bool         `json:"hasProfit"`
	RealisedDelta string       `json:"realisedDelta"`
	AmountOut     string       `json:"amountOut"`
}

type LiquidationInfo struct {
	Position       PositionInfo `json:"position"`
	State          string       `json:"state"`
	MarginFees     string       `json:"marginFees"`
	LiquidationFee string       `json:"liquidationFee"`
}

// ActionResponse reports an applied signed action. One result field is set
// per kind; deposits carry none.
type ActionResponse struct {
	Status    string           `json:"status"`
	Kind      string           `json:"kind"`
	Account   string           `json:"account"`
	Nonce     uint64           `json:"nonce"`
	Mint      *MintInfo        `json:"mint,omitempty"`
	Redeem    *RedeemInfo      `json:"redeem,omitempty"`
	Increase  *IncreaseInfo    `json:"increase,omitempty"`
	Decrease  *DecreaseInfo    `json:"decrease,omitempty"`
	Liquidate *LiquidationInfo `json:"liquidate,omitempty"`
}

type SetPriceRequest struct {
	Token     string  `json:"token"` // symbol or address
	Price     string  `json:"price"` // dollars, e.g. "40000.5"
	SpreadBps *uint64 `json:"spreadBps,omitempty"`
}

type EventsResponse struct {
	Events []json.RawMessage `json:"events"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// ==============================
// WebSocket Messages
// ==============================

// WSSubscribeRequest is sent by clients. Channels: "events",
// "events:<type>", "account:<address>", "token:<symbol>".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

type WSEventMessage struct {
	Type    string      `json:"type"` // always "event"
	Channel string      `json:"channel"`
	Event   vault.Event `json:"event"`
}
