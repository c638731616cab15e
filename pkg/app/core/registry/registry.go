// Package registry holds the per-token configuration the vault reads:
// decimals, target weights, whitelist state and the pairing flags that decide
// which tokens may back longs and shorts.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrTokenExists   = errors.New("registry: token already registered")
	ErrTokenNotFound = errors.New("registry: token not found")
	ErrInvalidConfig = errors.New("registry: invalid token config")

	// ErrTokenNotWhitelisted is returned by the engines for any operation on
	// a token that is not listed or has been deconfigured.
	ErrTokenNotWhitelisted = errors.New("vault: token not whitelisted")
)

// TokenConfig is one listed token.
type TokenConfig struct {
	Symbol   string         `json:"symbol"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	// Weight is the token's target share of the stable-unit backing,
	// relative to the sum of all weights.
	Weight       uint64 `json:"weight"`
	MinProfitBps uint64 `json:"min_profit_bps"`
	// RedemptionBps caps the share of redemption collateral that redeem may
	// draw. Zero disables redemption for the token.
	RedemptionBps uint64 `json:"redemption_bps"`
	IsStable      bool   `json:"is_stable"`
	IsShortable   bool   `json:"is_shortable"`
	// SelfCollateralShorts makes shorts of this token post the token itself
	// as collateral instead of a stable token.
	SelfCollateralShorts bool `json:"self_collateral_shorts"`
	Whitelisted          bool `json:"whitelisted"`
}

func (c TokenConfig) validate() error {
	if c.Address == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidConfig)
	}
	if c.Decimals > 30 {
		return fmt.Errorf("%w: %d decimals", ErrInvalidConfig, c.Decimals)
	}
	if c.MinProfitBps > 10000 || c.RedemptionBps > 10000 {
		return fmt.Errorf("%w: basis points above 10000", ErrInvalidConfig)
	}
	if c.IsStable && c.SelfCollateralShorts {
		return fmt.Errorf("%w: stable token cannot back its own shorts", ErrInvalidConfig)
	}
	return nil
}

// Reader is the read side the engines depend on.
type Reader interface {
	IsWhitelisted(token common.Address) bool
	Decimals(token common.Address) uint8
	TargetWeight(token common.Address) uint64
	TotalWeights() uint64
	MinProfitBps(token common.Address) uint64
	RedemptionBps(token common.Address) uint64
	IsStable(token common.Address) bool
	IsShortable(token common.Address) bool
	SelfCollateralShorts(token common.Address) bool
}

// Registry is a thread-safe in-memory token list.
type Registry struct {
	mu           sync.RWMutex
	tokens       map[common.Address]TokenConfig
	totalWeights uint64
}

func New() *Registry {
	return &Registry{tokens: make(map[common.Address]TokenConfig)}
}

// Register lists a new token. Registering an address twice is an error; use
// Update to change an existing listing.
func (r *Registry) Register(cfg TokenConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[cfg.Address]; exists {
		return fmt.Errorf("%w: %s", ErrTokenExists, cfg.Address.Hex())
	}
	r.tokens[cfg.Address] = cfg
	r.totalWeights += cfg.Weight
	return nil
}

// Update replaces the listing for an already registered token.
func (r *Registry) Update(cfg TokenConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.tokens[cfg.Address]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTokenNotFound, cfg.Address.Hex())
	}
	r.totalWeights = r.totalWeights - prev.Weight + cfg.Weight
	r.tokens[cfg.Address] = cfg
	return nil
}

// Deconfigure delists a token: it stops being whitelisted and its weight drops
// to zero. Ledger rows for it are left untouched.
func (r *Registry) Deconfigure(token common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, exists := r.tokens[token]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTokenNotFound, token.Hex())
	}
	r.totalWeights -= cfg.Weight
	cfg.Weight = 0
	cfg.Whitelisted = false
	r.tokens[token] = cfg
	return nil
}

func (r *Registry) Get(token common.Address) (TokenConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.tokens[token]
	return cfg, ok
}

// BySymbol looks a token up by its symbol, case-insensitively.
func (r *Registry) BySymbol(symbol string) (TokenConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cfg := range r.tokens {
		if strings.EqualFold(cfg.Symbol, symbol) {
			return cfg, true
		}
	}
	return TokenConfig{}, false
}

// List returns every listing sorted by symbol.
func (r *Registry) List() []TokenConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]TokenConfig, 0, len(r.tokens))
	for _, cfg := range r.tokens {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Whitelisted returns the addresses of every whitelisted token.
func (r *Registry) Whitelisted() []common.Address {
	var out []common.Address
	for _, cfg := range r.List() {
		if cfg.Whitelisted {
			out = append(out, cfg.Address)
		}
	}
	return out
}

func (r *Registry) IsWhitelisted(token common.Address) bool {
	cfg, ok := r.Get(token)
	return ok && cfg.Whitelisted
}

func (r *Registry) Decimals(token common.Address) uint8 {
	cfg, _ := r.Get(token)
	return cfg.Decimals
}

func (r *Registry) TargetWeight(token common.Address) uint64 {
	cfg, _ := r.Get(token)
	return cfg.Weight
}

func (r *Registry) TotalWeights() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalWeights
}

func (r *Registry) MinProfitBps(token common.Address) uint64 {
	cfg, _ := r.Get(token)
	return cfg.MinProfitBps
}

func (r *Registry) RedemptionBps(token common.Address) uint64 {
	cfg, _ := r.Get(token)
	return cfg.RedemptionBps
}

func (r *Registry) IsStable(token common.Address) bool {
	cfg, _ := r.Get(token)
	return cfg.IsStable
}

func (r *Registry) IsShortable(token common.Address) bool {
	cfg, _ := r.Get(token)
	return cfg.IsShortable
}

func (r *Registry) SelfCollateralShorts(token common.Address) bool {
	cfg, _ := r.Get(token)
	return cfg.SelfCollateralShorts
}

// ParseTokenConfig parses one listing of the form
//
//	SYMBOL:0xaddress:decimals:weight:minProfitBps[:flags]
//
// where flags is a comma list of "stable", "shortable", "selfshort" and
// "noredeem". "selfshort" implies "shortable".
// Listings parsed this way are whitelisted and fully redeemable unless
// "noredeem" is given.
func ParseTokenConfig(s string) (TokenConfig, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 5 || len(parts) > 6 {
		return TokenConfig{}, fmt.Errorf("%w: %q", ErrInvalidConfig, s)
	}
	if !common.IsHexAddress(parts[1]) {
		return TokenConfig{}, fmt.Errorf("%w: bad address %q", ErrInvalidConfig, parts[1])
	}
	decimals, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return TokenConfig{}, fmt.Errorf("%w: decimals: %v", ErrInvalidConfig, err)
	}
	weight, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return TokenConfig{}, fmt.Errorf("%w: weight: %v", ErrInvalidConfig, err)
	}
	minProfit, err := strconv.ParseUint(parts[4], 10, 64)
	if err != nil {
		return TokenConfig{}, fmt.Errorf("%w: min profit: %v", ErrInvalidConfig, err)
	}

	cfg := TokenConfig{
		Symbol:        strings.ToUpper(parts[0]),
		Address:       common.HexToAddress(parts[1]),
		Decimals:      uint8(decimals),
		Weight:        weight,
		MinProfitBps:  minProfit,
		RedemptionBps: 10000,
		Whitelisted:   true,
	}
	if len(parts) == 6 {
		for _, flag := range strings.Split(parts[5], ",") {
			switch strings.ToLower(strings.TrimSpace(flag)) {
			case "stable":
				cfg.IsStable = true
			case "shortable":
				cfg.IsShortable = true
			case "selfshort":
				cfg.IsShortable = true
				cfg.SelfCollateralShorts = true
			case "noredeem":
				cfg.RedemptionBps = 0
			case "":
			default:
				return TokenConfig{}, fmt.Errorf("%w: unknown flag %q", ErrInvalidConfig, flag)
			}
		}
	}
	return cfg, cfg.validate()
}
