package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hypervault/pkg/app/core/action"
	"github.com/uhyunpark/hypervault/pkg/app/core/oracle"
	"github.com/uhyunpark/hypervault/pkg/app/core/position"
	"github.com/uhyunpark/hypervault/pkg/app/core/stable"
	"github.com/uhyunpark/hypervault/pkg/app/vault"
	"github.com/uhyunpark/hypervault/pkg/app/vault/vaulttest"
	"github.com/uhyunpark/hypervault/pkg/crypto"
)

type fakeEvents struct{ lines []json.RawMessage }

func (f *fakeEvents) Tail(limit int) ([]json.RawMessage, error) {
	if limit == 0 || limit >= len(f.lines) {
		return f.lines, nil
	}
	return f.lines[len(f.lines)-limit:], nil
}

type testServer struct {
	fx     *vaulttest.Fixture
	srv    *Server
	key    *crypto.Signer
	exec   *action.Executor
	events *fakeEvents
}

func newTestServer(t *testing.T, devPrices bool) *testServer {
	t.Helper()
	fx := vaulttest.New(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	exec := action.NewExecutor(action.NewVerifier(crypto.DefaultDomain(), fx.Clock), fx.Serial, nil)
	events := &fakeEvents{}

	var feed *oracle.Feed
	if devPrices {
		feed = fx.Feed
	}
	srv := NewServer(Options{Serial: fx.Serial, Executor: exec, Feed: feed, Events: events})
	return &testServer{fx: fx, srv: srv, key: key, exec: exec, events: events}
}

func (ts *testServer) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) submit(t *testing.T, a *crypto.VaultAction) *httptest.ResponseRecorder {
	t.Helper()
	sa, err := action.Sign(ts.exec.Verifier().Signer(), ts.key, a)
	require.NoError(t, err)
	body, err := json.Marshal(sa)
	require.NoError(t, err)
	return ts.do(t, "POST", "/api/v1/actions", body)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func mint(account common.Address, sats, nonce int64) *crypto.VaultAction {
	return &crypto.VaultAction{
		Kind:            crypto.ActionMint,
		Account:         account,
		CollateralToken: vaulttest.BTC,
		Amount:          big.NewInt(sats),
		Nonce:           big.NewInt(nonce),
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	rec := ts.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}

func TestGetTokens(t *testing.T) {
	ts := newTestServer(t, false)

	tokens := decode[[]TokenInfo](t, ts.do(t, "GET", "/api/v1/tokens", nil))
	require.Len(t, tokens, 2)

	rec := ts.do(t, "GET", "/api/v1/tokens/btc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[TokenInfo](t, rec)
	require.Equal(t, "BTC", info.Symbol)
	require.Equal(t, uint8(8), info.Decimals)
	require.Equal(t, "40000", info.MinPrice)
	require.Equal(t, "40000", info.MaxPrice)

	rec = ts.do(t, "GET", "/api/v1/tokens/"+vaulttest.DAI.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[TokenInfo](t, rec).IsStable)

	rec = ts.do(t, "GET", "/api/v1/tokens/ETH", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitMintAction(t *testing.T) {
	ts := newTestServer(t, false)
	account := ts.key.Address()

	rec := ts.submit(t, mint(account, 250000, 1))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[ActionResponse](t, rec)
	require.Equal(t, "applied", resp.Status)
	require.Equal(t, "mint", resp.Kind)
	require.NotNil(t, resp.Mint)
	require.Equal(t, "99.7", resp.Mint.Minted)
	require.Equal(t, "0.0000075", resp.Mint.Fee)
	require.Equal(t, uint64(30), resp.Mint.FeeBps)

	acct := decode[AccountInfo](t, ts.do(t, "GET", "/api/v1/accounts/"+account.Hex(), nil))
	require.Equal(t, "99.7", acct.StableBalance)
	require.Equal(t, uint64(1), acct.Nonce)
	require.Empty(t, acct.Positions)

	pool := decode[PoolInfo](t, ts.do(t, "GET", "/api/v1/pools/BTC", nil))
	require.Equal(t, "0.0024925", pool.PoolAmount)
	require.Equal(t, "0.0025", pool.Balance)
	require.Equal(t, "99.7", pool.StableLiability)
	require.NotEmpty(t, pool.RedemptionCollateralUsd)

	require.Equal(t, "99.7", decode[StableInfo](t, ts.do(t, "GET", "/api/v1/stable", nil)).Supply)
}

func TestSubmitActionErrors(t *testing.T) {
	ts := newTestServer(t, false)
	account := ts.key.Address()

	require.Equal(t, http.StatusOK, ts.submit(t, mint(account, 250000, 1)).Code)

	// replayed nonce
	rec := ts.submit(t, mint(account, 250000, 1))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// signed by someone else
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	sa, err := action.Sign(ts.exec.Verifier().Signer(), other, mint(account, 250000, 2))
	require.NoError(t, err)
	body, _ := json.Marshal(sa)
	rec = ts.do(t, "POST", "/api/v1/actions", body)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", decode[ErrorResponse](t, rec).Kind)

	rec = ts.do(t, "POST", "/api/v1/actions", []byte(`{"action":{}}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// more than the redeemable share of the pool
	rec = ts.submit(t, &crypto.VaultAction{
		Kind:            crypto.ActionRedeem,
		Account:         account,
		CollateralToken: vaulttest.BTC,
		Amount:          new(big.Int).Mul(big.NewInt(90), big.NewInt(1e18)),
		Nonce:           big.NewInt(3),
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "solvency", decode[ErrorResponse](t, rec).Kind)
}

func TestGetPosition(t *testing.T) {
	ts := newTestServer(t, false)
	alice := common.HexToAddress("0x1111111111111111111111111111111111111111")
	ts.fx.SeedBTC(t, alice)
	ts.fx.OpenLong(t, alice, 25000, 90)

	path := fmt.Sprintf("/api/v1/positions/%s/%s/%s/long", alice.Hex(), vaulttest.BTC.Hex(), vaulttest.BTC.Hex())
	rec := ts.do(t, "GET", path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	info := decode[PositionInfo](t, rec)
	require.True(t, info.Open)
	require.Equal(t, "90", info.Size)
	require.Equal(t, "40000", info.AveragePrice)
	require.Equal(t, "healthy", info.LiquidationState)
	require.NotNil(t, info.HasProfit)
	require.NotEmpty(t, info.LeverageBps)

	ts.fx.SetPrice(vaulttest.BTC, 37000)
	info = decode[PositionInfo](t, ts.do(t, "GET", path, nil))
	require.Equal(t, "liquidatable", info.LiquidationState)
	require.False(t, *info.HasProfit)

	open := decode[[]PositionInfo](t, ts.do(t, "GET", "/api/v1/positions", nil))
	require.Len(t, open, 1)

	rec = ts.do(t, "GET", fmt.Sprintf("/api/v1/positions/%s/%s/%s/sideways", alice.Hex(), vaulttest.BTC.Hex(), vaulttest.BTC.Hex()), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, "GET", "/api/v1/positions/nope/"+vaulttest.BTC.Hex()+"/"+vaulttest.BTC.Hex()+"/long", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetFees(t *testing.T) {
	ts := newTestServer(t, false)

	rec := ts.do(t, "GET", "/api/v1/pools/BTC/fees?op=redeem&amount=100", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fee := decode[FeeInfo](t, rec)
	require.Equal(t, "redeem", fee.Op)
	require.Equal(t, uint64(30), fee.FeeBps)
	require.Equal(t, "100", fee.Amount)

	rec = ts.do(t, "GET", "/api/v1/pools/BTC/fees?op=swap&amount=1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, "GET", "/api/v1/pools/BTC/fees?amount=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetPrice(t *testing.T) {
	ts := newTestServer(t, true)

	rec := ts.do(t, "POST", "/api/v1/prices", []byte(`{"token":"BTC","price":"41000.5","spreadBps":10}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	info := decode[TokenInfo](t, rec)
	require.Equal(t, "40959.4995", info.MinPrice)
	require.Equal(t, "41041.5005", info.MaxPrice)

	rec = ts.do(t, "POST", "/api/v1/prices", []byte(`{"token":"BTC","price":"abc"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, "POST", "/api/v1/prices", []byte(`{"token":"XYZ","price":"1"}`))
	require.Equal(t, http.StatusNotFound, rec.Code)

	// not routed without a dev feed
	ts = newTestServer(t, false)
	rec = ts.do(t, "POST", "/api/v1/prices", []byte(`{"token":"BTC","price":"1"}`))
	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestGetEvents(t *testing.T) {
	ts := newTestServer(t, false)
	ts.events.lines = []json.RawMessage{
		json.RawMessage(`{"type":"mint"}`),
		json.RawMessage(`{"type":"increase_position"}`),
	}

	resp := decode[EventsResponse](t, ts.do(t, "GET", "/api/v1/events?limit=1", nil))
	require.Len(t, resp.Events, 1)
	require.JSONEq(t, `{"type":"increase_position"}`, string(resp.Events[0]))

	rec := ts.do(t, "GET", "/api/v1/events?limit=x", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", action.ErrInvalidSignature), http.StatusUnauthorized},
		{action.ErrStaleNonce, http.StatusBadRequest},
		{action.ErrExpired, http.StatusBadRequest},
		{stable.ErrInvalidAmount, http.StatusBadRequest},
		{stable.ErrInsufficientRedemptionCollateral, http.StatusConflict},
		{position.ErrLossesExceedCollateral, http.StatusUnprocessableEntity},
		{oracle.ErrPriceUnavailable, http.StatusServiceUnavailable},
		{vault.ErrArithmetic, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got, _ := statusFor(tt.err)
		require.Equal(t, tt.want, got, tt.err.Error())
	}
}

func TestEventChannels(t *testing.T) {
	alice := common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")
	ev := vault.Event{Type: vault.EventMint, Account: &alice}

	chans := eventChannels(ev, "btc")
	require.Equal(t, []string{
		"events",
		"events:mint",
		"account:0xabcdef0000000000000000000000000000000001",
		"token:BTC",
	}, chans)

	c := &Client{subscriptions: make(map[string]bool)}
	c.Subscribe("account:" + alice.Hex())
	ch, ok := c.firstSubscribed(chans)
	require.True(t, ok)
	require.Equal(t, "account:0xabcdef0000000000000000000000000000000001", ch)

	c.Unsubscribe("account:" + alice.Hex())
	_, ok = c.firstSubscribed(chans)
	require.False(t, ok)
}
