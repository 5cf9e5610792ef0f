package broker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradegate/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func optionSignal() domain.TradeSignal {
	return domain.TradeSignal{
		ID:          "sig-1",
		Symbol:      "AAPL",
		Direction:   domain.DirectionBuy,
		Instrument:  domain.InstrumentOption,
		Strike:      decimal.RequireFromString("250"),
		Expiration:  time.Date(2026, time.October, 10, 0, 0, 0, 0, time.UTC),
		OptionType:  domain.OptionCall,
		Quantity:    2,
		EntryPrice:  decimal.RequireFromString("1.29"),
		StopPrice:   decimal.RequireFromString("1"),
		TargetPrice: decimal.RequireFromString("2.5"),
	}
}

func TestOSISymbol(t *testing.T) {
	t.Run("call", func(t *testing.T) {
		assert.Equal(t, "AAPL  261010C0250000", OSISymbol(optionSignal()))
	})

	t.Run("put with fractional strike", func(t *testing.T) {
		sig := optionSignal()
		sig.Symbol = "SPXW"
		sig.Strike = decimal.RequireFromString("32.5")
		sig.Expiration = time.Date(2026, time.September, 19, 0, 0, 0, 0, time.UTC)
		sig.OptionType = domain.OptionPut
		assert.Equal(t, "SPXW  260919P0032500", OSISymbol(sig))
	})

	t.Run("six letter root gets no padding", func(t *testing.T) {
		sig := optionSignal()
		sig.Symbol = "GOOGLE"
		assert.Equal(t, "GOOGLE261010C0250000", OSISymbol(sig))
	})
}

// newTestServer stands in for the TradeStation API: it serves the token
// endpoint and delegates order-group posts to the given handler.
func newTestServer(t *testing.T, tokenCalls *atomic.Int64, orders http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/security/authorize", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt-1", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1",
			"expires_in":   1200,
		})
	})
	mux.HandleFunc("/order/groups", orders)
	return httptest.NewServer(mux)
}

func testClient(baseURL string) *TradeStationClient {
	return NewTradeStationClient(Config{
		BaseURL:      baseURL,
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost",
		RefreshToken: "rt-1",
		AccountKey:   "ACC-1",
	}, testLogger())
}

func TestSubmitBracketOrder_OptionWithTarget(t *testing.T) {
	var tokenCalls atomic.Int64
	var captured struct {
		Orders []orderLeg `json:"Orders"`
	}
	var idempotencyKey, authHeader string

	srv := newTestServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		idempotencyKey = r.Header.Get("X-Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"Orders": []map[string]string{{"OrderID": "ORD-42"}},
		})
	})
	defer srv.Close()

	sig := optionSignal()
	orderID, err := testClient(srv.URL).SubmitBracketOrder(context.Background(), sig)
	require.NoError(t, err)
	assert.Equal(t, "ORD-42", orderID)
	assert.Equal(t, "Bearer at-1", authHeader)
	assert.Equal(t, sig.IdentityKey(), idempotencyKey)

	require.Len(t, captured.Orders, 3)

	entry := captured.Orders[0]
	assert.Equal(t, "AAPL  261010C0250000", entry.Symbol)
	assert.Equal(t, "Buy", entry.OrderAction)
	assert.Equal(t, "Limit", entry.OrderType)
	assert.Equal(t, "1.29", entry.LimitPrice)
	assert.Equal(t, 2, entry.Quantity)
	assert.Equal(t, "ACC-1", entry.AccountKey)

	stop := captured.Orders[1]
	assert.Equal(t, "Sell", stop.OrderAction)
	assert.Equal(t, "Stop", stop.OrderType)
	assert.Equal(t, "1", stop.StopPrice)

	target := captured.Orders[2]
	assert.Equal(t, "Sell", target.OrderAction)
	assert.Equal(t, "Limit", target.OrderType)
	assert.Equal(t, "2.5", target.LimitPrice)
}

func TestSubmitBracketOrder_SellEquityWithoutTarget(t *testing.T) {
	var tokenCalls atomic.Int64
	var captured struct {
		Orders []orderLeg `json:"Orders"`
	}

	srv := newTestServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"Orders": []map[string]string{{"OrderID": "ORD-7"}},
		})
	})
	defer srv.Close()

	sig := domain.TradeSignal{
		ID:         "sig-2",
		Symbol:     "TSLA",
		Direction:  domain.DirectionSell,
		Instrument: domain.InstrumentEquity,
		Quantity:   100,
		EntryPrice: decimal.RequireFromString("200"),
		StopPrice:  decimal.RequireFromString("210"),
	}

	_, err := testClient(srv.URL).SubmitBracketOrder(context.Background(), sig)
	require.NoError(t, err)

	require.Len(t, captured.Orders, 2)
	assert.Equal(t, "TSLA", captured.Orders[0].Symbol)
	assert.Equal(t, "Sell", captured.Orders[0].OrderAction)
	assert.Equal(t, "Buy", captured.Orders[1].OrderAction)
}

func TestSubmitBracketOrder_TokenIsCached(t *testing.T) {
	var tokenCalls atomic.Int64

	srv := newTestServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"Orders": []map[string]string{{"OrderID": "ORD-1"}},
		})
	})
	defer srv.Close()

	client := testClient(srv.URL)
	for i := 0; i < 3; i++ {
		_, err := client.SubmitBracketOrder(context.Background(), optionSignal())
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), tokenCalls.Load(), "the access token is reused until near expiry")
}

func TestSubmitBracketOrder_BrokerRejection(t *testing.T) {
	var tokenCalls atomic.Int64

	srv := newTestServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"Message":"insufficient buying power"}`, http.StatusBadRequest)
	})
	defer srv.Close()

	_, err := testClient(srv.URL).SubmitBracketOrder(context.Background(), optionSignal())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestSubmitBracketOrder_MissingOrderID(t *testing.T) {
	var tokenCalls atomic.Int64

	srv := newTestServer(t, &tokenCalls, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"Orders": []map[string]string{}})
	})
	defer srv.Close()

	_, err := testClient(srv.URL).SubmitBracketOrder(context.Background(), optionSignal())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing order id")
}
