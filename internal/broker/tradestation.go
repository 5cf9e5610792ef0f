// Package broker contains the TradeStation REST client used to submit
// bracket orders. It handles OAuth2 refresh-token rotation and OSI option
// symbol construction; the pipeline depends only on the executor.Broker
// interface so this client stays swappable.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradegate/internal/domain"
)

// tokenRefreshSlack is subtracted from the token lifetime so we refresh
// proactively instead of racing the expiry.
const tokenRefreshSlack = 60 * time.Second

// Config holds TradeStation API credentials and endpoints.
type Config struct {
	BaseURL      string // e.g. https://sim-api.tradestation.com/v3
	ClientID     string
	ClientSecret string
	RedirectURI  string
	RefreshToken string
	AccountKey   string
}

// TradeStationClient is a minimal client for the TradeStation REST API:
// token refresh, account lookup, and bracket (OCO) order submission. The
// access token is cached and refreshed shortly before expiry.
type TradeStationClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	tokenMu        sync.Mutex
	accessToken    string
	tokenExpiresAt time.Time
}

// NewTradeStationClient creates a client with a 30-second request timeout.
func NewTradeStationClient(cfg Config, logger *slog.Logger) *TradeStationClient {
	return &TradeStationClient{
		cfg: Config{
			BaseURL:      strings.TrimRight(cfg.BaseURL, "/"),
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURI:  cfg.RedirectURI,
			RefreshToken: cfg.RefreshToken,
			AccountKey:   cfg.AccountKey,
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With(slog.String("component", "tradestation")),
	}
}

// orderLeg is one order inside an OCO group, mirroring the TradeStation
// order-group schema.
type orderLeg struct {
	AccountKey  string `json:"AccountKey"`
	Symbol      string `json:"Symbol"`
	Quantity    int    `json:"Quantity"`
	OrderAction string `json:"OrderAction"`
	OrderType   string `json:"OrderType"`
	LimitPrice  string `json:"LimitPrice,omitempty"`
	StopPrice   string `json:"StopPrice,omitempty"`
	TimeInForce string `json:"TimeInForce"`
	Route       string `json:"Route"`
}

// SubmitBracketOrder builds the bracket legs for a signal (entry limit, stop
// exit, optional target exit), posts them as one order group, and returns
// the broker's order ID. The request carries an idempotency key derived from
// the signal identity so a transport-level retry cannot double-submit.
func (c *TradeStationClient) SubmitBracketOrder(ctx context.Context, sig domain.TradeSignal) (string, error) {
	symbol := sig.Symbol
	if sig.Instrument == domain.InstrumentOption {
		symbol = OSISymbol(sig)
	}

	entryAction, exitAction := "Buy", "Sell"
	if sig.Direction == domain.DirectionSell {
		entryAction, exitAction = "Sell", "Buy"
	}

	legs := []orderLeg{
		{
			AccountKey:  c.cfg.AccountKey,
			Symbol:      symbol,
			Quantity:    sig.Quantity,
			OrderAction: entryAction,
			OrderType:   "Limit",
			LimitPrice:  sig.EntryPrice.String(),
			TimeInForce: "Day",
			Route:       "AUTO",
		},
		{
			AccountKey:  c.cfg.AccountKey,
			Symbol:      symbol,
			Quantity:    sig.Quantity,
			OrderAction: exitAction,
			OrderType:   "Stop",
			StopPrice:   sig.StopPrice.String(),
			TimeInForce: "Day",
			Route:       "AUTO",
		},
	}
	if sig.HasTarget() {
		legs = append(legs, orderLeg{
			AccountKey:  c.cfg.AccountKey,
			Symbol:      symbol,
			Quantity:    sig.Quantity,
			OrderAction: exitAction,
			OrderType:   "Limit",
			LimitPrice:  sig.TargetPrice.String(),
			TimeInForce: "Day",
			Route:       "AUTO",
		})
	}

	payload := map[string]any{"Orders": legs}
	headers := map[string]string{"X-Idempotency-Key": sig.IdentityKey()}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/order/groups", payload, headers)
	if err != nil {
		return "", fmt.Errorf("tradestation: submit bracket order: %w", err)
	}

	var resp struct {
		Orders []struct {
			OrderID string `json:"OrderID"`
			Message string `json:"Message"`
		} `json:"Orders"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("tradestation: decode order response: %w", err)
	}
	if len(resp.Orders) == 0 || resp.Orders[0].OrderID == "" {
		return "", fmt.Errorf("tradestation: order group response missing order id")
	}

	c.logger.Info("bracket order accepted",
		slog.String("symbol", symbol),
		slog.String("order_id", resp.Orders[0].OrderID),
		slog.Int("legs", len(legs)),
	)
	return resp.Orders[0].OrderID, nil
}

// Account is the subset of TradeStation account fields the bot inspects.
type Account struct {
	AccountKey string `json:"AccountKey"`
	Name       string `json:"Name"`
	Type       string `json:"Type"`
	Status     string `json:"Status"`
}

// GetAccount fetches the configured account, verifying credentials and
// account key at startup.
func (c *TradeStationClient) GetAccount(ctx context.Context) (Account, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/user/accounts", nil, nil)
	if err != nil {
		return Account{}, fmt.Errorf("tradestation: get accounts: %w", err)
	}

	var accounts []Account
	if err := json.Unmarshal(respBody, &accounts); err != nil {
		return Account{}, fmt.Errorf("tradestation: decode accounts: %w", err)
	}
	for _, a := range accounts {
		if a.AccountKey == c.cfg.AccountKey {
			return a, nil
		}
	}
	return Account{}, fmt.Errorf("tradestation: account %s not found", c.cfg.AccountKey)
}

// OSISymbol builds the OSI option symbol for a signal: root padded to six
// characters, YYMMDD expiration, C or P, and the strike rendered as %08.3f
// with the decimal point removed.
func OSISymbol(sig domain.TradeSignal) string {
	root := sig.Symbol
	if len(root) < 6 {
		root += strings.Repeat(" ", 6-len(root))
	}

	typeCode := "C"
	if sig.OptionType == domain.OptionPut {
		typeCode = "P"
	}

	strike := strings.Replace(fmt.Sprintf("%08.3f", decimalToFloat(sig.Strike)), ".", "", 1)
	return root + sig.Expiration.Format("060102") + typeCode + strike
}

func decimalToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// doRequest performs an authenticated JSON request, refreshing the access
// token first when needed.
func (c *TradeStationClient) doRequest(ctx context.Context, method, path string, body any, headers map[string]string) ([]byte, error) {
	token, err := c.accessTokenFor(ctx)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(respBody, 512))
	}
	return respBody, nil
}

// accessTokenFor returns a valid access token, performing the OAuth2
// refresh-token exchange when the cached token is missing or near expiry.
func (c *TradeStationClient) accessTokenFor(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiresAt) {
		return c.accessToken, nil
	}

	if c.cfg.ClientID == "" || c.cfg.ClientSecret == "" || c.cfg.RefreshToken == "" || c.cfg.RedirectURI == "" {
		return "", fmt.Errorf("tradestation: missing oauth credentials")
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"refresh_token": {c.cfg.RefreshToken},
		"redirect_uri":  {c.cfg.RedirectURI},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/security/authorize",
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("tradestation: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tradestation: token refresh: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("tradestation: read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("tradestation: token refresh status %d: %s", resp.StatusCode, truncate(respBody, 512))
	}

	var payload struct {
		AccessToken string  `json:"access_token"`
		ExpiresIn   float64 `json:"expires_in"`
	}
	if err := json.Unmarshal(respBody, &payload); err != nil {
		return "", fmt.Errorf("tradestation: decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("tradestation: token response missing access_token")
	}

	c.accessToken = payload.AccessToken
	c.tokenExpiresAt = time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - tokenRefreshSlack)
	c.logger.Debug("access token refreshed",
		slog.Time("expires_at", c.tokenExpiresAt),
	)
	return c.accessToken, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
