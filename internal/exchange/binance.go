package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"afml/pkg/utils"
)

const (
	binanceBaseURL = "https://fapi.binance.com"

	// Коды Binance, транслируемые из HTTP статусов транспортом
	codeTooManyRequests = -1003
)

// Binance реализует Exchange поверх USDT-M Futures REST API
type Binance struct {
	apiKey    string
	secretKey string

	baseURL    string
	symbol     string
	leverage   int
	httpClient *HTTPClient

	connected bool
	logger    *utils.Logger
}

// BinanceConfig содержит параметры подключения к Binance Futures
type BinanceConfig struct {
	BaseURL  string // переопределение для testnet; пустое значение - production
	Symbol   string // торгуемый инструмент, например "BTCUSDT"
	Leverage int    // плечо, устанавливается при подключении
	HTTP     HTTPClientConfig
}

// NewBinance создаёт новый экземпляр клиента Binance Futures
func NewBinance(cfg BinanceConfig) *Binance {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = binanceBaseURL
	}
	return &Binance{
		baseURL:    baseURL,
		symbol:     cfg.Symbol,
		leverage:   cfg.Leverage,
		httpClient: NewHTTPClient(cfg.HTTP),
		logger:     utils.L().WithExchange("binance"),
	}
}

// GetName возвращает имя биржи
func (b *Binance) GetName() string {
	return "binance"
}

// sign создаёт HMAC-SHA256 подпись строки запроса
func (b *Binance) sign(params string) string {
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(params))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет запрос к API с опциональной подписью
//
// Сетевые сбои возвращаются как *TransportError, отказы API как
// *APIError - классификацию потребляет шлюз повторов.
func (b *Binance) doRequest(ctx context.Context, method, endpoint string, params map[string]string, signed bool) ([]byte, error) {
	query := url.Values{}
	for k, v := range params {
		query.Set(k, v)
	}

	if signed {
		query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		query.Set("recvWindow", "5000")
		queryStr := query.Encode()
		query.Set("signature", b.sign(queryStr))
	}

	reqURL := b.baseURL + endpoint
	var reqBody string
	if method == http.MethodGet {
		if len(query) > 0 {
			reqURL += "?" + query.Encode()
		}
	} else {
		reqBody = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(reqBody))
	if err != nil {
		return nil, &TransportError{Exchange: "binance", Op: endpoint, Err: err}
	}

	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("X-MBX-APIKEY", b.apiKey)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Exchange: "binance", Op: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Exchange: "binance", Op: endpoint, Err: err}
	}

	// HTTP 429/418 - rate limit, API отвечает, но запрос надо повторить позже
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
		return nil, &APIError{Exchange: "binance", Code: codeTooManyRequests, Message: "rate limited"}
	}

	if resp.StatusCode >= 400 {
		var apiResp struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if err := json.Unmarshal(body, &apiResp); err != nil || apiResp.Code == 0 {
			return nil, &APIError{Exchange: "binance", Code: resp.StatusCode, Message: string(body)}
		}
		return nil, &APIError{Exchange: "binance", Code: apiResp.Code, Message: apiResp.Msg}
	}

	return body, nil
}

// parseFloat парсит строковое число из ответа API с логированием ошибок
func (b *Binance) parseFloat(value, field string) float64 {
	result, err := strconv.ParseFloat(value, 64)
	if err != nil && value != "" {
		b.logger.Warn(fmt.Sprintf("failed to parse %s %q: %v", field, value, err))
	}
	return result
}

// Connect проверяет доступность API и настраивает аккаунт
// Устанавливает плечо до начала торговли
func (b *Binance) Connect(ctx context.Context, apiKey, secret string) error {
	b.apiKey = apiKey
	b.secretKey = secret

	if _, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/ping", nil, false); err != nil {
		return fmt.Errorf("binance ping: %w", err)
	}

	if b.leverage > 0 {
		params := map[string]string{
			"symbol":   b.symbol,
			"leverage": strconv.Itoa(b.leverage),
		}
		if _, err := b.doRequest(ctx, http.MethodPost, "/fapi/v1/leverage", params, true); err != nil {
			return fmt.Errorf("set leverage: %w", err)
		}
		b.logger.Info(fmt.Sprintf("leverage set to %dx for %s", b.leverage, b.symbol))
	}

	b.connected = true
	return nil
}

// GetAccount получает состояние фьючерсного аккаунта
func (b *Binance) GetAccount(ctx context.Context) (*AccountInfo, error) {
	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v2/account", nil, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		TotalWalletBalance string `json:"totalWalletBalance"`
		TotalUnrealizedPnL string `json:"totalUnrealizedProfit"`
		TotalMarginBalance string `json:"totalMarginBalance"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &TransportError{Exchange: "binance", Op: "parse account", Err: err}
	}

	return &AccountInfo{
		Balance:       b.parseFloat(resp.TotalWalletBalance, "totalWalletBalance"),
		Equity:        b.parseFloat(resp.TotalMarginBalance, "totalMarginBalance"),
		UnrealizedPnL: b.parseFloat(resp.TotalUnrealizedPnL, "totalUnrealizedProfit"),
		UpdatedAt:     time.Now(),
	}, nil
}

// GetOpenPositions получает открытые позиции по торгуемому инструменту
func (b *Binance) GetOpenPositions(ctx context.Context) ([]*Position, error) {
	params := map[string]string{}
	if b.symbol != "" {
		params["symbol"] = b.symbol
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, true)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		Symbol        string `json:"symbol"`
		PositionAmt   string `json:"positionAmt"`
		EntryPrice    string `json:"entryPrice"`
		MarkPrice     string `json:"markPrice"`
		UnrealizedPnL string `json:"unRealizedProfit"`
		Leverage      string `json:"leverage"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &TransportError{Exchange: "binance", Op: "parse positions", Err: err}
	}

	positions := make([]*Position, 0, len(raw))
	for _, p := range raw {
		amt := b.parseFloat(p.PositionAmt, "positionAmt")
		if amt == 0 {
			continue
		}

		side := "LONG"
		qty := amt
		if amt < 0 {
			side = "SHORT"
			qty = -amt
		}

		positions = append(positions, &Position{
			Symbol:        p.Symbol,
			Side:          side,
			Quantity:      qty,
			EntryPrice:    b.parseFloat(p.EntryPrice, "entryPrice"),
			MarkPrice:     b.parseFloat(p.MarkPrice, "markPrice"),
			Leverage:      int(b.parseFloat(p.Leverage, "leverage")),
			UnrealizedPnL: b.parseFloat(p.UnrealizedPnL, "unRealizedProfit"),
			UpdatedAt:     time.Now(),
		})
	}

	return positions, nil
}

// GetMarkPrice получает mark price инструмента
func (b *Binance) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	params := map[string]string{"symbol": symbol}
	body, err := b.doRequest(ctx, http.MethodGet, "/fapi/v1/premiumIndex", params, false)
	if err != nil {
		return 0, err
	}

	var resp struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, &TransportError{Exchange: "binance", Op: "parse mark price", Err: err}
	}
	return b.parseFloat(resp.MarkPrice, "markPrice"), nil
}

// PlaceMarketOrder размещает рыночный ордер
func (b *Binance) PlaceMarketOrder(ctx context.Context, symbol, side string, qty float64) (*Order, error) {
	params := map[string]string{
		"symbol":   symbol,
		"side":     side,
		"type":     "MARKET",
		"quantity": strconv.FormatFloat(qty, 'f', -1, 64),
	}
	return b.placeOrder(ctx, params)
}

// ClosePosition закрывает позицию reduce-only рыночным ордером
func (b *Binance) ClosePosition(ctx context.Context, pos *Position) (*Order, error) {
	side := OrderSideSell
	if pos.Side == "SHORT" {
		side = OrderSideBuy
	}

	params := map[string]string{
		"symbol":     pos.Symbol,
		"side":       side,
		"type":       "MARKET",
		"quantity":   strconv.FormatFloat(pos.Quantity, 'f', -1, 64),
		"reduceOnly": "true",
	}
	return b.placeOrder(ctx, params)
}

func (b *Binance) placeOrder(ctx context.Context, params map[string]string) (*Order, error) {
	body, err := b.doRequest(ctx, http.MethodPost, "/fapi/v1/order", params, true)
	if err != nil {
		return nil, err
	}

	var resp struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Side        string `json:"side"`
		OrigQty     string `json:"origQty"`
		ExecutedQty string `json:"executedQty"`
		AvgPrice    string `json:"avgPrice"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &TransportError{Exchange: "binance", Op: "parse order", Err: err}
	}

	status := "filled"
	switch resp.Status {
	case "PARTIALLY_FILLED":
		status = "partial"
	case "REJECTED", "EXPIRED", "CANCELED":
		status = "rejected"
	}

	return &Order{
		ID:           strconv.FormatInt(resp.OrderID, 10),
		Symbol:       resp.Symbol,
		Side:         resp.Side,
		Quantity:     b.parseFloat(resp.OrigQty, "origQty"),
		FilledQty:    b.parseFloat(resp.ExecutedQty, "executedQty"),
		AvgFillPrice: b.parseFloat(resp.AvgPrice, "avgPrice"),
		Status:       status,
		CreatedAt:    time.Now(),
	}, nil
}

// Close закрывает соединения с биржей
func (b *Binance) Close() error {
	b.httpClient.Close()
	b.connected = false
	return nil
}
