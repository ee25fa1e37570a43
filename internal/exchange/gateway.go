package exchange

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"afml/pkg/ratelimit"
	"afml/pkg/retry"
	"afml/pkg/utils"
)

// Метрики шлюза
var (
	gatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afml_gateway_calls_total",
		Help: "Total gateway calls by operation and result",
	}, []string{"operation", "result"})

	gatewayRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "afml_gateway_retries_total",
		Help: "Total retry attempts by operation",
	}, []string{"operation"})

	gatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "afml_gateway_latency_seconds",
		Help:    "Gateway call latency including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// Gateway оборачивает Exchange политикой повторов и rate limiting
//
// Каждый сетевой вызов проходит через шлюз: transient сбои повторяются
// с экспоненциальной задержкой, permanent отказы возвращаются сразу.
// Шлюз не пишет в журнал сессии - это обязанность вызывающего.
type Gateway struct {
	ex      Exchange
	limiter *ratelimit.RateLimiter
	logger  *utils.Logger

	// Политика повторов для обычных вызовов и для экстренного
	// закрытия позиций (больше попыток, короче задержки)
	normal    retry.Config
	emergency retry.Config
}

// GatewayOption настраивает Gateway
type GatewayOption func(*Gateway)

// WithRetryConfig переопределяет политику повторов обычных вызовов
func WithRetryConfig(cfg retry.Config) GatewayOption {
	return func(g *Gateway) {
		g.normal = cfg
	}
}

// WithEmergencyRetryConfig переопределяет политику повторов экстренного закрытия
func WithEmergencyRetryConfig(cfg retry.Config) GatewayOption {
	return func(g *Gateway) {
		g.emergency = cfg
	}
}

// WithRateLimiter переопределяет ограничитель частоты запросов
func WithRateLimiter(limiter *ratelimit.RateLimiter) GatewayOption {
	return func(g *Gateway) {
		g.limiter = limiter
	}
}

// NewGateway создаёт шлюз вокруг биржи
func NewGateway(ex Exchange, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		ex:        ex,
		limiter:   ratelimit.NewRateLimiter(10, 20),
		logger:    utils.L().WithComponent("gateway").WithExchange(ex.GetName()),
		normal:    retry.DefaultConfig(),
		emergency: retry.AggressiveConfig(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Exchange возвращает обёрнутую биржу
func (g *Gateway) Exchange() Exchange {
	return g.ex
}

// call выполняет операцию через rate limiter и политику повторов
func call[T any](ctx context.Context, g *Gateway, operation string, cfg retry.Config, op func() (T, error)) (T, error) {
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		gatewayRetries.WithLabelValues(operation).Inc()
		g.logger.Warn("retrying " + operation + " after error: " + err.Error())
	}

	start := time.Now()
	result, err := retry.DoWithResult(ctx, func() (T, error) {
		if lerr := g.limiter.Wait(ctx); lerr != nil {
			var zero T
			return zero, retry.Permanent(lerr)
		}
		return op()
	}, cfg)
	gatewayLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err != nil {
		gatewayCalls.WithLabelValues(operation, "error").Inc()
		return result, err
	}
	gatewayCalls.WithLabelValues(operation, "ok").Inc()
	return result, nil
}

// GetAccount получает состояние аккаунта с повторами
func (g *Gateway) GetAccount(ctx context.Context) (*AccountInfo, error) {
	return call(ctx, g, "get_account", g.normal, func() (*AccountInfo, error) {
		return g.ex.GetAccount(ctx)
	})
}

// GetOpenPositions получает открытые позиции с повторами
func (g *Gateway) GetOpenPositions(ctx context.Context) ([]*Position, error) {
	return call(ctx, g, "get_positions", g.normal, func() ([]*Position, error) {
		return g.ex.GetOpenPositions(ctx)
	})
}

// GetMarkPrice получает mark price с повторами
func (g *Gateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return call(ctx, g, "get_mark_price", g.normal, func() (float64, error) {
		return g.ex.GetMarkPrice(ctx, symbol)
	})
}

// PlaceMarketOrder размещает рыночный ордер с повторами
//
// Permanent отказ (биржа отклонила параметры) возвращается после
// единственной попытки - дублирование торгового намерения исключено.
func (g *Gateway) PlaceMarketOrder(ctx context.Context, symbol, side string, qty float64) (*Order, error) {
	return call(ctx, g, "place_order", g.normal, func() (*Order, error) {
		return g.ex.PlaceMarketOrder(ctx, symbol, side, qty)
	})
}

// ClosePosition закрывает позицию с агрессивной политикой повторов
// Используется протоколом экстренного закрытия
func (g *Gateway) ClosePosition(ctx context.Context, pos *Position) (*Order, error) {
	return call(ctx, g, "close_position", g.emergency, func() (*Order, error) {
		return g.ex.ClosePosition(ctx, pos)
	})
}
