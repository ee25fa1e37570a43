package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"afml/internal/agent"
	"afml/internal/api"
	"afml/internal/audit"
	"afml/internal/bot"
	"afml/internal/config"
	"afml/internal/exchange"
	"afml/internal/models"
	"afml/internal/repository"
	"afml/internal/service"
	"afml/internal/websocket"
	"afml/pkg/retry"
	"afml/pkg/utils"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	logger := utils.L().WithComponent("main")

	startedAt := time.Now()

	// Журнал сессии: два CSV файла на сессию
	sessionLog, err := audit.NewSessionLog(cfg.Audit.Dir, startedAt)
	if err != nil {
		logger.Fatal("Failed to open session log: " + err.Error())
	}
	defer sessionLog.Close()
	logger.Info("session log opened: " + sessionLog.StepsPath())

	// Опциональное зеркало журнала в PostgreSQL
	var db *sql.DB
	if cfg.Database.Enabled {
		db, err = initDatabase(cfg)
		if err != nil {
			logger.Fatal("Failed to connect to database: " + err.Error())
		}
		defer db.Close()
		logger.Info("connected to database: " + cfg.Database.DSNWithoutPassword())
	}

	// Подключение к бирже с настройкой плеча
	binance := exchange.NewBinance(exchange.BinanceConfig{
		BaseURL:  cfg.Exchange.BaseURL,
		Symbol:   cfg.Trading.Symbol,
		Leverage: cfg.Trading.Leverage,
		HTTP:     exchange.DefaultHTTPClientConfig(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := binance.Connect(ctx, cfg.Exchange.APIKey, cfg.Exchange.APISecret); err != nil {
		logger.Fatal("Failed to connect to exchange: " + err.Error())
	}
	defer binance.Close()
	logger.Info("connected to exchange: " + binance.GetName())

	// Шлюз с политикой повторов из конфигурации
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
	retryCfg.InitialDelay = cfg.Retry.InitialDelay
	retryCfg.MaxDelay = cfg.Retry.MaxDelay
	retryCfg.Multiplier = cfg.Retry.Multiplier

	gateway := exchange.NewGateway(binance, exchange.WithRetryConfig(retryCfg))

	// WebSocket hub для real-time наблюдения
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	// События шагов уходят подписчикам и, при включенной базе, в зеркало
	var broadcaster bot.Broadcaster = hub
	if db != nil {
		mirror := repository.NewMirror(db, sessionLog.SessionID())
		broadcaster = bot.NewMultiBroadcaster(hub, mirror)
	}

	// Переходы состояния сессии уходят подписчикам через трекер
	session := bot.NewSessionTracker(models.SessionInitializing, hub.BroadcastSessionState)

	// Координатор экстренного закрытия - единственное разделяемое
	// состояние торгового цикла и монитора
	state := bot.NewEmergencyState()
	protocol := bot.NewProtocol(gateway, sessionLog, state, broadcaster, session)

	monitor := bot.NewMonitor(gateway, state, sessionLog, protocol, bot.MonitorConfig{
		Interval:     cfg.Risk.MonitorInterval,
		MaxDrawdown:  cfg.Risk.MaxDrawdown,
		WarnDrawdown: cfg.Risk.WarnDrawdown,
	})

	// Политика выбирается по имени; модель инференса регистрируется
	// в agent.Register при сборке бинаря
	policy, err := agent.New(cfg.Trading.Policy)
	if err != nil {
		logger.Fatal("Failed to build policy: " + err.Error())
	}
	logger.Info("trading policy: " + cfg.Trading.Policy)

	engine := bot.NewEngine(gateway, policy, sessionLog, state, protocol, broadcaster, bot.EngineConfig{
		Symbol:           cfg.Trading.Symbol,
		StepInterval:     cfg.Trading.StepInterval,
		HoldThreshold:    cfg.Trading.HoldThreshold,
		PositionFraction: cfg.Trading.PositionFraction,
		MinQuantity:      cfg.Trading.MinQuantity,
	})

	// HTTP поверхность наблюдения
	sessionService := service.NewSessionService(sessionLog, state, monitor, cfg.Trading.Symbol, startedAt)
	router := api.SetupRoutes(&api.Dependencies{
		SessionService: sessionService,
		Hub:            hub,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server on " + server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed: " + err.Error())
		}
	}()

	session.Advance(models.SessionTrading)

	// Торговый цикл и монитор просадки - параллельные горутины
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()

	// Статистика сессии уходит подписчикам в ритме торгового цикла
	go func() {
		ticker := time.NewTicker(cfg.Trading.StepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if stats, serr := sessionService.Stats(); serr == nil {
				hub.BroadcastStats(stats)
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	wg.Wait()

	// После экстренного закрытия сессия уже в терминальном done,
	// Advance отбрасывает недопустимый переход
	session.Advance(models.SessionStopped)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown: " + err.Error())
	}

	if state.IsClaimed() {
		logger.Warn("session ended by emergency: " + state.Reason())
		if !state.CanRestart() {
			logger.Warn("restart is blocked: drawdown limit was breached")
		}
	}
	logger.Info("session finished")
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}
