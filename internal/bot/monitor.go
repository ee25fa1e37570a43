package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"afml/internal/audit"
	"afml/internal/models"
	"afml/pkg/utils"
)

// Состояния монитора просадки
type MonitorState string

const (
	MonitorWatching MonitorState = "WATCHING"
	MonitorDone     MonitorState = "DONE"
)

// MonitorConfig - параметры монитора просадки
type MonitorConfig struct {
	Interval     time.Duration // период опроса аккаунта
	MaxDrawdown  float64       // лимит просадки, доля (0.15 = 15%)
	WarnDrawdown float64       // порог предупреждения, 0 отключает
}

// Monitor - независимый наблюдатель просадки
//
// Работает в собственной горутине параллельно торговому циклу: лимит
// просадки проверяется даже когда цикл занят сетевым вызовом. Держит
// собственный DrawdownTracker; с циклом разделяет только EmergencyState
// и журнал.
type Monitor struct {
	gw       ExchangeGateway
	state    *EmergencyState
	log      *audit.SessionLog
	protocol *Protocol
	cfg      MonitorConfig
	logger   *utils.Logger

	tracker DrawdownTracker

	mu    sync.Mutex
	phase MonitorState
}

// NewMonitor создаёт монитор просадки
func NewMonitor(gw ExchangeGateway, state *EmergencyState, log *audit.SessionLog, protocol *Protocol, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Monitor{
		gw:       gw,
		state:    state,
		log:      log,
		protocol: protocol,
		cfg:      cfg,
		logger:   utils.L().WithComponent("monitor"),
		phase:    MonitorWatching,
	}
}

// State возвращает текущую фазу монитора
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Monitor) setState(s MonitorState) {
	m.mu.Lock()
	m.phase = s
	m.mu.Unlock()
}

// Run выполняет цикл наблюдения до отмены контекста или завершения
//
// WATCHING: опрашивать аккаунт, обновлять просадку, проверять лимит.
// Превышение лимита - попытка claim'а; победа означает выполнение
// протокола закрытия, после чего монитор переходит в DONE. Проигрыш
// claim'а (закрытие уже заявлено другим) тоже завершает наблюдение.
// Сбой опроса аккаунта наблюдение не прерывает.
func (m *Monitor) Run(ctx context.Context) {
	defer m.setState(MonitorDone)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if m.state.IsClaimed() {
			return
		}

		account, err := m.gw.GetAccount(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("account poll failed, watching continues: " + err.Error())
			continue
		}

		dd := m.tracker.Update(account.Equity)
		equityGauge.Set(account.Equity)
		drawdownGauge.Set(dd)
		maxDrawdownGauge.Set(m.tracker.MaxDrawdown())

		if m.cfg.WarnDrawdown > 0 && dd >= m.cfg.WarnDrawdown && dd < m.cfg.MaxDrawdown {
			m.logger.Warn(fmt.Sprintf("drawdown warning: %.2f%% (limit %.2f%%)",
				dd*100, m.cfg.MaxDrawdown*100))
		}

		if dd >= m.cfg.MaxDrawdown {
			m.trip(ctx, dd, account.Balance, account.Equity)
			return
		}
	}
}

// trip обрабатывает превышение лимита просадки
func (m *Monitor) trip(ctx context.Context, dd, balance, equity float64) {
	reason := DrawdownReason(dd)

	if !m.state.TryClaim(reason) {
		// Закрытие уже заявлено другим участником
		m.logger.Warn("drawdown limit hit but emergency already claimed: " + m.state.Reason())
		return
	}

	m.logger.Error(fmt.Sprintf("drawdown limit breached: %.2f%% >= %.2f%%",
		dd*100, m.cfg.MaxDrawdown*100))

	// Запись о срабатывании до запуска протокола: если закрытие
	// упадёт, причина останова уже в журнале
	rec := &models.StepRecord{
		Timestamp:   time.Now(),
		Status:      models.StepStatusEmergency,
		Balance:     balance,
		Equity:      equity,
		MaxDrawdown: m.tracker.MaxDrawdown(),
		ActionType:  models.ActionHold,
		Operation:   models.OpHold,
		Error:       reason,
	}
	if err := m.log.AppendStep(rec); err != nil {
		auditFailuresTotal.Inc()
		m.logger.Error("failed to log emergency trigger: " + err.Error())
	}
	stepsTotal.WithLabelValues(models.StepStatusEmergency).Inc()

	m.protocol.Execute(ctx)
}
