package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"afml/internal/audit"
	"afml/internal/exchange"
	"afml/internal/models"
	"afml/pkg/utils"
)

// ExchangeGateway - поверхность биржевого шлюза, нужная ядру
// Реализуется exchange.Gateway; в тестах подменяется фейком
type ExchangeGateway interface {
	GetAccount(ctx context.Context) (*exchange.AccountInfo, error)
	GetOpenPositions(ctx context.Context) ([]*exchange.Position, error)
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
	PlaceMarketOrder(ctx context.Context, symbol, side string, qty float64) (*exchange.Order, error)
	ClosePosition(ctx context.Context, pos *exchange.Position) (*exchange.Order, error)
}

// Protocol - протокол экстренного закрытия всех позиций
//
// Выполняется ровно один раз победителем claim'а. Сбой закрытия одной
// позиции не прерывает протокол: остальные позиции закрываются, ошибки
// накапливаются в итоге. Результат фиксируется в журнале экстренных
// событий и в EmergencyState.
type Protocol struct {
	gw        ExchangeGateway
	log       *audit.SessionLog
	state     *EmergencyState
	broadcast Broadcaster
	session   *SessionTracker
	logger    *utils.Logger

	once    sync.Once
	outcome *models.EmergencyOutcome
}

// NewProtocol создаёт протокол экстренного закрытия
// broadcast и session могут быть nil
func NewProtocol(gw ExchangeGateway, log *audit.SessionLog, state *EmergencyState, broadcast Broadcaster, session *SessionTracker) *Protocol {
	return &Protocol{
		gw:        gw,
		log:       log,
		state:     state,
		broadcast: broadcast,
		session:   session,
		logger:    utils.L().WithComponent("emergency"),
	}
}

// Execute закрывает все открытые позиции и фиксирует итог
//
// Повторный вызов возвращает сохранённый итог без побочных эффектов.
func (p *Protocol) Execute(ctx context.Context) *models.EmergencyOutcome {
	p.once.Do(func() {
		p.outcome = p.run(ctx)
	})
	return p.outcome
}

func (p *Protocol) run(ctx context.Context) *models.EmergencyOutcome {
	reason := p.state.Reason()
	p.logger.Error("emergency unwind started: " + reason)

	if p.session != nil {
		p.session.Advance(models.SessionEmergency)
	}

	outcome := &models.EmergencyOutcome{}

	positions, err := p.gw.GetOpenPositions(ctx)
	if err != nil {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("list positions: %v", err))
	}

	for _, pos := range positions {
		if _, err := p.gw.ClosePosition(ctx, pos); err != nil {
			outcome.Errors = append(outcome.Errors,
				fmt.Sprintf("close %s %s %v: %v", pos.Symbol, pos.Side, pos.Quantity, err))
			continue
		}
		outcome.PositionsClosed++
	}

	// Финальный снимок аккаунта: по нему восстанавливается состояние
	// после рестарта. Сбой снимка не отменяет уже сделанные закрытия.
	if account, err := p.gw.GetAccount(ctx); err != nil {
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("final snapshot: %v", err))
	} else {
		outcome.FinalBalance = account.Balance
		outcome.FinalEquity = account.Equity
	}

	p.state.RecordOutcome(outcome)

	details := "all positions closed"
	if !outcome.Successful() {
		details = strings.Join(outcome.Errors, "; ")
	}

	p.log.AppendEmergency(&models.EmergencyRecord{
		Timestamp:       time.Now(),
		Reason:          reason,
		FinalBalance:    outcome.FinalBalance,
		FinalEquity:     outcome.FinalEquity,
		PositionsClosed: outcome.PositionsClosed,
		Details:         details,
	})

	// Подписчики и зеркало получают событие независимо от того, кто
	// из детекторов выиграл claim
	if p.broadcast != nil {
		p.broadcast.BroadcastEmergency(reason, outcome)
	}
	if p.session != nil {
		p.session.Advance(models.SessionDone)
	}

	p.logger.Error(fmt.Sprintf("emergency unwind finished: closed=%d errors=%d",
		outcome.PositionsClosed, len(outcome.Errors)))
	return outcome
}
