package bot

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"afml/internal/models"
)

const drawdownReasonPrefix = "Max drawdown: "

// DrawdownReason форматирует причину экстренного закрытия по просадке
// Формат фиксирован: по нему же работает гейт перезапуска
func DrawdownReason(drawdown float64) string {
	return fmt.Sprintf("%s%.2f%%", drawdownReasonPrefix, drawdown*100)
}

// EmergencyState - координатор экстренного закрытия
//
// Единственное разделяемое изменяемое состояние между торговым циклом
// и монитором просадки. Claim выигрывает ровно один участник: проверка
// и установка атомарны под мьютексом, установленный claim никогда не
// снимается до конца жизни процесса.
type EmergencyState struct {
	mu sync.Mutex

	claimed   bool
	reason    string
	claimedAt time.Time
	outcome   *models.EmergencyOutcome
}

// NewEmergencyState создаёт координатор в незаявленном состоянии
func NewEmergencyState() *EmergencyState {
	return &EmergencyState{}
}

// TryClaim пытается заявить экстренное закрытие с указанной причиной
//
// Возвращает true ровно одному вызывающему - победитель обязан
// выполнить протокол закрытия. Все последующие вызовы возвращают
// false, причина первого claim'а сохраняется.
func (s *EmergencyState) TryClaim(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claimed {
		return false
	}
	s.claimed = true
	s.reason = reason
	s.claimedAt = time.Now()
	emergencyTotal.Inc()
	return true
}

// IsClaimed сообщает, заявлено ли экстренное закрытие
func (s *EmergencyState) IsClaimed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimed
}

// Reason возвращает причину claim'а, пустую строку если claim'а не было
func (s *EmergencyState) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// ClaimedAt возвращает момент claim'а
func (s *EmergencyState) ClaimedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimedAt
}

// RecordOutcome сохраняет результат выполненного протокола закрытия
func (s *EmergencyState) RecordOutcome(o *models.EmergencyOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = o
}

// Outcome возвращает результат протокола, nil если он ещё не выполнен
func (s *EmergencyState) Outcome() *models.EmergencyOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// CanRestart сообщает, допустим ли автоматический перезапуск сессии
//
// Экстренное закрытие по просадке терминально: лимит защищает капитал,
// и перезапуск поверх пробитого лимита его обесценил бы. Остальные
// причины (потеря соединения, отказ биржи) перезапуск допускают.
func (s *EmergencyState) CanRestart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.claimed {
		return true
	}
	return !strings.HasPrefix(s.reason, drawdownReasonPrefix)
}
