package bot

import (
	"sync"

	"afml/internal/models"
)

// ValidTransitions определяет допустимые переходы между состояниями сессии
var ValidTransitions = map[string][]string{
	models.SessionInitializing: {models.SessionTrading, models.SessionStopped},
	models.SessionTrading:      {models.SessionEmergency, models.SessionDone, models.SessionStopped},
	models.SessionEmergency:    {models.SessionDone}, // закрытие нельзя прервать
	models.SessionDone:         {},                   // терминальное
	models.SessionStopped:      {},                   // терминальное
}

// CanTransition проверяет допустимость перехода
func CanTransition(from, to string) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// StateInfo возвращает описание состояния для UI
func StateInfo(s string) string {
	switch s {
	case models.SessionInitializing:
		return "Подключение к бирже и настройка аккаунта"
	case models.SessionTrading:
		return "Торговый цикл активен"
	case models.SessionEmergency:
		return "Выполняется экстренное закрытие позиций"
	case models.SessionDone:
		return "Сессия завершена"
	case models.SessionStopped:
		return "Остановлена оператором"
	default:
		return "Неизвестное состояние"
	}
}

// IsTerminal возвращает true если из состояния нет переходов
func IsTerminal(s string) bool {
	return len(ValidTransitions[s]) == 0
}

// SessionTracker ведёт текущее состояние сессии и рассылает переходы
//
// Все смены состояния проходят через Advance: переход, которого нет в
// ValidTransitions, отбрасывается без уведомления. Уведомитель получает
// состояние и его описание для UI.
type SessionTracker struct {
	mu      sync.Mutex
	current string
	notify  func(state, info string)
}

// NewSessionTracker создаёт трекер в указанном начальном состоянии
// notify может быть nil
func NewSessionTracker(initial string, notify func(state, info string)) *SessionTracker {
	return &SessionTracker{current: initial, notify: notify}
}

// Current возвращает текущее состояние
func (t *SessionTracker) Current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Advance переводит сессию в состояние to, если переход допустим
// Возвращает false для недопустимого перехода, состояние не меняется
func (t *SessionTracker) Advance(to string) bool {
	t.mu.Lock()
	if !CanTransition(t.current, to) {
		t.mu.Unlock()
		return false
	}
	t.current = to
	notify := t.notify
	t.mu.Unlock()

	if notify != nil {
		notify(to, StateInfo(to))
	}
	return true
}
