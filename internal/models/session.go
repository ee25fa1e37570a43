package models

// Состояния торговой сессии
const (
	SessionInitializing = "initializing" // подключение к бирже, настройка
	SessionTrading      = "trading"      // торговый цикл активен
	SessionEmergency    = "emergency"    // выполняется экстренное закрытие
	SessionDone         = "done"         // сессия завершена штатно или экстренно
	SessionStopped      = "stopped"      // остановлена оператором
)
