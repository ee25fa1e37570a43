// Package websocket рассылает события торговой сессии подписчикам в
// реальном времени: шаги цикла, статистику и экстренные события.
package websocket

import (
	"sync"

	jsoniter "github.com/json-iterator/go"

	"afml/internal/models"
	"afml/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Hub управляет всеми активными WebSocket соединениями
//
// Центральный рассыльщик: торговое ядро отдаёт события сюда, hub
// доставляет их всем подключенным клиентам. Медленный клиент не
// блокирует рассылку - его буфер переполняется и соединение
// закрывается.
type Hub struct {
	// Зарегистрированные клиенты
	clients map[*Client]bool

	// Broadcast канал для отправки сообщений всем клиентам
	broadcast chan []byte

	// Регистрация нового клиента
	register chan *Client

	// Отмена регистрации клиента
	unregister chan *Client

	// Останов главного цикла
	done chan struct{}

	mu     sync.RWMutex
	logger *utils.Logger
}

// NewHub создает новый Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     utils.L().WithComponent("websocket"),
	}
}

// Stop завершает главный цикл Hub и закрывает всех клиентов
func (h *Hub) Stop() {
	close(h.done)
}

// Run запускает главный цикл Hub
// Должен запускаться в отдельной горутине: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Sugar().Debugf("client connected, total: %d", total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Sugar().Debugf("client disconnected, total: %d", total)

		case message := <-h.broadcast:
			// Копируем список клиентов под коротким RLock, отправляем
			// без блокировки: register/unregister не ждут рассылку
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			var toRemove []*Client
			for _, client := range clients {
				select {
				case client.send <- message:
				default:
					// Клиент не успевает читать
					toRemove = append(toRemove, client)
				}
			}

			if len(toRemove) > 0 {
				h.mu.Lock()
				for _, client := range toRemove {
					if _, ok := h.clients[client]; ok {
						delete(h.clients, client)
						close(client.send)
					}
				}
				h.mu.Unlock()
				h.logger.Sugar().Warnf("removed %d slow clients", len(toRemove))
			}
		}
	}
}

// Broadcast сериализует сообщение и рассылает его всем клиентам
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("broadcast marshal failed: " + err.Error())
		return
	}
	h.broadcast <- data
}

// BroadcastStep отправляет завершённый шаг торгового цикла
// Реализует bot.Broadcaster
func (h *Hub) BroadcastStep(rec *models.StepRecord) {
	h.Broadcast(&StepUpdateMessage{
		Type: TypeStepUpdate,
		Step: rec,
	})
}

// BroadcastEmergency отправляет событие экстренного закрытия
// Реализует bot.Broadcaster
func (h *Hub) BroadcastEmergency(reason string, outcome *models.EmergencyOutcome) {
	h.Broadcast(&EmergencyMessage{
		Type:    TypeEmergency,
		Reason:  reason,
		Outcome: outcome,
	})
}

// BroadcastStats отправляет статистику сессии
func (h *Hub) BroadcastStats(stats *models.SessionStats) {
	h.Broadcast(&StatsUpdateMessage{
		Type:  TypeStatsUpdate,
		Stats: stats,
	})
}

// BroadcastSessionState отправляет переход состояния сессии
func (h *Hub) BroadcastSessionState(state, info string) {
	h.Broadcast(&SessionStateMessage{
		Type:  TypeSessionState,
		State: state,
		Info:  info,
	})
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
