package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NotificationSaver интерфейс для сохранения уведомлений в БД.
type NotificationSaver interface {
	CreateNotification(ctx context.Context, profileID uuid.UUID, event string, data interface{}) error
}

// Hub управляет WebSocket клиентами. Помимо адресной доставки по профилю
// хаб ведёт подписки на сессии: тестер и спонсор, наблюдающие одну и ту же
// тестовую сессию, получают её события независимо от адресата уведомления.
type Hub struct {
	mu                sync.RWMutex
	clients           map[uuid.UUID]map[*Client]struct{}
	watchers          map[uuid.UUID]map[*Client]struct{}
	register          chan *Client
	unregister        chan *Client
	broadcast         chan message
	notificationSaver NotificationSaver
	ctx               context.Context
	log               *logrus.Logger
}

type message struct {
	profileID uuid.UUID
	sessionID *uuid.UUID
	payload   []byte
}

// NewHub создаёт новый хаб.
func NewHub(ctx context.Context, log *logrus.Logger) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]map[*Client]struct{}),
		watchers:   make(map[uuid.UUID]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan message, 32),
		ctx:        ctx,
		log:        log,
	}
}

// SetNotificationSaver устанавливает сервис для сохранения уведомлений.
func (h *Hub) SetNotificationSaver(saver NotificationSaver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notificationSaver = saver
}

// Run запускает главный цикл хаба; завершается по отмене контекста.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case msg := <-h.broadcast:
			h.send(msg)
		}
	}
}

// Register добавляет клиента.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister удаляет клиента.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// WatchSession подписывает клиента на события тестовой сессии.
func (h *Hub) WatchSession(client *Client, sessionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.watchers[sessionID]; !ok {
		h.watchers[sessionID] = make(map[*Client]struct{})
	}
	h.watchers[sessionID][client] = struct{}{}
}

// UnwatchSession снимает подписку клиента на сессию.
func (h *Hub) UnwatchSession(client *Client, sessionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropWatcher(client, sessionID)
}

// BroadcastToProfile отправляет событие участнику и сохраняет уведомление
// в БД. Если в данных есть идентификатор сессии, событие также уходит всем
// её наблюдателям.
func (h *Hub) BroadcastToProfile(profileID uuid.UUID, event string, data any) error {
	// Поле "type" содержит имя события, "data" — полезную нагрузку.
	payload := map[string]any{
		"type": event,
		"data": data,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ws: не удалось сериализовать сообщение: %w", err)
	}

	h.mu.RLock()
	saver := h.notificationSaver
	ctx := h.ctx
	h.mu.RUnlock()

	if saver != nil {
		// Сохраняем асинхронно, чтобы не блокировать отправку
		go func() {
			defer func() {
				if r := recover(); r != nil {
					h.log.WithField("panic", r).Error("Паника при сохранении уведомления")
				}
			}()
			if err := saver.CreateNotification(ctx, profileID, event, data); err != nil {
				// Доставку через WebSocket не прерываем
				h.log.WithError(err).Warn("Не удалось сохранить уведомление")
			}
		}()
	}

	h.broadcast <- message{profileID: profileID, sessionID: sessionIDFrom(data), payload: raw}
	return nil
}

// sessionIDFrom достаёт идентификатор сессии из полезной нагрузки события.
func sessionIDFrom(data any) *uuid.UUID {
	fields, ok := data.(map[string]interface{})
	if !ok {
		return nil
	}
	switch v := fields["session_id"].(type) {
	case uuid.UUID:
		return &v
	case string:
		if id, err := uuid.Parse(v); err == nil {
			return &id
		}
	}
	return nil
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.profileID]; !ok {
		h.clients[client.profileID] = make(map[*Client]struct{})
	}
	h.clients[client.profileID][client] = struct{}{}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.profileID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.profileID)
		}
	}
	for sessionID := range h.watchers {
		h.dropWatcher(client, sessionID)
	}
}

// dropWatcher вызывается под h.mu.
func (h *Hub) dropWatcher(client *Client, sessionID uuid.UUID) {
	if watchers, ok := h.watchers[sessionID]; ok {
		delete(watchers, client)
		if len(watchers) == 0 {
			delete(h.watchers, sessionID)
		}
	}
}

func (h *Hub) send(msg message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	recipients := make(map[*Client]struct{}, 2)
	for client := range h.clients[msg.profileID] {
		recipients[client] = struct{}{}
	}
	if msg.sessionID != nil {
		for client := range h.watchers[*msg.sessionID] {
			recipients[client] = struct{}{}
		}
	}

	for client := range recipients {
		select {
		case client.send <- msg.payload:
		default:
			// Медленный клиент: закрываем асинхронно, чтобы не держать цикл
			go func(c *Client) {
				defer func() {
					if r := recover(); r != nil {
						h.log.WithField("panic", r).Error("Паника при закрытии клиента")
					}
				}()
				c.Close()
			}(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.clients {
		for client := range clients {
			client.conn.Close()
		}
	}
	h.clients = make(map[uuid.UUID]map[*Client]struct{})
	h.watchers = make(map[uuid.UUID]map[*Client]struct{})
}
