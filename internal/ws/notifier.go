package ws

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// HubNotifier рассылает события жизненного цикла через хаб: сообщение
// уходит подключённым клиентам и сохраняется в БД. Отправка не блокирует
// вызывающий переход.
type HubNotifier struct {
	hub *Hub
	log *logrus.Logger
}

// NewHubNotifier создаёт нотификатор поверх хаба.
func NewHubNotifier(hub *Hub, log *logrus.Logger) *HubNotifier {
	return &HubNotifier{hub: hub, log: log}
}

// Notify отправляет событие участнику. Ошибка доставки только логируется.
func (n *HubNotifier) Notify(profileID uuid.UUID, event string, payload map[string]interface{}) {
	if err := n.hub.BroadcastToProfile(profileID, event, payload); err != nil {
		n.log.WithError(err).WithFields(logrus.Fields{
			"profile_id": profileID,
			"event":      event,
		}).Warn("Не удалось отправить уведомление")
	}
}
