package ws

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestClient(hub *Hub, profileID uuid.UUID) *Client {
	return &Client{
		hub:       hub,
		profileID: profileID,
		send:      make(chan []byte, 4),
	}
}

func TestHub_SendToProfile(t *testing.T) {
	hub := NewHub(context.Background(), quietLogger())
	profileID := uuid.New()
	client := newTestClient(hub, profileID)
	hub.addClient(client)

	hub.send(message{profileID: profileID, payload: []byte(`{"type":"session_accepted"}`)})

	assert.Len(t, client.send, 1)
}

func TestHub_SessionWatcherReceivesEvent(t *testing.T) {
	hub := NewHub(context.Background(), quietLogger())
	sessionID := uuid.New()
	tester := newTestClient(hub, uuid.New())
	sponsor := newTestClient(hub, uuid.New())
	hub.addClient(tester)
	hub.addClient(sponsor)

	// Спонсор наблюдает за сессией: событие, адресованное тестеру,
	// должно дойти и до него.
	hub.WatchSession(sponsor, sessionID)

	hub.send(message{
		profileID: tester.profileID,
		sessionID: &sessionID,
		payload:   []byte(`{"type":"purchase_submitted"}`),
	})

	assert.Len(t, tester.send, 1)
	assert.Len(t, sponsor.send, 1)
}

func TestHub_WatcherGetsSingleCopy(t *testing.T) {
	hub := NewHub(context.Background(), quietLogger())
	sessionID := uuid.New()
	tester := newTestClient(hub, uuid.New())
	hub.addClient(tester)

	// Адресат, подписанный на ту же сессию, получает одно сообщение.
	hub.WatchSession(tester, sessionID)

	hub.send(message{
		profileID: tester.profileID,
		sessionID: &sessionID,
		payload:   []byte(`{"type":"session_completed"}`),
	})

	assert.Len(t, tester.send, 1)
}

func TestHub_UnwatchStopsDelivery(t *testing.T) {
	hub := NewHub(context.Background(), quietLogger())
	sessionID := uuid.New()
	watcher := newTestClient(hub, uuid.New())
	hub.addClient(watcher)

	hub.WatchSession(watcher, sessionID)
	hub.UnwatchSession(watcher, sessionID)

	hub.send(message{
		profileID: uuid.New(),
		sessionID: &sessionID,
		payload:   []byte(`{"type":"dispute_opened"}`),
	})

	assert.Empty(t, watcher.send)
}

func TestHub_RemoveClientDropsWatches(t *testing.T) {
	hub := NewHub(context.Background(), quietLogger())
	sessionID := uuid.New()
	watcher := newTestClient(hub, uuid.New())
	hub.addClient(watcher)
	hub.WatchSession(watcher, sessionID)

	hub.removeClient(watcher)

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.Empty(t, hub.watchers)
	assert.Empty(t, hub.clients)
}

func TestSessionIDFrom(t *testing.T) {
	id := uuid.New()

	parsed := sessionIDFrom(map[string]interface{}{"session_id": id})
	assert.NotNil(t, parsed)
	assert.Equal(t, id, *parsed)

	parsed = sessionIDFrom(map[string]interface{}{"session_id": id.String()})
	assert.NotNil(t, parsed)
	assert.Equal(t, id, *parsed)

	assert.Nil(t, sessionIDFrom(map[string]interface{}{"campaign_id": id}))
	assert.Nil(t, sessionIDFrom("не карта"))
}
