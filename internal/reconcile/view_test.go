package reconcile

import (
	"encoding/json"
	"testing"
	"time"

	"tokenq/internal/models"
	"tokenq/internal/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEvent(t *testing.T, eventType string, payload interface{}) ws.Event {
	t.Helper()
	event, err := ws.NewEvent(eventType, payload)
	require.NoError(t, err)
	return event
}

func queuedClient(id uint, name string, createdAt time.Time) models.Client {
	return models.Client{
		ID:        id,
		Name:      name,
		Number:    "555-0100",
		Token:     "A00",
		Status:    models.StatusQueued,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestResyncReplacesWholesale(t *testing.T) {
	v := NewQueueView()
	now := time.Now()

	v.Resync([]models.Client{queuedClient(1, "Alice", now), queuedClient(2, "Bob", now)})
	assert.Len(t, v.Clients(), 2)

	// Последний снимок выигрывает целиком, старые записи не задерживаются.
	v.Resync([]models.Client{queuedClient(3, "Carol", now)})
	clients := v.Clients()
	require.Len(t, clients, 1)
	assert.Equal(t, uint(3), clients[0].ID)

	// Идемпотентность: повторный снимок ничего не меняет.
	v.Resync([]models.Client{queuedClient(3, "Carol", now)})
	assert.Len(t, v.Clients(), 1)
}

func TestDeltaOrderIndependence(t *testing.T) {
	now := time.Now()
	snapshot := []models.Client{
		queuedClient(1, "Alice", now),
		queuedClient(2, "Bob", now.Add(time.Second)),
		queuedClient(3, "Carol", now.Add(2*time.Second)),
	}

	// Дельты по непересекающимся идентификаторам.
	d1 := queuedClient(1, "Alice", now)
	d1.Status = models.StatusInService
	d2 := queuedClient(2, "Bob", now.Add(time.Second))
	d2.Name = "Bobby"
	d4 := queuedClient(4, "Dave", now.Add(3*time.Second))

	deltas := []models.Client{d1, d2, d4}
	permutations := [][]int{
		{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
	}

	var reference []models.Client
	for _, perm := range permutations {
		v := NewQueueView()
		v.Resync(snapshot)
		for _, idx := range perm {
			err := v.ApplyDelta(mustEvent(t, ws.EventClientStatusUpdated, deltas[idx]))
			require.NoError(t, err)
		}
		if reference == nil {
			reference = v.Clients()
			continue
		}
		assert.Equal(t, reference, v.Clients(), "порядок доставки дельт не должен влиять на итог")
	}
}

func TestDuplicateDeltaIsIdempotent(t *testing.T) {
	now := time.Now()
	v := NewQueueView()
	v.Resync([]models.Client{queuedClient(1, "Alice", now)})

	delta := queuedClient(1, "Alice", now)
	delta.Status = models.StatusInService

	require.NoError(t, v.ApplyDelta(mustEvent(t, ws.EventClientStatusUpdated, delta)))
	once := v.Clients()
	require.NoError(t, v.ApplyDelta(mustEvent(t, ws.EventClientStatusUpdated, delta)))
	assert.Equal(t, once, v.Clients())
}

func TestCompletedClearsCurrent(t *testing.T) {
	now := time.Now()
	v := NewQueueView()

	assigned := queuedClient(1, "Alice", now)
	assigned.Status = models.StatusInService
	require.NoError(t, v.ApplyDelta(mustEvent(t, ws.EventClientAssigned, assigned)))
	require.NotNil(t, v.Current())

	// Завершение чужого клиента привязку не трогает.
	other := queuedClient(2, "Bob", now)
	other.Status = models.StatusCompleted
	require.NoError(t, v.ApplyDelta(mustEvent(t, ws.EventClientStatusUpdated, other)))
	assert.NotNil(t, v.Current())

	done := assigned
	done.Status = models.StatusCompleted
	require.NoError(t, v.ApplyDelta(mustEvent(t, ws.EventClientStatusUpdated, done)))
	assert.Nil(t, v.Current(), "завершение ведомого клиента очищает привязку")
}

func TestSnapshotRefreshesCurrent(t *testing.T) {
	now := time.Now()
	v := NewQueueView()

	assigned := queuedClient(1, "Alice", now)
	assigned.Status = models.StatusInService
	require.NoError(t, v.ApplyDelta(mustEvent(t, ws.EventClientAssigned, assigned)))

	// Снимок, в котором ведомый клиент уже завершён.
	done := assigned
	done.Status = models.StatusCompleted
	require.NoError(t, v.ApplyDelta(mustEvent(t, ws.EventClientsUpdate, []models.Client{done})))
	assert.Nil(t, v.Current())
}

func TestMalformedPayloadRejected(t *testing.T) {
	v := NewQueueView()

	err := v.ApplyDelta(ws.Event{Type: ws.EventClientStatusUpdated, Payload: json.RawMessage(`{broken`)})
	assert.Error(t, err)

	err = v.ApplyDelta(ws.Event{Type: ws.EventClientsUpdate, Payload: json.RawMessage(`"not a list"`)})
	assert.Error(t, err)

	// Неизвестный тип события просто игнорируется.
	err = v.ApplyDelta(ws.Event{Type: "SOMETHING_ELSE", Payload: json.RawMessage(`{}`)})
	assert.NoError(t, err)
	assert.Empty(t, v.Clients())
}

func TestDerivedViews(t *testing.T) {
	now := time.Now()
	start := now.Add(-10 * time.Minute)

	first := queuedClient(1, "Alice", now.Add(-3*time.Minute))
	second := queuedClient(2, "Bob", now.Add(-2*time.Minute))
	agent := "Carol"
	serving := models.Client{
		ID: 3, Name: "Dan", Number: "555-0103", Token: "A03",
		Status: models.StatusInService, Agent: &agent,
		ServiceStartedAt: &start,
		CreatedAt:        now.Add(-20 * time.Minute), UpdatedAt: now,
	}
	completedOld := models.Client{
		ID: 4, Name: "Erin", Number: "555-0104", Token: "A04",
		Status:    models.StatusCompleted,
		CreatedAt: now.Add(-2 * time.Hour), UpdatedAt: now.Add(-time.Hour),
	}
	completedNew := models.Client{
		ID: 5, Name: "Fred", Number: "555-0105", Token: "A05",
		Status:    models.StatusCompleted,
		CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Minute),
	}

	v := NewQueueView()
	v.Resync([]models.Client{second, completedOld, serving, first, completedNew})

	next := v.NextInLine()
	require.NotNil(t, next)
	assert.Equal(t, uint(1), next.ID, "первым в очереди идёт раньше созданный")

	upcoming := v.Upcoming()
	require.Len(t, upcoming, 2)
	assert.Equal(t, uint(1), upcoming[0].ID)
	assert.Equal(t, uint(2), upcoming[1].ID)

	now1 := v.NowServing()
	require.NotNil(t, now1)
	assert.Equal(t, uint(3), now1.ID)

	recent := v.RecentlyCompleted(1)
	require.Len(t, recent, 1)
	assert.Equal(t, uint(5), recent[0].ID, "сначала завершённые позже")

	assert.Equal(t, 2, v.WaitingCount())
}

func TestConsultationDuration(t *testing.T) {
	now := time.Now()
	start := now.Add(-7 * time.Minute)
	client := models.Client{
		Status:           models.StatusCompleted,
		ServiceStartedAt: &start,
		UpdatedAt:        now,
	}
	d, ok := ConsultationDuration(client)
	assert.True(t, ok)
	assert.InDelta(t, (7 * time.Minute).Seconds(), d.Seconds(), 1)

	_, ok = ConsultationDuration(models.Client{Status: models.StatusQueued})
	assert.False(t, ok)
}
