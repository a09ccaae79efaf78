// Package reconcile сводит pull-снимок очереди и push-события в одно
// локальное состояние наблюдателя. Пакет не знает о сокетах: табло или
// рабочее место консультанта кормит его снимком после (пере)подключения
// и дельтами по мере прихода, а производные представления пересчитываются
// из локальной коллекции.
package reconcile

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"tokenq/internal/models"
	"tokenq/internal/ws"
)

// QueueView — локальное состояние одного наблюдателя.
// Не потокобезопасно: вызывающая сторона сериализует доступ, как это
// делает одиночный цикл чтения сокета.
type QueueView struct {
	clients map[uint]models.Client
	current *models.Client // клиент, которого этот наблюдатель ведёт сейчас
}

func NewQueueView() *QueueView {
	return &QueueView{clients: make(map[uint]models.Client)}
}

// Resync целиком заменяет локальную коллекцию снимком из REST.
// Идемпотентно, выигрывает последний снимок — порядок дельт до и после
// значения не имеет. Обязателен после любого разрыва push-канала.
func (v *QueueView) Resync(clients []models.Client) {
	v.clients = make(map[uint]models.Client, len(clients))
	for _, c := range clients {
		v.clients[c.ID] = c
	}
	if v.current != nil {
		if c, ok := v.clients[v.current.ID]; ok && c.Status != models.StatusCompleted {
			v.current = &c
		} else {
			v.current = nil
		}
	}
}

// ApplyDelta применяет одно push-событие. Дубликаты и перестановки событий
// безопасны: одиночные обновления сливаются upsert-ом по идентификатору.
// Неизвестные типы игнорируются, битый payload возвращается ошибкой —
// вызывающая сторона логирует и отбрасывает такое событие.
func (v *QueueView) ApplyDelta(event ws.Event) error {
	switch event.Type {
	case ws.EventClientsUpdate:
		var clients []models.Client
		if err := json.Unmarshal(event.Payload, &clients); err != nil {
			return fmt.Errorf("payload события %s: %w", event.Type, err)
		}
		v.Resync(clients)
	case ws.EventClientStatusUpdated:
		var client models.Client
		if err := json.Unmarshal(event.Payload, &client); err != nil {
			return fmt.Errorf("payload события %s: %w", event.Type, err)
		}
		v.clients[client.ID] = client
		if v.current != nil && v.current.ID == client.ID {
			if client.Status == models.StatusCompleted {
				v.current = nil
			} else {
				v.current = &client
			}
		}
	case ws.EventClientAssigned:
		var client models.Client
		if err := json.Unmarshal(event.Payload, &client); err != nil {
			return fmt.Errorf("payload события %s: %w", event.Type, err)
		}
		v.clients[client.ID] = client
		v.current = &client
	}
	return nil
}

// Current возвращает клиента, закреплённого за наблюдателем.
func (v *QueueView) Current() *models.Client {
	if v.current == nil {
		return nil
	}
	c := *v.current
	return &c
}

// ClearCurrent снимает локальную привязку к клиенту.
func (v *QueueView) ClearCurrent() {
	v.current = nil
}

// Upcoming возвращает ожидающих клиентов в порядке постановки в очередь.
func (v *QueueView) Upcoming() []models.Client {
	return v.filterSorted(models.StatusQueued, func(a, b models.Client) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// NextInLine возвращает первого ожидающего клиента, nil если очередь пуста.
func (v *QueueView) NextInLine() *models.Client {
	upcoming := v.Upcoming()
	if len(upcoming) == 0 {
		return nil
	}
	return &upcoming[0]
}

// NowServing возвращает обслуживаемого клиента: закреплённого за
// наблюдателем, а если его нет — самого раннего in-service.
func (v *QueueView) NowServing() *models.Client {
	if v.current != nil && v.current.Status == models.StatusInService {
		c := *v.current
		return &c
	}
	serving := v.filterSorted(models.StatusInService, func(a, b models.Client) bool {
		at, bt := a.CreatedAt, b.CreatedAt
		if a.ServiceStartedAt != nil && b.ServiceStartedAt != nil {
			at, bt = *a.ServiceStartedAt, *b.ServiceStartedAt
		}
		return at.Before(bt)
	})
	if len(serving) == 0 {
		return nil
	}
	return &serving[0]
}

// RecentlyCompleted возвращает до n последних завершённых клиентов.
func (v *QueueView) RecentlyCompleted(n int) []models.Client {
	completed := v.filterSorted(models.StatusCompleted, func(a, b models.Client) bool {
		return a.UpdatedAt.After(b.UpdatedAt)
	})
	if len(completed) > n {
		completed = completed[:n]
	}
	return completed
}

// WaitingCount возвращает число ожидающих клиентов.
func (v *QueueView) WaitingCount() int {
	count := 0
	for _, c := range v.clients {
		if c.Status == models.StatusQueued {
			count++
		}
	}
	return count
}

// Clients возвращает копию всей локальной коллекции.
func (v *QueueView) Clients() []models.Client {
	all := make([]models.Client, 0, len(v.clients))
	for _, c := range v.clients {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all
}

func (v *QueueView) filterSorted(status string, less func(a, b models.Client) bool) []models.Client {
	out := make([]models.Client, 0, len(v.clients))
	for _, c := range v.clients {
		if c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// ConsultationDuration возвращает длительность консультации клиента.
// false, если обслуживание ещё не начиналось.
func ConsultationDuration(c models.Client) (time.Duration, bool) {
	if c.ServiceStartedAt == nil {
		return 0, false
	}
	return c.UpdatedAt.Sub(*c.ServiceStartedAt), true
}
