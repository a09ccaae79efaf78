package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"tokenq/internal/models"
	"tokenq/internal/storage"
	"tokenq/internal/token"
	"tokenq/internal/ws"

	"github.com/go-redis/redis/v8"
)

var (
	// ErrValidation — пустые или некорректные входные данные.
	ErrValidation = errors.New("ошибка валидации")
	// ErrInvalidTransition — попытка перехода, запрещённого машиной состояний.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
)

// Окно хранения завершённых записей до переработки талона.
const RetentionWindow = 24 * time.Hour

const (
	snapshotCacheKey = "clients:active"
	snapshotCacheTTL = time.Hour
)

// Store — контракт хранилища, нужный сервису мутаций.
type Store interface {
	FindByID(id uint) (*models.Client, error)
	FindAll() ([]models.Client, error)
	FindActive() ([]models.Client, error)
	FindCompletedSince(t time.Time) ([]models.Client, error)
	Update(id uint, patch map[string]interface{}) (*models.Client, error)
	StartService(id uint, agent string, now time.Time) (int64, error)
	Complete(id uint, now time.Time) (int64, error)
	DeleteCompletedOlderThan(t time.Time) (int64, error)
}

// Broadcaster — рассылка событий наблюдателям.
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

var ctx = context.Background()

// ClientService проверяет и применяет переходы состояний очереди.
// Каждая успешная мутация пишет в хранилище, обновляет кэш снимка
// и рассылает событие через хаб; сбой рассылки мутацию не отменяет —
// наблюдатели дотянут состояние из снимка при переподключении.
type ClientService struct {
	store     Store
	allocator *token.Allocator
	hub       Broadcaster
	cache     *redis.Client // nil — кэш снимка отключён
}

func NewClientService(store Store, allocator *token.Allocator, hub Broadcaster, cache *redis.Client) *ClientService {
	return &ClientService{
		store:     store,
		allocator: allocator,
		hub:       hub,
		cache:     cache,
	}
}

// List возвращает всех клиентов, включая завершённых.
func (s *ClientService) List() ([]models.Client, error) {
	return s.store.FindAll()
}

// CompletedSince возвращает завершённых клиентов за период.
func (s *ClientService) CompletedSince(t time.Time) ([]models.Client, error) {
	return s.store.FindCompletedSince(t)
}

// Enqueue регистрирует гостя: выдаёт талон и ставит в очередь.
func (s *ClientService) Enqueue(name, number string) (*models.Client, error) {
	name = strings.TrimSpace(name)
	number = strings.TrimSpace(number)
	if name == "" || number == "" {
		return nil, ErrValidation
	}

	client := &models.Client{
		Name:   name,
		Number: number,
		Status: models.StatusQueued,
	}
	if err := s.allocator.Allocate(client); err != nil {
		return nil, err
	}

	s.broadcastSnapshot()
	return client, nil
}

// UpdateDetails правит имя и телефон клиента, не трогая статус.
func (s *ClientService) UpdateDetails(id uint, name, number string) (*models.Client, error) {
	name = strings.TrimSpace(name)
	number = strings.TrimSpace(number)
	if name == "" || number == "" {
		return nil, ErrValidation
	}

	client, err := s.store.Update(id, map[string]interface{}{
		"name":   name,
		"number": number,
	})
	if err != nil {
		return nil, err
	}

	s.hub.BroadcastEvent(ws.EventClientStatusUpdated, client)
	s.refreshSnapshot()
	return client, nil
}

// StartService переводит клиента queued -> in-service и закрепляет за ним
// консультанта. При гонке двух консультантов выигрывает первый записавший,
// второй получает ErrInvalidTransition.
func (s *ClientService) StartService(id uint, agent string) (*models.Client, error) {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil, ErrValidation
	}

	rows, err := s.store.StartService(id, agent, time.Now())
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// Либо записи нет, либо она уже не в статусе queued.
		if _, err := s.store.FindByID(id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}

	client, err := s.store.FindByID(id)
	if err != nil {
		return nil, err
	}

	s.hub.BroadcastEvent(ws.EventClientStatusUpdated, client)
	s.hub.BroadcastEvent(ws.EventClientAssigned, client)
	s.refreshSnapshot()
	return client, nil
}

// Complete переводит клиента in-service -> completed. Талон при этом
// остаётся за записью до переработки.
func (s *ClientService) Complete(id uint) (*models.Client, error) {
	rows, err := s.store.Complete(id, time.Now())
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		if _, err := s.store.FindByID(id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}

	client, err := s.store.FindByID(id)
	if err != nil {
		return nil, err
	}

	s.hub.BroadcastEvent(ws.EventClientStatusUpdated, client)
	s.refreshSnapshot()
	return client, nil
}

// CheckToken сообщает, свободен ли талон. Ответ гоночный по своей природе
// и бронью не является.
func (s *ClientService) CheckToken(tok string) (bool, error) {
	return s.allocator.IsAvailable(tok)
}

// NextAvailableToken возвращает ближайший свободный талон для предпросмотра.
func (s *ClientService) NextAvailableToken() (string, bool, error) {
	return s.allocator.NextAvailable()
}

// RecycleTokens удаляет завершённые записи старше окна хранения,
// возвращая их талоны в оборот. Запускается ручным эндпоинтом или
// внешним планировщиком.
func (s *ClientService) RecycleTokens() (int64, error) {
	deleted, err := s.store.DeleteCompletedOlderThan(time.Now().Add(-RetentionWindow))
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.broadcastSnapshot()
	}
	return deleted, nil
}

// SnapshotEvent отдаёт событие с полным списком активных клиентов для
// только что подключённого наблюдателя. Сначала кэш, при промахе — база.
func (s *ClientService) SnapshotEvent() (ws.Event, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, snapshotCacheKey).Result()
		if err == nil && cached != "" {
			return ws.Event{Type: ws.EventClientsUpdate, Payload: json.RawMessage(cached)}, nil
		}
	}

	clients, err := s.store.FindActive()
	if err != nil {
		return ws.Event{}, err
	}
	raw, err := json.Marshal(clients)
	if err != nil {
		return ws.Event{}, err
	}
	if s.cache != nil {
		s.cache.Set(ctx, snapshotCacheKey, string(raw), snapshotCacheTTL)
	}
	return ws.Event{Type: ws.EventClientsUpdate, Payload: raw}, nil
}

// broadcastSnapshot рассылает полный список активных клиентов и обновляет кэш.
// Полный список вместо дельты прикрывает наблюдателей от потерянных
// или переставленных одиночных событий.
func (s *ClientService) broadcastSnapshot() {
	clients, err := s.store.FindActive()
	if err != nil {
		log.Println("Ошибка чтения активных клиентов для рассылки:", err)
		return
	}
	s.hub.BroadcastEvent(ws.EventClientsUpdate, clients)
	s.cacheSnapshot(clients)
}

// refreshSnapshot обновляет кэш снимка без рассылки полного списка.
func (s *ClientService) refreshSnapshot() {
	clients, err := s.store.FindActive()
	if err != nil {
		log.Println("Ошибка чтения активных клиентов для кэша:", err)
		return
	}
	s.cacheSnapshot(clients)
}

func (s *ClientService) cacheSnapshot(clients []models.Client) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(clients)
	if err != nil {
		log.Println("Ошибка сериализации снимка очереди:", err)
		return
	}
	if err := s.cache.Set(ctx, snapshotCacheKey, string(raw), snapshotCacheTTL).Err(); err != nil {
		log.Println("Ошибка записи снимка очереди в Redis:", err)
	}
}

// IsNotFound удобен обработчикам для маппинга ошибки на 404.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
