package storage

import (
	"errors"
	"time"

	"tokenq/internal/models"

	"gorm.io/gorm"
)

// Ошибки уровня хранилища. Уникальность активного талона обеспечивает
// сама база (уникальный индекс), а не прикладной код.
var (
	ErrDuplicateToken = errors.New("талон уже занят")
	ErrNotFound       = errors.New("клиент не найден")
)

// ClientStore — единственный источник истины по клиентам очереди.
type ClientStore struct {
	db *gorm.DB
}

func NewClientStore(db *gorm.DB) *ClientStore {
	return &ClientStore{db: db}
}

// Create сохраняет нового клиента. Если талон уже занят любой записью
// (активной или завершённой, но ещё не переработанной), возвращает
// ErrDuplicateToken — аллокатор обязан повторить попытку со следующим талоном.
func (s *ClientStore) Create(client *models.Client) error {
	if err := s.db.Create(client).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateToken
		}
		return err
	}
	return nil
}

func (s *ClientStore) FindByID(id uint) (*models.Client, error) {
	var client models.Client
	if err := s.db.First(&client, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &client, nil
}

// FindAll возвращает всех клиентов, новые первыми.
func (s *ClientStore) FindAll() ([]models.Client, error) {
	var clients []models.Client
	if err := s.db.Order("created_at DESC").Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}

// FindActive возвращает клиентов, удерживающих талон, в порядке постановки.
func (s *ClientStore) FindActive() ([]models.Client, error) {
	var clients []models.Client
	if err := s.db.
		Where("status IN ?", []string{models.StatusQueued, models.StatusInService}).
		Order("created_at ASC").
		Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}

func (s *ClientStore) FindCompletedSince(t time.Time) ([]models.Client, error) {
	var clients []models.Client
	if err := s.db.
		Where("status = ? AND updated_at >= ?", models.StatusCompleted, t).
		Order("updated_at DESC").
		Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}

// ActiveTokens возвращает талоны, занятые клиентами в статусах queued/in-service.
func (s *ClientStore) ActiveTokens() (map[string]struct{}, error) {
	return s.tokenSet(s.db.Model(&models.Client{}).
		Where("status IN ?", []string{models.StatusQueued, models.StatusInService}))
}

// HeldTokens возвращает талоны всех записей, включая завершённые,
// но ещё не переработанные — именно их отклонит уникальный индекс.
func (s *ClientStore) HeldTokens() (map[string]struct{}, error) {
	return s.tokenSet(s.db.Model(&models.Client{}))
}

func (s *ClientStore) tokenSet(q *gorm.DB) (map[string]struct{}, error) {
	var tokens []string
	if err := q.Pluck("token", &tokens).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set, nil
}

// Update применяет частичное обновление полей. ErrNotFound, если записи нет.
func (s *ClientStore) Update(id uint, patch map[string]interface{}) (*models.Client, error) {
	res := s.db.Model(&models.Client{}).Where("id = ?", id).Updates(patch)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.FindByID(id)
}

// StartService атомарно переводит клиента queued -> in-service.
// Условие по статусу в WHERE даёт first-writer-wins при гонке консультантов:
// проигравший получит RowsAffected == 0.
func (s *ClientStore) StartService(id uint, agent string, now time.Time) (int64, error) {
	res := s.db.Model(&models.Client{}).
		Where("id = ? AND status = ?", id, models.StatusQueued).
		Updates(map[string]interface{}{
			"status":             models.StatusInService,
			"agent":              agent,
			"service_started_at": now,
			"updated_at":         now,
		})
	return res.RowsAffected, res.Error
}

// Complete атомарно переводит клиента in-service -> completed.
func (s *ClientStore) Complete(id uint, now time.Time) (int64, error) {
	res := s.db.Model(&models.Client{}).
		Where("id = ? AND status = ?", id, models.StatusInService).
		Updates(map[string]interface{}{
			"status":     models.StatusCompleted,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// DeleteCompletedOlderThan удаляет завершённые записи старше порога,
// освобождая их талоны. Возвращает число удалённых строк.
func (s *ClientStore) DeleteCompletedOlderThan(t time.Time) (int64, error) {
	res := s.db.
		Where("status = ? AND updated_at < ?", models.StatusCompleted, t).
		Delete(&models.Client{})
	return res.RowsAffected, res.Error
}
