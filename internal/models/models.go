package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Name         string `gorm:"not null"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
}

// Статусы клиента. Переходы строго монотонные:
// queued -> in-service -> completed, без пропусков и откатов.
const (
	StatusQueued    = "queued"
	StatusInService = "in-service"
	StatusCompleted = "completed"
)

// Client представляет посетителя в живой очереди.
// Запись не удаляется при завершении обслуживания — её убирает
// переработка талонов (см. internal/tasks), после чего талон снова свободен.
type Client struct {
	ID               uint       `gorm:"primarykey" json:"id"`
	Name             string     `gorm:"not null" json:"name"`
	Number           string     `gorm:"not null" json:"number"`                // Контактный телефон, ядро его не интерпретирует
	Token            string     `gorm:"uniqueIndex;not null" json:"token"`     // Короткий талон вида "A07"
	Status           string     `gorm:"index;not null;default:queued" json:"status"`
	Agent            *string    `json:"agent,omitempty"`                       // Имя консультанта, nil пока статус queued
	ServiceStartedAt *time.Time `json:"serviceStartedAt,omitempty"`            // Начало обслуживания, nil пока статус queued
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// IsActive сообщает, удерживает ли клиент свой талон.
func (c *Client) IsActive() bool {
	return c.Status == StatusQueued || c.Status == StatusInService
}
