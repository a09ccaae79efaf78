package token

import (
	"errors"
	"fmt"

	"tokenq/internal/models"
	"tokenq/internal/storage"
)

// Пространство талонов: 26 букв x 100 номеров.
const SpaceSize = 26 * 100

// ErrNoTokensAvailable — все 2600 талонов заняты, очередь переполнена.
var ErrNoTokensAvailable = errors.New("свободных талонов нет")

// Store — часть хранилища, нужная аллокатору.
type Store interface {
	// ActiveTokens возвращает талоны клиентов в статусах queued/in-service.
	ActiveTokens() (map[string]struct{}, error)
	// HeldTokens возвращает талоны всех неудалённых записей.
	HeldTokens() (map[string]struct{}, error)
	// Create обязан вернуть storage.ErrDuplicateToken при занятом талоне.
	Create(client *models.Client) error
}

// Allocator выдаёт клиенту свободный талон. Монопольного доступа к базе
// у него нет: окончательное слово за уникальным индексом хранилища,
// конфликт разрешается повтором со следующим кандидатом.
type Allocator struct {
	store Store
}

func NewAllocator(store Store) *Allocator {
	return &Allocator{store: store}
}

// At возвращает i-й талон детерминированного порядка обхода: A00, A01 ... Z99.
func At(i int) string {
	return fmt.Sprintf("%c%02d", 'A'+i/100, i%100)
}

// Valid проверяет формат талона: заглавная буква и две цифры.
func Valid(token string) bool {
	if len(token) != 3 {
		return false
	}
	if token[0] < 'A' || token[0] > 'Z' {
		return false
	}
	return token[1] >= '0' && token[1] <= '9' && token[2] >= '0' && token[2] <= '9'
}

// Allocate подбирает талон и сохраняет клиента. Снимок занятых талонов
// заведомо гоночный, поэтому каждая вставка оптимистична: на
// storage.ErrDuplicateToken берём следующего кандидата, всего не больше
// SpaceSize попыток.
func (a *Allocator) Allocate(client *models.Client) error {
	active, err := a.store.ActiveTokens()
	if err != nil {
		return fmt.Errorf("чтение занятых талонов: %w", err)
	}

	for i := 0; i < SpaceSize; i++ {
		candidate := At(i)
		if _, busy := active[candidate]; busy {
			continue
		}
		client.Token = candidate
		err := a.store.Create(client)
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrDuplicateToken) {
			// Кто-то успел первым, либо талон держит завершённая,
			// но ещё не переработанная запись.
			continue
		}
		return err
	}

	client.Token = ""
	return ErrNoTokensAvailable
}

// NextAvailable возвращает ближайший свободный талон для предпросмотра.
// Это не бронь: к моменту создания клиента талон может быть занят.
func (a *Allocator) NextAvailable() (string, bool, error) {
	held, err := a.store.HeldTokens()
	if err != nil {
		return "", false, fmt.Errorf("чтение занятых талонов: %w", err)
	}
	for i := 0; i < SpaceSize; i++ {
		if _, busy := held[At(i)]; !busy {
			return At(i), true, nil
		}
	}
	return "", false, nil
}

// IsAvailable проверяет конкретный талон. Результат действителен только
// на момент запроса.
func (a *Allocator) IsAvailable(token string) (bool, error) {
	if !Valid(token) {
		return false, nil
	}
	held, err := a.store.HeldTokens()
	if err != nil {
		return false, fmt.Errorf("чтение занятых талонов: %w", err)
	}
	_, busy := held[token]
	return !busy, nil
}
