package token

import (
	"regexp"
	"testing"

	"tokenq/internal/models"
	"tokenq/internal/storage"

	"github.com/stretchr/testify/assert"
)

// fakeStore имитирует хранилище с уникальным индексом по талону.
type fakeStore struct {
	active  map[string]struct{} // снимок, который увидит аллокатор
	held    map[string]struct{} // талоны, реально занятые в "базе"
	created []models.Client
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		active: make(map[string]struct{}),
		held:   make(map[string]struct{}),
	}
}

func (f *fakeStore) ActiveTokens() (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(f.active))
	for t := range f.active {
		out[t] = struct{}{}
	}
	return out, nil
}

func (f *fakeStore) HeldTokens() (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(f.held))
	for t := range f.held {
		out[t] = struct{}{}
	}
	return out, nil
}

func (f *fakeStore) Create(client *models.Client) error {
	if _, busy := f.held[client.Token]; busy {
		return storage.ErrDuplicateToken
	}
	f.held[client.Token] = struct{}{}
	f.created = append(f.created, *client)
	return nil
}

// занимает талон и как активный, и как удерживаемый
func (f *fakeStore) occupy(tokens ...string) {
	for _, t := range tokens {
		f.active[t] = struct{}{}
		f.held[t] = struct{}{}
	}
}

func TestAt(t *testing.T) {
	assert.Equal(t, "A00", At(0))
	assert.Equal(t, "A99", At(99))
	assert.Equal(t, "B00", At(100))
	assert.Equal(t, "Z99", At(SpaceSize-1))

	format := regexp.MustCompile(`^[A-Z][0-9]{2}$`)
	seen := make(map[string]struct{}, SpaceSize)
	for i := 0; i < SpaceSize; i++ {
		tok := At(i)
		assert.Regexp(t, format, tok)
		seen[tok] = struct{}{}
	}
	assert.Len(t, seen, SpaceSize, "все талоны пространства должны быть уникальны")
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("A07"))
	assert.True(t, Valid("Z99"))
	assert.False(t, Valid("a07"))
	assert.False(t, Valid("A7"))
	assert.False(t, Valid("A070"))
	assert.False(t, Valid("7AA"))
	assert.False(t, Valid(""))
}

func TestAllocateFirstFree(t *testing.T) {
	store := newFakeStore()
	alloc := NewAllocator(store)

	client := &models.Client{Name: "Alice", Number: "555-0100", Status: models.StatusQueued}
	err := alloc.Allocate(client)
	assert.NoError(t, err)
	assert.Equal(t, "A00", client.Token)
	assert.Len(t, store.created, 1)
}

func TestAllocateSkipsActiveTokens(t *testing.T) {
	store := newFakeStore()
	store.occupy("A00", "A01", "A02")
	alloc := NewAllocator(store)

	client := &models.Client{Name: "Bob", Number: "555-0101", Status: models.StatusQueued}
	err := alloc.Allocate(client)
	assert.NoError(t, err)
	assert.Equal(t, "A03", client.Token)
}

func TestAllocateRetriesOnDuplicate(t *testing.T) {
	store := newFakeStore()
	// Талон A00 занят в базе, но отсутствует в снимке активных:
	// так выглядит и гонка двух аллокаторов, и завершённая,
	// но ещё не переработанная запись.
	store.held["A00"] = struct{}{}
	alloc := NewAllocator(store)

	client := &models.Client{Name: "Carol", Number: "555-0102", Status: models.StatusQueued}
	err := alloc.Allocate(client)
	assert.NoError(t, err)
	assert.Equal(t, "A01", client.Token)
}

func TestAllocateExhaustion(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < SpaceSize; i++ {
		store.occupy(At(i))
	}
	alloc := NewAllocator(store)

	client := &models.Client{Name: "Dave", Number: "555-0103", Status: models.StatusQueued}
	err := alloc.Allocate(client)
	assert.ErrorIs(t, err, ErrNoTokensAvailable)
	assert.Empty(t, client.Token)
	assert.Empty(t, store.created)
}

func TestAllocateExhaustionThroughRetries(t *testing.T) {
	store := newFakeStore()
	// Вся база занята, но снимок активных пуст: каждая попытка вставки
	// упирается в уникальный индекс. Аллокатор обязан остановиться
	// после SpaceSize попыток, а не крутиться вечно.
	for i := 0; i < SpaceSize; i++ {
		store.held[At(i)] = struct{}{}
	}
	alloc := NewAllocator(store)

	client := &models.Client{Name: "Eve", Number: "555-0104", Status: models.StatusQueued}
	err := alloc.Allocate(client)
	assert.ErrorIs(t, err, ErrNoTokensAvailable)
}

func TestConcurrentAllocationUniqueTokens(t *testing.T) {
	store := newFakeStore()
	alloc := NewAllocator(store)

	// Последовательные вызовы поверх общей "базы": каждый следующий
	// обязан получить другой талон, даже не видя чужих в снимке активных.
	for i := 0; i < 50; i++ {
		client := &models.Client{Name: "Guest", Number: "555-0100", Status: models.StatusQueued}
		assert.NoError(t, alloc.Allocate(client))
	}

	seen := make(map[string]struct{})
	for _, c := range store.created {
		_, dup := seen[c.Token]
		assert.False(t, dup, "талон %s выдан дважды", c.Token)
		seen[c.Token] = struct{}{}
	}
	assert.Len(t, seen, 50)
}

func TestNextAvailable(t *testing.T) {
	store := newFakeStore()
	alloc := NewAllocator(store)

	tok, ok, err := alloc.NextAvailable()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A00", tok)

	// Предпросмотр учитывает и завершённые записи, удерживающие талон.
	store.held["A00"] = struct{}{}
	tok, ok, err = alloc.NextAvailable()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A01", tok)

	for i := 0; i < SpaceSize; i++ {
		store.held[At(i)] = struct{}{}
	}
	_, ok, err = alloc.NextAvailable()
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestIsAvailable(t *testing.T) {
	store := newFakeStore()
	store.occupy("B07")
	alloc := NewAllocator(store)

	ok, err := alloc.IsAvailable("A00")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = alloc.IsAvailable("B07")
	assert.NoError(t, err)
	assert.False(t, ok)

	// Талон с неверным форматом никогда не доступен.
	ok, err = alloc.IsAvailable("token")
	assert.NoError(t, err)
	assert.False(t, ok)
}
