package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Типы событий push-канала. Payload всегда полноценная сущность или список,
// чтобы наблюдатель мог слить событие в локальное состояние без истории.
const (
	EventClientsUpdate       = "CLIENTS_UPDATE"        // полный список активных клиентов
	EventClientStatusUpdated = "CLIENT_STATUS_UPDATED" // одна обновлённая запись
	EventClientAssigned      = "CLIENT_ASSIGNED"       // клиент взят консультантом
)

// Event — сообщение push-канала {type, payload}.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent собирает событие, сериализуя payload.
func NewEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Payload: raw}, nil
}

const (
	// Интервал ping-проб. Канал без pong в течение pongWait считается мёртвым.
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// Hub раздаёт события всем подключённым наблюдателям: табло, экрану талонов,
// рабочим местам консультантов. Экземпляр создаётся в композиционном корне
// и передаётся сервису мутаций явно — глобального хаба нет.
type Hub struct {
	clients map[*Client]bool
	// Канал для регистрации нового наблюдателя.
	register chan *Client
	// Канал для удаления наблюдателя.
	unregister chan *Client
	// Канал сериализованных событий на рассылку.
	broadcast chan []byte
	// Mutex для защиты карты клиентов.
	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 16),
	}
}

// Run запускает цикл обработки каналов хаба.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.drop(client)
		case message := <-h.broadcast:
			// Снимок множества до рассылки: отправка может удалять
			// отставших клиентов, итерировать живую карту нельзя.
			h.mu.RLock()
			snapshot := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				snapshot = append(snapshot, client)
			}
			h.mu.RUnlock()

			for _, client := range snapshot {
				select {
				case client.Send <- message:
				default:
					// Переполненный буфер — наблюдатель безнадёжно отстал.
					// Отключаем его, не задерживая остальных.
					h.drop(client)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
	}
}

// BroadcastEvent рассылает событие всем наблюдателям. Доставка
// fire-and-forget: ошибка сериализации или мёртвый канал логируются
// и не влияют на вызвавшую мутацию.
func (h *Hub) BroadcastEvent(eventType string, payload interface{}) {
	event, err := NewEvent(eventType, payload)
	if err != nil {
		log.Println("Ошибка сериализации события", eventType, ":", err)
		return
	}
	message, err := json.Marshal(event)
	if err != nil {
		log.Println("Ошибка сериализации события", eventType, ":", err)
		return
	}
	h.broadcast <- message
}

// ClientCount возвращает число подключённых наблюдателей.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Client представляет одно подключение через WebSocket.
type Client struct {
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte
}

// readPump следит за живостью соединения. Протокола клиент->сервер нет:
// входящие сообщения логируются и отбрасываются.
func (c *Client) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()
	c.Conn.SetReadLimit(512)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			break
		}
		log.Printf("Неожиданное сообщение от наблюдателя, отброшено: %s", message)
	}
}

// writePump отправляет сообщения клиенту из канала Send и шлёт ping-пробы.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Канал закрыт хабом.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Настраиваем апгрейдер для WebSocket с разрешением всех источников.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SnapshotFunc отдаёт событие с актуальным списком клиентов для только
// что подключённого наблюдателя.
type SnapshotFunc func() (Event, error)

// Handler обновляет соединение до WebSocket и регистрирует наблюдателя.
// Бэклог переподключившимся не доигрывается: вместо него сразу после
// регистрации уходит свежий снимок очереди, дальше только дельты.
func Handler(hub *Hub, snapshot SnapshotFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			http.Error(c.Writer, "Ошибка обновления до WebSocket", http.StatusInternalServerError)
			return
		}
		client := &Client{
			Hub:  hub,
			Conn: conn,
			Send: make(chan []byte, 256),
		}
		hub.register <- client

		if snapshot != nil {
			if event, err := snapshot(); err == nil {
				if message, err := json.Marshal(event); err == nil {
					client.Send <- message
				}
			} else {
				log.Println("Ошибка получения снимка очереди:", err)
			}
		}

		go client.writePump()
		client.readPump()
	}
}
