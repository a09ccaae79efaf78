package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"tokenq/internal/models"
	"tokenq/internal/response"
	"tokenq/internal/service"
	"tokenq/internal/token"

	"github.com/gin-gonic/gin"
)

// ClientHandler держит сервис мутаций, собранный в композиционном корне.
type ClientHandler struct {
	Service *service.ClientService
}

func NewClientHandler(svc *service.ClientService) *ClientHandler {
	return &ClientHandler{Service: svc}
}

type CreateClientRequest struct {
	Name   string `json:"name" binding:"required"`
	Number string `json:"number" binding:"required"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Agent  string `json:"agent"`
}

type UpdateClientRequest struct {
	Name   string `json:"name" binding:"required"`
	Number string `json:"number" binding:"required"`
}

// ListClients возвращает всех клиентов очереди
// @Summary		Список клиентов
// @Description	Возвращает всех клиентов, включая завершённых, новые первыми
// @Tags			clients
// @Produce		json
// @Security		BearerAuth
// @Success		200	{array}		models.Client			"Список клиентов"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/clients [get]
func (h *ClientHandler) ListClients(c *gin.Context) {
	clients, err := h.Service.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка загрузки клиентов",
			Details: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, clients)
}

// CreateClient регистрирует гостя и выдаёт талон
// @Summary		Постановка в очередь
// @Description	Выдаёт гостю свободный талон и ставит его в очередь
// @Tags			clients
// @Accept			json
// @Produce		json
// @Param			client	body	CreateClientRequest	true	"Имя и телефон гостя"
// @Security		BearerAuth
// @Success		201	{object}	models.Client			"Созданный клиент с талоном"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (VALIDATION_ERROR)"
// @Failure		500	{object}	response.ErrorResponse	"Свободных талонов нет (NO_TOKENS_AVAILABLE) или ошибка сервера (DB_ERROR)"
// @Router			/api/clients [post]
func (h *ClientHandler) CreateClient(c *gin.Context) {
	var req CreateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Имя и телефон обязательны",
			Details: err.Error(),
		})
		return
	}

	client, err := h.Service.Enqueue(req.Name, req.Number)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			c.JSON(http.StatusBadRequest, response.ErrorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "Имя и телефон обязательны",
			})
		case errors.Is(err, token.ErrNoTokensAvailable):
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{
				Code:    "NO_TOKENS_AVAILABLE",
				Message: "Свободных талонов нет, попробуйте после переработки",
			})
		default:
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{
				Code:    "DB_ERROR",
				Message: "Ошибка постановки в очередь",
				Details: err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusCreated, client)
}

// UpdateClient правит имя и телефон клиента
// @Summary		Изменение данных клиента
// @Description	Обновляет имя и телефон, не меняя статус и талон
// @Tags			clients
// @Accept			json
// @Produce		json
// @Param			id		path	string				true	"ID клиента"
// @Param			client	body	UpdateClientRequest	true	"Новые данные"
// @Security		BearerAuth
// @Success		200	{object}	models.Client			"Обновлённый клиент"
// @Failure		400	{object}	response.ErrorResponse	"Ошибка валидации (INVALID_CLIENT_ID, VALIDATION_ERROR)"
// @Failure		404	{object}	response.ErrorResponse	"Клиент не найден (CLIENT_NOT_FOUND)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/clients/{id} [put]
func (h *ClientHandler) UpdateClient(c *gin.Context) {
	id, ok := clientID(c)
	if !ok {
		return
	}

	var req UpdateClientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Имя и телефон обязательны",
			Details: err.Error(),
		})
		return
	}

	client, err := h.Service.UpdateDetails(id, req.Name, req.Number)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, client)
}

// UpdateStatus выполняет переход статуса клиента
// @Summary		Переход статуса
// @Description	Переводит клиента queued -> in-service -> completed. Переход in-service закрепляет консультанта; при гонке выигрывает первый записавший.
// @Tags			clients
// @Accept			json
// @Produce		json
// @Param			id		path	string				true	"ID клиента"
// @Param			status	body	UpdateStatusRequest	true	"Целевой статус и, для in-service, имя консультанта"
// @Security		BearerAuth
// @Success		200	{object}	models.Client			"Обновлённый клиент"
// @Failure		400	{object}	response.ErrorResponse	"Неверный статус (INVALID_STATUS, INVALID_CLIENT_ID)"
// @Failure		404	{object}	response.ErrorResponse	"Клиент не найден (CLIENT_NOT_FOUND)"
// @Failure		409	{object}	response.ErrorResponse	"Недопустимый переход (INVALID_TRANSITION)"
// @Failure		500	{object}	response.ErrorResponse	"Ошибка сервера (DB_ERROR)"
// @Router			/api/clients/{id}/status [put]
func (h *ClientHandler) UpdateStatus(c *gin.Context) {
	id, ok := clientID(c)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Статус обязателен",
			Details: err.Error(),
		})
		return
	}

	var (
		client *models.Client
		err    error
	)
	switch req.Status {
	case models.StatusInService:
		agent := req.Agent
		if agent == "" {
			// Имя консультанта из токена авторизации.
			agent = c.GetString("userName")
		}
		client, err = h.Service.StartService(id, agent)
	case models.StatusCompleted:
		client, err = h.Service.Complete(id)
	default:
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_STATUS",
			Message: "Недопустимое значение статуса",
			Details: req.Status,
		})
		return
	}

	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, client)
}

// CheckToken проверяет доступность конкретного талона
// @Summary		Проверка талона
// @Description	Сообщает, свободен ли талон. Ответ действителен только на момент запроса и бронью не является
// @Tags			clients
// @Produce		json
// @Param			token	path	string	true	"Талон вида A07"
// @Security		BearerAuth
// @Success		200	{object}	response.TokenStatusResponse	"Статус талона"
// @Failure		500	{object}	response.ErrorResponse			"Ошибка сервера (DB_ERROR)"
// @Router			/api/clients/check-token/{token} [get]
func (h *ClientHandler) CheckToken(c *gin.Context) {
	tok := c.Param("token")
	available, err := h.Service.CheckToken(tok)
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка проверки талона",
			Details: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, response.TokenStatusResponse{
		Token:       tok,
		IsAvailable: available,
	})
}

// NextAvailableToken показывает ближайший свободный талон
// @Summary		Предпросмотр талона
// @Description	Возвращает ближайший свободный талон без брони
// @Tags			clients
// @Produce		json
// @Security		BearerAuth
// @Success		200	{object}	response.TokenStatusResponse	"Ближайший свободный талон; isAvailable=false, если пространство исчерпано"
// @Failure		500	{object}	response.ErrorResponse			"Ошибка сервера (DB_ERROR)"
// @Router			/api/clients/next-available-token [get]
func (h *ClientHandler) NextAvailableToken(c *gin.Context) {
	tok, available, err := h.Service.NextAvailableToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка подбора талона",
			Details: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, response.TokenStatusResponse{
		Token:       tok,
		IsAvailable: available,
	})
}

// RecycleTokens перерабатывает талоны давно завершённых клиентов
// @Summary		Переработка талонов
// @Description	Удаляет завершённые записи старше 24 часов, возвращая их талоны в оборот
// @Tags			clients
// @Produce		json
// @Security		BearerAuth
// @Success		200	{object}	response.RecycleResponse	"Число удалённых записей"
// @Failure		500	{object}	response.ErrorResponse		"Ошибка сервера (DB_ERROR)"
// @Router			/api/clients/recycle-tokens [get]
func (h *ClientHandler) RecycleTokens(c *gin.Context) {
	deleted, err := h.Service.RecycleTokens()
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка переработки талонов",
			Details: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, response.RecycleResponse{DeletedCount: deleted})
}

func clientID(c *gin.Context) (uint, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "INVALID_CLIENT_ID",
			Message: "Неверный идентификатор клиента",
		})
		return 0, false
	}
	return uint(id), true
}

func (h *ClientHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, response.ErrorResponse{
			Code:    "VALIDATION_ERROR",
			Message: "Ошибка валидации данных",
		})
	case service.IsNotFound(err):
		c.JSON(http.StatusNotFound, response.ErrorResponse{
			Code:    "CLIENT_NOT_FOUND",
			Message: "Клиент не найден",
		})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, response.ErrorResponse{
			Code:    "INVALID_TRANSITION",
			Message: "Недопустимый переход статуса",
		})
	default:
		c.JSON(http.StatusInternalServerError, response.ErrorResponse{
			Code:    "DB_ERROR",
			Message: "Ошибка сервера",
			Details: err.Error(),
		})
	}
}
