package main

import (
	"fmt"
	"log"
	"os"

	_ "tokenq/docs"
	"tokenq/internal/auth"
	"tokenq/internal/handlers"
	"tokenq/internal/models"
	"tokenq/internal/service"
	"tokenq/internal/storage"
	"tokenq/internal/tasks"
	"tokenq/internal/token"
	"tokenq/internal/ws"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @Title						Живая очередь клиентов
// @securityDefinitions.apikey	BearerAuth
// @in							header
// @name						Authorization
func main() {
	key := os.Getenv("ENV_CHEK")
	if key == "" {
		fmt.Println("Подключение к .env")
		err := godotenv.Load()
		if err != nil {
			log.Fatal("Ошибка получения .env")
		}
	}

	storage.ConnectDatabase()

	if err := storage.DB.AutoMigrate(&models.User{}, &models.Client{}); err != nil {
		log.Fatal("Ошибка при миграции... ", err.Error())
	}

	storage.InitRedis()

	// Композиционный корень: хаб создаётся здесь и передаётся сервису
	// мутаций явно, глобального состояния сокетов нет.
	hub := ws.NewHub()
	go hub.Run()

	store := storage.NewClientStore(storage.DB)
	allocator := token.NewAllocator(store)
	svc := service.NewClientService(store, allocator, hub, storage.RedisClient)
	clientHandler := handlers.NewClientHandler(svc)

	tasks.InitScheduler(svc)

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/login", handlers.Login)
		authGroup.POST("/register", handlers.Register)
		authGroup.POST("/refresh", handlers.RefreshToken)
		authGroup.PUT("/settings", auth.AuthMiddleware(), handlers.UpdateSettings)
	}

	clients := r.Group("/api/clients", auth.AuthMiddleware())
	{
		clients.GET("", clientHandler.ListClients)
		clients.POST("", clientHandler.CreateClient)
		clients.PUT("/:id", clientHandler.UpdateClient)
		clients.PUT("/:id/status", clientHandler.UpdateStatus)
		clients.GET("/check-token/:token", clientHandler.CheckToken)
		clients.GET("/next-available-token", clientHandler.NextAvailableToken)
		clients.GET("/recycle-tokens", clientHandler.RecycleTokens)
	}

	// Табло и экраны талонов подключаются без авторизации.
	r.GET("/ws", ws.Handler(hub, svc.SnapshotEvent))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatal("Ошибка запуска сервера...", err.Error())
	}
}
