package tasks

import (
	"log"
	"os"

	"tokenq/internal/service"

	"github.com/robfig/cron/v3"
)

// InitScheduler включает периодическую переработку талонов, если задано
// расписание в TOKEN_RECYCLE_CRON (формат cron с секундами, например
// "0 0 * * * *" — раз в час). По умолчанию переработку дёргает внешний
// планировщик через GET /api/clients/recycle-tokens, и cron не запускается.
func InitScheduler(svc *service.ClientService) *cron.Cron {
	spec := os.Getenv("TOKEN_RECYCLE_CRON")
	if spec == "" {
		log.Println("TOKEN_RECYCLE_CRON не задан, переработка талонов только по эндпоинту.")
		return nil
	}

	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(spec, func() {
		deleted, err := svc.RecycleTokens()
		if err != nil {
			log.Println("Ошибка переработки талонов:", err)
			return
		}
		if deleted > 0 {
			log.Printf("Переработка талонов: удалено %d записей.\n", deleted)
		}
	})
	if err != nil {
		log.Println("Ошибка запуска cron-задачи переработки талонов:", err)
		return nil
	}

	c.Start()
	log.Println("Cron-планировщик переработки талонов запущен.")
	return c
}
