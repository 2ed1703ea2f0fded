package wire

import (
	"Atrium/internal/api"
	"Atrium/internal/api/config"
	"Atrium/internal/api/handler"
	"Atrium/internal/hub"
	"Atrium/internal/job"
	"Atrium/internal/pkg/cron"
	"Atrium/internal/pkg/kafka"
	mongorepo "Atrium/internal/pkg/mongo"
	"Atrium/internal/repository"
	"Atrium/internal/service"

	"github.com/gin-gonic/gin"
	driver "go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router   *gin.Engine
	DB       *gorm.DB
	Hub      *hub.Hub
	CronMgr  *cron.Manager
	Producer kafka.EventProducer
}

func BuildApplication(db *gorm.DB, mongoDB *driver.Database, cfg *config.Config) (*ApplicationContainer, error) {
	convRepo := repository.NewConversationRepo(db)
	msgRepo := repository.NewMessageRepo(db)
	reportRepo := mongorepo.NewMessageReportRepo(mongoDB)

	producer, err := kafka.NewEventProducer(cfg.Kafka)
	if err != nil {
		return nil, err
	}

	h := hub.NewHub()

	chatService := service.NewChatService(convRepo, msgRepo, reportRepo, h, producer)
	presenceService := service.NewPresenceService(convRepo, h)
	h.Bind(handler.NewHubDispatcher(chatService), presenceService)

	handlers := &api.HandlersGroup{
		IMHandler:       handler.NewIMHandler(chatService),
		PresenceHandler: handler.NewPresenceHandler(presenceService),
		WsHandler:       handler.NewWsHandler(h),
	}

	router := api.SetupRouter(handlers)

	purgeJob := job.NewConversationPurgeJob(convRepo)
	cronMgr := cron.NewCronManager(purgeJob)

	return &ApplicationContainer{
		Router:   router,
		DB:       db,
		Hub:      h,
		CronMgr:  cronMgr,
		Producer: producer,
	}, nil
}
