package bootstrap

import (
	"judgecore/internal/common/cache"
	"judgecore/internal/judge/queue"
	"judgecore/internal/judge/repository"
	"judgecore/internal/judge/stream"
	"judgecore/internal/submit/controller"
	"judgecore/internal/submit/service"

	"github.com/gin-gonic/gin"
)

// SubmitAPI collects what the submission HTTP API is built from. Sources and Cache may be nil.
type SubmitAPI struct {
	Stores   *Stores
	Queue    *queue.JobQueue
	Sources  *repository.SourceStore
	Cache    cache.Cache
	Settings service.Settings
	Stream   stream.Config
	Health   *controller.HealthController
}

// MountSubmitAPI builds the intake service and registers every submission route on router.
func MountSubmitAPI(router gin.IRouter, api SubmitAPI) error {
	cfg := service.Config{
		Submissions: api.Stores.Submissions,
		Problems:    api.Stores.Problems,
		Scores:      api.Stores.Scores,
		Queue:       api.Queue,
		Cache:       api.Cache,
		Settings:    api.Settings,
	}
	// A nil *SourceStore must not become a non-nil interface.
	if api.Sources != nil {
		cfg.Sources = api.Sources
	}
	submitSvc, err := service.NewSubmitService(cfg)
	if err != nil {
		return err
	}
	streamer := stream.NewStreamer(api.Stores.Submissions, api.Stores.Problems, api.Stream)
	controller.RegisterRoutes(router,
		controller.NewSubmitController(submitSvc),
		controller.NewStreamController(submitSvc, streamer),
		api.Health,
	)
	return nil
}

// HealthDeps names the dependencies a readiness probe pings. Nil entries are skipped.
func HealthDeps(stores *Stores, broker Pinger, redisCache cache.Cache) map[string]controller.Pinger {
	deps := map[string]controller.Pinger{"database": stores.Database, "broker": broker}
	if redisCache != nil {
		deps["redis"] = redisCache
	}
	return deps
}
