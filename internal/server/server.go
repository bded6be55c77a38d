package server

import (
	"net/http"

	"tagengine/internal/config"
	"tagengine/internal/graph"
	"tagengine/internal/handler"
	"tagengine/internal/implication"
	"tagengine/internal/miner"
	"tagengine/internal/notify"
	"tagengine/internal/rating"
	"tagengine/internal/repository"
	"tagengine/internal/task"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

type Server struct {
	router   *gin.Engine
	db       *sqlx.DB
	cfg      *config.Config
	miner    *miner.Miner
	tasks    *task.Manager
	notifier notify.ImageNotifier
	log      *logrus.Logger
	zlog     *zap.Logger
}

func NewServer(db *sqlx.DB, cfg *config.Config, m *miner.Miner, tasks *task.Manager, notifier notify.ImageNotifier, log *logrus.Logger, zlog *zap.Logger) *Server {
	router := gin.Default()

	s := &Server{
		router:   router,
		db:       db,
		cfg:      cfg,
		miner:    m,
		tasks:    tasks,
		notifier: notifier,
		log:      log,
		zlog:     zlog,
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	tagRepo := repository.NewTagRepository(s.db, s.zlog)
	implRepo := repository.NewImplicationRepository(s.db, s.zlog)
	deltaRepo := repository.NewTagDeltaRepository(s.db, s.zlog)
	ratingRepo := repository.NewRatingRepository(s.db, s.zlog)

	resolver := graph.NewResolver(implRepo, tagRepo, s.zlog)
	orchestrator := implication.NewOrchestrator(tagRepo, implRepo, deltaRepo,
		s.miner, resolver, s.tasks, s.notifier, s.zlog)

	ratingSettings := rating.Settings{
		MinTrainingSamples: s.cfg.Rating.MinTrainingSamples,
		MinPairCount:       s.cfg.Rating.MinPairCount,
		DefaultThreshold:   s.cfg.Rating.DefaultThreshold,
	}
	trainer := rating.NewTrainer(tagRepo, ratingRepo, ratingSettings, s.zlog)
	classifier := rating.NewClassifier(tagRepo, ratingRepo, s.notifier, ratingSettings, s.zlog)

	implicationHandler := handler.NewImplicationHandler(orchestrator, s.miner, implRepo, s.zlog)
	ratingHandler := handler.NewRatingHandler(classifier, trainer, tagRepo, ratingRepo, s.tasks, s.zlog)
	imageHandler := handler.NewImageHandler(tagRepo, deltaRepo, resolver, s.notifier, s.zlog)
	taskHandler := handler.NewTaskHandler(s.tasks)
	statsHandler := handler.NewStatsHandler(tagRepo, implRepo, ratingRepo, s.miner, s.zlog)

	// Ping route for health check
	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	api := s.router.Group("/api")
	{
		implications := api.Group("/implications")
		implications.GET("", implicationHandler.ListActive)
		implications.POST("", implicationHandler.Create)
		implications.DELETE("", implicationHandler.Delete)
		implications.GET("/suggestions", implicationHandler.ListSuggestions)
		implications.POST("/suggestions/refresh", implicationHandler.RefreshSuggestions)
		implications.POST("/dismiss", implicationHandler.DismissSuggestion)
		implications.GET("/tags/:name", implicationHandler.TagSummary)
		implications.GET("/preview", implicationHandler.Preview)
		implications.GET("/chain/:name", implicationHandler.Chain)
		implications.POST("/approve", implicationHandler.Approve)
		implications.POST("/bulk-approve", implicationHandler.BulkApprove)
		implications.POST("/auto-approve", implicationHandler.AutoApprove)
		implications.POST("/clear-tags", implicationHandler.ClearTags)
		implications.POST("/clear-and-reapply", implicationHandler.ClearAndReapply)

		ratings := api.Group("/rating")
		ratings.POST("/infer/:id", ratingHandler.Infer)
		ratings.POST("/infer-all", ratingHandler.InferAll)
		ratings.POST("/train", ratingHandler.Train)
		ratings.GET("/config", ratingHandler.GetConfig)
		ratings.PUT("/config", ratingHandler.UpdateConfig)

		api.GET("/images/:id/tags", imageHandler.GetTags)
		api.POST("/images/:id/tags", imageHandler.AddTag)
		api.DELETE("/images/:id/tags/:tag", imageHandler.RemoveTag)

		api.GET("/tasks/:id", taskHandler.Get)
		api.GET("/stats", statsHandler.Overview)
	}
}

func (s *Server) Run(addr string) {
	s.log.Infof("Server starting on port %s...", addr)
	if err := s.router.Run(addr); err != nil {
		s.log.Fatalf("Server failed to start: %v", err)
	}
}
