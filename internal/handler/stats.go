package handler

import (
	"net/http"

	"tagengine/internal/miner"
	"tagengine/internal/models"
	"tagengine/internal/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type StatsHandler interface {
	Overview(c *gin.Context)
}

type statsHandler struct {
	tagRepo    repository.TagRepository
	implRepo   repository.ImplicationRepository
	ratingRepo repository.RatingRepository
	miner      *miner.Miner
	logger     *zap.Logger
}

func NewStatsHandler(tagRepo repository.TagRepository, implRepo repository.ImplicationRepository, ratingRepo repository.RatingRepository, m *miner.Miner, logger *zap.Logger) StatsHandler {
	return &statsHandler{
		tagRepo:    tagRepo,
		implRepo:   implRepo,
		ratingRepo: ratingRepo,
		miner:      m,
		logger:     logger,
	}
}

// Overview handles GET /api/stats
func (h *statsHandler) Overview(c *gin.Context) {
	imageCount, err := h.tagRepo.CountImages()
	if err != nil {
		h.logger.Error("Failed to count images", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to gather stats"})
		return
	}
	activeImplications, err := h.implRepo.CountActive()
	if err != nil {
		h.logger.Error("Failed to count implications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to gather stats"})
		return
	}
	aiAssignments, err := h.tagRepo.CountAssignmentsBySource(models.SourceAIInference)
	if err != nil {
		h.logger.Error("Failed to count ai assignments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to gather stats"})
		return
	}
	tagWeights, pairWeights, err := h.ratingRepo.CountWeights()
	if err != nil {
		h.logger.Error("Failed to count weights", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to gather stats"})
		return
	}

	suggestions, err := h.miner.All(miner.ListParams{})
	if err != nil {
		h.logger.Error("Failed to list suggestions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to gather stats"})
		return
	}

	stats := gin.H{
		"images":              imageCount,
		"active_implications": activeImplications,
		"pending_suggestions": len(suggestions),
		"ai_tag_assignments":  aiAssignments,
		"tag_weights":         tagWeights,
		"pair_weights":        pairWeights,
	}

	if run, err := h.ratingRepo.LatestTrainingRun(); err != nil {
		h.logger.Warn("Failed to load latest training run", zap.Error(err))
	} else if run != nil {
		stats["last_training"] = run
	}

	c.JSON(http.StatusOK, stats)
}
