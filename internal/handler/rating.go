package handler

import (
	"net/http"
	"strconv"

	"tagengine/internal/models"
	"tagengine/internal/rating"
	"tagengine/internal/repository"
	"tagengine/internal/task"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type RatingHandler interface {
	Infer(c *gin.Context)
	InferAll(c *gin.Context)
	Train(c *gin.Context)
	GetConfig(c *gin.Context)
	UpdateConfig(c *gin.Context)
}

type ratingHandler struct {
	classifier *rating.Classifier
	trainer    *rating.Trainer
	tagRepo    repository.TagRepository
	ratingRepo repository.RatingRepository
	tasks      *task.Manager
	logger     *zap.Logger
}

func NewRatingHandler(classifier *rating.Classifier, trainer *rating.Trainer, tagRepo repository.TagRepository, ratingRepo repository.RatingRepository, tasks *task.Manager, logger *zap.Logger) RatingHandler {
	return &ratingHandler{
		classifier: classifier,
		trainer:    trainer,
		tagRepo:    tagRepo,
		ratingRepo: ratingRepo,
		tasks:      tasks,
		logger:     logger,
	}
}

// Infer handles POST /api/rating/infer/:id
func (h *ratingHandler) Infer(c *gin.Context) {
	imageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return
	}
	if _, err := h.tagRepo.GetImage(imageID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	result, err := h.classifier.InferImage(imageID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// InferAll handles POST /api/rating/infer-all. The whole corpus is
// classified as a background task; per-image failures are counted, not
// fatal.
func (h *ratingHandler) InferAll(c *gin.Context) {
	handle, err := h.tasks.Submit("rating-infer-all", func(t *task.Task) (interface{}, error) {
		imageIDs, err := h.tagRepo.ListImageIDs()
		if err != nil {
			return nil, err
		}
		t.SetTotal(len(imageIDs))

		rated, unrated, failed := 0, 0, 0
		for _, imageID := range imageIDs {
			result, err := h.classifier.InferImage(imageID)
			if err != nil {
				h.logger.Warn("Failed to infer rating for image",
					zap.Int64("image_id", imageID), zap.Error(err))
				failed++
				t.Advance(1)
				continue
			}
			if result.Accepted {
				rated++
			} else {
				unrated++
			}
			t.Advance(1)
		}

		return map[string]int{
			"processed": len(imageIDs),
			"rated":     rated,
			"unrated":   unrated,
			"failed":    failed,
		}, nil
	})
	if err != nil {
		h.logger.Error("Failed to start infer-all task", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": handle.ID})
}

// Train handles POST /api/rating/train
func (h *ratingHandler) Train(c *gin.Context) {
	run, err := h.trainer.Train()
	if err != nil {
		h.logger.Error("Training failed", zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"training_samples": run.TrainingSamples,
		"unique_tags":      run.UniqueTags,
		"unique_pairs":     run.UniquePairs,
		"trained_at":       run.TrainedAt,
	})
}

// GetConfig handles GET /api/rating/config
func (h *ratingHandler) GetConfig(c *gin.Context) {
	cfg, err := h.ratingRepo.GetConfig()
	if err != nil {
		h.logger.Error("Failed to load rating config", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load rating config"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// UpdateConfig handles PUT /api/rating/config
func (h *ratingHandler) UpdateConfig(c *gin.Context) {
	var req models.RatingConfig
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	for r := range req.Thresholds {
		if !models.ValidRating(r) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown rating: " + r})
			return
		}
	}
	if req.PairWeightMultiplier < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pair_weight_multiplier must not be negative"})
		return
	}

	if err := h.ratingRepo.SaveConfig(&req); err != nil {
		h.logger.Error("Failed to save rating config", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save rating config"})
		return
	}

	cfg, err := h.ratingRepo.GetConfig()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reload rating config"})
		return
	}
	c.JSON(http.StatusOK, cfg)
}
