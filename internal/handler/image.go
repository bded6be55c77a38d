package handler

import (
	"errors"
	"net/http"
	"strconv"

	"tagengine/internal/graph"
	"tagengine/internal/models"
	"tagengine/internal/notify"
	"tagengine/internal/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ImageHandler interface {
	GetTags(c *gin.Context)
	AddTag(c *gin.Context)
	RemoveTag(c *gin.Context)
}

type imageHandler struct {
	tagRepo   repository.TagRepository
	deltaRepo repository.TagDeltaRepository
	resolver  *graph.Resolver
	notifier  notify.ImageNotifier
	logger    *zap.Logger
}

func NewImageHandler(tagRepo repository.TagRepository, deltaRepo repository.TagDeltaRepository, resolver *graph.Resolver, notifier notify.ImageNotifier, logger *zap.Logger) ImageHandler {
	return &imageHandler{
		tagRepo:   tagRepo,
		deltaRepo: deltaRepo,
		resolver:  resolver,
		notifier:  notifier,
		logger:    logger,
	}
}

type imageTagRequest struct {
	Tag      string `json:"tag" binding:"required"`
	Category string `json:"category"`
}

// GetTags handles GET /api/images/:id/tags
func (h *imageHandler) GetTags(c *gin.Context) {
	imageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return
	}

	if _, err := h.tagRepo.GetImage(imageID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	tags, err := h.tagRepo.GetImageTags(imageID)
	if err != nil {
		h.logger.Error("Failed to load image tags", zap.Int64("image_id", imageID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load image tags"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"image_id": imageID, "tags": tags})
}

// AddTag handles POST /api/images/:id/tags. The tag is recorded with
// user provenance and a delta so the edit survives a rebuild, then any
// implications of the new tag are propagated.
func (h *imageHandler) AddTag(c *gin.Context) {
	imageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return
	}
	var req imageTagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	category := req.Category
	if category == "" {
		category = models.CategoryGeneral
	}
	if !models.ValidCategory(category) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category: " + category})
		return
	}

	if _, err := h.tagRepo.GetImage(imageID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	tag, err := h.tagRepo.GetOrCreateTag(req.Tag, category)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	add := []models.TagAssignment{{
		ImageID:  imageID,
		TagID:    tag.ID,
		TagName:  tag.Name,
		Category: tag.Category,
		Source:   models.SourceUser,
	}}
	if err := h.tagRepo.MutateImageTags(imageID, add, nil); err != nil {
		h.logger.Error("Failed to add tag", zap.Int64("image_id", imageID),
			zap.String("tag", tag.Name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to add tag"})
		return
	}
	if err := h.deltaRepo.Record(&models.TagDelta{
		ImageID:   imageID,
		TagName:   tag.Name,
		Category:  tag.Category,
		Operation: models.DeltaAdd,
	}); err != nil {
		h.logger.Warn("Failed to record tag delta", zap.Int64("image_id", imageID), zap.Error(err))
	}

	applied, err := h.resolver.ApplyToImage(imageID, models.SourceAIInference)
	if err != nil {
		h.logger.Warn("Failed to propagate implications",
			zap.Int64("image_id", imageID), zap.Error(err))
		applied = nil
	}

	h.notifier.ImageChanged(imageID)
	c.JSON(http.StatusOK, gin.H{
		"image_id":     imageID,
		"tag":          tag.Name,
		"category":     tag.Category,
		"implied_tags": applied,
	})
}

// RemoveTag handles DELETE /api/images/:id/tags/:tag
func (h *imageHandler) RemoveTag(c *gin.Context) {
	imageID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image id"})
		return
	}
	tagName := c.Param("tag")

	if _, err := h.tagRepo.GetImage(imageID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	tag, err := h.tagRepo.GetTagByName(tagName)
	if err != nil {
		if errors.Is(err, models.ErrTagNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tag not found: " + tagName})
			return
		}
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	if err := h.tagRepo.MutateImageTags(imageID, nil, []int64{tag.ID}); err != nil {
		h.logger.Error("Failed to remove tag", zap.Int64("image_id", imageID),
			zap.String("tag", tag.Name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to remove tag"})
		return
	}
	if err := h.deltaRepo.Record(&models.TagDelta{
		ImageID:   imageID,
		TagName:   tag.Name,
		Category:  tag.Category,
		Operation: models.DeltaRemove,
	}); err != nil {
		h.logger.Warn("Failed to record tag delta", zap.Int64("image_id", imageID), zap.Error(err))
	}

	h.notifier.ImageChanged(imageID)
	c.JSON(http.StatusOK, gin.H{"image_id": imageID, "tag": tag.Name, "removed": true})
}
