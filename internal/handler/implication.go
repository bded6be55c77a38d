package handler

import (
	"net/http"
	"strconv"

	"tagengine/internal/filter"
	"tagengine/internal/implication"
	"tagengine/internal/miner"
	"tagengine/internal/repository"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ImplicationHandler interface {
	ListSuggestions(c *gin.Context)
	RefreshSuggestions(c *gin.Context)
	DismissSuggestion(c *gin.Context)
	ListActive(c *gin.Context)
	TagSummary(c *gin.Context)
	Preview(c *gin.Context)
	Chain(c *gin.Context)
	Approve(c *gin.Context)
	BulkApprove(c *gin.Context)
	AutoApprove(c *gin.Context)
	Create(c *gin.Context)
	Delete(c *gin.Context)
	ClearTags(c *gin.Context)
	ClearAndReapply(c *gin.Context)
}

type implicationHandler struct {
	orchestrator *implication.Orchestrator
	miner        *miner.Miner
	implRepo     repository.ImplicationRepository
	logger       *zap.Logger
}

func NewImplicationHandler(orchestrator *implication.Orchestrator, m *miner.Miner, implRepo repository.ImplicationRepository, logger *zap.Logger) ImplicationHandler {
	return &implicationHandler{
		orchestrator: orchestrator,
		miner:        m,
		implRepo:     implRepo,
		logger:       logger,
	}
}

// ListSuggestions handles GET /api/implications/suggestions
// Query parameters:
// - page, limit: pagination
// - type: pattern type filter (naming_pattern | correlation | all)
// - source_category, implied_category: category filters, "-" prefixed
//   values exclude a category
// - q: free-text search over tag names
func (h *implicationHandler) ListSuggestions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	params := miner.ListParams{
		Page:            page,
		Limit:           limit,
		PatternType:     c.Query("type"),
		SourceCategory:  filter.Parse(c.Query("source_category")),
		ImpliedCategory: filter.Parse(c.Query("implied_category")),
		Query:           c.Query("q"),
	}

	result, err := h.miner.List(params)
	if err != nil {
		h.logger.Error("Failed to list suggestions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list suggestions"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// RefreshSuggestions handles POST /api/implications/suggestions/refresh
func (h *implicationHandler) RefreshSuggestions(c *gin.Context) {
	if err := h.miner.Refresh(); err != nil {
		h.logger.Error("Failed to refresh suggestions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to refresh suggestions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "suggestions refreshed"})
}

type suggestionRef struct {
	SourceTag  string `json:"source_tag" binding:"required"`
	ImpliedTag string `json:"implied_tag" binding:"required"`
}

// DismissSuggestion handles POST /api/implications/dismiss
func (h *implicationHandler) DismissSuggestion(c *gin.Context) {
	var req suggestionRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_tag and implied_tag are required"})
		return
	}
	h.miner.Dismiss(req.SourceTag, req.ImpliedTag)
	c.JSON(http.StatusOK, gin.H{"message": "suggestion dismissed"})
}

// ListActive handles GET /api/implications
func (h *implicationHandler) ListActive(c *gin.Context) {
	filters := repository.ImplicationFilters{
		SourceCategory:  filter.Parse(c.Query("source_category")),
		ImpliedCategory: filter.Parse(c.Query("implied_category")),
	}
	implications, err := h.implRepo.ListActive(filters)
	if err != nil {
		h.logger.Error("Failed to list implications", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list implications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"implications": implications})
}

// TagSummary handles GET /api/implications/tags/:name
func (h *implicationHandler) TagSummary(c *gin.Context) {
	summary, err := h.orchestrator.Summary(c.Param("name"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Preview handles GET /api/implications/preview
func (h *implicationHandler) Preview(c *gin.Context) {
	sourceTag := c.Query("source_tag")
	impliedTag := c.Query("implied_tag")
	if sourceTag == "" || impliedTag == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_tag and implied_tag are required"})
		return
	}

	preview, err := h.orchestrator.PreviewApprove(sourceTag, impliedTag)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, preview)
}

// Chain handles GET /api/implications/chain/:name
func (h *implicationHandler) Chain(c *gin.Context) {
	tree, err := h.orchestrator.Chain(c.Param("name"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, tree)
}

// Approve handles POST /api/implications/approve
func (h *implicationHandler) Approve(c *gin.Context) {
	var req implication.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.orchestrator.Approve(req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"created":       result.Created,
		"applied_count": result.AppliedCount,
		"tags_applied":  result.TagsApplied,
	})
}

// BulkApprove handles POST /api/implications/bulk-approve
func (h *implicationHandler) BulkApprove(c *gin.Context) {
	var req struct {
		Suggestions []implication.ApproveRequest `json:"suggestions" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "suggestions list is required"})
		return
	}

	result := h.orchestrator.BulkApprove(req.Suggestions)
	c.JSON(http.StatusOK, result)
}

// AutoApprove handles POST /api/implications/auto-approve
func (h *implicationHandler) AutoApprove(c *gin.Context) {
	var req struct {
		MinConfidence   float64 `json:"min_confidence"`
		MinSampleSize   int     `json:"min_sample_size"`
		SourceCategory  string  `json:"source_category"`
		ImpliedCategory string  `json:"implied_category"`
		ApplyNow        bool    `json:"apply_now"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.orchestrator.AutoApproveConfident(implication.AutoApproveParams{
		MinConfidence: req.MinConfidence,
		MinSampleSize: req.MinSampleSize,
		List: miner.ListParams{
			SourceCategory:  filter.Parse(req.SourceCategory),
			ImpliedCategory: filter.Parse(req.ImpliedCategory),
		},
		ApplyNow: req.ApplyNow,
	})
	if err != nil {
		h.logger.Error("Auto-approval failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Auto-approval failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Create handles POST /api/implications
func (h *implicationHandler) Create(c *gin.Context) {
	var req suggestionRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_tag and implied_tag are required"})
		return
	}

	if err := h.orchestrator.Create(req.SourceTag, req.ImpliedTag); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "implication created"})
}

// Delete handles DELETE /api/implications
// Query parameter dry_run=true previews the removal without writing.
func (h *implicationHandler) Delete(c *gin.Context) {
	var req suggestionRef
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source_tag and implied_tag are required"})
		return
	}
	dryRun := c.Query("dry_run") == "true"

	result, err := h.orchestrator.Delete(req.SourceTag, req.ImpliedTag, dryRun)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ClearTags handles POST /api/implications/clear-tags
// With dry_run=true it only reports how many assignments would go.
func (h *implicationHandler) ClearTags(c *gin.Context) {
	if c.Query("dry_run") == "true" {
		count, err := h.orchestrator.ClearTagsPreview()
		if err != nil {
			h.logger.Error("Failed to preview clear-tags", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to preview clear-tags"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"dry_run": true, "would_remove": count})
		return
	}

	handle, err := h.orchestrator.ClearTags()
	if err != nil {
		h.logger.Error("Failed to start clear-tags task", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": handle.ID})
}

// ClearAndReapply handles POST /api/implications/clear-and-reapply
// With dry_run=true it reports the rebuild's scope without writing.
func (h *implicationHandler) ClearAndReapply(c *gin.Context) {
	if c.Query("dry_run") == "true" {
		preview, err := h.orchestrator.ClearAndReapplyPreview()
		if err != nil {
			h.logger.Error("Failed to preview clear-and-reapply", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to preview clear-and-reapply"})
			return
		}
		c.JSON(http.StatusOK, preview)
		return
	}

	handle, err := h.orchestrator.ClearAndReapply()
	if err != nil {
		h.logger.Error("Failed to start clear-and-reapply task", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"task_id": handle.ID})
}
