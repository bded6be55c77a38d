// Package implication drives the approval lifecycle of implication
// edges: single and bulk approval, auto-approval of confident
// suggestions, deletion, and the clear/reapply maintenance flows.
package implication

import (
	"errors"
	"fmt"
	"strings"

	"tagengine/internal/graph"
	"tagengine/internal/miner"
	"tagengine/internal/models"
	"tagengine/internal/notify"
	"tagengine/internal/repository"
	"tagengine/internal/task"

	"go.uber.org/zap"
)

// ApproveRequest is one approval descriptor.
type ApproveRequest struct {
	SourceTag     string  `json:"source_tag"`
	ImpliedTag    string  `json:"implied_tag"`
	InferenceType string  `json:"inference_type"`
	Confidence    float64 `json:"confidence"`
	ApplyNow      bool    `json:"apply_now"`
}

// ApproveResult reports one approval.
type ApproveResult struct {
	Created      bool `json:"created"`
	AppliedCount int  `json:"applied_count"`
	TagsApplied  int  `json:"tags_applied"`
}

// BulkResult aggregates a batch of approvals. Item failures never abort
// the batch.
type BulkResult struct {
	SuccessCount int                `json:"success_count"`
	Total        int                `json:"total"`
	TagsApplied  int                `json:"tags_applied"`
	Errors       []models.ItemError `json:"errors"`
}

// AutoApproveParams filters the mined suggestion set before bulk
// approval.
type AutoApproveParams struct {
	MinConfidence float64
	MinSampleSize int
	List          miner.ListParams
	ApplyNow      bool
}

// DeleteResult reports an edge deletion or its dry run.
type DeleteResult struct {
	Deleted           int64    `json:"deleted"`
	DryRun            bool     `json:"dry_run"`
	Exists            bool     `json:"exists"`
	ChainImplications []string `json:"chain_implications,omitempty"`
}

// TagSummary is the per-tag implication overview.
type TagSummary struct {
	Tag         *models.Tag           `json:"tag"`
	Implies     []*models.Implication `json:"implies"`
	ImpliedBy   []*models.Implication `json:"implied_by"`
	Suggestions []models.Suggestion   `json:"suggestions"`
}

// Orchestrator coordinates the repositories, the miner, the graph
// resolver and the task manager.
type Orchestrator struct {
	tagRepo   repository.TagRepository
	implRepo  repository.ImplicationRepository
	deltaRepo repository.TagDeltaRepository
	miner     *miner.Miner
	resolver  *graph.Resolver
	tasks     *task.Manager
	notifier  notify.ImageNotifier
	logger    *zap.Logger
}

func NewOrchestrator(
	tagRepo repository.TagRepository,
	implRepo repository.ImplicationRepository,
	deltaRepo repository.TagDeltaRepository,
	m *miner.Miner,
	resolver *graph.Resolver,
	tasks *task.Manager,
	notifier notify.ImageNotifier,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		tagRepo:   tagRepo,
		implRepo:  implRepo,
		deltaRepo: deltaRepo,
		miner:     m,
		resolver:  resolver,
		tasks:     tasks,
		notifier:  notifier,
		logger:    logger,
	}
}

// validatePair rejects malformed pairs before any write.
func validatePair(source, implied string) error {
	if strings.TrimSpace(source) == "" || strings.TrimSpace(implied) == "" {
		return models.ErrEmptyTagName
	}
	if source == implied {
		return models.ErrSelfImplication
	}
	return nil
}

// Approve validates and inserts one edge. A duplicate approve is
// idempotent: success with zero new edges and no propagation. With
// ApplyNow set, the edge is immediately propagated to every image
// carrying the source tag; AppliedCount is the number of images that
// gained at least one tag.
func (o *Orchestrator) Approve(req ApproveRequest) (*ApproveResult, error) {
	if err := validatePair(req.SourceTag, req.ImpliedTag); err != nil {
		return nil, err
	}

	source, err := o.tagRepo.GetTagByName(req.SourceTag)
	if err != nil {
		return nil, fmt.Errorf("source tag %q: %w", req.SourceTag, err)
	}
	implied, err := o.tagRepo.GetTagByName(req.ImpliedTag)
	if err != nil {
		return nil, fmt.Errorf("implied tag %q: %w", req.ImpliedTag, err)
	}

	inferenceType := req.InferenceType
	if inferenceType == "" {
		inferenceType = models.InferenceManual
	}
	confidence := req.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 1.0
	}

	_, err = o.implRepo.Create(source.ID, implied.ID, inferenceType, confidence)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateImplication) {
			return &ApproveResult{Created: false}, nil
		}
		return nil, err
	}
	o.miner.Remove(req.SourceTag, req.ImpliedTag)

	result := &ApproveResult{Created: true}
	if req.ApplyNow {
		imagesTouched, tagsApplied, err := o.applyAll(source.ID)
		if err != nil {
			return nil, err
		}
		result.AppliedCount = imagesTouched
		result.TagsApplied = tagsApplied
	}

	o.logger.Info("Implication approved",
		zap.String("source", req.SourceTag),
		zap.String("implied", req.ImpliedTag),
		zap.Int("applied_count", result.AppliedCount))
	return result, nil
}

// applyAll propagates the active graph over every image carrying the
// given tag. Per-image failures are logged and skipped; one bad image
// must not block the rest.
func (o *Orchestrator) applyAll(sourceTagID int64) (imagesTouched, tagsApplied int, err error) {
	imageIDs, err := o.tagRepo.ListImageIDsWithTag(sourceTagID)
	if err != nil {
		return 0, 0, err
	}
	for _, imageID := range imageIDs {
		added, err := o.resolver.ApplyToImage(imageID, models.SourceAIInference)
		if err != nil {
			o.logger.Warn("Failed to propagate implications to image",
				zap.Int64("image_id", imageID), zap.Error(err))
			continue
		}
		if len(added) > 0 {
			imagesTouched++
			tagsApplied += len(added)
			o.notifier.ImageChanged(imageID)
		}
	}
	return imagesTouched, tagsApplied, nil
}

// BulkApprove processes each descriptor independently, continuing past
// individual failures.
func (o *Orchestrator) BulkApprove(items []ApproveRequest) *BulkResult {
	result := &BulkResult{Total: len(items), Errors: []models.ItemError{}}
	for _, item := range items {
		approved, err := o.Approve(item)
		if err != nil {
			result.Errors = append(result.Errors, models.ItemError{
				SourceTag:  item.SourceTag,
				ImpliedTag: item.ImpliedTag,
				Reason:     err.Error(),
			})
			continue
		}
		result.SuccessCount++
		result.TagsApplied += approved.TagsApplied
	}
	return result
}

// AutoApproveConfident bulk-approves every mined suggestion passing the
// confidence, sample size and category filters.
func (o *Orchestrator) AutoApproveConfident(params AutoApproveParams) (*BulkResult, error) {
	suggestions, err := o.miner.All(params.List)
	if err != nil {
		return nil, err
	}

	var items []ApproveRequest
	for _, s := range suggestions {
		if s.Confidence < params.MinConfidence {
			continue
		}
		if s.AffectedImages < params.MinSampleSize {
			continue
		}
		items = append(items, ApproveRequest{
			SourceTag:     s.SourceTag,
			ImpliedTag:    s.ImpliedTag,
			InferenceType: s.PatternType,
			Confidence:    s.Confidence,
			ApplyNow:      params.ApplyNow,
		})
	}
	return o.BulkApprove(items), nil
}

// Create inserts a manual edge without propagation.
func (o *Orchestrator) Create(sourceTag, impliedTag string) error {
	_, err := o.Approve(ApproveRequest{
		SourceTag:     sourceTag,
		ImpliedTag:    impliedTag,
		InferenceType: models.InferenceManual,
		Confidence:    1.0,
	})
	return err
}

// Delete removes an edge. Deleting a missing edge reports zero rows,
// not an error. With dryRun set nothing is written and the transitive
// closure that depends on the edge is returned for review.
func (o *Orchestrator) Delete(sourceTag, impliedTag string, dryRun bool) (*DeleteResult, error) {
	if err := validatePair(sourceTag, impliedTag); err != nil {
		return nil, err
	}
	source, err := o.tagRepo.GetTagByName(sourceTag)
	if err != nil {
		return nil, fmt.Errorf("source tag %q: %w", sourceTag, err)
	}
	implied, err := o.tagRepo.GetTagByName(impliedTag)
	if err != nil {
		return nil, fmt.Errorf("implied tag %q: %w", impliedTag, err)
	}

	if dryRun {
		exists, err := o.implRepo.Exists(source.ID, implied.ID)
		if err != nil {
			return nil, err
		}
		result := &DeleteResult{DryRun: true, Exists: exists}
		if exists {
			preview, err := o.resolver.PreviewApply(sourceTag, impliedTag)
			if err != nil {
				return nil, err
			}
			result.ChainImplications = preview.ChainImplications
		}
		return result, nil
	}

	deleted, err := o.implRepo.Delete(source.ID, implied.ID)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Implication deleted",
		zap.String("source", sourceTag),
		zap.String("implied", impliedTag),
		zap.Int64("rows", deleted))
	return &DeleteResult{Deleted: deleted, Exists: deleted > 0}, nil
}

// PreviewApprove is a dry-run impact estimate for one edge.
func (o *Orchestrator) PreviewApprove(sourceTag, impliedTag string) (*graph.Preview, error) {
	if err := validatePair(sourceTag, impliedTag); err != nil {
		return nil, err
	}
	return o.resolver.PreviewApply(sourceTag, impliedTag)
}

// Chain returns the transitive implication tree for one tag.
func (o *Orchestrator) Chain(tagName string) (*models.ChainNode, error) {
	return o.resolver.Chain(tagName)
}

// Summary returns the implication overview for one tag.
func (o *Orchestrator) Summary(tagName string) (*TagSummary, error) {
	tag, err := o.tagRepo.GetTagByName(tagName)
	if err != nil {
		return nil, err
	}
	implies, err := o.implRepo.ListBySourceTag(tag.ID)
	if err != nil {
		return nil, err
	}
	impliedBy, err := o.implRepo.ListByImpliedTag(tag.ID)
	if err != nil {
		return nil, err
	}
	suggestions, err := o.miner.SuggestionsFor(tagName)
	if err != nil {
		return nil, err
	}
	if suggestions == nil {
		suggestions = []models.Suggestion{}
	}
	return &TagSummary{Tag: tag, Implies: implies, ImpliedBy: impliedBy, Suggestions: suggestions}, nil
}

// ClearTagsPreview counts the AI-derived assignments a clear would
// remove, without removing anything.
func (o *Orchestrator) ClearTagsPreview() (int, error) {
	return o.tagRepo.CountAssignmentsBySource(models.SourceAIInference)
}

// ReapplyPreview describes the scope of a clear-and-reapply run.
type ReapplyPreview struct {
	DryRun         bool `json:"dry_run"`
	WouldRemove    int  `json:"would_remove"`
	ImagesTotal    int  `json:"images_total"`
	RecordedDeltas int  `json:"recorded_deltas"`
}

// ClearAndReapplyPreview reports what a rebuild would touch without
// writing anything: the AI-derived assignments that would be cleared,
// the images the active graph would be re-walked over, and the recorded
// manual deltas that would replay afterwards.
func (o *Orchestrator) ClearAndReapplyPreview() (*ReapplyPreview, error) {
	wouldRemove, err := o.tagRepo.CountAssignmentsBySource(models.SourceAIInference)
	if err != nil {
		return nil, err
	}
	images, err := o.tagRepo.CountImages()
	if err != nil {
		return nil, err
	}
	deltas, err := o.deltaRepo.ListAll()
	if err != nil {
		return nil, err
	}
	return &ReapplyPreview{
		DryRun:         true,
		WouldRemove:    wouldRemove,
		ImagesTotal:    images,
		RecordedDeltas: len(deltas),
	}, nil
}

// ClearTags removes every tag that was added through implication
// propagation or rating inference, image by image, as a background
// task. Each image's removal is atomic on its own; abandoning the task
// midway leaves no image half-mutated.
func (o *Orchestrator) ClearTags() (*task.Task, error) {
	return o.tasks.Submit("clear-tags", func(t *task.Task) (interface{}, error) {
		return o.runClear(t, false)
	})
}

// ClearAndReapply clears AI-derived tags and then re-walks the current
// active graph for every image, finally replaying recorded user deltas
// so manual overrides survive the rebuild.
func (o *Orchestrator) ClearAndReapply() (*task.Task, error) {
	return o.tasks.Submit("clear-and-reapply", func(t *task.Task) (interface{}, error) {
		return o.runClear(t, true)
	})
}

func (o *Orchestrator) runClear(t *task.Task, reapply bool) (interface{}, error) {
	imageIDs, err := o.tagRepo.ListImageIDs()
	if err != nil {
		return nil, err
	}
	t.SetTotal(len(imageIDs))

	var tagsRemoved, tagsReapplied int64
	failed := 0
	for _, imageID := range imageIDs {
		removed, err := o.tagRepo.RemoveImageTagsBySource(imageID, models.SourceAIInference)
		if err != nil {
			o.logger.Warn("Failed to clear AI tags from image",
				zap.Int64("image_id", imageID), zap.Error(err))
			failed++
			t.Advance(1)
			continue
		}
		tagsRemoved += removed

		if reapply {
			added, err := o.resolver.ApplyToImage(imageID, models.SourceAIInference)
			if err != nil {
				o.logger.Warn("Failed to reapply implications to image",
					zap.Int64("image_id", imageID), zap.Error(err))
				failed++
				t.Advance(1)
				continue
			}
			tagsReapplied += int64(len(added))

			if err := o.replayDeltas(imageID); err != nil {
				o.logger.Warn("Failed to replay tag deltas for image",
					zap.Int64("image_id", imageID), zap.Error(err))
				failed++
			}
		}

		if removed > 0 || reapply {
			o.notifier.ImageChanged(imageID)
		}
		t.Advance(1)
	}

	message := fmt.Sprintf("processed %d images, removed %d tags", len(imageIDs), tagsRemoved)
	if reapply {
		message += fmt.Sprintf(", reapplied %d tags", tagsReapplied)
	}
	t.SetMessage(message)

	return map[string]interface{}{
		"message":        message,
		"images_total":   len(imageIDs),
		"images_failed":  failed,
		"tags_removed":   tagsRemoved,
		"tags_reapplied": tagsReapplied,
	}, nil
}

// replayDeltas re-applies the recorded manual overrides for one image
// in their original order.
func (o *Orchestrator) replayDeltas(imageID int64) error {
	deltas, err := o.deltaRepo.ListByImage(imageID)
	if err != nil {
		return err
	}
	for _, delta := range deltas {
		tag, err := o.tagRepo.GetOrCreateTag(delta.TagName, delta.Category)
		if err != nil {
			return err
		}
		switch delta.Operation {
		case models.DeltaAdd:
			err = o.tagRepo.MutateImageTags(imageID, []models.TagAssignment{{
				ImageID: imageID,
				TagID:   tag.ID,
				Source:  models.SourceUser,
			}}, nil)
		case models.DeltaRemove:
			err = o.tagRepo.MutateImageTags(imageID, nil, []int64{tag.ID})
		default:
			o.logger.Warn("Unknown tag delta operation",
				zap.Int64("delta_id", delta.ID),
				zap.String("operation", delta.Operation))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
