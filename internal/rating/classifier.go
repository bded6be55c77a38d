package rating

import (
	"fmt"

	"tagengine/internal/models"
	"tagengine/internal/notify"
	"tagengine/internal/repository"

	"go.uber.org/zap"
)

// Classifier scores tag sets against the trained weight model and
// decides an image's content rating.
type Classifier struct {
	tagRepo    repository.TagRepository
	ratingRepo repository.RatingRepository
	notifier   notify.ImageNotifier
	settings   Settings
	logger     *zap.Logger
}

func NewClassifier(tagRepo repository.TagRepository, ratingRepo repository.RatingRepository, notifier notify.ImageNotifier, settings Settings, logger *zap.Logger) *Classifier {
	return &Classifier{
		tagRepo:    tagRepo,
		ratingRepo: ratingRepo,
		notifier:   notifier,
		settings:   settings,
		logger:     logger,
	}
}

// Score computes the raw per-rating scores for a tag set:
//
//	score[r] = Σ weight(t, r) + multiplier × Σ pairWeight((ti,tj), r)
//
// Tags without learned weights contribute nothing.
func (c *Classifier) Score(tagNames []string) (map[string]float64, error) {
	scores := make(map[string]float64, len(models.Ratings))
	for _, r := range models.Ratings {
		scores[r] = 0
	}
	if len(tagNames) == 0 {
		return scores, nil
	}

	cfg, err := c.ratingRepo.GetConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load rating config: %w", err)
	}

	weights, err := c.ratingRepo.GetTagWeights(tagNames)
	if err != nil {
		return nil, err
	}
	for _, w := range weights {
		scores[w.Rating] += w.Weight
	}

	pairWeights, err := c.ratingRepo.GetPairWeights(tagNames)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(tagNames))
	for _, name := range tagNames {
		present[name] = true
	}
	for _, w := range pairWeights {
		// The IN-clause query can over-fetch; keep only pairs where both
		// tags are in the set.
		if present[w.TagA] && present[w.TagB] {
			scores[w.Rating] += cfg.PairWeightMultiplier * w.Weight
		}
	}

	return scores, nil
}

// normalize maps raw scores onto [0,1] summing to 1. Negative raw
// scores are clamped first so a single strong category cannot be
// inflated by another's negative mass.
func normalize(raw map[string]float64) map[string]float64 {
	sum := 0.0
	clamped := make(map[string]float64, len(raw))
	for r, s := range raw {
		if s < 0 {
			s = 0
		}
		clamped[r] = s
		sum += s
	}
	normalized := make(map[string]float64, len(raw))
	if sum == 0 {
		for r := range raw {
			normalized[r] = 0
		}
		return normalized
	}
	for r, s := range clamped {
		normalized[r] = s / sum
	}
	return normalized
}

// Classify scores a tag set and applies the decision rule: the top
// normalized score wins, but only if it exceeds that rating's
// configured threshold. Otherwise the result is unrated.
func (c *Classifier) Classify(tagNames []string) (*models.RatingResult, error) {
	raw, err := c.Score(tagNames)
	if err != nil {
		return nil, err
	}
	scores := normalize(raw)

	cfg, err := c.ratingRepo.GetConfig()
	if err != nil {
		return nil, err
	}

	best := ""
	bestScore := 0.0
	for _, r := range models.Ratings {
		if scores[r] > bestScore {
			best = r
			bestScore = scores[r]
		}
	}

	result := &models.RatingResult{Scores: scores}
	if best == "" {
		return result, nil
	}

	threshold, ok := cfg.Thresholds[best]
	if !ok {
		threshold = c.settings.DefaultThreshold
	}
	if bestScore <= threshold {
		// No forced guess below the threshold.
		return result, nil
	}

	result.Rating = best
	result.Confidence = bestScore
	result.Accepted = true
	return result, nil
}

// InferImage classifies one image from its current tag set and, on
// acceptance, writes the rating tag with ai_inference provenance and
// the accepted score as confidence. An authoritative rating (original
// or user source) is never overwritten; only a previous AI rating is
// replaced.
func (c *Classifier) InferImage(imageID int64) (*models.RatingResult, error) {
	assignments, err := c.tagRepo.GetImageTags(imageID)
	if err != nil {
		return nil, err
	}

	var tagNames []string
	var oldAIRatings []int64
	for _, a := range assignments {
		if a.Category == models.CategoryRating {
			if a.Source != models.SourceAIInference {
				// Labeled upstream; classify but do not write.
				result, err := c.classifyNames(imageID, tagNamesOf(assignments))
				if err != nil {
					return nil, err
				}
				return result, nil
			}
			oldAIRatings = append(oldAIRatings, a.TagID)
			continue
		}
		tagNames = append(tagNames, a.TagName)
	}

	result, err := c.classifyNames(imageID, tagNames)
	if err != nil {
		return nil, err
	}
	if !result.Accepted {
		if len(oldAIRatings) > 0 {
			// A stale AI rating no longer meets the threshold.
			if err := c.tagRepo.MutateImageTags(imageID, nil, oldAIRatings); err != nil {
				return nil, err
			}
			c.notifier.ImageChanged(imageID)
		}
		return result, nil
	}

	ratingTag, err := c.tagRepo.GetOrCreateTag(result.Rating, models.CategoryRating)
	if err != nil {
		return nil, err
	}

	confidence := result.Confidence
	add := []models.TagAssignment{{
		ImageID:    imageID,
		TagID:      ratingTag.ID,
		Source:     models.SourceAIInference,
		Confidence: &confidence,
	}}
	remove := make([]int64, 0, len(oldAIRatings))
	for _, id := range oldAIRatings {
		if id != ratingTag.ID {
			remove = append(remove, id)
		}
	}
	if err := c.tagRepo.MutateImageTags(imageID, add, remove); err != nil {
		return nil, err
	}
	c.notifier.ImageChanged(imageID)

	c.logger.Debug("Inferred image rating",
		zap.Int64("image_id", imageID),
		zap.String("rating", result.Rating),
		zap.Float64("confidence", result.Confidence))
	return result, nil
}

func (c *Classifier) classifyNames(imageID int64, tagNames []string) (*models.RatingResult, error) {
	result, err := c.Classify(tagNames)
	if err != nil {
		return nil, err
	}
	result.ImageID = imageID
	return result, nil
}

func tagNamesOf(assignments []models.TagAssignment) []string {
	var names []string
	for _, a := range assignments {
		if a.Category != models.CategoryRating {
			names = append(names, a.TagName)
		}
	}
	return names
}
