// Package rating implements the content-rating inference engine: a
// trainer that learns per-tag and per-tag-pair weights from the rated
// corpus, and a classifier that scores tag sets against them.
package rating

import (
	"fmt"
	"sort"

	"tagengine/internal/models"
	"tagengine/internal/repository"

	"go.uber.org/zap"
)

// Settings controls training and classification behaviour.
type Settings struct {
	MinTrainingSamples int
	// MinPairCount drops pair weights with too few observations; rare
	// pairs carry more noise than signal.
	MinPairCount     int
	DefaultThreshold float64
}

// Trainer recomputes the weight model from the current corpus. Each run
// replaces the previous model wholesale.
//
// Estimator: weight(t, r) = count(images with t rated r) / count(images
// with t), the conditional frequency of rating r given tag t. It is
// monotonic in co-occurrence and non-negative, which keeps the
// classifier's sum normalization well behaved. Pair weights use the
// same estimator over unordered pairs.
type Trainer struct {
	tagRepo    repository.TagRepository
	ratingRepo repository.RatingRepository
	settings   Settings
	logger     *zap.Logger
}

func NewTrainer(tagRepo repository.TagRepository, ratingRepo repository.RatingRepository, settings Settings, logger *zap.Logger) *Trainer {
	return &Trainer{tagRepo: tagRepo, ratingRepo: ratingRepo, settings: settings, logger: logger}
}

// Train runs one full training pass and persists the resulting model
// plus run metadata. Idempotent and re-runnable at any time.
func (t *Trainer) Train() (*models.TrainingRun, error) {
	rows, err := t.tagRepo.ListRatedImageTags()
	if err != nil {
		return nil, fmt.Errorf("failed to load rated corpus: %w", err)
	}

	type sample struct {
		rating    string
		ambiguous bool
		tags      map[string]struct{}
	}
	samples := make(map[int64]*sample)
	for _, row := range rows {
		s, ok := samples[row.ImageID]
		if !ok {
			s = &sample{rating: row.Rating, tags: make(map[string]struct{})}
			samples[row.ImageID] = s
		}
		if row.Rating != s.rating {
			// More than one rating tag on the image: no usable label.
			s.ambiguous = true
		}
		s.tags[row.TagName] = struct{}{}
	}

	ambiguous := 0
	for id, s := range samples {
		if s.ambiguous {
			delete(samples, id)
			ambiguous++
		}
	}
	if ambiguous > 0 {
		t.logger.Warn("Excluding ambiguously rated images from training",
			zap.Int("count", ambiguous))
	}

	if len(samples) < t.settings.MinTrainingSamples {
		return nil, fmt.Errorf("%w: have %d, need %d",
			models.ErrInsufficientSamples, len(samples), t.settings.MinTrainingSamples)
	}

	tagTotal := make(map[string]int)
	tagByRating := make(map[string]map[string]int)
	pairTotal := make(map[[2]string]int)
	pairByRating := make(map[[2]string]map[string]int)

	for _, s := range samples {
		// The set collapses duplicate rows, so each tag and each pair is
		// one observation per image.
		tags := make([]string, 0, len(s.tags))
		for tag := range s.tags {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			tagTotal[tag]++
			if tagByRating[tag] == nil {
				tagByRating[tag] = make(map[string]int)
			}
			tagByRating[tag][s.rating]++
		}
		for i := 0; i < len(tags); i++ {
			for j := i + 1; j < len(tags); j++ {
				key := [2]string{tags[i], tags[j]}
				pairTotal[key]++
				if pairByRating[key] == nil {
					pairByRating[key] = make(map[string]int)
				}
				pairByRating[key][s.rating]++
			}
		}
	}

	var weights []models.TagWeight
	for tag, total := range tagTotal {
		for rating, count := range tagByRating[tag] {
			weights = append(weights, models.TagWeight{
				TagName: tag,
				Rating:  rating,
				Weight:  float64(count) / float64(total),
			})
		}
	}

	var pairWeights []models.TagPairWeight
	uniquePairs := 0
	for key, total := range pairTotal {
		if total < t.settings.MinPairCount {
			continue
		}
		uniquePairs++
		for rating, count := range pairByRating[key] {
			pairWeights = append(pairWeights, models.TagPairWeight{
				TagA:   key[0],
				TagB:   key[1],
				Rating: rating,
				Weight: float64(count) / float64(total),
			})
		}
	}

	run := &models.TrainingRun{
		TrainingSamples: len(samples),
		UniqueTags:      len(tagTotal),
		UniquePairs:     uniquePairs,
	}
	if err := t.ratingRepo.ReplaceWeights(weights, pairWeights, run); err != nil {
		return nil, fmt.Errorf("failed to persist weights: %w", err)
	}

	t.logger.Info("Rating model trained",
		zap.Int("samples", run.TrainingSamples),
		zap.Int("unique_tags", run.UniqueTags),
		zap.Int("unique_pairs", run.UniquePairs))
	return run, nil
}
