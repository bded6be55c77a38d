package models

import "time"

// Content rating categories, ordered from least to most sensitive.
const (
	RatingGeneral      = "general"
	RatingSensitive    = "sensitive"
	RatingQuestionable = "questionable"
	RatingExplicit     = "explicit"
)

// Ratings lists every rating category in canonical order.
var Ratings = []string{RatingGeneral, RatingSensitive, RatingQuestionable, RatingExplicit}

// ValidRating reports whether r is a known rating category.
func ValidRating(r string) bool {
	for _, known := range Ratings {
		if r == known {
			return true
		}
	}
	return false
}

// TagWeight is a learned per-tag weight toward one rating category.
type TagWeight struct {
	TagName string  `db:"tag_name" json:"tag_name"`
	Rating  string  `db:"rating" json:"rating"`
	Weight  float64 `db:"weight" json:"weight"`
}

// TagPairWeight is a learned weight for an unordered tag pair toward one
// rating category. TagA < TagB lexicographically by convention.
type TagPairWeight struct {
	TagA   string  `db:"tag_a" json:"tag_a"`
	TagB   string  `db:"tag_b" json:"tag_b"`
	Rating string  `db:"rating" json:"rating"`
	Weight float64 `db:"weight" json:"weight"`
}

// RatingConfig holds per-rating acceptance thresholds and the global
// pair weight multiplier applied during scoring.
type RatingConfig struct {
	Thresholds           map[string]float64 `json:"thresholds"`
	PairWeightMultiplier float64            `json:"pair_weight_multiplier"`
}

// TrainingRun is the metadata persisted after each training pass.
type TrainingRun struct {
	ID              int64     `db:"id" json:"id"`
	TrainingSamples int       `db:"training_samples" json:"training_samples"`
	UniqueTags      int       `db:"unique_tags" json:"unique_tags"`
	UniquePairs     int       `db:"unique_pairs" json:"unique_pairs"`
	TrainedAt       time.Time `db:"trained_at" json:"trained_at"`
}

// RatingResult is the classifier's decision for one image.
type RatingResult struct {
	ImageID    int64              `json:"image_id"`
	Rating     string             `json:"rating"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores"`
	Accepted   bool               `json:"accepted"`
}
