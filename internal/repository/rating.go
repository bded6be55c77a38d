package repository

import (
	"database/sql"
	"errors"

	"tagengine/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// RatingRepository persists learned weights, classifier configuration
// and training metadata. Weights are replaced wholesale on each
// training run, never patched.
type RatingRepository interface {
	ReplaceWeights(weights []models.TagWeight, pairWeights []models.TagPairWeight, run *models.TrainingRun) error
	GetTagWeights(tagNames []string) ([]models.TagWeight, error)
	GetPairWeights(tagNames []string) ([]models.TagPairWeight, error)
	GetConfig() (*models.RatingConfig, error)
	SaveConfig(cfg *models.RatingConfig) error
	LatestTrainingRun() (*models.TrainingRun, error)
	CountWeights() (int, int, error)
}

type ratingRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewRatingRepository(db *sqlx.DB, logger *zap.Logger) RatingRepository {
	return &ratingRepository{db: db, logger: logger}
}

// ReplaceWeights atomically swaps the whole weight model for a freshly
// trained one and records the run metadata.
func (r *ratingRepository) ReplaceWeights(weights []models.TagWeight, pairWeights []models.TagPairWeight, run *models.TrainingRun) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM tag_weights`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM tag_pair_weights`); err != nil {
		return err
	}

	for _, w := range weights {
		_, err := tx.Exec(
			`INSERT INTO tag_weights (tag_name, rating, weight) VALUES ($1, $2, $3)`,
			w.TagName, w.Rating, w.Weight,
		)
		if err != nil {
			return err
		}
	}
	for _, w := range pairWeights {
		_, err := tx.Exec(
			`INSERT INTO tag_pair_weights (tag_a, tag_b, rating, weight) VALUES ($1, $2, $3, $4)`,
			w.TagA, w.TagB, w.Rating, w.Weight,
		)
		if err != nil {
			return err
		}
	}

	err = tx.QueryRowx(
		`INSERT INTO training_runs (training_samples, unique_tags, unique_pairs) VALUES ($1, $2, $3) RETURNING id, trained_at`,
		run.TrainingSamples, run.UniqueTags, run.UniquePairs,
	).Scan(&run.ID, &run.TrainedAt)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *ratingRepository) GetTagWeights(tagNames []string) ([]models.TagWeight, error) {
	if len(tagNames) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT tag_name, rating, weight FROM tag_weights WHERE tag_name IN (?)`, tagNames)
	if err != nil {
		return nil, err
	}
	var weights []models.TagWeight
	if err := r.db.Select(&weights, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return weights, nil
}

func (r *ratingRepository) GetPairWeights(tagNames []string) ([]models.TagPairWeight, error) {
	if len(tagNames) < 2 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		`SELECT tag_a, tag_b, rating, weight FROM tag_pair_weights WHERE tag_a IN (?) AND tag_b IN (?)`,
		tagNames, tagNames,
	)
	if err != nil {
		return nil, err
	}
	var weights []models.TagPairWeight
	if err := r.db.Select(&weights, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return weights, nil
}

type ratingConfigRow struct {
	Rating    string  `db:"rating"`
	Threshold float64 `db:"threshold"`
}

func (r *ratingRepository) GetConfig() (*models.RatingConfig, error) {
	var rows []ratingConfigRow
	if err := r.db.Select(&rows, `SELECT rating, threshold FROM rating_config`); err != nil {
		return nil, err
	}

	cfg := &models.RatingConfig{Thresholds: make(map[string]float64)}
	for _, row := range rows {
		cfg.Thresholds[row.Rating] = row.Threshold
	}

	err := r.db.Get(&cfg.PairWeightMultiplier, `SELECT pair_weight_multiplier FROM rating_settings WHERE id = 1`)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return cfg, nil
}

func (r *ratingRepository) SaveConfig(cfg *models.RatingConfig) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for rating, threshold := range cfg.Thresholds {
		_, err := tx.Exec(`
			INSERT INTO rating_config (rating, threshold)
			VALUES ($1, $2)
			ON CONFLICT (rating) DO UPDATE SET threshold = EXCLUDED.threshold
		`, rating, threshold)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(`
		INSERT INTO rating_settings (id, pair_weight_multiplier)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET pair_weight_multiplier = EXCLUDED.pair_weight_multiplier
	`, cfg.PairWeightMultiplier)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (r *ratingRepository) LatestTrainingRun() (*models.TrainingRun, error) {
	var run models.TrainingRun
	query := `SELECT id, training_samples, unique_tags, unique_pairs, trained_at FROM training_runs ORDER BY trained_at DESC LIMIT 1`
	err := r.db.Get(&run, query)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (r *ratingRepository) CountWeights() (int, int, error) {
	var tagCount, pairCount int
	if err := r.db.Get(&tagCount, `SELECT COUNT(DISTINCT tag_name) FROM tag_weights`); err != nil {
		return 0, 0, err
	}
	if err := r.db.Get(&pairCount, `SELECT COUNT(DISTINCT (tag_a, tag_b)) FROM tag_pair_weights`); err != nil {
		return 0, 0, err
	}
	return tagCount, pairCount, nil
}
