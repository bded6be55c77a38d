package repository

import (
	"tagengine/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// TagDeltaRepository persists manual tag overrides so user intent can be
// replayed after structural rebuilds.
type TagDeltaRepository interface {
	Record(delta *models.TagDelta) error
	ListByImage(imageID int64) ([]*models.TagDelta, error)
	ListAll() ([]*models.TagDelta, error)
}

type tagDeltaRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewTagDeltaRepository(db *sqlx.DB, logger *zap.Logger) TagDeltaRepository {
	return &tagDeltaRepository{db: db, logger: logger}
}

func (r *tagDeltaRepository) Record(delta *models.TagDelta) error {
	query := `
		INSERT INTO tag_deltas (image_id, tag_name, category, operation)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`
	return r.db.QueryRowx(query, delta.ImageID, delta.TagName, delta.Category, delta.Operation).
		Scan(&delta.ID, &delta.CreatedAt)
}

func (r *tagDeltaRepository) ListByImage(imageID int64) ([]*models.TagDelta, error) {
	var deltas []*models.TagDelta
	query := `
		SELECT id, image_id, tag_name, category, operation, created_at
		FROM tag_deltas
		WHERE image_id = $1
		ORDER BY created_at, id
	`
	if err := r.db.Select(&deltas, query, imageID); err != nil {
		return nil, err
	}
	return deltas, nil
}

func (r *tagDeltaRepository) ListAll() ([]*models.TagDelta, error) {
	var deltas []*models.TagDelta
	query := `
		SELECT id, image_id, tag_name, category, operation, created_at
		FROM tag_deltas
		ORDER BY image_id, created_at, id
	`
	if err := r.db.Select(&deltas, query); err != nil {
		return nil, err
	}
	return deltas, nil
}
