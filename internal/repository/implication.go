package repository

import (
	"database/sql"
	"errors"

	"tagengine/internal/filter"
	"tagengine/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ImplicationFilters narrows ListActive results by source and implied
// tag category, with the exclusion semantics of the filter package.
type ImplicationFilters struct {
	SourceCategory  filter.CategoryFilter
	ImpliedCategory filter.CategoryFilter
}

type ImplicationRepository interface {
	ListActive(filters ImplicationFilters) ([]*models.Implication, error)
	ListBySourceTag(tagID int64) ([]*models.Implication, error)
	ListByImpliedTag(tagID int64) ([]*models.Implication, error)
	Create(sourceTagID, impliedTagID int64, inferenceType string, confidence float64) (*models.Implication, error)
	Delete(sourceTagID, impliedTagID int64) (int64, error)
	Exists(sourceTagID, impliedTagID int64) (bool, error)
	CountActive() (int, error)
}

type implicationRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewImplicationRepository(db *sqlx.DB, logger *zap.Logger) ImplicationRepository {
	return &implicationRepository{db: db, logger: logger}
}

const implicationColumns = `
	i.id,
	i.source_tag_id,
	i.implied_tag_id,
	st.name AS source_tag,
	st.category AS source_category,
	dt.name AS implied_tag,
	dt.category AS implied_category,
	i.inference_type,
	i.confidence,
	i.status,
	i.created_at
`

func (r *implicationRepository) ListActive(filters ImplicationFilters) ([]*models.Implication, error) {
	var implications []*models.Implication
	query := `
		SELECT ` + implicationColumns + `
		FROM implications i
		JOIN tags st ON st.id = i.source_tag_id
		JOIN tags dt ON dt.id = i.implied_tag_id
		WHERE i.status = 'active'
		ORDER BY st.name, dt.name
	`
	if err := r.db.Select(&implications, query); err != nil {
		return nil, err
	}

	if filters.SourceCategory.Empty() && filters.ImpliedCategory.Empty() {
		return implications, nil
	}

	filtered := implications[:0]
	for _, imp := range implications {
		if !filters.SourceCategory.Match(imp.SourceCategory) {
			continue
		}
		if !filters.ImpliedCategory.Match(imp.ImpliedCategory) {
			continue
		}
		filtered = append(filtered, imp)
	}
	return filtered, nil
}

func (r *implicationRepository) ListBySourceTag(tagID int64) ([]*models.Implication, error) {
	var implications []*models.Implication
	query := `
		SELECT ` + implicationColumns + `
		FROM implications i
		JOIN tags st ON st.id = i.source_tag_id
		JOIN tags dt ON dt.id = i.implied_tag_id
		WHERE i.status = 'active' AND i.source_tag_id = $1
		ORDER BY dt.name
	`
	if err := r.db.Select(&implications, query, tagID); err != nil {
		return nil, err
	}
	return implications, nil
}

func (r *implicationRepository) ListByImpliedTag(tagID int64) ([]*models.Implication, error) {
	var implications []*models.Implication
	query := `
		SELECT ` + implicationColumns + `
		FROM implications i
		JOIN tags st ON st.id = i.source_tag_id
		JOIN tags dt ON dt.id = i.implied_tag_id
		WHERE i.status = 'active' AND i.implied_tag_id = $1
		ORDER BY st.name
	`
	if err := r.db.Select(&implications, query, tagID); err != nil {
		return nil, err
	}
	return implications, nil
}

func (r *implicationRepository) Create(sourceTagID, impliedTagID int64, inferenceType string, confidence float64) (*models.Implication, error) {
	var id int64
	query := `
		INSERT INTO implications (source_tag_id, implied_tag_id, inference_type, confidence, status)
		VALUES ($1, $2, $3, $4, 'active')
		ON CONFLICT (source_tag_id, implied_tag_id) DO NOTHING
		RETURNING id
	`
	err := r.db.Get(&id, query, sourceTagID, impliedTagID, inferenceType, confidence)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Conflict: the edge already exists. Idempotent success.
			return nil, models.ErrDuplicateImplication
		}
		return nil, err
	}

	var imp models.Implication
	getQuery := `
		SELECT ` + implicationColumns + `
		FROM implications i
		JOIN tags st ON st.id = i.source_tag_id
		JOIN tags dt ON dt.id = i.implied_tag_id
		WHERE i.id = $1
	`
	if err := r.db.Get(&imp, getQuery, id); err != nil {
		return nil, err
	}
	return &imp, nil
}

// Delete removes an edge and reports affected rows. Deleting an edge
// that does not exist is a no-op, not an error.
func (r *implicationRepository) Delete(sourceTagID, impliedTagID int64) (int64, error) {
	result, err := r.db.Exec(
		`DELETE FROM implications WHERE source_tag_id = $1 AND implied_tag_id = $2`,
		sourceTagID, impliedTagID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *implicationRepository) Exists(sourceTagID, impliedTagID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM implications WHERE source_tag_id = $1 AND implied_tag_id = $2 AND status = 'active')`
	if err := r.db.Get(&exists, query, sourceTagID, impliedTagID); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *implicationRepository) CountActive() (int, error) {
	var count int
	if err := r.db.Get(&count, `SELECT COUNT(*) FROM implications WHERE status = 'active'`); err != nil {
		return 0, err
	}
	return count, nil
}
