package repository

import (
	"database/sql"
	"errors"
	"fmt"

	"tagengine/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// TagCount is a tag together with the number of images carrying it.
type TagCount struct {
	TagID    int64  `db:"tag_id"`
	Name     string `db:"name"`
	Category string `db:"category"`
	Count    int    `db:"count"`
}

// TagPairCount is an unordered tag pair with its co-occurrence count.
type TagPairCount struct {
	TagAID int64 `db:"tag_a_id"`
	TagBID int64 `db:"tag_b_id"`
	Count  int   `db:"count"`
}

// RatedImageTag is one tag assignment on an image that carries a rating
// tag, used as trainer input.
type RatedImageTag struct {
	ImageID int64  `db:"image_id"`
	TagName string `db:"tag_name"`
	Rating  string `db:"rating"`
}

type TagRepository interface {
	GetTagByName(name string) (*models.Tag, error)
	GetOrCreateTag(name, category string) (*models.Tag, error)
	GetImage(id int64) (*models.Image, error)
	GetImageTags(imageID int64) ([]models.TagAssignment, error)
	ListImageIDs() ([]int64, error)
	ListImageIDsWithTag(tagID int64) ([]int64, error)
	CountImagesWithTag(tagID int64) (int, error)
	CountImagesWithTagHavingTag(tagID, otherTagID int64) (int, error)
	CountImagesWithTagMissingAll(tagID int64, missingTagIDs []int64) (int, error)
	MutateImageTags(imageID int64, add []models.TagAssignment, removeTagIDs []int64) error
	RemoveImageTagsBySource(imageID int64, source string) (int64, error)
	CountAssignmentsBySource(source string) (int, error)
	ListTagCounts(category string) ([]TagCount, error)
	ListTagPairCounts(minCount int) ([]TagPairCount, error)
	ListRatedImageTags() ([]RatedImageTag, error)
	CountImages() (int, error)
}

type tagRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewTagRepository(db *sqlx.DB, logger *zap.Logger) TagRepository {
	return &tagRepository{db: db, logger: logger}
}

func (r *tagRepository) GetTagByName(name string) (*models.Tag, error) {
	var tag models.Tag
	query := `SELECT id, name, category, created_at FROM tags WHERE name = $1 ORDER BY id LIMIT 1`
	err := r.db.Get(&tag, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrTagNotFound
		}
		return nil, err
	}
	return &tag, nil
}

func (r *tagRepository) GetOrCreateTag(name, category string) (*models.Tag, error) {
	var tag models.Tag
	query := `
		INSERT INTO tags (name, category)
		VALUES ($1, $2)
		ON CONFLICT (name, category) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, category, created_at
	`
	if err := r.db.Get(&tag, query, name, category); err != nil {
		return nil, err
	}
	return &tag, nil
}

func (r *tagRepository) GetImage(id int64) (*models.Image, error) {
	var img models.Image
	query := `SELECT id, created_at FROM images WHERE id = $1`
	err := r.db.Get(&img, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrImageNotFound
		}
		return nil, err
	}
	tags, err := r.GetImageTags(id)
	if err != nil {
		return nil, err
	}
	img.Tags = tags
	return &img, nil
}

func (r *tagRepository) GetImageTags(imageID int64) ([]models.TagAssignment, error) {
	var tags []models.TagAssignment
	query := `
		SELECT it.image_id, it.tag_id, t.name AS tag_name, t.category, it.source, it.confidence, it.created_at
		FROM image_tags it
		JOIN tags t ON t.id = it.tag_id
		WHERE it.image_id = $1
		ORDER BY t.category, t.name
	`
	if err := r.db.Select(&tags, query, imageID); err != nil {
		return nil, err
	}
	return tags, nil
}

func (r *tagRepository) ListImageIDs() ([]int64, error) {
	var ids []int64
	if err := r.db.Select(&ids, `SELECT id FROM images ORDER BY id`); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *tagRepository) ListImageIDsWithTag(tagID int64) ([]int64, error) {
	var ids []int64
	query := `SELECT image_id FROM image_tags WHERE tag_id = $1 ORDER BY image_id`
	if err := r.db.Select(&ids, query, tagID); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *tagRepository) CountImagesWithTag(tagID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM image_tags WHERE tag_id = $1`
	if err := r.db.Get(&count, query, tagID); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *tagRepository) CountImagesWithTagHavingTag(tagID, otherTagID int64) (int, error) {
	var count int
	query := `
		SELECT COUNT(*)
		FROM image_tags a
		JOIN image_tags b ON b.image_id = a.image_id AND b.tag_id = $2
		WHERE a.tag_id = $1
	`
	if err := r.db.Get(&count, query, tagID, otherTagID); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *tagRepository) CountImagesWithTagMissingAll(tagID int64, missingTagIDs []int64) (int, error) {
	if len(missingTagIDs) == 0 {
		return r.CountImagesWithTag(tagID)
	}
	query, args, err := sqlx.In(`
		SELECT COUNT(*)
		FROM image_tags a
		WHERE a.tag_id = ?
		AND NOT EXISTS (
			SELECT 1 FROM image_tags b
			WHERE b.image_id = a.image_id AND b.tag_id IN (?)
		)
	`, tagID, missingTagIDs)
	if err != nil {
		return 0, err
	}
	query = r.db.Rebind(query)
	var count int
	if err := r.db.Get(&count, query, args...); err != nil {
		return 0, err
	}
	return count, nil
}

// MutateImageTags applies an add/remove set to one image as a single
// transaction. The image row is locked so concurrent propagation runs
// against the same image serialize; different images do not contend.
func (r *tagRepository) MutateImageTags(imageID int64, add []models.TagAssignment, removeTagIDs []int64) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var lockedID int64
	err = tx.Get(&lockedID, `SELECT id FROM images WHERE id = $1 FOR UPDATE`, imageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrImageNotFound
		}
		return err
	}

	if len(removeTagIDs) > 0 {
		query, args, err := sqlx.In(`DELETE FROM image_tags WHERE image_id = ? AND tag_id IN (?)`, imageID, removeTagIDs)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(tx.Rebind(query), args...); err != nil {
			return err
		}
	}

	for _, a := range add {
		_, err := tx.Exec(`
			INSERT INTO image_tags (image_id, tag_id, source, confidence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (image_id, tag_id) DO NOTHING
		`, imageID, a.TagID, a.Source, a.Confidence)
		if err != nil {
			return fmt.Errorf("failed to add tag %d to image %d: %w", a.TagID, imageID, err)
		}
	}

	return tx.Commit()
}

func (r *tagRepository) RemoveImageTagsBySource(imageID int64, source string) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM image_tags WHERE image_id = $1 AND source = $2`, imageID, source)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *tagRepository) CountAssignmentsBySource(source string) (int, error) {
	var count int
	if err := r.db.Get(&count, `SELECT COUNT(*) FROM image_tags WHERE source = $1`, source); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *tagRepository) ListTagCounts(category string) ([]TagCount, error) {
	var counts []TagCount
	query := `
		SELECT t.id AS tag_id, t.name, t.category, COUNT(it.image_id) AS count
		FROM tags t
		LEFT JOIN image_tags it ON it.tag_id = t.id
	`
	args := []interface{}{}
	if category != "" {
		query += ` WHERE t.category = $1`
		args = append(args, category)
	}
	query += ` GROUP BY t.id, t.name, t.category ORDER BY count DESC, t.name`
	if err := r.db.Select(&counts, query, args...); err != nil {
		return nil, err
	}
	return counts, nil
}

// ListTagPairCounts returns co-occurrence counts for every unordered tag
// pair appearing together on at least minCount images. The a.tag_id <
// b.tag_id join keeps each pair single-counted.
func (r *tagRepository) ListTagPairCounts(minCount int) ([]TagPairCount, error) {
	var counts []TagPairCount
	query := `
		SELECT a.tag_id AS tag_a_id, b.tag_id AS tag_b_id, COUNT(*) AS count
		FROM image_tags a
		JOIN image_tags b ON b.image_id = a.image_id AND a.tag_id < b.tag_id
		GROUP BY a.tag_id, b.tag_id
		HAVING COUNT(*) >= $1
	`
	if err := r.db.Select(&counts, query, minCount); err != nil {
		return nil, err
	}
	return counts, nil
}

// ListRatedImageTags returns one row per non-rating tag on every image
// that carries a rating tag. Trainer input.
func (r *tagRepository) ListRatedImageTags() ([]RatedImageTag, error) {
	var rows []RatedImageTag
	query := `
		SELECT it.image_id, t.name AS tag_name, rt.name AS rating
		FROM image_tags it
		JOIN tags t ON t.id = it.tag_id AND t.category <> 'rating'
		JOIN image_tags rit ON rit.image_id = it.image_id
		JOIN tags rt ON rt.id = rit.tag_id AND rt.category = 'rating'
		ORDER BY it.image_id
	`
	if err := r.db.Select(&rows, query); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *tagRepository) CountImages() (int, error) {
	var count int
	if err := r.db.Get(&count, `SELECT COUNT(*) FROM images`); err != nil {
		return 0, err
	}
	return count, nil
}
