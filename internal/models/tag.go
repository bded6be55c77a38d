package models

import "time"

// Tag categories. "rating" is reserved for inferred content ratings.
const (
	CategoryCharacter = "character"
	CategoryCopyright = "copyright"
	CategoryArtist    = "artist"
	CategorySpecies   = "species"
	CategoryGeneral   = "general"
	CategoryMeta      = "meta"
	CategoryRating    = "rating"
)

// Assignment sources record tag provenance. AI-derived tags can be
// removed in bulk without touching original or user data.
const (
	SourceOriginal    = "original"
	SourceUser        = "user"
	SourceAIInference = "ai_inference"
)

// Tag represents a row in the 'tags' table. (name, category) is unique.
type Tag struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Category  string    `db:"category" json:"category"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// TagAssignment represents a row in the 'image_tags' table.
type TagAssignment struct {
	ImageID    int64      `db:"image_id" json:"image_id"`
	TagID      int64      `db:"tag_id" json:"tag_id"`
	TagName    string     `db:"tag_name" json:"tag_name"`
	Category   string     `db:"category" json:"category"`
	Source     string     `db:"source" json:"source"`
	Confidence *float64   `db:"confidence" json:"confidence,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// Image represents a row in the 'images' table. Tags is populated by
// joined queries where needed.
type Image struct {
	ID        int64           `db:"id" json:"id"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	Tags      []TagAssignment `db:"-" json:"tags,omitempty"`
}

// ValidCategory reports whether c is a known tag category.
func ValidCategory(c string) bool {
	switch c {
	case CategoryCharacter, CategoryCopyright, CategoryArtist,
		CategorySpecies, CategoryGeneral, CategoryMeta, CategoryRating:
		return true
	}
	return false
}
