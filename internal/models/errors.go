package models

import "errors"

// Domain errors shared across repositories and engine services.
var (
	ErrTagNotFound          = errors.New("tag not found")
	ErrImageNotFound        = errors.New("image not found")
	ErrImplicationNotFound  = errors.New("implication not found")
	ErrSelfImplication      = errors.New("a tag cannot imply itself")
	ErrEmptyTagName         = errors.New("tag name must not be empty")
	ErrDuplicateImplication = errors.New("implication already active")
	ErrInsufficientSamples  = errors.New("not enough labeled samples to train")
)

// ItemError reports a single failed unit inside a bulk operation.
type ItemError struct {
	SourceTag  string `json:"source_tag"`
	ImpliedTag string `json:"implied_tag"`
	Reason     string `json:"reason"`
}
