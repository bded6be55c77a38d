// Package miner derives candidate implications from the tag corpus.
// Suggestions are an in-memory projection: they are recomputed on
// refresh and never persisted, and dismissals live only as long as the
// process.
package miner

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"tagengine/internal/filter"
	"tagengine/internal/models"
	"tagengine/internal/repository"

	"go.uber.org/zap"
)

// Settings controls the mining thresholds.
type Settings struct {
	MinSampleSize     int
	MinCooccurrence   float64
	PatternConfidence float64
}

// ListParams narrows and paginates the suggestion listing.
type ListParams struct {
	Page            int
	Limit           int
	PatternType     string
	SourceCategory  filter.CategoryFilter
	ImpliedCategory filter.CategoryFilter
	Query           string
}

// Page is one page of the filtered suggestion set.
type Page struct {
	Suggestions []models.Suggestion `json:"suggestions"`
	Page        int                 `json:"page"`
	Total       int                 `json:"total"`
	TotalPages  int                 `json:"total_pages"`
	HasMore     bool                `json:"has_more"`
}

// characterPattern matches tags of the shape "name_(qualifier)", e.g.
// "hatsune_miku_(vocaloid)".
var characterPattern = regexp.MustCompile(`^(.+)_\(([^()]+)\)$`)

// Miner mines and caches implication suggestions.
type Miner struct {
	tagRepo  repository.TagRepository
	implRepo repository.ImplicationRepository
	settings Settings
	logger   *zap.Logger

	mu        sync.RWMutex
	cache     []models.Suggestion
	mined     bool
	dismissed map[string]struct{}
}

func NewMiner(tagRepo repository.TagRepository, implRepo repository.ImplicationRepository, settings Settings, logger *zap.Logger) *Miner {
	return &Miner{
		tagRepo:   tagRepo,
		implRepo:  implRepo,
		settings:  settings,
		logger:    logger,
		dismissed: make(map[string]struct{}),
	}
}

func suggestionKey(source, implied string) string {
	return source + "\x00" + implied
}

// Refresh recomputes the suggestion set from the current corpus,
// discarding the previous one. Already-active implications and
// dismissed suggestions are excluded.
func (m *Miner) Refresh() error {
	active, err := m.implRepo.ListActive(repository.ImplicationFilters{})
	if err != nil {
		return fmt.Errorf("failed to list active implications: %w", err)
	}
	activeSet := make(map[string]struct{}, len(active))
	for _, imp := range active {
		activeSet[suggestionKey(imp.SourceTag, imp.ImpliedTag)] = struct{}{}
	}

	var suggestions []models.Suggestion

	patternSuggestions, err := m.mineNamingPatterns(activeSet)
	if err != nil {
		return err
	}
	suggestions = append(suggestions, patternSuggestions...)

	correlationSuggestions, err := m.mineCorrelations(activeSet)
	if err != nil {
		return err
	}
	suggestions = append(suggestions, correlationSuggestions...)

	m.mu.Lock()
	filtered := suggestions[:0]
	for _, s := range suggestions {
		if _, gone := m.dismissed[suggestionKey(s.SourceTag, s.ImpliedTag)]; !gone {
			filtered = append(filtered, s)
		}
	}
	m.cache = filtered
	m.mined = true
	m.mu.Unlock()

	m.logger.Info("Suggestion mining complete",
		zap.Int("pattern", len(patternSuggestions)),
		zap.Int("correlation", len(correlationSuggestions)),
		zap.Int("total", len(filtered)))
	return nil
}

// mineNamingPatterns emits an edge for every character tag of the shape
// "name_(qualifier)" whose qualifier exists as a copyright tag. This is
// a deterministic rule, so the confidence is fixed.
func (m *Miner) mineNamingPatterns(activeSet map[string]struct{}) ([]models.Suggestion, error) {
	characters, err := m.tagRepo.ListTagCounts(models.CategoryCharacter)
	if err != nil {
		return nil, err
	}
	copyrights, err := m.tagRepo.ListTagCounts(models.CategoryCopyright)
	if err != nil {
		return nil, err
	}
	copyrightByName := make(map[string]repository.TagCount, len(copyrights))
	for _, c := range copyrights {
		copyrightByName[c.Name] = c
	}

	var suggestions []models.Suggestion
	for _, character := range characters {
		match := characterPattern.FindStringSubmatch(character.Name)
		if match == nil {
			continue
		}
		target, ok := copyrightByName[match[2]]
		if !ok {
			continue
		}
		if _, exists := activeSet[suggestionKey(character.Name, target.Name)]; exists {
			continue
		}
		suggestions = append(suggestions, models.Suggestion{
			SourceTag:       character.Name,
			SourceCategory:  character.Category,
			ImpliedTag:      target.Name,
			ImpliedCategory: target.Category,
			PatternType:     models.InferenceNamingPattern,
			Confidence:      m.settings.PatternConfidence,
			AffectedImages:  character.Count,
			Reason:          fmt.Sprintf("tag name ends in \"_(%s)\"", target.Name),
		})
	}
	return suggestions, nil
}

// mineCorrelations emits an edge A → B for every ordered pair whose
// co-occurrence count meets the minimum sample size and whose
// conditional rate count(A∧B)/count(A) reaches the threshold.
func (m *Miner) mineCorrelations(activeSet map[string]struct{}) ([]models.Suggestion, error) {
	counts, err := m.tagRepo.ListTagCounts("")
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]repository.TagCount, len(counts))
	for _, c := range counts {
		byID[c.TagID] = c
	}

	pairs, err := m.tagRepo.ListTagPairCounts(m.settings.MinSampleSize)
	if err != nil {
		return nil, err
	}

	var suggestions []models.Suggestion
	for _, pair := range pairs {
		a, okA := byID[pair.TagAID]
		b, okB := byID[pair.TagBID]
		if !okA || !okB {
			continue
		}
		// Rating tags are classifier output, not implication material.
		if a.Category == models.CategoryRating || b.Category == models.CategoryRating {
			continue
		}
		for _, dir := range [2][2]repository.TagCount{{a, b}, {b, a}} {
			source, implied := dir[0], dir[1]
			if source.Count == 0 {
				continue
			}
			rate := float64(pair.Count) / float64(source.Count)
			if rate < m.settings.MinCooccurrence {
				continue
			}
			if _, exists := activeSet[suggestionKey(source.Name, implied.Name)]; exists {
				continue
			}
			suggestions = append(suggestions, models.Suggestion{
				SourceTag:       source.Name,
				SourceCategory:  source.Category,
				ImpliedTag:      implied.Name,
				ImpliedCategory: implied.Category,
				PatternType:     models.InferenceCorrelation,
				Confidence:      rate,
				AffectedImages:  pair.Count,
				Reason: fmt.Sprintf("%d of %d images with %s also carry %s (%.0f%%)",
					pair.Count, source.Count, source.Name, implied.Name, rate*100),
			})
		}
	}
	return suggestions, nil
}

// ensureMined lazily runs the first mining pass.
func (m *Miner) ensureMined() error {
	m.mu.RLock()
	mined := m.mined
	m.mu.RUnlock()
	if mined {
		return nil
	}
	return m.Refresh()
}

// matches applies filters and free-text query, in that order, before
// any pagination so page boundaries stay stable for a given filter set.
func matches(s models.Suggestion, p ListParams) bool {
	if p.PatternType != "" && p.PatternType != filter.All && s.PatternType != p.PatternType {
		return false
	}
	if !p.SourceCategory.Match(s.SourceCategory) {
		return false
	}
	if !p.ImpliedCategory.Match(s.ImpliedCategory) {
		return false
	}
	if p.Query != "" {
		q := strings.ToLower(p.Query)
		if !strings.Contains(strings.ToLower(s.SourceTag), q) &&
			!strings.Contains(strings.ToLower(s.ImpliedTag), q) {
			return false
		}
	}
	return true
}

// List returns one page of the filtered suggestion set.
func (m *Miner) List(p ListParams) (*Page, error) {
	if err := m.ensureMined(); err != nil {
		return nil, err
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = 50
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []models.Suggestion
	for _, s := range m.cache {
		if matches(s, p) {
			filtered = append(filtered, s)
		}
	}

	total := len(filtered)
	totalPages := (total + p.Limit - 1) / p.Limit
	start := (p.Page - 1) * p.Limit
	if start > total {
		start = total
	}
	end := start + p.Limit
	if end > total {
		end = total
	}

	return &Page{
		Suggestions: filtered[start:end],
		Page:        p.Page,
		Total:       total,
		TotalPages:  totalPages,
		HasMore:     end < total,
	}, nil
}

// All returns every suggestion passing the filters, unpaginated. Used
// by auto-approval.
func (m *Miner) All(p ListParams) ([]models.Suggestion, error) {
	if err := m.ensureMined(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []models.Suggestion
	for _, s := range m.cache {
		if matches(s, p) {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

// SuggestionsFor returns cached suggestions whose source or implied tag
// is the named tag.
func (m *Miner) SuggestionsFor(tagName string) ([]models.Suggestion, error) {
	if err := m.ensureMined(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Suggestion
	for _, s := range m.cache {
		if s.SourceTag == tagName || s.ImpliedTag == tagName {
			out = append(out, s)
		}
	}
	return out, nil
}

// Dismiss rejects a suggestion. Nothing is persisted: the pair is
// dropped from the cache and kept out of future mining passes for the
// lifetime of the process.
func (m *Miner) Dismiss(sourceTag, impliedTag string) {
	key := suggestionKey(sourceTag, impliedTag)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dismissed[key] = struct{}{}
	kept := m.cache[:0]
	for _, s := range m.cache {
		if suggestionKey(s.SourceTag, s.ImpliedTag) != key {
			kept = append(kept, s)
		}
	}
	m.cache = kept
}

// Remove drops a suggestion from the cache without marking it
// dismissed. Called after approval so the fresh implication stops
// appearing as a candidate.
func (m *Miner) Remove(sourceTag, impliedTag string) {
	key := suggestionKey(sourceTag, impliedTag)
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.cache[:0]
	for _, s := range m.cache {
		if suggestionKey(s.SourceTag, s.ImpliedTag) != key {
			kept = append(kept, s)
		}
	}
	m.cache = kept
}
