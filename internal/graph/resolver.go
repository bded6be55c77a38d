// Package graph walks the active implication edge set. Edges are a
// plain adjacency relation: nothing guarantees the stored graph is
// acyclic, so every traversal carries a visited set covering the whole
// walk, never just the current path.
package graph

import (
	"fmt"

	"tagengine/internal/models"
	"tagengine/internal/repository"

	"go.uber.org/zap"
)

// Preview is a dry-run impact estimate for one implication edge.
type Preview struct {
	TotalImages       int      `json:"total_images"`
	AlreadyHasTag     int      `json:"already_has_tag"`
	WillGainTag       int      `json:"will_gain_tag"`
	ChainImplications []string `json:"chain_implications"`
}

// Resolver answers chain, preview and propagation queries over the
// active implication graph.
type Resolver struct {
	implRepo repository.ImplicationRepository
	tagRepo  repository.TagRepository
	logger   *zap.Logger
}

func NewResolver(implRepo repository.ImplicationRepository, tagRepo repository.TagRepository, logger *zap.Logger) *Resolver {
	return &Resolver{implRepo: implRepo, tagRepo: tagRepo, logger: logger}
}

// adjacency maps a source tag id to its outgoing active edges.
type adjacency map[int64][]*models.Implication

func (r *Resolver) loadAdjacency() (adjacency, error) {
	edges, err := r.implRepo.ListActive(repository.ImplicationFilters{})
	if err != nil {
		return nil, fmt.Errorf("failed to load active implications: %w", err)
	}
	adj := make(adjacency, len(edges))
	for _, e := range edges {
		adj[e.SourceTagID] = append(adj[e.SourceTagID], e)
	}
	return adj, nil
}

// Chain returns the transitive implication tree rooted at the named
// tag. Each tag is visited at most once across the whole traversal, so
// the walk terminates even on cyclic or diamond-shaped graphs; a tag
// reachable through two paths appears under the first one only.
func (r *Resolver) Chain(tagName string) (*models.ChainNode, error) {
	tag, err := r.tagRepo.GetTagByName(tagName)
	if err != nil {
		return nil, err
	}
	adj, err := r.loadAdjacency()
	if err != nil {
		return nil, err
	}

	visited := map[int64]bool{tag.ID: true}
	root := &models.ChainNode{Tag: tag.Name, Category: tag.Category, Implies: []*models.ChainNode{}}
	r.expand(root, tag.ID, adj, visited)
	return root, nil
}

func (r *Resolver) expand(node *models.ChainNode, tagID int64, adj adjacency, visited map[int64]bool) {
	for _, edge := range adj[tagID] {
		if visited[edge.ImpliedTagID] {
			continue
		}
		visited[edge.ImpliedTagID] = true
		child := &models.ChainNode{Tag: edge.ImpliedTag, Category: edge.ImpliedCategory, Implies: []*models.ChainNode{}}
		node.Implies = append(node.Implies, child)
		r.expand(child, edge.ImpliedTagID, adj, visited)
	}
}

// closure returns every tag reachable from start, excluding start
// itself. Keys are tag ids; values are tag names.
func closure(start int64, adj adjacency) map[int64]string {
	reached := make(map[int64]string)
	visited := map[int64]bool{start: true}
	stack := []int64{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, edge := range adj[cur] {
			if visited[edge.ImpliedTagID] {
				continue
			}
			visited[edge.ImpliedTagID] = true
			reached[edge.ImpliedTagID] = edge.ImpliedTag
			stack = append(stack, edge.ImpliedTagID)
		}
	}
	return reached
}

// PreviewApply estimates the impact of approving source → implied
// without writing anything. WillGainTag counts images carrying the
// source tag that lack the implied tag and every tag in its transitive
// closure.
func (r *Resolver) PreviewApply(sourceName, impliedName string) (*Preview, error) {
	source, err := r.tagRepo.GetTagByName(sourceName)
	if err != nil {
		return nil, err
	}
	implied, err := r.tagRepo.GetTagByName(impliedName)
	if err != nil {
		return nil, err
	}

	adj, err := r.loadAdjacency()
	if err != nil {
		return nil, err
	}

	total, err := r.tagRepo.CountImagesWithTag(source.ID)
	if err != nil {
		return nil, err
	}
	already, err := r.tagRepo.CountImagesWithTagHavingTag(source.ID, implied.ID)
	if err != nil {
		return nil, err
	}

	chain := closure(implied.ID, adj)
	missing := make([]int64, 0, len(chain)+1)
	missing = append(missing, implied.ID)
	chainNames := make([]string, 0, len(chain))
	for id, name := range chain {
		missing = append(missing, id)
		chainNames = append(chainNames, name)
	}

	willGain, err := r.tagRepo.CountImagesWithTagMissingAll(source.ID, missing)
	if err != nil {
		return nil, err
	}

	return &Preview{
		TotalImages:       total,
		AlreadyHasTag:     already,
		WillGainTag:       willGain,
		ChainImplications: chainNames,
	}, nil
}

// ApplyToImage walks the active graph from every tag currently on the
// image and adds every reachable tag the image lacks, with the given
// assignment source. Returns the names of the tags added. Each tag is
// visited at most once per call.
func (r *Resolver) ApplyToImage(imageID int64, source string) ([]string, error) {
	current, err := r.tagRepo.GetImageTags(imageID)
	if err != nil {
		return nil, err
	}
	if len(current) == 0 {
		return nil, nil
	}
	adj, err := r.loadAdjacency()
	if err != nil {
		return nil, err
	}

	has := make(map[int64]bool, len(current))
	visited := make(map[int64]bool, len(current))
	stack := make([]int64, 0, len(current))
	for _, a := range current {
		has[a.TagID] = true
		visited[a.TagID] = true
		stack = append(stack, a.TagID)
	}

	var add []models.TagAssignment
	var added []string
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, edge := range adj[cur] {
			if visited[edge.ImpliedTagID] {
				continue
			}
			visited[edge.ImpliedTagID] = true
			stack = append(stack, edge.ImpliedTagID)
			if has[edge.ImpliedTagID] {
				continue
			}
			has[edge.ImpliedTagID] = true
			add = append(add, models.TagAssignment{
				ImageID: imageID,
				TagID:   edge.ImpliedTagID,
				Source:  source,
			})
			added = append(added, edge.ImpliedTag)
		}
	}

	if len(add) == 0 {
		return nil, nil
	}
	if err := r.tagRepo.MutateImageTags(imageID, add, nil); err != nil {
		return nil, err
	}
	r.logger.Debug("Applied implications to image",
		zap.Int64("image_id", imageID),
		zap.Int("added", len(added)))
	return added, nil
}
