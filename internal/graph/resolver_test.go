package graph

import (
	"sort"
	"testing"

	"tagengine/internal/models"
	"tagengine/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTagRepo is an in-memory tag store backing resolver tests. Only
// the methods the resolver touches are implemented; the embedded
// interface panics on anything else.
type fakeTagRepo struct {
	repository.TagRepository
	tags   map[string]*models.Tag     // by name
	byID   map[int64]*models.Tag      // by id
	images map[int64]map[int64]string // image id -> tag id -> source
}

func newFakeTagRepo() *fakeTagRepo {
	return &fakeTagRepo{
		tags:   make(map[string]*models.Tag),
		byID:   make(map[int64]*models.Tag),
		images: make(map[int64]map[int64]string),
	}
}

func (f *fakeTagRepo) addTag(id int64, name, category string) *models.Tag {
	tag := &models.Tag{ID: id, Name: name, Category: category}
	f.tags[name] = tag
	f.byID[id] = tag
	return tag
}

func (f *fakeTagRepo) addImage(id int64, tagIDs ...int64) {
	set := make(map[int64]string)
	for _, tid := range tagIDs {
		set[tid] = models.SourceOriginal
	}
	f.images[id] = set
}

func (f *fakeTagRepo) GetTagByName(name string) (*models.Tag, error) {
	tag, ok := f.tags[name]
	if !ok {
		return nil, models.ErrTagNotFound
	}
	return tag, nil
}

func (f *fakeTagRepo) GetImageTags(imageID int64) ([]models.TagAssignment, error) {
	var out []models.TagAssignment
	for tid, source := range f.images[imageID] {
		out = append(out, models.TagAssignment{
			ImageID: imageID,
			TagID:   tid,
			TagName: f.byID[tid].Name,
			Source:  source,
		})
	}
	return out, nil
}

func (f *fakeTagRepo) MutateImageTags(imageID int64, add []models.TagAssignment, removeTagIDs []int64) error {
	set, ok := f.images[imageID]
	if !ok {
		return models.ErrImageNotFound
	}
	for _, tid := range removeTagIDs {
		delete(set, tid)
	}
	for _, a := range add {
		if _, exists := set[a.TagID]; !exists {
			set[a.TagID] = a.Source
		}
	}
	return nil
}

func (f *fakeTagRepo) CountImagesWithTag(tagID int64) (int, error) {
	count := 0
	for _, set := range f.images {
		if _, ok := set[tagID]; ok {
			count++
		}
	}
	return count, nil
}

func (f *fakeTagRepo) CountImagesWithTagHavingTag(tagID, otherTagID int64) (int, error) {
	count := 0
	for _, set := range f.images {
		if _, ok := set[tagID]; !ok {
			continue
		}
		if _, ok := set[otherTagID]; ok {
			count++
		}
	}
	return count, nil
}

func (f *fakeTagRepo) CountImagesWithTagMissingAll(tagID int64, missingTagIDs []int64) (int, error) {
	count := 0
	for _, set := range f.images {
		if _, ok := set[tagID]; !ok {
			continue
		}
		hasAny := false
		for _, mid := range missingTagIDs {
			if _, ok := set[mid]; ok {
				hasAny = true
				break
			}
		}
		if !hasAny {
			count++
		}
	}
	return count, nil
}

type fakeImplRepo struct {
	repository.ImplicationRepository
	edges []*models.Implication
}

func (f *fakeImplRepo) addEdge(src, dst *models.Tag) {
	f.edges = append(f.edges, &models.Implication{
		SourceTagID:     src.ID,
		ImpliedTagID:    dst.ID,
		SourceTag:       src.Name,
		SourceCategory:  src.Category,
		ImpliedTag:      dst.Name,
		ImpliedCategory: dst.Category,
		Status:          models.StatusActive,
	})
}

func (f *fakeImplRepo) ListActive(filters repository.ImplicationFilters) ([]*models.Implication, error) {
	return f.edges, nil
}

func newResolver(tags *fakeTagRepo, impls *fakeImplRepo) *Resolver {
	return NewResolver(impls, tags, zap.NewNop())
}

func TestChain_TerminatesOnCycle(t *testing.T) {
	tags := newFakeTagRepo()
	a := tags.addTag(1, "a", models.CategoryGeneral)
	b := tags.addTag(2, "b", models.CategoryGeneral)
	c := tags.addTag(3, "c", models.CategoryGeneral)

	impls := &fakeImplRepo{}
	impls.addEdge(a, b)
	impls.addEdge(b, c)
	impls.addEdge(c, a) // cycle back to the root

	tree, err := newResolver(tags, impls).Chain("a")
	require.NoError(t, err)

	require.Len(t, tree.Implies, 1)
	assert.Equal(t, "b", tree.Implies[0].Tag)
	require.Len(t, tree.Implies[0].Implies, 1)
	assert.Equal(t, "c", tree.Implies[0].Implies[0].Tag)
	assert.Empty(t, tree.Implies[0].Implies[0].Implies, "edge back to the visited root must not expand")
}

func TestChain_DiamondVisitsEachTagOnce(t *testing.T) {
	tags := newFakeTagRepo()
	a := tags.addTag(1, "a", models.CategoryGeneral)
	b := tags.addTag(2, "b", models.CategoryGeneral)
	c := tags.addTag(3, "c", models.CategoryGeneral)
	d := tags.addTag(4, "d", models.CategoryGeneral)

	impls := &fakeImplRepo{}
	impls.addEdge(a, b)
	impls.addEdge(a, c)
	impls.addEdge(b, d)
	impls.addEdge(c, d)

	tree, err := newResolver(tags, impls).Chain("a")
	require.NoError(t, err)

	seen := map[string]int{}
	var walk func(n *models.ChainNode)
	walk = func(n *models.ChainNode) {
		seen[n.Tag]++
		for _, child := range n.Implies {
			walk(child)
		}
	}
	walk(tree)

	for tag, count := range seen {
		assert.Equal(t, 1, count, "tag %q visited more than once", tag)
	}
	assert.Len(t, seen, 4)
}

func TestChain_UnknownTag(t *testing.T) {
	tags := newFakeTagRepo()
	_, err := newResolver(tags, &fakeImplRepo{}).Chain("missing")
	assert.ErrorIs(t, err, models.ErrTagNotFound)
}

func TestApplyToImage_AddsTransitiveTags(t *testing.T) {
	tags := newFakeTagRepo()
	a := tags.addTag(1, "hatsune_miku", models.CategoryCharacter)
	b := tags.addTag(2, "vocaloid", models.CategoryCopyright)
	c := tags.addTag(3, "crypton", models.CategoryCopyright)
	tags.addImage(100, a.ID)

	impls := &fakeImplRepo{}
	impls.addEdge(a, b)
	impls.addEdge(b, c)

	added, err := newResolver(tags, impls).ApplyToImage(100, models.SourceAIInference)
	require.NoError(t, err)
	sort.Strings(added)
	assert.Equal(t, []string{"crypton", "vocaloid"}, added)

	// Provenance is recorded on the new assignments.
	assert.Equal(t, models.SourceAIInference, tags.images[100][b.ID])
	assert.Equal(t, models.SourceAIInference, tags.images[100][c.ID])
}

func TestApplyToImage_Idempotent(t *testing.T) {
	tags := newFakeTagRepo()
	a := tags.addTag(1, "a", models.CategoryGeneral)
	b := tags.addTag(2, "b", models.CategoryGeneral)
	tags.addImage(100, a.ID)

	impls := &fakeImplRepo{}
	impls.addEdge(a, b)

	r := newResolver(tags, impls)
	added, err := r.ApplyToImage(100, models.SourceAIInference)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, added)

	added, err = r.ApplyToImage(100, models.SourceAIInference)
	require.NoError(t, err)
	assert.Empty(t, added, "second run must add nothing")
}

func TestApplyToImage_TerminatesOnCycle(t *testing.T) {
	tags := newFakeTagRepo()
	a := tags.addTag(1, "a", models.CategoryGeneral)
	b := tags.addTag(2, "b", models.CategoryGeneral)
	tags.addImage(100, a.ID)

	impls := &fakeImplRepo{}
	impls.addEdge(a, b)
	impls.addEdge(b, a)

	added, err := newResolver(tags, impls).ApplyToImage(100, models.SourceAIInference)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, added)
}

func TestPreviewApply_Counts(t *testing.T) {
	tags := newFakeTagRepo()
	miku := tags.addTag(1, "hatsune_miku", models.CategoryCharacter)
	vocaloid := tags.addTag(2, "vocaloid", models.CategoryCopyright)

	// 5 images with the source tag, 2 already carrying the implied tag.
	tags.addImage(1, miku.ID)
	tags.addImage(2, miku.ID)
	tags.addImage(3, miku.ID)
	tags.addImage(4, miku.ID, vocaloid.ID)
	tags.addImage(5, miku.ID, vocaloid.ID)
	tags.addImage(6, vocaloid.ID) // no source tag, not counted

	impls := &fakeImplRepo{}

	preview, err := newResolver(tags, impls).PreviewApply("hatsune_miku", "vocaloid")
	require.NoError(t, err)
	assert.Equal(t, 5, preview.TotalImages)
	assert.Equal(t, 2, preview.AlreadyHasTag)
	assert.Equal(t, 3, preview.WillGainTag)
	assert.Empty(t, preview.ChainImplications)
}

func TestPreviewApply_ChainClosureExcludesPartialHolders(t *testing.T) {
	tags := newFakeTagRepo()
	a := tags.addTag(1, "a", models.CategoryGeneral)
	b := tags.addTag(2, "b", models.CategoryGeneral)
	c := tags.addTag(3, "c", models.CategoryGeneral)

	impls := &fakeImplRepo{}
	impls.addEdge(b, c) // closure of b is {c}

	tags.addImage(1, a.ID)       // lacks b and c: will gain
	tags.addImage(2, a.ID, c.ID) // lacks b but has a closure tag: excluded

	preview, err := newResolver(tags, impls).PreviewApply("a", "b")
	require.NoError(t, err)
	assert.Equal(t, 2, preview.TotalImages)
	assert.Equal(t, 1, preview.WillGainTag)
	assert.Equal(t, []string{"c"}, preview.ChainImplications)
}

// Preview and apply must agree: will_gain_tag equals the number of
// images that actually gain the implied tag set when propagation runs.
func TestPreviewApplyConsistency(t *testing.T) {
	tags := newFakeTagRepo()
	miku := tags.addTag(1, "hatsune_miku", models.CategoryCharacter)
	vocaloid := tags.addTag(2, "vocaloid", models.CategoryCopyright)

	for i := int64(1); i <= 10; i++ {
		if i <= 4 {
			tags.addImage(i, miku.ID, vocaloid.ID)
		} else {
			tags.addImage(i, miku.ID)
		}
	}

	impls := &fakeImplRepo{}
	impls.addEdge(miku, vocaloid)
	r := newResolver(tags, impls)

	preview, err := r.PreviewApply("hatsune_miku", "vocaloid")
	require.NoError(t, err)

	gained := 0
	for i := int64(1); i <= 10; i++ {
		added, err := r.ApplyToImage(i, models.SourceAIInference)
		require.NoError(t, err)
		if len(added) > 0 {
			gained++
		}
	}
	assert.Equal(t, preview.WillGainTag, gained)
}
