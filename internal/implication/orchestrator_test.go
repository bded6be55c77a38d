package implication

import (
	"fmt"
	"testing"
	"time"

	"tagengine/internal/filter"
	"tagengine/internal/graph"
	"tagengine/internal/miner"
	"tagengine/internal/models"
	"tagengine/internal/repository"
	"tagengine/internal/task"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-memory stand-in for the tag, implication and delta
// repositories, enough to exercise the whole orchestration flow.
type memStore struct {
	repository.TagRepository
	repository.ImplicationRepository
	repository.TagDeltaRepository

	tags   map[string]*models.Tag
	byID   map[int64]*models.Tag
	nextID int64
	images map[int64]map[int64]string // image -> tag -> source
	edges  map[[2]int64]*models.Implication
	deltas []*models.TagDelta
}

func newMemStore() *memStore {
	return &memStore{
		tags:   make(map[string]*models.Tag),
		byID:   make(map[int64]*models.Tag),
		images: make(map[int64]map[int64]string),
		edges:  make(map[[2]int64]*models.Implication),
	}
}

func (s *memStore) addTag(name, category string) *models.Tag {
	if tag, ok := s.tags[name]; ok {
		return tag
	}
	s.nextID++
	tag := &models.Tag{ID: s.nextID, Name: name, Category: category}
	s.tags[name] = tag
	s.byID[tag.ID] = tag
	return tag
}

func (s *memStore) addImage(id int64, tagNames ...string) {
	set := make(map[int64]string)
	for _, name := range tagNames {
		set[s.tags[name].ID] = models.SourceOriginal
	}
	s.images[id] = set
}

func (s *memStore) countWithTag(name string) int {
	id := s.tags[name].ID
	count := 0
	for _, set := range s.images {
		if _, ok := set[id]; ok {
			count++
		}
	}
	return count
}

func (s *memStore) GetTagByName(name string) (*models.Tag, error) {
	tag, ok := s.tags[name]
	if !ok {
		return nil, models.ErrTagNotFound
	}
	return tag, nil
}

func (s *memStore) GetOrCreateTag(name, category string) (*models.Tag, error) {
	return s.addTag(name, category), nil
}

func (s *memStore) GetImageTags(imageID int64) ([]models.TagAssignment, error) {
	var out []models.TagAssignment
	for tid, source := range s.images[imageID] {
		tag := s.byID[tid]
		out = append(out, models.TagAssignment{
			ImageID: imageID, TagID: tid, TagName: tag.Name, Category: tag.Category, Source: source,
		})
	}
	return out, nil
}

func (s *memStore) ListImageIDs() ([]int64, error) {
	var ids []int64
	for id := range s.images {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memStore) ListImageIDsWithTag(tagID int64) ([]int64, error) {
	var ids []int64
	for id, set := range s.images {
		if _, ok := set[tagID]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *memStore) CountImagesWithTag(tagID int64) (int, error) {
	ids, _ := s.ListImageIDsWithTag(tagID)
	return len(ids), nil
}

func (s *memStore) CountImagesWithTagHavingTag(tagID, otherTagID int64) (int, error) {
	count := 0
	for _, set := range s.images {
		if _, ok := set[tagID]; !ok {
			continue
		}
		if _, ok := set[otherTagID]; ok {
			count++
		}
	}
	return count, nil
}

func (s *memStore) CountImagesWithTagMissingAll(tagID int64, missing []int64) (int, error) {
	count := 0
	for _, set := range s.images {
		if _, ok := set[tagID]; !ok {
			continue
		}
		hasAny := false
		for _, mid := range missing {
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

func (s *memStore) MutateImageTags(imageID int64, add []models.TagAssignment, removeTagIDs []int64) error {
	set, ok := s.images[imageID]
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

func (s *memStore) RemoveImageTagsBySource(imageID int64, source string) (int64, error) {
	var removed int64
	for tid, src := range s.images[imageID] {
		if src == source {
			delete(s.images[imageID], tid)
			removed++
		}
	}
	return removed, nil
}

func (s *memStore) CountImages() (int, error) {
	return len(s.images), nil
}

func (s *memStore) CountAssignmentsBySource(source string) (int, error) {
	count := 0
	for _, set := range s.images {
		for _, src := range set {
			if src == source {
				count++
			}
		}
	}
	return count, nil
}

func (s *memStore) ListTagCounts(category string) ([]repository.TagCount, error) {
	var out []repository.TagCount
	for _, tag := range s.tags {
		if category != "" && tag.Category != category {
			continue
		}
		count, _ := s.CountImagesWithTag(tag.ID)
		out = append(out, repository.TagCount{TagID: tag.ID, Name: tag.Name, Category: tag.Category, Count: count})
	}
	return out, nil
}

func (s *memStore) ListTagPairCounts(minCount int) ([]repository.TagPairCount, error) {
	counts := make(map[[2]int64]int)
	for _, set := range s.images {
		var ids []int64
		for tid := range set {
			ids = append(ids, tid)
		}
		for i := 0; i < len(ids); i++ {
			for j := 0; j < len(ids); j++ {
				if ids[i] < ids[j] {
					counts[[2]int64{ids[i], ids[j]}]++
				}
			}
		}
	}
	var out []repository.TagPairCount
	for key, count := range counts {
		if count >= minCount {
			out = append(out, repository.TagPairCount{TagAID: key[0], TagBID: key[1], Count: count})
		}
	}
	return out, nil
}

func (s *memStore) implicationFor(key [2]int64) *models.Implication {
	imp := s.edges[key]
	src, dst := s.byID[key[0]], s.byID[key[1]]
	imp.SourceTag = src.Name
	imp.SourceCategory = src.Category
	imp.ImpliedTag = dst.Name
	imp.ImpliedCategory = dst.Category
	return imp
}

func (s *memStore) ListActive(filters repository.ImplicationFilters) ([]*models.Implication, error) {
	var out []*models.Implication
	for key := range s.edges {
		imp := s.implicationFor(key)
		if !filters.SourceCategory.Match(imp.SourceCategory) {
			continue
		}
		if !filters.ImpliedCategory.Match(imp.ImpliedCategory) {
			continue
		}
		out = append(out, imp)
	}
	return out, nil
}

func (s *memStore) ListBySourceTag(tagID int64) ([]*models.Implication, error) {
	var out []*models.Implication
	for key := range s.edges {
		if key[0] == tagID {
			out = append(out, s.implicationFor(key))
		}
	}
	return out, nil
}

func (s *memStore) ListByImpliedTag(tagID int64) ([]*models.Implication, error) {
	var out []*models.Implication
	for key := range s.edges {
		if key[1] == tagID {
			out = append(out, s.implicationFor(key))
		}
	}
	return out, nil
}

func (s *memStore) Create(sourceTagID, impliedTagID int64, inferenceType string, confidence float64) (*models.Implication, error) {
	key := [2]int64{sourceTagID, impliedTagID}
	if _, exists := s.edges[key]; exists {
		return nil, models.ErrDuplicateImplication
	}
	s.edges[key] = &models.Implication{
		ID:            int64(len(s.edges) + 1),
		SourceTagID:   sourceTagID,
		ImpliedTagID:  impliedTagID,
		InferenceType: inferenceType,
		Confidence:    confidence,
		Status:        models.StatusActive,
	}
	return s.implicationFor(key), nil
}

func (s *memStore) Delete(sourceTagID, impliedTagID int64) (int64, error) {
	key := [2]int64{sourceTagID, impliedTagID}
	if _, exists := s.edges[key]; !exists {
		return 0, nil
	}
	delete(s.edges, key)
	return 1, nil
}

func (s *memStore) Exists(sourceTagID, impliedTagID int64) (bool, error) {
	_, ok := s.edges[[2]int64{sourceTagID, impliedTagID}]
	return ok, nil
}

func (s *memStore) Record(delta *models.TagDelta) error {
	delta.ID = int64(len(s.deltas) + 1)
	s.deltas = append(s.deltas, delta)
	return nil
}

func (s *memStore) ListByImage(imageID int64) ([]*models.TagDelta, error) {
	var out []*models.TagDelta
	for _, d := range s.deltas {
		if d.ImageID == imageID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memStore) ListAll() ([]*models.TagDelta, error) {
	return s.deltas, nil
}

type nopNotifier struct{}

func (nopNotifier) ImageChanged(int64) {}

func newOrchestrator(t *testing.T, store *memStore) (*Orchestrator, *task.Manager) {
	t.Helper()
	logger := zap.NewNop()
	m := miner.NewMiner(store, store, miner.Settings{
		MinSampleSize: 2, MinCooccurrence: 0.85, PatternConfidence: 0.92,
	}, logger)
	resolver := graph.NewResolver(store, store, logger)
	tasks := task.NewManager(1, 10, logger)
	tasks.Start()
	t.Cleanup(tasks.Stop)
	return NewOrchestrator(store, store, store, m, resolver, tasks, nopNotifier{}, logger), tasks
}

func waitForTask(t *testing.T, tasks *task.Manager, id string) task.Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, ok := tasks.Get(id)
		require.True(t, ok)
		if snap.Status == task.StatusCompleted || snap.Status == task.StatusFailed {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("task never finished")
	return task.Snapshot{}
}

func TestApprove_ApplyNowCountsTouchedImages(t *testing.T) {
	store := newMemStore()
	store.addTag("hatsune_miku", models.CategoryCharacter)
	store.addTag("vocaloid", models.CategoryCopyright)

	// 5 images carry the source tag; 3 already carry the implied tag.
	store.addImage(1, "hatsune_miku")
	store.addImage(2, "hatsune_miku")
	store.addImage(3, "hatsune_miku", "vocaloid")
	store.addImage(4, "hatsune_miku", "vocaloid")
	store.addImage(5, "hatsune_miku", "vocaloid")

	o, _ := newOrchestrator(t, store)
	result, err := o.Approve(ApproveRequest{
		SourceTag:  "hatsune_miku",
		ImpliedTag: "vocaloid",
		ApplyNow:   true,
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, 2, result.AppliedCount)
	assert.Equal(t, 5, store.countWithTag("vocaloid"), "tag count grows by exactly the applied count")
}

func TestApprove_DuplicateIsIdempotent(t *testing.T) {
	store := newMemStore()
	store.addTag("a", models.CategoryGeneral)
	store.addTag("b", models.CategoryGeneral)

	o, _ := newOrchestrator(t, store)
	first, err := o.Approve(ApproveRequest{SourceTag: "a", ImpliedTag: "b"})
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := o.Approve(ApproveRequest{SourceTag: "a", ImpliedTag: "b", ApplyNow: true})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Zero(t, second.AppliedCount)
}

func TestApprove_ValidationBeforeWrite(t *testing.T) {
	store := newMemStore()
	store.addTag("a", models.CategoryGeneral)
	o, _ := newOrchestrator(t, store)

	_, err := o.Approve(ApproveRequest{SourceTag: "a", ImpliedTag: "a"})
	assert.ErrorIs(t, err, models.ErrSelfImplication)

	_, err = o.Approve(ApproveRequest{SourceTag: "", ImpliedTag: "a"})
	assert.ErrorIs(t, err, models.ErrEmptyTagName)

	_, err = o.Approve(ApproveRequest{SourceTag: "a", ImpliedTag: "ghost"})
	assert.ErrorIs(t, err, models.ErrTagNotFound)

	assert.Empty(t, store.edges, "nothing written on validation failure")
}

func TestBulkApprove_PartialFailure(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 7; i++ {
		store.addTag(fmt.Sprintf("src%d", i), models.CategoryGeneral)
		store.addTag(fmt.Sprintf("dst%d", i), models.CategoryGeneral)
	}

	var items []ApproveRequest
	for i := 0; i < 7; i++ {
		items = append(items, ApproveRequest{
			SourceTag:  fmt.Sprintf("src%d", i),
			ImpliedTag: fmt.Sprintf("dst%d", i),
		})
	}
	// 3 items reference tags that do not exist.
	for i := 0; i < 3; i++ {
		items = append(items, ApproveRequest{
			SourceTag:  fmt.Sprintf("missing%d", i),
			ImpliedTag: "dst0",
		})
	}

	o, _ := newOrchestrator(t, store)
	result := o.BulkApprove(items)
	assert.Equal(t, 7, result.SuccessCount)
	assert.Equal(t, 10, result.Total)
	assert.Len(t, result.Errors, 3)
	for _, e := range result.Errors {
		assert.Contains(t, e.Reason, "tag not found")
	}
}

func TestAutoApproveConfident_FiltersSuggestions(t *testing.T) {
	store := newMemStore()
	store.addTag("miku_(vocaloid)", models.CategoryCharacter)
	store.addTag("vocaloid", models.CategoryCopyright)
	store.addTag("fox", models.CategorySpecies)
	store.addTag("animal", models.CategorySpecies)
	// fox co-occurs with animal on 3 of 3 images: correlation candidate.
	store.addImage(1, "fox", "animal")
	store.addImage(2, "fox", "animal")
	store.addImage(3, "fox", "animal")
	store.addImage(4, "miku_(vocaloid)")

	o, _ := newOrchestrator(t, store)

	// Excluding species sources leaves only the naming-pattern edge.
	result, err := o.AutoApproveConfident(AutoApproveParams{
		MinConfidence: 0.9,
		MinSampleSize: 1,
		List:          miner.ListParams{SourceCategory: filter.Parse("-species")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SuccessCount)
	assert.Equal(t, 1, result.Total)

	exists, _ := store.Exists(store.tags["miku_(vocaloid)"].ID, store.tags["vocaloid"].ID)
	assert.True(t, exists)
	exists, _ = store.Exists(store.tags["fox"].ID, store.tags["animal"].ID)
	assert.False(t, exists)
}

func TestDelete_MissingEdgeIsNoop(t *testing.T) {
	store := newMemStore()
	store.addTag("a", models.CategoryGeneral)
	store.addTag("b", models.CategoryGeneral)

	o, _ := newOrchestrator(t, store)
	result, err := o.Delete("a", "b", false)
	require.NoError(t, err)
	assert.Zero(t, result.Deleted)
	assert.False(t, result.Exists)
}

func TestDelete_DryRunLeavesEdge(t *testing.T) {
	store := newMemStore()
	store.addTag("a", models.CategoryGeneral)
	store.addTag("b", models.CategoryGeneral)
	store.addTag("c", models.CategoryGeneral)

	o, _ := newOrchestrator(t, store)
	require.NoError(t, o.Create("a", "b"))
	require.NoError(t, o.Create("b", "c"))

	result, err := o.Delete("a", "b", true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.True(t, result.Exists)
	assert.Equal(t, []string{"c"}, result.ChainImplications)

	exists, _ := store.Exists(store.tags["a"].ID, store.tags["b"].ID)
	assert.True(t, exists, "dry run must not delete")
}

func TestClearTags_RemovesOnlyAITags(t *testing.T) {
	store := newMemStore()
	a := store.addTag("a", models.CategoryGeneral)
	b := store.addTag("b", models.CategoryGeneral)
	store.addImage(1, "a")
	store.images[1][b.ID] = models.SourceAIInference

	o, tasks := newOrchestrator(t, store)

	preview, err := o.ClearTagsPreview()
	require.NoError(t, err)
	assert.Equal(t, 1, preview)

	handle, err := o.ClearTags()
	require.NoError(t, err)
	snap := waitForTask(t, tasks, handle.ID)
	assert.Equal(t, task.StatusCompleted, snap.Status)

	assert.Equal(t, 1, len(store.images[1]), "only the AI-derived tag is removed")
	_, hasOriginal := store.images[1][a.ID]
	assert.True(t, hasOriginal)
}

func TestClearAndReapply_RebuildsAndReplaysDeltas(t *testing.T) {
	store := newMemStore()
	store.addTag("hatsune_miku", models.CategoryCharacter)
	vocaloid := store.addTag("vocaloid", models.CategoryCopyright)
	extra := store.addTag("stage_lights", models.CategoryGeneral)
	store.addImage(1, "hatsune_miku")
	// Stale AI tag that no active implication justifies anymore.
	store.images[1][extra.ID] = models.SourceAIInference

	o, tasks := newOrchestrator(t, store)
	require.NoError(t, o.Create("hatsune_miku", "vocaloid"))

	// A user removed vocaloid from image 1; replay must honor that.
	require.NoError(t, store.Record(&models.TagDelta{
		ImageID: 1, TagName: "vocaloid", Category: models.CategoryCopyright, Operation: models.DeltaRemove,
	}))

	handle, err := o.ClearAndReapply()
	require.NoError(t, err)
	snap := waitForTask(t, tasks, handle.ID)
	require.Equal(t, task.StatusCompleted, snap.Status)
	assert.Equal(t, snap.Total, snap.Progress)

	_, hasStale := store.images[1][extra.ID]
	assert.False(t, hasStale, "stale AI tag cleared")
	_, hasVocaloid := store.images[1][vocaloid.ID]
	assert.False(t, hasVocaloid, "user removal replayed after reapply")
}

func TestClearAndReapply_DryRunWritesNothing(t *testing.T) {
	store := newMemStore()
	store.addTag("hatsune_miku", models.CategoryCharacter)
	vocaloid := store.addTag("vocaloid", models.CategoryCopyright)
	store.addImage(1, "hatsune_miku")
	store.addImage(2, "hatsune_miku")
	store.images[1][vocaloid.ID] = models.SourceAIInference

	o, _ := newOrchestrator(t, store)
	require.NoError(t, store.Record(&models.TagDelta{
		ImageID: 2, TagName: "vocaloid", Category: models.CategoryCopyright, Operation: models.DeltaRemove,
	}))

	preview, err := o.ClearAndReapplyPreview()
	require.NoError(t, err)
	assert.True(t, preview.DryRun)
	assert.Equal(t, 1, preview.WouldRemove)
	assert.Equal(t, 2, preview.ImagesTotal)
	assert.Equal(t, 1, preview.RecordedDeltas)

	_, stillThere := store.images[1][vocaloid.ID]
	assert.True(t, stillThere, "preview must not clear anything")
}

func TestSummary(t *testing.T) {
	store := newMemStore()
	store.addTag("a", models.CategoryGeneral)
	store.addTag("b", models.CategoryGeneral)
	store.addTag("c", models.CategoryGeneral)

	o, _ := newOrchestrator(t, store)
	require.NoError(t, o.Create("a", "b"))
	require.NoError(t, o.Create("c", "a"))

	summary, err := o.Summary("a")
	require.NoError(t, err)
	assert.Equal(t, "a", summary.Tag.Name)
	require.Len(t, summary.Implies, 1)
	assert.Equal(t, "b", summary.Implies[0].ImpliedTag)
	require.Len(t, summary.ImpliedBy, 1)
	assert.Equal(t, "c", summary.ImpliedBy[0].SourceTag)
}
