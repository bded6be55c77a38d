package rating

import (
	"testing"

	"tagengine/internal/models"
	"tagengine/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTagRepo struct {
	repository.TagRepository
	ratedRows []repository.RatedImageTag
	tags      map[string]*models.Tag
	nextTagID int64
	images    map[int64][]models.TagAssignment
	mutations []mutation
}

type mutation struct {
	imageID int64
	add     []models.TagAssignment
	remove  []int64
}

func newFakeTagRepo() *fakeTagRepo {
	return &fakeTagRepo{
		tags:      make(map[string]*models.Tag),
		nextTagID: 1000,
		images:    make(map[int64][]models.TagAssignment),
	}
}

func (f *fakeTagRepo) ListRatedImageTags() ([]repository.RatedImageTag, error) {
	return f.ratedRows, nil
}

func (f *fakeTagRepo) GetImageTags(imageID int64) ([]models.TagAssignment, error) {
	return f.images[imageID], nil
}

func (f *fakeTagRepo) GetOrCreateTag(name, category string) (*models.Tag, error) {
	if tag, ok := f.tags[name]; ok {
		return tag, nil
	}
	f.nextTagID++
	tag := &models.Tag{ID: f.nextTagID, Name: name, Category: category}
	f.tags[name] = tag
	return tag, nil
}

func (f *fakeTagRepo) MutateImageTags(imageID int64, add []models.TagAssignment, removeTagIDs []int64) error {
	f.mutations = append(f.mutations, mutation{imageID: imageID, add: add, remove: removeTagIDs})
	kept := f.images[imageID][:0]
	for _, a := range f.images[imageID] {
		removed := false
		for _, id := range removeTagIDs {
			if a.TagID == id {
				removed = true
				break
			}
		}
		if !removed {
			kept = append(kept, a)
		}
	}
	f.images[imageID] = append(kept, add...)
	return nil
}

type fakeRatingRepo struct {
	repository.RatingRepository
	weights     []models.TagWeight
	pairWeights []models.TagPairWeight
	cfg         *models.RatingConfig
	lastRun     *models.TrainingRun
	replaced    int
}

func (f *fakeRatingRepo) ReplaceWeights(weights []models.TagWeight, pairWeights []models.TagPairWeight, run *models.TrainingRun) error {
	f.weights = weights
	f.pairWeights = pairWeights
	f.lastRun = run
	f.replaced++
	run.ID = int64(f.replaced)
	return nil
}

func (f *fakeRatingRepo) GetTagWeights(tagNames []string) ([]models.TagWeight, error) {
	set := make(map[string]bool, len(tagNames))
	for _, n := range tagNames {
		set[n] = true
	}
	var out []models.TagWeight
	for _, w := range f.weights {
		if set[w.TagName] {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeRatingRepo) GetPairWeights(tagNames []string) ([]models.TagPairWeight, error) {
	set := make(map[string]bool, len(tagNames))
	for _, n := range tagNames {
		set[n] = true
	}
	var out []models.TagPairWeight
	for _, w := range f.pairWeights {
		if set[w.TagA] && set[w.TagB] {
			out = append(out, w)
		}
	}
	return out, nil
}

func (f *fakeRatingRepo) GetConfig() (*models.RatingConfig, error) {
	if f.cfg == nil {
		f.cfg = &models.RatingConfig{
			Thresholds:           map[string]float64{},
			PairWeightMultiplier: 1.0,
		}
	}
	return f.cfg, nil
}

func trainerSettings() Settings {
	return Settings{MinTrainingSamples: 3, MinPairCount: 2, DefaultThreshold: 0.5}
}

func ratedImage(imageID int64, rating string, tags ...string) []repository.RatedImageTag {
	rows := make([]repository.RatedImageTag, 0, len(tags))
	for _, tag := range tags {
		rows = append(rows, repository.RatedImageTag{ImageID: imageID, TagName: tag, Rating: rating})
	}
	return rows
}

func TestTrain_InsufficientSamples(t *testing.T) {
	tags := newFakeTagRepo()
	tags.ratedRows = ratedImage(1, models.RatingGeneral, "1girl")

	trainer := NewTrainer(tags, &fakeRatingRepo{}, trainerSettings(), zap.NewNop())
	_, err := trainer.Train()
	assert.ErrorIs(t, err, models.ErrInsufficientSamples)
}

func TestTrain_ConditionalFrequencyWeights(t *testing.T) {
	tags := newFakeTagRepo()
	// "sword" appears on 4 rated images: 3 general, 1 questionable.
	tags.ratedRows = append(tags.ratedRows, ratedImage(1, models.RatingGeneral, "sword")...)
	tags.ratedRows = append(tags.ratedRows, ratedImage(2, models.RatingGeneral, "sword")...)
	tags.ratedRows = append(tags.ratedRows, ratedImage(3, models.RatingGeneral, "sword")...)
	tags.ratedRows = append(tags.ratedRows, ratedImage(4, models.RatingQuestionable, "sword")...)

	repo := &fakeRatingRepo{}
	trainer := NewTrainer(tags, repo, trainerSettings(), zap.NewNop())
	run, err := trainer.Train()
	require.NoError(t, err)
	assert.Equal(t, 4, run.TrainingSamples)
	assert.Equal(t, 1, run.UniqueTags)

	byRating := map[string]float64{}
	for _, w := range repo.weights {
		require.Equal(t, "sword", w.TagName)
		byRating[w.Rating] = w.Weight
	}
	assert.InDelta(t, 0.75, byRating[models.RatingGeneral], 1e-9)
	assert.InDelta(t, 0.25, byRating[models.RatingQuestionable], 1e-9)
	// Monotonic: the dominant rating carries the larger weight.
	assert.Greater(t, byRating[models.RatingGeneral], byRating[models.RatingQuestionable])
}

func TestTrain_PairWeightsRespectMinCount(t *testing.T) {
	tags := newFakeTagRepo()
	// Pair (a,b) occurs on 2 images, pair (a,c) on 1.
	tags.ratedRows = append(tags.ratedRows, ratedImage(1, models.RatingExplicit, "a", "b")...)
	tags.ratedRows = append(tags.ratedRows, ratedImage(2, models.RatingExplicit, "a", "b")...)
	tags.ratedRows = append(tags.ratedRows, ratedImage(3, models.RatingGeneral, "a", "c")...)

	repo := &fakeRatingRepo{}
	trainer := NewTrainer(tags, repo, trainerSettings(), zap.NewNop())
	run, err := trainer.Train()
	require.NoError(t, err)
	assert.Equal(t, 1, run.UniquePairs)

	require.Len(t, repo.pairWeights, 1)
	w := repo.pairWeights[0]
	assert.Equal(t, "a", w.TagA)
	assert.Equal(t, "b", w.TagB)
	assert.Equal(t, models.RatingExplicit, w.Rating)
	assert.InDelta(t, 1.0, w.Weight, 1e-9)
}

func TestTrain_ImageWithTwoRatingTagsIsExcluded(t *testing.T) {
	tags := newFakeTagRepo()
	// Pair (a,b) on 2 cleanly rated images.
	tags.ratedRows = append(tags.ratedRows, ratedImage(1, models.RatingExplicit, "a", "b")...)
	tags.ratedRows = append(tags.ratedRows, ratedImage(2, models.RatingExplicit, "a", "b")...)
	tags.ratedRows = append(tags.ratedRows, ratedImage(3, models.RatingGeneral, "c")...)
	// Image 4 carries two rating tags, so the join emits each of its tags
	// once per rating. Its label is ambiguous and it must not count.
	tags.ratedRows = append(tags.ratedRows, ratedImage(4, models.RatingGeneral, "a", "b")...)
	tags.ratedRows = append(tags.ratedRows, ratedImage(4, models.RatingSensitive, "a", "b")...)

	repo := &fakeRatingRepo{}
	trainer := NewTrainer(tags, repo, trainerSettings(), zap.NewNop())
	run, err := trainer.Train()
	require.NoError(t, err)
	assert.Equal(t, 3, run.TrainingSamples, "ambiguously rated image does not count as a sample")
	assert.Equal(t, 1, run.UniquePairs)

	require.Len(t, repo.pairWeights, 1)
	w := repo.pairWeights[0]
	assert.Equal(t, "a", w.TagA)
	assert.Equal(t, "b", w.TagB)
	assert.Equal(t, models.RatingExplicit, w.Rating)
	assert.InDelta(t, 1.0, w.Weight, 1e-9, "duplicate rows from the ambiguous image must not dilute the pair weight")

	for _, tw := range repo.weights {
		if tw.TagName == "a" || tw.TagName == "b" {
			assert.NotEqual(t, models.RatingSensitive, tw.Rating, "excluded image contributes no observations")
		}
	}
}

func TestTrain_ReplacesWholesale(t *testing.T) {
	tags := newFakeTagRepo()
	tags.ratedRows = append(tags.ratedRows, ratedImage(1, models.RatingGeneral, "a")...)
	tags.ratedRows = append(tags.ratedRows, ratedImage(2, models.RatingGeneral, "a")...)
	tags.ratedRows = append(tags.ratedRows, ratedImage(3, models.RatingGeneral, "b")...)

	repo := &fakeRatingRepo{}
	trainer := NewTrainer(tags, repo, trainerSettings(), zap.NewNop())

	_, err := trainer.Train()
	require.NoError(t, err)
	first := len(repo.weights)

	// Re-running trains from scratch, not incrementally.
	_, err = trainer.Train()
	require.NoError(t, err)
	assert.Equal(t, first, len(repo.weights))
	assert.Equal(t, 2, repo.replaced)
}
