package question

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotelane/quotecore/internal/domain"
)

type fakeStore struct {
	zips              map[string]string
	activityCodes     map[int64]bool
	universal         []InsurerQuestion
	industryMappings  []CodeMapping
	activityMappings  []CodeMapping
	questions         map[int64]domain.Question
	answers           map[int64][]domain.PossibleAnswer
	industryFetches   int
}

func (s *fakeStore) TerritoriesByZip(_ context.Context, zips []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, z := range zips {
		if t, ok := s.zips[z]; ok {
			out[z] = t
		}
	}
	return out, nil
}

func (s *fakeStore) KnownActivityCodes(_ context.Context, ids []int64) ([]int64, error) {
	var out []int64
	for _, id := range ids {
		if s.activityCodes[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *fakeStore) UniversalQuestions(_ context.Context, insurerIDs []int64, subjectArea domain.SubjectArea) ([]InsurerQuestion, error) {
	var out []InsurerQuestion
	for _, iq := range s.universal {
		if iq.SubjectArea != subjectArea {
			continue
		}
		for _, id := range insurerIDs {
			if iq.InsurerID == id {
				out = append(out, iq)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) IndustryQuestionMappings(_ context.Context, industryCode int64, insurerIDs []int64) ([]CodeMapping, error) {
	s.industryFetches++
	var out []CodeMapping
	for _, m := range s.industryMappings {
		if m.CodeID != industryCode {
			continue
		}
		for _, id := range insurerIDs {
			if m.InsurerID == id {
				out = append(out, m)
				break
			}
		}
	}
	return out, nil
}

// ActivityQuestionMappings filters like the repository SQL: rows with an
// empty territory always match, restricted rows only within the set.
func (s *fakeStore) ActivityQuestionMappings(_ context.Context, activityCodes []int64, insurerIDs []int64, territories []string) ([]CodeMapping, error) {
	var out []CodeMapping
	for _, m := range s.activityMappings {
		codeMatch := false
		for _, c := range activityCodes {
			if m.CodeID == c {
				codeMatch = true
				break
			}
		}
		if !codeMatch {
			continue
		}
		if m.Territory != "" && !containsString(territories, m.Territory) {
			continue
		}
		for _, id := range insurerIDs {
			if m.InsurerID == id {
				out = append(out, m)
				break
			}
		}
	}
	return out, nil
}

func (s *fakeStore) QuestionsByIDs(_ context.Context, ids []int64) ([]domain.Question, error) {
	var out []domain.Question
	for _, id := range ids {
		if q, ok := s.questions[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *fakeStore) PossibleAnswers(_ context.Context, questionIDs []int64) (map[int64][]domain.PossibleAnswer, error) {
	out := make(map[int64][]domain.PossibleAnswer)
	for _, id := range questionIDs {
		if pa, ok := s.answers[id]; ok {
			out[id] = pa
		}
	}
	return out, nil
}

type mapCache struct {
	data map[[2]int64][]CodeMapping
	gets int
	hits int
}

func newMapCache() *mapCache { return &mapCache{data: make(map[[2]int64][]CodeMapping)} }

func (c *mapCache) GetIndustryMappings(_ context.Context, insurerID, industryCode int64) ([]CodeMapping, bool) {
	c.gets++
	m, ok := c.data[[2]int64{insurerID, industryCode}]
	if ok {
		c.hits++
	}
	return m, ok
}

func (c *mapCache) SetIndustryMappings(_ context.Context, insurerID, industryCode int64, mappings []CodeMapping) {
	c.data[[2]int64{insurerID, industryCode}] = mappings
}

func (c *mapCache) Invalidate(_ context.Context, insurerID, industryCode int64) {
	delete(c.data, [2]int64{insurerID, industryCode})
}

var (
	windowOpen  = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	windowClose = time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)
	effective   = time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
)

func wcWindow() []PolicyTypeWindow {
	return []PolicyTypeWindow{{Type: domain.PolicyTypeWC, EffectiveDate: effective}}
}

func baseStore() *fakeStore {
	return &fakeStore{
		zips:          map[string]string{"75001": "TX", "90210": "CA"},
		activityCodes: map[int64]bool{5: true, 6: true},
		questions: map[int64]domain.Question{
			100: {ID: 100, Type: domain.QuestionTypeYesNo, SubjectArea: domain.SubjectAreaGeneral},
			101: {ID: 101, Parent: 100, ParentAnswerID: 1, Type: domain.QuestionTypeTextSingle, SubjectArea: domain.SubjectAreaGeneral},
			102: {ID: 102, Type: domain.QuestionTypeSelectList, SubjectArea: domain.SubjectAreaGeneral},
			103: {ID: 103, Type: domain.QuestionTypeYesNo, Hidden: true, SubjectArea: domain.SubjectAreaGeneral},
			104: {ID: 104, Parent: 103, ParentAnswerID: 1, Type: domain.QuestionTypeYesNo, SubjectArea: domain.SubjectAreaGeneral},
		},
		answers: map[int64][]domain.PossibleAnswer{
			100: {{ID: 1, Answer: "Yes"}, {ID: 2, Answer: "No"}},
			102: {{ID: 10, Answer: "Retail"}, {ID: 11, Answer: "Wholesale"}},
		},
	}
}

func newTestEngine(store *fakeStore, cache Cache) *Engine {
	return NewEngine(store, cache, zerolog.Nop())
}

func TestUniversalNoTerritoryRestrictionAlwaysMatches(t *testing.T) {
	store := baseStore()
	store.universal = []InsurerQuestion{
		{
			InsurerID: 1, QuestionID: 100, Universal: true,
			PolicyTypes: []domain.PolicyType{domain.PolicyTypeWC},
			SubjectArea: domain.SubjectAreaGeneral,
			EffectiveDate: windowOpen, ExpirationDate: windowClose,
			// No territory list: matches regardless of application territory.
		},
		{
			InsurerID: 1, QuestionID: 102, Universal: true,
			PolicyTypes: []domain.PolicyType{domain.PolicyTypeWC},
			SubjectArea: domain.SubjectAreaGeneral,
			EffectiveDate: windowOpen, ExpirationDate: windowClose,
			Territories: []string{"CA", "OR"},
		},
	}

	got, err := newTestEngine(store, nil).Resolve(context.Background(), Request{
		InsurerIDs:  []int64{1},
		Territories: []string{"TX"},
		PolicyTypes: wcWindow(),
		SubjectArea: domain.SubjectAreaGeneral,
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, int64(100), got[0].ID)
}

func TestMappingWindowHalfOpen(t *testing.T) {
	store := baseStore()
	store.universal = []InsurerQuestion{{
		InsurerID: 1, QuestionID: 100, Universal: true,
		PolicyTypes: []domain.PolicyType{domain.PolicyTypeWC},
		SubjectArea: domain.SubjectAreaGeneral,
		EffectiveDate: windowOpen, ExpirationDate: windowClose,
	}}
	engine := newTestEngine(store, nil)

	resolve := func(d time.Time) int {
		got, err := engine.Resolve(context.Background(), Request{
			InsurerIDs:  []int64{1},
			PolicyTypes: []PolicyTypeWindow{{Type: domain.PolicyTypeWC, EffectiveDate: d}},
			SubjectArea: domain.SubjectAreaGeneral,
		})
		require.NoError(t, err)
		return len(got)
	}

	assert.Equal(t, 1, resolve(windowOpen), "date equal to effectiveDate is included")
	assert.Equal(t, 1, resolve(windowClose.Add(-24*time.Hour)))
	assert.Equal(t, 0, resolve(windowClose), "date equal to expirationDate is excluded")
	assert.Equal(t, 0, resolve(windowOpen.Add(-24*time.Hour)))
}

func TestIndustryMappingTerritoryOverride(t *testing.T) {
	store := baseStore()
	store.industryMappings = []CodeMapping{{
		InsurerID: 1, CodeID: 42, Territory: "TX",
		EffectiveDate: windowOpen, ExpirationDate: windowClose,
		QuestionIDs:        []int64{100},
		TerritoryQuestions: map[string][]int64{"TX": {102}},
	}}

	got, err := newTestEngine(store, nil).Resolve(context.Background(), Request{
		IndustryCode: 42,
		InsurerIDs:   []int64{1},
		Territories:  []string{"TX"},
		PolicyTypes:  wcWindow(),
		SubjectArea:  domain.SubjectAreaGeneral,
	})
	require.NoError(t, err)

	// The TX override list replaces the standard list.
	require.Len(t, got, 1)
	assert.Equal(t, int64(102), got[0].ID)
}

func TestIndustryMappingStandardListFallback(t *testing.T) {
	store := baseStore()
	store.industryMappings = []CodeMapping{{
		InsurerID: 1, CodeID: 42, Territory: "TX",
		EffectiveDate: windowOpen, ExpirationDate: windowClose,
		QuestionIDs:        []int64{100},
		TerritoryQuestions: map[string][]int64{"CA": {102}},
	}}

	got, err := newTestEngine(store, nil).Resolve(context.Background(), Request{
		IndustryCode: 42,
		InsurerIDs:   []int64{1},
		Territories:  []string{"TX"},
		PolicyTypes:  wcWindow(),
		SubjectArea:  domain.SubjectAreaGeneral,
	})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, int64(100), got[0].ID)
}

func TestIndustryMappingOverrideFallsBackPerTerritory(t *testing.T) {
	store := baseStore()
	store.industryMappings = []CodeMapping{{
		InsurerID: 1, CodeID: 42,
		EffectiveDate: windowOpen, ExpirationDate: windowClose,
		QuestionIDs:        []int64{100},
		TerritoryQuestions: map[string][]int64{"CA": {102}},
	}}

	// CA takes its override list; TX has none and falls back to the
	// standard list. The CA override must not suppress it.
	got, err := newTestEngine(store, nil).Resolve(context.Background(), Request{
		IndustryCode: 42,
		InsurerIDs:   []int64{1},
		Territories:  []string{"CA", "TX"},
		PolicyTypes:  wcWindow(),
		SubjectArea:  domain.SubjectAreaGeneral,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 102}, questionIDs(got))
}

func TestMissingParentsResolved(t *testing.T) {
	store := baseStore()
	store.activityMappings = []CodeMapping{{
		InsurerID: 1, CodeID: 5,
		EffectiveDate: windowOpen, ExpirationDate: windowClose,
		QuestionIDs: []int64{101}, // child only; parent 100 must be pulled in
	}}

	got, err := newTestEngine(store, nil).Resolve(context.Background(), Request{
		ActivityCodes: []int64{5},
		InsurerIDs:    []int64{1},
		PolicyTypes:   wcWindow(),
		SubjectArea:   domain.SubjectAreaGeneral,
	})
	require.NoError(t, err)

	require.Len(t, got, 2)
	byID := make(map[int64]bool)
	for _, q := range got {
		byID[q.ID] = true
	}
	for _, q := range got {
		if q.Parent != 0 {
			assert.True(t, byID[q.Parent], "parent %d of question %d missing from result", q.Parent, q.ID)
		}
	}
}

func TestCyclicParentsTerminate(t *testing.T) {
	store := baseStore()
	store.questions[200] = domain.Question{ID: 200, Parent: 201, Type: domain.QuestionTypeYesNo}
	store.questions[201] = domain.Question{ID: 201, Parent: 200, Type: domain.QuestionTypeYesNo}
	store.activityMappings = []CodeMapping{{
		InsurerID: 1, CodeID: 5,
		EffectiveDate: windowOpen, ExpirationDate: windowClose,
		QuestionIDs: []int64{200},
	}}

	got, err := newTestEngine(store, nil).Resolve(context.Background(), Request{
		ActivityCodes: []int64{5},
		InsurerIDs:    []int64{1},
		PolicyTypes:   wcWindow(),
		SubjectArea:   domain.SubjectAreaGeneral,
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestHiddenPruning(t *testing.T) {
	store := baseStore()
	// 103 is hidden with visible child 104; add hidden leaf 105.
	store.questions[105] = domain.Question{ID: 105, Hidden: true, Type: domain.QuestionTypeYesNo}
	store.activityMappings = []CodeMapping{{
		InsurerID: 1, CodeID: 5,
		EffectiveDate: windowOpen, ExpirationDate: windowClose,
		QuestionIDs: []int64{103, 104, 105},
	}}

	req := Request{
		ActivityCodes: []int64{5},
		InsurerIDs:    []int64{1},
		PolicyTypes:   wcWindow(),
		SubjectArea:   domain.SubjectAreaGeneral,
	}

	got, err := newTestEngine(store, nil).Resolve(context.Background(), req)
	require.NoError(t, err)
	ids := questionIDs(got)
	// Hidden leaf dropped; hidden parent retained because it gates a
	// visible child.
	assert.Equal(t, []int64{103, 104}, ids)

	req.ReturnHidden = true
	got, err = newTestEngine(store, nil).Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []int64{103, 104, 105}, questionIDs(got))
}

func TestZipResolutionTruncatesAndToleratesMisses(t *testing.T) {
	store := baseStore()
	store.universal = []InsurerQuestion{{
		InsurerID: 1, QuestionID: 100, Universal: true,
		PolicyTypes: []domain.PolicyType{domain.PolicyTypeWC},
		SubjectArea: domain.SubjectAreaGeneral,
		EffectiveDate: windowOpen, ExpirationDate: windowClose,
		Territories: []string{"TX"},
	}}

	got, err := newTestEngine(store, nil).Resolve(context.Background(), Request{
		InsurerIDs:  []int64{1},
		Zips:        []string{"75001-1234", "00000"}, // zip+4 truncated; unknown zip skipped
		PolicyTypes: wcWindow(),
		SubjectArea: domain.SubjectAreaGeneral,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(100), got[0].ID)
}

func TestStaleActivityCodesTolerated(t *testing.T) {
	store := baseStore()
	store.activityMappings = []CodeMapping{{
		InsurerID: 1, CodeID: 5,
		EffectiveDate: windowOpen, ExpirationDate: windowClose,
		QuestionIDs: []int64{100},
	}}

	got, err := newTestEngine(store, nil).Resolve(context.Background(), Request{
		ActivityCodes: []int64{5, 999}, // 999 is retired
		InsurerIDs:    []int64{1},
		PolicyTypes:   wcWindow(),
		SubjectArea:   domain.SubjectAreaGeneral,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(100), got[0].ID)
}

func TestIndustryCacheWriteThrough(t *testing.T) {
	store := baseStore()
	store.industryMappings = []CodeMapping{{
		InsurerID: 1, CodeID: 42,
		EffectiveDate: windowOpen, ExpirationDate: windowClose,
		QuestionIDs: []int64{100},
	}}
	cache := newMapCache()
	engine := newTestEngine(store, cache)

	req := Request{
		IndustryCode: 42,
		InsurerIDs:   []int64{1},
		PolicyTypes:  wcWindow(),
		SubjectArea:  domain.SubjectAreaGeneral,
	}

	// First resolve misses the cache and repopulates it.
	_, err := engine.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, store.industryFetches)

	// Second resolve is served from the snapshot.
	got, err := engine.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, store.industryFetches)
	assert.Equal(t, []int64{100}, questionIDs(got))

	// Invalidation forces a lazy rebuild.
	cache.Invalidate(context.Background(), 1, 42)
	_, err = engine.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, store.industryFetches)
}

func TestIndustryCacheSnapshotServesAnyTerritorySet(t *testing.T) {
	store := baseStore()
	store.industryMappings = []CodeMapping{
		{
			InsurerID: 1, CodeID: 42, Territory: "CA",
			EffectiveDate: windowOpen, ExpirationDate: windowClose,
			QuestionIDs: []int64{100},
		},
		{
			InsurerID: 1, CodeID: 42, Territory: "TX",
			EffectiveDate: windowOpen, ExpirationDate: windowClose,
			QuestionIDs: []int64{102},
		},
	}
	cache := newMapCache()
	engine := newTestEngine(store, cache)

	resolve := func(territory string) []int64 {
		got, err := engine.Resolve(context.Background(), Request{
			IndustryCode: 42,
			InsurerIDs:   []int64{1},
			Territories:  []string{territory},
			PolicyTypes:  wcWindow(),
			SubjectArea:  domain.SubjectAreaGeneral,
		})
		require.NoError(t, err)
		return questionIDs(got)
	}

	// The first request populates the snapshot.
	assert.Equal(t, []int64{100}, resolve("CA"))
	assert.Equal(t, 1, store.industryFetches)

	// A request for a different territory is served from the same
	// snapshot and must still see that territory's mappings.
	assert.Equal(t, []int64{102}, resolve("TX"))
	assert.Equal(t, 1, store.industryFetches)
}

func TestPossibleAnswersAttached(t *testing.T) {
	store := baseStore()
	store.activityMappings = []CodeMapping{{
		InsurerID: 1, CodeID: 5,
		EffectiveDate: windowOpen, ExpirationDate: windowClose,
		QuestionIDs: []int64{100, 101, 102},
	}}

	got, err := newTestEngine(store, nil).Resolve(context.Background(), Request{
		ActivityCodes: []int64{5},
		InsurerIDs:    []int64{1},
		PolicyTypes:   wcWindow(),
		SubjectArea:   domain.SubjectAreaGeneral,
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Sorted by ID ascending.
	assert.Equal(t, []int64{100, 101, 102}, questionIDs(got))

	assert.Len(t, got[0].PossibleAnswers, 2)
	assert.Nil(t, got[1].PossibleAnswers, "text question carries no answer map")
	assert.Equal(t, "Retail", got[2].PossibleAnswers[10].Answer)
}

func questionIDs(qs []domain.Question) []int64 {
	out := make([]int64, len(qs))
	for i, q := range qs {
		out[i] = q.ID
	}
	return out
}
