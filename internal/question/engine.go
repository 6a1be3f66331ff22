package question

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotelane/quotecore/internal/domain"
)

// maxParentDepth bounds the missing-parent resolution loop. Question
// trees are shallow in practice; hitting the bound means a cyclic or
// dangling parent reference in the data.
const maxParentDepth = 10

// PolicyTypeWindow pairs a requested policy type with its effective
// date. Mapping validity windows are checked against the effective
// date, not against "now": quoting uses the mapping version valid on
// the day coverage starts.
type PolicyTypeWindow struct {
	Type          domain.PolicyType
	EffectiveDate time.Time
}

// InsurerQuestion links a canonical question to an insurer-specific
// identifier, valid within a half-open [EffectiveDate, ExpirationDate)
// window. An empty Territories list means no territory restriction.
type InsurerQuestion struct {
	InsurerID      int64
	QuestionID     int64
	Identifier     string
	Universal      bool
	PolicyTypes    []domain.PolicyType
	SubjectArea    domain.SubjectArea
	EffectiveDate  time.Time
	ExpirationDate time.Time
	Territories    []string
}

// WindowContains implements the half-open interval rule: d equal to
// EffectiveDate is included, equal to ExpirationDate is excluded.
func (iq InsurerQuestion) WindowContains(d time.Time) bool {
	return !d.Before(iq.EffectiveDate) && d.Before(iq.ExpirationDate)
}

// CodeMapping ties an insurer industry or activity code to the
// questions it triggers. QuestionIDs is the standard list;
// TerritoryQuestions, when present for a territory, overrides it for
// that territory.
type CodeMapping struct {
	InsurerID          int64              `json:"insurer_id"`
	CodeID             int64              `json:"code_id"`
	Territory          string             `json:"territory"`
	EffectiveDate      time.Time          `json:"effective_date"`
	ExpirationDate     time.Time          `json:"expiration_date"`
	QuestionIDs        []int64            `json:"question_ids"`
	TerritoryQuestions map[string][]int64 `json:"territory_questions,omitempty"`
}

// WindowContains implements the half-open interval rule for mappings.
func (m CodeMapping) WindowContains(d time.Time) bool {
	return !d.Before(m.EffectiveDate) && d.Before(m.ExpirationDate)
}

// Store is the authoritative question source. Implemented by the
// postgres repository; the engine never depends on the cache for
// correctness.
type Store interface {
	// TerritoriesByZip maps 5-digit zip codes to territories. Unknown
	// zips are simply absent from the result.
	TerritoriesByZip(ctx context.Context, zips []string) (map[string]string, error)
	// KnownActivityCodes filters ids down to codes that still exist.
	KnownActivityCodes(ctx context.Context, ids []int64) ([]int64, error)
	// UniversalQuestions returns universal insurer-question mappings for
	// the insurer set and subject area, unfiltered by date or territory.
	UniversalQuestions(ctx context.Context, insurerIDs []int64, subjectArea domain.SubjectArea) ([]InsurerQuestion, error)
	// IndustryQuestionMappings returns industry-code mappings for the
	// given insurers across all territories. Territory filtering is the
	// engine's job: the rows feed per-insurer cache snapshots that must
	// serve requests with any territory set.
	IndustryQuestionMappings(ctx context.Context, industryCode int64, insurerIDs []int64) ([]CodeMapping, error)
	// ActivityQuestionMappings returns activity-code mappings in the
	// territory set for the given insurers.
	ActivityQuestionMappings(ctx context.Context, activityCodes []int64, insurerIDs []int64, territories []string) ([]CodeMapping, error)
	// QuestionsByIDs loads questions without possible answers. IDs that
	// do not exist are absent from the result.
	QuestionsByIDs(ctx context.Context, ids []int64) ([]domain.Question, error)
	// PossibleAnswers loads the answer sets for the given question IDs.
	PossibleAnswers(ctx context.Context, questionIDs []int64) (map[int64][]domain.PossibleAnswer, error)
}

// Cache serves precomputed industry-code mapping snapshots. All methods
// degrade silently: a miss or failure falls back to the Store.
type Cache interface {
	GetIndustryMappings(ctx context.Context, insurerID, industryCode int64) ([]CodeMapping, bool)
	SetIndustryMappings(ctx context.Context, insurerID, industryCode int64, mappings []CodeMapping)
	Invalidate(ctx context.Context, insurerID, industryCode int64)
}

// Request carries every dimension of one resolution call.
type Request struct {
	ActivityCodes []int64
	IndustryCode  int64
	// Zips is consulted only when Territories is empty.
	Zips         []string
	Territories  []string
	PolicyTypes  []PolicyTypeWindow
	InsurerIDs   []int64
	SubjectArea  domain.SubjectArea
	ReturnHidden bool
}

// Engine resolves the applicable underwriting question set across
// insurer, territory, industry, activity and effective-date dimensions.
type Engine struct {
	store Store
	cache Cache
	log   zerolog.Logger
}

// NewEngine creates the resolution engine. cache may be nil.
func NewEngine(store Store, cache Cache, log zerolog.Logger) *Engine {
	if cache == nil {
		cache = noopCache{}
	}
	return &Engine{
		store: store,
		cache: cache,
		log:   log.With().Str("component", "question_engine").Logger(),
	}
}

// Resolve returns the applicable questions, sorted by question ID.
func (e *Engine) Resolve(ctx context.Context, req Request) ([]domain.Question, error) {
	if len(req.InsurerIDs) == 0 {
		return nil, fmt.Errorf("question resolution: at least one insurer is required")
	}
	if len(req.PolicyTypes) == 0 {
		return nil, fmt.Errorf("question resolution: at least one policy type is required")
	}
	if req.SubjectArea == "" {
		req.SubjectArea = domain.SubjectAreaGeneral
	}

	activityCodes, err := e.normalizeActivityCodes(ctx, req.ActivityCodes)
	if err != nil {
		return nil, err
	}

	territories, err := e.resolveTerritories(ctx, req)
	if err != nil {
		return nil, err
	}

	questionIDs := make(map[int64]bool)

	if err := e.collectUniversal(ctx, req, territories, questionIDs); err != nil {
		return nil, err
	}
	if err := e.collectIndustry(ctx, req, territories, questionIDs); err != nil {
		return nil, err
	}
	if err := e.collectActivity(ctx, req, activityCodes, territories, questionIDs); err != nil {
		return nil, err
	}

	questions, err := e.fetchWithParents(ctx, questionIDs)
	if err != nil {
		return nil, err
	}

	if !req.ReturnHidden {
		questions = pruneHidden(questions)
	}

	if err := e.attachPossibleAnswers(ctx, questions); err != nil {
		return nil, err
	}

	sort.Slice(questions, func(i, j int) bool { return questions[i].ID < questions[j].ID })
	return questions, nil
}

// normalizeActivityCodes deduplicates and drops stale codes. Copied or
// older applications may reference retired codes; that is logged, never
// fatal.
func (e *Engine) normalizeActivityCodes(ctx context.Context, ids []int64) ([]int64, error) {
	seen := make(map[int64]bool)
	var unique []int64
	for _, id := range ids {
		if id != 0 && !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	if len(unique) == 0 {
		return nil, nil
	}

	known, err := e.store.KnownActivityCodes(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("validating activity codes: %w", err)
	}
	if len(known) < len(unique) {
		knownSet := make(map[int64]bool, len(known))
		for _, id := range known {
			knownSet[id] = true
		}
		for _, id := range unique {
			if !knownSet[id] {
				e.log.Warn().Int64("activity_code", id).Msg("unknown activity code on application; skipping")
			}
		}
	}
	return known, nil
}

// resolveTerritories uses the supplied state list when present,
// otherwise maps zip codes (5-digit truncation). A zip that maps to
// nothing is logged, not fatal.
func (e *Engine) resolveTerritories(ctx context.Context, req Request) ([]string, error) {
	if len(req.Territories) > 0 {
		return dedupeStrings(req.Territories), nil
	}
	if len(req.Zips) == 0 {
		return nil, nil
	}

	zips := make([]string, 0, len(req.Zips))
	for _, z := range req.Zips {
		if len(z) > 5 {
			z = z[:5]
		}
		zips = append(zips, z)
	}

	byZip, err := e.store.TerritoriesByZip(ctx, zips)
	if err != nil {
		return nil, fmt.Errorf("resolving territories: %w", err)
	}

	var territories []string
	for _, z := range zips {
		t, ok := byZip[z]
		if !ok {
			e.log.Warn().Str("zip", z).Msg("zip code has no territory mapping; skipping")
			continue
		}
		territories = append(territories, t)
	}
	return dedupeStrings(territories), nil
}

// collectUniversal applies step 3: universal questions matching insurer
// set, policy type and subject area, windowed on the policy effective
// date. The territory filter applies only when the mapping restricts
// territories; unrestricted mappings always match.
func (e *Engine) collectUniversal(ctx context.Context, req Request, territories []string, out map[int64]bool) error {
	mappings, err := e.store.UniversalQuestions(ctx, req.InsurerIDs, req.SubjectArea)
	if err != nil {
		return fmt.Errorf("fetching universal questions: %w", err)
	}

	for _, m := range mappings {
		if !m.Universal {
			continue
		}
		matched := false
		for _, pt := range req.PolicyTypes {
			if containsPolicyType(m.PolicyTypes, pt.Type) && m.WindowContains(pt.EffectiveDate) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		if len(m.Territories) > 0 && !intersects(m.Territories, territories) {
			continue
		}
		out[m.QuestionID] = true
	}
	return nil
}

// collectIndustry applies step 4, serving mappings from the cache per
// insurer when possible and lazily repopulating on miss.
func (e *Engine) collectIndustry(ctx context.Context, req Request, territories []string, out map[int64]bool) error {
	if req.IndustryCode == 0 {
		return nil
	}

	var mappings []CodeMapping
	var missed []int64
	for _, insurerID := range req.InsurerIDs {
		if cached, ok := e.cache.GetIndustryMappings(ctx, insurerID, req.IndustryCode); ok {
			mappings = append(mappings, cached...)
		} else {
			missed = append(missed, insurerID)
		}
	}

	if len(missed) > 0 {
		fetched, err := e.store.IndustryQuestionMappings(ctx, req.IndustryCode, missed)
		if err != nil {
			return fmt.Errorf("fetching industry question mappings: %w", err)
		}
		mappings = append(mappings, fetched...)
		e.repopulateCache(ctx, req.IndustryCode, missed, fetched)
	}

	mergeMappings(mappings, req.PolicyTypes, territories, out)
	return nil
}

// collectActivity applies step 5, identical in shape to step 4 but
// keyed by activity codes. Windows validate against the policy
// effective date, consistent with steps 3-4.
func (e *Engine) collectActivity(ctx context.Context, req Request, activityCodes []int64, territories []string, out map[int64]bool) error {
	if len(activityCodes) == 0 {
		return nil
	}

	mappings, err := e.store.ActivityQuestionMappings(ctx, activityCodes, req.InsurerIDs, territories)
	if err != nil {
		return fmt.Errorf("fetching activity question mappings: %w", err)
	}

	mergeMappings(mappings, req.PolicyTypes, territories, out)
	return nil
}

// mergeMappings merges question IDs across matched mappings: for every
// territory in scope, the per-territory override list is preferred when
// present, else the mapping's standard list. Duplicates collapse in the
// output set.
func mergeMappings(mappings []CodeMapping, policyTypes []PolicyTypeWindow, territories []string, out map[int64]bool) {
	for _, m := range mappings {
		valid := false
		for _, pt := range policyTypes {
			if m.WindowContains(pt.EffectiveDate) {
				valid = true
				break
			}
		}
		if !valid {
			continue
		}
		if m.Territory != "" && !containsString(territories, m.Territory) {
			continue
		}

		// The fallback is per territory: each in-scope territory takes
		// its override list when one exists, otherwise the standard
		// list. An override for one territory never suppresses the
		// standard list for another.
		standard := len(territories) == 0
		for _, terr := range territories {
			if override, ok := m.TerritoryQuestions[terr]; ok {
				for _, id := range override {
					out[id] = true
				}
			} else {
				standard = true
			}
		}
		if standard {
			for _, id := range m.QuestionIDs {
				out[id] = true
			}
		}
	}
}

// repopulateCache writes fetched mappings back per insurer, including
// empty snapshots so repeated misses for an unmapped insurer do not
// hammer the store.
func (e *Engine) repopulateCache(ctx context.Context, industryCode int64, insurerIDs []int64, fetched []CodeMapping) {
	byInsurer := make(map[int64][]CodeMapping)
	for _, m := range fetched {
		byInsurer[m.InsurerID] = append(byInsurer[m.InsurerID], m)
	}
	for _, id := range insurerIDs {
		e.cache.SetIndustryMappings(ctx, id, industryCode, byInsurer[id])
	}
}

// fetchWithParents loads the collected questions and repeatedly fetches
// any parent not yet present until the set is closed under the parent
// relation. The depth bound guards against cyclic parent references.
func (e *Engine) fetchWithParents(ctx context.Context, ids map[int64]bool) ([]domain.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	present := make(map[int64]bool)
	queued := make(map[int64]bool)
	var questions []domain.Question

	pending := keys(ids)
	for _, id := range pending {
		queued[id] = true
	}
	for depth := 0; len(pending) > 0; depth++ {
		if depth >= maxParentDepth {
			return nil, fmt.Errorf("question parent chain exceeds %d levels: cyclic or corrupt parent references in %v", maxParentDepth, pending)
		}

		fetched, err := e.store.QuestionsByIDs(ctx, pending)
		if err != nil {
			return nil, fmt.Errorf("fetching questions: %w", err)
		}

		requested := make(map[int64]bool, len(pending))
		for _, id := range pending {
			requested[id] = true
		}
		for _, q := range fetched {
			delete(requested, q.ID)
			if present[q.ID] {
				continue
			}
			present[q.ID] = true
			questions = append(questions, q)
		}
		for id := range requested {
			// Referenced but nonexistent; log once and move on.
			e.log.Warn().Int64("question_id", id).Msg("referenced question does not exist")
		}

		pending = pending[:0]
		for _, q := range questions {
			if q.Parent != 0 && !queued[q.Parent] {
				queued[q.Parent] = true // queued grows monotonically, so cycles terminate
				pending = append(pending, q.Parent)
			}
		}
	}

	return questions, nil
}

// pruneHidden drops hidden questions unless at least one of their
// children is visible: a hidden parent stays when it gates a visible
// child.
func pruneHidden(questions []domain.Question) []domain.Question {
	visibleChild := make(map[int64]bool)
	for _, q := range questions {
		if q.Parent != 0 && !q.Hidden {
			visibleChild[q.Parent] = true
		}
	}

	out := questions[:0]
	for _, q := range questions {
		if q.Hidden && !visibleChild[q.ID] {
			continue
		}
		out = append(out, q)
	}
	return out
}

// attachPossibleAnswers populates the answer sets for enumerated
// question types, leaving the map nil when a question has none.
func (e *Engine) attachPossibleAnswers(ctx context.Context, questions []domain.Question) error {
	var ids []int64
	for _, q := range questions {
		if q.Type.Enumerated() {
			ids = append(ids, q.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	answers, err := e.store.PossibleAnswers(ctx, ids)
	if err != nil {
		return fmt.Errorf("fetching possible answers: %w", err)
	}

	for i := range questions {
		q := &questions[i]
		if !q.Type.Enumerated() {
			continue
		}
		list := answers[q.ID]
		if len(list) == 0 {
			continue
		}
		q.PossibleAnswers = make(map[int64]domain.PossibleAnswer, len(list))
		for _, pa := range list {
			q.PossibleAnswers[pa.ID] = pa
		}
	}
	return nil
}

type noopCache struct{}

func (noopCache) GetIndustryMappings(context.Context, int64, int64) ([]CodeMapping, bool) {
	return nil, false
}
func (noopCache) SetIndustryMappings(context.Context, int64, int64, []CodeMapping) {}
func (noopCache) Invalidate(context.Context, int64, int64)                         {}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsPolicyType(list []domain.PolicyType, t domain.PolicyType) bool {
	for _, v := range list {
		if v == t {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if containsString(b, x) {
			return true
		}
	}
	return false
}

func keys(m map[int64]bool) []int64 {
	out := make([]int64, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
