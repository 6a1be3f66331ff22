package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotelane/quotecore/internal/domain"
	"github.com/quotelane/quotecore/internal/integration"
	"github.com/quotelane/quotecore/internal/question"
	"github.com/quotelane/quotecore/internal/repository"
	"github.com/quotelane/quotecore/internal/service"
	"github.com/quotelane/quotecore/internal/transport"
)

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, req question.Request) ([]domain.Question, error) {
	if req.SubjectArea != domain.SubjectAreaGeneral {
		return nil, nil
	}
	return []domain.Question{{
		ID:   9,
		Type: domain.QuestionTypeYesNo,
		Text: "Any prior claims?",
		PossibleAnswers: map[int64]domain.PossibleAnswer{
			1: {ID: 1, Answer: "Yes"},
			2: {ID: 2, Answer: "No"},
		},
	}}, nil
}

type stubCodes struct{}

func (stubCodes) InsurerQuestionCodes(ctx context.Context, insurerID int64, questionIDs []int64, effectiveDate time.Time) (map[int64]string, error) {
	return map[int64]string{}, nil
}

type stubCarriers struct{}

func (stubCarriers) Insurer(ctx context.Context, insurerID int64) (integration.InsurerConfig, error) {
	return integration.InsurerConfig{ID: insurerID}, nil
}

func (stubCarriers) AgencyLocation(ctx context.Context, agencyID string, insurerID int64) (integration.AgencyLocation, error) {
	return integration.AgencyLocation{AgencyID: agencyID}, nil
}

func (stubCarriers) ActivityCodeMap(ctx context.Context, insurerID int64, territories []string, activityCodeIDs []int64) (map[integration.ActivityCodeKey]string, error) {
	return map[integration.ActivityCodeKey]string{}, nil
}

func (stubCarriers) IndustryCode(ctx context.Context, insurerID, industryCode int64) (string, error) {
	return "", nil
}

type stubQuoteStore struct {
	stored map[string]*repository.StoredQuote
}

func (s *stubQuoteStore) Save(ctx context.Context, res *integration.QuoteResult) error { return nil }

func (s *stubQuoteStore) GetByID(ctx context.Context, id string) (*repository.StoredQuote, error) {
	q, ok := s.stored[id]
	if !ok {
		return nil, repository.ErrQuoteNotFound
	}
	return q, nil
}

func (s *stubQuoteStore) ListByApplication(ctx context.Context, applicationID string) ([]*repository.StoredQuote, error) {
	var out []*repository.StoredQuote
	for _, q := range s.stored {
		if q.ApplicationID == applicationID {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *stubQuoteStore) MarkBound(ctx context.Context, quoteID string, bind *integration.BindResult, transcript string) error {
	return nil
}

func (s *stubQuoteStore) AppendTranscript(ctx context.Context, quoteID, transcript string) error {
	return nil
}

type stubPublisher struct{}

func (stubPublisher) PublishQuoteResult(ctx context.Context, res *integration.QuoteResult)      {}
func (stubPublisher) PublishBindResult(ctx context.Context, id string, b *integration.BindResult) {}

type echoAdapter struct {
	env *integration.Env
}

func (a *echoAdapter) Init(ctx context.Context) (integration.Requirements, error) {
	return integration.Requirements{}, nil
}

func (a *echoAdapter) Quote(ctx context.Context) *integration.QuoteResult {
	res := integration.NewQuoteResult(a.env.App, a.env.Insurer.ID, a.env.Policy.Type)
	return res.Quoted(120000, "REF-1")
}

func newTestRouter(t *testing.T, store *stubQuoteStore) http.Handler {
	t.Helper()
	registry := integration.NewRegistry()
	require.NoError(t, registry.Register(1, domain.PolicyTypeWC, func(env *integration.Env) (integration.Integration, error) {
		return &echoAdapter{env: env}, nil
	}))

	quoteService := service.NewQuoteService(
		registry, stubResolver{}, stubCodes{}, stubCarriers{}, store, stubPublisher{},
		transport.NewClient(zerolog.Nop(), time.Second), zerolog.Nop(),
	)
	bindService := service.NewBindService(registry, store, stubPublisher{}, quoteService, zerolog.Nop())

	h := NewHTTPHandler(quoteService, bindService, zerolog.Nop())
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Route("/api/v1", h.Routes)
	return r
}

func validApplicationJSON() map[string]any {
	effective := time.Now().AddDate(0, 0, 30).Format("2006-01-02")
	return map[string]any{
		"id":        "app-h1",
		"agency_id": "agency-1",
		"business": map[string]any{
			"name":          "Handler Test Co",
			"ein":           "11-2233445",
			"entity_type":   "Corporation",
			"mailing_state": "TX",
			"mailing_zip":   "75001",
		},
		"contacts": []map[string]any{{"first_name": "A", "last_name": "B", "primary": true}},
		"locations": []map[string]any{{
			"address": "1 Elm", "city": "Dallas", "state": "TX", "zip": "75001",
			"activity_codes": []map[string]any{{"activity_code_id": 5, "payroll": 100000}},
		}},
		"policies": []map[string]any{{
			"type":           "WC",
			"effective_date": effective,
			"limits":         "100000/500000/100000",
		}},
	}
}

func postJSON(t *testing.T, router http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestQuoteEndpoint(t *testing.T) {
	router := newTestRouter(t, &stubQuoteStore{stored: map[string]*repository.StoredQuote{}})

	rec := postJSON(t, router, "/api/v1/applications/quote", map[string]any{
		"application": validApplicationJSON(),
		"insurer_ids": []int64{1},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var reply struct {
		Results []quoteResultResponse `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	require.Len(t, reply.Results, 1)
	assert.Equal(t, "quoted", reply.Results[0].Outcome)
	require.NotNil(t, reply.Results[0].Premium)
	assert.Equal(t, int64(120000), *reply.Results[0].Premium)
	assert.Equal(t, "REF-1", reply.Results[0].QuoteNumber)
}

func TestQuoteEndpointRejectsMalformedBody(t *testing.T) {
	router := newTestRouter(t, &stubQuoteStore{stored: map[string]*repository.StoredQuote{}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications/quote", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuoteEndpointRejectsBadDate(t *testing.T) {
	router := newTestRouter(t, &stubQuoteStore{stored: map[string]*repository.StoredQuote{}})
	app := validApplicationJSON()
	app["policies"] = []map[string]any{{"type": "WC", "effective_date": "10/01/2026", "limits": "100000/500000/100000"}}

	rec := postJSON(t, router, "/api/v1/applications/quote", map[string]any{
		"application": app,
		"insurer_ids": []int64{1},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuestionsEndpoint(t *testing.T) {
	router := newTestRouter(t, &stubQuoteStore{stored: map[string]*repository.StoredQuote{}})

	rec := postJSON(t, router, "/api/v1/applications/questions", map[string]any{
		"application": validApplicationJSON(),
		"insurer_ids": []int64{1},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var reply struct {
		Questions []questionResponse `json:"questions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	require.Len(t, reply.Questions, 1)
	assert.Equal(t, int64(9), reply.Questions[0].ID)
	require.Len(t, reply.Questions[0].PossibleAnswers, 2)
	// Sorted by answer ID.
	assert.Equal(t, int64(1), reply.Questions[0].PossibleAnswers[0].ID)
}

func TestListQuotesEndpoint(t *testing.T) {
	premium := int64(5000)
	store := &stubQuoteStore{stored: map[string]*repository.StoredQuote{
		"q1": {
			ID:            "q1",
			ApplicationID: "app-h1",
			InsurerID:     1,
			PolicyType:    domain.PolicyTypeWC,
			Outcome:       integration.OutcomeQuoted,
			Premium:       &premium,
			QuoteNumber:   "REF-1",
			CreatedAt:     time.Now(),
		},
	}}
	router := newTestRouter(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/applications/app-h1/quotes", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var reply struct {
		Quotes []storedQuoteResponse `json:"quotes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	require.Len(t, reply.Quotes, 1)
	assert.Equal(t, "q1", reply.Quotes[0].QuoteID)
}

func TestBindEndpointUnknownQuoteIs404(t *testing.T) {
	router := newTestRouter(t, &stubQuoteStore{stored: map[string]*repository.StoredQuote{}})

	rec := postJSON(t, router, "/api/v1/quotes/missing/bind", map[string]any{
		"application": validApplicationJSON(),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, &stubQuoteStore{stored: map[string]*repository.StoredQuote{}})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
