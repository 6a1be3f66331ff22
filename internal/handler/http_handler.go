package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/quotelane/quotecore/internal/domain"
	"github.com/quotelane/quotecore/internal/integration"
	"github.com/quotelane/quotecore/internal/repository"
	"github.com/quotelane/quotecore/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	quotes *service.QuoteService
	binds  *service.BindService
	log    zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(quotes *service.QuoteService, binds *service.BindService, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		quotes: quotes,
		binds:  binds,
		log:    log,
	}
}

// Routes mounts the API surface.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Post("/applications/quote", h.QuoteApplication)
	r.Post("/applications/price", h.PriceCheck)
	r.Post("/applications/questions", h.ResolveQuestions)
	r.Get("/applications/{applicationID}/quotes", h.ListQuotes)
	r.Post("/quotes/{quoteID}/bind", h.BindQuote)
}

// QuoteApplication quotes an application across the requested insurers.
func (h *HTTPHandler) QuoteApplication(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	app, err := req.Application.toDomain()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	results, err := h.quotes.Quote(r.Context(), app, req.InsurerIDs)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	out := make([]quoteResultResponse, 0, len(results))
	for _, res := range results {
		out = append(out, toQuoteResponse(res))
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

// PriceCheck runs the cheap price-indication pathway for one insurer.
func (h *HTTPHandler) PriceCheck(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	app, err := req.Application.toDomain()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := h.quotes.PriceCheck(r.Context(), app, req.InsurerID, domain.PolicyType(req.PolicyType))
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusOK, priceResponse{
		GotPricing:    res.GotPricing,
		OutOfAppetite: res.OutOfAppetite,
		PricingError:  res.PricingError,
		Price:         res.Price,
		Reasons:       res.Reasons,
	})
}

// ResolveQuestions returns the question set an applicant must answer
// before submission.
func (h *HTTPHandler) ResolveQuestions(w http.ResponseWriter, r *http.Request) {
	var req questionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	app, err := req.Application.toDomain()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	area := domain.SubjectArea(req.SubjectArea)
	if area == "" {
		area = domain.SubjectAreaGeneral
	}
	questions, err := h.quotes.ResolveQuestions(r.Context(), app, req.InsurerIDs, area)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	out := make([]questionResponse, 0, len(questions))
	for _, q := range questions {
		out = append(out, toQuestionResponse(q))
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": out})
}

// ListQuotes returns the persisted results for an application.
func (h *HTTPHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	applicationID := chi.URLParam(r, "applicationID")
	if applicationID == "" {
		http.Error(w, "Application ID is required", http.StatusBadRequest)
		return
	}

	stored, err := h.quotes.ListQuotes(r.Context(), applicationID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]storedQuoteResponse, 0, len(stored))
	for _, q := range stored {
		out = append(out, toStoredQuoteResponse(q))
	}
	writeJSON(w, http.StatusOK, map[string]any{"quotes": out})
}

// BindQuote binds a previously quoted result.
func (h *HTTPHandler) BindQuote(w http.ResponseWriter, r *http.Request) {
	quoteID := chi.URLParam(r, "quoteID")

	var req bindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	app, err := req.Application.toDomain()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	bind, err := h.binds.Bind(r.Context(), app, quoteID)
	if err != nil {
		if errors.Is(err, repository.ErrQuoteNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	writeJSON(w, http.StatusOK, bindResponse{
		Status:        string(bind.Status),
		PolicyID:      bind.PolicyID,
		PolicyNumber:  bind.PolicyNumber,
		Premium:       bind.Premium,
		EffectiveDate: formatDate(bind.EffectiveDate),
		Reasons:       bind.Reasons,
	})
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func toQuoteResponse(res *integration.QuoteResult) quoteResultResponse {
	return quoteResultResponse{
		QuoteID:     res.ID,
		InsurerID:   res.InsurerID,
		PolicyType:  string(res.PolicyType),
		Outcome:     string(res.Outcome),
		Premium:     res.Premium,
		Limits:      res.Limits,
		QuoteNumber: res.QuoteNumber,
		DeepLink:    res.DeepLink,
		Reasons:     res.Reasons,
	}
}

func toStoredQuoteResponse(q *repository.StoredQuote) storedQuoteResponse {
	return storedQuoteResponse{
		QuoteID:      q.ID,
		InsurerID:    q.InsurerID,
		PolicyType:   string(q.PolicyType),
		Outcome:      string(q.Outcome),
		Premium:      q.Premium,
		QuoteNumber:  q.QuoteNumber,
		Reasons:      q.Reasons,
		Bound:        q.Bound,
		PolicyNumber: q.PolicyNumber,
		CreatedAt:    q.CreatedAt.Format(time.RFC3339),
	}
}

func toQuestionResponse(q domain.Question) questionResponse {
	out := questionResponse{
		ID:             q.ID,
		Parent:         q.Parent,
		ParentAnswerID: q.ParentAnswerID,
		Type:           string(q.Type),
		SubjectArea:    string(q.SubjectArea),
		Text:           q.Text,
	}
	for _, pa := range q.PossibleAnswers {
		out.PossibleAnswers = append(out.PossibleAnswers, possibleAnswerResponse{
			ID: pa.ID, Answer: pa.Answer, Default: pa.Default,
		})
	}
	sort.Slice(out.PossibleAnswers, func(i, j int) bool {
		return out.PossibleAnswers[i].ID < out.PossibleAnswers[j].ID
	})
	return out
}
