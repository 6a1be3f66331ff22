package everest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotelane/quotecore/internal/domain"
	"github.com/quotelane/quotecore/internal/integration"
	"github.com/quotelane/quotecore/internal/transport"
)

func testApplication(effective time.Time) *domain.Application {
	return &domain.Application{
		ID: "app-1",
		Business: domain.Business{
			Name:         "Blue Harbor Plumbing Inc",
			EIN:          "12-3456789",
			EntityType:   domain.EntityCorporation,
			FoundedDate:  time.Now().AddDate(-6, 0, 0),
			MailingState: "TX",
			MailingZip:   "75001",
		},
		Contacts: []domain.Contact{{FirstName: "Ana", LastName: "Reyes", Email: "ana@example.com", Primary: true}},
		Locations: []domain.Location{{
			Address: "100 Main St",
			City:    "Dallas",
			State:   "TX",
			Zip:     "75001",
			ActivityCodes: []domain.ActivityCodeExposure{{
				ActivityCodeID:    501,
				Payroll:           25000000,
				FullTimeEmployees: 4,
			}},
		}},
		Policies: []domain.Policy{{
			Type:          domain.PolicyTypeWC,
			EffectiveDate: effective,
			Limits:        "100000/500000/100000",
		}},
		Answers: map[int64]domain.QuestionAnswer{},
	}
}

func testEnv(t *testing.T, app *domain.Application, baseURL string, timeout time.Duration) *integration.Env {
	t.Helper()
	policy, ok := app.PolicyOfType(domain.PolicyTypeWC)
	require.True(t, ok)
	return &integration.Env{
		Log:    zerolog.Nop(),
		HTTP:   transport.NewClient(zerolog.Nop(), timeout),
		App:    app,
		Policy: policy,
		Insurer: integration.InsurerConfig{
			ID:      7,
			Name:    "Everest",
			Slug:    "everest",
			Sandbox: true,
			Credentials: integration.Credentials{
				ClientID:     "client-1",
				ClientSecret: "secret-1",
			},
		},
		Agency: integration.AgencyLocation{AgencyCode: "AG-100", AgentCode: "AGT-9"},
		ActivityCodes: map[integration.ActivityCodeKey]string{
			{Territory: "TX", ActivityCodeID: 501}: "5183",
			{Territory: "CA", ActivityCodeID: 501}: "5187",
		},
		Questions:     map[domain.SubjectArea][]domain.Question{},
		QuestionCodes: map[int64]string{},
	}
}

func newAdapter(t *testing.T, env *integration.Env, baseURL string) *Adapter {
	t.Helper()
	factory := Factory(transport.NewTokenCache())
	impl, err := factory(env)
	require.NoError(t, err)
	a, ok := impl.(*Adapter)
	require.True(t, ok)
	a.base = baseURL
	return a
}

func tokenHandler(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(map[string]any{"access_token": "tok-1", "expires_in": 3600})
}

func TestQuoteUnsupportedEntityAutodeclines(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	app := testApplication(time.Now().AddDate(0, 0, 30))
	app.Business.EntityType = domain.EntityOther
	env := testEnv(t, app, srv.URL, time.Second)
	a := newAdapter(t, env, srv.URL)

	res := a.Quote(context.Background())
	assert.Equal(t, integration.OutcomeAutodeclined, res.Outcome)
	require.NotEmpty(t, res.Reasons)
	assert.Contains(t, res.Reasons[0], "entity type")
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls), "no carrier call should be made")
}

func TestQuotePastEffectiveDateAutodeclinesWithEmptyTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("unexpected carrier call")
	}))
	defer srv.Close()

	app := testApplication(time.Now().AddDate(0, 0, -1))
	env := testEnv(t, app, srv.URL, time.Second)
	a := newAdapter(t, env, srv.URL)

	res := a.Quote(context.Background())
	assert.Equal(t, integration.OutcomeAutodeclined, res.Outcome)
	assert.Equal(t, 0, res.Transcript.Len())
}

func TestQuoteHappyPath(t *testing.T) {
	var submitted quoteRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "client-1", user)
		assert.Equal(t, "secret-1", pass)
		tokenHandler(w)
	})
	mux.HandleFunc("/quotes", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "QUOTED",
			"quoteId":   "EV-1001",
			"premium":   412300,
			"limits":    map[string]int64{"employerLiability": 100000},
			"portalUrl": "https://portal.example.com/EV-1001",
		})
	})
	mux.HandleFunc("/quotes/EV-1001/letter", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"document": "cXVvdGUgbGV0dGVy", "mimeType": "application/pdf"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	app := testApplication(time.Now().AddDate(0, 0, 30))
	env := testEnv(t, app, srv.URL, time.Second)
	a := newAdapter(t, env, srv.URL)

	res := a.Quote(context.Background())
	assert.Equal(t, integration.OutcomeQuoted, res.Outcome)
	require.NotNil(t, res.Premium)
	assert.Equal(t, int64(412300), *res.Premium)
	assert.Equal(t, "EV-1001", res.QuoteNumber)
	require.NotNil(t, res.Letter)
	assert.Equal(t, []byte("quote letter"), res.Letter.Data)
	assert.Equal(t, "application/pdf", res.Letter.MIMEType)

	// Cheapest tier dominating the request.
	assert.Equal(t, []string{"100000", "500000", "100000"}, submitted.Limits)
	require.Len(t, submitted.Locations, 1)
	require.Len(t, submitted.Locations[0].ClassCodes, 1)
	assert.Equal(t, "5183", submitted.Locations[0].ClassCodes[0].Code)

	// Transcript recorded the round trip.
	entries := res.Transcript.Entries()
	require.GreaterOrEqual(t, len(entries), 2)
	assert.Equal(t, integration.TranscriptRequest, entries[0].Direction)
	assert.Equal(t, integration.TranscriptResponse, entries[1].Direction)
}

func TestQuoteLetterFailureDoesNotFailQuote(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) { tokenHandler(w) })
	mux.HandleFunc("/quotes", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "QUOTED", "quoteId": "EV-2", "premium": 100000})
	})
	mux.HandleFunc("/quotes/EV-2/letter", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	app := testApplication(time.Now().AddDate(0, 0, 30))
	env := testEnv(t, app, srv.URL, time.Second)
	a := newAdapter(t, env, srv.URL)

	res := a.Quote(context.Background())
	assert.Equal(t, integration.OutcomeQuoted, res.Outcome)
	assert.Nil(t, res.Letter)
}

func TestQuoteStateFloorRaisesLimits(t *testing.T) {
	var submitted quoteRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) { tokenHandler(w) })
	mux.HandleFunc("/quotes", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
		json.NewEncoder(w).Encode(map[string]any{"status": "QUOTED", "quoteId": "EV-3", "premium": 1})
	})
	mux.HandleFunc("/quotes/EV-3/letter", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	app := testApplication(time.Now().AddDate(0, 0, 30))
	app.Locations[0].State = "CA"
	app.Locations[0].Zip = "94105"
	app.Locations[0].City = "San Francisco"
	env := testEnv(t, app, srv.URL, time.Second)
	a := newAdapter(t, env, srv.URL)

	res := a.Quote(context.Background())
	require.Equal(t, integration.OutcomeQuoted, res.Outcome)
	assert.Equal(t, []string{"1000000", "1000000", "1000000"}, submitted.Limits)
}

func TestQuoteCarrierDecline(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) { tokenHandler(w) })
	mux.HandleFunc("/quotes", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{"errors": []string{"class 5183 not written in TX"}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	app := testApplication(time.Now().AddDate(0, 0, 30))
	env := testEnv(t, app, srv.URL, time.Second)
	a := newAdapter(t, env, srv.URL)

	res := a.Quote(context.Background())
	assert.Equal(t, integration.OutcomeDeclined, res.Outcome)
	assert.Contains(t, res.Reasons, "class 5183 not written in TX")
}

func TestQuoteReferralWithPrice(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) { tokenHandler(w) })
	mux.HandleFunc("/quotes", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "REFERRED",
			"premium": 250000,
			"reasons": []string{"payroll above straight-through threshold"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	app := testApplication(time.Now().AddDate(0, 0, 30))
	env := testEnv(t, app, srv.URL, time.Second)
	a := newAdapter(t, env, srv.URL)

	res := a.Quote(context.Background())
	assert.Equal(t, integration.OutcomeReferredWithPrice, res.Outcome)
	require.NotNil(t, res.Premium)
	assert.Equal(t, int64(250000), *res.Premium)
}

func TestQuoteMissingClassCodeMappingAutodeclines(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) { tokenHandler(w) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	app := testApplication(time.Now().AddDate(0, 0, 30))
	app.Locations[0].ActivityCodes[0].ActivityCodeID = 999
	env := testEnv(t, app, srv.URL, time.Second)
	a := newAdapter(t, env, srv.URL)

	res := a.Quote(context.Background())
	assert.Equal(t, integration.OutcomeAutodeclined, res.Outcome)
	require.NotEmpty(t, res.Reasons)
	assert.Contains(t, res.Reasons[0], "not supported by carrier")
}

func TestQuoteExcessiveClaimsAutodeclines(t *testing.T) {
	app := testApplication(time.Now().AddDate(0, 0, 30))
	for i := 0; i < 6; i++ {
		app.Claims = append(app.Claims, domain.Claim{
			PolicyType: domain.PolicyTypeWC,
			EventDate:  time.Now().AddDate(0, -6, -i),
			AmountPaid: 100000,
		})
	}
	env := testEnv(t, app, "http://unused.invalid", time.Second)
	a := newAdapter(t, env, "http://unused.invalid")

	res := a.Quote(context.Background())
	assert.Equal(t, integration.OutcomeAutodeclined, res.Outcome)
	require.NotEmpty(t, res.Reasons)
	assert.Contains(t, res.Reasons[0], "claims")
}

func TestQuoteLossHistoryCountsLostTimeClaims(t *testing.T) {
	var submitted quoteRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) { tokenHandler(w) })
	mux.HandleFunc("/quotes", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&submitted))
		json.NewEncoder(w).Encode(map[string]any{"status": "QUOTED", "quoteId": "EV-1003", "premium": 200000})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	app := testApplication(time.Now().AddDate(0, 0, 30))
	for i, missed := range []bool{true, false, true} {
		app.Claims = append(app.Claims, domain.Claim{
			PolicyType: domain.PolicyTypeWC,
			EventDate:  time.Now().AddDate(0, -2*(i+1), 0),
			AmountPaid: 50000,
			MissedWork: missed,
		})
	}
	env := testEnv(t, app, srv.URL, time.Second)
	a := newAdapter(t, env, srv.URL)

	res := a.Quote(context.Background())
	require.Equal(t, integration.OutcomeQuoted, res.Outcome)

	claims, lostTime := 0, 0
	for _, y := range submitted.LossHistory {
		claims += y.Claims
		lostTime += y.LostTime
	}
	assert.Equal(t, 3, claims)
	assert.Equal(t, 2, lostTime)
}

func TestQuoteTimeoutClassifiedAsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) { tokenHandler(w) })
	mux.HandleFunc("/quotes", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	app := testApplication(time.Now().AddDate(0, 0, 30))
	env := testEnv(t, app, srv.URL, 100*time.Millisecond)
	a := newAdapter(t, env, srv.URL)

	res := a.Quote(context.Background())
	assert.Equal(t, integration.OutcomeError, res.Outcome)
	require.NotEmpty(t, res.Reasons)
	// The failed call is still visible in the transcript.
	entries := res.Transcript.Entries()
	require.NotEmpty(t, entries)
	assert.Equal(t, integration.TranscriptRequest, entries[0].Direction)
}

func TestPriceTriState(t *testing.T) {
	eligible := true
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) { tokenHandler(w) })
	mux.HandleFunc("/price-indications", func(w http.ResponseWriter, r *http.Request) {
		if eligible {
			json.NewEncoder(w).Encode(map[string]any{"eligible": true, "price": 380000})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"eligible": false, "reasons": []string{"state not written"}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	app := testApplication(time.Now().AddDate(0, 0, 30))
	env := testEnv(t, app, srv.URL, time.Second)
	a := newAdapter(t, env, srv.URL)

	got := a.Price(context.Background())
	assert.True(t, got.Exclusive())
	assert.True(t, got.GotPricing)
	assert.Equal(t, int64(380000), got.Price)

	eligible = false
	got = a.Price(context.Background())
	assert.True(t, got.Exclusive())
	assert.True(t, got.OutOfAppetite)
	assert.Contains(t, got.Reasons, "state not written")
}

func TestPriceUnsupportedEntityIsOutOfAppetite(t *testing.T) {
	app := testApplication(time.Now().AddDate(0, 0, 30))
	app.Business.EntityType = domain.EntityAssociation
	env := testEnv(t, app, "http://unused.invalid", time.Second)
	a := newAdapter(t, env, "http://unused.invalid")

	got := a.Price(context.Background())
	assert.True(t, got.Exclusive())
	assert.True(t, got.OutOfAppetite)
}

func TestBindSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) { tokenHandler(w) })
	mux.HandleFunc("/quotes/EV-1001/bind", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status":       "BOUND",
			"policyId":     "pol-55",
			"policyNumber": "WC-2026-0042",
			"premium":      412300,
			"effectiveOn":  "2026-10-01",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	app := testApplication(time.Now().AddDate(0, 0, 30))
	env := testEnv(t, app, srv.URL, time.Second)
	a := newAdapter(t, env, srv.URL)

	quote := integration.NewQuoteResult(app, 7, domain.PolicyTypeWC)
	quote.Quoted(412300, "EV-1001")

	got := a.Bind(context.Background(), quote)
	assert.Equal(t, integration.BindSuccess, got.Status)
	assert.Equal(t, "WC-2026-0042", got.PolicyNumber)
	assert.Equal(t, int64(412300), got.Premium)
	assert.Equal(t, "2026-10-01", got.EffectiveDate.Format("2006-01-02"))
	// Bind calls append to the quote's transcript.
	assert.GreaterOrEqual(t, quote.Transcript.Len(), 2)
}

func TestBindRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) { tokenHandler(w) })
	mux.HandleFunc("/quotes/EV-1001/bind", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "REJECTED", "reasons": []string{"quote expired"}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	app := testApplication(time.Now().AddDate(0, 0, 30))
	env := testEnv(t, app, srv.URL, time.Second)
	a := newAdapter(t, env, srv.URL)

	quote := integration.NewQuoteResult(app, 7, domain.PolicyTypeWC)
	quote.Quoted(412300, "EV-1001")

	got := a.Bind(context.Background(), quote)
	assert.Equal(t, integration.BindRejected, got.Status)
	assert.Contains(t, got.Reasons, "quote expired")
}

func TestBindWithoutQuoteNumberErrors(t *testing.T) {
	app := testApplication(time.Now().AddDate(0, 0, 30))
	env := testEnv(t, app, "http://unused.invalid", time.Second)
	a := newAdapter(t, env, "http://unused.invalid")

	quote := integration.NewQuoteResult(app, 7, domain.PolicyTypeWC)
	got := a.Bind(context.Background(), quote)
	assert.Equal(t, integration.BindError, got.Status)
}

func TestValidatePayloadRejectsBadShape(t *testing.T) {
	err := validatePayload(&quoteRequest{})
	assert.Error(t, err)
}

func TestFactoryRejectsNonWCPolicy(t *testing.T) {
	app := testApplication(time.Now().AddDate(0, 0, 30))
	app.Policies[0].Type = domain.PolicyTypeBOP
	policy := &app.Policies[0]
	_, err := Factory(transport.NewTokenCache())(&integration.Env{
		Log:    zerolog.Nop(),
		App:    app,
		Policy: policy,
	})
	assert.Error(t, err)
}
