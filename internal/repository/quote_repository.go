package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/quotelane/quotecore/internal/domain"
	"github.com/quotelane/quotecore/internal/integration"
)

// ErrQuoteNotFound is returned when a quote result does not exist.
var ErrQuoteNotFound = errors.New("quote result not found")

// QuoteRepository persists classified quote results for the
// orchestrator.
type QuoteRepository struct {
	db *DB
}

// NewQuoteRepository creates a quote repository.
func NewQuoteRepository(db *DB) *QuoteRepository {
	return &QuoteRepository{db: db}
}

// StoredQuote is a persisted quote result row.
type StoredQuote struct {
	ID            string
	ApplicationID string
	InsurerID     int64
	PolicyType    domain.PolicyType
	Outcome       integration.Outcome
	Premium       *int64
	Limits        map[string]int64
	QuoteNumber   string
	DeepLink      string
	Reasons       []string
	Transcript    string
	Bound         bool
	PolicyID      *string
	PolicyNumber  *string
	BoundPremium  *int64
	CreatedAt     time.Time
}

// Save persists one classified result, including its transcript and
// any quote letter.
func (r *QuoteRepository) Save(ctx context.Context, res *integration.QuoteResult) error {
	var limits []byte
	if len(res.Limits) > 0 {
		var err error
		limits, err = json.Marshal(res.Limits)
		if err != nil {
			return fmt.Errorf("encoding quoted limits: %w", err)
		}
	}

	var letter []byte
	var letterMIME string
	if res.Letter != nil {
		letter = res.Letter.Data
		letterMIME = res.Letter.MIMEType
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO quote_results (id, application_id, insurer_id, policy_type, outcome,
		                           premium, limits, quote_number, deep_link, reasons,
		                           transcript, letter, letter_mime, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		res.ID, res.ApplicationID, res.InsurerID, string(res.PolicyType), string(res.Outcome),
		res.Premium, limits, res.QuoteNumber, res.DeepLink, res.Reasons,
		res.Transcript.String(), letter, letterMIME, res.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving quote result: %w", err)
	}
	return nil
}

// GetByID loads one stored quote.
func (r *QuoteRepository) GetByID(ctx context.Context, id string) (*StoredQuote, error) {
	row := r.db.Pool.QueryRow(ctx, `
		SELECT id, application_id, insurer_id, policy_type, outcome, premium, limits,
		       quote_number, deep_link, reasons, transcript, bound,
		       policy_id, policy_number, bound_premium, created_at
		FROM quote_results WHERE id = $1`, id)
	return scanStoredQuote(row)
}

// ListByApplication returns an application's stored quotes, newest
// first.
func (r *QuoteRepository) ListByApplication(ctx context.Context, applicationID string) ([]*StoredQuote, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, application_id, insurer_id, policy_type, outcome, premium, limits,
		       quote_number, deep_link, reasons, transcript, bound,
		       policy_id, policy_number, bound_premium, created_at
		FROM quote_results
		WHERE application_id = $1
		ORDER BY created_at DESC`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("listing quote results: %w", err)
	}
	defer rows.Close()

	var out []*StoredQuote
	for rows.Next() {
		q, err := scanStoredQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// MarkBound records a successful bind against a stored quote, appending
// the bind transcript to the quote's log.
func (r *QuoteRepository) MarkBound(ctx context.Context, quoteID string, bind *integration.BindResult, transcript string) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE quote_results
		SET bound = TRUE, policy_id = $2, policy_number = $3, bound_premium = $4,
		    transcript = transcript || $5
		WHERE id = $1`,
		quoteID, bind.PolicyID, bind.PolicyNumber, bind.Premium, transcript)
	if err != nil {
		return fmt.Errorf("marking quote bound: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQuoteNotFound
	}
	return nil
}

// AppendTranscript adds bind/diagnostic transcript text to a stored
// quote without changing its state.
func (r *QuoteRepository) AppendTranscript(ctx context.Context, quoteID, transcript string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE quote_results SET transcript = transcript || $2 WHERE id = $1`,
		quoteID, transcript)
	if err != nil {
		return fmt.Errorf("appending quote transcript: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQuoteNotFound
	}
	return nil
}

func scanStoredQuote(row pgx.Row) (*StoredQuote, error) {
	var q StoredQuote
	var policyType, outcome string
	var limits []byte
	err := row.Scan(&q.ID, &q.ApplicationID, &q.InsurerID, &policyType, &outcome,
		&q.Premium, &limits, &q.QuoteNumber, &q.DeepLink, &q.Reasons, &q.Transcript,
		&q.Bound, &q.PolicyID, &q.PolicyNumber, &q.BoundPremium, &q.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrQuoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning quote result: %w", err)
	}
	q.PolicyType = domain.PolicyType(policyType)
	q.Outcome = integration.Outcome(outcome)
	if len(limits) > 0 {
		if err := json.Unmarshal(limits, &q.Limits); err != nil {
			return nil, fmt.Errorf("decoding quoted limits: %w", err)
		}
	}
	return &q, nil
}
