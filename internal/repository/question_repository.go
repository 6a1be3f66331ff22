package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quotelane/quotecore/internal/domain"
	"github.com/quotelane/quotecore/internal/question"
)

// QuestionRepository is the authoritative question store backing the
// resolution engine.
type QuestionRepository struct {
	db *DB
}

// NewQuestionRepository creates a question repository.
func NewQuestionRepository(db *DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// TerritoriesByZip maps 5-digit zips to territories. Unknown zips are
// absent from the result.
func (r *QuestionRepository) TerritoriesByZip(ctx context.Context, zips []string) (map[string]string, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT zip, territory FROM zip_territories WHERE zip = ANY($1)`, zips)
	if err != nil {
		return nil, fmt.Errorf("querying zip territories: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var zip, territory string
		if err := rows.Scan(&zip, &territory); err != nil {
			return nil, err
		}
		out[zip] = territory
	}
	return out, rows.Err()
}

// KnownActivityCodes filters ids down to codes that exist and are not
// retired.
func (r *QuestionRepository) KnownActivityCodes(ctx context.Context, ids []int64) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id FROM activity_codes WHERE id = ANY($1) AND NOT retired`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying activity codes: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UniversalQuestions returns universal insurer-question mappings for
// the insurer set and subject area. Date and territory filtering is the
// engine's job; the rows carry the windows.
func (r *QuestionRepository) UniversalQuestions(ctx context.Context, insurerIDs []int64, subjectArea domain.SubjectArea) ([]question.InsurerQuestion, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT insurer_id, question_id, identifier, universal, policy_types,
		       subject_area, effective_date, expiration_date, territories
		FROM insurer_questions
		WHERE universal AND insurer_id = ANY($1) AND subject_area = $2`,
		insurerIDs, string(subjectArea))
	if err != nil {
		return nil, fmt.Errorf("querying universal questions: %w", err)
	}
	defer rows.Close()

	var out []question.InsurerQuestion
	for rows.Next() {
		var iq question.InsurerQuestion
		var policyTypes []string
		var subject string
		if err := rows.Scan(&iq.InsurerID, &iq.QuestionID, &iq.Identifier, &iq.Universal,
			&policyTypes, &subject, &iq.EffectiveDate, &iq.ExpirationDate, &iq.Territories); err != nil {
			return nil, err
		}
		iq.SubjectArea = domain.SubjectArea(subject)
		for _, pt := range policyTypes {
			iq.PolicyTypes = append(iq.PolicyTypes, domain.PolicyType(pt))
		}
		out = append(out, iq)
	}
	return out, rows.Err()
}

// IndustryQuestionMappings returns industry-code mappings for the
// insurer set across all territories. The engine caches these rows per
// insurer and filters by territory itself, so the snapshot has to be
// territory-complete.
func (r *QuestionRepository) IndustryQuestionMappings(ctx context.Context, industryCode int64, insurerIDs []int64) ([]question.CodeMapping, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT insurer_id, industry_code_id, territory, effective_date,
		       expiration_date, question_ids, territory_questions
		FROM industry_code_questions
		WHERE industry_code_id = $1 AND insurer_id = ANY($2)`,
		industryCode, insurerIDs)
	if err != nil {
		return nil, fmt.Errorf("querying industry code questions: %w", err)
	}
	defer rows.Close()
	return scanCodeMappings(rows)
}

// ActivityQuestionMappings returns activity-code mappings for the
// insurer set, scoped to the territory set (plus territory-unrestricted
// rows).
func (r *QuestionRepository) ActivityQuestionMappings(ctx context.Context, activityCodes []int64, insurerIDs []int64, territories []string) ([]question.CodeMapping, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT insurer_id, activity_code_id, territory, effective_date,
		       expiration_date, question_ids, territory_questions
		FROM activity_code_questions
		WHERE activity_code_id = ANY($1) AND insurer_id = ANY($2)
		  AND (territory = '' OR territory = ANY($3))`,
		activityCodes, insurerIDs, territories)
	if err != nil {
		return nil, fmt.Errorf("querying activity code questions: %w", err)
	}
	defer rows.Close()
	return scanCodeMappings(rows)
}

// QuestionsByIDs loads questions without their possible answers.
func (r *QuestionRepository) QuestionsByIDs(ctx context.Context, ids []int64) ([]domain.Question, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, parent, parent_answer_id, type, subject_area, text, hidden
		FROM questions WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying questions: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var q domain.Question
		var qType, subject string
		if err := rows.Scan(&q.ID, &q.Parent, &q.ParentAnswerID, &qType, &subject, &q.Text, &q.Hidden); err != nil {
			return nil, err
		}
		q.Type = domain.QuestionType(qType)
		q.SubjectArea = domain.SubjectArea(subject)
		out = append(out, q)
	}
	return out, rows.Err()
}

// PossibleAnswers loads answer sets keyed by question ID.
func (r *QuestionRepository) PossibleAnswers(ctx context.Context, questionIDs []int64) (map[int64][]domain.PossibleAnswer, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, question_id, answer, is_default
		FROM question_answers WHERE question_id = ANY($1)
		ORDER BY id`, questionIDs)
	if err != nil {
		return nil, fmt.Errorf("querying question answers: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]domain.PossibleAnswer)
	for rows.Next() {
		var questionID int64
		var pa domain.PossibleAnswer
		if err := rows.Scan(&pa.ID, &questionID, &pa.Answer, &pa.Default); err != nil {
			return nil, err
		}
		out[questionID] = append(out[questionID], pa)
	}
	return out, rows.Err()
}

// InsurerQuestionCodes returns the insurer-specific identifiers for the
// resolved questions, using the mapping version valid on the policy
// effective date.
func (r *QuestionRepository) InsurerQuestionCodes(ctx context.Context, insurerID int64, questionIDs []int64, effectiveDate time.Time) (map[int64]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT question_id, identifier
		FROM insurer_questions
		WHERE insurer_id = $1 AND question_id = ANY($2)
		  AND effective_date <= $3::date AND $3::date < expiration_date`,
		insurerID, questionIDs, effectiveDate.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("querying insurer question codes: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var id int64
		var identifier string
		if err := rows.Scan(&id, &identifier); err != nil {
			return nil, err
		}
		out[id] = identifier
	}
	return out, rows.Err()
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanCodeMappings(rows rowScanner) ([]question.CodeMapping, error) {
	var out []question.CodeMapping
	for rows.Next() {
		var m question.CodeMapping
		var territoryQuestions []byte
		if err := rows.Scan(&m.InsurerID, &m.CodeID, &m.Territory, &m.EffectiveDate,
			&m.ExpirationDate, &m.QuestionIDs, &territoryQuestions); err != nil {
			return nil, err
		}
		if len(territoryQuestions) > 0 {
			if err := json.Unmarshal(territoryQuestions, &m.TerritoryQuestions); err != nil {
				return nil, fmt.Errorf("decoding territory question overrides: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
