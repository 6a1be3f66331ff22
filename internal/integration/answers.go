package integration

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/quotelane/quotecore/internal/domain"
)

// ErrAnswerUndetermined signals that a carrier-submittable answer could
// not be derived for a question. Adapters treat this as "skip the
// question" unless the question is mandatory for the carrier's
// submission.
var ErrAnswerUndetermined = errors.New("answer could not be determined")

// DetermineAnswer derives the carrier-submittable answer value for a
// resolved question from the applicant's responses. Enumerated types
// resolve answer IDs through the question's possible answers; free-text
// types pass the text through.
func DetermineAnswer(q domain.Question, answers map[int64]domain.QuestionAnswer) (string, error) {
	ans, ok := answers[q.ID]
	if !ok {
		return "", fmt.Errorf("question %d: no response: %w", q.ID, ErrAnswerUndetermined)
	}

	switch q.Type {
	case domain.QuestionTypeYesNo, domain.QuestionTypeSelectList:
		if len(ans.AnswerIDs) == 0 {
			return "", fmt.Errorf("question %d: no answer selected: %w", q.ID, ErrAnswerUndetermined)
		}
		pa, ok := q.PossibleAnswers[ans.AnswerIDs[0]]
		if !ok {
			return "", fmt.Errorf("question %d: answer %d not in possible answers: %w", q.ID, ans.AnswerIDs[0], ErrAnswerUndetermined)
		}
		return pa.Answer, nil

	case domain.QuestionTypeCheckboxes:
		if len(ans.AnswerIDs) == 0 {
			return "", fmt.Errorf("question %d: no answers selected: %w", q.ID, ErrAnswerUndetermined)
		}
		ids := append([]int64(nil), ans.AnswerIDs...)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		var parts []string
		for _, id := range ids {
			pa, ok := q.PossibleAnswers[id]
			if !ok {
				return "", fmt.Errorf("question %d: answer %d not in possible answers: %w", q.ID, id, ErrAnswerUndetermined)
			}
			parts = append(parts, pa.Answer)
		}
		return strings.Join(parts, ", "), nil

	case domain.QuestionTypeTextSingle, domain.QuestionTypeTextMultiple:
		if strings.TrimSpace(ans.Text) == "" {
			return "", fmt.Errorf("question %d: empty text response: %w", q.ID, ErrAnswerUndetermined)
		}
		return ans.Text, nil
	}

	return "", fmt.Errorf("question %d: unknown type %q: %w", q.ID, q.Type, ErrAnswerUndetermined)
}

// QuestionApplies reports whether a child question is in play given the
// applicant's responses: a question with a parent applies only when the
// parent was answered with the gating answer.
func QuestionApplies(q domain.Question, answers map[int64]domain.QuestionAnswer) bool {
	if q.Parent == 0 {
		return true
	}
	parentAns, ok := answers[q.Parent]
	if !ok {
		return false
	}
	for _, id := range parentAns.AnswerIDs {
		if id == q.ParentAnswerID {
			return true
		}
	}
	return false
}
