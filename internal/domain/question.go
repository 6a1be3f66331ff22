package domain

// QuestionType enumerates the supported answer shapes.
type QuestionType string

const (
	QuestionTypeYesNo        QuestionType = "Yes/No"
	QuestionTypeCheckboxes   QuestionType = "Checkboxes"
	QuestionTypeSelectList   QuestionType = "Select List"
	QuestionTypeTextSingle   QuestionType = "Text-Single"
	QuestionTypeTextMultiple QuestionType = "Text-Multiple"
)

// Enumerated reports whether the type carries a fixed answer set.
func (t QuestionType) Enumerated() bool {
	switch t {
	case QuestionTypeYesNo, QuestionTypeCheckboxes, QuestionTypeSelectList:
		return true
	}
	return false
}

// SubjectArea groups questions by the part of the application they
// describe.
type SubjectArea string

const (
	SubjectAreaGeneral          SubjectArea = "general"
	SubjectAreaLocation         SubjectArea = "location"
	SubjectAreaLocationBuilding SubjectArea = "location.building"
)

// PossibleAnswer is one selectable answer for an enumerated question.
type PossibleAnswer struct {
	ID      int64
	Answer  string
	Default bool
}

// Question is a node in the underwriting question tree. A non-zero
// Parent gates visibility on the parent being answered with
// ParentAnswerID.
type Question struct {
	ID             int64
	Parent         int64
	ParentAnswerID int64
	Type           QuestionType
	SubjectArea    SubjectArea
	Text           string
	Hidden         bool
	// PossibleAnswers is keyed by answer ID and populated only for
	// enumerated types; nil when empty.
	PossibleAnswers map[int64]PossibleAnswer
}

// InsurerQuestionCode is the carrier-side identifier for a resolved
// question, attached so adapters can address the carrier's own schema.
type InsurerQuestionCode struct {
	InsurerID  int64
	QuestionID int64
	Identifier string
}
