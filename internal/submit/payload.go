package submit

import (
	"github.com/google/uuid"

	"github.com/prosetya/examgate/internal/model"
)

// BuildPayload constructs the immutable submission payload from a store
// snapshot. Every question contributes exactly one entry, answered or not;
// multi-select answers stay an explicit list and single selections become a
// one-element list, so no selection is ever conflated with a scalar.
func BuildPayload(attemptID uuid.UUID, questions []model.Question, answers map[model.AnswerKey]model.AnswerValue, violations model.ViolationSummary) *model.SubmissionPayload {
	payload := &model.SubmissionPayload{
		AttemptID:     attemptID,
		ChoiceAnswers: make([]model.ChoiceAnswer, 0, len(questions)),
		TextAnswers:   make([]model.TextAnswer, 0),
		Violations:    violations,
	}

	for pos, q := range questions {
		value := answers[model.AnswerKey{Position: pos, QuestionID: q.ID}]

		switch q.Type {
		case model.QuestionTypeFreeText:
			payload.TextAnswers = append(payload.TextAnswers, model.TextAnswer{
				QuestionID: q.ID,
				Text:       value.Text,
			})
		case model.QuestionTypeMultipleChoice:
			selected := value.Multi
			if selected == nil {
				selected = []string{}
			}
			payload.ChoiceAnswers = append(payload.ChoiceAnswers, model.ChoiceAnswer{
				QuestionID: q.ID,
				Selected:   selected,
			})
		default: // single choice, including fallback entries
			selected := []string{}
			if value.Single != "" {
				selected = []string{value.Single}
			}
			payload.ChoiceAnswers = append(payload.ChoiceAnswers, model.ChoiceAnswer{
				QuestionID: q.ID,
				Selected:   selected,
			})
		}
	}

	return payload
}
