package domain

import (
	"strings"
	"unicode/utf8"
)

const (
	minQuestionRunes = 3
	maxQuestionRunes = 2000
)

// ValidateQuestion checks a user question before it enters the pipeline.
// Empty and absurdly long questions are rejected; everything else is left
// untouched so retrieval sees the user's exact wording.
func ValidateQuestion(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return NewValidationError("question", text, ErrEmptyQuestion)
	}
	n := utf8.RuneCountInString(trimmed)
	if n < minQuestionRunes || n > maxQuestionRunes {
		return NewValidationError("question", trimmed, ErrQuestionLength)
	}
	return nil
}

// ValidatePassage checks a passage produced by ingestion before indexing.
func ValidatePassage(p Passage) error {
	if strings.TrimSpace(p.Text) == "" {
		return NewValidationError("text", "", ErrEmptyPassage)
	}
	if p.SourceID == "" {
		return NewValidationError("source_id", "", ErrNoSource)
	}
	return nil
}
