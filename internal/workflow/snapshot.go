package workflow

import (
	"github.com/pavelanni/gradewise/internal/grading"
	"github.com/pavelanni/gradewise/internal/model"
)

// Snapshot is the serializable view of a session for the presentation layer.
type Snapshot struct {
	ID             string            `json:"id"`
	State          model.State       `json:"state"`
	Subject        string            `json:"subject,omitempty"`
	PaperName      string            `json:"paper_name,omitempty"`
	Questions      []model.Question  `json:"questions"`
	ActiveQuestion *model.Question   `json:"active_question,omitempty"`
	SheetName      string            `json:"sheet_name,omitempty"`
	Assessment     *model.Assessment `json:"assessment,omitempty"`
	AIScore        *int              `json:"ai_score,omitempty"`
	Final          *model.FinalGrade `json:"final,omitempty"`
	LastFailure    *model.Failure    `json:"last_failure,omitempty"`
	InFlight       bool              `json:"in_flight"`
}

// NewSnapshot builds the view of s. Slices are copied so the snapshot
// stays valid after the session moves on.
func NewSnapshot(s model.Session) Snapshot {
	snap := Snapshot{
		ID:        s.ID,
		State:     s.State,
		Subject:   s.Subject,
		Questions: []model.Question{},
		InFlight:  s.InFlight != nil,
	}
	if s.Paper != nil {
		snap.PaperName = s.Paper.Name
	}
	if s.Extraction != nil {
		snap.Questions = append(snap.Questions, s.Extraction.Questions...)
	}
	if q, ok := s.ActiveQuestion(); ok {
		snap.ActiveQuestion = &q
		if s.Assessment != nil {
			ai := grading.DeriveScore(s.Assessment.SimilarityScore, q.MaxMarks)
			snap.AIScore = &ai
		}
	}
	if s.Sheet != nil {
		snap.SheetName = s.Sheet.Name
	}
	if s.Assessment != nil {
		a := *s.Assessment
		snap.Assessment = &a
	}
	if s.Final != nil {
		f := *s.Final
		snap.Final = &f
	}
	if s.LastFailure != nil {
		f := *s.LastFailure
		snap.LastFailure = &f
	}
	return snap
}
