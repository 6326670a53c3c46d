package model

import "time"

// GraderInfo records the settings that produced a set of grades.
type GraderInfo struct {
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	ScoreVariant string `json:"score_variant,omitempty"`
}

// GradeExport is the top-level JSON structure for recorded grade export.
type GradeExport struct {
	ExportedAt time.Time     `json:"exported_at"`
	Subject    string        `json:"subject,omitempty"`
	Grader     GraderInfo    `json:"grader"`
	Count      int           `json:"count"`
	Grades     []GradeRecord `json:"grades"`
}
