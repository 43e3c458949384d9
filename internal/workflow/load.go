package workflow

import "github.com/xaenox/chief-of-staff/internal/models"

type LoadLevel string

const (
	LoadOptimal    LoadLevel = "optimal"
	LoadHigh       LoadLevel = "high"
	LoadOverloaded LoadLevel = "overloaded"
)

// Load summarizes how much open work a user is carrying.
type Load struct {
	Total           float64   `json:"total"`
	Level           LoadLevel `json:"level"`
	Recommendations []string  `json:"recommendations"`
}

// CognitiveLoad scores open tasks by priority, size and whether they belong
// to a project. Closed tasks contribute nothing.
func CognitiveLoad(tasks []*models.Task) Load {
	var total float64
	for _, t := range tasks {
		if !t.IsOpen() {
			continue
		}
		total += taskLoad(t)
	}

	load := Load{Total: total, Recommendations: []string{}}
	switch {
	case total < 20:
		load.Level = LoadOptimal
	case total < 40:
		load.Level = LoadHigh
	default:
		load.Level = LoadOverloaded
		load.Recommendations = []string{"Consider delegation", "Block focus time"}
	}
	return load
}

func taskLoad(t *models.Task) float64 {
	complexity := 1.0
	if t.EstimatedDuration != nil && *t.EstimatedDuration > 120 {
		complexity = 1.5
	}
	// orphan tasks cost a context switch
	penalty := 1.2
	if t.ProjectID != "" {
		penalty = 1.0
	}
	return t.Priority.Weight() * complexity * penalty
}
