package models

type Action string

const (
	ActionCreateTask  Action = "create_task"
	ActionSchedule    Action = "schedule"
	ActionQuery       Action = "query"
	ActionUpdate      Action = "update"
	ActionGeneralChat Action = "general_chat"
)

func ParseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionCreateTask, ActionSchedule, ActionQuery, ActionUpdate, ActionGeneralChat:
		return a, true
	}
	return ActionGeneralChat, false
}

// ExtractedTask is a task mentioned in a chat message. DueDate is kept as the raw
// text the model produced since it may be relative ("by Friday").
type ExtractedTask struct {
	Title             string `json:"title"`
	Description       string `json:"description,omitempty"`
	Priority          string `json:"priority,omitempty"`
	DueDate           string `json:"dueDate,omitempty"`
	EstimatedDuration int    `json:"estimatedDuration,omitempty"`
	Project           string `json:"project,omitempty"`
}

type ExtractedProject struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Intent is the structured reading of a chat message
type Intent struct {
	PrimaryAction     Action             `json:"primaryAction"`
	Confidence        float64            `json:"confidence"`
	ExtractedTasks    []ExtractedTask    `json:"extractedTasks"`
	ExtractedProjects []ExtractedProject `json:"extractedProjects"`
	TimeReferences    []string           `json:"timeReferences"`
	Actions           []string           `json:"actions"`
}

// DefaultIntent is returned whenever extraction fails.
func DefaultIntent() Intent {
	return Intent{
		PrimaryAction:     ActionGeneralChat,
		Confidence:        0.5,
		ExtractedTasks:    []ExtractedTask{},
		ExtractedProjects: []ExtractedProject{},
		TimeReferences:    []string{},
		Actions:           []string{},
	}
}
