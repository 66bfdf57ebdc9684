package domain

// MaxPriorityActions caps NarrativeContent.PriorityActions.
const MaxPriorityActions = 3

// NarrativeContent is the structured briefing text. It is always fully
// populated, either by the generative backend or by the fallback.
type NarrativeContent struct {
	Greeting        string   `json:"greeting"`
	Summary         string   `json:"summary"`
	CalendarSection string   `json:"calendarSection"`
	TasksSection    string   `json:"tasksSection"`
	EmailSection    string   `json:"emailSection"`
	InsightsSection string   `json:"insightsSection"`
	PriorityActions []string `json:"priorityActions"`
	Closing         string   `json:"closing"`
}

// NarrativeSource tags which path produced the content.
type NarrativeSource string

const (
	NarrativeGenerated NarrativeSource = "generated"
	NarrativeFallback  NarrativeSource = "fallback"
)

// Narrative is the tagged result of generation.
type Narrative struct {
	Content NarrativeContent
	Source  NarrativeSource

	// FallbackReason is empty for generated content.
	FallbackReason string
}
