package explorer

// Action types the planner may emit. Navigate is semantically a click that
// is expected to change the view; the executor treats them identically.
const (
	ActionClick    = "click"
	ActionFill     = "fill"
	ActionNavigate = "navigate"
	ActionNoop     = "noop"
)

// Action is one candidate interaction. TargetID refers to an element id from
// the snapshot the planner was shown and is meaningless against any other
// snapshot.
type Action struct {
	Type       string  `json:"action_type"`
	TargetID   *int    `json:"target_id,omitempty"`
	FillValue  string  `json:"fill_value,omitempty"`
	Rationale  string  `json:"rationale,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Outcome reports how an execution attempt went. Ordinary failures (missing
// element, timeout, disabled control) are outcomes, not errors.
type Outcome struct {
	OK       bool
	Type     string
	TargetID *int
	Reason   string
}

// Transition links a source state to a destination state through one
// successfully executed action.
type Transition struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Action Action `json:"action"`
}

func target(id int) *int { return &id }
