package model

import "time"

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PlanStep is one step of the agent's execution plan for a turn.
type PlanStep struct {
	// Step is the 1-based position of this step in the plan.
	Step int `json:"step"`

	// Action is the human-readable description of what the step does.
	Action string `json:"action"`

	// Tool names the backend tool the step uses, if any.
	Tool string `json:"tool,omitempty"`

	// Status is the step's execution state as reported by the backend
	// (e.g., "pending", "running", "completed").
	Status string `json:"status,omitempty"`
}

// Message is a single entry in the conversation transcript.
//
// A finalized message is immutable. The one exception is the streaming
// placeholder for an in-progress assistant reply: its Content grows as
// chunks arrive and Streaming flips to false when the reply finalizes.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Sources lists the document citations backing the reply, normalized
	// to filenames by the backend.
	Sources []string `json:"sources,omitempty"`

	// Plan is the execution plan the backend produced for this turn.
	Plan []PlanStep `json:"plan,omitempty"`

	// Err marks a locally generated error notice in the transcript.
	Err bool `json:"error,omitempty"`

	// Streaming marks an assistant reply still being filled in.
	Streaming bool `json:"streaming,omitempty"`
}
