package maestro

// --- A2A domain types ---

// AgentCard is the immutable manifest a specialist agent publishes about
// itself: what it can do and where to reach it. Cards are compared by
// name+version; everything else is advisory.
type AgentCard struct {
	Name               string            `json:"name"`
	Version            string            `json:"version"`
	Description        string            `json:"description"`
	Capabilities       []string          `json:"capabilities"`
	Endpoints          map[string]string `json:"endpoints"`
	CommunicationModes []string          `json:"communication_modes"`
	Metadata           map[string]any    `json:"metadata,omitempty"`
}

// SameIdentity reports whether two cards describe the same agent release.
func (c AgentCard) SameIdentity(o AgentCard) bool {
	return c.Name == o.Name && c.Version == o.Version
}

// HasCapability reports whether the card advertises the given tag.
func (c AgentCard) HasCapability(tag string) bool {
	for _, cap := range c.Capabilities {
		if cap == tag {
			return true
		}
	}
	return false
}

// Task is a unit of work delegated to a specialist agent. Created once at
// the orchestrator, transmitted once, processed exactly once per successful
// transport. The state snapshot is a copy; specialists never share live
// orchestrator state.
type Task struct {
	ID            string         `json:"id"`
	Instruction   string         `json:"instruction"`
	Context       map[string]any `json:"context,omitempty"`
	StateSnapshot map[string]any `json:"state_snapshot,omitempty"`
	Artifacts     []Artifact     `json:"artifacts,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// NewTask creates a task with a fresh ID and the given instruction.
func NewTask(instruction string) Task {
	return Task{ID: NewID(), Instruction: instruction, Context: map[string]any{}}
}

// Artifact is an immutable output produced while processing a task.
// Artifacts are append-only and outlive the task that produced them.
type Artifact struct {
	ID       string         `json:"id"`
	TaskID   string         `json:"task_id"`
	MimeType string         `json:"mime_type"`
	Data     []byte         `json:"data"` // base64 on the wire
	Metadata map[string]any `json:"metadata,omitempty"`
}

// NewArtifact creates an artifact owned by the given task.
func NewArtifact(taskID, mimeType string, data []byte) Artifact {
	return Artifact{ID: NewID(), TaskID: taskID, MimeType: mimeType, Data: data}
}

// Task result statuses.
const (
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// TaskResult is what a specialist returns for a processed task.
type TaskResult struct {
	Artifacts []Artifact `json:"artifacts"`
	Status    string     `json:"status"` // "completed" or "failed"
}

// Text concatenates the text artifacts of the result, newline-separated.
// Non-text artifacts are skipped.
func (r TaskResult) Text() string {
	var out string
	for _, a := range r.Artifacts {
		if a.MimeType != "" && a.MimeType != "text/plain" && a.MimeType != "application/json" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += string(a.Data)
	}
	return out
}
