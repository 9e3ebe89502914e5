package maestro

// MaxEventHistory caps the events sequence kept in state. The events reducer
// drops the oldest entries beyond the cap.
const MaxEventHistory = 50

// State is the record flowing through a graph. Every key has a fixed reducer
// applied when a node's Update is merged back: Messages uses add-messages
// (append with id-based replacement, honouring remove directives), Events
// appends under the history cap, and every other key replaces when the
// Update carries a value.
//
// A State is owned by the node currently running; fan-out branches each get
// their own deep copy and never share slices with the main state.
type State struct {
	Messages []Message  `json:"messages"`
	Summary  string     `json:"summary,omitempty"`
	Memory   UserMemory `json:"memory"`
	Events   []Event    `json:"events,omitempty"`

	UserID   string `json:"user_id"`
	ThreadID string `json:"thread_id"`

	MemoryInitDone        bool `json:"memory_init_done"`
	LastMemoryUpdateIndex int  `json:"last_memory_update_index"`

	// Routing flags for hand-off to the plan-execute subgraph.
	NeedsPlanExecute bool   `json:"needs_plan_execute,omitempty"`
	PlanExecuteTask  string `json:"plan_execute_task,omitempty"`

	// Plan-subgraph keys.
	Plan        []string `json:"plan,omitempty"`
	Approved    bool     `json:"approved,omitempty"`
	PlanResults []string `json:"plan_results,omitempty"`

	// ResumeValue carries the user's reply injected by Graph.Resume. The
	// pending node reads it via ResumedValue; it is cleared on the next
	// suspension.
	ResumeValue string `json:"resume_value,omitempty"`

	// eventCap overrides MaxEventHistory for the events reducer. The graph
	// stamps it from its own configuration on every state it loads or
	// creates; zero means the default.
	eventCap int
}

// Update is a partial state returned by a node. Nil pointers and nil slices
// mean "key untouched"; Messages and Events are always additive.
type Update struct {
	Messages []Message
	Summary  *string
	Memory   *UserMemory
	Events   []Event

	MemoryInitDone        *bool
	LastMemoryUpdateIndex *int

	NeedsPlanExecute *bool
	PlanExecuteTask  *string

	Plan        []string
	Approved    *bool
	PlanResults []string

	UserID   *string
	ThreadID *string

	ResumeValue *string
}

// Ptr returns a pointer to v, for building Update literals.
func Ptr[T any](v T) *T { return &v }

// Apply merges u into s under the per-key reducers and returns s.
func (s *State) Apply(u Update) *State {
	s.Messages = addMessages(s.Messages, u.Messages)
	s.Events = appendEvents(s.Events, u.Events, s.eventCap)
	if u.Summary != nil {
		s.Summary = *u.Summary
	}
	if u.Memory != nil {
		s.Memory = *u.Memory
	}
	if u.MemoryInitDone != nil {
		s.MemoryInitDone = *u.MemoryInitDone
	}
	if u.LastMemoryUpdateIndex != nil {
		s.LastMemoryUpdateIndex = *u.LastMemoryUpdateIndex
	}
	if u.NeedsPlanExecute != nil {
		s.NeedsPlanExecute = *u.NeedsPlanExecute
	}
	if u.PlanExecuteTask != nil {
		s.PlanExecuteTask = *u.PlanExecuteTask
	}
	if u.Plan != nil {
		s.Plan = u.Plan
	}
	if u.Approved != nil {
		s.Approved = *u.Approved
	}
	if u.PlanResults != nil {
		s.PlanResults = u.PlanResults
	}
	if u.UserID != nil {
		s.UserID = *u.UserID
	}
	if u.ThreadID != nil {
		s.ThreadID = *u.ThreadID
	}
	if u.ResumeValue != nil {
		s.ResumeValue = *u.ResumeValue
	}
	// The cursor never points past the sequence, even after removals shrink it.
	if s.LastMemoryUpdateIndex > len(s.Messages) {
		s.LastMemoryUpdateIndex = len(s.Messages)
	}
	return s
}

// addMessages is the messages reducer: append with id-based replacement.
// An incoming message whose id already exists replaces the original in
// place, which makes replays idempotent. An incoming remove directive
// elides the target message; the directive itself never lands in the
// sequence.
func addMessages(existing, incoming []Message) []Message {
	if len(incoming) == 0 {
		return existing
	}
	out := make([]Message, len(existing))
	copy(out, existing)
	index := make(map[string]int, len(out))
	for i, m := range out {
		index[m.ID] = i
	}
	for _, m := range incoming {
		if m.Remove {
			if i, ok := index[m.ID]; ok {
				out = append(out[:i], out[i+1:]...)
				delete(index, m.ID)
				for j := i; j < len(out); j++ {
					index[out[j].ID] = j
				}
			}
			continue
		}
		if i, ok := index[m.ID]; ok {
			out[i] = m
			continue
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	return out
}

// appendEvents is the events reducer: append, keep the newest limit
// entries. A non-positive limit means MaxEventHistory.
func appendEvents(existing, incoming []Event, limit int) []Event {
	if len(incoming) == 0 {
		return existing
	}
	if limit <= 0 {
		limit = MaxEventHistory
	}
	out := make([]Event, 0, len(existing)+len(incoming))
	out = append(out, existing...)
	out = append(out, incoming...)
	if excess := len(out) - limit; excess > 0 {
		out = out[excess:]
	}
	return out
}

// Clone returns a deep copy of the state. Fan-out sub-states and checkpoints
// are clones, so concurrent branches never alias the main state's slices.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Messages = cloneMessages(s.Messages)
	cp.Events = append([]Event(nil), s.Events...)
	cp.Plan = append([]string(nil), s.Plan...)
	cp.PlanResults = append([]string(nil), s.PlanResults...)
	cp.Memory = s.Memory.clone()
	return &cp
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	for i, m := range msgs {
		if len(m.ToolCalls) > 0 {
			out[i].ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
	}
	return out
}

func (m UserMemory) clone() UserMemory {
	return UserMemory{
		Accounts:      append([]Account(nil), m.Accounts...),
		Contacts:      append([]Contact(nil), m.Contacts...),
		Opportunities: append([]Opportunity(nil), m.Opportunities...),
		Cases:         append([]Case(nil), m.Cases...),
		Tasks:         append([]TaskRecord(nil), m.Tasks...),
		Leads:         append([]Lead(nil), m.Leads...),
	}
}

// LastMessage returns the newest message, or a zero Message when empty.
func (s *State) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}
