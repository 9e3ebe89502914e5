package maestro

import "errors"

// errInterrupt is the sentinel a node returns to suspend the run and hand a
// prompt back to the caller. The runtime checkpoints the state together with
// the pending node, so a later Resume with the same thread id re-enters the
// graph exactly where it stopped.
type errInterrupt struct {
	prompt string
}

func (e *errInterrupt) Error() string { return "interrupt: " + e.prompt }

// Interrupt returns the control signal that suspends the current run.
// The prompt is surfaced to the caller via RunResult.Prompt.
func Interrupt(prompt string) error {
	return &errInterrupt{prompt: prompt}
}

// AsInterrupt reports whether err is an interrupt signal and extracts its
// prompt. Subgraph nodes use it to propagate a child suspension to the
// parent runtime unchanged.
func AsInterrupt(err error) (string, bool) {
	var ie *errInterrupt
	if errors.As(err, &ie) {
		return ie.prompt, true
	}
	return "", false
}

// ResumedValue returns the user reply injected by Graph.Resume, if this
// node activation is a resumption. The value stays set for the remainder of
// the run and is cleared on the next suspension.
func ResumedValue(s *State) (string, bool) {
	return s.ResumeValue, s.ResumeValue != ""
}
