package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nevindra/maestro"
	"github.com/nevindra/maestro/memory"
)

// cursor clamps the memory-update cursor to the current sequence length.
func cursor(s *maestro.State) int {
	c := s.LastMemoryUpdateIndex
	if c > len(s.Messages) {
		c = len(s.Messages)
	}
	return c
}

// needsMemoryUpdate fires when enough user messages have accumulated since
// the last extraction, or when CRM territory comes up in the recent turns.
// The keyword path needs at least two pending user messages: a single
// opening turn that happens to mention a record type goes to the specialist
// without spending an extraction call.
func (o *Orchestrator) needsMemoryUpdate(s *maestro.State) bool {
	pending := s.Messages[cursor(s):]
	users := 0
	for _, m := range pending {
		if m.Role == maestro.RoleUser {
			users++
		}
	}
	if users >= o.settings.MemoryUpdateTriggerMessages {
		return true
	}
	if users < 2 {
		return false
	}

	recent := s.Messages
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	for _, m := range recent {
		if o.mentionsTrigger(m.Content) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) mentionsTrigger(text string) bool {
	if len(o.settings.TriggerKeywords) == 0 {
		return memory.MentionsCRM(text)
	}
	lower := strings.ToLower(text)
	for _, kw := range o.settings.TriggerKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// updateMemory is a background node: extract entities from the messages
// since the cursor, merge into memory, persist write-through (embedded cache
// first, relational second), and advance the cursor. Extraction failure
// leaves the cursor where it was so the same messages retry next trigger;
// persistence failure is recorded as an event while the merged memory stays
// authoritative in state.
func (o *Orchestrator) updateMemory(ctx context.Context, s *maestro.State) (maestro.Update, error) {
	segment := s.Messages[cursor(s):]
	extracted, err := memory.Extract(ctx, o.provider, segment)
	if err != nil {
		o.logger.Warn("memory extraction failed", "user_id", s.UserID, "error", err)
		return maestro.Update{Events: []maestro.Event{{
			Type: maestro.EventNodeError, Node: nodeUpdateMemory, Text: err.Error(), At: maestro.NowUnix(),
		}}}, nil
	}

	merged := maestro.Merge(s.Memory, extracted)
	update := maestro.Update{
		Memory:                &merged,
		LastMemoryUpdateIndex: maestro.Ptr(len(s.Messages)),
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return maestro.Update{}, err
	}
	if err := o.store.Put(ctx, maestro.Namespace("memory", s.UserID), maestro.MemoryKey, raw); err != nil {
		o.logger.Error("memory cache write failed", "user_id", s.UserID, "error", err)
		update.Events = append(update.Events, maestro.Event{
			Type: maestro.EventPersistErr, Node: nodeUpdateMemory, Text: err.Error(), At: maestro.NowUnix(),
		})
	}
	if o.memories != nil {
		if err := o.memories.SaveMemory(ctx, s.UserID, merged); err != nil {
			o.logger.Error("relational memory write failed", "user_id", s.UserID, "error", err)
			update.Events = append(update.Events, maestro.Event{
				Type: maestro.EventPersistErr, Node: nodeUpdateMemory, Text: err.Error(), At: maestro.NowUnix(),
			})
		}
	}
	return update, nil
}
