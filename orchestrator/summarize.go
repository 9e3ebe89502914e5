package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gtext "github.com/yuin/goldmark/text"

	"github.com/nevindra/maestro"
)

// flattenMarkdown strips markdown structure down to its text content.
// Token estimation must not charge for formatting syntax the model never
// produced as prose.
func flattenMarkdown(src string) string {
	source := []byte(src)
	doc := goldmark.DefaultParser().Parse(gtext.NewReader(source))
	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := n.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// estimateTokens approximates the token cost of a message as
// ceil(runes/4) over the flattened text. Deterministic by construction.
func estimateTokens(s string) int {
	flat := flattenMarkdown(s)
	return (utf8.RuneCountInString(flat) + 3) / 4
}

// preservedStart returns the index of the first message inside the preserved
// window: the newest messages up to both the message and token budgets.
// System messages and the newest user message are never candidates for
// removal and do not consume the window.
func (o *Orchestrator) preservedStart(msgs []maestro.Message) int {
	pinned := lastUserIndex(msgs)
	kept, tokens := 0, 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == maestro.RoleSystem || i == pinned {
			continue
		}
		tokens += estimateTokens(msgs[i].Content)
		kept++
		if kept >= o.settings.MaxMessagesToPreserve || tokens > o.settings.MaxTokensToPreserve {
			return i + 1
		}
	}
	return 0
}

// lastUserIndex returns the index of the newest user message, or -1.
func lastUserIndex(msgs []maestro.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == maestro.RoleUser {
			return i
		}
	}
	return -1
}

// removable lists the messages older than the preserved window, minus the
// pinned ones.
func (o *Orchestrator) removable(s *maestro.State) []maestro.Message {
	cut := o.preservedStart(s.Messages)
	pinned := lastUserIndex(s.Messages)
	var out []maestro.Message
	for i, m := range s.Messages[:cut] {
		if m.Role == maestro.RoleSystem || i == pinned {
			continue
		}
		out = append(out, m)
	}
	return out
}

// needsSummary fires when enough unsummarised messages have fallen out of
// the preserved window.
func (o *Orchestrator) needsSummary(s *maestro.State) bool {
	return len(o.removable(s)) >= o.settings.SummaryTriggerMessages
}

const summarizePrompt = `You maintain a rolling summary of a CRM assistant conversation. Produce a replacement summary that folds the new messages into the previous summary. Keep record names, ids, amounts and decisions; drop pleasantries. Answer with the summary text only.`

// summarizeConversation is a background node: it asks the LM for a
// replacement summary covering the messages about to leave the window, then
// emits remove directives for them. On failure it changes nothing; the same
// messages re-trigger next turn.
func (o *Orchestrator) summarizeConversation(ctx context.Context, s *maestro.State) (maestro.Update, error) {
	old := o.removable(s)
	if len(old) == 0 {
		return maestro.Update{}, nil
	}

	var b strings.Builder
	if s.Summary != "" {
		fmt.Fprintf(&b, "Previous summary:\n%s\n\n", s.Summary)
	}
	b.WriteString("New messages:\n")
	for _, m := range old {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	resp, err := o.provider.Chat(ctx, maestro.ChatRequest{
		Messages: []maestro.ChatMessage{
			{Role: maestro.RoleSystem, Content: summarizePrompt},
			{Role: maestro.RoleUser, Content: b.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		o.logger.Warn("summarisation failed", "thread_id", s.ThreadID, "error", err)
		return maestro.Update{Events: []maestro.Event{{
			Type: maestro.EventNodeError, Node: nodeSummarize, Text: err.Error(), At: maestro.NowUnix(),
		}}}, nil
	}

	update := maestro.Update{Summary: maestro.Ptr(strings.TrimSpace(resp.Content))}
	for _, m := range old {
		update.Messages = append(update.Messages, maestro.RemoveMessage(m.ID))
	}
	return update, nil
}
