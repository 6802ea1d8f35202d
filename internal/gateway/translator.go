package gateway

import (
	"encoding/base64"
	"fmt"
	"strings"

	adksession "google.golang.org/adk/session"
)

// Translator classifies raw runtime events into wire messages. Precedence
// is fixed: audio, then agent transfer, then tool call, then tool response,
// then plain text. An event matching none of these emits nothing.
type Translator struct{}

// NewTranslator creates a translator.
func NewTranslator() *Translator {
	return &Translator{}
}

// Translate maps one runtime event to at most one wire message. The second
// return value reports whether a message was produced.
func (t *Translator) Translate(event *adksession.Event, sessionID string) (WireMessage, bool) {
	if event == nil || event.LLMResponse.Content == nil {
		return WireMessage{}, false
	}

	parts := event.LLMResponse.Content.Parts

	// 1. Audio payload wins over everything else.
	for _, part := range parts {
		if part.InlineData == nil || !strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
			continue
		}
		raw := part.InlineData.Data
		msg := NewWireMessage(TypeAudio, fmt.Sprintf("Audio response: %d bytes", len(raw)), sessionID)
		msg.MimeType = part.InlineData.MIMEType
		msg.Data = base64.StdEncoding.EncodeToString(raw)
		msg.Metadata = map[string]interface{}{
			"event_type": "audio_response",
			"audio_size": len(raw),
		}
		return msg, true
	}

	for _, part := range parts {
		switch {
		case part.Text != "" && isTransferText(part.Text):
			agentName := transferTarget(part.Text, event.Author)
			msg := NewWireMessage(TypeAgentTransfer, fmt.Sprintf("Transferring to %s", agentName), sessionID)
			msg.Metadata = map[string]interface{}{
				"agent_name": agentName,
				"event_type": "agent_transfer",
			}
			return msg, true

		case part.FunctionCall != nil:
			msg := NewWireMessage(TypeToolCall, fmt.Sprintf("Using tool: %s", part.FunctionCall.Name), sessionID)
			msg.Metadata = map[string]interface{}{
				"tool_name":  part.FunctionCall.Name,
				"tool_args":  part.FunctionCall.Args,
				"event_type": "tool_call",
			}
			return msg, true

		case part.FunctionResponse != nil:
			preview := truncate(fmt.Sprintf("%v", part.FunctionResponse.Response), 200)
			msg := NewWireMessage(TypeToolResponse, fmt.Sprintf("Tool response: %s", preview), sessionID)
			msg.Metadata = map[string]interface{}{
				"tool_name":     part.FunctionResponse.Name,
				"tool_response": part.FunctionResponse.Response,
				"event_type":    "tool_response",
			}
			return msg, true

		case part.Text != "":
			content := part.Text
			if event.Author != "" && event.Author != "user" {
				content = fmt.Sprintf("%s: %s", event.Author, part.Text)
			}
			msg := NewWireMessage(TypeAgentResponse, content, sessionID)
			msg.Metadata = map[string]interface{}{
				"agent_name": event.Author,
				"event_type": "agent_response",
			}
			return msg, true
		}
	}

	return WireMessage{}, false
}

func isTransferText(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "transferring to") || strings.Contains(lower, "transfer to")
}

// transferTarget pulls the destination agent name out of transfer text,
// taking whatever follows the last colon. Falls back to the event author.
func transferTarget(text, author string) string {
	if idx := strings.LastIndex(text, ":"); idx >= 0 && idx < len(text)-1 {
		if name := strings.TrimSpace(text[idx+1:]); name != "" {
			return name
		}
	}
	if author != "" {
		return author
	}
	return "agent"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// TurnCollector accumulates the text of a full event sequence into the
// final response used by non-streaming callers. Tool invocations leave a
// marker in the transcript and drive the fallback wording.
type TurnCollector struct {
	buf       strings.Builder
	toolNames []string
}

// NewTurnCollector creates an empty collector for one turn.
func NewTurnCollector() *TurnCollector {
	return &TurnCollector{}
}

// Observe folds one event into the accumulated response.
func (c *TurnCollector) Observe(event *adksession.Event) {
	if event == nil || event.LLMResponse.Content == nil {
		return
	}

	for _, part := range event.LLMResponse.Content.Parts {
		if part.Text != "" {
			c.buf.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			c.toolNames = append(c.toolNames, part.FunctionCall.Name)
			c.buf.WriteString(fmt.Sprintf("\n[Used tool: %s]", part.FunctionCall.Name))
		}
	}
}

// ToolCalls reports how many tool invocations were observed.
func (c *TurnCollector) ToolCalls() int {
	return len(c.toolNames)
}

// Final returns the concatenated response, substituting a fallback when
// the runtime produced no text at all.
func (c *TurnCollector) Final() string {
	final := strings.TrimSpace(c.buf.String())
	if final != "" {
		return final
	}
	if len(c.toolNames) > 0 {
		return fmt.Sprintf("I used %d tool(s) to process your request: %s",
			len(c.toolNames), strings.Join(c.toolNames, ", "))
	}
	return "I processed your request. Please let me know if you need anything else."
}
