package gateway

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/adk/model"
	adksession "google.golang.org/adk/session"
	"google.golang.org/genai"
)

func textEvent(author, text string) *adksession.Event {
	return &adksession.Event{
		Author: author,
		LLMResponse: model.LLMResponse{
			Content: &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: text}},
			},
		},
	}
}

func TestTranslator_NilAndEmptyEvents(t *testing.T) {
	tr := NewTranslator()

	_, ok := tr.Translate(nil, "s1")
	assert.False(t, ok, "nil event should produce nothing")

	_, ok = tr.Translate(&adksession.Event{}, "s1")
	assert.False(t, ok, "event without content should produce nothing")

	_, ok = tr.Translate(&adksession.Event{
		LLMResponse: model.LLMResponse{Content: &genai.Content{}},
	}, "s1")
	assert.False(t, ok, "event with no parts should produce nothing")
}

func TestTranslator_AgentResponse(t *testing.T) {
	tr := NewTranslator()

	msg, ok := tr.Translate(textEvent("research_agent", "Found 3 CVEs"), "s1")
	require.True(t, ok)
	assert.Equal(t, TypeAgentResponse, msg.Type)
	assert.Equal(t, "research_agent: Found 3 CVEs", msg.Content)
	assert.Equal(t, "s1", msg.SessionID)
	assert.Equal(t, "research_agent", msg.Metadata["agent_name"])
	assert.NotZero(t, msg.Timestamp)
}

func TestTranslator_UserAuthorNotPrefixed(t *testing.T) {
	tr := NewTranslator()

	msg, ok := tr.Translate(textEvent("user", "hello"), "s1")
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Content)

	msg, ok = tr.Translate(textEvent("", "hello"), "s1")
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Content)
}

func TestTranslator_AgentTransfer(t *testing.T) {
	tr := NewTranslator()

	tests := []struct {
		name string
		text string
		want string
	}{
		{"colon form", "Transferring to specialist: deploy_agent", "deploy_agent"},
		{"last colon wins", "note: transferring to: ops_agent", "ops_agent"},
		{"case insensitive", "TRANSFER TO the billing team: billing_agent", "billing_agent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := tr.Translate(textEvent("router", tt.text), "s1")
			require.True(t, ok)
			assert.Equal(t, TypeAgentTransfer, msg.Type)
			assert.Equal(t, "Transferring to "+tt.want, msg.Content)
			assert.Equal(t, tt.want, msg.Metadata["agent_name"])
		})
	}
}

func TestTranslator_TransferFallsBackToAuthor(t *testing.T) {
	tr := NewTranslator()

	msg, ok := tr.Translate(textEvent("router", "transferring to another agent"), "s1")
	require.True(t, ok)
	assert.Equal(t, TypeAgentTransfer, msg.Type)
	assert.Equal(t, "router", msg.Metadata["agent_name"])
}

func TestTranslator_ToolCall(t *testing.T) {
	tr := NewTranslator()

	event := &adksession.Event{
		Author: "orchestrator",
		LLMResponse: model.LLMResponse{
			Content: &genai.Content{
				Parts: []*genai.Part{{
					FunctionCall: &genai.FunctionCall{
						Name: "search",
						Args: map[string]any{"q": "k8s cve"},
					},
				}},
			},
		},
	}

	msg, ok := tr.Translate(event, "s1")
	require.True(t, ok)
	assert.Equal(t, TypeToolCall, msg.Type)
	assert.Equal(t, "Using tool: search", msg.Content)
	assert.Equal(t, "search", msg.Metadata["tool_name"])
	assert.Equal(t, map[string]any{"q": "k8s cve"}, msg.Metadata["tool_args"])
}

func TestTranslator_ToolResponseTruncated(t *testing.T) {
	tr := NewTranslator()

	long := strings.Repeat("x", 500)
	event := &adksession.Event{
		LLMResponse: model.LLMResponse{
			Content: &genai.Content{
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Name:     "search",
						Response: map[string]any{"result": long},
					},
				}},
			},
		},
	}

	msg, ok := tr.Translate(event, "s1")
	require.True(t, ok)
	assert.Equal(t, TypeToolResponse, msg.Type)
	assert.True(t, strings.HasPrefix(msg.Content, "Tool response: "))
	preview := strings.TrimPrefix(msg.Content, "Tool response: ")
	assert.Len(t, preview, 203, "200 chars plus ellipsis")
	assert.True(t, strings.HasSuffix(preview, "..."))
	assert.Equal(t, "search", msg.Metadata["tool_name"])
}

func TestTranslator_AudioTakesPrecedence(t *testing.T) {
	tr := NewTranslator()

	raw := []byte{0x01, 0x02, 0x03, 0x04}
	event := &adksession.Event{
		Author: "voice_agent",
		LLMResponse: model.LLMResponse{
			Content: &genai.Content{
				Parts: []*genai.Part{
					{Text: "transferring to: other_agent"},
					{InlineData: &genai.Blob{MIMEType: "audio/pcm", Data: raw}},
				},
			},
		},
	}

	msg, ok := tr.Translate(event, "s1")
	require.True(t, ok)
	assert.Equal(t, TypeAudio, msg.Type)
	assert.Equal(t, "audio/pcm", msg.MimeType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(raw), msg.Data)
	assert.Equal(t, "Audio response: 4 bytes", msg.Content)
	assert.Equal(t, 4, msg.Metadata["audio_size"])
}

func TestTranslator_NonAudioInlineDataIgnored(t *testing.T) {
	tr := NewTranslator()

	event := &adksession.Event{
		LLMResponse: model.LLMResponse{
			Content: &genai.Content{
				Parts: []*genai.Part{
					{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{0xFF}}},
				},
			},
		},
	}

	_, ok := tr.Translate(event, "s1")
	assert.False(t, ok)
}

func TestTranslator_TransferBeatsToolCall(t *testing.T) {
	tr := NewTranslator()

	event := &adksession.Event{
		Author: "router",
		LLMResponse: model.LLMResponse{
			Content: &genai.Content{
				Parts: []*genai.Part{
					{Text: "Transferring to: ops_agent"},
					{FunctionCall: &genai.FunctionCall{Name: "search"}},
				},
			},
		},
	}

	msg, ok := tr.Translate(event, "s1")
	require.True(t, ok)
	assert.Equal(t, TypeAgentTransfer, msg.Type)
}

func TestTurnCollector_TextAndTools(t *testing.T) {
	c := NewTurnCollector()

	c.Observe(textEvent("agent", "Looking into it. "))
	c.Observe(&adksession.Event{
		LLMResponse: model.LLMResponse{
			Content: &genai.Content{
				Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{Name: "search"}}},
			},
		},
	})
	c.Observe(textEvent("agent", "Done."))

	assert.Equal(t, 1, c.ToolCalls())
	final := c.Final()
	assert.Contains(t, final, "Looking into it.")
	assert.Contains(t, final, "[Used tool: search]")
	assert.Contains(t, final, "Done.")
}

func TestTurnCollector_ToolOnlyFallback(t *testing.T) {
	c := NewTurnCollector()

	for _, name := range []string{"search", "deploy"} {
		c.Observe(&adksession.Event{
			LLMResponse: model.LLMResponse{
				Content: &genai.Content{
					Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{Name: name}}},
				},
			},
		})
	}

	assert.Equal(t, 2, c.ToolCalls())
	final := c.Final()
	assert.Equal(t, "[Used tool: search]\n[Used tool: deploy]", final)
}

func TestTurnCollector_EmptyFallback(t *testing.T) {
	c := NewTurnCollector()
	assert.Equal(t, "I processed your request. Please let me know if you need anything else.", c.Final())
}
