package models

import (
	"encoding/json"
	"strings"
)

// Role values used across the canonical schema.
const (
	RoleSystem    = "system"
	RoleDeveloper = "developer"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// PartType identifies one element of a multi-part message content array.
type PartType string

const (
	PartText     PartType = "text"
	PartImage    PartType = "image"
	PartDocument PartType = "document"
)

// Part is a single content element. Image and document parts carry a URL,
// which may be a data: URL with an inline base64 payload.
type Part struct {
	Type PartType `json:"type"`
	Text string   `json:"text,omitempty"`
	URL  string   `json:"url,omitempty"`
}

// Content is either a plain string or an ordered list of parts. Parts wins
// when non-nil.
type Content struct {
	Text  string
	Parts []Part
}

// IsMultiPart reports whether the content carries a parts array.
func (c Content) IsMultiPart() bool { return c.Parts != nil }

// PlainText flattens the content to text. Multi-part content with exactly one
// text part collapses to that part unchanged; otherwise text parts are joined
// with a single newline and non-text parts are dropped.
func (c Content) PlainText() string {
	if !c.IsMultiPart() {
		return c.Text
	}
	var texts []string
	for _, p := range c.Parts {
		if p.Type == PartText {
			texts = append(texts, p.Text)
		}
	}
	if len(texts) == 1 {
		return texts[0]
	}
	return strings.Join(texts, "\n")
}

// HasImage reports whether any part is an image attachment.
func (c Content) HasImage() bool {
	for _, p := range c.Parts {
		if p.Type == PartImage {
			return true
		}
	}
	return false
}

// UnmarshalJSON accepts both the string form and the parts-array form.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Parts = nil
		return nil
	}
	var parts []Part
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	c.Parts = parts
	return nil
}

// MarshalJSON emits the string form when the content has no parts array.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsMultiPart() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// TextContent is a convenience constructor for plain-text content.
func TextContent(s string) Content { return Content{Text: s} }

// Message is a single conversational turn in the canonical schema. Tool-role
// messages carry the tool name and an optional structured payload.
type Message struct {
	Role     string  `json:"role"`
	Content  Content `json:"content"`
	Name     string  `json:"name,omitempty"`
	ToolData any     `json:"data,omitempty"`
}

// ToolDef describes a tool exposed to the model.
type ToolDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

// ToolCall is a model-issued tool invocation in OpenAI wire shape.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type,omitempty"`
	Index    int              `json:"index,omitempty"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the invoked function name and JSON argument text.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// PlanPro marks a paid plan in User.PlanID.
const PlanPro = "pro"

// User identifies an authenticated caller.
type User struct {
	ID     string `json:"id"`
	Email  string `json:"email,omitempty"`
	PlanID string `json:"plan_id,omitempty"`
}

// IsPro reports whether the user is on a paid plan.
func (u *User) IsPro() bool { return u != nil && u.PlanID == PlanPro }

// ChatRequest is the canonical chat completion request. It is owned by the
// caller and treated as immutable once handed to an adapter.
type ChatRequest struct {
	Model             string    `json:"model"`
	Messages          []Message `json:"messages"`
	Temperature       *float64  `json:"temperature,omitempty"`
	TopP              *float64  `json:"top_p,omitempty"`
	TopK              *int      `json:"top_k,omitempty"`
	Seed              *int      `json:"seed,omitempty"`
	RepetitionPenalty *float64  `json:"repetition_penalty,omitempty"`
	FrequencyPenalty  *float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty   *float64  `json:"presence_penalty,omitempty"`
	MaxTokens         int       `json:"max_tokens,omitempty"`
	Stream            bool      `json:"stream,omitempty"`
	Tools             []ToolDef `json:"tools,omitempty"`
	EnabledTools      []string  `json:"enabled_tools,omitempty"`
	SystemPrompt      string    `json:"system_prompt,omitempty"`

	// Caller identity. User is nil for anonymous callers, which are tracked
	// by AnonymousID instead.
	User        *User  `json:"user,omitempty"`
	AnonymousID string `json:"anonymous_id,omitempty"`

	// ProviderKey selects the provider adapter.
	ProviderKey string `json:"provider_key,omitempty"`

	// Env is an opaque handle to platform bindings (managed gateway, asset
	// storage). Interpreted by the adapter layer, never by the mapper.
	Env any `json:"-"`
}

// HasImageAttachment reports whether any message carries an image part.
func (r *ChatRequest) HasImageAttachment() bool {
	for _, m := range r.Messages {
		if m.Content.HasImage() {
			return true
		}
	}
	return false
}

// ModelConfig is read-only reference data for a model, looked up by id. A nil
// config means the model is unknown and safe defaults apply.
type ModelConfig struct {
	ID                      string   `yaml:"id" json:"id"`
	Provider                string   `yaml:"provider" json:"provider"`
	Name                    string   `yaml:"name,omitempty" json:"name,omitempty"`
	IsFree                  bool     `yaml:"is_free" json:"isFree"`
	CostPer1kInputTokens    float64  `yaml:"cost_per_1k_input_tokens" json:"costPer1kInputTokens"`
	CostPer1kOutputTokens   float64  `yaml:"cost_per_1k_output_tokens" json:"costPer1kOutputTokens"`
	SupportsToolCalls       bool     `yaml:"supports_tool_calls" json:"supportsToolCalls"`
	SupportsSearchGrounding bool     `yaml:"supports_search_grounding" json:"supportsSearchGrounding"`
	SupportsCodeExecution   bool     `yaml:"supports_code_execution" json:"supportsCodeExecution"`
	Type                    []string `yaml:"type,omitempty" json:"type,omitempty"`
	MaxTokens               int      `yaml:"max_tokens,omitempty" json:"maxTokens,omitempty"`
}

// ModalityType returns the primary modality ("text" when unset).
func (m *ModelConfig) ModalityType() string {
	if m == nil || len(m.Type) == 0 {
		return "text"
	}
	return m.Type[0]
}

// NormalizedResponse is the canonical non-streaming result.
type NormalizedResponse struct {
	Response    string         `json:"response"`
	ToolCalls   []ToolCall     `json:"toolCalls,omitempty"`
	Citations   []any          `json:"citations,omitempty"`
	Usage       map[string]any `json:"usage,omitempty"`
	EventID     string         `json:"eventId,omitempty"`
	LogID       string         `json:"log_id,omitempty"`
	CacheStatus string         `json:"cacheStatus,omitempty"`

	// Raw preserves the vendor's envelope fields for passthrough.
	Raw map[string]any `json:"-"`
}

// StreamEventType tags one canonical stream event variant.
type StreamEventType string

const (
	EventContentDelta    StreamEventType = "content_delta"
	EventThinkingDelta   StreamEventType = "thinking_delta"
	EventSignatureDelta  StreamEventType = "signature_delta"
	EventToolCallStart   StreamEventType = "tool_call_start"
	EventToolCallDelta   StreamEventType = "tool_call_delta"
	EventToolCalls       StreamEventType = "tool_calls"
	EventRefusal         StreamEventType = "refusal"
	EventAnnotations     StreamEventType = "annotations"
	EventCitations       StreamEventType = "citations"
	EventUsage           StreamEventType = "usage"
	EventCompletion      StreamEventType = "completion"
	EventWebSearchResult StreamEventType = "web_search_result"
)

// ToolCallStart announces a new streamed tool call.
type ToolCallStart struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Index int    `json:"index"`
}

// ToolCallDelta carries one incremental arguments-JSON fragment. Fragments
// sharing an index belong to the same call and are concatenated by the
// consumer.
type ToolCallDelta struct {
	Index       int    `json:"index"`
	PartialJSON string `json:"partial_json"`
}

// WebSearchResult is a tool-result event surfaced during streaming.
type WebSearchResult struct {
	Title   string `json:"title,omitempty"`
	URL     string `json:"url,omitempty"`
	Content string `json:"content,omitempty"`
}

// StreamEvent is the canonical per-chunk stream value. Only the fields
// relevant to Type are populated.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	Text          string           `json:"text,omitempty"`
	Signature     string           `json:"signature,omitempty"`
	ToolCallStart *ToolCallStart   `json:"tool_call_start,omitempty"`
	ToolCallDelta *ToolCallDelta   `json:"tool_call_delta,omitempty"`
	ToolCalls     []any            `json:"tool_calls,omitempty"`
	Citations     []any            `json:"citations,omitempty"`
	Annotations   any              `json:"annotations,omitempty"`
	Usage         map[string]any   `json:"usage,omitempty"`
	Done          bool             `json:"done,omitempty"`
	WebSearch     *WebSearchResult `json:"web_search,omitempty"`

	// Data carries structured passthrough payloads such as restructured
	// search-grounding metadata.
	Data map[string]any `json:"data,omitempty"`
}
