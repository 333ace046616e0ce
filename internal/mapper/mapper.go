// Package mapper transforms canonical chat requests into vendor wire bodies.
package mapper

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/apperror"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
)

// SystemPolicy controls how the canonical system prompt is injected.
type SystemPolicy int

const (
	// SystemOmit leaves injection to the adapter, which populates a separate
	// top-level field (Anthropic, Google, Bedrock).
	SystemOmit SystemPolicy = iota
	// SystemMessage prepends a leading system-role message.
	SystemMessage
	// SystemDeveloper prepends a leading developer-role message.
	SystemDeveloper
	// SystemWrapped prepends a system message whose content is a single-part
	// block array. Default policy.
	SystemWrapped
)

// ContentMode selects the vendor's message content representation.
type ContentMode int

const (
	// ContentText flattens multi-part content to a plain string.
	ContentText ContentMode = iota
	// ContentBlocks emits typed blocks with URL image sources (Anthropic).
	ContentBlocks
	// ContentInlineData emits parts with base64 inline data extracted from
	// data: URLs (Google).
	ContentInlineData
)

// Rules captures the per-vendor mapping policy.
type Rules struct {
	System           SystemPolicy
	Content          ContentMode
	SupportsToolRole bool
	HasImageChannel  bool
}

const defaultMaxTokens = 1024

// RulesFor returns the mapping policy for a provider key. Unknown providers
// get the default text-only policy.
func RulesFor(provider string) Rules {
	switch provider {
	case "anthropic":
		return Rules{System: SystemOmit, Content: ContentBlocks, SupportsToolRole: false, HasImageChannel: true}
	case "google-ai-studio":
		return Rules{System: SystemOmit, Content: ContentInlineData, SupportsToolRole: false, HasImageChannel: true}
	case "bedrock":
		return Rules{System: SystemOmit, Content: ContentText, SupportsToolRole: false}
	case "openai":
		return Rules{System: SystemDeveloper, Content: ContentText, SupportsToolRole: true, HasImageChannel: true}
	case "groq", "perplexity-ai", "openrouter", "mistral", "ollama", "workers-ai":
		return Rules{System: SystemMessage, Content: ContentText, SupportsToolRole: true}
	default:
		return Rules{System: SystemWrapped, Content: ContentText, SupportsToolRole: false}
	}
}

// Map produces the vendor-shaped request body for the given provider.
func Map(req *models.ChatRequest, provider string, cfg *models.ModelConfig) (any, error) {
	rules := RulesFor(provider)
	switch provider {
	case "anthropic":
		return anthropicBody(req, cfg, rules)
	case "google-ai-studio":
		return googleBody(req, cfg, rules)
	case "bedrock":
		return bedrockBody(req, cfg, rules)
	default:
		return openAIBody(req, cfg, rules)
	}
}

// ResolveMaxTokens returns the request's max_tokens clamped to the model's
// configured cap, never silently exceeding it.
func ResolveMaxTokens(req *models.ChatRequest, cfg *models.ModelConfig) int {
	cap := 0
	if cfg != nil {
		cap = cfg.MaxTokens
	}
	tokens := req.MaxTokens
	if tokens <= 0 {
		if cap > 0 {
			return cap
		}
		return defaultMaxTokens
	}
	if cap > 0 && tokens > cap {
		return cap
	}
	return tokens
}

// rewriteToolMessage turns a tool-role message into an assistant message for
// vendors without a tool role. Serialization failures of the tool payload are
// downgraded to an empty data suffix.
func rewriteToolMessage(msg models.Message) models.Message {
	text := fmt.Sprintf("[Tool Response: %s] %s", msg.Name, msg.Content.PlainText())
	if msg.ToolData != nil {
		if data, err := json.Marshal(msg.ToolData); err == nil {
			text += "\n\nData: " + string(data)
		}
	}
	return models.Message{Role: models.RoleAssistant, Content: models.TextContent(text)}
}

// prepareMessages applies the tool-role rewrite and system prompt policy.
func prepareMessages(req *models.ChatRequest, rules Rules) []models.Message {
	out := make([]models.Message, 0, len(req.Messages)+1)

	if req.SystemPrompt != "" {
		switch rules.System {
		case SystemOmit:
			// Adapter populates a top-level field instead.
		case SystemMessage:
			out = append(out, models.Message{Role: models.RoleSystem, Content: models.TextContent(req.SystemPrompt)})
		case SystemDeveloper:
			out = append(out, models.Message{Role: models.RoleDeveloper, Content: models.TextContent(req.SystemPrompt)})
		case SystemWrapped:
			out = append(out, models.Message{
				Role:    models.RoleSystem,
				Content: models.Content{Parts: []models.Part{{Type: models.PartText, Text: req.SystemPrompt}}},
			})
		}
	}

	for _, msg := range req.Messages {
		if msg.Role == models.RoleTool && !rules.SupportsToolRole {
			out = append(out, rewriteToolMessage(msg))
			continue
		}
		out = append(out, msg)
	}
	return out
}

// parseDataURL splits a data:<mime>;base64,<payload> URL.
func parseDataURL(url string) (mime, data string, ok bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mime, _ = strings.CutSuffix(meta, ";base64")
	return mime, payload, true
}

// openAIMessage is the chat message shape shared by OpenAI-compatible APIs.
type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
	Name    string `json:"name,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function models.ToolDef `json:"function"`
}

type openAIPayload struct {
	Model            string          `json:"model"`
	Messages         []openAIMessage `json:"messages"`
	MaxTokens        int             `json:"max_tokens,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	Seed             *int            `json:"seed,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	Tools            []openAITool    `json:"tools,omitempty"`
}

func openAIBody(req *models.ChatRequest, cfg *models.ModelConfig, rules Rules) (any, error) {
	prepared := prepareMessages(req, rules)
	messages := make([]openAIMessage, 0, len(prepared))
	for _, msg := range prepared {
		var content any
		if msg.Content.IsMultiPart() && rules.System == SystemWrapped && msg.Role == models.RoleSystem {
			content = wrappedBlocks(msg.Content.Parts)
		} else {
			content = msg.Content.PlainText()
		}
		messages = append(messages, openAIMessage{Role: msg.Role, Content: content, Name: msg.Name})
	}

	payload := openAIPayload{
		Model:            modelID(req, cfg),
		Messages:         messages,
		MaxTokens:        ResolveMaxTokens(req, cfg),
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		Seed:             req.Seed,
		FrequencyPenalty: req.FrequencyPenalty,
		PresencePenalty:  req.PresencePenalty,
		Stream:           req.Stream,
	}
	if len(req.Tools) > 0 && (cfg == nil || cfg.SupportsToolCalls) {
		for _, tool := range req.Tools {
			payload.Tools = append(payload.Tools, openAITool{Type: "function", Function: tool})
		}
	}
	return payload, nil
}

func wrappedBlocks(parts []models.Part) []map[string]any {
	blocks := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		if p.Type == models.PartText {
			blocks = append(blocks, map[string]any{"type": "text", "text": p.Text})
		}
	}
	return blocks
}

// anthropicBlock is one typed content element in an Anthropic message.
type anthropicBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type string `json:"type"`
	URL  string `json:"url,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicPayload struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	TopK        *int               `json:"top_k,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

func anthropicBody(req *models.ChatRequest, cfg *models.ModelConfig, rules Rules) (any, error) {
	prepared := prepareMessages(req, rules)
	messages := make([]anthropicMessage, 0, len(prepared))
	for _, msg := range prepared {
		blocks := anthropicBlocks(msg.Content)
		if len(blocks) == 0 {
			continue
		}
		role := msg.Role
		if role != models.RoleUser && role != models.RoleAssistant {
			role = models.RoleUser
		}
		messages = append(messages, anthropicMessage{Role: role, Content: blocks})
	}
	if len(messages) == 0 {
		return nil, apperror.New(apperror.CodeParams, "at least one message is required")
	}

	payload := anthropicPayload{
		Model:       modelID(req, cfg),
		Messages:    messages,
		System:      req.SystemPrompt,
		MaxTokens:   ResolveMaxTokens(req, cfg),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
		Stream:      req.Stream,
	}
	if len(req.Tools) > 0 && (cfg == nil || cfg.SupportsToolCalls) {
		for _, tool := range req.Tools {
			payload.Tools = append(payload.Tools, anthropicTool{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.Parameters,
			})
		}
	}
	return payload, nil
}

func anthropicBlocks(content models.Content) []anthropicBlock {
	if !content.IsMultiPart() {
		if content.Text == "" {
			return nil
		}
		return []anthropicBlock{{Type: "text", Text: content.Text}}
	}
	blocks := make([]anthropicBlock, 0, len(content.Parts))
	for _, part := range content.Parts {
		switch part.Type {
		case models.PartText:
			blocks = append(blocks, anthropicBlock{Type: "text", Text: part.Text})
		case models.PartImage:
			if part.URL != "" {
				blocks = append(blocks, anthropicBlock{Type: "image", Source: &anthropicSource{Type: "url", URL: part.URL}})
			}
		}
	}
	return blocks
}

// googlePart mirrors the Gemini parts schema.
type googlePart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *googleInlineData `json:"inlineData,omitempty"`
}

type googleInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type googleContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []googlePart `json:"parts"`
}

type googlePayload struct {
	Contents          []googleContent  `json:"contents"`
	SystemInstruction *googleContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  googleGenConfig  `json:"generationConfig"`
	Tools             []map[string]any `json:"tools,omitempty"`
}

type googleGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	Seed            *int     `json:"seed,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

func googleBody(req *models.ChatRequest, cfg *models.ModelConfig, rules Rules) (any, error) {
	prepared := prepareMessages(req, rules)
	contents := make([]googleContent, 0, len(prepared))
	for _, msg := range prepared {
		parts := googleParts(msg.Content)
		if len(parts) == 0 {
			continue
		}
		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "model"
		}
		contents = append(contents, googleContent{Role: role, Parts: parts})
	}
	if len(contents) == 0 {
		return nil, apperror.New(apperror.CodeParams, "at least one message is required")
	}

	payload := googlePayload{
		Contents: contents,
		GenerationConfig: googleGenConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			TopK:            req.TopK,
			Seed:            req.Seed,
			MaxOutputTokens: ResolveMaxTokens(req, cfg),
		},
	}
	if req.SystemPrompt != "" {
		payload.SystemInstruction = &googleContent{Parts: []googlePart{{Text: req.SystemPrompt}}}
	}
	if cfg != nil && cfg.SupportsSearchGrounding && len(req.EnabledTools) > 0 {
		for _, tool := range req.EnabledTools {
			if tool == "search_grounding" {
				payload.Tools = append(payload.Tools, map[string]any{"google_search": map[string]any{}})
			}
		}
	}
	if cfg != nil && cfg.SupportsCodeExecution {
		for _, tool := range req.EnabledTools {
			if tool == "code_execution" {
				payload.Tools = append(payload.Tools, map[string]any{"code_execution": map[string]any{}})
			}
		}
	}
	return payload, nil
}

func googleParts(content models.Content) []googlePart {
	if !content.IsMultiPart() {
		if content.Text == "" {
			return nil
		}
		return []googlePart{{Text: content.Text}}
	}
	parts := make([]googlePart, 0, len(content.Parts))
	for _, part := range content.Parts {
		switch part.Type {
		case models.PartText:
			parts = append(parts, googlePart{Text: part.Text})
		case models.PartImage, models.PartDocument:
			if mime, data, ok := parseDataURL(part.URL); ok {
				parts = append(parts, googlePart{InlineData: &googleInlineData{MimeType: mime, Data: data}})
			}
		}
	}
	return parts
}

// bedrockPayload follows the Converse API request shape.
type bedrockPayload struct {
	Messages        []bedrockMessage `json:"messages"`
	System          []bedrockText    `json:"system,omitempty"`
	InferenceConfig bedrockInference `json:"inferenceConfig"`
}

type bedrockMessage struct {
	Role    string        `json:"role"`
	Content []bedrockText `json:"content"`
}

type bedrockText struct {
	Text string `json:"text"`
}

type bedrockInference struct {
	MaxTokens   int      `json:"maxTokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"topP,omitempty"`
}

func bedrockBody(req *models.ChatRequest, cfg *models.ModelConfig, rules Rules) (any, error) {
	prepared := prepareMessages(req, rules)
	messages := make([]bedrockMessage, 0, len(prepared))
	for _, msg := range prepared {
		text := msg.Content.PlainText()
		if text == "" {
			continue
		}
		role := msg.Role
		if role != models.RoleUser && role != models.RoleAssistant {
			role = models.RoleUser
		}
		messages = append(messages, bedrockMessage{Role: role, Content: []bedrockText{{Text: text}}})
	}
	if len(messages) == 0 {
		return nil, apperror.New(apperror.CodeParams, "at least one message is required")
	}

	payload := bedrockPayload{
		Messages: messages,
		InferenceConfig: bedrockInference{
			MaxTokens:   ResolveMaxTokens(req, cfg),
			Temperature: req.Temperature,
			TopP:        req.TopP,
		},
	}
	if req.SystemPrompt != "" {
		payload.System = []bedrockText{{Text: req.SystemPrompt}}
	}
	return payload, nil
}

func modelID(req *models.ChatRequest, cfg *models.ModelConfig) string {
	if cfg != nil && cfg.Name != "" {
		return cfg.Name
	}
	return req.Model
}
