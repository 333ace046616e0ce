// Package normalize converts heterogeneous vendor payloads into the
// gateway's canonical response and stream-event shapes. Extraction functions
// degrade to empty values on unrecognized shapes instead of failing, so one
// vendor rollout cannot take the gateway down.
package normalize

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/apperror"
	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
)

// AssetStore persists binary artifacts (generated images) and returns a
// public URL.
type AssetStore interface {
	Upload(ctx context.Context, data []byte, key string) (string, error)
}

// Options carries model context for modality-aware normalization.
type Options struct {
	Model    string
	Modality string
}

// Normalizer converts non-streaming vendor envelopes.
type Normalizer struct {
	assets AssetStore
}

// New constructs a Normalizer. A nil asset store disables image persistence.
func New(assets AssetStore) *Normalizer {
	return &Normalizer{assets: assets}
}

// Response normalizes a vendor's non-streaming JSON envelope.
func (n *Normalizer) Response(ctx context.Context, payload map[string]any, provider string, opts Options) (*models.NormalizedResponse, error) {
	switch opts.Modality {
	case "video":
		// Video payloads are echoed raw; there is no textual reduction.
		return &models.NormalizedResponse{Raw: payload}, nil
	case "image":
		return n.imageResponse(ctx, payload, opts)
	}

	resp := &models.NormalizedResponse{
		Response: ExtractContent(payload, provider),
		Raw:      payload,
	}
	resp.ToolCalls = extractToolCalls(payload)
	if citations, ok := getSlice(payload, "citations"); ok {
		resp.Citations = citations
	}
	if usage := getMap(payload, "usage"); usage != nil {
		resp.Usage = usage
	} else if usage := getMap(payload, "usageMetadata"); usage != nil {
		resp.Usage = usage
	}
	return resp, nil
}

func (n *Normalizer) imageResponse(ctx context.Context, payload map[string]any, opts Options) (*models.NormalizedResponse, error) {
	data, ok := extractImageData(payload)
	if !ok {
		return nil, apperror.New(apperror.CodeExternalAPI, "image model returned no image data")
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeExternalAPI, "image model returned invalid image data", err)
	}
	if n.assets == nil {
		return nil, apperror.New(apperror.CodeConfiguration, "asset storage is not configured")
	}
	key := fmt.Sprintf("generations/%s/%s.png", opts.Model, uuid.NewString())
	url, err := n.assets.Upload(ctx, raw, key)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeExternalAPI, "persist generated image", err)
	}
	return &models.NormalizedResponse{
		Response: fmt.Sprintf("![Generated image](%s)", url),
		Raw:      payload,
	}, nil
}

// extractImageData probes the known envelope spots for base64 image bytes:
// the first element of an OpenAI data array, an images array, or a Gemini
// inlineData part.
func extractImageData(payload map[string]any) (string, bool) {
	if data, ok := getSlice(payload, "data"); ok {
		if item := firstMap(data); item != nil {
			if b64, ok := getString(item, "b64_json"); ok && b64 != "" {
				return b64, true
			}
		}
	}
	if images, ok := getSlice(payload, "images"); ok && len(images) > 0 {
		if s, ok := images[0].(string); ok && s != "" {
			return s, true
		}
	}
	if candidates, ok := getSlice(payload, "candidates"); ok {
		content := getMap(firstMap(candidates), "content")
		if parts, ok := getSlice(content, "parts"); ok {
			for _, raw := range parts {
				part, _ := raw.(map[string]any)
				inline := getMap(part, "inlineData")
				if b64, ok := getString(inline, "data"); ok && b64 != "" {
					return b64, true
				}
			}
		}
	}
	return "", false
}

// vendorExtractors maps provider keys to dedicated content extraction rules.
var vendorExtractors = map[string]func(map[string]any) (string, bool){
	"anthropic":        extractAnthropicContent,
	"google-ai-studio": extractGoogleContent,
	"workers-ai":       extractWorkersContent,
}

// ExtractContent reduces a vendor payload to its textual response. It never
// fails: unrecognized shapes yield an empty string.
func ExtractContent(payload map[string]any, provider string) string {
	if extract, ok := vendorExtractors[provider]; ok {
		if text, ok := extract(payload); ok {
			return text
		}
	}
	return genericContent(payload)
}

// genericContent is the fallback chain for unregistered vendors, tried in
// fixed priority order.
func genericContent(payload map[string]any) string {
	if payload == nil {
		return ""
	}

	// Already normalized upstream.
	if s, ok := getString(payload, "response"); ok {
		return s
	}

	if choices, ok := getSlice(payload, "choices"); ok {
		choice := firstMap(choices)
		if s, ok := getString(getMap(choice, "message"), "content"); ok {
			return s
		}
		if s, ok := getString(getMap(choice, "delta"), "content"); ok {
			return s
		}
		if s, ok := getString(choice, "text"); ok {
			return s
		}
	}

	if s, ok := getString(getMap(payload, "delta"), "text"); ok {
		return s
	}

	if s, ok := getString(payload, "content"); ok {
		return s
	}
	if blocks, ok := getSlice(payload, "content"); ok {
		if s, ok := joinTextBlocks(blocks); ok {
			return s
		}
	}

	if message := getMap(payload, "message"); message != nil {
		if s, ok := getString(message, "content"); ok {
			return s
		}
		if blocks, ok := getSlice(message, "content"); ok {
			if s, ok := joinTextBlocks(blocks); ok {
				return s
			}
		}
	}

	return ""
}

// extractAnthropicContent joins an array of content blocks with a space.
func extractAnthropicContent(payload map[string]any) (string, bool) {
	blocks, ok := getSlice(payload, "content")
	if !ok {
		return "", false
	}
	return joinTextBlocks(blocks)
}

// extractGoogleContent renders candidates[0].content.parts, including
// executable-code artifacts and code execution results.
func extractGoogleContent(payload map[string]any) (string, bool) {
	candidates, ok := getSlice(payload, "candidates")
	if !ok {
		return "", false
	}
	content := getMap(firstMap(candidates), "content")
	parts, ok := getSlice(content, "parts")
	if !ok {
		return "", false
	}
	return renderGoogleParts(parts), true
}

// renderGoogleParts concatenates parts in array order. Text parts are
// separated by a newline; executable code is rendered as a fenced artifact
// block tagged with its language; execution results are appended surrounded
// by blank lines.
func renderGoogleParts(parts []any) string {
	var b strings.Builder
	for _, raw := range parts {
		part, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if text, ok := getString(part, "text"); ok && text != "" {
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(text)
			continue
		}
		if code := getMap(part, "executableCode"); code != nil {
			language := strings.ToLower(firstNonEmpty(
				stringOr(code, "language"),
				"text",
			))
			snippet, _ := getString(code, "code")
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "<artifact language=%q>\n%s\n</artifact>", language, snippet)
			continue
		}
		if result := getMap(part, "codeExecutionResult"); result != nil {
			output, _ := getString(result, "output")
			b.WriteString("\n\n")
			b.WriteString(output)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

func extractWorkersContent(payload map[string]any) (string, bool) {
	result := getMap(payload, "result")
	if result == nil {
		return "", false
	}
	if s, ok := getString(result, "response"); ok {
		return s, true
	}
	return "", false
}

// extractToolCalls lifts completed tool calls from the envelope: OpenAI's
// choices[0].message.tool_calls or Anthropic's tool_use content blocks.
func extractToolCalls(payload map[string]any) []models.ToolCall {
	if choices, ok := getSlice(payload, "choices"); ok {
		message := getMap(firstMap(choices), "message")
		if rawCalls, ok := getSlice(message, "tool_calls"); ok {
			return decodeOpenAIToolCalls(rawCalls)
		}
	}
	if blocks, ok := getSlice(payload, "content"); ok {
		var calls []models.ToolCall
		for _, raw := range blocks {
			block, _ := raw.(map[string]any)
			if t, _ := getString(block, "type"); t != "tool_use" {
				continue
			}
			id, _ := getString(block, "id")
			name, _ := getString(block, "name")
			args := "{}"
			if input := getMap(block, "input"); input != nil {
				args = marshalJSON(input)
			}
			calls = append(calls, models.ToolCall{
				ID:       id,
				Type:     "function",
				Function: models.ToolCallFunction{Name: name, Arguments: args},
			})
		}
		return calls
	}
	return nil
}

func decodeOpenAIToolCalls(rawCalls []any) []models.ToolCall {
	var calls []models.ToolCall
	for i, raw := range rawCalls {
		call, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		id, _ := getString(call, "id")
		fn := getMap(call, "function")
		name, _ := getString(fn, "name")
		args, _ := getString(fn, "arguments")
		calls = append(calls, models.ToolCall{
			ID:       id,
			Type:     "function",
			Index:    i,
			Function: models.ToolCallFunction{Name: name, Arguments: args},
		})
	}
	return calls
}

func stringOr(m map[string]any, key string) string {
	s, _ := getString(m, key)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
