package normalize

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
)

// SSE event names some vendors send out of band to disambiguate chunk JSON.
const (
	EventTypeContentBlockDelta   = "content_block_delta"
	EventTypeContentBlockStart   = "content_block_start"
	EventTypeWebSearchToolResult = "web_search_tool_result"
)

// Chunk normalizes one raw streaming chunk. It returns nil when the chunk
// carries nothing the gateway recognizes; it never fails.
func Chunk(raw []byte, eventType string) *models.StreamEvent {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}
	return ChunkMap(payload, eventType)
}

// ChunkMap normalizes an already-decoded streaming chunk. Matching runs in
// fixed priority: content, thinking/signature, tool calls, completion, usage,
// citations/grounding, refusal and tool results. The function is stateless;
// callers accumulate related fragments across chunks.
func ChunkMap(payload map[string]any, eventType string) *models.StreamEvent {
	if payload == nil {
		return nil
	}

	if ev := contentEvent(payload, eventType); ev != nil {
		return ev
	}
	if ev := thinkingEvent(payload, eventType); ev != nil {
		return ev
	}
	if ev := toolCallEvent(payload, eventType); ev != nil {
		return ev
	}
	if ev := completionEvent(payload); ev != nil {
		return ev
	}
	if ev := usageEvent(payload); ev != nil {
		return ev
	}
	if ev := citationsEvent(payload); ev != nil {
		return ev
	}
	if ev := refusalEvent(payload, eventType); ev != nil {
		return ev
	}
	return nil
}

func contentEvent(payload map[string]any, eventType string) *models.StreamEvent {
	delta := func(text string) *models.StreamEvent {
		return &models.StreamEvent{Type: models.EventContentDelta, Text: text}
	}

	if choices, ok := getSlice(payload, "choices"); ok {
		choice := firstMap(choices)
		if s, ok := getString(getMap(choice, "delta"), "content"); ok && s != "" {
			return delta(s)
		}
		if s, ok := getString(getMap(choice, "message"), "content"); ok && s != "" {
			return delta(s)
		}
	}

	if candidates, ok := getSlice(payload, "candidates"); ok {
		content := getMap(firstMap(candidates), "content")
		if parts, ok := getSlice(content, "parts"); ok {
			if text := renderGoogleParts(parts); text != "" {
				return delta(text)
			}
		}
	}

	if d := getMap(payload, "delta"); d != nil {
		if t, _ := getString(d, "type"); t == "text_delta" {
			if eventType == "" || eventType == EventTypeContentBlockDelta {
				if s, ok := getString(d, "text"); ok {
					return delta(s)
				}
			}
		}
	}

	if blocks, ok := getSlice(payload, "content"); ok {
		if s, ok := joinTextBlocks(blocks); ok && s != "" {
			return delta(s)
		}
	}
	if s, ok := getString(payload, "content"); ok && s != "" {
		return delta(s)
	}
	if s, ok := getString(payload, "response"); ok && s != "" {
		return delta(s)
	}
	if s, ok := getString(getMap(payload, "message"), "content"); ok && s != "" {
		return delta(s)
	}
	if s, ok := getString(payload, "text"); ok && s != "" {
		return delta(s)
	}
	return nil
}

func thinkingEvent(payload map[string]any, eventType string) *models.StreamEvent {
	if eventType != EventTypeContentBlockDelta {
		return nil
	}
	delta := getMap(payload, "delta")
	if delta == nil {
		return nil
	}
	switch stringOr(delta, "type") {
	case "thinking_delta":
		text, _ := getString(delta, "thinking")
		return &models.StreamEvent{Type: models.EventThinkingDelta, Text: text}
	case "signature_delta":
		signature, _ := getString(delta, "signature")
		return &models.StreamEvent{Type: models.EventSignatureDelta, Signature: signature}
	}
	return nil
}

func toolCallEvent(payload map[string]any, eventType string) *models.StreamEvent {
	if choices, ok := getSlice(payload, "choices"); ok {
		delta := getMap(firstMap(choices), "delta")
		if calls, ok := getSlice(delta, "tool_calls"); ok {
			return &models.StreamEvent{Type: models.EventToolCalls, ToolCalls: calls}
		}
	}

	if candidates, ok := getSlice(payload, "candidates"); ok {
		content := getMap(firstMap(candidates), "content")
		if parts, ok := getSlice(content, "parts"); ok {
			if calls := synthesizeFunctionCalls(parts); len(calls) > 0 {
				return &models.StreamEvent{Type: models.EventToolCalls, ToolCalls: calls}
			}
		}
	}

	if eventType == EventTypeContentBlockStart {
		block := getMap(payload, "content_block")
		if stringOr(block, "type") == "tool_use" {
			index := 0
			if f, ok := payload["index"].(float64); ok {
				index = int(f)
			}
			return &models.StreamEvent{
				Type: models.EventToolCallStart,
				ToolCallStart: &models.ToolCallStart{
					ID:    stringOr(block, "id"),
					Name:  stringOr(block, "name"),
					Index: index,
				},
			}
		}
	}

	if eventType == EventTypeContentBlockDelta {
		delta := getMap(payload, "delta")
		if stringOr(delta, "type") == "input_json_delta" {
			index := 0
			if f, ok := payload["index"].(float64); ok {
				index = int(f)
			}
			partial, _ := getString(delta, "partial_json")
			return &models.StreamEvent{
				Type:          models.EventToolCallDelta,
				ToolCallDelta: &models.ToolCallDelta{Index: index, PartialJSON: partial},
			}
		}
	}

	if calls, ok := getSlice(payload, "tool_calls"); ok {
		return &models.StreamEvent{Type: models.EventToolCalls, ToolCalls: calls}
	}
	return nil
}

// synthesizeFunctionCalls turns Gemini functionCall parts into OpenAI-shaped
// tool calls with generated ids and stringified arguments.
func synthesizeFunctionCalls(parts []any) []any {
	var calls []any
	for i, raw := range parts {
		part, _ := raw.(map[string]any)
		call := getMap(part, "functionCall")
		if call == nil {
			continue
		}
		args := "{}"
		if rawArgs, ok := call["args"]; ok && rawArgs != nil {
			args = marshalJSON(rawArgs)
		}
		calls = append(calls, map[string]any{
			"id":    "call_" + uuid.NewString(),
			"type":  "function",
			"index": i,
			"function": map[string]any{
				"name":      stringOr(call, "name"),
				"arguments": args,
			},
		})
	}
	return calls
}

// completionEvent normalizes finish reasons across snake_case and camelCase
// names, at the choice and top level. Done is true for stop/length reasons
// regardless of case.
func completionEvent(payload map[string]any) *models.StreamEvent {
	reason, ok := finishReason(payload)
	if !ok {
		if choices, sliceOK := getSlice(payload, "choices"); sliceOK {
			reason, ok = finishReason(firstMap(choices))
		}
	}
	if !ok {
		if candidates, sliceOK := getSlice(payload, "candidates"); sliceOK {
			reason, ok = finishReason(firstMap(candidates))
		}
	}
	if !ok {
		return nil
	}
	done := false
	switch strings.ToLower(reason) {
	case "stop", "length":
		done = true
	}
	return &models.StreamEvent{Type: models.EventCompletion, Done: done}
}

func finishReason(m map[string]any) (string, bool) {
	if s, ok := getString(m, "finish_reason"); ok && s != "" {
		return s, true
	}
	if s, ok := getString(m, "finishReason"); ok && s != "" {
		return s, true
	}
	return "", false
}

func usageEvent(payload map[string]any) *models.StreamEvent {
	if usage := getMap(payload, "usage"); usage != nil {
		return &models.StreamEvent{Type: models.EventUsage, Usage: usage}
	}
	if usage := getMap(payload, "usageMetadata"); usage != nil {
		return &models.StreamEvent{Type: models.EventUsage, Usage: usage}
	}
	return nil
}

func citationsEvent(payload map[string]any) *models.StreamEvent {
	if citations, ok := getSlice(payload, "citations"); ok {
		return &models.StreamEvent{Type: models.EventCitations, Citations: citations}
	}

	grounding := getMap(payload, "groundingMetadata")
	if grounding == nil {
		if candidates, ok := getSlice(payload, "candidates"); ok {
			grounding = getMap(firstMap(candidates), "groundingMetadata")
		}
	}
	if grounding != nil {
		return &models.StreamEvent{
			Type: models.EventAnnotations,
			Data: map[string]any{"searchGrounding": restructureGrounding(grounding)},
		}
	}
	return nil
}

// restructureGrounding reshapes Google search-grounding metadata. The entry
// point's renderedContent is dropped to keep payloads small.
func restructureGrounding(grounding map[string]any) map[string]any {
	chunks, _ := getSlice(grounding, "groundingChunks")

	entryPoint := map[string]any{}
	if raw := getMap(grounding, "searchEntryPoint"); raw != nil {
		for key, value := range raw {
			if key == "renderedContent" {
				continue
			}
			entryPoint[key] = value
		}
	}

	supports := map[string]any{}
	if raw := getMap(grounding, "groundingSupports"); raw != nil {
		supports = raw
	}

	return map[string]any{
		"groundingChunks":   chunks,
		"searchEntryPoint":  entryPoint,
		"groundingSupports": supports,
	}
}

func refusalEvent(payload map[string]any, eventType string) *models.StreamEvent {
	if choices, ok := getSlice(payload, "choices"); ok {
		delta := getMap(firstMap(choices), "delta")
		if s, ok := getString(delta, "refusal"); ok && s != "" {
			return &models.StreamEvent{Type: models.EventRefusal, Text: s}
		}
	}
	if s, ok := getString(payload, "refusal"); ok && s != "" {
		return &models.StreamEvent{Type: models.EventRefusal, Text: s}
	}
	if d := getMap(payload, "delta"); d != nil {
		if s, ok := getString(d, "refusal"); ok && s != "" {
			return &models.StreamEvent{Type: models.EventRefusal, Text: s}
		}
	}

	if eventType == EventTypeWebSearchToolResult {
		meta := getMap(payload, "metadata")
		result := &models.WebSearchResult{
			Title:   firstNonEmpty(stringOr(payload, "title"), stringOr(meta, "title")),
			URL:     firstNonEmpty(stringOr(payload, "url"), stringOr(meta, "url")),
			Content: firstNonEmpty(stringOr(payload, "content"), stringOr(meta, "content")),
		}
		return &models.StreamEvent{Type: models.EventWebSearchResult, WebSearch: result}
	}
	return nil
}
