package normalize

import (
	"strings"

	"github.com/nicholasgriffintn/ai-platform-sub010/internal/models"
)

// ToolCallAccumulator reassembles streamed tool calls for callers that do not
// want to concatenate partial-JSON fragments themselves. Feed it every
// normalized event; Finalize returns the completed calls.
type ToolCallAccumulator struct {
	order []int
	calls map[int]*pendingCall
	whole []models.ToolCall
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// NewToolCallAccumulator constructs an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{calls: make(map[int]*pendingCall)}
}

// Feed observes one stream event. Non-tool-call events are ignored.
func (a *ToolCallAccumulator) Feed(ev *models.StreamEvent) {
	if ev == nil {
		return
	}
	switch ev.Type {
	case models.EventToolCallStart:
		start := ev.ToolCallStart
		if _, exists := a.calls[start.Index]; !exists {
			a.order = append(a.order, start.Index)
		}
		a.calls[start.Index] = &pendingCall{id: start.ID, name: start.Name}
	case models.EventToolCallDelta:
		delta := ev.ToolCallDelta
		call, exists := a.calls[delta.Index]
		if !exists {
			call = &pendingCall{}
			a.calls[delta.Index] = call
			a.order = append(a.order, delta.Index)
		}
		call.args.WriteString(delta.PartialJSON)
	case models.EventToolCalls:
		a.whole = append(a.whole, decodeWholeToolCalls(ev.ToolCalls)...)
	}
}

// Finalize returns the reassembled calls, whole passthrough calls first, and
// resets the accumulator.
func (a *ToolCallAccumulator) Finalize() []models.ToolCall {
	out := append([]models.ToolCall(nil), a.whole...)
	for _, index := range a.order {
		call := a.calls[index]
		args := call.args.String()
		if args == "" {
			args = "{}"
		}
		out = append(out, models.ToolCall{
			ID:       call.id,
			Type:     "function",
			Index:    index,
			Function: models.ToolCallFunction{Name: call.name, Arguments: args},
		})
	}
	a.order = nil
	a.calls = make(map[int]*pendingCall)
	a.whole = nil
	return out
}

func decodeWholeToolCalls(raw []any) []models.ToolCall {
	var calls []models.ToolCall
	for i, item := range raw {
		call, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fn := getMap(call, "function")
		index := i
		if f, ok := call["index"].(float64); ok {
			index = int(f)
		} else if n, ok := call["index"].(int); ok {
			index = n
		}
		calls = append(calls, models.ToolCall{
			ID:    stringOr(call, "id"),
			Type:  "function",
			Index: index,
			Function: models.ToolCallFunction{
				Name:      stringOr(fn, "name"),
				Arguments: stringOr(fn, "arguments"),
			},
		})
	}
	return calls
}
