// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package translator

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/archgw/archgw/internal/apischema/anthropic"
	"github.com/archgw/archgw/internal/json"
	"github.com/archgw/archgw/internal/sse"
)

// AnthropicStreamBuffer enforces the Messages API envelope
//
//	message_start (content_block_start content_block_delta* content_block_stop)+ message_delta message_stop
//
// over whatever event sequence the upstream transform produced. Missing
// lifecycle events are synthesized; duplicate message_delta events (the
// Bedrock stop/usage split) are merged; message_stop is emitted exactly once.
type AnthropicStreamBuffer struct {
	started bool
	stopped bool
	// needsStop is set while a content block is open without an explicit
	// content_block_stop.
	needsStop bool
	// blockStarted tracks which block indices have seen content_block_start.
	blockStarted map[int64]bool
	// pendingDelta holds the message_delta until message_stop or
	// end-of-stream so a late usage-only delta can be merged into it.
	pendingDelta *anthropic.MessageDeltaEvent
	model        string
}

// NewAnthropicStreamBuffer builds an empty buffer for one response stream.
func NewAnthropicStreamBuffer() *AnthropicStreamBuffer {
	return &AnthropicStreamBuffer{blockStarted: map[int64]bool{}}
}

func (b *AnthropicStreamBuffer) Push(ev sse.Event) ([]byte, error) {
	if b.stopped {
		return nil, nil
	}
	typ := ev.Name
	if typ == "" {
		typ = gjson.GetBytes(ev.Data, "type").String()
	}

	switch typ {
	case anthropic.StreamEventPing:
		return nil, nil

	case anthropic.StreamEventMessageStart:
		if b.started {
			return nil, nil
		}
		b.started = true
		if m := gjson.GetBytes(ev.Data, "message.model"); m.Exists() {
			b.model = m.String()
		}
		return wireEvent(typ, ev.Data), nil

	case anthropic.StreamEventContentBlockStart:
		out := b.ensureStarted(nil)
		b.needsStop = true
		b.blockStarted[gjson.GetBytes(ev.Data, "index").Int()] = true
		return append(out, wireEvent(typ, ev.Data)...), nil

	case anthropic.StreamEventContentBlockDelta:
		out := b.ensureStarted(nil)
		idx := gjson.GetBytes(ev.Data, "index").Int()
		if !b.blockStarted[idx] {
			// A delta without its start: open a text block at index 0.
			b.blockStarted[idx] = true
			start := anthropicEvent(anthropic.StreamEventContentBlockStart, map[string]any{
				"type":          anthropic.StreamEventContentBlockStart,
				"index":         int64(0),
				"content_block": map[string]any{"type": "text", "text": ""},
			})
			out = append(out, wireEvent(start.Name, start.Data)...)
		}
		b.needsStop = true
		return append(out, wireEvent(typ, ev.Data)...), nil

	case anthropic.StreamEventContentBlockStop:
		b.needsStop = false
		return wireEvent(typ, ev.Data), nil

	case anthropic.StreamEventMessageDelta:
		var delta anthropic.MessageDeltaEvent
		if err := json.Unmarshal(ev.Data, &delta); err != nil {
			return nil, fmt.Errorf("malformed message_delta: %w", err)
		}
		if b.pendingDelta == nil {
			b.pendingDelta = &delta
			return b.closeOpenBlock(), nil
		}
		// Bedrock pattern: first delta carries stop_reason with zero usage,
		// a second one carries usage. Keep the first, take the new usage.
		if delta.Usage.InputTokens != 0 || delta.Usage.OutputTokens != 0 {
			b.pendingDelta.Usage = delta.Usage
		}
		return nil, nil

	case anthropic.StreamEventMessageStop:
		return b.flushStop()

	default:
		// Unknown event types are dropped; the chunk processor already
		// counted them.
		return nil, nil
	}
}

// Close flushes the terminal events for streams that ended without an
// explicit message_stop. A stream that never reached message_delta stays a
// strict prefix of the envelope.
func (b *AnthropicStreamBuffer) Close() ([]byte, error) {
	if b.stopped || b.pendingDelta == nil {
		return nil, nil
	}
	return b.flushStop()
}

func (b *AnthropicStreamBuffer) flushStop() ([]byte, error) {
	var out []byte
	out = append(out, b.closeOpenBlock()...)
	if b.pendingDelta != nil {
		data, err := json.Marshal(b.pendingDelta)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message_delta: %w", err)
		}
		out = append(out, wireEvent(anthropic.StreamEventMessageDelta, data)...)
		b.pendingDelta = nil
	}
	if !b.stopped {
		b.stopped = true
		stop := anthropicEvent(anthropic.StreamEventMessageStop, map[string]any{
			"type": anthropic.StreamEventMessageStop,
		})
		out = append(out, wireEvent(stop.Name, stop.Data)...)
	}
	return out, nil
}

// ensureStarted synthesizes a message_start when content arrives first.
func (b *AnthropicStreamBuffer) ensureStarted(out []byte) []byte {
	if b.started {
		return out
	}
	b.started = true
	model := b.model
	if model == "" {
		model = "unknown"
	}
	start := anthropicEvent(anthropic.StreamEventMessageStart, map[string]any{
		"type": anthropic.StreamEventMessageStart,
		"message": map[string]any{
			"id":            "msg_" + uuid.NewString(),
			"type":          "message",
			"role":          anthropic.RoleAssistant,
			"model":         model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})
	return append(out, wireEvent(start.Name, start.Data)...)
}

// closeOpenBlock injects the content_block_stop owed by an open block.
func (b *AnthropicStreamBuffer) closeOpenBlock() []byte {
	if !b.needsStop {
		return nil
	}
	b.needsStop = false
	stop := anthropicEvent(anthropic.StreamEventContentBlockStop, map[string]any{
		"type":  anthropic.StreamEventContentBlockStop,
		"index": int64(0),
	})
	return wireEvent(stop.Name, stop.Data)
}

// wireEvent renders one named SSE event.
func wireEvent(name string, data []byte) []byte {
	ev := sse.Event{Name: name, Data: data}
	return ev.WireBytes()
}
