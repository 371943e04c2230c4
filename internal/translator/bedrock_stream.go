// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package translator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/google/uuid"

	"github.com/archgw/archgw/internal/apischema/anthropic"
	"github.com/archgw/archgw/internal/apischema/awsbedrock"
	"github.com/archgw/archgw/internal/apischema/openai"
	"github.com/archgw/archgw/internal/json"
	"github.com/archgw/archgw/internal/sse"
)

// StreamDecoder turns one upstream response byte stream into client-dialect
// SSE events. SSE upstreams are served by sse.ChunkProcessor; Bedrock's AWS
// event stream framing is served by BedrockStreamDecoder.
type StreamDecoder interface {
	Process(chunk []byte) ([]sse.Event, error)
	Finish() ([]sse.Event, error)
}

// bedrockEventConvert maps one decoded ConverseStream event to client events.
type bedrockEventConvert interface {
	convert(ev *awsbedrock.ConverseStreamEvent) ([]sse.Event, error)
	finish() ([]sse.Event, error)
}

// BedrockStreamDecoder unframes the application/vnd.amazon.eventstream body
// of ConverseStream and converts each event to the client dialect. Partial
// frames at chunk boundaries are carried over to the next call.
type BedrockStreamDecoder struct {
	dec     *eventstream.Decoder
	buf     []byte
	convert bedrockEventConvert
}

// NewBedrockToChatDecoder decodes ConverseStream for an OpenAI Chat client.
func NewBedrockToChatDecoder(model string) *BedrockStreamDecoder {
	return &BedrockStreamDecoder{
		dec: eventstream.NewDecoder(),
		convert: &bedrockToChatStream{
			id:      "chatcmpl-" + uuid.NewString(),
			model:   model,
			created: time.Now().Unix(),
		},
	}
}

// NewBedrockToAnthropicDecoder decodes ConverseStream for an Anthropic
// Messages client.
func NewBedrockToAnthropicDecoder(model string) *BedrockStreamDecoder {
	return &BedrockStreamDecoder{
		dec:     eventstream.NewDecoder(),
		convert: &bedrockToAnthropicStream{model: model},
	}
}

func (d *BedrockStreamDecoder) Process(chunk []byte) ([]sse.Event, error) {
	d.buf = append(d.buf, chunk...)
	r := bytes.NewReader(d.buf)
	var out []sse.Event
	var lastRead int64
	for {
		msg, err := d.dec.Decode(r, nil)
		if err != nil {
			// A short read means the frame is split at the chunk boundary;
			// anything else (bad prelude, checksum mismatch) is corruption.
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("malformed bedrock stream frame: %w", err)
			}
			// Keep the unread tail for the next chunk.
			copy(d.buf, d.buf[lastRead:])
			d.buf = d.buf[:len(d.buf)-int(lastRead)]
			return out, nil
		}
		lastRead = r.Size() - int64(r.Len())
		if typ := eventType(&msg); typ == "exception" {
			var exc awsbedrock.BedrockException
			_ = json.Unmarshal(msg.Payload, &exc)
			return nil, fmt.Errorf("bedrock stream exception: %s", exc.Message)
		}
		var event awsbedrock.ConverseStreamEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			continue
		}
		events, err := d.convert.convert(&event)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
}

func (d *BedrockStreamDecoder) Finish() ([]sse.Event, error) {
	d.buf = nil
	return d.convert.finish()
}

func eventType(msg *eventstream.Message) string {
	for _, h := range msg.Headers {
		if h.Name == ":message-type" {
			if s, ok := h.Value.(eventstream.StringValue); ok && string(s) == "exception" {
				return "exception"
			}
		}
	}
	return "event"
}

// bedrockToChatStream converts ConverseStream events into
// chat.completion.chunk events, terminated by the [DONE] sentinel.
type bedrockToChatStream struct {
	id      string
	model   string
	created int64
	stopped bool
}

func (s *bedrockToChatStream) convert(ev *awsbedrock.ConverseStreamEvent) ([]sse.Event, error) {
	chunk := openai.ChatCompletionResponseChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
	}
	switch {
	case ev.Usage != nil:
		chunk.Usage = &openai.ChatCompletionResponseUsage{
			PromptTokens:     ev.Usage.InputTokens,
			CompletionTokens: ev.Usage.OutputTokens,
			TotalTokens:      ev.Usage.TotalTokens,
		}
	case ev.Role != "":
		empty := ""
		chunk.Choices = append(chunk.Choices, openai.ChatCompletionResponseChunkChoice{
			Delta: &openai.ChatCompletionResponseChunkChoiceDelta{Role: ev.Role, Content: &empty},
		})
	case ev.Start != nil && ev.Start.ToolUse != nil:
		chunk.Choices = append(chunk.Choices, openai.ChatCompletionResponseChunkChoice{
			Delta: &openai.ChatCompletionResponseChunkChoiceDelta{
				ToolCalls: []openai.ChatCompletionToolCallDelta{{
					Index: ev.ContentBlockIndex,
					ID:    ev.Start.ToolUse.ToolUseID,
					Type:  "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name: ev.Start.ToolUse.Name,
					},
				}},
			},
		})
	case ev.Delta != nil && ev.Delta.Text != nil:
		chunk.Choices = append(chunk.Choices, openai.ChatCompletionResponseChunkChoice{
			Delta: &openai.ChatCompletionResponseChunkChoiceDelta{Content: ev.Delta.Text},
		})
	case ev.Delta != nil && ev.Delta.ToolUse != nil:
		chunk.Choices = append(chunk.Choices, openai.ChatCompletionResponseChunkChoice{
			Delta: &openai.ChatCompletionResponseChunkChoiceDelta{
				ToolCalls: []openai.ChatCompletionToolCallDelta{{
					Index:    ev.ContentBlockIndex,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{Arguments: ev.Delta.ToolUse.Input},
				}},
			},
		})
	case ev.StopReason != "":
		s.stopped = true
		finish := bedrockStopReasonToOpenAI(ev.StopReason)
		chunk.Choices = append(chunk.Choices, openai.ChatCompletionResponseChunkChoice{
			Delta:        &openai.ChatCompletionResponseChunkChoiceDelta{},
			FinishReason: &finish,
		})
	default:
		// contentBlockStop and empty frames produce nothing.
		return nil, nil
	}
	data, err := json.Marshal(&chunk)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat chunk: %w", err)
	}
	return []sse.Event{sse.DataEvent(data)}, nil
}

func (s *bedrockToChatStream) finish() ([]sse.Event, error) {
	return []sse.Event{sse.DataEvent([]byte("[DONE]"))}, nil
}

func bedrockStopReasonToOpenAI(reason string) openai.ChatCompletionChoicesFinishReason {
	switch reason {
	case awsbedrock.StopReasonMaxTokens:
		return openai.ChatCompletionChoicesFinishReasonLength
	case awsbedrock.StopReasonToolUse:
		return openai.ChatCompletionChoicesFinishReasonToolCalls
	case awsbedrock.StopReasonContentFiltered, awsbedrock.StopReasonGuardrailBlocked:
		return openai.ChatCompletionChoicesFinishReasonContentFilter
	default:
		return openai.ChatCompletionChoicesFinishReasonStop
	}
}

// bedrockToAnthropicStream converts ConverseStream events into the Messages
// API event family. Bedrock splits stop_reason and usage over two frames
// (messageStop then metadata); both become message_delta events that the
// Anthropic stream buffer merges.
type bedrockToAnthropicStream struct {
	model string
	id    string
}

func (s *bedrockToAnthropicStream) convert(ev *awsbedrock.ConverseStreamEvent) ([]sse.Event, error) {
	switch {
	case ev.Role != "":
		s.id = "msg_" + uuid.NewString()
		return []sse.Event{anthropicEvent(anthropic.StreamEventMessageStart, map[string]any{
			"type": anthropic.StreamEventMessageStart,
			"message": map[string]any{
				"id":            s.id,
				"type":          "message",
				"role":          anthropic.RoleAssistant,
				"model":         s.model,
				"content":       []any{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		})}, nil

	case ev.Start != nil && ev.Start.ToolUse != nil:
		return []sse.Event{anthropicEvent(anthropic.StreamEventContentBlockStart, map[string]any{
			"type":  anthropic.StreamEventContentBlockStart,
			"index": ev.ContentBlockIndex,
			"content_block": map[string]any{
				"type":  anthropic.ContentTypeToolUse,
				"id":    ev.Start.ToolUse.ToolUseID,
				"name":  ev.Start.ToolUse.Name,
				"input": map[string]any{},
			},
		})}, nil

	case ev.Delta != nil && ev.Delta.Text != nil:
		return []sse.Event{anthropicEvent(anthropic.StreamEventContentBlockDelta, map[string]any{
			"type":  anthropic.StreamEventContentBlockDelta,
			"index": ev.ContentBlockIndex,
			"delta": map[string]any{"type": anthropic.DeltaTypeText, "text": *ev.Delta.Text},
		})}, nil

	case ev.Delta != nil && ev.Delta.ToolUse != nil:
		return []sse.Event{anthropicEvent(anthropic.StreamEventContentBlockDelta, map[string]any{
			"type":  anthropic.StreamEventContentBlockDelta,
			"index": ev.ContentBlockIndex,
			"delta": map[string]any{"type": anthropic.DeltaTypeInputJSON, "partial_json": ev.Delta.ToolUse.Input},
		})}, nil

	case ev.StopReason != "":
		return []sse.Event{anthropicEvent(anthropic.StreamEventMessageDelta, map[string]any{
			"type":  anthropic.StreamEventMessageDelta,
			"delta": map[string]any{"stop_reason": bedrockStopReasonToAnthropic(ev.StopReason), "stop_sequence": nil},
			"usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
		})}, nil

	case ev.Usage != nil:
		return []sse.Event{anthropicEvent(anthropic.StreamEventMessageDelta, map[string]any{
			"type":  anthropic.StreamEventMessageDelta,
			"delta": map[string]any{"stop_reason": nil, "stop_sequence": nil},
			"usage": map[string]any{"input_tokens": ev.Usage.InputTokens, "output_tokens": ev.Usage.OutputTokens},
		})}, nil

	default:
		// contentBlockStop maps one-to-one.
		if ev.Delta == nil && ev.Start == nil && ev.Usage == nil && ev.Role == "" && ev.StopReason == "" {
			return []sse.Event{anthropicEvent(anthropic.StreamEventContentBlockStop, map[string]any{
				"type":  anthropic.StreamEventContentBlockStop,
				"index": ev.ContentBlockIndex,
			})}, nil
		}
		return nil, nil
	}
}

func (s *bedrockToAnthropicStream) finish() ([]sse.Event, error) {
	return []sse.Event{anthropicEvent(anthropic.StreamEventMessageStop, map[string]any{
		"type": anthropic.StreamEventMessageStop,
	})}, nil
}

func bedrockStopReasonToAnthropic(reason string) string {
	switch reason {
	case awsbedrock.StopReasonMaxTokens:
		return anthropic.StopReasonMaxTokens
	case awsbedrock.StopReasonToolUse:
		return anthropic.StopReasonToolUse
	case awsbedrock.StopReasonStopSequence:
		return anthropic.StopReasonStopSequence
	default:
		return anthropic.StopReasonEndTurn
	}
}
