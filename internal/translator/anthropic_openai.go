// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package translator

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/archgw/archgw/internal/apischema/anthropic"
	"github.com/archgw/archgw/internal/apischema/openai"
	"github.com/archgw/archgw/internal/json"
	"github.com/archgw/archgw/internal/sse"
)

// anthropicToOpenAITranslator serves an Anthropic Messages client against an
// OpenAI-compatible upstream.
type anthropicToOpenAITranslator struct{}

func (anthropicToOpenAITranslator) RequestBody(_ []byte, req *anthropic.MessagesRequest) ([]byte, error) {
	maxTokens := req.MaxTokens
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   &maxTokens,
	}
	// top_k has no slot in the Chat Completions dialect and is dropped.
	if len(req.StopSequences) > 0 {
		out.Stop = &openai.StopUnion{Values: req.StopSequences}
	}

	if req.System != nil {
		out.Messages = append(out.Messages, openai.SystemMessage(req.System.Flatten()))
	}
	for i := range req.Messages {
		msgs, err := anthropicMessageToChat(&req.Messages[i])
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, msgs...)
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: "function",
			Function: openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	if req.ToolChoice != nil {
		out.ToolChoice = anthropicToolChoiceToChat(req.ToolChoice)
	}

	body, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}
	return body, nil
}

// anthropicMessageToChat lowers one Messages API turn. A single Anthropic
// user turn may expand to several chat messages because tool results become
// dedicated role=tool messages.
func anthropicMessageToChat(msg *anthropic.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	if msg.Role == anthropic.RoleAssistant {
		m, err := anthropicAssistantToChat(msg)
		if err != nil {
			return nil, err
		}
		return []openai.ChatCompletionMessageParamUnion{m}, nil
	}

	if len(msg.Content.Blocks) == 0 {
		return []openai.ChatCompletionMessageParamUnion{openai.UserMessage(msg.Content.Text)}, nil
	}

	var out []openai.ChatCompletionMessageParamUnion
	var parts []openai.ChatCompletionContentPartUserUnionParam
	for _, block := range msg.Content.Blocks {
		switch {
		case block.Text != nil:
			parts = append(parts, openai.ChatCompletionContentPartUserUnionParam{
				TextContent: &openai.ChatCompletionContentPartTextParam{Type: "text", Text: block.Text.Text},
			})
		case block.Image != nil:
			parts = append(parts, openai.ChatCompletionContentPartUserUnionParam{
				ImageContent: &openai.ChatCompletionContentPartImageParam{
					Type:     "image_url",
					ImageURL: openai.ChatCompletionImageURL{URL: anthropicImageToURL(&block.Image.Source)},
				},
			})
		case block.ToolResult != nil:
			out = append(out, openai.ChatCompletionMessageParamUnion{
				Tool: &openai.ChatCompletionToolMessageParam{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: block.ToolResult.ToolUseID,
					Content:    openai.TextContent(block.ToolResult.Content.Flatten()),
				},
			})
		}
	}
	if len(parts) > 0 {
		out = append(out, openai.ChatCompletionMessageParamUnion{
			User: &openai.ChatCompletionUserMessageParam{
				Role:    openai.ChatMessageRoleUser,
				Content: openai.UserContentUnion{Parts: parts},
			},
		})
	}
	return out, nil
}

func anthropicImageToURL(src *anthropic.ImageSource) string {
	if src.Type == "url" {
		return src.URL
	}
	return "data:" + src.MediaType + ";base64," + src.Data
}

func anthropicAssistantToChat(msg *anthropic.Message) (openai.ChatCompletionMessageParamUnion, error) {
	assistant := &openai.ChatCompletionAssistantMessageParam{Role: openai.ChatMessageRoleAssistant}
	var text []string
	for _, block := range msg.Content.Blocks {
		switch {
		case block.Text != nil:
			text = append(text, block.Text.Text)
		case block.ToolUse != nil:
			args, err := json.Marshal(block.ToolUse.Input)
			if err != nil {
				return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf("tool_use %s input is not serializable: %w", block.ToolUse.ID, err)
			}
			assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:   block.ToolUse.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      block.ToolUse.Name,
					Arguments: string(args),
				},
			})
		}
	}
	if len(msg.Content.Blocks) == 0 {
		assistant.Content = openai.TextContent(msg.Content.Text)
	} else if len(text) > 0 {
		assistant.Content = openai.TextContent(strings.Join(text, "\n"))
	}
	return openai.ChatCompletionMessageParamUnion{Assistant: assistant}, nil
}

func anthropicToolChoiceToChat(tc *anthropic.ToolChoiceUnion) *openai.ToolChoiceUnion {
	switch tc.Type {
	case anthropic.ToolChoiceAny:
		return &openai.ToolChoiceUnion{Mode: "required"}
	case anthropic.ToolChoiceNone:
		return &openai.ToolChoiceUnion{Mode: "none"}
	case anthropic.ToolChoiceTool:
		return &openai.ToolChoiceUnion{Function: &openai.ToolChoiceFunction{
			Type:     "function",
			Function: openai.ToolChoiceFunctionName{Name: tc.Name},
		}}
	default:
		return &openai.ToolChoiceUnion{Mode: "auto"}
	}
}

func (anthropicToOpenAITranslator) ResponseBody(body []byte) ([]byte, Usage, error) {
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, Usage{}, fmt.Errorf("failed to unmarshal chat response: %w", err)
	}
	out, usage := chatResponseToAnthropic(&resp)
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("failed to marshal messages response: %w", err)
	}
	return encoded, usage, nil
}

func chatResponseToAnthropic(resp *openai.ChatCompletionResponse) (*anthropic.MessagesResponse, Usage) {
	out := &anthropic.MessagesResponse{
		ID:    resp.ID,
		Type:  "message",
		Role:  anthropic.RoleAssistant,
		Model: resp.Model,
	}
	if out.ID == "" {
		out.ID = "msg_" + uuid.NewString()
	}
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message.Content != nil && *choice.Message.Content != "" {
			out.Content = append(out.Content, anthropic.NewTextBlock(*choice.Message.Content))
		}
		for _, call := range choice.Message.ToolCalls {
			input := map[string]any{}
			if call.Function.Arguments != "" {
				// Best effort: malformed arguments become an empty input
				// rather than failing the whole response.
				_ = json.Unmarshal([]byte(call.Function.Arguments), &input)
			}
			out.Content = append(out.Content, anthropic.ContentBlock{
				ToolUse: &anthropic.ToolUseBlock{
					Type:  anthropic.ContentTypeToolUse,
					ID:    call.ID,
					Name:  call.Function.Name,
					Input: input,
				},
			})
		}
		stop := chatFinishReasonToAnthropic(choice.FinishReason)
		out.StopReason = &stop
	}
	out.Usage = anthropic.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if d := resp.Usage.PromptTokensDetails; d != nil {
		out.Usage.CacheReadInputTokens = d.CachedTokens
		out.Usage.CacheCreationInputTokens = d.CacheCreationTokens
	}
	usage := Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	return out, usage
}

func chatFinishReasonToAnthropic(reason openai.ChatCompletionChoicesFinishReason) string {
	switch reason {
	case openai.ChatCompletionChoicesFinishReasonLength:
		return anthropic.StopReasonMaxTokens
	case openai.ChatCompletionChoicesFinishReasonToolCalls:
		return anthropic.StopReasonToolUse
	default:
		return anthropic.StopReasonEndTurn
	}
}

// chatToAnthropicStream rewrites chat.completion.chunk events into the
// Messages API event family. The downstream Anthropic stream buffer enforces
// the full envelope; this transform only has to emit faithful per-event
// translations in source order.
type chatToAnthropicStream struct {
	started bool
	id      string
	model   string
	// blockIndex is the next Anthropic content block index to allocate.
	blockIndex int64
	// textOpen reports an open text block at textIndex.
	textOpen  bool
	textIndex int64
	// toolBlocks maps OpenAI tool_call indices to Anthropic block indices.
	toolBlocks map[int64]int64
	usage      anthropic.Usage
}

func (anthropicToOpenAITranslator) NewStreamDecoder(_ string, logger *slog.Logger, skips sse.SkipRecorder) StreamDecoder {
	s := &chatToAnthropicStream{toolBlocks: map[int64]int64{}}
	return sse.NewChunkProcessor(s.transform, logger, skips)
}

func (s *chatToAnthropicStream) transform(ev sse.Event) ([]sse.Event, error) {
	if ev.IsDone() {
		return []sse.Event{anthropicEvent(anthropic.StreamEventMessageStop, map[string]any{
			"type": anthropic.StreamEventMessageStop,
		})}, nil
	}
	if len(ev.Data) > 0 && !json.Valid(ev.Data) {
		return nil, sse.ErrIncompleteEvent
	}
	var chunk openai.ChatCompletionResponseChunk
	if err := json.Unmarshal(ev.Data, &chunk); err != nil {
		return nil, sse.ErrSkipEvent
	}

	var out []sse.Event
	if !s.started {
		s.started = true
		s.id = chunk.ID
		if s.id == "" {
			s.id = "msg_" + uuid.NewString()
		}
		s.model = chunk.Model
		out = append(out, anthropicEvent(anthropic.StreamEventMessageStart, map[string]any{
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
		}))
	}

	for _, choice := range chunk.Choices {
		if choice.Delta != nil {
			events, err := s.deltaEvents(choice.Delta)
			if err != nil {
				return nil, err
			}
			out = append(out, events...)
		}
		if choice.FinishReason != nil {
			out = append(out, s.finishEvents(*choice.FinishReason, chunk.Usage)...)
		}
	}
	// A trailing usage-only chunk (stream_options.include_usage) arrives with
	// no choices; surface it as a usage-bearing message_delta that the buffer
	// merges into the previous one.
	if len(chunk.Choices) == 0 && chunk.Usage != nil {
		out = append(out, anthropicEvent(anthropic.StreamEventMessageDelta, map[string]any{
			"type":  anthropic.StreamEventMessageDelta,
			"delta": map[string]any{"stop_reason": nil, "stop_sequence": nil},
			"usage": map[string]any{
				"input_tokens":  chunk.Usage.PromptTokens,
				"output_tokens": chunk.Usage.CompletionTokens,
			},
		}))
	}
	return out, nil
}

func (s *chatToAnthropicStream) deltaEvents(delta *openai.ChatCompletionResponseChunkChoiceDelta) ([]sse.Event, error) {
	var out []sse.Event
	if delta.Content != nil && *delta.Content != "" {
		if !s.textOpen {
			s.textOpen = true
			s.textIndex = s.blockIndex
			s.blockIndex++
			out = append(out, anthropicEvent(anthropic.StreamEventContentBlockStart, map[string]any{
				"type":          anthropic.StreamEventContentBlockStart,
				"index":         s.textIndex,
				"content_block": map[string]any{"type": "text", "text": ""},
			}))
		}
		out = append(out, anthropicEvent(anthropic.StreamEventContentBlockDelta, map[string]any{
			"type":  anthropic.StreamEventContentBlockDelta,
			"index": s.textIndex,
			"delta": map[string]any{"type": anthropic.DeltaTypeText, "text": *delta.Content},
		}))
	}
	for _, call := range delta.ToolCalls {
		idx, known := s.toolBlocks[call.Index]
		if !known {
			if s.textOpen {
				s.textOpen = false
				out = append(out, anthropicEvent(anthropic.StreamEventContentBlockStop, map[string]any{
					"type":  anthropic.StreamEventContentBlockStop,
					"index": s.textIndex,
				}))
			}
			idx = s.blockIndex
			s.blockIndex++
			s.toolBlocks[call.Index] = idx
			id := call.ID
			if id == "" {
				id = "toolu_" + uuid.NewString()
			}
			out = append(out, anthropicEvent(anthropic.StreamEventContentBlockStart, map[string]any{
				"type":  anthropic.StreamEventContentBlockStart,
				"index": idx,
				"content_block": map[string]any{
					"type":  anthropic.ContentTypeToolUse,
					"id":    id,
					"name":  call.Function.Name,
					"input": map[string]any{},
				},
			}))
		}
		if call.Function.Arguments != "" {
			out = append(out, anthropicEvent(anthropic.StreamEventContentBlockDelta, map[string]any{
				"type":  anthropic.StreamEventContentBlockDelta,
				"index": idx,
				"delta": map[string]any{"type": anthropic.DeltaTypeInputJSON, "partial_json": call.Function.Arguments},
			}))
		}
	}
	return out, nil
}

func (s *chatToAnthropicStream) finishEvents(reason openai.ChatCompletionChoicesFinishReason, usage *openai.ChatCompletionResponseUsage) []sse.Event {
	var out []sse.Event
	u := map[string]any{"input_tokens": 0, "output_tokens": 0}
	if usage != nil {
		u = map[string]any{"input_tokens": usage.PromptTokens, "output_tokens": usage.CompletionTokens}
	}
	out = append(out, anthropicEvent(anthropic.StreamEventMessageDelta, map[string]any{
		"type":  anthropic.StreamEventMessageDelta,
		"delta": map[string]any{"stop_reason": chatFinishReasonToAnthropic(reason), "stop_sequence": nil},
		"usage": u,
	}))
	return out
}

// anthropicEvent renders one Messages API SSE event with its event name.
func anthropicEvent(name string, payload map[string]any) sse.Event {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads are built from plain maps; this cannot fail in practice.
		data = []byte("{}")
	}
	return sse.NamedEvent(name, data)
}
