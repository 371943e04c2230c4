// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package translator

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/archgw/archgw/internal/apischema/anthropic"
	"github.com/archgw/archgw/internal/apischema/openai"
	"github.com/archgw/archgw/internal/json"
	"github.com/archgw/archgw/internal/sse"
)

// DefaultMaxTokens caps Anthropic completions when neither the client nor the
// gateway config supplies a value. Anthropic requires max_tokens; OpenAI
// clients legitimately omit it.
const DefaultMaxTokens = 4096

// dataURIRe matches data URLs of the form data:<media type>;base64,<payload>.
var dataURIRe = regexp.MustCompile(`^data:(.+?);base64,`)

// openAIToAnthropicTranslator serves an OpenAI Chat client against the native
// Anthropic Messages upstream.
type openAIToAnthropicTranslator struct {
	defaultMaxTokens int64
}

func (t *openAIToAnthropicTranslator) RequestBody(_ []byte, req *openai.ChatCompletionRequest) ([]byte, error) {
	out := anthropic.MessagesRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   t.maxTokens(req),
	}
	if req.Stop != nil && len(req.Stop.Values) > 0 {
		out.StopSequences = req.Stop.Values
	}

	var system []string
	for i := range req.Messages {
		msg := &req.Messages[i]
		switch {
		case msg.System != nil:
			system = append(system, msg.System.Content.Flatten())
		case msg.Developer != nil:
			system = append(system, msg.Developer.Content.Flatten())
		case msg.User != nil:
			m, err := userMessageToAnthropic(msg.User)
			if err != nil {
				return nil, err
			}
			out.Messages = append(out.Messages, m)
		case msg.Assistant != nil:
			m, err := assistantMessageToAnthropic(msg.Assistant)
			if err != nil {
				return nil, err
			}
			out.Messages = append(out.Messages, m)
		case msg.Tool != nil:
			// Tool results ride on user turns in the Messages API.
			out.Messages = append(out.Messages, anthropic.Message{
				Role: anthropic.RoleUser,
				Content: anthropic.ContentBlocks(anthropic.ContentBlock{
					ToolResult: &anthropic.ToolResultBlock{
						Type:      anthropic.ContentTypeToolResult,
						ToolUseID: msg.Tool.ToolCallID,
						Content:   anthropic.ContentText(msg.Tool.Content.Flatten()),
					},
				}),
			})
		}
	}
	if len(system) > 0 {
		out.System = anthropic.SystemText(strings.Join(system, "\n"))
	}

	for _, tool := range req.Tools {
		out.Tools = append(out.Tools, anthropic.Tool{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			InputSchema: tool.Function.Parameters,
		})
	}
	if req.ToolChoice != nil {
		tc, err := toolChoiceToAnthropic(req.ToolChoice)
		if err != nil {
			return nil, err
		}
		out.ToolChoice = tc
	}

	body, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messages request: %w", err)
	}
	return body, nil
}

func (t *openAIToAnthropicTranslator) maxTokens(req *openai.ChatCompletionRequest) int64 {
	if req.MaxCompletionTokens != nil {
		return *req.MaxCompletionTokens
	}
	if req.MaxTokens != nil {
		return *req.MaxTokens
	}
	if t.defaultMaxTokens > 0 {
		return t.defaultMaxTokens
	}
	return DefaultMaxTokens
}

func userMessageToAnthropic(msg *openai.ChatCompletionUserMessageParam) (anthropic.Message, error) {
	if len(msg.Content.Parts) == 0 {
		return anthropic.Message{Role: anthropic.RoleUser, Content: anthropic.ContentText(msg.Content.Text)}, nil
	}
	var blocks []anthropic.ContentBlock
	for _, part := range msg.Content.Parts {
		switch {
		case part.TextContent != nil:
			blocks = append(blocks, anthropic.NewTextBlock(part.TextContent.Text))
		case part.ImageContent != nil:
			src, err := imageURLToAnthropic(part.ImageContent.ImageURL.URL)
			if err != nil {
				return anthropic.Message{}, err
			}
			blocks = append(blocks, anthropic.ContentBlock{
				Image: &anthropic.ImageBlock{Type: anthropic.ContentTypeImage, Source: src},
			})
		}
	}
	return anthropic.Message{Role: anthropic.RoleUser, Content: anthropic.ContentBlocks(blocks...)}, nil
}

// imageURLToAnthropic converts an OpenAI image reference (data URL or plain
// URL) to the Messages API source shape.
func imageURLToAnthropic(url string) (anthropic.ImageSource, error) {
	if m := dataURIRe.FindStringSubmatch(url); m != nil {
		return anthropic.ImageSource{
			Type:      "base64",
			MediaType: m[1],
			Data:      url[len(m[0]):],
		}, nil
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return anthropic.ImageSource{Type: "url", URL: url}, nil
	}
	return anthropic.ImageSource{}, unsupported(DialectOpenAIChat, DialectAnthropicMessages, "image_url format")
}

func assistantMessageToAnthropic(msg *openai.ChatCompletionAssistantMessageParam) (anthropic.Message, error) {
	var blocks []anthropic.ContentBlock
	if text := msg.Content.Flatten(); text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	for _, call := range msg.ToolCalls {
		input := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return anthropic.Message{}, fmt.Errorf("tool call %s has non-JSON arguments: %w", call.ID, err)
			}
		}
		blocks = append(blocks, anthropic.ContentBlock{
			ToolUse: &anthropic.ToolUseBlock{
				Type:  anthropic.ContentTypeToolUse,
				ID:    call.ID,
				Name:  call.Function.Name,
				Input: input,
			},
		})
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropic.NewTextBlock(""))
	}
	return anthropic.Message{Role: anthropic.RoleAssistant, Content: anthropic.ContentBlocks(blocks...)}, nil
}

func toolChoiceToAnthropic(tc *openai.ToolChoiceUnion) (*anthropic.ToolChoiceUnion, error) {
	if tc.Function != nil {
		return &anthropic.ToolChoiceUnion{Type: anthropic.ToolChoiceTool, Name: tc.Function.Function.Name}, nil
	}
	switch tc.Mode {
	case "auto", "":
		return &anthropic.ToolChoiceUnion{Type: anthropic.ToolChoiceAuto}, nil
	case "required":
		return &anthropic.ToolChoiceUnion{Type: anthropic.ToolChoiceAny}, nil
	case "none":
		return &anthropic.ToolChoiceUnion{Type: anthropic.ToolChoiceNone}, nil
	default:
		return nil, unsupported(DialectOpenAIChat, DialectAnthropicMessages, "tool_choice "+tc.Mode)
	}
}

func (t *openAIToAnthropicTranslator) ResponseBody(body []byte) ([]byte, Usage, error) {
	var resp anthropic.MessagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, Usage{}, fmt.Errorf("failed to unmarshal messages response: %w", err)
	}
	out, usage := anthropicResponseToChat(&resp)
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("failed to marshal chat response: %w", err)
	}
	return encoded, usage, nil
}

func anthropicResponseToChat(resp *anthropic.MessagesResponse) (*openai.ChatCompletionResponse, Usage) {
	var text strings.Builder
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, block := range resp.Content {
		switch {
		case block.Text != nil:
			text.WriteString(block.Text.Text)
		case block.ToolUse != nil:
			args, err := json.Marshal(block.ToolUse.Input)
			if err != nil {
				args = []byte("{}")
			}
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:   block.ToolUse.ID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      block.ToolUse.Name,
					Arguments: string(args),
				},
			})
		}
	}

	content := text.String()
	usage := Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	out := &openai.ChatCompletionResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []openai.ChatCompletionResponseChoice{{
			Message: openai.ChatCompletionResponseChoiceMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   &content,
				ToolCalls: toolCalls,
			},
			FinishReason: anthropicStopReasonToOpenAI(resp.StopReason),
		}},
		Usage: openai.ChatCompletionResponseUsage{
			PromptTokens:     usage.InputTokens,
			CompletionTokens: usage.OutputTokens,
			TotalTokens:      usage.TotalTokens,
		},
	}
	if resp.Usage.CacheReadInputTokens > 0 || resp.Usage.CacheCreationInputTokens > 0 {
		out.Usage.PromptTokensDetails = &openai.PromptTokensDetails{
			CachedTokens:        resp.Usage.CacheReadInputTokens,
			CacheCreationTokens: resp.Usage.CacheCreationInputTokens,
		}
	}
	return out, usage
}

func anthropicStopReasonToOpenAI(reason *string) openai.ChatCompletionChoicesFinishReason {
	if reason == nil {
		return openai.ChatCompletionChoicesFinishReasonStop
	}
	switch *reason {
	case anthropic.StopReasonMaxTokens:
		return openai.ChatCompletionChoicesFinishReasonLength
	case anthropic.StopReasonToolUse:
		return openai.ChatCompletionChoicesFinishReasonToolCalls
	default:
		return openai.ChatCompletionChoicesFinishReasonStop
	}
}

// anthropicToChatStream rewrites the Anthropic stream event sequence into
// chat.completion.chunk events. The mapping is stateful: tool-use blocks are
// renumbered into OpenAI tool-call indices, and message_stop becomes the
// [DONE] sentinel.
type anthropicToChatStream struct {
	id      string
	model   string
	created int64
	// toolIndex maps Anthropic content block indices to OpenAI tool_call
	// indices for input_json deltas.
	toolIndex map[int64]int64
	nextTool  int64
	usage     anthropic.Usage
}

func (t *openAIToAnthropicTranslator) NewStreamDecoder(_ string, logger *slog.Logger, skips sse.SkipRecorder) StreamDecoder {
	s := &anthropicToChatStream{toolIndex: map[int64]int64{}, created: time.Now().Unix()}
	return sse.NewChunkProcessor(s.transform, logger, skips)
}

func (s *anthropicToChatStream) transform(ev sse.Event) ([]sse.Event, error) {
	if len(ev.Data) > 0 && !json.Valid(ev.Data) {
		return nil, sse.ErrIncompleteEvent
	}
	event, err := anthropic.UnmarshalStreamEvent(ev.Data)
	if err != nil {
		return nil, sse.ErrSkipEvent
	}

	switch event.Type {
	case anthropic.StreamEventMessageStart:
		msg := event.MessageStart.Message
		s.id = msg.ID
		s.model = msg.Model
		s.usage = msg.Usage
		role := openai.ChatMessageRoleAssistant
		return s.chunk(openai.ChatCompletionResponseChunkChoice{
			Delta: &openai.ChatCompletionResponseChunkChoiceDelta{Role: role},
		}, nil)

	case anthropic.StreamEventContentBlockStart:
		block := event.ContentBlockStart.ContentBlock
		if block.ToolUse == nil {
			return nil, nil
		}
		idx := s.nextTool
		s.nextTool++
		s.toolIndex[event.ContentBlockStart.Index] = idx
		return s.chunk(openai.ChatCompletionResponseChunkChoice{
			Delta: &openai.ChatCompletionResponseChunkChoiceDelta{
				ToolCalls: []openai.ChatCompletionToolCallDelta{{
					Index: idx,
					ID:    block.ToolUse.ID,
					Type:  "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name: block.ToolUse.Name,
					},
				}},
			},
		}, nil)

	case anthropic.StreamEventContentBlockDelta:
		delta := event.ContentBlockDelta.Delta
		switch delta.Type {
		case anthropic.DeltaTypeText:
			text := delta.Text
			return s.chunk(openai.ChatCompletionResponseChunkChoice{
				Delta: &openai.ChatCompletionResponseChunkChoiceDelta{Content: &text},
			}, nil)
		case anthropic.DeltaTypeInputJSON:
			idx, ok := s.toolIndex[event.ContentBlockDelta.Index]
			if !ok {
				return nil, sse.ErrSkipEvent
			}
			return s.chunk(openai.ChatCompletionResponseChunkChoice{
				Delta: &openai.ChatCompletionResponseChunkChoiceDelta{
					ToolCalls: []openai.ChatCompletionToolCallDelta{{
						Index:    idx,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{Arguments: delta.PartialJSON},
					}},
				},
			}, nil)
		default:
			// Thinking and signature deltas have no chat representation.
			return nil, sse.ErrSkipEvent
		}

	case anthropic.StreamEventContentBlockStop:
		return nil, nil

	case anthropic.StreamEventMessageDelta:
		finish := anthropicStopReasonToOpenAI(event.MessageDelta.Delta.StopReason)
		usage := &openai.ChatCompletionResponseUsage{
			PromptTokens:     s.usage.InputTokens,
			CompletionTokens: event.MessageDelta.Usage.OutputTokens,
			TotalTokens:      s.usage.InputTokens + event.MessageDelta.Usage.OutputTokens,
		}
		return s.chunk(openai.ChatCompletionResponseChunkChoice{
			Delta:        &openai.ChatCompletionResponseChunkChoiceDelta{},
			FinishReason: &finish,
		}, usage)

	case anthropic.StreamEventMessageStop:
		return []sse.Event{sse.DataEvent([]byte("[DONE]"))}, nil

	case anthropic.StreamEventPing:
		return nil, nil

	case anthropic.StreamEventError:
		return nil, fmt.Errorf("upstream stream error: %s: %s", event.Error.Type, event.Error.Message)

	default:
		return nil, sse.ErrSkipEvent
	}
}

// chunk renders one chat.completion.chunk event.
func (s *anthropicToChatStream) chunk(choice openai.ChatCompletionResponseChunkChoice, usage *openai.ChatCompletionResponseUsage) ([]sse.Event, error) {
	if s.id == "" {
		s.id = "chatcmpl-" + uuid.NewString()
	}
	out := openai.ChatCompletionResponseChunk{
		ID:      s.id,
		Object:  "chat.completion.chunk",
		Created: s.created,
		Model:   s.model,
		Choices: []openai.ChatCompletionResponseChunkChoice{choice},
		Usage:   usage,
	}
	data, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat chunk: %w", err)
	}
	return []sse.Event{sse.DataEvent(data)}, nil
}
