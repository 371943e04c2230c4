// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package translator

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/archgw/archgw/internal/apischema/openai"
	"github.com/archgw/archgw/internal/json"
)

// NewResponseID generates a Responses API object id ("resp_" + 32 hex).
func NewResponseID() string {
	return "resp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ResponsesToChatRequest lowers a Responses API request into the Chat
// Completions dialect so it can be served by upstreams without native
// Responses support. The result then composes with the chat translator for
// the actual upstream dialect.
func ResponsesToChatRequest(req *openai.ResponsesRequest) (*openai.ChatCompletionRequest, error) {
	out := &openai.ChatCompletionRequest{
		Model:       req.Model,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Tools:       req.Tools,
		Metadata:    req.Metadata,
	}
	if req.MaxOutputTokens != nil {
		out.MaxTokens = req.MaxOutputTokens
	}
	if req.Instructions != "" {
		out.Messages = append(out.Messages, openai.SystemMessage(req.Instructions))
	}

	if len(req.Input.Items) == 0 {
		if req.Input.IsSet() {
			out.Messages = append(out.Messages, openai.UserMessage(req.Input.Text))
		}
		return out, nil
	}
	for i := range req.Input.Items {
		msg, err := inputItemToChatMessage(&req.Input.Items[i])
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, msg)
	}
	return out, nil
}

func inputItemToChatMessage(item *openai.ResponseInputItem) (openai.ChatCompletionMessageParamUnion, error) {
	switch {
	case item.Message != nil:
		text := item.Message.Content.Flatten()
		switch item.Message.Role {
		case openai.ChatMessageRoleSystem, openai.ChatMessageRoleDeveloper:
			return openai.SystemMessage(text), nil
		case openai.ChatMessageRoleAssistant:
			return openai.AssistantMessage(text), nil
		default:
			return openai.UserMessage(text), nil
		}
	case item.FunctionCall != nil:
		fc := item.FunctionCall
		callID := fc.CallID
		if callID == "" {
			callID = fc.ID
		}
		return openai.ChatCompletionMessageParamUnion{
			Assistant: &openai.ChatCompletionAssistantMessageParam{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
					ID:   callID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      fc.Name,
						Arguments: fc.Arguments,
					},
				}},
			},
		}, nil
	case item.FunctionCallOutput != nil:
		return openai.ChatCompletionMessageParamUnion{
			Tool: &openai.ChatCompletionToolMessageParam{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: item.FunctionCallOutput.CallID,
				Content:    openai.TextContent(item.FunctionCallOutput.Output),
			},
		}, nil
	}
	return openai.ChatCompletionMessageParamUnion{}, unsupported(DialectOpenAIResponses, DialectOpenAIChat, "input item type")
}

// ChatResponseToResponses lifts a non-streaming chat completion back into a
// Responses API object with a freshly generated response id.
func ChatResponseToResponses(chatBody []byte, model string) (*openai.ResponsesResponse, Usage, error) {
	var chat openai.ChatCompletionResponse
	if err := json.Unmarshal(chatBody, &chat); err != nil {
		return nil, Usage{}, fmt.Errorf("failed to unmarshal chat response: %w", err)
	}
	if model == "" {
		model = chat.Model
	}

	out := &openai.ResponsesResponse{
		ID:        NewResponseID(),
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Status:    openai.ResponseStatusCompleted,
		Model:     model,
	}
	for _, choice := range chat.Choices {
		if choice.Message.Content != nil && *choice.Message.Content != "" {
			out.Output = append(out.Output, openai.ResponseOutputItem{
				Message: &openai.ResponseOutputMessage{
					Type:   "message",
					ID:     "msg_" + uuid.NewString(),
					Role:   openai.ChatMessageRoleAssistant,
					Status: openai.ResponseStatusCompleted,
					Content: []openai.ResponseContentPart{{
						Type: "output_text",
						Text: *choice.Message.Content,
					}},
				},
			})
		}
		for _, call := range choice.Message.ToolCalls {
			out.Output = append(out.Output, openai.ResponseOutputItem{
				FunctionCall: &openai.ResponseFunctionCall{
					Type:      "function_call",
					ID:        "fc_" + uuid.NewString(),
					CallID:    call.ID,
					Name:      call.Function.Name,
					Arguments: call.Function.Arguments,
					Status:    openai.ResponseStatusCompleted,
				},
			})
		}
	}
	usage := Usage{
		InputTokens:  chat.Usage.PromptTokens,
		OutputTokens: chat.Usage.CompletionTokens,
		TotalTokens:  chat.Usage.TotalTokens,
	}
	out.Usage = &openai.ResponsesUsage{
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.TotalTokens,
	}
	return out, usage, nil
}
