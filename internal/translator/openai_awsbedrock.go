// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package translator

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/archgw/archgw/internal/apischema/awsbedrock"
	"github.com/archgw/archgw/internal/apischema/openai"
	"github.com/archgw/archgw/internal/json"
	"github.com/archgw/archgw/internal/sse"
)

// openAIToBedrockTranslator serves an OpenAI Chat client against the Bedrock
// Converse upstream. The model id rides on the request path, so the body
// carries no model field.
type openAIToBedrockTranslator struct{}

func (openAIToBedrockTranslator) RequestBody(_ []byte, req *openai.ChatCompletionRequest) ([]byte, error) {
	out := awsbedrock.ConverseInput{
		InferenceConfig: &awsbedrock.InferenceConfiguration{
			Temperature: req.Temperature,
			TopP:        req.TopP,
		},
	}
	if req.MaxCompletionTokens != nil {
		out.InferenceConfig.MaxTokens = req.MaxCompletionTokens
	} else if req.MaxTokens != nil {
		out.InferenceConfig.MaxTokens = req.MaxTokens
	}
	if req.Stop != nil && len(req.Stop.Values) > 0 {
		out.InferenceConfig.StopSequences = req.Stop.Values
	}

	for i := range req.Messages {
		msg := &req.Messages[i]
		switch {
		case msg.System != nil:
			out.System = append(out.System, &awsbedrock.SystemContentBlock{Text: msg.System.Content.Flatten()})
		case msg.Developer != nil:
			out.System = append(out.System, &awsbedrock.SystemContentBlock{Text: msg.Developer.Content.Flatten()})
		case msg.User != nil:
			m, err := userMessageToBedrock(msg.User)
			if err != nil {
				return nil, err
			}
			out.Messages = append(out.Messages, m)
		case msg.Assistant != nil:
			m, err := assistantMessageToBedrock(msg.Assistant)
			if err != nil {
				return nil, err
			}
			out.Messages = append(out.Messages, m)
		case msg.Tool != nil:
			text := msg.Tool.Content.Flatten()
			out.Messages = append(out.Messages, &awsbedrock.Message{
				Role: awsbedrock.ConversationRoleUser,
				Content: []*awsbedrock.ContentBlock{{
					ToolResult: &awsbedrock.ToolResultBlock{
						ToolUseID: msg.Tool.ToolCallID,
						Content:   []*awsbedrock.ToolResultContentBlock{{Text: &text}},
					},
				}},
			})
		}
	}

	if len(req.Tools) > 0 {
		out.ToolConfig = &awsbedrock.ToolConfiguration{}
		for _, tool := range req.Tools {
			desc := tool.Function.Description
			spec := &awsbedrock.ToolSpecification{
				Name:        tool.Function.Name,
				InputSchema: &awsbedrock.ToolInputSchema{JSON: tool.Function.Parameters},
			}
			if desc != "" {
				spec.Description = &desc
			}
			out.ToolConfig.Tools = append(out.ToolConfig.Tools, &awsbedrock.Tool{ToolSpec: spec})
		}
		if req.ToolChoice != nil {
			tc, err := toolChoiceToBedrock(req.ToolChoice)
			if err != nil {
				return nil, err
			}
			out.ToolConfig.ToolChoice = tc
		}
	}

	body, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal converse request: %w", err)
	}
	return body, nil
}

func userMessageToBedrock(msg *openai.ChatCompletionUserMessageParam) (*awsbedrock.Message, error) {
	out := &awsbedrock.Message{Role: awsbedrock.ConversationRoleUser}
	if len(msg.Content.Parts) == 0 {
		text := msg.Content.Text
		out.Content = []*awsbedrock.ContentBlock{{Text: &text}}
		return out, nil
	}
	for _, part := range msg.Content.Parts {
		switch {
		case part.TextContent != nil:
			text := part.TextContent.Text
			out.Content = append(out.Content, &awsbedrock.ContentBlock{Text: &text})
		case part.ImageContent != nil:
			img, err := imageURLToBedrock(part.ImageContent.ImageURL.URL)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, &awsbedrock.ContentBlock{Image: img})
		}
	}
	return out, nil
}

// imageURLToBedrock converts a data URL to the Converse image block. Converse
// has no slot for remote image URLs.
func imageURLToBedrock(url string) (*awsbedrock.ImageBlock, error) {
	m := dataURIRe.FindStringSubmatch(url)
	if m == nil {
		return nil, unsupported(DialectOpenAIChat, DialectBedrockConverse, "remote image_url")
	}
	format := m[1]
	if i := strings.IndexByte(format, '/'); i >= 0 {
		format = format[i+1:]
	}
	return &awsbedrock.ImageBlock{
		Format: format,
		Source: awsbedrock.ImageSource{Bytes: url[len(m[0]):]},
	}, nil
}

func assistantMessageToBedrock(msg *openai.ChatCompletionAssistantMessageParam) (*awsbedrock.Message, error) {
	out := &awsbedrock.Message{Role: awsbedrock.ConversationRoleAssistant}
	if text := msg.Content.Flatten(); text != "" {
		out.Content = append(out.Content, &awsbedrock.ContentBlock{Text: &text})
	}
	for _, call := range msg.ToolCalls {
		input := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
				return nil, fmt.Errorf("tool call %s has non-JSON arguments: %w", call.ID, err)
			}
		}
		out.Content = append(out.Content, &awsbedrock.ContentBlock{
			ToolUse: &awsbedrock.ToolUseBlock{
				ToolUseID: call.ID,
				Name:      call.Function.Name,
				Input:     input,
			},
		})
	}
	if len(out.Content) == 0 {
		empty := ""
		out.Content = []*awsbedrock.ContentBlock{{Text: &empty}}
	}
	return out, nil
}

func toolChoiceToBedrock(tc *openai.ToolChoiceUnion) (*awsbedrock.ToolChoice, error) {
	if tc.Function != nil {
		return &awsbedrock.ToolChoice{
			Tool: &awsbedrock.SpecificToolChoice{Name: tc.Function.Function.Name},
		}, nil
	}
	switch tc.Mode {
	case "auto", "", "none":
		// Converse has no "none"; auto is the closest behavior.
		return &awsbedrock.ToolChoice{Auto: &awsbedrock.ToolChoiceAuto{}}, nil
	case "required":
		return &awsbedrock.ToolChoice{Any: &awsbedrock.ToolChoiceAny{}}, nil
	default:
		return nil, unsupported(DialectOpenAIChat, DialectBedrockConverse, "tool_choice "+tc.Mode)
	}
}

func (openAIToBedrockTranslator) ResponseBody(body []byte) ([]byte, Usage, error) {
	var resp awsbedrock.ConverseOutput
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, Usage{}, fmt.Errorf("failed to unmarshal converse response: %w", err)
	}

	var text strings.Builder
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, block := range resp.Output.Message.Content {
		switch {
		case block.Text != nil:
			text.WriteString(*block.Text)
		case block.ToolUse != nil:
			args, err := json.Marshal(block.ToolUse.Input)
			if err != nil {
				args = []byte("{}")
			}
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID:   block.ToolUse.ToolUseID,
				Type: "function",
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      block.ToolUse.Name,
					Arguments: string(args),
				},
			})
		}
	}

	content := text.String()
	out := openai.ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Choices: []openai.ChatCompletionResponseChoice{{
			Message: openai.ChatCompletionResponseChoiceMessage{
				Role:      openai.ChatMessageRoleAssistant,
				Content:   &content,
				ToolCalls: toolCalls,
			},
			FinishReason: bedrockStopReasonToOpenAI(resp.StopReason),
		}},
		Usage: openai.ChatCompletionResponseUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	usage := Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	encoded, err := json.Marshal(&out)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("failed to marshal chat response: %w", err)
	}
	return encoded, usage, nil
}

func (openAIToBedrockTranslator) NewStreamDecoder(model string, _ *slog.Logger, _ sse.SkipRecorder) StreamDecoder {
	return NewBedrockToChatDecoder(model)
}
