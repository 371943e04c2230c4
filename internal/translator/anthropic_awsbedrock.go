// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package translator

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/archgw/archgw/internal/apischema/anthropic"
	"github.com/archgw/archgw/internal/apischema/awsbedrock"
	"github.com/archgw/archgw/internal/json"
	"github.com/archgw/archgw/internal/sse"
)

// anthropicToBedrockTranslator serves an Anthropic Messages client against
// the Bedrock Converse upstream. The two dialects are near relatives, so most
// blocks map one-to-one.
type anthropicToBedrockTranslator struct{}

func (anthropicToBedrockTranslator) RequestBody(_ []byte, req *anthropic.MessagesRequest) ([]byte, error) {
	maxTokens := req.MaxTokens
	out := awsbedrock.ConverseInput{
		InferenceConfig: &awsbedrock.InferenceConfiguration{
			MaxTokens:   &maxTokens,
			Temperature: req.Temperature,
			TopP:        req.TopP,
		},
	}
	if len(req.StopSequences) > 0 {
		out.InferenceConfig.StopSequences = req.StopSequences
	}
	if req.System != nil {
		out.System = []*awsbedrock.SystemContentBlock{{Text: req.System.Flatten()}}
	}

	for i := range req.Messages {
		m, err := anthropicMessageToBedrock(&req.Messages[i])
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, m)
	}

	if len(req.Tools) > 0 {
		out.ToolConfig = &awsbedrock.ToolConfiguration{}
		for _, tool := range req.Tools {
			desc := tool.Description
			spec := &awsbedrock.ToolSpecification{
				Name:        tool.Name,
				InputSchema: &awsbedrock.ToolInputSchema{JSON: tool.InputSchema},
			}
			if desc != "" {
				spec.Description = &desc
			}
			out.ToolConfig.Tools = append(out.ToolConfig.Tools, &awsbedrock.Tool{ToolSpec: spec})
		}
		if req.ToolChoice != nil {
			out.ToolConfig.ToolChoice = anthropicToolChoiceToBedrock(req.ToolChoice)
		}
	}

	body, err := json.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal converse request: %w", err)
	}
	return body, nil
}

func anthropicMessageToBedrock(msg *anthropic.Message) (*awsbedrock.Message, error) {
	out := &awsbedrock.Message{Role: msg.Role}
	if len(msg.Content.Blocks) == 0 {
		text := msg.Content.Text
		out.Content = []*awsbedrock.ContentBlock{{Text: &text}}
		return out, nil
	}
	for _, block := range msg.Content.Blocks {
		switch {
		case block.Text != nil:
			text := block.Text.Text
			out.Content = append(out.Content, &awsbedrock.ContentBlock{Text: &text})
		case block.Image != nil:
			if block.Image.Source.Type != "base64" {
				return nil, unsupported(DialectAnthropicMessages, DialectBedrockConverse, "url image source")
			}
			format := block.Image.Source.MediaType
			if i := len("image/"); len(format) > i && format[:i] == "image/" {
				format = format[i:]
			}
			out.Content = append(out.Content, &awsbedrock.ContentBlock{
				Image: &awsbedrock.ImageBlock{
					Format: format,
					Source: awsbedrock.ImageSource{Bytes: block.Image.Source.Data},
				},
			})
		case block.ToolUse != nil:
			out.Content = append(out.Content, &awsbedrock.ContentBlock{
				ToolUse: &awsbedrock.ToolUseBlock{
					ToolUseID: block.ToolUse.ID,
					Name:      block.ToolUse.Name,
					Input:     block.ToolUse.Input,
				},
			})
		case block.ToolResult != nil:
			text := block.ToolResult.Content.Flatten()
			result := &awsbedrock.ToolResultBlock{
				ToolUseID: block.ToolResult.ToolUseID,
				Content:   []*awsbedrock.ToolResultContentBlock{{Text: &text}},
			}
			if block.ToolResult.IsError {
				status := "error"
				result.Status = &status
			}
			out.Content = append(out.Content, &awsbedrock.ContentBlock{ToolResult: result})
		}
		// Thinking blocks have no Converse slot and are dropped.
	}
	return out, nil
}

func anthropicToolChoiceToBedrock(tc *anthropic.ToolChoiceUnion) *awsbedrock.ToolChoice {
	switch tc.Type {
	case anthropic.ToolChoiceAny:
		return &awsbedrock.ToolChoice{Any: &awsbedrock.ToolChoiceAny{}}
	case anthropic.ToolChoiceTool:
		return &awsbedrock.ToolChoice{Tool: &awsbedrock.SpecificToolChoice{Name: tc.Name}}
	default:
		return &awsbedrock.ToolChoice{Auto: &awsbedrock.ToolChoiceAuto{}}
	}
}

func (anthropicToBedrockTranslator) ResponseBody(body []byte) ([]byte, Usage, error) {
	var resp awsbedrock.ConverseOutput
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, Usage{}, fmt.Errorf("failed to unmarshal converse response: %w", err)
	}

	out := anthropic.MessagesResponse{
		ID:   "msg_" + uuid.NewString(),
		Type: "message",
		Role: anthropic.RoleAssistant,
	}
	for _, block := range resp.Output.Message.Content {
		switch {
		case block.Text != nil:
			out.Content = append(out.Content, anthropic.NewTextBlock(*block.Text))
		case block.ToolUse != nil:
			out.Content = append(out.Content, anthropic.ContentBlock{
				ToolUse: &anthropic.ToolUseBlock{
					Type:  anthropic.ContentTypeToolUse,
					ID:    block.ToolUse.ToolUseID,
					Name:  block.ToolUse.Name,
					Input: block.ToolUse.Input,
				},
			})
		}
	}
	stop := bedrockStopReasonToAnthropic(resp.StopReason)
	out.StopReason = &stop
	out.Usage = anthropic.Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	usage := Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	encoded, err := json.Marshal(&out)
	if err != nil {
		return nil, Usage{}, fmt.Errorf("failed to marshal messages response: %w", err)
	}
	return encoded, usage, nil
}

func (anthropicToBedrockTranslator) NewStreamDecoder(model string, _ *slog.Logger, _ sse.SkipRecorder) StreamDecoder {
	return NewBedrockToAnthropicDecoder(model)
}
