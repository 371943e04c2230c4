// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package translator

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/archgw/archgw/internal/apischema/awsbedrock"
	"github.com/archgw/archgw/internal/apischema/openai"
	"github.com/archgw/archgw/internal/json"
	"github.com/archgw/archgw/internal/sse"
)

// converseFrames encodes ConverseStream events in AWS event stream framing.
func converseFrames(t *testing.T, events ...*awsbedrock.ConverseStreamEvent) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := eventstream.NewEncoder()
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		require.NoError(t, err)
		require.NoError(t, enc.Encode(&buf, eventstream.Message{
			Headers: eventstream.Headers{{Name: ":message-type", Value: eventstream.StringValue("event")}},
			Payload: payload,
		}))
	}
	return buf.Bytes()
}

func TestOpenAIToBedrockRequestBody(t *testing.T) {
	tr, err := NewChatTranslator(DialectBedrockConverse, 0)
	require.NoError(t, err)
	body, err := tr.RequestBody(nil, &openai.ChatCompletionRequest{
		Model:       "anthropic.claude-3-5-sonnet-20241022-v2:0",
		Temperature: ptrFloat64Val(0.2),
		MaxTokens:   ptrInt64Val(300),
		Stop:        &openai.StopUnion{Values: []string{"END"}},
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("be brief"),
			openai.UserMessage("hello"),
		},
	})
	require.NoError(t, err)

	// The model id rides on the request path, never in the body.
	require.False(t, gjson.GetBytes(body, "model").Exists())
	require.Equal(t, 0.2, gjson.GetBytes(body, "inferenceConfig.temperature").Float())
	require.Equal(t, int64(300), gjson.GetBytes(body, "inferenceConfig.maxTokens").Int())
	require.Equal(t, "END", gjson.GetBytes(body, "inferenceConfig.stopSequences.0").String())
	require.Equal(t, "be brief", gjson.GetBytes(body, "system.0.text").String())
	require.Equal(t, "user", gjson.GetBytes(body, "messages.0.role").String())
	require.Equal(t, "hello", gjson.GetBytes(body, "messages.0.content.0.text").String())
}

func TestOpenAIToBedrockMaxCompletionTokensWins(t *testing.T) {
	tr, err := NewChatTranslator(DialectBedrockConverse, 0)
	require.NoError(t, err)
	body, err := tr.RequestBody(nil, &openai.ChatCompletionRequest{
		Model:               "m",
		MaxCompletionTokens: ptrInt64Val(111),
		MaxTokens:           ptrInt64Val(222),
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage("x")},
	})
	require.NoError(t, err)
	require.Equal(t, int64(111), gjson.GetBytes(body, "inferenceConfig.maxTokens").Int())
}

func TestOpenAIToBedrockToolResult(t *testing.T) {
	tr, err := NewChatTranslator(DialectBedrockConverse, 0)
	require.NoError(t, err)
	body, err := tr.RequestBody(nil, &openai.ChatCompletionRequest{
		Model: "m",
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("weather?"),
			{Assistant: &openai.ChatCompletionAssistantMessageParam{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ChatCompletionMessageToolCallParam{{
					ID:   "tooluse_1",
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      "get_weather",
						Arguments: `{"city":"SF"}`,
					},
				}},
			}},
			{Tool: &openai.ChatCompletionToolMessageParam{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: "tooluse_1",
				Content:    openai.TextContent("sunny"),
			}},
		},
	})
	require.NoError(t, err)

	assistant := gjson.GetBytes(body, "messages.1")
	require.Equal(t, "assistant", assistant.Get("role").String())
	require.Equal(t, "tooluse_1", assistant.Get("content.0.toolUse.toolUseId").String())
	require.Equal(t, "SF", assistant.Get("content.0.toolUse.input.city").String())

	result := gjson.GetBytes(body, "messages.2")
	require.Equal(t, "user", result.Get("role").String())
	require.Equal(t, "tooluse_1", result.Get("content.0.toolResult.toolUseId").String())
	require.Equal(t, "sunny", result.Get("content.0.toolResult.content.0.text").String())
}

func TestOpenAIToBedrockToolChoice(t *testing.T) {
	tr, err := NewChatTranslator(DialectBedrockConverse, 0)
	require.NoError(t, err)
	base := func(tc *openai.ToolChoiceUnion) *openai.ChatCompletionRequest {
		return &openai.ChatCompletionRequest{
			Model:    "m",
			Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage("x")},
			Tools: []openai.Tool{{
				Type:     "function",
				Function: openai.FunctionDefinition{Name: "get_weather", Parameters: map[string]any{"type": "object"}},
			}},
			ToolChoice: tc,
		}
	}

	body, err := tr.RequestBody(nil, base(&openai.ToolChoiceUnion{Mode: "required"}))
	require.NoError(t, err)
	require.True(t, gjson.GetBytes(body, "toolConfig.toolChoice.any").Exists())

	body, err = tr.RequestBody(nil, base(&openai.ToolChoiceUnion{Mode: "auto"}))
	require.NoError(t, err)
	require.True(t, gjson.GetBytes(body, "toolConfig.toolChoice.auto").Exists())

	// Converse has no "none" mode; it degrades to auto.
	body, err = tr.RequestBody(nil, base(&openai.ToolChoiceUnion{Mode: "none"}))
	require.NoError(t, err)
	require.True(t, gjson.GetBytes(body, "toolConfig.toolChoice.auto").Exists())

	body, err = tr.RequestBody(nil, base(&openai.ToolChoiceUnion{Function: &openai.ToolChoiceFunction{
		Type:     "function",
		Function: openai.ToolChoiceFunctionName{Name: "get_weather"},
	}}))
	require.NoError(t, err)
	require.Equal(t, "get_weather", gjson.GetBytes(body, "toolConfig.toolChoice.tool.name").String())

	require.Equal(t, "get_weather", gjson.GetBytes(body, "toolConfig.tools.0.toolSpec.name").String())
	require.Equal(t, "object", gjson.GetBytes(body, "toolConfig.tools.0.toolSpec.inputSchema.json.type").String())
}

func TestOpenAIToBedrockImages(t *testing.T) {
	tr, err := NewChatTranslator(DialectBedrockConverse, 0)
	require.NoError(t, err)
	mkReq := func(url string) *openai.ChatCompletionRequest {
		return &openai.ChatCompletionRequest{
			Model: "m",
			Messages: []openai.ChatCompletionMessageParamUnion{{
				User: &openai.ChatCompletionUserMessageParam{
					Role: openai.ChatMessageRoleUser,
					Content: openai.UserContentUnion{Parts: []openai.ChatCompletionContentPartUserUnionParam{
						{ImageContent: &openai.ChatCompletionContentPartImageParam{
							Type:     "image_url",
							ImageURL: openai.ChatCompletionImageURL{URL: url},
						}},
					}},
				},
			}},
		}
	}

	body, err := tr.RequestBody(nil, mkReq("data:image/png;base64,aGVsbG8="))
	require.NoError(t, err)
	require.Equal(t, "png", gjson.GetBytes(body, "messages.0.content.0.image.format").String())
	require.Equal(t, "aGVsbG8=", gjson.GetBytes(body, "messages.0.content.0.image.source.bytes").String())

	_, err = tr.RequestBody(nil, mkReq("https://example.com/cat.png"))
	var te *TransformError
	require.ErrorAs(t, err, &te)
}

func TestBedrockResponseToChat(t *testing.T) {
	tr, err := NewChatTranslator(DialectBedrockConverse, 0)
	require.NoError(t, err)
	body, usage, err := tr.ResponseBody([]byte(`{
		"output": {"message": {"role": "assistant", "content": [
			{"text": "It is "},
			{"text": "sunny."},
			{"toolUse": {"toolUseId": "tooluse_2", "name": "get_weather", "input": {"city": "SF"}}}
		]}},
		"stopReason": "tool_use",
		"usage": {"inputTokens": 10, "outputTokens": 5, "totalTokens": 15}
	}`))
	require.NoError(t, err)

	require.Equal(t, "chat.completion", gjson.GetBytes(body, "object").String())
	choice := gjson.GetBytes(body, "choices.0")
	require.Equal(t, "It is sunny.", choice.Get("message.content").String())
	require.Equal(t, "tool_calls", choice.Get("finish_reason").String())
	require.Equal(t, "tooluse_2", choice.Get("message.tool_calls.0.id").String())
	require.Equal(t, Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}, usage)
}

func TestBedrockStopReasonToOpenAI(t *testing.T) {
	tests := []struct {
		reason string
		want   string
	}{
		{"end_turn", "stop"},
		{"max_tokens", "length"},
		{"tool_use", "tool_calls"},
		{"content_filtered", "content_filter"},
		{"guardrail_intervened", "content_filter"},
		{"stop_sequence", "stop"},
	}
	tr, err := NewChatTranslator(DialectBedrockConverse, 0)
	require.NoError(t, err)
	for _, tc := range tests {
		t.Run(tc.reason, func(t *testing.T) {
			body, _, err := tr.ResponseBody([]byte(`{"output":{"message":{"role":"assistant","content":[{"text":"x"}]}},"stopReason":"` + tc.reason + `","usage":{}}`))
			require.NoError(t, err)
			require.Equal(t, tc.want, gjson.GetBytes(body, "choices.0.finish_reason").String())
		})
	}
}

func TestBedrockToChatStream(t *testing.T) {
	tr, err := NewChatTranslator(DialectBedrockConverse, 0)
	require.NoError(t, err)
	dec := tr.NewStreamDecoder("anthropic.claude-3-5-sonnet-20241022-v2:0", slog.Default(), nil)

	hel := "Hel"
	lo := "lo"
	wire := converseFrames(t,
		&awsbedrock.ConverseStreamEvent{Role: "assistant"},
		&awsbedrock.ConverseStreamEvent{ContentBlockIndex: 0, Delta: &awsbedrock.ConverseStreamEventContentBlockDelta{Text: &hel}},
		&awsbedrock.ConverseStreamEvent{ContentBlockIndex: 0, Delta: &awsbedrock.ConverseStreamEventContentBlockDelta{Text: &lo}},
		&awsbedrock.ConverseStreamEvent{StopReason: "end_turn"},
		&awsbedrock.ConverseStreamEvent{Usage: &awsbedrock.TokenUsage{InputTokens: 4, OutputTokens: 2, TotalTokens: 6}},
	)

	events, err := dec.Process(wire)
	require.NoError(t, err)
	require.Len(t, events, 5)

	require.Equal(t, "assistant", gjson.GetBytes(events[0].Data, "choices.0.delta.role").String())
	require.Equal(t, "anthropic.claude-3-5-sonnet-20241022-v2:0", gjson.GetBytes(events[0].Data, "model").String())
	require.Equal(t, "Hel", gjson.GetBytes(events[1].Data, "choices.0.delta.content").String())
	require.Equal(t, "lo", gjson.GetBytes(events[2].Data, "choices.0.delta.content").String())
	require.Equal(t, "stop", gjson.GetBytes(events[3].Data, "choices.0.finish_reason").String())
	require.Equal(t, int64(6), gjson.GetBytes(events[4].Data, "usage.total_tokens").Int())

	tail, err := dec.Finish()
	require.NoError(t, err)
	require.Len(t, tail, 1)
	require.True(t, tail[0].IsDone())
}

// Frames split at arbitrary byte boundaries must decode identically.
func TestBedrockToChatStreamSplitFrames(t *testing.T) {
	tr, err := NewChatTranslator(DialectBedrockConverse, 0)
	require.NoError(t, err)

	text := "hello"
	wire := converseFrames(t,
		&awsbedrock.ConverseStreamEvent{Role: "assistant"},
		&awsbedrock.ConverseStreamEvent{ContentBlockIndex: 0, Delta: &awsbedrock.ConverseStreamEventContentBlockDelta{Text: &text}},
		&awsbedrock.ConverseStreamEvent{StopReason: "end_turn"},
	)

	for _, chunkSize := range []int{1, 3, 16, len(wire)} {
		dec := tr.NewStreamDecoder("m", slog.Default(), nil)
		var events []sse.Event
		for i := 0; i < len(wire); i += chunkSize {
			end := min(i+chunkSize, len(wire))
			got, err := dec.Process(wire[i:end])
			require.NoError(t, err)
			events = append(events, got...)
		}
		require.Len(t, events, 3, "chunk size %d", chunkSize)
		require.Equal(t, "hello", gjson.GetBytes(events[1].Data, "choices.0.delta.content").String())
	}
}

func TestBedrockToChatStreamToolUse(t *testing.T) {
	tr, err := NewChatTranslator(DialectBedrockConverse, 0)
	require.NoError(t, err)
	dec := tr.NewStreamDecoder("m", slog.Default(), nil)

	wire := converseFrames(t,
		&awsbedrock.ConverseStreamEvent{Role: "assistant"},
		&awsbedrock.ConverseStreamEvent{ContentBlockIndex: 1, Start: &awsbedrock.ConverseStreamEventContentBlockStart{
			ToolUse: &awsbedrock.ToolUseBlockStart{ToolUseID: "tooluse_7", Name: "get_weather"},
		}},
		&awsbedrock.ConverseStreamEvent{ContentBlockIndex: 1, Delta: &awsbedrock.ConverseStreamEventContentBlockDelta{
			ToolUse: &awsbedrock.ToolUseBlockDelta{Input: `{"city":"SF"}`},
		}},
	)
	events, err := dec.Process(wire)
	require.NoError(t, err)
	require.Len(t, events, 3)

	start := events[1]
	require.Equal(t, "tooluse_7", gjson.GetBytes(start.Data, "choices.0.delta.tool_calls.0.id").String())
	require.Equal(t, "get_weather", gjson.GetBytes(start.Data, "choices.0.delta.tool_calls.0.function.name").String())
	require.Equal(t, int64(1), gjson.GetBytes(start.Data, "choices.0.delta.tool_calls.0.index").Int())

	args := events[2]
	require.Equal(t, `{"city":"SF"}`, gjson.GetBytes(args.Data, "choices.0.delta.tool_calls.0.function.arguments").String())
}

func TestBedrockStreamException(t *testing.T) {
	tr, err := NewChatTranslator(DialectBedrockConverse, 0)
	require.NoError(t, err)
	dec := tr.NewStreamDecoder("m", slog.Default(), nil)

	var buf bytes.Buffer
	enc := eventstream.NewEncoder()
	require.NoError(t, enc.Encode(&buf, eventstream.Message{
		Headers: eventstream.Headers{
			{Name: ":message-type", Value: eventstream.StringValue("exception")},
			{Name: ":exception-type", Value: eventstream.StringValue("throttlingException")},
		},
		Payload: []byte(`{"message":"rate exceeded"}`),
	}))

	_, err = dec.Process(buf.Bytes())
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate exceeded")
}

// A corrupt frame must fail the stream immediately rather than being
// re-buffered as a partial frame.
func TestBedrockStreamCorruptFrameFails(t *testing.T) {
	wire := converseFrames(t, &awsbedrock.ConverseStreamEvent{Role: "assistant"})
	// Flip a payload byte so the trailing message checksum no longer matches.
	wire[len(wire)-5] ^= 0xff

	dec := NewBedrockToChatDecoder("m")
	_, err := dec.Process(wire)
	require.Error(t, err)
	require.Contains(t, err.Error(), "malformed bedrock stream frame")

	// Truncated frames are still carried over, not treated as corruption.
	whole := converseFrames(t, &awsbedrock.ConverseStreamEvent{Role: "assistant"})
	dec = NewBedrockToChatDecoder("m")
	events, err := dec.Process(whole[:len(whole)/2])
	require.NoError(t, err)
	require.Empty(t, events)
	events, err = dec.Process(whole[len(whole)/2:])
	require.NoError(t, err)
	require.Len(t, events, 1)
}
