// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package translator

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/archgw/archgw/internal/apischema/anthropic"
	"github.com/archgw/archgw/internal/sse"
)

func TestAnthropicToOpenAIRequestBody(t *testing.T) {
	tr, err := NewMessagesTranslator(DialectOpenAIChat)
	require.NoError(t, err)

	topK := int64(40)
	req := &anthropic.MessagesRequest{
		Model:         "gpt-4o",
		MaxTokens:     512,
		Stream:        true,
		Temperature:   ptrFloat64Val(0.5),
		TopK:          &topK,
		StopSequences: []string{"END", "STOP"},
		System:        anthropic.SystemText("be helpful"),
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: anthropic.ContentText("hello")},
			{Role: anthropic.RoleAssistant, Content: anthropic.ContentText("hi")},
			{Role: anthropic.RoleUser, Content: anthropic.ContentText("bye")},
		},
	}
	body, err := tr.RequestBody(nil, req)
	require.NoError(t, err)

	require.Equal(t, "gpt-4o", gjson.GetBytes(body, "model").String())
	require.Equal(t, int64(512), gjson.GetBytes(body, "max_tokens").Int())
	require.True(t, gjson.GetBytes(body, "stream").Bool())
	require.Equal(t, 0.5, gjson.GetBytes(body, "temperature").Float())
	// top_k has no Chat Completions equivalent.
	require.False(t, gjson.GetBytes(body, "top_k").Exists())
	stops := gjson.GetBytes(body, "stop").Array()
	require.Len(t, stops, 2)
	require.Equal(t, "END", stops[0].String())

	msgs := gjson.GetBytes(body, "messages").Array()
	require.Len(t, msgs, 4)
	require.Equal(t, "system", msgs[0].Get("role").String())
	require.Equal(t, "be helpful", msgs[0].Get("content").String())
	require.Equal(t, "user", msgs[1].Get("role").String())
	require.Equal(t, "assistant", msgs[2].Get("role").String())
	require.Equal(t, "user", msgs[3].Get("role").String())
}

func TestAnthropicToOpenAIToolResultBecomesToolMessage(t *testing.T) {
	tr, err := NewMessagesTranslator(DialectOpenAIChat)
	require.NoError(t, err)
	body, err := tr.RequestBody(nil, &anthropic.MessagesRequest{
		Model:     "gpt-4o",
		MaxTokens: 100,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: anthropic.ContentText("weather?")},
			{Role: anthropic.RoleAssistant, Content: anthropic.ContentBlocks(anthropic.ContentBlock{
				ToolUse: &anthropic.ToolUseBlock{
					Type:  anthropic.ContentTypeToolUse,
					ID:    "toolu_1",
					Name:  "get_weather",
					Input: map[string]any{"city": "SF"},
				},
			})},
			{Role: anthropic.RoleUser, Content: anthropic.ContentBlocks(anthropic.ContentBlock{
				ToolResult: &anthropic.ToolResultBlock{
					Type:      anthropic.ContentTypeToolResult,
					ToolUseID: "toolu_1",
					Content:   anthropic.ContentText("sunny"),
				},
			})},
		},
	})
	require.NoError(t, err)

	msgs := gjson.GetBytes(body, "messages").Array()
	require.Len(t, msgs, 3)

	assistant := msgs[1]
	require.Equal(t, "assistant", assistant.Get("role").String())
	require.Equal(t, "toolu_1", assistant.Get("tool_calls.0.id").String())
	require.Equal(t, "get_weather", assistant.Get("tool_calls.0.function.name").String())
	require.Equal(t, "SF", gjson.Get(assistant.Get("tool_calls.0.function.arguments").String(), "city").String())

	tool := msgs[2]
	require.Equal(t, "tool", tool.Get("role").String())
	require.Equal(t, "toolu_1", tool.Get("tool_call_id").String())
	require.Equal(t, "sunny", tool.Get("content").String())
}

func TestAnthropicToOpenAIImageBlocks(t *testing.T) {
	tr, err := NewMessagesTranslator(DialectOpenAIChat)
	require.NoError(t, err)

	t.Run("base64 becomes data url", func(t *testing.T) {
		body, err := tr.RequestBody(nil, &anthropic.MessagesRequest{
			Model:     "gpt-4o",
			MaxTokens: 100,
			Messages: []anthropic.Message{{
				Role: anthropic.RoleUser,
				Content: anthropic.ContentBlocks(
					anthropic.NewTextBlock("what is this"),
					anthropic.ContentBlock{Image: &anthropic.ImageBlock{
						Type:   anthropic.ContentTypeImage,
						Source: anthropic.ImageSource{Type: "base64", MediaType: "image/png", Data: "aGVsbG8="},
					}},
				),
			}},
		})
		require.NoError(t, err)
		url := gjson.GetBytes(body, "messages.0.content.1.image_url.url").String()
		require.Equal(t, "data:image/png;base64,aGVsbG8=", url)
	})

	t.Run("url passes through", func(t *testing.T) {
		body, err := tr.RequestBody(nil, &anthropic.MessagesRequest{
			Model:     "gpt-4o",
			MaxTokens: 100,
			Messages: []anthropic.Message{{
				Role: anthropic.RoleUser,
				Content: anthropic.ContentBlocks(anthropic.ContentBlock{Image: &anthropic.ImageBlock{
					Type:   anthropic.ContentTypeImage,
					Source: anthropic.ImageSource{Type: "url", URL: "https://example.com/cat.png"},
				}}),
			}},
		})
		require.NoError(t, err)
		require.Equal(t, "https://example.com/cat.png", gjson.GetBytes(body, "messages.0.content.0.image_url.url").String())
	})
}

func TestAnthropicToOpenAIToolChoice(t *testing.T) {
	tr, err := NewMessagesTranslator(DialectOpenAIChat)
	require.NoError(t, err)
	base := func(tc *anthropic.ToolChoiceUnion) *anthropic.MessagesRequest {
		return &anthropic.MessagesRequest{
			Model:      "gpt-4o",
			MaxTokens:  100,
			Messages:   []anthropic.Message{{Role: anthropic.RoleUser, Content: anthropic.ContentText("x")}},
			ToolChoice: tc,
		}
	}

	body, err := tr.RequestBody(nil, base(&anthropic.ToolChoiceUnion{Type: anthropic.ToolChoiceAny}))
	require.NoError(t, err)
	require.Equal(t, "required", gjson.GetBytes(body, "tool_choice").String())

	body, err = tr.RequestBody(nil, base(&anthropic.ToolChoiceUnion{Type: anthropic.ToolChoiceNone}))
	require.NoError(t, err)
	require.Equal(t, "none", gjson.GetBytes(body, "tool_choice").String())

	body, err = tr.RequestBody(nil, base(&anthropic.ToolChoiceUnion{Type: anthropic.ToolChoiceAuto}))
	require.NoError(t, err)
	require.Equal(t, "auto", gjson.GetBytes(body, "tool_choice").String())

	body, err = tr.RequestBody(nil, base(&anthropic.ToolChoiceUnion{Type: anthropic.ToolChoiceTool, Name: "get_weather"}))
	require.NoError(t, err)
	require.Equal(t, "function", gjson.GetBytes(body, "tool_choice.type").String())
	require.Equal(t, "get_weather", gjson.GetBytes(body, "tool_choice.function.name").String())
}

func TestChatResponseToAnthropic(t *testing.T) {
	tr, err := NewMessagesTranslator(DialectOpenAIChat)
	require.NoError(t, err)
	body, usage, err := tr.ResponseBody([]byte(`{
		"id": "chatcmpl-1",
		"object": "chat.completion",
		"model": "gpt-4o",
		"choices": [{
			"index": 0,
			"message": {
				"role": "assistant",
				"content": "Sunny today.",
				"tool_calls": [{
					"id": "call_7",
					"type": "function",
					"function": {"name": "get_weather", "arguments": "{\"city\":\"SF\"}"}
				}]
			},
			"finish_reason": "tool_calls"
		}],
		"usage": {"prompt_tokens": 11, "completion_tokens": 7, "total_tokens": 18}
	}`))
	require.NoError(t, err)

	require.Equal(t, "chatcmpl-1", gjson.GetBytes(body, "id").String())
	require.Equal(t, "message", gjson.GetBytes(body, "type").String())
	require.Equal(t, "assistant", gjson.GetBytes(body, "role").String())
	require.Equal(t, "gpt-4o", gjson.GetBytes(body, "model").String())

	content := gjson.GetBytes(body, "content").Array()
	require.Len(t, content, 2)
	require.Equal(t, "text", content[0].Get("type").String())
	require.Equal(t, "Sunny today.", content[0].Get("text").String())
	require.Equal(t, "tool_use", content[1].Get("type").String())
	require.Equal(t, "call_7", content[1].Get("id").String())
	require.Equal(t, "SF", content[1].Get("input.city").String())

	require.Equal(t, "tool_use", gjson.GetBytes(body, "stop_reason").String())
	require.Equal(t, int64(11), gjson.GetBytes(body, "usage.input_tokens").Int())
	require.Equal(t, int64(7), gjson.GetBytes(body, "usage.output_tokens").Int())
	require.Equal(t, Usage{InputTokens: 11, OutputTokens: 7, TotalTokens: 18}, usage)
}

func TestChatResponseToAnthropicGeneratesMessageID(t *testing.T) {
	tr, err := NewMessagesTranslator(DialectOpenAIChat)
	require.NoError(t, err)
	body, _, err := tr.ResponseBody([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(gjson.GetBytes(body, "id").String(), "msg_"))
	require.Equal(t, "end_turn", gjson.GetBytes(body, "stop_reason").String())
}

func TestChatFinishReasonToAnthropic(t *testing.T) {
	tests := []struct {
		finish string
		want   string
	}{
		{"stop", "end_turn"},
		{"length", "max_tokens"},
		{"tool_calls", "tool_use"},
		{"content_filter", "end_turn"},
	}
	tr, err := NewMessagesTranslator(DialectOpenAIChat)
	require.NoError(t, err)
	for _, tc := range tests {
		t.Run(tc.finish, func(t *testing.T) {
			body, _, err := tr.ResponseBody([]byte(`{"id":"c","choices":[{"index":0,"message":{"role":"assistant","content":"x"},"finish_reason":"` + tc.finish + `"}],"usage":{}}`))
			require.NoError(t, err)
			require.Equal(t, tc.want, gjson.GetBytes(body, "stop_reason").String())
		})
	}
}

// End to end: a chat completion chunk stream decoded and re-buffered must
// yield the canonical Messages event envelope, with no [DONE] sentinel leaking
// to the client.
func TestChatToAnthropicStreamEnvelope(t *testing.T) {
	tr, err := NewMessagesTranslator(DialectOpenAIChat)
	require.NoError(t, err)
	dec := tr.NewStreamDecoder("gpt-4o", slog.Default(), nil)
	buf := NewStreamBuffer(DialectAnthropicMessages, DialectOpenAIChat)

	wire := []byte("" +
		"data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
		"data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"}}]}\n\n" +
		"data: {\"id\":\"chatcmpl-1\",\"object\":\"chat.completion.chunk\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2,\"total_tokens\":7}}\n\n" +
		"data: [DONE]\n\n")

	var client []byte
	// Feed in 7-byte chunks to exercise boundary handling along the way.
	for i := 0; i < len(wire); i += 7 {
		end := min(i+7, len(wire))
		events, err := dec.Process(wire[i:end])
		require.NoError(t, err)
		for _, ev := range events {
			out, err := buf.Push(ev)
			require.NoError(t, err)
			client = append(client, out...)
		}
	}
	tail, err := dec.Finish()
	require.NoError(t, err)
	for _, ev := range tail {
		out, err := buf.Push(ev)
		require.NoError(t, err)
		client = append(client, out...)
	}
	closing, err := buf.Close()
	require.NoError(t, err)
	client = append(client, closing...)

	require.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, eventNames(t, client))
	require.NotContains(t, string(client), "[DONE]")

	events, _ := sse.Parse(client)
	start := events[0]
	require.Equal(t, "chatcmpl-1", gjson.GetBytes(start.Data, "message.id").String())
	require.Equal(t, "gpt-4o", gjson.GetBytes(start.Data, "message.model").String())
	delta := events[5]
	require.Equal(t, "end_turn", gjson.GetBytes(delta.Data, "delta.stop_reason").String())
	require.Equal(t, int64(5), gjson.GetBytes(delta.Data, "usage.input_tokens").Int())
	require.Equal(t, int64(2), gjson.GetBytes(delta.Data, "usage.output_tokens").Int())
}

func TestChatToAnthropicStreamToolCalls(t *testing.T) {
	tr, err := NewMessagesTranslator(DialectOpenAIChat)
	require.NoError(t, err)
	dec := tr.NewStreamDecoder("gpt-4o", slog.Default(), nil)

	wire := []byte("" +
		"data: {\"id\":\"c1\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Checking\"}}]}\n\n" +
		"data: {\"id\":\"c1\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_9\",\"function\":{\"name\":\"get_weather\",\"arguments\":\"\"}}]}}]}\n\n" +
		"data: {\"id\":\"c1\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"{\\\"city\\\":\\\"SF\\\"}\"}}]}}]}\n\n")

	events, err := dec.Process(wire)
	require.NoError(t, err)

	var names []string
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	require.Equal(t, []string{
		"message_start",
		"content_block_start", // text block at index 0
		"content_block_delta",
		"content_block_stop",  // text block closed before the tool block opens
		"content_block_start", // tool_use block at index 1
		"content_block_delta",
	}, names)

	toolStart := events[4]
	require.Equal(t, int64(1), gjson.GetBytes(toolStart.Data, "index").Int())
	require.Equal(t, "tool_use", gjson.GetBytes(toolStart.Data, "content_block.type").String())
	require.Equal(t, "call_9", gjson.GetBytes(toolStart.Data, "content_block.id").String())
	require.Equal(t, "get_weather", gjson.GetBytes(toolStart.Data, "content_block.name").String())

	argDelta := events[5]
	require.Equal(t, "input_json_delta", gjson.GetBytes(argDelta.Data, "delta.type").String())
	require.Equal(t, `{"city":"SF"}`, gjson.GetBytes(argDelta.Data, "delta.partial_json").String())
}

// stream_options.include_usage sends a final usage-only chunk with no choices;
// it becomes a usage-bearing message_delta that the buffer merges.
func TestChatToAnthropicStreamUsageOnlyChunk(t *testing.T) {
	tr, err := NewMessagesTranslator(DialectOpenAIChat)
	require.NoError(t, err)
	dec := tr.NewStreamDecoder("gpt-4o", slog.Default(), nil)
	buf := NewAnthropicStreamBuffer()

	wire := []byte("" +
		"data: {\"id\":\"c1\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"hi\"}}]}\n\n" +
		"data: {\"id\":\"c1\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n" +
		"data: {\"id\":\"c1\",\"model\":\"gpt-4o\",\"choices\":[],\"usage\":{\"prompt_tokens\":8,\"completion_tokens\":3,\"total_tokens\":11}}\n\n" +
		"data: [DONE]\n\n")

	events, err := dec.Process(wire)
	require.NoError(t, err)
	var client []byte
	for _, ev := range events {
		out, err := buf.Push(ev)
		require.NoError(t, err)
		client = append(client, out...)
	}

	parsed, _ := sse.Parse(client)
	var deltas []sse.Event
	for _, ev := range parsed {
		if ev.Name == "message_delta" {
			deltas = append(deltas, ev)
		}
	}
	require.Len(t, deltas, 1)
	require.Equal(t, "end_turn", gjson.GetBytes(deltas[0].Data, "delta.stop_reason").String())
	require.Equal(t, int64(8), gjson.GetBytes(deltas[0].Data, "usage.input_tokens").Int())
	require.Equal(t, int64(3), gjson.GetBytes(deltas[0].Data, "usage.output_tokens").Int())
}
