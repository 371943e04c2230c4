// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package translator

import (
	"fmt"
	"log/slog"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/archgw/archgw/internal/apischema/anthropic"
	"github.com/archgw/archgw/internal/apischema/openai"
	"github.com/archgw/archgw/internal/json"
	"github.com/archgw/archgw/internal/sse"
)

// chatPassthrough serves an OpenAI Chat client against an OpenAI-compatible
// upstream. The model id is rewritten in place on the raw body so client
// fields the schema does not model survive the hop; responses pass through
// untouched apart from usage extraction.
type chatPassthrough struct{}

func (chatPassthrough) RequestBody(raw []byte, req *openai.ChatCompletionRequest) ([]byte, error) {
	if len(raw) > 0 {
		body, err := sjson.SetBytes(raw, "model", req.GetModel())
		if err != nil {
			return nil, fmt.Errorf("failed to rewrite model: %w", err)
		}
		return body, nil
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}
	return body, nil
}

func (chatPassthrough) ResponseBody(body []byte) ([]byte, Usage, error) {
	return body, chatUsageFromJSON(body), nil
}

func (chatPassthrough) NewStreamDecoder(_ string, logger *slog.Logger, skips sse.SkipRecorder) StreamDecoder {
	return sse.NewChunkProcessor(passthroughTransform, logger, skips)
}

// messagesPassthrough serves an Anthropic Messages client against the native
// Anthropic upstream.
type messagesPassthrough struct{}

func (messagesPassthrough) RequestBody(raw []byte, req *anthropic.MessagesRequest) ([]byte, error) {
	if len(raw) > 0 {
		body, err := sjson.SetBytes(raw, "model", req.GetModel())
		if err != nil {
			return nil, fmt.Errorf("failed to rewrite model: %w", err)
		}
		return body, nil
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messages request: %w", err)
	}
	return body, nil
}

func (messagesPassthrough) ResponseBody(body []byte) ([]byte, Usage, error) {
	return body, anthropicUsageFromJSON(body), nil
}

func (messagesPassthrough) NewStreamDecoder(_ string, logger *slog.Logger, skips sse.SkipRecorder) StreamDecoder {
	return sse.NewChunkProcessor(passthroughTransform, logger, skips)
}

// passthroughTransform forwards events verbatim once their payload is whole.
// A payload that is not yet valid JSON is assumed to be split at a chunk
// boundary and retried.
func passthroughTransform(ev sse.Event) ([]sse.Event, error) {
	if ev.IsDone() {
		return []sse.Event{ev}, nil
	}
	if len(ev.Data) > 0 && !json.Valid(ev.Data) {
		return nil, sse.ErrIncompleteEvent
	}
	return []sse.Event{ev}, nil
}

// chatUsageFromJSON reads the OpenAI usage block without a full unmarshal.
func chatUsageFromJSON(body []byte) Usage {
	u := gjson.GetBytes(body, "usage")
	if !u.Exists() {
		return Usage{}
	}
	return Usage{
		InputTokens:  int(u.Get("prompt_tokens").Int()),
		OutputTokens: int(u.Get("completion_tokens").Int()),
		TotalTokens:  int(u.Get("total_tokens").Int()),
	}
}

// anthropicUsageFromJSON reads the Anthropic usage block.
func anthropicUsageFromJSON(body []byte) Usage {
	u := gjson.GetBytes(body, "usage")
	if !u.Exists() {
		return Usage{}
	}
	in := int(u.Get("input_tokens").Int())
	out := int(u.Get("output_tokens").Int())
	return Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}
