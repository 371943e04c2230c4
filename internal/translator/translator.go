// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package translator implements the request/response transforms between the
// client dialects (OpenAI Chat, OpenAI Responses, Anthropic Messages) and the
// upstream dialects (OpenAI, Anthropic, Bedrock Converse), for both JSON
// bodies and streaming events.
package translator

import (
	"fmt"
	"log/slog"

	"github.com/archgw/archgw/internal/apischema/anthropic"
	"github.com/archgw/archgw/internal/apischema/openai"
	"github.com/archgw/archgw/internal/sse"
)

// Dialect identifies one concrete API wire format.
type Dialect string

const (
	DialectOpenAIChat        Dialect = "openai-chat"
	DialectOpenAIResponses   Dialect = "openai-responses"
	DialectAnthropicMessages Dialect = "anthropic-messages"
	DialectBedrockConverse   Dialect = "bedrock-converse"
)

// TransformError reports a source feature that has no representation in the
// target dialect. Callers surface it as HTTP 400.
type TransformError struct {
	From    Dialect
	To      Dialect
	Feature string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("cannot translate %s to %s: unsupported feature %q", e.From, e.To, e.Feature)
}

func unsupported(from, to Dialect, feature string) error {
	return &TransformError{From: from, To: to, Feature: feature}
}

// Usage is the dialect-neutral token accounting extracted from upstream
// responses.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// ChatTranslator translates an OpenAI Chat client exchange for one upstream
// dialect. RequestBody and ResponseBody cover the non-streaming path;
// NewStreamDecoder builds the decoder for one streaming response (SSE chunk
// processor for SSE upstreams, event-stream unframing for Bedrock). Decoders
// are single-use: they carry per-response state.
//
// RequestBody receives both the raw client body and its parsed form. A
// same-dialect translator mutates raw in place so client fields the schema
// does not model survive the hop; cross-dialect translators rebuild the body
// from the parsed form and may pass raw as nil.
type ChatTranslator interface {
	RequestBody(raw []byte, req *openai.ChatCompletionRequest) ([]byte, error)
	ResponseBody(body []byte) ([]byte, Usage, error)
	NewStreamDecoder(model string, logger *slog.Logger, skips sse.SkipRecorder) StreamDecoder
}

// MessagesTranslator is the Anthropic Messages client counterpart.
type MessagesTranslator interface {
	RequestBody(raw []byte, req *anthropic.MessagesRequest) ([]byte, error)
	ResponseBody(body []byte) ([]byte, Usage, error)
	NewStreamDecoder(model string, logger *slog.Logger, skips sse.SkipRecorder) StreamDecoder
}

// The OpenAI Responses client dialect has no translator of its own: when the
// upstream does not natively speak the Responses API, ResponsesToChatRequest
// lowers the request into the Chat dialect and the exchange then composes
// with the chat translator for the actual upstream. The streaming side is
// synthesized by ResponsesStreamBuffer from the chat chunks.

// NewChatTranslator picks the translator for an OpenAI Chat client talking to
// the given upstream dialect. defaultMaxTokens seeds Anthropic's required
// max_tokens when the client omitted it.
func NewChatTranslator(upstream Dialect, defaultMaxTokens int64) (ChatTranslator, error) {
	switch upstream {
	case DialectOpenAIChat:
		return &chatPassthrough{}, nil
	case DialectAnthropicMessages:
		return &openAIToAnthropicTranslator{defaultMaxTokens: defaultMaxTokens}, nil
	case DialectBedrockConverse:
		return &openAIToBedrockTranslator{}, nil
	default:
		return nil, fmt.Errorf("no chat translator for upstream dialect %q", upstream)
	}
}

// NewMessagesTranslator picks the translator for an Anthropic Messages client.
func NewMessagesTranslator(upstream Dialect) (MessagesTranslator, error) {
	switch upstream {
	case DialectAnthropicMessages:
		return &messagesPassthrough{}, nil
	case DialectOpenAIChat:
		return &anthropicToOpenAITranslator{}, nil
	case DialectBedrockConverse:
		return &anthropicToBedrockTranslator{}, nil
	default:
		return nil, fmt.Errorf("no messages translator for upstream dialect %q", upstream)
	}
}
