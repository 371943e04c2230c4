// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package anthropic contains the wire types for the Anthropic Messages API,
// both as a client-facing dialect and as an upstream dialect.
package anthropic

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/archgw/archgw/internal/json"
)

// Version is the anthropic-version header value sent to the native API.
const Version = "2023-06-01"

// Message roles. The Messages API has no system role; system prompts ride on
// the request's top-level "system" field.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MessagesRequest is a request to POST /v1/messages.
// https://docs.anthropic.com/en/api/messages
type MessagesRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int64     `json:"max_tokens"`

	System *SystemUnion `json:"system,omitempty"`

	Stream        bool     `json:"stream,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int64   `json:"top_k,omitempty"`
	StopSequences []string `json:"stop_sequences,omitempty"`

	Tools      []Tool           `json:"tools,omitempty"`
	ToolChoice *ToolChoiceUnion `json:"tool_choice,omitempty"`

	Metadata *Metadata `json:"metadata,omitempty"`
}

// GetModel returns the request model id.
func (r *MessagesRequest) GetModel() string { return r.Model }

// SetModel overrides the request model id.
func (r *MessagesRequest) SetModel(m string) { r.Model = m }

// IsStreaming reports whether the client asked for SSE.
func (r *MessagesRequest) IsStreaming() bool { return r.Stream }

// Metadata is the request metadata object.
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// SystemUnion is a string or an array of text blocks on the wire.
type SystemUnion struct {
	Text   string
	Blocks []TextBlock
}

// SystemText builds a string-form system prompt.
func SystemText(s string) *SystemUnion { return &SystemUnion{Text: s} }

// Flatten joins the union into plain text.
func (s *SystemUnion) Flatten() string {
	if len(s.Blocks) == 0 {
		return s.Text
	}
	var out string
	for _, b := range s.Blocks {
		if out != "" {
			out += "\n"
		}
		out += b.Text
	}
	return out
}

func (s *SystemUnion) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		s.Text = text
		return nil
	}
	var blocks []TextBlock
	if err := json.Unmarshal(data, &blocks); err == nil {
		s.Blocks = blocks
		return nil
	}
	return errors.New("system must be a string or an array of text blocks")
}

func (s SystemUnion) MarshalJSON() ([]byte, error) {
	if len(s.Blocks) > 0 {
		return json.Marshal(s.Blocks)
	}
	return json.Marshal(s.Text)
}

// Message is one conversation turn.
type Message struct {
	Role    string       `json:"role"`
	Content ContentUnion `json:"content"`
}

// ContentUnion is a string or an array of content blocks on the wire.
type ContentUnion struct {
	Text   string
	Blocks []ContentBlock
	set    bool
}

// ContentText builds string-form content.
func ContentText(s string) ContentUnion { return ContentUnion{Text: s, set: true} }

// ContentBlocks builds array-form content.
func ContentBlocks(blocks ...ContentBlock) ContentUnion {
	return ContentUnion{Blocks: blocks}
}

// Flatten joins the textual blocks into plain text, ignoring non-text blocks.
func (c *ContentUnion) Flatten() string {
	if len(c.Blocks) == 0 {
		return c.Text
	}
	var out string
	for _, b := range c.Blocks {
		if b.Text != nil {
			if out != "" {
				out += "\n"
			}
			out += b.Text.Text
		}
	}
	return out
}

func (c *ContentUnion) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.set = true
		return nil
	}
	var blocks []ContentBlock
	if err := json.Unmarshal(data, &blocks); err == nil {
		c.Blocks = blocks
		c.set = true
		return nil
	}
	return errors.New("content must be a string or an array of content blocks")
}

func (c ContentUnion) MarshalJSON() ([]byte, error) {
	if len(c.Blocks) > 0 {
		return json.Marshal(c.Blocks)
	}
	return json.Marshal(c.Text)
}

// Content block types.
const (
	ContentTypeText       = "text"
	ContentTypeImage      = "image"
	ContentTypeToolUse    = "tool_use"
	ContentTypeToolResult = "tool_result"
	ContentTypeThinking   = "thinking"
)

// ContentBlock is one content block, keyed by the "type" field. Exactly one
// of the pointers is set.
type ContentBlock struct {
	Text       *TextBlock
	Image      *ImageBlock
	ToolUse    *ToolUseBlock
	ToolResult *ToolResultBlock
	Thinking   *ThinkingBlock
}

type TextBlock struct {
	Type string `json:"type"` // Always "text".
	Text string `json:"text"`
}

// NewTextBlock builds a text content block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Text: &TextBlock{Type: ContentTypeText, Text: text}}
}

type ImageBlock struct {
	Type   string      `json:"type"`   // Always "image".
	Source ImageSource `json:"source"`
}

// ImageSource is a base64 payload or a URL, keyed by the "type" field.
type ImageSource struct {
	Type string `json:"type"` // "base64" or "url".
	// MediaType and Data are set for base64 sources.
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	// URL is set for url sources.
	URL string `json:"url,omitempty"`
}

type ToolUseBlock struct {
	Type  string         `json:"type"`  // Always "tool_use".
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type ToolResultBlock struct {
	Type      string `json:"type"`        // Always "tool_result".
	ToolUseID string `json:"tool_use_id"`
	// Content is a string or an array of content blocks on the wire.
	Content ContentUnion `json:"content"`
	IsError bool         `json:"is_error,omitempty"`
}

type ThinkingBlock struct {
	Type      string `json:"type"`                // Always "thinking".
	Thinking  string `json:"thinking"`
	Signature string `json:"signature,omitempty"`
}

func (c *ContentBlock) UnmarshalJSON(data []byte) error {
	typ := gjson.GetBytes(data, "type")
	if !typ.Exists() {
		return errors.New("missing type field in content block")
	}
	switch typ.String() {
	case ContentTypeText:
		var b TextBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("failed to unmarshal text block: %w", err)
		}
		c.Text = &b
	case ContentTypeImage:
		var b ImageBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("failed to unmarshal image block: %w", err)
		}
		c.Image = &b
	case ContentTypeToolUse:
		var b ToolUseBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("failed to unmarshal tool_use block: %w", err)
		}
		c.ToolUse = &b
	case ContentTypeToolResult:
		var b ToolResultBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("failed to unmarshal tool_result block: %w", err)
		}
		c.ToolResult = &b
	case ContentTypeThinking:
		var b ThinkingBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("failed to unmarshal thinking block: %w", err)
		}
		c.Thinking = &b
	default:
		// Unknown block types (e.g. redacted_thinking) are dropped rather
		// than failing the whole message.
		return nil
	}
	return nil
}

func (c ContentBlock) MarshalJSON() ([]byte, error) {
	switch {
	case c.Text != nil:
		return json.Marshal(c.Text)
	case c.Image != nil:
		return json.Marshal(c.Image)
	case c.ToolUse != nil:
		return json.Marshal(c.ToolUse)
	case c.ToolResult != nil:
		return json.Marshal(c.ToolResult)
	case c.Thinking != nil:
		return json.Marshal(c.Thinking)
	}
	return nil, errors.New("content block must have a defined type")
}

// Tool declares a tool the model may call.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

// Tool choice types.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceAny  = "any"
	ToolChoiceTool = "tool"
	ToolChoiceNone = "none"
)

// ToolChoiceUnion is the tool_choice object. Unlike OpenAI this is always an
// object on the wire, but it is kept as a small struct rather than a union of
// four single-field types.
type ToolChoiceUnion struct {
	Type string `json:"type"`
	// Name is set when Type is "tool".
	Name string `json:"name,omitempty"`
	// DisableParallelToolUse applies to auto/any/tool.
	DisableParallelToolUse *bool `json:"disable_parallel_tool_use,omitempty"`
}

// Stop reasons.
// https://docs.anthropic.com/en/api/messages#response-stop-reason
const (
	StopReasonEndTurn      = "end_turn"
	StopReasonMaxTokens    = "max_tokens"
	StopReasonStopSequence = "stop_sequence"
	StopReasonToolUse      = "tool_use"
)

// MessagesResponse is the non-streaming response of POST /v1/messages.
type MessagesResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`          // Always "message".
	Role         string         `json:"role"`          // Always "assistant".
	Model        string         `json:"model"`
	Content      []ContentBlock `json:"content"`
	StopReason   *string        `json:"stop_reason"`
	StopSequence *string        `json:"stop_sequence"`
	Usage        Usage          `json:"usage"`
}

// Usage is the token accounting block.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// Stream event types.
// https://docs.anthropic.com/en/api/messages-streaming
const (
	StreamEventMessageStart      = "message_start"
	StreamEventMessageDelta      = "message_delta"
	StreamEventMessageStop       = "message_stop"
	StreamEventContentBlockStart = "content_block_start"
	StreamEventContentBlockDelta = "content_block_delta"
	StreamEventContentBlockStop  = "content_block_stop"
	StreamEventPing              = "ping"
	StreamEventError             = "error"
)

// StreamEvent is a single Messages API SSE event, keyed by the "type" field.
// Exactly one of the payload pointers is set.
type StreamEvent struct {
	Type string `json:"type"`

	MessageStart      *MessageStartEvent      `json:"-"`
	MessageDelta      *MessageDeltaEvent      `json:"-"`
	ContentBlockStart *ContentBlockStartEvent `json:"-"`
	ContentBlockDelta *ContentBlockDeltaEvent `json:"-"`
	ContentBlockStop  *ContentBlockStopEvent  `json:"-"`
	Error             *ErrorDetail            `json:"-"`
}

type MessageStartEvent struct {
	Type    string           `json:"type"`    // Always "message_start".
	Message MessagesResponse `json:"message"`
}

type MessageDeltaEvent struct {
	Type  string       `json:"type"`  // Always "message_delta".
	Delta MessageDelta `json:"delta"`
	Usage Usage        `json:"usage"`
}

type MessageDelta struct {
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

type ContentBlockStartEvent struct {
	Type         string       `json:"type"`          // Always "content_block_start".
	Index        int64        `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

type ContentBlockDeltaEvent struct {
	Type  string            `json:"type"`  // Always "content_block_delta".
	Index int64             `json:"index"`
	Delta ContentBlockDelta `json:"delta"`
}

// Content block delta types.
const (
	DeltaTypeText        = "text_delta"
	DeltaTypeInputJSON   = "input_json_delta"
	DeltaTypeThinking    = "thinking_delta"
	DeltaTypeSignature   = "signature_delta"
)

type ContentBlockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
}

type ContentBlockStopEvent struct {
	Type  string `json:"type"`  // Always "content_block_stop".
	Index int64  `json:"index"`
}

// UnmarshalStreamEvent parses one SSE data payload into a typed event.
// ping and message_stop carry no payload beyond the type.
func UnmarshalStreamEvent(data []byte) (*StreamEvent, error) {
	typ := gjson.GetBytes(data, "type")
	if !typ.Exists() {
		return nil, errors.New("missing type field in stream event")
	}
	ev := &StreamEvent{Type: typ.String()}
	switch ev.Type {
	case StreamEventMessageStart:
		var e MessageStartEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message_start: %w", err)
		}
		ev.MessageStart = &e
	case StreamEventMessageDelta:
		var e MessageDeltaEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message_delta: %w", err)
		}
		ev.MessageDelta = &e
	case StreamEventContentBlockStart:
		var e ContentBlockStartEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal content_block_start: %w", err)
		}
		ev.ContentBlockStart = &e
	case StreamEventContentBlockDelta:
		var e ContentBlockDeltaEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal content_block_delta: %w", err)
		}
		ev.ContentBlockDelta = &e
	case StreamEventContentBlockStop:
		var e ContentBlockStopEvent
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal content_block_stop: %w", err)
		}
		ev.ContentBlockStop = &e
	case StreamEventError:
		var e ErrorResponse
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error event: %w", err)
		}
		ev.Error = &e.Error
	case StreamEventMessageStop, StreamEventPing:
		// No payload.
	}
	return ev, nil
}

// Error types.
const (
	ErrorTypeInvalidRequest = "invalid_request_error"
	ErrorTypeAPI            = "api_error"
	ErrorTypeOverloaded     = "overloaded_error"
)

// ErrorResponse is the Anthropic error envelope.
type ErrorResponse struct {
	Type  string      `json:"type"`  // Always "error".
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
