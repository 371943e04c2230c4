// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package awsbedrock contains the wire types for the AWS Bedrock Converse and
// ConverseStream APIs. The shapes mirror the service JSON model; streaming
// payloads arrive framed in the AWS event stream encoding and are decoded
// upstream of these types.
package awsbedrock

// Conversation roles accepted by Converse.
const (
	ConversationRoleUser      = "user"
	ConversationRoleAssistant = "assistant"
)

// Stop reasons returned by Converse.
// https://docs.aws.amazon.com/bedrock/latest/APIReference/API_runtime_Converse.html
const (
	StopReasonEndTurn          = "end_turn"
	StopReasonToolUse          = "tool_use"
	StopReasonMaxTokens        = "max_tokens"
	StopReasonStopSequence     = "stop_sequence"
	StopReasonContentFiltered  = "content_filtered"
	StopReasonGuardrailBlocked = "guardrail_intervened"
)

// ConverseInput is the request body of Converse and ConverseStream. The model
// id rides on the URL path, not in the body.
type ConverseInput struct {
	Messages                     []*Message              `json:"messages,omitempty"`
	System                       []*SystemContentBlock   `json:"system,omitempty"`
	InferenceConfig              *InferenceConfiguration `json:"inferenceConfig,omitempty"`
	ToolConfig                   *ToolConfiguration      `json:"toolConfig,omitempty"`
	AdditionalModelRequestFields map[string]any          `json:"additionalModelRequestFields,omitempty"`
}

// InferenceConfiguration holds the base sampling parameters.
type InferenceConfiguration struct {
	MaxTokens     *int64   `json:"maxTokens,omitempty"`
	StopSequences []string `json:"stopSequences,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopP          *float64 `json:"topP,omitempty"`
}

// SystemContentBlock is one system prompt block.
type SystemContentBlock struct {
	Text string `json:"text"`
}

// Message is one conversation turn.
type Message struct {
	Role    string          `json:"role"`
	Content []*ContentBlock `json:"content"`
}

// ContentBlock is a union; exactly one field is set. Unlike the JSON APIs of
// OpenAI and Anthropic there is no type tag: the union member is the single
// populated key.
type ContentBlock struct {
	Text       *string          `json:"text,omitempty"`
	Image      *ImageBlock      `json:"image,omitempty"`
	ToolUse    *ToolUseBlock    `json:"toolUse,omitempty"`
	ToolResult *ToolResultBlock `json:"toolResult,omitempty"`
}

// ImageBlock carries inline image bytes. Format is the bare subtype of the
// media type, e.g. "png" or "jpeg".
type ImageBlock struct {
	Format string      `json:"format"`
	Source ImageSource `json:"source"`
}

// ImageSource holds base64-encoded image bytes. The Go SDK type is []byte
// with transparent base64; here the field stays a string since the gateway
// only ever shuttles the encoded form.
type ImageSource struct {
	Bytes string `json:"bytes"`
}

// ToolUseBlock is a tool call emitted by the model.
type ToolUseBlock struct {
	ToolUseID string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

// ToolResultBlock returns a tool invocation result to the model.
type ToolResultBlock struct {
	ToolUseID string                    `json:"toolUseId"`
	Content   []*ToolResultContentBlock `json:"content"`
	Status    *string                   `json:"status,omitempty"`
}

// ToolResultContentBlock is a union; exactly one field is set.
type ToolResultContentBlock struct {
	Text *string        `json:"text,omitempty"`
	JSON map[string]any `json:"json,omitempty"`
}

// ToolConfiguration declares the tools available to the model.
type ToolConfiguration struct {
	Tools      []*Tool     `json:"tools"`
	ToolChoice *ToolChoice `json:"toolChoice,omitempty"`
}

// Tool is a union with a single member today.
type Tool struct {
	ToolSpec *ToolSpecification `json:"toolSpec"`
}

type ToolSpecification struct {
	Name        string           `json:"name"`
	Description *string          `json:"description,omitempty"`
	InputSchema *ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema is a union with a single member today.
type ToolInputSchema struct {
	JSON map[string]any `json:"json"`
}

// ToolChoice is a union; exactly one field is set.
type ToolChoice struct {
	Auto *ToolChoiceAuto     `json:"auto,omitempty"`
	Any  *ToolChoiceAny      `json:"any,omitempty"`
	Tool *SpecificToolChoice `json:"tool,omitempty"`
}

type (
	ToolChoiceAuto struct{}
	ToolChoiceAny  struct{}

	SpecificToolChoice struct {
		Name string `json:"name"`
	}
)

// ConverseOutput is the non-streaming response body.
type ConverseOutput struct {
	Output     ConverseOutputMessage `json:"output"`
	StopReason string                `json:"stopReason"`
	Usage      TokenUsage            `json:"usage"`
	Metrics    *ConverseMetrics      `json:"metrics,omitempty"`
}

// ConverseOutputMessage is a union with a single member today.
type ConverseOutputMessage struct {
	Message Message `json:"message"`
}

// TokenUsage is the token accounting block.
type TokenUsage struct {
	InputTokens           int `json:"inputTokens"`
	OutputTokens          int `json:"outputTokens"`
	TotalTokens           int `json:"totalTokens"`
	CacheReadInputTokens  int `json:"cacheReadInputTokens,omitempty"`
	CacheWriteInputTokens int `json:"cacheWriteInputTokens,omitempty"`
}

type ConverseMetrics struct {
	LatencyMs int64 `json:"latencyMs"`
}

// ConverseStream event types, carried in the :event-type message header of
// the AWS event stream framing.
// https://docs.aws.amazon.com/bedrock/latest/APIReference/API_runtime_ConverseStream.html
const (
	StreamEventMessageStart      = "messageStart"
	StreamEventContentBlockStart = "contentBlockStart"
	StreamEventContentBlockDelta = "contentBlockDelta"
	StreamEventContentBlockStop  = "contentBlockStop"
	StreamEventMessageStop       = "messageStop"
	StreamEventMetadata          = "metadata"
)

// ConverseStreamEvent is the decoded payload of one ConverseStream frame.
// One flexible struct covers the event family; which fields are set depends
// on the frame's :event-type header.
type ConverseStreamEvent struct {
	// Role is set on messageStart.
	Role string `json:"role,omitempty"`

	// ContentBlockIndex ties block-scoped events together.
	ContentBlockIndex int64 `json:"contentBlockIndex,omitempty"`

	// Start is set on contentBlockStart.
	Start *ConverseStreamEventContentBlockStart `json:"start,omitempty"`

	// Delta is set on contentBlockDelta.
	Delta *ConverseStreamEventContentBlockDelta `json:"delta,omitempty"`

	// StopReason is set on messageStop.
	StopReason string `json:"stopReason,omitempty"`

	// Usage is set on metadata.
	Usage *TokenUsage `json:"usage,omitempty"`
}

// ConverseStreamEventContentBlockStart is a union; exactly one field is set.
type ConverseStreamEventContentBlockStart struct {
	ToolUse *ToolUseBlockStart `json:"toolUse,omitempty"`
}

// ToolUseBlockStart opens a streamed tool call; the input JSON follows in
// contentBlockDelta frames.
type ToolUseBlockStart struct {
	ToolUseID string `json:"toolUseId"`
	Name      string `json:"name"`
}

// ConverseStreamEventContentBlockDelta is a union; exactly one field is set.
type ConverseStreamEventContentBlockDelta struct {
	Text    *string            `json:"text,omitempty"`
	ToolUse *ToolUseBlockDelta `json:"toolUse,omitempty"`
}

type ToolUseBlockDelta struct {
	Input string `json:"input"`
}

// BedrockException is the JSON body of Bedrock error responses and of
// exception frames on the stream.
type BedrockException struct {
	Message string `json:"message"`
	Type    string `json:"__type,omitempty"`
}
