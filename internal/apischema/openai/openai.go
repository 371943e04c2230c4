// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package openai contains the wire types for the OpenAI Chat Completions and
// Responses APIs as consumed and produced by the gateway.
//
// The structs are hand-rolled rather than taken from the official SDK: the
// gateway owns serialization of every field it translates, and union fields
// are dispatched explicitly via gjson instead of reflection.
package openai

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/archgw/archgw/internal/json"
)

// Chat message roles.
// https://platform.openai.com/docs/api-reference/chat/create#chat-create-messages
const (
	ChatMessageRoleSystem    = "system"
	ChatMessageRoleDeveloper = "developer"
	ChatMessageRoleUser      = "user"
	ChatMessageRoleAssistant = "assistant"
	ChatMessageRoleTool      = "tool"
)

// ChatCompletionRequest represents a request to the Chat Completions API.
// https://platform.openai.com/docs/api-reference/chat/create
type ChatCompletionRequest struct {
	Model    string                            `json:"model"`
	Messages []ChatCompletionMessageParamUnion `json:"messages"`

	// MaxTokens is deprecated upstream in favor of MaxCompletionTokens but is
	// still what most clients send.
	MaxTokens           *int64   `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int64   `json:"max_completion_tokens,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	TopP                *float64 `json:"top_p,omitempty"`
	N                   *int64   `json:"n,omitempty"`

	Stream        bool           `json:"stream,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`

	// Stop accepts a string or an array of strings on the wire.
	Stop *StopUnion `json:"stop,omitempty"`

	Tools             []Tool           `json:"tools,omitempty"`
	ToolChoice        *ToolChoiceUnion `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool            `json:"parallel_tool_calls,omitempty"`

	User string `json:"user,omitempty"`

	// Metadata carries provider-specific or gateway-specific key/values. The
	// gateway may strip keys it consumed before forwarding upstream.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// StreamOptions controls optional streaming behaviour.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// StopUnion is a string or an array of strings on the wire.
type StopUnion struct {
	Values []string
}

func (s *StopUnion) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		s.Values = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		s.Values = many
		return nil
	}
	return errors.New("stop must be a string or an array of strings")
}

func (s StopUnion) MarshalJSON() ([]byte, error) {
	if len(s.Values) == 1 {
		return json.Marshal(s.Values[0])
	}
	return json.Marshal(s.Values)
}

// ChatCompletionMessageParamUnion is a single conversation message. Exactly
// one of the fields is set, keyed by the "role" field on the wire.
type ChatCompletionMessageParamUnion struct {
	System    *ChatCompletionSystemMessageParam
	Developer *ChatCompletionDeveloperMessageParam
	User      *ChatCompletionUserMessageParam
	Assistant *ChatCompletionAssistantMessageParam
	Tool      *ChatCompletionToolMessageParam
}

// Role returns the wire role of the message.
func (m *ChatCompletionMessageParamUnion) Role() string {
	switch {
	case m.System != nil:
		return ChatMessageRoleSystem
	case m.Developer != nil:
		return ChatMessageRoleDeveloper
	case m.User != nil:
		return ChatMessageRoleUser
	case m.Assistant != nil:
		return ChatMessageRoleAssistant
	case m.Tool != nil:
		return ChatMessageRoleTool
	}
	return ""
}

func (m *ChatCompletionMessageParamUnion) UnmarshalJSON(data []byte) error {
	role := gjson.GetBytes(data, "role")
	if !role.Exists() {
		return errors.New("missing role field in message")
	}
	switch role.String() {
	case ChatMessageRoleSystem:
		var msg ChatCompletionSystemMessageParam
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("failed to unmarshal system message: %w", err)
		}
		m.System = &msg
	case ChatMessageRoleDeveloper:
		var msg ChatCompletionDeveloperMessageParam
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("failed to unmarshal developer message: %w", err)
		}
		m.Developer = &msg
	case ChatMessageRoleUser:
		var msg ChatCompletionUserMessageParam
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("failed to unmarshal user message: %w", err)
		}
		m.User = &msg
	case ChatMessageRoleAssistant:
		var msg ChatCompletionAssistantMessageParam
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("failed to unmarshal assistant message: %w", err)
		}
		m.Assistant = &msg
	case ChatMessageRoleTool:
		var msg ChatCompletionToolMessageParam
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("failed to unmarshal tool message: %w", err)
		}
		m.Tool = &msg
	default:
		return fmt.Errorf("unknown message role: %s", role.String())
	}
	return nil
}

func (m ChatCompletionMessageParamUnion) MarshalJSON() ([]byte, error) {
	switch {
	case m.System != nil:
		return json.Marshal(m.System)
	case m.Developer != nil:
		return json.Marshal(m.Developer)
	case m.User != nil:
		return json.Marshal(m.User)
	case m.Assistant != nil:
		return json.Marshal(m.Assistant)
	case m.Tool != nil:
		return json.Marshal(m.Tool)
	}
	return nil, errors.New("message must have a defined role")
}

type (
	// ChatCompletionSystemMessageParam is a system-role message.
	ChatCompletionSystemMessageParam struct {
		Role    string           `json:"role"`           // Always "system".
		Content TextContentUnion `json:"content"`
		Name    string           `json:"name,omitempty"`
	}

	// ChatCompletionDeveloperMessageParam is a developer-role message, the
	// o1-era replacement for system messages.
	ChatCompletionDeveloperMessageParam struct {
		Role    string           `json:"role"`           // Always "developer".
		Content TextContentUnion `json:"content"`
		Name    string           `json:"name,omitempty"`
	}

	// ChatCompletionUserMessageParam is a user-role message.
	ChatCompletionUserMessageParam struct {
		Role    string           `json:"role"`           // Always "user".
		Content UserContentUnion `json:"content"`
		Name    string           `json:"name,omitempty"`
	}

	// ChatCompletionAssistantMessageParam is an assistant-role message.
	ChatCompletionAssistantMessageParam struct {
		Role      string                               `json:"role"`                 // Always "assistant".
		Content   TextContentUnion                     `json:"content,omitempty"`
		Name      string                               `json:"name,omitempty"`
		Refusal   string                               `json:"refusal,omitempty"`
		ToolCalls []ChatCompletionMessageToolCallParam `json:"tool_calls,omitempty"`
	}

	// ChatCompletionToolMessageParam carries a tool result back to the model.
	ChatCompletionToolMessageParam struct {
		Role       string           `json:"role"`         // Always "tool".
		Content    TextContentUnion `json:"content"`
		ToolCallID string           `json:"tool_call_id"`
	}
)

// TextContentUnion is a string or an array of text content parts on the wire.
type TextContentUnion struct {
	Text  string
	Parts []ChatCompletionContentPartTextParam
	// set reports whether the union was populated, so empty-string content
	// round-trips without being dropped by omitempty.
	set bool
}

// TextContent builds a populated union from plain text.
func TextContent(s string) TextContentUnion {
	return TextContentUnion{Text: s, set: true}
}

// IsSet reports whether the content field was present.
func (t *TextContentUnion) IsSet() bool { return t.set || len(t.Parts) > 0 }

// Flatten joins the union into plain text.
func (t *TextContentUnion) Flatten() string {
	if len(t.Parts) == 0 {
		return t.Text
	}
	parts := make([]string, 0, len(t.Parts))
	for _, p := range t.Parts {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n")
}

func (t *TextContentUnion) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		t.Text = text
		t.set = true
		return nil
	}
	var parts []ChatCompletionContentPartTextParam
	if err := json.Unmarshal(data, &parts); err == nil {
		t.Parts = parts
		t.set = true
		return nil
	}
	return errors.New("content must be a string or an array of text parts")
}

func (t TextContentUnion) MarshalJSON() ([]byte, error) {
	if len(t.Parts) > 0 {
		return json.Marshal(t.Parts)
	}
	return json.Marshal(t.Text)
}

// UserContentUnion is a string or an array of user content parts (text or
// image) on the wire.
type UserContentUnion struct {
	Text  string
	Parts []ChatCompletionContentPartUserUnionParam
	set   bool
}

// UserContent builds a populated union from plain text.
func UserContent(s string) UserContentUnion {
	return UserContentUnion{Text: s, set: true}
}

// Flatten joins the textual parts of the union into plain text, ignoring
// image parts.
func (u *UserContentUnion) Flatten() string {
	if len(u.Parts) == 0 {
		return u.Text
	}
	var parts []string
	for _, p := range u.Parts {
		if p.TextContent != nil {
			parts = append(parts, p.TextContent.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (u *UserContentUnion) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		u.Text = text
		u.set = true
		return nil
	}
	var parts []ChatCompletionContentPartUserUnionParam
	if err := json.Unmarshal(data, &parts); err == nil {
		u.Parts = parts
		u.set = true
		return nil
	}
	return errors.New("content must be a string or an array of content parts")
}

func (u UserContentUnion) MarshalJSON() ([]byte, error) {
	if len(u.Parts) > 0 {
		return json.Marshal(u.Parts)
	}
	return json.Marshal(u.Text)
}

type (
	// ChatCompletionContentPartUserUnionParam is one element of array-form
	// user content, keyed by the "type" field.
	ChatCompletionContentPartUserUnionParam struct {
		TextContent  *ChatCompletionContentPartTextParam
		ImageContent *ChatCompletionContentPartImageParam
	}

	// ChatCompletionContentPartTextParam is a text content part.
	ChatCompletionContentPartTextParam struct {
		Type string `json:"type"` // Always "text".
		Text string `json:"text"`
	}

	// ChatCompletionContentPartImageParam is an image content part. The URL
	// is either an http(s) URL or a data URL with base64 payload.
	ChatCompletionContentPartImageParam struct {
		Type     string                 `json:"type"`      // Always "image_url".
		ImageURL ChatCompletionImageURL `json:"image_url"`
	}

	ChatCompletionImageURL struct {
		URL    string `json:"url"`
		Detail string `json:"detail,omitempty"`
	}
)

func (c *ChatCompletionContentPartUserUnionParam) UnmarshalJSON(data []byte) error {
	typ := gjson.GetBytes(data, "type")
	if !typ.Exists() {
		return errors.New("missing type field in content part")
	}
	switch typ.String() {
	case "text":
		var part ChatCompletionContentPartTextParam
		if err := json.Unmarshal(data, &part); err != nil {
			return fmt.Errorf("failed to unmarshal text part: %w", err)
		}
		c.TextContent = &part
	case "image_url":
		var part ChatCompletionContentPartImageParam
		if err := json.Unmarshal(data, &part); err != nil {
			return fmt.Errorf("failed to unmarshal image part: %w", err)
		}
		c.ImageContent = &part
	default:
		// Ignore unknown types for forward compatibility.
		return nil
	}
	return nil
}

func (c ChatCompletionContentPartUserUnionParam) MarshalJSON() ([]byte, error) {
	if c.TextContent != nil {
		return json.Marshal(c.TextContent)
	}
	if c.ImageContent != nil {
		return json.Marshal(c.ImageContent)
	}
	return nil, errors.New("content part must have a defined type")
}

type (
	// Tool declares a function the model may call.
	Tool struct {
		Type     string             `json:"type"`     // Always "function".
		Function FunctionDefinition `json:"function"`
	}

	FunctionDefinition struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
		Strict      *bool          `json:"strict,omitempty"`
	}

	// ChatCompletionMessageToolCallParam is a tool call on an assistant
	// message, in requests and non-streaming responses.
	ChatCompletionMessageToolCallParam struct {
		ID       string                                     `json:"id"`
		Type     string                                     `json:"type"`     // Always "function".
		Function ChatCompletionMessageToolCallFunctionParam `json:"function"`
	}

	ChatCompletionMessageToolCallFunctionParam struct {
		Name string `json:"name"`
		// Arguments is an opaque JSON string; during streaming it may be an
		// incrementally built fragment.
		Arguments string `json:"arguments"`
	}
)

// ToolChoiceUnion is "none"/"auto"/"required" or a {"type":"function",...}
// object on the wire.
type ToolChoiceUnion struct {
	Mode     string
	Function *ToolChoiceFunction
}

type ToolChoiceFunction struct {
	Type     string                 `json:"type"`     // Always "function".
	Function ToolChoiceFunctionName `json:"function"`
}

type ToolChoiceFunctionName struct {
	Name string `json:"name"`
}

func (t *ToolChoiceUnion) UnmarshalJSON(data []byte) error {
	var mode string
	if err := json.Unmarshal(data, &mode); err == nil {
		t.Mode = mode
		return nil
	}
	var fn ToolChoiceFunction
	if err := json.Unmarshal(data, &fn); err == nil {
		t.Function = &fn
		return nil
	}
	return errors.New("tool_choice must be a string or a function object")
}

func (t ToolChoiceUnion) MarshalJSON() ([]byte, error) {
	if t.Function != nil {
		return json.Marshal(t.Function)
	}
	return json.Marshal(t.Mode)
}

// Finish reasons for choices.
// https://platform.openai.com/docs/api-reference/chat/object#chat/object-choices
type ChatCompletionChoicesFinishReason string

const (
	ChatCompletionChoicesFinishReasonStop          ChatCompletionChoicesFinishReason = "stop"
	ChatCompletionChoicesFinishReasonLength        ChatCompletionChoicesFinishReason = "length"
	ChatCompletionChoicesFinishReasonToolCalls     ChatCompletionChoicesFinishReason = "tool_calls"
	ChatCompletionChoicesFinishReasonContentFilter ChatCompletionChoicesFinishReason = "content_filter"
)

// ChatCompletionResponse is the non-streaming response body.
// https://platform.openai.com/docs/api-reference/chat/object
type ChatCompletionResponse struct {
	ID      string                         `json:"id"`
	Object  string                         `json:"object"`          // Always "chat.completion".
	Created int64                          `json:"created"`
	Model   string                         `json:"model"`
	Choices []ChatCompletionResponseChoice `json:"choices"`
	Usage   ChatCompletionResponseUsage    `json:"usage,omitempty"`
}

type ChatCompletionResponseChoice struct {
	Index        int64                               `json:"index"`
	Message      ChatCompletionResponseChoiceMessage `json:"message"`
	FinishReason ChatCompletionChoicesFinishReason   `json:"finish_reason"`
}

type ChatCompletionResponseChoiceMessage struct {
	Role      string                               `json:"role"`
	Content   *string                              `json:"content"`
	Refusal   *string                              `json:"refusal,omitempty"`
	ToolCalls []ChatCompletionMessageToolCallParam `json:"tool_calls,omitempty"`
}

// ChatCompletionResponseUsage is the token accounting block.
type ChatCompletionResponseUsage struct {
	PromptTokens        int                  `json:"prompt_tokens"`
	CompletionTokens    int                  `json:"completion_tokens"`
	TotalTokens         int                  `json:"total_tokens"`
	PromptTokensDetails *PromptTokensDetails `json:"prompt_tokens_details,omitempty"`
}

type PromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens,omitempty"`
	// CacheCreationTokens is an Anthropic extension surfaced by some
	// OpenAI-compatible backends.
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
}

// ChatCompletionResponseChunk is one streaming SSE event payload.
// https://platform.openai.com/docs/api-reference/chat/streaming
type ChatCompletionResponseChunk struct {
	ID      string                              `json:"id,omitempty"`
	Object  string                              `json:"object"`            // Always "chat.completion.chunk".
	Created int64                               `json:"created,omitempty"`
	Model   string                              `json:"model,omitempty"`
	Choices []ChatCompletionResponseChunkChoice `json:"choices"`
	Usage   *ChatCompletionResponseUsage        `json:"usage,omitempty"`
}

type ChatCompletionResponseChunkChoice struct {
	Index        int64                                   `json:"index"`
	Delta        *ChatCompletionResponseChunkChoiceDelta `json:"delta,omitempty"`
	FinishReason *ChatCompletionChoicesFinishReason      `json:"finish_reason,omitempty"`
}

type ChatCompletionResponseChunkChoiceDelta struct {
	Role      string                        `json:"role,omitempty"`
	Content   *string                       `json:"content,omitempty"`
	ToolCalls []ChatCompletionToolCallDelta `json:"tool_calls,omitempty"`
}

// ChatCompletionToolCallDelta is a streamed tool-call fragment. Index ties
// fragments of the same call together; ID and Name appear only on the first
// fragment.
type ChatCompletionToolCallDelta struct {
	Index    int64                                      `json:"index"`
	ID       string                                     `json:"id,omitempty"`
	Type     string                                     `json:"type,omitempty"`
	Function ChatCompletionMessageToolCallFunctionParam `json:"function"`
}

// Error is the OpenAI error envelope.
// https://platform.openai.com/docs/api-reference/responses-streaming/error
type Error struct {
	Type  string    `json:"type,omitempty"`
	Error ErrorType `json:"error"`
}

type ErrorType struct {
	Type    string  `json:"type"`
	Message string  `json:"message"`
	Param   *string `json:"param,omitempty"`
	Code    *string `json:"code,omitempty"`
}

// ModelList is the response of the /v1/models endpoint.
type ModelList struct {
	Object string  `json:"object"` // Always "list".
	Data   []Model `json:"data"`
}

type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`   // Always "model".
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ---- accessors consumed by the router and the gateway edge ----

// GetModel returns the request model id.
func (r *ChatCompletionRequest) GetModel() string { return r.Model }

// SetModel overrides the request model id.
func (r *ChatCompletionRequest) SetModel(m string) { r.Model = m }

// IsStreaming reports whether the client asked for SSE.
func (r *ChatCompletionRequest) IsStreaming() bool { return r.Stream }

// ExtractRecentUserMessage returns the most recent user turn flattened to
// plain text, or the empty string when there is none.
func (r *ChatCompletionRequest) ExtractRecentUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if u := r.Messages[i].User; u != nil {
			return u.Content.Flatten()
		}
	}
	return ""
}

// ExtractMessagesText joins all message text for token estimation.
func (r *ChatCompletionRequest) ExtractMessagesText() string {
	var sb strings.Builder
	for i := range r.Messages {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(MessageText(&r.Messages[i]))
	}
	return sb.String()
}

// GetToolNames returns the declared tool function names.
func (r *ChatCompletionRequest) GetToolNames() []string {
	if len(r.Tools) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.Tools))
	for _, t := range r.Tools {
		names = append(names, t.Function.Name)
	}
	return names
}

// RemoveMetadataKey drops a gateway-consumed metadata key before forwarding.
func (r *ChatCompletionRequest) RemoveMetadataKey(key string) {
	delete(r.Metadata, key)
}

// MessageText flattens a message union to its plain text.
func MessageText(m *ChatCompletionMessageParamUnion) string {
	switch {
	case m.System != nil:
		return m.System.Content.Flatten()
	case m.Developer != nil:
		return m.Developer.Content.Flatten()
	case m.User != nil:
		return m.User.Content.Flatten()
	case m.Assistant != nil:
		return m.Assistant.Content.Flatten()
	case m.Tool != nil:
		return m.Tool.Content.Flatten()
	}
	return ""
}

// UserMessage builds a plain-text user message.
func UserMessage(text string) ChatCompletionMessageParamUnion {
	return ChatCompletionMessageParamUnion{
		User: &ChatCompletionUserMessageParam{Role: ChatMessageRoleUser, Content: UserContent(text)},
	}
}

// AssistantMessage builds a plain-text assistant message.
func AssistantMessage(text string) ChatCompletionMessageParamUnion {
	return ChatCompletionMessageParamUnion{
		Assistant: &ChatCompletionAssistantMessageParam{Role: ChatMessageRoleAssistant, Content: TextContent(text)},
	}
}

// SystemMessage builds a plain-text system message.
func SystemMessage(text string) ChatCompletionMessageParamUnion {
	return ChatCompletionMessageParamUnion{
		System: &ChatCompletionSystemMessageParam{Role: ChatMessageRoleSystem, Content: TextContent(text)},
	}
}
