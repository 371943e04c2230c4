// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package openai

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/archgw/archgw/internal/json"
)

// Responses API object statuses.
const (
	ResponseStatusInProgress = "in_progress"
	ResponseStatusCompleted  = "completed"
	ResponseStatusIncomplete = "incomplete"
	ResponseStatusFailed     = "failed"
)

// ResponsesRequest is a request to the Responses API.
// https://platform.openai.com/docs/api-reference/responses/create
type ResponsesRequest struct {
	Model string `json:"model"`

	// Input is a string or an array of input items on the wire.
	Input ResponsesInputUnion `json:"input"`

	Instructions    string   `json:"instructions,omitempty"`
	MaxOutputTokens *int64   `json:"max_output_tokens,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"top_p,omitempty"`

	Stream bool `json:"stream,omitempty"`

	// PreviousResponseID chains this request onto stored conversation state.
	PreviousResponseID string `json:"previous_response_id,omitempty"`
	Store              *bool  `json:"store,omitempty"`

	Tools []Tool `json:"tools,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// GetModel returns the request model id.
func (r *ResponsesRequest) GetModel() string { return r.Model }

// SetModel overrides the request model id.
func (r *ResponsesRequest) SetModel(m string) { r.Model = m }

// IsStreaming reports whether the client asked for SSE.
func (r *ResponsesRequest) IsStreaming() bool { return r.Stream }

// ResponsesInputUnion is a string or an array of input items on the wire.
type ResponsesInputUnion struct {
	Text  string
	Items []ResponseInputItem
	set   bool
}

// ResponsesInputText builds a populated union from plain text.
func ResponsesInputText(s string) ResponsesInputUnion {
	return ResponsesInputUnion{Text: s, set: true}
}

// IsSet reports whether the input field was present.
func (i *ResponsesInputUnion) IsSet() bool { return i.set || len(i.Items) > 0 }

func (i *ResponsesInputUnion) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		i.Text = text
		i.set = true
		return nil
	}
	var items []ResponseInputItem
	if err := json.Unmarshal(data, &items); err == nil {
		i.Items = items
		i.set = true
		return nil
	}
	return errors.New("input must be a string or an array of input items")
}

func (i ResponsesInputUnion) MarshalJSON() ([]byte, error) {
	if len(i.Items) > 0 {
		return json.Marshal(i.Items)
	}
	return json.Marshal(i.Text)
}

// ResponseInputItem is one element of array-form input. Message items carry a
// role and content; function call items replay prior tool interactions. The
// "type" field is optional for messages, so dispatch falls back to the
// presence of "role".
type ResponseInputItem struct {
	Message      *ResponseInputMessage
	FunctionCall *ResponseFunctionCall
	// FunctionCallOutput returns a tool result to the model.
	FunctionCallOutput *ResponseFunctionCallOutput
}

type ResponseInputMessage struct {
	Type    string                    `json:"type,omitempty"` // "message" when present.
	Role    string                    `json:"role"`
	Content ResponseInputContentUnion `json:"content"`
}

// ResponseInputContentUnion is a string or an array of typed content parts.
type ResponseInputContentUnion struct {
	Text  string
	Parts []ResponseContentPart
	set   bool
}

// Flatten joins the textual parts of the union into plain text.
func (c *ResponseInputContentUnion) Flatten() string {
	if len(c.Parts) == 0 {
		return c.Text
	}
	var out string
	for _, p := range c.Parts {
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

func (c *ResponseInputContentUnion) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		c.Text = text
		c.set = true
		return nil
	}
	var parts []ResponseContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		c.Parts = parts
		c.set = true
		return nil
	}
	return errors.New("content must be a string or an array of content parts")
}

func (c ResponseInputContentUnion) MarshalJSON() ([]byte, error) {
	if len(c.Parts) > 0 {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// ResponseContentPart is a typed content part: "input_text" and "output_text"
// carry Text, "refusal" carries Refusal.
type ResponseContentPart struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Refusal string `json:"refusal,omitempty"`
}

type ResponseFunctionCall struct {
	Type string `json:"type"` // Always "function_call".
	// ID is the output item id; CallID ties the call to its output.
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Status    string `json:"status,omitempty"`
}

type ResponseFunctionCallOutput struct {
	Type   string `json:"type"`    // Always "function_call_output".
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

func (r *ResponseInputItem) UnmarshalJSON(data []byte) error {
	typ := gjson.GetBytes(data, "type")
	switch typ.String() {
	case "function_call":
		var fc ResponseFunctionCall
		if err := json.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("failed to unmarshal function_call item: %w", err)
		}
		r.FunctionCall = &fc
		return nil
	case "function_call_output":
		var out ResponseFunctionCallOutput
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("failed to unmarshal function_call_output item: %w", err)
		}
		r.FunctionCallOutput = &out
		return nil
	case "message", "":
		if !gjson.GetBytes(data, "role").Exists() {
			return fmt.Errorf("unknown input item type: %q", typ.String())
		}
		var msg ResponseInputMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("failed to unmarshal message item: %w", err)
		}
		r.Message = &msg
		return nil
	default:
		return fmt.Errorf("unknown input item type: %q", typ.String())
	}
}

func (r ResponseInputItem) MarshalJSON() ([]byte, error) {
	switch {
	case r.Message != nil:
		return json.Marshal(r.Message)
	case r.FunctionCall != nil:
		return json.Marshal(r.FunctionCall)
	case r.FunctionCallOutput != nil:
		return json.Marshal(r.FunctionCallOutput)
	}
	return nil, errors.New("input item must have a defined type")
}

// ResponsesResponse is the non-streaming Responses API object.
// https://platform.openai.com/docs/api-reference/responses/object
type ResponsesResponse struct {
	ID        string               `json:"id"`
	Object    string               `json:"object"`          // Always "response".
	CreatedAt int64                `json:"created_at"`
	Status    string               `json:"status"`
	Model     string               `json:"model"`
	Output    []ResponseOutputItem `json:"output"`
	Usage     *ResponsesUsage      `json:"usage,omitempty"`

	Instructions       string `json:"instructions,omitempty"`
	PreviousResponseID string `json:"previous_response_id,omitempty"`

	Error *ErrorType `json:"error,omitempty"`
}

// OutputText joins the text parts of all message output items, mirroring the
// SDK convenience accessor of the same name.
func (r *ResponsesResponse) OutputText() string {
	var out string
	for _, item := range r.Output {
		if item.Message == nil {
			continue
		}
		for _, p := range item.Message.Content {
			if p.Type == "output_text" {
				out += p.Text
			}
		}
	}
	return out
}

// ResponseOutputItem is one output item, keyed by the "type" field: a
// "message" with content parts or a "function_call".
type ResponseOutputItem struct {
	Message      *ResponseOutputMessage
	FunctionCall *ResponseFunctionCall
}

type ResponseOutputMessage struct {
	Type    string                `json:"type"`             // Always "message".
	ID      string                `json:"id,omitempty"`
	Role    string                `json:"role"`             // Always "assistant".
	Status  string                `json:"status,omitempty"`
	Content []ResponseContentPart `json:"content"`
}

func (o *ResponseOutputItem) UnmarshalJSON(data []byte) error {
	typ := gjson.GetBytes(data, "type")
	switch typ.String() {
	case "message":
		var msg ResponseOutputMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("failed to unmarshal message output item: %w", err)
		}
		o.Message = &msg
	case "function_call":
		var fc ResponseFunctionCall
		if err := json.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("failed to unmarshal function_call output item: %w", err)
		}
		o.FunctionCall = &fc
	default:
		// Reasoning, web_search_call etc. are passed through untyped.
		return nil
	}
	return nil
}

func (o ResponseOutputItem) MarshalJSON() ([]byte, error) {
	switch {
	case o.Message != nil:
		return json.Marshal(o.Message)
	case o.FunctionCall != nil:
		return json.Marshal(o.FunctionCall)
	}
	return nil, errors.New("output item must have a defined type")
}

// ResponsesUsage is the Responses API token accounting block.
type ResponsesUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Responses API streaming event types.
// https://platform.openai.com/docs/api-reference/responses-streaming
const (
	ResponsesEventResponseCreated       = "response.created"
	ResponsesEventResponseInProgress    = "response.in_progress"
	ResponsesEventOutputItemAdded       = "response.output_item.added"
	ResponsesEventContentPartAdded      = "response.content_part.added"
	ResponsesEventOutputTextDelta       = "response.output_text.delta"
	ResponsesEventOutputTextDone        = "response.output_text.done"
	ResponsesEventContentPartDone       = "response.content_part.done"
	ResponsesEventFunctionArgsDelta     = "response.function_call_arguments.delta"
	ResponsesEventFunctionArgsDone      = "response.function_call_arguments.done"
	ResponsesEventOutputItemDone        = "response.output_item.done"
	ResponsesEventResponseCompleted     = "response.completed"
	ResponsesEventResponseIncomplete    = "response.incomplete"
	ResponsesEventResponseFailed        = "response.failed"
	ResponsesEventError                 = "error"
)

// ResponsesStreamEvent is a single Responses API SSE event. One flexible
// struct covers the whole event family; which fields are set depends on Type.
type ResponsesStreamEvent struct {
	Type           string `json:"type"`
	SequenceNumber int64  `json:"sequence_number"`

	// Response is set on lifecycle events (created/in_progress/completed/...).
	Response *ResponsesResponse `json:"response,omitempty"`

	// Item is set on output_item.added / output_item.done.
	Item        *ResponseOutputItem `json:"item,omitempty"`
	OutputIndex *int64              `json:"output_index,omitempty"`

	// Delta-bearing events reference the item and content part they extend.
	ItemID       string               `json:"item_id,omitempty"`
	ContentIndex *int64               `json:"content_index,omitempty"`
	Part         *ResponseContentPart `json:"part,omitempty"`
	Delta        string               `json:"delta,omitempty"`
	Text         string               `json:"text,omitempty"`
	Arguments    string               `json:"arguments,omitempty"`

	// Error details for type=="error".
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}
