// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package translator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/archgw/archgw/internal/apischema/openai"
	"github.com/archgw/archgw/internal/json"
	"github.com/archgw/archgw/internal/sse"
)

// responsesItem accumulates one output item while its deltas stream through.
type responsesItem struct {
	id   string
	text string
	// function call fields; empty for message items.
	isFunction bool
	callID     string
	name       string
	arguments  string
	index      int64
}

// ResponsesStreamBuffer synthesizes the Responses API event lifecycle from a
// stream of chat.completion.chunk events. Sequence numbers start at 0 and
// increase by one on every emitted event. After the stream completes, the
// finalized response object is available via Response for the conversation
// state store.
type ResponsesStreamBuffer struct {
	responseID string
	model      string
	createdAt  int64
	seq        int64

	lifecycleSent bool
	done          bool

	// textItem is the single message item accumulating content deltas;
	// functionItems maps chat tool_call indices to function call items.
	textItem      *responsesItem
	functionItems map[int64]*responsesItem
	// order records items in first-sight order for the final output array.
	order []*responsesItem

	usage *openai.ResponsesUsage
	final *openai.ResponsesResponse
}

// NewResponsesStreamBuffer builds a buffer for one streaming response.
func NewResponsesStreamBuffer(model string) *ResponsesStreamBuffer {
	return &ResponsesStreamBuffer{
		responseID:    NewResponseID(),
		model:         model,
		createdAt:     time.Now().Unix(),
		functionItems: map[int64]*responsesItem{},
	}
}

// ResponseID returns the id assigned to this response.
func (b *ResponsesStreamBuffer) ResponseID() string { return b.responseID }

// Response returns the finalized response object, nil until the stream
// completed.
func (b *ResponsesStreamBuffer) Response() *openai.ResponsesResponse { return b.final }

func (b *ResponsesStreamBuffer) Push(ev sse.Event) ([]byte, error) {
	if b.done {
		return nil, nil
	}
	if ev.IsDone() {
		return b.finishEvents()
	}
	var chunk openai.ChatCompletionResponseChunk
	if err := json.Unmarshal(ev.Data, &chunk); err != nil {
		return nil, fmt.Errorf("malformed chat chunk: %w", err)
	}
	if chunk.Model != "" && b.model == "" {
		b.model = chunk.Model
	}
	if chunk.Usage != nil {
		b.usage = &openai.ResponsesUsage{
			InputTokens:  chunk.Usage.PromptTokens,
			OutputTokens: chunk.Usage.CompletionTokens,
			TotalTokens:  chunk.Usage.TotalTokens,
		}
	}

	var out []byte
	if !b.lifecycleSent {
		b.lifecycleSent = true
		out = append(out, b.lifecycleEvent(openai.ResponsesEventResponseCreated)...)
		out = append(out, b.lifecycleEvent(openai.ResponsesEventResponseInProgress)...)
	}

	for _, choice := range chunk.Choices {
		if choice.Delta == nil {
			continue
		}
		if choice.Delta.Content != nil && *choice.Delta.Content != "" {
			out = append(out, b.textDelta(*choice.Delta.Content)...)
		}
		for _, call := range choice.Delta.ToolCalls {
			out = append(out, b.functionDelta(&call)...)
		}
	}
	return out, nil
}

// Close finalizes streams that ended without a [DONE] sentinel.
func (b *ResponsesStreamBuffer) Close() ([]byte, error) {
	if b.done {
		return nil, nil
	}
	return b.finishEvents()
}

func (b *ResponsesStreamBuffer) textDelta(delta string) []byte {
	var out []byte
	if b.textItem == nil {
		b.textItem = &responsesItem{
			id:    "msg_" + uuid.NewString(),
			index: int64(len(b.order)),
		}
		b.order = append(b.order, b.textItem)
		out = append(out, b.itemAdded(b.textItem)...)
	}
	b.textItem.text += delta
	out = append(out, b.event(&openai.ResponsesStreamEvent{
		Type:         openai.ResponsesEventOutputTextDelta,
		ItemID:       b.textItem.id,
		OutputIndex:  &b.textItem.index,
		ContentIndex: ptrInt64(0),
		Delta:        delta,
	})...)
	return out
}

func (b *ResponsesStreamBuffer) functionDelta(call *openai.ChatCompletionToolCallDelta) []byte {
	var out []byte
	item, ok := b.functionItems[call.Index]
	if !ok {
		item = &responsesItem{
			id:         "fc_" + uuid.NewString(),
			isFunction: true,
			callID:     call.ID,
			name:       call.Function.Name,
			index:      int64(len(b.order)),
		}
		if item.callID == "" {
			item.callID = "call_" + uuid.NewString()
		}
		b.functionItems[call.Index] = item
		b.order = append(b.order, item)
		out = append(out, b.itemAdded(item)...)
	}
	if call.Function.Arguments != "" {
		item.arguments += call.Function.Arguments
		out = append(out, b.event(&openai.ResponsesStreamEvent{
			Type:        openai.ResponsesEventFunctionArgsDelta,
			ItemID:      item.id,
			OutputIndex: &item.index,
			Delta:       call.Function.Arguments,
		})...)
	}
	return out
}

func (b *ResponsesStreamBuffer) itemAdded(item *responsesItem) []byte {
	out := item.outputItem(openai.ResponseStatusInProgress)
	return b.event(&openai.ResponsesStreamEvent{
		Type:        openai.ResponsesEventOutputItemAdded,
		Item:        &out,
		OutputIndex: &item.index,
	})
}

// finishEvents emits the *Done events for every accumulated item followed by
// response.completed, and retains the finalized response object.
func (b *ResponsesStreamBuffer) finishEvents() ([]byte, error) {
	b.done = true
	var out []byte
	if !b.lifecycleSent {
		b.lifecycleSent = true
		out = append(out, b.lifecycleEvent(openai.ResponsesEventResponseCreated)...)
		out = append(out, b.lifecycleEvent(openai.ResponsesEventResponseInProgress)...)
	}

	output := make([]openai.ResponseOutputItem, 0, len(b.order))
	for _, item := range b.order {
		if item.isFunction {
			out = append(out, b.event(&openai.ResponsesStreamEvent{
				Type:        openai.ResponsesEventFunctionArgsDone,
				ItemID:      item.id,
				OutputIndex: &item.index,
				Arguments:   item.arguments,
			})...)
		} else {
			out = append(out, b.event(&openai.ResponsesStreamEvent{
				Type:         openai.ResponsesEventOutputTextDone,
				ItemID:       item.id,
				OutputIndex:  &item.index,
				ContentIndex: ptrInt64(0),
				Text:         item.text,
			})...)
		}
		completed := item.outputItem(openai.ResponseStatusCompleted)
		output = append(output, completed)
		out = append(out, b.event(&openai.ResponsesStreamEvent{
			Type:        openai.ResponsesEventOutputItemDone,
			Item:        &completed,
			OutputIndex: &item.index,
		})...)
	}

	b.final = &openai.ResponsesResponse{
		ID:        b.responseID,
		Object:    "response",
		CreatedAt: b.createdAt,
		Status:    openai.ResponseStatusCompleted,
		Model:     b.model,
		Output:    output,
		Usage:     b.usage,
	}
	out = append(out, b.event(&openai.ResponsesStreamEvent{
		Type:     openai.ResponsesEventResponseCompleted,
		Response: b.final,
	})...)
	return out, nil
}

// lifecycleEvent renders response.created / response.in_progress with an
// in-progress snapshot of the response object.
func (b *ResponsesStreamBuffer) lifecycleEvent(typ string) []byte {
	return b.event(&openai.ResponsesStreamEvent{
		Type: typ,
		Response: &openai.ResponsesResponse{
			ID:        b.responseID,
			Object:    "response",
			CreatedAt: b.createdAt,
			Status:    openai.ResponseStatusInProgress,
			Model:     b.model,
			Output:    []openai.ResponseOutputItem{},
		},
	})
}

// event assigns the next sequence number and renders the named SSE event.
func (b *ResponsesStreamBuffer) event(ev *openai.ResponsesStreamEvent) []byte {
	ev.SequenceNumber = b.seq
	b.seq++
	data, err := json.Marshal(ev)
	if err != nil {
		// Stream events are built from in-memory values only.
		data = []byte("{}")
	}
	return wireEvent(ev.Type, data)
}

// outputItem materializes the accumulated item at the given status.
func (i *responsesItem) outputItem(status string) openai.ResponseOutputItem {
	if i.isFunction {
		return openai.ResponseOutputItem{FunctionCall: &openai.ResponseFunctionCall{
			Type:      "function_call",
			ID:        i.id,
			CallID:    i.callID,
			Name:      i.name,
			Arguments: i.arguments,
			Status:    status,
		}}
	}
	var content []openai.ResponseContentPart
	content = append(content, openai.ResponseContentPart{Type: "output_text", Text: i.text})
	return openai.ResponseOutputItem{Message: &openai.ResponseOutputMessage{
		Type:    "message",
		ID:      i.id,
		Role:    openai.ChatMessageRoleAssistant,
		Status:  status,
		Content: content,
	}}
}

func ptrInt64(v int64) *int64 { return &v }
