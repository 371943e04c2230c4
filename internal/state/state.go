// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package state persists Responses API conversation history keyed by
// response id, so clients can use previous_response_id against upstreams
// without native Responses support.
package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/archgw/archgw/internal/apischema/openai"
)

// ErrNotFound reports a response id with no stored state.
var ErrNotFound = errors.New("conversation state not found")

// ConversationState is the stored history of one response chain.
type ConversationState struct {
	ResponseID string
	InputItems []openai.ResponseInputItem
	CreatedAt  int64
	Model      string
	Provider   string
}

// Store is the conversation state backend. Get returns ErrNotFound for
// unknown ids; Put is an idempotent upsert by response id.
type Store interface {
	Put(ctx context.Context, state *ConversationState) error
	Get(ctx context.Context, responseID string) (*ConversationState, error)
	Exists(ctx context.Context, responseID string) (bool, error)
	Delete(ctx context.Context, responseID string) error
}

// Merge concatenates the stored history with the request's current input.
// No deduplication and no truncation: context-window enforcement is left to
// the upstream.
func Merge(prev *ConversationState, current []openai.ResponseInputItem) []openai.ResponseInputItem {
	merged := make([]openai.ResponseInputItem, 0, len(prev.InputItems)+len(current))
	merged = append(merged, prev.InputItems...)
	merged = append(merged, current...)
	return merged
}

// OutputsToInputs converts a finalized response's output items into input
// items for the next turn. Message items keep their role and text; function
// calls become a descriptive assistant message; refusals are dropped.
func OutputsToInputs(outputs []openai.ResponseOutputItem) []openai.ResponseInputItem {
	var inputs []openai.ResponseInputItem
	for _, item := range outputs {
		switch {
		case item.Message != nil:
			var text string
			for _, part := range item.Message.Content {
				if part.Type == "output_text" || part.Type == "input_text" {
					text += part.Text
				}
			}
			inputs = append(inputs, openai.ResponseInputItem{
				Message: &openai.ResponseInputMessage{
					Role:    item.Message.Role,
					Content: openai.ResponseInputContentUnion{Text: text},
				},
			})
		case item.FunctionCall != nil:
			fc := item.FunctionCall
			inputs = append(inputs, openai.ResponseInputItem{
				Message: &openai.ResponseInputMessage{
					Role: openai.ChatMessageRoleAssistant,
					Content: openai.ResponseInputContentUnion{
						Text: fmt.Sprintf("Called function: %s with arguments: %s", fc.Name, fc.Arguments),
					},
				},
			})
		}
	}
	return inputs
}
