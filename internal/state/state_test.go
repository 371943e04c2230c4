// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archgw/archgw/internal/apischema/openai"
)

func userItem(text string) openai.ResponseInputItem {
	return openai.ResponseInputItem{Message: &openai.ResponseInputMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: openai.ResponseInputContentUnion{Text: text},
	}}
}

func TestMerge(t *testing.T) {
	prev := &ConversationState{
		ResponseID: "resp_1",
		InputItems: []openai.ResponseInputItem{userItem("first"), userItem("second")},
	}
	merged := Merge(prev, []openai.ResponseInputItem{userItem("third")})

	require.Len(t, merged, 3)
	require.Equal(t, "first", merged[0].Message.Content.Text)
	require.Equal(t, "third", merged[2].Message.Content.Text)
	// The stored history is untouched.
	require.Len(t, prev.InputItems, 2)
}

func TestOutputsToInputs(t *testing.T) {
	inputs := OutputsToInputs([]openai.ResponseOutputItem{
		{Message: &openai.ResponseOutputMessage{
			Type: "message",
			Role: openai.ChatMessageRoleAssistant,
			Content: []openai.ResponseContentPart{
				{Type: "output_text", Text: "Hello "},
				{Type: "output_text", Text: "there."},
				{Type: "refusal", Refusal: "no"},
			},
		}},
		{FunctionCall: &openai.ResponseFunctionCall{
			Type:      "function_call",
			CallID:    "call_1",
			Name:      "get_weather",
			Arguments: `{"city":"SF"}`,
		}},
	})

	require.Len(t, inputs, 2)
	require.Equal(t, openai.ChatMessageRoleAssistant, inputs[0].Message.Role)
	require.Equal(t, "Hello there.", inputs[0].Message.Content.Text)
	require.Equal(t, `Called function: get_weather with arguments: {"city":"SF"}`, inputs[1].Message.Content.Text)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "resp_missing")
	require.ErrorIs(t, err, ErrNotFound)

	exists, err := s.Exists(ctx, "resp_1")
	require.NoError(t, err)
	require.False(t, exists)

	st := &ConversationState{
		ResponseID: "resp_1",
		InputItems: []openai.ResponseInputItem{userItem("hello")},
		CreatedAt:  1700000000,
		Model:      "openai/gpt-4o",
		Provider:   "openai",
	}
	require.NoError(t, s.Put(ctx, st))

	exists, err = s.Exists(ctx, "resp_1")
	require.NoError(t, err)
	require.True(t, exists)

	got, err := s.Get(ctx, "resp_1")
	require.NoError(t, err)
	require.Equal(t, "openai/gpt-4o", got.Model)
	require.Len(t, got.InputItems, 1)

	require.NoError(t, s.Delete(ctx, "resp_1"))
	_, err = s.Get(ctx, "resp_1")
	require.ErrorIs(t, err, ErrNotFound)
}

// Put and Get both hand out copies: mutating the caller's slices must not
// leak into stored state, and vice versa.
func TestMemoryStoreCloneSemantics(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	items := []openai.ResponseInputItem{userItem("original")}
	require.NoError(t, s.Put(ctx, &ConversationState{ResponseID: "resp_1", InputItems: items}))
	items[0] = userItem("mutated after put")

	got, err := s.Get(ctx, "resp_1")
	require.NoError(t, err)
	require.Equal(t, "original", got.InputItems[0].Message.Content.Text)

	// Appending to the returned slice must not corrupt a later Get.
	_ = append(got.InputItems, userItem("appended"))
	got.InputItems[0] = userItem("mutated after get")

	again, err := s.Get(ctx, "resp_1")
	require.NoError(t, err)
	require.Equal(t, "original", again.InputItems[0].Message.Content.Text)
}

func TestMemoryStorePutIsUpsert(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Put(ctx, &ConversationState{ResponseID: "resp_1", Model: "a"}))
	require.NoError(t, s.Put(ctx, &ConversationState{ResponseID: "resp_1", Model: "b"}))

	got, err := s.Get(ctx, "resp_1")
	require.NoError(t, err)
	require.Equal(t, "b", got.Model)
}
