// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package sse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("single data event", func(t *testing.T) {
		events, rest := Parse([]byte("data: {\"a\":1}\n\n"))
		require.Len(t, events, 1)
		require.Empty(t, rest)
		require.Equal(t, `{"a":1}`, string(events[0].Data))
		require.Empty(t, events[0].Name)
	})
	t.Run("named event", func(t *testing.T) {
		events, rest := Parse([]byte("event: message_start\ndata: {}\n\n"))
		require.Len(t, events, 1)
		require.Empty(t, rest)
		require.Equal(t, "message_start", events[0].Name)
		require.Equal(t, "{}", string(events[0].Data))
	})
	t.Run("partial event returned as rest", func(t *testing.T) {
		events, rest := Parse([]byte("data: {\"a\":"))
		require.Empty(t, events)
		require.Equal(t, `data: {"a":`, string(rest))
	})
	t.Run("complete then partial", func(t *testing.T) {
		events, rest := Parse([]byte("data: one\n\ndata: tw"))
		require.Len(t, events, 1)
		require.Equal(t, "one", string(events[0].Data))
		require.Equal(t, "data: tw", string(rest))
	})
	t.Run("multiple data lines join with newline", func(t *testing.T) {
		events, _ := Parse([]byte("data: a\ndata: b\n\n"))
		require.Len(t, events, 1)
		require.Equal(t, "a\nb", string(events[0].Data))
	})
	t.Run("crlf line endings", func(t *testing.T) {
		events, rest := Parse([]byte("data: hi\r\n\r\n"))
		require.Len(t, events, 1)
		require.Empty(t, rest)
		require.Equal(t, "hi", string(events[0].Data))
	})
	t.Run("comment only blocks are dropped", func(t *testing.T) {
		events, rest := Parse([]byte(": keepalive\n\ndata: x\n\n"))
		require.Len(t, events, 1)
		require.Empty(t, rest)
		require.Equal(t, "x", string(events[0].Data))
	})
	t.Run("no leading space after colon", func(t *testing.T) {
		events, _ := Parse([]byte("data:tight\n\n"))
		require.Len(t, events, 1)
		require.Equal(t, "tight", string(events[0].Data))
	})
	t.Run("raw preserves the exact preimage", func(t *testing.T) {
		wire := "event: ping\ndata: {}\n\n"
		events, _ := Parse([]byte(wire))
		require.Len(t, events, 1)
		require.Equal(t, wire, string(events[0].Raw))
	})
}

func TestEventIsDone(t *testing.T) {
	ev := DataEvent([]byte("[DONE]"))
	require.True(t, ev.IsDone())
	notDone := DataEvent([]byte("{}"))
	require.False(t, notDone.IsDone())
}

func TestEventWireBytes(t *testing.T) {
	ev := NamedEvent("message_stop", []byte(`{"type":"message_stop"}`))
	require.Equal(t, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n", string(ev.WireBytes()))
	plain := DataEvent([]byte("x"))
	require.Equal(t, "data: x\n\n", string(plain.WireBytes()))
}
