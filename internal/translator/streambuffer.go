// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package translator

import "github.com/archgw/archgw/internal/sse"

// StreamBuffer is the last stage of the streaming pipeline: it accepts
// transformed events and renders client wire bytes, enforcing the client
// dialect's lifecycle (envelope events, terminal sentinels). Push returns the
// bytes ready to write, which may be empty when the event is absorbed.
type StreamBuffer interface {
	Push(ev sse.Event) ([]byte, error)
	// Close flushes the buffer at end-of-stream.
	Close() ([]byte, error)
}

// PassthroughBuffer forwards events verbatim. It is used when the client and
// upstream dialects match: the upstream already produced a correct lifecycle,
// so the buffer only drops ping events and empty frames. The [DONE] sentinel
// is forwarded only when the upstream emitted one.
type PassthroughBuffer struct{}

func (PassthroughBuffer) Push(ev sse.Event) ([]byte, error) {
	if ev.Name == "ping" {
		return nil, nil
	}
	if len(ev.Data) == 0 && ev.Name == "" {
		return nil, nil
	}
	if len(ev.Raw) > 0 {
		return ev.Raw, nil
	}
	return ev.WireBytes(), nil
}

func (PassthroughBuffer) Close() ([]byte, error) { return nil, nil }

// NewStreamBuffer picks the buffer for a client dialect. The Responses
// dialect needs the richer ResponsesStreamBuffer constructor because the
// finalized response object feeds the conversation state store.
func NewStreamBuffer(client, upstream Dialect) StreamBuffer {
	if client == upstream {
		return PassthroughBuffer{}
	}
	switch client {
	case DialectAnthropicMessages:
		return NewAnthropicStreamBuffer()
	default:
		return PassthroughBuffer{}
	}
}
