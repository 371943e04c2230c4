// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package sse implements the server-sent-events plumbing between upstream
// providers and clients: a restartable event parser and a stateful chunk
// processor that survives events split across arbitrary chunk boundaries.
package sse

import "bytes"

// Event is one parsed SSE event.
type Event struct {
	// Name is the value of the "event:" field, empty when absent.
	Name string
	// Data is the joined payload of the "data:" lines.
	Data []byte
	// Raw is the unmodified byte preimage of the event including its
	// terminating blank line, used for passthrough and for retry buffering.
	Raw []byte
}

// doneSentinel is the OpenAI end-of-stream marker payload.
var doneSentinel = []byte("[DONE]")

// IsDone reports whether the event is the OpenAI "[DONE]" sentinel.
func (e *Event) IsDone() bool {
	return bytes.Equal(e.Data, doneSentinel)
}

// WireBytes renders the event in SSE framing.
func (e *Event) WireBytes() []byte {
	buf := make([]byte, 0, len(e.Name)+len(e.Data)+18)
	if e.Name != "" {
		buf = append(buf, "event: "...)
		buf = append(buf, e.Name...)
		buf = append(buf, '\n')
	}
	buf = append(buf, "data: "...)
	buf = append(buf, e.Data...)
	buf = append(buf, "\n\n"...)
	return buf
}

// DataEvent builds an unnamed event carrying the given payload.
func DataEvent(data []byte) Event {
	ev := Event{Data: data}
	ev.Raw = ev.WireBytes()
	return ev
}

// NamedEvent builds a named event carrying the given payload.
func NamedEvent(name string, data []byte) Event {
	ev := Event{Name: name, Data: data}
	ev.Raw = ev.WireBytes()
	return ev
}

// Parse splits buf into the complete events it contains and the unconsumed
// remainder. An event is complete once its terminating blank line has been
// seen; trailing bytes without one are returned as rest so the caller can
// retry when more bytes arrive. Parse never fails on partial input.
func Parse(buf []byte) (events []Event, rest []byte) {
	for {
		ev, n, ok := parseOne(buf)
		if !ok {
			return events, buf
		}
		buf = buf[n:]
		if len(ev.Data) == 0 && ev.Name == "" {
			// Stray blank lines or comment-only blocks.
			continue
		}
		events = append(events, ev)
	}
}

// parseOne scans one blank-line-terminated event from the head of buf,
// returning the number of bytes consumed.
func parseOne(buf []byte) (ev Event, n int, ok bool) {
	var data [][]byte
	for {
		nl := bytes.IndexByte(buf[n:], '\n')
		if nl < 0 {
			return Event{}, 0, false
		}
		line := buf[n : n+nl]
		n += nl + 1
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) == 0 {
			ev.Raw = buf[:n]
			ev.Data = bytes.Join(data, []byte{'\n'})
			return ev, n, true
		}
		switch {
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, trimFieldValue(line[len("data:"):]))
		case bytes.HasPrefix(line, []byte("event:")):
			ev.Name = string(trimFieldValue(line[len("event:"):]))
		default:
			// Comments (":...") and unknown fields (id, retry) are kept in
			// Raw but otherwise ignored.
		}
	}
}

// trimFieldValue drops the single optional space after the field colon.
func trimFieldValue(v []byte) []byte {
	if len(v) > 0 && v[0] == ' ' {
		return v[1:]
	}
	return v
}
