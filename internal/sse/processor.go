// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package sse

import (
	"errors"
	"log/slog"
)

// Sentinel errors used by transforms to tell the processor how to triage a
// failing event.
var (
	// ErrIncompleteEvent signals the event payload looks truncated at a chunk
	// boundary: hold its raw bytes and retry once more bytes arrive.
	ErrIncompleteEvent = errors.New("incomplete event payload")
	// ErrSkipEvent signals the event has no representation in the target
	// dialect and should be dropped without failing the stream.
	ErrSkipEvent = errors.New("unsupported event, skipping")
)

// Transform converts one upstream event into zero or more client-dialect
// events. Errors wrapping ErrIncompleteEvent or ErrSkipEvent are recovered by
// the processor; anything else aborts the stream.
type Transform func(ev Event) ([]Event, error)

// SkipRecorder observes events the processor dropped, typically backed by a
// metrics counter.
type SkipRecorder interface {
	RecordSkippedEvent(eventName string)
}

// ChunkProcessor feeds arbitrary upstream byte chunks through the SSE parser
// and a per-direction transform. It carries partial bytes across chunks so
// that the emitted event sequence is independent of how the upstream bytes
// were chunked.
type ChunkProcessor struct {
	transform Transform
	logger    *slog.Logger
	skips     SkipRecorder

	// buf holds bytes that do not yet form a transformable event: a partial
	// tail from the parser, or the raw preimage of at most one event whose
	// payload was truncated mid-JSON.
	buf []byte
}

// NewChunkProcessor builds a processor for one streaming response.
func NewChunkProcessor(transform Transform, logger *slog.Logger, skips SkipRecorder) *ChunkProcessor {
	return &ChunkProcessor{transform: transform, logger: logger, skips: skips}
}

// Process consumes one upstream chunk and returns the transformed events that
// became complete with it, in source order.
func (p *ChunkProcessor) Process(chunk []byte) ([]Event, error) {
	p.buf = append(p.buf, chunk...)
	events, rest := Parse(p.buf)
	out, held, err := p.transformAll(events)
	if err != nil {
		return nil, err
	}
	// Rebuild the carry-over buffer: the held event's preimage (if any)
	// followed by the unparsed tail. Copy so emitted events do not alias the
	// next append.
	carry := make([]byte, 0, len(held)+len(rest))
	carry = append(carry, held...)
	carry = append(carry, rest...)
	p.buf = carry
	return out, nil
}

// Finish flushes the processor at end-of-stream. A leftover payload that
// never became valid is dropped with a log line rather than failing a stream
// that already delivered its content.
func (p *ChunkProcessor) Finish() ([]Event, error) {
	if len(p.buf) == 0 {
		return nil, nil
	}
	// Force-terminate whatever is left so a final event missing its blank
	// line still parses.
	p.buf = append(p.buf, '\n', '\n')
	events, _ := Parse(p.buf)
	out, held, err := p.transformAll(events)
	p.buf = nil
	if err != nil {
		return nil, err
	}
	if len(held) > 0 {
		p.logger.Warn("dropping truncated trailing event at end of stream",
			slog.Int("bytes", len(held)))
	}
	return out, nil
}

// transformAll runs the transform over parsed events honoring the triage
// contract: incomplete payloads stop the scan and are returned as held bytes,
// unsupported events are skipped, other errors propagate.
func (p *ChunkProcessor) transformAll(events []Event) (out []Event, held []byte, err error) {
	for i, ev := range events {
		transformed, err := p.transform(ev)
		switch {
		case err == nil:
			out = append(out, transformed...)
		case errors.Is(err, ErrIncompleteEvent):
			if i == len(events)-1 {
				return out, ev.Raw, nil
			}
			// A later event completed, so this one will never become valid.
			// Treat it as a skip instead of buffering forever.
			p.recordSkip(ev)
		case errors.Is(err, ErrSkipEvent):
			p.recordSkip(ev)
		default:
			return nil, nil, err
		}
	}
	return out, nil, nil
}

func (p *ChunkProcessor) recordSkip(ev Event) {
	p.logger.Debug("skipping stream event", slog.String("event", ev.Name))
	if p.skips != nil {
		p.skips.RecordSkippedEvent(ev.Name)
	}
}
