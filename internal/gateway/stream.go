// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package gateway

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/archgw/archgw/internal/translator"
)

// streamWriter writes SSE bytes to the client, deferring the status line
// until the first payload so early failures can still produce an error body.
type streamWriter struct {
	w           http.ResponseWriter
	flusher     http.Flusher
	wroteHeader bool
}

func newStreamWriter(w http.ResponseWriter) *streamWriter {
	flusher, _ := w.(http.Flusher)
	return &streamWriter{w: w, flusher: flusher}
}

func (sw *streamWriter) write(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if !sw.wroteHeader {
		sw.w.Header().Set("Content-Type", "text/event-stream")
		sw.w.Header().Set("Cache-Control", "no-cache")
		sw.w.WriteHeader(http.StatusOK)
		sw.wroteHeader = true
	}
	if _, err := sw.w.Write(b); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// streamToClient pumps the upstream body through the decoder and buffer until
// EOF or client disconnect. Write errors abort the upstream read via the
// request context; decode errors after the first byte terminate the stream
// as-is, since the status line is already on the wire.
func (s *Server) streamToClient(w http.ResponseWriter, body io.ReadCloser, dec translator.StreamDecoder, buf translator.StreamBuffer) {
	defer body.Close()
	sw := newStreamWriter(w)

	fail := func(msg string, err error) {
		s.logger.Error(msg, slog.String("error", err.Error()))
		if !sw.wroteHeader {
			writeError(w, http.StatusBadRequest, codeStreamError, err.Error(), nil)
		}
	}

	chunk := make([]byte, 32<<10)
	for {
		n, readErr := body.Read(chunk)
		if n > 0 {
			events, err := dec.Process(chunk[:n])
			if err != nil {
				fail("stream decode failed", err)
				return
			}
			for _, ev := range events {
				out, err := buf.Push(ev)
				if err != nil {
					fail("stream buffering failed", err)
					return
				}
				if err := sw.write(out); err != nil {
					return
				}
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				fail("upstream read failed", readErr)
				return
			}
			break
		}
	}

	tail, err := dec.Finish()
	if err != nil {
		fail("stream finish failed", err)
		return
	}
	for _, ev := range tail {
		out, err := buf.Push(ev)
		if err != nil {
			fail("stream buffering failed", err)
			return
		}
		if err := sw.write(out); err != nil {
			return
		}
	}
	closing, err := buf.Close()
	if err != nil {
		fail("stream close failed", err)
		return
	}
	_ = sw.write(closing)
}
