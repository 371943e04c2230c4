// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package gateway

import (
	"io"
	"net/http"

	"github.com/tidwall/sjson"

	"github.com/archgw/archgw/internal/apischema/anthropic"
	"github.com/archgw/archgw/internal/apischema/openai"
	"github.com/archgw/archgw/internal/json"
	"github.com/archgw/archgw/internal/translator"
)

// handleChatCompletions serves POST /v1/chat/completions for any upstream
// dialect.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "failed to read request body", nil)
		return
	}
	var req openai.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error(), nil)
		return
	}
	routePreferences(&req)
	// Keep the raw body in step with the stripped metadata.
	if b, err := sjson.DeleteBytes(body, "metadata."+preferenceMetadataKey); err == nil {
		body = b
	}

	d, ok := s.resolveModel(w, r, req.GetModel())
	if !ok {
		return
	}
	req.SetModel(d.UpstreamModel())

	tr, err := translator.NewChatTranslator(d.Dialect, s.defaultMaxTokens)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	upstreamBody, err := tr.RequestBody(body, &req)
	if err != nil {
		writeTranslatorError(w, err)
		return
	}

	resp, err := s.upstream.Do(r.Context(), d, upstreamBody, req.Stream)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	s.metrics.RecordRequest(r.Context(), d.Name, resp.StatusCode)
	if resp.StatusCode >= http.StatusBadRequest {
		s.forwardUpstreamError(w, resp)
		return
	}

	if req.Stream {
		dec := tr.NewStreamDecoder(d.UpstreamModel(), s.logger, s.metrics)
		buf := translator.NewStreamBuffer(translator.DialectOpenAIChat, d.Dialect)
		s.streamToClient(w, resp.Body, dec, buf)
		return
	}

	raw, err := s.upstream.readBody(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	out, usage, err := tr.ResponseBody(raw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	s.metrics.RecordTokenUsage(r.Context(), d.Name, usage.InputTokens, usage.OutputTokens)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

// handleMessages serves POST /v1/messages.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "failed to read request body", nil)
		return
	}
	var req anthropic.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error(), nil)
		return
	}

	d, ok := s.resolveModel(w, r, req.GetModel())
	if !ok {
		return
	}
	req.SetModel(d.UpstreamModel())

	tr, err := translator.NewMessagesTranslator(d.Dialect)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	upstreamBody, err := tr.RequestBody(body, &req)
	if err != nil {
		writeTranslatorError(w, err)
		return
	}

	resp, err := s.upstream.Do(r.Context(), d, upstreamBody, req.Stream)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	s.metrics.RecordRequest(r.Context(), d.Name, resp.StatusCode)
	if resp.StatusCode >= http.StatusBadRequest {
		s.forwardUpstreamError(w, resp)
		return
	}

	if req.Stream {
		dec := tr.NewStreamDecoder(d.UpstreamModel(), s.logger, s.metrics)
		buf := translator.NewStreamBuffer(translator.DialectAnthropicMessages, d.Dialect)
		s.streamToClient(w, resp.Body, dec, buf)
		return
	}

	raw, err := s.upstream.readBody(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	out, usage, err := tr.ResponseBody(raw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	s.metrics.RecordTokenUsage(r.Context(), d.Name, usage.InputTokens, usage.OutputTokens)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}
