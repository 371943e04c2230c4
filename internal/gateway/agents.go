// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package gateway

import (
	"io"
	"net/http"

	"github.com/archgw/archgw/internal/apischema/anthropic"
	"github.com/archgw/archgw/internal/apischema/openai"
	"github.com/archgw/archgw/internal/json"
	"github.com/archgw/archgw/internal/translator"
)

const listenerHeader = "x-arch-agent-listener-name"

// listenerName validates the agent-listener header.
func (s *Server) listenerName(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.runner == nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "no agent listeners configured", nil)
		return "", false
	}
	name := r.Header.Get(listenerHeader)
	if name == "" {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, listenerHeader+" header is required", nil)
		return "", false
	}
	return name, true
}

// handleAgentChatCompletions serves POST /agents/v1/chat/completions. The
// terminal agent already speaks the chat dialect, so the terminal stream
// passes through with only chunk-boundary reassembly.
func (s *Server) handleAgentChatCompletions(w http.ResponseWriter, r *http.Request) {
	listener, ok := s.listenerName(w, r)
	if !ok {
		return
	}
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
	prefs := routePreferences(&req)

	term, err := s.runner.Execute(r.Context(), listener, &req, prefs)
	if err != nil {
		writeAgentError(w, s.logger, err)
		return
	}

	if req.Stream {
		tr, _ := translator.NewChatTranslator(translator.DialectOpenAIChat, s.defaultMaxTokens)
		dec := tr.NewStreamDecoder(term.AgentID, s.logger, s.metrics)
		buf := translator.NewStreamBuffer(translator.DialectOpenAIChat, translator.DialectOpenAIChat)
		s.streamToClient(w, term.Body, dec, buf)
		return
	}
	s.copyTerminal(w, term.StatusCode, term.Header.Get("Content-Type"), term.Body)
}

// handleAgentMessages serves POST /agents/v1/messages by translating between
// the Anthropic client and the chat-speaking agent chain.
func (s *Server) handleAgentMessages(w http.ResponseWriter, r *http.Request) {
	listener, ok := s.listenerName(w, r)
	if !ok {
		return
	}
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

	tr, err := translator.NewMessagesTranslator(translator.DialectOpenAIChat)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	chatBytes, err := tr.RequestBody(nil, &req)
	if err != nil {
		writeTranslatorError(w, err)
		return
	}
	var chatReq openai.ChatCompletionRequest
	if err := json.Unmarshal(chatBytes, &chatReq); err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	chatReq.Stream = req.Stream

	term, err := s.runner.Execute(r.Context(), listener, &chatReq, nil)
	if err != nil {
		writeAgentError(w, s.logger, err)
		return
	}

	if req.Stream {
		dec := tr.NewStreamDecoder(term.AgentID, s.logger, s.metrics)
		buf := translator.NewStreamBuffer(translator.DialectAnthropicMessages, translator.DialectOpenAIChat)
		s.streamToClient(w, term.Body, dec, buf)
		return
	}
	raw, err := readAll(term.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	out, _, err := tr.ResponseBody(raw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

// handleAgentResponses serves POST /agents/v1/responses, with the same
// conversation-state semantics as the direct endpoint.
func (s *Server) handleAgentResponses(w http.ResponseWriter, r *http.Request) {
	listener, ok := s.listenerName(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "failed to read request body", nil)
		return
	}
	var req openai.ResponsesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error(), nil)
		return
	}
	if !req.Input.IsSet() {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "input is required", nil)
		return
	}

	inputItems, ok := s.loadConversation(r.Context(), w, &req)
	if !ok {
		return
	}
	chatReq, err := translator.ResponsesToChatRequest(&req)
	if err != nil {
		writeTranslatorError(w, err)
		return
	}
	chatReq.Stream = req.Stream

	term, err := s.runner.Execute(r.Context(), listener, chatReq, nil)
	if err != nil {
		writeAgentError(w, s.logger, err)
		return
	}

	if req.Stream {
		tr, _ := translator.NewChatTranslator(translator.DialectOpenAIChat, s.defaultMaxTokens)
		dec := tr.NewStreamDecoder(term.AgentID, s.logger, s.metrics)
		buf := translator.NewResponsesStreamBuffer(term.AgentID)
		s.streamToClient(w, term.Body, dec, buf)
		if final := buf.Response(); final != nil && shouldStore(&req) {
			s.persistConversation(final, inputItems, term.AgentID, listener)
		}
		return
	}

	raw, err := readAll(term.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeResponseCreationFailed, err.Error(), nil)
		return
	}
	final, _, err := translator.ChatResponseToResponses(raw, term.AgentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeResponseCreationFailed, err.Error(), nil)
		return
	}
	final.PreviousResponseID = req.PreviousResponseID
	if shouldStore(&req) {
		s.persistConversation(final, inputItems, term.AgentID, listener)
	}
	out, err := json.Marshal(final)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

// copyTerminal relays a non-streaming terminal response verbatim.
func (s *Server) copyTerminal(w http.ResponseWriter, status int, contentType string, body io.ReadCloser) {
	defer body.Close()
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.WriteHeader(status)
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Error("failed to relay terminal response", "error", err.Error())
	}
}

func readAll(body io.ReadCloser) ([]byte, error) {
	defer body.Close()
	return io.ReadAll(body)
}
