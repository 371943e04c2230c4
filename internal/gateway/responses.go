// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/archgw/archgw/internal/apischema/openai"
	"github.com/archgw/archgw/internal/json"
	"github.com/archgw/archgw/internal/state"
	"github.com/archgw/archgw/internal/translator"
)

// handleResponses serves POST /v1/responses by lowering the request into the
// Chat dialect, forwarding it through the regular translation pipeline, and
// synthesizing Responses API semantics (ids, lifecycle events, conversation
// state) on this side.
func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
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

	d, ok := s.resolveModel(w, r, req.GetModel())
	if !ok {
		return
	}
	req.SetModel(d.UpstreamModel())

	chatReq, err := translator.ResponsesToChatRequest(&req)
	if err != nil {
		writeTranslatorError(w, err)
		return
	}
	tr, err := translator.NewChatTranslator(d.Dialect, s.defaultMaxTokens)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	upstreamBody, err := tr.RequestBody(nil, chatReq)
	if err != nil {
		writeTranslatorError(w, err)
		return
	}

	resp, err := s.upstream.Do(r.Context(), d, upstreamBody, req.Stream)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeResponseCreationFailed, err.Error(), nil)
		return
	}
	s.metrics.RecordRequest(r.Context(), d.Name, resp.StatusCode)
	if resp.StatusCode >= http.StatusBadRequest {
		s.forwardUpstreamError(w, resp)
		return
	}

	if req.Stream {
		dec := tr.NewStreamDecoder(d.UpstreamModel(), s.logger, s.metrics)
		buf := translator.NewResponsesStreamBuffer(d.Name)
		s.streamToClient(w, resp.Body, dec, buf)
		if final := buf.Response(); final != nil && shouldStore(&req) {
			s.persistConversation(final, inputItems, d.UpstreamModel(), d.Provider)
		}
		return
	}

	raw, err := s.upstream.readBody(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeResponseCreationFailed, err.Error(), nil)
		return
	}
	chatBody, _, err := tr.ResponseBody(raw)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeResponseCreationFailed, err.Error(), nil)
		return
	}
	final, usage, err := translator.ChatResponseToResponses(chatBody, d.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeResponseCreationFailed, err.Error(), nil)
		return
	}
	final.PreviousResponseID = req.PreviousResponseID
	s.metrics.RecordTokenUsage(r.Context(), d.Name, usage.InputTokens, usage.OutputTokens)
	if shouldStore(&req) {
		s.persistConversation(final, inputItems, d.UpstreamModel(), d.Provider)
	}

	out, err := json.Marshal(final)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(out)
}

// loadConversation resolves previous_response_id against the state store and
// rewrites the request input to the merged history. The returned items are
// the merged input, kept for persistence after completion. A missing id is a
// client error; a failing store degrades to the current input only.
func (s *Server) loadConversation(ctx context.Context, w http.ResponseWriter, req *openai.ResponsesRequest) ([]openai.ResponseInputItem, bool) {
	items := currentInputItems(req)
	if req.PreviousResponseID == "" {
		req.Input = openai.ResponsesInputUnion{Items: items}
		return items, true
	}
	prev, err := s.store.Get(ctx, req.PreviousResponseID)
	switch {
	case errors.Is(err, state.ErrNotFound):
		writeError(w, http.StatusConflict, codeConversationStateLost,
			"no conversation state for response id "+req.PreviousResponseID, nil)
		return nil, false
	case err != nil:
		s.logger.Error("conversation state lookup failed, continuing without history",
			"response_id", req.PreviousResponseID, "error", err.Error())
	default:
		items = state.Merge(prev, items)
	}
	req.Input = openai.ResponsesInputUnion{Items: items}
	return items, true
}

// shouldStore honors the request's store flag; storing is the default.
func shouldStore(req *openai.ResponsesRequest) bool {
	return req.Store == nil || *req.Store
}

// currentInputItems normalizes the request input into item form.
func currentInputItems(req *openai.ResponsesRequest) []openai.ResponseInputItem {
	if len(req.Input.Items) > 0 {
		return req.Input.Items
	}
	if req.Input.Text == "" {
		return nil
	}
	return []openai.ResponseInputItem{{
		Message: &openai.ResponseInputMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: openai.ResponseInputContentUnion{Text: req.Input.Text},
		},
	}}
}

// persistConversation stores the post-completion history keyed by the new
// response id. Persistence is best effort and off the request path; failures
// are logged with the response id and never surface to the client.
func (s *Server) persistConversation(final *openai.ResponsesResponse, inputItems []openai.ResponseInputItem, model, provider string) {
	items := append(append([]openai.ResponseInputItem{}, inputItems...),
		state.OutputsToInputs(final.Output)...)
	st := &state.ConversationState{
		ResponseID: final.ID,
		InputItems: items,
		CreatedAt:  final.CreatedAt,
		Model:      model,
		Provider:   provider,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.store.Put(ctx, st); err != nil {
			s.logger.Error("failed to persist conversation state",
				"response_id", final.ID, "error", err.Error())
		}
	}()
}
