// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package gateway

import (
	"log/slog"
	"net/http"

	"github.com/archgw/archgw/internal/agents"
	"github.com/archgw/archgw/internal/json"
)

// Error codes surfaced in the error body.
const (
	codeModelNotFound          = "ModelNotFound"
	codeNoModelSpecified       = "NoModelSpecified"
	codeInvalidRequest         = "InvalidRequest"
	codeConversationStateLost  = "ConversationStateNotFound"
	codeServerError            = "ServerError"
	codeStreamError            = "StreamError"
	codeInternalServerError    = "InternalServerError"
	codeResponseCreationFailed = "ResponseCreationFailed"
	codeParseError             = "ParseError"
)

// errorBody is the uniform error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, err := json.Marshal(errorBody{Error: errorDetail{Code: code, Message: message, Details: details}})
	if err != nil {
		body = []byte(`{"error":{"code":"InternalServerError","message":"failed to encode error"}}`)
	}
	_, _ = w.Write(body)
}

// agentClientErrorBody is the 4xx agent failure shape, preserving the agent's
// status and raw response.
type agentClientErrorBody struct {
	Error         string `json:"error"`
	Agent         string `json:"agent"`
	Status        int    `json:"status"`
	AgentResponse string `json:"agent_response"`
}

// writeAgentError maps pipeline errors to their client representation.
func writeAgentError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch e := err.(type) {
	case *agents.ClientError:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(e.Status)
		body, _ := json.Marshal(agentClientErrorBody{
			Error: "ClientError", Agent: e.Agent, Status: e.Status, AgentResponse: string(e.Body),
		})
		_, _ = w.Write(body)
	case *agents.ServerError:
		writeError(w, http.StatusInternalServerError, codeServerError, e.Error(), string(e.Body))
	case *agents.ParseError:
		writeError(w, http.StatusInternalServerError, codeParseError, e.Error(), nil)
	default:
		logger.Error("agent pipeline failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, codeInternalServerError, err.Error(), nil)
	}
}
