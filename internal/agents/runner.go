// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package agents

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/archgw/archgw/internal/apischema/openai"
	"github.com/archgw/archgw/internal/json"
	"github.com/archgw/archgw/internal/routing"
)

// maxAgentRetries is advertised to the downstream proxy on every agent call.
const maxAgentRetries = "3"

// Runner executes pipelines against the current topology.
type Runner struct {
	topology *Topology
	router   *routing.Router
	client   *http.Client
	logger   *slog.Logger
}

// NewRunner wires the runner. The router may be nil when no orchestrator is
// configured; selection then always falls back to the default pipeline.
func NewRunner(topology *Topology, router *routing.Router, client *http.Client, logger *slog.Logger) *Runner {
	if client == nil {
		client = http.DefaultClient
	}
	return &Runner{topology: topology, router: router, client: client, logger: logger}
}

// TerminalResponse is the last pipeline's terminal agent response, handed
// back unconsumed so the caller can stream it to the client.
type TerminalResponse struct {
	AgentID    string
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Execute runs the selected pipelines for the listener in order. All but the
// last pipeline run to completion and fold their terminal output back into
// the conversation; the last pipeline's terminal response is returned for
// streaming.
func (r *Runner) Execute(ctx context.Context, listenerName string, req *openai.ChatCompletionRequest, prefs []routing.Preference) (*TerminalResponse, error) {
	listener, ok := r.topology.Listener(listenerName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrListenerNotFound, listenerName)
	}
	if len(listener.Pipelines) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPipelines, listenerName)
	}

	pipelines, err := r.selectPipelines(ctx, listener, req, prefs)
	if err != nil {
		return nil, err
	}

	messages := req.Messages
	for i, pipeline := range pipelines {
		messages, err = r.runFilters(ctx, pipeline, req, messages)
		if err != nil {
			return nil, err
		}
		last := i == len(pipelines)-1
		if last {
			return r.invokeTerminal(ctx, pipeline, req, messages)
		}
		messages, err = r.foldTerminal(ctx, pipeline, req, messages)
		if err != nil {
			return nil, err
		}
	}
	// Unreachable: selectPipelines never returns an empty set.
	return nil, fmt.Errorf("%w: %s", ErrNoPipelines, listenerName)
}

// selectPipelines asks the router which pipelines should serve the turn. A
// single-pipeline listener skips routing entirely; an empty selection falls
// back to the default (or first) pipeline.
func (r *Runner) selectPipelines(ctx context.Context, listener *Listener, req *openai.ChatCompletionRequest, prefs []routing.Preference) ([]*Pipeline, error) {
	if len(listener.Pipelines) == 1 {
		return []*Pipeline{&listener.Pipelines[0]}, nil
	}
	byID := make(map[string]*Pipeline, len(listener.Pipelines))
	routes := make([]routing.Route, 0, len(listener.Pipelines))
	for i := range listener.Pipelines {
		p := &listener.Pipelines[i]
		byID[p.ID] = p
		routes = append(routes, routing.Route{Name: p.ID, Description: p.Description, Model: p.ID})
	}

	var selections []routing.Selection
	if r.router != nil {
		var err error
		selections, err = r.router.SelectRoutes(ctx, routes, req.Messages, prefs)
		if err != nil {
			r.logger.Warn("pipeline routing failed, using default pipeline",
				slog.String("listener", listener.Name), slog.String("error", err.Error()))
			selections = nil
		}
	}

	var picked []*Pipeline
	for _, sel := range selections {
		if p, ok := byID[sel.RouteName]; ok {
			picked = append(picked, p)
		}
	}
	if len(picked) == 0 {
		picked = append(picked, listener.defaultPipeline())
	}
	return picked, nil
}

// runFilters pushes the conversation through the pipeline's filter chain,
// replacing it with each agent's returned message array.
func (r *Runner) runFilters(ctx context.Context, pipeline *Pipeline, req *openai.ChatCompletionRequest, messages []openai.ChatCompletionMessageParamUnion) ([]openai.ChatCompletionMessageParamUnion, error) {
	for _, agentID := range pipeline.Filters() {
		agent, ok := r.topology.Agent(agentID)
		if !ok {
			return nil, fmt.Errorf("pipeline %s references unknown agent %s", pipeline.ID, agentID)
		}
		resp, err := r.callAgent(ctx, agent, req, messages, false)
		if err != nil {
			return nil, err
		}
		body, err := readAgentBody(agent, resp)
		if err != nil {
			return nil, err
		}
		var replaced []openai.ChatCompletionMessageParamUnion
		if err := json.Unmarshal(body, &replaced); err != nil {
			return nil, &ParseError{Agent: agentID, Err: err}
		}
		messages = replaced
	}
	return messages, nil
}

// invokeTerminal calls the terminal agent with the client's original stream
// setting and hands the response back unconsumed.
func (r *Runner) invokeTerminal(ctx context.Context, pipeline *Pipeline, req *openai.ChatCompletionRequest, messages []openai.ChatCompletionMessageParamUnion) (*TerminalResponse, error) {
	agentID := pipeline.Terminal()
	agent, ok := r.topology.Agent(agentID)
	if !ok {
		return nil, fmt.Errorf("pipeline %s references unknown agent %s", pipeline.ID, agentID)
	}
	resp, err := r.callAgent(ctx, agent, req, messages, req.Stream)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, statusError(agent, resp.StatusCode, body)
	}
	return &TerminalResponse{
		AgentID:    agentID,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// foldTerminal runs a non-final pipeline's terminal agent to completion and
// appends its text to the conversation as an assistant message named after
// the agent.
func (r *Runner) foldTerminal(ctx context.Context, pipeline *Pipeline, req *openai.ChatCompletionRequest, messages []openai.ChatCompletionMessageParamUnion) ([]openai.ChatCompletionMessageParamUnion, error) {
	agentID := pipeline.Terminal()
	agent, ok := r.topology.Agent(agentID)
	if !ok {
		return nil, fmt.Errorf("pipeline %s references unknown agent %s", pipeline.ID, agentID)
	}
	resp, err := r.callAgent(ctx, agent, req, messages, false)
	if err != nil {
		return nil, err
	}
	body, err := readAgentBody(agent, resp)
	if err != nil {
		return nil, err
	}
	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return nil, &ParseError{Agent: agentID, Err: err}
	}
	text := ""
	if len(completion.Choices) > 0 && completion.Choices[0].Message.Content != nil {
		text = *completion.Choices[0].Message.Content
	}
	msg := openai.AssistantMessage(text)
	msg.Assistant.Name = agentID
	return append(messages, msg), nil
}

// callAgent POSTs a chat-completions request carrying the given conversation
// snapshot to the agent's upstream URL.
func (r *Runner) callAgent(ctx context.Context, agent *Agent, req *openai.ChatCompletionRequest, messages []openai.ChatCompletionMessageParamUnion, stream bool) (*http.Response, error) {
	call := *req
	call.Messages = messages
	call.Stream = stream
	body, err := json.Marshal(&call)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request for agent %s: %w", agent.ID, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, agent.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for agent %s: %w", agent.ID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-arch-upstream-host", agent.ID)
	httpReq.Header.Set("x-envoy-max-retries", maxAgentRetries)
	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call to agent %s failed: %w", agent.ID, err)
	}
	return resp, nil
}

// readAgentBody consumes the response body and converts error statuses into
// the pipeline error types.
func readAgentBody(agent *Agent, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from agent %s: %w", agent.ID, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, statusError(agent, resp.StatusCode, body)
	}
	return body, nil
}

func statusError(agent *Agent, status int, body []byte) error {
	if status < http.StatusInternalServerError {
		return &ClientError{Agent: agent.ID, Status: status, Body: body}
	}
	return &ServerError{Agent: agent.ID, Status: status, Body: body}
}
