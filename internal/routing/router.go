// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package routing asks the orchestrator LLM which named route should serve a
// user turn, given the recent conversation and the declared route set.
package routing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/archgw/archgw/internal/apischema/openai"
	"github.com/archgw/archgw/internal/json"
)

// orchestratorTemperature keeps route selection near-deterministic.
const orchestratorTemperature = 0.01

// promptTemplate is the fixed orchestrator system prompt. The route lines and
// conversation rendering are format-sensitive: the orchestrator model was
// tuned on this exact shape.
const promptTemplate = `You are a helpful assistant designed to find the best suited route.
You are provided with route description within <routes></routes> XML tags:
<routes>
%s
</routes>

<conversation>
%s
</conversation>

Your task is to decide which route is best suit with user latest intent.
Respond with a JSON object of the form {"route": ["route_name"]} and nothing else.
If no route matches, respond with {"route": []}.`

// Route is one selectable target: a name the orchestrator can return, the
// description it matches intent against, and the model that serves it.
type Route struct {
	Name        string
	Description string
	Model       string
}

// Preference overrides the model for a route name on a per-request basis.
type Preference struct {
	Name  string
	Model string
}

// Selection is one (route, model) pair chosen by the orchestrator.
type Selection struct {
	RouteName string
	Model     string
}

// Router calls the orchestrator chat-completions endpoint.
type Router struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *slog.Logger
	// tokenBudget caps the conversation window, measured in estimated
	// tokens (byte length / 4).
	tokenBudget int
}

// NewRouter builds a router against one orchestrator endpoint.
func NewRouter(endpoint, model string, tokenBudget int, logger *slog.Logger) *Router {
	if tokenBudget <= 0 {
		tokenBudget = 8192
	}
	return &Router{
		endpoint:    endpoint,
		model:       model,
		client:      &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
		tokenBudget: tokenBudget,
	}
}

// SelectRoutes picks zero or more routes for the conversation. A nil result
// with nil error means no route applied. The orchestrator is not called when
// the conversation has no eligible messages.
func (r *Router) SelectRoutes(ctx context.Context, routes []Route, messages []openai.ChatCompletionMessageParamUnion, prefs []Preference) ([]Selection, error) {
	if len(routes) == 0 {
		return nil, nil
	}
	window := r.conversationWindow(messages)
	if len(window) == 0 {
		return nil, nil
	}

	prompt, err := r.buildPrompt(routes, window)
	if err != nil {
		return nil, err
	}
	content, err := r.call(ctx, prompt)
	if err != nil {
		return nil, err
	}
	names := ParseRouteResponse(content)
	if len(names) == 0 {
		return nil, nil
	}
	return r.resolve(names, routes, prefs), nil
}

// conversationWindow filters and budget-trims the conversation. System and
// tool messages and empty turns are excluded; the newest messages that fit
// the token budget are kept in chronological order.
func (r *Router) conversationWindow(messages []openai.ChatCompletionMessageParamUnion) []promptMessage {
	var eligible []promptMessage
	for i := range messages {
		msg := &messages[i]
		if msg.System != nil || msg.Developer != nil || msg.Tool != nil {
			continue
		}
		text := openai.MessageText(msg)
		if text == "" {
			continue
		}
		eligible = append(eligible, promptMessage{Role: msg.Role(), Content: text})
	}
	if len(eligible) == 0 {
		return nil
	}

	// Walk newest to oldest under the budget.
	budget := r.tokenBudget
	start := len(eligible)
	for i := len(eligible) - 1; i >= 0; i-- {
		cost := len(eligible[i].Content) / 4
		if cost > budget {
			break
		}
		budget -= cost
		start = i
	}
	if start == len(eligible) {
		// Even the newest message exceeds the budget; include it alone.
		start = len(eligible) - 1
	}
	window := eligible[start:]

	if window[0].Role != openai.ChatMessageRoleUser {
		r.logger.Warn("routing window does not start with a user turn", slog.String("role", window[0].Role))
	}
	if window[len(window)-1].Role != openai.ChatMessageRoleUser {
		r.logger.Warn("routing window does not end with a user turn", slog.String("role", window[len(window)-1].Role))
	}
	return window
}

// promptMessage is the conversation rendering unit.
type promptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (r *Router) buildPrompt(routes []Route, window []promptMessage) (string, error) {
	var routeLines []string
	for _, route := range routes {
		routeLines = append(routeLines, renderRouteJSON(&route))
	}
	conversation, err := json.MarshalIndent(window, "", "    ")
	if err != nil {
		return "", fmt.Errorf("failed to render conversation: %w", err)
	}
	return fmt.Sprintf(promptTemplate, strings.Join(routeLines, "\n"), conversation), nil
}

// renderRouteJSON renders one route as compact JSON with a space after every
// colon and comma. The orchestrator model is sensitive to this exact shape,
// so the line is assembled by hand instead of relying on an encoder's
// separator policy.
func renderRouteJSON(route *Route) string {
	name, _ := json.Marshal(route.Name)
	desc, _ := json.Marshal(route.Description)
	return fmt.Sprintf(`{"name": %s, "description": %s, "parameters": {"type": "object", "properties": {}, "required": []}}`,
		name, desc)
}

// call sends the rendered prompt to the orchestrator endpoint and returns the
// assistant content.
func (r *Router) call(ctx context.Context, prompt string) (string, error) {
	reqBody := openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: ptrFloat64(orchestratorTemperature),
	}
	body, err := json.Marshal(&reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal orchestrator request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build orchestrator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-arch-provider-hint", r.model)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("orchestrator call failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("orchestrator returned status %d: %s", resp.StatusCode, snippet)
	}
	var completion openai.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("failed to decode orchestrator response: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == nil {
		return "", nil
	}
	return *completion.Choices[0].Message.Content, nil
}

// ParseRouteResponse extracts the route names from the orchestrator's
// {"route": [...]} answer. Single quotes and stray newlines are repaired only
// when the raw content is not already valid JSON, so legitimate escaped
// newlines inside route names survive.
func ParseRouteResponse(content string) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	if !json.Valid([]byte(content)) {
		content = strings.ReplaceAll(content, "'", `"`)
		content = strings.ReplaceAll(content, `\n`, "")
		content = strings.ReplaceAll(content, "\n", "")
	}
	var parsed struct {
		Route []string `json:"route"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil
	}
	return parsed.Route
}

// resolve maps route names to models: request preferences win, then the
// configured route set. Unresolvable names are dropped with a warning.
func (r *Router) resolve(names []string, routes []Route, prefs []Preference) []Selection {
	byName := make(map[string]string, len(routes))
	for _, route := range routes {
		byName[route.Name] = route.Model
	}
	var out []Selection
	for _, name := range names {
		model := ""
		for _, pref := range prefs {
			if pref.Name == name {
				model = pref.Model
				break
			}
		}
		if model == "" {
			model = byName[name]
		}
		if model == "" {
			r.logger.Warn("orchestrator selected unknown route", slog.String("route", name))
			continue
		}
		out = append(out, Selection{RouteName: name, Model: model})
	}
	return out
}

func ptrFloat64(v float64) *float64 { return &v }
