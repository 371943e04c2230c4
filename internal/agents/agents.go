// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package agents runs listener-scoped filter chains: every agent but the
// last rewrites the conversation, and the last one produces the response the
// client sees.
package agents

import (
	"errors"
	"fmt"
	"sync"
)

// Agent is one invocable endpoint. Agents speak the chat-completions wire
// format regardless of what they do internally.
type Agent struct {
	ID  string
	URL string
	// Type and Transport are routing tags carried through from config; the
	// gateway does not interpret them.
	Type      string
	Transport string
}

// Pipeline is an ordered agent chain. All ids but the last name filter
// agents; the final id names the terminal agent.
type Pipeline struct {
	ID          string
	Description string
	Default     bool
	AgentIDs    []string
}

// Terminal returns the terminal agent id, or "" for an empty pipeline.
func (p *Pipeline) Terminal() string {
	if len(p.AgentIDs) == 0 {
		return ""
	}
	return p.AgentIDs[len(p.AgentIDs)-1]
}

// Filters returns the non-terminal agent ids in order.
func (p *Pipeline) Filters() []string {
	if len(p.AgentIDs) == 0 {
		return nil
	}
	return p.AgentIDs[:len(p.AgentIDs)-1]
}

// Listener groups the pipelines addressable under one
// x-arch-agent-listener-name value.
type Listener struct {
	Name      string
	Port      int
	Pipelines []Pipeline
}

// defaultPipeline picks the pipeline marked default, falling back to the
// first one.
func (l *Listener) defaultPipeline() *Pipeline {
	for i := range l.Pipelines {
		if l.Pipelines[i].Default {
			return &l.Pipelines[i]
		}
	}
	if len(l.Pipelines) > 0 {
		return &l.Pipelines[0]
	}
	return nil
}

var (
	// ErrListenerNotFound reports an unknown x-arch-agent-listener-name.
	ErrListenerNotFound = errors.New("agent listener not found")
	// ErrNoPipelines reports a listener with an empty pipeline set.
	ErrNoPipelines = errors.New("agent listener has no pipelines")
)

// ClientError wraps a 4xx from a filter or terminal agent. The original
// status and body are surfaced to the client unchanged.
type ClientError struct {
	Agent  string
	Status int
	Body   []byte
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("agent %s returned client error %d: %s", e.Agent, e.Status, e.Body)
}

// ServerError wraps a 5xx from a filter or terminal agent; surfaced as 500.
type ServerError struct {
	Agent  string
	Status int
	Body   []byte
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("agent %s returned server error %d: %s", e.Agent, e.Status, e.Body)
}

// ParseError wraps an agent response that is not a JSON message array.
type ParseError struct {
	Agent string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("agent %s returned an unparsable response: %v", e.Agent, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// snapshot is one immutable view of the agent topology.
type snapshot struct {
	listeners map[string]*Listener
	agents    map[string]*Agent
}

// Topology holds the reloadable listener/agent configuration. Readers take a
// consistent snapshot for the duration of a request; config reloads swap the
// snapshot wholesale.
type Topology struct {
	mu   sync.RWMutex
	snap snapshot
}

// NewTopology builds a topology from the initial configuration.
func NewTopology(listeners []Listener, agents []Agent) *Topology {
	t := &Topology{}
	t.Load(listeners, agents)
	return t
}

// Load replaces the topology. In-flight requests keep the snapshot they
// started with.
func (t *Topology) Load(listeners []Listener, agents []Agent) {
	snap := snapshot{
		listeners: make(map[string]*Listener, len(listeners)),
		agents:    make(map[string]*Agent, len(agents)),
	}
	for i := range listeners {
		snap.listeners[listeners[i].Name] = &listeners[i]
	}
	for i := range agents {
		snap.agents[agents[i].ID] = &agents[i]
	}
	t.mu.Lock()
	t.snap = snap
	t.mu.Unlock()
}

func (t *Topology) snapshot() snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

// Listener resolves a listener by name from the current snapshot.
func (t *Topology) Listener(name string) (*Listener, bool) {
	snap := t.snapshot()
	l, ok := snap.listeners[name]
	return l, ok
}

// Agent resolves an agent by id from the current snapshot.
func (t *Topology) Agent(id string) (*Agent, bool) {
	snap := t.snapshot()
	a, ok := snap.agents[id]
	return a, ok
}
