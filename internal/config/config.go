// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package config loads and validates the gateway's YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/archgw/archgw/internal/agents"
	"github.com/archgw/archgw/internal/providers"
	"github.com/archgw/archgw/internal/translator"
)

// Config is the root document.
type Config struct {
	// Listen is the gateway bind address, e.g. ":12000".
	Listen string `yaml:"listen"`
	// AdminListen serves health and debug endpoints; empty disables it.
	AdminListen string `yaml:"admin_listen"`

	Providers []Provider `yaml:"providers"`

	// DefaultMaxTokens fills Anthropic's required max_tokens when an OpenAI
	// client omits it. Zero means the built-in default.
	DefaultMaxTokens int64 `yaml:"default_max_tokens"`

	Orchestrator *Orchestrator `yaml:"orchestrator"`

	Listeners []Listener `yaml:"listeners"`
	Agents    []Agent    `yaml:"agents"`

	State State `yaml:"state"`
}

// Provider is one upstream model entry. Model "*" (or a bare provider with
// no model) expands against the built-in catalog.
type Provider struct {
	Name       string `yaml:"name"`
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	PathPrefix string `yaml:"path_prefix"`
	Dialect    string `yaml:"dialect"`
	Auth       string `yaml:"auth"`
	// APIKey supports ${ENV_VAR} expansion.
	APIKey    string `yaml:"api_key"`
	AWSRegion string `yaml:"aws_region"`
	Default   bool   `yaml:"default"`
	Internal  bool   `yaml:"internal"`
}

// Orchestrator names the route-selection model and where to reach it.
type Orchestrator struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
	// TokenBudget caps the conversation window sent to the orchestrator,
	// in estimated tokens.
	TokenBudget int `yaml:"token_budget"`
}

// Listener groups agent pipelines under one listener name.
type Listener struct {
	Name      string     `yaml:"name"`
	Port      int        `yaml:"port"`
	Pipelines []Pipeline `yaml:"pipelines"`
}

// Pipeline is an ordered agent chain; the last id is the terminal agent.
type Pipeline struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Default     bool     `yaml:"default"`
	Agents      []string `yaml:"agents"`
}

// Agent is one invocable agent endpoint.
type Agent struct {
	ID        string `yaml:"id"`
	URL       string `yaml:"url"`
	Type      string `yaml:"type"`
	Transport string `yaml:"transport"`
}

// State selects the conversation-state backend.
type State struct {
	// Backend is "memory" (default) or "postgres".
	Backend string `yaml:"backend"`
	// DSN supports ${ENV_VAR} expansion.
	DSN string `yaml:"dsn"`
}

// Load reads, expands, and validates the configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a configuration document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Listen == "" {
		cfg.Listen = ":12000"
	}
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = os.ExpandEnv(cfg.Providers[i].APIKey)
	}
	cfg.State.DSN = os.ExpandEnv(cfg.State.DSN)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider is required")
	}
	if c.Orchestrator != nil {
		if c.Orchestrator.Endpoint == "" || c.Orchestrator.Model == "" {
			return fmt.Errorf("config: orchestrator requires endpoint and model")
		}
	}
	agentIDs := map[string]bool{}
	for _, a := range c.Agents {
		if a.ID == "" || a.URL == "" {
			return fmt.Errorf("config: agent requires id and url")
		}
		if agentIDs[a.ID] {
			return fmt.Errorf("config: duplicate agent id %q", a.ID)
		}
		agentIDs[a.ID] = true
	}
	for _, l := range c.Listeners {
		if l.Name == "" {
			return fmt.Errorf("config: listener requires a name")
		}
		for _, p := range l.Pipelines {
			if len(p.Agents) == 0 {
				return fmt.Errorf("config: pipeline %q in listener %q has no agents", p.ID, l.Name)
			}
			for _, id := range p.Agents {
				if !agentIDs[id] {
					return fmt.Errorf("config: pipeline %q references unknown agent %q", p.ID, id)
				}
			}
		}
	}
	switch c.State.Backend {
	case "", "memory":
	case "postgres":
		if c.State.DSN == "" {
			return fmt.Errorf("config: postgres state backend requires dsn")
		}
	default:
		return fmt.Errorf("config: unknown state backend %q", c.State.Backend)
	}
	return nil
}

// ProviderDescriptors converts the provider entries for registry
// construction.
func (c *Config) ProviderDescriptors() []providers.Descriptor {
	descs := make([]providers.Descriptor, 0, len(c.Providers))
	for _, p := range c.Providers {
		descs = append(descs, providers.Descriptor{
			Name:       p.Name,
			Provider:   p.Provider,
			Model:      p.Model,
			BaseURL:    p.BaseURL,
			PathPrefix: p.PathPrefix,
			Dialect:    translator.Dialect(p.Dialect),
			Auth:       providers.AuthStyle(p.Auth),
			APIKey:     p.APIKey,
			AWSRegion:  p.AWSRegion,
			Default:    p.Default,
			Internal:   p.Internal,
		})
	}
	return descs
}

// AgentTopology converts the listener and agent entries for the pipeline
// runner.
func (c *Config) AgentTopology() ([]agents.Listener, []agents.Agent) {
	listeners := make([]agents.Listener, 0, len(c.Listeners))
	for _, l := range c.Listeners {
		pipelines := make([]agents.Pipeline, 0, len(l.Pipelines))
		for _, p := range l.Pipelines {
			pipelines = append(pipelines, agents.Pipeline{
				ID:          p.ID,
				Description: p.Description,
				Default:     p.Default,
				AgentIDs:    p.Agents,
			})
		}
		listeners = append(listeners, agents.Listener{Name: l.Name, Port: l.Port, Pipelines: pipelines})
	}
	out := make([]agents.Agent, 0, len(c.Agents))
	for _, a := range c.Agents {
		out = append(out, agents.Agent{ID: a.ID, URL: a.URL, Type: a.Type, Transport: a.Transport})
	}
	return listeners, out
}
