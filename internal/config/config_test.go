// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archgw/archgw/internal/providers"
	"github.com/archgw/archgw/internal/translator"
)

const fullConfig = `
listen: ":12000"
admin_listen: ":12001"
default_max_tokens: 2048

providers:
  - name: openai/gpt-4o
    provider: openai
    model: gpt-4o
    api_key: ${TEST_OPENAI_KEY}
    default: true
  - name: anthropic/claude-3-5-sonnet
    provider: anthropic
    model: claude-3-5-sonnet
    api_key: sk-ant-literal
  - name: arch/router-1.5b
    provider: arch
    model: router-1.5b
    base_url: http://localhost:8001
    internal: true

orchestrator:
  endpoint: http://localhost:8001/v1/chat/completions
  model: arch/router-1.5b
  token_budget: 4096

listeners:
  - name: default
    port: 8080
    pipelines:
      - id: support
        description: customer support questions
        default: true
        agents: [redactor, responder]

agents:
  - id: redactor
    url: http://localhost:9001/v1/chat/completions
  - id: responder
    url: http://localhost:9002/v1/chat/completions

state:
  backend: postgres
  dsn: ${TEST_STATE_DSN}
`

func TestParseFullConfig(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-from-env")
	t.Setenv("TEST_STATE_DSN", "postgres://gw:pw@localhost/archgw")

	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	require.Equal(t, ":12000", cfg.Listen)
	require.Equal(t, ":12001", cfg.AdminListen)
	require.Equal(t, int64(2048), cfg.DefaultMaxTokens)

	require.Len(t, cfg.Providers, 3)
	require.Equal(t, "sk-from-env", cfg.Providers[0].APIKey)
	require.Equal(t, "sk-ant-literal", cfg.Providers[1].APIKey)
	require.True(t, cfg.Providers[2].Internal)

	require.NotNil(t, cfg.Orchestrator)
	require.Equal(t, "arch/router-1.5b", cfg.Orchestrator.Model)
	require.Equal(t, 4096, cfg.Orchestrator.TokenBudget)

	require.Equal(t, "postgres", cfg.State.Backend)
	require.Equal(t, "postgres://gw:pw@localhost/archgw", cfg.State.DSN)
}

func TestParseDefaultsListen(t *testing.T) {
	cfg, err := Parse([]byte("providers:\n  - name: openai/gpt-4o\n    provider: openai\n    model: gpt-4o\n"))
	require.NoError(t, err)
	require.Equal(t, ":12000", cfg.Listen)
	require.Empty(t, cfg.State.Backend)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no providers",
			yaml:    "listen: \":12000\"\n",
			wantErr: "at least one provider",
		},
		{
			name: "orchestrator missing model",
			yaml: `
providers:
  - {name: openai/gpt-4o, provider: openai, model: gpt-4o}
orchestrator:
  endpoint: http://localhost:8001
`,
			wantErr: "orchestrator requires endpoint and model",
		},
		{
			name: "agent missing url",
			yaml: `
providers:
  - {name: openai/gpt-4o, provider: openai, model: gpt-4o}
agents:
  - id: broken
`,
			wantErr: "agent requires id and url",
		},
		{
			name: "duplicate agent id",
			yaml: `
providers:
  - {name: openai/gpt-4o, provider: openai, model: gpt-4o}
agents:
  - {id: a, url: http://a}
  - {id: a, url: http://b}
`,
			wantErr: `duplicate agent id "a"`,
		},
		{
			name: "pipeline without agents",
			yaml: `
providers:
  - {name: openai/gpt-4o, provider: openai, model: gpt-4o}
listeners:
  - name: default
    pipelines:
      - id: empty
`,
			wantErr: `pipeline "empty"`,
		},
		{
			name: "pipeline references unknown agent",
			yaml: `
providers:
  - {name: openai/gpt-4o, provider: openai, model: gpt-4o}
agents:
  - {id: known, url: http://known}
listeners:
  - name: default
    pipelines:
      - id: p
        agents: [known, ghost]
`,
			wantErr: `unknown agent "ghost"`,
		},
		{
			name: "postgres without dsn",
			yaml: `
providers:
  - {name: openai/gpt-4o, provider: openai, model: gpt-4o}
state:
  backend: postgres
`,
			wantErr: "postgres state backend requires dsn",
		},
		{
			name: "unknown state backend",
			yaml: `
providers:
  - {name: openai/gpt-4o, provider: openai, model: gpt-4o}
state:
  backend: redis
`,
			wantErr: `unknown state backend "redis"`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers:\n  - {name: openai/gpt-4o, provider: openai, model: gpt-4o}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestProviderDescriptors(t *testing.T) {
	cfg, err := Parse([]byte(`
providers:
  - name: bedrock/claude
    provider: bedrock
    model: anthropic.claude-3-5-sonnet-20240620-v1:0
    dialect: bedrock-converse
    auth: aws-sigv4
    aws_region: us-west-2
`))
	require.NoError(t, err)

	descs := cfg.ProviderDescriptors()
	require.Len(t, descs, 1)
	require.Equal(t, providers.Descriptor{
		Name:      "bedrock/claude",
		Provider:  "bedrock",
		Model:     "anthropic.claude-3-5-sonnet-20240620-v1:0",
		Dialect:   translator.DialectBedrockConverse,
		Auth:      providers.AuthAWSSigV4,
		AWSRegion: "us-west-2",
	}, descs[0])
}

func TestAgentTopology(t *testing.T) {
	cfg, err := Parse([]byte(`
providers:
  - {name: openai/gpt-4o, provider: openai, model: gpt-4o}
agents:
  - {id: redactor, url: http://r, type: filter}
  - {id: responder, url: http://t}
listeners:
  - name: default
    port: 8080
    pipelines:
      - id: support
        description: support questions
        default: true
        agents: [redactor, responder]
`))
	require.NoError(t, err)

	listeners, agentList := cfg.AgentTopology()
	require.Len(t, listeners, 1)
	require.Equal(t, "default", listeners[0].Name)
	require.Equal(t, 8080, listeners[0].Port)
	require.Len(t, listeners[0].Pipelines, 1)
	require.Equal(t, []string{"redactor", "responder"}, listeners[0].Pipelines[0].AgentIDs)
	require.True(t, listeners[0].Pipelines[0].Default)

	require.Len(t, agentList, 2)
	require.Equal(t, "filter", agentList[0].Type)
}
