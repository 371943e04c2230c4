// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package providers

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/archgw/archgw/internal/translator"
)

func TestNewRegistryValidation(t *testing.T) {
	_, err := NewRegistry(nil)
	require.ErrorIs(t, err, ErrEmptyProviders)

	_, err = NewRegistry([]Descriptor{
		{Name: "openai/gpt-4o", Provider: "openai", Model: "gpt-4o", Default: true},
		{Name: "openai/gpt-4o-mini", Provider: "openai", Model: "gpt-4o-mini", Default: true},
	})
	require.ErrorIs(t, err, ErrMoreThanOneDefault)

	_, err = NewRegistry([]Descriptor{
		{Name: "openai/gpt-4o", Provider: "openai", Model: "gpt-4o"},
		{Name: "openai/gpt-4o", Provider: "openai", Model: "gpt-4o"},
	})
	var dup *DuplicateNameError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "openai/gpt-4o", dup.Name)
}

func TestRegistryDefaultsApplied(t *testing.T) {
	r, err := NewRegistry([]Descriptor{
		{Name: "anthropic/claude-3-5-sonnet", Provider: "anthropic", Model: "claude-3-5-sonnet", APIKey: "sk-ant"},
	})
	require.NoError(t, err)

	d := r.Get("anthropic/claude-3-5-sonnet")
	require.NotNil(t, d)
	require.Equal(t, translator.DialectAnthropicMessages, d.Dialect)
	require.Equal(t, AuthAPIKey, d.Auth)
	require.Equal(t, "https://api.anthropic.com", d.BaseURL)
}

func TestRegistryUnknownProviderAssumedOpenAICompatible(t *testing.T) {
	r, err := NewRegistry([]Descriptor{
		{Name: "vllm/llama-70b", Provider: "vllm", Model: "llama-70b", BaseURL: "http://vllm:8000"},
	})
	require.NoError(t, err)

	d := r.Get("llama-70b")
	require.NotNil(t, d)
	require.Equal(t, translator.DialectOpenAIChat, d.Dialect)
	require.Equal(t, AuthBearer, d.Auth)
}

func TestRegistryGetResolutionOrder(t *testing.T) {
	r, err := NewRegistry([]Descriptor{
		{Name: "openai/gpt-4o", Provider: "openai", Model: "gpt-4o", Default: true},
	})
	require.NoError(t, err)

	// Exact, bare model, and slug forms resolve to the same descriptor.
	d := r.Get("openai/gpt-4o")
	require.NotNil(t, d)
	require.Same(t, d, r.Get("gpt-4o"))
	require.Same(t, d, r.Default())

	require.Nil(t, r.Get("openai/o3"))
	require.Nil(t, r.Get("no-such-model"))
}

func TestRegistryWildcardExpansion(t *testing.T) {
	r, err := NewRegistry([]Descriptor{
		{Name: "openai/*", Provider: "openai", Model: "*", APIKey: "sk-1"},
	})
	require.NoError(t, err)

	d := r.Get("openai/gpt-4o")
	require.NotNil(t, d)
	require.Equal(t, "gpt-4o", d.Model)
	require.Equal(t, "sk-1", d.APIKey)

	// Models outside the static catalog still resolve through the wildcard.
	d = r.Get("openai/gpt-5-preview")
	require.NotNil(t, d)
	require.Equal(t, "gpt-5-preview", d.Model)
	require.Equal(t, "sk-1", d.APIKey)
}

func TestRegistrySpecificShadowsWildcard(t *testing.T) {
	r, err := NewRegistry([]Descriptor{
		{Name: "openai/*", Provider: "openai", Model: "*", APIKey: "sk-wildcard"},
		{Name: "openai/gpt-4o", Provider: "openai", Model: "gpt-4o", APIKey: "sk-specific"},
	})
	require.NoError(t, err)

	require.Equal(t, "sk-specific", r.Get("openai/gpt-4o").APIKey)
	require.Equal(t, "sk-wildcard", r.Get("openai/gpt-4o-mini").APIKey)

	// The shadowed model appears once in the catalog.
	var count int
	for _, m := range r.Models().Data {
		if m.ID == "openai/gpt-4o" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestRegistryModelsExcludesInternal(t *testing.T) {
	r, err := NewRegistry([]Descriptor{
		{Name: "openai/gpt-4o", Provider: "openai", Model: "gpt-4o"},
		{Name: "arch/router-1.5b", Provider: "arch", Model: "router-1.5b", Internal: true},
	})
	require.NoError(t, err)

	list := r.Models()
	require.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 1)
	require.Equal(t, "openai/gpt-4o", list.Data[0].ID)
	require.Equal(t, "openai", list.Data[0].OwnedBy)
}

func TestDescriptorRequestPath(t *testing.T) {
	tests := []struct {
		name      string
		desc      Descriptor
		streaming bool
		want      string
	}{
		{
			name: "openai chat",
			desc: Descriptor{Provider: "openai", Model: "gpt-4o", Dialect: translator.DialectOpenAIChat},
			want: "/v1/chat/completions",
		},
		{
			name: "anthropic messages",
			desc: Descriptor{Provider: "anthropic", Model: "claude-3-5-sonnet", Dialect: translator.DialectAnthropicMessages},
			want: "/v1/messages",
		},
		{
			name: "bedrock converse",
			desc: Descriptor{Provider: "bedrock", Model: "anthropic.claude-3-5-sonnet-20240620-v1:0", Dialect: translator.DialectBedrockConverse},
			want: "/model/anthropic.claude-3-5-sonnet-20240620-v1:0/converse",
		},
		{
			name:      "bedrock converse-stream",
			desc:      Descriptor{Provider: "bedrock", Model: "amazon.nova-pro-v1:0", Dialect: translator.DialectBedrockConverse},
			streaming: true,
			want:      "/model/amazon.nova-pro-v1:0/converse-stream",
		},
		{
			name: "azure substitutes deployment",
			desc: Descriptor{Provider: "azure", Model: "gpt-4o", Dialect: translator.DialectOpenAIChat},
			want: "/openai/deployments/gpt-4o/chat/completions?api-version=" + azureAPIVersion,
		},
		{
			name: "path prefix replaces default",
			desc: Descriptor{Provider: "vllm", Model: "llama", Dialect: translator.DialectOpenAIChat, PathPrefix: "/llm/"},
			want: "/llm/chat/completions",
		},
		{
			name: "path prefix replaces non-trivial default",
			desc: Descriptor{Provider: "groq", Model: "llama-3.3-70b-versatile", Dialect: translator.DialectOpenAIChat, PathPrefix: "/proxy"},
			want: "/proxy/chat/completions",
		},
		{
			name: "path prefix on messages dialect",
			desc: Descriptor{Provider: "anthropic", Model: "claude-3-5-sonnet", Dialect: translator.DialectAnthropicMessages, PathPrefix: "/gw"},
			want: "/gw/v1/messages",
		},
		{
			name:      "path prefix on bedrock keeps verb path",
			desc:      Descriptor{Provider: "bedrock", Model: "amazon.nova-pro-v1:0", Dialect: translator.DialectBedrockConverse, PathPrefix: "/bedrock"},
			streaming: true,
			want:      "/bedrock/model/amazon.nova-pro-v1:0/converse-stream",
		},
		{
			name: "path prefix substitutes model template",
			desc: Descriptor{Provider: "azure", Model: "gpt-4o", Dialect: translator.DialectOpenAIChat, PathPrefix: "/openai/deployments/{model}"},
			want: "/openai/deployments/gpt-4o/chat/completions",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.desc.RequestPath(tc.streaming))
		})
	}
}

func TestDescriptorUpstreamModel(t *testing.T) {
	require.Equal(t, "gpt-4o", (&Descriptor{Name: "openai/gpt-4o", Model: "gpt-4o"}).UpstreamModel())
	require.Equal(t, "gpt-4o", (&Descriptor{Name: "openai/gpt-4o", Model: "openai/gpt-4o"}).UpstreamModel())
	require.Equal(t, "gpt-4o", (&Descriptor{Name: "openai/gpt-4o"}).UpstreamModel())
}

func TestParseSlug(t *testing.T) {
	provider, model := ParseSlug("openai/gpt-4o")
	require.Equal(t, "openai", provider)
	require.Equal(t, "gpt-4o", model)

	provider, model = ParseSlug("gpt-4o")
	require.Empty(t, provider)
	require.Equal(t, "gpt-4o", model)

	provider, model = ParseSlug("together/meta-llama/Llama-3.3-70B-Instruct-Turbo")
	require.Equal(t, "together", provider)
	require.Equal(t, "meta-llama/Llama-3.3-70B-Instruct-Turbo", model)
}
