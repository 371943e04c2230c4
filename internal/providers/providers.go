// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

// Package providers maps provider and model ids to everything needed to call
// the upstream: native dialect, endpoint path, auth header style.
package providers

import (
	"net/url"
	"strings"

	"github.com/archgw/archgw/internal/translator"
)

// AuthStyle selects how the upstream call is authenticated.
type AuthStyle string

const (
	// AuthBearer sends Authorization: Bearer <key>.
	AuthBearer AuthStyle = "bearer"
	// AuthAPIKey sends x-api-key plus the anthropic-version header.
	AuthAPIKey AuthStyle = "x-api-key"
	// AuthAWSSigV4 signs the request with AWS Signature V4.
	AuthAWSSigV4 AuthStyle = "aws-sigv4"
	// AuthNone sends no credentials (local upstreams).
	AuthNone AuthStyle = "none"
)

// Descriptor binds one provider/model pair (or a wildcard over a provider's
// catalog) to its upstream calling convention.
type Descriptor struct {
	// Name is the registry key, usually "provider/model". A Model of "*"
	// makes the descriptor a wildcard expanded from the built-in catalog.
	Name     string
	Provider string
	Model    string

	// BaseURL overrides the provider's default endpoint (scheme + host).
	BaseURL string
	// PathPrefix replaces the provider's default path prefix entirely.
	PathPrefix string

	Dialect translator.Dialect
	Auth    AuthStyle
	APIKey  string

	// AWSRegion applies to SigV4-signed providers.
	AWSRegion string

	Default bool
	// Internal descriptors (orchestrator models) are hidden from /v1/models.
	Internal bool
}

// IsWildcard reports whether the descriptor expands over the provider's
// model catalog.
func (d *Descriptor) IsWildcard() bool {
	return d.Model == "*" || strings.HasSuffix(d.Name, "/*")
}

// providerDefaults is the built-in calling convention per provider id.
type providerDefaults struct {
	baseURL string
	// chatPath is the chat-completions path template; {model} is substituted
	// for providers that address the model in the URL.
	chatPath string
	// messagesPath is set for providers speaking Anthropic Messages.
	messagesPath string
	dialect      translator.Dialect
	auth         AuthStyle
}

const azureAPIVersion = "2025-01-01-preview"

var defaults = map[string]providerDefaults{
	"openai":    {baseURL: "https://api.openai.com", chatPath: "/v1/chat/completions", dialect: translator.DialectOpenAIChat, auth: AuthBearer},
	"anthropic": {baseURL: "https://api.anthropic.com", messagesPath: "/v1/messages", dialect: translator.DialectAnthropicMessages, auth: AuthAPIKey},
	"bedrock":   {baseURL: "https://bedrock-runtime.us-east-1.amazonaws.com", dialect: translator.DialectBedrockConverse, auth: AuthAWSSigV4},
	"gemini":    {baseURL: "https://generativelanguage.googleapis.com", chatPath: "/v1beta/openai/chat/completions", dialect: translator.DialectOpenAIChat, auth: AuthBearer},
	"groq":      {baseURL: "https://api.groq.com", chatPath: "/openai/v1/chat/completions", dialect: translator.DialectOpenAIChat, auth: AuthBearer},
	"mistral":   {baseURL: "https://api.mistral.ai", chatPath: "/v1/chat/completions", dialect: translator.DialectOpenAIChat, auth: AuthBearer},
	"zhipu":     {baseURL: "https://open.bigmodel.cn", chatPath: "/api/paas/v4/chat/completions", dialect: translator.DialectOpenAIChat, auth: AuthBearer},
	"qwen":      {baseURL: "https://dashscope.aliyuncs.com", chatPath: "/compatible-mode/v1/chat/completions", dialect: translator.DialectOpenAIChat, auth: AuthBearer},
	"azure":     {chatPath: "/openai/deployments/{model}/chat/completions?api-version=" + azureAPIVersion, dialect: translator.DialectOpenAIChat, auth: AuthBearer},
	"xai":       {baseURL: "https://api.x.ai", chatPath: "/v1/chat/completions", dialect: translator.DialectOpenAIChat, auth: AuthBearer},
	"deepseek":  {baseURL: "https://api.deepseek.com", chatPath: "/v1/chat/completions", dialect: translator.DialectOpenAIChat, auth: AuthBearer},
	"together":  {baseURL: "https://api.together.xyz", chatPath: "/v1/chat/completions", dialect: translator.DialectOpenAIChat, auth: AuthBearer},
	"ollama":    {baseURL: "http://localhost:11434", chatPath: "/v1/chat/completions", dialect: translator.DialectOpenAIChat, auth: AuthNone},
	"arch":      {chatPath: "/v1/chat/completions", dialect: translator.DialectOpenAIChat, auth: AuthNone},
}

// knownModels is the static catalog used for wildcard expansion.
var knownModels = map[string][]string{
	"openai":    {"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "o3-mini", "gpt-3.5-turbo"},
	"anthropic": {"claude-3-5-sonnet", "claude-3-5-haiku", "claude-3-7-sonnet", "claude-sonnet-4", "claude-opus-4"},
	"bedrock":   {"anthropic.claude-3-5-sonnet-20240620-v1:0", "amazon.nova-pro-v1:0", "meta.llama3-1-70b-instruct-v1:0"},
	"gemini":    {"gemini-2.0-flash", "gemini-1.5-pro", "gemini-1.5-flash"},
	"groq":      {"llama-3.3-70b-versatile", "llama-3.1-8b-instant", "mixtral-8x7b-32768"},
	"mistral":   {"mistral-large-latest", "mistral-small-latest", "codestral-latest"},
	"zhipu":     {"glm-4-plus", "glm-4-flash"},
	"qwen":      {"qwen-max", "qwen-plus", "qwen-turbo"},
	"xai":       {"grok-2", "grok-2-mini"},
	"deepseek":  {"deepseek-chat", "deepseek-reasoner"},
	"together":  {"meta-llama/Llama-3.3-70B-Instruct-Turbo", "Qwen/Qwen2.5-72B-Instruct-Turbo"},
	"ollama":    {"llama3.1", "qwen2.5", "mistral"},
}

// KnownProvider reports whether the provider id has built-in defaults.
func KnownProvider(id string) bool {
	_, ok := defaults[id]
	return ok
}

// applyDefaults fills descriptor zero-values from the provider's built-in
// convention.
func applyDefaults(d *Descriptor) {
	def, ok := defaults[d.Provider]
	if !ok {
		// Unknown providers are assumed OpenAI-compatible.
		def = providerDefaults{dialect: translator.DialectOpenAIChat, auth: AuthBearer}
	}
	if d.BaseURL == "" {
		d.BaseURL = def.baseURL
	}
	if d.Dialect == "" {
		d.Dialect = def.dialect
	}
	if d.Auth == "" {
		d.Auth = def.auth
	}
}

// ParseSlug splits a "provider/model" id. Model ids without a slash return an
// empty provider.
func ParseSlug(name string) (provider, model string) {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// UpstreamModel is the model id sent to the provider: the slug prefix is
// stripped because upstreams use bare names.
func (d *Descriptor) UpstreamModel() string {
	_, model := ParseSlug(d.Model)
	if model == "" {
		_, model = ParseSlug(d.Name)
	}
	return model
}

// RequestPath builds the upstream request path for one call. Streaming only
// matters for Bedrock, which splits converse and converse-stream endpoints.
// A PathPrefix replaces the provider's default prefix entirely: the dialect's
// operation suffix is joined onto it instead of the default path template.
func (d *Descriptor) RequestPath(streaming bool) string {
	if d.PathPrefix != "" {
		path := strings.TrimSuffix(d.PathPrefix, "/") + d.operationSuffix(streaming)
		return strings.ReplaceAll(path, "{model}", url.PathEscape(d.UpstreamModel()))
	}
	return d.defaultPath(defaults[d.Provider], streaming)
}

// operationSuffix is the dialect's bare operation path, without any provider
// prefix.
func (d *Descriptor) operationSuffix(streaming bool) string {
	switch d.Dialect {
	case translator.DialectBedrockConverse:
		return "/model/" + url.PathEscape(d.UpstreamModel()) + "/" + converseVerb(streaming)
	case translator.DialectAnthropicMessages:
		return "/v1/messages"
	default:
		return "/chat/completions"
	}
}

func converseVerb(streaming bool) string {
	if streaming {
		return "converse-stream"
	}
	return "converse"
}

func (d *Descriptor) defaultPath(def providerDefaults, streaming bool) string {
	switch d.Dialect {
	case translator.DialectBedrockConverse:
		return "/model/" + url.PathEscape(d.UpstreamModel()) + "/" + converseVerb(streaming)
	case translator.DialectAnthropicMessages:
		if def.messagesPath != "" {
			return def.messagesPath
		}
		return "/v1/messages"
	default:
		path := def.chatPath
		if path == "" {
			path = "/v1/chat/completions"
		}
		return strings.ReplaceAll(path, "{model}", url.PathEscape(d.UpstreamModel()))
	}
}
