// Package providers implements the declarative provider drivers: per-provider
// wire configuration, request/response translation, and the retrying HTTP
// call. Adding a provider means adding a Config, not new call sites.
package providers

import (
	"net/http"
	"time"

	"github.com/als-ai/gateway/internal/proxyerr"
	"github.com/als-ai/gateway/internal/retry"
)

// Endpoint classifies the proxied operation; it selects the provider path
// template and the request shape.
type Endpoint string

const (
	EndpointChat        Endpoint = "chat"
	EndpointCompletions Endpoint = "completions"
	EndpointEmbeddings  Endpoint = "embeddings"
	EndpointModels      Endpoint = "models"
)

// Shape names the request dialect a provider speaks.
type Shape string

const (
	ShapeOpenAI    Shape = "openai"
	ShapeAnthropic Shape = "anthropic"
	ShapeGoogle    Shape = "google"
)

// UsagePaths are the gjson paths that locate token usage and response
// metadata in a provider response body.
type UsagePaths struct {
	InputTokens  string
	OutputTokens string
	FinishReason string
	ModelEcho    string
	RequestID    string
	Content      string
}

// Config declares everything the driver needs to speak to one provider.
type Config struct {
	Name         string
	BaseURL      string
	AuthHeader   string // header carrying the key, e.g. Authorization or x-api-key
	AuthPrefix   string // value prefix, e.g. "Bearer "; empty for bare keys
	ExtraHeaders map[string]string
	Shape        Shape
	DefaultModel string

	// Endpoint path templates; "{model}" is substituted where present.
	Paths map[Endpoint]string

	Retry             retry.Policy
	RetryableStatuses map[int]bool
	ErrorTable        map[int]proxyerr.Kind
	Usage             UsagePaths
}

// RetryableStatus reports whether a response status warrants another attempt.
func (c *Config) RetryableStatus(status int) bool {
	return c.RetryableStatuses[status]
}

// ErrorKind maps a provider status code to the stable error vocabulary.
func (c *Config) ErrorKind(status int) proxyerr.Kind {
	if kind, ok := c.ErrorTable[status]; ok {
		return kind
	}
	return proxyerr.KindUpstreamError
}

// AuthorizeRequest sets the provider auth header for a request.
func (c *Config) AuthorizeRequest(req *http.Request, secret string) {
	req.Header.Set(c.AuthHeader, c.AuthPrefix+secret)
	for k, v := range c.ExtraHeaders {
		req.Header.Set(k, v)
	}
}

func defaultRetryableStatuses(extra ...int) map[int]bool {
	statuses := map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}
	for _, s := range extra {
		statuses[s] = true
	}
	return statuses
}

func defaultErrorTable() map[int]proxyerr.Kind {
	return map[int]proxyerr.Kind{
		http.StatusTooManyRequests: proxyerr.KindRateLimitExceeded,
		http.StatusRequestTimeout:  proxyerr.KindTimeout,
		http.StatusGatewayTimeout:  proxyerr.KindTimeout,
	}
}

var openAIUsagePaths = UsagePaths{
	InputTokens:  "usage.prompt_tokens",
	OutputTokens: "usage.completion_tokens",
	FinishReason: "choices.0.finish_reason",
	ModelEcho:    "model",
	RequestID:    "id",
	Content:      "choices.0.message.content",
}

// BuiltinConfigs returns the driver configuration for every supported
// provider.
func BuiltinConfigs() map[string]*Config {
	return map[string]*Config{
		"openai": {
			Name:         "openai",
			BaseURL:      "https://api.openai.com",
			AuthHeader:   "Authorization",
			AuthPrefix:   "Bearer ",
			Shape:        ShapeOpenAI,
			DefaultModel: "gpt-4o-mini",
			Paths: map[Endpoint]string{
				EndpointChat:        "/v1/chat/completions",
				EndpointCompletions: "/v1/completions",
				EndpointEmbeddings:  "/v1/embeddings",
				EndpointModels:      "/v1/models",
			},
			Retry:             retry.DefaultPolicy(),
			RetryableStatuses: defaultRetryableStatuses(),
			ErrorTable:        defaultErrorTable(),
			Usage:             openAIUsagePaths,
		},
		"anthropic": {
			Name:       "anthropic",
			BaseURL:    "https://api.anthropic.com",
			AuthHeader: "x-api-key",
			AuthPrefix: "",
			ExtraHeaders: map[string]string{
				"anthropic-version": "2023-06-01",
			},
			Shape:        ShapeAnthropic,
			DefaultModel: "claude-3-5-sonnet-20241022",
			Paths: map[Endpoint]string{
				EndpointChat:   "/v1/messages",
				EndpointModels: "/v1/models",
			},
			Retry:             retry.DefaultPolicy(),
			RetryableStatuses: defaultRetryableStatuses(529),
			ErrorTable:        defaultErrorTable(),
			Usage: UsagePaths{
				InputTokens:  "usage.input_tokens",
				OutputTokens: "usage.output_tokens",
				FinishReason: "stop_reason",
				ModelEcho:    "model",
				RequestID:    "id",
				Content:      "content.0.text",
			},
		},
		"google": {
			Name:         "google",
			BaseURL:      "https://generativelanguage.googleapis.com",
			AuthHeader:   "x-goog-api-key",
			AuthPrefix:   "",
			Shape:        ShapeGoogle,
			DefaultModel: "gemini-1.5-flash",
			Paths: map[Endpoint]string{
				EndpointChat:   "/v1beta/models/{model}:generateContent",
				EndpointModels: "/v1beta/models",
			},
			Retry:             retry.DefaultPolicy(),
			RetryableStatuses: defaultRetryableStatuses(),
			ErrorTable:        defaultErrorTable(),
			Usage: UsagePaths{
				InputTokens:  "usageMetadata.promptTokenCount",
				OutputTokens: "usageMetadata.candidatesTokenCount",
				FinishReason: "candidates.0.finishReason",
				ModelEcho:    "modelVersion",
				RequestID:    "responseId",
				Content:      "candidates.0.content.parts.0.text",
			},
		},
		"cohere": {
			Name:         "cohere",
			BaseURL:      "https://api.cohere.com",
			AuthHeader:   "Authorization",
			AuthPrefix:   "Bearer ",
			Shape:        ShapeOpenAI,
			DefaultModel: "command-r",
			Paths: map[Endpoint]string{
				EndpointChat:       "/compatibility/v1/chat/completions",
				EndpointEmbeddings: "/compatibility/v1/embeddings",
				EndpointModels:     "/v1/models",
			},
			Retry:             retry.DefaultPolicy(),
			RetryableStatuses: defaultRetryableStatuses(),
			ErrorTable:        defaultErrorTable(),
			Usage:             openAIUsagePaths,
		},
		"mistral": {
			Name:         "mistral",
			BaseURL:      "https://api.mistral.ai",
			AuthHeader:   "Authorization",
			AuthPrefix:   "Bearer ",
			Shape:        ShapeOpenAI,
			DefaultModel: "mistral-small-latest",
			Paths: map[Endpoint]string{
				EndpointChat:       "/v1/chat/completions",
				EndpointEmbeddings: "/v1/embeddings",
				EndpointModels:     "/v1/models",
			},
			Retry: retry.Policy{
				MaxAttempts: 3,
				BaseDelay:   500 * time.Millisecond,
				Multiplier:  2.0,
				MaxDelay:    10 * time.Second,
				Jitter:      true,
			},
			RetryableStatuses: defaultRetryableStatuses(),
			ErrorTable:        defaultErrorTable(),
			Usage:             openAIUsagePaths,
		},
	}
}
