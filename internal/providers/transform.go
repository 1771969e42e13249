package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/als-ai/gateway/internal/pricing"
)

const anthropicDefaultMaxTokens = 4096

// TransformRequest rewrites an OpenAI-shaped request body into the target
// provider's dialect. OpenAI-compatible providers pass through untouched
// apart from the model substitution.
func TransformRequest(cfg *Config, body []byte, model string) ([]byte, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parse request body: %w", err)
	}
	payload["model"] = model

	switch cfg.Shape {
	case ShapeAnthropic:
		return transformAnthropic(payload)
	case ShapeGoogle:
		return transformGoogle(payload)
	default:
		return json.Marshal(payload)
	}
}

// transformAnthropic lifts system messages into the top-level system field,
// guarantees max_tokens, and renames stop to stop_sequences.
func transformAnthropic(payload map[string]interface{}) ([]byte, error) {
	messages, _ := payload["messages"].([]interface{})

	var systemParts []string
	kept := make([]interface{}, 0, len(messages))
	for _, raw := range messages {
		msg, ok := raw.(map[string]interface{})
		if !ok {
			kept = append(kept, raw)
			continue
		}
		if role, _ := msg["role"].(string); role == "system" {
			if text, ok := msg["content"].(string); ok {
				systemParts = append(systemParts, text)
			}
			continue
		}
		kept = append(kept, msg)
	}
	payload["messages"] = kept
	if len(systemParts) > 0 {
		payload["system"] = strings.Join(systemParts, "\n\n")
	}

	if _, ok := payload["max_tokens"]; !ok {
		payload["max_tokens"] = anthropicDefaultMaxTokens
	}
	if stop, ok := payload["stop"]; ok {
		delete(payload, "stop")
		switch v := stop.(type) {
		case string:
			payload["stop_sequences"] = []string{v}
		case []interface{}:
			payload["stop_sequences"] = v
		}
	}

	// OpenAI knobs Anthropic rejects.
	delete(payload, "frequency_penalty")
	delete(payload, "presence_penalty")
	delete(payload, "logprobs")
	delete(payload, "n")

	return json.Marshal(payload)
}

// transformGoogle reshapes messages into contents (roles user/model, text
// parts) and moves the sampling knobs under generationConfig.
func transformGoogle(payload map[string]interface{}) ([]byte, error) {
	messages, _ := payload["messages"].([]interface{})

	var systemParts []string
	contents := make([]interface{}, 0, len(messages))
	for _, raw := range messages {
		msg, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		role, _ := msg["role"].(string)
		text, _ := msg["content"].(string)
		switch role {
		case "system":
			systemParts = append(systemParts, text)
		case "assistant":
			contents = append(contents, googleContent("model", text))
		default:
			contents = append(contents, googleContent("user", text))
		}
	}

	out := map[string]interface{}{"contents": contents}
	if len(systemParts) > 0 {
		out["systemInstruction"] = map[string]interface{}{
			"parts": []interface{}{map[string]interface{}{"text": strings.Join(systemParts, "\n\n")}},
		}
	}

	gen := map[string]interface{}{}
	if v, ok := payload["temperature"]; ok {
		gen["temperature"] = v
	}
	if v, ok := payload["top_p"]; ok {
		gen["topP"] = v
	}
	if v, ok := payload["max_tokens"]; ok {
		gen["maxOutputTokens"] = v
	}
	if v, ok := payload["stop"]; ok {
		switch s := v.(type) {
		case string:
			gen["stopSequences"] = []string{s}
		case []interface{}:
			gen["stopSequences"] = s
		}
	}
	if len(gen) > 0 {
		out["generationConfig"] = gen
	}

	return json.Marshal(out)
}

func googleContent(role, text string) map[string]interface{} {
	return map[string]interface{}{
		"role":  role,
		"parts": []interface{}{map[string]interface{}{"text": text}},
	}
}

// ExtractUsage pulls token usage out of a provider response body using the
// provider's declared paths. Missing usage yields zeros, never an error; the
// caller treats zero usage as zero cost.
func ExtractUsage(cfg *Config, body []byte) pricing.Usage {
	return pricing.Usage{
		InputTokens:  int(gjson.GetBytes(body, cfg.Usage.InputTokens).Int()),
		OutputTokens: int(gjson.GetBytes(body, cfg.Usage.OutputTokens).Int()),
	}
}

// ResponseMeta is the provider-reported metadata surfaced alongside usage.
type ResponseMeta struct {
	FinishReason string
	ModelEcho    string
	RequestID    string
}

// ExtractMeta reads response metadata with the provider's declared paths.
func ExtractMeta(cfg *Config, body []byte) ResponseMeta {
	return ResponseMeta{
		FinishReason: gjson.GetBytes(body, cfg.Usage.FinishReason).String(),
		ModelEcho:    gjson.GetBytes(body, cfg.Usage.ModelEcho).String(),
		RequestID:    gjson.GetBytes(body, cfg.Usage.RequestID).String(),
	}
}

// gjsonGet reads a string value at path; non-string results are ignored.
func gjsonGet(body []byte, path string) string {
	if res := gjson.GetBytes(body, path); res.Type == gjson.String {
		return res.String()
	}
	return ""
}

// ScanStreamUsage walks buffered SSE frames backwards looking for the final
// usage frame some providers emit. Returns zero usage when none is present.
func ScanStreamUsage(cfg *Config, tail []byte) pricing.Usage {
	lines := strings.Split(string(tail), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		frame := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if frame == "" || frame == "[DONE]" {
			continue
		}
		usage := ExtractUsage(cfg, []byte(frame))
		if usage.InputTokens > 0 || usage.OutputTokens > 0 {
			return usage
		}
	}
	return pricing.Usage{}
}
