package llm

import (
	"strings"

	"gopkg.in/yaml.v3"

	ckerrors "squint/internal/errors"
)

// DecodeRecords decodes a model response into out. Responses are expected to
// be a YAML (or JSON, which YAML accepts) list, optionally wrapped in a
// markdown code fence or preceded by chatter before the fence.
func DecodeRecords(response string, out interface{}) error {
	body := stripFence(response)
	if strings.TrimSpace(body) == "" {
		return ckerrors.New(ckerrors.LLMUnavailable, "empty response", nil)
	}
	if err := yaml.Unmarshal([]byte(body), out); err != nil {
		return ckerrors.New(ckerrors.LLMUnavailable, "malformed response", err)
	}
	return nil
}

func stripFence(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	// Drop the language tag line
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	} else {
		return ""
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return rest
}
