// Package commands decodes and checks presentation command lists produced by the model.
package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/citta/backend/internal/model/lesson"
)

var (
	ErrNoCommandList = errors.New("no json array found in model output")
	ErrNotArray      = errors.New("model output is not a json array")
)

// Parse decodes a command list from raw model output.
//
// A strict decode of the whole text is tried first. If that fails, code fences are
// removed and the first bracket-balanced array that decodes as a command list is
// used instead. Anything else is an explicit error; there is no partial result.
func Parse(raw string) ([]lesson.Command, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, ErrNoCommandList
	}

	if cmds, err := decodeArray([]byte(trimmed)); err == nil {
		return cmds, nil
	}

	cleaned := StripCodeFences(trimmed)
	found := false
	var lastErr error
	for start := strings.IndexByte(cleaned, '['); start >= 0; {
		candidate, ok := balancedArrayAt(cleaned, start)
		if ok {
			found = true
			cmds, err := decodeArray([]byte(candidate))
			if err == nil {
				return cmds, nil
			}
			lastErr = err
		}
		next := strings.IndexByte(cleaned[start+1:], '[')
		if next < 0 {
			break
		}
		start += next + 1
	}

	if !found {
		if looksLikeJSONValue(cleaned) {
			return nil, ErrNotArray
		}
		return nil, ErrNoCommandList
	}
	return nil, fmt.Errorf("decode command list: %w", lastErr)
}

// StripCodeFences removes markdown fences such as ```json ... ``` around model output.
func StripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.Contains(trimmed, "```") {
		return trimmed
	}

	var builder strings.Builder
	for _, line := range strings.Split(trimmed, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		builder.WriteString(line)
		builder.WriteString("\n")
	}
	return strings.TrimSpace(builder.String())
}

func decodeArray(data []byte) ([]lesson.Command, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil, ErrNotArray
	}

	var cmds []lesson.Command
	if err := json.Unmarshal(data, &cmds); err != nil {
		return nil, err
	}
	if cmds == nil {
		cmds = []lesson.Command{}
	}
	return cmds, nil
}

// balancedArrayAt returns the substring from the '[' at start up to its matching ']'.
// Brackets inside JSON string literals are ignored.
func balancedArrayAt(text string, start int) (string, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func looksLikeJSONValue(text string) bool {
	if text == "" {
		return false
	}
	return json.Valid([]byte(text))
}
