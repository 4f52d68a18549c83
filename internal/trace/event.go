package trace

import (
	"encoding/json"
	"strings"
)

// Kind tags a decoded record. Records the parser does not understand decode
// as KindUnknown and are dropped from the trace.
type Kind string

const (
	KindText    Kind = "text"
	KindToolUse Kind = "tool_use"
	KindError   Kind = "error"
	KindUnknown Kind = "unknown"
)

// Event is one decoded record of the agent's output stream.
type Event struct {
	Index int            `json:"index"`
	Kind  Kind           `json:"kind"`
	Text  string         `json:"text,omitempty"`
	Tool  string         `json:"tool,omitempty"`
	Input map[string]any `json:"input,omitempty"`
	Skill string         `json:"skill,omitempty"`
	Error string         `json:"error,omitempty"`
}

// record covers both the envelope shape
//
//	{"type":"tool_use","part":{"tool":"skill","state":{"input":{"name":"x"}}}}
//
// and the flat shape {"type":"tool_use","tool":"skill","input":{...}}.
type record struct {
	Type  string          `json:"type"`
	Text  *string         `json:"text"`
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
	Part  *part           `json:"part"`
	Error json.RawMessage `json:"error"`
}

type part struct {
	Type  string          `json:"type"`
	Text  *string         `json:"text"`
	Tool  string          `json:"tool"`
	Input json.RawMessage `json:"input"`
	State *struct {
		Input json.RawMessage `json:"input"`
	} `json:"state"`
}

// decode parses one line. ok is false when the line is not a JSON object.
func decode(line []byte) (Event, bool) {
	var r record
	if err := json.Unmarshal(line, &r); err != nil {
		return Event{}, false
	}
	typ := strings.ToLower(strings.TrimSpace(r.Type))
	if typ == "" && r.Part != nil {
		typ = strings.ToLower(strings.TrimSpace(r.Part.Type))
	}

	switch typ {
	case "text":
		if r.Part != nil && r.Part.Text != nil {
			return Event{Kind: KindText, Text: *r.Part.Text}, true
		}
		if r.Text != nil {
			return Event{Kind: KindText, Text: *r.Text}, true
		}
	case "tool_use", "tool":
		tool, input := r.Tool, asMap(r.Input)
		if r.Part != nil {
			if r.Part.Tool != "" {
				tool = r.Part.Tool
			}
			if r.Part.State != nil && len(r.Part.State.Input) > 0 {
				input = asMap(r.Part.State.Input)
			} else if len(r.Part.Input) > 0 {
				input = asMap(r.Part.Input)
			}
		}
		tool = strings.TrimSpace(tool)
		if tool != "" {
			return Event{Kind: KindToolUse, Tool: tool, Input: input}, true
		}
	case "error":
		return Event{Kind: KindError, Error: errorMessage(r.Error)}, true
	}
	return Event{Kind: KindUnknown}, true
}

func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown error"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Name    string `json:"name"`
		Message string `json:"message"`
		Data    struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return string(raw)
	}
	switch {
	case obj.Data.Message != "":
		return obj.Data.Message
	case obj.Message != "":
		return obj.Message
	case obj.Name != "":
		return obj.Name
	}
	return string(raw)
}

// asMap tolerates inputs that are not objects; they decode as nil.
func asMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

func stringInput(input map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := input[k].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
