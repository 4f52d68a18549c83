package trace

import (
	"bufio"
	"bytes"
	"strings"
)

// Options names the tools that carry special meaning in the stream.
type Options struct {
	SkillTool  string
	ShellTools []string
}

func DefaultOptions() Options {
	return Options{SkillTool: "skill", ShellTools: []string{"bash", "shell"}}
}

// Trace is the normalized view of one agent execution.
type Trace struct {
	Text          string   `json:"text"`
	Tools         []string `json:"tools"`
	Skills        []string `json:"skills"`
	ShellCommands []string `json:"shellCommands,omitempty"`
	Errors        []string `json:"errors,omitempty"`

	// FirstSkillIndex is the position of the first skill load among all
	// decoded records, or -1.
	FirstSkillIndex int `json:"firstSkillIndex"`
	Records         int `json:"records"`

	Events []Event `json:"-"`
}

func Parse(stdout []byte) Trace {
	return ParseWith(stdout, DefaultOptions())
}

// ParseWith never fails: lines that are not JSON objects are skipped and
// unrecognized records are dropped.
func ParseWith(stdout []byte, opts Options) Trace {
	if opts.SkillTool == "" {
		opts.SkillTool = DefaultOptions().SkillTool
	}
	shell := map[string]bool{}
	for _, s := range opts.ShellTools {
		shell[strings.ToLower(strings.TrimSpace(s))] = true
	}

	t := Trace{Tools: []string{}, Skills: []string{}, FirstSkillIndex: -1}
	var text []string

	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		ev, ok := decode(line)
		if !ok {
			continue
		}
		ev.Index = t.Records
		t.Records++

		switch ev.Kind {
		case KindText:
			text = append(text, ev.Text)
		case KindToolUse:
			t.Tools = append(t.Tools, ev.Tool)
			if strings.EqualFold(ev.Tool, opts.SkillTool) {
				ev.Skill = stringInput(ev.Input, "name", "skill")
				if ev.Skill != "" {
					if t.FirstSkillIndex < 0 {
						t.FirstSkillIndex = ev.Index
					}
					t.Skills = append(t.Skills, ev.Skill)
				}
			}
			if shell[strings.ToLower(ev.Tool)] {
				if cmd := stringInput(ev.Input, "command", "cmd"); cmd != "" {
					t.ShellCommands = append(t.ShellCommands, cmd)
				}
			}
		case KindError:
			t.Errors = append(t.Errors, ev.Error)
		default:
			continue
		}
		t.Events = append(t.Events, ev)
	}
	// A scanner error means an oversized line; everything before it is kept.
	t.Text = strings.Join(text, "\n")
	return t
}

// Loaded reports whether skill name was loaded at least once.
func (t Trace) Loaded(name string) bool {
	for _, s := range t.Skills {
		if s == name {
			return true
		}
	}
	return false
}
