package dataset

import "strings"

// Filter narrows a dataset by category and id. Empty lists match everything.
type Filter struct {
	Categories []string
	IDs        []string
}

func (f Filter) Empty() bool {
	return len(f.Categories) == 0 && len(f.IDs) == 0
}

// Apply keeps matching cases in dataset order and renumbers Index.
func (f Filter) Apply(cases []TestCase) []TestCase {
	cats := toSet(f.Categories)
	ids := toSet(f.IDs)
	out := make([]TestCase, 0, len(cases))
	for _, tc := range cases {
		if len(cats) > 0 && !cats[tc.Category] {
			continue
		}
		if len(ids) > 0 && !ids[tc.ID] {
			continue
		}
		tc.Index = len(out)
		out = append(out, tc)
	}
	return out
}

func toSet(in []string) map[string]bool {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]bool, len(in))
	for _, v := range in {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out[part] = true
			}
		}
	}
	return out
}
