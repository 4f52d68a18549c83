package agentconfig

import "reflect"

func isMap(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

// mergeMaps overlays o onto b. Nested mappings merge; everything else in o
// replaces b's value.
func mergeMaps(b, o map[string]any) map[string]any {
	out := make(map[string]any, len(b)+len(o))
	for k, bv := range b {
		ov, ok := o[k]
		if !ok {
			out[k] = bv
			continue
		}
		bm, bok := bv.(map[string]any)
		om, ook := ov.(map[string]any)
		if bok && ook {
			out[k] = mergeMaps(bm, om)
		} else {
			out[k] = ov
		}
	}
	for k, ov := range o {
		if _, ok := b[k]; !ok {
			out[k] = ov
		}
	}
	return out
}

func collectAdditions(path []string, repo any, additions *[]Entry) {
	if m, ok := repo.(map[string]any); ok {
		for _, k := range sortedKeys(m) {
			collectAdditions(appendPath(path, k), m[k], additions)
		}
		return
	}
	*additions = append(*additions, Entry{Path: path, Repo: repo})
}

func collectChanges(path []string, repo, existing any, additions, overrides *[]Entry) {
	repoMap, repoIsMap := repo.(map[string]any)
	existingMap, existingIsMap := existing.(map[string]any)

	if repoIsMap {
		if !existingIsMap {
			*overrides = append(*overrides, Entry{Path: path, Repo: repo, Previous: existing})
			return
		}
		for _, k := range sortedKeys(repoMap) {
			if ev, ok := existingMap[k]; ok {
				collectChanges(appendPath(path, k), repoMap[k], ev, additions, overrides)
			} else {
				collectAdditions(appendPath(path, k), repoMap[k], additions)
			}
		}
		return
	}
	if existingIsMap || !reflect.DeepEqual(existing, repo) {
		*overrides = append(*overrides, Entry{Path: path, Repo: repo, Previous: existing})
	}
}

func pathGet(doc map[string]any, path []string) (any, bool) {
	var cur any = doc
	for _, k := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[k]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func pathSet(doc map[string]any, path []string, v any) {
	cur := doc
	for _, k := range path[:len(path)-1] {
		next, ok := cur[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[k] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = v
}

// pathDelete removes the leaf at path and prunes parents left empty.
func pathDelete(doc map[string]any, path []string) bool {
	type parent struct {
		m   map[string]any
		key string
	}
	cur := doc
	var parents []parent
	for _, k := range path[:len(path)-1] {
		next, ok := cur[k].(map[string]any)
		if !ok {
			return false
		}
		parents = append(parents, parent{m: cur, key: k})
		cur = next
	}
	leaf := path[len(path)-1]
	if _, ok := cur[leaf]; !ok {
		return false
	}
	delete(cur, leaf)
	for i := len(parents) - 1; i >= 0; i-- {
		p := parents[i]
		if child, ok := p.m[p.key].(map[string]any); ok && len(child) == 0 {
			delete(p.m, p.key)
			continue
		}
		break
	}
	return true
}

func appendPath(path []string, k string) []string {
	out := make([]string, len(path), len(path)+1)
	copy(out, path)
	return append(out, k)
}
