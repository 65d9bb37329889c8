// Package workflow loads a ComfyUI API-format workflow document and
// substitutes %name% placeholders with caller-supplied values.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
)

var placeholderRE = regexp.MustCompile(`%(\w+)%`)

// Template is an immutable workflow graph with placeholder tokens in
// its string values. Apply clones the tree, the loaded document is
// never mutated.
type Template struct {
	root map[string]interface{}
}

// Load reads a workflow template from a JSON file.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes a workflow template from raw JSON.
func Parse(data []byte) (*Template, error) {
	root := make(map[string]interface{})
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse workflow json: %w", err)
	}
	return &Template{root: root}, nil
}

// Placeholders returns the sorted set of %name% tokens found anywhere
// in the template's string values.
func (t *Template) Placeholders() []string {
	seen := map[string]struct{}{}
	scanValue(t.root, seen)
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func scanValue(v interface{}, seen map[string]struct{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		for _, item := range val {
			scanValue(item, seen)
		}
	case []interface{}:
		for _, item := range val {
			scanValue(item, seen)
		}
	case string:
		for _, m := range placeholderRE.FindAllStringSubmatch(val, -1) {
			seen[m[1]] = struct{}{}
		}
	}
}

// Apply clones the template and substitutes placeholders with values
// from params. A string value that is exactly one token takes the
// parameter's native type, so numeric inputs stay numeric. Strings
// mixing tokens with other text get textual replacement. Tokens with
// no matching parameter are left untouched.
func (t *Template) Apply(params map[string]interface{}) map[string]interface{} {
	return replaceValue(t.root, params).(map[string]interface{})
}

func replaceValue(v interface{}, params map[string]interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		res := make(map[string]interface{}, len(val))
		for k, item := range val {
			res[k] = replaceValue(item, params)
		}
		return res
	case []interface{}:
		res := make([]interface{}, len(val))
		for i, item := range val {
			res[i] = replaceValue(item, params)
		}
		return res
	case string:
		return replaceString(val, params)
	default:
		return v
	}
}

func replaceString(s string, params map[string]interface{}) interface{} {
	matches := placeholderRE.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return s
	}

	// the whole string is a single token, keep the parameter's type
	if len(matches) == 1 && matches[0][0] == s {
		if v, ok := params[matches[0][1]]; ok {
			return v
		}
		return s
	}

	res := s
	for _, m := range matches {
		if v, ok := params[m[1]]; ok {
			res = replaceAll(res, m[0], v)
		}
	}
	return res
}

func replaceAll(s, token string, v interface{}) string {
	return placeholderRE.ReplaceAllStringFunc(s, func(m string) string {
		if m != token {
			return m
		}
		return stringify(v)
	})
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// drop the trailing .0 for whole numbers, matching json output
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprintf("%v", v)
	}
}
