package manifest

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	idPattern      = regexp.MustCompile(`^[a-z0-9.-]+$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+`)
	invalidIDChars = regexp.MustCompile(`[^a-z0-9.-]+`)
)

const (
	minPort = 1024
	maxPort = 65535
)

// validateDocument checks the raw JSON object before any inference happens.
// Every violation is reported, not just the first.
func validateDocument(doc map[string]any) []FieldError {
	var errs []FieldError
	add := func(field, msg, fix string) {
		errs = append(errs, FieldError{Field: field, Message: msg, Suggestion: fix})
	}

	name, present := doc["name"]
	switch s, isStr := name.(string); {
	case !present:
		add("name", "is required", `add "name": "My Tool"`)
	case !isStr:
		add("name", fmt.Sprintf("must be a string, got %s", jsonType(name)), `use a quoted string, e.g. "name": "My Tool"`)
	case strings.TrimSpace(s) == "":
		add("name", "must not be empty", `give the tool a display name`)
	}

	if v, ok := doc["version"]; ok {
		s, isStr := v.(string)
		switch {
		case !isStr:
			add("version", fmt.Sprintf("must be a string, got %s", jsonType(v)), `use "version": "1.0.0"`)
		case !versionPattern.MatchString(s):
			add("version", fmt.Sprintf("%q is not a semantic version", s), `use MAJOR.MINOR.PATCH, e.g. "1.0.0"`)
		}
	}

	if v, ok := doc["id"]; ok {
		s, isStr := v.(string)
		switch {
		case !isStr:
			add("id", fmt.Sprintf("must be a string, got %s", jsonType(v)), "")
		case !idPattern.MatchString(s):
			add("id", fmt.Sprintf("%q may only contain lowercase letters, digits, dots and dashes", s),
				fmt.Sprintf("use %q", sanitizeID(s)))
		}
	}

	if v, ok := doc["port"]; ok {
		n, isNum := v.(float64)
		switch {
		case !isNum:
			add("port", fmt.Sprintf("must be a number, got %s", jsonType(v)), `remove the quotes, e.g. "port": 8080`)
		case n != float64(int(n)) || n < minPort || n > maxPort:
			add("port", fmt.Sprintf("%v is outside %d-%d", v, minPort, maxPort), "pick an unprivileged port such as 8080")
		}
	}

	for _, key := range []string{"description", "protocol", "icon", "author", "category", "main"} {
		if v, ok := doc[key]; ok {
			if _, isStr := v.(string); !isStr {
				add(key, fmt.Sprintf("must be a string, got %s", jsonType(v)), "")
			}
		}
	}

	for _, key := range []string{"permissions", "keywords"} {
		if v, ok := doc[key]; ok && !isStringArray(v) {
			add(key, "must be an array of strings", fmt.Sprintf(`e.g. "%s": []`, key))
		}
	}

	start, hasStart := doc["start"]
	if hasStart {
		if s, isStr := start.(string); !isStr || strings.TrimSpace(s) == "" {
			add("start", "must be a non-empty command string", `e.g. "start": "python main.py"`)
		}
	}
	rt, hasRuntime := doc["runtime"]
	if hasRuntime {
		if _, isObj := rt.(map[string]any); !isObj {
			add("runtime", fmt.Sprintf("must be an object, got %s", jsonType(rt)), `e.g. "runtime": {"type": "standalone", "entry": "main.py"}`)
		}
	}
	if !hasStart && !hasRuntime {
		add("start", `either "start" or "runtime" is required`,
			`add "start": "python main.py" (simplified) or a full "runtime" object`)
	}

	return errs
}

func sanitizeID(s string) string {
	out := invalidIDChars.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	out = strings.Trim(out, "-.")
	if out == "" {
		return "my-tool"
	}
	return out
}

func isStringArray(v any) bool {
	arr, ok := v.([]any)
	if !ok {
		return false
	}
	for _, item := range arr {
		if _, ok := item.(string); !ok {
			return false
		}
	}
	return true
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
