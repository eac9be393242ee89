package config

import (
	"fmt"
	"os"
	"regexp"
)

// placeholderPattern matches `${{ env.NAME }}` with flexible internal
// whitespace, capturing the full inner expression so resolveValue can
// validate the `env.` namespace explicitly rather than baking it into the
// regex.
var placeholderPattern = regexp.MustCompile(`\$\{\{\s*(.+?)\s*\}\}`)

var envVarNamePattern = regexp.MustCompile(`^env\.([A-Za-z_][A-Za-z0-9_]*)$`)

// resolveArguments replaces every `${{ env.NAME }}` placeholder in m's
// values with the named environment variable's value. A missing variable
// is a fatal ConfigError naming it; an expression outside the `env.`
// namespace is likewise rejected, since only that namespace is defined.
func resolveArguments(path string, m map[string]string) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		resolved, err := resolveValue(v)
		if err != nil {
			return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("resolving arguments[%s]", k), Err: err}
		}
		out[k] = resolved
	}
	return out, nil
}

func resolveValue(v string) (string, error) {
	var firstErr error
	resolved := placeholderPattern.ReplaceAllStringFunc(v, func(match string) string {
		if firstErr != nil {
			return match
		}
		inner := placeholderPattern.FindStringSubmatch(match)[1]
		nameMatch := envVarNamePattern.FindStringSubmatch(inner)
		if nameMatch == nil {
			firstErr = fmt.Errorf("unsupported placeholder expression %q: only env.NAME is resolved", inner)
			return match
		}
		name := nameMatch[1]
		val, ok := os.LookupEnv(name)
		if !ok {
			firstErr = fmt.Errorf("environment variable %q is not set", name)
			return match
		}
		return val
	})
	if firstErr != nil {
		return "", firstErr
	}
	return resolved, nil
}

// rejectPlaceholders fails if s contains anything that looks like a
// `${{ ... }}` placeholder. Used for Uses/Name/With values, which the spec
// requires to reject placeholders outright rather than silently leaving
// them unresolved.
func rejectPlaceholders(path, field, s string) error {
	if placeholderPattern.MatchString(s) {
		return &ConfigError{Path: path, Reason: fmt.Sprintf("%s contains an unsupported placeholder: %q", field, s)}
	}
	return nil
}
