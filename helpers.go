package mlt

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// registerDefaultFuncs installs the baseline helper table. Host-specific
// callables (authentication check, CSRF token issuance, translation lookup,
// path resolution, previous-input lookup, validation errors) ship as inert
// defaults and are replaced through Engine.Funcs by the embedding
// application.
func registerDefaultFuncs(funcs FuncMap) {
	funcs["css_classes"] = func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("css_classes takes one argument")
		}
		return buildClassList(args[0])
	}
	funcs["css_styles"] = func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("css_styles takes one argument")
		}
		return buildStyleList(args[0])
	}
	funcs["len"] = func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len takes one argument")
		}
		switch t := args[0].(type) {
		case nil:
			return float64(0), nil
		case string:
			return float64(len(t)), nil
		case []any:
			return float64(len(t)), nil
		case map[string]any:
			return float64(len(t)), nil
		}
		return nil, fmt.Errorf("len: unsupported type %T", args[0])
	}
	funcs["upper"] = func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("upper takes one argument")
		}
		return strings.ToUpper(stringify(args[0])), nil
	}
	funcs["lower"] = func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("lower takes one argument")
		}
		return strings.ToLower(stringify(args[0])), nil
	}
	funcs["join"] = func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("join takes a separator and a list")
		}
		items, ok := args[1].([]any)
		if !ok {
			return nil, fmt.Errorf("join: second argument must be a list, got %T", args[1])
		}
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = stringify(it)
		}
		return strings.Join(parts, stringify(args[0])), nil
	}

	// host helper defaults
	funcs["auth_check"] = func(...any) (any, error) { return false, nil }
	funcs["csrf_token"] = func(...any) (any, error) { return "", nil }
	funcs["env"] = func(...any) (any, error) {
		if v := os.Getenv("APP_ENV"); v != "" {
			return v, nil
		}
		return "production", nil
	}
	funcs["trans"] = func(args ...any) (any, error) {
		if len(args) == 0 {
			return "", nil
		}
		return stringify(args[0]), nil
	}
	funcs["route"] = func(args ...any) (any, error) {
		if len(args) == 0 {
			return "/", nil
		}
		return "/" + strings.ReplaceAll(stringify(args[0]), ".", "/"), nil
	}
	funcs["old"] = func(args ...any) (any, error) {
		if len(args) > 1 {
			return args[1], nil
		}
		return nil, nil
	}
	funcs["error_message"] = func(...any) (any, error) { return "", nil }
}

// buildClassList flattens the @class argument into a class string. Strings
// pass through, list items recurse, map entries contribute their key when
// the value is truthy. Any other type is an explicit error rather than a
// silent drop.
func buildClassList(v any) (string, error) {
	var classes []string
	var walk func(v any) error
	walk = func(v any) error {
		switch t := v.(type) {
		case nil:
			return nil
		case string:
			if s := strings.TrimSpace(t); s != "" {
				classes = append(classes, s)
			}
			return nil
		case []any:
			for _, item := range t {
				if err := walk(item); err != nil {
					return err
				}
			}
			return nil
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				if truthy(t[k]) {
					classes = append(classes, k)
				}
			}
			return nil
		}
		return fmt.Errorf("@class values must be strings, lists or maps, got %T", v)
	}
	if err := walk(v); err != nil {
		return "", err
	}
	return strings.Join(classes, " "), nil
}

// buildStyleList flattens the @style argument into a style string. String
// entries are emitted as-is, map entries emit "key: value;" when truthy.
func buildStyleList(v any) (string, error) {
	var styles []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if !strings.HasSuffix(s, ";") {
			s += ";"
		}
		styles = append(styles, s)
	}
	var walk func(v any) error
	walk = func(v any) error {
		switch t := v.(type) {
		case nil:
			return nil
		case string:
			add(t)
			return nil
		case []any:
			for _, item := range t {
				if err := walk(item); err != nil {
					return err
				}
			}
			return nil
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				switch val := t[k].(type) {
				case bool:
					// {"display: none": cond} form
					if val {
						add(k)
					}
				default:
					if truthy(val) {
						add(k + ": " + stringify(val))
					}
				}
			}
			return nil
		}
		return fmt.Errorf("@style values must be strings, lists or maps, got %T", v)
	}
	if err := walk(v); err != nil {
		return "", err
	}
	return strings.Join(styles, " "), nil
}
