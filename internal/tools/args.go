package tools

import (
	"encoding/json"
	"math"
	"strings"
)

// Tool arguments arrive as decoded JSON, so numbers are float64 and lists are
// []interface{}. Some clients send lists as a JSON-encoded string; those are
// accepted too.

func requiredString(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", invalidArgument("missing required parameter: %s", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidArgument("parameter %s must be a string", name)
	}
	return s, nil
}

func optionalString(args map[string]interface{}, name string) (*string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, invalidArgument("parameter %s must be a string", name)
	}
	return &s, nil
}

func optionalBool(args map[string]interface{}, name string, def bool) (bool, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(b) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	}
	return false, invalidArgument("parameter %s must be a boolean", name)
}

func requiredID(args map[string]interface{}, name string) (int64, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return 0, invalidArgument("missing required parameter: %s", name)
	}
	id, ok := toID(v)
	if !ok {
		return 0, invalidArgument("parameter %s must be an integer id", name)
	}
	return id, nil
}

func requiredIDs(args map[string]interface{}, name string) ([]int64, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, invalidArgument("missing required parameter: %s", name)
	}
	if s, ok := v.(string); ok {
		var decoded []interface{}
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, invalidArgument("parameter %s must be a list of integer ids", name)
		}
		v = decoded
	}

	var items []interface{}
	switch list := v.(type) {
	case []interface{}:
		items = list
	case []int64:
		return append([]int64{}, list...), nil
	case []float64:
		for _, f := range list {
			items = append(items, f)
		}
	default:
		return nil, invalidArgument("parameter %s must be a list of integer ids", name)
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		id, ok := toID(item)
		if !ok {
			return nil, invalidArgument("parameter %s must be a list of integer ids", name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

const maxExactFloatInt = 1 << 53

func toID(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		// Beyond 2^53 a float64 no longer holds every integer, so the id
		// cannot be what the client meant.
		if n != math.Trunc(n) || n < -maxExactFloatInt || n > maxExactFloatInt {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		id, err := n.Int64()
		return id, err == nil
	}
	return 0, false
}
