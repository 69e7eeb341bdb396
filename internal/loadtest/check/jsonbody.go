package check

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Extract reads the value at path from a JSON body. Both JSONPath style
// ($.items[0].id) and gjson style (items.0.id) paths are accepted.
func Extract(body []byte, path string) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("empty JSON body")
	}
	if path == "" {
		return "", fmt.Errorf("empty path")
	}

	result := gjson.GetBytes(body, gjsonPath(path))
	if !result.Exists() {
		return "", fmt.Errorf("path not found: %s", path)
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// IsJSONArray passes when the value at path is a JSON array. Use "$" for
// the document root.
func IsJSONArray(path string) Func {
	gpath := gjsonPath(path)
	return func(r Response) bool {
		if r.Err != nil || !gjson.ValidBytes(r.Body) {
			return false
		}
		return gjson.GetBytes(r.Body, gpath).IsArray()
	}
}

// FieldEquals passes when the value at path equals want.
func FieldEquals(path, want string) Func {
	return func(r Response) bool {
		got, err := Extract(r.Body, path)
		return err == nil && got == want
	}
}

// CreatedID returns the id of a created resource, if the body carries one.
func CreatedID(body []byte) (string, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	id := gjson.GetBytes(body, "id")
	if !id.Exists() || id.Type == gjson.Null {
		return "", false
	}
	return id.String(), true
}

// gjsonPath converts a JSONPath expression into gjson syntax:
// $.users[0].name becomes users.0.name.
func gjsonPath(path string) string {
	if path == "$" || path == "" {
		return "@this"
	}
	p := strings.TrimPrefix(path, "$")
	p = strings.TrimPrefix(p, ".")

	var sb strings.Builder
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '[':
			if sb.Len() > 0 {
				sb.WriteByte('.')
			}
		case ']':
		default:
			sb.WriteByte(p[i])
		}
	}
	return sb.String()
}
