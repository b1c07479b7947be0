package protocol

import (
	"bytes"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Payload 服务器消息中的命令对象，按字段名延迟解码
type Payload map[string]json.RawMessage

func (p Payload) lookup(path string) (json.RawMessage, bool) {
	if p == nil || path == "" {
		return nil, false
	}
	cur := p
	parts := strings.Split(path, ".")
	for i, part := range parts {
		raw, ok := cur[part]
		if !ok {
			return nil, false
		}
		raw = bytes.TrimSpace(raw)
		if i == len(parts)-1 {
			if string(raw) == "null" {
				return nil, false
			}
			return raw, true
		}
		var next Payload
		if err := json.Unmarshal(raw, &next); err != nil {
			return nil, false
		}
		cur = next
	}
	return nil, false
}

// Int reads a numeric field. Quoted numbers and whole floats are accepted.
func (p Payload) Int(path string) (int64, bool) {
	raw, ok := p.lookup(path)
	if !ok {
		return 0, false
	}
	s := string(raw)
	if strings.HasPrefix(s, `"`) {
		u, err := strconv.Unquote(s)
		if err != nil {
			return 0, false
		}
		s = strings.TrimSpace(u)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}

// String reads a string or number field as text.
func (p Payload) String(path string) (string, bool) {
	raw, ok := p.lookup(path)
	if !ok {
		return "", false
	}
	if raw[0] == '"' {
		s, err := strconv.Unquote(string(raw))
		if err != nil {
			return "", false
		}
		return s, true
	}
	if raw[0] == '{' || raw[0] == '[' {
		return "", false
	}
	return string(raw), true
}

// Object reads a nested object.
func (p Payload) Object(path string) (Payload, bool) {
	if path == "" {
		return p, true
	}
	raw, ok := p.lookup(path)
	if !ok {
		return nil, false
	}
	var out Payload
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// Objects reads an array of objects.
func (p Payload) Objects(path string) ([]Payload, bool) {
	raw, ok := p.lookup(path)
	if !ok {
		return nil, false
	}
	var out []Payload
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}
