package logic

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// flexAreas orders the bubble sections an editor payload can target.
var flexAreas = []string{"header", "body", "footer"}

// ConvertFlexContent turns a stored flex design into LINE bubble contents.
// Editor payloads ({"blocks": [...]} with area-tagged nodes) are restructured
// into a bubble; payloads that already look like LINE containers pass
// through. Both forms are sanitized: null fields dropped, spacing values
// coerced to strings.
func ConvertFlexContent(doc []byte) (map[string]any, error) {
	var raw map[string]any
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode flex content: %w", err)
	}

	if t, _ := raw["type"].(string); t == "bubble" || t == "carousel" {
		return sanitizeMap(raw), nil
	}

	blocks, ok := raw["blocks"].([]any)
	if !ok || len(blocks) == 0 {
		return nil, fmt.Errorf("flex content has no blocks")
	}

	areas := map[string][]any{}
	for _, item := range blocks {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		area, _ := m["area"].(string)
		if area != "header" && area != "footer" {
			area = "body"
		}
		areas[area] = append(areas[area], convertFlexBlock(m))
	}

	bubble := map[string]any{"type": "bubble"}
	for _, area := range flexAreas {
		contents := areas[area]
		if len(contents) == 0 {
			continue
		}
		bubble[area] = map[string]any{
			"type":     "box",
			"layout":   "vertical",
			"contents": contents,
		}
	}
	if len(bubble) == 1 {
		return nil, fmt.Errorf("flex content produced an empty bubble")
	}
	return sanitizeMap(bubble), nil
}

// convertFlexBlock maps one editor node onto its LINE flex component. Editor
// bookkeeping keys are dropped; styling keys pass through for the sanitizer.
func convertFlexBlock(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		switch k {
		case "contentType", "area", "id", "blocks", "contents", "action":
			continue
		}
		out[k] = v
	}

	contentType, _ := raw["contentType"].(string)
	switch contentType {
	case "text":
		out["type"] = "text"
		if s, _ := out["text"].(string); s == "" {
			out["text"] = " "
		}
	case "image":
		out["type"] = "image"
	case "button":
		out["type"] = "button"
		out["action"] = NormalizeAction(asMap(raw["action"]))
	case "separator":
		out["type"] = "separator"
	case "spacer":
		out["type"] = "spacer"
	case "box":
		out["type"] = "box"
		if _, ok := out["layout"].(string); !ok {
			out["layout"] = "vertical"
		}
		out["contents"] = convertFlexChildren(raw)
	default:
		// Already LINE-shaped or unknown; keep whatever type it declared.
		if _, ok := out["type"]; !ok && contentType != "" {
			out["type"] = contentType
		}
		if action := asMap(raw["action"]); action != nil {
			out["action"] = NormalizeAction(action)
		}
		if children := convertFlexChildren(raw); children != nil {
			out["contents"] = children
		}
	}
	return out
}

func convertFlexChildren(raw map[string]any) []any {
	children, ok := raw["blocks"].([]any)
	if !ok {
		children, ok = raw["contents"].([]any)
	}
	if !ok {
		return nil
	}
	out := make([]any, 0, len(children))
	for _, c := range children {
		if m, ok := c.(map[string]any); ok {
			out = append(out, convertFlexBlock(m))
		}
	}
	return out
}

// NormalizeAction rebuilds an action with only the fields its type requires,
// so editor leftovers never reach the LINE API. A missing or unknown type
// falls back to a default postback.
func NormalizeAction(raw map[string]any) map[string]any {
	get := func(key string) string {
		s, _ := raw[key].(string)
		return s
	}

	out := map[string]any{}
	if label := get("label"); label != "" {
		out["label"] = label
	}

	switch get("type") {
	case "message":
		out["type"] = "message"
		out["text"] = get("text")
	case "uri":
		out["type"] = "uri"
		out["uri"] = get("uri")
	case "datetimepicker":
		out["type"] = "datetimepicker"
		out["data"] = get("data")
		mode := get("mode")
		if mode == "" {
			mode = "date"
		}
		out["mode"] = mode
	case "richmenuswitch":
		out["type"] = "richmenuswitch"
		out["richMenuAliasId"] = get("richMenuAliasId")
	default:
		out["type"] = "postback"
		data := get("data")
		if data == "" {
			data = "action=default"
		}
		out["data"] = data
		if display := get("displayText"); display != "" {
			out["displayText"] = display
		}
	}
	return out
}

// sanitizeMap recursively drops null fields and coerces margin, spacing, and
// padding values into the string form LINE accepts.
func sanitizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		if isSpacingKey(k) {
			if coerced, ok := coerceSpacing(v); ok {
				out[k] = coerced
			}
			continue
		}
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return sanitizeMap(val)
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			out = append(out, sanitizeValue(item))
		}
		return out
	default:
		return v
	}
}

func isSpacingKey(k string) bool {
	return k == "margin" || k == "spacing" || strings.HasPrefix(k, "padding")
}

// coerceSpacing turns editor spacing values (objects like {"value": "md"},
// or bare numbers) into LINE's string tokens.
func coerceSpacing(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, val != ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64) + "px", true
	case map[string]any:
		for _, key := range []string{"value", "size"} {
			if s, ok := val[key].(string); ok && s != "" {
				return s, true
			}
			if f, ok := val[key].(float64); ok {
				return strconv.FormatFloat(f, 'f', -1, 64) + "px", true
			}
		}
		return "", false
	default:
		return "", false
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
