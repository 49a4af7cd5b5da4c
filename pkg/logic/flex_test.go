package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertFlexContent_EditorPayload(t *testing.T) {
	t.Run("restructures area-tagged blocks into a bubble", func(t *testing.T) {
		doc := []byte(`{"blocks": [
			{"id": "h1", "contentType": "text", "area": "header", "text": "Menu"},
			{"id": "b1", "contentType": "text", "text": "Coffee 120"},
			{"id": "b2", "contentType": "separator"},
			{"id": "f1", "contentType": "button", "area": "footer",
			 "action": {"type": "uri", "label": "Order", "uri": "https://shop.example.com"}}
		]}`)

		bubble, err := ConvertFlexContent(doc)
		require.NoError(t, err)
		assert.Equal(t, "bubble", bubble["type"])

		header, ok := bubble["header"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "box", header["type"])
		assert.Equal(t, "vertical", header["layout"])

		body, ok := bubble["body"].(map[string]any)
		require.True(t, ok)
		contents, ok := body["contents"].([]any)
		require.True(t, ok)
		require.Len(t, contents, 2)

		text, ok := contents[0].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "text", text["type"])
		assert.Equal(t, "Coffee 120", text["text"])
		// Editor bookkeeping must not reach the LINE API.
		assert.NotContains(t, text, "id")
		assert.NotContains(t, text, "contentType")
		assert.NotContains(t, text, "area")

		footer, ok := bubble["footer"].(map[string]any)
		require.True(t, ok)
		button, ok := footer["contents"].([]any)[0].(map[string]any)
		require.True(t, ok)
		action, ok := button["action"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "uri", action["type"])
		assert.Equal(t, "https://shop.example.com", action["uri"])
	})

	t.Run("empty text becomes a space", func(t *testing.T) {
		doc := []byte(`{"blocks": [{"contentType": "text", "text": ""}]}`)
		bubble, err := ConvertFlexContent(doc)
		require.NoError(t, err)

		body := bubble["body"].(map[string]any)
		text := body["contents"].([]any)[0].(map[string]any)
		assert.Equal(t, " ", text["text"])
	})

	t.Run("nested boxes convert their children", func(t *testing.T) {
		doc := []byte(`{"blocks": [
			{"contentType": "box", "layout": "horizontal", "blocks": [
				{"contentType": "text", "text": "left"},
				{"contentType": "text", "text": "right"}
			]}
		]}`)

		bubble, err := ConvertFlexContent(doc)
		require.NoError(t, err)

		body := bubble["body"].(map[string]any)
		box := body["contents"].([]any)[0].(map[string]any)
		assert.Equal(t, "box", box["type"])
		assert.Equal(t, "horizontal", box["layout"])
		children, ok := box["contents"].([]any)
		require.True(t, ok)
		assert.Len(t, children, 2)
	})

	t.Run("box defaults to vertical layout", func(t *testing.T) {
		doc := []byte(`{"blocks": [{"contentType": "box", "blocks": [{"contentType": "text", "text": "x"}]}]}`)
		bubble, err := ConvertFlexContent(doc)
		require.NoError(t, err)

		body := bubble["body"].(map[string]any)
		box := body["contents"].([]any)[0].(map[string]any)
		assert.Equal(t, "vertical", box["layout"])
	})
}

func TestConvertFlexContent_PassThrough(t *testing.T) {
	t.Run("line containers pass through sanitized", func(t *testing.T) {
		doc := []byte(`{
			"type": "bubble",
			"body": {
				"type": "box",
				"layout": "vertical",
				"margin": 16,
				"spacing": {"value": "md"},
				"paddingAll": null,
				"contents": [
					{"type": "text", "text": "hello", "color": null},
					null
				]
			}
		}`)

		bubble, err := ConvertFlexContent(doc)
		require.NoError(t, err)
		assert.Equal(t, "bubble", bubble["type"])

		body := bubble["body"].(map[string]any)
		assert.Equal(t, "16px", body["margin"])
		assert.Equal(t, "md", body["spacing"])
		assert.NotContains(t, body, "paddingAll")

		contents := body["contents"].([]any)
		require.Len(t, contents, 1)
		text := contents[0].(map[string]any)
		assert.NotContains(t, text, "color")
	})

	t.Run("carousel passes through", func(t *testing.T) {
		doc := []byte(`{"type": "carousel", "contents": []}`)
		container, err := ConvertFlexContent(doc)
		require.NoError(t, err)
		assert.Equal(t, "carousel", container["type"])
	})
}

func TestConvertFlexContent_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "malformed json", doc: `{"blocks": [`},
		{name: "no blocks", doc: `{"title": "not a design"}`},
		{name: "empty blocks", doc: `{"blocks": []}`},
		{name: "blocks with no usable nodes", doc: `{"blocks": ["just-a-string"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ConvertFlexContent([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestNormalizeAction(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want map[string]any
	}{
		{
			name: "message action",
			in:   map[string]any{"type": "message", "label": "Say hi", "text": "hi", "stale": "x"},
			want: map[string]any{"type": "message", "label": "Say hi", "text": "hi"},
		},
		{
			name: "uri action",
			in:   map[string]any{"type": "uri", "uri": "https://example.com"},
			want: map[string]any{"type": "uri", "uri": "https://example.com"},
		},
		{
			name: "datetimepicker defaults its mode",
			in:   map[string]any{"type": "datetimepicker", "data": "pick=1"},
			want: map[string]any{"type": "datetimepicker", "data": "pick=1", "mode": "date"},
		},
		{
			name: "rich menu switch",
			in:   map[string]any{"type": "richmenuswitch", "richMenuAliasId": "menu-b"},
			want: map[string]any{"type": "richmenuswitch", "richMenuAliasId": "menu-b"},
		},
		{
			name: "postback keeps display text",
			in:   map[string]any{"type": "postback", "data": "action=buy", "displayText": "Buy"},
			want: map[string]any{"type": "postback", "data": "action=buy", "displayText": "Buy"},
		},
		{
			name: "unknown type becomes a default postback",
			in:   map[string]any{"type": "mystery", "label": "?"},
			want: map[string]any{"type": "postback", "data": "action=default", "label": "?"},
		},
		{
			name: "empty action",
			in:   map[string]any{},
			want: map[string]any{"type": "postback", "data": "action=default"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAction(tt.in))
		})
	}
}
