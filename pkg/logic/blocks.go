package logic

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Block type names as stored by the template editor.
const (
	BlockMessage  = "message"
	BlockPostback = "postback"
	BlockFollow   = "follow"
	BlockUnfollow = "unfollow"

	BlockText    = "text"
	BlockFlex    = "flex"
	BlockImage   = "image"
	BlockSticker = "sticker"
)

// Block is one node in a template's block graph. Event blocks match incoming
// events; reply blocks describe outbound messages; any other type (flex
// content and layout nodes) is consumed only while building a flex payload.
type Block struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// Event block fields.
	MessageType   string `json:"messageType,omitempty"`
	Condition     string `json:"condition,omitempty"`
	Pattern       string `json:"pattern,omitempty"`
	CaseSensitive bool   `json:"caseSensitive,omitempty"`
	Data          string `json:"data,omitempty"`

	// Reply wiring.
	ConnectedTo string `json:"connectedTo,omitempty"`
	ParentID    string `json:"parentId,omitempty"`

	// Reply payload fields.
	Text               string          `json:"text,omitempty"`
	FlexMessageID      string          `json:"flexMessageId,omitempty"`
	FlexContent        json.RawMessage `json:"flexContent,omitempty"`
	OriginalContentURL string          `json:"originalContentUrl,omitempty"`
	PreviewImageURL    string          `json:"previewImageUrl,omitempty"`
	PackageID          string          `json:"packageId,omitempty"`
	StickerID          string          `json:"stickerId,omitempty"`
}

// condition returns the match string, accepting both field spellings the
// editor has used over time.
func (b *Block) condition() string {
	if b.Condition != "" {
		return b.Condition
	}
	return b.Pattern
}

// DecodeBlocks parses a template's stored blocks. Both a bare array and a
// {"blocks": [...]} wrapper are accepted.
func DecodeBlocks(doc []byte) ([]Block, error) {
	if len(doc) == 0 {
		return nil, nil
	}

	trimmed := strings.TrimSpace(string(doc))
	if strings.HasPrefix(trimmed, "[") {
		var blocks []Block
		if err := json.Unmarshal(doc, &blocks); err != nil {
			return nil, fmt.Errorf("failed to decode blocks array: %w", err)
		}
		return blocks, nil
	}

	var wrapper struct {
		Blocks []Block `json:"blocks"`
	}
	if err := json.Unmarshal(doc, &wrapper); err != nil {
		return nil, fmt.Errorf("failed to decode blocks document: %w", err)
	}
	return wrapper.Blocks, nil
}

func isEventBlock(blockType string) bool {
	switch blockType {
	case BlockMessage, BlockPostback, BlockFollow, BlockUnfollow:
		return true
	}
	return false
}

func isReplyBlock(blockType string) bool {
	switch blockType {
	case BlockText, BlockFlex, BlockImage, BlockSticker:
		return true
	}
	return false
}

// isConditional reports whether an event block matches on content rather
// than event kind alone: text messages with a configured condition, and
// postbacks with configured data.
func isConditional(b *Block) bool {
	switch b.Type {
	case BlockMessage:
		if b.MessageType != "" && b.MessageType != "text" {
			return false
		}
		return strings.TrimSpace(b.condition()) != ""
	case BlockPostback:
		return strings.TrimSpace(b.Data) != ""
	}
	return false
}
