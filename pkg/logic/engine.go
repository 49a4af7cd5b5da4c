package logic

import (
	"log/slog"
	"strings"

	"github.com/chatbridge/linecore/pkg/line"
	"github.com/chatbridge/linecore/pkg/models"
)

// maxRepliesPerMatch bounds how many reply blocks one match emits, which is
// also LINE's per-request message ceiling.
const maxRepliesPerMatch = 5

// emptyReplyFallback is sent when a text reply block has no content.
const emptyReplyFallback = "（未設定回覆內容）"

// Reply is one outbound message produced by a matched template, carrying the
// wire payload plus what the conversation store records about it.
type Reply struct {
	Payload  line.Message
	Type     string
	Content  models.JSONMap
	MediaURL string
}

// EvalInput is one event evaluated against a bot's active templates, ordered
// newest first.
type EvalInput struct {
	Templates  []*models.LogicTemplate
	Event      *line.Event
	AITakeover bool

	// ResolveFlex loads a saved flex design by id. Nil disables lookups and
	// inline content is used instead.
	ResolveFlex func(flexMessageID string) (models.JSONDoc, error)
}

// eventFacets is the event decoded once for matching.
type eventFacets struct {
	eventType    string
	messageType  string
	messageText  string
	postbackData string
}

// Evaluate finds the first matching template and returns its replies, empty
// when nothing matched. Invalid templates are skipped. A template whose match
// is overridden by AI takeover is skipped the same way, so a later template's
// scripted response can still win.
func Evaluate(in EvalInput) []Reply {
	facets := decodeFacets(in.Event)

	for _, tpl := range in.Templates {
		if !tpl.Active() {
			continue
		}
		blocks, err := DecodeBlocks(tpl.LogicBlocks)
		if err != nil {
			slog.Warn("Skipping template with invalid blocks", "template_id", tpl.ID, "error", err)
			continue
		}
		if len(blocks) == 0 {
			continue
		}

		matched, skip := matchTemplate(blocks, facets, in.AITakeover)
		if skip || matched == nil {
			continue
		}

		replies := buildReplies(collectReplyBlocks(blocks, matched), in)
		if len(replies) == 0 {
			continue
		}
		return replies
	}
	return nil
}

func decodeFacets(ev *line.Event) eventFacets {
	f := eventFacets{eventType: ev.Type}
	if ev.Type == line.EventTypeMessage {
		if mc, err := ev.DecodeMessage(); err == nil && mc != nil {
			f.messageType = mc.Type
			f.messageText = mc.Text
		}
	}
	if ev.Postback != nil {
		f.postbackData = ev.Postback.Data
	}
	return f
}

// matchTemplate tries conditional event blocks first, then unconditional
// ones in order. skip=true means AI takeover claimed the event: the match
// was an unconditional text (or generic message) block while takeover is on.
func matchTemplate(blocks []Block, f eventFacets, aiTakeover bool) (matched *Block, skip bool) {
	var conditional, unconditional []*Block
	for i := range blocks {
		b := &blocks[i]
		if !isEventBlock(b.Type) {
			continue
		}
		if isConditional(b) {
			conditional = append(conditional, b)
		} else {
			unconditional = append(unconditional, b)
		}
	}

	for _, b := range conditional {
		if matchesConditional(b, f) {
			return b, false
		}
	}

	for _, b := range unconditional {
		if !matchesUnconditional(b, f) {
			continue
		}
		if aiTakeover && b.Type == BlockMessage && f.eventType == line.EventTypeMessage && f.messageType == "text" {
			return nil, true
		}
		return b, false
	}
	return nil, false
}

func matchesConditional(b *Block, f eventFacets) bool {
	switch b.Type {
	case BlockMessage:
		return f.eventType == line.EventTypeMessage &&
			f.messageType == "text" &&
			matchText(b.condition(), b.CaseSensitive, f.messageText)
	case BlockPostback:
		return f.eventType == line.EventTypePostback && b.Data == f.postbackData
	}
	return false
}

func matchesUnconditional(b *Block, f eventFacets) bool {
	switch b.Type {
	case BlockMessage:
		if f.eventType != line.EventTypeMessage {
			return false
		}
		return b.MessageType == "" || b.MessageType == f.messageType
	case BlockPostback:
		return f.eventType == line.EventTypePostback
	case BlockFollow:
		return f.eventType == line.EventTypeFollow
	case BlockUnfollow:
		return f.eventType == line.EventTypeUnfollow
	}
	return false
}

// matchText applies the keyword rules: a comma-separated condition matches
// when any keyword occurs in the message; otherwise the whole condition must
// equal or occur in it. Matching is case-insensitive unless the block says
// otherwise.
func matchText(condition string, caseSensitive bool, text string) bool {
	cond := strings.TrimSpace(condition)
	if cond == "" {
		return false
	}
	msg := text
	if !caseSensitive {
		cond = strings.ToLower(cond)
		msg = strings.ToLower(msg)
	}

	if strings.Contains(cond, ",") {
		for _, kw := range strings.Split(cond, ",") {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			if strings.Contains(msg, kw) {
				return true
			}
		}
		return false
	}
	return strings.Contains(msg, cond)
}

// collectReplyBlocks walks forward from the matched block's connected reply,
// gathering contiguous reply blocks and stopping at the next event block.
// Without an explicit connection the template's first reply block is used.
func collectReplyBlocks(blocks []Block, matched *Block) []*Block {
	start := -1
	if matched.ID != "" {
		for i := range blocks {
			b := &blocks[i]
			if isReplyBlock(b.Type) && (b.ConnectedTo == matched.ID || b.ParentID == matched.ID) {
				start = i
				break
			}
		}
	}
	if start == -1 {
		for i := range blocks {
			if isReplyBlock(blocks[i].Type) {
				start = i
				break
			}
		}
	}
	if start == -1 {
		return nil
	}

	var out []*Block
	for i := start; i < len(blocks) && len(out) < maxRepliesPerMatch; i++ {
		b := &blocks[i]
		if isEventBlock(b.Type) {
			break
		}
		if isReplyBlock(b.Type) {
			out = append(out, b)
		}
	}
	return out
}

func buildReplies(blocks []*Block, in EvalInput) []Reply {
	replies := make([]Reply, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case BlockText:
			text := b.Text
			if strings.TrimSpace(text) == "" {
				text = emptyReplyFallback
			}
			replies = append(replies, Reply{
				Payload: line.NewTextMessage(text),
				Type:    models.MessageTypeText,
				Content: models.JSONMap{"text": text},
			})

		case BlockImage:
			if b.OriginalContentURL == "" {
				slog.Warn("Skipping image reply without content URL", "block_id", b.ID)
				continue
			}
			replies = append(replies, Reply{
				Payload:  line.NewImageMessage(b.OriginalContentURL, b.PreviewImageURL),
				Type:     models.MessageTypeImage,
				Content:  models.JSONMap{},
				MediaURL: b.OriginalContentURL,
			})

		case BlockSticker:
			if b.PackageID == "" || b.StickerID == "" {
				slog.Warn("Skipping sticker reply with incomplete ids", "block_id", b.ID)
				continue
			}
			replies = append(replies, Reply{
				Payload: line.NewStickerMessage(b.PackageID, b.StickerID),
				Type:    models.MessageTypeSticker,
				Content: models.JSONMap{"package_id": b.PackageID, "sticker_id": b.StickerID},
			})

		case BlockFlex:
			contents := resolveFlexPayload(b, in)
			if contents == nil {
				slog.Warn("Skipping flex reply with no resolvable content", "block_id", b.ID)
				continue
			}
			alt := strings.TrimSpace(b.Text)
			if alt == "" {
				alt = "Flex Message"
			}
			replies = append(replies, Reply{
				Payload: line.NewFlexMessage(alt, contents),
				Type:    models.MessageTypeFlex,
				Content: models.JSONMap{"alt_text": alt},
			})
		}
	}
	return replies
}

// resolveFlexPayload prefers the referenced saved design and falls back to
// the block's inline content.
func resolveFlexPayload(b *Block, in EvalInput) map[string]any {
	if b.FlexMessageID != "" && in.ResolveFlex != nil {
		doc, err := in.ResolveFlex(b.FlexMessageID)
		if err != nil {
			slog.Warn("Flex lookup failed, trying inline content", "flex_message_id", b.FlexMessageID, "error", err)
		} else if len(doc) > 0 {
			contents, convErr := ConvertFlexContent(doc)
			if convErr == nil {
				return contents
			}
			slog.Warn("Stored flex content invalid, trying inline content", "flex_message_id", b.FlexMessageID, "error", convErr)
		}
	}

	if len(b.FlexContent) > 0 {
		contents, err := ConvertFlexContent(b.FlexContent)
		if err == nil {
			return contents
		}
		slog.Warn("Inline flex content invalid", "block_id", b.ID, "error", err)
	}
	return nil
}
