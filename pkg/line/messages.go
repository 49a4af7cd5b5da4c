package line

// Message is one outbound LINE message object. Shapes follow the Messaging
// API wire format: {"type":"text","text":...}, {"type":"flex",...} and so on.
// Flex containers are arbitrary JSON, so messages stay maps instead of
// structs.
type Message map[string]any

// NewTextMessage builds a text message.
func NewTextMessage(text string) Message {
	return Message{"type": "text", "text": text}
}

// NewStickerMessage builds a sticker message.
func NewStickerMessage(packageID, stickerID string) Message {
	return Message{"type": "sticker", "packageId": packageID, "stickerId": stickerID}
}

// NewImageMessage builds an image message from publicly reachable URLs.
// LINE requires both URLs; the preview falls back to the original.
func NewImageMessage(originalURL, previewURL string) Message {
	if previewURL == "" {
		previewURL = originalURL
	}
	return Message{
		"type":               "image",
		"originalContentUrl": originalURL,
		"previewImageUrl":    previewURL,
	}
}

// NewFlexMessage wraps a flex container with its alt text.
func NewFlexMessage(altText string, contents map[string]any) Message {
	if altText == "" {
		altText = "Flex Message"
	}
	return Message{"type": "flex", "altText": altText, "contents": contents}
}
