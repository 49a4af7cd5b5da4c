package media

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// kindDirs maps a message type onto its object store directory.
var kindDirs = map[string]string{
	"image": "img",
	"video": "video",
	"audio": "audio",
}

// extensions maps common LINE content types onto file extensions.
var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"video/mp4":  "mp4",
	"video/mpeg": "mpeg",
	"audio/mp4":  "m4a",
	"audio/x-m4a": "m4a",
	"audio/aac":  "aac",
	"audio/mpeg": "mp3",
	"audio/ogg":  "ogg",
	"audio/wav":  "wav",
}

// fallbackExts covers content types LINE does not declare precisely.
var fallbackExts = map[string]string{
	"image": "jpg",
	"video": "mp4",
	"audio": "m4a",
}

// BuildObjectPath derives the object store key for one piece of media:
// {bot_id}/{img|video|audio}/{uuid}.{ext}. A nil bot ID scopes the object
// under "global".
func BuildObjectPath(botID uuid.UUID, messageType, contentType string) string {
	scope := "global"
	if botID != uuid.Nil {
		scope = botID.String()
	}

	dir, ok := kindDirs[messageType]
	if !ok {
		dir = "file"
	}

	return fmt.Sprintf("%s/%s/%s.%s", scope, dir, uuid.New().String(), extensionFor(messageType, contentType))
}

func extensionFor(messageType, contentType string) string {
	base := contentType
	if i := strings.Index(base, ";"); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSpace(strings.ToLower(base))

	if ext, ok := extensions[base]; ok {
		return ext
	}
	if ext, ok := fallbackExts[messageType]; ok {
		return ext
	}
	return "bin"
}
