package models

import (
	"time"

	"github.com/google/uuid"
)

// LogicTemplate is a block-editor reaction graph attached to a bot.
// IsActive is stored as the strings "true"/"false"; only exactly "true"
// participates in matching.
type LogicTemplate struct {
	ID          uuid.UUID `db:"id" json:"id"`
	BotID       uuid.UUID `db:"bot_id" json:"bot_id"`
	Name        string    `db:"name" json:"name"`
	IsActive    string    `db:"is_active" json:"is_active"`
	LogicBlocks JSONDoc   `db:"logic_blocks" json:"logic_blocks"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Active reports whether the template participates in webhook matching.
func (t *LogicTemplate) Active() bool {
	return t.IsActive == "true"
}

// FlexMessage is a saved block-editor design referenced from logic blocks
// by id, converted to a LINE bubble at send time.
type FlexMessage struct {
	ID        uuid.UUID `db:"id" json:"id"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	Name      string    `db:"name" json:"name"`
	Content   JSONDoc   `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
