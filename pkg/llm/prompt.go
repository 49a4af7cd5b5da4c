package llm

import (
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Answers render inside LINE chat bubbles, which display raw text. The base
// prompt bans Markdown and steers emphasis toward fullwidth punctuation.
const baseSystemPrompt = `你是一個透過 LINE 與使用者對話的智慧客服助理。請遵守以下規則：
1. 回答一律使用純文字。不要使用任何 Markdown 語法：不要粗體或斜體標記、不要程式碼區塊、不要標題符號、也不要條列符號。
2. 需要強調詞語時，改用全形括號「」；需要列舉多個項目時，以全形中點・分隔。
3. 回答請簡潔明確，適合在聊天視窗中閱讀。
4. 如果提供了知識內容，請優先依據知識內容回答；知識內容未涵蓋的部分，請誠實說明不確定。`

const (
	historyHeader   = "以下是先前的對話紀錄，僅供理解上下文之用："
	knowledgeHeader = "以下是與問題相關的知識內容："
)

const (
	// RoleUser and RoleAssistant label history turns.
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior message in the conversation transcript.
type Turn struct {
	Role    string
	Content string
}

// AskInput carries everything one generation call needs. Provider and Model
// fall back to configured defaults when empty.
type AskInput struct {
	Provider     string
	Model        string
	SystemPrompt string // per-bot instructions appended to the base prompt
	History      []Turn
	Context      string // assembled knowledge excerpts, empty when none
	Question     string
	MaxTokens    int // 0 derives from the model's token ceiling
}

// DocumentHint is one knowledge document shown to the intent classifier so it
// can judge whether a question touches the knowledge base.
type DocumentHint struct {
	Title   string
	Summary string
}

// BuildMessages assembles the provider message list: one system message, then
// optional history and knowledge blocks as plainly labelled user messages,
// then the question itself.
func BuildMessages(in AskInput) []openai.ChatCompletionMessage {
	system := baseSystemPrompt
	if prompt := strings.TrimSpace(in.SystemPrompt); prompt != "" {
		system = system + "\n\n" + prompt
	}

	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}

	if len(in.History) > 0 {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: historyBlock(in.History),
		})
	}
	if ctx := strings.TrimSpace(in.Context); ctx != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: knowledgeHeader + "\n\n" + ctx,
		})
	}

	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: in.Question,
	})
	return msgs
}

func historyBlock(history []Turn) string {
	var b strings.Builder
	b.WriteString(historyHeader)
	b.WriteString("\n")
	for _, t := range history {
		role := RoleUser
		if t.Role == RoleAssistant {
			role = RoleAssistant
		}
		fmt.Fprintf(&b, "\n%s: %s", role, t.Content)
	}
	return b.String()
}

// buildClassifierPrompt asks for a one-word intent label. The document hints
// let the model judge whether the question is on-topic for the knowledge base.
func buildClassifierPrompt(question string, hints []DocumentHint) string {
	var b strings.Builder
	b.WriteString("你是一個意圖分類器。請判斷使用者的訊息是「閒聊」還是「需要查詢知識庫才能回答的問題」。\n")

	if len(hints) > 0 {
		b.WriteString("\n知識庫包含以下文件：\n")
		for _, h := range hints {
			if h.Summary != "" {
				fmt.Fprintf(&b, "- %s：%s\n", h.Title, h.Summary)
			} else {
				fmt.Fprintf(&b, "- %s\n", h.Title)
			}
		}
	}

	fmt.Fprintf(&b, "\n使用者訊息：%s\n", question)
	b.WriteString("\n只回答一個英文單字：chat（閒聊）或 query（需要查詢知識庫）。")
	return b.String()
}

// completionTokens resolves the max_tokens for a request: an explicit request
// is capped at the model ceiling; otherwise 80% of the ceiling with a floor
// of 2048.
func completionTokens(requested, modelMax int) int {
	if modelMax <= 0 {
		modelMax = 4096
	}
	if requested > 0 {
		if requested > modelMax {
			return modelMax
		}
		return requested
	}
	n := modelMax * 80 / 100
	if n < 2048 {
		n = 2048
	}
	if n > modelMax {
		n = modelMax
	}
	return n
}
