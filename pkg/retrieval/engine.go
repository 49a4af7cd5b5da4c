package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/chatbridge/linecore/pkg/config"
	"github.com/chatbridge/linecore/pkg/llm"
	"github.com/chatbridge/linecore/pkg/models"
	"github.com/chatbridge/linecore/pkg/services"
)

// Intent labels produced by classification.
const (
	IntentChat  = "chat"
	IntentQuery = "query"
)

// classifierHintLimit caps how many document summaries feed the classifier.
const classifierHintLimit = 10

var nonWordPattern = regexp.MustCompile(`\W+`)

// Engine runs the retrieval-augmented answer pipeline: classify intent,
// search the knowledge index in the bot's configured mode, assemble context
// and history, and generate.
type Engine struct {
	cfg           *config.RetrievalConfig
	llmClient     *llm.Client
	knowledge     *services.KnowledgeService
	conversations *services.ConversationService
	reranker      *Reranker
	caches        *cacheSet
	embModel      string
	classifierOn  bool
}

// NewEngine wires the pipeline. Rerank mode stays unavailable until a
// cross-encoder URL is configured.
func NewEngine(cfg *config.RetrievalConfig, llmCfg *config.LLMConfig, llmClient *llm.Client, knowledge *services.KnowledgeService, conversations *services.ConversationService) *Engine {
	var reranker *Reranker
	if cfg.Rerank != nil && cfg.Rerank.URL != "" {
		reranker = NewReranker(cfg.Rerank)
	}

	embModel := ""
	if llmCfg.Embedding != nil {
		embModel = llmCfg.Embedding.Model
	}

	return &Engine{
		cfg:           cfg,
		llmClient:     llmClient,
		knowledge:     knowledge,
		conversations: conversations,
		reranker:      reranker,
		caches:        newCacheSet(cfg.Cache),
		embModel:      embModel,
		classifierOn:  llmCfg.Classifier.On(),
	}
}

// AnswerRequest is one question to answer for a conversation.
type AnswerRequest struct {
	Bot        *models.Bot
	LineUserID string
	Question   string

	// ExcludeMessageID keeps the just-appended user message out of the
	// history block; the question is sent separately.
	ExcludeMessageID int64
}

// AnswerResult carries the generated answer plus pipeline telemetry.
type AnswerResult struct {
	Answer string
	Intent string
	Mode   string
	Chunks int
}

// Answer runs the full pipeline. Retrieval problems degrade to an empty
// context; only generation failures surface as errors.
func (e *Engine) Answer(ctx context.Context, req AnswerRequest) (*AnswerResult, error) {
	intent := e.classifyIntent(ctx, req.Bot, req.Question)
	mode := e.searchMode(req.Bot)

	var results []models.SearchResult
	if intent == IntentQuery {
		var err error
		results, err = e.Retrieve(ctx, req.Bot, req.Question)
		if err != nil {
			slog.Error("Retrieval failed, answering without knowledge context",
				"bot_id", req.Bot.ID, "mode", mode, "error", err)
			results = nil
		}
	}

	answer, err := e.llmClient.Ask(ctx, llm.AskInput{
		Provider:     req.Bot.AIProvider,
		Model:        req.Bot.AIModel,
		SystemPrompt: req.Bot.AISystemPrompt,
		History:      e.history(ctx, req.Bot, req.LineUserID, req.ExcludeMessageID),
		Context:      BuildContext(results),
		Question:     req.Question,
	})
	if err != nil {
		return nil, err
	}

	return &AnswerResult{Answer: answer, Intent: intent, Mode: mode, Chunks: len(results)}, nil
}

// Retrieve searches the knowledge index in the bot's configured mode, with
// the advisory result cache in front.
func (e *Engine) Retrieve(ctx context.Context, bot *models.Bot, query string) ([]models.SearchResult, error) {
	threshold := bot.AIRAGThreshold
	if threshold <= 0 {
		threshold = e.cfg.DefaultThreshold
	}
	k := bot.AIRAGTopK
	if k <= 0 {
		k = e.cfg.DefaultTopK
	}
	mode := e.searchMode(bot)

	key := e.caches.retrievalKey(bot.ID, mode, threshold, k, e.embModel, query)
	if results, ok := e.caches.getRetrieval(key); ok {
		return results, nil
	}

	vec, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	var results []models.SearchResult
	switch mode {
	case models.SearchModeHybrid:
		results, err = e.searchHybrid(ctx, bot, vec, query, threshold, k)
	case models.SearchModeRerank:
		results, err = e.searchRerank(ctx, bot, vec, query, threshold, k)
	default:
		results, err = e.knowledge.SearchVector(ctx, bot.ID, vec, threshold, k)
	}
	if err != nil {
		return nil, err
	}

	e.caches.putRetrieval(key, results)
	return results, nil
}

// InvalidateBot strands cached retrievals after a document soft-delete. A nil
// bot ID means a global document was deleted, which invalidates every bot.
func (e *Engine) InvalidateBot(botID *uuid.UUID) {
	e.caches.invalidate(botID)
}

// NormalizeIntent reduces a raw classifier label to an intent: lowercase,
// strip non-word characters, and treat anything but an exact "chat" as a
// knowledge query.
func NormalizeIntent(label string) string {
	cleaned := nonWordPattern.ReplaceAllString(strings.ToLower(label), "")
	if cleaned == IntentChat {
		return IntentChat
	}
	return IntentQuery
}

func (e *Engine) classifyIntent(ctx context.Context, bot *models.Bot, question string) string {
	if !e.classifierOn {
		return IntentQuery
	}

	summaries, err := e.knowledge.ListSummaries(ctx, bot.ID, classifierHintLimit)
	if err != nil {
		slog.Warn("Failed to load document summaries for classifier", "bot_id", bot.ID, "error", err)
	}
	hints := make([]llm.DocumentHint, 0, len(summaries))
	for _, s := range summaries {
		hints = append(hints, llm.DocumentHint{Title: s.Title, Summary: s.Summary})
	}

	label, err := e.llmClient.Classify(ctx, question, hints)
	if err != nil {
		slog.Warn("Intent classification failed, treating as knowledge query", "bot_id", bot.ID, "error", err)
		return IntentQuery
	}
	return NormalizeIntent(label)
}

// searchMode resolves the bot's search mode, downgrading rerank to vector
// when no cross-encoder is configured.
func (e *Engine) searchMode(bot *models.Bot) string {
	switch bot.AISearchMode {
	case models.SearchModeHybrid:
		return models.SearchModeHybrid
	case models.SearchModeRerank:
		if e.reranker == nil {
			slog.Warn("Rerank mode requested but no reranker configured, using vector search", "bot_id", bot.ID)
			return models.SearchModeVector
		}
		return models.SearchModeRerank
	default:
		return models.SearchModeVector
	}
}

func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	key := embeddingKey(e.embModel, text)
	if vec, ok := e.caches.getEmbedding(key); ok {
		return vec, nil
	}

	vecs, err := e.llmClient.Embed(ctx, e.embModel, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected one embedding, got %d", len(vecs))
	}

	vec := services.CleanEmbedding(vecs[0])
	e.caches.putEmbedding(key, vec)
	return vec, nil
}

// searchHybrid runs the vector and lexical legs in parallel with 2k results
// each and fuses them. A single failed leg degrades to the surviving one.
func (e *Engine) searchHybrid(ctx context.Context, bot *models.Bot, vec []float32, query string, threshold float64, k int) ([]models.SearchResult, error) {
	hybrid := e.cfg.Hybrid
	if hybrid == nil {
		hybrid = &config.HybridConfig{RRFK: 60, VectorWeight: 0.7, LexicalWeight: 0.3}
	}
	legK := 2 * k

	var (
		wg                     sync.WaitGroup
		vecResults, lexResults []models.SearchResult
		vecErr, lexErr         error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		vecResults, vecErr = e.knowledge.SearchVector(ctx, bot.ID, vec, threshold, legK)
	}()
	go func() {
		defer wg.Done()
		lexResults, lexErr = e.knowledge.SearchLexical(ctx, bot.ID, query, legK)
	}()
	wg.Wait()

	if vecErr != nil && lexErr != nil {
		return nil, fmt.Errorf("both search legs failed: %w (lexical: %v)", vecErr, lexErr)
	}
	if vecErr != nil {
		slog.Warn("Vector leg failed, fusing lexical results only", "bot_id", bot.ID, "error", vecErr)
		vecResults = nil
	}
	if lexErr != nil {
		slog.Warn("Lexical leg failed, fusing vector results only", "bot_id", bot.ID, "error", lexErr)
		lexResults = nil
	}

	return fuseRRF(vecResults, lexResults, hybrid, k), nil
}

// searchRerank fetches initial_k vector candidates and reorders them by
// cross-encoder score. Scoring failures keep the vector order.
func (e *Engine) searchRerank(ctx context.Context, bot *models.Bot, vec []float32, query string, threshold float64, k int) ([]models.SearchResult, error) {
	initialK := bot.AIRerankInitialK
	if initialK <= 0 && e.cfg.Rerank != nil {
		initialK = e.cfg.Rerank.InitialK
	}
	if initialK <= 0 {
		initialK = 20
	}
	if initialK < k {
		initialK = k
	}

	candidates, err := e.knowledge.SearchVector(ctx, bot.ID, vec, threshold, initialK)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}

	scores, err := e.reranker.Score(ctx, query, docs)
	if err != nil {
		slog.Warn("Rerank scoring failed, keeping vector order", "bot_id", bot.ID, "error", err)
		return capResults(candidates, k), nil
	}

	blend := e.cfg.Rerank != nil && e.cfg.Rerank.BlendScores
	return rankByScores(candidates, scores, blend, k), nil
}

// history maps the last N conversation messages into transcript turns,
// bot messages as assistant and everything else as user. Only text content
// participates.
func (e *Engine) history(ctx context.Context, bot *models.Bot, lineUserID string, excludeID int64) []llm.Turn {
	n := bot.AIHistoryMessages
	if n <= 0 || lineUserID == "" {
		return nil
	}

	msgs, err := e.conversations.RecentMessages(ctx, bot.ID, lineUserID, n+1)
	if err != nil {
		slog.Warn("Failed to load conversation history", "bot_id", bot.ID, "error", err)
		return nil
	}

	turns := make([]llm.Turn, 0, len(msgs))
	for _, m := range msgs {
		if excludeID != 0 && m.ID == excludeID {
			continue
		}
		text, _ := m.Content["text"].(string)
		if text == "" {
			continue
		}
		role := llm.RoleUser
		if m.SenderType == models.SenderBot {
			role = llm.RoleAssistant
		}
		turns = append(turns, llm.Turn{Role: role, Content: text})
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns
}
