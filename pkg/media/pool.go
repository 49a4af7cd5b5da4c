package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/chatbridge/linecore/pkg/config"
	"github.com/chatbridge/linecore/pkg/line"
	"github.com/chatbridge/linecore/pkg/objectstore"
	"github.com/chatbridge/linecore/pkg/services"
)

// reprocessBatchSize bounds how many stalled messages a single reprocess
// request re-enqueues.
const reprocessBatchSize = 100

// Job describes one media fetch: download message content from LINE and
// attach the stored object to the message row.
type Job struct {
	BotID         uuid.UUID
	MessageID     int64
	LineMessageID string
	MessageType   string
	ChannelToken  string
}

// PoolHealth is a point-in-time snapshot of pool activity.
type PoolHealth struct {
	Workers   int    `json:"workers"`
	QueueCap  int    `json:"queue_cap"`
	Queued    int    `json:"queued"`
	InFlight  int    `json:"in_flight"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

// Pool downloads message media in the background so webhook handling never
// waits on LINE's content endpoint. Fetches are bounded per bot so one busy
// channel cannot monopolize the workers.
type Pool struct {
	cfg           *config.MediaConfig
	lineClient    *line.Client
	store         *objectstore.Store
	conversations *services.ConversationService

	jobs     chan Job
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	inFlight  map[uuid.UUID]int
	processed uint64
	failed    uint64
	dropped   uint64
	started   bool
}

// NewPool creates a media fetch pool. Call Start to launch the workers.
func NewPool(cfg *config.MediaConfig, lineClient *line.Client, store *objectstore.Store, conversations *services.ConversationService) *Pool {
	return &Pool{
		cfg:           cfg,
		lineClient:    lineClient,
		store:         store,
		conversations: conversations,
		jobs:          make(chan Job, cfg.QueueSize),
		stopCh:        make(chan struct{}),
		inFlight:      make(map[uuid.UUID]int),
	}
}

// Start launches the fetch workers. Calling Start on a started pool is a
// no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		slog.Warn("Media pool already started")
		return
	}
	p.started = true
	p.mu.Unlock()

	slog.Info("Starting media pool", "workers", p.cfg.Workers, "queue_cap", p.cfg.QueueSize)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

// Stop signals all workers and waits for in-progress fetches to finish.
// Queued jobs are abandoned; they stay eligible for reprocessing.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		slog.Info("Stopping media pool")
		close(p.stopCh)
	})
	p.wg.Wait()
	slog.Info("Media pool stopped")
}

// Submit enqueues one fetch without blocking. Jobs are dropped, with a log
// line, when the queue is full or the bot is already at its in-flight cap.
// Returns true when the job was accepted.
func (p *Pool) Submit(job Job) bool {
	if job.LineMessageID == "" || job.ChannelToken == "" {
		return false
	}

	if !p.acquire(job.BotID) {
		p.countDrop()
		slog.Warn("Bot at media fetch cap, dropping job",
			"bot_id", job.BotID, "line_message_id", job.LineMessageID)
		return false
	}

	select {
	case p.jobs <- job:
		return true
	default:
		p.release(job.BotID)
		p.countDrop()
		slog.Warn("Media queue full, dropping fetch job",
			"bot_id", job.BotID, "line_message_id", job.LineMessageID)
		return false
	}
}

// ReprocessPending re-enqueues fetches for a bot's messages that still have
// no stored media. Returns how many jobs were accepted.
func (p *Pool) ReprocessPending(ctx context.Context, botID uuid.UUID, channelToken string) (int, error) {
	pending, err := p.conversations.ListPendingMedia(ctx, botID, reprocessBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending media: %w", err)
	}

	enqueued := 0
	for _, msg := range pending {
		if msg.LineMessageID == nil {
			continue
		}
		job := Job{
			BotID:         botID,
			MessageID:     msg.ID,
			LineMessageID: *msg.LineMessageID,
			MessageType:   msg.MessageType,
			ChannelToken:  channelToken,
		}
		if p.Submit(job) {
			enqueued++
		}
	}

	slog.Info("Reprocess enqueued pending media", "bot_id", botID, "pending", len(pending), "enqueued", enqueued)
	return enqueued, nil
}

// Health returns a snapshot of pool activity.
func (p *Pool) Health() PoolHealth {
	p.mu.Lock()
	defer p.mu.Unlock()

	inFlight := 0
	for _, n := range p.inFlight {
		inFlight += n
	}
	return PoolHealth{
		Workers:   p.cfg.Workers,
		QueueCap:  p.cfg.QueueSize,
		Queued:    len(p.jobs),
		InFlight:  inFlight,
		Processed: p.processed,
		Failed:    p.failed,
		Dropped:   p.dropped,
	}
}

func (p *Pool) run(ctx context.Context, workerID int) {
	defer p.wg.Done()
	log := slog.With("worker", workerID)
	log.Info("Media worker started")

	for {
		select {
		case <-p.stopCh:
			log.Info("Media worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Media worker context cancelled")
			return
		case job := <-p.jobs:
			p.process(ctx, job)
		}
	}
}

func (p *Pool) process(ctx context.Context, job Job) {
	defer p.release(job.BotID)

	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	if err := p.fetchOne(fetchCtx, job); err != nil {
		p.countFailure()
		slog.Error("Media fetch failed",
			"bot_id", job.BotID,
			"message_id", job.MessageID,
			"line_message_id", job.LineMessageID,
			"error", err)
		return
	}
	p.countSuccess()
}

func (p *Pool) fetchOne(ctx context.Context, job Job) error {
	// A message whose media fields are already set was fetched by an
	// earlier job; skip the download entirely.
	msg, err := p.conversations.GetMessage(ctx, job.MessageID)
	if err != nil {
		return fmt.Errorf("failed to load message: %w", err)
	}
	if msg.MediaPath != nil || msg.MediaURL != nil {
		slog.Info("Media already stored, skipping fetch", "message_id", job.MessageID)
		return nil
	}

	content, err := p.lineClient.GetContent(ctx, job.ChannelToken, job.LineMessageID)
	if err != nil {
		return fmt.Errorf("failed to download content: %w", err)
	}
	defer content.Body.Close()

	path := BuildObjectPath(job.BotID, job.MessageType, content.ContentType)
	if err := p.store.Put(ctx, path, content.Body, content.ContentLength, content.ContentType); err != nil {
		return fmt.Errorf("failed to store content: %w", err)
	}

	patched, err := p.conversations.PatchMedia(ctx, job.MessageID, path, p.store.ProxyURL(path))
	if err != nil {
		return fmt.Errorf("failed to patch media fields: %w", err)
	}
	if !patched {
		// Lost a race with a concurrent fetch; the stored object for the
		// winning job is the one the message references.
		slog.Info("Media fields already set, keeping earlier object", "message_id", job.MessageID)
	}
	return nil
}

func (p *Pool) acquire(botID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[botID] >= p.cfg.PerBotInFlight {
		return false
	}
	p.inFlight[botID]++
	return true
}

func (p *Pool) release(botID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inFlight[botID] <= 1 {
		delete(p.inFlight, botID)
	} else {
		p.inFlight[botID]--
	}
}

func (p *Pool) countSuccess() {
	p.mu.Lock()
	p.processed++
	p.mu.Unlock()
}

func (p *Pool) countFailure() {
	p.mu.Lock()
	p.failed++
	p.mu.Unlock()
}

func (p *Pool) countDrop() {
	p.mu.Lock()
	p.dropped++
	p.mu.Unlock()
}
