package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/config"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/models"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/service/ai"
	"github.com/KushiTirumala/Aria-Sales-Analyst/internal/service/ingest"
)

const rejectedWarning = "Some files were skipped due to unsupported format"

const (
	eventUpdate = "update"
	eventReset  = "reset"
)

// Analyst performs the two outbound calls of a session.
type Analyst interface {
	BatchAnalyze(ctx context.Context, files []models.AnalysisFile) (string, error)
	ContinueChat(ctx context.Context, prior []models.ChatTurn, userText, fileContext string) (string, error)
}

type pendingEntry struct {
	id       uint64
	file     models.RawFile
	attempts int
}

// Options tune a Controller.
type Options struct {
	MaxChars int
	// Extraction goroutines per batch.
	Workers int
}

// QueueResult reports which uploads were queued and which were dropped.
type QueueResult struct {
	Accepted []string `json:"accepted"`
	Rejected []string `json:"rejected,omitempty"`
}

// Controller owns one session's state. Every mutation goes through its
// methods; the busy flag admits one extraction or service call at a time.
type Controller struct {
	id        string
	extractor *ingest.Extractor
	analyst   Analyst
	opts      Options
	observer  func(event string, snap models.Snapshot)
	now       func() time.Time

	mu         sync.Mutex
	transcript []models.ChatTurn
	analyzed   []models.FileRecord
	pending    []pendingEntry
	nextID     uint64
	lastError  string
	warnings   []string
	busy       models.BusyState
	updatedAt  time.Time
}

func NewController(id string, extractor *ingest.Extractor, analyst Analyst, opts Options) *Controller {
	if opts.MaxChars <= 0 {
		opts.MaxChars = config.DefaultMaxChars
	}
	if opts.Workers <= 0 {
		opts.Workers = config.DefaultExtractorWorkers
	}
	if extractor == nil {
		extractor = ingest.NewExtractor()
	}
	return &Controller{
		id:        id,
		extractor: extractor,
		analyst:   analyst,
		opts:      opts,
		now:       time.Now,
		updatedAt: time.Now(),
	}
}

func (c *Controller) ID() string {
	return c.id
}

// QueueFiles appends supported files to the pending queue in input order.
// Unsupported ones are dropped and reported through a transient warning.
func (c *Controller) QueueFiles(files []models.RawFile) QueueResult {
	var res QueueResult
	c.mu.Lock()
	c.warnings = nil
	for _, f := range files {
		if _, err := ingest.Detect(f.Name); err != nil {
			res.Rejected = append(res.Rejected, f.Name)
			continue
		}
		if f.SizeBytes == 0 {
			f.SizeBytes = int64(len(f.Bytes))
		}
		c.nextID++
		c.pending = append(c.pending, pendingEntry{id: c.nextID, file: f})
		res.Accepted = append(res.Accepted, f.Name)
	}
	if len(res.Rejected) > 0 {
		c.warnings = []string{fmt.Sprintf("%s: %s", rejectedWarning, strings.Join(res.Rejected, ", "))}
	}
	c.touch()
	c.mu.Unlock()

	debugLog("session %s queued=%d rejected=%d", c.id, len(res.Accepted), len(res.Rejected))
	c.notify()
	return res
}

// RemovePending drops the pending file at index. Out of range is a no-op.
func (c *Controller) RemovePending(index int) {
	c.mu.Lock()
	c.warnings = nil
	if index < 0 || index >= len(c.pending) {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending[:index:index], c.pending[index+1:]...)
	c.touch()
	c.mu.Unlock()
	c.notify()
}

// RunAnalysis extracts every pending file, sends them as one batch and
// records the reply. The batch is all-or-nothing: on any failure the pending
// queue is left as it was.
func (c *Controller) RunAnalysis(ctx context.Context) (string, error) {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return "", ErrEmptyInput
	}
	if c.busy != models.Idle {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.busy = models.ExtractingFiles
	c.warnings = nil
	batch := append([]pendingEntry(nil), c.pending...)
	c.mu.Unlock()
	debugLog("session %s extracting %d file(s)", c.id, len(batch))

	prepared, err := c.extractAll(ctx, batch)
	if err != nil {
		c.fail(err, models.RoleSystem, ai.BatchFailureText, nil)
		return "", err
	}

	names := make([]string, len(prepared))
	files := make([]models.AnalysisFile, len(prepared))
	for i, p := range prepared {
		names[i] = p.File.Name
		files[i] = p.AnalysisFile()
	}

	c.mu.Lock()
	c.busy = models.AwaitingService
	c.appendTurn(models.RoleSystem, ai.AnalyzedSummary(names))
	c.mu.Unlock()
	debugLog("session %s awaiting batch reply", c.id)

	reply, err := c.analyst.BatchAnalyze(ctx, files)
	if err != nil {
		c.fail(err, models.RoleSystem, ai.BatchFailureText, batch)
		return "", err
	}

	processed := make(map[uint64]struct{}, len(batch))
	for _, e := range batch {
		processed[e.id] = struct{}{}
	}
	c.mu.Lock()
	c.appendTurn(models.RoleAssistant, reply)
	for _, p := range prepared {
		c.analyzed = append(c.analyzed, p.Record())
	}
	kept := c.pending[:0:0]
	for _, e := range c.pending {
		if _, done := processed[e.id]; !done {
			kept = append(kept, e)
		}
	}
	c.pending = kept
	c.lastError = ""
	c.busy = models.Idle
	c.touch()
	c.mu.Unlock()

	debugLog("session %s analyzed %d file(s)", c.id, len(prepared))
	c.notify()
	return reply, nil
}

func (c *Controller) extractAll(ctx context.Context, batch []pendingEntry) ([]ingest.Prepared, error) {
	prepared := make([]ingest.Prepared, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, entry := range batch {
		g.Go(func() error {
			p, err := c.extractor.Prepare(gctx, entry.file, c.opts.MaxChars)
			if err != nil {
				return err
			}
			prepared[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return prepared, nil
}

// SendMessage records a user turn and the reply to it. A failed call is
// rendered as an assistant turn so the conversation stays readable.
func (c *Controller) SendMessage(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyInput
	}
	c.mu.Lock()
	if c.busy != models.Idle {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.warnings = nil
	prior := append([]models.ChatTurn(nil), c.transcript...)
	fileContext := ai.FileContext(c.analyzed)
	c.appendTurn(models.RoleUser, text)
	c.busy = models.AwaitingService
	c.mu.Unlock()
	c.notify()

	reply, err := c.analyst.ContinueChat(ctx, prior, text, fileContext)
	if err != nil {
		c.fail(err, models.RoleAssistant, ai.ChatFailureText, nil)
		return "", err
	}

	c.mu.Lock()
	c.appendTurn(models.RoleAssistant, reply)
	c.lastError = ""
	c.busy = models.Idle
	c.touch()
	c.mu.Unlock()
	c.notify()
	return reply, nil
}

// Reset clears the session. It is refused while an operation is in flight.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.busy != models.Idle {
		c.mu.Unlock()
		return ErrBusy
	}
	c.transcript = nil
	c.analyzed = nil
	c.pending = nil
	c.lastError = ""
	c.warnings = nil
	c.touch()
	c.mu.Unlock()

	debugLog("session %s reset", c.id)
	c.notifyEvent(eventReset)
	return nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() models.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() models.Snapshot {
	pending := make([]models.PendingFile, len(c.pending))
	for i, e := range c.pending {
		pending[i] = models.PendingFile{Name: e.file.Name, SizeBytes: e.file.SizeBytes, Attempts: e.attempts}
	}
	return models.Snapshot{
		ID:            c.id,
		Transcript:    append([]models.ChatTurn{}, c.transcript...),
		AnalyzedFiles: append([]models.FileRecord{}, c.analyzed...),
		PendingFiles:  pending,
		LastError:     c.lastError,
		Warnings:      append([]string(nil), c.warnings...),
		Busy:          c.busy,
		UpdatedAt:     c.updatedAt,
	}
}

// restore loads a cached transcript and analyzed files into an empty controller.
func (c *Controller) restore(snap models.Snapshot) {
	c.mu.Lock()
	c.transcript = append([]models.ChatTurn(nil), snap.Transcript...)
	c.analyzed = append([]models.FileRecord(nil), snap.AnalyzedFiles...)
	c.lastError = snap.LastError
	if !snap.UpdatedAt.IsZero() {
		c.updatedAt = snap.UpdatedAt
	}
	c.mu.Unlock()
}

// fail records err at an operation boundary and returns the session to Idle.
// presented entries get their attempt counter bumped.
func (c *Controller) fail(err error, role models.Role, render func(string) string, presented []pendingEntry) {
	msg := failureMessage(err)
	ids := make(map[uint64]struct{}, len(presented))
	for _, e := range presented {
		ids[e.id] = struct{}{}
	}
	c.mu.Lock()
	c.appendTurn(role, render(msg))
	c.lastError = msg
	for i := range c.pending {
		if _, ok := ids[c.pending[i].id]; ok {
			c.pending[i].attempts++
		}
	}
	c.busy = models.Idle
	c.touch()
	c.mu.Unlock()

	log.Printf("session %s operation failed: %v", c.id, err)
	c.notify()
}

func failureMessage(err error) string {
	var svcErr *ai.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	return err.Error()
}

func (c *Controller) appendTurn(role models.Role, content string) {
	c.transcript = append(c.transcript, models.ChatTurn{Role: role, Content: content, CreatedAt: c.now()})
	c.touch()
}

func (c *Controller) touch() {
	c.updatedAt = c.now()
}

func (c *Controller) notify() {
	c.notifyEvent(eventUpdate)
}

func (c *Controller) notifyEvent(event string) {
	if c.observer == nil {
		return
	}
	c.observer(event, c.Snapshot())
}
