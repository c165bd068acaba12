// Copyright 2026 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ingest indexes uploaded documents in the background.
//
// The HTTP layer enqueues a job per uploaded document; a worker pool
// consumes the queue, runs the load-split-embed pipeline and flips the
// document row to indexed or failed. Transient failures are retried
// with exponential backoff, permanent ones fail the document at once.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/axon/pkg/blob"
	"github.com/kadirpekel/axon/pkg/config"
	"github.com/kadirpekel/axon/pkg/databases"
	"github.com/kadirpekel/axon/pkg/kb"
	"github.com/kadirpekel/axon/pkg/observability"
	"github.com/kadirpekel/axon/pkg/rag"
)

// maxErrorMsgLen bounds the error text stored on a failed document.
const maxErrorMsgLen = 2000

// Job outcomes recorded in metrics.
const (
	resultIndexed = "indexed"
	resultRetried = "retried"
	resultFailed  = "failed"
	resultDropped = "dropped"
)

// jobQueue is the queue surface the worker consumes.
type jobQueue interface {
	Dequeue(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	EnqueueDelayed(ctx context.Context, job Job, delay time.Duration) error
	MoveDue(ctx context.Context) (int, error)
	Recover(ctx context.Context) (int, error)
}

var _ jobQueue = (*Queue)(nil)

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Queue      *Queue
	KBService  *kb.Service
	Blobs      blob.Store
	Vectors    *databases.StoreCache
	Collection string
	Config     config.IngestConfig
	Metrics    *observability.Metrics
}

// Worker consumes the ingestion queue and indexes documents.
type Worker struct {
	queue      jobQueue
	kbs        *kb.Service
	blobs      blob.Store
	vectors    *databases.StoreCache
	collection string
	cfg        config.IngestConfig
	metrics    *observability.Metrics
}

// NewWorker validates the options and builds a worker.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if opts.KBService == nil {
		return nil, fmt.Errorf("knowledge base service is required")
	}
	if opts.Blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if opts.Vectors == nil {
		return nil, fmt.Errorf("vector store cache is required")
	}
	if opts.Collection == "" {
		opts.Collection = config.DefaultKBCollection
	}
	opts.Config.SetDefaults()
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ingest config: %w", err)
	}
	return &Worker{
		queue:      opts.Queue,
		kbs:        opts.KBService,
		blobs:      opts.Blobs,
		vectors:    opts.Vectors,
		collection: opts.Collection,
		cfg:        opts.Config,
		metrics:    opts.Metrics,
	}, nil
}

// Run recovers abandoned jobs, then consumes the queue until the
// context is canceled. A job already picked up when the context ends
// still runs to completion so shutdown never strands half-indexed
// documents.
func (w *Worker) Run(ctx context.Context) error {
	if n, err := w.queue.Recover(ctx); err != nil {
		slog.Warn("Failed to recover in-flight ingestion jobs", "error", err)
	} else if n > 0 {
		slog.Info("Recovered in-flight ingestion jobs", "count", n)
	}

	slog.Info("Ingestion worker started", "concurrency", w.cfg.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.runMover(gctx) })
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error { return w.runConsumer(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// runMover periodically promotes due delayed jobs.
func (w *Worker) runMover(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.queue.MoveDue(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("Failed to promote delayed ingestion jobs", "error", err)
			}
		}
	}
}

func (w *Worker) runConsumer(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delivery, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("Failed to dequeue ingestion job", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if delivery == nil {
			continue
		}

		w.handle(ctx, delivery)
	}
}

// handle runs one delivered job under the configured timeouts and acks
// it whatever the outcome; retries travel through the delayed set, not
// through redelivery.
func (w *Worker) handle(ctx context.Context, d *Delivery) {
	start := time.Now()

	// Detach from the consumer context so draining lets the job finish.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.HardTimeout.Duration())
	defer cancel()

	jobCtx, span := observability.GetTracer("axon.ingest").Start(jobCtx, "ingest.job",
		trace.WithAttributes(
			attribute.String("doc_id", d.Job.DocID),
			attribute.Int("attempt", d.Job.Attempt),
		),
	)
	defer span.End()

	softTimer := time.AfterFunc(w.cfg.SoftTimeout.Duration(), func() {
		slog.Warn("Ingestion job exceeding soft timeout",
			"doc_id", d.Job.DocID,
			"attempt", d.Job.Attempt,
			"soft_timeout", w.cfg.SoftTimeout.Duration())
	})
	defer softTimer.Stop()

	result := w.process(jobCtx, d.Job)
	span.SetAttributes(attribute.String("result", result))

	ackCtx, ackCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer ackCancel()
	if err := w.queue.Ack(ackCtx, d); err != nil {
		slog.Warn("Failed to ack ingestion job", "doc_id", d.Job.DocID, "error", err)
	}

	w.metrics.RecordIngestJob(result, time.Since(start).Seconds())
}

// process runs the pipeline for one job and reports the outcome.
func (w *Worker) process(ctx context.Context, job Job) string {
	doc, err := w.kbs.GetDocument(ctx, job.DocID)
	if errors.Is(err, kb.ErrNotFound) {
		// Deleted while queued. Nothing to index, nothing to mark.
		slog.Info("Dropping ingestion job for missing document", "doc_id", job.DocID)
		return resultDropped
	}
	if err != nil {
		return w.retryOrFail(ctx, job, err)
	}

	kbase, err := w.kbs.GetKB(ctx, doc.KBID)
	if errors.Is(err, kb.ErrNotFound) {
		w.markFailed(ctx, job.DocID, fmt.Errorf("knowledge base %s no longer exists", doc.KBID))
		return resultFailed
	}
	if err != nil {
		return w.retryOrFail(ctx, job, err)
	}

	if err := w.index(ctx, doc, kbase); err != nil {
		if isPermanent(err) {
			w.markFailed(ctx, job.DocID, err)
			return resultFailed
		}
		return w.retryOrFail(ctx, job, err)
	}
	return resultIndexed
}

// index runs load, split, embed and store for one document.
func (w *Worker) index(ctx context.Context, doc *kb.Document, kbase *kb.KnowledgeBase) error {
	if err := w.kbs.UpdateDocumentStatus(ctx, doc.ID, kb.StatusProcessing, nil, nil); err != nil {
		return err
	}

	content, err := w.blobs.Get(ctx, doc.FileKey)
	if err != nil {
		return err
	}

	docs, err := rag.LoadBytes(content, doc.FileType, map[string]any{
		"title":     doc.Title,
		"file_type": doc.FileType,
	})
	if err != nil {
		// Loading is deterministic: a file that fails to parse now
		// fails to parse on every retry.
		return permanent(err)
	}

	chunks, err := rag.Split(docs, kbase.ChunkSize, kbase.ChunkOverlap, doc.FileType)
	if err != nil {
		return permanent(err)
	}
	if len(chunks) == 0 {
		return permanent(errors.New("no content extracted from document"))
	}

	vs, err := w.vectors.Get(w.collection, kbase.EmbeddingModel)
	if err != nil {
		return permanent(err)
	}

	// Wipe first so a redelivered or retried job never duplicates chunks.
	if err := vs.DeleteBy(ctx, databases.Filter{"doc_id": doc.ID}); err != nil {
		return err
	}

	ids, err := vs.Upsert(ctx, chunks, doc.KBID, doc.ID, kbase.UserID)
	if err != nil {
		return err
	}

	count := len(ids)
	cleared := ""
	if err := w.kbs.UpdateDocumentStatus(ctx, doc.ID, kb.StatusIndexed, &cleared, &count); err != nil {
		return err
	}

	slog.Info("Document indexed", "doc_id", doc.ID, "kb_id", doc.KBID, "chunks", count)
	return nil
}

// retryOrFail schedules the next attempt, or fails the document when
// attempts are exhausted or the retry cannot be scheduled.
func (w *Worker) retryOrFail(ctx context.Context, job Job, cause error) string {
	next := job.Attempt + 1
	if next >= w.cfg.MaxAttempts {
		slog.Warn("Ingestion attempts exhausted",
			"doc_id", job.DocID, "attempts", w.cfg.MaxAttempts, "error", cause)
		w.markFailed(ctx, job.DocID, cause)
		return resultFailed
	}

	delay := w.cfg.BackoffBase.Duration() << job.Attempt
	if err := w.queue.EnqueueDelayed(ctx, Job{DocID: job.DocID, Attempt: next}, delay); err != nil {
		slog.Error("Failed to schedule ingestion retry", "doc_id", job.DocID, "error", err)
		w.markFailed(ctx, job.DocID, cause)
		return resultFailed
	}

	slog.Warn("Ingestion attempt failed, retrying",
		"doc_id", job.DocID, "attempt", job.Attempt, "retry_in", delay, "error", cause)
	return resultRetried
}

// markFailed flips the document to failed, keeping the stored error
// text within bounds. The document stays in processing during retries;
// failed is terminal until a user retries it explicitly.
func (w *Worker) markFailed(ctx context.Context, docID string, cause error) {
	msg := truncate(cause.Error(), maxErrorMsgLen)
	if err := w.kbs.UpdateDocumentStatus(ctx, docID, kb.StatusFailed, &msg, nil); err != nil {
		slog.Error("Failed to mark document failed", "doc_id", docID, "error", err)
	}
}

// permanentError marks failures retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

func isPermanent(err error) bool {
	var pe *permanentError
	if errors.As(err, &pe) {
		return true
	}
	return errors.Is(err, rag.ErrUnsupportedType) || errors.Is(err, blob.ErrNotFound)
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
