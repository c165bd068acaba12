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

package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kadirpekel/axon/pkg/config"
	"github.com/kadirpekel/axon/pkg/kb"
)

// Job is one unit of ingestion work: index the document with this ID.
// Attempt counts prior failures so retries can back off exponentially.
type Job struct {
	DocID   string `json:"doc_id"`
	Attempt int    `json:"attempt"`
}

// Delivery is a dequeued job plus the raw payload needed to ack it.
type Delivery struct {
	Job     Job
	payload string
}

// Queue is a reliable Redis work queue for ingestion jobs.
//
// Jobs wait in a pending list and move atomically onto a processing
// list while a worker holds them, so a crash mid-job leaves the payload
// recoverable instead of lost. Delayed retries sit in a sorted set
// scored by their ready time until MoveDue promotes them back to
// pending.
type Queue struct {
	client     *redis.Client
	pending    string
	processing string
	delayed    string
	block      time.Duration
}

var _ kb.Enqueuer = (*Queue)(nil)

// NewClient builds a Redis client from the configuration. The client
// connects lazily on first use.
func NewClient(cfg config.RedisConfig) *redis.Client {
	cfg.SetDefaults()
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewQueue builds a queue whose keys are namespaced by the prefix.
func NewQueue(client *redis.Client, keyPrefix string) (*Queue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = "axon"
	}
	return &Queue{
		client:     client,
		pending:    keyPrefix + ":ingest:pending",
		processing: keyPrefix + ":ingest:processing",
		delayed:    keyPrefix + ":ingest:delayed",
		block:      5 * time.Second,
	}, nil
}

// Enqueue schedules a first-attempt job for the document.
func (q *Queue) Enqueue(ctx context.Context, docID string) error {
	return q.push(ctx, Job{DocID: docID})
}

func (q *Queue) push(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.pending, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// EnqueueDelayed schedules a job to become pending after the delay.
func (q *Queue) EnqueueDelayed(ctx context.Context, job Job, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	readyAt := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, q.delayed, redis.Z{Score: readyAt, Member: payload}).Err(); err != nil {
		return fmt.Errorf("failed to schedule delayed job: %w", err)
	}
	return nil
}

// Dequeue blocks until a job is available or the block interval passes,
// moving the payload onto the processing list. An empty poll returns
// (nil, nil) so callers can recheck their context between waits.
func (q *Queue) Dequeue(ctx context.Context) (*Delivery, error) {
	payload, err := q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", q.block).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		// An unparsable payload must not wedge the processing list.
		_ = q.client.LRem(ctx, q.processing, 1, payload).Err()
		return nil, fmt.Errorf("failed to decode job payload: %w", err)
	}
	return &Delivery{Job: job, payload: payload}, nil
}

// Ack removes a delivered payload from the processing list.
func (q *Queue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.client.LRem(ctx, q.processing, 1, d.payload).Err(); err != nil {
		return fmt.Errorf("failed to ack job: %w", err)
	}
	return nil
}

// MoveDue promotes delayed jobs whose ready time has passed and reports
// how many it moved. The ZRem result guards the promotion: whichever
// mover removes the member owns it, so concurrent movers never promote
// the same payload twice.
func (q *Queue) MoveDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	payloads, err := q.client.ZRangeByScore(ctx, q.delayed, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed jobs: %w", err)
	}

	moved := 0
	for _, payload := range payloads {
		removed, err := q.client.ZRem(ctx, q.delayed, payload).Result()
		if err != nil {
			return moved, fmt.Errorf("failed to claim delayed job: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.pending, payload).Err(); err != nil {
			return moved, fmt.Errorf("failed to promote delayed job: %w", err)
		}
		moved++
	}
	return moved, nil
}

// Recover moves leftover processing payloads back to pending. Call it
// once at worker start, before any consumer runs, to reclaim jobs a
// previous process abandoned mid-flight.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.pending, "RIGHT", "LEFT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover in-flight job: %w", err)
		}
		moved++
	}
}
