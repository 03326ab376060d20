// Package history stores per-run step transcripts in Redis with a bounded
// local cache. The orchestrator appends one entry per role exchange and reads
// the recent window back when assembling context for the next invocation.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrTranscriptNotFound is returned when a run has no stored transcript.
var ErrTranscriptNotFound = errors.New("transcript not found")

// Message is one entry in a run transcript.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user", "planner", "navigator", "validator"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Tokens    int       `json:"tokens,omitempty"`
}

// Transcript is the ordered message log for one run.
type Transcript struct {
	RunID       string    `json:"run_id"`
	Task        string    `json:"task"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Messages    []Message `json:"messages"`
	TotalTokens int       `json:"total_tokens"`
}

// Store persists transcripts in Redis with a TTL, keeping a bounded local
// cache for read performance.
type Store struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration

	mu          sync.RWMutex
	localCache  map[string]*Transcript
	cacheAccess map[string]time.Time
	maxCached   int
}

// NewStore connects to Redis and returns a transcript store.
func NewStore(client *redis.Client, logger *zap.Logger) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Store{
		client:      client,
		logger:      logger,
		ttl:         24 * time.Hour,
		localCache:  make(map[string]*Transcript),
		cacheAccess: make(map[string]time.Time),
		maxCached:   1024,
	}, nil
}

// Create initializes an empty transcript for a run.
func (s *Store) Create(ctx context.Context, runID, task string) (*Transcript, error) {
	now := time.Now()
	tr := &Transcript{
		RunID:     runID,
		Task:      task,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]Message, 0),
	}
	if err := s.save(ctx, tr); err != nil {
		return nil, fmt.Errorf("failed to save transcript: %w", err)
	}

	s.mu.Lock()
	s.localCache[runID] = tr
	s.cacheAccess[runID] = now
	s.pruneLocked()
	s.mu.Unlock()

	s.logger.Debug("transcript created", zap.String("run_id", runID))
	return tr, nil
}

// Append adds a message to a run's transcript and persists it. The cached
// transcript is replaced rather than mutated, so copies handed out by Get
// stay stable.
func (s *Store) Append(ctx context.Context, runID, role, content string, tokens int) error {
	cur, err := s.load(ctx, runID)
	if err != nil {
		return err
	}

	tr := cur.clone()
	tr.Messages = append(tr.Messages, Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Tokens:    tokens,
	})
	tr.TotalTokens += tokens
	tr.UpdatedAt = time.Now()

	if err := s.save(ctx, tr); err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}

	s.mu.Lock()
	s.localCache[runID] = tr
	s.cacheAccess[runID] = time.Now()
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the transcript for a run, preferring the local
// cache. Callers may mutate the result freely.
func (s *Store) Get(ctx context.Context, runID string) (*Transcript, error) {
	tr, err := s.load(ctx, runID)
	if err != nil {
		return nil, err
	}
	return tr.clone(), nil
}

// load returns the shared cached transcript; callers must not mutate it.
func (s *Store) load(ctx context.Context, runID string) (*Transcript, error) {
	s.mu.RLock()
	if tr, ok := s.localCache[runID]; ok {
		s.mu.RUnlock()
		s.mu.Lock()
		s.cacheAccess[runID] = time.Now()
		s.mu.Unlock()
		return tr, nil
	}
	s.mu.RUnlock()

	data, err := s.client.Get(ctx, s.key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTranscriptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}

	var tr Transcript
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}

	s.mu.Lock()
	s.localCache[runID] = &tr
	s.cacheAccess[runID] = time.Now()
	s.pruneLocked()
	s.mu.Unlock()
	return &tr, nil
}

// Recent returns up to n most recent messages for a run, oldest first.
func (s *Store) Recent(ctx context.Context, runID string, n int) ([]Message, error) {
	tr, err := s.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if n <= 0 || n >= len(tr.Messages) {
		return tr.Messages, nil
	}
	return tr.Messages[len(tr.Messages)-n:], nil
}

// Delete removes a run's transcript from Redis and the local cache.
func (s *Store) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	delete(s.localCache, runID)
	delete(s.cacheAccess, runID)
	s.mu.Unlock()

	if err := s.client.Del(ctx, s.key(runID)).Err(); err != nil {
		return fmt.Errorf("failed to delete transcript: %w", err)
	}
	return nil
}

func (s *Store) save(ctx context.Context, tr *Transcript) error {
	data, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	return s.client.Set(ctx, s.key(tr.RunID), data, s.ttl).Err()
}

func (s *Store) key(runID string) string {
	return "taskpilot:transcript:" + runID
}

// clone copies the transcript including its message slice.
func (tr *Transcript) clone() *Transcript {
	cp := *tr
	cp.Messages = append([]Message(nil), tr.Messages...)
	return &cp
}

// pruneLocked evicts the least recently accessed transcripts beyond
// maxCached. Caller holds s.mu.
func (s *Store) pruneLocked() {
	for len(s.localCache) > s.maxCached {
		var oldest string
		var oldestAt time.Time
		for id, at := range s.cacheAccess {
			if oldest == "" || at.Before(oldestAt) {
				oldest = id
				oldestAt = at
			}
		}
		delete(s.localCache, oldest)
		delete(s.cacheAccess, oldest)
	}
}
