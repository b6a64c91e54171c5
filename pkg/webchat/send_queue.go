package webchat

import (
	"sync"
	"time"
)

const (
	requestRunning   = "running"
	requestCompleted = "completed"

	// completedRequestTTL bounds how long a finished request can be replayed.
	completedRequestTTL = 10 * time.Minute
	maxRequestRecords   = 256
)

// chatRequestRecord remembers the outcome of an idempotent chat request so a
// retried POST replays the stored response instead of appending the prompt
// again.
type chatRequestRecord struct {
	IdempotencyKey string
	Status         string // running|completed

	StartedAt   time.Time
	CompletedAt time.Time

	HTTPStatus int
	Response   any
}

type requestLog struct {
	mu      sync.Mutex
	records map[string]*chatRequestRecord
}

// begin claims key for a new request. When key was seen before it returns the
// existing record and false.
func (l *requestLog) begin(key string, now time.Time) (*chatRequestRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.records == nil {
		l.records = map[string]*chatRequestRecord{}
	}
	l.pruneLocked(now)
	if rec, ok := l.records[key]; ok {
		cp := *rec
		return &cp, false
	}
	l.records[key] = &chatRequestRecord{IdempotencyKey: key, Status: requestRunning, StartedAt: now}
	return nil, true
}

func (l *requestLog) complete(key string, status int, response any, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok {
		return
	}
	rec.Status = requestCompleted
	rec.CompletedAt = now
	rec.HTTPStatus = status
	rec.Response = response
}

// forget drops key so the request can be retried, e.g. after an aborted answer.
func (l *requestLog) forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, key)
}

// pruneLocked drops completed records older than completedRequestTTL and,
// while the log is still full, the oldest completed ones. Running records are
// kept.
func (l *requestLog) pruneLocked(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for key, rec := range l.records {
		if rec.Status != requestCompleted {
			continue
		}
		if now.Sub(rec.CompletedAt) > completedRequestTTL {
			delete(l.records, key)
			continue
		}
		if oldestKey == "" || rec.CompletedAt.Before(oldest) {
			oldestKey, oldest = key, rec.CompletedAt
		}
	}
	for len(l.records) >= maxRequestRecords && oldestKey != "" {
		delete(l.records, oldestKey)
		oldestKey = ""
		for key, rec := range l.records {
			if rec.Status == requestCompleted && (oldestKey == "" || rec.CompletedAt.Before(oldest)) {
				oldestKey, oldest = key, rec.CompletedAt
			}
		}
	}
}

func (l *requestLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
