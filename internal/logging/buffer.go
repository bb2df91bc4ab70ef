package logging

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBufferSize is the number of log lines kept per user
const DefaultBufferSize = 50

// BufferedEntry is a log line retained for a user's session view
type BufferedEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Level     string    `json:"level"`
	Symbol    string    `json:"symbol,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Buffer keeps a bounded, newest-first log history per user id.
// The surrounding application reads it to show a session's recent activity;
// it is not a durable store.
type Buffer struct {
	mu      sync.RWMutex
	size    int
	entries map[string][]BufferedEntry
}

// NewBuffer creates a per-user log buffer keeping size entries per user
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{
		size:    size,
		entries: make(map[string][]BufferedEntry),
	}
}

// Append adds a line for a user, evicting the oldest beyond the size limit
func (b *Buffer) Append(userID, message string, level Level, symbol string) {
	entry := BufferedEntry{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		Level:     level.String(),
		Symbol:    symbol,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	lines := append([]BufferedEntry{entry}, b.entries[userID]...)
	if len(lines) > b.size {
		lines = lines[:b.size]
	}
	b.entries[userID] = lines
}

// Entries returns the newest-first log lines for a user
func (b *Buffer) Entries(userID string) []BufferedEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lines := b.entries[userID]
	out := make([]BufferedEntry, len(lines))
	copy(out, lines)
	return out
}

// Clear drops all retained lines for a user
func (b *Buffer) Clear(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, userID)
}
