package queue

import "sync"

// retryLedger counts processing attempts per stream message id. Stream
// entries are immutable once appended, so attempt counts live in engine
// state rather than on the wire record.
type retryLedger struct {
	mu       sync.Mutex
	attempts map[string]int
}

func newRetryLedger() *retryLedger {
	return &retryLedger{attempts: make(map[string]int)}
}

// next increments and returns the attempt count for a message id.
func (l *retryLedger) next(messageID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[messageID]++
	return l.attempts[messageID]
}

// count returns the attempts recorded so far without incrementing.
func (l *retryLedger) count(messageID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts[messageID]
}

// clear forgets a message once it is acknowledged.
func (l *retryLedger) clear(messageID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, messageID)
}
