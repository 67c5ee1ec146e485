// Package memory holds the bounded conversation history of a chat session.
package memory

import "sync"

// Exchange is one question and the response given to it.
type Exchange struct {
	Question string `json:"question"`
	Response string `json:"response"`
}

// Window keeps the most recent exchanges up to a fixed capacity, oldest
// first. Appending to a full window evicts the oldest exchange.
type Window struct {
	mu        sync.RWMutex
	capacity  int
	exchanges []Exchange
}

func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{capacity: capacity, exchanges: make([]Exchange, 0, capacity)}
}

func (w *Window) Append(question, response string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.exchanges) == w.capacity {
		copy(w.exchanges, w.exchanges[1:])
		w.exchanges = w.exchanges[:len(w.exchanges)-1]
	}
	w.exchanges = append(w.exchanges, Exchange{Question: question, Response: response})
}

// LoadAll returns a copy of the exchanges, oldest to newest.
func (w *Window) LoadAll() []Exchange {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Exchange, len(w.exchanges))
	copy(out, w.exchanges)
	return out
}

// Reset empties the window, keeping seed as its only exchange when given.
// Capacity is unchanged.
func (w *Window) Reset(seed *Exchange) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.exchanges = w.exchanges[:0]
	if seed != nil {
		w.exchanges = append(w.exchanges, *seed)
	}
}

// Last returns the most recent exchange.
func (w *Window) Last() (Exchange, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.exchanges) == 0 {
		return Exchange{}, false
	}
	return w.exchanges[len(w.exchanges)-1], true
}

func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.exchanges)
}

func (w *Window) Capacity() int {
	return w.capacity
}
