package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type MockCompleter struct {
	// CompleteFunc is called by Complete if set.
	CompleteFunc func(ctx context.Context, prompt string) (string, error)

	mu         sync.Mutex
	callCount  int
	lastPrompt string
}

func NewMockCompleter() *MockCompleter {
	return &MockCompleter{}
}

// Complete returns CompleteFunc's result, or by default echoes the prompt's
// "Question:" line back in the rephrasing format.
func (m *MockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.callCount++
	m.lastPrompt = prompt
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}

	question := ""
	for _, line := range strings.Split(prompt, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Question:"); ok {
			question = strings.TrimSpace(rest)
			break
		}
	}
	return fmt.Sprintf("%q : %q", question, "괜찮아, 고마워, 힘내"), nil
}

func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastPrompt returns the most recent prompt passed to Complete.
func (m *MockCompleter) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPrompt
}

func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.lastPrompt = ""
	m.CompleteFunc = nil
}
