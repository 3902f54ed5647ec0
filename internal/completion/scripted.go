package completion

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Scripted is a deterministic in-process client. It serves two roles:
// the test fake for everything above the completion layer, and the
// default provider so a fresh install works with no credentials.
//
// Responses queued with Enqueue are returned in order. When the queue
// is empty, Complete falls back to substring rules registered with
// Respond, and finally to a generic stub derived from the prompt.
type Scripted struct {
	mu    sync.Mutex
	queue []string
	rules []scriptRule
	calls []Request
	err   error
}

type scriptRule struct {
	substr   string
	response string
}

// NewScripted returns a client that replays responses in order.
func NewScripted(responses ...string) *Scripted {
	return &Scripted{queue: append([]string(nil), responses...)}
}

// Enqueue appends responses to the replay queue.
func (s *Scripted) Enqueue(responses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, responses...)
}

// Respond registers a fallback rule: prompts containing substr get
// response. Rules are checked in registration order after the queue
// is exhausted.
func (s *Scripted) Respond(substr, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, scriptRule{substr: substr, response: response})
}

// Fail makes every subsequent Complete return err until cleared with
// Fail(nil).
func (s *Scripted) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns a copy of every request seen so far.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// Complete implements Client.
func (s *Scripted) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	if s.err != nil {
		return "", s.err
	}
	if len(s.queue) > 0 {
		out := s.queue[0]
		s.queue = s.queue[1:]
		return out, nil
	}
	for _, r := range s.rules {
		if strings.Contains(req.Prompt, r.substr) {
			return r.response, nil
		}
	}
	return stubCompletion(req.Prompt), nil
}

// stubCompletion is deterministic for a given prompt so repeated runs
// of an offline install produce identical artifacts.
func stubCompletion(prompt string) string {
	first := prompt
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	first = strings.TrimSpace(first)
	if len(first) > 120 {
		first = first[:120]
	}
	return fmt.Sprintf("Scripted completion.\n\nRequest: %s\n\nConfigure an openai or gemini provider for real output.", first)
}
