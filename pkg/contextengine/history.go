package contextengine

import "sync"

type turn struct {
	question string
	answer   string
}

// sessionHistory keeps a bounded ring of conversation turns per
// session, in memory only. Persistence is the caller's concern.
type sessionHistory struct {
	mu       sync.Mutex
	maxTurns int
	sessions map[string][]turn
}

func newSessionHistory(maxTurns int) *sessionHistory {
	return &sessionHistory{
		maxTurns: maxTurns,
		sessions: make(map[string][]turn),
	}
}

func (h *sessionHistory) turns(sessionID string) []turn {
	if sessionID == "" {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]turn(nil), h.sessions[sessionID]...)
}

func (h *sessionHistory) add(sessionID, question, answer string) {
	if sessionID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	turns := append(h.sessions[sessionID], turn{question: question, answer: answer})
	if len(turns) > h.maxTurns {
		turns = turns[len(turns)-h.maxTurns:]
	}
	h.sessions[sessionID] = turns
}

func (h *sessionHistory) drop(sessionID string) {
	h.mu.Lock()
	delete(h.sessions, sessionID)
	h.mu.Unlock()
}
