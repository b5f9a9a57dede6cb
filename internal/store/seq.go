package store

import "sync"

type seqGenerator struct {
	mu              sync.Mutex
	perConversation map[string]int64
}

func newSeqGenerator() *seqGenerator {
	return &seqGenerator{perConversation: make(map[string]int64)}
}

func (g *seqGenerator) next(conversationID string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.perConversation[conversationID]++
	return g.perConversation[conversationID]
}

// advance makes sure the next value is above seq. Used when loading state.
func (g *seqGenerator) advance(conversationID string, seq int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if seq > g.perConversation[conversationID] {
		g.perConversation[conversationID] = seq
	}
}
