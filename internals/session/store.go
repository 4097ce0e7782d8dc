package session

import (
	"sync"
	"time"

	"github.com/jadenj13/deskdroid/internals/llm"
)

// Thread is a conversation tied to a chat thread. Turns on one thread run one
// at a time; Lock around reading and replacing Conversation.
type Thread struct {
	sync.Mutex

	ThreadTS     string
	ChannelID    string
	Conversation llm.Conversation

	CreatedAt time.Time
	UpdatedAt time.Time
}

func newThread(threadTS, channelID string) *Thread {
	now := time.Now()
	return &Thread{
		ThreadTS:  threadTS,
		ChannelID: channelID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Store keeps threads in memory, keyed by thread timestamp.
type Store struct {
	mu      sync.RWMutex
	threads map[string]*Thread
}

func NewStore() *Store {
	return &Store{threads: make(map[string]*Thread)}
}

func (s *Store) GetOrCreate(threadTS, channelID string) *Thread {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.threads[threadTS]; ok {
		return t
	}
	t := newThread(threadTS, channelID)
	s.threads[threadTS] = t
	return t
}

func (s *Store) Get(threadTS string) (*Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadTS]
	return t, ok
}

// Update replaces the thread's conversation. The caller holds the thread lock.
func (s *Store) Update(t *Thread, conv llm.Conversation) {
	t.Conversation = conv
	t.UpdatedAt = time.Now()
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}
