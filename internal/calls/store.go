package calls

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("call session not found")
	ErrStreamConflict = errors.New("stream already bound to another call")
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
)

// TranscriptEntry is an immutable line of the call transcript. Entries are
// appended in conversation order and never rewritten.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	// ItemID correlates the entry with the reasoning endpoint's internal
	// conversation item, when one exists.
	ItemID string `json:"item_id,omitempty"`
}

// CallSession is the full lifetime state of one telephone call, keyed by the
// provider call id. StreamID is attached once the media stream opens.
type CallSession struct {
	CallID       string            `json:"call_id"`
	AgentID      string            `json:"agent_id"`
	StreamID     string            `json:"stream_id,omitempty"`
	CallerNumber string            `json:"caller_number"`
	CalleeNumber string            `json:"callee_number"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      *time.Time        `json:"end_time,omitempty"`
	Transcript   []TranscriptEntry `json:"transcript"`
}

// Store is the authoritative map from call id to session and from stream id
// to call id. All mutations are short critical sections; no I/O runs under
// the lock.
type Store struct {
	mu           sync.RWMutex
	byCallID     map[string]*CallSession
	callByStream map[string]string
}

func NewStore() *Store {
	return &Store{
		byCallID:     make(map[string]*CallSession),
		callByStream: make(map[string]string),
	}
}

// Create records a new inbound call. Creating a call id that already exists
// returns the existing session untouched; the telephony provider can deliver
// the webhook more than once.
func (s *Store) Create(callID, agentID, from, to string) *CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byCallID[callID]; ok {
		return clone(existing)
	}
	sess := &CallSession{
		CallID:       callID,
		AgentID:      agentID,
		CallerNumber: from,
		CalleeNumber: to,
		StartTime:    time.Now().UTC(),
	}
	s.byCallID[callID] = sess
	return clone(sess)
}

// AttachStream binds a media stream to a live call. Attaching the same
// stream to the same call again is a no-op; attaching it to a different live
// call fails with ErrStreamConflict.
func (s *Store) AttachStream(streamID, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byCallID[callID]
	if !ok {
		return ErrNotFound
	}
	if bound, ok := s.callByStream[streamID]; ok {
		if bound == callID {
			return nil
		}
		return ErrStreamConflict
	}
	s.callByStream[streamID] = callID
	sess.StreamID = streamID
	return nil
}

func (s *Store) ByCallID(callID string) (*CallSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byCallID[callID]
	if !ok {
		return nil, false
	}
	return clone(sess), true
}

func (s *Store) ByStreamID(streamID string) (*CallSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	callID, ok := s.callByStream[streamID]
	if !ok {
		return nil, false
	}
	sess, ok := s.byCallID[callID]
	if !ok {
		return nil, false
	}
	return clone(sess), true
}

// AppendTranscript adds an entry to the call's transcript. The entry id is
// assigned here when the caller left it empty.
func (s *Store) AppendTranscript(callID string, entry TranscriptEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byCallID[callID]
	if !ok {
		return ErrNotFound
	}
	sess.Transcript = append(sess.Transcript, entry)
	return nil
}

// End finalizes the session, releases the stream mapping, evicts the session
// and returns the finalized copy for the call log. Eviction and stream
// detachment happen under one lock so a dangling stream mapping can never
// outlive its session.
func (s *Store) End(callID string) (*CallSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byCallID[callID]
	if !ok {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	sess.EndTime = &now
	if sess.StreamID != "" {
		delete(s.callByStream, sess.StreamID)
	}
	delete(s.byCallID, callID)
	return clone(sess), nil
}

func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byCallID)
}

// Active returns copies of all live sessions, for the admin surface.
func (s *Store) Active() []*CallSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*CallSession, 0, len(s.byCallID))
	for _, sess := range s.byCallID {
		out = append(out, clone(sess))
	}
	return out
}

func clone(sess *CallSession) *CallSession {
	c := *sess
	if sess.Transcript != nil {
		c.Transcript = append([]TranscriptEntry(nil), sess.Transcript...)
	}
	if sess.EndTime != nil {
		t := *sess.EndTime
		c.EndTime = &t
	}
	return &c
}
