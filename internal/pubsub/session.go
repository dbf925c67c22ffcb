package pubsub

import (
	"sync"
	"sync/atomic"
	"time"
)

// Session is the relay state of one peer connection. Fields under mu are
// written by the message handler and the destroy path; mu is a leaf lock.
type Session struct {
	tombstone

	handle    Handle
	createdAt time.Time
	hangingUp atomic.Bool
	released  atomic.Bool

	mu           sync.RWMutex
	role         Role
	streamName   string
	subscriberID uint64
	hasAudio     bool
	hasVideo     bool
	hasData      bool
	audioActive  bool
	videoActive  bool
	bitrate      uint32
	slowLinks    uint32
}

func newSession(h Handle) *Session {
	return &Session{
		handle:    h,
		createdAt: time.Now(),
	}
}

func (s *Session) Handle() Handle {
	return s.handle
}

func (s *Session) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *Session) StreamName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamName
}

func (s *Session) SubscriberID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subscriberID
}

// Bitrate is the REMB cap in bits per second, 0 when uncapped.
func (s *Session) Bitrate() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bitrate
}

func (s *Session) binding() (Role, string, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role, s.streamName, s.subscriberID
}

func (s *Session) bind(role Role, stream string, subscriberID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = role
	s.streamName = stream
	s.subscriberID = subscriberID
	switch role {
	case RolePublisher:
		s.audioActive = true
		s.videoActive = true
	case RoleSubscriber:
		// Video is switched on by the subscribe path together with a PLI.
		s.audioActive = true
		s.videoActive = false
	default:
		s.audioActive = false
		s.videoActive = false
	}
}

func (s *Session) unbind() {
	s.bind(RoleNone, "", 0)
}

// unbindFrom clears the binding only if it still points at the given
// subscription.
func (s *Session) unbindFrom(stream string, subscriberID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streamName != stream || s.subscriberID != subscriberID {
		return
	}
	s.role = RoleNone
	s.streamName = ""
	s.subscriberID = 0
	s.audioActive = false
	s.videoActive = false
}

func (s *Session) mediaFlags() (audio, video, data bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasAudio, s.hasVideo, s.hasData
}

func (s *Session) setMedia(audio, video, data bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hasAudio = audio
	s.hasVideo = video
	s.hasData = data
}

// active reports whether packets of the given kind from this session are
// relayed. Data is never muted.
func (s *Session) active(kind MediaKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch kind {
	case MediaAudio:
		return s.audioActive
	case MediaVideo:
		return s.videoActive
	}
	return true
}

func (s *Session) setActive(audio, video bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioActive = audio
	s.videoActive = video
}

// enableVideo marks video active and reports whether it was off before.
func (s *Session) enableVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.videoActive
	s.videoActive = true
	return !was
}

// configure applies the non-nil settings and reports whether video went
// from inactive to active.
func (s *Session) configure(audio, video *bool, bitrate *uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	reenabled := false
	if audio != nil {
		s.audioActive = *audio
	}
	if video != nil {
		reenabled = *video && !s.videoActive
		s.videoActive = *video
	}
	if bitrate != nil {
		s.bitrate = *bitrate
	}
	return reenabled
}

func (s *Session) slowLink() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slowLinks++
	return s.slowLinks
}

func (s *Session) reclaim() {
	s.released.Store(true)
}

type SessionInfo struct {
	Handle       Handle    `json:"handle"`
	Role         string    `json:"role"`
	Stream       string    `json:"stream,omitempty"`
	SubscriberID uint64    `json:"subscriber_id,omitempty"`
	HasAudio     bool      `json:"has_audio"`
	HasVideo     bool      `json:"has_video"`
	HasData      bool      `json:"has_data"`
	AudioActive  bool      `json:"audio_active"`
	VideoActive  bool      `json:"video_active"`
	Bitrate      uint32    `json:"bitrate"`
	SlowLinks    uint32    `json:"slow_links"`
	HangingUp    bool      `json:"hanging_up"`
	Destroyed    bool      `json:"destroyed"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		Handle:       s.handle,
		Role:         s.role.String(),
		Stream:       s.streamName,
		SubscriberID: s.subscriberID,
		HasAudio:     s.hasAudio,
		HasVideo:     s.hasVideo,
		HasData:      s.hasData,
		AudioActive:  s.audioActive,
		VideoActive:  s.videoActive,
		Bitrate:      s.bitrate,
		SlowLinks:    s.slowLinks,
		HangingUp:    s.hangingUp.Load(),
		Destroyed:    s.Destroyed(),
		CreatedAt:    s.createdAt,
	}
}

// SessionRegistry maps connection handles to sessions.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[Handle]*Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[Handle]*Session),
	}
}

func (r *SessionRegistry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[s.handle]; ok && !old.Destroyed() {
		return ErrSessionExists
	}
	r.sessions[s.handle] = s
	return nil
}

// Lookup returns the live session for h. Destroyed sessions are not found.
func (r *SessionRegistry) Lookup(h Handle) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookupLocked(h)
}

func (r *SessionRegistry) lookupLocked(h Handle) (*Session, bool) {
	s, ok := r.sessions[h]
	if !ok || s.Destroyed() {
		return nil, false
	}
	return s, true
}

func (r *SessionRegistry) Contains(h Handle) bool {
	_, ok := r.Lookup(h)
	return ok
}

func (r *SessionRegistry) Remove(h Handle) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(h)
}

func (r *SessionRegistry) removeLocked(h Handle) (*Session, bool) {
	s, ok := r.sessions[h]
	if ok {
		delete(r.sessions, h)
	}
	return s, ok
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *SessionRegistry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
