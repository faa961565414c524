package service

import (
	"sync"
	"time"

	"datamakelaar/pkg/validate"
	"datamakelaar/pkg/writeback"
)

// Upload is a validated table waiting to be submitted.
type Upload struct {
	ID          string             `json:"id"`
	Dataset     string             `json:"dataset"`
	Environment string             `json:"environment"`
	Source      string             `json:"source"`
	CreatedAt   time.Time          `json:"createdAt"`
	Report      *validate.Report   `json:"report"`
	Changes     []writeback.Change `json:"changes"`
	Submitted   bool               `json:"submitted"`
	Result      *writeback.Result  `json:"result,omitempty"`
	Records     []writeback.Record `json:"-"`
	submitting  bool
}

// Store keeps uploads in memory until they expire.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	uploads map[string]*Upload
	now     func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	return &Store{ttl: ttl, uploads: map[string]*Upload{}, now: time.Now}
}

func (s *Store) Put(u *Upload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	s.uploads[u.ID] = u
}

// Get returns a copy of the upload.
func (s *Store) Get(id string) (*Upload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	u, ok := s.uploads[id]
	if !ok {
		return nil, ErrUploadNotFound
	}
	c := *u
	return &c, nil
}

// Update runs fn on the stored upload under the store lock.
func (s *Store) Update(id string, fn func(*Upload) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	u, ok := s.uploads[id]
	if !ok {
		return ErrUploadNotFound
	}
	return fn(u)
}

// prune must be called with s.mu held.
func (s *Store) prune() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for id, u := range s.uploads {
		if u.CreatedAt.Before(cutoff) {
			delete(s.uploads, id)
		}
	}
}
