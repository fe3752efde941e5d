package serial

import (
	"errors"
	"sync"
	"time"
)

// Key identifies one physical connection.
type Key struct {
	Port string
	Baud int
}

// Defaults are applied to every session the registry creates.
type Defaults struct {
	BootDelay   time.Duration
	ReadTimeout time.Duration
	Open        OpenFunc
}

// Registry maps (port, baud) to its session so the whole process shares one
// connection per device. The registry lock guards map mutation only; it is
// distinct from each session's exchange lock.
type Registry struct {
	mu       sync.Mutex
	def      Defaults
	sessions map[Key]*Session
}

func NewRegistry(def Defaults) *Registry {
	return &Registry{
		def:      def,
		sessions: make(map[Key]*Session),
	}
}

// Get returns the session for (port, baud), creating it atomically on first
// use. Sessions persist until CloseAll at shutdown; ports on a test stand are
// few and stable, so there is no per-entry eviction.
func (r *Registry) Get(port string, baud int) (*Session, error) {
	key := Key{Port: port, Baud: baud}

	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[key]; ok {
		return sess, nil
	}
	sess, err := NewSession(Config{
		Port:        port,
		Baud:        baud,
		BootDelay:   r.def.BootDelay,
		ReadTimeout: r.def.ReadTimeout,
		Open:        r.def.Open,
	})
	if err != nil {
		return nil, err
	}
	r.sessions[key] = sess
	return sess, nil
}

// CloseAll closes every session and empties the registry.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[Key]*Session)
	r.mu.Unlock()

	var err error
	for _, s := range sessions {
		err = errors.Join(err, s.Close())
	}
	return err
}
