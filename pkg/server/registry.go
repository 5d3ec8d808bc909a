package server

import (
	"context"
	"sort"
	"sync"

	"github.com/go-go-golems/palaver/pkg/inference/engine"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrSessionNotFound = errors.New("session not found")

// Registry holds the sessions served over HTTP. Every session gets its own
// engine, loaded from a copy of the registry settings, since an engine must
// never serve two sessions at once.
type Registry struct {
	settings *engine.Settings
	options  []session.Option

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewRegistry creates an empty registry. options are applied to every new
// session, before the per-request system prompt.
func NewRegistry(settings *engine.Settings, options ...session.Option) *Registry {
	if settings == nil {
		settings = engine.NewSettings()
	}
	return &Registry{
		settings: settings.Clone(),
		options:  options,
		sessions: map[string]*session.Session{},
	}
}

// Create loads a new engine and session. An empty systemPrompt selects the
// session default.
func (r *Registry) Create(ctx context.Context, systemPrompt string) (*session.Session, error) {
	options := append([]session.Option{}, r.options...)
	if systemPrompt != "" {
		options = append(options, session.WithSystemPrompt(systemPrompt))
	}

	s, err := session.Load(ctx, r.settings.Clone(), options...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	log.Info().Str("session_id", s.ID).Str("engine", string(r.settings.Type)).Msg("session created")
	return s, nil
}

func (r *Registry) Get(id string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "session %s", id)
	}
	return s, nil
}

// Remove discards a session and its engine. A session that is generating
// cannot be removed.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return errors.Wrapf(ErrSessionNotFound, "session %s", id)
	}
	if s.State() == session.StateGenerating {
		return errors.Wrapf(session.ErrBusy, "session %s", id)
	}
	delete(r.sessions, id)

	log.Info().Str("session_id", id).Msg("session removed")
	return nil
}

// IDs returns the ids of all sessions, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ret := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ret = append(ret, id)
	}
	sort.Strings(ret)
	return ret
}
