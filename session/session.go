// Package session keeps an ordered set of independent code buffers (tabs) and
// the single active one.
package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("session not found")

// Session is one named code buffer.
type Session struct {
	ID   string
	Name string
	Code string
}

// Console is the log a manager clears whenever the active session changes.
type Console interface {
	ClearLogs()
}

const (
	DefaultName = "untitled"
	DefaultCode = ""
)

type Option func(*Manager)

// WithExtension sets the suffix LoadExample appends to example labels, e.g.
// ".py".
func WithExtension(ext string) Option {
	return func(m *Manager) {
		m.ext = ext
	}
}

// WithDefault sets the name and code of synthesized default sessions.
func WithDefault(name, code string) Option {
	return func(m *Manager) {
		m.defName = name
		m.defCode = code
	}
}

// Manager is safe for concurrent use.
type Manager struct {
	console Console
	ext     string
	defName string
	defCode string

	mu       sync.Mutex
	sessions []Session
	active   string
}

// NewManager returns a manager holding one default session.
func NewManager(console Console, opts ...Option) *Manager {
	m := &Manager{
		console: console,
		defName: DefaultName,
		defCode: DefaultCode,
	}
	for _, opt := range opts {
		opt(m)
	}
	s := m.newSession(m.defName, m.defCode)
	m.sessions = []Session{s}
	m.active = s.ID
	return m
}

func (m *Manager) newSession(name, code string) Session {
	return Session{ID: uuid.NewString(), Name: name, Code: code}
}

// Create appends a session and makes it active.
func (m *Manager) Create(name, code string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.newSession(name, code)
	m.sessions = append(m.sessions, s)
	m.activateLocked(s.ID)
	return s
}

// Switch makes id active. No session's code changes.
func (m *Manager) Switch(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexLocked(id) < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.activateLocked(id)
	return nil
}

// Close removes id. If it was active, the session before it becomes active,
// or the new first session if it was first. Closing the last session leaves a
// fresh default session.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.sessions = slices.Delete(m.sessions, idx, idx+1)

	if len(m.sessions) == 0 {
		s := m.newSession(m.defName, m.defCode)
		m.sessions = []Session{s}
		m.activateLocked(s.ID)
		return nil
	}
	if m.active == id {
		m.activateLocked(m.sessions[max(idx-1, 0)].ID)
	}
	return nil
}

// Edit replaces the active session's code. Other sessions are untouched.
func (m *Manager) Edit(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[m.indexLocked(m.active)].Code = code
}

// Rename changes the name of id.
func (m *Manager) Rename(id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexLocked(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.sessions[idx].Name = name
	return nil
}

// LoadExample sets the active session's code and names it after label in
// one update.
func (m *Manager) LoadExample(code, label string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexLocked(m.active)
	m.sessions[idx].Code = code
	m.sessions[idx].Name = label + m.ext
	return m.sessions[idx]
}

// Active returns the active session.
func (m *Manager) Active() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[m.indexLocked(m.active)]
}

// Sessions returns the sessions in display order.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sessions)
}

func (m *Manager) Get(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexLocked(id)
	if idx < 0 {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return m.sessions[idx], nil
}

func (m *Manager) indexLocked(id string) int {
	return slices.IndexFunc(m.sessions, func(s Session) bool { return s.ID == id })
}

func (m *Manager) activateLocked(id string) {
	m.active = id
	if m.console != nil {
		m.console.ClearLogs()
	}
}
