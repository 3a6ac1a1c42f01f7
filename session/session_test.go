package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingConsole struct {
	clears int
}

func (c *countingConsole) ClearLogs() { c.clears++ }

func names(m *Manager) []string {
	var out []string
	for _, s := range m.Sessions() {
		out = append(out, s.Name)
	}
	return out
}

func TestNewManagerHasDefault(t *testing.T) {
	m := NewManager(nil, WithDefault("main.py", "print('hi')"))

	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, sessions[0], m.Active())
	assert.Equal(t, "main.py", sessions[0].Name)
	assert.Equal(t, "print('hi')", sessions[0].Code)
}

func TestCreateActivatesAndClears(t *testing.T) {
	console := &countingConsole{}
	m := NewManager(console)

	a := m.Create("A", "a")
	assert.Equal(t, a.ID, m.Active().ID)
	assert.Equal(t, 1, console.clears)

	b := m.Create("B", "b")
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, b.ID, m.Active().ID)
	assert.Equal(t, 2, console.clears)
}

func TestSwitch(t *testing.T) {
	console := &countingConsole{}
	m := NewManager(console)
	a := m.Create("A", "code a")
	m.Create("B", "code b")

	require.NoError(t, m.Switch(a.ID))
	assert.Equal(t, a, m.Active())
	assert.Equal(t, 3, console.clears)

	assert.ErrorIs(t, m.Switch("missing"), ErrNotFound)
	assert.Equal(t, a.ID, m.Active().ID)
}

func TestEditIsolation(t *testing.T) {
	m := NewManager(nil)
	a := m.Create("A", "")
	b := m.Create("B", "untouched")

	require.NoError(t, m.Switch(a.ID))
	m.Edit("edited in A")
	require.NoError(t, m.Switch(b.ID))
	m.Edit("edited in B")
	require.NoError(t, m.Switch(a.ID))

	assert.Equal(t, "edited in A", m.Active().Code)
	got, err := m.Get(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited in B", got.Code)
}

func TestCloseInactiveKeepsActive(t *testing.T) {
	m := NewManager(nil)
	def := m.Active().ID
	a := m.Create("A", "")
	b := m.Create("B", "")
	m.Create("C", "")
	require.NoError(t, m.Close(def))
	require.NoError(t, m.Switch(a.ID))

	require.NoError(t, m.Close(b.ID))
	assert.Equal(t, a.ID, m.Active().ID)
	assert.Equal(t, []string{"A", "C"}, names(m))
}

func TestCloseActiveFallsBack(t *testing.T) {
	tests := []struct {
		name   string
		close  int
		active string
	}{
		{"middle activates previous", 1, "A"},
		{"last activates previous", 2, "B"},
		{"first activates new first", 0, "B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(nil)
			def := m.Active().ID
			var ids []string
			for _, n := range []string{"A", "B", "C"} {
				ids = append(ids, m.Create(n, "").ID)
			}
			require.NoError(t, m.Close(def))
			require.Equal(t, []string{"A", "B", "C"}, names(m))

			require.NoError(t, m.Switch(ids[tt.close]))
			require.NoError(t, m.Close(ids[tt.close]))
			assert.Equal(t, tt.active, m.Active().Name)
		})
	}
}

func TestCloseLastSynthesizesDefault(t *testing.T) {
	console := &countingConsole{}
	m := NewManager(console)
	only := m.Active()

	require.NoError(t, m.Close(only.ID))
	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.NotEqual(t, only.ID, sessions[0].ID)
	assert.Equal(t, DefaultName, sessions[0].Name)
	assert.Equal(t, sessions[0].ID, m.Active().ID)
	assert.Equal(t, 1, console.clears)

	assert.ErrorIs(t, m.Close("missing"), ErrNotFound)
}

func TestRename(t *testing.T) {
	m := NewManager(nil)
	a := m.Create("A", "code")

	require.NoError(t, m.Rename(a.ID, "renamed"))
	got, _ := m.Get(a.ID)
	assert.Equal(t, Session{ID: a.ID, Name: "renamed", Code: "code"}, got)

	assert.ErrorIs(t, m.Rename("missing", "x"), ErrNotFound)
}

func TestLoadExample(t *testing.T) {
	m := NewManager(nil, WithExtension(".js"))
	other := m.Create("other", "keep")
	target := m.Create("target", "old")

	s := m.LoadExample("print(1)", "fibonacci")
	assert.Equal(t, Session{ID: target.ID, Name: "fibonacci.js", Code: "print(1)"}, s)
	assert.Equal(t, s, m.Active())

	got, _ := m.Get(other.ID)
	assert.Equal(t, "keep", got.Code)
}
