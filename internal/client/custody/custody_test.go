package custody

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellSetGet(t *testing.T) {
	cell := NewCell()
	assert.Nil(t, cell.Get())
	assert.Empty(t, cell.AccessToken())

	cell.Set(&Tokens{AccessToken: "at-1", IDToken: "id-1", ExpiresIn: 900})
	got := cell.Get()
	require.NotNil(t, got)
	assert.Equal(t, "at-1", got.AccessToken)
	assert.Equal(t, "at-1", cell.AccessToken())

	// The returned copy is detached from the cell.
	got.AccessToken = "mutated"
	assert.Equal(t, "at-1", cell.AccessToken())
}

func TestCellSetCopiesInput(t *testing.T) {
	cell := NewCell()
	in := &Tokens{AccessToken: "at-1"}
	cell.Set(in)
	in.AccessToken = "mutated"
	assert.Equal(t, "at-1", cell.AccessToken())
}

func TestCellClear(t *testing.T) {
	cell := NewCell()
	cell.Set(&Tokens{AccessToken: "at-1"})
	cell.Clear()
	assert.Nil(t, cell.Get())
	assert.Empty(t, cell.AccessToken())
}

func TestCellNotifiesListenersSynchronously(t *testing.T) {
	cell := NewCell()
	var seen []*Tokens
	cell.Subscribe(func(tk *Tokens) { seen = append(seen, tk) })

	cell.Set(&Tokens{AccessToken: "at-1"})
	require.Len(t, seen, 1)
	assert.Equal(t, "at-1", seen[0].AccessToken)

	cell.Clear()
	require.Len(t, seen, 2)
	assert.Nil(t, seen[1])
}

// A listener that reads the cell back must not deadlock: notification happens
// outside the lock.
func TestCellListenerMayReadCell(t *testing.T) {
	cell := NewCell()
	var observed string
	cell.Subscribe(func(*Tokens) { observed = cell.AccessToken() })
	cell.Set(&Tokens{AccessToken: "at-1"})
	assert.Equal(t, "at-1", observed)
}
