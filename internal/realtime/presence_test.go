package realtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/testutil"
	"taskflow/pkg/protocol"
)

func newTestPresence() (*Presence, *recorder) {
	rec := &recorder{}
	return NewPresence(rec.publish, testutil.Logger()), rec
}

func TestPresenceLastWriterWins(t *testing.T) {
	p, rec := newTestPresence()
	a := NewConn(alice, 4)
	b := NewConn(bob, 4)

	p.Start(a, "42", "t1", protocol.FieldTitle)
	p.Start(b, "42", "t1", protocol.FieldTitle)

	editor, ok := p.Editor("t1", protocol.FieldTitle)
	require.True(t, ok)
	assert.Equal(t, "2", editor.ID)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, 0, p.Owned(a.ID))
	assert.Equal(t, 1, p.Owned(b.ID))

	require.Equal(t, []string{protocol.EventEditingActive, protocol.EventEditingActive}, rec.events())
	var first, second protocol.EditingActive
	require.NoError(t, json.Unmarshal(rec.msgs[0].Data, &first))
	require.NoError(t, json.Unmarshal(rec.msgs[1].Data, &second))
	assert.Equal(t, "1", first.User.ID)
	assert.Equal(t, "2", second.User.ID)
	assert.Equal(t, "project:42", rec.msgs[1].Room)
	assert.Equal(t, b.ID, rec.msgs[1].Exclude)
}

func TestPresenceStopRequiresOwnership(t *testing.T) {
	p, rec := newTestPresence()
	a := NewConn(alice, 4)
	b := NewConn(bob, 4)

	assert.False(t, p.Stop(a, "t1", protocol.FieldTitle), "absent key")

	p.Start(a, "42", "t1", protocol.FieldTitle)
	assert.False(t, p.Stop(b, "t1", protocol.FieldTitle), "held by another user")
	assert.Equal(t, 1, p.Len())

	assert.True(t, p.Stop(a, "t1", protocol.FieldTitle))
	assert.Equal(t, 0, p.Len())
	assert.Equal(t, 0, p.Owned(a.ID))
	assert.Equal(t, []string{protocol.EventEditingActive, protocol.EventEditingInactive}, rec.events())

	var inactive protocol.EditingInactive
	require.NoError(t, json.Unmarshal(rec.msgs[1].Data, &inactive))
	assert.Equal(t, protocol.EditingInactive{ProjectID: "42", TaskID: "t1", Field: protocol.FieldTitle}, inactive)
	assert.Empty(t, rec.msgs[1].Exclude, "the stopping connection hears its own stop")
}

func TestPresenceStartOnClosedConnRecordsNothing(t *testing.T) {
	p, rec := newTestPresence()
	a := NewConn(alice, 4)
	a.Close()

	assert.False(t, p.Start(a, "42", "t1", protocol.FieldTitle))
	assert.Zero(t, p.Len())
	assert.Zero(t, p.Owned(a.ID))
	assert.Empty(t, rec.msgs)
}

func TestPresenceTakeoverAcrossProjects(t *testing.T) {
	p, rec := newTestPresence()
	a := NewConn(alice, 4)
	b := NewConn(bob, 4)

	p.Start(a, "7", "t1", protocol.FieldTitle)
	rec.msgs = nil
	p.Start(b, "42", "t1", protocol.FieldTitle)

	require.Equal(t, []string{protocol.EventEditingInactive, protocol.EventEditingActive}, rec.events())
	assert.Equal(t, "project:7", rec.msgs[0].Room)
	assert.Empty(t, rec.msgs[0].Exclude)
	var inactive protocol.EditingInactive
	require.NoError(t, json.Unmarshal(rec.msgs[0].Data, &inactive))
	assert.Equal(t, protocol.EditingInactive{ProjectID: "7", TaskID: "t1", Field: protocol.FieldTitle}, inactive)
	assert.Equal(t, "project:42", rec.msgs[1].Room)

	assert.Empty(t, p.Snapshot("7"))
	assert.Len(t, p.Snapshot("42"), 1)
}

func TestPresenceStopFromSameUserOtherTab(t *testing.T) {
	p, _ := newTestPresence()
	tab1 := NewConn(alice, 4)
	tab2 := NewConn(alice, 4)

	p.Start(tab1, "42", "t1", protocol.FieldDescription)
	assert.True(t, p.Stop(tab2, "t1", protocol.FieldDescription))
	assert.Equal(t, 0, p.Owned(tab1.ID))
}

func TestPresenceReleaseConnIsComplete(t *testing.T) {
	p, rec := newTestPresence()
	a := NewConn(alice, 4)
	b := NewConn(bob, 4)

	p.Start(a, "42", "t1", protocol.FieldTitle)
	p.Start(a, "42", "t1", protocol.FieldDescription)
	p.Start(a, "7", "t9", protocol.FieldDueDate)
	p.Start(b, "42", "t2", protocol.FieldTitle)
	rec.msgs = nil

	n := p.ReleaseConn(a.ID)

	assert.Equal(t, 3, n)
	assert.Equal(t, 0, p.Owned(a.ID))
	assert.Equal(t, 1, p.Len())
	require.Len(t, rec.msgs, 3)
	for _, m := range rec.msgs {
		assert.Equal(t, protocol.EventEditingInactive, m.Event)
	}
	assert.Equal(t, "project:42", rec.msgs[0].Room)
	assert.Equal(t, "project:7", rec.msgs[2].Room)

	assert.Zero(t, p.ReleaseConn(a.ID), "second release finds nothing")
}

func TestPresenceReleaseSkipsTakenOverKeys(t *testing.T) {
	p, rec := newTestPresence()
	a := NewConn(alice, 4)
	b := NewConn(bob, 4)

	p.Start(a, "42", "t1", protocol.FieldTitle)
	p.Start(b, "42", "t1", protocol.FieldTitle)
	rec.msgs = nil

	assert.Zero(t, p.ReleaseConn(a.ID))
	assert.Empty(t, rec.msgs)
	editor, ok := p.Editor("t1", protocol.FieldTitle)
	require.True(t, ok)
	assert.Equal(t, "2", editor.ID)
}

func TestPresenceReleaseProject(t *testing.T) {
	p, _ := newTestPresence()
	a := NewConn(alice, 4)

	p.Start(a, "42", "t1", protocol.FieldTitle)
	p.Start(a, "7", "t9", protocol.FieldTitle)

	assert.Equal(t, 1, p.ReleaseProject(a.ID, "42"))
	assert.Equal(t, 1, p.Owned(a.ID))
	_, ok := p.Editor("t9", protocol.FieldTitle)
	assert.True(t, ok)
}

func TestPresenceSnapshotIsScopedAndSorted(t *testing.T) {
	p, _ := newTestPresence()
	a := NewConn(alice, 4)
	c := NewConn(carol, 4)

	p.Start(c, "42", "t2", protocol.FieldTitle)
	p.Start(a, "42", "t1", protocol.FieldTitle)
	p.Start(a, "42", "t1", protocol.FieldDescription)
	p.Start(a, "7", "t3", protocol.FieldTitle)

	snap := p.Snapshot("42")
	require.Len(t, snap, 3)
	assert.Equal(t, protocol.EditingActive{
		ProjectID: "42", TaskID: "t1", Field: protocol.FieldDescription,
		User: protocol.PresenceUser{ID: "1", Name: "Alice", Avatar: "a.png"},
	}, snap[0])
	assert.Equal(t, protocol.ID("t2"), snap[2].TaskID)
	assert.Empty(t, p.Snapshot("99"))
}
