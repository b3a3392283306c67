package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewIDs_CarryExpectedPrefix(t *testing.T) {
	assert.True(t, ValidWorkspaceID(string(NewWorkspaceID())))
	assert.True(t, ValidSessionID(string(NewSessionID())))
	assert.True(t, ValidEventID(string(NewEventID())))
	assert.True(t, ValidBlobID(string(NewBlobID())))
}

func TestNewIDs_AreUnique(t *testing.T) {
	seen := make(map[SessionID]bool)
	for i := 0; i < 1000; i++ {
		id := NewSessionID()
		assert.False(t, seen[id], "duplicate session id generated")
		seen[id] = true
	}
}

func TestValidID_RejectsWrongKind(t *testing.T) {
	sid := NewSessionID()
	assert.False(t, ValidEventID(string(sid)))
	assert.False(t, ValidWorkspaceID(string(sid)))
}
