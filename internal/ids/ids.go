// Package ids provides the branded identifier kinds used throughout the
// session-state core: workspaces, sessions, events, and blobs. Each kind is
// a short opaque string carrying a type prefix so that an id of the wrong
// kind cannot be passed where another is expected without the compiler
// noticing.
package ids

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

// WorkspaceID identifies a workspace (a filesystem working directory).
type WorkspaceID string

// SessionID identifies a session (a conversation event chain).
type SessionID string

// EventID identifies a single event in the log.
type EventID string

// BlobID identifies a large payload stored out of line from an event.
type BlobID string

const (
	workspacePrefix = "ws_"
	sessionPrefix   = "sess_"
	eventPrefix     = "evt_"
	blobPrefix      = "blob_"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// newSuffix returns a lowercase, unpadded base32 random suffix. 16 random
// bytes gives 128 bits of entropy, matching the collision resistance of a
// UUIDv4 without pulling in a UUID parser for an id that is otherwise never
// parsed, only compared and sorted by append order (sequence, not id).
func newSuffix() string {
	buf := make([]byte, 16)
	// crypto/rand.Read never returns a short read or error on supported
	// platforms; a failure here means the OS entropy source is broken,
	// which nothing downstream could recover from either.
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("ids: reading random bytes: %v", err))
	}
	return strings.ToLower(encoding.EncodeToString(buf))
}

// NewWorkspaceID generates a new workspace id.
func NewWorkspaceID() WorkspaceID { return WorkspaceID(workspacePrefix + newSuffix()) }

// NewSessionID generates a new session id.
func NewSessionID() SessionID { return SessionID(sessionPrefix + newSuffix()) }

// NewEventID generates a new event id.
func NewEventID() EventID { return EventID(eventPrefix + newSuffix()) }

// NewBlobID generates a new blob id.
func NewBlobID() BlobID { return BlobID(blobPrefix + newSuffix()) }

// ValidWorkspaceID reports whether s carries the workspace prefix.
func ValidWorkspaceID(s string) bool { return strings.HasPrefix(s, workspacePrefix) }

// ValidSessionID reports whether s carries the session prefix.
func ValidSessionID(s string) bool { return strings.HasPrefix(s, sessionPrefix) }

// ValidEventID reports whether s carries the event prefix.
func ValidEventID(s string) bool { return strings.HasPrefix(s, eventPrefix) }

// ValidBlobID reports whether s carries the blob prefix.
func ValidBlobID(s string) bool { return strings.HasPrefix(s, blobPrefix) }
