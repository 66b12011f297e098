package watcher

import (
	"crypto/sha256"
	"encoding/hex"

	"pibrain/internal/transcript"
)

// fingerprint deterministically hashes a session's parent-pointer chain
// (entry id + parent id, in file order) so the watcher can tell whether
// a file's tree shape actually changed between two observations, not
// just its byte size. Standard library sha256 is the right tool: this
// is a fixed-width content digest over already-parsed structured data,
// not a search or comparison problem any pack library addresses.
func fingerprint(session *transcript.Session) string {
	h := sha256.New()
	for _, e := range session.All() {
		h.Write([]byte(e.ID))
		h.Write([]byte{0})
		h.Write([]byte(e.ParentID))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
