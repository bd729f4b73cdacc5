package realtime

import "sync"

type editor struct {
	identity Identity
	cursor   *Cursor
	handle   Handle
}

// StoppedEdit records one implicit stop produced by a disconnect
// cascade: which identity stopped editing which document.
type StoppedEdit struct {
	DocumentID string
	Identity   Identity
}

// EditingSessions is the per-document index of who is actively typing,
// backing the "who else is editing" indicator. An entry exists only
// while the editor holds an open editing state; the per-document map is
// deleted when its last editor stops.
type EditingSessions struct {
	mu       sync.RWMutex
	docs     map[string]map[string]editor // documentId -> userId -> editor
	byHandle map[Handle]map[string]bool   // handle -> documentIds, for disconnect cascade
}

func NewEditingSessions() *EditingSessions {
	return &EditingSessions{
		docs:     make(map[string]map[string]editor),
		byHandle: make(map[Handle]map[string]bool),
	}
}

// Start records identity as editing the document. A repeated start
// overwrites the stored cursor: the last report wins.
func (e *EditingSessions) Start(h Handle, identity Identity, documentID string, cursor *Cursor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.docs[documentID] == nil {
		e.docs[documentID] = make(map[string]editor)
	}
	// The same user restarting from another connection moves the session:
	// the old handle must not keep a claim on the document.
	if prev, ok := e.docs[documentID][identity.UserID]; ok && prev.handle != h {
		if docs, ok := e.byHandle[prev.handle]; ok {
			delete(docs, documentID)
			if len(docs) == 0 {
				delete(e.byHandle, prev.handle)
			}
		}
	}
	e.docs[documentID][identity.UserID] = editor{identity: identity, cursor: cursor, handle: h}
	if e.byHandle[h] == nil {
		e.byHandle[h] = make(map[string]bool)
	}
	e.byHandle[h][documentID] = true
}

// Stop removes the editing state h holds on the document. Stopping an
// identity that is not recorded is a no-op; the returned bool reports
// whether anything was removed.
func (e *EditingSessions) Stop(h Handle, documentID string) (Identity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopLocked(h, documentID)
}

func (e *EditingSessions) stopLocked(h Handle, documentID string) (Identity, bool) {
	editors, ok := e.docs[documentID]
	if !ok {
		return Identity{}, false
	}
	for uid, ed := range editors {
		if ed.handle != h {
			continue
		}
		delete(editors, uid)
		if len(editors) == 0 {
			delete(e.docs, documentID)
		}
		if docs, ok := e.byHandle[h]; ok {
			delete(docs, documentID)
			if len(docs) == 0 {
				delete(e.byHandle, h)
			}
		}
		return ed.identity, true
	}
	return Identity{}, false
}

// Editors returns the identities currently editing the document with
// their last-known cursors.
func (e *EditingSessions) Editors(documentID string) []EditorState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	editors := e.docs[documentID]
	if len(editors) == 0 {
		return nil
	}
	out := make([]EditorState, 0, len(editors))
	for _, ed := range editors {
		out = append(out, EditorState{
			UserID:      ed.identity.UserID,
			DisplayName: ed.identity.DisplayName,
			Cursor:      ed.cursor,
		})
	}
	return out
}

// RemoveAll stops every editing session the handle holds, exactly as if
// the client had sent a stop for each. Returns what was stopped so the
// caller can broadcast: other clients must not be left believing a
// vanished user is still typing.
func (e *EditingSessions) RemoveAll(h Handle) []StoppedEdit {
	e.mu.Lock()
	defer e.mu.Unlock()
	docs, ok := e.byHandle[h]
	if !ok {
		return nil
	}
	stopped := make([]StoppedEdit, 0, len(docs))
	for documentID := range docs {
		if id, ok := e.stopLocked(h, documentID); ok {
			stopped = append(stopped, StoppedEdit{DocumentID: documentID, Identity: id})
		}
	}
	delete(e.byHandle, h)
	return stopped
}
