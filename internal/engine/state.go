package engine

// State is the connectivity-driven sync state.
type State string

const (
	// StateIdle means all tiers are confirmed in sync.
	StateIdle State = "idle"

	// StateOffline means the remote store is unreachable. Local writes
	// proceed but are not counted as awaiting sync until connectivity
	// returns.
	StateOffline State = "offline"

	// StatePendingChanges means local mutations exist that have not been
	// confirmed committed to the remote store.
	StatePendingChanges State = "pending_changes"

	// StateSyncing means an explicit full sync is in flight.
	StateSyncing State = "syncing"

	// StateSyncError means the last sync attempt failed; the pending flag
	// stays set so a retry can be attempted later.
	StateSyncError State = "sync_error"
)

// State returns the current sync state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// PendingChanges reports whether unconfirmed local mutations exist.
func (e *Engine) PendingChanges() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// Online reports the last observed connectivity.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// SetOnline feeds a connectivity signal into the state machine. The
// daemon's probe loop calls this; tests drive it directly.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	changed := e.online != online
	e.online = online
	if changed {
		if !online {
			// Local writes while offline are remembered as dirty but not
			// surfaced as pending until connectivity returns.
			e.pending = false
			e.setStateLocked(StateOffline)
		} else if e.dirty {
			e.pending = true
			e.setStateLocked(StatePendingChanges)
		} else {
			e.setStateLocked(StateIdle)
		}
	}
	e.mu.Unlock()
}

// markUnsynced records a local mutation that the remote store has not
// confirmed.
func (e *Engine) markUnsynced() {
	e.mu.Lock()
	e.dirty = true
	if e.online {
		e.pending = true
		e.setStateLocked(StatePendingChanges)
	}
	e.mu.Unlock()
}

// markSynced records a confirmed full sync.
func (e *Engine) markSynced() {
	e.mu.Lock()
	e.dirty = false
	e.pending = false
	e.setStateLocked(StateIdle)
	e.mu.Unlock()
}

// setStateLocked transitions the state machine and publishes the change.
// Callers hold e.mu.
func (e *Engine) setStateLocked(s State) {
	if e.state == s {
		return
	}
	e.state = s
	e.bus.publish(Event{Type: EventState, State: s})
}
