package intercept

import "sync"

// maxMailboxBytes caps what a page may post as a challenge result.
const maxMailboxBytes = 64 * 1024

// Mailbox is a single-slot store for the result a challenge page posts
// back. Take drains the slot, so a posted value is read exactly once.
type Mailbox struct {
	mu    sync.Mutex
	value string
	full  bool
}

// Post stores the value. Oversized payloads are dropped.
func (m *Mailbox) Post(value string) bool {
	if len(value) > maxMailboxBytes {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = value
	m.full = true
	return true
}

// Take returns the stored value and empties the slot.
func (m *Mailbox) Take() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.full {
		return "", false
	}
	v := m.value
	m.value = ""
	m.full = false
	return v, true
}

// Clear empties the slot.
func (m *Mailbox) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = ""
	m.full = false
}
