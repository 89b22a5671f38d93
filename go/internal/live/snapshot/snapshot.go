// Package snapshot holds the full-state mapping served by GET /api/state.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Entry is the state of one entity. On the wire it is the tuple
// [active, content].
type Entry struct {
	Active  bool
	Content string
}

// MarshalJSON encodes the entry as [active, content].
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{e.Active, e.Content})
}

// UnmarshalJSON decodes [active, content].
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode entry: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("decode entry: expected 2 elements, got %d", len(raw))
	}
	if err := json.Unmarshal(raw[0], &e.Active); err != nil {
		return fmt.Errorf("decode entry active: %w", err)
	}
	if err := json.Unmarshal(raw[1], &e.Content); err != nil {
		return fmt.Errorf("decode entry content: %w", err)
	}
	return nil
}

// Snapshot maps uid to entry at one point in time.
type Snapshot map[string]Entry

// UIDs returns the uids in sorted order.
func (s Snapshot) UIDs() []string {
	uids := make([]string, 0, len(s))
	for uid := range s {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

// Clone returns an independent copy.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for uid, e := range s {
		out[uid] = e
	}
	return out
}

// Active returns the uid of the active entity, if any.
func (s Snapshot) Active() (string, bool) {
	for _, uid := range s.UIDs() {
		if s[uid].Active {
			return uid, true
		}
	}
	return "", false
}
