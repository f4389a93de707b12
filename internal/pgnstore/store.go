// Package pgnstore implements the per-PGN state table: the in-memory
// table keyed by (PGN, src, optional secondary key) of latest message
// text and expiry, plus the snapshot serializer that walks it.
//
// Store is intentionally not safe for concurrent writers. Exactly one
// goroutine (the registry event loop, see internal/registry) owns it;
// every mutation happens on that goroutine's call stack. Readers that
// need a consistent view (the HTTP status endpoint) must ask the owner
// (registry.Server.Status) rather than reaching into the map directly.
package pgnstore

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// PGN validity ranges: standard PGNs plus the manufacturer /
// Actisense BEM range.
const (
	minStandardPRN = 59391
	maxStandardPRN = 131000
	minBEMPRN      = 0x400000
	maxBEMPRN      = 0x400100 // exclusive
)

// ValidPRN reports whether prn falls within a range the store accepts.
func ValidPRN(prn uint32) bool {
	if prn >= minStandardPRN && prn <= maxStandardPRN {
		return true
	}
	if prn >= minBEMPRN && prn < maxBEMPRN {
		return true
	}
	return false
}

// Message is a single observed record for one (PGN, src, key2).
type Message struct {
	Src       uint8
	Key2      string // empty when the PGN has no secondary key
	ExpiresAt time.Time
	Text      string // raw JSON line as received, newline stripped
	live      bool   // false for a free/reusable slot
}

func (m *Message) sameKey(src uint8, key2 string) bool {
	return m.live && m.Src == src && m.Key2 == key2
}

// PgnEntry is one per distinct PGN ever observed.
type PgnEntry struct {
	PRN         uint32
	Description string
	Messages    []Message // growable; expired slots are reused in place
}

// findLive returns the index of the live message matching (src, key2), or -1.
func (e *PgnEntry) findLive(src uint8, key2 string) int {
	for i := range e.Messages {
		if e.Messages[i].sameKey(src, key2) {
			return i
		}
	}
	return -1
}

// findReusable returns the index of a free or expired slot, or -1.
func (e *PgnEntry) findReusable(now time.Time) int {
	for i := range e.Messages {
		if !e.Messages[i].live || !e.Messages[i].ExpiresAt.After(now) {
			return i
		}
	}
	return -1
}

// Store is the in-memory PGN table.
type Store struct {
	entries map[uint32]*PgnEntry
	order   []uint32 // insertion order, for snapshot stability
}

// New creates an empty store.
func New() *Store {
	return &Store{entries: make(map[uint32]*PgnEntry)}
}

// Update applies the slot-reuse update rule for one accepted record.
func (s *Store) Update(now time.Time, prn uint32, src uint8, key2, description, text string, window time.Duration) {
	entry, ok := s.entries[prn]
	if !ok {
		entry = &PgnEntry{PRN: prn, Description: description}
		s.entries[prn] = entry
		s.order = append(s.order, prn)
	}

	expiresAt := now.Add(window)

	if i := entry.findLive(src, key2); i >= 0 {
		entry.Messages[i].Text = text
		entry.Messages[i].ExpiresAt = expiresAt
		return
	}

	if i := entry.findReusable(now); i >= 0 {
		entry.Messages[i] = Message{Src: src, Key2: key2, ExpiresAt: expiresAt, Text: text, live: true}
		return
	}

	entry.Messages = append(entry.Messages, Message{Src: src, Key2: key2, ExpiresAt: expiresAt, Text: text, live: true})
}

// PGNCount returns the number of distinct PGNs ever observed.
func (s *Store) PGNCount() int {
	return len(s.entries)
}

// LiveMessageCount returns the number of non-expired messages across all PGNs.
func (s *Store) LiveMessageCount(now time.Time) int {
	n := 0
	for _, prn := range s.order {
		e := s.entries[prn]
		for i := range e.Messages {
			if e.Messages[i].live && e.Messages[i].ExpiresAt.After(now) {
				n++
			}
		}
	}
	return n
}

// Snapshot serializes every PGN holding at least one live (non-expired)
// message into a single JSON object, in PGN insertion order, with each
// PGN's children in slot order. A PGN whose every message has expired
// contributes no key at all — the top-level keys are exactly the set
// of PGNs currently holding at least one live message. The text under
// "<src>[_<key2>]" is embedded verbatim — it is already a valid JSON
// object, stored as received.
func (s *Store) Snapshot(now time.Time) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, prn := range s.order {
		e := s.entries[prn]
		var body bytes.Buffer
		body.WriteByte('{')
		body.WriteString(`"description":`)
		descJSON, _ := json.Marshal(e.Description)
		body.Write(descJSON)

		anyLive := false
		for i := range e.Messages {
			m := &e.Messages[i]
			if !m.live || !m.ExpiresAt.After(now) {
				continue
			}
			anyLive = true
			key := childKey(m.Src, m.Key2)
			keyJSON, _ := json.Marshal(key)
			body.WriteByte(',')
			body.Write(keyJSON)
			body.WriteByte(':')
			body.WriteString(m.Text)
		}
		body.WriteByte('}')

		if !anyLive {
			continue
		}

		if !first {
			buf.WriteByte(',')
		}
		first = false
		prnJSON, _ := json.Marshal(prnString(prn))
		buf.Write(prnJSON)
		buf.WriteByte(':')
		buf.Write(body.Bytes())
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// PRNs returns the set of PGNs currently holding at least one live
// message, sorted ascending — the same set as the snapshot's top-level keys.
func (s *Store) PRNs(now time.Time) []uint32 {
	var out []uint32
	for _, prn := range s.order {
		if s.entries[prn] != nil {
			for i := range s.entries[prn].Messages {
				m := &s.entries[prn].Messages[i]
				if m.live && m.ExpiresAt.After(now) {
					out = append(out, prn)
					break
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func childKey(src uint8, key2 string) string {
	if key2 == "" {
		return itoa(uint64(src))
	}
	return itoa(uint64(src)) + "_" + key2
}

func prnString(prn uint32) string {
	return itoa(uint64(prn))
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var b [20]byte
	i := len(b)
	for v > 0 {
		i--
		b[i] = byte('0' + v%10)
		v /= 10
	}
	return string(b[i:])
}
