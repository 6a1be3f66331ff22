package integration

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// TranscriptDirection labels a transcript entry.
type TranscriptDirection string

const (
	TranscriptRequest  TranscriptDirection = "request"
	TranscriptResponse TranscriptDirection = "response"
	TranscriptNote     TranscriptDirection = "note"
)

// TranscriptEntry is one timestamped block in the call log.
type TranscriptEntry struct {
	At        time.Time
	Direction TranscriptDirection
	Label     string
	Body      string
}

// Transcript is the append-only request/response log kept per adapter
// invocation. Entries are written before each network call and after
// each response, so the log reflects true call order even when a later
// step fails. The mutex guards concurrent appends from auxiliary
// goroutines (e.g. document retrieval).
type Transcript struct {
	mu      sync.Mutex
	entries []TranscriptEntry
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append adds an entry with the current timestamp.
func (t *Transcript) Append(dir TranscriptDirection, label, body string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TranscriptEntry{
		At:        time.Now().UTC(),
		Direction: dir,
		Label:     label,
		Body:      body,
	})
}

// Request records an outgoing carrier request body.
func (t *Transcript) Request(label, body string) { t.Append(TranscriptRequest, label, body) }

// Response records a carrier response body.
func (t *Transcript) Response(label, body string) { t.Append(TranscriptResponse, label, body) }

// Note records an out-of-band event (classification decision, degraded
// step, retry).
func (t *Transcript) Note(format string, args ...any) {
	t.Append(TranscriptNote, "note", fmt.Sprintf(format, args...))
}

// Entries returns a copy of the recorded entries in call order.
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of recorded entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// String renders the transcript as an ordered list of timestamped
// blocks for support display.
func (t *Transcript) String() string {
	var b strings.Builder
	for _, e := range t.Entries() {
		fmt.Fprintf(&b, "--------======= %s (%s) =======--------\n", e.Label, e.Direction)
		fmt.Fprintf(&b, "%s\n%s\n", e.At.Format(time.RFC3339), e.Body)
	}
	return b.String()
}
