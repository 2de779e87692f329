package streaming

import (
	"encoding/json"
	"time"
)

// EventType represents the type of SSE event
type EventType string

const (
	EventTypeRun         EventType = "run"
	EventTypeFile        EventType = "file"
	EventTypeDestination EventType = "destination"
	EventTypeComplete    EventType = "complete"
	EventTypeError       EventType = "error"
	EventTypeHeartbeat   EventType = "heartbeat"
)

// SSEEvent represents a Server-Sent Event. The payload is only reachable
// through the typed accessors so that Type and payload cannot disagree.
type SSEEvent struct {
	Type      EventType
	Timestamp time.Time
	data      interface{}
}

func newEvent(t EventType, data interface{}) SSEEvent {
	return SSEEvent{Type: t, Timestamp: time.Now(), data: data}
}

// MarshalJSON encodes the event as {"type", "timestamp", "data"}.
func (e SSEEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType   `json:"type"`
		Timestamp time.Time   `json:"timestamp"`
		Data      interface{} `json:"data"`
	}{e.Type, e.Timestamp, e.data})
}

// Data returns the raw payload.
func (e SSEEvent) Data() interface{} { return e.data }

// RunEvent is the state of a run when a client connects.
type RunEvent struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	DryRun    bool      `json:"dryRun"`
	StartedAt time.Time `json:"startedAt"`
}

// FileEvent reports one input file.
type FileEvent struct {
	Path     string `json:"path"`
	Parser   string `json:"parser,omitempty"`
	Status   string `json:"status"`
	Trades   int    `json:"trades"`
	Rejected int    `json:"rejected"`
	Error    string `json:"error,omitempty"`
}

// DestinationEvent reports one finished ledger sheet.
type DestinationEvent struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Created    bool   `json:"created"`
	New        int    `json:"new"`
	Duplicates int    `json:"duplicates"`
	Invalid    int    `json:"invalid"`
	Range      string `json:"range,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CompleteEvent is the last event of a run.
type CompleteEvent struct {
	RunID        string   `json:"runId"`
	Status       string   `json:"status"`
	Appended     int      `json:"appended"`
	Duplicates   int      `json:"duplicates"`
	FailedSheets []string `json:"failedSheets"`
	Dashboard    string   `json:"dashboard"`
}

// ErrorEvent ends a run that failed before completing.
type ErrorEvent struct {
	Message string `json:"message"`
	RunID   string `json:"runId,omitempty"`
}

func NewRunEvent(e RunEvent) SSEEvent                 { return newEvent(EventTypeRun, e) }
func NewFileEvent(e FileEvent) SSEEvent               { return newEvent(EventTypeFile, e) }
func NewDestinationEvent(e DestinationEvent) SSEEvent { return newEvent(EventTypeDestination, e) }
func NewErrorEvent(e ErrorEvent) SSEEvent             { return newEvent(EventTypeError, e) }

// NewCompleteEvent builds the terminal event. A nil payload is allowed.
func NewCompleteEvent(e *CompleteEvent) SSEEvent {
	if e == nil {
		return newEvent(EventTypeComplete, nil)
	}
	return newEvent(EventTypeComplete, *e)
}

func (e SSEEvent) RunData() (RunEvent, bool) {
	d, ok := e.data.(RunEvent)
	return d, ok && e.Type == EventTypeRun
}

func (e SSEEvent) FileData() (FileEvent, bool) {
	d, ok := e.data.(FileEvent)
	return d, ok && e.Type == EventTypeFile
}

func (e SSEEvent) DestinationData() (DestinationEvent, bool) {
	d, ok := e.data.(DestinationEvent)
	return d, ok && e.Type == EventTypeDestination
}

func (e SSEEvent) CompleteData() (CompleteEvent, bool) {
	d, ok := e.data.(CompleteEvent)
	return d, ok && e.Type == EventTypeComplete
}

func (e SSEEvent) ErrorData() (ErrorEvent, bool) {
	d, ok := e.data.(ErrorEvent)
	return d, ok && e.Type == EventTypeError
}
