// Package trip provides structured failure records for capture sessions.
//
// A capture session never stops because of a network failure: a frame that
// fails to upload is simply lost, and a finalize that fails still returns the
// session to idle. The trip package keeps a record of those failures so they
// can be logged and summarized when the session ends.
package trip

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Failure kinds recorded during a capture session.
const (
	KindSnapshot = "snapshot" // the scene could not produce a still frame
	KindEncode   = "encode"   // the still frame could not be encoded
	KindUpload   = "upload"   // a frame POST was rejected or failed in transit
	KindFinalize = "finalize" // the archive could not be retrieved or saved
	KindAsset    = "asset"    // a model or background could not be fetched or decoded
)

// Trip represents one failure with context.
//
// Example usage:
//
//	t := NewStumble(KindUpload, "status 502", Context{"session": id}).WithFrame(12)
//	handler.Record(t)
type Trip struct {
	Kind      string    // Failure category, one of the Kind constants
	Message   string    // Human-readable description
	Context   Context   // Additional debugging information
	Timestamp time.Time // When the failure occurred
	Frame     int       // Frame sequence number, 0 when not frame related
	Severity  Severity  // How serious this failure is
}

// Context provides structured debugging information for trips.
type Context map[string]interface{}

// Severity indicates how serious a trip is.
type Severity int

const (
	// Stumble is a failure that only degrades the result, such as a lost frame.
	Stumble Severity = iota

	// Error is a failure of a whole step, such as the finalize request.
	Error

	// Fall is a failure that leaves the viewer unusable, such as a missing model.
	Fall
)

func (s Severity) String() string {
	switch s {
	case Stumble:
		return "stumble"
	case Error:
		return "error"
	case Fall:
		return "fall"
	default:
		return "unknown"
	}
}

// NewTrip creates a new trip with Error severity.
func NewTrip(kind, message string, context Context) *Trip {
	return &Trip{
		Kind:      kind,
		Message:   message,
		Context:   context,
		Timestamp: time.Now(),
		Severity:  Error,
	}
}

// NewStumble creates a new trip with Stumble severity.
func NewStumble(kind, message string, context Context) *Trip {
	t := NewTrip(kind, message, context)
	t.Severity = Stumble
	return t
}

// NewFall creates a new trip with Fall severity.
func NewFall(kind, message string, context Context) *Trip {
	t := NewTrip(kind, message, context)
	t.Severity = Fall
	return t
}

// FromError builds a trip of the given kind and severity from err.
func FromError(kind string, severity Severity, err error, context Context) *Trip {
	t := NewTrip(kind, err.Error(), context)
	t.Severity = severity
	return t
}

// WithFrame sets the frame sequence number for this trip.
func (t *Trip) WithFrame(frame int) *Trip {
	t.Frame = frame
	return t
}

// Error implements the error interface.
func (t *Trip) Error() string {
	return fmt.Sprintf("[%s:%s] %s", t.Kind, t.Severity, t.Message)
}

// CanRecover returns true if the session can continue despite this trip.
func (t *Trip) CanRecover() bool {
	return t.Severity == Stumble
}

// IsFall returns true if this trip leaves the viewer unusable.
func (t *Trip) IsFall() bool {
	return t.Severity == Fall
}

// DetailedString returns a multi-line description with context, keys sorted.
func (t *Trip) DetailedString() string {
	var details strings.Builder

	details.WriteString(t.Error())
	details.WriteString(fmt.Sprintf("\n  Time: %s", t.Timestamp.Format("15:04:05.000")))

	if t.Frame > 0 {
		details.WriteString(fmt.Sprintf("\n  Frame: %d", t.Frame))
	}

	if len(t.Context) > 0 {
		keys := make([]string, 0, len(t.Context))
		for key := range t.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		details.WriteString("\n  Context:")
		for _, key := range keys {
			details.WriteString(fmt.Sprintf("\n    %s: %v", key, t.Context[key]))
		}
	}

	return details.String()
}

// Handler collects trips for one component. It is safe for concurrent use;
// upload completions record into it from their own goroutines.
type Handler struct {
	component string

	mu       sync.Mutex
	trips    []*Trip // Error and Fall severities, in arrival order
	stumbles []*Trip // Stumble severity, in arrival order
}

// NewHandler creates a new handler for a specific component.
func NewHandler(component string) *Handler {
	return &Handler{component: component}
}

// Record adds a trip to the handler's collection.
func (h *Handler) Record(trip *Trip) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if trip.Severity == Stumble {
		h.stumbles = append(h.stumbles, trip)
	} else {
		h.trips = append(h.trips, trip)
	}
}

// Reset drops every recorded trip.
func (h *Handler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trips = nil
	h.stumbles = nil
}

// HasTrips returns true if any non-stumble trips have been recorded.
func (h *Handler) HasTrips() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.trips) > 0
}

// HasStumbles returns true if any stumbles have been recorded.
func (h *Handler) HasStumbles() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.stumbles) > 0
}

// GetTrips returns a copy of all recorded non-stumble trips.
func (h *Handler) GetTrips() []*Trip {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Trip(nil), h.trips...)
}

// All returns the trips followed by the stumbles.
func (h *Handler) All() []*Trip {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := make([]*Trip, 0, len(h.trips)+len(h.stumbles))
	all = append(all, h.trips...)
	return append(all, h.stumbles...)
}

// GetStumbles returns a copy of all recorded stumbles.
func (h *Handler) GetStumbles() []*Trip {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Trip(nil), h.stumbles...)
}

// Summary provides a one-line overview of all trips and stumbles.
func (h *Handler) Summary() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.trips) == 0 && len(h.stumbles) == 0 {
		return fmt.Sprintf("[%s] no issues", h.component)
	}

	return fmt.Sprintf("[%s] %d trips, %d stumbles",
		h.component, len(h.trips), len(h.stumbles))
}

// DetailedReport provides a multi-line report of all issues.
func (h *Handler) DetailedReport() string {
	summary := h.Summary()
	trips := h.GetTrips()
	stumbles := h.GetStumbles()

	var report strings.Builder

	report.WriteString(fmt.Sprintf("=== %s report ===\n", h.component))
	report.WriteString(summary + "\n")

	if len(trips) > 0 {
		report.WriteString("\nTrips:\n")
		for i, trip := range trips {
			report.WriteString(fmt.Sprintf("%d. %s\n", i+1, trip.DetailedString()))
		}
	}

	if len(stumbles) > 0 {
		report.WriteString("\nStumbles:\n")
		for i, stumble := range stumbles {
			report.WriteString(fmt.Sprintf("%d. %s\n", i+1, stumble.DetailedString()))
		}
	}

	return report.String()
}
