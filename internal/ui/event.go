package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muurk/netbridge/internal/host"
)

// maxArgWidth caps how much of a string payload is shown.
const maxArgWidth = 60

// Event is one delivery received by a host.
type Event struct {
	Time   time.Time
	Target host.Handle
	Name   host.Event
	Args   []interface{}
}

// Handler reacts to an event on the host's thread. It may call back into
// endpoints (Send, Reply, AddTarget) but must not stop them.
type Handler func(ev Event) error

// Arg returns the i'th argument or nil.
func (e Event) Arg(i int) interface{} {
	if i < 0 || i >= len(e.Args) {
		return nil
	}
	return e.Args[i]
}

// String renders the event without styling.
func (e Event) String() string {
	return fmt.Sprintf("%s %s(%s)", e.Time.Format("15:04:05.000"), e.Name, FormatArgs(e.Args))
}

// FormatArgs renders event arguments compactly. Strings are quoted and
// shortened, byte slices show only their length.
func FormatArgs(args []interface{}) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, formatArg(a))
	}
	return strings.Join(parts, ", ")
}

func formatArg(a interface{}) string {
	switch v := a.(type) {
	case nil:
		return "nil"
	case string:
		if len(v) > maxArgWidth {
			v = v[:maxArgWidth] + "…"
		}
		return fmt.Sprintf("%q", v)
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(v))
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func eventStyle(name host.Event) lipgloss.Style {
	switch name {
	case host.ConnectionOpened, host.ClientConnected, host.ServiceResolved:
		return EventUpStyle
	case host.ConnectionClosed, host.ServiceRemoved:
		return EventDownStyle
	case host.ClientConnectFailed, host.ServiceResolveFailed:
		return EventFailStyle
	case host.HTTPRequestReceived:
		return EventHTTPStyle
	default:
		return EventDataStyle
	}
}

// RenderEvent renders one styled log line.
func RenderEvent(ev Event) string {
	return EventTimeStyle.Render(ev.Time.Format("15:04:05.000")) + " " +
		eventStyle(ev.Name).Render(string(ev.Name)) + " " +
		EventDataStyle.Render(FormatArgs(ev.Args))
}
