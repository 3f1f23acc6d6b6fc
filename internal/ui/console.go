package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/muurk/netbridge/internal/host"
)

// Printer provides methods for printing UI components to a writer.
type Printer struct {
	out   io.Writer
	width int
}

// NewPrinter creates a new Printer that writes to the given writer.
// If w is nil, os.Stdout is used.
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = os.Stdout
	}
	return &Printer{
		out:   w,
		width: GetTerminalWidth(),
	}
}

// Width returns the current terminal width used by this printer
func (p *Printer) Width() int {
	return p.width
}

// Println writes content with a newline
func (p *Printer) Println(content string) {
	_, _ = fmt.Fprintln(p.out, content)
}

// Newline prints an empty line
func (p *Printer) Newline() {
	_, _ = fmt.Fprintln(p.out)
}

// PrintHeader prints a command header box
func (p *Printer) PrintHeader(title, command string, params map[string]string) {
	p.Println(NewHeader(title, command, params).SetWidth(p.width).Render())
}

// PrintSuccess prints a success result box
func (p *Printer) PrintSuccess(title string, details map[string]string) {
	p.Println(NewSuccessResult(title, details).SetWidth(p.width).Render())
}

// PrintError prints an error result box with troubleshooting tips
func (p *Printer) PrintError(title string, err error, troubleshooting []string) {
	p.Println(NewFailureResult(title, err, troubleshooting).SetWidth(p.width).Render())
}

// Console is a line-oriented host. Each delivery is printed as one log line
// and then passed to the handler.
type Console struct {
	*Printer
	handler Handler
}

// NewConsole returns a console host writing to w.
func NewConsole(w io.Writer, handler Handler) *Console {
	return &Console{Printer: NewPrinter(w), handler: handler}
}

// Invoke implements host.Invoker.
func (c *Console) Invoke(target host.Handle, event host.Event, args ...interface{}) error {
	ev := Event{Time: time.Now(), Target: target, Name: event, Args: args}
	c.Println(RenderEvent(ev))
	if c.handler == nil {
		return nil
	}
	return c.handler(ev)
}
