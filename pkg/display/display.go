package display

import (
	"fmt"
	"io"
	"sync"
)

// Display shows times and short messages.
type Display interface {
	ShowTime(seconds float64)
	ShowMessage(text string)
	Clear()
}

// Status messages.
const (
	MessageReady      = "RDY"
	MessageConnecting = "CONN"
	MessageTriggered  = "TRIG"
	MessageError      = "ERR"
)

// FormatTime formats seconds as zero-padded SS.ss.
func FormatTime(seconds float64) string {
	return fmt.Sprintf("%05.2f", seconds)
}

// Writer renders to an io.Writer, one line per change. Repeated identical
// text is written once.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
	last   string
}

// NewWriter creates a Writer. Each line starts with prefix when set.
func NewWriter(w io.Writer, prefix string) *Writer {
	return &Writer{w: w, prefix: prefix}
}

func (d *Writer) ShowTime(seconds float64) { d.show(FormatTime(seconds)) }
func (d *Writer) ShowMessage(text string)  { d.show(text) }
func (d *Writer) Clear()                   { d.show("") }

func (d *Writer) show(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if text == d.last {
		return
	}
	d.last = text
	if d.prefix != "" {
		fmt.Fprintf(d.w, "%s %s\n", d.prefix, text)
		return
	}
	fmt.Fprintln(d.w, text)
}

// Recorder keeps the displayed text in memory.
type Recorder struct {
	mu      sync.Mutex
	text    string
	history []string
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) ShowTime(seconds float64) { r.set(FormatTime(seconds)) }
func (r *Recorder) ShowMessage(text string)  { r.set(text) }
func (r *Recorder) Clear()                   { r.set("") }

func (r *Recorder) set(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.text = text
	r.history = append(r.history, text)
}

// Text returns the current text.
func (r *Recorder) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text
}

// History returns every text shown, oldest first.
func (r *Recorder) History() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.history...)
}

var (
	_ Display = (*Writer)(nil)
	_ Display = (*Recorder)(nil)
)
