package executor

// Kind tags an OutputLine.
type Kind string

const (
	KindLog   Kind = "LOG"
	KindInfo  Kind = "INFO"
	KindError Kind = "ERROR"
)

// OutputLine is one unit of streamed progress.
type OutputLine struct {
	Kind     Kind
	Text     string
	Terminal bool
}

// Log returns a LOG line.
func Log(text string) OutputLine { return OutputLine{Kind: KindLog, Text: text} }

// Info returns an INFO line.
func Info(text string) OutputLine { return OutputLine{Kind: KindInfo, Text: text} }

// Error returns an ERROR line.
func Error(text string) OutputLine { return OutputLine{Kind: KindError, Text: text} }

// Render formats the line for the wire as "<KIND>: <text>\n".
func (l OutputLine) Render() string {
	return string(l.Kind) + ": " + l.Text + "\n"
}
