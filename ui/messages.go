package ui

// markdownRenderedMsg carries an assistant entry rendered for the terminal.
// Source is the content that was rendered so stale results can be dropped.
type markdownRenderedMsg struct {
	EntryID  string
	Source   string
	Width    int
	Rendered string
}

type flashTickMsg struct{}

type clipboardMsg struct {
	What string
	Err  error
}

type transcriptExportedMsg struct {
	Path string
	Err  error
}

type statusNoteExpiredMsg struct{}
