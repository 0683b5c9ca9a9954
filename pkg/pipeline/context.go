package pipeline

import (
	"github.com/saylorsolutions/logsift/pkg/entries"
	"github.com/saylorsolutions/logsift/pkg/script"
)

// Meta is the source position of the chunk being processed.
type Meta struct {
	Filename string
	Line     int
}

// RunContext is the mutable state of one sequential run or one parallel batch.
// It's never shared between workers, with the exception of Stats which is updated atomically.
type RunContext struct {
	Policy ErrorPolicy
	Keys   []string
	// ExcludeKeys are removed from output after Keys is applied.
	ExcludeKeys []string
	Tracker     *script.Tracker
	// Window is nil when nothing reads the window.
	Window WindowManager
	Scope  *script.Scope
	Meta   Meta
	Stats  *Stats
}

// Bind prepares the script scope to evaluate ev against the current window.
func (rc *RunContext) Bind(ev *entries.Event) {
	var window []entries.LogEntry
	if rc.Window != nil {
		snapshots := rc.Window.Get()
		window = make([]entries.LogEntry, len(snapshots))
		for i, w := range snapshots {
			window[i] = w.Fields
		}
	}
	rc.Scope.Bind(ev, window)
}
