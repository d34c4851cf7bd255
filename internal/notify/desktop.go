package notify

import (
	"github.com/gen2brain/beeep"
)

// DesktopSink raises an OS notification through beeep.
type DesktopSink struct {
	Title string
	Icon  string
}

// Deliver implements Sink.
func (d DesktopSink) Deliver(n Notification) error {
	title := d.Title
	if title == "" {
		title = "CPAMC"
	}
	if n.Kind == KindError {
		return beeep.Alert(title+" error", n.Message, d.Icon)
	}
	return beeep.Notify(title, n.Message, d.Icon)
}
