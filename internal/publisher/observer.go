package publisher

import (
	"github.com/blacktop/polyglot/internal/logutil"
	"github.com/blacktop/polyglot/internal/xpost"
)

// EventKind classifies an Event.
type EventKind int

const (
	// EventPublished fires once per requested network after a publish call settles.
	EventPublished EventKind = iota
	// EventInitFailed fires for each client whose initialization failed.
	EventInitFailed
	// EventCleanupFailed fires for each client whose cleanup failed.
	EventCleanupFailed
)

// Event is delivered to an Observer.
type Event struct {
	Kind    EventKind
	Network xpost.Network
	Result  *xpost.Result
	Err     error
}

// Observer receives lifecycle events. It may be called from several
// goroutines at once.
type Observer func(Event)

func logObserver(ev Event) {
	switch ev.Kind {
	case EventPublished:
		if ev.Result != nil && ev.Result.Success {
			logutil.Debugf("published to %s: id=%s url=%s", ev.Network, ev.Result.PostID, ev.Result.URL)
			return
		}
		logutil.Debugf("publish to %s failed: %v", ev.Network, ev.Err)
	case EventInitFailed:
		logutil.Debugf("initialize %s failed: %v", ev.Network, ev.Err)
	case EventCleanupFailed:
		logutil.Errorf("%v", ev.Err)
	}
}
