package hotplug

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/yeboverify/bioid-bridge/pkg/devices"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultScanInterval = 1 * time.Second
	eventBuffer         = 32
	settleDelay         = 250 * time.Millisecond
)

var ErrListenerStopped = errors.New("hotplug listener stopped")

type Enumerator interface {
	Enumerate() ([]devices.Identity, error)
}

// Listener turns changes in the OS device list into attach and detach
// events on a single channel. Permission results from the prompter are
// published on the same channel so consumers see every OS signal in the
// order it was delivered.
type Listener struct {
	mu         sync.Mutex
	registry   Enumerator
	interval   time.Duration
	watchPaths []string
	known      map[string]devices.Identity
	events     chan Event
	done       chan struct{}
	closeOnce  sync.Once
}

func NewListener(registry Enumerator, interval time.Duration, watchPaths []string) *Listener {
	if interval <= 0 {
		interval = DefaultScanInterval
	}

	return &Listener{
		registry:   registry,
		interval:   interval,
		watchPaths: watchPaths,
		known:      make(map[string]devices.Identity),
		events:     make(chan Event, eventBuffer),
		done:       make(chan struct{}),
	}
}

func (l *Listener) Events() <-chan Event {
	return l.events
}

// Publish queues an event. It blocks while the queue is full and returns
// ErrListenerStopped once the listener has been stopped.
func (l *Listener) Publish(e Event) error {
	select {
	case <-l.done:
		return ErrListenerStopped
	default:
	}

	select {
	case l.events <- e:
		return nil
	case <-l.done:
		return ErrListenerStopped
	}
}

// Known returns the devices seen attached in the last scan.
func (l *Listener) Known() []devices.Identity {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids := make([]devices.Identity, 0, len(l.known))
	for _, id := range l.known {
		ids = append(ids, id)
	}
	return ids
}

// Scan enumerates once and publishes the difference to the previous scan.
// When enumeration partly failed no detach events are sent, a device
// missing from a failed enumerator is not gone.
func (l *Listener) Scan() {
	ids, err := l.registry.Enumerate()

	l.mu.Lock()
	current := make(map[string]devices.Identity, len(ids))
	for _, id := range ids {
		current[id.SystemID] = id
	}

	var evs []Event
	for sid, id := range current {
		if _, ok := l.known[sid]; !ok {
			evs = append(evs, Event{Kind: Attached, Device: id})
		}
	}

	if err == nil {
		for sid, id := range l.known {
			if _, ok := current[sid]; !ok {
				evs = append(evs, Event{Kind: Detached, Device: id})
			}
		}
		l.known = current
	} else {
		for sid, id := range current {
			l.known[sid] = id
		}
	}
	l.mu.Unlock()

	// detaches first so a replugged device never looks bound twice
	for _, e := range evs {
		if e.Kind != Detached {
			continue
		}
		log.Debug().Msgf("device detached: %s", e.Device)
		if l.Publish(e) != nil {
			return
		}
	}
	for _, e := range evs {
		if e.Kind != Attached {
			continue
		}
		log.Debug().Msgf("device attached: %s", e.Device)
		if l.Publish(e) != nil {
			return
		}
	}
}

func (l *Listener) watch(ctx context.Context, rescan chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func(watcher *fsnotify.Watcher) {
		err := watcher.Close()
		if err != nil {
			log.Warn().Err(err).Msg("error closing device watcher")
		}
	}(watcher)

	watching := 0
	for _, p := range l.watchPaths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		err := watcher.Add(p)
		if err != nil {
			log.Warn().Err(err).Msgf("error watching %s", p)
			continue
		}
		watching++
	}

	if watching == 0 {
		log.Debug().Msg("no device paths to watch, relying on periodic scans")
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if e.Has(fsnotify.Create) || e.Has(fsnotify.Remove) {
				select {
				case rescan <- struct{}{}:
				default:
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("device watcher error")
		}
	}
}

// Run scans immediately and then on every tick, and shortly after any
// device node is created or removed. It blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	rescan := make(chan struct{}, 1)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := l.watch(ctx, rescan)
		if err != nil {
			log.Warn().Err(err).Msg("device watcher unavailable, relying on periodic scans")
			<-ctx.Done()
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		var settle <-chan time.Time

		l.Scan()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				l.Scan()
			case <-rescan:
				// device nodes appear before udev applies permissions
				settle = time.After(settleDelay)
			case <-settle:
				settle = nil
				l.Scan()
			}
		}
	})

	err := g.Wait()
	l.Stop()
	return err
}

// Stop unblocks publishers. Events already queued stay readable.
func (l *Listener) Stop() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
}
