package scheduler

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sambaleuk/crossroads/internal/status"
	"github.com/sambaleuk/crossroads/pkg/models"
)

// seenWindow bounds the watcher's seen-story set. Evicting old entries keeps
// memory flat on long sessions.
const seenWindow = 1000

// watcher detects external mutations of the status document. It polls on a
// fixed interval and additionally wakes up on filesystem notifications when
// available; the poll is the correctness path, the notifications only lower
// latency.
type watcher struct {
	store    *status.Store
	interval time.Duration
	post     func(loopEvent)
	fatal    func(error)
	log      func(format string, args ...interface{})

	fs   *fsnotify.Watcher
	done chan struct{}
	once sync.Once

	seen        map[string]bool
	seenOrder   []string
	layerPosted int
	allPosted   bool
	failStreak  int
}

// newWatcher creates a watcher posting events via post and fatal errors via
// fatal.
func newWatcher(store *status.Store, interval time.Duration, post func(loopEvent), fatal func(error), log func(string, ...interface{})) *watcher {
	return &watcher{
		store:       store,
		interval:    interval,
		post:        post,
		fatal:       fatal,
		log:         log,
		done:        make(chan struct{}),
		seen:        make(map[string]bool),
		layerPosted: -1,
	}
}

// start begins watching. Safe to call once.
func (w *watcher) start() {
	if fs, err := fsnotify.NewWatcher(); err == nil {
		if err := fs.Add(filepath.Dir(w.store.Path())); err == nil {
			w.fs = fs
		} else {
			fs.Close()
		}
	}
	// Polling continues regardless; a missing fsnotify watcher only costs
	// latency.

	go w.run()
}

func (w *watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var fsEvents chan fsnotify.Event
	if w.fs != nil {
		fsEvents = make(chan fsnotify.Event, 16)
		go func() {
			for {
				select {
				case ev, ok := <-w.fs.Events:
					if !ok {
						return
					}
					if filepath.Base(ev.Name) == status.FileName {
						select {
						case fsEvents <- ev:
						default:
						}
					}
				case <-w.fs.Errors:
				}
			}
		}()
	}

	// Initial scan so resumed sessions pick up prior completions promptly.
	w.scan()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.scan()
		case <-fsEvents:
			w.scan()
		}
	}
}

// scan reads the document and emits completion events.
func (w *watcher) scan() {
	doc, err := w.store.Document()
	if err != nil {
		if errors.Is(err, status.ErrNoDocument) {
			return
		}
		w.failStreak++
		w.log("[watcher] read failed (%d consecutive): %v", w.failStreak, err)
		// The store already retried a torn read once; a second consecutive
		// failure means the document is persistently unreadable.
		if w.failStreak >= 2 && errors.Is(err, status.ErrDecodeFailed) {
			w.fatal(err)
		}
		return
	}
	w.failStreak = 0

	for _, layer := range doc.Layers {
		for _, id := range layer {
			track, ok := doc.Stories[id]
			if !ok || track.Status != models.StoryStatusComplete || w.seen[id] {
				continue
			}
			w.remember(id)
			w.post(loopEvent{kind: eventStoryCompleted, storyID: id})
		}
	}

	if doc.AllComplete() {
		if !w.allPosted {
			w.allPosted = true
			w.post(loopEvent{kind: eventAllComplete})
		}
		return
	}

	cur := doc.CurrentLayer
	if cur >= 0 && cur < len(doc.Layers)-1 && doc.LayerComplete(cur) && w.layerPosted < cur {
		w.layerPosted = cur
		next := append([]string(nil), doc.Layers[cur+1]...)
		w.post(loopEvent{kind: eventLayerCompleted, layerIndex: cur, nextStories: next})
	}
}

// remember adds a story to the seen set, evicting the oldest entry past the
// window cap.
func (w *watcher) remember(id string) {
	w.seen[id] = true
	w.seenOrder = append(w.seenOrder, id)
	if len(w.seenOrder) > seenWindow {
		delete(w.seen, w.seenOrder[0])
		w.seenOrder = w.seenOrder[1:]
	}
}

// stop halts the watcher. Idempotent.
func (w *watcher) stop() {
	w.once.Do(func() {
		close(w.done)
		if w.fs != nil {
			w.fs.Close()
		}
	})
}
