package main

import (
	"net"
	"sync"
	"time"

	"github.com/galdor/go-ledmesh/pkg/ledmesh"
)

const linkPollInterval = 10 * time.Second

type LinkStateFunc func(ifaceName string) (bool, error)

// LinkWatcher polls the state of a network interface and calls a function
// each time the link goes up or down.
type LinkWatcher struct {
	Interface    string
	Log          ledmesh.Logger
	PollInterval time.Duration
	StateFunc    LinkStateFunc

	transitionFunc func()

	up    bool
	known bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewLinkWatcher(iface string, logger ledmesh.Logger, fn func()) *LinkWatcher {
	return &LinkWatcher{
		Interface:    iface,
		Log:          logger,
		PollInterval: linkPollInterval,
		StateFunc:    interfaceUp,

		transitionFunc: fn,

		stopChan: make(chan struct{}),
	}
}

func interfaceUp(ifaceName string) (bool, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return false, err
	}

	return iface.Flags&net.FlagUp != 0, nil
}

func (w *LinkWatcher) Start() {
	w.wg.Add(1)
	go w.main()
}

func (w *LinkWatcher) Stop() {
	close(w.stopChan)
	w.wg.Wait()
}

func (w *LinkWatcher) main() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	w.poll()

	for {
		select {
		case <-w.stopChan:
			return

		case <-ticker.C:
			w.poll()
		}
	}
}

// poll returns true if a transition was detected.
func (w *LinkWatcher) poll() bool {
	up, err := w.StateFunc(w.Interface)
	if err != nil {
		w.Log.Error("cannot read interface state: %v", err)
		up = false
	}

	if !w.known {
		w.up = up
		w.known = true
		return false
	}

	if up == w.up {
		return false
	}

	w.Log.Info("link %s -> %s", linkStateString(w.up), linkStateString(up))

	w.up = up
	w.transitionFunc()

	return true
}

func linkStateString(up bool) string {
	if up {
		return "up"
	}

	return "down"
}
