// Package eventloop implements §4.6's single-threaded, cooperative,
// level-triggered action scheduler. Go's net.Conn does not expose the
// level-triggered, multi-fd multiplexing the worker's design needs (one
// loop iteration must re-check every registered fd every time, not just
// the ones that most recently became ready), so the loop is built
// directly on golang.org/x/sys/unix.Poll.
package eventloop

import (
	"errors"
	"sort"
	"time"

	"golang.org/x/sys/unix"
)

// Direction is which readiness condition an Action cares about.
type Direction int

const (
	In Direction = iota
	Out
)

// Action is one registered callback of §4.6: it fires whenever fd is
// ready for Direction, provided Guard (if set) returns true. Guard lets
// an action opt out without being deregistered, e.g. an outQueue flush
// action that only fires once bytes are actually pending.
type Action struct {
	Name      string
	Fd        int
	Direction Direction

	// Guard, if non-nil, is consulted before Callback on every tick the
	// fd is readable/writable. A false Guard skips the callback without
	// treating the tick as idle.
	Guard func() bool

	// Callback runs when the action fires. Returning an error stops the
	// loop (after ErrorCallback, if set, has had a chance to run).
	Callback func() error

	// ErrorCallback, if set, is invoked with the callback's error before
	// the loop unwinds. It may swallow the error by returning nil.
	ErrorCallback func(error) error
}

// dummyFD is a fd value that is never registered for polling: actions
// carrying it are kept out of the poll set and considered on every tick,
// with their Guard alone deciding whether they fire.
const dummyFD = -1

// DummyFD is the fd value callers pass on an Action whose readiness is
// entirely determined by its Guard (§4.6) rather than any real socket.
const DummyFD = dummyFD

// TimerAction is a Callback that should run every Interval, independent
// of any fd's readiness (§4.7's peerTimer, outQueueTimer, etc).
type TimerAction struct {
	Name     string
	Interval time.Duration
	Callback func() error

	next time.Time
}

// Loop is the worker's single-threaded action scheduler. All of its
// methods are expected to run on the same goroutine; nothing here takes
// a lock.
type Loop struct {
	actions []*Action
	timers  []*TimerAction

	// pacingGates report, in microseconds, how long until a paced sender
	// (a transport.Endpoint's token bucket) next admits a send. §4.6 step
	// 1 folds the shortest of these into the poll timeout, alongside the
	// nearest timer deadline, so the loop wakes as soon as pacing clears
	// rather than waiting out the default timeout.
	pacingGates []func() int64

	// registrationOrder preserves the order in which Actions were added,
	// so that within one poll tick ready actions fire in a deterministic
	// sequence (§8's "deterministic tick ordering" property) rather than
	// in whatever order unix.Poll happens to report them.
	registrationOrder map[*Action]int
	nextOrder         int
}

// New returns an empty Loop.
func New() *Loop {
	return &Loop{
		registrationOrder: make(map[*Action]int),
	}
}

// AddAction registers a new Action. It is appended after every
// previously registered action with the same fd/direction, giving
// deterministic relative ordering.
func (l *Loop) AddAction(a *Action) {
	l.actions = append(l.actions, a)
	l.registrationOrder[a] = l.nextOrder
	l.nextOrder++
}

// RemoveAction deregisters a.
func (l *Loop) RemoveAction(a *Action) {
	for i, existing := range l.actions {
		if existing == a {
			l.actions = append(l.actions[:i], l.actions[i+1:]...)
			delete(l.registrationOrder, a)
			return
		}
	}
}

// AddTimer registers t, armed to first fire Interval from now.
func (l *Loop) AddTimer(now time.Time, t *TimerAction) {
	t.next = now.Add(t.Interval)
	l.timers = append(l.timers, t)
}

// AddPacingGate registers a pacing source: a func reporting, in
// microseconds, how long until it next admits a send (negative or zero
// means ready now). The poll timeout shortens to match the nearest one
// (§4.6 step 1: "for each UDP endpoint not within pace, the shorter of
// time until it is within pace, default ∞").
func (l *Loop) AddPacingGate(f func() int64) {
	l.pacingGates = append(l.pacingGates, f)
}

// errStop is a sentinel the loop uses internally to distinguish a
// deliberate CancelAll from a propagated callback error.
var errStop = errors.New("eventloop: stop")

// Tick runs one iteration: it computes how long the next poll may
// block (bounded by the nearest timer deadline), polls, and then fires
// every ready action and due timer in deterministic registration order.
// It returns false as soon as any action or timer callback asks to stop
// (by returning errStop, constructed by CancelAll) or a callback's error
// propagated unhandled.
func (l *Loop) Tick(now time.Time) (bool, error) {
	timeoutMs := l.pollTimeoutMillis(now)

	pollFds, byFd, dummyActions := l.buildPollSet()
	if len(pollFds) == 0 {
		// Nothing to wait on; still respect the timer deadline so timers
		// fire even with zero registered fd actions.
		if timeoutMs > 0 {
			time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
		}
	} else {
		_, err := unix.Poll(pollFds, timeoutMs)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				return true, nil
			}
			return false, err
		}
	}

	// dummyFD actions are guard-driven, not readiness-driven, so they are
	// considered every tick regardless of what the poll reported.
	if cont, err := l.fireReady(pollFds, byFd, dummyActions); !cont || err != nil {
		return cont, err
	}

	return l.fireDueTimers(now)
}

// Run drives Tick in a loop using time.Now for each iteration, until it
// returns false or an error.
func (l *Loop) Run() error {
	for {
		cont, err := l.Tick(time.Now())
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
}

// CancelAll is a Callback an Action can return from to stop the loop
// cleanly on its next unwind.
func CancelAll() error { return errStop }

func (l *Loop) pollTimeoutMillis(now time.Time) int {
	const defaultTimeout = 100
	best := time.Duration(defaultTimeout) * time.Millisecond
	for _, t := range l.timers {
		if d := t.next.Sub(now); d < best {
			best = d
		}
	}
	for _, gate := range l.pacingGates {
		micros := gate()
		d := time.Duration(micros) * time.Microsecond
		if d < 0 {
			d = 0
		}
		if d < best {
			best = d
		}
	}
	if best < 0 {
		best = 0
	}
	return int(best / time.Millisecond)
}

func (l *Loop) buildPollSet() ([]unix.PollFd, map[int][]*Action, []*Action) {
	byFd := make(map[int][]*Action)
	var dummyActions []*Action
	for _, a := range l.actions {
		if a.Fd == dummyFD {
			dummyActions = append(dummyActions, a)
			continue
		}
		byFd[a.Fd] = append(byFd[a.Fd], a)
	}

	fds := make([]int, 0, len(byFd))
	for fd := range byFd {
		fds = append(fds, fd)
	}
	sort.Ints(fds) // deterministic poll-set ordering across ticks

	pollFds := make([]unix.PollFd, 0, len(fds))
	for _, fd := range fds {
		var events int16
		for _, a := range byFd[fd] {
			if a.Direction == In {
				events |= unix.POLLIN
			} else {
				events |= unix.POLLOUT
			}
		}
		pollFds = append(pollFds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	return pollFds, byFd, dummyActions
}

func (l *Loop) fireReady(pollFds []unix.PollFd, byFd map[int][]*Action, dummyActions []*Action) (bool, error) {
	ready := make(map[*Action]bool)
	for _, a := range dummyActions {
		ready[a] = true
	}
	for _, pf := range pollFds {
		if pf.Revents == 0 {
			continue
		}
		for _, a := range byFd[int(pf.Fd)] {
			if a.Direction == In && pf.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
				ready[a] = true
			}
			if a.Direction == Out && pf.Revents&(unix.POLLOUT|unix.POLLERR) != 0 {
				ready[a] = true
			}
		}
	}

	ordered := make([]*Action, 0, len(ready))
	for a := range ready {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return l.registrationOrder[ordered[i]] < l.registrationOrder[ordered[j]]
	})

	for _, a := range ordered {
		if a.Guard != nil && !a.Guard() {
			continue
		}
		if err := a.Callback(); err != nil {
			if errors.Is(err, errStop) {
				return false, nil
			}
			if a.ErrorCallback != nil {
				handled := a.ErrorCallback(err)
				if handled == nil {
					continue
				}
				return false, handled
			}
			return false, err
		}
	}
	return true, nil
}

func (l *Loop) fireDueTimers(now time.Time) (bool, error) {
	for _, t := range l.timers {
		if now.Before(t.next) {
			continue
		}
		t.next = now.Add(t.Interval)
		if err := t.Callback(); err != nil {
			if errors.Is(err, errStop) {
				return false, nil
			}
			return false, err
		}
	}
	return true, nil
}
