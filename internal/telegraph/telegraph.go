package telegraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/zulandar/frontdesk/internal/channel"
)

// ErrDaemonStopped is returned by Do once the daemon loop has exited.
var ErrDaemonStopped = errors.New("telegraph: daemon stopped")

// notifyBufferSize bounds how many notices may wait for the notifier.
const notifyBufferSize = 32

// Daemon is the desk's event loop. It owns the only goroutine that mutates
// the registry: inbound events, connection changes, operator actions and
// digest timers are handled one at a time, and deferred tasks are drained
// after each.
type Daemon struct {
	registry   *channel.Registry
	transport  Transport
	notifier   Notifier
	tasks      *Tasks
	router     *Router
	dispatcher *Dispatcher

	notifyChannel string
	walkUpAlerts  bool
	digestCron    string
	now           func() time.Time
	out           io.Writer

	actions chan action
	notices chan OutboundMessage
	done    chan struct{}
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Registry      *channel.Registry // defaults to a new registry journaling conflicts
	Transport     Transport
	Notifier      Notifier // optional; enables walk-up alerts and digests
	Journal       Journal  // optional
	Operator      Operator
	NotifyChannel string // channel for notices; empty uses the notifier default
	WalkUpAlerts  bool
	DigestCron    string           // 5-field cron; empty disables the digest
	Now           func() time.Time // defaults to time.Now
	Out           io.Writer        // defaults to os.Stdout
}

type action struct {
	fn    func(*Dispatcher) error
	reply chan error
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("telegraph: transport is required")
	}
	if opts.DigestCron != "" {
		if err := ValidateCron(opts.DigestCron); err != nil {
			return nil, err
		}
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	reg := opts.Registry
	if reg == nil {
		reg = channel.NewRegistry(channel.RegistryOpts{
			Now:        now,
			OnConflict: ConflictRecorder(opts.Journal),
		})
	}
	if opts.Notifier == nil {
		fmt.Fprintf(out, "telegraph: no notifier configured; alerts and digests disabled\n")
	}

	d := &Daemon{
		registry:      reg,
		transport:     opts.Transport,
		notifier:      opts.Notifier,
		tasks:         &Tasks{},
		notifyChannel: opts.NotifyChannel,
		walkUpAlerts:  opts.WalkUpAlerts,
		digestCron:    opts.DigestCron,
		now:           now,
		out:           out,
		actions:       make(chan action),
		notices:       make(chan OutboundMessage, notifyBufferSize),
		done:          make(chan struct{}),
	}

	router, err := NewRouter(RouterOpts{
		Registry: reg,
		Tasks:    d.tasks,
		Journal:  opts.Journal,
		OnWalkUp: d.walkUp,
		Now:      now,
		Out:      out,
	})
	if err != nil {
		return nil, err
	}
	dispatcher, err := NewDispatcher(DispatcherOpts{
		Registry:  reg,
		Transport: opts.Transport,
		Tasks:     d.tasks,
		Journal:   opts.Journal,
		Operator:  opts.Operator,
		Out:       out,
	})
	if err != nil {
		return nil, err
	}
	d.router = router
	d.dispatcher = dispatcher
	return d, nil
}

// Registry returns the registry the daemon mutates. Callers must only read
// from it; mutations go through Do.
func (d *Daemon) Registry() *channel.Registry { return d.registry }

// Do runs fn on the daemon loop and returns its error once fn and every
// task it deferred have completed.
func (d *Daemon) Do(ctx context.Context, fn func(*Dispatcher) error) error {
	a := action{fn: fn, reply: make(chan error, 1)}
	select {
	case d.actions <- a:
	case <-d.done:
		return ErrDaemonStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-a.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run connects the transport and processes events until the context is
// cancelled or the transport's event stream ends. On shutdown it closes
// the transport.
func (d *Daemon) Run(ctx context.Context) error {
	defer close(d.done)

	fmt.Fprintf(d.out, "Desk connecting...\n")
	if err := d.transport.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}
	inbound, err := d.transport.Listen(ctx)
	if err != nil {
		d.transport.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}

	var states <-chan ConnState
	if sr, ok := d.transport.(StateReporter); ok {
		states = sr.States()
	} else {
		// Without state reports the initial connect is the only one.
		d.onConnected(ctx)
	}

	notifyCtx, stopNotify := context.WithCancel(context.WithoutCancel(ctx))
	notifyDone := make(chan struct{})
	go d.pumpNotices(notifyCtx, notifyDone)
	defer func() {
		close(d.notices)
		<-notifyDone
		stopNotify()
	}()

	var digestTimer *time.Timer
	if d.digestCron != "" && d.notifier != nil {
		if wait := nextCronDuration(d.digestCron, d.now()); wait > 0 {
			digestTimer = time.NewTimer(wait)
			defer digestTimer.Stop()
		}
	}

	fmt.Fprintf(d.out, "Desk online\n")

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Desk shutting down...\n")
			if err := d.transport.Close(); err != nil {
				log.Printf("telegraph: close transport: %v", err)
			}
			fmt.Fprintf(d.out, "Desk stopped\n")
			return nil

		case ev, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Desk inbound channel closed\n")
				return nil
			}
			d.router.Handle(ctx, ev)
			d.dispatcher.readFocused()
			d.tasks.Drain()

		case st, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			fmt.Fprintf(d.out, "telegraph: connection %s\n", st)
			if st == StateConnected {
				d.onConnected(ctx)
			}
			d.dispatcher.readFocused()
			d.tasks.Drain()

		case a := <-d.actions:
			err := a.fn(d.dispatcher)
			d.dispatcher.readFocused()
			d.tasks.Drain()
			a.reply <- err

		case <-timerChan(digestTimer):
			d.fireDigest()
			if wait := nextCronDuration(d.digestCron, d.now()); wait > 0 {
				digestTimer.Reset(wait)
			}
		}
	}
}

// onConnected starts a fresh connection epoch: the backlog is applied
// again in full and re-requested from the backend.
func (d *Daemon) onConnected(ctx context.Context) {
	d.router.ResetConnection()
	if err := d.dispatcher.RequestOpenSessions(ctx); err != nil {
		log.Printf("telegraph: request open sessions: %v", err)
	}
}

// walkUp queues an alert for a conversation the backlog did not announce.
func (d *Daemon) walkUp(c channel.Channel) {
	if !d.walkUpAlerts || d.notifier == nil {
		return
	}
	d.notify(OutboundMessage{
		Channel: d.notifyChannel,
		Events:  []FormattedEvent{FormatWalkUp(c)},
	})
}

// fireDigest queues a queue summary. Empty queues are not reported.
func (d *Daemon) fireDigest() {
	report := BuildQueueReport(d.registry.Snapshot(), d.now())
	if report.Empty() {
		return
	}
	d.notify(OutboundMessage{
		Channel: d.notifyChannel,
		Events:  []FormattedEvent{FormatDigest(report)},
	})
}

// notify hands msg to the notifier pump without blocking the loop.
func (d *Daemon) notify(msg OutboundMessage) {
	select {
	case d.notices <- msg:
	default:
		log.Printf("telegraph: notifier backlog full; dropping notice")
	}
}

// pumpNotices posts queued notices until the queue is closed.
func (d *Daemon) pumpNotices(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for msg := range d.notices {
		if d.notifier == nil {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := d.notifier.Notify(sendCtx, msg); err != nil {
			log.Printf("telegraph: notify: %v", err)
		}
		cancel()
	}
}

// timerChan returns the timer's channel, or nil if the timer is nil.
// A nil channel blocks forever in select.
func timerChan(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
