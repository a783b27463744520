// Package daemon assembles every subsystem behind one owning root,
// passed explicitly through the reactor rather than kept as
// package-level globals (design notes: "global mutable state -> owned
// root"). cmd/printspoold's main is a thin CLI/signal-handling shell
// around this package.
package daemon

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/printspool/printspoold/internal/config"
	"github.com/printspool/printspoold/internal/credential"
	"github.com/printspool/printspoold/internal/destination"
	"github.com/printspool/printspoold/internal/event"
	"github.com/printspool/printspoold/internal/logging"
	"github.com/printspool/printspoold/internal/mimegraph"
	"github.com/printspool/printspoold/internal/netiface"
	"github.com/printspool/printspoold/internal/policy"
	"github.com/printspool/printspoold/internal/quota"
	"github.com/printspool/printspoold/internal/reactor"
	"github.com/printspool/printspoold/internal/scheduler"
	"github.com/printspool/printspoold/internal/session"
)

// Root owns every process-wide table. Every reactor callback carries a
// reference to it; none of its fields are reached through package
// globals (§9 "global mutable state -> owned root").
type Root struct {
	Config config.Daemon
	Log    *logging.Logger

	Reactor      *reactor.Reactor
	Destinations *destination.Registry
	MIME         *mimegraph.Graph
	Policies     map[string]policy.Policy // name -> policy
	Quotas       *quota.Ledger
	Jobs         *scheduler.Table
	Events       *event.Bus
	Leases       *event.LeaseManager
	Credentials  *credential.Store
	NetIfaces    *netiface.Enumerator
	Sessions     *session.Manager

	// meta holds per-printer data destination.Printer has no room for
	// (device URI, error policy, remote flag, quota), keyed by the same
	// lowercased name destination.Registry uses.
	meta map[string]printerMeta
	// listeners pins every bound *net.TCPListener so its finalizer never
	// closes a fd the reactor still owns; Shutdown closes them explicitly.
	listeners []*net.TCPListener
	// reloadRequested is set by the signal-handling goroutine and
	// consumed only from the reactor goroutine (via MaybeReload), since
	// every other mutation of Root's owned state assumes a single writer.
	reloadRequested atomic.Bool
}

// New constructs every subsystem per cfg and wires the few
// cross-subsystem dependencies (the lease manager needs both the event
// bus and the reactor's timer API; the credential store needs its own
// directory under the daemon's configured roots).
func New(cfg config.Daemon, mimeTypes []string) (*Root, error) {
	log := logging.New(logging.Config{Level: cfg.LogLevel})

	rx, err := reactor.New()
	if err != nil {
		return nil, err
	}

	credDir := cfg.CertRoot
	if credDir == "" {
		credDir = cfg.SpoolRoot
	}
	creds, err := credential.NewStore(credDir, 0, cfg.SystemGroupGID)
	if err != nil {
		return nil, err
	}

	bus := event.NewBusWithLimits(event.Limits{
		MaxTotal:      cfg.MaxSubscriptionsTotal,
		MaxPerPrinter: cfg.MaxSubscriptionsPerPrinter,
		MaxPerJob:     cfg.MaxSubscriptionsPerJob,
	})

	var listeners []netiface.Listener
	ni := netiface.NewEnumerator(nil, time.Minute, cfg.HostnameLookups, cfg.ServerAddress, cfg.ServerName, listeners)

	jobs := scheduler.NewTable(1)
	jobs.MaxHistory = cfg.MaxJobHistory

	var limiter *catrate.Limiter
	if cfg.MaxSessionsPerAddress > 0 {
		limiter = catrate.NewLimiter(map[time.Duration]int{time.Second: cfg.MaxSessionsPerAddress})
	}
	sessions := session.NewManager(limiter, nil, nil, cfg.MaxClientSessions)

	root := &Root{
		Config:       cfg,
		Log:          log,
		Reactor:      rx,
		Destinations: destination.NewRegistry(),
		MIME:         mimegraph.New(mimeTypes),
		Policies:     make(map[string]policy.Policy),
		Quotas:       quota.NewLedger(),
		Jobs:         jobs,
		Events:       bus,
		Credentials:  creds,
		NetIfaces:    ni,
		Sessions:     sessions,
		meta:         make(map[string]printerMeta),
	}
	root.Leases = event.NewLeaseManager(bus, rx)
	root.armHistoryPrune()

	if err := root.loadDestinations(); err != nil {
		return nil, err
	}
	if err := root.Listen(); err != nil {
		return nil, err
	}
	root.Events.Emit(event.KindServerStarted, nil, nil, "printspoold started", time.Now())

	return root, nil
}

// RequestReload flags a pending printers.conf/classes.conf/subscriptions.conf
// reload and wakes the reactor; safe to call from the signal-handling
// goroutine since it never touches Root's owned state directly (§9, §10.4).
func (r *Root) RequestReload() {
	r.reloadRequested.Store(true)
	r.Reactor.WakeFromSignal()
}

// MaybeReload consumes a pending RequestReload, if any, and re-loads the
// conf files. Must only be called from the reactor goroutine (i.e. from
// the same loop driving RunOnce), since Reload mutates Destinations/Events.
func (r *Root) MaybeReload() error {
	if !r.reloadRequested.CompareAndSwap(true, false) {
		return nil
	}
	return r.Reload()
}

// historyPruneInterval bounds how often the job-history retention cap
// (§5) is swept; this need not be tight, since the cap only trims
// jobs that have already reached a terminal state.
const historyPruneInterval = time.Minute

// armHistoryPrune schedules a self-rearming reactor timer that prunes
// the job table's terminal-job history once per historyPruneInterval.
func (r *Root) armHistoryPrune() {
	var arm func(when time.Time)
	arm = func(when time.Time) {
		r.Reactor.AddTimer(when, func(any) {
			r.Jobs.PruneHistory()
			arm(time.Now().Add(historyPruneInterval))
		}, nil)
	}
	arm(time.Now().Add(historyPruneInterval))
}

// RunOnce drives one reactor iteration (fd readiness + due timers),
// blocking up to timeout when nothing is ready. The CLI entrypoint
// loops this until shutdown.
func (r *Root) RunOnce(timeout time.Duration) error {
	return r.Reactor.RunOnce(timeout)
}

// Shutdown closes every bound listener and releases the reactor's poller
// fd; subsystems with no open fds of their own (job table, registries,
// ledgers) need no explicit teardown.
func (r *Root) Shutdown() error {
	r.Events.Emit(event.KindServerStopped, nil, nil, "printspoold stopping", time.Now())
	for _, ln := range r.listeners {
		_ = ln.Close()
	}
	return r.Reactor.Close()
}
