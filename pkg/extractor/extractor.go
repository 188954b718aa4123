//go:build linux

// Package extractor drives the stopped tracee through the two-breakpoint
// observation loop: tracking the container root and size as it mutates,
// governing the shell's invocation rate to the target's own tick rate,
// and handing decoded snapshots off to a sink for archiving/forwarding.
package extractor

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"github.com/FauxFaux/facto-exporter/pkg/discovery"
	"github.com/FauxFaux/facto-exporter/pkg/mangle"
	"github.com/FauxFaux/facto-exporter/pkg/profile"
	"github.com/FauxFaux/facto-exporter/pkg/record"
	"github.com/FauxFaux/facto-exporter/pkg/shell"
	"github.com/FauxFaux/facto-exporter/pkg/tracee"
)

// TicksPerHarvest is the tick-rate governor: a harvest is attempted once
// every this-many breakpoint stops, which at the target's usual 60 UPS
// update rate yields a harvest roughly every few real seconds.
const TicksPerHarvest = 60 * 7

// Sink receives every successfully decoded observation. Implementations
// typically fan out to an archive writer and an HTTP forwarder; neither
// may block the extraction loop, so a Sink should hand off asynchronously.
type Sink interface {
	Accept(obs record.Observation)
}

// Resolved is the set of addresses the loop needs, resolved once at
// startup from a profile against one target binary's symbol table.
type Resolved struct {
	InsertUnique uint64
	Tick         uint64
	StatusGetter uint64
	Alloc        uint64
	Free         uint64
}

// ErrSymbolNotFound wraps a failed resolution of one of a profile's
// named symbols, naming which one.
var ErrSymbolNotFound = errors.New("extractor: profile symbol not found")

// ResolveSymbols looks up every symbol a profile names, trying tick
// candidates in order and accepting the first that resolves. Each name
// is resolved via mangle.Resolve, so exact matches and demangle-and-
// compare fallbacks are both available.
func ResolveSymbols(table discovery.SymbolTable, p profile.Profile) (Resolved, error) {
	get := func(name string) (uint64, error) {
		sym, err := mangle.Resolve(table, name)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrSymbolNotFound, name, err)
		}
		return sym.Addr, nil
	}

	var r Resolved
	var err error
	if r.InsertUnique, err = get(p.Symbols.InsertUnique); err != nil {
		return Resolved{}, err
	}
	for _, cand := range p.Symbols.TickCandidates {
		if r.Tick, err = get(cand); err == nil {
			break
		}
	}
	if r.Tick == 0 {
		return Resolved{}, fmt.Errorf("%w: none of the tick candidates resolved", ErrSymbolNotFound)
	}
	if r.StatusGetter, err = get(p.Symbols.StatusGetter); err != nil {
		return Resolved{}, err
	}
	if r.Alloc, err = get(p.Symbols.Alloc); err != nil {
		return Resolved{}, err
	}
	if r.Free, err = get(p.Symbols.Free); err != nil {
		return Resolved{}, err
	}
	return r, nil
}

// Loop holds the mutable state of one extraction session: cached
// container root/size, the tick counter, and everything needed to
// invoke the shell.
type Loop struct {
	tr       *tracee.Tracer
	log      *slog.Logger
	sink     Sink
	profile  profile.Profile
	resolved Resolved
	shell    *shell.Shell

	setRoot uint64
	setSize uint64
	tick    uint64
}

// New constructs a Loop ready to run once its caller has attached,
// installed the B0/B1 breakpoints, and injected a shell.
func New(tr *tracee.Tracer, log *slog.Logger, sink Sink, p profile.Profile, resolved Resolved, sh *shell.Shell) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{tr: tr, log: log, sink: sink, profile: p, resolved: resolved, shell: sh}
}

// InstallBreakpoints arms B0 (insertion site) and B1 (tick site).
func (l *Loop) InstallBreakpoints() error {
	return l.tr.Breakpoint([4]*uint64{&l.resolved.InsertUnique, &l.resolved.Tick, nil, nil})
}

// Step runs one iteration: continue to the next stop, then react to
// whichever breakpoint(s) fired. It returns (observation, true, nil) on
// a successful harvest, (zero, false, nil) on a tick that didn't
// harvest, and a non-nil error only for a tracee-I/O failure that the
// caller must treat as fatal (requiring Cleanup).
func (l *Loop) Step() (record.Observation, bool, error) {
	if err := l.tr.RunUntilStop(); err != nil {
		return record.Observation{}, false, fmt.Errorf("extractor: run to next stop: %w", err)
	}

	fired, err := l.tr.WhichBreakpoints()
	if err != nil {
		return record.Observation{}, false, fmt.Errorf("extractor: read breakpoint status: %w", err)
	}

	if fired[0] {
		regs, err := l.tr.GetRegs()
		if err != nil {
			return record.Observation{}, false, fmt.Errorf("extractor: read regs on insert hit: %w", err)
		}
		l.log.Debug("insertion site hit", "old_root", l.setRoot, "new_root", regs.Rdi)
		l.setRoot = regs.Rdi
		size, err := l.readSetSize()
		if err != nil {
			return record.Observation{}, false, fmt.Errorf("extractor: read set size: %w", err)
		}
		l.setSize = size
	}

	l.tick++
	if l.tick%TicksPerHarvest != 0 {
		return record.Observation{}, false, nil
	}
	if l.setRoot == 0 {
		return record.Observation{}, false, nil
	}

	obs, err := l.harvest()
	if err != nil {
		l.log.Warn("harvest skipped", "error", err)
		return record.Observation{}, false, nil
	}

	if l.sink != nil {
		l.sink.Accept(obs)
	}
	return obs, true, nil
}

func (l *Loop) readSetSize() (uint64, error) {
	return l.tr.ReadWord(l.setRoot + l.profile.Layout.SetSizeOffset)
}

func (l *Loop) harvest() (record.Observation, error) {
	if err := l.shell.SetSetAddr(l.setRoot); err != nil {
		return record.Observation{}, fmt.Errorf("write set root: %w", err)
	}
	if err := l.shell.Enter(); err != nil {
		return record.Observation{}, fmt.Errorf("enter shell: %w", err)
	}

	craftings, err := l.shell.ReadCraftings()
	if err != nil {
		// let the cleanup helper run even though the harvest failed, so
		// a partially-executed shell doesn't leave the allocator wedged.
		_ = l.tr.RunUntilStop()
		_ = l.shell.Exit()
		return record.Observation{}, fmt.Errorf("read craftings: %w", err)
	}

	sort.Slice(craftings, func(i, j int) bool {
		return craftings[i].UnitNumber < craftings[j].UnitNumber
	})

	// let any cleanup helper (e.g. a free of scratch state) complete
	// before the register file is restored.
	if err := l.tr.RunUntilStop(); err != nil {
		return record.Observation{}, fmt.Errorf("run cleanup helper: %w", err)
	}
	if err := l.shell.Exit(); err != nil {
		return record.Observation{}, fmt.Errorf("restore registers: %w", err)
	}

	return record.Observation{Time: time.Now().UTC(), Units: craftings}, nil
}

// Cleanup clears all hardware breakpoints and detaches. It is safe to
// call after any error from Step, and is always attempted before the
// loop's goroutine exits.
func (l *Loop) Cleanup() error {
	clearErr := l.tr.ClearBreakpoints()
	if err := detach(l.tr.Pid); err != nil {
		if clearErr != nil {
			return fmt.Errorf("clear breakpoints: %w; detach: %v", clearErr, err)
		}
		return fmt.Errorf("detach: %w", err)
	}
	return clearErr
}

func detach(pid int) error {
	return unix.PtraceDetach(pid)
}
