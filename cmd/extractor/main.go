//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"os/signal"

	"github.com/spf13/cobra"

	"github.com/FauxFaux/facto-exporter/pkg/archive"
	"github.com/FauxFaux/facto-exporter/pkg/discovery"
	"github.com/FauxFaux/facto-exporter/pkg/extractor"
	"github.com/FauxFaux/facto-exporter/pkg/forward"
	"github.com/FauxFaux/facto-exporter/pkg/profile"
	"github.com/FauxFaux/facto-exporter/pkg/record"
	"github.com/FauxFaux/facto-exporter/pkg/shell"
	"github.com/FauxFaux/facto-exporter/pkg/tracee"
)

// gameUpdateThread is the worker thread the extraction loop attaches to;
// the target runs its per-frame update step on a thread carrying this
// comm name.
const gameUpdateThread = "GameUpdate"

type opts struct {
	archiveDir string
	forwardTo  string
	capacity   uint64
	scratch    uint64
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "extractor BINARY",
		Short: "Attach to a running target and extract crafting status over time",
		Long: `The extractor locates a running instance of BINARY, ptrace-attaches to
its GameUpdate thread, resolves the symbols a profile names, injects a
two-stage shell into the tracee, and repeatedly harvests crafting unit
observations: unit number, products completed, and status.

Each observation is both appended to a compressed on-disk archive and
forwarded, best-effort, to a collector's ingest endpoint.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), o, args[0])
		},
	}

	root.Flags().StringVar(&o.archiveDir, "archive-dir", ".", "directory to write the session archive into")
	root.Flags().StringVar(&o.forwardTo, "forward-to", "http://127.0.0.1:9429", "collector base URL to forward observations to")
	root.Flags().Uint64Var(&o.capacity, "capacity", 4096, "maximum crafting records the shell may report per harvest")
	root.Flags().Uint64Var(&o.scratch, "scratch-addr", 0x500000, "address inside the target's text segment used as scratch for stage-1 injection")

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, o opts, binPath string) error {
	binPath, err := filepath.Abs(binPath)
	if err != nil {
		return fmt.Errorf("resolve binary path: %w", err)
	}

	if scope, err := discovery.DetectYamaScope(); err != nil {
		slog.Warn("could not detect yama ptrace_scope", "error", err)
	} else {
		slog.Info("host ptrace_scope", "scope", scope)
	}

	slog.Info("loading symbols", "binary", binPath)
	symtab, err := discovery.LoadSymbols(binPath)
	if err != nil {
		return fmt.Errorf("load symbols: %w", err)
	}

	p := profile.Default()
	resolved, err := extractor.ResolveSymbols(symtab, p)
	if err != nil {
		return fmt.Errorf("resolve profile symbols: %w", err)
	}
	slog.Info("resolved profile symbols", "profile", p.Name)

	pid, err := discovery.FindPID(binPath)
	if err != nil {
		return fmt.Errorf("find pid: %w", err)
	}
	slog.Info("found target process", "pid", pid)

	tid, err := discovery.FindThread(pid, gameUpdateThread)
	if err != nil {
		return fmt.Errorf("find %s thread: %w", gameUpdateThread, err)
	}
	slog.Info("found worker thread", "thread", gameUpdateThread, "tid", tid)

	tr, err := tracee.Attach(tid)
	if err != nil {
		return fmt.Errorf("attach to thread %d: %w", tid, err)
	}

	sh, err := shell.InjectInto(tr, o.scratch, p.Body, &resolved.StatusGetter, o.capacity)
	if err != nil {
		return fmt.Errorf("inject shell: %w", err)
	}
	slog.Info("shell injected", "region", sh.MapAddr)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sink, closeSink, err := newFanoutSink(o.archiveDir, o.forwardTo, stop)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	defer closeSink()

	loop := extractor.New(tr, slog.Default(), sink, p, resolved, sh)
	if err := loop.InstallBreakpoints(); err != nil {
		return fmt.Errorf("install breakpoints: %w", err)
	}

	slog.Info("debugging, waiting for an assembler placement...")

	// this loop can't check ctx between a run-to-stop and its reaction:
	// the tracee must be left in a breakpoint-consistent state before
	// cleanup runs, so the signal is only honored between full steps.
	for ctx.Err() == nil {
		start := time.Now()
		obs, harvested, err := loop.Step()
		if err != nil {
			slog.Error("extraction step failed", "error", err)
			break
		}
		if harvested {
			slog.Debug("harvested observation", "units", len(obs.Units), "elapsed", time.Since(start))
		}
	}

	slog.Info("detaching...")
	if err := loop.Cleanup(); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

// fanoutSink hands every observation to a single background archive writer
// and a best-effort HTTP forwarder. Accept only ever enqueues onto a
// one-slot queue: the stopped tracee waits on gzip compression or a
// flush only when a write is in progress and another item is already
// queued.
type fanoutSink struct {
	w         *archive.Writer
	fwd       *forward.Forwarder
	terminate func()
	queue     chan []byte
	done      chan struct{}
}

func newFanoutSink(archiveDir, forwardTo string, terminate func()) (*fanoutSink, func(), error) {
	path := filepath.Join(archiveDir, archive.PathForSession(time.Now()))
	w, err := archive.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create archive %s: %w", path, err)
	}
	slog.Info("writing archive", "path", path)

	fwd := forward.New(forward.Endpoint(forwardTo), slog.Default())

	s := &fanoutSink{
		w:         w,
		fwd:       fwd,
		terminate: terminate,
		queue:     make(chan []byte, 1),
		done:      make(chan struct{}),
	}
	go s.writeLoop()

	closeFn := func() {
		close(s.queue)
		<-s.done
		if err := w.Finish(); err != nil {
			slog.Warn("archive finish failed", "error", err)
		}
	}
	return s, closeFn, nil
}

// writeLoop is the one background worker allowed to call w.WriteItem: one
// outstanding write at a time, serialized against Finish by w's mutex. A
// failed write terminates the extraction loop but keeps draining the
// queue so Accept never blocks waiting on a worker that has given up.
func (s *fanoutSink) writeLoop() {
	defer close(s.done)
	failed := false
	for packed := range s.queue {
		if failed {
			continue
		}
		if err := s.w.WriteItem(packed); err != nil {
			slog.Error("archive write failed", "error", err)
			s.terminate()
			failed = true
		}
	}
}

// Accept implements extractor.Sink. It hands the packed observation to
// the background archive worker and fires the forward off independently.
// The forward never stalls the caller (the extraction loop itself); the
// hand-off to the archive worker blocks only while its queue is full.
func (s *fanoutSink) Accept(obs record.Observation) {
	packed := record.Pack(obs)
	s.queue <- packed
	go s.fwd.Send(packed)
}
