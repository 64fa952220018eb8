// Package launcher runs the experiment capture binary and forwards its output
// file to the ground delivery directory.
package launcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/opssat/sidloc"
	"github.com/opssat/sidloc/metrics"
)

// DataDir is the directory inside the ground directory receiving experiment files.
const DataDir = "data"

// TimestampLayout stamps forwarded files, e.g. 2021-05-04_13-02-59.
const TimestampLayout = "2006-01-02_15-04-05"

// FormatTimestamp renders t with TimestampLayout.
func FormatTimestamp(t time.Time) string { return t.Format(TimestampLayout) }

// Launcher spawns the capture binary with the output file name as its only argument.
type Launcher struct {
	cfg     sidloc.LauncherConfig
	logger  *log.Logger
	metrics *metrics.Collectors
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
	now     func() time.Time
	onExit  func(err error)
}

type Option func(*Launcher)

func WithLogger(l *log.Logger) Option { return func(x *Launcher) { x.logger = l } }

func WithMetrics(m *metrics.Collectors) Option { return func(x *Launcher) { x.metrics = m } }

// WithOnExit sets a callback run after the binary finished and its output was forwarded.
func WithOnExit(fn func(err error)) Option { return func(x *Launcher) { x.onExit = fn } }

// WithCommand replaces exec.CommandContext.
func WithCommand(fn func(ctx context.Context, name string, args ...string) *exec.Cmd) Option {
	return func(x *Launcher) { x.command = fn }
}

func WithClock(now func() time.Time) Option { return func(x *Launcher) { x.now = now } }

func New(cfg sidloc.LauncherConfig, opts ...Option) *Launcher {
	def := sidloc.DefaultOptions().Launcher
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.OutputFile == "" {
		cfg.OutputFile = def.OutputFile
	}
	if cfg.Dir == "" {
		cfg.Dir = def.Dir
	}
	l := &Launcher{
		cfg:     cfg,
		logger:  log.Default(),
		command: exec.CommandContext,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run starts the binary and returns without waiting for it to finish.
func (l *Launcher) Run(ctx context.Context) error {
	cmd := l.command(ctx, l.cfg.Binary, l.cfg.OutputFile)
	cmd.Dir = l.cfg.Dir
	cmd.Stdout = l.logger.Writer()
	cmd.Stderr = l.logger.Writer()
	err := cmd.Start()
	l.metrics.Launch(err)
	if err != nil {
		return fmt.Errorf("start experiment binary %s: %w", l.cfg.Binary, err)
	}
	l.logger.Printf("experiment binary %s started (pid %d)", l.cfg.Binary, cmd.Process.Pid)
	go l.wait(cmd)
	return nil
}

func (l *Launcher) wait(cmd *exec.Cmd) {
	err := cmd.Wait()
	if err != nil {
		l.logger.Printf("error: experiment binary exited: %v", err)
	} else {
		l.logger.Printf("experiment binary finished")
	}
	if dst, ferr := l.Forward(); ferr != nil {
		l.logger.Printf("error: forwarding output file: %v", ferr)
		if err == nil {
			err = ferr
		}
	} else if dst != "" {
		l.logger.Printf("output file forwarded to %s", dst)
	}
	if l.onExit != nil {
		l.onExit(err)
	}
}

// Forward moves the output file into GroundDir/data with a timestamp prefix and
// returns its new path. It does nothing when no ground directory is configured.
func (l *Launcher) Forward() (string, error) {
	if l.cfg.GroundDir == "" {
		return "", nil
	}
	src := filepath.Join(l.cfg.Dir, l.cfg.OutputFile)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}
	dir := l.cfg.GroundDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(l.cfg.Dir, dir)
	}
	dir = filepath.Join(dir, DataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, FormatTimestamp(l.now())+"_"+filepath.Base(l.cfg.OutputFile))
	if err := os.Rename(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}
