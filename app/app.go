package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"ctrhle/hal"
	"ctrhle/hle/archive"
	"ctrhle/hle/ipc"
	"ctrhle/hle/services/frd"
	"ctrhle/hle/services/ptm"
	"ctrhle/hle/settings"
	"ctrhle/hle/sharedpage"
	"ctrhle/internal/buildinfo"
	"ctrhle/internal/config"
	"ctrhle/kernel"
)

const logClass = "App"

// System is one emulation session: the address space, the shared page, the
// settings and the installed HLE services.
type System struct {
	cfg    config.Config
	h      hal.HAL
	logger hal.Logger
	mapper hal.Mapper

	page     *sharedpage.Page
	store    *settings.Store
	actor    *settings.Actor
	archives *archive.Manager
	k        *kernel.Kernel
	ptm      *ptm.Module
	frd      *frd.Module
	clock    *sharedpage.Clock

	changes   chan settings.Change
	wallClock bool
	panicLog  io.Writer

	mu        sync.Mutex
	lastPanic *kernel.PanicInfo
	closed    bool
}

type options struct {
	h        hal.HAL
	logger   hal.Logger
	fs       afero.Fs
	now      func() time.Time
	manual   bool
	panicLog io.Writer
}

// Option configures New.
type Option func(*options)

// WithHAL runs the session on h instead of a new host HAL. h.Memory must
// implement hal.Mapper.
func WithHAL(h hal.HAL) Option { return func(o *options) { o.h = h } }

// WithLogger sets the log sink. The configured level still applies.
func WithLogger(l hal.Logger) Option { return func(o *options) { o.logger = l } }

// WithArchiveFs stores archives in fs instead of the configured root.
func WithArchiveFs(fs afero.Fs) Option { return func(o *options) { o.fs = fs } }

// WithNow replaces the wall clock used for the shared page date.
func WithNow(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithManualClock leaves the HAL tick stream to the caller; Run does not
// drive it from the wall clock.
func WithManualClock() Option { return func(o *options) { o.manual = true } }

// WithPanicLog writes a report of every recovered handler panic to w.
func WithPanicLog(w io.Writer) Option { return func(o *options) { o.panicLog = w } }

// New boots a session: it validates cfg, maps the shared page, applies the
// settings and installs the PTM and FRD services.
func New(cfg *config.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	c := *cfg
	if err := config.Validate(&c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	config.Normalize(&c)

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	sink := o.logger
	if sink == nil {
		sink = hal.NewWriterLogger(os.Stderr)
	}
	logger := hal.NewLevelFilter(sink, c.LogLevel())

	h := o.h
	if h == nil {
		h = hal.NewWithLogger(logger)
	}
	mapper, ok := h.Memory().(hal.Mapper)
	if !ok {
		return nil, errors.New("app: HAL memory cannot map the shared page")
	}

	hal.Logf(logger, hal.LevelInfo, logClass, "%s", buildinfo.String())

	s := &System{
		cfg:       c,
		h:         h,
		logger:    logger,
		mapper:    mapper,
		changes:   make(chan settings.Change, 16),
		wallClock: !o.manual,
		panicLog:  o.panicLog,
	}
	if err := s.boot(o); err != nil {
		_ = s.Shutdown()
		return nil, err
	}
	return s, nil
}

func (s *System) boot(o options) error {
	s.page = sharedpage.New(s.cfg.PageDefaults())
	if err := s.page.Map(s.mapper); err != nil {
		return fmt.Errorf("map shared page: %w", err)
	}

	s.store = settings.NewStore(s.cfg.Values())
	s.actor = settings.NewActor(s.store, s.page, s.logger)
	if err := s.actor.Sync(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	if path := s.cfg.Settings.Script; path != "" {
		if err := s.runScript(path); err != nil {
			return err
		}
	}

	switch {
	case o.fs != nil:
		s.archives = archive.NewManager(o.fs, "/")
	case s.cfg.Archive.InMemory:
		s.archives = archive.NewManager(afero.NewMemMapFs(), "/")
	default:
		m, err := archive.NewOsManager(s.cfg.Archive.Root)
		if err != nil {
			return err
		}
		s.archives = m
	}

	s.k = kernel.New(s.logger, s.h.Memory())
	s.installPanicHandler()

	var err error
	s.ptm, err = ptm.Install(s.k, ptm.Deps{
		Settings: s.store,
		Page:     s.page,
		Archives: s.archives,
		Logger:   s.logger,
	})
	if err != nil {
		return err
	}
	s.frd, err = frd.Install(s.k, frd.Deps{Settings: s.store, Logger: s.logger})
	if err != nil {
		return err
	}

	clockOpts := []sharedpage.ClockOption{
		sharedpage.WithInterval(time.Duration(s.cfg.Clock.UpdateIntervalMs) * time.Millisecond),
	}
	if o.now != nil {
		clockOpts = append(clockOpts, sharedpage.WithNow(o.now))
	}
	s.clock = sharedpage.NewClock(s.page, s.logger, clockOpts...)

	hal.Logf(s.logger, hal.LevelInfo, logClass, "services: %v", s.k.Services())
	return nil
}

func (s *System) runScript(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("settings script: %w", err)
	}
	defer f.Close()
	if err := s.actor.RunScript(context.Background(), f); err != nil {
		return fmt.Errorf("settings script %s: %w", path, err)
	}
	return nil
}

// Run drives the host actors until ctx is canceled: the shared page clock,
// the settings actor and, unless WithManualClock was given, the HAL tick
// stream. A canceled context is not an error.
func (s *System) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.clock.Run(ctx, s.h.Time().Ticks())
	})
	g.Go(func() error {
		return s.actor.Run(ctx, s.changes)
	})
	if s.wallClock {
		period := time.Duration(s.cfg.Clock.TickPeriodMs) * time.Millisecond
		g.Go(func() error {
			return hal.RunClock(ctx, s.h, period)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown uninstalls every service, unmaps the shared page and closes it.
// It is safe to call more than once.
func (s *System) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if s.k != nil {
		errs = append(errs, s.k.Shutdown())
	}
	if s.page != nil {
		if err := s.page.Unmap(s.mapper); err != nil && !errors.Is(err, hal.ErrInvalidGuestAddress) {
			errs = append(errs, err)
		}
		if err := s.page.Close(); err != nil && !errors.Is(err, sharedpage.ErrClosed) {
			errs = append(errs, err)
		}
	}
	hal.Logf(s.logger, hal.LevelInfo, logClass, "session stopped")
	return errors.Join(errs...)
}

// Connect opens a session to a service.
func (s *System) Connect(name string) (*kernel.Session, error) { return s.k.Connect(name) }

// Disconnect closes a session.
func (s *System) Disconnect(sess *kernel.Session) error { return s.k.Disconnect(sess) }

// Dispatch serves one synchronous request.
func (s *System) Dispatch(sess *kernel.Session, cmd *ipc.CommandBuffer) error {
	return s.k.Dispatch(sess, cmd)
}

// Changes accepts setting changes for the settings actor while Run is active.
func (s *System) Changes() chan<- settings.Change { return s.changes }

func (s *System) Kernel() *kernel.Kernel     { return s.k }
func (s *System) Page() sharedpage.Reader    { return s.page }
func (s *System) Settings() *settings.Store  { return s.store }
func (s *System) Actor() *settings.Actor     { return s.actor }
func (s *System) Memory() hal.Memory         { return s.h.Memory() }
func (s *System) Archives() *archive.Manager { return s.archives }
func (s *System) PTM() *ptm.Module           { return s.ptm }
func (s *System) FRD() *frd.Module           { return s.frd }
func (s *System) Logger() hal.Logger         { return s.logger }
