package upload

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	DefaultInterval = 200 * time.Millisecond
	DefaultStep     = 10
	maxProgress     = 100
)

// Options configures a Machine. Zero values fall back to defaults.
type Options struct {
	Interval  time.Duration
	Step      int
	Outcome   Outcome
	Logger    *slog.Logger
	NewTicker func(time.Duration) Ticker
	Now       func() time.Time
	NewID     func() string
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Step <= 0 || o.Step > maxProgress {
		o.Step = DefaultStep
	}
	if o.Outcome == nil {
		o.Outcome = AlwaysSucceed
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.NewTicker == nil {
		o.NewTicker = newTimeTicker
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// Machine owns the upload records of one widget and drives their simulated
// progress from a single shared ticker. The ticker only runs while at least
// one record is uploading.
type Machine struct {
	opts Options
	log  *slog.Logger

	mu      sync.Mutex
	records []*Record
	byID    map[string]*Record
	closed  bool

	tickerGen  uint64
	tickerStop chan struct{}

	seq     uint64
	nextSub uint64
	subs    map[uint64]chan Snapshot
}

func New(opts Options) *Machine {
	opts = opts.withDefaults()
	return &Machine{
		opts: opts,
		log:  opts.Logger,
		byID: make(map[string]*Record),
		subs: make(map[uint64]chan Snapshot),
	}
}

// AcceptFiles starts one upload per name.
func (m *Machine) AcceptFiles(names ...string) ([]Record, error) {
	files := lo.Map(names, func(name string, _ int) File {
		return File{Name: name}
	})
	return m.Accept(files...)
}

// Accept starts one upload per file. Either every file is accepted or none is.
func (m *Machine) Accept(files ...File) ([]Record, error) {
	for i, f := range files {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("file %d: %w", i, ErrInvalidName)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if len(files) == 0 {
		return nil, nil
	}

	now := m.opts.Now()
	accepted := make([]Record, 0, len(files))
	for _, f := range files {
		rec := &Record{
			ID:          m.opts.NewID(),
			Name:        f.Name,
			Size:        f.Size,
			ContentType: f.ContentType,
			Status:      StatusUploading,
			URL:         DetailsURL(f.Name),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		m.records = append(m.records, rec)
		m.byID[rec.ID] = rec
		accepted = append(accepted, *rec)
		m.log.Debug("Upload accepted", "id", rec.ID, "name", rec.Name, "size", rec.Size)
	}

	m.ensureTickerLocked()
	m.publishLocked()
	return accepted, nil
}

// Tick advances every uploading record by one step.
func (m *Machine) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickLocked()
}

func (m *Machine) tickLocked() {
	if m.closed {
		return
	}

	now := m.opts.Now()
	advanced := 0
	for _, rec := range m.records {
		if rec.Status != StatusUploading || rec.CancelRequested {
			continue
		}
		rec.Progress = min(rec.Progress+m.opts.Step, maxProgress)
		rec.UpdatedAt = now
		advanced++
		if rec.Progress < maxProgress {
			continue
		}
		if err := m.opts.Outcome(*rec); err != nil {
			rec.Status = StatusFailure
			rec.Failure = FailureSimulated
			if !errors.Is(err, ErrSimulatedFailure) {
				m.log.Warn("Outcome hook returned unexpected error", "id", rec.ID, "err", err)
			}
			m.log.Info("Upload failed", "id", rec.ID, "name", rec.Name, "failure", rec.Failure)
			continue
		}
		rec.Status = StatusSuccess
		m.log.Info("Upload completed", "id", rec.ID, "name", rec.Name)
	}

	if !m.uploadingLocked() {
		m.stopTickerLocked()
	}
	if advanced > 0 {
		m.publishLocked()
	}
}

// Cancel fails a record immediately and zeroes its progress, whatever its
// current status. Cancelling an already cancelled record is a no-op.
func (m *Machine) Cancel(id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.lookupLocked(id)
	if err != nil {
		return Record{}, err
	}

	if rec.Failure == FailureCancelled {
		return *rec, nil
	}

	rec.CancelRequested = true
	rec.Status = StatusFailure
	rec.Failure = FailureCancelled
	rec.Progress = 0
	rec.UpdatedAt = m.opts.Now()
	m.log.Info("Upload cancelled", "id", rec.ID, "name", rec.Name)

	if !m.uploadingLocked() {
		m.stopTickerLocked()
	}
	m.publishLocked()
	return *rec, nil
}

// Retry restarts a failed record from zero.
func (m *Machine) Retry(id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, err := m.lookupLocked(id)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusFailure {
		return *rec, fmt.Errorf("retry %s: status is %s: %w", id, rec.Status, ErrInvalidTransition)
	}

	rec.Status = StatusUploading
	rec.Progress = 0
	rec.CancelRequested = false
	rec.Failure = FailureNone
	rec.UpdatedAt = m.opts.Now()
	m.log.Info("Upload retried", "id", rec.ID, "name", rec.Name)

	m.ensureTickerLocked()
	m.publishLocked()
	return *rec, nil
}

// ResetAll drops every record and returns the widget to the empty view.
func (m *Machine) ResetAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.stopTickerLocked()
	dropped := len(m.records)
	m.records = nil
	m.byID = make(map[string]*Record)
	m.log.Info("Uploads reset", "dropped", dropped)
	m.publishLocked()
	return nil
}

// Close stops the ticker and ends every subscription.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.stopTickerLocked()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
}

func (m *Machine) Get(id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return Record{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return *rec, nil
}

// FindByName returns every record carrying the display name, oldest first.
func (m *Machine) FindByName(name string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.FilterMap(m.records, func(rec *Record, _ int) (Record, bool) {
		return *rec, rec.Name == name
	})
}

func (m *Machine) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyLocked()
}

func (m *Machine) Aggregate() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return aggregate(m.records)
}

func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// TickerActive reports whether a progress tick is currently scheduled.
func (m *Machine) TickerActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tickerStop != nil
}

// Subscribe returns a channel receiving a snapshot after every mutation.
// Sends never block: a subscriber whose buffer is full misses that snapshot
// and can detect the gap from Seq.
func (m *Machine) Subscribe(buffer int) (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan Snapshot, max(buffer, 1))
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			close(c)
			delete(m.subs, id)
		}
	}
}

func (m *Machine) lookupLocked(id string) (*Record, error) {
	if m.closed {
		return nil, ErrClosed
	}
	rec, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return rec, nil
}

func (m *Machine) uploadingLocked() bool {
	return lo.SomeBy(m.records, func(rec *Record) bool {
		return rec.Status == StatusUploading
	})
}

func (m *Machine) ensureTickerLocked() {
	if m.tickerStop != nil {
		return
	}
	m.tickerGen++
	stop := make(chan struct{})
	m.tickerStop = stop
	go m.runTicker(m.opts.NewTicker(m.opts.Interval), stop, m.tickerGen)
	m.log.Debug("Progress ticker started", "interval", m.opts.Interval)
}

func (m *Machine) stopTickerLocked() {
	if m.tickerStop == nil {
		return
	}
	close(m.tickerStop)
	m.tickerStop = nil
	m.log.Debug("Progress ticker stopped")
}

// runTicker ticks until stop is closed. A tick that races with a stop or a
// restart is dropped by the generation check.
func (m *Machine) runTicker(t Ticker, stop <-chan struct{}, gen uint64) {
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C():
			m.mu.Lock()
			if m.tickerStop != nil && m.tickerGen == gen {
				m.tickLocked()
			}
			m.mu.Unlock()
		}
	}
}

func (m *Machine) publishLocked() {
	m.seq++
	if len(m.subs) == 0 {
		return
	}
	snap := m.snapshotLocked()
	for id, ch := range m.subs {
		select {
		case ch <- snap:
		default:
			m.log.Debug("Subscriber lagging, snapshot dropped", "subscriber", id, "seq", snap.Seq)
		}
	}
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		Seq:       m.seq,
		Aggregate: aggregate(m.records),
		Records:   m.copyLocked(),
	}
}

func (m *Machine) copyLocked() []Record {
	return lo.Map(m.records, func(rec *Record, _ int) Record {
		return *rec
	})
}

// aggregate derives the widget-level status from the records.
func aggregate(records []*Record) Status {
	switch {
	case len(records) == 0:
		return StatusEmpty
	case lo.SomeBy(records, func(rec *Record) bool { return rec.Status == StatusUploading }):
		return StatusUploading
	case lo.SomeBy(records, func(rec *Record) bool { return rec.Status == StatusSuccess }):
		return StatusSuccess
	default:
		return StatusFailure
	}
}
