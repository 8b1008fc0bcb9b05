package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/quantpulse/quantpulse/internal/config"
	"github.com/quantpulse/quantpulse/internal/domain"
	"github.com/quantpulse/quantpulse/internal/events"
	"github.com/rs/zerolog"
)

// fakeClock advances virtual time instead of sleeping, and records
// every sleep it was asked for.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type fakeData struct {
	mu      sync.Mutex
	err     error
	failFn  func(symbols []string) error
	calls   int
	fetched [][]string
	block   chan struct{} // when set, the next Fetch waits until closed
	started chan struct{} // closed on first Fetch entry
}

func (f *fakeData) Fetch(ctx context.Context, symbols []string, market domain.MarketClass) ([]domain.PricePoint, error) {
	f.mu.Lock()
	f.calls++
	f.fetched = append(f.fetched, append([]string(nil), symbols...))
	started := f.started
	f.started = nil
	block := f.block
	f.block = nil
	failFn := f.failFn
	err := f.err
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failFn != nil {
		if ferr := failFn(symbols); ferr != nil {
			return nil, ferr
		}
	} else if err != nil {
		return nil, err
	}

	points := make([]domain.PricePoint, 0, len(symbols))
	for _, sym := range symbols {
		points = append(points, domain.PricePoint{Symbol: sym, Price: 100, Volume: 1000})
	}
	return points, nil
}

type fakeFeatures struct {
	err error
}

func (f *fakeFeatures) Compute(ctx context.Context, symbols []string, points []domain.PricePoint) ([]domain.FeatureSet, error) {
	if f.err != nil {
		return nil, f.err
	}
	sets := make([]domain.FeatureSet, 0, len(symbols))
	for _, sym := range symbols {
		sets = append(sets, domain.FeatureSet{Symbol: sym, Features: map[string]float64{"rsi_14": 55}})
	}
	return sets, nil
}

type fakeSignals struct {
	err     error
	signals []domain.Signal
}

func (f *fakeSignals) Generate(ctx context.Context, features []domain.FeatureSet) ([]domain.Signal, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.signals != nil {
		return f.signals, nil
	}
	sigs := make([]domain.Signal, 0, len(features))
	for _, fs := range features {
		sigs = append(sigs, domain.Signal{Symbol: fs.Symbol, Action: domain.SignalBuy, Confidence: 0.8, Price: 100})
	}
	return sigs, nil
}

func (f *fakeSignals) Latest(ctx context.Context, symbols []string, limit int) ([]domain.Signal, error) {
	return f.signals, nil
}

type fakeReasoner struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeReasoner) Analyze(ctx context.Context, symbol string, sig domain.Signal) (domain.Analysis, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return domain.Analysis{}, f.err
	}
	return domain.Analysis{Symbol: symbol, Verdict: "approve", Confidence: 0.9}, nil
}

func (f *fakeReasoner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeExecution struct {
	mu     sync.Mutex
	err    error
	trades int
}

func (f *fakeExecution) EvaluateAndExecute(ctx context.Context, sig domain.Signal, analysis *domain.Analysis, portfolioValue float64) (*domain.Trade, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.trades++
	f.mu.Unlock()
	return &domain.Trade{Symbol: sig.Symbol, Side: string(sig.Action), Quantity: 1, Price: sig.Price}, nil
}

func (f *fakeExecution) Trades() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trades
}

type fakePortfolio struct {
	mu     sync.Mutex
	values []float64
	idx    int
	err    error
}

func (f *fakePortfolio) Snapshot(ctx context.Context) (domain.PortfolioSnapshot, error) {
	if f.err != nil {
		return domain.PortfolioSnapshot{}, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	value := 10000.0
	if len(f.values) > 0 {
		if f.idx >= len(f.values) {
			f.idx = len(f.values) - 1
		}
		value = f.values[f.idx]
		f.idx++
	}
	return domain.PortfolioSnapshot{TotalValue: value, Cash: value / 2, DailyPnL: 12.5}, nil
}

type fakeReporter struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeReporter) Generate(ctx context.Context, periodDays int) (domain.Report, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return domain.Report{}, f.err
	}
	return domain.Report{PeriodDays: periodDays, Summary: "ok"}, nil
}

func (f *fakeReporter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu        sync.Mutex
	err       error
	healthErr error
	records   []*domain.CycleRecord
}

func (f *fakeStore) SaveCycleRecord(ctx context.Context, rec *domain.CycleRecord) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	f.records = append(f.records, rec)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) Name() string { return "cycle_store" }

func (f *fakeStore) HealthCheck(ctx context.Context) error { return f.healthErr }

func (f *fakeStore) Records() []*domain.CycleRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.CycleRecord(nil), f.records...)
}

type fakeChecker struct {
	name string
	err  error
}

func (f *fakeChecker) Name() string                         { return f.name }
func (f *fakeChecker) HealthCheck(ctx context.Context) error { return f.err }

type fakeScheduler struct {
	mu      sync.Mutex
	armed   map[domain.MarketClass]time.Duration
	fires   map[domain.MarketClass]func()
	started int
	stopped int
	armErr  error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		armed: make(map[domain.MarketClass]time.Duration),
		fires: make(map[domain.MarketClass]func()),
	}
}

func (s *fakeScheduler) Arm(market domain.MarketClass, interval time.Duration, fire func()) error {
	if s.armErr != nil {
		return s.armErr
	}
	s.mu.Lock()
	s.armed[market] = interval
	s.fires[market] = fire
	s.mu.Unlock()
	return nil
}

func (s *fakeScheduler) Start() {
	s.mu.Lock()
	s.started++
	s.mu.Unlock()
}

func (s *fakeScheduler) Stop() {
	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
}

func (s *fakeScheduler) Interval(market domain.MarketClass) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed[market]
}

type fakeSnapshots struct {
	mu    sync.Mutex
	snaps []RecoverySnapshot
	err   error
}

func (f *fakeSnapshots) Write(ctx context.Context, snap RecoverySnapshot) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	f.snaps = append(f.snaps, snap)
	f.mu.Unlock()
	return "/tmp/snapshot.msgpack", nil
}

func (f *fakeSnapshots) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snaps)
}

// eventRecorder collects published event types in order.
type eventRecorder struct {
	mu    sync.Mutex
	types []events.EventType
}

func (r *eventRecorder) subscribe(bus *events.Bus) {
	bus.SubscribeAll(func(e *events.Event) {
		r.mu.Lock()
		r.types = append(r.types, e.Type)
		r.mu.Unlock()
	})
}

func (r *eventRecorder) Types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.EventType(nil), r.types...)
}

func (r *eventRecorder) Count(t events.EventType) int {
	n := 0
	for _, got := range r.Types() {
		if got == t {
			n++
		}
	}
	return n
}

// testEnv bundles a fully faked orchestrator for the tests.
type testEnv struct {
	orch      *Orchestrator
	clock     *fakeClock
	bus       *events.Bus
	sched     *fakeScheduler
	data      *fakeData
	features  *fakeFeatures
	signals   *fakeSignals
	reasoner  *fakeReasoner
	execution *fakeExecution
	portfolio *fakePortfolio
	reflect   *fakeReporter
	report    *fakeReporter
	store     *fakeStore
	snaps     *fakeSnapshots
	events    *eventRecorder
	cfg       *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		StopTimeout: time.Second,
		Equity: domain.MarketConfig{
			Market:          domain.MarketEquity,
			Symbols:         []string{"AAPL", "MSFT", "NVDA", "GOOG"},
			Interval:        30 * time.Minute,
			TradingEnabled:  true,
			AIEnabled:       true,
			ReflectionEvery: 100,
			ReportEvery:     100,
			MaxDailyRuns:    50,
		},
		Crypto: domain.MarketConfig{
			Market:          domain.MarketCrypto,
			Symbols:         []string{"BTC-USD", "ETH-USD"},
			Interval:        15 * time.Minute,
			TradingEnabled:  true,
			AIEnabled:       true,
			ReflectionEvery: 100,
			ReportEvery:     100,
			MaxDailyRuns:    50,
		},
		Recovery: config.RecoveryConfig{
			MaxConsecutiveErrors: 3,
			MaxTotalErrors:       5,
			BaseDelay:            30 * time.Second,
			MaxDelay:             15 * time.Minute,
			EmergencyCooldown:    10 * time.Minute,
		},
	}
}

func newTestEnv(cfg *config.Config) *testEnv {
	env := &testEnv{
		clock:     newFakeClock(),
		bus:       events.NewBus(),
		sched:     newFakeScheduler(),
		data:      &fakeData{},
		features:  &fakeFeatures{},
		signals:   &fakeSignals{},
		reasoner:  &fakeReasoner{},
		execution: &fakeExecution{},
		portfolio: &fakePortfolio{},
		reflect:   &fakeReporter{},
		report:    &fakeReporter{},
		store:     &fakeStore{},
		snaps:     &fakeSnapshots{},
		events:    &eventRecorder{},
		cfg:       cfg,
	}
	env.events.subscribe(env.bus)

	env.orch = New(Options{
		Config: cfg,
		Collaborators: Collaborators{
			Data:        env.data,
			Features:    env.features,
			Signals:     env.signals,
			Reasoner:    env.reasoner,
			Execution:   env.execution,
			Portfolio:   env.portfolio,
			Reflection:  env.reflect,
			Reporter:    env.report,
			Store:       env.store,
			Diagnostics: []HealthChecker{env.store},
		},
		Scheduler: env.sched,
		Bus:       env.bus,
		Clock:     env.clock,
		Snapshots: env.snaps,
		Log:       zerolog.Nop(),
	})
	return env
}
