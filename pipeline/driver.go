package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"golang.org/x/time/rate"

	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/logging"
	"github.com/beamline/viewscreen/ndarray"
)

// Consumer receives the frames a driver emits. The frame is only valid for the duration of
// the call; a consumer that keeps it must Reserve it.
type Consumer interface {
	OnFrame(ctx context.Context, frame *ndarray.Frame)
}

// ConsumerFunc adapts a function to a Consumer.
type ConsumerFunc func(ctx context.Context, frame *ndarray.Frame)

// OnFrame calls f.
func (f ConsumerFunc) OnFrame(ctx context.Context, frame *ndarray.Frame) {
	f(ctx, frame)
}

// Counters summarize a driver's activity.
type Counters struct {
	Frames      int
	Dropped     int
	Rebuilds    int
	LastFrame   time.Time
	LastRebuild time.Duration
}

// A Driver owns one stage. Frame processing and reconfiguration are serialized by the
// driver's lock, which is released while downstream consumers run.
type Driver struct {
	name   string
	stage  CalibratedStage
	loader *calibration.Loader
	mapper *calibration.Mapper
	params *ParamStore
	clock  clock.Clock
	logger logging.Logger

	mu         sync.Mutex
	table      Table
	configured bool
	status     calibration.Status
	last       *ndarray.Frame
	consumers  []Consumer
	counters   Counters

	// skipped frames are logged in full at first, then at most once a second
	skipLog rate.Sometimes
}

// NewDriver builds the stage declared by conf and a driver around it. The driver starts
// unconfigured.
func NewDriver(conf StageConfig, deps Deps, logger logging.Logger) (*Driver, error) {
	logger = logger.Sublogger(conf.Name)
	params := NewParamStore()
	stage, err := NewStage(conf, deps, params, logger)
	if err != nil {
		return nil, err
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	d := &Driver{
		name:   conf.Name,
		stage:  stage,
		loader: calibration.NewLoader(deps.Paths, logger),
		mapper: calibration.NewMapper(),
		params: params,
		clock:  clk,
		logger: logger,

		skipLog: rate.Sometimes{First: 10, Interval: time.Second},
	}
	d.setStatus(calibration.StatusUnconfigured)
	params.HandleWrite(ParamConfigurationFile, func(value interface{}) error {
		return d.LoadDocument(context.Background(), cast.ToString(value))
	})
	return d, nil
}

// Name returns the stage name.
func (d *Driver) Name() string {
	return d.name
}

// Kind returns the stage variant.
func (d *Driver) Kind() Kind {
	return d.stage.Kind()
}

// Params returns the driver's parameter store.
func (d *Driver) Params() *ParamStore {
	return d.params
}

// Model returns the active calibration, or nil before the first successful load.
func (d *Driver) Model() *calibration.Model {
	return d.mapper.Model()
}

// Status returns the outcome of the most recent configuration attempt.
func (d *Driver) Status() calibration.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Configured reports whether frames can be processed.
func (d *Driver) Configured() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.configured
}

// Counters returns a snapshot of the driver's counters.
func (d *Driver) Counters() Counters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters
}

// Table returns the stage's current table.
func (d *Driver) Table() Table {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.table
}

// Subscribe adds a consumer for emitted frames.
func (d *Driver) Subscribe(c Consumer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consumers = append(d.consumers, c)
}

func (d *Driver) setStatus(status calibration.Status) {
	d.status = status
	d.params.Set(ParamConfigurationStatus, status)
}

// LoadDocument loads a calibration document and configures the stage for it. On failure the
// previous model and table stay active and the error is returned; the status parameter
// reports the failure either way.
func (d *Driver) LoadDocument(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.setStatus(calibration.StatusConfiguring)
	d.params.Set(ParamConfigurationFile, name)

	model, err := d.loader.LoadFile(name)
	if err != nil {
		return d.configurationFailed(err, "unable to load configuration")
	}
	return d.configureLocked(ctx, model)
}

// Configure configures the stage for an already loaded model.
func (d *Driver) Configure(ctx context.Context, model *calibration.Model) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setStatus(calibration.StatusConfiguring)
	return d.configureLocked(ctx, model)
}

func (d *Driver) configureLocked(ctx context.Context, model *calibration.Model) error {
	if err := model.Validate(); err != nil {
		return d.configurationFailed(err, "invalid calibration")
	}
	start := d.clock.Now()
	table, err := d.stage.Configure(ctx, model)
	if err != nil {
		return d.configurationFailed(err, "configuration change callback returned with an error")
	}
	if err := d.mapper.Publish(model); err != nil {
		return d.configurationFailed(err, "unable to publish calibration")
	}
	d.table = table
	d.configured = true
	d.setStatus(calibration.StatusConfigured)
	d.logger.Infow("configured", "source", model.Source, "geometry", model.Geometry,
		"output_width", model.OutputWidth, "output_height", model.OutputHeight, "took", d.clock.Since(start))
	return nil
}

func (d *Driver) configurationFailed(err error, msg string) error {
	status := calibration.StatusFromError(err)
	d.setStatus(status)
	d.logger.Errorw(msg, "status", status.String(), "error", err)
	return err
}

// Process runs the stage on frame and passes the result to every consumer. The caller keeps
// its reference to frame. A frame that cannot be processed is skipped and nothing is emitted.
func (d *Driver) Process(ctx context.Context, frame *ndarray.Frame) error {
	d.mu.Lock()
	out, err := d.processLocked(ctx, frame)
	if err != nil {
		d.counters.Dropped++
		dropped := d.counters.Dropped
		d.mu.Unlock()
		d.skipLog.Do(func() {
			d.logger.Warnw("frame skipped", "frame", frame.UniqueID, "dropped", dropped, "error", err)
		})
		return err
	}
	consumers := append([]Consumer(nil), d.consumers...)
	d.mu.Unlock()

	for _, c := range consumers {
		c.OnFrame(ctx, out)
	}

	d.mu.Lock()
	prev := d.last
	d.last = out
	d.mu.Unlock()
	prev.Release()
	return nil
}

func (d *Driver) processLocked(ctx context.Context, frame *ndarray.Frame) (*ndarray.Frame, error) {
	if !d.configured {
		return nil, calibration.NewUnconfiguredError("view screen configuration not loaded")
	}
	model, err := d.mapper.Snapshot()
	if err != nil {
		return nil, err
	}
	if err := d.stage.Check(model, frame); err != nil {
		return nil, errors.Wrap(err, "preprocessing check failed")
	}

	start := d.clock.Now()
	table, err := d.stage.Rebuild(ctx, model, d.table)
	if err != nil {
		return nil, errors.Wrap(err, "cannot build correction table")
	}
	if table != d.table {
		d.table = table
		d.counters.Rebuilds++
		d.counters.LastRebuild = d.clock.Since(start)
		d.logger.Debugw("table rebuilt", "took", d.counters.LastRebuild)
	}

	out, err := d.stage.Apply(ctx, frame, table)
	if err != nil {
		return nil, err
	}
	if d.stage.Kind().AttachesParams() {
		d.params.AttachTo(out.Attributes)
	}
	d.counters.Frames++
	d.counters.LastFrame = d.clock.Now()
	return out, nil
}

// Last returns the most recently emitted frame with an extra reference, or nil. The caller
// must release it.
func (d *Driver) Last() *ndarray.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return nil
	}
	d.last.Reserve()
	return d.last
}

// Close releases the last emitted frame.
func (d *Driver) Close() error {
	d.mu.Lock()
	last := d.last
	d.last = nil
	d.mu.Unlock()
	last.Release()
	return nil
}
