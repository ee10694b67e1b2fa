package pipeline

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/beamline/viewscreen/logging"
	"github.com/beamline/viewscreen/ndarray"
)

// Pipeline is a chain of drivers; each driver's output is the next driver's input.
type Pipeline struct {
	drivers []*Driver
	byName  map[string]*Driver
	logger  logging.Logger
}

// New builds a driver per stage declaration and chains them in order.
func New(stages []StageConfig, deps Deps, logger logging.Logger) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, errors.New("pipeline has no stages")
	}
	p := &Pipeline{byName: map[string]*Driver{}, logger: logger}
	for i, conf := range stages {
		if _, dup := p.byName[conf.Name]; dup {
			return nil, errors.Errorf("duplicate stage name %q", conf.Name)
		}
		d, err := NewDriver(conf, deps, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "stage %d", i)
		}
		if i > 0 {
			next := d
			p.drivers[i-1].Subscribe(ConsumerFunc(func(ctx context.Context, frame *ndarray.Frame) {
				// failures are logged and counted by the downstream driver
				//nolint:errcheck
				next.Process(ctx, frame)
			}))
		}
		p.drivers = append(p.drivers, d)
		p.byName[conf.Name] = d
	}
	return p, nil
}

// Drivers returns the drivers in pipeline order.
func (p *Pipeline) Drivers() []*Driver {
	return append([]*Driver(nil), p.drivers...)
}

// Driver looks a driver up by stage name.
func (p *Pipeline) Driver(name string) (*Driver, bool) {
	d, ok := p.byName[name]
	return d, ok
}

// LoadDocument loads a calibration document into every driver. Every driver is attempted and
// all failures are returned.
func (p *Pipeline) LoadDocument(ctx context.Context, name string) error {
	var errs error
	for _, d := range p.drivers {
		if err := d.LoadDocument(ctx, name); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "stage %q", d.Name()))
		}
	}
	return errs
}

// Process feeds a frame into the first driver. The error only reflects the first stage.
func (p *Pipeline) Process(ctx context.Context, frame *ndarray.Frame) error {
	return p.drivers[0].Process(ctx, frame)
}

// Subscribe adds a consumer of the last driver's output.
func (p *Pipeline) Subscribe(c Consumer) {
	p.drivers[len(p.drivers)-1].Subscribe(c)
}

// Close closes every driver.
func (p *Pipeline) Close() error {
	var errs error
	for _, d := range p.drivers {
		errs = multierr.Combine(errs, d.Close())
	}
	return errs
}

func (p *Pipeline) String() string {
	return fmt.Sprintf("pipeline(%d stages)", len(p.drivers))
}
