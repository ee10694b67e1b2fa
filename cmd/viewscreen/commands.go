package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
	"unsafe"

	"github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"github.com/beamline/viewscreen/beamstats"
	"github.com/beamline/viewscreen/calibration"
	"github.com/beamline/viewscreen/config"
	"github.com/beamline/viewscreen/correction"
	"github.com/beamline/viewscreen/efficiency"
	"github.com/beamline/viewscreen/logging"
	"github.com/beamline/viewscreen/magnification"
	"github.com/beamline/viewscreen/ndarray"
	"github.com/beamline/viewscreen/pipeline"
	"github.com/beamline/viewscreen/remap"
)

// Frame attributes added by the process command.
const (
	attrRunID      = "RUN_ID"
	attrSourceFile = "SOURCE_FILE"
)

// loadDocument loads a calibration document given by path, relative to the working directory.
func loadDocument(path string, logger logging.Logger) (*calibration.Model, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	loader := calibration.NewLoader(calibration.NewRepositoryPaths(filepath.Dir(abs)), logger)
	return loader.LoadFile(filepath.Base(abs))
}

func inspectAction(c *cli.Context, logger logging.Logger) error {
	if c.NArg() != 1 {
		return errors.New("expected exactly one calibration document")
	}
	model, err := loadDocument(c.Args().First(), logger)
	if err != nil {
		return err
	}
	printModel(c.App.Writer, model)
	return nil
}

func printModel(w io.Writer, model *calibration.Model) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(model.Source)
	t.AppendHeader(table.Row{"Property", "Value"})
	t.AppendRow(table.Row{"Geometry", model.Geometry})
	t.AppendRow(table.Row{"Orientation", fmt.Sprintf("x:%d, y:%d", model.Orientation.X, model.Orientation.Y)})
	t.AppendRow(table.Row{"Input image", fmt.Sprintf("%dx%d", model.InputWidth, model.InputHeight)})
	t.AppendRow(table.Row{"Output image", fmt.Sprintf("%dx%d", model.OutputWidth, model.OutputHeight)})
	t.AppendRow(table.Row{"Beamspace x", fmt.Sprintf("[%g, %g]", model.XStart, model.XEnd)})
	t.AppendRow(table.Row{"Beamspace y", fmt.Sprintf("[%g, %g]", model.YStart, model.YEnd)})
	a, _, c, _ := model.BeamScale()
	t.AppendRow(table.Row{"Output pixel size", fmt.Sprintf("%g x %g", a, -c)})
	t.AppendRow(table.Row{"Mapping order", model.Order})
	t.AppendRow(table.Row{"GU", fmt.Sprint(model.GU)})
	t.AppendRow(table.Row{"GV", fmt.Sprint(model.GV)})
	t.AppendRow(table.Row{"FX", fmt.Sprint(model.FX)})
	t.AppendRow(table.Row{"FY", fmt.Sprint(model.FY)})
	for n := 0; n < calibration.MaxTargets; n++ {
		info, err := model.Target(n)
		if err != nil {
			continue
		}
		t.AppendRow(table.Row{fmt.Sprintf("Target %d", n), fmt.Sprintf("%s (%s)", info.Material, info.LightDistribution)})
	}
	center := model.OutputCenter()
	t.AppendRow(table.Row{"Center footprint", fmt.Sprintf("%.4g camera pixels", model.PixelFootprintArea(center.X, center.Y))})
	t.Render()
}

func tablesAction(c *cli.Context, logger logging.Logger) error {
	ctx := c.Context
	model, err := loadDocument(c.String(flagDocument), logger)
	if err != nil {
		return err
	}

	var summaries []tableSummary
	mag, err := magnification.BuildTable(ctx, model)
	if err != nil {
		return errors.Wrap(err, "cannot build magnification table")
	}
	s, err := summarizeTable("magnification", mag)
	if err != nil {
		return err
	}
	summaries = append(summaries, s)
	plots := map[string]*correction.Table{"magnification": mag}

	geo, err := remap.BuildTable(ctx, model, remap.DefaultCapacity, logger)
	if err != nil {
		return errors.Wrap(err, "cannot build remap table")
	}
	contributors := make([]float64, len(geo.Entries))
	total := 0
	for i, entry := range geo.Entries {
		contributors[i] = float64(len(entry))
		total += len(entry)
	}
	fmt.Fprintf(c.App.Writer, "remap table holds %d contributions (%s)\n",
		total, units.BytesSize(float64(total)*float64(unsafe.Sizeof(remap.Contribution{}))))
	if s, err = summarize("remap contributors", contributors); err != nil {
		return err
	}
	summaries = append(summaries, s)
	if geo.Overflows > 0 {
		fmt.Fprintf(c.App.Writer, "remap table dropped %d contributions\n", geo.Overflows)
	}

	if c.IsSet(flagIris) {
		eff, err := buildEfficiencyTable(c, model, logger)
		if err != nil {
			return err
		}
		if s, err = summarizeTable("efficiency", eff.Table); err != nil {
			return err
		}
		summaries = append(summaries, s)
		plots["efficiency"] = eff.Table
	}
	renderSummaries(c.App.Writer, summaries)

	if dir := c.String(flagPlot); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
		for name, t := range plots {
			path := filepath.Join(dir, name+".png")
			if err := plotTable(path, name, t); err != nil {
				return errors.Wrapf(err, "cannot plot %s table", name)
			}
			fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
		}
	}
	return nil
}

func buildEfficiencyTable(c *cli.Context, model *calibration.Model, logger logging.Logger) (*efficiency.Table, error) {
	if c.String(flagConfig) == "" {
		return nil, errors.New("an efficiency table needs --config for the efficiency map directories")
	}
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return nil, err
	}
	grids, err := efficiency.LoadTargetGrids(model, cfg.RepositoryPaths(), logger)
	if err != nil {
		return nil, err
	}
	grid, params, err := efficiency.Preconditions(model, grids, c.Int(flagTarget), c.Float64(flagIris),
		c.Float64(flagEnergy), efficiency.DefaultIrisWindow, logger)
	if err != nil {
		return nil, err
	}
	return efficiency.BuildTable(c.Context, model, grid, params)
}

func processAction(c *cli.Context, logger logging.Logger) error {
	if c.NArg() == 0 {
		return errors.New("no frames given")
	}
	cfg, err := config.Read(c.String(flagConfig))
	if err != nil {
		return err
	}
	if !c.Bool(flagDebug) {
		logger = cfg.NewLogger("viewscreen")
	}
	defer func() {
		goutils.UncheckedError(logger.Sync())
	}()

	format := c.String(flagFormat)
	if format != formatTIFF && format != formatPPM && format != formatQOI {
		return errors.Errorf("unknown image format %q", format)
	}
	outDir := c.String(flagOut)
	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o750); err != nil {
			return err
		}
	}
	document := cfg.Document
	if c.IsSet(flagDocument) {
		document = c.String(flagDocument)
	}
	if document == "" {
		return errors.New("no calibration document configured")
	}

	paths := cfg.RepositoryPaths()
	pool := ndarray.NewPool()
	p, err := pipeline.New(cfg.Stages, pipeline.Deps{Paths: paths, Pool: pool}, logger)
	if err != nil {
		return err
	}
	defer func() {
		goutils.UncheckedError(p.Close())
	}()
	if err := p.LoadDocument(c.Context, document); err != nil {
		return err
	}
	if cfg.WatchDocument {
		w, err := p.WatchDocument(paths, document, pipeline.DefaultSettleTime)
		if err != nil {
			return err
		}
		defer func() {
			goutils.UncheckedError(w.Close())
		}()
	}

	runID := uuid.New()
	results := table.NewWriter()
	results.SetOutputMirror(c.App.Writer)
	results.SetTitle("run " + runID.String())
	results.AppendHeader(table.Row{"#", "Frame", "Output", "Centroid X", "Centroid Y", "Stdev X", "Stdev Y"})

	var writeErr error
	p.Subscribe(pipeline.ConsumerFunc(func(ctx context.Context, frame *ndarray.Frame) {
		source, _ := frame.Attributes.Find(attrSourceFile)
		out := ""
		if outDir != "" {
			out = filepath.Join(outDir, fmt.Sprintf("%04d%s", frame.UniqueID, frameExtension(format)))
			if err := writeFrame(out, format, frame); err != nil && writeErr == nil {
				writeErr = errors.Wrapf(err, "cannot write %s", out)
			}
		}
		results.AppendRow(table.Row{
			frame.UniqueID, source.Value, out,
			statCell(frame, beamstats.ParamCentroidX), statCell(frame, beamstats.ParamCentroidY),
			statCell(frame, beamstats.ParamStdevX), statCell(frame, beamstats.ParamStdevY),
		})
	}))

	for i, path := range c.Args().Slice() {
		if err := processFile(c.Context, p, pool, path, i, runID); err != nil {
			logger.Warnw("frame not processed", "path", path, "error", err)
		}
		if writeErr != nil {
			return writeErr
		}
	}
	results.Render()
	return nil
}

func processFile(ctx context.Context, p *pipeline.Pipeline, pool *ndarray.Pool, path string, id int, runID uuid.UUID) error {
	frame, err := readFrame(pool, path)
	if err != nil {
		return err
	}
	defer frame.Release()
	frame.UniqueID = id
	frame.TimeStamp = time.Now()
	frame.Attributes.Add(attrRunID, "processing run", runID.String())
	frame.Attributes.Add(attrSourceFile, "camera frame file", path)
	return p.Process(ctx, frame)
}

func statCell(frame *ndarray.Frame, name string) string {
	attr, ok := frame.Attributes.Find(name)
	if !ok {
		return ""
	}
	return fmt.Sprintf("%.4g", attr.Value)
}

func schemaAction(c *cli.Context) error {
	out, err := json.MarshalIndent(config.Schema(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}
