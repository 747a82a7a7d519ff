package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.viam.com/tinyyolo/config"
	"go.viam.com/tinyyolo/data/session"
	"go.viam.com/tinyyolo/logging"
	"go.viam.com/tinyyolo/ml"
	"go.viam.com/tinyyolo/services/mlmodel"
	"go.viam.com/tinyyolo/services/mlmodel/onnxcpu"
	"go.viam.com/tinyyolo/vision/objectdetection"
	"go.viam.com/tinyyolo/vision/scheduler"
	"go.viam.com/tinyyolo/vision/yolo"
)

const (
	generalFlagConfig  = "config"
	generalFlagDebug   = "debug"
	generalFlagLogFile = "log-file"

	decodeFlagTensor = "tensor"
	decodeFlagFormat = "format"

	overlayFlagImage        = "image"
	overlayFlagOut          = "out"
	overlayFlagDetections   = "detections"
	overlayFlagObservations = "observations"

	replayFlagFrames     = "frames"
	replayFlagFPS        = "fps"
	replayFlagSessionDir = "session-dir"
	replayFlagAppName    = "app-name"
	replayFlagModel      = "model"
	replayFlagPinEvery   = "pin-every"

	formatText = "text"
	formatJSON = "json"
)

// drainTimeout bounds how long replay waits for the last admitted cycle.
const drainTimeout = 5 * time.Second

type app struct {
	out     io.Writer
	errOut  io.Writer
	logger  logging.Logger
	logFile *logging.ConsoleAppender
}

// newApp returns the tinyyolo CLI with results written to out and logs to errOut.
func newApp(out, errOut io.Writer) *cli.App {
	a := &app{out: out, errOut: errOut}
	tensorFlag := &cli.StringSliceFlag{
		Name:  decodeFlagTensor,
		Usage: "raw little-endian tensor dump as `PATH:SHAPE[:DTYPE]`, e.g. out.bin:1x255x13x13:float16",
	}
	return &cli.App{
		Name:      "tinyyolo",
		Usage:     "decode YOLOv3-Tiny detection heads",
		Writer:    out,
		ErrWriter: errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    generalFlagConfig,
				Aliases: []string{"c"},
				Usage:   "load pipeline configuration from `FILE` (json or yaml)",
			},
			&cli.BoolFlag{
				Name:  generalFlagDebug,
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  generalFlagLogFile,
				Usage: "also write logs to `FILE`, rotated at 10MB",
			},
		},
		Before: a.setupLogging,
		After: func(c *cli.Context) error {
			if a.logger == nil {
				return nil
			}
			err := a.logger.Sync()
			if a.logFile != nil {
				err = multierr.Combine(err, a.logFile.Close())
			}
			return err
		},
		Commands: []*cli.Command{
			{
				Name:      "decode",
				Usage:     "decode raw detection heads and print the detections",
				UsageText: "tinyyolo decode --tensor out13.bin:1x255x13x13 --tensor out26.bin:1x255x26x26",
				Flags: []cli.Flag{
					tensorFlag,
					&cli.StringFlag{
						Name:  decodeFlagFormat,
						Value: formatText,
						Usage: "output format, text or json",
					},
				},
				Action: a.decodeAction,
			},
			{
				Name:  "overlay",
				Usage: "draw detections onto an image",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: overlayFlagImage, Required: true, Usage: "input `IMAGE`"},
					&cli.StringFlag{Name: overlayFlagOut, Required: true, Usage: "output `IMAGE`, format from extension"},
					tensorFlag,
					&cli.StringFlag{Name: overlayFlagDetections, Usage: "json `FILE` written by decode --format json"},
					&cli.StringFlag{
						Name:  overlayFlagObservations,
						Usage: "json `FILE` of upstream observations with bottom-left origin boxes",
					},
				},
				Action: a.overlayAction,
			},
			{
				Name:  "replay",
				Usage: "feed a stream of frames through the detection scheduler",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: replayFlagFrames, Value: 60, Usage: "number of frames to produce"},
					&cli.Float64Flag{Name: replayFlagFPS, Value: 30, Usage: "frame rate of the producer"},
					&cli.StringFlag{Name: replayFlagSessionDir, Usage: "record a session under `DIR`"},
					&cli.StringFlag{Name: replayFlagAppName, Value: "tinyyolo", Usage: "session name prefix"},
					&cli.StringFlag{Name: replayFlagModel, Usage: "onnx model `FILE`; a synthetic model is used when unset"},
					&cli.IntFlag{Name: replayFlagPinEvery, Usage: "pin the best detection of every Nth delivered result"},
				},
				Action: a.replayAction,
			},
		},
	}
}

func (a *app) setupLogging(c *cli.Context) error {
	a.logger = logging.NewBlankLogger("tinyyolo")
	a.logger.AddAppender(logging.NewWriterAppender(a.errOut))
	a.logger.SetLevel(logging.INFO)
	if c.Bool(generalFlagDebug) {
		a.logger.SetLevel(logging.DEBUG)
		c.Context = logging.EnableDebugMode(c.Context, "")
	}
	if path := c.String(generalFlagLogFile); path != "" {
		a.logFile = logging.NewFileAppender(path, 10)
		a.logger.AddAppender(a.logFile)
	}
	return nil
}

func (a *app) loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(generalFlagConfig); path != "" {
		var err error
		if cfg, err = config.Read(path); err != nil {
			return nil, err
		}
		if !c.Bool(generalFlagDebug) {
			a.logger.SetLevel(cfg.Level())
		}
	}
	return cfg, nil
}

func (a *app) newDecoder(cfg *config.Config) (*yolo.Decoder, error) {
	decoderCfg, err := cfg.DecoderConfig()
	if err != nil {
		return nil, err
	}
	return yolo.NewDecoder(decoderCfg, a.logger.Sublogger("decoder"))
}

func (a *app) decodeSpecs(ctx context.Context, decoder *yolo.Decoder, specs []string) ([]objectdetection.Detection, error) {
	if len(specs) == 0 {
		return nil, errors.Errorf("at least one --%s is required", decodeFlagTensor)
	}
	parsed := make([]tensorSpec, 0, len(specs))
	for _, raw := range specs {
		spec, err := parseTensorSpec(raw)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, spec)
	}

	views := make([]*ml.View, len(parsed))
	g, ctx := errgroup.WithContext(ctx)
	for i, spec := range parsed {
		i, spec := i, spec
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := spec.view(decoder.ExpectedChannels())
			if err != nil {
				a.logger.Warnw("skipping tensor", "tensor", specs[i], "error", err)
				return nil
			}
			a.logger.Debugw("read tensor", "tensor", specs[i], "view", v.String())
			views[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return decoder.Decode(views), nil
}

func (a *app) printDetections(dets []objectdetection.Detection) {
	t := table.NewWriter()
	t.SetOutputMirror(a.out)
	t.AppendHeader(table.Row{"#", "Label", "Score", "X", "Y", "W", "H"})
	for i, d := range dets {
		r := d.Rect()
		t.AppendRow(table.Row{
			i + 1,
			d.Label(),
			fmt.Sprintf("%.1f%%", d.Score()*100),
			fmt.Sprintf("%.3f", r.X),
			fmt.Sprintf("%.3f", r.Y),
			fmt.Sprintf("%.3f", r.W),
			fmt.Sprintf("%.3f", r.H),
		})
	}
	t.AppendFooter(table.Row{"", fmt.Sprintf("%d detections", len(dets))})
	t.Render()
}

func (a *app) decodeAction(c *cli.Context) error {
	cfg, err := a.loadConfig(c)
	if err != nil {
		return err
	}
	decoder, err := a.newDecoder(cfg)
	if err != nil {
		return err
	}
	dets, err := a.decodeSpecs(c.Context, decoder, c.StringSlice(decodeFlagTensor))
	if err != nil {
		return err
	}

	switch format := c.String(decodeFlagFormat); format {
	case formatJSON:
		recs := make([]session.Detection, 0, len(dets))
		for _, d := range dets {
			recs = append(recs, session.NewDetection(d))
		}
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	case formatText:
		a.printDetections(dets)
		return nil
	default:
		return errors.Errorf("unknown format %q", format)
	}
}

func readJSONFile(path string, v interface{}) (err error) {
	//nolint:gosec
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return errors.Wrapf(json.NewDecoder(f).Decode(v), "decoding %q", path)
}

func (a *app) overlayDetections(c *cli.Context, cfg *config.Config) ([]objectdetection.Detection, error) {
	switch {
	case c.String(overlayFlagDetections) != "":
		var recs []session.Detection
		if err := readJSONFile(c.String(overlayFlagDetections), &recs); err != nil {
			return nil, err
		}
		dets := make([]objectdetection.Detection, 0, len(recs))
		for _, r := range recs {
			rect := objectdetection.Rect{X: r.BBox[0], Y: r.BBox[1], W: r.BBox[2], H: r.BBox[3]}
			dets = append(dets, objectdetection.NewDetection(objectdetection.UnknownClass, r.Label, r.Score, rect))
		}
		return dets, nil
	case c.String(overlayFlagObservations) != "":
		var obs []objectdetection.Observation
		if err := readJSONFile(c.String(overlayFlagObservations), &obs); err != nil {
			return nil, err
		}
		return objectdetection.FromObservations(obs, cfg.Passthrough), nil
	default:
		decoder, err := a.newDecoder(cfg)
		if err != nil {
			return nil, err
		}
		return a.decodeSpecs(c.Context, decoder, c.StringSlice(decodeFlagTensor))
	}
}

func (a *app) overlayAction(c *cli.Context) error {
	cfg, err := a.loadConfig(c)
	if err != nil {
		return err
	}
	img, err := imaging.Open(c.String(overlayFlagImage))
	if err != nil {
		return errors.Wrap(err, "opening image")
	}
	dets, err := a.overlayDetections(c, cfg)
	if err != nil {
		return err
	}
	drawn, err := objectdetection.Overlay(img, dets)
	if err != nil {
		return err
	}
	if err := imaging.Save(drawn, c.String(overlayFlagOut)); err != nil {
		return errors.Wrap(err, "saving overlay")
	}
	a.logger.Infow("wrote overlay", "path", c.String(overlayFlagOut), "detections", len(dets))
	return nil
}

func (a *app) newModel(ctx context.Context, c *cli.Context, cfg *config.Config) (mlmodel.Service, error) {
	modelCfg := cfg.Model
	if path := c.String(replayFlagModel); path != "" {
		defaults := onnxcpu.DefaultConfig(path)
		modelCfg = &defaults
	}
	if modelCfg == nil {
		return syntheticModel(cfg.Grids(), cfg.NumClasses, 2*cfg.Grids()[0]), nil
	}
	return onnxcpu.NewModel(ctx, modelCfg, a.logger.Sublogger("onnx"))
}

func (a *app) newRecorder(c *cli.Context, cfg *config.Config) (*session.Recorder, error) {
	sessionCfg := session.Config{AppName: c.String(replayFlagAppName)}
	if cfg.Session != nil {
		sessionCfg = *cfg.Session
	}
	if dir := c.String(replayFlagSessionDir); dir != "" {
		sessionCfg.Dir = dir
	}
	if sessionCfg.Dir == "" {
		return nil, nil
	}
	return session.NewRecorder(sessionCfg.Dir, sessionCfg.AppName,
		session.WithMaxSizeMB(sessionCfg.MaxSizeMB), session.WithLogger(a.logger.Sublogger("session")))
}

func (a *app) replayAction(c *cli.Context) (err error) {
	ctx := c.Context
	frames := c.Int(replayFlagFrames)
	fps := c.Float64(replayFlagFPS)
	if frames <= 0 || fps <= 0 {
		return errors.Errorf("--%s and --%s must be positive", replayFlagFrames, replayFlagFPS)
	}
	cfg, err := a.loadConfig(c)
	if err != nil {
		return err
	}
	decoder, err := a.newDecoder(cfg)
	if err != nil {
		return err
	}
	model, err := a.newModel(ctx, c, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, model.Close(context.Background()))
	}()
	detector, err := yolo.NewDetector(model, decoder, a.logger.Sublogger("detector"))
	if err != nil {
		return err
	}
	rec, err := a.newRecorder(c, cfg)
	if err != nil {
		return err
	}

	var (
		sched    *scheduler.Scheduler[image.Image]
		results  int
		pinEvery = c.Int(replayFlagPinEvery)
		identity = session.PoseFromMatrix([16]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1})
	)
	consumer := func(dets []objectdetection.Detection) {
		results++
		for _, d := range dets {
			a.logger.Debugw("detection", "label", d.Label(), "score", d.Score(), "rect", d.Rect().String())
		}
		if rec == nil {
			return
		}
		odFPS := sched.Stats().FPS
		telemetry := session.SampleTelemetry(ctx, a.logger)
		telemetry.ODFPS = &odFPS
		now := time.Now()
		if err := rec.AppendFrame(now, identity, dets, telemetry); err != nil {
			a.logger.Warnw("failed to record frame", "error", err)
		}
		if pinEvery > 0 && results%pinEvery == 0 && len(dets) > 0 {
			best := objectdetection.SortByScore(dets)[0]
			cx, cy := best.Rect().Center()
			if err := rec.AppendPin(now, identity, best, [3]float32{float32(cx), float32(cy), -1}, telemetry); err != nil {
				a.logger.Warnw("failed to record pin", "error", err)
			}
		}
	}
	sched, err = scheduler.New(detector.Detect, consumer, cfg.SchedulerConfig(), a.logger.Sublogger("scheduler"))
	if err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()
	for i := 0; i < frames; i++ {
		if !goutils.SelectContextOrWaitChan(ctx, ticker.C) {
			break
		}
		sched.Submit(syntheticFrame(cfg.InputSize, i))
	}
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		stats := sched.Stats()
		if stats.Delivered+stats.Failed >= stats.Admitted {
			break
		}
		if !goutils.SelectContextOrWait(ctx, 10*time.Millisecond) {
			break
		}
	}
	sched.Close()

	stats := sched.Stats()
	fmt.Fprintf(a.out, "frames %d admitted %d dropped %d (rate %d, busy %d) failed %d delivered %d\n",
		frames, stats.Admitted, stats.Dropped(), stats.DroppedRate, stats.DroppedBusy, stats.Failed, stats.Delivered)
	fmt.Fprintf(a.out, "latency mean %v p50 %v p95 %v, %.1f detections/s\n",
		stats.MeanLatency, stats.P50Latency, stats.P95Latency, stats.FPS)
	if rec != nil {
		if err := rec.Finish(); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "session %s\n", rec.Path())
	}
	return nil
}
