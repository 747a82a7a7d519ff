package session

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"

	"go.viam.com/tinyyolo/logging"
	"go.viam.com/tinyyolo/utils"
	"go.viam.com/tinyyolo/vision/objectdetection"
)

// FileName is the name of the JSON lines file inside a session directory.
const FileName = "session.jsonl"

// ErrRecorderClosed is returned when appending to a finished session.
var ErrRecorderClosed = errors.New("session recorder is closed")

// Config controls where sessions are written.
type Config struct {
	Dir       string `json:"dir" yaml:"dir" mapstructure:"dir"`
	AppName   string `json:"app_name" yaml:"app_name" mapstructure:"app_name"`
	MaxSizeMB int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty" mapstructure:"max_size_mb"`
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithClock sets the clock used for event timestamps and the session id.
func WithClock(c clock.Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// WithMaxSizeMB rotates the session file once it grows past size megabytes.
func WithMaxSizeMB(size int) Option {
	return func(r *Recorder) { r.maxSizeMB = size }
}

// WithDevice overrides the device name recorded in the start event.
func WithDevice(device string) Option {
	return func(r *Recorder) { r.device = device }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Recorder) { r.logger = logger }
}

// Recorder appends events to a session file. It is safe for concurrent use.
type Recorder struct {
	clock     clock.Clock
	maxSizeMB int
	device    string
	logger    logging.Logger

	id   string
	path string

	mu     sync.Mutex
	out    io.WriteCloser
	closed bool
}

// NewRecorder creates <dir>/Sessions/<appName>_<timestamp>/session.jsonl and writes the start
// event.
func NewRecorder(dir, appName string, opts ...Option) (*Recorder, error) {
	if appName == "" {
		appName = "tinyyolo"
	}
	r := &Recorder{clock: clock.New(), logger: logging.NewBlankLogger("session")}
	for _, opt := range opts {
		opt(r)
	}
	if r.device == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		r.device = host
	}

	r.id = fmt.Sprintf("%s_%s", appName, r.clock.Now().UTC().Format("2006-01-02T15-04-05.000Z"))
	sessionDir, err := utils.SafeJoinDir(dir, filepath.Join("Sessions", r.id))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(sessionDir, 0o750); err != nil {
		return nil, errors.Wrap(err, "creating session directory")
	}
	r.path = filepath.Join(sessionDir, FileName)

	if r.maxSizeMB > 0 {
		r.out = &lumberjack.Logger{Filename: r.path, MaxSize: r.maxSizeMB, MaxBackups: 0}
	} else {
		//nolint:gosec
		f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
		if err != nil {
			return nil, errors.Wrap(err, "creating session file")
		}
		r.out = f
	}

	start := Event{
		Type: EventStart,
		TS:   r.now(),
		Meta: map[string]string{
			"sessionId": r.id,
			"device":    r.device,
			"system":    runtime.GOOS + "/" + runtime.GOARCH,
		},
	}
	if err := r.append(start); err != nil {
		return nil, multierr.Combine(err, r.out.Close())
	}
	r.logger.Infow("recording session", "path", r.path)
	return r, nil
}

// ID is the session id, <appName>_<timestamp>.
func (r *Recorder) ID() string { return r.id }

// Path is the session file path.
func (r *Recorder) Path() string { return r.path }

func (r *Recorder) now() float64 {
	return float64(r.clock.Now().UnixNano()) / float64(time.Second)
}

// AppendFrame records the detections of one processed frame.
func (r *Recorder) AppendFrame(ts time.Time, pose Pose, dets []objectdetection.Detection, telemetry Telemetry) error {
	recs := make([]Detection, 0, len(dets))
	for _, d := range dets {
		recs = append(recs, NewDetection(d))
	}
	return r.append(Event{
		Type:       EventFrame,
		TS:         unixSeconds(ts),
		Pose:       &pose,
		Detections: recs,
		Telemetry:  &telemetry,
	})
}

// AppendPin records a detection the user anchored at a world position.
func (r *Recorder) AppendPin(
	ts time.Time,
	pose Pose,
	pinned objectdetection.Detection,
	world [3]float32,
	telemetry Telemetry,
) error {
	pin := NewDetection(pinned)
	return r.append(Event{
		Type:      EventPin,
		TS:        unixSeconds(ts),
		Pose:      &pose,
		Pin:       &pin,
		World:     world[:],
		Telemetry: &telemetry,
	})
}

// Finish writes the stop event and closes the file. Calling it again does nothing.
func (r *Recorder) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	err := r.appendLocked(Event{Type: EventStop, TS: r.now(), Meta: map[string]string{"sessionId": r.id}})
	if f, ok := r.out.(*os.File); ok {
		err = multierr.Combine(err, f.Sync())
	}
	err = multierr.Combine(err, r.out.Close())
	r.closed = true
	return err
}

func (r *Recorder) append(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRecorderClosed
	}
	return r.appendLocked(ev)
}

func (r *Recorder) appendLocked(ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrapf(err, "encoding %s event", ev.Type)
	}
	line = append(line, '\n')
	if _, err := r.out.Write(line); err != nil {
		return errors.Wrapf(err, "writing %s event", ev.Type)
	}
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
