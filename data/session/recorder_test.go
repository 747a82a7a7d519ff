package session

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/host"
	"go.viam.com/test"

	"go.viam.com/tinyyolo/logging"
	"go.viam.com/tinyyolo/vision/objectdetection"
)

func readSession(t *testing.T, path string) []Event {
	t.Helper()
	//nolint:gosec
	f, err := os.Open(path)
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()
	events, err := ReadEvents(f)
	test.That(t, err, test.ShouldBeNil)
	return events
}

func TestRecorder(t *testing.T) {
	dir := t.TempDir()
	mock := clock.NewMock()
	mock.Set(time.Date(2025, 12, 24, 10, 30, 0, 0, time.UTC))

	rec, err := NewRecorder(dir, "demo",
		WithClock(mock), WithDevice("bench"), WithLogger(logging.NewTestLogger(t)))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rec.ID(), test.ShouldEqual, "demo_2025-12-24T10-30-00.000Z")
	test.That(t, rec.Path(), test.ShouldEqual, filepath.Join(dir, "Sessions", rec.ID(), FileName))

	dog := objectdetection.NewDetection(16, "dog", 0.8, objectdetection.Rect{X: 0.1, Y: 0.2, W: 0.3, H: 0.4})
	cat := objectdetection.NewDetection(15, "cat", 0.6, objectdetection.Rect{X: 0.5, Y: 0.5, W: 0.1, H: 0.1})
	fps := 7.5
	telemetry := Telemetry{Thermal: "nominal", Battery: 0.9, ODFPS: &fps}
	pose := Pose{T: [3]float32{1, 2, 3}, Q: [4]float32{0, 0, 0, 1}}

	frameTS := mock.Now().Add(time.Second)
	test.That(t, rec.AppendFrame(frameTS, pose, []objectdetection.Detection{dog, cat}, telemetry), test.ShouldBeNil)
	test.That(t, rec.AppendFrame(frameTS, pose, nil, Telemetry{Thermal: "fair"}), test.ShouldBeNil)
	test.That(t, rec.AppendPin(frameTS, pose, dog, [3]float32{4, 5, 6}, telemetry), test.ShouldBeNil)
	test.That(t, rec.Finish(), test.ShouldBeNil)
	test.That(t, rec.Finish(), test.ShouldBeNil)

	err = rec.AppendFrame(frameTS, pose, nil, telemetry)
	test.That(t, err, test.ShouldBeError, ErrRecorderClosed)

	events := readSession(t, rec.Path())
	test.That(t, events, test.ShouldHaveLength, 5)

	start := events[0]
	test.That(t, start.Type, test.ShouldEqual, EventStart)
	test.That(t, start.TS, test.ShouldAlmostEqual, float64(mock.Now().Unix()), 1e-3)
	test.That(t, start.Meta["sessionId"], test.ShouldEqual, rec.ID())
	test.That(t, start.Meta["device"], test.ShouldEqual, "bench")
	test.That(t, start.Meta["system"], test.ShouldNotBeEmpty)
	test.That(t, start.Pose, test.ShouldBeNil)

	frame := events[1]
	test.That(t, frame.Type, test.ShouldEqual, EventFrame)
	test.That(t, frame.TS, test.ShouldAlmostEqual, float64(frameTS.Unix()), 1e-3)
	test.That(t, *frame.Pose, test.ShouldResemble, pose)
	test.That(t, frame.Detections, test.ShouldResemble, []Detection{
		{Label: "dog", Score: 0.8, BBox: [4]float64{0.1, 0.2, 0.3, 0.4}},
		{Label: "cat", Score: 0.6, BBox: [4]float64{0.5, 0.5, 0.1, 0.1}},
	})
	test.That(t, *frame.Telemetry.ODFPS, test.ShouldEqual, 7.5)

	empty := events[2]
	test.That(t, empty.Detections, test.ShouldNotBeNil)
	test.That(t, empty.Detections, test.ShouldBeEmpty)
	test.That(t, empty.Telemetry.ODFPS, test.ShouldBeNil)

	pin := events[3]
	test.That(t, pin.Type, test.ShouldEqual, EventPin)
	test.That(t, pin.Pin.Label, test.ShouldEqual, "dog")
	test.That(t, pin.World, test.ShouldResemble, []float32{4, 5, 6})
	test.That(t, pin.Detections, test.ShouldBeNil)

	stop := events[4]
	test.That(t, stop.Type, test.ShouldEqual, EventStop)
	test.That(t, stop.Meta, test.ShouldResemble, map[string]string{"sessionId": rec.ID()})
}

func TestFrameEventsAlwaysCarryDetections(t *testing.T) {
	rec, err := NewRecorder(t.TempDir(), "demo")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rec.AppendFrame(time.Now(), Pose{}, nil, Telemetry{}), test.ShouldBeNil)
	test.That(t, rec.Finish(), test.ShouldBeNil)

	//nolint:gosec
	raw, err := os.ReadFile(rec.Path())
	test.That(t, err, test.ShouldBeNil)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	test.That(t, lines, test.ShouldHaveLength, 3)
	test.That(t, lines[0], test.ShouldNotContainSubstring, `"detections"`)
	test.That(t, lines[1], test.ShouldContainSubstring, `"detections":[]`)
	test.That(t, lines[2], test.ShouldNotContainSubstring, `"detections"`)
}

func TestRecorderConcurrentAppends(t *testing.T) {
	rec, err := NewRecorder(t.TempDir(), "", WithMaxSizeMB(1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, strings.HasPrefix(rec.ID(), "tinyyolo_"), test.ShouldBeTrue)

	det := objectdetection.NewDetection(0, "person", 0.5, objectdetection.Rect{W: 0.5, H: 0.5})
	var wg sync.WaitGroup
	errs := make(chan error, 80)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				errs <- rec.AppendFrame(time.Now(), Pose{}, []objectdetection.Detection{det}, Telemetry{})
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		test.That(t, err, test.ShouldBeNil)
	}
	test.That(t, rec.Finish(), test.ShouldBeNil)

	events := readSession(t, rec.Path())
	test.That(t, events, test.ShouldHaveLength, 82)
	test.That(t, events[0].Type, test.ShouldEqual, EventStart)
	test.That(t, events[81].Type, test.ShouldEqual, EventStop)
}

func TestReadEventsMalformed(t *testing.T) {
	events, err := ReadEvents(strings.NewReader(`{"type":"start","ts":1}` + "\n" + `{"type":`))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, events, test.ShouldHaveLength, 1)
}

func TestPoseFromMatrix(t *testing.T) {
	identity := [16]float32{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0.5, -1, 2, 1,
	}
	pose := PoseFromMatrix(identity)
	test.That(t, pose.T, test.ShouldResemble, [3]float32{0.5, -1, 2})
	test.That(t, pose.Q[3], test.ShouldAlmostEqual, 1, 1e-6)

	// quarter turn about z, column-major
	c, s := float32(0), float32(1)
	yaw := [16]float32{
		c, s, 0, 0,
		-s, c, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	pose = PoseFromMatrix(yaw)
	half := math.Sqrt2 / 2
	test.That(t, pose.Q[0], test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, pose.Q[1], test.ShouldAlmostEqual, 0, 1e-6)
	test.That(t, pose.Q[2], test.ShouldAlmostEqual, half, 1e-6)
	test.That(t, pose.Q[3], test.ShouldAlmostEqual, half, 1e-6)
}

func TestRecorderRejectsEscapingName(t *testing.T) {
	_, err := NewRecorder(t.TempDir(), filepath.Join("..", "..", "elsewhere"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unsafe path join")
}

func TestThermalState(t *testing.T) {
	test.That(t, ThermalState(35), test.ShouldEqual, ThermalNominal)
	test.That(t, ThermalState(60), test.ShouldEqual, ThermalFair)
	test.That(t, ThermalState(80), test.ShouldEqual, ThermalSerious)
	test.That(t, ThermalState(104), test.ShouldEqual, ThermalCritical)

	tel := SampleTelemetry(context.Background(), logging.NewTestLogger(t))
	test.That(t, tel.Battery, test.ShouldEqual, BatteryUnknown)
	test.That(t, tel.Thermal, test.ShouldBeIn,
		[]string{ThermalNominal, ThermalFair, ThermalSerious, ThermalCritical, ThermalUnknown})
}

func TestSampleTelemetrySensors(t *testing.T) {
	orig := readTemperatures
	defer func() { readTemperatures = orig }()

	readTemperatures = func(context.Context) ([]host.TemperatureStat, error) {
		return nil, errors.New("no hwmon")
	}
	logger, logs := logging.NewObservedTestLogger(t)
	tel := SampleTelemetry(context.Background(), logger)
	test.That(t, tel.Thermal, test.ShouldEqual, ThermalUnknown)
	test.That(t, logs.FilterMessage("no temperature sensors readable").Len(), test.ShouldEqual, 1)

	// partial readings still count, and the warning is not logged
	readTemperatures = func(context.Context) ([]host.TemperatureStat, error) {
		return []host.TemperatureStat{
			{SensorKey: "cpu", Temperature: 82},
			{SensorKey: "broken", Temperature: math.NaN()},
			{SensorKey: "board", Temperature: 41},
		}, errors.New("one sensor failed")
	}
	logger, logs = logging.NewObservedTestLogger(t)
	tel = SampleTelemetry(context.Background(), logger)
	test.That(t, tel.Thermal, test.ShouldEqual, ThermalSerious)
	test.That(t, logs.Len(), test.ShouldEqual, 0)
}
