package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/sensor_collector/internal/reading"
	"github.com/relabs-tech/sensor_collector/internal/sensors"
	"github.com/relabs-tech/sensor_collector/internal/status"
	"github.com/relabs-tech/sensor_collector/internal/upload"
)

// fakeSource delivers samples only when the test says so.
type fakeSource struct {
	mu          sync.Mutex
	offered     []sensors.Sensor
	registered  map[sensors.Listener][]sensors.Sensor
	rates       []sensors.Rate
	failOn      string
	unregisters int
}

func newFakeSource(names ...string) *fakeSource {
	f := &fakeSource{registered: map[sensors.Listener][]sensors.Sensor{}}
	for i, n := range names {
		f.offered = append(f.offered, sensors.Sensor{Name: n, Kind: i + 1})
	}
	return f
}

func (f *fakeSource) Sensors() []sensors.Sensor { return f.offered }

func (f *fakeSource) Register(l sensors.Listener, s sensors.Sensor, rate sensors.Rate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.Name == f.failOn {
		return errors.New("device busy")
	}
	f.registered[l] = append(f.registered[l], s)
	f.rates = append(f.rates, rate)
	return nil
}

func (f *fakeSource) Unregister(l sensors.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.registered, l)
	f.unregisters++
}

// emit calls OnSample on every listener registered for the named sensor.
func (f *fakeSource) emit(name string, values []float32, ts int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for l, list := range f.registered {
		for _, s := range list {
			if s.Name == name {
				l.OnSample(s.Kind, s.Name, values, ts, sensors.AccuracyHigh)
			}
		}
	}
}

func (f *fakeSource) listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.registered)
}

type fakePersister struct {
	mu    sync.Mutex
	calls int
	got   []reading.Record
	err   error
}

func (p *fakePersister) Persist(records []reading.Record) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.got = records
	if p.err != nil {
		return "", p.err
	}
	return "/tmp/session_data.json", nil
}

type fakeUploader struct {
	mu     sync.Mutex
	calls  int
	server string
	got    []reading.Record
	result upload.Result
}

func (u *fakeUploader) Upload(ctx context.Context, server string, records []reading.Record) upload.Result {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	u.server = server
	u.got = records
	return u.result
}

type eventLog struct {
	mu     sync.Mutex
	events []status.Event
}

func (e *eventLog) Publish(ev status.Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *eventLog) last() status.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events[len(e.events)-1]
}

func newTestController(src *fakeSource) (*Controller, *fakePersister, *fakeUploader, *eventLog) {
	p := &fakePersister{}
	u := &fakeUploader{result: upload.Result{OK: true}}
	ev := &eventLog{}
	return New(src, p, u, Options{Sink: ev}), p, u, ev
}

func waitOutcome(t *testing.T, ch <-chan Outcome) (Outcome, bool) {
	t.Helper()
	select {
	case out, ok := <-ch:
		return out, ok
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for outcome")
	}
	return Outcome{}, false
}

func TestSelectSensorDeduplicates(t *testing.T) {
	t.Parallel()
	c, _, _, _ := newTestController(newFakeSource("Accel", "Gyro"))

	for _, name := range []string{"Accel", "Accel", "Gyro", "Accel"} {
		if err := c.SelectSensor(name); err != nil {
			t.Fatalf("select %q: %v", name, err)
		}
	}
	sel := c.Selection()
	if len(sel) != 2 || sel[0].Name != "Accel" || sel[1].Name != "Gyro" {
		t.Fatalf("unexpected selection %v", sel)
	}
}

func TestSelectSensorIgnoresBlankAndUnknown(t *testing.T) {
	t.Parallel()
	c, _, _, _ := newTestController(newFakeSource("Accel"))

	if err := c.SelectSensor(""); err != nil {
		t.Fatalf("blank name should be silent, got %v", err)
	}
	if err := c.SelectSensor("Barometer"); err != nil {
		t.Fatalf("unknown name should be silent, got %v", err)
	}
	if n := len(c.Selection()); n != 0 {
		t.Fatalf("expected empty selection, got %d", n)
	}
}

func TestSelectionLockedWhileCollecting(t *testing.T) {
	t.Parallel()
	c, _, _, _ := newTestController(newFakeSource("Accel", "Gyro"))
	c.SelectSensor("Accel")
	if err := c.Start("1", "1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := c.SelectSensor("Gyro"); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive on select, got %v", err)
	}
	if err := c.ResetSelection(); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("expected ErrSessionActive on reset, got %v", err)
	}
	if n := len(c.Selection()); n != 1 {
		t.Fatalf("selection changed during session: %d", n)
	}

	if _, err := c.Stop("localhost:8080"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.ResetSelection(); err != nil {
		t.Fatalf("reset after stop: %v", err)
	}
	if n := len(c.Selection()); n != 0 {
		t.Fatalf("reset did not clear selection: %d", n)
	}
}

func TestStartDefaultsBlankIDs(t *testing.T) {
	t.Parallel()
	cases := []struct {
		subject, experiment   string
		wantSubject, wantExpt string
	}{
		{"", "", "0", "0"},
		{"   ", "12", "0", "12"},
		{"7", "", "7", "0"},
		{"7", "3", "7", "3"},
	}
	for _, tc := range cases {
		src := newFakeSource("Accel")
		c, _, u, _ := newTestController(src)
		c.SelectSensor("Accel")
		if err := c.Start(tc.subject, tc.experiment); err != nil {
			t.Fatalf("start: %v", err)
		}
		src.emit("Accel", []float32{1}, 1)
		ch, err := c.Stop("srv")
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
		waitOutcome(t, ch)

		rec := u.got[0]
		if rec.SubjectID != tc.wantSubject || rec.ExperimentID != tc.wantExpt {
			t.Fatalf("Start(%q,%q): got subject=%q experiment=%q", tc.subject, tc.experiment, rec.SubjectID, rec.ExperimentID)
		}
	}
}

func TestStartRegistersSelectionAtNormalRate(t *testing.T) {
	t.Parallel()
	src := newFakeSource("Accel", "Gyro", "Gravity")
	c, _, _, _ := newTestController(src)
	c.SelectSensor("Gyro")
	c.SelectSensor("Accel")

	if err := c.Start("1", "2"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if c.State() != Collecting {
		t.Fatalf("expected collecting, got %v", c.State())
	}
	if len(src.rates) != 2 {
		t.Fatalf("expected 2 registrations, got %d", len(src.rates))
	}
	for _, r := range src.rates {
		if r != sensors.RateNormal {
			t.Fatalf("expected normal rate, got %v", r)
		}
	}
}

func TestStartTwiceIsRejected(t *testing.T) {
	t.Parallel()
	src := newFakeSource("Accel")
	c, _, _, _ := newTestController(src)
	c.SelectSensor("Accel")
	c.Start("1", "1")
	src.emit("Accel", []float32{1}, 1)

	if err := c.Start("2", "2"); !errors.Is(err, ErrAlreadyCollecting) {
		t.Fatalf("expected ErrAlreadyCollecting, got %v", err)
	}
	if snap := c.Snapshot(); snap.Records != 1 || snap.Metadata.SubjectID != "1" {
		t.Fatalf("second start must not reset the session: %+v", snap)
	}
}

func TestStopWhileIdleIsRejected(t *testing.T) {
	t.Parallel()
	c, p, u, _ := newTestController(newFakeSource("Accel"))
	if _, err := c.Stop("srv"); !errors.Is(err, ErrNotCollecting) {
		t.Fatalf("expected ErrNotCollecting, got %v", err)
	}
	if p.calls != 0 || u.calls != 0 {
		t.Fatalf("nothing should be persisted or uploaded")
	}
}

func TestStartRollsBackOnRegisterFailure(t *testing.T) {
	t.Parallel()
	src := newFakeSource("Accel", "Gyro")
	src.failOn = "Gyro"
	c, _, _, _ := newTestController(src)
	c.SelectSensor("Accel")
	c.SelectSensor("Gyro")

	if err := c.Start("1", "1"); err == nil {
		t.Fatalf("expected register failure")
	}
	if c.State() != Idle {
		t.Fatalf("controller must stay idle")
	}
	if src.listeners() != 0 {
		t.Fatalf("partial registrations must be undone")
	}
}

func TestStopWithNoRecordsSkipsPersistAndUpload(t *testing.T) {
	t.Parallel()
	src := newFakeSource("Accel")
	c, p, u, ev := newTestController(src)
	c.SelectSensor("Accel")
	c.Start("1", "1")

	ch, err := c.Stop("srv")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, ok := waitOutcome(t, ch); ok {
		t.Fatalf("empty stop must close the channel without an outcome")
	}
	c.Wait()
	if p.calls != 0 || u.calls != 0 {
		t.Fatalf("persist=%d upload=%d, want 0/0", p.calls, u.calls)
	}
	if c.State() != Idle {
		t.Fatalf("expected idle")
	}
	if ev.last().Kind != status.KindEmpty {
		t.Fatalf("expected empty event, got %+v", ev.last())
	}
}

func TestStopHandsFullBatchToPersisterAndUploader(t *testing.T) {
	t.Parallel()
	src := newFakeSource("Accel", "Gyro")
	c, p, u, _ := newTestController(src)
	c.SelectSensor("Accel")
	c.SelectSensor("Gyro")
	c.Start("7", "3")

	const n = 25
	for i := 0; i < n; i++ {
		name := "Accel"
		if i%3 == 0 {
			name = "Gyro"
		}
		src.emit(name, []float32{float32(i)}, int64(i))
	}

	ch, err := c.Stop("localhost:8080")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if src.listeners() != 0 {
		t.Fatalf("collector still registered after stop")
	}
	out, ok := waitOutcome(t, ch)
	if !ok {
		t.Fatalf("expected an outcome")
	}
	if out.Records != n || len(p.got) != n || len(u.got) != n {
		t.Fatalf("expected %d records everywhere, outcome=%d persisted=%d uploaded=%d", n, out.Records, len(p.got), len(u.got))
	}
	for i, r := range u.got {
		if r.Values[0] != float32(i) {
			t.Fatalf("record %d out of arrival order: %v", i, r.Values)
		}
	}
	if u.server != "localhost:8080" {
		t.Fatalf("unexpected server %q", u.server)
	}
	if out.File == "" || out.SessionID == "" {
		t.Fatalf("outcome incomplete: %+v", out)
	}
}

func TestStopCountedReportsDrainedRecords(t *testing.T) {
	t.Parallel()
	src := newFakeSource("Accel")
	c, _, _, _ := newTestController(src)
	c.SelectSensor("Accel")
	c.Start("1", "1")
	for i := 0; i < 4; i++ {
		src.emit("Accel", []float32{float32(i)}, int64(i))
	}

	n, ch, err := c.StopCounted("srv")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	out, ok := waitOutcome(t, ch)
	if !ok || n != 4 || out.Records != n {
		t.Fatalf("drained %d, outcome %d (ok=%v), want 4", n, out.Records, ok)
	}

	if n, _, err := c.StopCounted("srv"); !errors.Is(err, ErrNotCollecting) || n != 0 {
		t.Fatalf("stop while idle: n=%d err=%v", n, err)
	}
}

func TestLateSampleAfterStopIsNotCollected(t *testing.T) {
	t.Parallel()
	src := newFakeSource("Accel")
	c, _, u, _ := newTestController(src)
	c.SelectSensor("Accel")
	c.Start("1", "1")
	src.emit("Accel", []float32{1}, 1)

	// keep a handle on the collector the way an in-flight callback would
	c.mu.Lock()
	late := c.collector
	c.mu.Unlock()

	ch, _ := c.Stop("srv")
	late.OnSample(1, "Accel", []float32{2}, 2, 3)
	waitOutcome(t, ch)

	if len(u.got) != 1 {
		t.Fatalf("late sample leaked into the batch: %d records", len(u.got))
	}
}

func TestPersistFailureDoesNotBlockUpload(t *testing.T) {
	t.Parallel()
	src := newFakeSource("Accel")
	c, p, u, _ := newTestController(src)
	p.err = errors.New("disk full")
	c.SelectSensor("Accel")
	c.Start("1", "1")
	src.emit("Accel", []float32{1}, 1)

	ch, _ := c.Stop("srv")
	out, _ := waitOutcome(t, ch)
	if out.PersistErr == nil {
		t.Fatalf("persist error not reported")
	}
	if u.calls != 1 || !out.Upload.OK {
		t.Fatalf("upload must proceed after a persist failure")
	}
}

func TestNewSessionStartsEmpty(t *testing.T) {
	t.Parallel()
	src := newFakeSource("Accel")
	c, _, u, _ := newTestController(src)
	c.SelectSensor("Accel")

	c.Start("1", "1")
	src.emit("Accel", []float32{1}, 1)
	src.emit("Accel", []float32{2}, 2)
	ch, _ := c.Stop("srv")
	first, _ := waitOutcome(t, ch)

	c.Start("1", "2")
	src.emit("Accel", []float32{3}, 3)
	ch, _ = c.Stop("srv")
	second, _ := waitOutcome(t, ch)

	if len(u.got) != 1 || u.got[0].ExperimentID != "2" {
		t.Fatalf("second session must only hold its own records: %+v", u.got)
	}
	if first.SessionID == second.SessionID {
		t.Fatalf("sessions share an id")
	}
}

// Three accelerometer samples end up in one bulk POST, in call order.
func TestScenarioBulkUpload(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		path string
		body []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		path = r.URL.Path
		body = raw
		mu.Unlock()
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	src := newFakeSource("Accel")
	c := New(src, &fakePersister{}, upload.New(upload.Options{}), Options{})
	c.SelectSensor("Accel")
	if err := c.Start("7", "3"); err != nil {
		t.Fatalf("start: %v", err)
	}
	src.emit("Accel", []float32{1.0, 2.0, 3.0}, 1)
	src.emit("Accel", []float32{0.1, 0.2, 0.3}, 2)
	src.emit("Accel", []float32{9.9, 8.8, 7.7}, 3)

	ch, err := c.Stop(strings.TrimPrefix(srv.URL, "http://"))
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	out, _ := waitOutcome(t, ch)
	if !out.Upload.OK {
		t.Fatalf("upload failed: %s", out.Upload.Status())
	}

	mu.Lock()
	defer mu.Unlock()
	if path != "/patient/7/data/bulk" {
		t.Fatalf("unexpected path %q", path)
	}
	got := string(body)
	if !strings.HasPrefix(got, `{"experimentId":"3","data":[`) {
		t.Fatalf("unexpected body %s", got)
	}
	first := strings.Index(got, `"data":[1,2,3]`)
	second := strings.Index(got, `"data":[0.1,0.2,0.3]`)
	third := strings.Index(got, `"data":[9.9,8.8,7.7]`)
	if first < 0 || second < first || third < second {
		t.Fatalf("records missing or out of order: %s", got)
	}
	if strings.Count(got, `"patientId":"7"`) != 3 || strings.Count(got, `"sensorId":"Accel"`) != 3 {
		t.Fatalf("expected 3 entries tagged with subject 7: %s", got)
	}
}

func TestUnauthorizedUploadLeavesControllerIdle(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	src := newFakeSource("Accel")
	ev := &eventLog{}
	c := New(src, &fakePersister{}, upload.New(upload.Options{}), Options{Sink: ev})
	c.SelectSensor("Accel")
	c.Start("7", "3")
	src.emit("Accel", []float32{1}, 1)

	ch, err := c.Stop(srv.URL)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	out, _ := waitOutcome(t, ch)

	if c.State() != Idle {
		t.Fatalf("expected idle after a failed upload")
	}
	last := ev.last()
	if last.Kind != status.KindUploadFailed || !strings.Contains(last.Text, "401") {
		t.Fatalf("status must mention 401, got %+v", last)
	}
	if !strings.Contains(c.Snapshot().LastStatus, "401") {
		t.Fatalf("snapshot status must mention 401")
	}
	if out.Upload.OK {
		t.Fatalf("outcome must report failure")
	}

	// the controller is usable again
	if err := c.Start("8", "3"); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
}
