// Package monitoring serves a debug API that shows the state of the timing
// instrumentation of a running server.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sarchlab/servertiming/aggregation"
	"github.com/sarchlab/servertiming/guard"
	"github.com/sarchlab/servertiming/recording"
	"github.com/sarchlab/servertiming/tracking"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"
)

// Monitor exposes the recorder, the memory guard, and the tracker over HTTP.
type Monitor struct {
	source  recording.Source
	guard   *guard.Guard
	tracker *tracking.Tracker
	groups  aggregation.Groups
	logger  log.Logger

	profileDuration time.Duration
}

// NewMonitor creates a new Monitor. A nil logger discards logs.
func NewMonitor(logger log.Logger) *Monitor {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &Monitor{
		logger:          logger,
		profileDuration: time.Second,
	}
}

// RegisterSource registers the event source and the guard that bounds it.
func (m *Monitor) RegisterSource(s recording.Source, g *guard.Guard) {
	m.source = s
	m.guard = g
}

// RegisterTracker registers the tracker that opens request scopes.
func (m *Monitor) RegisterTracker(t *tracking.Tracker) {
	m.tracker = t
}

// RegisterGroups registers the groups that are reported.
func (m *Monitor) RegisterGroups(groups aggregation.Groups) {
	m.groups = groups
}

// WithProfileDuration sets how long /api/profile samples the CPU.
func (m *Monitor) WithProfileDuration(d time.Duration) *Monitor {
	m.profileDuration = d
	return m
}

// Handler returns the router of the monitoring API.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/recorder", m.recorderStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/events", m.listEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/groups", m.listGroups).Methods(http.MethodGet)
	r.HandleFunc("/api/scopes", m.scopeStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/check", m.check).Methods(http.MethodPost)
	r.HandleFunc("/api/state", m.state).Methods(http.MethodGet)
	r.HandleFunc("/api/state/{field}", m.state).Methods(http.MethodGet)
	r.HandleFunc("/api/resource", m.listResources).Methods(http.MethodGet)
	r.HandleFunc("/api/profile", m.collectProfile).Methods(http.MethodGet)

	return r
}

// StartServer serves the monitoring API on addr in the background and
// returns the URL it listens on. Use port 0 for a random port.
func (m *Monitor) StartServer(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", errors.Wrap(err, "listen for monitoring")
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)
	level.Info(m.logger).Log("msg", "monitoring server started", "url", url)

	go func() {
		err := http.Serve(listener, m.Handler())
		if err != nil {
			level.Error(m.logger).Log("msg", "monitoring server stopped", "err", err)
		}
	}()

	return url, nil
}

type recorderRsp struct {
	Active      bool   `json:"active"`
	BufferBytes uint64 `json:"buffer_bytes"`
	Threshold   uint64 `json:"threshold"`
	Events      int    `json:"events"`
}

func (m *Monitor) recorderStatus(w http.ResponseWriter, _ *http.Request) {
	if !m.sourceRegisteredOr404(w) {
		return
	}

	m.writeJSON(w, m.recorderSnapshot())
}

func (m *Monitor) recorderSnapshot() recorderRsp {
	rsp := recorderRsp{
		Active:      m.source.IsActive(),
		BufferBytes: m.source.BufferSize(),
		Events:      m.source.NumEvents(),
	}

	if m.guard != nil {
		rsp.Threshold = m.guard.Threshold()
	}

	return rsp
}

type eventRsp struct {
	Func       string    `json:"func"`
	Start      time.Time `json:"start"`
	DurationMS float64   `json:"duration_ms"`
}

func (m *Monitor) listEvents(w http.ResponseWriter, r *http.Request) {
	if !m.sourceRegisteredOr404(w) {
		return
	}

	sortMethod, limit, offset, err := m.eventsParseParams(r)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "Error: %s", err)

		return
	}

	events := m.sortAndSelectEvents(m.source.Drain(), sortMethod, limit, offset)

	rsp := make([]eventRsp, 0, len(events))
	for _, e := range events {
		rsp = append(rsp, eventRsp{
			Func:       e.Func.Name(),
			Start:      e.Start,
			DurationMS: float64(e.Duration()) / float64(time.Millisecond),
		})
	}

	m.writeJSON(w, rsp)
}

func (*Monitor) eventsParseParams(
	r *http.Request,
) (sortMethod string, limit, offset int, err error) {
	sortMethod = r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "start"
	}

	if sortMethod != "start" && sortMethod != "duration" {
		return "", 0, 0, errors.Errorf(
			"invalid sort method: %s. Allowed values are `start` and `duration`",
			sortMethod)
	}

	limit, err = intParam(r, "limit", 100)
	if err != nil {
		return sortMethod, 0, 0, err
	}

	offset, err = intParam(r, "offset", 0)
	if err != nil {
		return sortMethod, limit, 0, err
	}

	return sortMethod, limit, offset, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	str := r.URL.Query().Get(name)
	if str == "" {
		return def, nil
	}

	v, err := strconv.Atoi(str)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", name)
	}

	if v < 0 {
		return 0, errors.Errorf("%s must not be negative", name)
	}

	return v, nil
}

func (*Monitor) sortAndSelectEvents(
	events []recording.CallEvent,
	sortMethod string,
	limit, offset int,
) []recording.CallEvent {
	// Drained events are in start order already.
	if sortMethod == "duration" {
		sort.SliceStable(events, func(i, j int) bool {
			return events[i].Duration() > events[j].Duration()
		})
	}

	if offset >= len(events) {
		return nil
	}

	end := len(events)
	if limit < end-offset {
		end = offset + limit
	}

	return events[offset:end]
}

type groupRsp struct {
	Tag         string   `json:"tag"`
	Description string   `json:"description,omitempty"`
	Targets     []string `json:"targets"`
}

func (m *Monitor) listGroups(w http.ResponseWriter, _ *http.Request) {
	m.writeJSON(w, m.groupSnapshot())
}

func (m *Monitor) groupSnapshot() []groupRsp {
	rsp := make([]groupRsp, 0, len(m.groups))
	for _, g := range m.groups {
		targets := []string{}
		for _, t := range g.Targets() {
			targets = append(targets, t.Name())
		}

		rsp = append(rsp, groupRsp{
			Tag:         g.Tag(),
			Description: g.Description(),
			Targets:     targets,
		})
	}

	return rsp
}

type scopeRsp struct {
	Live int `json:"live"`
}

func (m *Monitor) scopeStatus(w http.ResponseWriter, _ *http.Request) {
	if m.tracker == nil {
		http.Error(w, "tracker not registered", http.StatusNotFound)
		return
	}

	m.writeJSON(w, scopeRsp{Live: m.tracker.NumLive()})
}

type checkRsp struct {
	Cleared bool   `json:"cleared"`
	Error   string `json:"error,omitempty"`
}

func (m *Monitor) check(w http.ResponseWriter, _ *http.Request) {
	if m.guard == nil {
		http.Error(w, "guard not registered", http.StatusNotFound)
		return
	}

	cleared, err := m.guard.Check()

	rsp := checkRsp{Cleared: cleared}
	if err != nil {
		rsp.Error = err.Error()
		level.Warn(m.logger).Log("msg", "memory guard check failed", "err", err)
	}

	m.writeJSON(w, rsp)
}

// State is the snapshot that /api/state serializes.
type State struct {
	Recorder recorderRsp
	Scopes   scopeRsp
	Groups   []groupRsp
}

func (m *Monitor) state(w http.ResponseWriter, r *http.Request) {
	if !m.sourceRegisteredOr404(w) {
		return
	}

	s := &State{
		Recorder: m.recorderSnapshot(),
		Groups:   m.groupSnapshot(),
	}

	if m.tracker != nil {
		s.Scopes.Live = m.tracker.NumLive()
	}

	depth, err := intParam(r, "depth", 2)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(s)
	serializer.SetMaxDepth(depth)

	if field := mux.Vars(r)["field"]; field != "" {
		err = serializer.SetEntryPoint(strings.Split(field, "."))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	buf := bytes.NewBuffer(nil)
	if err := serializer.Serialize(buf); err != nil {
		m.internalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf.Bytes())
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.internalError(w, err)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		m.internalError(w, err)
		return
	}

	memoryInfo, err := proc.MemoryInfo()
	if err != nil {
		m.internalError(w, err)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, r *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		m.internalError(w, err)
		return
	}

	select {
	case <-time.After(m.profileDuration):
	case <-r.Context().Done():
	}

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		m.internalError(w, err)
		return
	}

	m.writeJSON(w, prof)
}

func (m *Monitor) sourceRegisteredOr404(w http.ResponseWriter) bool {
	if m.source == nil {
		http.Error(w, "source not registered", http.StatusNotFound)
		return false
	}

	return true
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		m.internalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (m *Monitor) internalError(w http.ResponseWriter, err error) {
	level.Error(m.logger).Log("msg", "monitoring request failed", "err", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
