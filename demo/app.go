// Package demo is a small HTTP application whose handlers are instrumented
// for Server-Timing. It backs the servertiming command and shows how a host
// application reports its calls to a recorder.
package demo

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/sarchlab/servertiming/aggregation"
	"github.com/sarchlab/servertiming/recording"
)

// DefaultSleepTime is how long /sleep waits when no time is given.
const DefaultSleepTime = 500 * time.Millisecond

// maxSleepSeconds is the longest sleep that fits in a time.Duration.
const maxSleepSeconds = float64(math.MaxInt64 / int64(time.Second))

// App serves the demo routes.
type App struct {
	recorder *recording.Recorder

	parseID  recording.FuncID
	indexID  recording.FuncID
	sleepID  recording.FuncID
	encodeID recording.FuncID
}

// NewApp creates an App that reports its calls to recorder.
func NewApp(recorder *recording.Recorder) *App {
	return &App{
		recorder: recorder,
		parseID:  recording.FuncOf(parseSleepTime),
		indexID:  recording.FuncOf(index),
		sleepID:  recording.FuncOf(sleep),
		encodeID: recording.FuncOf(json.Marshal),
	}
}

// Groups returns the groups that the demo reports.
func (a *App) Groups() aggregation.Groups {
	return aggregation.MustNewGroups(
		aggregation.NewGroup("1parse", a.parseID).WithDescription("Parse"),
		aggregation.NewGroup("2main", a.indexID, a.sleepID).WithDescription("Main"),
		aggregation.NewGroup("3encode", a.encodeID).WithDescription("Encode"),
	)
}

// Routes registers the demo routes.
func (a *App) Routes(r *mux.Router) {
	r.HandleFunc("/", a.serveIndex).Methods(http.MethodGet)
	r.HandleFunc("/sleep", a.serveSleep).Methods(http.MethodGet)
}

func (a *App) serveIndex(w http.ResponseWriter, _ *http.Request) {
	body, _ := recording.Time(a.recorder, a.indexID, index)

	a.writeJSON(w, http.StatusOK, body)
}

func (a *App) serveSleep(w http.ResponseWriter, r *http.Request) {
	d, err := recording.Time(a.recorder, a.parseID, func() (time.Duration, error) {
		return parseSleepTime(r)
	})
	if err != nil {
		a.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	elapsed, err := recording.Time(a.recorder, a.sleepID, func() (int64, error) {
		return sleep(r.Context(), d)
	})
	if err != nil {
		a.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: err.Error()})
		return
	}

	a.writeJSON(w, http.StatusOK, elapsed)
}

type indexBody struct {
	Msg string `json:"msg"`
}

type errorBody struct {
	Error string `json:"error"`
}

func index() (indexBody, error) {
	return indexBody{Msg: "Hello World"}, nil
}

func parseSleepTime(r *http.Request) (time.Duration, error) {
	raw := r.URL.Query().Get("sleep_time_seconds")
	if raw == "" {
		return DefaultSleepTime, nil
	}

	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.Wrap(err, "sleep_time_seconds")
	}

	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, errors.Errorf("sleep_time_seconds must be a number, got %v", seconds)
	}

	if seconds < 0 {
		return 0, errors.Errorf("sleep_time_seconds must not be negative, got %v", seconds)
	}

	if seconds > maxSleepSeconds {
		return 0, errors.Errorf("sleep_time_seconds must not exceed %v, got %v",
			maxSleepSeconds, seconds)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

// sleep waits for d, as a handler waits for downstream I/O, and returns the
// nanoseconds it actually waited.
func sleep(ctx context.Context, d time.Duration) (int64, error) {
	start := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return time.Since(start).Nanoseconds(), nil
	case <-ctx.Done():
		return 0, errors.Wrap(ctx.Err(), "sleep interrupted")
	}
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := recording.Time(a.recorder, a.encodeID, func() ([]byte, error) {
		return json.Marshal(v)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
