package aggregation_test

import (
	"context"
	"time"

	"github.com/sarchlab/servertiming/aggregation"
	"github.com/sarchlab/servertiming/recording"
	"github.com/sarchlab/servertiming/scheduling"
	"github.com/sarchlab/servertiming/timingheader"
	"github.com/sarchlab/servertiming/tracking"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func queryFn()  {}
func fetchFn()  {}
func renderFn() {}
func logFn()    {}

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

func durationOf(r aggregation.Result, tag string) time.Duration {
	d, _ := r.Get(tag)
	return d
}

func call(fn any, startMS, endMS int) recording.CallEvent {
	return recording.CallEvent{
		Func:  recording.FuncOf(fn),
		Start: t0.Add(ms(startMS)),
		End:   t0.Add(ms(endMS)),
	}
}

var _ = Describe("Aggregate", func() {
	var groups aggregation.Groups

	BeforeEach(func() {
		groups = aggregation.MustNewGroups(
			aggregation.NewFuncGroup("db", queryFn, fetchFn),
			aggregation.NewFuncGroup("render", renderFn).WithDescription("Render"),
		)
	})

	It("should sum durations per group", func() {
		events := []recording.CallEvent{
			call(queryFn, 0, 10),
			call(renderFn, 12, 15),
			call(fetchFn, 20, 35),
		}

		r := aggregation.Aggregate("1", t0, groups, events)

		Expect(r.ContextID).To(Equal(tracking.ContextID("1")))
		Expect(r.Entries()).To(Equal([]aggregation.Entry{
			{Tag: "db", Duration: ms(25), Calls: 2},
			{Tag: "render", Description: "Render", Duration: ms(3), Calls: 1},
		}))
	})

	It("should report db;dur=25 for two queries of 10ms and 15ms", func() {
		groups = aggregation.MustNewGroups(aggregation.NewFuncGroup("db", queryFn))
		events := []recording.CallEvent{
			call(queryFn, 0, 10),
			call(queryFn, 10, 25),
		}

		r := aggregation.Aggregate("1", t0, groups, events)

		d, ok := r.Get("db")
		Expect(ok).To(BeTrue())
		Expect(d).To(Equal(ms(25)))
		Expect(timingheader.Format(r.Metrics()...)).To(Equal("db;dur=25"))
	})

	It("should omit groups without calls", func() {
		r := aggregation.Aggregate("1", t0, groups, []recording.CallEvent{
			call(renderFn, 0, 4),
		})

		_, ok := r.Get("db")
		Expect(ok).To(BeFalse())
		Expect(r.Len()).To(Equal(1))
	})

	It("should report zero-length calls", func() {
		r := aggregation.Aggregate("1", t0, groups, []recording.CallEvent{
			call(queryFn, 3, 3),
		})

		d, ok := r.Get("db")
		Expect(ok).To(BeTrue())
		Expect(d).To(BeZero())
	})

	It("should return an empty result when nothing matches", func() {
		r := aggregation.Aggregate("1", t0, groups, []recording.CallEvent{
			call(logFn, 0, 4),
		})

		Expect(r.IsEmpty()).To(BeTrue())
		Expect(r.Metrics()).To(BeEmpty())
		Expect(timingheader.Format(r.Metrics()...)).To(BeEmpty())
	})

	It("should ignore calls that started before the scope", func() {
		events := []recording.CallEvent{
			call(queryFn, 0, 10),
			call(queryFn, 20, 22),
		}

		r := aggregation.Aggregate("1", t0.Add(ms(5)), groups, events)

		d, _ := r.Get("db")
		Expect(d).To(Equal(ms(2)))
	})

	It("should count a function in every group it belongs to", func() {
		groups = aggregation.MustNewGroups(
			aggregation.NewFuncGroup("db", queryFn),
			aggregation.NewFuncGroup("io", queryFn, fetchFn),
		)

		r := aggregation.Aggregate("1", t0, groups, []recording.CallEvent{
			call(queryFn, 0, 10),
			call(fetchFn, 10, 15),
		})

		Expect(durationOf(r, "db")).To(Equal(ms(10)))
		Expect(durationOf(r, "io")).To(Equal(ms(15)))
	})

	It("should follow the group declaration order", func() {
		groups = aggregation.MustNewGroups(
			aggregation.NewFuncGroup("z", renderFn),
			aggregation.NewFuncGroup("a", queryFn),
		)

		r := aggregation.Aggregate("1", t0, groups, []recording.CallEvent{
			call(queryFn, 0, 1),
			call(renderFn, 1, 2),
		})

		Expect(r.Entries()[0].Tag).To(Equal("z"))
		Expect(r.Entries()[1].Tag).To(Equal("a"))
	})

	It("should accept custom filters", func() {
		until := func(e recording.CallEvent) bool {
			return !e.End.After(t0.Add(ms(10)))
		}

		r := aggregation.AggregateFiltered("1", until, groups, []recording.CallEvent{
			call(queryFn, 0, 10),
			call(queryFn, 10, 30),
		})

		Expect(durationOf(r, "db")).To(Equal(ms(10)))
	})
})

var _ = Describe("Attribution of recorded calls", func() {
	var (
		engine   *scheduling.Engine
		recorder *recording.Recorder
		tracker  *tracking.Tracker
		groups   aggregation.Groups
		results  map[string]aggregation.Result
	)

	BeforeEach(func() {
		engine = scheduling.NewEngine(t0)
		recorder = recording.NewRecorder(engine)
		tracker = tracking.MakeBuilder().WithTimeTeller(engine).Build()
		groups = aggregation.MustNewGroups(
			aggregation.NewFuncGroup("db", queryFn),
			aggregation.NewFuncGroup("render", renderFn),
		)
		results = map[string]aggregation.Result{}

		Expect(recorder.Start()).To(Succeed())
	})

	// request opens a scope, makes a call to fn lasting d across a
	// suspension point, and aggregates when the call returns.
	request := func(name string, at time.Duration, fn any, d time.Duration) {
		engine.Yield(context.Background(), at, func(ctx context.Context) {
			ctx, s := tracker.OpenScope(ctx)
			c := recorder.Begin(recording.FuncOf(fn))

			engine.Yield(ctx, d, func(ctx context.Context) {
				c.End()

				scope := tracking.ScopeFrom(ctx)
				results[name] = aggregation.Aggregate(scope.ID, scope.Start, groups, recorder.Drain())
				Expect(s.Close()).To(Succeed())
			})
		})
	}

	It("should isolate sequential requests", func() {
		request("first", 0, queryFn, ms(10))
		request("second", ms(20), renderFn, ms(5))

		engine.Run()

		Expect(results["first"].Entries()).To(Equal([]aggregation.Entry{
			{Tag: "db", Duration: ms(10), Calls: 1},
		}))
		Expect(results["second"].Entries()).To(Equal([]aggregation.Entry{
			{Tag: "render", Duration: ms(5), Calls: 1},
		}))
	})

	It("should not isolate requests that overlap in time", func() {
		request("early", 0, queryFn, ms(30))
		request("late", ms(10), queryFn, ms(5))

		engine.Run()

		// The late request ends first and only sees its own call. The early
		// request's window contains both calls.
		Expect(durationOf(results["late"], "db")).To(Equal(ms(5)))
		Expect(durationOf(results["early"], "db")).To(Equal(ms(35)))
	})

	It("should lose calls discarded by a clear", func() {
		engine.Spawn(context.Background(), func(ctx context.Context) {
			ctx, s := tracker.OpenScope(ctx)
			recorder.Track(recording.FuncOf(renderFn), func() {})

			c := recorder.Begin(recording.FuncOf(queryFn))
			engine.Yield(ctx, ms(10), func(ctx context.Context) {
				c.End()

				results["victim"] = aggregation.Aggregate(s.ID, s.Start, groups, recorder.Drain())
				Expect(s.Close()).To(Succeed())
			})
		})
		engine.Yield(context.Background(), ms(5), func(context.Context) {
			recorder.Clear()
		})

		engine.Run()

		_, ok := results["victim"].Get("render")
		Expect(ok).To(BeFalse())
		Expect(durationOf(results["victim"], "db")).To(Equal(ms(10)))
	})
})
