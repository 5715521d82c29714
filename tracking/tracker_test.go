package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sarchlab/servertiming/scheduling"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Tracker", func() {
	var (
		engine  *scheduling.Engine
		tracker *Tracker
		origin  time.Time
	)

	BeforeEach(func() {
		origin = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		engine = scheduling.NewEngine(origin)
		tracker = MakeBuilder().WithTimeTeller(engine).Build()
	})

	It("should report no context outside of scopes", func() {
		_, ok := Current(context.Background())

		Expect(ok).To(BeFalse())
	})

	It("should open a scope with a fresh id and start time", func() {
		ctx, s := tracker.OpenScope(context.Background())

		id, ok := Current(ctx)
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal(s.ID))
		Expect(s.ID).To(Equal(ContextID("1")))
		Expect(s.Start).To(Equal(origin))
		Expect(tracker.NumLive()).To(Equal(1))
	})

	It("should never reuse ids", func() {
		seen := map[ContextID]bool{}
		for i := 0; i < 100; i++ {
			_, s := tracker.OpenScope(context.Background())
			Expect(seen).NotTo(HaveKey(s.ID))
			seen[s.ID] = true
			Expect(s.Close()).To(Succeed())
		}
	})

	It("should release the context on close", func() {
		ctx, s := tracker.OpenScope(context.Background())

		Expect(s.Close()).To(Succeed())

		_, ok := Current(ctx)
		Expect(ok).To(BeFalse())
		Expect(tracker.NumLive()).To(BeZero())
	})

	It("should report the parent after a nested scope closes", func() {
		outerCtx, outer := tracker.OpenScope(context.Background())
		innerCtx, inner := tracker.OpenScope(outerCtx)

		id, _ := Current(innerCtx)
		Expect(id).To(Equal(inner.ID))

		Expect(inner.Close()).To(Succeed())

		id, ok := Current(innerCtx)
		Expect(ok).To(BeTrue())
		Expect(id).To(Equal(outer.ID))
	})

	It("should ignore a second close", func() {
		_, s := tracker.OpenScope(context.Background())

		Expect(s.Close()).To(Succeed())
		Expect(s.Close()).To(Succeed())
		Expect(tracker.NumLive()).To(BeZero())
	})

	It("should report a leak when branches outlive the scope", func() {
		ctx, s := tracker.OpenScope(context.Background())

		release := make(chan struct{})
		done := make(chan struct{})
		tracker.Go(ctx, func(ctx context.Context) {
			defer close(done)
			<-release
		})

		Eventually(s.LiveBranches).Should(Equal(1))

		err := s.Close()
		Expect(errors.Is(err, ErrScopeLeak)).To(BeTrue())

		close(release)
		<-done
		Eventually(s.LiveBranches).Should(BeZero())
	})

	It("should close cleanly after branches return", func() {
		ctx, s := tracker.OpenScope(context.Background())

		var got ContextID
		var wg sync.WaitGroup
		wg.Add(1)
		tracker.Go(ctx, func(ctx context.Context) {
			defer wg.Done()
			got, _ = Current(ctx)
		})
		wg.Wait()

		Eventually(s.LiveBranches).Should(BeZero())
		Expect(got).To(Equal(s.ID))
		Expect(s.Close()).To(Succeed())
	})

	It("should detach background work from the scope", func() {
		cancelCtx, cancel := context.WithCancel(context.Background())
		ctx, _ := tracker.OpenScope(cancelCtx)

		detached := tracker.Detach(ctx)
		cancel()

		_, ok := Current(detached)
		Expect(ok).To(BeFalse())
		Expect(detached.Err()).To(BeNil())
	})

	It("should use parallel ids when configured", func() {
		tracker = MakeBuilder().
			WithIDGenerator(NewParallelIDGenerator()).
			Build()

		_, s1 := tracker.OpenScope(context.Background())
		_, s2 := tracker.OpenScope(context.Background())

		Expect(s1.ID).To(HaveLen(20))
		Expect(s1.ID).NotTo(Equal(s2.ID))
	})

	It("should use uuids when configured", func() {
		tracker = MakeBuilder().
			WithIDGenerator(NewUUIDGenerator()).
			Build()

		_, s1 := tracker.OpenScope(context.Background())
		_, s2 := tracker.OpenScope(context.Background())

		Expect(string(s1.ID)).To(MatchRegexp(`^[0-9a-f-]{36}$`))
		Expect(s1.ID).NotTo(Equal(s2.ID))
	})
})

var _ = Describe("Tracker on a cooperative engine", func() {
	var (
		engine  *scheduling.Engine
		tracker *Tracker
	)

	BeforeEach(func() {
		engine = scheduling.NewEngine(time.Time{})
		tracker = MakeBuilder().WithTimeTeller(engine).Build()
	})

	type observation struct {
		branch string
		want   ContextID
		got    ContextID
	}

	It("should never leak a context across suspension points", func() {
		var observations []observation

		observe := func(branch string, want ContextID, ctx context.Context) {
			got, _ := Current(ctx)
			observations = append(observations, observation{branch, want, got})

			ambient, _ := Current(engine.Ambient())
			observations = append(observations, observation{branch, want, ambient})
		}

		request := func(branch string, suspensions int, delay time.Duration) {
			engine.Spawn(context.Background(), func(ctx context.Context) {
				ctx, s := tracker.OpenScope(ctx)
				observe(branch, s.ID, ctx)

				var resume scheduling.Step
				remaining := suspensions
				resume = func(ctx context.Context) {
					observe(branch, s.ID, ctx)

					remaining--
					if remaining > 0 {
						engine.Yield(ctx, delay, resume)
						return
					}

					Expect(s.Close()).To(Succeed())
				}

				engine.Yield(ctx, delay, resume)
			})
		}

		// A calls and suspends, B calls, A resumes, and so on.
		request("A", 3, 2*time.Millisecond)
		request("B", 4, 1*time.Millisecond)
		request("C", 1, 3*time.Millisecond)

		engine.Run()

		Expect(observations).To(HaveLen(2 * (4 + 5 + 2)))
		for _, o := range observations {
			Expect(o.got).To(Equal(o.want), "branch %s", o.branch)
		}
		Expect(tracker.NumLive()).To(BeZero())
	})

	It("should give spawned child branches the parent's snapshot", func() {
		var parentID ContextID
		var seen []ContextID

		record := func(ctx context.Context) {
			id, _ := Current(ctx)
			seen = append(seen, id)
		}

		engine.Spawn(context.Background(), func(ctx context.Context) {
			ctx, s := tracker.OpenScope(ctx)
			parentID = s.ID

			engine.Spawn(ctx, func(ctx context.Context) {
				record(ctx)

				engine.Yield(ctx, time.Millisecond, func(ctx context.Context) {
					record(ctx)

					engine.Yield(ctx, 2*time.Millisecond, func(ctx context.Context) {
						record(ctx)
					})
				})
			})

			engine.Yield(ctx, 2*time.Millisecond, func(context.Context) {
				Expect(s.Close()).To(Succeed())
			})
		})

		engine.Run()

		Expect(seen).To(Equal([]ContextID{parentID, parentID, ""}))
	})
})
