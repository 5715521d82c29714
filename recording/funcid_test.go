package recording

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type handler struct{}

func (handler) ServeIndex() {}

var _ = Describe("FuncID", func() {
	It("should be equal for the same function", func() {
		Expect(FuncOf(queryDB)).To(Equal(FuncOf(queryDB)))
		Expect(FuncOf(queryDB) == FuncOf(queryDB)).To(BeTrue())
	})

	It("should differ between functions", func() {
		Expect(FuncOf(queryDB)).NotTo(Equal(FuncOf(renderPage)))
	})

	It("should resolve the qualified name", func() {
		Expect(FuncOf(queryDB).Name()).To(HaveSuffix("recording.queryDB"))
		Expect(FuncOf(handler.ServeIndex).Name()).
			To(HaveSuffix("recording.handler.ServeIndex"))
	})

	It("should work as a map key", func() {
		m := map[FuncID]int{FuncOf(queryDB): 1}

		Expect(m).To(HaveKey(FuncOf(queryDB)))
		Expect(m).NotTo(HaveKey(FuncOf(renderPage)))
	})

	It("should panic on non-functions", func() {
		Expect(func() { FuncOf(42) }).To(Panic())

		var fn func()
		Expect(func() { FuncOf(fn) }).To(Panic())
	})

	It("should compare named identifiers by name", func() {
		Expect(Named("db")).To(Equal(Named("db")))
		Expect(Named("db")).NotTo(Equal(Named("cache")))
		Expect(Named("db").IsZero()).To(BeFalse())
		Expect(FuncID{}.IsZero()).To(BeTrue())
		Expect(func() { Named("") }).To(Panic())
	})
})
