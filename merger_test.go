package partstore_test

import (
	"github.com/bsm/partstore"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = Describe("SetMerger", func() {
	var subject *partstore.SetMerger[uint64]

	BeforeEach(func() {
		subject = partstore.NewSetMerger[uint64](partstore.Uint64Codec{})
	})

	It("should merge and expand", func() {
		blob, err := subject.Merge([]uint64{5, 3, 5, 9, 3})
		Expect(err).NotTo(HaveOccurred())
		Expect(blob).To(HaveLen(1 + 3*(1+8)))
		Expect(subject.Expand(blob)).To(Equal([]uint64{3, 5, 9}))
	})

	It("should be independent of order", func() {
		b1, err := subject.Merge([]uint64{1, 2, 3})
		Expect(err).NotTo(HaveOccurred())
		b2, err := subject.Merge([]uint64{3, 1, 2, 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(b1).To(Equal(b2))
	})

	It("should merge empty sets", func() {
		blob, err := subject.Merge(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(subject.Expand(blob)).To(BeEmpty())
	})

	It("should reject malformed blobs", func() {
		_, err := subject.Expand(nil)
		Expect(err).To(HaveOccurred())
		_, err = subject.Expand([]byte{2, 8, 0, 0})
		Expect(err).To(HaveOccurred())
	})

	It("should enforce cardinality limits", func() {
		subject.MaxValues = 2
		_, err := subject.Merge([]uint64{1, 2, 3, 2})
		Expect(errors.Is(err, partstore.ErrTooManyValues)).To(BeTrue())

		blob, err := subject.Merge([]uint64{1, 2, 2, 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(subject.Expand(blob)).To(Equal([]uint64{1, 2}))

		subject.Overflow = partstore.OverflowKeepLast
		blob, err = subject.Merge([]uint64{4, 1, 3, 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(subject.Expand(blob)).To(Equal([]uint64{3, 4}))
	})
})

var _ = Describe("MsgpackMerger", func() {
	It("should merge and expand", func() {
		subject := partstore.MsgpackMerger[string]{MaxValues: 3, Overflow: partstore.OverflowKeepLast}
		blob, err := subject.Merge([]string{"b", "a", "b", "d", "c"})
		Expect(err).NotTo(HaveOccurred())
		Expect(subject.Expand(blob)).To(Equal([]string{"b", "c", "d"}))

		_, err = subject.Expand([]byte{0xc1})
		Expect(err).To(HaveOccurred())
	})
})
