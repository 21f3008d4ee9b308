package partstore_test

import (
	"path/filepath"
	"time"

	"github.com/bsm/partstore"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/ginkgo/extensions/table"
	. "github.com/onsi/gomega"
)

var _ = Describe("Resolver", func() {
	type meta struct {
		Day    time.Time
		Source string
	}

	var subject *partstore.Resolver[string, meta]

	BeforeEach(func() {
		var err error
		subject, err = partstore.NewResolver[string, meta]("/data", []partstore.CatalogExtractor[meta]{
			partstore.DateSegment("20060102", func(m meta) time.Time { return m.Day }),
			func(m meta) string { return m.Source },
		}, partstore.HashBucket[string, meta](partstore.StringCodec{}, 64))
		Expect(err).NotTo(HaveOccurred())
	})

	It("should validate", func() {
		_, err := partstore.NewResolver[string, meta]("", nil, partstore.HashBucket[string, meta](partstore.StringCodec{}, 2))
		Expect(err).To(MatchError(partstore.ErrNoRoot))
		_, err = partstore.NewResolver[string, meta]("/data", nil, nil)
		Expect(err).To(MatchError(partstore.ErrNoFileExtractor))
		_, err = partstore.NewResolver[string, meta]("/data", []partstore.CatalogExtractor[meta]{nil}, partstore.HashBucket[string, meta](partstore.StringCodec{}, 2))
		Expect(err).To(MatchError(partstore.ErrNilCatalogExtractor))
	})

	It("should resolve directories", func() {
		m := meta{Day: time.Date(2023, 12, 24, 18, 0, 0, 0, time.UTC), Source: "web/app"}
		Expect(subject.Resolve(m)).To(Equal(filepath.Join("/data", "20231224", "web_app")))
		Expect(subject.Relative(m)).To(Equal(filepath.Join("20231224", "web_app")))
	})

	It("should resolve buckets deterministically", func() {
		m := meta{Source: "x"}
		Expect(subject.BucketOf("alpha", m)).To(Equal(subject.BucketOf("alpha", meta{Source: "y"})))
		Expect(subject.BucketOf("alpha", m)).To(HaveLen(2))

		seen := make(map[string]struct{})
		for _, key := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
			seen[subject.BucketOf(key, m)] = struct{}{}
		}
		Expect(len(seen)).To(BeNumerically(">", 1))
	})

	It("should pad modulo buckets", func() {
		fn := partstore.ModuloBucket[meta](1000)
		Expect(fn(7, meta{})).To(Equal("007"))
		Expect(fn(1999, meta{})).To(Equal("999"))
		Expect(partstore.ModuloBucket[meta](0)(5, meta{})).To(Equal("0"))
		Expect(partstore.StaticSegment[meta]("all")(meta{})).To(Equal("all"))
	})
})

var _ = Describe("Sanitize", func() {
	DescribeTable("names",
		func(in, out string) {
			Expect(partstore.Sanitize(in)).To(Equal(out))
		},
		Entry("plain", "20240301", "20240301"),
		Entry("empty", "", "_"),
		Entry("dot", ".", "_."),
		Entry("dot dot", "..", "_.."),
		Entry("separators", "a/b\\c", "a_b_c"),
		Entry("illegal", `x<>:"|?*y`, "x_______y"),
		Entry("control", "a\x00b\nc", "a_b_c"),
		Entry("reserved", "CON", "_CON"),
		Entry("reserved lowercase", "lpt1", "_lpt1"),
		Entry("reserved with extension", "nul.txt", "_nul.txt"),
		Entry("not reserved", "CONSOLE", "CONSOLE"),
		Entry("trailing dot", "abc.", "abc_"),
		Entry("trailing space", "abc ", "abc_"),
		Entry("unicode", "héllo", "héllo"),
		Entry("collision with illegal", "<", "_"),
		Entry("collision with underscore", "_", "_"),
		Entry("collision with trailing dot", "_.", "__"),
		Entry("collision with double underscore", "__", "__"),
	)
})
