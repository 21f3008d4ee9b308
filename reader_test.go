package partstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = Describe("tableReader", func() {
	var dir, fname string
	var subject *tableReader

	keyOf := func(c *cursor) uint64 { return binary.BigEndian.Uint64(c.Key()) }

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "partstore-reader")
		Expect(err).NotTo(HaveOccurred())

		fname = filepath.Join(dir, "bucket"+suffixData)
		Expect(seedTable(fname, 100, &tableOptions{IndexStep: 10})).To(Succeed())

		subject, err = openTable(fname, false)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(subject.Close()).To(Succeed())
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("should open", func() {
		fi, err := os.Stat(fname)
		Expect(err).NotTo(HaveOccurred())
		Expect(subject.Size()).To(Equal(fi.Size()))

		missing, err := openTable(filepath.Join(dir, "missing"+suffixData), false)
		Expect(err).NotTo(HaveOccurred())
		Expect(missing).To(BeNil())
	})

	It("should reject bad magic", func() {
		bad := filepath.Join(dir, "bad"+suffixData)
		Expect(os.WriteFile(bad, []byte("not a table"), 0o644)).To(Succeed())
		_, err := openTable(bad, false)
		Expect(errors.Is(err, errBadMagic)).To(BeTrue())

		Expect(os.WriteFile(bad, []byte("short"), 0o644)).To(Succeed())
		_, err = openTable(bad, false)
		Expect(errors.Is(err, errBadMagic)).To(BeTrue())
	})

	It("should iterate from beginning", func() {
		cur := subject.Cursor(0)
		defer cur.Release()

		Expect(cur.Next()).To(BeTrue())
		Expect(keyOf(cur)).To(Equal(uint64(0)))
		Expect(cur.Offset()).To(Equal(int64(len(dataMagic))))
		Expect(cur.Value()).To(HaveSuffix("0000"))

		for i := 1; i < 100; i++ {
			Expect(cur.Next()).To(BeTrue())
			Expect(keyOf(cur)).To(Equal(uint64(i * 4)))
			Expect(string(cur.Value())).To(HaveSuffix(fmt.Sprintf("%08d", i*4)))
		}
		Expect(cur.Next()).To(BeFalse())
		Expect(cur.Err()).NotTo(HaveOccurred())
	})

	It("should iterate from indexed offsets", func() {
		idx, err := readIndexFile(indexFileName(fname))
		Expect(err).NotTo(HaveOccurred())
		Expect(idx.Entries).To(HaveLen(10))

		for i, ent := range idx.Entries {
			cur := subject.Cursor(ent.Offset)
			Expect(cur.Next()).To(BeTrue())
			Expect(cur.Offset()).To(Equal(ent.Offset))
			Expect(cur.Key()).To(Equal(ent.Key))
			Expect(keyOf(cur)).To(Equal(uint64(i * 40)))
			cur.Release()
		}
	})

	It("should not iterate when past the end", func() {
		cur := subject.Cursor(subject.Size() + 10)
		defer cur.Release()

		Expect(cur.Next()).To(BeFalse())
		Expect(cur.Err()).NotTo(HaveOccurred())
	})

	It("should stop at truncated records", func() {
		Expect(os.Truncate(fname, subject.Size()-3)).To(Succeed())

		truncated, err := openTable(fname, false)
		Expect(err).NotTo(HaveOccurred())
		defer truncated.Close()

		n := 0
		cur := truncated.Cursor(0)
		for cur.Next() {
			n++
		}
		Expect(cur.Err()).NotTo(HaveOccurred())
		cur.Release()
		Expect(n).To(Equal(99))
	})

	It("should read via mmap", func() {
		mapped, err := openTable(fname, true)
		Expect(err).NotTo(HaveOccurred())
		defer mapped.Close()

		n := 0
		cur := mapped.Cursor(0)
		for cur.Next() {
			Expect(keyOf(cur)).To(Equal(uint64(n * 4)))
			n++
		}
		cur.Release()
		Expect(n).To(Equal(100))
	})

	It("should release cursors", func() {
		cur := subject.Cursor(0)
		cur.Release()
		Expect(cur.Next()).To(BeFalse())
		Expect(cur.Err()).To(MatchError(errReleased))
	})
})
