package partstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("journal", func() {
	var dir, fname string

	write := func(from, to int) {
		j, err := openJournal(fname, 64, testLogger())
		Expect(err).NotTo(HaveOccurred())
		for i := from; i < to; i++ {
			Expect(j.Append([]byte(fmt.Sprintf("k%03d", i)), []byte(fmt.Sprintf("value %d", i)))).To(Succeed())
		}
		Expect(j.Close()).To(Succeed())
		Expect(j.Close()).To(MatchError(errClosed))
	}

	keys := func() []string {
		var res []string
		Expect(scanJournal(fname, 64, func(key, val []byte) error {
			Expect(string(val)).To(HavePrefix("value "))
			res = append(res, string(key))
			return nil
		})).To(Succeed())
		return res
	}

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "partstore-journal")
		Expect(err).NotTo(HaveOccurred())
		fname = filepath.Join(dir, "bucket"+suffixRaw)
	})

	AfterEach(func() {
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("should append and scan", func() {
		write(0, 10)
		write(10, 20)
		Expect(keys()).To(HaveLen(20))
		Expect(keys()[19]).To(Equal("k019"))
	})

	It("should treat missing journals as empty", func() {
		Expect(keys()).To(BeEmpty())
	})

	It("should stop at torn records", func() {
		write(0, 10)
		fi, err := os.Stat(fname)
		Expect(err).NotTo(HaveOccurred())
		Expect(os.Truncate(fname, fi.Size()-2)).To(Succeed())
		Expect(keys()).To(HaveLen(9))
	})

	It("should stop at corrupted records", func() {
		write(0, 10)
		data, err := os.ReadFile(fname)
		Expect(err).NotTo(HaveOccurred())
		data[len(data)/2] ^= 0xff
		Expect(os.WriteFile(fname, data, 0o644)).To(Succeed())

		n := len(keys())
		Expect(n).To(BeNumerically(">=", 3))
		Expect(n).To(BeNumerically("<", 10))
	})

	It("should trim torn tails before appending", func() {
		write(0, 10)
		f, err := os.OpenFile(fname, os.O_WRONLY|os.O_APPEND, 0o644)
		Expect(err).NotTo(HaveOccurred())
		_, err = f.Write([]byte{5, 7, 'g', 'a'})
		Expect(err).NotTo(HaveOccurred())
		Expect(f.Close()).To(Succeed())

		write(10, 15)
		Expect(keys()).To(HaveLen(15))
	})

	It("should report offsets of valid records", func() {
		write(0, 3)
		f, err := os.Open(fname)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		s := newJournalScanner(f, 64)
		for s.Next() {
		}
		end, err := f.Seek(0, io.SeekEnd)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Offset()).To(Equal(end))
	})
})

var _ = Describe("dataRecord", func() {
	It("should report encoded sizes", func() {
		buf := appendDataRecord(nil, []byte("key"), blockNoCompression, make([]byte, 200))
		Expect(buf).To(HaveLen(1 + 3 + 1 + 2 + 200))
		Expect(uvarintLen(200)).To(Equal(2))
		Expect(uvarintLen(127)).To(Equal(1))
	})
})
