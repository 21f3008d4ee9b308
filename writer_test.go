package partstore

import (
	"bytes"
	"cmp"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = Describe("tableWriter", func() {
	var dir, fname string
	var testdata = []byte("testdata")

	encKey := func(key uint64) []byte {
		enc, _ := Uint64Codec{}.Append(nil, key)
		return enc
	}

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "partstore-writer")
		Expect(err).NotTo(HaveOccurred())
		fname = filepath.Join(dir, "bucket"+suffixData)
	})

	AfterEach(func() {
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	It("should write empty", func() {
		w, err := createTable(fname, cmp.Compare[uint64], nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.Commit()).To(Succeed())
		Expect(w.Commit()).To(MatchError(errClosed))

		data, err := os.ReadFile(fname)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal(dataMagic))
		Expect(fname + suffixTemp).NotTo(BeAnExistingFile())
		Expect(indexFileName(fname)).NotTo(BeAnExistingFile())
	})

	It("should prevent out-of-order appends", func() {
		w, err := createTable(fname, cmp.Compare[uint64], nil)
		Expect(err).NotTo(HaveOccurred())
		defer w.Abort()

		Expect(w.Append(20, encKey(20), testdata)).To(Succeed())
		err = w.Append(19, encKey(19), testdata)
		Expect(errors.Is(err, errOutOfOrder)).To(BeTrue())
		Expect(err).To(MatchError(`19 must be > 20: partstore: attempted an out-of-order append`))
		Expect(w.Append(22, encKey(22), testdata)).To(Succeed())
		Expect(w.Append(22, encKey(22), testdata)).To(MatchError(`22 must be > 22: partstore: attempted an out-of-order append`))
		Expect(w.Append(23, encKey(23), testdata)).To(Succeed())
		Expect(w.Records()).To(Equal(3))
	})

	It("should discard aborted tables", func() {
		Expect(os.WriteFile(fname, []byte("previous"), 0o644)).To(Succeed())

		w, err := createTable(fname, cmp.Compare[uint64], nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(w.Append(1, encKey(1), testdata)).To(Succeed())
		w.Abort()

		Expect(fname + suffixTemp).NotTo(BeAnExistingFile())
		Expect(os.ReadFile(fname)).To(Equal([]byte("previous")))
	})

	It("should sample the index", func() {
		w, err := createTable(fname, cmp.Compare[uint64], &tableOptions{IndexStep: 4})
		Expect(err).NotTo(HaveOccurred())
		for key := uint64(0); key < 10; key++ {
			Expect(w.Append(key, encKey(key), testdata)).To(Succeed())
		}
		Expect(w.Commit()).To(Succeed())

		idx, err := readIndexFile(indexFileName(fname))
		Expect(err).NotTo(HaveOccurred())
		Expect(idx.Step).To(Equal(4))
		Expect(idx.Entries).To(HaveLen(3))
		Expect(idx.Entries[0].Key).To(Equal(encKey(0)))
		Expect(idx.Entries[0].Offset).To(Equal(int64(len(dataMagic))))
		Expect(idx.Entries[1].Key).To(Equal(encKey(4)))
		Expect(idx.Entries[2].Key).To(Equal(encKey(8)))

		fi, err := os.Stat(fname)
		Expect(err).NotTo(HaveOccurred())
		Expect(idx.DataSize).To(Equal(fi.Size()))
	})

	It("should write (non-compressable)", func() {
		w, err := createTable(fname, cmp.Compare[uint64], nil)
		Expect(err).NotTo(HaveOccurred())

		rnd := rand.New(rand.NewSource(1))
		val := make([]byte, 128)
		for key := uint64(0); key < 10000; key += 2 {
			_, err := rnd.Read(val)
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Append(key, encKey(key), val)).To(Succeed())
		}
		Expect(w.Commit()).To(Succeed())

		fi, err := os.Stat(fname)
		Expect(err).NotTo(HaveOccurred())
		Expect(fi.Size()).To(Equal(int64(8 + 5000*(1+8+1+2+128))))
	})

	It("should write (well-compressable)", func() {
		w, err := createTable(fname, cmp.Compare[uint64], nil)
		Expect(err).NotTo(HaveOccurred())

		val := bytes.Repeat(testdata, 16)
		for key := uint64(0); key < 10000; key += 2 {
			Expect(w.Append(key, encKey(key), val)).To(Succeed())
		}
		Expect(w.Commit()).To(Succeed())

		fi, err := os.Stat(fname)
		Expect(err).NotTo(HaveOccurred())
		Expect(fi.Size()).To(BeNumerically("<", 5000*len(val)/2))
	})
})

// seedTable writes n records with keys i*4 and values suffixed with the key.
func seedTable(fname string, n int, o *tableOptions) error {
	w, err := createTable(fname, cmp.Compare[uint64], o)
	if err != nil {
		return err
	}

	rnd := rand.New(rand.NewSource(1))
	val := make([]byte, 128)
	for i := 0; i < n; i++ {
		key := uint64(i * 4)
		if _, err := rnd.Read(val); err != nil {
			return err
		}

		val = append(val[:120], fmt.Sprintf("%08d", key)...)
		enc, _ := Uint64Codec{}.Append(nil, key)
		if err := w.Append(key, enc, val); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Commit()
}
