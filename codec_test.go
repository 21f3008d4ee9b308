package partstore_test

import (
	"bytes"

	"github.com/bsm/partstore"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Codec", func() {
	It("should encode uint64 in sort order", func() {
		var c partstore.Uint64Codec
		a, err := c.Append(nil, 255)
		Expect(err).NotTo(HaveOccurred())
		b, err := c.Append(nil, 256)
		Expect(err).NotTo(HaveOccurred())
		Expect(bytes.Compare(a, b)).To(Equal(-1))
		Expect(c.Decode(b)).To(Equal(uint64(256)))

		_, err = c.Decode(b[:7])
		Expect(err).To(HaveOccurred())
	})

	It("should encode strings and bytes", func() {
		enc, err := partstore.StringCodec{}.Append([]byte("x"), "yz")
		Expect(err).NotTo(HaveOccurred())
		Expect(enc).To(Equal([]byte("xyz")))
		Expect(partstore.StringCodec{}.Decode(enc)).To(Equal("xyz"))

		src := []byte("abc")
		dec, err := partstore.BytesCodec{}.Decode(src)
		Expect(err).NotTo(HaveOccurred())
		src[0] = 'X'
		Expect(dec).To(Equal([]byte("abc")))
	})

	It("should encode msgpack", func() {
		type event struct {
			ID   int
			Tags []string
		}

		var c partstore.MsgpackCodec[event]
		enc, err := c.Append(nil, event{ID: 7, Tags: []string{"a"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Decode(enc)).To(Equal(event{ID: 7, Tags: []string{"a"}}))

		_, err = c.Decode(enc[:len(enc)-2])
		Expect(err).To(HaveOccurred())
	})
})
