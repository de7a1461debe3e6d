package scanning

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MIMEType", func() {
	DescribeTable("inferring from the extension",
		func(filename string, expected string) {
			Expect(MIMEType(filename)).To(Equal(expected))
		},
		Entry("pdf", "booking.pdf", "application/pdf"),
		Entry("upper-case pdf", "BOOKING.PDF", "application/pdf"),
		Entry("png", "screenshot.png", "image/png"),
		Entry("heic", "IMG_0001.HEIC", "image/heic"),
		Entry("heif", "IMG_0001.heif", "image/heic"),
		Entry("jpeg", "photo.jpeg", "image/jpeg"),
		Entry("no extension", "scan", "image/jpeg"),
	)
})

var _ = Describe("isHEICFormat", func() {
	It("detects the heic brand", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000")...)
		Expect(isHEICFormat(data)).To(BeTrue())
	})

	It("rejects short data", func() {
		Expect(isHEICFormat([]byte("ftyp"))).To(BeFalse())
	})

	It("rejects other containers", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypisom0000")...)
		Expect(isHEICFormat(data)).To(BeFalse())
	})
})

var _ = Describe("prepareInline", func() {
	It("passes PDFs through", func() {
		data, mimeType, err := prepareInline([]byte("%PDF-1.4"), "ticket.pdf")
		Expect(err).NotTo(HaveOccurred())
		Expect(mimeType).To(Equal("application/pdf"))
		Expect(data).To(Equal([]byte("%PDF-1.4")))
	})

	It("fails on a HEIC file it cannot decode", func() {
		_, _, err := prepareInline([]byte("garbage"), "IMG_0001.heic")
		Expect(err).To(HaveOccurred())
	})
})
