package document

import (
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			name      string
			sourceURI string
			err       error
		)

		BeforeEach(func() {
			name = "abc_ticket.pdf"
		})

		JustBeforeEach(func() {
			sourceURI, err = storage.Save(name, []byte("%PDF-1.4"))
		})

		It("returns the name as the source URI", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(sourceURI).To(Equal("abc_ticket.pdf"))
		})

		It("writes the file to disk", func() {
			Expect(filepath.Join(tmpDir, "abc_ticket.pdf")).To(BeAnExistingFile())
		})

		When("the name contains directories", func() {
			BeforeEach(func() {
				name = "../../etc/ticket.pdf"
			})

			It("keeps the file inside the storage root", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(sourceURI).To(Equal("ticket.pdf"))
				Expect(filepath.Join(tmpDir, "ticket.pdf")).To(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		It("returns the saved bytes", func() {
			_, err := storage.Save("photo.jpg", []byte("jpeg bytes"))
			Expect(err).NotTo(HaveOccurred())

			data, err := storage.Get("photo.jpg")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("jpeg bytes"))
		})

		When("file does not exist", func() {
			It("returns a not found error", func() {
				_, err := storage.Get("missing.jpg")
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})
		})
	})

	Describe("Delete", func() {
		When("file exists", func() {
			BeforeEach(func() {
				_, err := storage.Save("photo.jpg", []byte("data"))
				Expect(err).NotTo(HaveOccurred())
			})

			It("removes the file from disk", func() {
				Expect(storage.Delete("photo.jpg")).To(Succeed())
				Expect(filepath.Join(tmpDir, "photo.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("file does not exist", func() {
			It("returns the error", func() {
				err := storage.Delete("missing.jpg")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("deleting file"))
			})
		})
	})

	Describe("NewLocalStorage", func() {
		It("creates a missing directory", func() {
			path := filepath.Join(GinkgoT().TempDir(), "documents")
			_, err := NewLocalStorage(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(BeADirectory())
		})
	})
})
