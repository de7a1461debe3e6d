package scanning

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/api/googleapi"
)

type failingCredentials struct {
	err error
}

func (f failingCredentials) APIKey(context.Context) (string, error) {
	return "", f.err
}

var _ = Describe("Gemini", func() {
	Describe("NewGemini", func() {
		It("requires a credential source", func() {
			_, err := NewGemini(nil, "", 0)
			Expect(err).To(HaveOccurred())
		})

		It("applies defaults", func() {
			g, err := NewGemini(StaticKey("key"), "", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(g.modelName).To(Equal(defaultGeminiModel))
			Expect(g.timeout).To(Equal(defaultTimeout))
		})
	})

	Describe("Extract", func() {
		var (
			credentials CredentialSource
			text        string
			err         error
		)

		JustBeforeEach(func() {
			g, newErr := NewGemini(credentials, "", 0)
			Expect(newErr).NotTo(HaveOccurred())
			defer g.Close()
			text, err = g.Extract(context.Background(), Request{
				Filename: "ticket.jpg",
				Data:     []byte("fake image data"),
				Prompt:   TravelPrompt,
			})
		})

		When("no api key is configured", func() {
			BeforeEach(func() {
				credentials = StaticKey("")
			})

			It("returns a credentials missing error", func() {
				var credErr *CredentialsMissingError
				Expect(errors.As(err, &credErr)).To(BeTrue())
				Expect(credErr.Provider).To(Equal("gemini"))
			})

			It("returns no text", func() {
				Expect(text).To(BeEmpty())
			})
		})

		When("the api key is whitespace", func() {
			BeforeEach(func() {
				credentials = StaticKey("   ")
			})

			It("returns a credentials missing error", func() {
				Expect(IsCredentialsMissing(err)).To(BeTrue())
			})
		})

		When("the credential lookup fails", func() {
			var setupErr error

			BeforeEach(func() {
				setupErr = errors.New("keychain locked")
				credentials = failingCredentials{err: setupErr}
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(setupErr))
			})

			It("is not a credentials missing error", func() {
				Expect(IsCredentialsMissing(err)).To(BeFalse())
			})
		})
	})

	Describe("geminiParts", func() {
		It("sends the prompt first and a PDF inline as-is", func() {
			parts, err := geminiParts(Request{Filename: "booking.PDF", Data: []byte("%PDF-1.4"), Prompt: "describe"})
			Expect(err).NotTo(HaveOccurred())
			Expect(parts).To(HaveLen(2))
			Expect(parts[0]).To(Equal(genai.Text("describe")))
			Expect(parts[1]).To(Equal(genai.Blob{MIMEType: "application/pdf", Data: []byte("%PDF-1.4")}))
		})

		It("sends photos as JPEG", func() {
			parts, err := geminiParts(Request{Filename: "IMG_0001.jpeg", Data: []byte("jpeg"), Prompt: "describe"})
			Expect(err).NotTo(HaveOccurred())
			Expect(parts[1].(genai.Blob).MIMEType).To(Equal("image/jpeg"))
		})
	})

	Describe("geminiTransportError", func() {
		It("carries the upstream status and message", func() {
			apiErr := &googleapi.Error{Code: 403, Message: "API key not valid"}
			err := geminiTransportError(fmt.Errorf("rpc: %w", apiErr))

			var transportErr *TransportError
			Expect(errors.As(err, &transportErr)).To(BeTrue())
			Expect(transportErr.StatusCode).To(Equal(403))
			Expect(transportErr.Message).To(Equal("API key not valid"))
			Expect(err.Error()).To(ContainSubstring("status 403"))
		})

		It("wraps other failures", func() {
			setupErr := errors.New("connection reset")
			err := geminiTransportError(setupErr)
			Expect(err).To(MatchError(setupErr))
		})
	})
})
