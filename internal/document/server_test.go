package document

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/tripdocs/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		extractor   *mockExtractor
		service     *Service
		settings    *Settings
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		extractor = newMockExtractor()
		service = NewServiceWithDeps(db, extractor, storage, &mockIDGenerator{id: "id"}, &mockTimeSource{now: date(2024, 3, 2)})
		settings = NewSettings(db, "startup-key")
		server = NewServerWithMux(service, settings, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	do := func(req *http.Request) *http.Response {
		ghttpServer.AppendHandlers(server.ServeHTTP)
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	doJSON := func(method, path string, body any) *http.Response {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, ghttpServer.URL()+path, reader)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", "application/json")
		return do(req)
	}

	upload := func(path, filename string, content []byte, fields map[string]string) *http.Response {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		for k, v := range fields {
			Expect(writer.WriteField(k, v)).To(Succeed())
		}
		if filename != "" {
			part, err := writer.CreateFormFile("file", filename)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(content)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return do(req)
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, v)).To(Succeed())
	}

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/documents", nil)
			Expect(err).NotTo(HaveOccurred())
			resp := do(req)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})

		It("sets headers on error responses", func() {
			resp := doJSON(http.MethodGet, "/api/documents/999", nil)
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("POST /api/documents", func() {
		When("auto-parse is requested", func() {
			It("returns the processed document", func() {
				resp := upload("/api/documents", "ticket.jpg", []byte("jpeg"), map[string]string{"auto_parse": "true"})
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var body processResponse
				decode(resp, &body)
				Expect(body.Document.Title).To(Equal("Flight to Delhi"))
				Expect(body.Candidates).To(HaveLen(1))
				Expect(body.NeedsReview).To(BeFalse())
				Expect(body.Error).To(BeEmpty())
			})
		})

		When("auto-parse is not given", func() {
			It("uses the stored preference", func() {
				resp := upload("/api/documents", "ticket.jpg", []byte("jpeg"), nil)
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var body processResponse
				decode(resp, &body)
				Expect(body.Document.Title).To(Equal("ticket.jpg"))
				Expect(body.Document.SubCategory).To(Equal("Image"))
				Expect(body.Candidates).To(BeEmpty())
				Expect(extractor.requests).To(BeEmpty())
			})
		})

		When("no API key is configured", func() {
			BeforeEach(func() {
				extractor.err = &scanning.CredentialsMissingError{Provider: "gemini"}
			})

			It("returns 412 with the record id", func() {
				resp := upload("/api/documents", "ticket.jpg", []byte("jpeg"), map[string]string{"auto_parse": "true"})
				Expect(resp.StatusCode).To(Equal(http.StatusPreconditionFailed))

				var body errorResponse
				decode(resp, &body)
				Expect(body.Code).To(Equal("credentials_missing"))
				Expect(body.DocumentID).NotTo(BeZero())
				Expect(db.documents).To(HaveKey(body.DocumentID))
			})
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				extractor.text = "not json at all"
			})

			It("still creates the record and reports the error", func() {
				resp := upload("/api/documents", "ticket.jpg", []byte("jpeg"), map[string]string{"auto_parse": "true"})
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var body processResponse
				decode(resp, &body)
				Expect(body.Document.Title).To(Equal("ticket.jpg"))
				Expect(body.Document.Status).To(Equal(StatusSettled))
				Expect(body.Error).NotTo(BeEmpty())
			})
		})

		When("no file is sent", func() {
			It("returns 400", func() {
				resp := upload("/api/documents", "", nil, map[string]string{"auto_parse": "true"})
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var body errorResponse
				decode(resp, &body)
				Expect(body.Code).To(Equal("missing_file"))
			})
		})

		When("auto_parse is not a boolean", func() {
			It("returns 422", func() {
				resp := upload("/api/documents", "ticket.jpg", []byte("jpeg"), map[string]string{"auto_parse": "maybe"})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			})
		})

		When("trip_id is not numeric", func() {
			It("returns 400", func() {
				resp := upload("/api/documents", "ticket.jpg", []byte("jpeg"), map[string]string{"trip_id": "goa"})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the trip does not exist", func() {
			It("returns 404", func() {
				resp := upload("/api/documents", "ticket.jpg", []byte("jpeg"), map[string]string{"trip_id": "5"})
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})
		})
	})

	Describe("document reads and edits", func() {
		var doc *Document

		BeforeEach(func() {
			storage.files["abc_ticket.pdf"] = []byte("%PDF-1.4")
			doc = &Document{SourceURI: "abc_ticket.pdf", Title: "Ticket", Category: scanning.CategoryTransport}
			Expect(db.CreateDocument(doc)).To(Succeed())
		})

		It("lists documents", func() {
			resp := doJSON(http.MethodGet, "/api/documents", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

			var docs []*Document
			decode(resp, &docs)
			Expect(docs).To(HaveLen(1))
		})

		It("returns a document", func() {
			resp := doJSON(http.MethodGet, "/api/documents/1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var got Document
			decode(resp, &got)
			Expect(got.Title).To(Equal("Ticket"))
		})

		It("returns 404 with a code for a missing document", func() {
			resp := doJSON(http.MethodGet, "/api/documents/999", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

			var body errorResponse
			decode(resp, &body)
			Expect(body.Code).To(Equal("not_found"))
		})

		It("returns 400 for a non-numeric id", func() {
			resp := doJSON(http.MethodGet, "/api/documents/abc", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("serves the stored file", func() {
			resp := doJSON(http.MethodGet, "/api/documents/1/file", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/pdf"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("%PDF-1.4"))
		})

		It("applies an edit", func() {
			resp := doJSON(http.MethodPut, "/api/documents/1", map[string]any{"title": "Train to Agra", "sub_category": "Train"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var got Document
			decode(resp, &got)
			Expect(got.Title).To(Equal("Train to Agra"))
			Expect(got.SubCategory).To(Equal("Train"))
			Expect(got.Category).To(Equal(scanning.CategoryTransport))
		})

		It("rejects an invalid edit with 422", func() {
			resp := doJSON(http.MethodPut, "/api/documents/1", map[string]any{"category": "Spaceship"})
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

			var body errorResponse
			decode(resp, &body)
			Expect(body.Code).To(Equal("validation_failed"))
		})

		It("deletes a document", func() {
			resp := doJSON(http.MethodDelete, "/api/documents/1", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.documents).To(BeEmpty())
		})

		It("reprocesses a document", func() {
			resp := doJSON(http.MethodPost, "/api/documents/1/reprocess", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body processResponse
			decode(resp, &body)
			Expect(body.Document.Title).To(Equal("Flight to Delhi"))
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("disk error")
			})

			It("returns 500 without leaking the cause", func() {
				resp := doJSON(http.MethodGet, "/api/documents", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))

				var body errorResponse
				decode(resp, &body)
				Expect(body.Error).To(Equal("Internal server error"))
			})
		})
	})

	Describe("POST /api/documents/reprocess", func() {
		BeforeEach(func() {
			for _, name := range []string{"one.jpg", "two.jpg", "three.jpg"} {
				Expect(db.CreateDocument(&Document{SourceURI: name, Title: name})).To(Succeed())
				storage.files[name] = []byte("jpeg")
			}
		})

		It("reports the counts", func() {
			resp := doJSON(http.MethodPost, "/api/documents/reprocess", map[string]any{"ids": []uint64{1, 2, 3}})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body BatchResult
			decode(resp, &body)
			Expect(body).To(Equal(BatchResult{Succeeded: 3}))
		})

		It("returns 412 with the counts when the key is missing", func() {
			extractor.errs["two.jpg"] = &scanning.CredentialsMissingError{Provider: "gemini"}
			resp := doJSON(http.MethodPost, "/api/documents/reprocess", map[string]any{"ids": []uint64{1, 2, 3}})
			Expect(resp.StatusCode).To(Equal(http.StatusPreconditionFailed))

			var body struct {
				BatchResult
				Code string `json:"code"`
			}
			decode(resp, &body)
			Expect(body.Code).To(Equal("credentials_missing"))
			Expect(body.Succeeded).To(Equal(1))
			Expect(body.Skipped).To(Equal(1))
		})

		It("rejects an empty batch", func() {
			resp := doJSON(http.MethodPost, "/api/documents/reprocess", map[string]any{"ids": []uint64{}})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		})
	})

	Describe("trips", func() {
		It("creates and fetches a trip with its documents", func() {
			resp := doJSON(http.MethodPost, "/api/trips", map[string]any{
				"title":      "Goa",
				"start_date": "2024-01-01T00:00:00Z",
				"end_date":   "2024-01-10T00:00:00Z",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var trip Trip
			decode(resp, &trip)
			Expect(trip.ID).NotTo(BeZero())

			Expect(db.CreateDocument(&Document{Title: "Beach hut", TripID: trip.ID})).To(Succeed())

			resp = doJSON(http.MethodGet, "/api/trips/1", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body struct {
				Trip      Trip        `json:"trip"`
				Documents []*Document `json:"documents"`
			}
			decode(resp, &body)
			Expect(body.Trip.Title).To(Equal("Goa"))
			Expect(body.Documents).To(HaveLen(1))
		})

		It("rejects a trip that ends before it starts", func() {
			resp := doJSON(http.MethodPost, "/api/trips", map[string]any{
				"title":      "Backwards",
				"start_date": "2024-01-10T00:00:00Z",
				"end_date":   "2024-01-01T00:00:00Z",
			})
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		})

		It("rejects a malformed body", func() {
			req, err := http.NewRequest(http.MethodPost, ghttpServer.URL()+"/api/trips", strings.NewReader("{"))
			Expect(err).NotTo(HaveOccurred())
			resp := do(req)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("updates, lists, and deletes a trip", func() {
			trip := &Trip{Title: "Goa", StartDate: date(2024, 1, 1), EndDate: date(2024, 1, 10)}
			Expect(db.CreateTrip(trip)).To(Succeed())

			resp := doJSON(http.MethodPut, "/api/trips/1", map[string]any{
				"title":      "Goa again",
				"start_date": "2024-01-01T00:00:00Z",
				"end_date":   "2024-01-12T00:00:00Z",
			})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()

			resp = doJSON(http.MethodGet, "/api/trips", nil)
			var trips []*Trip
			decode(resp, &trips)
			Expect(trips).To(HaveLen(1))
			Expect(trips[0].Title).To(Equal("Goa again"))

			resp = doJSON(http.MethodDelete, "/api/trips/1", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.trips).To(BeEmpty())
		})
	})

	Describe("identities", func() {
		BeforeEach(func() {
			extractor.text = `{"title": "Passport", "type": "Passport", "documentNumber": "Z1234567", "owner": "Asha Rao"}`
		})

		It("uploads and lists identity documents", func() {
			resp := upload("/api/identities", "passport.jpg", []byte("jpeg"), map[string]string{"auto_parse": "true"})
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var body struct {
				Identity      IdentityDocument `json:"identity"`
				MissingFields []string         `json:"missing_fields"`
			}
			decode(resp, &body)
			Expect(body.Identity.Kind).To(Equal(scanning.IdentityPassport))
			Expect(body.MissingFields).To(BeEmpty())

			resp = doJSON(http.MethodGet, "/api/identities", nil)
			var identities []*IdentityDocument
			decode(resp, &identities)
			Expect(identities).To(HaveLen(1))
		})

		It("edits an identity document", func() {
			Expect(db.CreateIdentity(&IdentityDocument{SourceURI: "abc_visa.jpg", Title: "Visa", Kind: scanning.IdentityVisa})).To(Succeed())

			resp := doJSON(http.MethodPut, "/api/identities/1", map[string]any{"owner": "Asha Rao", "document_number": "V998877"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var got IdentityDocument
			decode(resp, &got)
			Expect(got.Owner).To(Equal("Asha Rao"))
			Expect(got.DocumentNumber).To(Equal("V998877"))
			Expect(got.Kind).To(Equal(scanning.IdentityVisa))

			resp = doJSON(http.MethodPut, "/api/identities/1", map[string]any{"kind": "Library Card"})
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			resp.Body.Close()

			resp = doJSON(http.MethodPut, "/api/identities/42", map[string]any{"owner": "Nobody"})
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("deletes an identity document", func() {
			storage.files["abc_visa.jpg"] = []byte("jpeg")
			Expect(db.CreateIdentity(&IdentityDocument{SourceURI: "abc_visa.jpg", Title: "Visa"})).To(Succeed())

			resp := doJSON(http.MethodDelete, "/api/identities/1", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = doJSON(http.MethodGet, "/api/identities/1", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("settings", func() {
		It("reports settings without the key", func() {
			resp := doJSON(http.MethodGet, "/api/settings", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).NotTo(ContainSubstring("startup-key"))
			Expect(string(body)).To(ContainSubstring(`"has_api_key":true`))
		})

		It("updates the stored key and auto-parse preference", func() {
			resp := doJSON(http.MethodPut, "/api/settings", map[string]any{"api_key": "new-key", "auto_parse": true})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var view SettingsView
			decode(resp, &view)
			Expect(view).To(Equal(SettingsView{HasAPIKey: true, AutoParse: true}))

			key, err := settings.APIKey(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(key).To(Equal("new-key"))
		})
	})

	Describe("GET /api/events", func() {
		It("streams a change event when documents change", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, ghttpServer.URL()+"/api/events", nil)
			Expect(err).NotTo(HaveOccurred())
			resp := do(req)
			defer resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			reader := bufio.NewReader(resp.Body)
			line, err := reader.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(line).To(Equal(": connected\n"))
			_, err = reader.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())

			service.Notifier().Notify()

			line, err = reader.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(line).To(Equal("event: documents-changed\n"))
		})
	})
})
