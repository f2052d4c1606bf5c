package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/resibo-ph/resibo/internal/layout"
)

var _ = Describe("Server", func() {
	var (
		db          *BoltDB
		engine      *fakeEngine
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	// request appends one pass-through handler and performs the request.
	request := func(method, path string, body io.Reader, header http.Header) *http.Response {
		ghttpServer.AppendHandlers(server.ServeHTTP)
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	uploadPNG := func(filename string, content []byte) *http.Response {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(content)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		return request("POST", "/api/files", body, http.Header{
			"Content-Type": []string{writer.FormDataContentType()},
		})
	}

	BeforeEach(func() {
		tmpDir := GinkgoT().TempDir()
		var err error
		db, err = NewBoltDB(filepath.Join(tmpDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())
		storage, err := NewLocalStorage(filepath.Join(tmpDir, "captures"))
		Expect(err).NotTo(HaveOccurred())

		engine = &fakeEngine{available: true, text: "Total: 100.00", conf: 90}
		service = NewServiceWithDeps(db, storage, engine, "eng", nil, &sequentialID{}, &fixedTime{})
		auth = BasicAuth{}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		db.Close()
	})

	Describe("handleIndex", func() {
		It("should serve the landing page", func() {
			resp := request("GET", "/", nil, nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Resibo"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "secret"}
			server = NewServerWithMux(service, auth, http.NewServeMux())
		})

		It("should reject requests without credentials", func() {
			resp := request("GET", "/api/files", nil, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should accept valid credentials", func() {
			creds := base64.StdEncoding.EncodeToString([]byte("user:secret"))
			resp := request("GET", "/api/files", nil, http.Header{
				"Authorization": []string{"Basic " + creds},
			})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("file upload", func() {
		It("should import a PNG and return the capture entry", func() {
			resp := uploadPNG("receipt.png", testPNG(40, 30))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var files []*UploadedFile
			Expect(json.NewDecoder(resp.Body).Decode(&files)).To(Succeed())
			Expect(files).To(HaveLen(1))
			Expect(files[0].Width).To(Equal(40))
		})

		It("should reject undecodable uploads", func() {
			resp := uploadPNG("receipt.png", []byte("garbage"))
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("file rotation", func() {
		BeforeEach(func() {
			resp := uploadPNG("receipt.png", testPNG(10, 10))
			resp.Body.Close()
		})

		It("should store the snapped rotation", func() {
			resp := request("POST", "/api/files/id-1/rotate", bytes.NewBufferString(`{"degrees": 90}`), nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var f UploadedFile
			Expect(json.NewDecoder(resp.Body).Decode(&f)).To(Succeed())
			Expect(f.Rotation).To(Equal(90))
		})

		It("should 404 for unknown files", func() {
			resp := request("POST", "/api/files/ghost/rotate", bytes.NewBufferString(`{"degrees": 90}`), nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("file deletion", func() {
		BeforeEach(func() {
			resp := uploadPNG("receipt.png", testPNG(10, 10))
			resp.Body.Close()
		})

		It("should remove the capture", func() {
			resp := request("DELETE", "/api/files/id-1", nil, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(service.Files()).To(BeEmpty())
		})
	})

	Describe("preprocessing", func() {
		BeforeEach(func() {
			resp := uploadPNG("receipt.png", testPNG(60, 80))
			resp.Body.Close()
		})

		It("should run a named preset", func() {
			resp := request("POST", "/api/preprocess", bytes.NewBufferString(`{"level": "basic"}`), nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var files []*UploadedFile
			Expect(json.NewDecoder(resp.Body).Decode(&files)).To(Succeed())
			Expect(files[0].ProcessedPath).NotTo(BeEmpty())
		})

		It("should reject unknown presets", func() {
			resp := request("POST", "/api/preprocess", bytes.NewBufferString(`{"level": "mega"}`), nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("OCR", func() {
		BeforeEach(func() {
			resp := uploadPNG("receipt.png", testPNG(20, 20))
			resp.Body.Close()
		})

		It("should return the recognized text and confidence", func() {
			resp := request("POST", "/api/ocr", bytes.NewBufferString(`{}`), nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result struct {
				Text          string  `json:"text"`
				Confidence    float64 `json:"confidence"`
				LowConfidence bool    `json:"low_confidence"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
			Expect(result.Text).To(Equal("Total: 100.00"))
			Expect(result.Confidence).To(Equal(90.0))
			Expect(result.LowConfidence).To(BeFalse())
		})

		When("the engine is unavailable", func() {
			BeforeEach(func() {
				engine.available = false
			})

			It("should return 503", func() {
				resp := request("POST", "/api/ocr", bytes.NewBufferString(`{}`), nil)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
			})
		})
	})

	Describe("click mapping", func() {
		BeforeEach(func() {
			resp := uploadPNG("receipt.png", testPNG(400, 600))
			resp.Body.Close()
			service.shapes = []layout.Shape{
				{X: 100, Y: 100, Width: 50, Height: 40, Column: layout.ColumnQuantity, Row: 5},
			}
		})

		It("should report the hit row as parsed when no table size is given", func() {
			body := `{"x": 110, "y": 110, "display_w": 400, "display_h": 600}`
			resp := request("POST", "/api/files/id-1/click", bytes.NewBufferString(body), nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result struct {
				Hit bool `json:"hit"`
				Row int  `json:"row"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
			Expect(result.Hit).To(BeTrue())
			Expect(result.Row).To(Equal(5))
		})

		It("should clamp a hit beyond the table to the last row", func() {
			body := `{"x": 110, "y": 110, "display_w": 400, "display_h": 600, "row_count": 3}`
			resp := request("POST", "/api/files/id-1/click", bytes.NewBufferString(body), nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result struct {
				Hit bool `json:"hit"`
				Row int  `json:"row"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
			Expect(result.Hit).To(BeTrue())
			Expect(result.Row).To(Equal(2))
		})
	})

	Describe("record total suggestion", func() {
		It("should recompute gross plus VAT minus discount", func() {
			body := `{"gross_amount": 1339.29, "vat_amount": 160.71, "discount": 100}`
			resp := request("POST", "/api/records/suggest-total", bytes.NewBufferString(body), nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result struct {
				Total *float64 `json:"total"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
			Expect(result.Total).To(HaveValue(BeNumerically("~", 1400.0, 1e-9)))
		})

		It("should suggest nothing when no amounts are filled", func() {
			resp := request("POST", "/api/records/suggest-total", bytes.NewBufferString(`{}`), nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var result struct {
				Total *float64 `json:"total"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
			Expect(result.Total).To(BeNil())
		})
	})

	Describe("records", func() {
		It("should save and list records", func() {
			body := `{"seller_name": "ACME", "total_amount_due": 1500.00}`
			resp := request("POST", "/api/records", bytes.NewBufferString(body), nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var saved Record
			Expect(json.NewDecoder(resp.Body).Decode(&saved)).To(Succeed())
			Expect(saved.ID).NotTo(BeEmpty())

			listResp := request("GET", "/api/records", nil, nil)
			defer listResp.Body.Close()
			var records []*Record
			Expect(json.NewDecoder(listResp.Body).Decode(&records)).To(Succeed())
			Expect(records).To(HaveLen(1))
			Expect(records[0].SellerName).To(Equal("ACME"))
		})

		It("should return an empty array when no records exist", func() {
			resp := request("GET", "/api/records", nil, nil)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("[]"))
		})

		It("should 404 for an unknown record", func() {
			resp := request("GET", "/api/records/ghost", nil, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("exports", func() {
		BeforeEach(func() {
			resp := request("POST", "/api/records", bytes.NewBufferString(`{"seller_name": "ACME"}`), nil)
			resp.Body.Close()
		})

		It("should serve the receipts CSV as an attachment", func() {
			resp := request("GET", "/api/export/receipts.csv", nil, nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("text/csv"))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("Receipts.csv"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("ReceiptID,ReceiptDate"))
			Expect(string(body)).To(ContainSubstring("ACME"))
		})

		It("should serve the ZIP archive", func() {
			resp := request("GET", "/api/export/archive.zip", nil, nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/zip"))
		})
	})

	Describe("session", func() {
		It("should 404 when no session is stored", func() {
			resp := request("GET", "/api/session", nil, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should 401 verification when no gate is configured", func() {
			body := `{"code": "RSB-001", "name": "Juan", "tin": "123456789", "gmail": "juan@gmail.com"}`
			resp := request("POST", "/api/session/verify", bytes.NewBufferString(body), nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("should clear without error even when empty", func() {
			resp := request("DELETE", "/api/session", nil, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})
	})

	Describe("reset", func() {
		BeforeEach(func() {
			resp := uploadPNG("receipt.png", testPNG(10, 10))
			resp.Body.Close()
		})

		It("should discard the working set", func() {
			resp := request("POST", "/api/reset", nil, nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(service.Files()).To(BeEmpty())
		})
	})
})
