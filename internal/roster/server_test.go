package roster

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/record-extractor/internal/scanning"
)

// multipartUpload builds an upload form with one file field
func multipartUpload(filename, contentType string, content []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(content)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		scanner     *mockScanner
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
		client      *http.Client
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewService(db, scanner, storage)
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "DELETE"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`^/`), server.ServeHTTP)
		}
	}

	upload := func(filename, contentType string, content []byte) *http.Response {
		body, formType := multipartUpload(filename, contentType, content)
		resp, err := client.Post(ghttpServer.URL()+"/api/session/upload", formType, body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		scanner = newMockScanner()
		auth = BasicAuth{}
		jar, err := cookiejar.New(nil)
		Expect(err).NotTo(HaveOccurred())
		client = &http.Client{Jar: jar}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("handleIndex", func() {
		It("should return the Arabic page", func() {
			resp, err := client.Get(ghttpServer.URL() + "/")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/html; charset=utf-8"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("مستخرج البيانات العسكرية"))
			Expect(string(body)).To(ContainSubstring(`dir="rtl"`))
		})

		It("should serve /index.html", func() {
			resp, err := client.Get(ghttpServer.URL() + "/index.html")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should reject other methods", func() {
			resp, err := client.Post(ghttpServer.URL()+"/", "text/plain", nil)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("static assets", func() {
		It("should serve the stylesheet", func() {
			resp, err := client.Get(ghttpServer.URL() + "/static/app.css")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/css"))
		})

		It("should serve the script", func() {
			resp, err := client.Get(ghttpServer.URL() + "/static/app.js")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("/api/session/upload"))
		})
	})

	Describe("handleGetSession", func() {
		It("should start an idle session and set the cookie", func() {
			resp, err := client.Get(ghttpServer.URL() + "/api/session")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var cookieNames []string
			for _, c := range resp.Cookies() {
				cookieNames = append(cookieNames, c.Name)
			}
			Expect(cookieNames).To(ContainElement(sessionCookieName))

			var state State
			Expect(json.NewDecoder(resp.Body).Decode(&state)).To(Succeed())
			Expect(state.Status).To(Equal(StatusIdle))
			Expect(state.Records).To(BeEmpty())
		})
	})

	Describe("handleUpload", func() {
		When("extraction succeeds", func() {
			var resp *http.Response

			BeforeEach(func() {
				resp = upload("sheet.jpg", "image/jpeg", []byte("fake jpeg"))
			})

			AfterEach(func() {
				resp.Body.Close()
			})

			It("should return the success state", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var state State
				Expect(json.NewDecoder(resp.Body).Decode(&state)).To(Succeed())
				Expect(state.Status).To(Equal(StatusSuccess))
				Expect(state.Records).To(Equal([]scanning.Record{sampleRecord()}))
			})

			It("should keep the records in the session", func() {
				sessionResp, err := client.Get(ghttpServer.URL() + "/api/session")
				Expect(err).NotTo(HaveOccurred())
				defer sessionResp.Body.Close()
				var state State
				Expect(json.NewDecoder(sessionResp.Body).Decode(&state)).To(Succeed())
				Expect(state.Status).To(Equal(StatusSuccess))
				Expect(state.Records).To(HaveLen(1))
			})

			It("should export the session as xlsx", func() {
				exportResp, err := client.Get(ghttpServer.URL() + "/api/session/export")
				Expect(err).NotTo(HaveOccurred())
				defer exportResp.Body.Close()
				Expect(exportResp.StatusCode).To(Equal(http.StatusOK))
				Expect(exportResp.Header.Get("Content-Type")).To(Equal(XLSXContentType))
				Expect(exportResp.Header.Get("Content-Disposition")).To(Equal("attachment; filename=Military_Data_Extracted.xlsx"))
				body, err := io.ReadAll(exportResp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(body).To(HavePrefix("PK"))
			})

			It("should archive a batch", func() {
				listResp, err := client.Get(ghttpServer.URL() + "/api/batches")
				Expect(err).NotTo(HaveOccurred())
				defer listResp.Body.Close()
				var batches []*Batch
				Expect(json.NewDecoder(listResp.Body).Decode(&batches)).To(Succeed())
				Expect(batches).To(HaveLen(1))
				Expect(batches[0].Filename).To(Equal("sheet.jpg"))
			})
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				scanner.scanErr = &scanning.ExtractionError{Err: io.ErrUnexpectedEOF}
			})

			It("should return 400 with the error state", func() {
				resp := upload("sheet.jpg", "image/jpeg", []byte("fake jpeg"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var state State
				Expect(json.NewDecoder(resp.Body).Decode(&state)).To(Succeed())
				Expect(state.Status).To(Equal(StatusError))
				Expect(state.Error).To(Equal(scanning.FailureMessage))
			})
		})

		When("no file is attached", func() {
			It("should return 400", func() {
				body := &bytes.Buffer{}
				writer := multipart.NewWriter(body)
				Expect(writer.WriteField("other", "value")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				resp, err := client.Post(ghttpServer.URL()+"/api/session/upload", writer.FormDataContentType(), body)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))

				var payload map[string]string
				Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(Succeed())
				Expect(payload["error"]).To(ContainSubstring("No file was selected"))
				Expect(scanner.callCount()).To(BeZero())
			})
		})

		When("the body is not a form", func() {
			It("should return 400", func() {
				resp, err := client.Post(ghttpServer.URL()+"/api/session/upload", "text/plain", strings.NewReader("nope"))
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the file is larger than the in-memory limit", func() {
			BeforeEach(func() {
				previous := maxUploadMemory
				maxUploadMemory = 1024
				DeferCleanup(func() { maxUploadMemory = previous })
			})

			It("should still process it", func() {
				content := bytes.Repeat([]byte("x"), 64*1024)
				resp := upload("big.jpg", "image/jpeg", content)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(scanner.receivedPayloads()).To(ConsistOf(EncodeDataURL(content, "image/jpeg")))
			})
		})

		When("the session is already processing", func() {
			It("should return 409", func() {
				// both uploads must carry the same session cookie
				sessionResp, err := client.Get(ghttpServer.URL() + "/api/session")
				Expect(err).NotTo(HaveOccurred())
				sessionResp.Body.Close()

				scanner.started = make(chan struct{})
				scanner.release = make(chan struct{})

				first := make(chan int, 1)
				go func() {
					defer GinkgoRecover()
					resp := upload("one.jpg", "image/jpeg", []byte("one"))
					resp.Body.Close()
					first <- resp.StatusCode
				}()
				Eventually(scanner.started).Should(BeClosed())

				resp := upload("two.jpg", "image/jpeg", []byte("two"))
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				var state State
				Expect(json.NewDecoder(resp.Body).Decode(&state)).To(Succeed())
				resp.Body.Close()
				Expect(state.Status).To(Equal(StatusProcessing))
				Expect(state.Filename).To(Equal("one.jpg"))

				close(scanner.release)
				Eventually(first).Should(Receive(Equal(http.StatusOK)))
				Expect(scanner.callCount()).To(Equal(1))
			})
		})
	})

	Describe("handleExportSession", func() {
		It("should return 204 when there is nothing to export", func() {
			resp, err := client.Get(ghttpServer.URL() + "/api/session/export")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(BeEmpty())
		})
	})

	Describe("handleSessionEvents", func() {
		It("should stream the current state", func() {
			resp, err := client.Get(ghttpServer.URL() + "/api/session/events")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			reader := bufio.NewReader(resp.Body)
			event, err := reader.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(event).To(Equal("event: state\n"))
			data, err := reader.ReadString('\n')
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(HavePrefix("data: "))

			var state State
			Expect(json.Unmarshal([]byte(strings.TrimPrefix(data, "data: ")), &state)).To(Succeed())
			Expect(state.Status).To(Equal(StatusIdle))
		})
	})

	Describe("batches", func() {
		BeforeEach(func() {
			db.batches["b1"] = &Batch{
				ID:          "b1",
				Filename:    "sheet.png",
				ContentType: "image/png",
				ImagePath:   "b1_sheet.png",
				Records:     []scanning.Record{sampleRecord()},
			}
			storage.files["b1_sheet.png"] = []byte("png data")
		})

		It("should list batches", func() {
			resp, err := client.Get(ghttpServer.URL() + "/api/batches")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			var batches []*Batch
			Expect(json.NewDecoder(resp.Body).Decode(&batches)).To(Succeed())
			Expect(batches).To(HaveLen(1))
		})

		It("should return an empty list as an array", func() {
			delete(db.batches, "b1")
			resp, err := client.Get(ghttpServer.URL() + "/api/batches")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
		})

		It("should get a batch", func() {
			resp, err := client.Get(ghttpServer.URL() + "/api/batches/b1")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var batch Batch
			Expect(json.NewDecoder(resp.Body).Decode(&batch)).To(Succeed())
			Expect(batch.Records).To(HaveLen(1))
		})

		It("should serve the batch image", func() {
			resp, err := client.Get(ghttpServer.URL() + "/api/batches/b1/image")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
		})

		It("should export the batch", func() {
			resp, err := client.Get(ghttpServer.URL() + "/api/batches/b1/export")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring(ExportFileName))
		})

		It("should delete the batch", func() {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/batches/b1", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := client.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.batches).NotTo(HaveKey("b1"))
		})

		DescribeTable("unknown batches",
			func(method, path string) {
				req, err := http.NewRequest(method, ghttpServer.URL()+path, nil)
				Expect(err).NotTo(HaveOccurred())
				resp, err := client.Do(req)
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			},
			Entry("get", http.MethodGet, "/api/batches/missing"),
			Entry("image", http.MethodGet, "/api/batches/missing/image"),
			Entry("export", http.MethodGet, "/api/batches/missing/export"),
			Entry("delete", http.MethodDelete, "/api/batches/missing"),
		)
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
			setupServer()
		})

		It("should reject requests without credentials", func() {
			resp, err := client.Get(ghttpServer.URL() + "/api/session")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/session", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "secret")
			resp, err := client.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should reject wrong credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/session", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "wrong")
			resp, err := client.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("Run", func() {
		It("should return once the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				done <- server.Run(ctx, "127.0.0.1:0")
			}()
			cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("should return listen errors", func() {
			Expect(server.Run(context.Background(), "not-an-address")).To(HaveOccurred())
		})
	})

	Describe("Handler", func() {
		It("should answer preflight requests", func() {
			cors := ghttp.NewServer()
			defer cors.Close()
			cors.AppendHandlers(server.Handler().ServeHTTP)

			req, err := http.NewRequest(http.MethodOptions, cors.URL()+"/api/session/upload", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})
})
