package jobgateway_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/musicviz/stem-split-be/src/internal/download"
	"github.com/musicviz/stem-split-be/src/internal/download/soundcloud"
	"github.com/musicviz/stem-split-be/src/internal/dummy"
	jobentity "github.com/musicviz/stem-split-be/src/internal/job/entity"
	jobgateway "github.com/musicviz/stem-split-be/src/internal/job/gateway"
	"github.com/musicviz/stem-split-be/src/internal/job/registry"
	jobusecase "github.com/musicviz/stem-split-be/src/internal/job/usecase"
	"github.com/musicviz/stem-split-be/src/internal/pipeline"
	"github.com/musicviz/stem-split-be/src/internal/process"
	testlib "github.com/musicviz/stem-split-be/src/lib/testing"
	"github.com/musicviz/stem-split-be/src/lib/working_dir"
)

var _ = Describe("Job gateway", func() {
	var (
		workingDir  working_dir.WorkingDir
		jobRegistry *registry.Registry
		engine      *dummy.EngineExecutor
		runner      *pipeline.Runner
		gateway     jobgateway.Gateway

		response *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		testlib.SetTestEnv()

		var err error
		workingDir, err = working_dir.NewWorkingDir(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())

		jobRegistry = registry.NewRegistry()
		engine = dummy.NewEngineExecutor([]string{"drums", "bass", "vocals", "other"})

		separator := process.NewSeparator("/somewhere/demucs", "", workingDir, engine)
		runner = pipeline.NewRunner(jobRegistry, separator, 2, 4)

		soundcloudClient := soundcloud.NewClient(soundcloud.NewTokenCache("", "", ""), "")
		usecase := jobusecase.NewUsecase(jobRegistry, runner, download.NewGenericDLer(), soundcloudClient, workingDir)
		gateway = jobgateway.NewGateway(usecase)

		response = httptest.NewRecorder()
	})

	AfterEach(func() {
		Expect(runner.Stop()).To(Succeed())
	})

	getStatus := func(jobID string) jobgateway.StatusResponse {
		statusResponse := httptest.NewRecorder()
		request := testlib.RequestFactory{
			Method: http.MethodGet,
			Target: "/api/status/" + jobID,
		}.MakeFake()

		err := gateway.Status(testlib.PrepareEchoContext(request, statusResponse), jobID)
		Expect(err).NotTo(HaveOccurred())
		Expect(statusResponse.Code).To(Equal(http.StatusOK))

		return testlib.DecodeJSON[jobgateway.StatusResponse](statusResponse.Body)
	}

	statusOf := func(jobID string) func() string {
		return func() string { return getStatus(jobID).Status }
	}

	Describe("Separate", func() {
		Describe("With a supported audio upload", func() {
			var created jobgateway.SeparationResponse

			BeforeEach(func() {
				request := testlib.MakeMultipartRequest("/api/separate", "song.mp3", "audio/mpeg", []byte("cool_jamz"))

				err := gateway.Separate(testlib.PrepareEchoContext(request, response))
				Expect(err).NotTo(HaveOccurred())

				created = testlib.DecodeJSON[jobgateway.SeparationResponse](response.Body)
			})

			It("accepts the upload and reports the job as started", func() {
				Expect(response.Code).To(Equal(http.StatusOK))
				Expect(created.JobID).NotTo(BeEmpty())
				Expect(created.Status).To(Equal(string(jobentity.ProcessingStatus)))
			})

			It("eventually reports completed with stem URLs", func() {
				Eventually(statusOf(created.JobID)).Should(Equal(string(jobentity.CompletedStatus)))

				finished := getStatus(created.JobID)
				Expect(finished.Progress).To(Equal(1.0))
				Expect(finished.Stems).To(HaveLen(4))
				Expect(finished.Stems["vocals"]).To(Equal("/stems/" + created.JobID + "/vocals.wav"))
			})
		})

		Describe("With an unsupported file type", func() {
			BeforeEach(func() {
				request := testlib.MakeMultipartRequest("/api/separate", "notes.txt", "text/plain", []byte("not audio"))

				err := gateway.Separate(testlib.PrepareEchoContext(request, response))
				Expect(err).NotTo(HaveOccurred())
			})

			It("rejects the upload before any job is created", func() {
				Expect(response.Code).To(Equal(http.StatusBadRequest))

				jsonErr := testlib.DecodeJSONError(response.Body)
				Expect(jsonErr.Code).To(Equal("invalid_audio_file"))
				Expect(jsonErr.Msg).To(ContainSubstring("Invalid file type"))
			})
		})

		Describe("With no file part", func() {
			It("rejects the request", func() {
				request := testlib.RequestFactory{
					Method: http.MethodPost,
					Target: "/api/separate",
				}.MakeFake()

				err := gateway.Separate(testlib.PrepareEchoContext(request, response))
				Expect(err).NotTo(HaveOccurred())
				Expect(response.Code).To(Equal(http.StatusBadRequest))

				jsonErr := testlib.DecodeJSONError(response.Body)
				Expect(jsonErr.Code).To(Equal("invalid_audio_file"))
			})
		})
	})

	Describe("SeparateURL", func() {
		separateURL := func(sourceURL string) {
			request := testlib.RequestFactory{
				Method:  http.MethodPost,
				Target:  "/api/separate-url",
				JSONObj: jobgateway.URLRequest{URL: sourceURL},
			}.MakeFake()

			err := gateway.SeparateURL(testlib.PrepareEchoContext(request, response))
			Expect(err).NotTo(HaveOccurred())
		}

		Describe("With a direct audio URL", func() {
			It("starts a job that completes in the background", func() {
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					_, _ = w.Write([]byte("streamable_jamz"))
				}))
				defer server.Close()

				separateURL(server.URL + "/track.mp3")

				Expect(response.Code).To(Equal(http.StatusOK))
				created := testlib.DecodeJSON[jobgateway.SeparationResponse](response.Body)
				Expect(created.JobID).NotTo(BeEmpty())

				Eventually(statusOf(created.JobID)).Should(Equal(string(jobentity.CompletedStatus)))
			})
		})

		Describe("With an unusable URL", func() {
			It("rejects a URL with no scheme", func() {
				separateURL("not a url at all")

				Expect(response.Code).To(Equal(http.StatusBadRequest))
				Expect(testlib.DecodeJSONError(response.Body).Code).To(Equal("invalid_url"))
			})

			It("rejects a non-http scheme", func() {
				separateURL("ftp://example.com/track.mp3")

				Expect(response.Code).To(Equal(http.StatusBadRequest))
				Expect(testlib.DecodeJSONError(response.Body).Code).To(Equal("invalid_url"))
			})
		})

		Describe("With a SoundCloud URL and no configured credentials", func() {
			It("reports the integration as unavailable", func() {
				separateURL("https://soundcloud.com/artist/cool-track")

				Expect(response.Code).To(Equal(http.StatusServiceUnavailable))

				jsonErr := testlib.DecodeJSONError(response.Body)
				Expect(jsonErr.Code).To(Equal("soundcloud_not_configured"))
			})
		})
	})

	Describe("Over a live server", func() {
		It("completes a job whose acquisition outlives its request", func() {
			e := echo.New()
			e.POST("/api/separate-url", gateway.SeparateURL)
			apiServer := httptest.NewServer(e)
			defer apiServer.Close()

			By("serving the source audio slower than the request lives")
			source := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
				_, _ = w.Write([]byte("streamable_jamz"))
			}))
			defer source.Close()

			body, err := json.Marshal(jobgateway.URLRequest{URL: source.URL + "/track.mp3"})
			Expect(err).NotTo(HaveOccurred())

			resp, err := http.Post(apiServer.URL+"/api/separate-url", echo.MIMEApplicationJSON, bytes.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			created := testlib.DecodeJSON[jobgateway.SeparationResponse](resp.Body)
			Expect(created.JobID).NotTo(BeEmpty())

			By("the response is long written while the download is still in flight")
			Eventually(statusOf(created.JobID), "3s").Should(Equal(string(jobentity.CompletedStatus)))
		})
	})

	Describe("At capacity", func() {
		It("turns away new jobs as server busy", func() {
			By("building a single worker pool whose worker is stuck in a hanging engine")
			engine.Hang = true
			separator := process.NewSeparator("/somewhere/demucs", "", workingDir, engine)
			busyRunner := pipeline.NewRunner(jobRegistry, separator, 1, 1)

			soundcloudClient := soundcloud.NewClient(soundcloud.NewTokenCache("", "", ""), "")
			usecase := jobusecase.NewUsecase(jobRegistry, busyRunner, download.NewGenericDLer(), soundcloudClient, workingDir)
			busyGateway := jobgateway.NewGateway(usecase)

			jobIDs := []string{}
			upload := func() *httptest.ResponseRecorder {
				recorder := httptest.NewRecorder()
				request := testlib.MakeMultipartRequest("/api/separate", "song.mp3", "audio/mpeg", []byte("cool_jamz"))
				Expect(busyGateway.Separate(testlib.PrepareEchoContext(request, recorder))).To(Succeed())

				if recorder.Code == http.StatusOK {
					created := testlib.DecodeJSON[jobgateway.SeparationResponse](recorder.Body)
					jobIDs = append(jobIDs, created.JobID)
				}

				return recorder
			}

			By("uploading until the queue is saturated")
			var rejected *httptest.ResponseRecorder
			Eventually(func() int {
				rejected = upload()
				return rejected.Code
			}).Should(Equal(http.StatusServiceUnavailable))

			jsonErr := testlib.DecodeJSONError(rejected.Body)
			Expect(jsonErr.Code).To(Equal("server_busy"))

			By("cancelling the stuck jobs so the pool can drain")
			for _, jobID := range jobIDs {
				jobRegistry.Cancel(jobID)
			}
			Expect(busyRunner.Stop()).To(Succeed())
		})
	})

	Describe("Status", func() {
		It("reports not found for an unknown job", func() {
			request := testlib.RequestFactory{
				Method: http.MethodGet,
				Target: "/api/status/nonexistent-id",
			}.MakeFake()

			err := gateway.Status(testlib.PrepareEchoContext(request, response), "nonexistent-id")
			Expect(err).NotTo(HaveOccurred())
			Expect(response.Code).To(Equal(http.StatusNotFound))

			jsonErr := testlib.DecodeJSONError(response.Body)
			Expect(jsonErr.Code).To(Equal("job_not_found"))
			Expect(jsonErr.Msg).To(ContainSubstring("nonexistent-id"))
		})
	})

	Describe("Cancel", func() {
		cancelJob := func(jobID string) {
			request := testlib.RequestFactory{
				Method: http.MethodDelete,
				Target: "/api/job/" + jobID,
			}.MakeFake()

			err := gateway.Cancel(testlib.PrepareEchoContext(request, response), jobID)
			Expect(err).NotTo(HaveOccurred())
		}

		It("reports not found for an unknown job", func() {
			cancelJob("nonexistent-id")

			Expect(response.Code).To(Equal(http.StatusNotFound))
			Expect(testlib.DecodeJSONError(response.Body).Code).To(Equal("job_not_found"))
		})

		Describe("For a completed job", func() {
			It("cancels the job and removes its stem files", func() {
				By("running an upload job to completion")
				request := testlib.MakeMultipartRequest("/api/separate", "song.mp3", "audio/mpeg", []byte("cool_jamz"))
				Expect(gateway.Separate(testlib.PrepareEchoContext(request, response))).To(Succeed())
				created := testlib.DecodeJSON[jobgateway.SeparationResponse](response.Body)

				Eventually(statusOf(created.JobID)).Should(Equal(string(jobentity.CompletedStatus)))
				outputDir := workingDir.JobOutputDir(created.JobID)
				Expect(outputDir).To(BeADirectory())

				By("cancelling it")
				response = httptest.NewRecorder()
				cancelJob(created.JobID)

				Expect(response.Code).To(Equal(http.StatusOK))
				cancelled := testlib.DecodeJSON[jobgateway.CancelResponse](response.Body)
				Expect(cancelled.Message).To(ContainSubstring(created.JobID))

				_, statErr := os.Stat(outputDir)
				Expect(os.IsNotExist(statErr)).To(BeTrue())

				By("leaving the already terminal record untouched")
				Expect(getStatus(created.JobID).Status).To(Equal(string(jobentity.CompletedStatus)))
			})
		})
	})
})
