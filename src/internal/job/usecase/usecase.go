package jobusecase

import (
	"context"
	"io"
	"mime/multipart"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"
	"github.com/musicviz/stem-split-be/src/internal/download"
	"github.com/musicviz/stem-split-be/src/internal/download/soundcloud"
	"github.com/musicviz/stem-split-be/src/internal/errors/api"
	jobentity "github.com/musicviz/stem-split-be/src/internal/job/entity"
	joberrors "github.com/musicviz/stem-split-be/src/internal/job/errors"
	"github.com/musicviz/stem-split-be/src/internal/job/registry"
	"github.com/musicviz/stem-split-be/src/internal/pipeline"
	"github.com/musicviz/stem-split-be/src/lib/cerr"
	"github.com/musicviz/stem-split-be/src/lib/working_dir"
)

var allowedMIMETypes = map[string]bool{
	"audio/mpeg":  true,
	"audio/wav":   true,
	"audio/mp3":   true,
	"audio/x-wav": true,
	"audio/flac":  true,
	"audio/m4a":   true,
	"audio/mp4":   true,
	"audio/aac":   true,
}

var allowedExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".flac": true,
	".m4a":  true,
	".mp4":  true,
	".aac":  true,
	".ogg":  true,
}

type Usecase struct {
	registry   *registry.Registry
	runner     *pipeline.Runner
	downloader download.Downloader
	soundcloud *soundcloud.Client
	workingDir working_dir.WorkingDir
}

func NewUsecase(
	jobRegistry *registry.Registry,
	runner *pipeline.Runner,
	downloader download.Downloader,
	soundcloudClient *soundcloud.Client,
	workingDir working_dir.WorkingDir,
) Usecase {
	return Usecase{
		registry:   jobRegistry,
		runner:     runner,
		downloader: downloader,
		soundcloud: soundcloudClient,
		workingDir: workingDir,
	}
}

// CreateUploadJob validates and persists an uploaded audio file, then
// schedules its separation pipeline. Validation failures happen before
// any job is created. The pipeline runs on a job-owned context, so it
// survives the request that created it.
func (u Usecase) CreateUploadJob(file *multipart.FileHeader) (jobentity.Job, *api.Error) {
	extension := strings.ToLower(filepath.Ext(file.Filename))
	contentType := file.Header.Get("Content-Type")

	if !allowedMIMETypes[contentType] && !allowedExtensions[extension] {
		return jobentity.Job{}, api.CommitError(
			cerr.Field("content_type", contentType).
				Field("extension", extension).
				Error("Upload is not a supported audio type"),
			joberrors.InvalidAudioFileCode,
			"Invalid file type. Supported: mp3, wav, flac, m4a, mp4, aac, ogg")
	}

	if extension == "" {
		extension = ".mp3"
	}

	job, jobCtx := u.registry.Create()
	inputPath := u.workingDir.InputPath(job.ID, extension)

	if apiErr := saveUploadedFile(file, inputPath); apiErr != nil {
		u.failJob(job.ID, apiErr.UserMessage)
		return jobentity.Job{}, apiErr
	}

	return u.schedule(pipeline.Task{
		JobID:     job.ID,
		Ctx:       jobCtx,
		InputPath: inputPath,
	}, job)
}

// CreateURLJob validates a source URL, picks the acquisition strategy
// for it, and schedules the job. The acquisition itself runs in the
// background for both strategies - only configuration and input shape
// are checked synchronously.
func (u Usecase) CreateURLJob(rawURL string) (jobentity.Job, *api.Error) {
	sourceURL := strings.TrimSpace(rawURL)

	parsed, err := url.Parse(sourceURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return jobentity.Job{}, api.CommitError(
			cerr.Field("url", sourceURL).Error("URL is not a valid http(s) URL"),
			joberrors.InvalidURLCode,
			"Invalid URL")
	}

	isSoundCloud := isSoundCloudHost(parsed.Host)
	if isSoundCloud && !u.soundcloud.Configured() {
		return jobentity.Job{}, u.soundcloud.NotConfiguredError()
	}

	job, jobCtx := u.registry.Create()
	inputPath := u.workingDir.InputPath(job.ID, extensionForURLPath(parsed.Path))

	var acquire pipeline.AcquireFunc
	if isSoundCloud {
		acquire = func(acquireCtx context.Context) error {
			if apiErr := u.soundcloud.Download(acquireCtx, sourceURL, inputPath); apiErr != nil {
				return apiErr
			}
			return nil
		}
	} else {
		acquire = func(acquireCtx context.Context) error {
			return u.downloader.Download(acquireCtx, sourceURL, inputPath)
		}
	}

	return u.schedule(pipeline.Task{
		JobID:     job.ID,
		Ctx:       jobCtx,
		InputPath: inputPath,
		Acquire:   acquire,
	}, job)
}

// Status returns the current snapshot of a job.
func (u Usecase) Status(jobID string) (jobentity.Job, *api.Error) {
	job, found := u.registry.Get(jobID)
	if !found {
		return jobentity.Job{}, api.CommitError(
			cerr.Field("job_id", jobID).Error("No job found for status"),
			joberrors.JobNotFoundCode,
			"Job not found: "+jobID)
	}

	return job, nil
}

// Cancel marks the job cancelled and removes its output directory.
// A still running pipeline observes the cancellation at its next I/O
// checkpoint and abandons the job without overwriting the record.
func (u Usecase) Cancel(jobID string) *api.Error {
	found := u.registry.Cancel(jobID)
	if !found {
		return api.CommitError(
			cerr.Field("job_id", jobID).Error("No job found to cancel"),
			joberrors.JobNotFoundCode,
			"Job not found: "+jobID)
	}

	outputDir := u.workingDir.JobOutputDir(jobID)
	if err := os.RemoveAll(outputDir); err != nil {
		log.WithError(err).WithField("output_dir", outputDir).
			Warn("Failed to remove the cancelled job's output directory")
	}

	return nil
}

func (u Usecase) schedule(task pipeline.Task, job jobentity.Job) (jobentity.Job, *api.Error) {
	if err := u.runner.Schedule(task); err != nil {
		apiErr := (*api.Error)(nil)

		if errors.Is(err, pipeline.ErrQueueFull) {
			apiErr = api.CommitError(err,
				joberrors.ServerBusyCode,
				"The server is at capacity. Try again later")
		} else {
			apiErr = api.CommitError(err,
				api.DefaultErrorCode,
				"Failed to schedule the separation job")
		}

		u.failJob(job.ID, apiErr.UserMessage)
		return jobentity.Job{}, apiErr
	}

	return job, nil
}

func (u Usecase) failJob(jobID string, message string) {
	if err := u.registry.Fail(jobID, message); err != nil {
		cerr.Log(err)
	}
}

func saveUploadedFile(file *multipart.FileHeader, inputPath string) *api.Error {
	saveFailed := func(err error) *api.Error {
		return api.CommitError(
			cerr.Field("input_path", inputPath).
				Wrap(err).Error("Failed to save the uploaded file"),
			joberrors.FileSaveFailedCode,
			"Failed to save the uploaded file")
	}

	src, err := file.Open()
	if err != nil {
		return saveFailed(err)
	}
	defer src.Close()

	dst, err := os.Create(inputPath)
	if err != nil {
		return saveFailed(err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return saveFailed(err)
	}

	return nil
}

func isSoundCloudHost(host string) bool {
	host = strings.ToLower(host)
	return host == "soundcloud.com" || strings.HasSuffix(host, ".soundcloud.com")
}

func extensionForURLPath(urlPath string) string {
	switch strings.ToLower(filepath.Ext(urlPath)) {
	case ".wav":
		return ".wav"
	case ".flac":
		return ".flac"
	case ".ogg":
		return ".ogg"
	default:
		return ".mp3"
	}
}
