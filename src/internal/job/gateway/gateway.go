package jobgateway

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/musicviz/stem-split-be/src/internal/errors/api"
	"github.com/musicviz/stem-split-be/src/internal/errors/gateway"
	jobentity "github.com/musicviz/stem-split-be/src/internal/job/entity"
	joberrors "github.com/musicviz/stem-split-be/src/internal/job/errors"
	jobusecase "github.com/musicviz/stem-split-be/src/internal/job/usecase"
	"github.com/musicviz/stem-split-be/src/lib/cerr"
)

type SeparationResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type URLRequest struct {
	URL string `json:"url"`
}

type StatusResponse struct {
	JobID    string            `json:"job_id"`
	Status   string            `json:"status"`
	Progress float64           `json:"progress"`
	Stems    map[string]string `json:"stems,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type CancelResponse struct {
	Message string `json:"message"`
}

type Gateway struct {
	usecase jobusecase.Usecase
}

func NewGateway(usecase jobusecase.Usecase) Gateway {
	return Gateway{
		usecase: usecase,
	}
}

// Separate accepts a multipart audio upload and starts a separation
// job for it.
func (g Gateway) Separate(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		apiErr := api.CommitError(
			cerr.Wrap(err).Error("Request has no usable file part"),
			joberrors.InvalidAudioFileCode,
			"Expected a multipart upload with a 'file' part")
		return gateway.ErrorResponse(c, apiErr)
	}

	job, apiErr := g.usecase.CreateUploadJob(file)
	if apiErr != nil {
		return gateway.ErrorResponse(c, apiErr)
	}

	return c.JSON(http.StatusOK, SeparationResponse{
		JobID:   job.ID,
		Status:  string(jobentity.ProcessingStatus),
		Message: "Audio separation started. Poll /api/status/{job_id} for progress",
	})
}

// SeparateURL accepts a source URL and starts a separation job for it.
// Acquisition runs in the background; poll the status endpoint.
func (g Gateway) SeparateURL(c echo.Context) error {
	request := URLRequest{}
	if err := c.Bind(&request); err != nil {
		apiErr := api.CommitError(
			cerr.Wrap(err).Error("Failed to bind request body to a URL request"),
			joberrors.InvalidURLCode,
			"Invalid URL")
		return gateway.ErrorResponse(c, apiErr)
	}

	job, apiErr := g.usecase.CreateURLJob(request.URL)
	if apiErr != nil {
		return gateway.ErrorResponse(c, apiErr)
	}

	return c.JSON(http.StatusOK, SeparationResponse{
		JobID:   job.ID,
		Status:  string(jobentity.ProcessingStatus),
		Message: "Audio download started. Poll /api/status/{job_id} for progress",
	})
}

// Status reports a job's current state, including stem URLs once the
// job has completed.
func (g Gateway) Status(c echo.Context, jobID string) error {
	job, apiErr := g.usecase.Status(jobID)
	if apiErr != nil {
		return gateway.ErrorResponse(c, apiErr)
	}

	response := StatusResponse{
		JobID:    job.ID,
		Status:   string(job.Status),
		Progress: job.Progress,
		Error:    job.Error,
	}

	if job.Status == jobentity.CompletedStatus && len(job.Stems) > 0 {
		response.Stems = map[string]string{}
		for _, stem := range job.Stems {
			response.Stems[stem] = fmt.Sprintf("/stems/%s/%s.wav", job.ID, stem)
		}
	}

	return c.JSON(http.StatusOK, response)
}

// Cancel cancels a job and cleans up its output files.
func (g Gateway) Cancel(c echo.Context, jobID string) error {
	if apiErr := g.usecase.Cancel(jobID); apiErr != nil {
		return gateway.ErrorResponse(c, apiErr)
	}

	return c.JSON(http.StatusOK, CancelResponse{
		Message: fmt.Sprintf("Job %s cancelled", jobID),
	})
}
