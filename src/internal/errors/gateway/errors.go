package gateway

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/musicviz/stem-split-be/src/api_error"
	downloaderrors "github.com/musicviz/stem-split-be/src/internal/download/errors"
	"github.com/musicviz/stem-split-be/src/internal/errors/api"
	joberrors "github.com/musicviz/stem-split-be/src/internal/job/errors"
)

var httpStatusCodeMap = map[api.ErrorCode]int{
	api.DefaultErrorCode:                       http.StatusInternalServerError,
	joberrors.JobNotFoundCode:                  http.StatusNotFound,
	joberrors.InvalidAudioFileCode:             http.StatusBadRequest,
	joberrors.InvalidURLCode:                   http.StatusBadRequest,
	joberrors.FileSaveFailedCode:               http.StatusInternalServerError,
	joberrors.ServerBusyCode:                   http.StatusServiceUnavailable,
	downloaderrors.DownloadFailedCode:          http.StatusBadRequest,
	downloaderrors.SoundCloudNotConfiguredCode: http.StatusServiceUnavailable,
	downloaderrors.SoundCloudAuthFailedCode:    http.StatusUnauthorized,
	downloaderrors.SoundCloudNotFoundCode:      http.StatusNotFound,
	downloaderrors.SoundCloudForbiddenCode:     http.StatusForbidden,
	downloaderrors.SoundCloudNotPlayableCode:   http.StatusBadRequest,
	downloaderrors.SoundCloudResolveFailedCode: http.StatusBadRequest,
}

func ErrorResponse(c echo.Context, err *api.Error) error {
	statusCode, ok := httpStatusCodeMap[err.ErrorCode]
	if !ok {
		msg := fmt.Sprintf("Error code %s has no HTTP status code mapping", err.ErrorCode)
		panic(msg)
	}

	return c.JSON(statusCode, api_error.JSONAPIError{
		Code:         string(err.ErrorCode),
		Msg:          err.UserMessage,
		ErrorDetails: err.Error(),
	})
}
