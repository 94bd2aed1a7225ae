package joberrors

import (
	"github.com/musicviz/stem-split-be/src/internal/errors/api"
)

const (
	JobNotFoundCode      = api.ErrorCode("job_not_found")
	InvalidAudioFileCode = api.ErrorCode("invalid_audio_file")
	InvalidURLCode       = api.ErrorCode("invalid_url")
	FileSaveFailedCode   = api.ErrorCode("file_save_failed")
	ServerBusyCode       = api.ErrorCode("server_busy")
)
