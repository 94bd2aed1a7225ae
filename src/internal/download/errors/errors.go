package downloaderrors

import (
	"github.com/musicviz/stem-split-be/src/internal/errors/api"
)

const (
	DownloadFailedCode = api.ErrorCode("download_failed")

	SoundCloudNotConfiguredCode = api.ErrorCode("soundcloud_not_configured")
	SoundCloudAuthFailedCode    = api.ErrorCode("soundcloud_auth_failed")
	SoundCloudNotFoundCode      = api.ErrorCode("soundcloud_not_found")
	SoundCloudForbiddenCode     = api.ErrorCode("soundcloud_forbidden")
	SoundCloudNotPlayableCode   = api.ErrorCode("soundcloud_not_playable")
	SoundCloudResolveFailedCode = api.ErrorCode("soundcloud_resolve_failed")
)
