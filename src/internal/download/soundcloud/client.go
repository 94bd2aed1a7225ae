package soundcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/apex/log"
	"github.com/musicviz/stem-split-be/src/internal/download"
	downloaderrors "github.com/musicviz/stem-split-be/src/internal/download/errors"
	"github.com/musicviz/stem-split-be/src/internal/errors/api"
	"github.com/musicviz/stem-split-be/src/lib/cerr"
)

const DefaultAPIHost = "https://api.soundcloud.com"

const apiCallTimeout = 15 * time.Second

const notConfiguredMessage = "SoundCloud support is not configured on this server"

// Track is the resolved descriptor for a SoundCloud URL. Only singular,
// playable tracks may proceed to the stream fetch.
type Track struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	Access    string `json:"access"`
	StreamURL string `json:"stream_url"`
}

// streamVariants is the secondary lookup result, ranked by preference.
type streamVariants struct {
	HTTPMP3URL    string `json:"http_mp3_128_url"`
	HLSMP3URL     string `json:"hls_mp3_128_url"`
	PreviewMP3URL string `json:"preview_mp3_128_url"`
}

func (s streamVariants) best() string {
	switch {
	case s.HTTPMP3URL != "":
		return s.HTTPMP3URL
	case s.HLSMP3URL != "":
		return s.HLSMP3URL
	case s.PreviewMP3URL != "":
		return s.PreviewMP3URL
	default:
		return ""
	}
}

// Client resolves SoundCloud track URLs and downloads their streams
// using the app level client credentials token.
type Client struct {
	apiHost      string
	tokens       *TokenCache
	apiClient    *http.Client
	streamClient *http.Client
}

func NewClient(tokens *TokenCache, apiHost string) *Client {
	if apiHost == "" {
		apiHost = DefaultAPIHost
	}

	return &Client{
		apiHost:      apiHost,
		tokens:       tokens,
		apiClient:    &http.Client{Timeout: apiCallTimeout},
		streamClient: &http.Client{Timeout: download.DownloadTimeout},
	}
}

func (c *Client) Configured() bool {
	return c.tokens.Configured()
}

// NotConfiguredError is the synchronous request-path error for servers
// running without SoundCloud credentials.
func (c *Client) NotConfiguredError() *api.Error {
	return api.CommitError(
		cerr.Error("SoundCloud credentials are not present in the environment"),
		downloaderrors.SoundCloudNotConfiguredCode,
		notConfiguredMessage)
}

// Download resolves a SoundCloud URL to a playable track and streams
// its audio to outFilePath.
func (c *Client) Download(ctx context.Context, soundcloudURL string, outFilePath string) *api.Error {
	if !c.Configured() {
		return c.NotConfiguredError()
	}

	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return api.CommitError(
			cerr.Wrap(err).Error("Failed to obtain a SoundCloud token"),
			downloaderrors.SoundCloudAuthFailedCode,
			"SoundCloud authentication failed. Check the configured credentials")
	}

	track, apiErr := c.resolve(ctx, token, soundcloudURL)
	if apiErr != nil {
		return apiErr
	}

	if apiErr := validatePlayable(track); apiErr != nil {
		return apiErr
	}

	streamURL, apiErr := c.streamLocation(ctx, token, track)
	if apiErr != nil {
		return apiErr
	}

	return c.streamToFile(ctx, token, streamURL, outFilePath)
}

func (c *Client) resolve(ctx context.Context, token string, soundcloudURL string) (Track, *api.Error) {
	errctx := cerr.Field("soundcloud_url", soundcloudURL)

	resolveURL := fmt.Sprintf("%s/resolve?url=%s", c.apiHost, url.QueryEscape(soundcloudURL))

	response, err := c.apiGet(ctx, token, resolveURL)
	if err != nil {
		return Track{}, api.CommitError(
			errctx.Wrap(err).Error("Failed to call the resolve endpoint"),
			downloaderrors.SoundCloudResolveFailedCode,
			"Failed to resolve the SoundCloud URL")
	}

	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		// fall through to decoding

	case http.StatusUnauthorized:
		c.tokens.Evict()
		return Track{}, api.CommitError(
			errctx.Error("Resolve endpoint rejected the token"),
			downloaderrors.SoundCloudAuthFailedCode,
			"SoundCloud authentication failed. Check the configured credentials")

	case http.StatusNotFound:
		return Track{}, api.CommitError(
			errctx.Error("Resolve endpoint could not find the URL"),
			downloaderrors.SoundCloudNotFoundCode,
			"SoundCloud URL not found")

	case http.StatusForbidden:
		return Track{}, api.CommitError(
			errctx.Error("Resolve endpoint denied access to the URL"),
			downloaderrors.SoundCloudForbiddenCode,
			"Access to this SoundCloud resource is forbidden")

	default:
		return Track{}, api.CommitError(
			errctx.Field("status_code", response.StatusCode).
				Error("Resolve endpoint returned an unexpected status"),
			downloaderrors.SoundCloudResolveFailedCode,
			fmt.Sprintf("SoundCloud resolve failed with status %d", response.StatusCode))
	}

	track := Track{}
	if err := json.NewDecoder(response.Body).Decode(&track); err != nil {
		return Track{}, api.CommitError(
			errctx.Wrap(err).Error("Failed to decode the resolve response"),
			downloaderrors.SoundCloudResolveFailedCode,
			"SoundCloud returned an unreadable resolve response")
	}

	return track, nil
}

func validatePlayable(track Track) *api.Error {
	errctx := cerr.Field("track_id", track.ID).
		Field("kind", track.Kind).
		Field("access", track.Access)

	if track.Kind != "track" {
		return api.CommitError(
			errctx.Error("Resolved resource is not a singular track"),
			downloaderrors.SoundCloudNotPlayableCode,
			"Only single track URLs are supported. Playlists and user pages are not supported")
	}

	switch track.Access {
	case "playable":
		return nil

	case "blocked":
		return api.CommitError(
			errctx.Error("Track access is blocked"),
			downloaderrors.SoundCloudNotPlayableCode,
			"This track is not available for streaming")

	case "preview":
		return api.CommitError(
			errctx.Error("Track access is preview-only"),
			downloaderrors.SoundCloudNotPlayableCode,
			"Only full playable tracks are supported. This track has preview-only access")

	default:
		return api.CommitError(
			errctx.Error("Track access is not playable"),
			downloaderrors.SoundCloudNotPlayableCode,
			fmt.Sprintf("This track is not streamable (access: %s)", track.Access))
	}
}

func (c *Client) streamLocation(ctx context.Context, token string, track Track) (string, *api.Error) {
	if track.StreamURL != "" {
		return track.StreamURL, nil
	}

	errctx := cerr.Field("track_id", track.ID)

	if track.ID == 0 {
		return "", api.CommitError(
			errctx.Error("Resolve response carried neither a stream URL nor a track id"),
			downloaderrors.SoundCloudResolveFailedCode,
			"No stream URL available for this track")
	}

	log.WithField("track_id", track.ID).
		Info("Track has no direct stream URL, falling back to the streams lookup")

	streamsURL := fmt.Sprintf("%s/tracks/%d/streams", c.apiHost, track.ID)

	response, err := c.apiGet(ctx, token, streamsURL)
	if err != nil {
		return "", api.CommitError(
			errctx.Wrap(err).Error("Failed to call the streams endpoint"),
			downloaderrors.SoundCloudResolveFailedCode,
			"Failed to look up a stream for this track")
	}

	defer response.Body.Close()

	if response.StatusCode == http.StatusOK {
		variants := streamVariants{}
		if err := json.NewDecoder(response.Body).Decode(&variants); err == nil {
			if best := variants.best(); best != "" {
				return best, nil
			}
		}
	}

	return "", api.CommitError(
		errctx.Field("status_code", response.StatusCode).
			Error("No stream variant available for this track"),
		downloaderrors.SoundCloudResolveFailedCode,
		"No stream URL available for this track")
}

func (c *Client) streamToFile(ctx context.Context, token string, streamURL string, outFilePath string) *api.Error {
	errctx := cerr.Field("out_file_path", outFilePath)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return api.CommitError(
			errctx.Wrap(err).Error("Failed to create the stream request"),
			downloaderrors.DownloadFailedCode,
			"Failed to download the track stream")
	}

	setAuthHeaders(request, token)

	response, err := c.streamClient.Do(request)
	if err != nil {
		return api.CommitError(
			errctx.Wrap(err).Error("Failed to fetch the track stream"),
			downloaderrors.DownloadFailedCode,
			"Failed to download the track stream")
	}

	defer response.Body.Close()

	if response.StatusCode == http.StatusUnauthorized {
		c.tokens.Evict()
		return api.CommitError(
			errctx.Error("Stream endpoint rejected the token"),
			downloaderrors.SoundCloudAuthFailedCode,
			"SoundCloud stream authentication failed")
	}

	if response.StatusCode != http.StatusOK {
		return api.CommitError(
			errctx.Field("status_code", response.StatusCode).
				Error("Stream endpoint returned an unexpected status"),
			downloaderrors.DownloadFailedCode,
			fmt.Sprintf("Failed to download stream: status %d", response.StatusCode))
	}

	if err := download.WriteStreamToFile(response.Body, outFilePath); err != nil {
		return api.CommitError(
			errctx.Wrap(err).Error("Failed to write the stream to disk"),
			downloaderrors.DownloadFailedCode,
			"Failed to save the track stream to disk")
	}

	return nil
}

func (c *Client) apiGet(ctx context.Context, token string, callURL string) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, callURL, nil)
	if err != nil {
		return nil, cerr.Field("call_url", callURL).
			Wrap(err).Error("Failed to create API request")
	}

	setAuthHeaders(request, token)

	return c.apiClient.Do(request)
}

func setAuthHeaders(request *http.Request, token string) {
	request.Header.Set("Accept", "application/json; charset=utf-8")
	request.Header.Set("Authorization", "OAuth "+token)
}
