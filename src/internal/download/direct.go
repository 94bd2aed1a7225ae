package download

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/apex/log"
	"github.com/musicviz/stem-split-be/src/lib/cerr"
)

// Overall wall clock budget for fetching one source file.
const DownloadTimeout = 300 * time.Second

const copyChunkSize = 8 * 1024

// Downloader fetches the raw audio bytes for a job to a local file.
type Downloader interface {
	Download(ctx context.Context, sourceURL string, outFilePath string) error
}

var _ Downloader = GenericDLer{}

// GenericDLer streams an arbitrary HTTP(S) URL to a local file.
// It never buffers the whole payload in memory. A partially written
// file may be left behind on failure - callers detect that with a
// size check rather than relying on cleanup.
type GenericDLer struct {
	client *http.Client
}

func NewGenericDLer() GenericDLer {
	return GenericDLer{
		client: &http.Client{Timeout: DownloadTimeout},
	}
}

func (g GenericDLer) Download(ctx context.Context, sourceURL string, outFilePath string) error {
	errctx := cerr.Field("source_url", sourceURL).Field("out_file_path", outFilePath)

	log.WithFields(log.Fields{
		"source_url":    sourceURL,
		"out_file_path": outFilePath,
	}).Info("Downloading source URL")

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return errctx.Wrap(err).Error("Failed to create download request")
	}

	response, err := g.client.Do(request)
	if err != nil {
		return errctx.Wrap(err).Error("Failed to fetch the source URL")
	}

	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return errctx.Field("status_code", response.StatusCode).
			Error("Source URL returned a non-200 response")
	}

	if err := WriteStreamToFile(response.Body, outFilePath); err != nil {
		return errctx.Wrap(err).Error("Failed to stream response body to file")
	}

	return nil
}

// WriteStreamToFile copies a response body to a local file in fixed
// size chunks. Shared between the generic downloader and the
// SoundCloud stream fetch.
func WriteStreamToFile(body io.Reader, outFilePath string) error {
	outFile, err := os.Create(outFilePath)
	if err != nil {
		return cerr.Field("out_file_path", outFilePath).
			Wrap(err).Error("Failed to create output file")
	}

	defer outFile.Close()

	buffer := make([]byte, copyChunkSize)
	if _, err := io.CopyBuffer(outFile, body, buffer); err != nil {
		return cerr.Field("out_file_path", outFilePath).
			Wrap(err).Error("Failed to write stream to output file")
	}

	return nil
}

// VerifyNonEmptyFile guards against downloads that "succeed" with
// nothing written - the boolean success of a download alone is not
// sufficient proof that usable audio landed on disk.
func VerifyNonEmptyFile(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return cerr.Field("file_path", filePath).
			Wrap(err).Error("Downloaded file does not exist")
	}

	if info.Size() == 0 {
		return cerr.Field("file_path", filePath).
			Error("Downloaded file is empty")
	}

	return nil
}
