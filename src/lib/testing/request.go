package testlib

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/onsi/gomega"
)

type RequestFactory struct {
	Method  string
	Target  string
	JSONObj interface{}
}

func (r RequestFactory) MakeFake() *http.Request {
	var body io.Reader

	if r.JSONObj != nil {
		buf := &bytes.Buffer{}
		err := json.NewEncoder(buf).Encode(r.JSONObj)
		gomega.ExpectWithOffset(1, err).NotTo(gomega.HaveOccurred())

		body = buf
	}

	request := httptest.NewRequest(r.Method, r.Target, body)

	if body != nil {
		request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}

	return request
}

// MakeMultipartRequest builds an upload request with a single file
// part carrying the given content type and payload.
func MakeMultipartRequest(target string, fileName string, contentType string, data []byte) *http.Request {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	gomega.ExpectWithOffset(1, err).NotTo(gomega.HaveOccurred())

	_, err = part.Write(data)
	gomega.ExpectWithOffset(1, err).NotTo(gomega.HaveOccurred())

	err = writer.Close()
	gomega.ExpectWithOffset(1, err).NotTo(gomega.HaveOccurred())

	request := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(buf.Bytes()))
	request.Header.Set(echo.HeaderContentType, writer.FormDataContentType())

	return request
}

// SetTestEnv makes env.Get resolve to the test environment.
func SetTestEnv() {
	gomega.ExpectWithOffset(1, os.Setenv("ENVIRONMENT", "test")).To(gomega.Succeed())
}
