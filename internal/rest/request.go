package rest

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/WelcomerTeam/Tether/tetherjson"
)

// MultipartFile is a file uploaded alongside a request.
type MultipartFile struct {
	Reader      io.Reader
	Name        string
	ContentType string
}

// Request holds everything sent with a route. At most one of JSON and Body
// is used. When Files are present, JSON is sent as the payload_json field of
// a multipart form.
type Request struct {
	JSON        any
	Body        []byte
	ContentType string
	Files       []MultipartFile
	Query       url.Values
	Header      http.Header

	// Reason is recorded in the audit log for actions that support it.
	Reason string
}

type preparedFile struct {
	name        string
	contentType string
	data        []byte
}

// preparedBody is a request body that can be replayed on every attempt.
type preparedBody struct {
	data        []byte
	contentType string
	files       []preparedFile
	payloadJSON []byte
}

func prepareBody(req *Request) (*preparedBody, error) {
	body := &preparedBody{}

	if req == nil {
		return body, nil
	}

	if req.JSON != nil {
		data, err := tetherjson.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		body.data = data
		body.contentType = "application/json"
	} else if req.Body != nil {
		body.data = req.Body
		body.contentType = req.ContentType
	}

	if len(req.Files) == 0 {
		return body, nil
	}

	body.payloadJSON = body.data
	body.data = nil

	for _, file := range req.Files {
		data, err := io.ReadAll(file.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", file.Name, err)
		}

		body.files = append(body.files, preparedFile{
			name:        file.Name,
			contentType: file.ContentType,
			data:        data,
		})
	}

	return body, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// reader returns a fresh reader over the body and its content type.
func (b *preparedBody) reader() (io.Reader, string, error) {
	if len(b.files) == 0 {
		if b.data == nil {
			return nil, b.contentType, nil
		}

		return bytes.NewReader(b.data), b.contentType, nil
	}

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	if b.payloadJSON != nil {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="payload_json"`)
		header.Set("Content-Type", "application/json")

		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create payload_json part: %w", err)
		}

		_, _ = part.Write(b.payloadJSON)
	}

	for i, file := range b.files {
		contentType := file.contentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition",
			`form-data; name="files[`+strconv.Itoa(i)+`]"; filename="`+quoteEscaper.Replace(file.name)+`"`)
		header.Set("Content-Type", contentType)

		part, err := writer.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create file part: %w", err)
		}

		_, _ = part.Write(file.data)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// auditLogReason escapes a reason for the audit log header, leaving spaces
// and slashes readable.
func auditLogReason(reason string) string {
	escaped := url.PathEscape(reason)
	escaped = strings.ReplaceAll(escaped, "%20", " ")

	return strings.ReplaceAll(escaped, "%2F", "/")
}
