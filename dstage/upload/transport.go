package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"

	internal "github.com/ZanzyTHEbar/dataset-stager/dstage"
	"github.com/ZanzyTHEbar/dataset-stager/dstage/staging/types"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

// Transport sends one local file to an upload destination.
type Transport interface {
	Upload(ctx context.Context, dest *types.UploadDestination, path string) error
}

// HTTPTransport posts files as multipart forms to pre-signed destinations.
// Only the accept status counts as success.
type HTTPTransport struct {
	client       *http.Client
	acceptStatus int
	log          zerolog.Logger
}

// NewHTTPTransport creates a transport. A zero acceptStatus means 204.
func NewHTTPTransport(client *http.Client, acceptStatus int, log zerolog.Logger) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if acceptStatus == 0 {
		acceptStatus = internal.DefaultAcceptStatus
	}
	return &HTTPTransport{client: client, acceptStatus: acceptStatus, log: log}
}

// Upload posts path as the "file" part after the destination's form fields.
// The body length is computed up front; form-post targets reject chunked bodies.
func (t *HTTPTransport) Upload(ctx context.Context, dest *types.UploadDestination, path string) error {
	contentType, err := detectContentType(path)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	prefix, suffix, formType, err := formEnvelope(dest.Fields, filepath.Base(path), contentType)
	if err != nil {
		return fmt.Errorf("failed to build upload form: %w", err)
	}

	body := io.MultiReader(bytes.NewReader(prefix), io.LimitReader(f, info.Size()), bytes.NewReader(suffix))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, body)
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.ContentLength = int64(len(prefix)) + info.Size() + int64(len(suffix))
	req.Header.Set("Content-Type", formType)

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != t.acceptStatus {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload of %s rejected with status %d: %s", filepath.Base(path), resp.StatusCode, msg)
	}

	t.log.Debug().
		Str("archive", filepath.Base(path)).
		Int64("bytes", req.ContentLength).
		Int("status", resp.StatusCode).
		Msg("Archive uploaded")
	return nil
}

// formEnvelope renders everything around the file content: the sorted form
// fields and file part header before it, the closing boundary after it.
func formEnvelope(fields map[string]string, fileName, contentType string) (prefix, suffix []byte, formType string, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return nil, nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
	h.Set("Content-Type", contentType)
	if _, err := mw.CreatePart(h); err != nil {
		return nil, nil, "", err
	}
	prefix = bytes.Clone(buf.Bytes())

	buf.Reset()
	if err := mw.Close(); err != nil {
		return nil, nil, "", err
	}
	return prefix, bytes.Clone(buf.Bytes()), mw.FormDataContentType(), nil
}

func detectContentType(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to inspect %s: %w", path, err)
	}
	return mt.String(), nil
}
