package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"zaigate/internal/types"
)

// UploadFile stores a file with the upstream so a later chat request can
// reference it. The upstream names uploads itself; the returned handle is
// what goes into the message payload.
func (c *Client) UploadFile(ctx context.Context, data []byte, mimeType string) (types.FileHandle, error) {
	cred, err := c.pool.Acquire(ctx)
	if err != nil {
		return types.FileHandle{}, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+uuid.NewString()+`"`)
	hdr.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return types.FileHandle{}, err
	}
	if _, err := part.Write(data); err != nil {
		return types.FileHandle{}, err
	}
	if err := mw.Close(); err != nil {
		return types.FileHandle{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.FileUploadURL(), &buf)
	if err != nil {
		return types.FileHandle{}, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range c.fp.Headers("") {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return types.FileHandle{}, fmt.Errorf("file upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.FileHandle{}, err
	}
	if resp.StatusCode >= 400 {
		c.pool.ReportFailure(cred)
		return types.FileHandle{}, fmt.Errorf("file upload rejected: status %d: %s", resp.StatusCode, body)
	}
	c.pool.ReportSuccess(cred)

	h := types.FileHandle{
		ID:  gjson.GetBytes(body, "id").String(),
		URL: gjson.GetBytes(body, "meta.content_url").String(),
	}
	if h.URL == "" {
		h.URL = gjson.GetBytes(body, "url").String()
	}
	if h.ID == "" {
		return types.FileHandle{}, fmt.Errorf("file upload response carries no id: %s", body)
	}
	return h, nil
}
