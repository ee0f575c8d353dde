package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const defaultPageSize = 500

// Row is a flat backend record.
type Row = map[string]any

// ListParams are the query parameters shared by listing endpoints.
type ListParams struct {
	Status string
	Query  string
	Skip   int
	Limit  int
	Extra  url.Values
}

func (p ListParams) values() url.Values {
	values := url.Values{}
	for key, vals := range p.Extra {
		for _, v := range vals {
			values.Add(key, v)
		}
	}
	if status := strings.TrimSpace(p.Status); status != "" {
		values.Set("status", status)
	}
	if q := strings.TrimSpace(p.Query); q != "" {
		values.Set("q", q)
	}
	if p.Skip > 0 {
		values.Set("skip", strconv.Itoa(p.Skip))
	}
	if p.Limit > 0 {
		values.Set("limit", strconv.Itoa(p.Limit))
	}
	return values
}

// Page is one slice of a listing.
type Page struct {
	Items []Row `json:"items"`
	Total int   `json:"total"`
}

// List fetches one page of a resource collection.
func (c *Client) List(ctx context.Context, resource string, params ListParams) (Page, error) {
	path, err := resourcePath(resource)
	if err != nil {
		return Page{}, err
	}
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, params.values(), nil, &raw); err != nil {
		return Page{}, err
	}
	items, total, err := decodeCollection[Row](raw)
	if err != nil {
		return Page{}, fmt.Errorf("list %s: %w", resource, err)
	}
	return Page{Items: items, Total: total}, nil
}

// ListAll pages through a collection with skip/limit until a short page.
func (c *Client) ListAll(ctx context.Context, resource string, params ListParams) ([]Row, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	params.Limit = limit

	var rows []Row
	for {
		page, err := c.List(ctx, resource, params)
		if err != nil {
			return nil, err
		}
		rows = append(rows, page.Items...)
		if len(page.Items) < limit || (page.Total > 0 && len(rows) >= page.Total) {
			return rows, nil
		}
		params.Skip += len(page.Items)
	}
}

// Action posts to a resource action endpoint, e.g. "liquidaciones/periodos/7/cerrar".
// body may be nil.
func (c *Client) Action(ctx context.Context, path string, body any, out any) error {
	clean, err := resourcePath(path)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, clean, nil, body, out)
}

// UploadAttachment forwards a document for a record as multipart form data.
// The backend decides what the file means.
func (c *Client) UploadAttachment(ctx context.Context, resource, id, filename string, content io.Reader) (Row, error) {
	path, err := resourcePath(resource + "/" + id + "/documentos")
	if err != nil {
		return nil, err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("copy attachment: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil).String(), &body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.creds.authorize(req.Header)

	var out Row
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// resourcePath rejects empty or traversing segments so that caller-supplied
// resource names cannot escape the API root.
func resourcePath(resource string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(resource), "/")
	if trimmed == "" {
		return "", fmt.Errorf("empty resource path")
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("invalid resource path %q", resource)
		}
	}
	return trimmed, nil
}

// decodeCollection accepts a bare array or an {items|results, total} envelope.
func decodeCollection[T any](raw json.RawMessage) ([]T, int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, 0, nil
	}

	if trimmed[0] == '[' {
		var items []T
		if err := unmarshalNumbers(trimmed, &items); err != nil {
			return nil, 0, err
		}
		return items, len(items), nil
	}

	var envelope struct {
		Items   []T `json:"items"`
		Results []T `json:"results"`
		Total   int `json:"total"`
	}
	if err := unmarshalNumbers(trimmed, &envelope); err != nil {
		return nil, 0, err
	}
	items := envelope.Items
	if items == nil {
		items = envelope.Results
	}
	total := envelope.Total
	if total == 0 {
		total = len(items)
	}
	return items, total, nil
}

func unmarshalNumbers(data []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(target)
}
