package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strings"

	"github.com/franckalain/freshness/internal/logger"
	"github.com/franckalain/freshness/internal/media"
	"github.com/franckalain/freshness/internal/models"
	"github.com/franckalain/freshness/internal/selection"
)

// Multipart field names expected by /api/predict
const (
	ImageField   = "image"
	ProduceField = "fruit"
)

// The service only accepts these upload extensions
var allowedExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".webp": true}

// Endpoints are the service URLs derived from the base URL
type Endpoints struct {
	Health  string
	Items   string
	Predict string
}

// NewEndpoints builds the endpoint set. An empty base yields root-relative paths.
func NewEndpoints(base string) Endpoints {
	base = strings.TrimRight(base, "/")
	return Endpoints{
		Health:  base + "/api/health",
		Items:   base + "/api/items",
		Predict: base + "/api/predict",
	}
}

// Client talks to the freshness prediction service
type Client struct {
	endpoints Endpoints
	http      *http.Client
	log       logger.Logger
}

// NewClient creates a client for the service at baseURL.
// Request deadlines come from the caller's context.
func NewClient(baseURL string, httpClient *http.Client, log logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		endpoints: NewEndpoints(baseURL),
		http:      httpClient,
		log:       log,
	}
}

// Endpoints returns the URLs the client calls
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// Predict uploads the image and produce type and decodes the freshness report
func (c *Client) Predict(ctx context.Context, req selection.Request) (*models.Report, error) {
	if req.Image.IsZero() || req.Produce.IsZero() {
		return nil, selection.ErrIncomplete
	}

	body, contentType, err := encodePredict(req)
	if err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.Predict, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")

	c.log.Infof(ctx, "POST %s produce=%s image=%s (%d bytes)", c.endpoints.Predict, req.Produce.Value, req.Image.ID, len(req.Image.Data))

	data, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var out *models.PredictResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if out == nil {
		return nil, &DecodeError{Err: errors.New("empty response body")}
	}
	if !out.Success {
		return nil, &ApplicationError{Message: out.Error}
	}
	return &out.Report, nil
}

// Health calls GET /api/health
func (c *Client) Health(ctx context.Context) (*models.HealthResponse, error) {
	var out models.HealthResponse
	if err := c.getJSON(ctx, c.endpoints.Health, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Items calls GET /api/items
func (c *Client) Items(ctx context.Context) ([]models.Item, error) {
	var out models.ItemsResponse
	if err := c.getJSON(ctx, c.endpoints.Items, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	data, err := c.do(req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// do sends req and returns the body of a 2xx response
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warnf(req.Context(), "%s %s: %s", req.Method, req.URL.Path, resp.Status)
		return nil, &TransportError{StatusCode: resp.StatusCode, ServerMessage: serverMessage(data)}
	}
	return data, nil
}

// serverMessage extracts {"error": "..."} from an error body, if present
func serverMessage(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	return body.Error
}

func encodePredict(req selection.Request) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		ImageField, quoteEscaper.Replace(UploadName(req.Image))))
	h.Set("Content-Type", req.Image.MediaType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Image.Data); err != nil {
		return nil, "", err
	}
	if err := w.WriteField(ProduceField, req.Produce.Value); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// UploadName picks a filename the service will accept for img
func UploadName(img media.Image) string {
	name := filepath.Base(img.Name)
	ext := strings.ToLower(filepath.Ext(name))
	if img.Name != "" && allowedExtensions[ext] {
		return name
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))
	if img.Name == "" || base == "" || base == "." {
		base = img.Source.String()
	}
	detected := media.Extension(img.MediaType)
	if detected == "" {
		detected = ".jpg"
	}
	return base + detected
}
