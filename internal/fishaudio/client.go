// Package fishaudio is a client for the Fish Audio voice cloning and
// text-to-speech API.
//
// Voice cloning is asynchronous on the vendor side. The client never waits
// for training; callers poll GetModel or use Synthesize, which checks the
// model state before generating.
package fishaudio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/wolfeidau/whopvoice/internal/client"
	"github.com/wolfeidau/whopvoice/internal/util"
)

const (
	// DefaultBaseURL is the production API endpoint.
	DefaultBaseURL = "https://api.fish.audio"

	// DefaultTTSModel is sent in the "model" header of speech requests.
	DefaultTTSModel = "s1"

	defaultTimeout = 60 * time.Second

	// maxErrorBody caps how much of an error response is kept in APIError.
	maxErrorBody = 512
)

// Client talks to Fish Audio.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	ttsModel   string
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client. The client is responsible for authentication.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit limits speech generation to r requests per second with the given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(r, burst)
	}
}

// WithTTSModel overrides the speech model header.
func WithTTSModel(model string) Option {
	return func(c *Client) {
		c.ttsModel = model
	}
}

// New creates a client authenticating with apiKey.
func New(apiKey string, opts ...Option) *Client {
	cfg := client.DefaultConfig()
	cfg.Token = apiKey
	cfg.Timeout = defaultTimeout

	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: client.New(cfg),
		limiter:    rate.NewLimiter(rate.Inf, 0),
		ttsModel:   DefaultTTSModel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateModel uploads a voice sample and starts training a private model.
func (c *Client) CreateModel(ctx context.Context, req CreateModelRequest) (*Model, error) {
	if len(req.Sample) == 0 {
		return nil, fmt.Errorf("voice sample is empty")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := [][2]string{
		{"type", "tts"},
		{"title", req.Title},
		{"train_mode", "fast"},
		{"visibility", "private"},
	}
	if req.Description != "" {
		fields = append(fields, [2]string{"description", req.Description})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("failed to write form field %s: %w", f[0], err)
		}
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "audio/wav"
	}
	fileName := req.FileName
	if fileName == "" {
		fileName = "sample.wav"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="voices"; filename=%q`, fileName))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice part: %w", err)
	}
	if _, err := part.Write(req.Sample); err != nil {
		return nil, fmt.Errorf("failed to write voice sample: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	var model Model
	if err := c.do(ctx, http.MethodPost, "/model", nil, mw.FormDataContentType(), &body, nil, &model); err != nil {
		return nil, err
	}

	log.Ctx(ctx).Info().Str("model_id", model.ID).Str("state", string(model.State)).Msg("Voice model created")

	return &model, nil
}

// GetModel returns the current state of a model.
func (c *Client) GetModel(ctx context.Context, modelID string) (*Model, error) {
	var model Model
	if err := c.do(ctx, http.MethodGet, "/model/"+url.PathEscape(modelID), nil, "", nil, nil, &model); err != nil {
		return nil, err
	}
	if !model.State.Valid() {
		return nil, fmt.Errorf("fish audio returned unknown model state %q", model.State)
	}
	return &model, nil
}

// ListModels returns a page of models.
func (c *Client) ListModels(ctx context.Context, opts ListModelsOptions) (*ModelList, error) {
	q := url.Values{}
	if opts.Self {
		q.Set("self", "true")
	}
	if opts.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(opts.PageSize))
	}
	if opts.PageNumber > 0 {
		q.Set("page_number", strconv.Itoa(opts.PageNumber))
	}

	var list ModelList
	if err := c.do(ctx, http.MethodGet, "/model", q, "", nil, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// DeleteModel removes a model.
func (c *Client) DeleteModel(ctx context.Context, modelID string) error {
	return c.do(ctx, http.MethodDelete, "/model/"+url.PathEscape(modelID), nil, "", nil, nil, nil)
}

// GenerateSpeech synthesizes text with a trained model. It does not check the
// model state; the vendor rejects untrained models.
func (c *Client) GenerateSpeech(ctx context.Context, text, modelID string, format Format) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if format == "" {
		format = FormatMP3
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	payload, err := json.Marshal(ttsRequest{
		Text:        text,
		ReferenceID: modelID,
		Format:      format,
		Normalize:   true,
		Latency:     "normal",
		Prosody:     prosody{Speed: 1.1, Volume: 0},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	log.Ctx(ctx).Debug().
		Str("model_id", modelID).
		Str("text", util.Truncate(text, 100)).
		Msg("Generating speech")

	var audio bytes.Buffer
	headers := http.Header{"Model": []string{c.ttsModel}}
	if err := c.do(ctx, http.MethodPost, "/v1/tts", nil, "application/json", bytes.NewReader(payload), headers, &audio); err != nil {
		return nil, err
	}

	return audio.Bytes(), nil
}

// Synthesize checks that the model is trained before generating speech.
// Untrained models yield ErrModelNotReady, failed training ErrModelFailed.
func (c *Client) Synthesize(ctx context.Context, text, modelID string, format Format) ([]byte, error) {
	model, err := c.GetModel(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("failed to check voice model: %w", err)
	}

	switch model.State {
	case ModelTrained:
	case ModelFailed:
		return nil, fmt.Errorf("%w: model %s", ErrModelFailed, modelID)
	default:
		return nil, fmt.Errorf("%w: model %s is %s, try again in a few minutes", ErrModelNotReady, modelID, model.State)
	}

	return c.GenerateSpeech(ctx, text, modelID, format)
}

// do performs a request. When out is a *bytes.Buffer the raw body is copied
// into it, otherwise a JSON body is decoded into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader, headers http.Header, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header[k] = v
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fish audio request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
		log.Ctx(ctx).Warn().
			Int("status", resp.StatusCode).
			Str("method", method).
			Str("path", path).
			Str("body", apiErr.Message).
			Msg("Fish Audio API error")
		return apiErr
	}

	switch dst := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		if _, err := io.Copy(dst, resp.Body); err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		return nil
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}
}
