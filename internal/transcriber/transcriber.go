// Package transcriber adapts the out-of-process speech-to-text engine to
// the Transcriber contract consumed by internal/transcriptionworker
// (spec.md §4.2: "invokes Transcriber.transcribe(bytes, language, model)").
package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/hearthline/voicegateway/internal/metrics"
)

// Client sends WAV frames to an HTTP transcription backend (e.g.
// whisper.cpp's server) and returns the decoded transcript.
type Client struct {
	url    string
	client *http.Client
}

// New creates a Client pointing at an HTTP transcription server. timeout
// bounds a single request; Transcribe also aborts the request when its ctx
// is cancelled.
func New(url string, timeout time.Duration, poolSize int) *Client {
	return &Client{
		url: url,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        poolSize,
				MaxIdleConnsPerHost: poolSize,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Transcribe uploads wavBytes as a multipart form and asks the backend to
// transcribe with the given language hint and model name. It implements
// transcriptionworker.Transcriber directly.
func (c *Client) Transcribe(ctx context.Context, wavBytes []byte, language, model string) (string, string, error) {
	start := time.Now()

	body, contentType, err := buildMultipart(wavBytes, language, model)
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/inference", body)
	if err != nil {
		return "", "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("transcriber", "http").Inc()
		return "", "", fmt.Errorf("transcriber request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		metrics.Errors.WithLabelValues("transcriber", "status").Inc()
		return "", "", fmt.Errorf("transcriber status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded response
	if err = json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		metrics.Errors.WithLabelValues("transcriber", "decode").Inc()
		return "", "", fmt.Errorf("decode transcriber response: %w", err)
	}

	metrics.StageDuration.WithLabelValues("transcription").Observe(time.Since(start).Seconds())

	lang := decoded.Language
	if lang == "" {
		lang = language
	}
	return decoded.Text, lang, nil
}

type response struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

func buildMultipart(wavBytes []byte, language, model string) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err = part.Write(wavBytes); err != nil {
		return nil, "", err
	}
	if err = w.WriteField("language", language); err != nil {
		return nil, "", err
	}
	if err = w.WriteField("model", model); err != nil {
		return nil, "", err
	}
	if err = w.Close(); err != nil {
		return nil, "", err
	}
	return &body, w.FormDataContentType(), nil
}
