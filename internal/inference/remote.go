package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go-medscan/internal/imaging"
)

const remoteAttempts = 3

type remoteRequest struct {
	Image []float32 `json:"image"`
}

type remoteResponse struct {
	Class       string             `json:"class"`
	Confidence  float64            `json:"confidence"`
	Predictions map[string]float64 `json:"predictions"`
}

// RemoteModel delegates inference to an HTTP model server that accepts a CHW
// float array and answers with per-class predictions.
type RemoteModel struct {
	url     string
	client  *http.Client
	meta    Metadata
	backoff time.Duration
}

// NewRemoteModel creates a client for the inference server at url. labels fixes the
// order of the returned distribution.
func NewRemoteModel(url string, labels []string) *RemoteModel {
	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	meta := DefaultMetadata()
	meta.Labels = append([]string(nil), labels...)
	return &RemoteModel{
		url: url,
		client: &http.Client{
			Transport: transport,
			Timeout:   60 * time.Second,
		},
		meta:    meta,
		backoff: time.Second,
	}
}

func (m *RemoteModel) Metadata() Metadata {
	return m.meta
}

func (m *RemoteModel) Infer(ctx context.Context, buf *imaging.ImageBuffer) (Distribution, error) {
	body, err := json.Marshal(remoteRequest{Image: buf.CHW()})
	if err != nil {
		return Distribution{}, fmt.Errorf("marshal request: %w", err)
	}

	// Retry logic (3 attempts) - only retry on transient errors
	var lastErr error
	for attempt := 0; attempt < remoteAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Distribution{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * m.backoff):
			}
		}

		resp, retryable, err := m.post(ctx, body)
		if err == nil {
			return m.toDistribution(resp)
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return Distribution{}, fmt.Errorf("remote inference failed after %d attempts: %w", remoteAttempts, lastErr)
}

// post performs one request. The bool reports whether a failure may be retried.
func (m *RemoteModel) post(ctx context.Context, body []byte) (*remoteResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Go-Medscan/1.0")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("server error: status code %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("client error: status code %d", resp.StatusCode)
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}
	return &out, false, nil
}

// toDistribution reorders predictions into the declared label order.
func (m *RemoteModel) toDistribution(resp *remoteResponse) (Distribution, error) {
	probs := make([]float64, len(m.meta.Labels))
	for i, label := range m.meta.Labels {
		p, ok := resp.Predictions[label]
		if !ok {
			return Distribution{}, fmt.Errorf("%w: response is missing class %q", ErrInvalidDistribution, label)
		}
		probs[i] = p
	}
	if !isDistribution(probs) {
		probs = Softmax(probs)
	} else {
		probs = normalize(probs)
	}
	return NewDistribution(m.meta.Labels, probs)
}

func (m *RemoteModel) Close() error {
	m.client.CloseIdleConnections()
	return nil
}
