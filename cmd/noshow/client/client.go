package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/SanteonNL/noshow/util"
)

const batchEndpoint = "/api/predict/batch"

// PredictionClient submits appointment files to a running prediction server.
type PredictionClient struct {
	BaseURI    string
	HTTPClient *http.Client
	log        zerolog.Logger
}

func NewPredictionClient(baseURI string, log zerolog.Logger) *PredictionClient {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil
	retryClient.HTTPClient = &http.Client{
		Timeout: 60 * time.Second,
	}

	return &PredictionClient{
		BaseURI:    baseURI,
		HTTPClient: retryClient.StandardClient(),
		log:        log.With().Str("component", "client").Logger(),
	}
}

// PredictBatch sends the CSV in body and returns the server's CSV with the
// Prediction column appended.
func (c *PredictionClient) PredictBatch(ctx context.Context, body []byte) ([]byte, error) {
	req, err := c.prepareRequest(ctx, http.MethodPost, batchEndpoint, body)
	if err != nil {
		return nil, err
	}
	return c.sendRequest(req)
}

// SubmitFile posts the CSV at inputPath and writes the predictions to
// outputPath.
func (c *PredictionClient) SubmitFile(ctx context.Context, inputPath, outputPath string) error {
	body, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", inputPath, err)
	}

	result, err := c.PredictBatch(ctx, body)
	if err != nil {
		return err
	}

	file, err := util.CreateFile(outputPath)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(result); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	c.log.Info().
		Str("input", inputPath).
		Str("output", outputPath).
		Int("bytes", len(result)).
		Msg("Wrote predictions")
	return nil
}

func (c *PredictionClient) prepareRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	uri, err := url.JoinPath(c.BaseURI, endpoint)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, uri, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "text/csv; charset=utf-8")
	req.Header.Set("Accept", "text/csv")
	return req, nil
}

func (c *PredictionClient) sendRequest(req *http.Request) ([]byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("status", resp.Status).
		Str("url", req.URL.String()).
		Msg("Received response")

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned error status %d: %s\nBody: %s",
			resp.StatusCode, resp.Status, string(bodyBytes))
	}

	if len(bodyBytes) == 0 {
		return nil, fmt.Errorf("received empty response from server for URL: %s", req.URL.String())
	}

	return bodyBytes, nil
}
