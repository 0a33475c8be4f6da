package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VerifyResult is the outcome of a face verification request.
type VerifyResult struct {
	StudentID  string  `json:"student_id"`
	Verified   bool    `json:"verified"`
	Confidence float64 `json:"confidence"`
}

// Client talks to the external face verification service. The whole flow is
// simulated: with Skip set (the default) no network call happens and every
// student verifies. Real matching lives outside this repository.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. skip short-circuits all calls.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // face processing can take time
		},
	}
}

// Verify asks the service to confirm the scanning student's face.
func (c *Client) Verify(ctx context.Context, studentID string) (VerifyResult, error) {
	if c.Skip {
		return VerifyResult{StudentID: studentID, Verified: true, Confidence: 1.0}, nil
	}

	body, err := json.Marshal(map[string]string{"student_id": studentID})
	if err != nil {
		return VerifyResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return VerifyResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return VerifyResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return VerifyResult{}, fmt.Errorf("face service returned %d: %s", resp.StatusCode, data)
	}

	var result VerifyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return VerifyResult{}, err
	}
	if result.StudentID == "" {
		result.StudentID = studentID
	}
	return result, nil
}

// Health pings the service.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("face service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
