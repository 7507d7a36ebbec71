package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"time"
)

// Client handles HTTP communication with the archival service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the archival service. The token is sent as
// a bearer credential on every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

// LoginResponse represents a login response from the archival service.
type LoginResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a bearer token and stores it on the
// client.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("login failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var loginResp LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	c.token = loginResp.Token
	return nil
}

// UploadInstance uploads one measurement CSV for a trial that is in
// progress.
func (c *Client) UploadInstance(ctx context.Context, sessionID, studyID, taskID, measurementOptionID, factorID uint, csvPath string) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="input_csv"; filename="%s"`, filepath.Base(csvPath)))
	header.Set("Content-Type", "text/csv")
	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	f, err := os.Open(csvPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", csvPath, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write file data: %w", err)
	}
	f.Close()
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/save_session_data_instance/%d/%d/%d/%d/%d",
		c.baseURL, sessionID, studyID, taskID, measurementOptionID, factorID)
	return c.postMultipart(ctx, url, &buf, writer.FormDataContentType())
}

// UploadSessionPackage uploads a packaged session archive together with its
// result JSON so the service can ingest every trial artifact at once.
func (c *Client) UploadSessionPackage(ctx context.Context, zipPath string, resultJSON []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filepath.Base(zipPath))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	f, err := os.Open(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", zipPath, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write archive data: %w", err)
	}
	f.Close()
	if err := writer.WriteField("json", string(resultJSON)); err != nil {
		return fmt.Errorf("failed to write json field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return c.postMultipart(ctx, c.baseURL+"/api/v1/save_participant_session", &buf, writer.FormDataContentType())
}

func (c *Client) postMultipart(ctx context.Context, url string, body io.Reader, contentType string) error {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}
