package webhook

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/wecom-scheduler/internal/model"
)

var (
	// ErrFileNotFound is returned when a message's source file is absent
	ErrFileNotFound = errors.New("message file not found")

	// ErrUploadFailed is returned when the media upload step yields no usable id
	ErrUploadFailed = errors.New("media upload failed")
)

// Response is the destination's reply to a send. ErrCode 0 means delivered.
type Response struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Article is a single entry of a news message
type Article struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	PicURL      string `json:"picurl,omitempty"`
}

// DispatchResult captures a single delivery outcome as data. A rejected or
// unreachable destination is a failed result, never an error propagated to
// the poller.
type DispatchResult struct {
	Success bool   `json:"success"`
	ErrCode int    `json:"errcode,omitempty"`
	Message string `json:"message"`
}

// Client sends messages to WeCom group robot webhooks
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// NewClient creates a webhook client with a bounded request timeout
func NewClient(logger *zap.Logger, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		logger: logger.Named("webhook"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Dispatch delivers a task's message to its webhook destination. Unknown
// message types degrade to text with the task's content.
func (c *Client) Dispatch(ctx context.Context, task *model.Task) DispatchResult {
	var resp *Response
	var err error

	switch task.MessageType {
	case model.MessageTypeText:
		resp, err = c.Text(ctx, task.WebhookURL, task.MessageContent)
	case model.MessageTypeMarkdown:
		resp, err = c.Markdown(ctx, task.WebhookURL, task.MessageContent)
	case model.MessageTypeImage:
		resp, err = c.Image(ctx, task.WebhookURL, task.FilePath)
	case model.MessageTypeFile:
		resp, err = c.File(ctx, task.WebhookURL, task.FilePath)
	default:
		c.logger.Warn("Unknown message type, sending as text",
			zap.Int64("task_id", task.ID),
			zap.String("message_type", string(task.MessageType)))
		resp, err = c.Text(ctx, task.WebhookURL, task.MessageContent)
	}

	if err != nil {
		return DispatchResult{Success: false, Message: err.Error()}
	}
	if resp.ErrCode != 0 {
		return DispatchResult{Success: false, ErrCode: resp.ErrCode, Message: resp.ErrMsg}
	}
	return DispatchResult{Success: true, Message: "ok"}
}

// Text sends a plain text message
func (c *Client) Text(ctx context.Context, webhookURL, content string) (*Response, error) {
	payload := map[string]interface{}{
		"msgtype": "text",
		"text": map[string]interface{}{
			"content":               content,
			"mentioned_list":        []string{},
			"mentioned_mobile_list": []string{},
		},
	}
	return c.post(ctx, webhookURL, payload)
}

// Markdown sends a markdown message
func (c *Client) Markdown(ctx context.Context, webhookURL, content string) (*Response, error) {
	payload := map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"content": content,
		},
	}
	return c.post(ctx, webhookURL, payload)
}

// News sends a news message composed of one or more linked articles
func (c *Client) News(ctx context.Context, webhookURL string, articles []Article) (*Response, error) {
	payload := map[string]interface{}{
		"msgtype": "news",
		"news": map[string]interface{}{
			"articles": articles,
		},
	}
	return c.post(ctx, webhookURL, payload)
}

// Image reads the image at imagePath and sends it inline, base64 encoded and
// tagged with its md5 checksum.
func (c *Client) Image(ctx context.Context, webhookURL, imagePath string) (*Response, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, imagePath)
		}
		return nil, fmt.Errorf("failed to read image %s: %w", imagePath, err)
	}

	sum := md5.Sum(data)
	payload := map[string]interface{}{
		"msgtype": "image",
		"image": map[string]string{
			"base64": base64.StdEncoding.EncodeToString(data),
			"md5":    hex.EncodeToString(sum[:]),
		},
	}
	return c.post(ctx, webhookURL, payload)
}

// File uploads the file at filePath to the destination's media endpoint and
// then sends the resulting media id. An upload failure short-circuits the
// send step.
func (c *Client) File(ctx context.Context, webhookURL, filePath string) (*Response, error) {
	mediaID, err := c.UploadMedia(ctx, webhookURL, filePath)
	if err != nil {
		return nil, err
	}
	return c.Media(ctx, webhookURL, mediaID)
}

// Media sends a file message referencing an already-uploaded media id
func (c *Client) Media(ctx context.Context, webhookURL, mediaID string) (*Response, error) {
	payload := map[string]interface{}{
		"msgtype": "file",
		"file": map[string]string{
			"media_id": mediaID,
		},
	}
	return c.post(ctx, webhookURL, payload)
}

// UploadMedia uploads the raw file bytes to the upload endpoint derived from
// the webhook URL and returns the media id reported by the destination.
func (c *Client) UploadMedia(ctx context.Context, webhookURL, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, filePath)
		}
		return "", fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	uploadURL, err := UploadURL(webhookURL)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("media", filepath.Base(filePath))
	if err != nil {
		return "", fmt.Errorf("failed to create multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	var uploaded struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
		MediaID string `json:"media_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if uploaded.MediaID == "" {
		if uploaded.ErrMsg != "" {
			return "", fmt.Errorf("%w: %s", ErrUploadFailed, uploaded.ErrMsg)
		}
		return "", ErrUploadFailed
	}
	return uploaded.MediaID, nil
}

// UploadURL derives the media upload endpoint from a send webhook URL by
// replacing the terminal path segment and requesting the file media type.
func UploadURL(webhookURL string) (string, error) {
	u, err := url.Parse(webhookURL)
	if err != nil {
		return "", fmt.Errorf("invalid webhook URL %q: %w", webhookURL, err)
	}
	u.Path = path.Join(path.Dir(u.Path), "upload_media")

	query := u.Query()
	query.Set("type", "file")
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (c *Client) post(ctx context.Context, webhookURL string, payload interface{}) (*Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}
