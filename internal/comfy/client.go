// Package comfy implements the client side of a ComfyUI-compatible execution
// server: asset upload, prompt submission, the websocket completion wait, and
// output retrieval. Every call is synchronous; one Client carries one random
// session id so streamed events can be scoped to this process.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"comfybatch/internal/graph"
)

// DefaultTimeout bounds each network call and each streaming receive.
const DefaultTimeout = 120 * time.Second

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true, ".gif": true,
}

// Client talks to one execution server. Safe for sequential use; concurrent
// runs should each hold their own Client so session ids stay distinct.
type Client struct {
	baseURL  string
	http     *http.Client
	clientID string
	timeout  time.Duration
}

// New builds a client for the given base URL. A trailing slash and a legacy
// "/json" suffix are stripped. A non-positive timeout falls back to
// DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	baseURL = strings.TrimSuffix(baseURL, "/json")
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
		clientID: uuid.NewString(),
		timeout:  timeout,
	}
}

// BaseURL returns the normalized server base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ClientID returns the per-client session identifier sent with submissions
// and used to scope the event stream.
func (c *Client) ClientID() string { return c.clientID }

// UploadAsset posts a local file to the server's upload endpoint and returns
// the server-side asset name. The endpoint is chosen by file extension unless
// kind ("image" or "video") is given explicitly.
func (c *Client) UploadAsset(ctx context.Context, path string, kind string) (string, error) {
	kind = strings.Trim(strings.TrimSpace(kind), "/")
	if kind == "" {
		kind = guessUploadKind(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open input asset: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	// The server accepts every media kind under the field name "image".
	part, err := writer.CreateFormFile("image", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("build upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("read input asset %s: %w", path, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finish upload form: %w", err)
	}

	endpoint := c.baseURL + "/upload/" + kind
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	op := fmt.Sprintf("upload failed for %s", path)
	payload, err := c.do(req, op)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(payload, &parsed); err != nil || parsed.Name == "" {
		return "", protocolErr("upload", "response missing name for %s", path)
	}
	log.Printf("uploaded %s as %s", filepath.Base(path), parsed.Name)
	return parsed.Name, nil
}

func guessUploadKind(path string) string {
	if videoExtensions[strings.ToLower(filepath.Ext(path))] {
		return "video"
	}
	return "image"
}

// Submit queues a workflow document for execution and returns the prompt id.
func (c *Client) Submit(ctx context.Context, doc graph.Document) (string, error) {
	encoded, err := doc.Encode()
	if err != nil {
		return "", fmt.Errorf("encode workflow: %w", err)
	}
	payload, err := json.Marshal(map[string]any{
		"prompt":    json.RawMessage(encoded),
		"client_id": c.clientID,
	})
	if err != nil {
		return "", fmt.Errorf("encode prompt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req, "queue prompt failed")
	if err != nil {
		return "", err
	}
	var parsed struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.PromptID == "" {
		return "", protocolErr("queue prompt", "response missing prompt_id")
	}
	return parsed.PromptID, nil
}

// FetchHistory retrieves the execution record for one prompt id.
func (c *Client) FetchHistory(ctx context.Context, promptID string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req, "history fetch failed")
	if err != nil {
		return nil, err
	}
	var wrapper map[string]map[string]any
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, protocolErr("history fetch", "decode response: %v", err)
	}
	record, ok := wrapper[promptID]
	if !ok {
		return nil, protocolErr("history fetch", "history for prompt %s missing in response", promptID)
	}
	return record, nil
}

// Execute submits a document and blocks until the server reports completion,
// returning the prompt id and the execution history.
func (c *Client) Execute(ctx context.Context, doc graph.Document) (string, map[string]any, error) {
	promptID, err := c.Submit(ctx, doc)
	if err != nil {
		return "", nil, err
	}
	if err := c.AwaitCompletion(ctx, promptID, c.timeout); err != nil {
		return promptID, nil, err
	}
	history, err := c.FetchHistory(ctx, promptID)
	if err != nil {
		return promptID, nil, err
	}
	return promptID, history, nil
}

// OutputAsset is one downloaded execution artifact. Index is the item's
// position inside its bucket, preserved for filename reconstruction.
type OutputAsset struct {
	NodeID           string
	Bucket           string
	OriginalFilename string
	Index            int
	Data             []byte
}

// outputBuckets is the fixed set of history buckets the server may fill.
var outputBuckets = []string{"images", "files", "gifs", "videos", "audio"}

// CollectOutputs downloads every artifact listed in a history record.
func (c *Client) CollectOutputs(ctx context.Context, history map[string]any) ([]OutputAsset, error) {
	nodeOutputs, _ := history["outputs"].(map[string]any)
	var assets []OutputAsset
	for _, nodeID := range sortedKeys(nodeOutputs) {
		nodeData, ok := nodeOutputs[nodeID].(map[string]any)
		if !ok {
			continue
		}
		for _, bucket := range outputBuckets {
			items, ok := nodeData[bucket].([]any)
			if !ok {
				continue
			}
			for index, raw := range items {
				item, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				data, err := c.downloadItem(ctx, item)
				if err != nil {
					return nil, err
				}
				filename, _ := item["filename"].(string)
				if filename == "" {
					filename = fmt.Sprintf("%s_%d", bucket, index)
				}
				assets = append(assets, OutputAsset{
					NodeID:           nodeID,
					Bucket:           bucket,
					OriginalFilename: filepath.Base(filename),
					Index:            index,
					Data:             data,
				})
			}
		}
	}
	return assets, nil
}

func (c *Client) downloadItem(ctx context.Context, item map[string]any) ([]byte, error) {
	filename, _ := item["filename"].(string)
	subfolder, _ := item["subfolder"].(string)
	itemType, _ := item["type"].(string)
	if itemType == "" {
		itemType = "output"
	}

	params := url.Values{}
	params.Set("filename", filename)
	params.Set("subfolder", subfolder)
	params.Set("type", itemType)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, fmt.Sprintf("download failed for %s", filename))
}

// Ping probes the server over a few cheap endpoints and reports the first
// success. Used for connectivity checks before queueing a batch.
func (c *Client) Ping(ctx context.Context) error {
	var lastErr error
	for _, endpoint := range []string{"/system_stats", "/queue/status", ""} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
		if err != nil {
			return err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode < 300 {
			return nil
		}
		lastErr = &APIError{Op: "ping", Status: resp.StatusCode}
	}
	return fmt.Errorf("server unreachable: %w", lastErr)
}

// do runs a request, normalizing every non-2xx response into an *APIError
// carrying the operation context and best-effort decoded detail.
func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", op, err)
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{
			Op:     op,
			Status: resp.StatusCode,
			Detail: extractErrorDetail(resp.Header.Get("Content-Type"), body),
		}
	}
	return body, nil
}

func extractErrorDetail(contentType string, body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return ""
	}
	if strings.Contains(strings.ToLower(contentType), "application/json") {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err == nil {
			pretty, err := json.MarshalIndent(parsed, "", "  ")
			if err == nil {
				return truncate(string(pretty), 1000)
			}
		}
	}
	return truncate(text, 500)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
