package comfy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"comfybatch/internal/graph"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second), srv
}

func TestNewNormalizesBaseURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"http://localhost:8189/", "http://localhost:8189"},
		{"http://localhost:8189/json", "http://localhost:8189"},
		{"  http://localhost:8189/json/  ", "http://localhost:8189"},
	}
	for _, tc := range cases {
		if got := New(tc.in, 0).BaseURL(); got != tc.want {
			t.Errorf("New(%q).BaseURL() = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestUploadAsset(t *testing.T) {
	var gotEndpoint, gotField, gotFilename string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEndpoint = r.URL.Path
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("FormFile(image) error = %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		file.Close()
		gotField = "image"
		gotFilename = header.Filename
		json.NewEncoder(w).Encode(map[string]string{"name": "stored_" + header.Filename})
	}))

	dir := t.TempDir()
	path := filepath.Join(dir, "frame.mp4")
	if err := os.WriteFile(path, []byte("clipdata"), 0o644); err != nil {
		t.Fatal(err)
	}

	name, err := client.UploadAsset(context.Background(), path, "")
	if err != nil {
		t.Fatalf("UploadAsset() error = %v", err)
	}
	if name != "stored_frame.mp4" {
		t.Fatalf("UploadAsset() name = %q", name)
	}
	if gotEndpoint != "/upload/video" {
		t.Fatalf("upload endpoint = %q, want /upload/video for .mp4", gotEndpoint)
	}
	if gotField != "image" || gotFilename != "frame.mp4" {
		t.Fatalf("form field %q filename %q", gotField, gotFilename)
	}
}

func TestUploadAsset_MissingNameIsProtocolError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	os.WriteFile(path, []byte("x"), 0o644)

	_, err := client.UploadAsset(context.Background(), path, "image")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("UploadAsset() error = %v, want *APIError", err)
	}
}

func TestSubmit(t *testing.T) {
	var gotClientID string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prompt" {
			t.Errorf("path = %q, want /prompt", r.URL.Path)
		}
		var body struct {
			Prompt   map[string]any `json:"prompt"`
			ClientID string         `json:"client_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode submit body: %v", err)
		}
		gotClientID = body.ClientID
		json.NewEncoder(w).Encode(map[string]string{"prompt_id": "p-123"})
	}))

	doc := graph.Document{"1": map[string]any{"class_type": "KSampler"}}
	promptID, err := client.Submit(context.Background(), doc)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if promptID != "p-123" {
		t.Fatalf("Submit() promptID = %q", promptID)
	}
	if gotClientID != client.ClientID() {
		t.Fatalf("client_id = %q, want %q", gotClientID, client.ClientID())
	}
}

func TestSubmit_ErrorDetailFromJSONBody(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"invalid prompt"}}`)
	}))

	_, err := client.Submit(context.Background(), graph.Document{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Submit() error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest {
		t.Fatalf("Status = %d, want 400", apiErr.Status)
	}
	if !strings.Contains(apiErr.Detail, "invalid prompt") {
		t.Fatalf("Detail = %q, want decoded JSON", apiErr.Detail)
	}
}

func TestFetchHistory(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/history/p-9" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"p-9":{"status":{"status_str":"success"},"outputs":{}}}`)
	}))

	record, err := client.FetchHistory(context.Background(), "p-9")
	if err != nil {
		t.Fatalf("FetchHistory() error = %v", err)
	}
	status, _ := record["status"].(map[string]any)
	if status["status_str"] != "success" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestFetchHistory_MissingPromptID(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"other":{}}`)
	}))
	if _, err := client.FetchHistory(context.Background(), "p-9"); err == nil {
		t.Fatalf("FetchHistory() should fail when the record is missing")
	}
}

func TestCollectOutputs(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/view" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "data:%s:%s:%s",
			r.URL.Query().Get("filename"),
			r.URL.Query().Get("subfolder"),
			r.URL.Query().Get("type"))
	}))

	history := map[string]any{
		"outputs": map[string]any{
			"9": map[string]any{
				"images": []any{
					map[string]any{"filename": "out_00001_.png", "subfolder": "sub", "type": "output"},
				},
				"videos": []any{
					map[string]any{"filename": "clip.mp4"},
				},
			},
		},
	}
	assets, err := client.CollectOutputs(context.Background(), history)
	if err != nil {
		t.Fatalf("CollectOutputs() error = %v", err)
	}
	if len(assets) != 2 {
		t.Fatalf("got %d assets, want 2", len(assets))
	}
	first := assets[0]
	if first.NodeID != "9" || first.Bucket != "images" || first.OriginalFilename != "out_00001_.png" || first.Index != 0 {
		t.Fatalf("unexpected asset: %+v", first)
	}
	if string(first.Data) != "data:out_00001_.png:sub:output" {
		t.Fatalf("download params not forwarded: %s", first.Data)
	}
	// Missing type defaults to "output".
	if string(assets[1].Data) != "data:clip.mp4::output" {
		t.Fatalf("type default not applied: %s", assets[1].Data)
	}
}

func TestCollectOutputs_EmptyHistory(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s", r.URL)
	}))
	assets, err := client.CollectOutputs(context.Background(), map[string]any{})
	if err != nil || len(assets) != 0 {
		t.Fatalf("CollectOutputs(empty) = %v, %v", assets, err)
	}
}

func TestPingFallsBack(t *testing.T) {
	var paths []string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/system_stats" {
			http.Error(w, "nope", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if len(paths) != 2 || paths[1] != "/queue/status" {
		t.Fatalf("probe order = %v", paths)
	}
}

func TestExtractErrorDetailTruncation(t *testing.T) {
	long := strings.Repeat("x", 2000)
	if got := extractErrorDetail("text/plain", []byte(long)); len(got) != 500 {
		t.Fatalf("text detail length = %d, want 500", len(got))
	}
	jsonBody, _ := json.Marshal(map[string]string{"m": long})
	if got := extractErrorDetail("application/json", jsonBody); len(got) != 1000 {
		t.Fatalf("json detail length = %d, want 1000", len(got))
	}
}
