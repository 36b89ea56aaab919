package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"filevault/internal/ui"
)

// publicFile mirrors the vault API's file JSON.
type publicFile struct {
	ID          string   `json:"id"`
	FileName    string   `json:"fileName"`
	ContentType string   `json:"contentType"`
	Tags        []string `json:"tags"`
	Size        int64    `json:"size"`
	CreatedTS   string   `json:"createdTs"`
}

type Server struct {
	client  *http.Client
	apiBase string
}

func (s *Server) Home(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiBase+"/files/v1/public", nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to build API request: %v", err), http.StatusInternalServerError)
		return
	}
	// Forward list paging and sorting parameters as-is.
	req.URL.RawQuery = r.URL.RawQuery

	resp, err := s.client.Do(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list public files: %v", err), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		http.Error(w, fmt.Sprintf("vault API returned %s", resp.Status), http.StatusBadGateway)
		return
	}

	var files []publicFile
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode API response: %v", err), http.StatusBadGateway)
		return
	}

	uiFiles := make([]ui.PublicFile, 0, len(files))
	for _, f := range files {
		uiFiles = append(uiFiles, ui.PublicFile{
			ID:          f.ID,
			FileName:    f.FileName,
			ContentType: f.ContentType,
			Size:        f.Size,
			Tags:        f.Tags,
			CreatedTS:   f.CreatedTS,
		})
	}

	if err := ui.FilesPage(s.apiBase, uiFiles).Render(ctx, w); err != nil {
		http.Error(w, fmt.Sprintf("failed to render files page: %v", err), http.StatusInternalServerError)
		return
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func Run(ctx context.Context) error {

	var (
		HttpPort = getEnv("VAULT_UI_PORT", "8180")
		APIBase  = getEnv("VAULT_UI_API_BASE", "http://localhost:8080")
	)

	// Logging setup consistent with the main vault server.
	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})
	slog.SetDefault(slog.New(handler))

	mux := http.NewServeMux()

	server := &Server{
		client:  &http.Client{Timeout: 15 * time.Second},
		apiBase: APIBase,
	}

	mux.HandleFunc("GET /{$}", server.Home)

	srv := &http.Server{
		Addr:              ":" + HttpPort,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	slog.Info("Starting Vault UI server", "port", HttpPort, "api_base", APIBase)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("vault UI server failed: %w", err)
	}

	return nil
}

func main() {
	if err := Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
