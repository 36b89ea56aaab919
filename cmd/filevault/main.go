package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"filevault/internal/vault"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/sync/errgroup"
)

func Run(ctx context.Context) error {

	ServerPortHttp := flag.String("listen", "8080", "HTTP listen address")
	dataDir := flag.String("data-dir", "./data", "directory to store file data")

	s3Endpoint := flag.String("s3-endpoint", "", "S3 endpoint for blob storage (empty for local filesystem)")
	s3Bucket := flag.String("s3-bucket", "filevault", "S3 bucket for blob storage")
	s3AccessKey := flag.String("s3-access-key", "", "S3 access key")
	s3SecretKey := flag.String("s3-secret-key", "", "S3 secret key")
	s3UseSSL := flag.Bool("s3-ssl", false, "use TLS when talking to S3")

	flag.Parse()

	ServerPortHttps := 8443
	ServerCrtFile := ""
	ServerKeyFile := ""

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           log.DebugLevel,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))

	// Ensure data directory is absolute for easier debugging.
	absDataDir, err := filepath.Abs(*dataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data directory: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := vault.Config{
		DataDir: absDataDir,
	}

	if *s3Endpoint != "" {
		client, err := minio.New(*s3Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(*s3AccessKey, *s3SecretKey, ""),
			Secure: *s3UseSSL,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}

		store, err := vault.NewS3Store(ctx, client, *s3Bucket, filepath.Join(absDataDir, "tmp"))
		if err != nil {
			return fmt.Errorf("failed to create S3 blob store: %w", err)
		}
		cfg.Engine = store
	}

	server, err := vault.NewServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create vault server: %w", err)
	}

	defer server.Close()

	router := server.Handler()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", *ServerPortHttp),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}

	httpsServer := &http.Server{
		TLSConfig: &tls.Config{
			ClientAuth: tls.RequestClientCert,
			MinVersion: tls.VersionTLS12,
		},
		Addr:              fmt.Sprintf(":%d", ServerPortHttps),
		Handler:           router,
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()
		return httpsServer.Shutdown(ctx)
	})

	eg.Go(func() error {
		<-ctx.Done()
		return httpServer.Shutdown(ctx)
	})

	eg.Go(func() error {
		if ServerCrtFile == "" || ServerKeyFile == "" {
			slog.Debug("Skipping HTTPS service because no certificate was provided")
			return nil
		}

		slog.Info("Starting Vault HTTPS server", "port", ServerPortHttps)
		err := httpsServer.ListenAndServeTLS(ServerCrtFile, ServerKeyFile)
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	eg.Go(func() error {
		slog.Info("Starting Vault HTTP server", "port", *ServerPortHttp)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("Vault Started")
	return eg.Wait()

}

func main() {
	if err := Run(context.Background()); err != nil {
		slog.Error("Vault exited with error", "error", err)
	}
}
