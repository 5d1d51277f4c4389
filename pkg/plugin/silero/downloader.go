package silero

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// SileroDownloader implements the Downloader interface for Silero VAD models.
type SileroDownloader struct{}

// Download writes a placeholder text file at the default model path if no
// file exists there. It does not fetch the model from modelURL.
func (d *SileroDownloader) Download() error {
	modelPath := getDefaultModelPath()
	
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(modelPath), 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	// Check if model already exists
	if _, err := os.Stat(modelPath); err == nil {
		slog.Info("Silero VAD model already exists", slog.String("model_path", modelPath))
		return nil
	}

	slog.Info("Downloading Silero VAD model", slog.String("model_path", modelPath))

	// TODO: Real download implementation tracked in GitHub issue #17
	// For now, create a placeholder that simulates a real download
	modelURL := "https://github.com/snakers4/silero-vad/raw/master/src/silero_vad/data/silero_vad.onnx"
	
	// In a real implementation, we would download from the URL:
	// return d.downloadFromURL(modelURL, modelPath)
	
	// For now, create a placeholder file
	slog.Warn("Creating placeholder model file (real implementation would download from URL)", 
		slog.String("url", modelURL))
	
	placeholder := []byte(`# Placeholder for Silero VAD ONNX model
# Real implementation would download from: ` + modelURL + `
# Model size: approximately 1.7 MB
# License: CC-BY-NC-SA-4.0
`)
	
	if err := os.WriteFile(modelPath, placeholder, 0644); err != nil {
		return fmt.Errorf("failed to create placeholder model file: %w", err)
	}

	slog.Info("Silero VAD placeholder model file written", slog.String("model_path", modelPath))
	return nil
}

// downloadFromURL downloads a file from a URL (placeholder for real implementation).
func (d *SileroDownloader) downloadFromURL(url, filePath string) error {
	// Create the HTTP request
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to download from %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download from %s: HTTP %d", url, resp.StatusCode)
	}

	// Create the file
	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", filePath, err)
	}
	defer file.Close()

	// Copy the response body to the file
	_, err = io.Copy(file, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to write file %s: %w", filePath, err)
	}

	return nil
}