package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty,
// "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractText writes the PDF to a temp file, runs pdftotext -layout on it,
// and returns stdout.
func (p *PdfToText) ExtractText(ctx context.Context, pdfData []byte) (string, error) {
	tmp, err := os.CreateTemp("", "menu-extract-*.pdf")
	if err != nil {
		return "", eris.Wrap(err, "ocr: create temp pdf")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := tmp.Write(pdfData); err != nil {
		tmp.Close() //nolint:errcheck
		return "", eris.Wrap(err, "ocr: write temp pdf")
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrap(err, "ocr: close temp pdf")
	}

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", tmpPath, "-")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", filepath.Base(tmpPath), stderr.String())
	}

	return stdout.String(), nil
}
