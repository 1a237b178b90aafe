package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// DocumentKind classifies a source document after preparation.
type DocumentKind string

const (
	KindPDF         DocumentKind = "pdf"
	KindSpreadsheet DocumentKind = "spreadsheet"
	KindImage       DocumentKind = "image"
)

// DocumentMeta describes one input document. Exactly one of Content or URL
// must be set. Created by the caller, consumed once by preparation.
type DocumentMeta struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Content  string `json:"content,omitempty"` // base64
	URL      string `json:"url,omitempty"`
}

// Spreadsheet mime types accepted as input.
var spreadsheetMimeTypes = map[string]bool{
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/vnd.ms-excel": true,
	"text/csv":                 true,
}

// IsPDF reports whether the document is a PDF.
func (d DocumentMeta) IsPDF() bool {
	return d.MimeType == "application/pdf"
}

// IsImage reports whether the document is an image.
func (d DocumentMeta) IsImage() bool {
	return strings.HasPrefix(d.MimeType, "image/")
}

// IsSpreadsheet reports whether the document is a spreadsheet.
func (d DocumentMeta) IsSpreadsheet() bool {
	return spreadsheetMimeTypes[d.MimeType]
}

// IsCSV reports whether the document is a plain CSV file.
func (d DocumentMeta) IsCSV() bool {
	return d.MimeType == "text/csv"
}

// ValidateDocuments checks every input document and returns all problems
// found, not just the first. An empty slice means the set is usable.
func ValidateDocuments(docs []DocumentMeta) []error {
	var errs []error
	if len(docs) == 0 {
		return []error{eris.New("model: no input documents")}
	}
	for i, d := range docs {
		label := d.ID
		if label == "" {
			label = d.Name
		}
		if d.ID == "" {
			errs = append(errs, eris.Errorf("model: document %d (%s) missing id", i, d.Name))
		}
		if d.Name == "" {
			errs = append(errs, eris.Errorf("model: document %s missing name", label))
		}
		if d.MimeType == "" {
			errs = append(errs, eris.Errorf("model: document %s missing mime type", label))
		} else if !d.IsPDF() && !d.IsImage() && !d.IsSpreadsheet() {
			errs = append(errs, eris.Errorf("model: document %s has unsupported mime type %q", label, d.MimeType))
		}
		if d.Content == "" && d.URL == "" {
			errs = append(errs, eris.Errorf("model: document %s has neither content nor url", label))
		}
	}
	return errs
}

// PreparedPage is one page of a prepared PDF. Content is extracted text, or
// base64 image data when IsImage is set.
type PreparedPage struct {
	PageNumber    int    `json:"page_number"`
	Content       string `json:"content"`
	IsImage       bool   `json:"is_image"`
	TokenEstimate int    `json:"token_estimate"`
}

// PreparedSheet is one sheet of a prepared spreadsheet, rendered as
// header-preserving CSV text.
type PreparedSheet struct {
	Name          string `json:"name"`
	Content       string `json:"content"`
	RowCount      int    `json:"row_count"` // data rows, excluding header
	TokenEstimate int    `json:"token_estimate"`
}

// PreparedDocument is the phase-agnostic form of an input document. Produced
// once by preparation and read-only afterward.
type PreparedDocument struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Kind     DocumentKind      `json:"kind"`
	MimeType string            `json:"mime_type"`
	Pages    []PreparedPage    `json:"pages,omitempty"`
	Sheets   []PreparedSheet   `json:"sheets,omitempty"`
	Content  string            `json:"content,omitempty"` // base64 for images
	Metadata map[string]string `json:"metadata,omitempty"`

	// RawBytes holds the fetched document bytes for upload. Not serialized.
	RawBytes []byte `json:"-"`
}

// HasPayload reports whether the document carries at least one page, sheet or
// inline content payload. Documents failing this are dropped by preparation.
func (d PreparedDocument) HasPayload() bool {
	return len(d.Pages) > 0 || len(d.Sheets) > 0 || d.Content != ""
}

// TokenEstimate sums the token estimates of all payloads.
func (d PreparedDocument) TokenEstimate() int {
	total := 0
	for _, p := range d.Pages {
		total += p.TokenEstimate
	}
	for _, s := range d.Sheets {
		total += s.TokenEstimate
	}
	return total
}

// Sheet returns the named sheet, if present.
func (d PreparedDocument) Sheet(name string) (PreparedSheet, bool) {
	for _, s := range d.Sheets {
		if s.Name == name {
			return s, true
		}
	}
	return PreparedSheet{}, false
}

// DocumentLocation references a region of a prepared document. It is a
// reference, not ownership: sections and batches scope themselves to
// sub-document regions through these.
type DocumentLocation struct {
	DocumentID  string   `json:"document_id"`
	PageNumbers []int    `json:"page_numbers,omitempty"`
	SheetNames  []string `json:"sheet_names,omitempty"`
}
