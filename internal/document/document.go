// Package document turns raw files into Document payloads and checks them
// against the limits the inference backends accept.
package document

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/pavelanni/gradewise/internal/model"
)

const mediaTypePDF = "application/pdf"

var (
	ErrEmpty           = errors.New("document is empty")
	ErrUnsupportedType = errors.New("unsupported document type")
	ErrTooLarge        = errors.New("document is too large")
	ErrTooManyPages    = errors.New("document has too many pages")
	ErrBadDataURI      = errors.New("malformed data URI")
)

// Limits bounds what documents are accepted. Zero values disable a check.
type Limits struct {
	MaxBytes int64
	MaxPages int
}

// New builds a Document from raw bytes. The declared media type wins when it
// is specific; otherwise the type is sniffed from the content.
func New(name string, data []byte, declared string) (model.Document, error) {
	if len(data) == 0 {
		return model.Document{}, ErrEmpty
	}
	mt := pickMediaType(declared, data)
	if !Supported(mt) {
		return model.Document{}, fmt.Errorf("%w: %s", ErrUnsupportedType, mt)
	}
	return model.Document{Name: name, MediaType: mt, Data: data}, nil
}

// Load reads a document from disk.
func Load(path string) (model.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := New(filepath.Base(path), data, mime.TypeByExtension(filepath.Ext(path)))
	if err != nil {
		return model.Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Supported reports whether the media type is an image or a PDF.
func Supported(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/") || mediaType == mediaTypePDF
}

// Check applies the limits to a document.
func (l Limits) Check(doc model.Document) error {
	if doc.Empty() {
		return ErrEmpty
	}
	if l.MaxBytes > 0 && int64(len(doc.Data)) > l.MaxBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(doc.Data), l.MaxBytes)
	}
	if l.MaxPages > 0 && doc.MediaType == mediaTypePDF {
		n, err := PageCount(doc.Data)
		if err != nil {
			return err
		}
		if n > l.MaxPages {
			return fmt.Errorf("%w: %d pages (max %d)", ErrTooManyPages, n, l.MaxPages)
		}
	}
	return nil
}

// PageCount returns the number of pages in a PDF. The pdf reader panics on
// many malformed inputs; those panics come back as errors.
func PageCount(data []byte) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			n, err = 0, fmt.Errorf("open pdf: %v", p)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	return r.NumPage(), nil
}

// DataURI encodes the document as data:<mediatype>;base64,<payload>.
func DataURI(doc model.Document) string {
	return "data:" + doc.MediaType + ";base64," + base64.StdEncoding.EncodeToString(doc.Data)
}

// ParseDataURI decodes a base64 data URI into a Document.
func ParseDataURI(name, s string) (model.Document, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return model.Document{}, ErrBadDataURI
	}
	idx := strings.IndexByte(s, ',')
	if idx < 0 {
		return model.Document{}, ErrBadDataURI
	}
	meta := s[len("data:"):idx]
	if !strings.HasSuffix(meta, ";base64") {
		return model.Document{}, fmt.Errorf("%w: payload is not base64", ErrBadDataURI)
	}
	data, err := base64.StdEncoding.DecodeString(s[idx+1:])
	if err != nil {
		return model.Document{}, fmt.Errorf("%w: %v", ErrBadDataURI, err)
	}
	return New(name, data, strings.TrimSuffix(meta, ";base64"))
}

func pickMediaType(declared string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return mt
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}
