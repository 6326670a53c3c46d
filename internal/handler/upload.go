package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/pavelanni/gradewise/internal/document"
	"github.com/pavelanni/gradewise/internal/model"
	"github.com/pavelanni/gradewise/internal/workflow"
)

const maxFormMemory = 10 << 20

type upload struct {
	doc     model.Document
	subject string
}

// encodedUpload is the JSON form of an upload: the document as a data URI.
type encodedUpload struct {
	Name     string `json:"name"`
	Document string `json:"document"`
	Subject  string `json:"subject"`
}

// readUpload reads a document either from the multipart file field or from
// a JSON body carrying a data URI, then applies the document limits.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request, field string) (upload, error) {
	if h.limits.MaxBytes > 0 {
		// room for multipart framing and the other form fields
		r.Body = http.MaxBytesReader(w, r.Body, h.limits.MaxBytes+maxFormMemory)
	}

	var (
		up  upload
		err error
	)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		up, err = readEncoded(r, field)
	} else {
		up, err = readMultipart(r, field)
	}
	if err != nil {
		return upload{}, err
	}
	if err := h.limits.Check(up.doc); err != nil {
		return upload{}, documentError(err)
	}
	return up, nil
}

func readMultipart(r *http.Request, field string) (upload, error) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return upload{}, document.ErrTooLarge
		}
		return upload{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return upload{}, fmt.Errorf("%w: no %s file uploaded", workflow.ErrNoDocument, field)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return upload{}, fmt.Errorf("%w: read %s: %v", errBadRequest, field, err)
	}
	doc, err := document.New(header.Filename, data, header.Header.Get("Content-Type"))
	if err != nil {
		return upload{}, documentError(err)
	}
	return upload{doc: doc, subject: r.FormValue("subject")}, nil
}

func readEncoded(r *http.Request, field string) (upload, error) {
	var body encodedUpload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return upload{}, document.ErrTooLarge
		}
		return upload{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	if body.Document == "" {
		return upload{}, fmt.Errorf("%w: no %s document in body", workflow.ErrNoDocument, field)
	}
	name := body.Name
	if name == "" {
		name = field
	}
	doc, err := document.ParseDataURI(name, body.Document)
	if err != nil {
		return upload{}, documentError(err)
	}
	return upload{doc: doc, subject: body.Subject}, nil
}

// documentError keeps the document sentinels and turns anything else,
// such as an unreadable PDF, into a bad request.
func documentError(err error) error {
	switch {
	case errors.Is(err, document.ErrEmpty),
		errors.Is(err, document.ErrUnsupportedType),
		errors.Is(err, document.ErrTooLarge),
		errors.Is(err, document.ErrTooManyPages):
		return err
	}
	return fmt.Errorf("%w: %v", errBadRequest, err)
}
