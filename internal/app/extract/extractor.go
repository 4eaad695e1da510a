package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxDocumentBytes is the upload ceiling. Larger files are rejected
// before any parsing is attempted.
const MaxDocumentBytes = 5 << 20

// placeholder substitutes for a document that could not be read. It
// must be non-empty so downstream prompts always have some context.
const placeholder = "The project document could not be read. Base your questions on the project title, academic level and technologies instead."

// Result is the outcome of one extraction. Success=false always comes
// with the placeholder text and a warning; Text is never empty.
type Result struct {
	Text    string
	Success bool
	Warning string
}

// Extract turns an uploaded binary document into plain text. Supported
// formats: PDF, DOCX, plain text and markdown. Unsupported content
// types and oversized files are rejected with an error; unreadable
// documents of a supported type degrade to the placeholder, never to
// a hard failure.
func Extract(data []byte, contentType, filename string) (Result, error) {
	if len(data) == 0 {
		return Result{}, fmt.Errorf("empty document")
	}
	if len(data) > MaxDocumentBytes {
		return Result{}, fmt.Errorf("document exceeds %d bytes", MaxDocumentBytes)
	}

	kind := detectKind(contentType, filename)
	if kind == kindUnsupported {
		return Result{}, fmt.Errorf("unsupported content type %q", contentType)
	}

	var (
		text string
		err  error
	)
	switch kind {
	case kindPDF:
		text, err = extractPDF(data)
	case kindDOCX:
		text, err = extractDOCX(data)
	default:
		text = string(data)
	}

	if err != nil {
		return Result{
			Text:    placeholder,
			Success: false,
			Warning: fmt.Sprintf("extraction failed: %v", err),
		}, nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Result{
			Text:    placeholder,
			Success: false,
			Warning: "document contained no extractable text",
		}, nil
	}

	return Result{Text: text, Success: true}, nil
}

type docKind int

const (
	kindUnsupported docKind = iota
	kindPDF
	kindDOCX
	kindText
)

func detectKind(contentType, filename string) docKind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}

	switch ct {
	case "application/pdf":
		return kindPDF
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return kindDOCX
	case "text/plain", "text/markdown":
		return kindText
	}

	// Browsers sometimes send generic types; trust the extension then.
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return kindPDF
	case ".docx":
		return kindDOCX
	case ".txt", ".md", ".markdown":
		return kindText
	}

	return kindUnsupported
}

func extractPDF(data []byte) (_ string, err error) {
	// The pdf package panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parse panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}

	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return "", fmt.Errorf("copy pdf text: %w", err)
	}
	return b.String(), nil
}

// docx is a zip archive; the body text lives in word/document.xml as
// runs of <w:t> elements.
func extractDOCX(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	var docFile *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return "", fmt.Errorf("docx has no word/document.xml")
	}

	rc, err := docFile.Open()
	if err != nil {
		return "", fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "p":
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
