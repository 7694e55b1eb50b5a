package parser

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnreadableDocument = errors.New("unreadable document")
	ErrNoText             = errors.New("no extractable text")
)

// Page is the text of one document page; Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// Extractor is one way of pulling text out of a PDF.
type Extractor interface {
	Name() string
	Extract(r io.ReaderAt, size int64) ([]Page, error)
}

// ExtractionError records why a single strategy failed.
type ExtractionError struct {
	Strategy string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s extraction failed: %v", e.Strategy, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// DefaultExtractors returns the strategies in the order they are tried.
func DefaultExtractors() []Extractor {
	return []Extractor{PlainTextExtractor{}, RowTextExtractor{}}
}

// ExtractPDF runs the extractors in order and returns the pages of the first one that
// produced usable text. When all fail the error wraps ErrUnreadableDocument and every
// *ExtractionError.
func ExtractPDF(r io.ReaderAt, size int64, extractors []Extractor) ([]Page, string, error) {
	var failures []error
	for _, ex := range extractors {
		pages, err := runExtractor(ex, r, size)
		if err == nil {
			return pages, ex.Name(), nil
		}
		log.Warn().Err(err).Str("strategy", ex.Name()).Msg("PDF extraction strategy failed")
		failures = append(failures, err)
	}
	return nil, "", fmt.Errorf("%w: %w", ErrUnreadableDocument, errors.Join(failures...))
}

func runExtractor(ex Extractor, r io.ReaderAt, size int64) (pages []Page, err error) {
	// the pdf package panics on some malformed inputs
	defer func() {
		if rec := recover(); rec != nil {
			pages = nil
			err = &ExtractionError{Strategy: ex.Name(), Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	pages, err = ex.Extract(r, size)
	if err != nil {
		return nil, &ExtractionError{Strategy: ex.Name(), Err: err}
	}
	if !hasText(pages) {
		return nil, &ExtractionError{Strategy: ex.Name(), Err: ErrNoText}
	}
	return pages, nil
}

func hasText(pages []Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}

// PlainTextExtractor reads each page's text stream in content order.
type PlainTextExtractor struct{}

func (PlainTextExtractor) Name() string { return "plain-text" }

func (PlainTextExtractor) Extract(r io.ReaderAt, size int64) ([]Page, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, err
	}

	var pages []Page
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, Page{Number: i, Text: pageText})
	}
	return pages, nil
}

// RowTextExtractor rebuilds lines from positioned glyphs, which copes with layouts whose
// content stream order is scrambled.
type RowTextExtractor struct{}

func (RowTextExtractor) Name() string { return "text-rows" }

func (RowTextExtractor) Extract(r io.ReaderAt, size int64) ([]Page, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, err
	}

	var pages []Page
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}

		var text strings.Builder
		for _, row := range rows {
			line := joinRow(row.Content)
			if line == "" {
				continue
			}
			text.WriteString(line)
			text.WriteString("\n")
		}
		pages = append(pages, Page{Number: i, Text: text.String()})
	}
	return pages, nil
}

// joinRow concatenates the glyph runs of a row left to right, inserting a space where the
// horizontal gap is wider than a fraction of the font size.
func joinRow(words pdf.TextHorizontal) string {
	sorted := make([]pdf.Text, len(words))
	copy(sorted, words)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var b strings.Builder
	for i, w := range sorted {
		if i > 0 {
			prev := sorted[i-1]
			gap := w.X - (prev.X + prev.W)
			if gap > w.FontSize*0.2 && !strings.HasSuffix(b.String(), " ") && !strings.HasPrefix(w.S, " ") {
				b.WriteString(" ")
			}
		}
		b.WriteString(w.S)
	}
	return strings.TrimSpace(b.String())
}
