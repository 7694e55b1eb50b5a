package parser

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"archaeo-rag/internal/config"
	"archaeo-rag/internal/models"

	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

var ErrUnsupportedFormat = errors.New("unsupported file format")

type ChunkOptions struct {
	Size    int
	Overlap int
}

// DefaultChunkOptions returns the 1000/200 rune chunking used when nothing is configured.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{Size: config.DefaultChunkSize, Overlap: config.DefaultChunkOverlap}
}

// Document is the result of ingesting one source file.
type Document struct {
	Source   string
	Strategy string
	Pages    []Page
	Text     string
	Chunks   []models.Chunk
}

// Parser turns documents into chunks.
type Parser struct {
	Options    ChunkOptions
	Extractors []Extractor
}

func New(cfg *config.Config) *Parser {
	opts := DefaultChunkOptions()
	if cfg != nil && cfg.RAG.ChunkSize > 0 {
		opts = ChunkOptions{Size: cfg.RAG.ChunkSize, Overlap: cfg.RAG.ChunkOverlap}
	}
	return &Parser{Options: opts, Extractors: DefaultExtractors()}
}

// Ingest reads a PDF byte stream and chunks its text with the default extractors.
func Ingest(r io.Reader, source string, opts ChunkOptions) (*Document, error) {
	p := &Parser{Options: opts, Extractors: DefaultExtractors()}
	return p.Ingest(r, source)
}

func (p *Parser) Ingest(r io.Reader, source string) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", source, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrUnreadableDocument, source)
	}

	pages, strategy, err := ExtractPDF(bytes.NewReader(data), int64(len(data)), p.Extractors)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", source, err)
	}

	doc := p.buildDocument(source, pages)
	doc.Strategy = strategy
	log.Info().
		Str("source", source).
		Str("strategy", strategy).
		Int("pages", len(pages)).
		Int("chunks", len(doc.Chunks)).
		Msg("Document ingested")
	return doc, nil
}

// Parse reads a file from disk, choosing the reader by extension.
func (p *Parser) Parse(filePath string) (*Document, error) {
	source := filepath.Base(filePath)
	ext := strings.ToLower(filepath.Ext(filePath))

	var (
		pages []Page
		err   error
	)
	switch ext {
	case ".pdf":
		f, err := os.Open(filePath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return p.Ingest(f, source)
	case ".docx":
		pages, err = parseDOCX(filePath)
	case ".xlsx":
		pages, err = parseXLSX(filePath)
	case ".txt", ".md":
		pages, err = parseText(filePath)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", source, err)
	}
	if !hasText(pages) {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreadableDocument, source, ErrNoText)
	}

	doc := p.buildDocument(source, pages)
	doc.Strategy = strings.TrimPrefix(ext, ".")
	return doc, nil
}

// buildDocument joins the pages into one text and chunks it, tagging each chunk with the
// page it starts on.
func (p *Parser) buildDocument(source string, pages []Page) *Document {
	var (
		text       strings.Builder
		pageStarts []int
		pageNums   []int
		offset     int
		kept       []Page
	)
	for _, page := range pages {
		pageText := normalizeText(page.Text)
		if pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
			offset += 2
		}
		pageStarts = append(pageStarts, offset)
		pageNums = append(pageNums, page.Number)
		text.WriteString(pageText)
		offset += len([]rune(pageText))
		kept = append(kept, Page{Number: page.Number, Text: pageText})
	}

	full := text.String()
	doc := &Document{Source: source, Pages: kept, Text: full}
	for i, span := range ChunkText(full, p.Options.Size, p.Options.Overlap) {
		doc.Chunks = append(doc.Chunks, models.Chunk{
			ID:         fmt.Sprintf("%s-%d", source, i+1),
			Content:    span.Text,
			Source:     source,
			PageNumber: pageAt(pageStarts, pageNums, span.Start),
			ChunkID:    i + 1,
			Start:      span.Start,
			End:        span.End,
		})
	}
	return doc
}

func pageAt(starts, numbers []int, offset int) int {
	page := 1
	for i, start := range starts {
		if start > offset {
			break
		}
		page = numbers[i]
	}
	return page
}

var (
	docxParagraphEnd = regexp.MustCompile(`</w:p>|<w:br/>|<w:tab/>`)
	xmlTag           = regexp.MustCompile(`<[^>]+>`)
)

func parseDOCX(filePath string) ([]Page, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	content := r.Editable().GetContent()
	content = docxParagraphEnd.ReplaceAllStringFunc(content, func(tag string) string {
		if tag == "<w:tab/>" {
			return "\t"
		}
		return "\n"
	})
	text := html.UnescapeString(xmlTag.ReplaceAllString(content, ""))

	// DOCX has no page numbers
	return []Page{{Number: 1, Text: text}}, nil
}

func parseXLSX(filePath string) ([]Page, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pages []Page
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			log.Warn().Err(err).Str("sheet", sheetName).Msg("Skipping unreadable sheet")
			continue
		}
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		pages = append(pages, Page{Number: sheetNum + 1, Text: text.String()})
	}
	return pages, nil
}

func parseText(filePath string) ([]Page, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []Page{{Number: 1, Text: string(data)}}, nil
}
