package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

type fakeExtractor struct {
	name  string
	pages []Page
	err   error
	panic bool
	calls int
}

func (f *fakeExtractor) Name() string { return f.name }

func (f *fakeExtractor) Extract(r io.ReaderAt, size int64) ([]Page, error) {
	f.calls++
	if f.panic {
		panic("malformed xref table")
	}
	return f.pages, f.err
}

func surveyText(paragraphs int) string {
	var b strings.Builder
	for i := 0; i < paragraphs; i++ {
		b.WriteString("Field walking transects were spaced at ten metre intervals across the ploughed field. ")
		b.WriteString("Each find was bagged, labelled and located with a handheld GPS unit! ")
		b.WriteString("Did the pottery scatter thin towards the river terrace?\n\n")
	}
	return b.String()
}

func TestChunkText_SizeAndOverlap(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
	}{
		{"defaults", surveyText(40), 1000, 200},
		{"small window", surveyText(10), 120, 30},
		{"no overlap", surveyText(10), 150, 0},
		{"no whitespace", strings.Repeat("abcdefghij", 50), 64, 16},
		{"multibyte", strings.Repeat("Ausgrabungsstätte östlich des Flusses. ", 40), 100, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := ChunkText(tt.text, tt.size, tt.overlap)
			if len(spans) < 2 {
				t.Fatalf("Expected several chunks, got %d", len(spans))
			}
			runes := []rune(tt.text)
			if spans[0].Start != 0 || spans[len(spans)-1].End != len(runes) {
				t.Fatalf("Chunks do not cover the text: first start %d, last end %d, len %d",
					spans[0].Start, spans[len(spans)-1].End, len(runes))
			}
			for i, span := range spans {
				length := len([]rune(span.Text))
				if length > tt.size {
					t.Errorf("Chunk %d has %d runes, limit %d", i, length, tt.size)
				}
				if span.Text != string(runes[span.Start:span.End]) {
					t.Errorf("Chunk %d text does not match its offsets", i)
				}
				if i == 0 {
					continue
				}
				prev := []rune(spans[i-1].Text)
				cur := []rune(span.Text)
				suffix := string(prev[len(prev)-tt.overlap:])
				prefix := string(cur[:tt.overlap])
				if suffix != prefix {
					t.Errorf("Chunks %d and %d do not share exactly %d runes: %q vs %q", i-1, i, tt.overlap, suffix, prefix)
				}
			}
		})
	}
}

func TestChunkText_PrefersParagraphBreaks(t *testing.T) {
	para := strings.Repeat("word ", 30) // 150 runes
	text := para + "\n\n" + para + "\n\n" + para

	spans := ChunkText(text, 200, 20)
	if !strings.HasSuffix(spans[0].Text, "\n\n") {
		t.Errorf("Expected first chunk to end at a paragraph break, got %q", spans[0].Text[len(spans[0].Text)-10:])
	}
}

func TestChunkText_EdgeCases(t *testing.T) {
	if spans := ChunkText("", 100, 10); spans != nil {
		t.Errorf("Expected no chunks for empty text, got %d", len(spans))
	}
	if spans := ChunkText("short", 0, 0); spans != nil {
		t.Errorf("Expected no chunks for zero size, got %d", len(spans))
	}
	spans := ChunkText("a short note", 100, 10)
	if len(spans) != 1 || spans[0].Text != "a short note" {
		t.Errorf("Expected single chunk, got %+v", spans)
	}

	// overlap >= size is clamped to size/2
	spans = ChunkText(strings.Repeat("x", 50), 10, 10)
	for i := 1; i < len(spans); i++ {
		if spans[i].Start != spans[i-1].End-5 {
			t.Fatalf("Expected clamped overlap of 5 runes, chunk %d starts at %d after end %d", i, spans[i].Start, spans[i-1].End)
		}
	}
}

func TestNormalizeText(t *testing.T) {
	got := normalizeText("  Trench 4  \r\nLocus 12\t\r\n\r\n\r\n\r\nContext sheet\n")
	want := "Trench 4\nLocus 12\n\nContext sheet"
	if got != want {
		t.Errorf("normalizeText() = %q, want %q", got, want)
	}
}

func TestIngest_FallsBackToNextStrategy(t *testing.T) {
	first := &fakeExtractor{name: "broken", err: errors.New("bad stream")}
	second := &fakeExtractor{name: "rows", pages: []Page{
		{Number: 1, Text: surveyText(3)},
		{Number: 2, Text: "   "},
		{Number: 3, Text: surveyText(3)},
	}}
	p := &Parser{Options: ChunkOptions{Size: 200, Overlap: 40}, Extractors: []Extractor{first, second}}

	doc, err := p.Ingest(bytes.NewReader([]byte("%PDF-1.4 fake")), "survey.pdf")
	if err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	if first.calls != 1 || second.calls != 1 {
		t.Errorf("Expected each strategy to run once, got %d and %d", first.calls, second.calls)
	}
	if doc.Strategy != "rows" {
		t.Errorf("Expected strategy rows, got %s", doc.Strategy)
	}
	if len(doc.Pages) != 2 {
		t.Errorf("Expected blank page to be dropped, got %d pages", len(doc.Pages))
	}
	if len(doc.Chunks) < 2 {
		t.Fatalf("Expected multiple chunks, got %d", len(doc.Chunks))
	}

	last := doc.Chunks[len(doc.Chunks)-1]
	if last.PageNumber != 3 {
		t.Errorf("Expected last chunk on page 3, got %d", last.PageNumber)
	}
	for i, c := range doc.Chunks {
		if c.ChunkID != i+1 {
			t.Errorf("Expected chunk id %d, got %d", i+1, c.ChunkID)
		}
		if c.Source != "survey.pdf" {
			t.Errorf("Expected source survey.pdf, got %s", c.Source)
		}
	}
}

func TestIngest_AllStrategiesFail(t *testing.T) {
	empty := &fakeExtractor{name: "empty", pages: []Page{{Number: 1, Text: "\n \n"}}}
	panicky := &fakeExtractor{name: "panicky", panic: true}
	p := &Parser{Options: DefaultChunkOptions(), Extractors: []Extractor{empty, panicky}}

	_, err := p.Ingest(bytes.NewReader([]byte("%PDF")), "scan.pdf")
	if !errors.Is(err, ErrUnreadableDocument) {
		t.Fatalf("Expected ErrUnreadableDocument, got %v", err)
	}
	if !errors.Is(err, ErrNoText) {
		t.Errorf("Expected the whitespace-only failure to be wrapped, got %v", err)
	}
	var exErr *ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("Expected an ExtractionError in the chain, got %v", err)
	}
	if !strings.Contains(err.Error(), "panic") {
		t.Errorf("Expected recovered panic in error, got %v", err)
	}
}

func TestIngest_NotAPDF(t *testing.T) {
	_, err := Ingest(strings.NewReader("this is not a pdf"), "notes.pdf", DefaultChunkOptions())
	if !errors.Is(err, ErrUnreadableDocument) {
		t.Fatalf("Expected ErrUnreadableDocument, got %v", err)
	}

	_, err = Ingest(strings.NewReader(""), "empty.pdf", DefaultChunkOptions())
	if !errors.Is(err, ErrUnreadableDocument) {
		t.Fatalf("Expected ErrUnreadableDocument for empty input, got %v", err)
	}
}

func TestParse_TextAndSpreadsheet(t *testing.T) {
	dir := t.TempDir()
	p := New(nil)

	txt := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txt, []byte(surveyText(2)), 0o644); err != nil {
		t.Fatal(err)
	}
	doc, err := p.Parse(txt)
	if err != nil {
		t.Fatalf("Parse(txt) failed: %v", err)
	}
	if len(doc.Chunks) != 1 || doc.Chunks[0].Source != "notes.txt" {
		t.Errorf("Unexpected txt chunks: %+v", doc.Chunks)
	}

	f := excelize.NewFile()
	_ = f.SetCellValue("Sheet1", "A1", "Trench")
	_ = f.SetCellValue("Sheet1", "B1", "Find")
	_ = f.SetCellValue("Sheet1", "A2", "T4")
	_ = f.SetCellValue("Sheet1", "B2", "Bronze pin")
	xlsxPath := filepath.Join(dir, "finds.xlsx")
	if err := f.SaveAs(xlsxPath); err != nil {
		t.Fatal(err)
	}
	doc, err = p.Parse(xlsxPath)
	if err != nil {
		t.Fatalf("Parse(xlsx) failed: %v", err)
	}
	if !strings.Contains(doc.Text, "Bronze pin") || !strings.Contains(doc.Text, "## Sheet: Sheet1") {
		t.Errorf("Unexpected spreadsheet text: %q", doc.Text)
	}

	if _, err := p.Parse(filepath.Join(dir, "slides.pptx")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

// buildPDF writes a minimal uncompressed PDF with one page per argument. Lines of a page are
// separate text objects.
func buildPDF(pages ...string) []byte {
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	}
	var kids []string
	escaper := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	for i, text := range pages {
		var content strings.Builder
		for j, line := range strings.Split(text, "\n") {
			fmt.Fprintf(&content, "BT /F1 12 Tf 72 %d Td (%s) Tj ET\n", 720-14*j, escaper.Replace(line))
		}
		pageObj, contentObj := 4+2*i, 5+2*i
		kids = append(kids, fmt.Sprintf("%d 0 R", pageObj))
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", contentObj),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()))
	}
	objs[1] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestIngest_GeneratedPDF(t *testing.T) {
	data := buildPDF(
		"Walkover survey of the river terrace.\nPottery scatter recorded at the field edge.",
		"Appendix A lists the finds (sherds and flint).",
	)

	doc, err := Ingest(bytes.NewReader(data), "terrace.pdf", DefaultChunkOptions())
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if doc.Strategy != "plain-text" {
		t.Errorf("strategy = %s, want plain-text", doc.Strategy)
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("pages = %d, want 2", len(doc.Pages))
	}
	for _, want := range []string{"Walkover survey of the river terrace.", "Pottery scatter", "(sherds and flint)"} {
		if !strings.Contains(doc.Text, want) {
			t.Errorf("text missing %q:\n%s", want, doc.Text)
		}
	}
	if len(doc.Chunks) != 1 || doc.Chunks[0].PageNumber != 1 || doc.Chunks[0].Source != "terrace.pdf" {
		t.Errorf("chunks = %+v", doc.Chunks)
	}
}
