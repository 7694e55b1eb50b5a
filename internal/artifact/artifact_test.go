package artifact

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"archaeo-rag/internal/models"
)

type fakeAnswerer struct {
	prompt string
	err    error
}

func (f *fakeAnswerer) Ask(ctx context.Context, question string) (*models.Answer, error) {
	f.prompt = question
	if f.err != nil {
		return nil, f.err
	}
	return &models.Answer{
		Question: question,
		Content:  "Likely a Roman bronze coin.",
		Sources:  []models.SearchResult{{Chunk: models.Chunk{ID: "guide-1", Source: "guide.pdf"}}},
	}, nil
}

func twoTonePNG(t *testing.T, w, h, split int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < split {
				img.Set(x, y, color.RGBA{200, 10, 10, 255})
			} else {
				img.Set(x, y, color.RGBA{10, 10, 250, 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestQuestionnaire(t *testing.T) {
	qs := Questionnaire()
	if len(qs) != 5 {
		t.Fatalf("questions = %d, want 5", len(qs))
	}
	required := 0
	for _, q := range qs {
		if q.Required {
			required++
		}
	}
	if required != 3 {
		t.Errorf("required = %d, want 3", required)
	}
	if qs[3].Options != nil {
		t.Errorf("markings should be free text")
	}
}

func TestAssessText(t *testing.T) {
	ans := &fakeAnswerer{}
	a := NewAssessor(ans)

	d := Description{Material: "metal", Size: "coin-sized", Location: "garden"}
	got, err := a.AssessText(context.Background(), d)
	if err != nil {
		t.Fatalf("AssessText() error = %v", err)
	}

	if got.FullDescription != "Material: metal. Size: coin-sized. Location found: garden" {
		t.Errorf("full description = %q", got.FullDescription)
	}
	if got.DetailedAnalysis != "Likely a Roman bronze coin." || len(got.Sources) != 1 {
		t.Errorf("narrative = %q, sources = %d", got.DetailedAnalysis, len(got.Sources))
	}
	if !strings.Contains(ans.prompt, "Artifact description:\nMaterial: metal") ||
		!strings.HasSuffix(ans.prompt, "Location context: garden") {
		t.Errorf("prompt = %q", ans.prompt)
	}

	recs := strings.Join(got.Recommendations, "\n")
	for _, want := range []string{
		"Consider reporting to local archaeological authorities",
		"Look for any markings, inscriptions, or decorative elements",
		"Consult with archaeological experts for definitive identification",
	} {
		if !strings.Contains(recs, want) {
			t.Errorf("recommendations missing %q", want)
		}
	}
}

func TestAssessText_Incomplete(t *testing.T) {
	_, err := NewAssessor(nil).AssessText(context.Background(), Description{Material: "bone"})
	if !errors.Is(err, ErrIncompleteDescription) {
		t.Fatalf("error = %v, want ErrIncompleteDescription", err)
	}
	if !strings.Contains(err.Error(), "size, location") {
		t.Errorf("error should name missing fields: %v", err)
	}
}

func TestAssessText_Narrative(t *testing.T) {
	d := Description{Material: "pottery", Size: "hand-sized", Location: "field", Markings: "incised lines"}

	got, err := NewAssessor(nil).AssessText(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if got.DetailedAnalysis != NoIndexMessage {
		t.Errorf("without answerer = %q", got.DetailedAnalysis)
	}
	for _, r := range got.Recommendations {
		if strings.HasPrefix(r, "Consider reporting") || strings.HasPrefix(r, "Look for any markings") {
			t.Errorf("unexpected recommendation %q", r)
		}
	}

	got, err = NewAssessor(&fakeAnswerer{err: errors.New("llm down")}).AssessText(context.Background(), d)
	if err != nil {
		t.Fatal(err)
	}
	if got.DetailedAnalysis != NoAnalysisMessage {
		t.Errorf("with failing answerer = %q", got.DetailedAnalysis)
	}
}

func TestAnalyzeImage(t *testing.T) {
	a, err := AnalyzeImage(twoTonePNG(t, 50, 40, 30))
	if err != nil {
		t.Fatalf("AnalyzeImage() error = %v", err)
	}
	if a.Format != "png" || a.Width != 50 || a.Height != 40 {
		t.Errorf("analysis = %+v", a)
	}
	if a.Orientation != "landscape" || a.AspectRatio != 1.25 {
		t.Errorf("orientation = %s, aspect = %v", a.Orientation, a.AspectRatio)
	}

	// The first 1000 pixels are 20 rows of 30 red and 20 blue.
	want := []Color{{192, 0, 0, 600}, {0, 0, 224, 400}}
	if len(a.DominantColors) != len(want) {
		t.Fatalf("colors = %v", a.DominantColors)
	}
	for i := range want {
		if a.DominantColors[i] != want[i] {
			t.Errorf("color[%d] = %v, want %v", i, a.DominantColors[i], want[i])
		}
	}

	p, _ := AnalyzeImage(twoTonePNG(t, 10, 20, 5))
	if p.Orientation != "portrait" {
		t.Errorf("orientation = %s, want portrait", p.Orientation)
	}

	if _, err := AnalyzeImage([]byte("not an image")); !errors.Is(err, ErrUnreadableImage) {
		t.Errorf("error = %v, want ErrUnreadableImage", err)
	}
}

func TestAssessPhoto(t *testing.T) {
	ans := &fakeAnswerer{}
	got, err := NewAssessor(ans).AssessPhoto(context.Background(), twoTonePNG(t, 20, 20, 10), Description{Material: "stone"})
	if err != nil {
		t.Fatalf("AssessPhoto() error = %v", err)
	}
	if got.InputType != "photo" || got.Image == nil || got.Image.Orientation != "square" {
		t.Errorf("assessment = %+v", got)
	}
	want := "Image dimensions: 20x20. Orientation: square. Dominant colors: RGB(192, 0, 0), RGB(0, 0, 224). Material: stone"
	if got.FullDescription != want {
		t.Errorf("description = %q, want %q", got.FullDescription, want)
	}
	if strings.Contains(ans.prompt, "Location context") {
		t.Errorf("prompt should not carry location context: %q", ans.prompt)
	}
}
