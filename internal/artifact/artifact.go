package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"sort"
	"strings"

	"archaeo-rag/internal/models"

	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/tiff"
)

var (
	ErrIncompleteDescription = errors.New("artifact description is incomplete")
	ErrUnreadableImage       = errors.New("could not read image")
)

const (
	NoIndexMessage     = "Upload a document to enable detailed artifact analysis."
	NoAnalysisMessage  = "Analysis available but detailed assessment requires document context."
	colorSampleSize    = 1000
	dominantColorCount = 3
)

// Answerer produces a narrative answer for a prompt; rag.Assistant satisfies it.
type Answerer interface {
	Ask(ctx context.Context, question string) (*models.Answer, error)
}

// Question is one entry of the guided questionnaire. Options is nil for free text.
type Question struct {
	Key      string   `json:"key"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required"`
}

// Questionnaire returns the guided questions in display order.
func Questionnaire() []Question {
	return []Question{
		{Key: "material", Question: "What material is it?", Options: []string{"stone", "metal", "pottery", "bone", "glass", "organic", "other"}, Required: true},
		{Key: "size", Question: "How big is it?", Options: []string{"coin-sized", "hand-sized", "larger", "very large"}, Required: true},
		{Key: "location", Question: "Where did you find it?", Options: []string{"garden", "construction site", "beach", "field", "archaeological site", "other"}, Required: true},
		{Key: "markings", Question: "Any markings or decorations?"},
		{Key: "additional_notes", Question: "Additional notes or observations"},
	}
}

// Description holds the answers to the questionnaire.
type Description struct {
	Material        string `json:"material"`
	Size            string `json:"size"`
	Location        string `json:"location"`
	Markings        string `json:"markings,omitempty"`
	AdditionalNotes string `json:"additional_notes,omitempty"`
}

// Missing lists the required fields left empty.
func (d Description) Missing() []string {
	var missing []string
	if strings.TrimSpace(d.Material) == "" {
		missing = append(missing, "material")
	}
	if strings.TrimSpace(d.Size) == "" {
		missing = append(missing, "size")
	}
	if strings.TrimSpace(d.Location) == "" {
		missing = append(missing, "location")
	}
	return missing
}

func (d Description) String() string {
	var parts []string
	add := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, label+": "+v)
		}
	}
	add("Material", d.Material)
	add("Size", d.Size)
	add("Location found", d.Location)
	add("Markings or decorations", d.Markings)
	add("Additional notes", d.AdditionalNotes)
	return strings.Join(parts, ". ")
}

type Color struct {
	R         uint8 `json:"r"`
	G         uint8 `json:"g"`
	B         uint8 `json:"b"`
	Frequency int   `json:"frequency"`
}

func (c Color) String() string {
	return fmt.Sprintf("RGB(%d, %d, %d)", c.R, c.G, c.B)
}

// ImageAnalysis holds the measurable properties of an uploaded photo.
type ImageAnalysis struct {
	Format         string  `json:"format"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	AspectRatio    float64 `json:"aspect_ratio"`
	Orientation    string  `json:"orientation"`
	DominantColors []Color `json:"dominant_colors"`
}

type Assessment struct {
	InputType        string                `json:"input_type"`
	Description      Description           `json:"description"`
	FullDescription  string                `json:"full_description"`
	Image            *ImageAnalysis        `json:"image,omitempty"`
	DetailedAnalysis string                `json:"detailed_analysis"`
	Sources          []models.SearchResult `json:"sources,omitempty"`
	Recommendations  []string              `json:"recommendations"`
}

// Assessor builds assessments; answerer may be nil when no index is loaded.
type Assessor struct {
	answerer Answerer
}

func NewAssessor(answerer Answerer) *Assessor {
	return &Assessor{answerer: answerer}
}

// AssessText assesses a find from the questionnaire answers alone.
func (a *Assessor) AssessText(ctx context.Context, d Description) (*Assessment, error) {
	if missing := d.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrIncompleteDescription, strings.Join(missing, ", "))
	}

	as := &Assessment{
		InputType:       "text",
		Description:     d,
		FullDescription: d.String(),
	}
	a.narrate(ctx, as)
	as.Recommendations = Recommendations(d)
	return as, nil
}

// AssessPhoto analyses an uploaded image; the description is optional context.
func (a *Assessor) AssessPhoto(ctx context.Context, data []byte, d Description) (*Assessment, error) {
	analysis, err := AnalyzeImage(data)
	if err != nil {
		return nil, err
	}

	as := &Assessment{
		InputType:       "photo",
		Description:     d,
		Image:           analysis,
		FullDescription: photoDescription(analysis, d),
	}
	a.narrate(ctx, as)
	as.Recommendations = Recommendations(d)
	return as, nil
}

func (a *Assessor) narrate(ctx context.Context, as *Assessment) {
	if a.answerer == nil {
		as.DetailedAnalysis = NoIndexMessage
		return
	}
	answer, err := a.answerer.Ask(ctx, Prompt(as.FullDescription, as.Description.Location))
	if err != nil {
		log.Error().Err(err).Str("input", as.InputType).Msg("Error in artifact assessment")
		as.DetailedAnalysis = NoAnalysisMessage
		return
	}
	as.DetailedAnalysis = answer.Content
	as.Sources = answer.Sources
}

// Prompt builds the identification prompt sent to the answer pipeline.
func Prompt(description, location string) string {
	prompt := fmt.Sprintf(models.ArtifactPromptTemplate, description)
	if location = strings.TrimSpace(location); location != "" {
		prompt += "\n\nLocation context: " + location
	}
	return prompt
}

// Recommendations returns the handling advice for a find.
func Recommendations(d Description) []string {
	recs := []string{
		"Document the find with detailed photographs from multiple angles",
		"Record precise location using GPS coordinates",
		"Note the stratigraphic context if applicable",
	}

	switch strings.ToLower(strings.TrimSpace(d.Location)) {
	case "garden", "construction site":
		recs = append(recs,
			"Consider reporting to local archaeological authorities",
			"Document the exact context before removal")
	}
	if strings.TrimSpace(d.Markings) == "" {
		recs = append(recs, "Look for any markings, inscriptions, or decorative elements")
	}

	return append(recs,
		"Handle with care to avoid damage",
		"Store in appropriate conditions (dry, stable temperature)",
		"Consult with archaeological experts for definitive identification")
}

// AnalyzeImage decodes data and measures dimensions, orientation and dominant colours.
func AnalyzeImage(data []byte) (*ImageAnalysis, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadableImage, err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	a := &ImageAnalysis{
		Format:         format,
		Width:          w,
		Height:         h,
		AspectRatio:    1.0,
		Orientation:    "square",
		DominantColors: DominantColors(img, dominantColorCount),
	}
	if h > 0 {
		a.AspectRatio = float64(w) / float64(h)
	}
	switch {
	case w > h:
		a.Orientation = "landscape"
	case h > w:
		a.Orientation = "portrait"
	}
	return a, nil
}

// DominantColors counts colours quantised to steps of 32 over the first pixels of img in
// row order and returns the k most frequent. Ties keep first-seen order.
func DominantColors(img image.Image, k int) []Color {
	b := img.Bounds()
	counts := make(map[[3]uint8]int)
	var order [][3]uint8

	n := 0
	for y := b.Min.Y; y < b.Max.Y && n < colorSampleSize; y++ {
		for x := b.Min.X; x < b.Max.X && n < colorSampleSize; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			q := [3]uint8{c.R / 32 * 32, c.G / 32 * 32, c.B / 32 * 32}
			if _, ok := counts[q]; !ok {
				order = append(order, q)
			}
			counts[q]++
			n++
		}
	}

	sort.SliceStable(order, func(i, j int) bool { return counts[order[i]] > counts[order[j]] })
	if len(order) > k {
		order = order[:k]
	}
	colors := make([]Color, len(order))
	for i, q := range order {
		colors[i] = Color{R: q[0], G: q[1], B: q[2], Frequency: counts[q]}
	}
	return colors
}

func photoDescription(a *ImageAnalysis, d Description) string {
	parts := []string{
		fmt.Sprintf("Image dimensions: %dx%d", a.Width, a.Height),
		"Orientation: " + a.Orientation,
	}
	if len(a.DominantColors) > 0 {
		names := make([]string, len(a.DominantColors))
		for i, c := range a.DominantColors {
			names[i] = c.String()
		}
		parts = append(parts, "Dominant colors: "+strings.Join(names, ", "))
	}
	if s := d.String(); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, ". ")
}
