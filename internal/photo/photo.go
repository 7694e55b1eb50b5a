package photo

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/tiff"
)

var ErrDirectoryNotFound = errors.New("photo directory not found")

var supportedFormats = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".tif": true, ".tiff": true, ".heic": true,
}

// Photo is one image file with the metadata read from its contents and name.
type Photo struct {
	Path         string     `json:"path"`
	Name         string     `json:"name"`
	Size         int64      `json:"size"`
	ModTime      time.Time  `json:"modified"`
	Width        int        `json:"width,omitempty"`
	Height       int        `json:"height,omitempty"`
	DateTaken    *time.Time `json:"date_taken,omitempty"`
	DateFromName *time.Time `json:"date_from_name,omitempty"`
	Latitude     *float64   `json:"latitude,omitempty"`
	Longitude    *float64   `json:"longitude,omitempty"`
	Trench       string     `json:"trench,omitempty"`
	Locus        string     `json:"locus,omitempty"`
	ArtifactType string     `json:"artifact_type,omitempty"`
	Layer        string     `json:"stratigraphy_layer,omitempty"`
}

// Date returns the best known date: EXIF, then filename, then modification time.
func (p *Photo) Date() time.Time {
	switch {
	case p.DateTaken != nil:
		return *p.DateTaken
	case p.DateFromName != nil:
		return *p.DateFromName
	default:
		return p.ModTime
	}
}

// HasRecordedDate reports whether the date came from EXIF or the filename.
func (p *Photo) HasRecordedDate() bool {
	return p.DateTaken != nil || p.DateFromName != nil
}

// Scan walks dir recursively and reads every supported image. Files that cannot be read are
// logged and skipped.
func Scan(dir string) (*Collection, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDirectoryNotFound, dir)
	}

	var photos []Photo
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable path")
			return nil
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 || !supportedFormats[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		p, err := readPhoto(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Error processing photo")
			return nil
		}
		photos = append(photos, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(photos, func(i, j int) bool { return photos[i].Path < photos[j].Path })
	log.Info().Str("dir", dir).Int("photos", len(photos)).Msg("Photo directory scanned")
	return &Collection{Photos: photos}, nil
}

func readPhoto(path string) (Photo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Photo{}, err
	}
	p := Photo{
		Path:    path,
		Name:    filepath.Base(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}

	if err := readImageMetadata(&p); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("Could not read image metadata")
	}
	ParseFilename(&p)
	return p, nil
}

func readImageMetadata(p *Photo) error {
	f, err := os.Open(p.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	if cfg, _, err := image.DecodeConfig(f); err == nil {
		p.Width, p.Height = cfg.Width, cfg.Height
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	x, err := exif.Decode(f)
	if err != nil {
		return err
	}
	if t, err := x.DateTime(); err == nil {
		p.DateTaken = &t
	}
	if lat, long, err := x.LatLong(); err == nil {
		p.Latitude, p.Longitude = &lat, &long
	}
	return nil
}

var (
	trenchPattern = regexp.MustCompile(`(?i)\bT(?:rench[-_ ]?)?(\d+)\b`)
	locusPattern  = regexp.MustCompile(`(?i)\bL(?:ocus[-_ ]?)?(\d+)\b`)
	layerPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:Layer|Stratum|Strat)[-_ ]?(\d+)\b`),
		regexp.MustCompile(`(?i)\bL\.?(\d+)\b`),
	}
	datePatterns  = []struct {
		re        *regexp.Regexp
		yearFirst bool
	}{
		{regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`), true},
		{regexp.MustCompile(`(\d{4})(\d{2})(\d{2})`), true},
		{regexp.MustCompile(`(\d{2})-(\d{2})-(\d{4})`), false},
	}
)

// artifactKeywords is checked in order; the first type with a matching keyword wins.
var artifactKeywords = []struct {
	kind     string
	keywords []string
}{
	{"pottery", []string{"pottery", "pot", "sherd", "ceramic"}},
	{"metal", []string{"metal", "coin", "bronze", "iron", "copper"}},
	{"stone", []string{"stone", "lithic", "tool", "flint"}},
	{"bone", []string{"bone", "skeleton", "human", "animal"}},
	{"glass", []string{"glass", "bead"}},
	{"organic", []string{"wood", "textile", "organic"}},
}

// ParseFilename fills trench, locus, date, artifact type and layer from the file name.
// Underscores count as separators.
func ParseFilename(p *Photo) {
	name := strings.TrimSuffix(p.Name, filepath.Ext(p.Name))
	spaced := strings.ReplaceAll(name, "_", " ")

	if m := trenchPattern.FindStringSubmatch(spaced); m != nil {
		p.Trench = m[1]
	}
	if m := locusPattern.FindStringSubmatch(spaced); m != nil {
		p.Locus = m[1]
	}
	for _, re := range layerPatterns {
		if m := re.FindStringSubmatch(spaced); m != nil {
			p.Layer = m[1]
			break
		}
	}

	for _, dp := range datePatterns {
		m := dp.re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		year, month, day := m[1], m[2], m[3]
		if !dp.yearFirst {
			day, year = m[1], m[3]
		}
		if t, ok := validDate(year, month, day); ok {
			p.DateFromName = &t
			break
		}
	}

	lower := strings.ToLower(name)
	for _, ak := range artifactKeywords {
		for _, kw := range ak.keywords {
			if strings.Contains(lower, kw) {
				p.ArtifactType = ak.kind
				return
			}
		}
	}
}

func validDate(year, month, day string) (time.Time, bool) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}
