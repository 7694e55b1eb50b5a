// Package extract pulls coordinates, dates and site identifiers out of survey text for maps
// and timelines.
package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

const contextWindow = 100

type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Format    string  `json:"format"`
	Context   string  `json:"context"`
	SiteName  string  `json:"site_name,omitempty"`
}

// DateMention is a year or year range. BCE years are negative.
type DateMention struct {
	Label     string `json:"label"`
	StartYear int    `json:"start_year"`
	EndYear   int    `json:"end_year"`
	Context   string `json:"context"`
	SiteName  string `json:"site_name,omitempty"`
}

type Site struct {
	Name    string `json:"site_name"`
	Type    string `json:"site_type"`
	Context string `json:"context"`
}

// Result holds everything extracted from one document.
type Result struct {
	Source      string        `json:"source"`
	Coordinates []Coordinate  `json:"coordinates"`
	Dates       []DateMention `json:"dates"`
	Sites       []Site        `json:"sites"`
}

func Extract(source, text string) *Result {
	r := &Result{
		Source:      source,
		Coordinates: Coordinates(text),
		Dates:       Dates(text),
		Sites:       Sites(text),
	}
	log.Info().
		Str("source", source).
		Int("coordinates", len(r.Coordinates)).
		Int("dates", len(r.Dates)).
		Int("sites", len(r.Sites)).
		Msg("Structured data extracted")
	return r
}

// snippet returns the text around [start, end) with newlines flattened. Offsets are bytes and
// are moved onto rune boundaries.
func snippet(text string, start, end int) string {
	start = max(0, start-contextWindow)
	end = min(len(text), end+contextWindow)
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return strings.TrimSpace(strings.ReplaceAll(text[start:end], "\n", " "))
}

var (
	decimalWithDirs = regexp.MustCompile(
		`(?P<lat>-?\d{1,2}\.?\d*)\s*°?\s*[,\s]*(?P<latdir>[NS])[,\s]*` +
			`(?P<lon>-?\d{1,3}\.?\d*)\s*°?\s*[,\s]*(?P<londir>[EW])`)
	dmsPattern = regexp.MustCompile(
		`(?:N|S|North|South)?\s*(?P<latdeg>\d{1,2})°\s*(?P<latmin>\d{1,2})['′]\s*(?P<latsec>\d{1,2}(?:\.\d+)?)["″]?\s*(?P<latdir>[NS])` +
			`[,\s]+` +
			`(?:E|W|East|West)?\s*(?P<londeg>\d{1,3})°\s*(?P<lonmin>\d{1,2})['′]\s*(?P<lonsec>\d{1,2}(?:\.\d+)?)["″]?\s*(?P<londir>[EW])`)
	simpleDecimal = regexp.MustCompile(`(?P<lat>-?\d{1,2}\.\d{2,6})[,\s]+(?P<lon>-?\d{1,3}\.\d{2,6})`)
	utmPattern    = regexp.MustCompile(`(?i)UTM\s+Zone\s+(\d{1,2})([NS])\s+(\d{6,7})\s+(\d{7,8})`)
)

func group(re *regexp.Regexp, m []string, name string) string {
	return m[re.SubexpIndex(name)]
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func dmsToDecimal(deg, minutes, seconds float64, dir string) float64 {
	v := deg + minutes/60 + seconds/3600
	if dir == "S" || dir == "W" {
		v = -v
	}
	return v
}

// Coordinates finds latitude/longitude pairs in decimal-with-direction, DMS and bare decimal
// form. UTM references are recognised but not converted.
func Coordinates(text string) []Coordinate {
	var out []Coordinate
	seen := make(map[[2]float64]bool)

	add := func(lat, lon float64, format string, loc []int) {
		if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			return
		}
		key := [2]float64{math.Round(lat*1e6) / 1e6, math.Round(lon*1e6) / 1e6}
		if seen[key] {
			return
		}
		seen[key] = true
		ctx := snippet(text, loc[0], loc[1])
		out = append(out, Coordinate{
			Latitude:  lat,
			Longitude: lon,
			Format:    format,
			Context:   ctx,
			SiteName:  siteNameFromContext(ctx),
		})
	}

	re := decimalWithDirs
	for _, idx := range re.FindAllStringSubmatchIndex(text, -1) {
		m := submatches(text, idx)
		lat, lon := parseFloat(group(re, m, "lat")), parseFloat(group(re, m, "lon"))
		if group(re, m, "latdir") == "S" {
			lat = -lat
		}
		if group(re, m, "londir") == "W" {
			lon = -lon
		}
		add(lat, lon, "decimal", idx)
	}

	re = dmsPattern
	for _, idx := range re.FindAllStringSubmatchIndex(text, -1) {
		m := submatches(text, idx)
		lat := dmsToDecimal(parseFloat(group(re, m, "latdeg")), parseFloat(group(re, m, "latmin")),
			parseFloat(group(re, m, "latsec")), group(re, m, "latdir"))
		lon := dmsToDecimal(parseFloat(group(re, m, "londeg")), parseFloat(group(re, m, "lonmin")),
			parseFloat(group(re, m, "lonsec")), group(re, m, "londir"))
		add(lat, lon, "dms", idx)
	}

	re = simpleDecimal
	for _, idx := range re.FindAllStringSubmatchIndex(text, -1) {
		m := submatches(text, idx)
		add(parseFloat(group(re, m, "lat")), parseFloat(group(re, m, "lon")), "decimal", idx)
	}

	for _, m := range utmPattern.FindAllString(text, -1) {
		log.Debug().Str("utm", m).Msg("Found UTM coordinates, conversion not supported")
	}
	return out
}

func submatches(text string, idx []int) []string {
	m := make([]string, len(idx)/2)
	for i := range m {
		if idx[2*i] >= 0 {
			m[i] = text[idx[2*i]:idx[2*i+1]]
		}
	}
	return m
}

var (
	ceRange     = regexp.MustCompile(`(?i)(?:from|between|during)?\s*\b(?P<start>(?:18|19|20)\d{2})\s*(?:to|-|–)\s*(?P<end>(?:18|19|20)\d{2})\b`)
	bceRange    = regexp.MustCompile(`(?i)\b(?P<start>\d{3,4})\s*(?:-|–)\s*(?P<end>\d{3,4})\s*(?:B\.C\.E\.|B\.C\.|BCE|BC)`)
	bceSingle   = regexp.MustCompile(`(?i)\b(?P<year>\d{3,4})\s*(?:B\.C\.E\.|B\.C\.|BCE\b|BC\b)`)
	seasonal    = regexp.MustCompile(`(?i)(?:summer|winter|spring|fall|autumn|field\s+season|excavated|surveyed|dated)\s+(?:in\s+)?(?P<year>(?:18|19|20)\d{2})\b`)
	standalone  = regexp.MustCompile(`\b(?:18|19|20)\d{2}\b`)
	bceSuffix   = regexp.MustCompile(`(?i)^\s*(?:B\.C|BC)`)
	numberNoise = regexp.MustCompile(`UTM|Zone|\d{6,}`)
)

// Dates finds CE ranges, BCE ranges, single BCE years, seasonal mentions and standalone years.
// A year already covered by an earlier range is not repeated.
func Dates(text string) []DateMention {
	var out []DateMention
	seen := make(map[[2]int]bool)
	var bceSpans [][]int

	covered := func(year int) bool {
		for _, d := range out {
			if d.StartYear <= year && year <= d.EndYear {
				return true
			}
		}
		return false
	}
	inBCE := func(idx []int) bool {
		for _, s := range bceSpans {
			if idx[0] < s[1] && s[0] < idx[1] {
				return true
			}
		}
		return false
	}
	add := func(label string, start, end int, idx []int) {
		ctx := snippet(text, idx[0], idx[1])
		out = append(out, DateMention{
			Label:     label,
			StartYear: start,
			EndYear:   end,
			Context:   ctx,
			SiteName:  siteNameFromContext(ctx),
		})
	}

	for _, idx := range bceRange.FindAllStringSubmatchIndex(text, -1) {
		bceSpans = append(bceSpans, idx[:2])
	}
	for _, idx := range bceSingle.FindAllStringIndex(text, -1) {
		bceSpans = append(bceSpans, idx)
	}

	for _, idx := range ceRange.FindAllStringSubmatchIndex(text, -1) {
		if bceSuffix.MatchString(text[idx[1]:]) {
			continue
		}
		m := submatches(text, idx)
		start, _ := strconv.Atoi(group(ceRange, m, "start"))
		end, _ := strconv.Atoi(group(ceRange, m, "end"))
		if start > end {
			start, end = end, start
		}
		if seen[[2]int{start, end}] {
			continue
		}
		seen[[2]int{start, end}] = true
		add(strconv.Itoa(start)+"-"+strconv.Itoa(end), start, end, idx)
	}

	for _, idx := range bceRange.FindAllStringSubmatchIndex(text, -1) {
		m := submatches(text, idx)
		older, _ := strconv.Atoi(group(bceRange, m, "start"))
		younger, _ := strconv.Atoi(group(bceRange, m, "end"))
		if older < younger {
			older, younger = younger, older
		}
		if seen[[2]int{-older, -younger}] {
			continue
		}
		seen[[2]int{-older, -younger}] = true
		add(strconv.Itoa(older)+"–"+strconv.Itoa(younger)+" BCE", -older, -younger, idx)
	}

	for _, idx := range bceSingle.FindAllStringSubmatchIndex(text, -1) {
		m := submatches(text, idx)
		y, _ := strconv.Atoi(group(bceSingle, m, "year"))
		if covered(-y) {
			continue
		}
		add(strconv.Itoa(y)+" BCE", -y, -y, idx)
	}

	for _, idx := range seasonal.FindAllStringSubmatchIndex(text, -1) {
		m := submatches(text, idx)
		y, _ := strconv.Atoi(group(seasonal, m, "year"))
		if covered(y) {
			continue
		}
		add(strconv.Itoa(y), y, y, idx)
	}

	for _, idx := range standalone.FindAllStringIndex(text, -1) {
		y, _ := strconv.Atoi(text[idx[0]:idx[1]])
		if covered(y) || inBCE(idx) {
			continue
		}
		if numberNoise.MatchString(text[max(0, idx[0]-5):min(len(text), idx[1]+5)]) {
			continue
		}
		add(strconv.Itoa(y), y, y, idx)
	}
	return out
}

var (
	siteNumbered = regexp.MustCompile(`(?im)Site\s+(\d+)[:\s]+([A-Za-z][A-Za-z\s\-]+?)(?:[,\s\.]|$)`)
	siteCoded    = regexp.MustCompile(`(?i)([A-Z]{2,4}-?\d{1,4})\s*\(([^)]+)\)`)
	trenchRef    = regexp.MustCompile(`(?i)Trench\s+([A-Z]?-?\d+)`)
	locusRef     = regexp.MustCompile(`(?i)Locus\s+([A-Z]?-?\d+)`)
	moundRef     = regexp.MustCompile(`(?i)Mound\s+([A-Z])\s+at\s+Site\s+(\d+)`)
	featureRef   = regexp.MustCompile(`(?i)(Trench|Locus|Mound)\s+([A-Z]?-?\d+)`)
)

// Sites finds numbered sites, coded sites, trenches, loci and mounds. Names are unique.
func Sites(text string) []Site {
	var out []Site
	seen := make(map[string]bool)
	add := func(name, kind string, idx []int) {
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, Site{Name: name, Type: kind, Context: snippet(text, idx[0], idx[1])})
	}

	for _, idx := range siteNumbered.FindAllStringSubmatchIndex(text, -1) {
		m := submatches(text, idx)
		add("Site "+m[1]+": "+strings.TrimSpace(m[2]), "Site", idx)
	}
	for _, idx := range siteCoded.FindAllStringSubmatchIndex(text, -1) {
		m := submatches(text, idx)
		add(m[1]+" ("+m[2]+")", "Site", idx)
	}
	for _, idx := range trenchRef.FindAllStringSubmatchIndex(text, -1) {
		add("Trench "+submatches(text, idx)[1], "Trench", idx)
	}
	for _, idx := range locusRef.FindAllStringSubmatchIndex(text, -1) {
		add("Locus "+submatches(text, idx)[1], "Locus", idx)
	}
	for _, idx := range moundRef.FindAllStringSubmatchIndex(text, -1) {
		m := submatches(text, idx)
		add("Mound "+m[1]+" at Site "+m[2], "Mound", idx)
	}
	return out
}

func siteNameFromContext(ctx string) string {
	if m := siteNumbered.FindStringSubmatch(ctx); m != nil {
		return "Site " + m[1] + ": " + strings.TrimSpace(m[2])
	}
	if m := siteCoded.FindStringSubmatch(ctx); m != nil {
		return m[1] + " (" + m[2] + ")"
	}
	if m := featureRef.FindStringSubmatch(ctx); m != nil {
		return m[1] + " " + m[2]
	}
	if m := moundRef.FindStringSubmatch(ctx); m != nil {
		return "Mound " + m[1] + " at Site " + m[2]
	}
	return ""
}
