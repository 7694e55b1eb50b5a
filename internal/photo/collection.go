package photo

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"archaeo-rag/internal/helper"

	"github.com/rs/zerolog/log"
)

const (
	GroupTrench       = "trench"
	GroupLocus        = "locus"
	GroupArtifact     = "artifact"
	GroupStratigraphy = "stratigraphy"
	GroupDate         = "date"

	unknownGroup = "Unknown"
	noDateGroup  = "No Date"
)

var ErrUnknownGrouping = errors.New("unknown grouping")

// GroupKeys lists the supported grouping keys in display order.
var GroupKeys = []string{GroupTrench, GroupLocus, GroupArtifact, GroupStratigraphy, GroupDate}

type Collection struct {
	Photos []Photo `json:"photos"`
}

// Stats summarises a collection.
type Stats struct {
	Total          int            `json:"total_photos"`
	ByTrench       map[string]int `json:"by_trench"`
	ByLocus        map[string]int `json:"by_locus"`
	ByArtifactType map[string]int `json:"by_artifact_type"`
	ByStratigraphy map[string]int `json:"by_stratigraphy"`
	DateFrom       *time.Time     `json:"date_from,omitempty"`
	DateTo         *time.Time     `json:"date_to,omitempty"`
	DuplicateCount int            `json:"duplicate_count"`
	NoTrench       int            `json:"no_trench"`
	NoLocus        int            `json:"no_locus"`
	NoDate         int            `json:"no_date"`
}

// OrganizeResult maps each group to the files copied into it.
type OrganizeResult struct {
	Destination string              `json:"destination"`
	GroupBy     string              `json:"group_by"`
	Groups      map[string][]string `json:"groups"`
	Copied      int                 `json:"copied"`
}

func groupValue(p *Photo, key string) (string, error) {
	var v string
	switch key {
	case GroupTrench:
		v = p.Trench
	case GroupLocus:
		v = p.Locus
	case GroupArtifact:
		v = p.ArtifactType
	case GroupStratigraphy:
		v = p.Layer
	case GroupDate:
		d := p.Date()
		if d.IsZero() {
			return noDateGroup, nil
		}
		return d.Format("2006-01-02"), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownGrouping, key)
	}
	if v == "" {
		return unknownGroup, nil
	}
	return v, nil
}

// GroupBy buckets photos by one of GroupKeys. Photos without a value land in "Unknown",
// or "No Date" for the date key.
func (c *Collection) GroupBy(key string) (map[string][]Photo, error) {
	groups := make(map[string][]Photo)
	for i := range c.Photos {
		g, err := groupValue(&c.Photos[i], key)
		if err != nil {
			return nil, err
		}
		groups[g] = append(groups[g], c.Photos[i])
	}
	return groups, nil
}

func (c *Collection) counts(key string) map[string]int {
	groups, _ := c.GroupBy(key)
	out := make(map[string]int, len(groups))
	for k, v := range groups {
		out[k] = len(v)
	}
	return out
}

// Duplicates returns groups of photos sharing file size and dimensions.
func (c *Collection) Duplicates() [][]Photo {
	type key struct {
		size   int64
		width  int
		height int
	}
	index := make(map[key]int)
	var groups [][]Photo
	for _, p := range c.Photos {
		k := key{p.Size, p.Width, p.Height}
		i, seen := index[k]
		if !seen {
			index[k] = len(groups)
			groups = append(groups, []Photo{p})
			continue
		}
		groups[i] = append(groups[i], p)
	}

	var dups [][]Photo
	for _, g := range groups {
		if len(g) > 1 {
			dups = append(dups, g)
		}
	}
	return dups
}

func (c *Collection) Stats() Stats {
	s := Stats{
		Total:          len(c.Photos),
		ByTrench:       c.counts(GroupTrench),
		ByLocus:        c.counts(GroupLocus),
		ByArtifactType: c.counts(GroupArtifact),
		ByStratigraphy: c.counts(GroupStratigraphy),
		DuplicateCount: len(c.Duplicates()),
	}
	for i := range c.Photos {
		p := &c.Photos[i]
		if p.Trench == "" {
			s.NoTrench++
		}
		if p.Locus == "" {
			s.NoLocus++
		}
		if !p.HasRecordedDate() {
			s.NoDate++
			continue
		}
		d := p.Date()
		if s.DateFrom == nil || d.Before(*s.DateFrom) {
			s.DateFrom = &d
		}
		if s.DateTo == nil || d.After(*s.DateTo) {
			s.DateTo = &d
		}
	}
	return s
}

// Report renders a markdown field report of the collection.
func (c *Collection) Report(now time.Time) string {
	s := c.Stats()
	var b strings.Builder
	b.WriteString("# Archaeological Dig Photo Report\n")
	fmt.Fprintf(&b, "Generated: %s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Total Photos: %d\n\n", s.Total)
	b.WriteString("## Summary by Category\n\n")

	section := func(title, prefix string, counts map[string]int) {
		fmt.Fprintf(&b, "### %s\n", title)
		for _, k := range sortedKeys(counts) {
			fmt.Fprintf(&b, "- %s%s: %d photos\n", prefix, k, counts[k])
		}
		b.WriteString("\n")
	}
	section("By Trench", "Trench ", s.ByTrench)
	section("By Locus", "Locus ", s.ByLocus)
	section("By Artifact Type", "", s.ByArtifactType)
	section("By Date", "", c.counts(GroupDate))

	if s.DuplicateCount > 0 {
		b.WriteString("### Potential Duplicates\n")
		fmt.Fprintf(&b, "Found %d potential duplicate groups\n\n", s.DuplicateCount)
	}

	b.WriteString("### Missing Documentation\n")
	fmt.Fprintf(&b, "- Photos without trench number: %d\n", s.NoTrench)
	fmt.Fprintf(&b, "- Photos without locus number: %d\n", s.NoLocus)
	fmt.Fprintf(&b, "- Photos without date: %d\n", s.NoDate)
	return b.String()
}

// Organize copies every photo into dest/<group>/. Source files are left untouched and name
// collisions inside a group get a numeric suffix.
func (c *Collection) Organize(dest, key string) (*OrganizeResult, error) {
	groups, err := c.GroupBy(key)
	if err != nil {
		return nil, err
	}

	res := &OrganizeResult{Destination: dest, GroupBy: key, Groups: make(map[string][]string)}
	for _, g := range sortedKeys(groups) {
		dir := filepath.Join(dest, safeDirName(g))
		if err := helper.CreateFolder(dir); err != nil {
			return res, err
		}
		for _, p := range groups[g] {
			target := helper.UniquePath(filepath.Join(dir, p.Name))
			if err := helper.CopyFile(p.Path, target); err != nil {
				log.Warn().Err(err).Str("photo", p.Path).Msg("Could not copy photo")
				continue
			}
			res.Groups[g] = append(res.Groups[g], target)
			res.Copied++
		}
	}
	log.Info().Str("dest", dest).Str("group_by", key).Int("copied", res.Copied).Msg("Photos organized")
	return res, nil
}

func safeDirName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ':' {
			return '_'
		}
		return r
	}, s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
