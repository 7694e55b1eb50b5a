package api

import (
	"time"

	"archaeo-rag/internal/artifact"
	"archaeo-rag/internal/index"
	"archaeo-rag/internal/models"
	"archaeo-rag/internal/photo"
)

type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	IndexLoaded bool   `json:"index_loaded"`
}

type SessionResponse struct {
	ID        string    `json:"id"`
	Mode      string    `json:"mode"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatRequest struct {
	Question string `json:"question" description:"Question about the survey documents"`
	Mode     string `json:"mode,omitempty" description:"Chat mode; keeps the session mode when empty"`
}

type ToolRequest struct {
	Input string `json:"input" description:"Project description or bibliographic details"`
	Style string `json:"style,omitempty" description:"Citation style for the citation tool"`
}

type AnswerResponse struct {
	Question   string                `json:"question"`
	Answer     string                `json:"answer"`
	AnswerHTML string                `json:"answer_html"`
	Mode       string                `json:"mode"`
	Sources    []models.SearchResult `json:"sources"`
	Citations  []models.Citation     `json:"citations"`
}

type IndexStatus struct {
	Loaded   bool            `json:"loaded"`
	Exists   bool            `json:"exists"`
	Backend  string          `json:"backend"`
	ModelTag string          `json:"model_tag"`
	Manifest *index.Manifest `json:"manifest,omitempty"`
}

type IndexResponse struct {
	Source      string         `json:"source"`
	Strategy    string         `json:"strategy"`
	Pages       int            `json:"pages"`
	Chunks      int            `json:"chunks"`
	Manifest    index.Manifest `json:"manifest"`
	Coordinates int            `json:"coordinates"`
	Dates       int            `json:"dates"`
	Sites       int            `json:"sites"`
}

type ModesResponse struct {
	Modes          []string `json:"modes"`
	Tools          []string `json:"tools"`
	CitationStyles []string `json:"citation_styles"`
	PhotoGroups    []string `json:"photo_groups"`
}

type GlossaryEntry struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

type PhotoScanRequest struct {
	Directory string `json:"directory" description:"Directory scanned recursively for photos"`
	GroupBy   string `json:"group_by,omitempty" description:"trench, locus, artifact, stratigraphy or date"`
}

type PhotoScanResponse struct {
	Photos     []photo.Photo  `json:"photos"`
	Stats      photo.Stats    `json:"stats"`
	GroupBy    string         `json:"group_by"`
	Groups     map[string]int `json:"groups"`
	Duplicates []DuplicateSet `json:"duplicates"`
	Report     string         `json:"report"`
	ReportHTML string         `json:"report_html"`
}

// DuplicateSet lists photos that share size and dimensions.
type DuplicateSet struct {
	Paths []string `json:"paths"`
}

type PhotoOrganizeRequest struct {
	Directory   string `json:"directory"`
	Destination string `json:"destination"`
	GroupBy     string `json:"group_by"`
}

type QuestionsResponse struct {
	Questions []artifact.Question `json:"questions"`
}
