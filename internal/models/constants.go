package models

const (
	ThinkTag         = `(?s)<think>.*?</think>`
	ContextSeparator = "\n---\n"
	PreviewLength    = 200
	MaxCitations     = 3
)

var (
	SystemPrompt = `You are an expert archaeological survey assistant. Your role is to help users with archaeological survey questions based on the provided context from archaeological documents.

Use the provided pieces of context to answer the question. If you don't know the answer based on the context, say so, but try to provide helpful information related to archaeological surveys in general.`

	QuestionPromptTemplate = `Context from archaeological documents:
%s

Question: %s

Provide a detailed, accurate answer based on the context. If the context doesn't fully answer the question, provide the best answer you can and mention what additional information might be needed.

Answer:`

	ArtifactPromptTemplate = `You are an archaeological artifact identification assistant. Analyze the following artifact description and provide:
1. Possible artifact type and identification
2. Likely time period or cultural context
3. Significance and importance
4. Recommended next steps (preservation, documentation, reporting)
5. Any legal or ethical considerations

Artifact description:
%s

Please provide a detailed, professional assessment.`
)

const (
	ModeGeneral        = "General Q&A"
	ModeArtifact       = "Artifact identification"
	ModeDating         = "Dating assistance"
	ModeStratigraphy   = "Stratigraphy analysis"
	ModePreservation   = "Site preservation"
	ModeClassification = "Site classification"
	ModePermits        = "Permit & legal compliance"
	ModeTemplates      = "Reporting & methodology templates"
	ModeEthics         = "Ethical guidelines"
	ModeCitation       = "Citation help"
	ModeTerminology    = "Terminology help"
)

// Modes lists the chat modes in display order.
var Modes = []string{
	ModeGeneral, ModeArtifact, ModeDating, ModeStratigraphy, ModePreservation, ModeClassification,
	ModePermits, ModeTemplates, ModeEthics, ModeCitation, ModeTerminology,
}

var ModePrefaces = map[string]string{
	ModeGeneral: "",
	ModeArtifact: "You are helping identify archaeological artifacts from textual descriptions. " +
		"Ask for material, form, decoration, context, and stratigraphic information when needed. ",
	ModeDating: "You are assisting with dating archaeological materials and contexts. " +
		"Discuss relative and absolute dating methods, their limitations, and confidence levels. ",
	ModeStratigraphy: "You are interpreting stratigraphic sequences. Focus on superposition, interfaces, " +
		"cuts, fills, and formation processes. ",
	ModePreservation: "You are advising on conservation and site preservation. Consider physical, chemical, " +
		"and human threats and recommend minimally invasive strategies. ",
	ModeClassification: "You are classifying archaeological sites based on descriptions, function, period, and setting. ",
	ModePermits: "You are guiding the user about permits, heritage laws, and legal compliance. " +
		"Always remind them to check the latest local regulations and consult authorities. ",
	ModeTemplates: "You are helping draft structured templates for survey methodologies and compliance reports. ",
	ModeEthics: "You are explaining ethical guidelines in archaeology, with emphasis on local communities " +
		"and long-term conservation. ",
	ModeCitation:    "You are generating properly formatted citations and bibliographic entries from the provided information. ",
	ModeTerminology: "You are explaining archaeological terminology in clear, concise language for students and practitioners. ",
}

const (
	ToolPermits     = "permits"
	ToolReport      = "report"
	ToolMethodology = "methodology"
	ToolCitation    = "citation"
)

// ToolPromptTemplates take the user input (and, for citations, the style first).
var ToolPromptTemplates = map[string]string{
	ToolPermits: "You are an archaeological regulatory assistant. " +
		"Based on the following project description, outline likely permit requirements, responsible authorities, " +
		"and key legal considerations. Use bullet points and clearly mark any assumptions.\n\nProject description:\n%s",
	ToolReport: "Generate a structured archaeological compliance report template. " +
		"Use headings and bullet points. Tailor it to the following project context:\n\n%s",
	ToolMethodology: "Create a detailed survey methodology template for this project, " +
		"including sampling strategy, recording system, and data management:\n\n%s",
	ToolCitation: "Format the following bibliographic details as a %s style citation. " +
		"If information is missing, clearly mark it with placeholders:\n\n%s",
}

var CitationStyles = []string{"Harvard", "Chicago", "APA", "Custom archaeological"}

var Glossary = map[string]string{
	"Assemblage":         "A group of artifacts found together in the same context.",
	"Context":            "The position of a find in relation to its surroundings, including stratigraphy and associated material.",
	"Feature":            "A non-portable element of a site such as a hearth, pit, posthole or wall.",
	"Fieldwalking":       "Systematic surface collection of artifacts across ploughed fields.",
	"Locus":              "A defined three-dimensional unit of excavation, often a layer or feature within a trench.",
	"Provenience":        "The exact three-dimensional location of an artifact within a site.",
	"Sherd":              "A broken fragment of pottery.",
	"Shovel test pit":    "A small excavated pit used to test for buried archaeological material during survey.",
	"Stratigraphy":       "The study of layered deposits and their sequence, based on the law of superposition.",
	"Survey transect":    "A line walked at fixed intervals across a survey area to record surface finds.",
	"Terminus post quem": "The earliest possible date for a deposit, given by the latest datable object within it.",
	"Trench":             "A rectangular excavation unit used to expose deposits and features.",
}
