package models

// UnknownSource and UnknownPage mark chunks whose stored metadata is missing.
const (
	UnknownSource = "unknown"
	UnknownPage   = 0
)

// Page is the plain text of a single page of a loaded document.
type Page struct {
	Source     string
	PageNumber int
	Content    string
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Content    string
	Source     string
	PageNumber int
	ChunkID    int
}

// ChatRequest is the body accepted by the chat endpoint.
type ChatRequest struct {
	Question string `json:"question"`
	K        int    `json:"k"`
}

// Source attributes part of an answer to a page of an uploaded file.
type Source struct {
	Source  string `json:"source"`
	Page    int    `json:"page"`
	Preview string `json:"preview"`
}

type ChatResponse struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

type UploadResponse struct {
	Status        string `json:"status"`
	Filename      string `json:"filename"`
	ChunksIndexed int    `json:"chunks_indexed"`
}

// UploadedFile describes a PDF kept in the uploads directory.
type UploadedFile struct {
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}
