package core

import "time"

// ArtifactStatus tracks the upload/extraction pipeline state.
type ArtifactStatus string

const (
	ArtifactStatusProcessing ArtifactStatus = "processing"
	ArtifactStatusReady      ArtifactStatus = "ready"
	ArtifactStatusFailed     ArtifactStatus = "failed"
)

// ArtifactManifest summarizes an indexed code bundle. The context
// assembler's ranking reads top languages and key files from here.
type ArtifactManifest struct {
	TotalFiles     int            `json:"totalFiles"`
	ProcessedFiles int            `json:"processedFiles"`
	SkippedFiles   int            `json:"skippedFiles"`
	Languages      map[string]int `json:"languages"`
	TopFiles       []string       `json:"topFiles"`
}

// Artifact is an uploaded, chunk-indexed code bundle.
type Artifact struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Status    ArtifactStatus   `json:"status"`
	Manifest  ArtifactManifest `json:"manifest"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Chunk is one pre-extracted slice of an artifact file.
type Chunk struct {
	ArtifactID    string `json:"artifactId"`
	FilePath      string `json:"filePath"`
	ChunkIndex    int    `json:"chunkIndex"`
	Language      string `json:"language"`
	Content       string `json:"content"`
	TokenEstimate int    `json:"tokenEstimate"`
}
