// Package promptctx assembles the bounded background context injected
// into agent prompts: ranked artifact chunks merged with a live-site
// snapshot under a hard character budget.
package promptctx

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/magi-sh/magi/internal/core"
	"github.com/magi-sh/magi/internal/logging"
)

const (
	// DefaultBudget is the global character budget for combined context.
	DefaultBudget = 26000

	// DefaultArtifactFloor and DefaultLiveFloor bound the rebalance split
	// when both sources are present.
	DefaultArtifactFloor = 12000
	DefaultLiveFloor     = 4000

	// DefaultMaxChunks is the hard ceiling on selected chunks.
	DefaultMaxChunks = 1200

	// artifactShare is the fraction of the budget allotted to artifact
	// context when both sources compete.
	artifactShare = 0.65

	ellipsis  = "…"
	separator = "\n\n"
)

// Result is the assembled context plus its metadata.
type Result struct {
	Combined        string `json:"-"`
	ArtifactContext string `json:"-"`
	LiveContext     string `json:"-"`
	ApproxTokens    int    `json:"approxTokens"`
	ChunkCount      int    `json:"chunkCount"`
	FileCount       int    `json:"fileCount"`
	ArtifactTrimmed bool   `json:"artifactTrimmed"`
	LiveTrimmed     bool   `json:"liveTrimmed"`
}

// Assembler selects and merges context sources under the budget.
type Assembler struct {
	chunks        core.ChunkStore
	live          core.LiveContextFunc
	budget        int
	artifactFloor int
	liveFloor     int
	maxChunks     int
	logger        *logging.Logger
}

// AssemblerOption configures the assembler.
type AssemblerOption func(*Assembler)

// WithBudget sets the global character budget.
func WithBudget(budget int) AssemblerOption {
	return func(a *Assembler) {
		if budget > 0 {
			a.budget = budget
		}
	}
}

// WithFloors sets the rebalance floors.
func WithFloors(artifactFloor, liveFloor int) AssemblerOption {
	return func(a *Assembler) {
		if artifactFloor > 0 {
			a.artifactFloor = artifactFloor
		}
		if liveFloor > 0 {
			a.liveFloor = liveFloor
		}
	}
}

// WithMaxChunks sets the selection ceiling.
func WithMaxChunks(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.maxChunks = n
		}
	}
}

// New creates an assembler over a chunk store and a live-snapshot builder.
// Either collaborator may be nil when the corresponding source is unused.
func New(chunks core.ChunkStore, live core.LiveContextFunc, logger *logging.Logger, opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		chunks:        chunks,
		live:          live,
		budget:        DefaultBudget,
		artifactFloor: DefaultArtifactFloor,
		liveFloor:     DefaultLiveFloor,
		maxChunks:     DefaultMaxChunks,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Budget returns the configured character budget.
func (a *Assembler) Budget() int {
	return a.budget
}

// Assemble produces the combined context for a session. Both sources are
// optional; the returned combined string never exceeds the budget.
func (a *Assembler) Assemble(ctx context.Context, artifactID, liveURL, question string) (*Result, error) {
	result := &Result{}

	if artifactID != "" && a.chunks != nil {
		artifactCtx, err := a.buildArtifactContext(ctx, artifactID, question, result)
		if err != nil {
			return nil, err
		}
		result.ArtifactContext = artifactCtx
	}

	if liveURL != "" && a.live != nil {
		snapshot, err := a.live(ctx, liveURL)
		if err != nil {
			// A dead live site degrades to artifact-only context.
			a.logger.Warn("live snapshot failed", "url", liveURL, "error", err)
		} else {
			result.LiveContext = snapshot
		}
	}

	a.rebalance(result)

	result.Combined = join(result.ArtifactContext, result.LiveContext)
	result.ApproxTokens = len(result.Combined) / 4
	return result, nil
}

// buildArtifactContext ranks and selects chunks under the full budget.
// Manifest summary lines are prepended and count against the budget.
func (a *Assembler) buildArtifactContext(ctx context.Context, artifactID, question string, result *Result) (string, error) {
	artifact, err := a.chunks.GetArtifact(ctx, artifactID)
	if err != nil {
		return "", err
	}
	if artifact.Status != core.ArtifactStatusReady {
		return "", core.ErrConflict(core.CodeArtifactNotReady,
			fmt.Sprintf("artifact %s is %s, not ready", artifactID, artifact.Status))
	}

	chunks, err := a.chunks.ListArtifactChunks(ctx, artifactID, 0, "")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(manifestSummary(artifact))
	if b.Len() > a.budget {
		// Degenerate manifest larger than the whole budget.
		result.ArtifactTrimmed = true
		return trim(b.String(), a.budget), nil
	}

	ranked := rankChunks(chunks, artifact.Manifest, question)

	perFile := make(map[string]int)
	files := make(map[string]bool)
	selected := 0
	for _, sc := range ranked {
		if selected >= a.maxChunks {
			break
		}
		if perFile[sc.chunk.FilePath] >= fileCap(sc) {
			continue
		}

		snippet := fmt.Sprintf("File: %s [chunk %d]\n%s", sc.chunk.FilePath, sc.chunk.ChunkIndex, sc.chunk.Content)
		if b.Len()+len(separator)+len(snippet) > a.budget {
			result.ArtifactTrimmed = true
			break
		}

		b.WriteString(separator)
		b.WriteString(snippet)
		perFile[sc.chunk.FilePath]++
		files[sc.chunk.FilePath] = true
		selected++
	}

	result.ChunkCount = selected
	result.FileCount = len(files)
	return b.String(), nil
}

// rebalance trims the assembled sources so their combination fits the
// budget. Trimming never re-ranks: it truncates the already-assembled
// string and appends a single ellipsis.
func (a *Assembler) rebalance(result *Result) {
	artLen := len(result.ArtifactContext)
	liveLen := len(result.LiveContext)

	switch {
	case artLen > 0 && liveLen > 0:
		if artLen+liveLen+len(separator) <= a.budget {
			return
		}
		available := a.budget - len(separator)
		artBudget := int(float64(available) * artifactShare)
		if artBudget < a.artifactFloor {
			artBudget = a.artifactFloor
		}
		liveBudget := available - artBudget
		if liveBudget < a.liveFloor {
			liveBudget = a.liveFloor
			artBudget = available - liveBudget
		}
		if artLen > artBudget {
			result.ArtifactContext = trim(result.ArtifactContext, artBudget)
			result.ArtifactTrimmed = true
		}
		if liveLen > liveBudget {
			result.LiveContext = trim(result.LiveContext, liveBudget)
			result.LiveTrimmed = true
		}
	case artLen > a.budget:
		result.ArtifactContext = trim(result.ArtifactContext, a.budget)
		result.ArtifactTrimmed = true
	case liveLen > a.budget:
		result.LiveContext = trim(result.LiveContext, a.budget)
		result.LiveTrimmed = true
	}
}

// manifestSummary renders the bundle overview lines.
func manifestSummary(artifact *core.Artifact) string {
	m := artifact.Manifest
	var b strings.Builder
	fmt.Fprintf(&b, "Code bundle: %s\n", artifact.Name)
	fmt.Fprintf(&b, "Files: %d processed, %d skipped of %d total\n", m.ProcessedFiles, m.SkippedFiles, m.TotalFiles)

	if len(m.Languages) > 0 {
		langs := make([]string, 0, len(m.Languages))
		for lang := range m.Languages {
			langs = append(langs, lang)
		}
		sort.Slice(langs, func(i, j int) bool {
			if m.Languages[langs[i]] != m.Languages[langs[j]] {
				return m.Languages[langs[i]] > m.Languages[langs[j]]
			}
			return langs[i] < langs[j]
		})
		if len(langs) > topLanguageCount {
			langs = langs[:topLanguageCount]
		}
		fmt.Fprintf(&b, "Top languages: %s\n", strings.Join(langs, ", "))
	}
	if len(m.TopFiles) > 0 {
		fmt.Fprintf(&b, "Key files: %s\n", strings.Join(m.TopFiles, ", "))
	}
	return b.String()
}

// trim truncates s to fit within limit, appending a single ellipsis.
func trim(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit - len(ellipsis)
	if cut < 0 {
		cut = 0
	}
	// Avoid splitting a UTF-8 sequence at the cut point.
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + ellipsis
}

func join(artifact, live string) string {
	switch {
	case artifact == "":
		return live
	case live == "":
		return artifact
	default:
		return artifact + separator + live
	}
}
