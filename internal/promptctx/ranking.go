package promptctx

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/magi-sh/magi/internal/core"
)

// Ranking boosts. Each candidate chunk accumulates independent boosts;
// higher totals are selected first.
const (
	boostPriorityExt = 4
	boostTopFile     = 3
	boostTopLanguage = 2
	boostKeyword     = 3
	boostFirstChunk  = 2
	boostEarlyChunk  = 1
	penaltyTestPath  = -2
	penaltyDocsPath  = -1
)

// Per-file selection caps.
const (
	fileCapBase     = 3
	fileCapPriority = 6
	fileCapKeyword  = 3
	fileCapTopFile  = 2
	fileCapMax      = 12
)

// topLanguageCount is how many of the artifact's most common languages
// earn the language boost.
const topLanguageCount = 4

// priorityExtensions are markup/template file types that tend to describe
// the user-visible surface of a bundle.
var priorityExtensions = map[string]bool{
	".html": true, ".htm": true, ".xhtml": true,
	".tmpl": true, ".tpl": true, ".gotmpl": true,
	".vue": true, ".svelte": true,
	".jsx": true, ".tsx": true,
	".erb": true, ".ejs": true, ".hbs": true, ".mustache": true,
}

var keywordPattern = regexp.MustCompile(`[a-z0-9]{4,}`)

// questionKeywords extracts lowercase tokens of four or more characters
// from the user's question.
func questionKeywords(question string) []string {
	return keywordPattern.FindAllString(strings.ToLower(question), -1)
}

// scoredChunk pairs a chunk with its ranking score.
type scoredChunk struct {
	chunk      *core.Chunk
	score      int
	keywordHit bool
	topFile    bool
	priority   bool
}

// rankChunks scores every candidate chunk against the manifest and the
// question, returning them sorted by score descending with ties broken by
// ascending chunk index (keeps early-file context together).
func rankChunks(chunks []*core.Chunk, manifest core.ArtifactManifest, question string) []scoredChunk {
	keywords := questionKeywords(question)
	topLangs := topLanguages(manifest.Languages)
	topFiles := make(map[string]bool, len(manifest.TopFiles))
	for _, f := range manifest.TopFiles {
		topFiles[f] = true
	}

	scored := make([]scoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		sc := scoredChunk{chunk: chunk}
		lowerPath := strings.ToLower(chunk.FilePath)

		if priorityExtensions[strings.ToLower(path.Ext(chunk.FilePath))] {
			sc.score += boostPriorityExt
			sc.priority = true
		}
		if topFiles[chunk.FilePath] {
			sc.score += boostTopFile
			sc.topFile = true
		}
		if topLangs[strings.ToLower(chunk.Language)] {
			sc.score += boostTopLanguage
		}
		for _, kw := range keywords {
			if strings.Contains(lowerPath, kw) {
				sc.score += boostKeyword
				sc.keywordHit = true
				break
			}
		}
		switch {
		case chunk.ChunkIndex == 0:
			sc.score += boostFirstChunk
		case chunk.ChunkIndex <= 2:
			sc.score += boostEarlyChunk
		}
		if isTestPath(lowerPath) {
			sc.score += penaltyTestPath
		}
		if isDocsPath(lowerPath) {
			sc.score += penaltyDocsPath
		}

		scored = append(scored, sc)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].chunk.ChunkIndex < scored[j].chunk.ChunkIndex
	})
	return scored
}

// fileCap computes how many chunks of one file may be selected.
func fileCap(sc scoredChunk) int {
	cap := fileCapBase
	if sc.priority {
		cap = fileCapPriority
	}
	if sc.keywordHit {
		cap += fileCapKeyword
	}
	if sc.topFile {
		cap += fileCapTopFile
	}
	if cap > fileCapMax {
		cap = fileCapMax
	}
	return cap
}

func topLanguages(counts map[string]int) map[string]bool {
	type langCount struct {
		lang  string
		count int
	}
	all := make([]langCount, 0, len(counts))
	for lang, count := range counts {
		all = append(all, langCount{strings.ToLower(lang), count})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].count != all[j].count {
			return all[i].count > all[j].count
		}
		return all[i].lang < all[j].lang
	})

	top := make(map[string]bool, topLanguageCount)
	for i, lc := range all {
		if i >= topLanguageCount {
			break
		}
		top[lc.lang] = true
	}
	return top
}

func isTestPath(lowerPath string) bool {
	for _, marker := range []string{"test", "spec", "fixture", "mock"} {
		if strings.Contains(lowerPath, marker) {
			return true
		}
	}
	return false
}

func isDocsPath(lowerPath string) bool {
	for _, marker := range []string{"readme", "docs/", "changelog"} {
		if strings.Contains(lowerPath, marker) {
			return true
		}
	}
	return false
}
