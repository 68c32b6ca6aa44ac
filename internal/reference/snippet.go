package reference

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/repochat-ai/assistant-platform/internal/model"
)

// snippetMaxLines bounds how much of a declaration body a snippet keeps.
const snippetMaxLines = 12

var languageByExt = map[string]string{
	".go":    "go",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".py":    "python",
	".rb":    "ruby",
	".java":  "java",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".sh":    "shell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".md":    "markdown",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
}

// LanguageForPath derives a language tag from the file extension.
func LanguageForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	return ""
}

type declPattern struct {
	re        *regexp.Regexp
	kind      model.SnippetType
	nameGroup int
}

var (
	goPatterns = []declPattern{
		{regexp.MustCompile(`^func\s+(?:\([^)]+\)\s+)?(\w+)\s*\(`), model.SnippetFunction, 1},
		{regexp.MustCompile(`^type\s+(\w+)\s+interface\b`), model.SnippetInterface, 1},
		{regexp.MustCompile(`^type\s+(\w+)\s+struct\b`), model.SnippetClass, 1},
	}
	jsPatterns = []declPattern{
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*(\w+)\s*\(`), model.SnippetFunction, 1},
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?\(`), model.SnippetFunction, 1},
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:abstract\s+)?class\s+(\w+)`), model.SnippetClass, 1},
		{regexp.MustCompile(`^\s*(?:export\s+)?interface\s+(\w+)`), model.SnippetInterface, 1},
	}
	pyPatterns = []declPattern{
		{regexp.MustCompile(`^\s*(?:async\s+)?def\s+(\w+)\s*\(`), model.SnippetFunction, 1},
		{regexp.MustCompile(`^\s*class\s+(\w+)`), model.SnippetClass, 1},
	}
	genericPatterns = []declPattern{
		{regexp.MustCompile(`^\s*(?:public|private|protected)?\s*(?:static\s+)?(?:abstract\s+)?class\s+(\w+)`), model.SnippetClass, 1},
		{regexp.MustCompile(`^\s*(?:public|private|protected)?\s*interface\s+(\w+)`), model.SnippetInterface, 1},
		{regexp.MustCompile(`^\s*(?:pub\s+)?fn\s+(\w+)\s*\(`), model.SnippetFunction, 1},
	}
)

func patternsFor(language string) []declPattern {
	switch language {
	case "go":
		return goPatterns
	case "javascript", "typescript":
		return jsPatterns
	case "python", "ruby":
		return pyPatterns
	case "markdown", "json", "yaml", "toml", "html", "css":
		return nil
	default:
		return genericPatterns
	}
}

// ExtractSnippets pulls the structurally interesting regions out of a
// file: the leading comment block plus declaration bodies, capped at max
// snippets. Results are derived and regenerated on every re-reference.
func ExtractSnippets(content, language string, max int) []model.Snippet {
	if max <= 0 || content == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	var snippets []model.Snippet

	if lead := leadingComment(lines, language); lead != nil {
		snippets = append(snippets, *lead)
	}

	patterns := patternsFor(language)
	for i := 0; i < len(lines) && len(snippets) < max; i++ {
		for _, p := range patterns {
			groups := p.re.FindStringSubmatch(lines[i])
			if groups == nil {
				continue
			}
			snippets = append(snippets, model.Snippet{
				Type:    p.kind,
				Name:    groups[p.nameGroup],
				Content: captureBlock(lines, i),
				Line:    i + 1,
			})
			break
		}
	}
	return snippets
}

// captureBlock keeps the declaration line and its body up to a blank
// line at the declaration's indent level, bounded by snippetMaxLines.
func captureBlock(lines []string, start int) string {
	end := start + 1
	for end < len(lines) && end-start < snippetMaxLines {
		if strings.TrimSpace(lines[end]) == "" && !deeperIndent(lines[start], peekNext(lines, end)) {
			break
		}
		end++
	}
	return strings.Join(lines[start:end], "\n")
}

func peekNext(lines []string, i int) string {
	if i+1 < len(lines) {
		return lines[i+1]
	}
	return ""
}

func deeperIndent(decl, line string) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	return indentOf(line) > indentOf(decl)
}

func indentOf(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t"))
}

// leadingComment captures the comment block at the top of the file, if any.
func leadingComment(lines []string, language string) *model.Snippet {
	linePrefix, blockOpen, blockClose := commentMarkers(language)
	if linePrefix == "" && blockOpen == "" {
		return nil
	}

	var collected []string
	inBlock := false
scan:
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case inBlock:
			collected = append(collected, line)
			if strings.Contains(trimmed, blockClose) {
				inBlock = false
			}
		case blockOpen != "" && strings.HasPrefix(trimmed, blockOpen):
			collected = append(collected, line)
			if !strings.Contains(trimmed[len(blockOpen):], blockClose) {
				inBlock = true
			}
		case linePrefix != "" && strings.HasPrefix(trimmed, linePrefix):
			collected = append(collected, line)
		case trimmed == "" && len(collected) == 0:
			continue
		default:
			break scan
		}
		if len(collected) >= snippetMaxLines {
			break
		}
	}
	if len(collected) == 0 {
		return nil
	}
	return &model.Snippet{
		Type:    model.SnippetComment,
		Content: strings.Join(collected, "\n"),
		Line:    1,
	}
}

func commentMarkers(language string) (linePrefix, blockOpen, blockClose string) {
	switch language {
	case "python", "ruby", "shell", "yaml", "toml":
		return "#", "", ""
	case "html":
		return "", "<!--", "-->"
	case "css":
		return "", "/*", "*/"
	case "markdown", "json", "":
		return "", "", ""
	default:
		return "//", "/*", "*/"
	}
}
