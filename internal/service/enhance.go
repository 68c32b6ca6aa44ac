package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/repochat-ai/assistant-platform/internal/model"
	"github.com/repochat-ai/assistant-platform/internal/reference"
)

// enhancement is the result of resolving a user message's references.
type enhancement struct {
	Enhanced string              // text sent to the LLM
	Refs     []string            // distinct paths the user referenced
	Contexts []model.CodeContext // derived views of the resolved files
	Resolved int
}

// buildEnhancement inlines resolved file content beneath the user's
// text. Unresolved references stay in the text as literal @path tokens;
// resolution failure never blocks the message. Files larger than
// maxInline are represented by extracted snippets instead of full text.
func buildEnhancement(ctx context.Context, resolver *reference.Resolver, repo model.Repository, content string, maxInline, maxSnippets int) enhancement {
	refs := reference.ParseRefs(content)
	if len(refs) == 0 {
		return enhancement{Enhanced: content}
	}

	paths := reference.UniquePaths(refs)
	resolutions := resolver.ResolveAll(ctx, repo, paths)

	out := enhancement{Refs: paths}
	var b strings.Builder
	b.WriteString(content)

	for _, path := range paths {
		res, ok := resolutions[path]
		if !ok {
			continue
		}
		out.Resolved++

		language := reference.LanguageForPath(path)
		snippets := reference.ExtractSnippets(res.Content, language, maxSnippets)
		out.Contexts = append(out.Contexts, model.CodeContext{
			Path:        path,
			DisplayName: filepath.Base(path),
			Language:    language,
			Size:        len(res.Content),
			Snippets:    snippets,
		})

		if len(res.Content) <= maxInline {
			fmt.Fprintf(&b, "\n\n--- Referenced file: %s ---\n", path)
			writeFence(&b, language, res.Content)
			continue
		}

		fmt.Fprintf(&b, "\n\n--- Referenced file: %s (%d chars, showing extracted snippets) ---\n", path, len(res.Content))
		if len(snippets) == 0 {
			writeFence(&b, language, truncateEllipsis(res.Content, maxInline))
			continue
		}
		for _, sn := range snippets {
			fmt.Fprintf(&b, "\n# %s %s (line %d)\n", sn.Type, sn.Name, sn.Line)
			writeFence(&b, language, sn.Content)
		}
	}

	out.Enhanced = b.String()
	return out
}

func writeFence(b *strings.Builder, language, content string) {
	b.WriteString("```")
	b.WriteString(language)
	b.WriteString("\n")
	b.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("```")
}
