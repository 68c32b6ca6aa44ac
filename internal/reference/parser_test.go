package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRefs(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Ref
	}{
		{
			name: "single reference",
			text: "What does @src/main.go do?",
			want: []Ref{{Path: "src/main.go", Raw: "@src/main.go", Offset: 10}},
		},
		{
			name: "multiple references",
			text: "@a.js and @b.js",
			want: []Ref{
				{Path: "a.js", Raw: "@a.js", Offset: 0},
				{Path: "b.js", Raw: "@b.js", Offset: 10},
			},
		},
		{
			name: "duplicate paths reported twice",
			text: "@x.go then @x.go again",
			want: []Ref{
				{Path: "x.go", Raw: "@x.go", Offset: 0},
				{Path: "x.go", Raw: "@x.go", Offset: 11},
			},
		},
		{
			name: "trailing lone at yields nothing",
			text: "ping me @",
			want: nil,
		},
		{
			name: "at followed by whitespace is plain text",
			text: "meet @ noon",
			want: nil,
		},
		{
			name: "second at stops the token",
			text: "@a@b",
			want: []Ref{{Path: "a", Raw: "@a", Offset: 0}},
		},
		{
			name: "no references",
			text: "plain question about the repo",
			want: nil,
		},
		{
			name: "multibyte text before the token",
			text: "héllo wörld @docs/intro.md",
			want: []Ref{{Path: "docs/intro.md", Raw: "@docs/intro.md", Offset: 12}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseRefs(tt.text))
		})
	}
}

func TestParseRefsIsPure(t *testing.T) {
	text := "check @pkg/util.go and @pkg/util.go"
	first := ParseRefs(text)
	second := ParseRefs(text)
	assert.Equal(t, first, second)
	assert.Len(t, first, 2)
}

func TestUniquePaths(t *testing.T) {
	refs := ParseRefs("@b.go @a.go @b.go @c.go")
	assert.Equal(t, []string{"b.go", "a.go", "c.go"}, UniquePaths(refs))
	assert.Nil(t, UniquePaths(nil))
}
