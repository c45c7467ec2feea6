package ignore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_LiteralSegment(t *testing.T) {
	m, err := Compile([]string{".DS_Store"})
	require.NoError(t, err)

	assert.True(t, m.Matches(".DS_Store"))
	assert.True(t, m.Matches("assets/.DS_Store"))
	assert.False(t, m.Matches("assets/keep.txt"))
}

func TestMatcher_DirectoryPattern(t *testing.T) {
	m, err := Compile([]string{".git/"})
	require.NoError(t, err)

	assert.True(t, m.Matches(".git"))
	assert.True(t, m.Matches(".git/config"))
	assert.True(t, m.Matches(".git/objects/pack/abc"))
	assert.False(t, m.Matches("legit/config"))
}

func TestMatcher_Globstar(t *testing.T) {
	m, err := Compile([]string{".git/**"})
	require.NoError(t, err)

	assert.True(t, m.Matches(".git/config"))
	assert.True(t, m.Matches(".git/objects/pack/abc"))
	assert.False(t, m.Matches("src/.git/config")) // ** anchored at this pattern's own depth
}

func TestMatcher_StarQuestion(t *testing.T) {
	m, err := Compile([]string{"*.log", "build-?.tmp"})
	require.NoError(t, err)

	assert.True(t, m.Matches("debug.log"))
	assert.True(t, m.Matches("logs/debug.log")) // unanchored pattern matches at any depth
	assert.True(t, m.Matches("build-1.tmp"))
	assert.False(t, m.Matches("build-10.tmp"))
}

func TestMatcher_NilIsNoop(t *testing.T) {
	var m *Matcher
	assert.False(t, m.Matches("anything"))
	assert.Equal(t, []string{"a", "b"}, Filter(m, []string{"a", "b"}, func(s string) string { return s }))
}

func TestFilter(t *testing.T) {
	m, err := Compile([]string{".git/**", ".DS_Store"})
	require.NoError(t, err)

	items := []string{"index.html", ".git/config", "assets/.DS_Store", "style.css"}
	filtered := Filter(m, items, func(s string) string { return s })

	assert.Equal(t, []string{"index.html", "style.css"}, filtered)
}

func TestPatterns_PassThrough(t *testing.T) {
	m, err := Compile([]string{".git/**", "*.log"})
	require.NoError(t, err)
	assert.Equal(t, []string{".git/**", "*.log"}, m.Patterns())
}
