package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleFiles() []DiffFile {
	return []DiffFile{
		{Path: "index.html", Status: "M"},
		{Path: "src/app.js", Status: "M"},
		{Path: "src/lib/util.js", Status: "A"},
		{Path: "src/lib/old.js", Status: "D"},
		{Path: "styles.css", Status: "A"},
	}
}

func TestLevelNodes_RootSeparatesFilesAndDirs(t *testing.T) {
	nodes := levelNodes(sampleFiles(), "")
	paths := make([]string, len(nodes))
	for i, n := range nodes {
		paths[i] = n.Path
	}
	assert.Equal(t, []string{"index.html", "src", "styles.css"}, paths)

	for _, n := range nodes {
		if n.Path == "src" {
			assert.True(t, n.IsDir)
			assert.False(t, n.Loaded, "root-level directory starts unloaded")
		} else {
			assert.False(t, n.IsDir)
			assert.True(t, n.Loaded)
		}
	}
}

func TestLevelNodes_NestedDirectory(t *testing.T) {
	nodes := levelNodes(sampleFiles(), "src")
	paths := make([]string, len(nodes))
	for i, n := range nodes {
		paths[i] = n.Path
	}
	assert.Equal(t, []string{"src/app.js", "src/lib"}, paths)

	for _, n := range nodes {
		if n.Path == "src/lib" {
			assert.True(t, n.IsDir)
		}
	}
}

func TestBuildFullTree_ExpandsEveryDirectory(t *testing.T) {
	tree := buildFullTree(sampleFiles())

	var srcNode *TreeNode
	for i := range tree {
		if tree[i].Path == "src" {
			srcNode = &tree[i]
		}
	}
	if assert.NotNil(t, srcNode) {
		assert.True(t, srcNode.Loaded)
		assert.Len(t, srcNode.Children, 2)

		var libNode *TreeNode
		for i := range srcNode.Children {
			if srcNode.Children[i].Path == "src/lib" {
				libNode = &srcNode.Children[i]
			}
		}
		if assert.NotNil(t, libNode) {
			assert.Len(t, libNode.Children, 2)
		}
	}
}
