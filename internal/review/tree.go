package review

import "strings"

// levelNodes returns the direct children of dir ("" for the root) visible
// in files, in first-seen order. A child that itself has further path
// segments beneath it is a directory node with Loaded left false; callers
// that want it expanded populate Children and flip Loaded themselves.
func levelNodes(files []DiffFile, dir string) []TreeNode {
	prefix := ""
	if dir != "" {
		prefix = dir + "/"
	}

	order := make([]string, 0)
	seen := make(map[string]*TreeNode)

	for _, f := range files {
		if dir != "" && !strings.HasPrefix(f.Path, prefix) {
			continue
		}
		rest := strings.TrimPrefix(f.Path, prefix)
		if rest == "" {
			continue
		}
		segs := strings.SplitN(rest, "/", 2)
		name := segs[0]
		if _, ok := seen[name]; ok {
			continue
		}

		node := &TreeNode{Path: prefix + name, IsDir: len(segs) > 1}
		if len(segs) == 1 {
			node.Status = f.Status
			node.Loaded = true
		}
		seen[name] = node
		order = append(order, name)
	}

	out := make([]TreeNode, 0, len(order))
	for _, name := range order {
		out = append(out, *seen[name])
	}
	return out
}

// buildFullTree eagerly expands every directory, for the non-lazy case
// (spec §4.7: |files| <= 100 serves the full tree in init).
func buildFullTree(files []DiffFile) []TreeNode {
	return expandAll(files, "")
}

func expandAll(files []DiffFile, dir string) []TreeNode {
	nodes := levelNodes(files, dir)
	for i := range nodes {
		if nodes[i].IsDir {
			nodes[i].Children = expandAll(files, nodes[i].Path)
			nodes[i].Loaded = true
		}
	}
	return nodes
}
