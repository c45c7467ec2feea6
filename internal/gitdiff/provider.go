// Package gitdiff is the default DiffProvider implementation: the git
// plumbing spec §1 calls out as an external collaborator ("not
// specified beyond the interface the core consumes"). fleetship's CLI
// wires this in so `fleetship review` is runnable end to end; nothing
// in internal/review imports this package directly.
package gitdiff

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/ryanoboyle/fleetship/internal/review"
)

// Provider shells out to the system git binary. base/target are any
// committish git diff/show accept; target may be the empty string,
// meaning the working tree.
type Provider struct {
	repoRoot string
}

// New constructs a Provider rooted at repoRoot (a git working tree).
func New(repoRoot string) *Provider {
	return &Provider{repoRoot: repoRoot}
}

// Collect runs `git diff --name-status base target` and classifies each
// line into a review.DiffFile.
func (p *Provider) Collect(base, target string) (*review.DiffSet, error) {
	args := []string{"diff", "--name-status", base}
	if target != "" {
		args = append(args, target)
	}

	out, err := p.run(args...)
	if err != nil {
		return nil, fmt.Errorf("gitdiff: collect: %w", err)
	}

	set := &review.DiffSet{Base: base, Target: target}
	if set.Target == "" {
		set.Target = "working-tree"
	}

	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}

		status := fields[0]
		var file review.DiffFile
		switch {
		case strings.HasPrefix(status, "R"):
			if len(fields) < 3 {
				continue
			}
			file = review.DiffFile{Status: "R", OldPath: fields[1], Path: fields[2]}
			set.Renamed++
		case status == "A":
			file = review.DiffFile{Status: "A", Path: fields[1]}
			set.Added++
		case status == "M":
			file = review.DiffFile{Status: "M", Path: fields[1]}
			set.Modified++
		case status == "D":
			file = review.DiffFile{Status: "D", Path: fields[1]}
			set.Deleted++
		default:
			continue
		}
		set.Files = append(set.Files, file)
	}

	return set, nil
}

// ReadBlob reads path as it existed at ref via `git show ref:path`. A
// missing blob returns (nil, nil), matching the DiffProvider contract.
func (p *Provider) ReadBlob(ref, path string) ([]byte, error) {
	out, err := p.runRaw("show", fmt.Sprintf("%s:%s", ref, path))
	if err != nil {
		if isMissingBlob(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("gitdiff: read blob %s:%s: %w", ref, path, err)
	}
	return out, nil
}

// ReadLocal reads path from the working tree. A missing file returns
// (nil, nil).
func (p *Provider) ReadLocal(path string) ([]byte, error) {
	content, err := os.ReadFile(p.repoRoot + string(os.PathSeparator) + path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("gitdiff: read local %s: %w", path, err)
	}
	return content, nil
}

func (p *Provider) run(args ...string) (string, error) {
	out, err := p.runRaw(args...)
	return string(out), err
}

func (p *Provider) runRaw(args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = p.repoRoot
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func isMissingBlob(err error) bool {
	return strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "exists on disk, but not in")
}

var _ review.DiffProvider = (*Provider)(nil)
