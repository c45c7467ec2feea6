// Package mirror implements the add/modify/delete planner (C3) that
// reconciles a local file set with a remote directory listing. Grounded
// in the teacher's internal/sync/diff.go Diff(), generalized from its
// upload/download/unchanged bucketing to the delete-augmentation this
// spec calls for: the local set is already the desired add/modify plan
// (produced upstream by C3's caller from a previous getDiff/readFile
// pass), and mirror.Plan only appends synthetic delete entries for
// remote-only files.
package mirror

import (
	"strings"

	"github.com/ryanoboyle/fleetship/internal/ignore"
	"github.com/ryanoboyle/fleetship/internal/uploader"
)

// Plan augments local with synthetic delete entries for every path present
// in remoteList but not in local's relative paths, skipping ignored
// patterns. The mirror root is the common top-level directory of local's
// relative paths, if one exists; remote entries outside that root are left
// untouched since they fall outside the deploy's scope.
func Plan(local []uploader.UploadFile, remoteList []string, ignoreMatcher *ignore.Matcher) []uploader.UploadFile {
	localSet := make(map[string]bool, len(local))
	for _, f := range local {
		localSet[f.RelativePath] = true
	}

	root := commonTopLevelDir(local)
	plan := make([]uploader.UploadFile, len(local))
	copy(plan, local)

	for _, remotePath := range remoteList {
		if root != "" && remotePath != root && !strings.HasPrefix(remotePath, root+"/") {
			continue
		}
		if localSet[remotePath] {
			continue
		}
		if ignoreMatcher.Matches(remotePath) {
			continue
		}
		plan = append(plan, uploader.UploadFile{
			RelativePath: remotePath,
			ChangeType:   uploader.ChangeDelete,
		})
	}

	return plan
}

// commonTopLevelDir returns the shared first path segment of every local
// relative path, or "" if local is empty or the set has no common top
// directory (including when any entry sits at the root itself).
func commonTopLevelDir(local []uploader.UploadFile) string {
	if len(local) == 0 {
		return ""
	}

	var top string
	for i, f := range local {
		segments := strings.SplitN(f.RelativePath, "/", 2)
		if len(segments) < 2 {
			return "" // a root-level file means there is no common subdirectory
		}
		if i == 0 {
			top = segments[0]
			continue
		}
		if segments[0] != top {
			return ""
		}
	}
	return top
}
