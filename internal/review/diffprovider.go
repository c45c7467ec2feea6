package review

// DiffFile is one entry of a pre-computed git diff, as named by the
// DiffProvider collaborator in spec §6. fleetship never computes this
// itself; the CLI entry point hands a *DiffSet to review.NewServer.
type DiffFile struct {
	Path    string
	Status  string // A, M, D, R
	OldPath string
}

// DiffSet is the full result of DiffProvider.Collect.
type DiffSet struct {
	Files    []DiffFile
	Added    int
	Modified int
	Deleted  int
	Renamed  int
	Base     string
	Target   string
}

// DiffProvider is the external git-plumbing collaborator named in spec §6.
// fleetship's core never shells out to git directly; it is handed an
// implementation of this interface by the CLI entry point.
type DiffProvider interface {
	Collect(base, target string) (*DiffSet, error)
	ReadBlob(ref, path string) ([]byte, error)
	ReadLocal(path string) ([]byte, error)
}
