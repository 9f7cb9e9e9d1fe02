package changelog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/mirajehossain/gochangelog/internal/fsutil"
)

// Source locates changelog files, either on disk or in an fs.FS.
type Source struct {
	FS      fs.FS // nil means local disk
	RootDir string
}

// Result is the outcome of loading a Source. Skipped is only populated when
// the registry continues past malformed files.
type Result struct {
	ChangeSets []ChangeSet
	Skipped    []*MalformedError
}

// Registry discovers changesets and orders them by id.
type Registry struct {
	src                 Source
	continueOnMalformed bool
}

// Option configures a Registry.
type Option func(*Registry)

// ContinueOnMalformed makes Load skip malformed files instead of failing.
func ContinueOnMalformed(v bool) Option {
	return func(r *Registry) { r.continueOnMalformed = v }
}

func NewRegistry(src Source, opts ...Option) *Registry {
	r := &Registry{src: src}
	for _, o := range opts {
		o(r)
	}
	return r
}

// List returns every changeset in ascending id order.
func (r *Registry) List() ([]ChangeSet, error) {
	res, err := r.Load()
	if err != nil {
		return nil, err
	}
	return res.ChangeSets, nil
}

// Load reads all changelog files in name order. A changeset id may appear
// only once across the whole source.
func (r *Registry) Load() (*Result, error) {
	files, err := r.scan()
	if err != nil {
		return nil, fmt.Errorf("scan changelogs: %w", err)
	}

	res := &Result{}
	seen := map[string]string{} // id -> file
	for _, f := range files {
		sets, err := r.parseFile(f)
		if err == nil {
			err = checkDuplicates(f.Path, sets, seen)
		}
		if err != nil {
			var merr *MalformedError
			if r.continueOnMalformed && errors.As(err, &merr) {
				res.Skipped = append(res.Skipped, merr)
				continue
			}
			return nil, err
		}
		for _, cs := range sets {
			seen[cs.ID] = f.Path
		}
		res.ChangeSets = append(res.ChangeSets, sets...)
	}

	sort.SliceStable(res.ChangeSets, func(i, j int) bool {
		a, b := res.ChangeSets[i], res.ChangeSets[j]
		if c := Compare(a.ID, b.ID); c != 0 {
			return c < 0
		}
		return a.Author < b.Author
	})
	return res, nil
}

func (r *Registry) scan() ([]fsutil.File, error) {
	if r.src.FS != nil {
		return fsutil.ScanEmbedded(r.src.FS, r.src.RootDir)
	}
	return fsutil.ScanDir(r.src.RootDir)
}

func (r *Registry) parseFile(f fsutil.File) ([]ChangeSet, error) {
	var (
		data []byte
		err  error
	)
	if r.src.FS != nil {
		data, err = fs.ReadFile(r.src.FS, f.Path)
	} else {
		data, err = os.ReadFile(f.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Path, err)
	}
	if f.Format == fsutil.FormatYAML {
		return ParseYAML(f.Path, data)
	}
	return ParseSQL(f.Path, data)
}

func checkDuplicates(file string, sets []ChangeSet, seen map[string]string) error {
	local := map[string]bool{}
	for _, cs := range sets {
		if prev, ok := seen[cs.ID]; ok {
			return &MalformedError{File: file, ID: cs.ID, Reason: "id already defined in " + prev}
		}
		if local[cs.ID] {
			return &MalformedError{File: file, ID: cs.ID, Reason: "id defined twice in the same file"}
		}
		local[cs.ID] = true
	}
	return nil
}
