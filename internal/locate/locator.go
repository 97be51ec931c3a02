// Package locate finds where a task record currently lives inside a project
// directory and moves records between stage directories.
//
// Lookups consult an index rebuilt from every scan and fall back to a walk
// of the project tree. The walk visits stages in the fixed order backlog,
// progress, review, testing, done; inside each stage direct records come
// before owner sub-directories. The first match wins.
package locate

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/spf13/afero"

	"github.com/mesh-intelligence/fira/internal/scan"
	"github.com/mesh-intelligence/fira/pkg/types"
)

// Index maps task ids to record locations within one project.
type Index map[string]types.Location

// BuildIndex builds an index from scanned tasks. Tasks are expected in
// scan order; the first location seen for an id is kept.
func BuildIndex(tasks []types.Task) Index {
	idx := make(Index, len(tasks))
	for _, t := range tasks {
		if t.SourceLocation == nil {
			continue
		}
		if _, ok := idx[t.ID]; ok {
			continue
		}
		idx[t.ID] = *t.SourceLocation
	}
	return idx
}

// Locator resolves task ids to record locations.
type Locator struct {
	scanner *scan.Scanner

	mu      sync.RWMutex
	indexes map[string]Index
}

// NewLocator creates a locator reading through the scanner's filesystem.
func NewLocator(scanner *scan.Scanner) *Locator {
	return &Locator{scanner: scanner, indexes: map[string]Index{}}
}

// SetIndex replaces the index of one project directory.
func (l *Locator) SetIndex(projectDir string, idx Index) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.indexes[filepath.Clean(projectDir)] = idx
}

// Forget drops the index of one project directory.
func (l *Locator) Forget(projectDir string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.indexes, filepath.Clean(projectDir))
}

func (l *Locator) record(projectDir, taskID string, loc *types.Location) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := filepath.Clean(projectDir)
	idx := l.indexes[key]
	if idx == nil {
		idx = Index{}
		l.indexes[key] = idx
	}
	if loc == nil {
		delete(idx, taskID)
		return
	}
	idx[taskID] = *loc
}

func (l *Locator) lookup(projectDir, taskID string) (types.Location, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	loc, ok := l.indexes[filepath.Clean(projectDir)][taskID]
	return loc, ok
}

// Locate returns the location of the record holding taskID, or nil when
// no record matches. An exact name match anywhere beats a prefix or
// substring match. Partial matches must sit on id boundaries, so T-1
// matches T-1-fix-login.md but never T-10.md.
func (l *Locator) Locate(ctx context.Context, projectDir, taskID string) (*types.Location, error) {
	if taskID == "" {
		return nil, types.ErrInvalidID
	}
	fs := l.scanner.Fs()
	if loc, ok := l.lookup(projectDir, taskID); ok {
		if exists, _ := afero.Exists(fs, filepath.Join(projectDir, filepath.FromSlash(loc.Path()))); exists {
			return &loc, nil
		}
		l.record(projectDir, taskID, nil)
	}

	var exact, partial *types.Location
	err := l.scanner.WalkRecords(ctx, projectDir, func(loc types.Location, _ string) error {
		stem := types.RecordID(loc.Name)
		switch {
		case exact == nil && stem == taskID:
			found := loc
			exact = &found
			return errStop
		case partial == nil && containsID(stem, taskID):
			found := loc
			partial = &found
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	match := exact
	if match == nil {
		match = partial
	}
	if match != nil {
		l.record(projectDir, taskID, match)
	}
	return match, nil
}

var errStop = errors.New("stop walk")

// containsID reports whether id occurs in stem with no letter or digit
// directly before or after it.
func containsID(stem, id string) bool {
	for from := 0; from+len(id) <= len(stem); {
		i := strings.Index(stem[from:], id)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(id)
		before, _ := utf8.DecodeLastRuneInString(stem[:start])
		after, _ := utf8.DecodeRuneInString(stem[end:])
		if !idRune(before) && !idRune(after) {
			return true
		}
		from = start + 1
	}
	return false
}

func idRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
