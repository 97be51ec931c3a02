package types

import (
	"fmt"
	"strings"
)

// Stage is one workflow column. Each stage is a directory inside a project.
type Stage string

// Canonical stages in the fixed search order used by the scanner and locator.
const (
	StageBacklog  Stage = "backlog"
	StageProgress Stage = "progress"
	StageReview   Stage = "review"
	StageTesting  Stage = "testing"
	StageDone     Stage = "done"
)

// StageInProgressAlias is the directory name some projects use for progress.
const StageInProgressAlias = "inprogress"

var stageOrder = []Stage{StageBacklog, StageProgress, StageReview, StageTesting, StageDone}

// Stages returns the canonical stages in fixed order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// ParseStage maps a directory or status name onto a canonical stage.
// Matching is case-insensitive and accepts the inprogress synonym.
func ParseStage(name string) (Stage, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == StageInProgressAlias || n == "in-progress" || n == "in_progress" {
		return StageProgress, true
	}
	for _, s := range stageOrder {
		if string(s) == n {
			return s, true
		}
	}
	return "", false
}

// DirNames returns the directory names that may hold records for the stage.
// Progress is stored either as "progress" or "inprogress".
func (s Stage) DirNames() []string {
	if s == StageProgress {
		return []string{string(StageProgress), StageInProgressAlias}
	}
	return []string{string(s)}
}

// SupportsOwners reports whether records in this stage may live in
// per-developer owner sub-containers. Backlog is always flat.
func (s Stage) SupportsOwners() bool {
	return s != StageBacklog && s != ""
}

// Stat buckets for ProjectStats.
const (
	BucketBacklog    = "backlog"
	BucketInProgress = "inProgress"
	BucketDone       = "done"
)

// Bucket returns the ProjectStats bucket the stage rolls up into.
// Every stage other than backlog and done counts as in progress.
func (s Stage) Bucket() string {
	switch s {
	case StageBacklog:
		return BucketBacklog
	case StageDone:
		return BucketDone
	default:
		return BucketInProgress
	}
}

// Valid reports whether s is exactly one of the canonical stages.
func (s Stage) Valid() bool {
	c, ok := ParseStage(string(s))
	return ok && c == s
}

// NormalizeStage maps a stage name onto its canonical stage. An empty name
// stays empty; anything ParseStage rejects is ErrInvalidStage.
func NormalizeStage(s Stage) (Stage, error) {
	if s == "" {
		return "", nil
	}
	c, ok := ParseStage(string(s))
	if !ok {
		return "", fmt.Errorf("stage %q: %w", s, ErrInvalidStage)
	}
	return c, nil
}
