package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStage(t *testing.T) {
	tests := []struct {
		in     string
		want   Stage
		wantOK bool
	}{
		{"backlog", StageBacklog, true},
		{"Progress", StageProgress, true},
		{"inprogress", StageProgress, true},
		{"review", StageReview, true},
		{"testing", StageTesting, true},
		{"DONE", StageDone, true},
		{"archive", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseStage(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStagesFixedOrder(t *testing.T) {
	assert.Equal(t, []Stage{StageBacklog, StageProgress, StageReview, StageTesting, StageDone}, Stages())

	s := Stages()
	s[0] = StageDone
	assert.Equal(t, StageBacklog, Stages()[0], "Stages must return a copy")
}

func TestStageBucketAndOwners(t *testing.T) {
	assert.Equal(t, BucketBacklog, StageBacklog.Bucket())
	assert.Equal(t, BucketInProgress, StageProgress.Bucket())
	assert.Equal(t, BucketInProgress, StageReview.Bucket())
	assert.Equal(t, BucketInProgress, StageTesting.Bucket())
	assert.Equal(t, BucketDone, StageDone.Bucket())

	assert.False(t, StageBacklog.SupportsOwners())
	assert.True(t, StageProgress.SupportsOwners())
	assert.True(t, StageDone.SupportsOwners())
	assert.Equal(t, []string{"progress", "inprogress"}, StageProgress.DirNames())
}

func TestStageValidRequiresCanonicalName(t *testing.T) {
	for _, s := range Stages() {
		assert.True(t, s.Valid(), s)
	}
	for _, s := range []Stage{"Progress", "DONE", "inprogress", " review", "archive", ""} {
		assert.False(t, s.Valid(), "%q", s)
	}
}

func TestNormalizeStage(t *testing.T) {
	tests := []struct {
		in      Stage
		want    Stage
		wantErr bool
	}{
		{"", "", false},
		{"backlog", StageBacklog, false},
		{"Progress", StageProgress, false},
		{"inprogress", StageProgress, false},
		{"DONE", StageDone, false},
		{"archive", "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got, err := NormalizeStage(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidStage)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
