package record

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fira/pkg/types"
)

// Metadata keys written by Encode, in output order.
const (
	KeyTitle     = "title"
	KeyEstimate  = "estimate"
	KeySpentTime = "spent_time"
	KeyPriority  = "priority"
	KeyDeveloper = "developer"
	KeyStatus    = "status"
	KeyCreated   = "created"
)

var metadataOrder = []string{KeyTitle, KeyEstimate, KeySpentTime, KeyPriority, KeyDeveloper, KeyStatus, KeyCreated}

// DateLayout is the format of the created field.
const DateLayout = "2006-01-02"

// Source describes where a raw record was read from.
type Source struct {
	ProjectID string
	Stage     types.Stage
	Dir       string
	Owner     string
	Name      string
}

// EncodeRequest carries everything Encode needs to produce a record.
type EncodeRequest struct {
	Task types.Task
	// PriorMetadata is the metadata of the record being replaced. Nil means
	// the record is new and a creation entry is logged.
	PriorMetadata map[string]string
	PriorStage    types.Stage
	NewStage      types.Stage
	PriorRaw      string
	Author        string
	Now           time.Time

	// PriorOwner is the owner folder holding the record being replaced. It
	// is the prior developer, as Decode reads it.
	PriorOwner string
}

// Codec converts between raw record text and tasks.
type Codec interface {
	Decode(raw string, src Source) types.Task
	Encode(req EncodeRequest) string
}

// Tolerant is the default Codec. It never fails on malformed input and
// logs anomalies at debug level.
type Tolerant struct {
	logger *zap.Logger
	now    func() time.Time
	author string
}

// Option configures a Tolerant codec.
type Option func(*Tolerant)

// WithLogger sets the logger used to report decode anomalies.
func WithLogger(l *zap.Logger) Option {
	return func(c *Tolerant) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the clock used for created dates and change logs.
func WithClock(now func() time.Time) Option {
	return func(c *Tolerant) {
		if now != nil {
			c.now = now
		}
	}
}

// WithAuthor sets the default change-log author.
func WithAuthor(author string) Option {
	return func(c *Tolerant) {
		if author != "" {
			c.author = author
		}
	}
}

// NewTolerant creates a tolerant codec.
func NewTolerant(opts ...Option) *Tolerant {
	c := &Tolerant{
		logger: zap.NewNop(),
		now:    time.Now,
		author: types.DefaultAuthor,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	headingRe      = regexp.MustCompile(`(?m)^#[ \t]+(.+?)[ \t]*$`)
	headingLabelRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*(?:-[A-Za-z0-9]+)*-\d+:\s*`)
	inlinePriority = regexp.MustCompile(`(?i)\*\*priority:?\*\*:?\s*([a-z]+)`)
	inlineEstimate = regexp.MustCompile(`(?i)\*\*(?:estimate|time estimate):?\*\*:?\s*([0-9]+(?:\.[0-9]+)?\s*[a-z]*)`)
	bareNumberRe   = regexp.MustCompile(`^[0-9]+(?:\.[0-9]+)?$`)
)

// Decode builds a task from raw record text.
func (c *Tolerant) Decode(raw string, src Source) types.Task {
	parts := SplitRecord(raw)
	id := types.RecordID(src.Name)
	log := c.logger.With(zap.String("project", src.ProjectID), zap.String("record", src.Name))

	if parts.Unterminated {
		log.Debug("metadata block not terminated, treating record as body")
	}
	if parts.Skipped > 0 {
		log.Debug("skipped malformed metadata lines", zap.Int("count", parts.Skipped))
	}
	meta := parts.Metadata

	task := types.Task{
		ID:          id,
		Column:      src.Stage,
		Content:     parts.Body,
		FullContent: raw,
		ProjectID:   src.ProjectID,
		Created:     meta[KeyCreated],
	}
	if task.Column == "" {
		if st, ok := types.ParseStage(meta[KeyStatus]); ok {
			task.Column = st
		} else {
			task.Column = types.StageBacklog
		}
	}

	task.Title = meta[KeyTitle]
	if task.Title == "" {
		task.Title = titleFromBody(parts.Body)
	}
	if task.Title == "" {
		task.Title = id
	}

	priority := meta[KeyPriority]
	if priority == "" {
		if m := inlinePriority.FindStringSubmatch(parts.Body); m != nil {
			priority = m[1]
		}
	}
	if p, ok := types.NormalizePriority(priority); ok {
		task.Priority = p
	} else {
		if priority != "" {
			log.Debug("unknown priority, defaulting to low", zap.String("priority", priority))
		}
		task.Priority = types.PriorityLow
	}

	estimate := meta[KeyEstimate]
	if estimate == "" {
		if m := inlineEstimate.FindStringSubmatch(parts.Body); m != nil {
			estimate = strings.ReplaceAll(m[1], " ", "")
		}
	}
	task.TimeEstimate = NormalizeDuration(estimate)
	task.TimeSpent = NormalizeDuration(meta[KeySpentTime])

	switch {
	case src.Owner != "":
		task.Developer = src.Owner
		task.Assignee = src.Owner
	case meta[KeyDeveloper] != "":
		task.Developer = meta[KeyDeveloper]
		task.Assignee = meta[KeyDeveloper]
	default:
		task.Assignee = types.Unassigned
	}

	if src.Name != "" {
		task.SourceLocation = &types.Location{Stage: src.Stage, Dir: dirOverride(src), Owner: src.Owner, Name: src.Name}
	}
	return task
}

func dirOverride(src Source) string {
	if src.Dir != "" && src.Dir != string(src.Stage) {
		return src.Dir
	}
	return ""
}

func titleFromBody(body string) string {
	m := headingRe.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(headingLabelRe.ReplaceAllString(m[1], ""))
}

// NormalizeDuration adds an "h" suffix to bare numbers and defaults empty
// values to "0h".
func NormalizeDuration(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "0h"
	}
	if bareNumberRe.MatchString(v) {
		return v + "h"
	}
	return v
}

// Metadata returns the normalized metadata block for a task in stage.
// Created defaults to today when the task carries none.
func Metadata(task types.Task, stage types.Stage, now time.Time) map[string]string {
	priority, ok := types.NormalizePriority(task.Priority)
	if !ok {
		priority = types.PriorityLow
	}
	created := task.Created
	if created == "" {
		created = now.Format(DateLayout)
	}
	return map[string]string{
		KeyTitle:     task.Title,
		KeyEstimate:  NormalizeDuration(task.TimeEstimate),
		KeySpentTime: NormalizeDuration(task.TimeSpent),
		KeyPriority:  priority,
		KeyDeveloper: task.Developer,
		KeyStatus:    string(stage),
		KeyCreated:   created,
	}
}

// Encode renders a task as record text.
func (c *Tolerant) Encode(req EncodeRequest) string {
	now := req.Now
	if now.IsZero() {
		now = c.now()
	}
	author := req.Author
	if author == "" {
		author = c.author
	}
	stage := req.NewStage
	if stage == "" {
		stage = req.Task.Column
	}
	if stage == "" {
		stage = types.StageBacklog
	}

	meta := Metadata(req.Task, stage, now)

	var b strings.Builder
	b.WriteString(Delimiter + "\n")
	for _, key := range metadataOrder {
		v := meta[key]
		if v == "" {
			b.WriteString(key + ":\n")
			continue
		}
		b.WriteString(key + ": " + v + "\n")
	}
	b.WriteString(Delimiter + "\n\n")

	body := req.Task.Content
	if strings.TrimSpace(body) == "" && req.PriorRaw != "" {
		body = Body(req.PriorRaw)
	} else if parts := SplitRecord(body); looksLikeMetadata(parts) {
		body = parts.Body
	}
	if strings.TrimSpace(body) == "" && req.PriorMetadata == nil && req.Task.Title != "" {
		body = "# " + req.Task.Title + "\n"
	}

	var entries []string
	if req.PriorMetadata == nil {
		entries = []string{fmt.Sprintf("Task created in %s", stage)}
	} else {
		priorStage := req.PriorStage
		if priorStage == "" {
			priorStage, _ = types.ParseStage(req.PriorMetadata[KeyStatus])
		}
		prior := req.PriorMetadata
		if req.PriorOwner != "" && prior[KeyDeveloper] != req.PriorOwner {
			prior = make(map[string]string, len(req.PriorMetadata)+1)
			for k, v := range req.PriorMetadata {
				prior[k] = v
			}
			prior[KeyDeveloper] = req.PriorOwner
		}
		entries = Changes(prior, priorStage, meta)
	}

	if len(entries) == 0 {
		b.WriteString(body)
		return b.String()
	}
	if trimmed := strings.TrimRight(body, "\n"); trimmed != "" {
		b.WriteString(trimmed + "\n\n")
	}
	b.WriteString(Delimiter + "\n")
	b.WriteString(fmt.Sprintf("**Changed:** %s by %s\n", now.Format(ChangeLayout), author))
	for _, e := range entries {
		b.WriteString("- " + e + "\n")
	}
	return b.String()
}

// looksLikeMetadata reports whether a leading delimited block is a record
// metadata block rather than a change log.
func looksLikeMetadata(p Parts) bool {
	if !p.HasMetadata {
		return false
	}
	for _, key := range metadataOrder {
		if _, ok := p.Metadata[key]; ok {
			return true
		}
	}
	return false
}

// ChangeLayout is the timestamp format of change log headers.
const ChangeLayout = "2006-01-02 15:04:05"

// Changes compares prior metadata against the new normalized metadata and
// describes every tracked field that differs. Only fields present in the
// prior metadata are compared; status is compared against priorStage.
func Changes(prior map[string]string, priorStage types.Stage, next map[string]string) []string {
	var out []string

	newStage, _ := types.ParseStage(next[KeyStatus])
	if priorStage != "" && newStage != "" && priorStage != newStage {
		out = append(out, fmt.Sprintf("Status changed: %s → %s", priorStage, newStage))
	}
	if old := prior[KeyTitle]; old != "" && old != next[KeyTitle] {
		out = append(out, fmt.Sprintf("Title changed: %q → %q", old, next[KeyTitle]))
	}
	if old, ok := prior[KeyEstimate]; ok {
		if o := NormalizeDuration(old); o != next[KeyEstimate] {
			out = append(out, fmt.Sprintf("Estimate changed: %s → %s", o, next[KeyEstimate]))
		}
	}
	if old, ok := prior[KeySpentTime]; ok {
		if o := NormalizeDuration(old); o != next[KeySpentTime] {
			out = append(out, fmt.Sprintf("Time spent changed: %s → %s", o, next[KeySpentTime]))
		}
	}
	if old, ok := prior[KeyPriority]; ok {
		o, known := types.NormalizePriority(old)
		if !known {
			o = types.PriorityLow
		}
		if o != next[KeyPriority] {
			out = append(out, fmt.Sprintf("Priority changed: %s → %s", o, next[KeyPriority]))
		}
	}
	if old, ok := prior[KeyDeveloper]; ok {
		nd := next[KeyDeveloper]
		switch {
		case old == nd:
		case old == "":
			out = append(out, fmt.Sprintf("Developer assigned: %s", nd))
		case nd == "":
			out = append(out, fmt.Sprintf("Developer removed: %s", old))
		default:
			out = append(out, fmt.Sprintf("Developer changed: %s → %s", old, nd))
		}
	}
	return out
}

// ReadRecord reads and decodes one record. It returns an error only when
// the file cannot be read; the caller skips that record and continues.
func ReadRecord(fs afero.Fs, path string, codec Codec, src Source) (*types.Task, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading record %s: %w", path, err)
	}
	task := codec.Decode(string(data), src)
	return &task, nil
}
