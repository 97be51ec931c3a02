package scan

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/fira/pkg/types"
)

// Stats derives the three stat buckets from a task list. Backlog and done
// carry the summed estimate as detail; in progress carries the developer
// count. When roster is nil the developers of in-progress tasks are used.
func Stats(tasks []types.Task, roster []string) types.ProjectStats {
	var stats types.ProjectStats
	hours := map[string]float64{}
	active := map[string]bool{}

	for _, t := range tasks {
		bucket := t.Column.Bucket()
		switch bucket {
		case types.BucketBacklog:
			stats.Backlog.Count++
		case types.BucketDone:
			stats.Done.Count++
		default:
			stats.InProgress.Count++
			if t.Developer != "" {
				active[t.Developer] = true
			}
		}
		hours[bucket] += Hours(t.TimeEstimate)
	}

	devs := roster
	if devs == nil {
		for d := range active {
			devs = append(devs, d)
		}
		sort.Strings(devs)
	}

	stats.Backlog.Hours = formatHours(hours[types.BucketBacklog])
	stats.Backlog.Detail = "(" + stats.Backlog.Hours + ")"
	stats.Done.Hours = formatHours(hours[types.BucketDone])
	stats.Done.Detail = "(" + stats.Done.Hours + ")"
	stats.InProgress.Hours = formatHours(hours[types.BucketInProgress])
	stats.InProgress.Detail = fmt.Sprintf("(%d devs)", len(devs))
	stats.InProgress.Developers = strings.Join(devs, ", ")
	return stats
}

// Hours converts a duration string such as "4h", "1.5", "30m" or "2d" to
// hours. A day counts as eight hours. Unparsable values count as zero.
func Hours(v string) float64 {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return 0
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(v, "h"):
		v = strings.TrimSuffix(v, "h")
	case strings.HasSuffix(v, "m"):
		v = strings.TrimSuffix(v, "m")
		mult = 1.0 / 60
	case strings.HasSuffix(v, "d"):
		v = strings.TrimSuffix(v, "d")
		mult = 8
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 {
		return 0
	}
	return f * mult
}

func formatHours(h float64) string {
	return strconv.FormatFloat(math.Round(h*100)/100, 'f', -1, 64) + "h"
}
