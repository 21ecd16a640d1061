package tracker

import (
	"math"
	"strings"

	"github.com/ramadhanis/academy/core/curriculum"
	"github.com/ramadhanis/academy/core/progress"
)

// NormalizeID canonicalizes an id for set membership. Ids reach the
// merge from more than one source and legacy imports carry numeric
// ones, so "007" and "7" must land on the same key. Everything else
// is compared case-insensitively after trimming.
func NormalizeID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))

	if id != "" && isDigits(id) {
		trimmed := strings.TrimLeft(id, "0")
		if trimmed == "" {
			return "0"
		}
		return trimmed
	}

	return id
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Merge folds server-confirmed progress into the curriculum tree:
// per-item completion flags, per-section counts and percent, section
// completion. The input tree is never mutated and merging the same
// progress twice yields an identical result.
func Merge(cur curriculum.Curriculum, p progress.Course) curriculum.Curriculum {
	lectures := make(map[string]struct{}, len(p.CompletedLectures))
	for _, id := range p.CompletedLectures {
		lectures[NormalizeID(id)] = struct{}{}
	}

	sections := make(map[string]struct{}, len(p.CompletedSections))
	for _, id := range p.CompletedSections {
		sections[NormalizeID(id)] = struct{}{}
	}

	out := curriculum.Curriculum{
		CourseID: cur.CourseID,
		Sections: make([]curriculum.Section, len(cur.Sections)),
	}

	for si, sec := range cur.Sections {
		ns := sec
		ns.Items = make([]curriculum.Item, len(sec.Items))

		completed := 0
		for ii, it := range sec.Items {
			ni := it
			_, ni.Completed = lectures[NormalizeID(it.ID)]
			if ni.Completed {
				completed++
			}
			ns.Items[ii] = ni
		}

		if n := len(ns.Items); n > 0 {
			ns.CompletionPercent = int(math.Round(100 * float64(completed) / float64(n)))
		} else {
			ns.CompletionPercent = 0
		}

		_, ns.Completed = sections[NormalizeID(sec.ID)]
		if !ns.Completed && len(ns.Items) > 0 && completed == len(ns.Items) {
			// A fully watched section counts even when the server
			// never recorded the section id itself.
			ns.Completed = true
		}

		out.Sections[si] = ns
	}

	return out
}
