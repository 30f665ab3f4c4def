package graph

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/cortex/internal/frontmatter"
	"github.com/starford/cortex/internal/metrics"
)

// GardenReport summarizes one gardening cycle.
type GardenReport struct {
	Promoted          []string
	ArchiveCandidates []string
	Write             WriteReport
}

// Garden applies the promotion rules, lists archive candidates and then
// crystallizes. A promotion rewrites the tag item in place; the in-memory
// tags follow only when the file actually changed.
func (g *Graph) Garden(ctx context.Context) GardenReport {
	start := time.Now()
	defer func() { metrics.TaskDuration.WithLabelValues("garden").Observe(time.Since(start).Seconds()) }()

	now := g.now()
	var rep GardenReport
	for _, key := range g.keys {
		if ctx.Err() != nil {
			return rep
		}
		n := g.nodes[key]
		for _, pr := range g.params.Promotions {
			if !n.hasTag(pr.From) || len(n.note.Links) <= pr.MinLinks {
				continue
			}
			changed, err := g.rewrite(ctx, n, "garden", func(data []byte) []byte {
				out, _ := frontmatter.ReplaceListItem(data, frontmatter.KeyTags, pr.From, pr.To)
				return out
			})
			if err != nil {
				rep.Write.Failed++
				break
			}
			if !changed {
				continue
			}
			note := n.note
			note.Tags = replaceTag(note.Tags, pr.From, pr.To)
			n.setNote(note, g.params, now)
			rep.Promoted = append(rep.Promoted, key)
			rep.Write.Written++
			g.logger.Info("graph: promoted", slog.String("filename", key), slog.String("from", pr.From), slog.String("to", pr.To))
			break
		}

		if g.params.ArchiveAfterDays > 0 && AgeDays(n.note.DateUpdated, now) > g.params.ArchiveAfterDays && !n.archived(g.params.ArchiveTag) {
			rep.ArchiveCandidates = append(rep.ArchiveCandidates, key)
		}
	}
	if len(rep.ArchiveCandidates) > 0 {
		g.logger.Info("graph: archive candidates", slog.Int("count", len(rep.ArchiveCandidates)))
	}

	cr := g.Crystallize(ctx)
	rep.Write.Written += cr.Written
	rep.Write.Failed += cr.Failed
	return rep
}

func (n *Node) archived(tag string) bool {
	if tag == "" {
		return false
	}
	for _, t := range n.lowerTags {
		if strings.Contains(t, strings.ToLower(tag)) {
			return true
		}
	}
	return false
}

func replaceTag(tags []string, from, to string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t == from {
			t = to
		}
		out = append(out, t)
	}
	return out
}
