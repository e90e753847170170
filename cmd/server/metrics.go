package main

import (
	"fmt"
	"io"
	"net/http"

	"lifegrid.ai/internal/session"
)

type statusSource interface {
	Status() session.Status
}

func metricsHandler(document string, src statusSource, p *persister) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, document, src.Status(), p)
	}
}

// writeMetrics renders a minimal Prometheus exposition.
func writeMetrics(w io.Writer, doc string, st session.Status, p *persister) {
	playing := 0
	if st.Playing {
		playing = 1
	}

	fmt.Fprintf(w, "# HELP lifegrid_generation Current local generation.\n")
	fmt.Fprintf(w, "# TYPE lifegrid_generation gauge\n")
	fmt.Fprintf(w, "lifegrid_generation{doc=%q} %d\n", doc, st.Generation)

	fmt.Fprintf(w, "# HELP lifegrid_live_cells Live cells in the displayed grid.\n")
	fmt.Fprintf(w, "# TYPE lifegrid_live_cells gauge\n")
	fmt.Fprintf(w, "lifegrid_live_cells{doc=%q} %d\n", doc, st.Live)

	fmt.Fprintf(w, "# HELP lifegrid_pending_overrides Cell edits not yet folded into a generation.\n")
	fmt.Fprintf(w, "# TYPE lifegrid_pending_overrides gauge\n")
	fmt.Fprintf(w, "lifegrid_pending_overrides{doc=%q} %d\n", doc, st.Pending)

	fmt.Fprintf(w, "# HELP lifegrid_playing Whether the tick is running.\n")
	fmt.Fprintf(w, "# TYPE lifegrid_playing gauge\n")
	fmt.Fprintf(w, "lifegrid_playing{doc=%q} %d\n", doc, playing)

	fmt.Fprintf(w, "# HELP lifegrid_observers Connected observers.\n")
	fmt.Fprintf(w, "# TYPE lifegrid_observers gauge\n")
	fmt.Fprintf(w, "lifegrid_observers{doc=%q} %d\n", doc, st.Observers)

	fmt.Fprintf(w, "# HELP lifegrid_commits_total Successful submits to the store.\n")
	fmt.Fprintf(w, "# TYPE lifegrid_commits_total counter\n")
	fmt.Fprintf(w, "lifegrid_commits_total{doc=%q} %d\n", doc, st.Commits)

	fmt.Fprintf(w, "# HELP lifegrid_commit_failures_total Failed submits to the store.\n")
	fmt.Fprintf(w, "# TYPE lifegrid_commit_failures_total counter\n")
	fmt.Fprintf(w, "lifegrid_commit_failures_total{doc=%q} %d\n", doc, st.CommitFailures)

	fmt.Fprintf(w, "# HELP lifegrid_inbound_updates_total Store change notifications applied.\n")
	fmt.Fprintf(w, "# TYPE lifegrid_inbound_updates_total counter\n")
	fmt.Fprintf(w, "lifegrid_inbound_updates_total{doc=%q} %d\n", doc, st.Inbound)

	if p == nil {
		return
	}
	fmt.Fprintf(w, "# HELP lifegrid_snapshots_written_total Snapshots written.\n")
	fmt.Fprintf(w, "# TYPE lifegrid_snapshots_written_total counter\n")
	fmt.Fprintf(w, "lifegrid_snapshots_written_total{doc=%q} %d\n", doc, p.snapshotsWritten.Load())

	fmt.Fprintf(w, "# HELP lifegrid_snapshots_dropped_total Snapshots skipped because the writer was busy.\n")
	fmt.Fprintf(w, "# TYPE lifegrid_snapshots_dropped_total counter\n")
	fmt.Fprintf(w, "lifegrid_snapshots_dropped_total{doc=%q} %d\n", doc, p.snapshotsDropped.Load())

	if p.idx == nil {
		return
	}
	s := p.IndexStats()
	fmt.Fprintf(w, "# HELP lifegrid_index_queue_depth Index writer queue depth.\n")
	fmt.Fprintf(w, "# TYPE lifegrid_index_queue_depth gauge\n")
	fmt.Fprintf(w, "lifegrid_index_queue_depth %d\n", s.QueueDepth)

	fmt.Fprintf(w, "# HELP lifegrid_index_dropped_total Index writes dropped because the queue was full.\n")
	fmt.Fprintf(w, "# TYPE lifegrid_index_dropped_total counter\n")
	fmt.Fprintf(w, "lifegrid_index_dropped_total{kind=%q} %d\n", "generation", s.DropGeneration)
	fmt.Fprintf(w, "lifegrid_index_dropped_total{kind=%q} %d\n", "commit", s.DropCommit)
	fmt.Fprintf(w, "lifegrid_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshot)
}
