package server

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/bobmcallan/rocketd/internal/interfaces"
	"github.com/bobmcallan/rocketd/internal/models"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// renderQueueDepthChart renders a PNG bar chart of queued job count by
// priority, grounded on the teacher's RenderGrowthChart
// (internal/services/portfolio/chart.go) — same go-chart/v2 render path,
// generalized from a time series to a priority histogram since rocketd has
// no portfolio data to chart.
func renderQueueDepthChart(ctx context.Context, jobs interfaces.JobStore) ([]byte, error) {
	all, err := jobs.List(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("dashboard: list jobs: %w", err)
	}

	depth := map[int]int{}
	for _, job := range all {
		if job.State != models.StateQueued {
			continue
		}
		depth[job.Priority]++
	}
	if len(depth) == 0 {
		depth[0] = 0
	}

	priorities := make([]int, 0, len(depth))
	for p := range depth {
		priorities = append(priorities, p)
	}
	sort.Ints(priorities)

	bars := make([]chart.Value, 0, len(priorities))
	for _, p := range priorities {
		bars = append(bars, chart.Value{
			Label: fmt.Sprintf("P%d", p),
			Value: float64(depth[p]),
			Style: chart.Style{FillColor: drawing.ColorFromHex("2563eb")},
		})
	}

	graph := chart.BarChart{
		Title:  "Queue depth by priority",
		Width:  700,
		Height: 320,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("dashboard: render chart: %w", err)
	}
	return buf.Bytes(), nil
}
