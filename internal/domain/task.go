package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Pipeline names a priority lane a download task travels through.
type Pipeline string

const (
	PipelineAPI     Pipeline = "api"
	PipelineEvent   Pipeline = "event"
	PipelineRefresh Pipeline = "refresh"
	PipelineRetry   Pipeline = "retry"
	PipelineSync    Pipeline = "sync"
)

// pipelinePriority is the source of truth for the set of lanes and their
// ordering. Lower values are more urgent.
var pipelinePriority = map[Pipeline]int{
	PipelineAPI:     0,
	PipelineEvent:   10,
	PipelineRefresh: 20,
	PipelineRetry:   30,
	PipelineSync:    40,
}

// Pipelines returns every known pipeline, most urgent first.
func Pipelines() []Pipeline {
	out := make([]Pipeline, 0, len(pipelinePriority))
	for p := range pipelinePriority {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return pipelinePriority[out[i]] < pipelinePriority[out[j]]
	})
	return out
}

// ParsePipeline validates a pipeline name.
func ParsePipeline(name string) (Pipeline, error) {
	p := Pipeline(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := pipelinePriority[p]; !ok {
		return "", fmt.Errorf("unknown pipeline %q", name)
	}
	return p, nil
}

// Priority reports the lane priority, -1 for unknown pipelines.
func (p Pipeline) Priority() int {
	prio, ok := pipelinePriority[p]
	if !ok {
		return -1
	}
	return prio
}

func (p Pipeline) Valid() bool {
	_, ok := pipelinePriority[p]
	return ok
}

type TaskSource string

const (
	TaskSourceInternal TaskSource = "internal"
	TaskSourceExternal TaskSource = "external"
)

// DownloadTask is a request to (re)download data for one entity key.
type DownloadTask struct {
	ID          string     `json:"id"`
	Pipeline    Pipeline   `json:"pipeline"`
	ScheduledAt time.Time  `json:"scheduledAt"`
	Force       bool       `json:"force"`
	Source      TaskSource `json:"source"`
}

// GroupByPipeline splits tasks into per-pipeline batches keeping input order.
func GroupByPipeline(tasks []DownloadTask) map[Pipeline][]DownloadTask {
	groups := make(map[Pipeline][]DownloadTask)
	for _, task := range tasks {
		groups[task.Pipeline] = append(groups[task.Pipeline], task)
	}
	return groups
}
