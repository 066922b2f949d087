package epubconvert

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// BatchItem is one package to convert
type BatchItem struct {
	Name          string
	SourceDir     string
	TargetArchive string
}

// ItemResult is the outcome of converting one BatchItem. It succeeded if Err is nil.
type ItemResult struct {
	Item     BatchItem
	Entries  int
	Duration time.Duration
	Err      error
}

// BatchResult tallies a whole run. Items are in the order they were planned.
type BatchResult struct {
	Attempted int
	Succeeded int
	Items     []ItemResult
}

// Failed returns the results of the items that didn't convert
func (r BatchResult) Failed() []ItemResult {
	var failed []ItemResult
	for _, item := range r.Items {
		if item.Err != nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// AllFailed reports whether there was something to do and none of it worked
func (r BatchResult) AllFailed() bool {
	return r.Attempted > 0 && r.Succeeded == 0
}

// PlanBatch maps discovered package names to source and target paths
func PlanBatch(config *Config, names []string) []BatchItem {
	items := make([]BatchItem, 0, len(names))
	for _, name := range names {
		items = append(items, BatchItem{
			Name:          name,
			SourceDir:     filepath.Join(config.InputDir, name),
			TargetArchive: filepath.Join(config.OutputDir, strings.TrimSpace(filepath.Base(name))),
		})
	}
	return items
}

// Converter runs a batch of conversions, publishing the results if the
// config has a Publish target
type Converter struct {
	*Config
	Archiver *Archiver
	Storage  Storage
	Logger   *log.Logger
	Metrics  *MetricsCounter

	locks *LockTable
}

// NewConverter creates a converter from the config, setting up publish
// storage when one is configured
func NewConverter(config *Config, logger *log.Logger) (*Converter, error) {
	if logger == nil {
		logger = log.Default()
	}
	metrics := &MetricsCounter{}

	c := &Converter{
		Config:   config,
		Archiver: NewArchiver(config, logger, metrics),
		Logger:   logger,
		Metrics:  metrics,
		locks:    NewLockTable(),
	}

	if config.Publish != nil {
		storage, err := config.Publish.NewStorage()
		if err != nil {
			return nil, err
		}
		c.Storage = storage
	}

	return c, nil
}

type convertTask struct {
	index int
	item  BatchItem
}

type convertResult struct {
	index int
	ItemResult
}

func convertWorker(ctx context.Context, c *Converter, tasks <-chan convertTask, results chan<- convertResult, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	for task := range tasks {
		results <- convertResult{task.index, c.convertOne(ctx, task.item)}
	}
}

// Run converts every item. A failed item is logged and recorded in the
// result, it never stops the remaining items from being converted. Each
// worker owns the archive it is writing, nothing is shared between items.
func (c *Converter) Run(ctx context.Context, items []BatchItem) BatchResult {
	result := BatchResult{
		Attempted: len(items),
		Items:     make([]ItemResult, len(items)),
	}

	pending := c.claimTargets(items, &result)
	if len(pending) == 0 {
		return result
	}

	workers := c.workerCount()
	if workers > len(pending) {
		workers = len(pending)
	}

	tasks := make(chan convertTask)
	results := make(chan convertResult)
	done := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		go convertWorker(ctx, c, tasks, results, done)
	}

	go func() {
		defer close(tasks)
		for _, task := range pending {
			tasks <- task
		}
	}()

	activeWorkers := workers
	for activeWorkers > 0 {
		select {
		case res := <-results:
			result.Items[res.index] = res.ItemResult
			if res.Err == nil {
				result.Succeeded++
			}
		case <-done:
			activeWorkers--
		}
	}

	return result
}

// claimTargets fails every item whose archive path was already planned for an
// earlier item and returns the rest as tasks. The outcome doesn't depend on
// worker scheduling: the first planned item always wins.
func (c *Converter) claimTargets(items []BatchItem, result *BatchResult) []convertTask {
	owners := make(map[string]string, len(items))
	pending := make([]convertTask, 0, len(items))

	for i, item := range items {
		key := targetKey(item.TargetArchive)
		if owner, ok := owners[key]; ok {
			c.Metrics.TotalPackages.Add(1)
			c.Metrics.TotalFailed.Add(1)
			err := newArchiveError(TargetBusy, item.TargetArchive,
				fmt.Errorf("same archive as package %s", owner))
			c.Logger.Error("Failed converting package", "package", item.Name, "err", err)
			result.Items[i] = ItemResult{Item: item, Err: err}
			continue
		}

		owners[key] = item.Name
		pending = append(pending, convertTask{i, item})
	}

	return pending
}

func targetKey(targetArchive string) string {
	key, err := filepath.Abs(targetArchive)
	if err != nil {
		return targetArchive
	}
	return key
}

func (c *Converter) convertOne(ctx context.Context, item BatchItem) ItemResult {
	c.Metrics.TotalPackages.Add(1)
	startTime := time.Now()

	entries, err := c.archiveItem(ctx, item)
	result := ItemResult{
		Item:     item,
		Entries:  entries,
		Duration: time.Since(startTime),
		Err:      err,
	}

	if err != nil {
		c.Metrics.TotalFailed.Add(1)
		c.Logger.Error("Failed converting package", "package", item.Name, "err", err)
		return result
	}

	c.Metrics.TotalSucceeded.Add(1)
	c.Logger.Info("Completed package", "package", item.Name, "target", item.TargetArchive,
		"entries", entries, "duration", result.Duration.Round(time.Millisecond))
	return result
}

func (c *Converter) archiveItem(ctx context.Context, item BatchItem) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if c.DryRun {
		c.Logger.Info("Dry run, not writing", "package", item.Name, "target", item.TargetArchive)
		return 0, nil
	}

	lockKey := targetKey(item.TargetArchive)

	if !c.locks.tryLockKey(lockKey) {
		return 0, newArchiveError(TargetBusy, item.TargetArchive,
			fmt.Errorf("another package is being written to the same archive"))
	}
	defer c.locks.releaseKey(lockKey)

	jobCtx := ctx
	if c.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, time.Duration(c.JobTimeout))
		defer cancel()
	}

	c.Logger.Debug("Processing folder", "source", item.SourceDir)
	entries, err := c.Archiver.Archive(jobCtx, item.SourceDir, item.TargetArchive)
	if err != nil {
		return entries, err
	}

	if c.Storage != nil {
		if err := c.publish(ctx, item.TargetArchive); err != nil {
			return entries, err
		}
	}

	return entries, nil
}
