// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 4:02:11 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/dataforseo"
	"github.com/ternarybob/tempo/internal/interfaces"
	"github.com/ternarybob/tempo/internal/metrics"
	"github.com/ternarybob/tempo/internal/models"
	"github.com/tidwall/gjson"
)

// Orchestrator turns metros x search terms into search API tasks, polls them and lands
// every retrieved item as a raw event record.
type Orchestrator struct {
	client  *dataforseo.Client
	events  interfaces.EventStorage
	urls    interfaces.PackageQueue // nil disables URL publishing
	config  *common.DiscoveryConfig
	policy  *PollPolicy
	delay   time.Duration
	window  time.Duration
	metrics *metrics.Metrics
	logger  arbor.ILogger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates a new search-task orchestrator
func NewOrchestrator(
	client *dataforseo.Client,
	events interfaces.EventStorage,
	urls interfaces.PackageQueue,
	config *common.DiscoveryConfig,
	m *metrics.Metrics,
	logger arbor.ILogger,
) *Orchestrator {
	policy := NewPollPolicy()
	policy.InitialBackoff = common.MustDuration(config.PollInitial, policy.InitialBackoff)
	policy.MaxBackoff = common.MustDuration(config.PollMax, policy.MaxBackoff)
	if config.PollMultiplier >= 1 {
		policy.BackoffMultiplier = config.PollMultiplier
	}
	if config.MaxPollAttempts > 0 {
		policy.MaxAttempts = config.MaxPollAttempts
	}

	if !config.PublishURLs {
		urls = nil
	}

	return &Orchestrator{
		client:  client,
		events:  events,
		urls:    urls,
		config:  config,
		policy:  policy,
		delay:   common.MustDuration(config.RequestDelay, time.Second),
		window:  common.MustDuration(config.RecoveryWindow, time.Hour),
		metrics: m,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// BuildTasks expands metros x terms into task specs and the local tag map.
// Metros without a search location code are skipped.
func (o *Orchestrator) BuildTasks(metros []*models.MetroRegion, terms []string, runAt time.Time) ([]dataforseo.TaskPostRequest, map[string]*models.SearchTask) {
	language := o.config.Language
	if language == "" {
		language = "en"
	}

	var specs []dataforseo.TaskPostRequest
	byTag := make(map[string]*models.SearchTask)

	for _, metro := range metros {
		if !metro.Searchable() {
			o.logger.Warn().
				Int64("metro_id", metro.ID).
				Str("metro", metro.Name).
				Msg("Skipping metro without location code")
			continue
		}
		for _, term := range terms {
			term = SanitizeTerm(term)
			if term == "" {
				continue
			}
			tag := EncodeTag(metro.ID, term, runAt)
			if _, exists := byTag[tag]; exists {
				continue
			}
			byTag[tag] = &models.SearchTask{
				Tag:     tag,
				Context: models.TaskContext{MetroID: metro.ID, Term: term, RunAt: runAt.UTC().Truncate(time.Second)},
				Status:  models.TaskSubmitted,
			}
			specs = append(specs, dataforseo.TaskPostRequest{
				Keyword:      fmt.Sprintf("%s in %s", term, metro.Name),
				LocationCode: metro.LocationCode,
				LanguageCode: language,
				Depth:        o.config.Depth,
				Tag:          tag,
			})
		}
	}
	return specs, byTag
}

// Run submits every metro x term task, polls until all are retrieved or the attempt cap
// is hit, and persists the results. Tasks still pending at the end are logged, not failed.
func (o *Orchestrator) Run(ctx context.Context, metros []*models.MetroRegion, terms []string) (*models.DiscoveryStats, error) {
	started := o.now()
	stats := &models.DiscoveryStats{RunID: common.NewRunID()}

	specs, byTag := o.BuildTasks(metros, terms, started)
	if len(specs) == 0 {
		o.logger.Warn().Str("run_id", stats.RunID).Msg("No search tasks to submit")
		return stats, nil
	}

	o.logger.Info().
		Str("run_id", stats.RunID).
		Int("tasks", len(specs)).
		Int("metros", len(metros)).
		Int("terms", len(terms)).
		Msg("Submitting search tasks")

	pending := o.submit(ctx, specs, byTag, stats)
	if len(pending) == 0 {
		stats.Duration = o.now().Sub(started)
		return stats, fmt.Errorf("no search tasks were accepted (%d failed)", stats.SubmitFailed)
	}

	o.poll(ctx, pending, stats)

	stats.Pending = len(pending)
	stats.Duration = o.now().Sub(started)
	o.logger.Info().
		Str("run_id", stats.RunID).
		Int("submitted", stats.Submitted).
		Int("submit_failed", stats.SubmitFailed).
		Int("retrieved", stats.Retrieved).
		Int("pending", stats.Pending).
		Int("items", stats.ItemsPersisted).
		Int("urls", stats.URLsPublished).
		Dur("duration", stats.Duration).
		Msg("Discovery run complete")

	return stats, ctx.Err()
}

// submit posts specs in chunks and returns accepted tasks keyed by task id.
// A failed chunk is logged and counted; the remaining chunks are still sent.
func (o *Orchestrator) submit(ctx context.Context, specs []dataforseo.TaskPostRequest, byTag map[string]*models.SearchTask, stats *models.DiscoveryStats) map[string]*models.SearchTask {
	chunkSize := o.config.MaxTasksPerPost
	if chunkSize <= 0 || chunkSize > dataforseo.MaxTasksPerPost {
		chunkSize = dataforseo.MaxTasksPerPost
	}

	pending := make(map[string]*models.SearchTask)
	for start := 0; start < len(specs); start += chunkSize {
		if ctx.Err() != nil {
			break
		}
		end := start + chunkSize
		if end > len(specs) {
			end = len(specs)
		}
		chunk := specs[start:end]

		posted, err := o.client.TaskPost(ctx, chunk)
		if err != nil {
			stats.SubmitFailed += len(chunk)
			o.metrics.RecordSearchTasks("submit_failed", len(chunk))
			o.logger.Error().Err(err).Int("chunk_size", len(chunk)).Msg("Failed to submit search task chunk")
			continue
		}

		accepted := 0
		for i, p := range posted {
			tag := p.Tag
			if tag == "" && i < len(chunk) {
				tag = chunk[i].Tag
			}
			task, known := byTag[tag]
			if !p.Created() || p.ID == "" || !known {
				stats.SubmitFailed++
				o.metrics.RecordSearchTasks("submit_failed", 1)
				o.logger.Warn().
					Str("tag", tag).
					Int("status_code", p.StatusCode).
					Str("status", p.StatusMessage).
					Msg("Search task rejected")
				continue
			}
			task.TaskID = p.ID
			pending[p.ID] = task
			stats.Submitted++
			accepted++
		}
		o.metrics.RecordSearchTasks("submitted", accepted)
	}
	return pending
}

// poll waits with backoff, intersects the ready listing with pending and collects matches
func (o *Orchestrator) poll(ctx context.Context, pending map[string]*models.SearchTask, stats *models.DiscoveryStats) {
	for attempt := 0; attempt < o.policy.MaxAttempts && len(pending) > 0; attempt++ {
		wait := o.policy.Backoff(attempt)
		o.logger.Debug().
			Int("attempt", attempt+1).
			Int("pending", len(pending)).
			Dur("wait", wait).
			Msg("Waiting before polling ready tasks")
		if err := o.sleep(ctx, wait); err != nil {
			return
		}

		ready, err := o.client.TasksReady(ctx)
		if err != nil {
			o.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Failed to list ready tasks")
			continue
		}

		var matched []string
		for _, r := range ready {
			if _, ok := pending[r.ID]; ok {
				matched = append(matched, r.ID)
			}
		}
		sort.Strings(matched)

		for i, id := range matched {
			if i > 0 {
				if err := o.sleep(ctx, o.delay); err != nil {
					return
				}
			}
			task := pending[id]
			items, urls, err := o.collect(ctx, id, &task.Context, stats.RunID, "")
			if err != nil {
				// Left pending for the next round
				o.logger.Warn().Err(err).Str("task_id", id).Msg("Task result not available")
				continue
			}
			task.Status = models.TaskRetrieved
			delete(pending, id)
			stats.Retrieved++
			stats.ItemsPersisted += items
			stats.URLsPublished += urls
			o.metrics.RecordSearchTasks("retrieved", 1)
		}
	}

	if len(pending) > 0 {
		ids := make([]string, 0, len(pending))
		for id, task := range pending {
			task.Status = models.TaskAbandoned
			ids = append(ids, id)
		}
		sort.Strings(ids)
		o.metrics.RecordSearchTasks("abandoned", len(ids))
		o.logger.Warn().
			Int("pending", len(ids)).
			Str("task_ids", strings.Join(ids, ",")).
			Msg("Search tasks still pending after poll cap, leaving for recovery")
	}
}

// RecoverRecent lists tasks completed inside the recovery window and collects every one
// whose tag decodes. Raw inserts are idempotent so tasks already collected are harmless.
func (o *Orchestrator) RecoverRecent(ctx context.Context) (*models.DiscoveryStats, error) {
	started := o.now()
	stats := &models.DiscoveryStats{RunID: common.NewRunID()}

	entries, err := o.client.IDList(ctx, started.Add(-o.window).UTC(), time.Time{})
	if err != nil {
		return stats, fmt.Errorf("failed to list recent tasks: %w", err)
	}

	first := true
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if !strings.Contains(entry.Endpoint, "events") || entry.Tag == "" {
			continue
		}
		tc, err := DecodeTag(entry.Tag)
		if err != nil {
			continue
		}

		id := entry.ResultID
		if id == "" {
			id = entry.ID
		}
		if !first {
			if err := o.sleep(ctx, o.delay); err != nil {
				break
			}
		}
		first = false

		items, urls, err := o.collect(ctx, id, &tc, stats.RunID, entry.ResultID)
		if err != nil {
			o.logger.Warn().Err(err).Str("task_id", entry.ID).Str("tag", entry.Tag).Msg("Recent task result not available")
			stats.Pending++
			continue
		}
		stats.Retrieved++
		stats.ItemsPersisted += items
		stats.URLsPublished += urls
		o.metrics.RecordSearchTasks("recovered", 1)
	}

	stats.Duration = o.now().Sub(started)
	o.logger.Info().
		Str("run_id", stats.RunID).
		Int("listed", len(entries)).
		Int("retrieved", stats.Retrieved).
		Int("items", stats.ItemsPersisted).
		Msg("Recent task recovery complete")
	return stats, nil
}

// RetrieveKnown collects specific task ids, decoding their context from the returned tag
func (o *Orchestrator) RetrieveKnown(ctx context.Context, taskIDs []string) (*models.DiscoveryStats, error) {
	started := o.now()
	stats := &models.DiscoveryStats{RunID: common.NewRunID()}

	for i, id := range taskIDs {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := o.sleep(ctx, o.delay); err != nil {
				break
			}
		}
		items, urls, err := o.collect(ctx, id, nil, stats.RunID, "")
		if err != nil {
			o.logger.Warn().Err(err).Str("task_id", id).Msg("Failed to retrieve task")
			stats.Pending++
			continue
		}
		stats.Retrieved++
		stats.ItemsPersisted += items
		stats.URLsPublished += urls
	}

	stats.Duration = o.now().Sub(started)
	return stats, nil
}

// collect fetches one task result, persists its items and publishes its URLs.
// A nil tc is decoded from the task's tag.
func (o *Orchestrator) collect(ctx context.Context, id string, tc *models.TaskContext, runID, resultID string) (int, int, error) {
	task, err := o.client.TaskGet(ctx, id)
	if err != nil {
		return 0, 0, err
	}

	if tc == nil {
		decoded, err := DecodeTag(task.Data.Tag)
		if err != nil {
			return 0, 0, fmt.Errorf("cannot recover context for task %s: %w", id, err)
		}
		tc = &decoded
	}

	result := gjson.ParseBytes(task.Result)
	if !result.IsArray() {
		return 0, 0, fmt.Errorf("task %s: result is not an array", id)
	}

	items := 0
	if o.config.PersistItems {
		items = o.persistItems(ctx, task, result, tc, runID, resultID)
	}

	urls := 0
	if o.urls != nil {
		urls = o.publishURLs(ctx, ExtractURLs(result, o.config.MaxURLsPerResult), tc)
	}

	o.logger.Info().
		Str("task_id", task.ID).
		Int64("metro_id", tc.MetroID).
		Str("term", tc.Term).
		Int("items", items).
		Int("urls", urls).
		Msg("Collected search task")
	return items, urls, nil
}

// searchItemPayload is the raw payload written for each search result item
type searchItemPayload struct {
	EventItemData    json.RawMessage        `json:"event_item_data"`
	TaskInfo         map[string]interface{} `json:"api_task_info_context"`
	DiscoveryContext map[string]interface{} `json:"discovery_context"`
}

func (o *Orchestrator) persistItems(ctx context.Context, task *dataforseo.Task, result gjson.Result, tc *models.TaskContext, runID, resultID string) int {
	taskInfo := map[string]interface{}{
		"task_id":       task.ID,
		"keyword":       task.Data.Keyword,
		"location_code": task.Data.LocationCode,
		"language_code": task.Data.LanguageCode,
		"tag":           task.Data.Tag,
	}
	if resultID != "" {
		taskInfo["result_id"] = resultID
	}
	discoveryContext := map[string]interface{}{
		"region_id": tc.MetroID,
		"term":      tc.Term,
		"run_at":    tc.RunAt,
		"run_id":    runID,
	}

	inserted := 0
	for _, item := range EventItems(result) {
		itemID := ItemID(item)
		if itemID == "" {
			o.logger.Warn().
				Str("task_id", task.ID).
				Str("title", item.Get("title").String()).
				Msg("Skipping search item without identifier")
			continue
		}

		payload, err := json.Marshal(searchItemPayload{
			EventItemData:    json.RawMessage(item.Raw),
			TaskInfo:         taskInfo,
			DiscoveryContext: discoveryContext,
		})
		if err != nil {
			o.logger.Warn().Err(err).Str("item_id", itemID).Msg("Failed to encode search item")
			continue
		}

		now := o.now().UTC()
		metroID := tc.MetroID
		record := &models.RawEventRecord{
			Source:        models.SourceSearchItem,
			SourceEventID: &itemID,
			MetroID:       &metroID,
			Payload:       payload,
			DiscoveredAt:  now,
			ParsedAt:      &now,
		}
		ok, err := o.events.InsertRaw(ctx, record)
		if err != nil {
			o.logger.Error().Err(err).Str("item_id", itemID).Msg("Failed to persist search item")
			continue
		}
		if ok {
			inserted++
		}
	}
	return inserted
}

func (o *Orchestrator) publishURLs(ctx context.Context, urls []string, tc *models.TaskContext) int {
	published := 0
	for _, u := range urls {
		metroID := tc.MetroID
		data, err := json.Marshal(models.URLPackage{
			URL:           u,
			RegionContext: &metroID,
			TermContext:   tc.Term,
		})
		if err != nil {
			continue
		}
		if err := o.urls.Push(ctx, data); err != nil {
			o.logger.Warn().Err(err).Str("url", u).Msg("Failed to publish URL")
			continue
		}
		published++
	}
	return published
}
