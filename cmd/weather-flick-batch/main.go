// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

// weather-flick-batch is the composition root: it constructs one connection
// pool, one rate-limited client per upstream provider, the batch persistence
// engine and the dedup engine, then runs one ingestion pass per configured
// endpoint. All wiring is explicit dependency injection; there are no global
// managers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/aicc6/weather-flick-batch-sub000/batch"
	"github.com/aicc6/weather-flick-batch-sub000/config"
	"github.com/aicc6/weather-flick-batch-sub000/dbpool"
	"github.com/aicc6/weather-flick-batch-sub000/dedup"
	"github.com/aicc6/weather-flick-batch-sub000/jobmon"
	"github.com/aicc6/weather-flick-batch-sub000/openapi"
)

// attractionsTarget is the sample persistence target for area-based tourism
// content. The column list is declared here, at the composition root; the
// engine never infers shape from live data.
var attractionsTarget = batch.Target{
	Table: "tourist_attractions",
	Columns: []string{
		"content_id", "title", "content_type_id", "area_code", "sigungu_code",
		"addr1", "latitude", "longitude", "image_url", "modified_at",
	},
	ConflictKeys: []string{"content_id"},
}

// attractionFields maps upstream item keys to target columns.
var attractionFields = map[string]string{
	"contentid":     "content_id",
	"title":         "title",
	"contenttypeid": "content_type_id",
	"areacode":      "area_code",
	"sigungucode":   "sigungu_code",
	"addr1":         "addr1",
	"mapy":          "latitude",
	"mapx":          "longitude",
	"firstimage":    "image_url",
	"modifiedtime":  "modified_at",
}

var forecastTarget = batch.Target{
	Table: "weather_forecasts",
	Columns: []string{
		"region_code", "base_date", "base_time", "fcst_date", "fcst_time",
		"category", "value", "nx", "ny",
	},
	ConflictKeys: []string{"region_code", "fcst_date", "fcst_time", "category"},
}

var forecastFields = map[string]string{
	"baseDate":  "base_date",
	"baseTime":  "base_time",
	"fcstDate":  "fcst_date",
	"fcstTime":  "fcst_time",
	"category":  "category",
	"fcstValue": "value",
	"nx":        "nx",
	"ny":        "ny",
}

// forecastGrid maps provider area codes to KMA forecast grid points.
var forecastGrid = []struct {
	code   string
	nx, ny int
}{
	{"1", 60, 127}, // Seoul
	{"2", 55, 124}, // Incheon
	{"4", 89, 90},  // Daegu
	{"6", 98, 76},  // Busan
	{"39", 52, 38}, // Jeju
}

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	dedupeOnly := flag.Bool("find-duplicates", false, "run the duplicate report instead of ingestion")
	dryRun := flag.Bool("dry-run", true, "report duplicates without deactivating them")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := cfg.Logging.NewLogger()
	slog.SetDefault(logger)

	if err := run(cfg, logger, *dedupeOnly, *dryRun); err != nil {
		logger.Error("Ingestion run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, dedupeOnly, dryRun bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := dbpool.New(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pool.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Pool shutdown failed", "error", err)
		}
	}()

	if err := dedup.EnsureSchema(ctx, pool.Pgx()); err != nil {
		return err
	}

	store := dedup.NewPGStore(pool.Pgx())
	dedupEngine, err := dedup.NewEngine(store, cfg.Dedup, logger)
	if err != nil {
		return err
	}

	if dedupeOnly {
		groups, err := dedupEngine.FindDuplicates(ctx, dryRun)
		if err != nil {
			return err
		}
		logger.Info("Duplicate report complete", "groups", len(groups), "dry_run", dryRun)
		return nil
	}

	monitor := jobmon.NewLogMonitor(logger)

	tourClient, err := openapi.New(cfg.TourAPI.ClientConfig("tour"), logger)
	if err != nil {
		return err
	}

	engine, err := batch.NewEngine(batch.PoolSource(pool), cfg.Batch, logger,
		batch.WithMonitor(monitor))
	if err != nil {
		return err
	}

	if err := syncAreaCodes(ctx, logger, tourClient, dedupEngine, monitor); err != nil {
		return err
	}
	if err := syncAttractions(ctx, logger, tourClient, engine); err != nil {
		return err
	}

	if cfg.WeatherAPI.ServiceKey == "" {
		logger.Info("Weather provider key not configured, skipping forecast sync")
		return nil
	}
	weatherClient, err := openapi.New(cfg.WeatherAPI.ClientConfig("kma"), logger)
	if err != nil {
		return err
	}
	return syncForecasts(ctx, logger, weatherClient, engine)
}

// syncAreaCodes pulls the provider's region list and runs every entry
// through the dedup engine, so entities arriving from multiple providers
// converge on one canonical row.
func syncAreaCodes(ctx context.Context, logger *slog.Logger, client *openapi.Client, engine *dedup.Engine, monitor jobmon.Monitor) error {
	jobID, err := monitor.JobStart(ctx, "area_codes", jobmon.TypeIngestion)
	if err != nil {
		logger.Warn("Job monitor start failed", "error", err)
	}

	var processed, merged, inserted int
	pager := client.Pages("areaCode1", url.Values{})
	for {
		items, err := pager.Next(ctx)
		if errors.Is(err, openapi.ErrNoMorePages) {
			break
		}
		if err != nil {
			completeJob(ctx, logger, monitor, jobID, jobmon.StatusFailed, err)
			return err
		}

		for _, item := range items {
			rec := areaItemToEntity(item)
			decision, _, err := engine.Ingest(ctx, rec)
			if err != nil {
				completeJob(ctx, logger, monitor, jobID, jobmon.StatusFailed, err)
				return err
			}
			processed++
			if decision.Kind == dedup.MatchNone {
				inserted++
			} else {
				merged++
			}
		}
		if err := monitor.JobProgress(ctx, jobID, processed, processed, 0); err != nil {
			logger.Warn("Job monitor progress failed", "error", err)
		}
	}

	logger.Info("Area codes synced", "processed", processed, "inserted", inserted, "merged", merged)
	completeJob(ctx, logger, monitor, jobID, jobmon.StatusCompleted, nil)
	return nil
}

// syncAttractions streams area-based content pages into the batch engine.
func syncAttractions(ctx context.Context, logger *slog.Logger, client *openapi.Client, engine *batch.Engine) error {
	params := url.Values{}
	params.Set("arrange", "C")

	pager := client.Pages("areaBasedList1", params)
	for {
		items, err := pager.Next(ctx)
		if errors.Is(err, openapi.ErrNoMorePages) {
			return nil
		}
		if err != nil {
			return err
		}

		records := make([]batch.Record, 0, len(items))
		for _, item := range items {
			records = append(records, projectItem(item, attractionFields))
		}

		result, err := engine.Persist(ctx, attractionsTarget, records)
		if err != nil {
			return err
		}
		if result.Failed > 0 {
			logger.Warn("Attraction page partially failed",
				"successful", result.Successful, "failed", result.Failed,
				"success_rate", fmt.Sprintf("%.2f", result.SuccessRate()))
		}
	}
}

// syncForecasts pulls the village forecast for each known grid point and
// persists the flattened category/value rows. Grid points are independent, so
// a failed point is logged and skipped rather than aborting the rest.
func syncForecasts(ctx context.Context, logger *slog.Logger, client *openapi.Client, engine *batch.Engine) error {
	baseDate, baseTime := forecastBase(time.Now())

	for _, point := range forecastGrid {
		params := url.Values{}
		params.Set("base_date", baseDate)
		params.Set("base_time", baseTime)
		params.Set("nx", strconv.Itoa(point.nx))
		params.Set("ny", strconv.Itoa(point.ny))

		items, err := client.FetchAllPages(ctx, "getVilageFcst", params)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			logger.Error("Forecast fetch failed, skipping grid point",
				"region_code", point.code, "nx", point.nx, "ny", point.ny, "error", err)
			continue
		}

		records := make([]batch.Record, 0, len(items))
		for _, item := range items {
			rec := projectItem(item, forecastFields)
			rec["region_code"] = point.code
			records = append(records, rec)
		}

		result, err := engine.Persist(ctx, forecastTarget, records)
		if err != nil {
			return err
		}
		if result.Failed > 0 {
			logger.Warn("Forecast batch partially failed",
				"region_code", point.code, "successful", result.Successful, "failed", result.Failed)
		}
	}
	return nil
}

// forecastBase returns the most recent village-forecast issue slot. KMA
// publishes at 02, 05, 08, 11, 14, 17, 20 and 23 hours, available roughly
// ten minutes past the hour; before the first slot of the day the previous
// day's 2300 issue is the latest.
func forecastBase(now time.Time) (string, string) {
	issue := now.Add(-10 * time.Minute)
	hour := issue.Hour()
	slot := -1
	for h := 2; h <= 23; h += 3 {
		if hour >= h {
			slot = h
		}
	}
	if slot == -1 {
		issue = issue.AddDate(0, 0, -1)
		slot = 23
	}
	return issue.Format("20060102"), fmt.Sprintf("%02d00", slot)
}

// projectItem maps an upstream item onto a target record through the fixed
// field mapping; unmapped upstream keys are dropped.
func projectItem(item openapi.Item, fields map[string]string) batch.Record {
	rec := make(batch.Record, len(fields))
	for from, to := range fields {
		if v, ok := item[from]; ok {
			rec[to] = v
		}
	}
	return rec
}

// areaItemToEntity normalizes one area-code item into a dedup entity record.
func areaItemToEntity(item openapi.Item) dedup.EntityRecord {
	rec := dedup.EntityRecord{
		Name:         stringField(item, "name"),
		Level:        1,
		Provider:     "tour",
		ProviderCode: stringField(item, "code"),
		AdminCode:    stringField(item, "code"),
		Payload:      item,
	}
	if lat, ok := floatField(item, "mapy"); ok {
		if lon, ok := floatField(item, "mapx"); ok {
			rec.Lat = &lat
			rec.Lon = &lon
		}
	}
	return rec
}

func stringField(item openapi.Item, key string) string {
	switch v := item[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func floatField(item openapi.Item, key string) (float64, bool) {
	switch v := item[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func completeJob(ctx context.Context, logger *slog.Logger, monitor jobmon.Monitor, id uuid.UUID, status string, jobErr error) {
	if err := monitor.JobComplete(ctx, id, status, jobErr); err != nil {
		logger.Warn("Job monitor completion failed", "error", err)
	}
}
