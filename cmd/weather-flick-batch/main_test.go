// Copyright 2025 The Weather Flick Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aicc6/weather-flick-batch-sub000/openapi"
)

func TestForecastBase(t *testing.T) {
	cases := []struct {
		now      string
		wantDate string
		wantTime string
	}{
		{"2026-08-23T06:30:00", "20260823", "0500"},
		{"2026-08-23T05:05:00", "20260823", "0200"}, // 0500 issue not yet available
		{"2026-08-23T23:45:00", "20260823", "2300"},
		{"2026-08-23T01:30:00", "20260822", "2300"}, // before the first slot of the day
		{"2026-08-23T14:20:00", "20260823", "1400"},
	}
	for _, tc := range cases {
		now, err := time.Parse("2006-01-02T15:04:05", tc.now)
		require.NoError(t, err)
		date, tm := forecastBase(now)
		require.Equal(t, tc.wantDate, date, "now=%s", tc.now)
		require.Equal(t, tc.wantTime, tm, "now=%s", tc.now)
	}
}

func TestProjectItem(t *testing.T) {
	item := openapi.Item{
		"contentid": "12345",
		"title":     "경복궁",
		"mapx":      "126.9770",
		"mapy":      "37.5796",
		"unmapped":  "dropped",
	}
	rec := projectItem(item, attractionFields)

	require.Equal(t, "12345", rec["content_id"])
	require.Equal(t, "경복궁", rec["title"])
	require.Equal(t, "126.9770", rec["longitude"])
	require.Equal(t, "37.5796", rec["latitude"])
	require.NotContains(t, rec, "unmapped")
	require.NotContains(t, rec, "addr1", "absent upstream keys stay absent")
}

func TestAreaItemToEntity(t *testing.T) {
	item := openapi.Item{"code": "1", "name": "서울"}
	rec := areaItemToEntity(item)
	require.Equal(t, "서울", rec.Name)
	require.Equal(t, 1, rec.Level)
	require.Equal(t, "tour", rec.Provider)
	require.Equal(t, "1", rec.ProviderCode)
	require.Nil(t, rec.Lat)

	withCoords := openapi.Item{"code": float64(39), "name": "제주", "mapx": "126.53", "mapy": 33.49}
	rec = areaItemToEntity(withCoords)
	require.Equal(t, "39", rec.ProviderCode)
	require.NotNil(t, rec.Lat)
	require.InDelta(t, 33.49, *rec.Lat, 1e-9)
	require.InDelta(t, 126.53, *rec.Lon, 1e-9)
}
