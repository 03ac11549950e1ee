//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cholette-research/tract-cli/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	runs := []model.AnalysisRun{
		{
			ID:        "abc12345-6789-0000-0000-000000000000",
			Scheme:    "mobility",
			Status:    model.RunStatusComplete,
			Tracts:    9129,
			CreatedAt: now,
			UpdatedAt: now.Add(2 * time.Minute),
		},
		{
			ID:        "def12345-6789-0000-0000-000000000000",
			Scheme:    "working-poor",
			Status:    model.RunStatusRunning,
			CreatedAt: now.Add(-1 * time.Hour),
			UpdatedAt: now.Add(-30 * time.Minute),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "ID")
	assert.Contains(t, output, "SCHEME")
	assert.Contains(t, output, "mobility")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "9129")
	assert.Contains(t, output, "2m0s")
	assert.Contains(t, output, "working-poor")
	assert.Contains(t, output, "running")
}

func TestFormatRunsListRunningDuration(t *testing.T) {
	var buf bytes.Buffer
	formatRunsList(&buf, []model.AnalysisRun{
		{ID: "x", Scheme: "mobility", Status: model.RunStatusRunning},
	})
	assert.NotContains(t, buf.String(), "0s\n")
}
