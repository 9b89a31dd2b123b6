package audit

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"daypartd/internal/model"
)

func TestWriteXLSX(t *testing.T) {
	applied := time.Date(2024, 6, 5, 12, 0, 0, 0, time.UTC)
	entries := []model.AuditEntry{
		{ID: 1, JobID: "job-1", ChangeType: "create", TargetTable: "schedule", TargetID: "r1", AppliedAt: applied},
		{ID: 2, JobID: "job-1", ChangeType: "delete", TargetTable: "override", TargetID: "o1", AppliedAt: applied},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, entries))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "Job ID", rows[0][1])
	assert.Equal(t, "job-1", rows[1][1])
	assert.Equal(t, "create", rows[1][2])
	assert.Equal(t, "override", rows[2][3])
	assert.Equal(t, "2024-06-05T12:00:00Z", rows[2][5])
}

func TestWriteXLSXEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 1, "header only")
}

func TestFilename(t *testing.T) {
	from := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "daypartd_audit_20240601_20240630.xlsx", Filename(from, to))
}
