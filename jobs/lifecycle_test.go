package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docyard/docyard/common"
)

func files(statuses ...common.FileStatus) []*common.FileMaster {
	out := make([]*common.FileMaster, len(statuses))
	for i, s := range statuses {
		out[i] = &common.FileMaster{ID: int64(i + 1), Status: s}
	}
	return out
}

func ingests(statuses ...common.GxStatus) []*common.GxMaster {
	out := make([]*common.GxMaster, len(statuses))
	for i, s := range statuses {
		out[i] = &common.GxMaster{ID: int64(i + 1), Status: s}
	}
	return out
}

func TestSettlement(t *testing.T) {
	tests := []struct {
		name    string
		files   []*common.FileMaster
		ingests []*common.GxMaster
		settled bool
		outcome common.JobStatus
		reason  string
	}{
		{
			name:    "no files yet",
			files:   nil,
			ingests: nil,
			settled: false,
		},
		{
			name:    "file still in progress",
			files:   files(common.FileCompleted, common.FileInProgress),
			settled: false,
		},
		{
			name:    "ingest still queued",
			files:   files(common.FileCompleted),
			ingests: ingests(common.GxQueued),
			settled: false,
		},
		{
			name:    "all successes complete the job",
			files:   files(common.FileCompleted, common.FileDuplicate, common.FileIgnored),
			ingests: ingests(common.GxComplete, common.GxSkipped),
			settled: true,
			outcome: common.JobCompleted,
		},
		{
			name:    "failed file fails the job",
			files:   files(common.FileCompleted, common.FileFailed),
			ingests: ingests(common.GxComplete),
			settled: true,
			outcome: common.JobFailed,
			reason:  "1 of 2 files and 0 of 1 ingests failed",
		},
		{
			name:    "failed ingest fails the job",
			files:   files(common.FileCompleted),
			ingests: ingests(common.GxError, common.GxCancelled),
			settled: true,
			outcome: common.JobFailed,
			reason:  "0 of 1 files and 2 of 2 ingests failed",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			settled, outcome, reason := settlement(tc.files, tc.ingests)
			assert.Equal(t, tc.settled, settled)
			assert.Equal(t, tc.outcome, outcome)
			assert.Equal(t, tc.reason, reason)
		})
	}
}
