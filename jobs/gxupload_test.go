package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docyard/docyard/common"
)

func TestAcceptedStatus(t *testing.T) {
	// ACTIVE means already live in the index; nothing polls past it, so it
	// must land terminal on acceptance.
	assert.Equal(t, common.GxComplete, acceptedStatus(common.GxActive))

	// A failure reported on a brand-new ingest stays pollable: the
	// reconciler settles it once GX has a definitive answer.
	assert.Equal(t, common.GxQueued, acceptedStatus(common.GxError))
	assert.Equal(t, common.GxQueued, acceptedStatus(common.GxCancelled))

	// Everything else passes through untouched.
	assert.Equal(t, common.GxQueued, acceptedStatus(common.GxQueued))
	assert.Equal(t, common.GxProcessing, acceptedStatus(common.GxProcessing))
	assert.Equal(t, common.GxComplete, acceptedStatus(common.GxComplete))
	assert.Equal(t, common.GxSkipped, acceptedStatus(common.GxSkipped))
}
