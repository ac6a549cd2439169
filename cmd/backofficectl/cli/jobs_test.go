package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshworks/backoffice/jobs"
)

func TestTaskForSupportedJobs(t *testing.T) {
	for _, name := range SupportedJobs() {
		task, err := taskFor(name)
		require.NoError(t, err)
		assert.Equal(t, name, task.Type())
	}
	_, err := taskFor("payroll:export")
	require.Error(t, err)
}

func TestUnconfiguredCLI(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskLedgerReconcile)
	require.Error(t, err)
	_, err = c.InspectQueue(context.Background())
	require.Error(t, err)
}

func TestNewJobsCLIRejectsBadURL(t *testing.T) {
	_, err := NewJobsCLI("mysql://nope")
	require.Error(t, err)
}
