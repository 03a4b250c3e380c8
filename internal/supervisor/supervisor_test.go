package supervisor_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragserver/internal/supervisor"
)

func TestNew_RejectsInvalidSchedule(t *testing.T) {
	_, err := supervisor.New(nil, nil, "not a valid cron spec !!", nil)
	require.Error(t, err)
}

func TestNew_AcceptsEveryStyleSchedule(t *testing.T) {
	s, err := supervisor.New(nil, nil, "@every 5m", nil)
	require.NoError(t, err)
	require.NotNil(t, s)
}
