package internal

import (
	"meet-signal/domain"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfig_Policy(t *testing.T) {
	req := require.New(t)

	policy, err := Config{CapacityPolicy: "Reject"}.Policy()
	req.NoError(err)
	req.Equal(domain.RejectOverCapacity, policy)

	policy, err = Config{CapacityPolicy: "admit"}.Policy()
	req.NoError(err)
	req.Equal(domain.AdmitOverCapacity, policy)

	_, err = Config{CapacityPolicy: "kick"}.Policy()
	req.Error(err)
}

func TestSplitURLs(t *testing.T) {
	req := require.New(t)

	req.Equal([]string{"turn:a:3478", "turns:b:5349"}, SplitURLs(" turn:a:3478, ,turns:b:5349 "))
	req.Empty(SplitURLs(""))
}
