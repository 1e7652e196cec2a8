package validate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsWellFormedInput(t *testing.T) {
	v, err := NewEpisodeInputValidator()
	require.NoError(t, err)

	payload := []byte(`{
		"timestamp": "2026-01-01T00:00:00Z",
		"action_type": "read_file_contents",
		"action": {"file_path": "a.txt"},
		"result": {"status": "success", "output": "contents"}
	}`)
	require.NoError(t, v.Validate(payload))
}

func TestValidateRejectsMissingActionType(t *testing.T) {
	v, err := NewEpisodeInputValidator()
	require.NoError(t, err)

	payload := []byte(`{
		"timestamp": "2026-01-01T00:00:00Z",
		"action": {"file_path": "a.txt"},
		"result": {"status": "success"}
	}`)
	err = v.Validate(payload)
	require.Error(t, err)
}

func TestValidateRejectsInvalidStatusEnum(t *testing.T) {
	v, err := NewEpisodeInputValidator()
	require.NoError(t, err)

	payload := []byte(`{
		"timestamp": "2026-01-01T00:00:00Z",
		"action_type": "read_file_contents",
		"action": {},
		"result": {"status": "pending"}
	}`)
	require.Error(t, v.Validate(payload))
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	v, err := NewEpisodeInputValidator()
	require.NoError(t, err)
	require.Error(t, v.Validate([]byte("not json")))
}
