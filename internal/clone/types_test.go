package clone

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJobDecodeKeepsRawPayload(t *testing.T) {
	t.Parallel()

	doc := `{"_id":"j1","runId":"r1","type":"clone","status":"running",` +
		`"data":{"name":"octo/hello","priority":"high","meta":{"k":1}}}`

	var job Job
	require.NoError(t, json.Unmarshal([]byte(doc), &job))
	require.Equal(t, "j1", job.ID)
	require.Equal(t, "r1", job.RunID)
	require.Equal(t, JobStatusRunning, job.Status)
	require.Equal(t, "octo/hello", job.Data.Name)
	require.JSONEq(t, `{"name":"octo/hello","priority":"high","meta":{"k":1}}`, string(job.Data.Raw))

	out, err := json.Marshal(job.Data)
	require.NoError(t, err)
	require.JSONEq(t, string(job.Data.Raw), string(out))
}

func TestPayloadMarshalWithoutRaw(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(Payload{Name: "octo/hello"})
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"octo/hello"}`, string(out))
}

func TestOutcomeValid(t *testing.T) {
	t.Parallel()

	require.True(t, Completed(10).Valid())
	require.True(t, Failed(ReasonExists, false).Valid())
	require.False(t, Failed("", true).Valid())
	require.False(t, Outcome{}.Valid())
	require.Equal(t, "failed(size limit, fatal=true)", Failed(ReasonSizeLimit, true).String())
	require.Equal(t, "completed", Completed(0).String())
}
