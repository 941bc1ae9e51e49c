package zerologhook

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lancer-kit/taskvisor"
)

func TestEventHandler(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := EventHandler(zerolog.New(buf))

	handler(taskvisor.ErrorEvent("worker context failed").
		SetWorker("w1").
		SetField("error", "boom"))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "error", line["level"])
	assert.Equal(t, "w1", line["worker_id"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, "worker context failed", line["message"])

	buf.Reset()
	handler(taskvisor.InfoEvent("supervisor stopped"))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
}
