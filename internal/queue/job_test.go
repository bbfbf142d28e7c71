package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJob(t *testing.T) {
	j, err := ParseJob([]byte(`{"type":"compile_one","lang":"Fre","name":"nightly","instructions":"retry after fix"}`))
	require.NoError(t, err)
	assert.Equal(t, JobCompileOne, j.Type)
	assert.Equal(t, "Fre", j.Lang)
	assert.Equal(t, "nightly", j.Name)
	assert.Equal(t, "retry after fix", j.Instructions)
	assert.Nil(t, j.Params)

	j, err = ParseJob([]byte(`{"type":"compile_all","payload":{"requested_by":"ci","ref":"main"}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"requested_by": "ci", "ref": "main"}, j.Params)

	j, err = ParseJob([]byte(`{"type":"compile_all"}`))
	require.NoError(t, err)
	assert.Equal(t, JobCompileAll, j.Type)

	_, err = ParseJob([]byte(`{"type":"compile_everything"}`))
	assert.ErrorIs(t, err, ErrUnknownJobType)

	_, err = ParseJob([]byte(`{"type":"compile_one"}`))
	assert.Error(t, err, "compile_one needs a language")

	_, err = ParseJob([]byte(`not json`))
	assert.Error(t, err)
}

func TestPayloadOmitsQueueFields(t *testing.T) {
	raw, err := (&Job{ID: "x", Type: JobCompileAll, Attempts: 3}).Payload()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"compile_all"}`, string(raw))

	raw, err = (&Job{Type: JobCompileAll, Params: map[string]string{"ref": "main"}}).Payload()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"compile_all","payload":{"ref":"main"}}`, string(raw))
}
