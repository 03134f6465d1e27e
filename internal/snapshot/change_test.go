package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, s string) *Snapshot {
	t.Helper()
	snap, err := Decode([]byte(s))
	require.NoError(t, err)
	return snap
}

func TestEqualReflexive(t *testing.T) {
	a := mustDecode(t, perfSnapshot)
	assert.True(t, Equal(a, a))
	assert.True(t, Equal(a, mustDecode(t, perfSnapshot)))
}

func TestEqualIgnoresKeyOrder(t *testing.T) {
	a := mustDecode(t, `{"1":{"channel_name":"PERF","latest_content":"{}","total_publishes":3}}`)
	b := mustDecode(t, `{"1":{"total_publishes":3,"latest_content":"{}","channel_name":"PERF"}}`)
	assert.True(t, Equal(a, b))
}

func TestEqualDetectsAnyFieldChange(t *testing.T) {
	base := `{"1":{"channel_name":"PERF","latest_content":"{\"a\":1}","total_publishes":3,"extra":{"k":[1,2]}}}`
	mutated := []string{
		`{"1":{"channel_name":"PERF","latest_content":"{\"a\":2}","total_publishes":3,"extra":{"k":[1,2]}}}`,
		`{"1":{"channel_name":"PERF","latest_content":"{\"a\":1}","total_publishes":4,"extra":{"k":[1,2]}}}`,
		`{"1":{"channel_name":"PERF","latest_content":"{\"a\":1}","total_publishes":3,"extra":{"k":[2,1]}}}`,
		`{"1":{"channel_name":"PERF","latest_content":"{\"a\":1}","total_publishes":3}}`,
		`{"2":{"channel_name":"PERF","latest_content":"{\"a\":1}","total_publishes":3,"extra":{"k":[1,2]}}}`,
	}

	a := mustDecode(t, base)
	for _, m := range mutated {
		assert.False(t, Equal(a, mustDecode(t, m)), m)
	}
}

func TestEqualNil(t *testing.T) {
	a := mustDecode(t, perfSnapshot)
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(a, nil))
	assert.False(t, Equal(nil, a))
}

func TestDetectorAcceptsOnlyChanges(t *testing.T) {
	var d Detector

	assert.Nil(t, d.Last())
	assert.False(t, d.Observe(nil))

	first := mustDecode(t, perfSnapshot)
	assert.True(t, d.Observe(first))
	assert.False(t, d.Observe(mustDecode(t, perfSnapshot)), "byte-identical snapshot must be dropped")
	assert.Equal(t, uint64(1), d.Generation())

	next := mustDecode(t, `{"1":{"channel_name":"PERF","latest_content":"{\"a\":5}"}}`)
	assert.True(t, d.Observe(next))
	assert.Same(t, next, d.Last())
	assert.Equal(t, uint64(2), d.Generation())
}
