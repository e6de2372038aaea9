package remap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbn-project/sbn/internal/sbn/ids"
	"github.com/sbn-project/sbn/internal/sbn/remap"
)

func TestRemapHit(t *testing.T) {
	t.Parallel()
	tbl, err := remap.New([]remap.Entry{
		{ProcessorId: 2, From: 0x0801, To: 0x0901},
	}, ids.PolicyDrop)
	require.NoError(t, err)

	assert.Equal(t, ids.MessageId(0x0901), tbl.RemapMID(2, 0x0801))
}

func TestRemapMissDropPolicy(t *testing.T) {
	t.Parallel()
	tbl, err := remap.New([]remap.Entry{
		{ProcessorId: 2, From: 0x0801, To: 0x0901},
	}, ids.PolicyDrop)
	require.NoError(t, err)

	assert.Equal(t, ids.MessageId(0), tbl.RemapMID(2, 0x0802))
}

func TestRemapMissPassThroughPolicy(t *testing.T) {
	t.Parallel()
	tbl, err := remap.New(nil, ids.PolicyPassThrough)
	require.NoError(t, err)

	assert.Equal(t, ids.MessageId(0x0802), tbl.RemapMID(2, 0x0802))
}

func TestRemapNilTableIsPassThrough(t *testing.T) {
	t.Parallel()
	var tbl *remap.Table
	assert.Equal(t, ids.MessageId(0x0802), tbl.RemapMID(2, 0x0802))
}

func TestRemapRejectsDuplicateKeys(t *testing.T) {
	t.Parallel()
	_, err := remap.New([]remap.Entry{
		{ProcessorId: 2, From: 0x0801, To: 0x0901},
		{ProcessorId: 2, From: 0x0801, To: 0x0902},
	}, ids.PolicyDrop)
	require.Error(t, err)
}

// TestRemapTwoElementDegenerate exercises the two-entry table where the
// source's bisection returned a false miss.
func TestRemapTwoElementDegenerate(t *testing.T) {
	t.Parallel()
	tbl, err := remap.New([]remap.Entry{
		{ProcessorId: 1, From: 10, To: 100},
		{ProcessorId: 1, From: 20, To: 200},
	}, ids.PolicyDrop)
	require.NoError(t, err)

	assert.Equal(t, ids.MessageId(100), tbl.RemapMID(1, 10))
	assert.Equal(t, ids.MessageId(200), tbl.RemapMID(1, 20))
	assert.Equal(t, ids.MessageId(0), tbl.RemapMID(1, 15))
}

func TestRemapManyEntriesBisection(t *testing.T) {
	t.Parallel()
	entries := make([]remap.Entry, 0, 64)
	for i := ids.MessageId(0); i < 64; i++ {
		entries = append(entries, remap.Entry{ProcessorId: 3, From: i * 2, To: i*2 + 1})
	}
	tbl, err := remap.New(entries, ids.PolicyDrop)
	require.NoError(t, err)

	for i := ids.MessageId(0); i < 64; i++ {
		assert.Equal(t, i*2+1, tbl.RemapMID(3, i*2))
		assert.Equal(t, ids.MessageId(0), tbl.RemapMID(3, i*2+1))
	}
}
