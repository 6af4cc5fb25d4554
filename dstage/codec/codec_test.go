package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMsgpackKeepsOrder(t *testing.T) {
	c := NewMsgpack()
	data, err := c.Marshal([]any{"cat", "dog", "cat", "bird"})
	require.NoError(t, err)

	labels, err := c.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, []any{"cat", "dog", "cat", "bird"}, labels)
}

func TestMsgpackLooseNumbers(t *testing.T) {
	c := NewMsgpack()
	data, err := c.Marshal([]any{int8(1), 300, float32(0.5)})
	require.NoError(t, err)

	labels, err := c.Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, labels, 3)
	assert.EqualValues(t, 1, labels[0])
	assert.EqualValues(t, 300, labels[1])
	assert.Equal(t, float64(0.5), labels[2])
}

func TestMsgpackEmptyBatch(t *testing.T) {
	c := Default()
	data, err := c.Marshal(nil)
	require.NoError(t, err)

	labels, err := c.Unmarshal(data)
	require.NoError(t, err)
	assert.Empty(t, labels)
	assert.NotNil(t, labels)
}

func TestMsgpackRejectsGarbage(t *testing.T) {
	_, err := NewMsgpack().Unmarshal([]byte{0xc1})
	assert.Error(t, err)
}

func TestEncodedSizeGrowsWithLabel(t *testing.T) {
	c := NewMsgpack()
	small, err := c.Marshal([]any{"a"})
	require.NoError(t, err)
	large, err := c.Marshal([]any{"a much longer label value"})
	require.NoError(t, err)
	assert.Less(t, len(small), len(large))
}
