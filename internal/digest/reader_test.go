package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectedSum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func TestReaderHashesAndCountsInOnePass(t *testing.T) {
	const body = "the quick brown fox jumps over the lazy dog"
	dr := NewReader(strings.NewReader(body))

	n, err := io.Copy(io.Discard, dr)
	require.NoError(t, err)

	assert.Equal(t, int64(len(body)), n)
	assert.Equal(t, int64(len(body)), dr.Count())
	assert.Equal(t, expectedSum(body), dr.Sum())
}

func TestSumMatchesReader(t *testing.T) {
	const body = "matching content"
	digestStr, n, err := Sum(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), n)
	assert.Equal(t, expectedSum(body), digestStr)
}

func TestSumBytesMatchesStreamedSum(t *testing.T) {
	target := []byte("../relative/target")
	streamed, _, err := Sum(strings.NewReader(string(target)))
	require.NoError(t, err)
	assert.Equal(t, streamed, SumBytes(target))
}

func TestReaderEmptyBody(t *testing.T) {
	dr := NewReader(strings.NewReader(""))
	n, err := io.Copy(io.Discard, dr)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, expectedSum(""), dr.Sum())
}
