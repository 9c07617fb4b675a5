package archive

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPack_PreservesOrder(t *testing.T) {
	t.Parallel()

	entries := []Entry{
		{Name: "ko/metadata.json", Data: []byte("{}")},
		{Name: "ko/src/index.js", Data: []byte("js")},
		{Name: "ko/deployment.yaml", Data: []byte("endpoints: {}")},
	}
	var buf bytes.Buffer
	require.NoError(t, Pack(context.Background(), &buf, entries))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, zr.File, 3)
	for i, zf := range zr.File {
		assert.Equal(t, entries[i].Name, zf.Name)
		rc, err := zf.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, entries[i].Data, data)
	}
}

func TestPack_Deterministic(t *testing.T) {
	t.Parallel()

	entries := []Entry{{Name: "a", Data: []byte("1")}, {Name: "b", Data: []byte("2")}}
	var first, second bytes.Buffer
	require.NoError(t, Pack(context.Background(), &first, entries))
	require.NoError(t, Pack(context.Background(), &second, entries))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestPack_RejectsDuplicates(t *testing.T) {
	t.Parallel()

	err := Pack(context.Background(), io.Discard, []Entry{{Name: "a"}, {Name: "a"}})
	require.Error(t, err)
}
