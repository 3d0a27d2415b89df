// Copyright (c) 2025 The VeChainThor developers
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package log

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotateWriter(t *testing.T) {
	dir := t.TempDir()
	w, err := NewRotateWriter(dir, "node", WithMaxFileSize(1024), WithMaxFiles(3))
	require.NoError(t, err)
	defer w.Close()

	first := w.Name()
	record := bytes.Repeat([]byte("x"), 600)
	_, err = w.Write(record)
	require.NoError(t, err)
	assert.Equal(t, first, w.Name(), "fits in the first file")

	_, err = w.Write(record)
	require.NoError(t, err)
	assert.NotEqual(t, first, w.Name(), "records are not split")

	for range 5 {
		_, err = w.Write(record)
		require.NoError(t, err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "node-*.log"))
	require.NoError(t, err)
	assert.Len(t, files, 3)
	assert.Contains(t, files, w.Name())

	data, err := os.ReadFile(w.Name())
	require.NoError(t, err)
	assert.Equal(t, record, data)

	require.NoError(t, w.Close())
	_, err = w.Write(record)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestRotateWriterOversizedRecord(t *testing.T) {
	w, err := NewRotateWriter(t.TempDir(), "big", WithMaxFileSize(10))
	require.NoError(t, err)
	defer w.Close()

	n, err := w.Write(bytes.Repeat([]byte("y"), 100))
	require.NoError(t, err)
	assert.Equal(t, 100, n, "written whole into an empty file")
}
