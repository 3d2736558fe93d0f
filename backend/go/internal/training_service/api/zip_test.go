package api

import (
	"archive/zip"
	"bytes"
	"testing"
)

func zipBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("rows.csv")
	if err != nil {
		t.Fatal(err)
	}
	w.Write([]byte("1,2\n"))
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}
