package mediafile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pngHeader  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegHeader = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")
	pdfHeader  = []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")
	mp4Header  = []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		fileName string
		declared string
		wantKind Kind
		wantExt  string
		wantCT   string
	}{
		{"png sniffed", pngHeader, "foto.PNG", "", KindImage, ".png", "image/png"},
		{"jpeg with wrong extension", jpegHeader, "foto.png", "image/png", KindImage, ".jpg", "image/jpeg"},
		{"jpeg without extension", jpegHeader, "foto", "", KindImage, ".jpg", "image/jpeg"},
		{"pdf document", pdfHeader, "ficha.pdf", "application/pdf", KindDocument, ".pdf", "application/pdf"},
		{"mp4 video", mp4Header, "recorrido.mp4", "video/mp4", KindVideo, ".mp4", "video/mp4"},
		{"docx by extension", []byte("PK\x03\x04rest"), "planos.docx", "", KindDocument, ".docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.input, tt.fileName, tt.declared, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, got.Kind)
			assert.Equal(t, tt.wantExt, got.Ext)
			assert.Equal(t, tt.wantCT, got.ContentType)
		})
	}
}

func TestClassifyRejects(t *testing.T) {
	_, err := Classify(nil, "x.png", "", 0)
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = Classify(bytes.Repeat([]byte{'a'}, 2048), "x.txt", "text/plain", 1024)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = Classify([]byte("#!/bin/sh\necho hi\n"), "run.sh", "text/x-shellscript", 0)
	assert.ErrorIs(t, err, ErrTypeNotAllowed)
}
