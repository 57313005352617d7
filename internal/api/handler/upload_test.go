package handler

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadImages_RemovesSpilledFiles(t *testing.T) {
	prev := multipartMemory
	multipartMemory = 1
	t.Cleanup(func() { multipartMemory = prev })

	var body bytes.Buffer
	mpw := multipart.NewWriter(&body)
	require.NoError(t, mpw.WriteField("name", "me"))
	for _, name := range []string{"a.jpg", "b.jpg"} {
		part, err := mpw.CreateFormFile("images", name)
		require.NoError(t, err)
		_, err = part.Write(bytes.Repeat([]byte("x"), 4096))
		require.NoError(t, err)
	}
	require.NoError(t, mpw.WriteField("image_urls", "https://cdn.example.com/c.jpg"))
	require.NoError(t, mpw.Close())

	req := httptest.NewRequest("POST", "/api/v1/models", &body)
	req.Header.Set("Content-Type", mpw.FormDataContentType())

	images, err := readImages(httptest.NewRecorder(), req, 1<<20)
	require.NoError(t, err)
	require.Len(t, images, 3)
	assert.Len(t, images[0].Data, 4096)
	assert.Equal(t, "https://cdn.example.com/c.jpg", images[2].URL)
	assert.Equal(t, "me", req.FormValue("name"))

	fhs := req.MultipartForm.File["images"]
	require.Len(t, fhs, 2)
	for _, fh := range fhs {
		_, err := fh.Open()
		assert.Error(t, err, "temporary file for %s should be gone", fh.Filename)
	}
}

func TestReadImages_RejectsOversizedPart(t *testing.T) {
	var body bytes.Buffer
	mpw := multipart.NewWriter(&body)
	part, err := mpw.CreateFormFile("images", "big.jpg")
	require.NoError(t, err)
	_, err = part.Write(bytes.Repeat([]byte("x"), 2048))
	require.NoError(t, err)
	require.NoError(t, mpw.Close())

	req := httptest.NewRequest("POST", "/api/v1/models", &body)
	req.Header.Set("Content-Type", mpw.FormDataContentType())

	_, err = readImages(httptest.NewRecorder(), req, 1024)
	require.ErrorIs(t, err, errBadUpload)
	assert.Contains(t, err.Error(), "big.jpg")
}
