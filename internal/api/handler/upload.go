package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/tryon/internal/tuning"
)

const maxImagesPerForm = 20

// multipartMemory is how much of a form is buffered in memory; larger file
// parts spill to temporary files.
var multipartMemory int64 = 32 << 20

var errBadUpload = errors.New("bad upload")

// readImages collects the "images" file parts and "image_urls" values of a
// multipart form. Each file may be at most maxBytes long. File parts are
// read fully into memory and any temporary files are removed on return;
// plain form values stay available to the caller.
func readImages(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]tuning.ImageInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes*maxImagesPerForm+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadUpload, err)
	}
	defer r.MultipartForm.RemoveAll()

	var images []tuning.ImageInput
	for _, fh := range r.MultipartForm.File["images"] {
		if fh.Size > maxBytes {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", errBadUpload, fh.Filename, maxBytes)
		}
		data, err := readPart(fh)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", errBadUpload, fh.Filename, err)
		}
		images = append(images, tuning.ImageInput{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Data:        data,
		})
	}
	for _, u := range r.MultipartForm.Value["image_urls"] {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return nil, fmt.Errorf("%w: image url %q must be http or https", errBadUpload, u)
		}
		images = append(images, tuning.ImageInput{URL: u})
	}
	if len(images) > maxImagesPerForm {
		return nil, fmt.Errorf("%w: at most %d images per request", errBadUpload, maxImagesPerForm)
	}
	return images, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
