package artifacts

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sort"
)

// Upload is a file received from a client, keyed by its form field.
type Upload struct {
	Field    string
	Filename string
	Open     func() (io.ReadCloser, error)
}

// FromFileHeader wraps a multipart file part.
func FromFileHeader(field string, fh *multipart.FileHeader) Upload {
	return Upload{
		Field:    field,
		Filename: fh.Filename,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// FromBytes wraps in-memory content.
func FromBytes(field, filename string, data []byte) Upload {
	return Upload{
		Field:    field,
		Filename: filename,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// Uploads is the ordered set of files received with one request.
type Uploads []Upload

// Get returns the first upload for field.
func (u Uploads) Get(field string) (Upload, bool) {
	for _, up := range u {
		if up.Field == field {
			return up, true
		}
	}
	return Upload{}, false
}

// FromMultipart flattens the file parts of a parsed multipart form, ordered
// by field name.
func FromMultipart(form *multipart.Form) Uploads {
	if form == nil {
		return nil
	}
	fields := make([]string, 0, len(form.File))
	for field := range form.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var out Uploads
	for _, field := range fields {
		for _, fh := range form.File[field] {
			out = append(out, FromFileHeader(field, fh))
		}
	}
	return out
}

// Save writes the upload to dst through a temporary file in the same
// directory, so dst is either complete or absent.
func Save(u Upload, dst string) error {
	src, err := u.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload %q: %w", u.Field, err)
	}
	defer src.Close()
	return WriteFile(dst, src)
}

// WriteFile atomically replaces dst with the content of r.
func WriteFile(dst string, r io.Reader) error {
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
