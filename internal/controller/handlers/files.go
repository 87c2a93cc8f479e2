package handlers

import (
	"io/fs"
	"net/http"
	"strings"
)

// artifactFS exposes regular files of the upload folder. Directories and
// hidden entries such as staging directories are reported as missing.
type artifactFS struct {
	root http.FileSystem
}

func (a artifactFS) Open(name string) (http.File, error) {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return nil, fs.ErrNotExist
		}
	}

	f, err := a.root.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}

// Files serves stored artifacts read-only. Mount it with the /files prefix
// stripped, e.g. GET /files/job/{id}/output/table.csv.
func (h *Handlers) Files() http.Handler {
	return http.FileServer(artifactFS{root: http.Dir(h.svc.Layout().Root)})
}
