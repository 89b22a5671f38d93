package gateway

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var errOutsideRoot = errors.New("path escapes static root")

func (s *Service) registerStaticRoutes(mux *http.ServeMux) {
	admin := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveStatic(w, r, s.config.AdminDir, strings.TrimPrefix(r.URL.Path, "/admin"))
	})
	mux.HandleFunc("GET /admin", s.requirePage(admin))
	mux.HandleFunc("GET /admin/", s.requirePage(admin))

	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		serveStatic(w, r, s.config.PublicDir, r.URL.Path)
	})
}

// serveStatic serves name from root. Directories resolve to their
// index.html and a missing extensionless name falls back to name.html.
func serveStatic(w http.ResponseWriter, r *http.Request, root, name string) {
	if root == "" {
		http.NotFound(w, r)
		return
	}

	file, err := locateStaticFile(root, name)
	switch {
	case errors.Is(err, errOutsideRoot):
		http.Error(w, http.StatusText(http.StatusUnavailableForLegalReasons), http.StatusUnavailableForLegalReasons)
		return
	case err != nil:
		http.NotFound(w, r)
		return
	}

	f, err := os.Open(file)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// locateStaticFile resolves name inside root without following it out.
func locateStaticFile(root, name string) (string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	full := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideRoot
	}

	info, err := os.Stat(full)
	if err == nil && info.IsDir() {
		full = filepath.Join(full, "index.html")
		info, err = os.Stat(full)
	}
	if errors.Is(err, fs.ErrNotExist) && path.Ext(name) == "" && name != "" && !strings.HasSuffix(name, "/") {
		full += ".html"
		info, err = os.Stat(full)
	}
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fs.ErrNotExist
	}
	return full, nil
}
