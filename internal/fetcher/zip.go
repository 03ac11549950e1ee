package fetcher

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// maxExtractSize caps a single extracted file. TIGER tract shapefiles for a
// full state stay well under this.
const maxExtractSize = 2 << 30

// ExtractZIP unpacks an in-memory ZIP archive into destDir and returns the
// extracted file paths.
func ExtractZIP(data []byte, destDir string) ([]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: open zip")
	}
	return extractAll(zr, destDir)
}

// ExtractZIPFile unpacks a ZIP archive on disk into destDir.
func ExtractZIPFile(path, destDir string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open zip %s", path)
	}
	defer func() { _ = zr.Close() }()
	return extractAll(&zr.Reader, destDir)
}

func extractAll(zr *zip.Reader, destDir string) ([]string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "fetcher: create %s", destDir)
	}
	var paths []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		dest, err := sanitizePath(destDir, f.Name)
		if err != nil {
			return nil, err
		}
		if err := extractOne(f, dest); err != nil {
			return nil, err
		}
		paths = append(paths, dest)
	}
	return paths, nil
}

func extractOne(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "fetcher: open zip entry %s", f.Name)
	}
	defer func() { _ = rc.Close() }()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return eris.Wrapf(err, "fetcher: create dir for %s", dest)
	}
	out, err := os.Create(dest)
	if err != nil {
		return eris.Wrapf(err, "fetcher: create %s", dest)
	}
	_, err = io.Copy(out, io.LimitReader(rc, maxExtractSize))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return eris.Wrapf(err, "fetcher: extract %s", f.Name)
	}
	return nil
}

// sanitizePath rejects entries that would escape destDir.
func sanitizePath(destDir, name string) (string, error) {
	dest := filepath.Join(destDir, filepath.Clean("/"+name))
	if !strings.HasPrefix(dest, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("fetcher: zip entry escapes destination: %s", name)
	}
	return dest, nil
}
