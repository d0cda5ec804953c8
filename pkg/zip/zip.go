// Package zip bundles generated artifacts into a single download.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

type Asset struct {
	Filename string
	MIME     string
	Data     []byte
	Modified time.Time
}

// ArchiveAssets writes assets into one archive. Images and videos are stored
// as-is; everything else is deflated. Repeated names get a " (n)" suffix.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	seen := map[string]int{}
	for _, asset := range assets {
		hdr := &zip.FileHeader{
			Name:     uniqueName(seen, asset.Filename),
			Method:   method(asset.MIME),
			Modified: asset.Modified,
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", hdr.Name, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", hdr.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

func method(mime string) uint16 {
	if strings.HasPrefix(mime, "image/") || strings.HasPrefix(mime, "video/") {
		return zip.Store
	}
	return zip.Deflate
}

func uniqueName(seen map[string]int, name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		name = "artifact"
	}
	seen[name]++
	n := seen[name]
	if n == 1 {
		return name
	}
	ext := path.Ext(name)
	return strings.TrimSuffix(name, ext) + " (" + strconv.Itoa(n) + ")" + ext
}
