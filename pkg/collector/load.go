package collector

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/FauxFaux/facto-exporter/pkg/archive"
	"github.com/FauxFaux/facto-exporter/pkg/record"
)

// LoadArchives scans dir for archive files and appends every observation
// they contain to history, in directory-listing (lexical, hence
// chronological for the RFC3339-named files) order. A file that fails to
// parse at all is logged and skipped; a file that ends mid-item is
// treated as a live archive still being appended to and simply stops
// there.
func LoadArchives(dir string, history *History, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("collector: read archive dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), archive.Extension) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := loadOneArchive(path, history, log); err != nil {
			log.Warn("collector: skipping archive", "path", path, "error", err)
		}
	}
	return nil
}

func loadOneArchive(path string, history *History, log *slog.Logger) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		log.Warn("collector: skipping zero-length archive", "path", path)
		return nil
	}

	log.Info("collector: loading archive", "path", path)
	r, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		item, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		obs, err := record.Unpack(bytes.NewReader(item))
		if err != nil {
			log.Warn("collector: failed to unpack archived observation, assuming live archive", "path", path, "error", err)
			return nil
		}
		history.Append(obs)
	}
}
