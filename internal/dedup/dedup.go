package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/bereel/internal/export"
)

// KeyOf derives the dedup key of a record: the hex SHA-256 of its primary
// image, or "name:<basename>|<taken>" when the image cannot be read.
func KeyOf(rec *export.Record) string {
	img := rec.Primary()
	if img == nil {
		return "name:|" + rec.TakenRaw
	}
	if img.Path != "" {
		if sum, err := hashFile(img.Path); err == nil {
			return sum
		}
	}
	return "name:" + filepath.Base(img.Ref) + "|" + rec.TakenRaw
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// AssignKeys sets DedupKey on every record, hashing at most workers files at once.
func AssignKeys(ctx context.Context, records []export.Record, workers int) error {
	if workers < 1 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range records {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// each goroutine owns records[i]
			records[i].DedupKey = KeyOf(&records[i])
			return nil
		})
	}
	return g.Wait()
}

// Result is the outcome of Index.
type Result struct {
	Records []export.Record
	Dropped int
}

// Index collapses records sharing a DedupKey. The memory copy wins over a post
// copy and takes the position of the first occurrence; otherwise the first
// occurrence wins. Records other than posts and memories pass through.
func Index(records []export.Record) Result {
	kept := make([]export.Record, 0, len(records))
	pos := make(map[string]int, len(records))
	dropped := 0

	for _, rec := range records {
		if rec.Kind != export.KindPost && rec.Kind != export.KindMemory {
			kept = append(kept, rec)
			continue
		}
		i, seen := pos[rec.DedupKey]
		if !seen {
			pos[rec.DedupKey] = len(kept)
			kept = append(kept, rec)
			continue
		}
		if rec.Kind == export.KindMemory && kept[i].Kind != export.KindMemory {
			kept[i] = rec
		}
		dropped++
	}

	return Result{Records: kept, Dropped: dropped}
}

// Neighbors returns the records of others whose key is not already in kept,
// collapsed like Index. They are not exported; they only reserve the names
// they would take, so enabling their collection later keeps kept's names.
func Neighbors(kept, others []export.Record) []export.Record {
	have := make(map[string]bool, len(kept))
	for _, rec := range kept {
		have[rec.DedupKey] = true
	}
	var out []export.Record
	for _, rec := range Index(others).Records {
		if !have[rec.DedupKey] {
			out = append(out, rec)
		}
	}
	return out
}
