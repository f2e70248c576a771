package metadata

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/hpungsan/bereel/internal/export"
)

// Reader reads EXIF capture details. It implements export.InfoReader.
type Reader struct{}

// ReadCaptureInfo returns DateTimeOriginal (read as UTC, like the export's
// own timestamps) and the GPS fix of the image at path. Missing fields are
// left zero; an error means the file has no readable EXIF at all.
func (Reader) ReadCaptureInfo(path string) (export.CaptureInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return export.CaptureInfo{}, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var src io.Reader = br
	if head, _ := br.Peek(12); isWebP(head) {
		payload, err := webpExif(br)
		if err != nil {
			return export.CaptureInfo{}, err
		}
		src = bytes.NewReader(payload)
	}

	x, err := exif.Decode(src)
	if err != nil {
		return export.CaptureInfo{}, err
	}

	var info export.CaptureInfo
	if tag, err := x.Get(exif.DateTimeOriginal); err == nil {
		if s, err := tag.StringVal(); err == nil {
			if t, err := time.Parse(DateLayout, strings.TrimRight(strings.TrimSpace(s), "\x00")); err == nil {
				info.Time = t.UTC()
			}
		}
	}
	if lat, lon, err := x.LatLong(); err == nil {
		loc := &export.Location{Latitude: lat, Longitude: lon}
		if loc.Valid() {
			info.Location = loc
		}
	}
	return info, nil
}

func isWebP(head []byte) bool {
	return len(head) == 12 && string(head[:4]) == "RIFF" && string(head[8:]) == "WEBP"
}

// webpExif walks the RIFF chunks of a WebP file and returns the payload of
// its EXIF chunk: a TIFF header, sometimes preceded by "Exif\x00\x00".
func webpExif(r io.Reader) ([]byte, error) {
	if _, err := io.CopyN(io.Discard, r, 12); err != nil {
		return nil, err
	}
	var hdr [8]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("webp: no EXIF chunk")
			}
			return nil, fmt.Errorf("webp: reading chunk header: %w", err)
		}
		size := int64(binary.LittleEndian.Uint32(hdr[4:]))
		if string(hdr[:4]) == "EXIF" {
			payload := make([]byte, size)
			if _, err := io.ReadFull(r, payload); err != nil {
				return nil, fmt.Errorf("webp: reading EXIF chunk: %w", err)
			}
			return payload, nil
		}
		// chunks are padded to an even size
		if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
			return nil, fmt.Errorf("webp: skipping %q chunk: %w", hdr[:4], err)
		}
	}
}
