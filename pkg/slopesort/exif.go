package slopesort

import (
	"fmt"
	"strings"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/pkg/xattr"
	"k8s.io/klog/v2"
)

// CaptureTimeAttr is the extended attribute consulted when embedded
// metadata is gone. Re-processing workflows (export, strip, re-encode)
// write the original capture time here so it survives the round trip.
// Value format: RFC3339Nano.
const CaptureTimeAttr = "user.slopesort.capture-time"

// EXIF timestamp layouts, millisecond-resolution first.
var exifLayouts = []string{
	"2006:01:02 15:04:05.000",
	"2006:01:02 15:04:05.00",
	"2006:01:02 15:04:05.0",
	"2006:01:02 15:04:05",
}

// TimestampExtractor resolves capture instants. It wraps a long-lived
// exiftool process, so Close it when done.
type TimestampExtractor struct {
	et *exiftool.Exiftool
}

// NewTimestampExtractor starts the exiftool helper.
func NewTimestampExtractor() (*TimestampExtractor, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("exiftool: %w", err)
	}
	return &TimestampExtractor{et: et}, nil
}

// Close stops the exiftool helper.
func (t *TimestampExtractor) Close() error {
	return t.et.Close()
}

// CaptureTime returns the capture instant for the file at path, or the
// zero time when none is recorded. Sources in order: sub-second
// DateTimeOriginal, DateTimeOriginal, the capture-time extended
// attribute. Filesystem mtime is never used: re-processing workflows
// rewrite it, and a wrong instant is worse than none for clustering.
func (t *TimestampExtractor) CaptureTime(path string) time.Time {
	fis := t.et.ExtractMetadata(path)
	if len(fis) > 0 && fis[0].Err == nil {
		for _, field := range []string{"SubSecDateTimeOriginal", "DateTimeOriginal"} {
			s, err := fis[0].GetString(field)
			if err != nil {
				continue
			}
			if ts, err := parseEXIFTime(s); err == nil {
				return ts
			} else {
				klog.V(1).Infof("unparseable %s %q in %s: %v", field, s, path, err)
			}
		}
	}

	if ts, ok := xattrCaptureTime(path); ok {
		return ts
	}

	klog.V(1).Infof("no capture time for %s", path)
	return time.Time{}
}

func parseEXIFTime(s string) (time.Time, error) {
	// Values are read as local time. A trailing timezone offset, which
	// some cameras append, matches no layout and yields an error.
	s = strings.TrimSpace(s)
	for _, layout := range exifLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func xattrCaptureTime(path string) (time.Time, bool) {
	raw, err := xattr.Get(path, CaptureTimeAttr)
	if err != nil {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(raw)))
	if err != nil {
		klog.Warningf("bad %s on %s: %v", CaptureTimeAttr, path, err)
		return time.Time{}, false
	}
	return ts, true
}
