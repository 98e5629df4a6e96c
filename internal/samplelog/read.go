package samplelog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/srg/eegstream/internal/sample"
)

// ErrCorrupt marks a log line that cannot be parsed.
var ErrCorrupt = errors.New("corrupt sample log")

// ReadAll parses a sample log in file order.
func ReadAll(r io.Reader) ([]sample.Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.ReuseRecord = true

	var out []sample.Sample
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("%w: line %d: %v", ErrCorrupt, line, err)
		}

		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return out, fmt.Errorf("%w: line %d: bad timestamp: %v", ErrCorrupt, line, err)
		}
		v, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return out, fmt.Errorf("%w: line %d: bad value: %v", ErrCorrupt, line, err)
		}
		out = append(out, sample.New(ts, v))
	}
}

// ReadFile parses the sample log at path.
func ReadFile(path string) ([]sample.Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAll(f)
}

// Export copies the log file at path to w and returns the byte count.
func Export(path string, w io.Writer) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open sample log: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return n, fmt.Errorf("failed to export sample log: %w", err)
	}
	return n, nil
}
