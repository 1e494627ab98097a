package runstore

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
)

// ReadEvents scans a run's events.jsonl from the beginning, calling fn
// for each successfully parsed event. A partial trailing line — no
// terminating newline, or a JSON parse failure on the last line, the
// signature of a writer crashing mid-append — is silently skipped
// rather than treated as an error.
func (h *Handle) ReadEvents(fn func(Event) error) error {
	return ReadEventsFile(filepath.Join(h.dir, "events.jsonl"), fn)
}

// ReadEventsFile is the same scan as ReadEvents but over an arbitrary
// path, used by the index builder when scanning runs it does not hold
// a live Handle for.
func ReadEventsFile(path string, fn func(Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// Last line with no trailing newline and a parse failure is
			// the expected shape of a crash-truncated append; anything
			// mid-file failing to parse is scanner.Err() territory, but
			// jsonl tolerates skipping either way per the storage
			// engine's crash-tolerance contract.
			continue
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// EventOffset returns the current size of events.jsonl.
func (h *Handle) EventOffset() (int64, error) {
	info, err := os.Stat(filepath.Join(h.dir, "events.jsonl"))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ReadEventsFileFrom scans events at path starting at byte offset from,
// calling fn for each successfully parsed event, and returns the byte
// offset immediately after the last complete line consumed. Since every
// append is a single newline-terminated write(2), from is always a
// clean line boundary as long as it came from a prior call's returned
// offset (or zero). The metrics cache uses this to extend an entry
// incrementally instead of re-parsing a run's whole history on every
// request.
func ReadEventsFileFrom(path string, from int64, fn func(Event) error) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	if from > 0 {
		if _, err := f.Seek(from, io.SeekStart); err != nil {
			return from, err
		}
	}

	consumed := from
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		// +1 for the newline the scanner strips.
		lineLen := int64(len(line)) + 1
		if len(line) == 0 {
			consumed += lineLen
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// Unparseable tail: stop advancing consumed here so the next
			// call re-attempts this line once more bytes have arrived.
			break
		}
		consumed += lineLen
		if err := fn(ev); err != nil {
			return consumed, err
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return consumed, err
	}
	return consumed, nil
}
