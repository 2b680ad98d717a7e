package offline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/featstore/featstore-go/errors"
	"github.com/featstore/featstore-go/registry"
	"github.com/featstore/featstore-go/utils"
)

// FileAdapter reads a batch source from newline delimited JSON. The source
// path may be one file or a directory of *.json / *.ndjson files.
type FileAdapter struct {
	source *registry.BatchSource
}

func NewFileAdapter(source *registry.BatchSource) *FileAdapter {
	return &FileAdapter{source: source}
}

func (a *FileAdapter) Fetch(ctx context.Context, view *registry.FeatureView, keys *KeySet, start, end time.Time) (RowSeq, error) {
	if keys != nil && keys.Len() == 0 {
		return RowSlice{}, nil
	}
	return &fileRowSeq{adapter: a, view: view, keys: keys, start: start, end: end}, nil
}

type fileRowSeq struct {
	adapter *FileAdapter
	view    *registry.FeatureView
	keys    *KeySet
	start   time.Time
	end     time.Time
}

func (s *fileRowSeq) Each(ctx context.Context, fn func(Row) error) error {
	paths, err := s.adapter.listFiles()
	if err != nil {
		return err
	}
	for _, path := range paths {
		if err := s.eachInFile(ctx, path, fn); err != nil {
			return err
		}
	}
	return nil
}

func (a *FileAdapter) listFiles() ([]string, error) {
	info, err := os.Stat(a.source.Path)
	if err != nil {
		return nil, errors.NewSourceUnavailable(a.source.Name, err)
	}
	if !info.IsDir() {
		return []string{a.source.Path}, nil
	}
	entries, err := os.ReadDir(a.source.Path)
	if err != nil {
		return nil, errors.NewSourceUnavailable(a.source.Name, err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".ndjson") {
			paths = append(paths, filepath.Join(a.source.Path, name))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *fileRowSeq) eachInFile(ctx context.Context, path string, fn func(Row) error) error {
	a := s.adapter
	f, err := os.Open(path)
	if err != nil {
		return errors.NewSourceUnavailable(a.source.Name, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	keyNames := s.view.JoinKeyNames()
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		record, err := decodeLine(line)
		if err != nil {
			return errors.Wrapf(err, "source %q: %s line %d", a.source.Name, filepath.Base(path), lineNo)
		}
		row, err := rowFromRecord(s.view, a.source, record)
		if err != nil {
			return errors.Wrapf(err, "source %q: %s line %d", a.source.Name, filepath.Base(path), lineNo)
		}
		if !inWindow(s.start, s.end, row.EventTime) {
			continue
		}
		if !s.keys.Contains(row.CanonicalKey(keyNames)) {
			continue
		}
		keep, err := runFilter(a.source, row)
		if err != nil {
			return err
		}
		if !keep {
			continue
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.NewSourceUnavailable(a.source.Name, err)
	}
	return nil
}

func decodeLine(line []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var record map[string]interface{}
	if err := dec.Decode(&record); err != nil {
		return nil, err
	}
	return record, nil
}

// rowFromRecord coerces one flat JSON object into a Row using the view's
// schema. Columns the schema does not mention are ignored, missing feature
// columns become nil values.
func rowFromRecord(view *registry.FeatureView, source *registry.BatchSource, record map[string]interface{}) (Row, error) {
	row := Row{
		Keys:   make(map[string]interface{}, len(view.JoinKeys())),
		Values: make(map[string]interface{}, len(view.Schema)),
	}
	for _, k := range view.JoinKeys() {
		raw, ok := record[k.Name]
		if !ok || raw == nil {
			return Row{}, errors.Newf("missing join key %q", k.Name)
		}
		v, err := utils.CoerceValue(raw, k.Type)
		if err != nil {
			return Row{}, errors.Wrapf(err, "join key %q", k.Name)
		}
		row.Keys[k.Name] = v
	}
	for _, f := range view.Schema {
		raw, ok := record[f.Name]
		if !ok || raw == nil {
			row.Values[f.Name] = nil
			continue
		}
		v, err := utils.CoerceValue(raw, f.Type)
		if err != nil {
			return Row{}, errors.Wrapf(err, "field %q", f.Name)
		}
		row.Values[f.Name] = v
	}
	rawTS, ok := record[source.TimestampField]
	if !ok || rawTS == nil {
		return Row{}, errors.Newf("missing timestamp column %q", source.TimestampField)
	}
	et := utils.ToTime(rawTS, time.Time{})
	if et.IsZero() {
		return Row{}, errors.Newf("unparseable timestamp %v in column %q", rawTS, source.TimestampField)
	}
	row.EventTime = et.UTC()
	return row, nil
}
