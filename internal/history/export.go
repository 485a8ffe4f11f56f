package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Export copies every series of s into a new document, keeping the stored
// bytes of each run. When js is set the document carries the data.js prefix.
func Export(ctx context.Context, s Store, js bool, opts ...Option) (*Document, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	tools, err := s.Tools(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}

	doc := NewDocument(js)
	if err := doc.SetRepoURL(o.repoURL); err != nil {
		return nil, err
	}
	var lastUpdate int64
	for _, tool := range tools {
		snap, err := s.Load(ctx, tool)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %q: %w", tool, err)
		}
		doc.tools = append(doc.tools, tool)
		doc.series[tool] = snap.Series
		if last, ok := snap.Series.Last(); ok && last.Date > lastUpdate {
			lastUpdate = last.Date
		}
	}
	doc.setField(keyLastUpdate, json.RawMessage(strconv.FormatInt(lastUpdate, 10)))
	return doc, nil
}
