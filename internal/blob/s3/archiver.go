package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold is the payload size above which uploads switch to
	// the multipart transfer manager.
	multipartThreshold = 8 * 1024 * 1024
)

// Archiver writes batches of ended rounds as JSONL objects partitioned by
// day:
//
//	{prefix}/2026-03-01/20260301T130000.000Z-3.jsonl
type Archiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewArchiver creates an Archiver writing under prefix.
func NewArchiver(writer domain.BlobWriter, prefix string) *Archiver {
	return &Archiver{writer: writer, prefix: prefix}
}

// ArchiveRounds uploads rounds as one JSONL object and returns its key. An
// empty batch uploads nothing and returns "".
func (a *Archiver) ArchiveRounds(ctx context.Context, rounds []domain.Round, at time.Time) (string, error) {
	if len(rounds) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(rounds)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive rounds marshal: %w", err)
	}

	key := archivePath(a.prefix, at, len(rounds))
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive rounds upload: %w", err)
	}
	return key, nil
}

func archivePath(prefix string, at time.Time, n int) string {
	at = at.UTC()
	name := fmt.Sprintf("%s-%d.jsonl", at.Format("20060102T150405.000Z"), n)
	return path.Join(prefix, at.Format("2006-01-02"), name)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
