package audit

import (
	"context"
	"fmt"
	"strings"

	"minio-backend/core/database"

	"github.com/spf13/cast"
	"gorm.io/gorm"
)

// Record is a reference to an object held by the metadata source.
type Record struct {
	// Bucket is the bucket the reference resolves to.
	Bucket string `json:"bucket"`
	// Key is the object key within Bucket.
	Key string `json:"key"`
	// Source names where the reference was found, e.g. "attachments.file".
	Source string `json:"source"`
	// ID identifies the referencing row.
	ID string `json:"id"`
}

// MetadataSource yields every object reference it knows of.
type MetadataSource interface {
	// Records calls fn for each record. Iteration stops at the first error.
	Records(ctx context.Context, fn func(Record) error) error
}

// Sources chains several sources.
type Sources []MetadataSource

// Records iterates every source in order.
func (s Sources) Records(ctx context.Context, fn func(Record) error) error {
	for _, src := range s {
		if err := src.Records(ctx, fn); err != nil {
			return err
		}
	}
	return nil
}

// GormSource streams file references from one column of a table.
type GormSource struct {
	db            *gorm.DB
	table         string
	idColumn      string
	keyColumn     string
	defaultBucket string
	buckets       []string
}

// NewGormSource reads keyColumn of table. A stored value of the form
// "<bucket>/<key>" whose first segment is one of buckets resolves to that
// bucket; any other value resolves to defaultBucket.
func NewGormSource(db *gorm.DB, table, idColumn, keyColumn, defaultBucket string, buckets []string) (*GormSource, error) {
	for _, name := range []string{table, idColumn, keyColumn} {
		if !database.ValidIdentifier(name) {
			return nil, fmt.Errorf("invalid identifier %q", name)
		}
	}
	return &GormSource{
		db:            db,
		table:         table,
		idColumn:      idColumn,
		keyColumn:     keyColumn,
		defaultBucket: defaultBucket,
		buckets:       buckets,
	}, nil
}

// ParseSources builds one GormSource per "table.column" entry.
func ParseSources(db *gorm.DB, cfg Config, defaultBucket string, buckets []string) (Sources, error) {
	var out Sources
	for _, spec := range cfg.Sources {
		spec = strings.TrimSpace(spec)
		if spec == "" {
			continue
		}
		table, column, ok := strings.Cut(spec, ".")
		if !ok {
			return nil, fmt.Errorf("audit source %q must be table.column", spec)
		}
		src, err := NewGormSource(db, table, cfg.IDColumn, column, defaultBucket, buckets)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no audit sources configured")
	}
	return out, nil
}

// Name returns "table.column".
func (s *GormSource) Name() string {
	return s.table + "." + s.keyColumn
}

// Records streams non-empty references row by row.
func (s *GormSource) Records(ctx context.Context, fn func(Record) error) error {
	missing, err := database.HasColumns(s.db, s.table, s.idColumn, s.keyColumn)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return fmt.Errorf("table %s is missing columns %v", s.table, missing)
	}

	rows, err := s.db.WithContext(ctx).
		Table(s.table).
		Select([]string{s.idColumn, s.keyColumn}).
		Where(fmt.Sprintf("%s IS NOT NULL AND %s <> ''", s.keyColumn, s.keyColumn)).
		Rows()
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", s.Name(), err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, value any
		if err := rows.Scan(&id, &value); err != nil {
			return fmt.Errorf("failed to scan %s: %w", s.Name(), err)
		}
		ref := cast.ToString(value)
		if ref == "" {
			continue
		}
		bucket, key := s.resolve(ref)
		if err := fn(Record{Bucket: bucket, Key: key, Source: s.Name(), ID: cast.ToString(id)}); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *GormSource) resolve(ref string) (string, string) {
	ref = strings.TrimLeft(ref, "/")
	for _, b := range s.buckets {
		if rest, ok := strings.CutPrefix(ref, b+"/"); ok && rest != "" {
			return b, rest
		}
	}
	return s.defaultBucket, ref
}
