package survey

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kwv/roadmesh/pose"
	"github.com/kwv/roadmesh/roadgraph"
)

const capturesSchema = `
	CREATE TABLE IF NOT EXISTS captures (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		capture_ns INTEGER NOT NULL,
		wall_time INTEGER,
		label TEXT NOT NULL,
		confidence REAL NOT NULL,
		lat REAL NOT NULL,
		lon REAL NOT NULL,
		height REAL,
		accuracy REAL,
		qx REAL NOT NULL,
		qy REAL NOT NULL,
		qz REAL NOT NULL,
		qw REAL NOT NULL,
		provenance TEXT NOT NULL,
		image_ref TEXT,
		created_at INTEGER NOT NULL
	);
`

// CaptureStore persists resolved captures in SQLite. It is the source of
// the road points fed to the graph builder.
type CaptureStore struct {
	db *sql.DB
}

// OpenCaptureStore opens (creating if needed) the database at path.
// ":memory:" gives a private in-memory database.
func OpenCaptureStore(path string) (*CaptureStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open captures db: %w", err)
	}
	if path == ":memory:" {
		// each connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(capturesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create captures schema: %w", err)
	}
	return &CaptureStore{db: db}, nil
}

// Close closes the database
func (s *CaptureStore) Close() error {
	return s.db.Close()
}

// Insert stores rec. If rec.ID is empty a new UUID is assigned; if
// CreatedAt is zero it is set to now.
func (s *CaptureStore) Insert(ctx context.Context, rec *CaptureRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	p := rec.Pose
	q := p.Orientation
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO captures (
			id, source_id, capture_ns, wall_time, label, confidence,
			lat, lon, height, accuracy, qx, qy, qz, qw,
			provenance, image_ref, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.SourceID, p.CaptureNs, nullTime(p.WallTime), rec.Label, rec.Confidence,
		p.Lat, p.Lon, nullFloat(p.Height), nullFloat(p.AccuracyM), q.X, q.Y, q.Z, q.W,
		string(p.Provenance), nullString(rec.ImageRef), rec.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert capture %s: %w", rec.ID, err)
	}
	return nil
}

// All returns every capture in insertion order. A late-arriving capture
// with an earlier capture time is appended, never slotted in between.
func (s *CaptureStore) All(ctx context.Context) ([]CaptureRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, capture_ns, wall_time, label, confidence,
		       lat, lon, height, accuracy, qx, qy, qz, qw,
		       provenance, image_ref, created_at
		FROM captures
		ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	defer rows.Close()

	var records []CaptureRecord
	for rows.Next() {
		var (
			r                CaptureRecord
			wallTime         sql.NullInt64
			height, accuracy sql.NullFloat64
			provenance       string
			imageRef         sql.NullString
			createdAt        int64
		)
		err := rows.Scan(
			&r.ID, &r.SourceID, &r.Pose.CaptureNs, &wallTime, &r.Label, &r.Confidence,
			&r.Pose.Lat, &r.Pose.Lon, &height, &accuracy,
			&r.Pose.Orientation.X, &r.Pose.Orientation.Y, &r.Pose.Orientation.Z, &r.Pose.Orientation.W,
			&provenance, &imageRef, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}

		if wallTime.Valid {
			r.Pose.WallTime = time.Unix(0, wallTime.Int64).UTC()
		}
		if height.Valid {
			r.Pose.Height = pose.Float64(height.Float64)
		}
		if accuracy.Valid {
			r.Pose.AccuracyM = pose.Float64(accuracy.Float64)
		}
		if imageRef.Valid {
			r.ImageRef = imageRef.String
		}
		r.Pose.Provenance = pose.Provenance(provenance)
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate captures: %w", err)
	}
	return records, nil
}

// Count returns the number of stored captures
func (s *CaptureStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM captures`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count captures: %w", err)
	}
	return n, nil
}

// RoadPoints returns every capture as a graph input batch. Indices follow
// the row order of All and are append-only, so an index recorded by an
// earlier build still names the same capture.
func (s *CaptureStore) RoadPoints(ctx context.Context) ([]roadgraph.RoadPoint, error) {
	records, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	return RoadPoints(records), nil
}

// LoadCaptureRecords reads a JSON array of capture records, the export
// format used by the offline build
func LoadCaptureRecords(r io.Reader) ([]CaptureRecord, error) {
	var records []CaptureRecord
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("parsing capture records: %w", err)
	}
	return records, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
