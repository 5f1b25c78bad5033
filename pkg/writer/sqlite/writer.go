// Package sqlite provides SQLite database writing for QC reports
package sqlite

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ChrisMcGann/QCKit/pkg/core"
	"github.com/ChrisMcGann/QCKit/pkg/qcmetrics"
)

const (
	// Date format for HeaderTable (ISO 8601)
	headerDateFormat = "2006-01-02"
	// Schema version written to HeaderTable
	schemaVersion = 1
)

// Writer handles writing QC reports to SQLite database files
type Writer struct {
	db          *sql.DB
	outputPath  string
	featureStmt *sql.Stmt
	sampleStmt  *sql.Stmt
	logStmt     *sql.Stmt
	warningStmt *sql.Stmt
	dataset     *core.Dataset
}

// NewWriter creates a new SQLite writer
func NewWriter(outputPath string) (*Writer, error) {
	db, err := sql.Open("sqlite3", outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	w := &Writer{
		db:         db,
		outputPath: outputPath,
	}

	if err := w.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	if err := w.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}

	return w, nil
}

// createTables creates the required database schema
func (w *Writer) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS FeatureTable (
		FeatureId INTEGER PRIMARY KEY,
		Name TEXT,
		RSDStudyPool DOUBLE,
		RSDStudySample DOUBLE,
		CorrelationToDilution DOUBLE,
		VarianceRatio DOUBLE,
		BlankLevel DOUBLE,
		BlankPass BOOL,
		ArtifactualPass BOOL,
		Included BOOL,
		blobIntensity BLOB
	);

	CREATE TABLE IF NOT EXISTS SampleTable (
		SampleId INTEGER PRIMARY KEY,
		SampleFileName TEXT,
		SampleType TEXT,
		AssayRole TEXT,
		RunOrder DOUBLE,
		Batch DOUBLE,
		Included BOOL
	);

	CREATE TABLE IF NOT EXISTS LogTable (
		EntryId INTEGER PRIMARY KEY,
		Time TEXT,
		Message TEXT
	);

	CREATE TABLE IF NOT EXISTS WarningTable (
		WarningId INTEGER PRIMARY KEY,
		Message TEXT
	);

	CREATE TABLE IF NOT EXISTS HeaderTable (
		version INTEGER NOT NULL DEFAULT 0,
		CreationDate TEXT,
		DatasetId TEXT,
		DatasetName TEXT,
		MethodName TEXT,
		SOP TEXT,
		Platform TEXT,
		VariableType TEXT,
		Samples INTEGER,
		Features INTEGER
	);
	`

	_, err := w.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// prepareStatements prepares SQL statements for batch insertion
func (w *Writer) prepareStatements() error {
	var err error

	w.featureStmt, err = w.db.Prepare(`
		INSERT INTO FeatureTable (
			FeatureId, Name, RSDStudyPool, RSDStudySample, CorrelationToDilution,
			VarianceRatio, BlankLevel, BlankPass, ArtifactualPass, Included, blobIntensity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare feature statement: %w", err)
	}

	w.sampleStmt, err = w.db.Prepare(`
		INSERT INTO SampleTable (
			SampleId, SampleFileName, SampleType, AssayRole, RunOrder, Batch, Included
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare sample statement: %w", err)
	}

	w.logStmt, err = w.db.Prepare(`INSERT INTO LogTable (EntryId, Time, Message) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare log statement: %w", err)
	}

	w.warningStmt, err = w.db.Prepare(`INSERT INTO WarningTable (WarningId, Message) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare warning statement: %w", err)
	}

	return nil
}

// WriteSummary writes the per-feature QC summary of d, the sample table and
// the processing log
func (w *Writer) WriteSummary(d *core.Dataset, s *qcmetrics.Summary) error {
	if len(s.FeatureNames) != d.NumFeatures() {
		return fmt.Errorf("%w: summary covers %d features, dataset has %d", core.ErrShapeMismatch, len(s.FeatureNames), d.NumFeatures())
	}
	w.dataset = d

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Features
	featureStmt := tx.Stmt(w.featureStmt)
	for j, name := range s.FeatureNames {
		var artifactual any
		if s.ArtifactualPass != nil {
			artifactual = s.ArtifactualPass[j]
		}
		_, err := featureStmt.Exec(
			j+1,                                  // FeatureId
			name,                                 // Name
			nullable(s.RSDStudyPool[j]),          // RSDStudyPool
			nullable(s.RSDStudySample[j]),        // RSDStudySample
			nullable(s.CorrelationToDilution[j]), // CorrelationToDilution
			nullable(s.VarianceRatio[j]),         // VarianceRatio
			nullable(s.BlankLevel[j]),            // BlankLevel
			s.BlankPass[j],                       // BlankPass
			artifactual,                          // ArtifactualPass
			d.FeatureMask[j],                     // Included
			encodeFloat64(d.Intensity.Col(j)),    // blobIntensity
		)
		if err != nil {
			return fmt.Errorf("failed to insert feature %s: %w", name, err)
		}
	}

	// Samples
	sampleStmt := tx.Stmt(w.sampleStmt)
	sm := d.SampleMetadata
	runOrder := optionalFloats(sm, core.ColRunOrder)
	batch := optionalFloats(sm, core.ColBatch)
	for i := 0; i < d.NumSamples(); i++ {
		_, err := sampleStmt.Exec(
			i+1,
			sm.Text(core.ColSampleFileName, i),
			sm.Text(core.ColSampleType, i),
			sm.Text(core.ColAssayRole, i),
			nullable(runOrder[i]),
			nullable(batch[i]),
			d.SampleMask[i],
		)
		if err != nil {
			return fmt.Errorf("failed to insert sample %d: %w", i, err)
		}
	}

	// Processing log
	logStmt := tx.Stmt(w.logStmt)
	for k, entry := range d.Attributes.Log {
		if _, err := logStmt.Exec(k+1, entry.Time.Format(time.RFC3339), entry.Message); err != nil {
			return fmt.Errorf("failed to insert log entry: %w", err)
		}
	}

	// Warnings
	warningStmt := tx.Stmt(w.warningStmt)
	for k, msg := range s.Warnings {
		if _, err := warningStmt.Exec(k+1, msg); err != nil {
			return fmt.Errorf("failed to insert warning: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit summary: %w", err)
	}
	return nil
}

// optionalFloats returns a numeric column, or NaN when it is absent or
// not numeric
func optionalFloats(t *core.Table, name string) []float64 {
	v, err := t.Float(name)
	if err != nil {
		v = make([]float64, t.NumRows())
		for i := range v {
			v[i] = math.NaN()
		}
	}
	return v
}

// nullable maps NaN and infinities to SQL NULL
func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// encodeFloat64 encodes values as a little-endian float64 blob. NaN and
// infinities keep their IEEE bit patterns.
func encodeFloat64(values []float64) []byte {
	buf := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// DecodeFloat64 reverses the blob encoding used for blobIntensity
func DecodeFloat64(buf []byte) ([]float64, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 8", len(buf))
	}
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}

// Finalize writes the header table and closes the database
func (w *Writer) Finalize() error {
	var id, name, method, sop, platform, vt string
	var samples, features int
	if d := w.dataset; d != nil {
		id, name, method = d.ID.String(), d.Name, d.Attributes.MethodName
		sop, platform, vt = d.Attributes.SOP.Name, d.Platform.String(), d.VariableType.String()
		samples, features = d.NumSamples(), d.NumFeatures()
	}

	// Write HeaderTable
	_, err := w.db.Exec(`
		INSERT INTO HeaderTable (version, CreationDate, DatasetId, DatasetName, MethodName, SOP, Platform, VariableType, Samples, Features)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, schemaVersion, time.Now().Format(headerDateFormat), id, name, method, sop, platform, vt, samples, features)
	if err != nil {
		return fmt.Errorf("failed to insert header: %w", err)
	}

	return w.close()
}

func (w *Writer) close() error {
	// Close prepared statements
	for _, stmt := range []*sql.Stmt{w.featureStmt, w.sampleStmt, w.logStmt, w.warningStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}

	// Close database
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// Close closes the database connection without writing the header
func (w *Writer) Close() error {
	return w.close()
}
