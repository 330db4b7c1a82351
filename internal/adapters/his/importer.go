// Package his imports the staff and bed roster from the hospital
// information system, either from its SQL Server database or from a
// workbook export.
package his

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"go.uber.org/zap"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/shared/config"
	"github.com/carefront/platform/internal/shared/metrics"
)

// ConnectionString builds the sqlserver DSN for cfg
func ConnectionString(cfg config.HISConfig) string {
	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		cfg.Host,
		cfg.Port,
		cfg.Database,
		cfg.User,
		cfg.Password,
	)
	if cfg.Encrypt {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	}
	return connStr
}

// Open connects to the HIS database and verifies the connection
func Open(ctx context.Context, cfg config.HISConfig) (*sql.DB, error) {
	db, err := sql.Open("sqlserver", ConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// ImportStats counts what one import run wrote
type ImportStats struct {
	Nurses  int `json:"nurses"`
	Doctors int `json:"doctors"`
	Beds    int `json:"beds"`
	Skipped int `json:"skipped"`
}

// RosterWriter applies imported resources to the pool. The commit service
// implements it under the single-writer lock.
type RosterWriter interface {
	ApplyRoster(ctx context.Context, resources []domain.Resource) error
}

// Importer copies HIS roster rows into the resource store
type Importer struct {
	db         *sql.DB
	writer     RosterWriter
	staffTable string
	bedTable   string
	logger     *zap.Logger

	mu       sync.Mutex
	lastRun  time.Time
	lastStat ImportStats
}

// NewImporter creates an importer reading the tables named in cfg. db may
// be nil when only workbook exports are imported.
func NewImporter(db *sql.DB, writer RosterWriter, cfg config.HISConfig, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	staffTable := cfg.StaffTable
	if staffTable == "" {
		staffTable = "dbo.Staff"
	}
	bedTable := cfg.BedTable
	if bedTable == "" {
		bedTable = "dbo.Beds"
	}
	return &Importer{
		db:         db,
		writer:     writer,
		staffTable: staffTable,
		bedTable:   bedTable,
		logger:     logger,
	}
}

// staffRow is one member of staff as exported by the HIS
type staffRow struct {
	StaffID        string
	FullName       string
	Role           string
	Specialization string
	// OnDuty is nil when the HIS leaves it blank
	OnDuty *bool
}

// bedRow is one bed as exported by the HIS
type bedRow struct {
	BedCode   string
	BedNumber int
	Floor     int
	Ward      string
	BedType   string
	Status    string
}

// Import reads staff then beds from the HIS database and applies every
// mappable row as one batch. Engaged resources keep their availability.
func (i *Importer) Import(ctx context.Context) (ImportStats, error) {
	if i.db == nil {
		return ImportStats{}, fmt.Errorf("HIS database not configured")
	}

	staff, err := i.readStaff(ctx)
	if err != nil {
		return ImportStats{}, err
	}
	beds, err := i.readBeds(ctx)
	if err != nil {
		return ImportStats{}, err
	}
	return i.apply(ctx, staff, beds)
}

// LastRun returns when the last successful import finished and what it wrote
func (i *Importer) LastRun() (time.Time, ImportStats) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastRun, i.lastStat
}

// Run imports once, then again every interval until ctx is cancelled.
// Failed runs are logged and retried on the next tick.
func (i *Importer) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	if _, err := i.Import(ctx); err != nil && ctx.Err() == nil {
		i.logger.Error("HIS roster import failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := i.Import(ctx); err != nil && ctx.Err() == nil {
				i.logger.Error("HIS roster import failed", zap.Error(err))
			}
		}
	}
}

func (i *Importer) readStaff(ctx context.Context) ([]staffRow, error) {
	query := fmt.Sprintf(`
		SELECT
			StaffID,
			FullName,
			Role,
			Specialization,
			OnDuty
		FROM %s
	`, i.staffTable)

	rows, err := i.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query staff: %w", err)
	}
	defer rows.Close()

	var out []staffRow
	for rows.Next() {
		var (
			row            staffRow
			fullName, spec sql.NullString
			onDuty         sql.NullBool
		)
		if err := rows.Scan(&row.StaffID, &fullName, &row.Role, &spec, &onDuty); err != nil {
			return nil, fmt.Errorf("failed to scan staff row: %w", err)
		}
		row.FullName = fullName.String
		row.Specialization = spec.String
		if onDuty.Valid {
			row.OnDuty = &onDuty.Bool
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read staff: %w", err)
	}
	return out, nil
}

func (i *Importer) readBeds(ctx context.Context) ([]bedRow, error) {
	query := fmt.Sprintf(`
		SELECT
			BedCode,
			BedNumber,
			Floor,
			Ward,
			BedType,
			Status
		FROM %s
	`, i.bedTable)

	rows, err := i.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query beds: %w", err)
	}
	defer rows.Close()

	var out []bedRow
	for rows.Next() {
		var (
			row                      bedRow
			bedNumber, floor         sql.NullInt64
			ward, bedType, statusCol sql.NullString
		)
		if err := rows.Scan(&row.BedCode, &bedNumber, &floor, &ward, &bedType, &statusCol); err != nil {
			return nil, fmt.Errorf("failed to scan bed row: %w", err)
		}
		row.BedNumber = int(bedNumber.Int64)
		row.Floor = int(floor.Int64)
		row.Ward = ward.String
		row.BedType = bedType.String
		row.Status = statusCol.String
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read beds: %w", err)
	}
	return out, nil
}

// apply maps rows to resources and writes them, staff first, in one batch
func (i *Importer) apply(ctx context.Context, staff []staffRow, beds []bedRow) (ImportStats, error) {
	var stats ImportStats
	resources := make([]domain.Resource, 0, len(staff)+len(beds))

	for _, row := range staff {
		r, ok := staffResource(row)
		if !ok {
			i.logger.Warn("Skipping HIS staff row",
				zap.String("staff_id", row.StaffID),
				zap.String("role", row.Role),
			)
			stats.Skipped++
			continue
		}
		resources = append(resources, r)
		if r.Kind == domain.KindNurse {
			stats.Nurses++
		} else {
			stats.Doctors++
		}
	}

	for _, row := range beds {
		r, ok := bedResource(row)
		if !ok {
			i.logger.Warn("Skipping HIS bed row",
				zap.String("bed_code", row.BedCode),
				zap.String("status", row.Status),
			)
			stats.Skipped++
			continue
		}
		resources = append(resources, r)
		stats.Beds++
	}

	if err := i.writer.ApplyRoster(ctx, resources); err != nil {
		return ImportStats{}, fmt.Errorf("failed to import roster: %w", err)
	}

	metrics.RecordRosterImport(string(domain.KindNurse), stats.Nurses)
	metrics.RecordRosterImport(string(domain.KindDoctor), stats.Doctors)
	metrics.RecordRosterImport(string(domain.KindBed), stats.Beds)

	i.mu.Lock()
	i.lastRun = time.Now()
	i.lastStat = stats
	i.mu.Unlock()

	i.logger.Info("HIS roster imported",
		zap.Int("nurses", stats.Nurses),
		zap.Int("doctors", stats.Doctors),
		zap.Int("beds", stats.Beds),
		zap.Int("skipped", stats.Skipped),
	)
	return stats, nil
}

func staffResource(row staffRow) (domain.Resource, bool) {
	kind, ok := staffKind(row.Role)
	id := strings.TrimSpace(row.StaffID)
	if !ok || id == "" {
		return domain.Resource{}, false
	}

	availability := domain.AvailabilityAvailable
	if row.OnDuty != nil && !*row.OnDuty {
		availability = domain.AvailabilityUnavailable
	}

	return domain.Resource{
		ID:             id,
		Kind:           kind,
		Name:           strings.TrimSpace(row.FullName),
		Specialization: strings.TrimSpace(row.Specialization),
		Availability:   availability,
	}, true
}

func bedResource(row bedRow) (domain.Resource, bool) {
	availability, ok := bedAvailability(row.Status)
	code := strings.TrimSpace(row.BedCode)
	if !ok || code == "" {
		return domain.Resource{}, false
	}

	return domain.Resource{
		ID:           code,
		Kind:         domain.KindBed,
		Name:         strings.TrimSpace(row.Ward),
		Availability: availability,
		Floor:        row.Floor,
		BedNumber:    row.BedNumber,
		BedType:      bedTypeOf(row.BedType, row.Ward),
	}, true
}

// staffKind maps an HIS role code to a resource kind
func staffKind(role string) (domain.Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "nurse", "rn", "registered nurse":
		return domain.KindNurse, true
	case "doctor", "physician", "md":
		return domain.KindDoctor, true
	}
	return "", false
}

// bedAvailability maps an HIS bed status. Occupied beds are not imported:
// the HIS does not know which assignment holds them.
func bedAvailability(status string) (domain.Availability, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "", "available", "free", "clean":
		return domain.AvailabilityAvailable, true
	case "cleaning", "dirty":
		return domain.AvailabilityCleaning, true
	case "icu", "reserved":
		return domain.AvailabilityICU, true
	}
	return "", false
}

func bedTypeOf(bedType, ward string) domain.BedType {
	t := strings.ToLower(strings.TrimSpace(bedType))
	w := strings.ToLower(ward)
	if t == "icu" || strings.Contains(w, "icu") || strings.Contains(w, "intensive") {
		return domain.BedTypeICU
	}
	return domain.BedTypeGeneral
}
