package his

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/carefront/platform/internal/assignment/domain"
	"github.com/carefront/platform/internal/assignment/infrastructure"
	"github.com/carefront/platform/internal/shared/config"
)

func buildWorkbook(t *testing.T, staff, beds [][]any) *bytes.Buffer {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	write := func(sheet string, rows [][]any) {
		_, err := f.NewSheet(sheet)
		require.NoError(t, err)
		for i, row := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			require.NoError(t, f.SetSheetRow(sheet, cell, &row))
		}
	}
	if staff != nil {
		write(StaffSheet, staff)
	}
	if beds != nil {
		write(BedsSheet, beds)
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestImportWorkbook(t *testing.T) {
	store := infrastructure.NewMemoryStore()
	importer := NewImporter(nil, rosterWriter(store), config.HISConfig{}, zap.NewNop())

	buf := buildWorkbook(t,
		[][]any{
			{"StaffID", "FullName", "Role", "Specialization", "OnDuty"},
			{"N010", "Jelena Savic", "Nurse", "Pediatric", "yes"},
			{"D010", "Dr. Nikolic", "MD", "Neurology", "no"},
			{"X001", "Clerk", "Admin", "", "yes"},
			{},
		},
		[][]any{
			{"BedCode", "BedNumber", "Floor", "Ward", "BedType", "Status"},
			{"B301", 1, 3, "Intensive Care", "", "free"},
			{"B302", 2, 3, "Surgery", "Standard", "occupied"},
		},
	)

	stats, err := importer.ImportWorkbook(context.Background(), buf)
	require.NoError(t, err)
	assert.Equal(t, ImportStats{Nurses: 1, Doctors: 1, Beds: 1, Skipped: 2}, stats)

	ctx := context.Background()
	nurse, err := store.GetResource(ctx, domain.KindNurse, "N010")
	require.NoError(t, err)
	assert.Equal(t, "Pediatric", nurse.Specialization)
	assert.Equal(t, domain.AvailabilityAvailable, nurse.Availability)

	doctor, err := store.GetResource(ctx, domain.KindDoctor, "D010")
	require.NoError(t, err)
	assert.Equal(t, domain.AvailabilityUnavailable, doctor.Availability)

	bed, err := store.GetResource(ctx, domain.KindBed, "B301")
	require.NoError(t, err)
	assert.Equal(t, domain.BedTypeICU, bed.BedType)
	assert.Equal(t, 3, bed.Floor)
	assert.Equal(t, 1, bed.BedNumber)
}

func TestImportWorkbook_MissingSheet(t *testing.T) {
	importer := NewImporter(nil, rosterWriter(infrastructure.NewMemoryStore()), config.HISConfig{}, nil)

	buf := buildWorkbook(t, [][]any{{"StaffID", "FullName", "Role", "Specialization", "OnDuty"}}, nil)

	_, err := importer.ImportWorkbook(context.Background(), buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"Beds"`)
}

func TestImportWorkbook_NotAWorkbook(t *testing.T) {
	importer := NewImporter(nil, rosterWriter(infrastructure.NewMemoryStore()), config.HISConfig{}, nil)

	_, err := importer.ImportWorkbook(context.Background(), strings.NewReader("StaffID,Role\nN001,Nurse\n"))
	assert.Error(t, err)
}

func TestImport_WithoutDatabase(t *testing.T) {
	importer := NewImporter(nil, rosterWriter(infrastructure.NewMemoryStore()), config.HISConfig{}, nil)

	_, err := importer.Import(context.Background())
	assert.Error(t, err)
}
