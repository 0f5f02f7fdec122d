package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/amanthanvi/wardkeeper/internal/audit"
	"github.com/amanthanvi/wardkeeper/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	exportAppointmentsSheet = "Appointments"
	exportPatientsSheet     = "Patients"
	exportMaxRows           = 100000
)

var (
	appointmentHeaders = []any{"Date", "Time", "Patient", "DNI", "Doctor", "License", "Room", "Status", "Cost", "Notes"}
	patientHeaders     = []any{"Patient", "DNI", "Appointments", "Billed"}
)

type ExportRequest struct {
	From       time.Time
	To         time.Time
	OutputPath string
}

type ExportResult struct {
	Path         string          `json:"path"`
	Appointments int             `json:"appointments"`
	Patients     int             `json:"patients"`
	Total        decimal.Decimal `json:"total"`
}

type ExportService struct {
	appointments *AppointmentService
	deps         Deps
}

func NewExportService(appointments *AppointmentService, deps Deps) *ExportService {
	return &ExportService{appointments: appointments, deps: deps.withDefaults()}
}

// Appointments writes the appointments in [From, To] to a new .xlsx workbook
// holding an appointments sheet and a per-patient summary sheet. Cancelled
// appointments are listed but not billed.
func (s *ExportService) Appointments(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if strings.TrimSpace(req.OutputPath) == "" {
		return nil, fmt.Errorf("%w: output path is required", ErrValidation)
	}
	if req.From.IsZero() || req.To.IsZero() {
		return nil, fmt.Errorf("%w: export range requires from and to", ErrValidation)
	}
	if !strings.EqualFold(filepath.Ext(req.OutputPath), ".xlsx") {
		return nil, fmt.Errorf("%w: output must be an .xlsx file", ErrValidation)
	}

	from, to := req.From.UTC(), req.To.UTC()
	views, err := s.appointments.List(ctx, storage.AppointmentFilter{From: &from, To: &to, Limit: exportMaxRows})
	if err != nil {
		return nil, fmt.Errorf("export appointments: %w", err)
	}

	workbook, total, patients, err := buildWorkbook(views)
	if err != nil {
		return nil, fmt.Errorf("export appointments: %w", err)
	}
	defer workbook.Close()

	if err := writeWorkbook(workbook, req.OutputPath); err != nil {
		return nil, err
	}

	result := &ExportResult{
		Path:         req.OutputPath,
		Appointments: len(views),
		Patients:     patients,
		Total:        total,
	}
	s.deps.record(ctx, audit.Event{
		Action:     audit.ActionExportCreate,
		TargetType: "export",
		TargetID:   filepath.Base(req.OutputPath),
		Details: exportDetails{
			From:         from.Format(time.DateOnly),
			To:           to.Format(time.DateOnly),
			Appointments: result.Appointments,
		},
	})
	return result, nil
}

type patientSummary struct {
	name   string
	dni    string
	count  int
	billed decimal.Decimal
}

func buildWorkbook(views []AppointmentView) (*excelize.File, decimal.Decimal, int, error) {
	file := excelize.NewFile()
	total, patients, err := fillWorkbook(file, views)
	if err != nil {
		_ = file.Close()
		return nil, decimal.Zero, 0, err
	}
	return file, total, patients, nil
}

func fillWorkbook(file *excelize.File, views []AppointmentView) (decimal.Decimal, int, error) {
	if _, err := file.NewSheet(exportAppointmentsSheet); err != nil {
		return decimal.Zero, 0, fmt.Errorf("create sheet: %w", err)
	}
	if _, err := file.NewSheet(exportPatientsSheet); err != nil {
		return decimal.Zero, 0, fmt.Errorf("create sheet: %w", err)
	}
	if err := file.DeleteSheet("Sheet1"); err != nil {
		return decimal.Zero, 0, fmt.Errorf("delete default sheet: %w", err)
	}
	index, err := file.GetSheetIndex(exportAppointmentsSheet)
	if err != nil {
		return decimal.Zero, 0, err
	}
	file.SetActiveSheet(index)

	if err := file.SetSheetRow(exportAppointmentsSheet, "A1", &appointmentHeaders); err != nil {
		return decimal.Zero, 0, err
	}

	total := decimal.Zero
	summaries := map[string]*patientSummary{}
	for i, view := range views {
		row := []any{
			view.At.Format(time.DateOnly),
			view.At.Format("15:04"),
			view.PatientName,
			view.PatientDNI,
			view.DoctorName,
			view.DoctorLicense,
			view.RoomNumber,
			string(view.Status),
			view.Cost.InexactFloat64(),
			view.Notes,
		}
		if err := setRow(file, exportAppointmentsSheet, i+2, &row); err != nil {
			return decimal.Zero, 0, err
		}

		summary, ok := summaries[view.PatientDNI]
		if !ok {
			summary = &patientSummary{name: view.PatientName, dni: view.PatientDNI, billed: decimal.Zero}
			summaries[view.PatientDNI] = summary
		}
		summary.count++
		if view.Status != storage.AppointmentCancelled {
			summary.billed = summary.billed.Add(view.Cost)
			total = total.Add(view.Cost)
		}
	}

	totalCell, err := excelize.CoordinatesToCellName(8, len(views)+2)
	if err != nil {
		return decimal.Zero, 0, err
	}
	totalRow := []any{"Total", total.InexactFloat64()}
	if err := file.SetSheetRow(exportAppointmentsSheet, totalCell, &totalRow); err != nil {
		return decimal.Zero, 0, err
	}

	ordered := make([]*patientSummary, 0, len(summaries))
	for _, summary := range summaries {
		ordered = append(ordered, summary)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].name < ordered[j].name })

	if err := file.SetSheetRow(exportPatientsSheet, "A1", &patientHeaders); err != nil {
		return decimal.Zero, 0, err
	}
	for i, summary := range ordered {
		row := []any{summary.name, summary.dni, summary.count, summary.billed.InexactFloat64()}
		if err := setRow(file, exportPatientsSheet, i+2, &row); err != nil {
			return decimal.Zero, 0, err
		}
	}
	return total, len(ordered), nil
}

func setRow(file *excelize.File, sheet string, row int, values *[]any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return file.SetSheetRow(sheet, cell, values)
}

// writeWorkbook refuses to overwrite an existing file and creates the export
// readable by the owner only.
func writeWorkbook(workbook *excelize.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("export appointments: create output dir: %w", err)
	}
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: output %s already exists", ErrValidation, path)
		}
		return fmt.Errorf("export appointments: create output: %w", err)
	}
	if _, err := workbook.WriteTo(out); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return fmt.Errorf("export appointments: write workbook: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("export appointments: close output: %w", err)
	}
	return nil
}

type exportDetails struct {
	From         string `json:"from"`
	To           string `json:"to"`
	Appointments int    `json:"appointments"`
}
