// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package policy

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"grimm.is/switchboot/internal/model"
)

// DeviceCreator is the slice of the repository CSV import needs.
type DeviceCreator interface {
	CreateDevice(d *model.Device) (*model.Device, error)
}

var csvRequiredFields = []string{"hostname", "mgmt_ip", "mask", "gateway"}

// ImportCSV reads a header-driven CSV stream and creates one device per
// valid row. Import is partial-success: valid rows are created even when
// other rows fail. Rows are reported by 1-based index.
func ImportCSV(creator DeviceCreator, jobID int64, r io.Reader) (int, []model.ValidationError) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return 0, []model.ValidationError{{
			Field:   "csv",
			Message: "CSV file is empty or has no header row.",
		}}
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.ToLower(header[i]))
	}

	var errs []model.ValidationError
	successCount := 0

	for row := 1; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = append(errs, model.ValidationError{
				Field:   "csv",
				Row:     row,
				Message: fmt.Sprintf("Line %d: Error processing: %v", row, err),
			})
			continue
		}

		fields := make(map[string]string, len(header))
		for i, name := range header {
			if name == "" || i >= len(record) {
				continue
			}
			if v := strings.TrimSpace(record[i]); v != "" {
				fields[name] = v
			}
		}

		var missing []string
		for _, name := range csvRequiredFields {
			if fields[name] == "" {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			errs = append(errs, model.ValidationError{
				Field:   strings.Join(missing, ", "),
				Row:     row,
				Message: fmt.Sprintf("Line %d: Missing required fields: %s", row, strings.Join(missing, ", ")),
			})
			continue
		}

		device := &model.Device{
			JobID:    jobID,
			Hostname: fields["hostname"],
			MgmtIP:   fields["mgmt_ip"],
			Mask:     fields["mask"],
			Gateway:  fields["gateway"],
			Vendor:   fields["vendor"],
			Model:    fields["model"],
			Port:     digitField(fields["port"]),
			MgmtVLAN: digitField(fields["mgmt_vlan"]),
			Status:   "pending",
		}

		if _, err := creator.CreateDevice(device); err != nil {
			errs = append(errs, model.ValidationError{
				Field:   "csv",
				Row:     row,
				Message: fmt.Sprintf("Line %d: Error processing: %v", row, err),
			})
			continue
		}
		successCount++
	}

	return successCount, errs
}

// digitField parses a numeric CSV field, accepting only all-digit values;
// anything else (including empty) is treated as unset.
func digitField(s string) int {
	if s == "" {
		return 0
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
	}
	n, _ := strconv.Atoi(s)
	return n
}
