package extract

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	SheetSites       = "Sites"
	SheetCoordinates = "Coordinates"
	SheetTimeline    = "Timeline"
)

// ExportXLSX writes the result as a workbook with Sites, Coordinates and Timeline sheets.
func (r *Result) ExportXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSites); err != nil {
		return err
	}
	for _, name := range []string{SheetCoordinates, SheetTimeline} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	rows := map[string][][]interface{}{
		SheetSites:       {{"Site", "Type", "Context"}},
		SheetCoordinates: {{"Latitude", "Longitude", "Format", "Site", "Context"}},
		SheetTimeline:    {{"Label", "Start Year", "End Year", "Site", "Context"}},
	}
	for _, s := range r.Sites {
		rows[SheetSites] = append(rows[SheetSites], []interface{}{s.Name, s.Type, s.Context})
	}
	for _, c := range r.Coordinates {
		rows[SheetCoordinates] = append(rows[SheetCoordinates],
			[]interface{}{c.Latitude, c.Longitude, c.Format, c.SiteName, c.Context})
	}
	for _, d := range r.Dates {
		rows[SheetTimeline] = append(rows[SheetTimeline],
			[]interface{}{d.Label, d.StartYear, d.EndYear, d.SiteName, d.Context})
	}

	for sheet, sheetRows := range rows {
		for i, row := range sheetRows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			if err != nil {
				return err
			}
			if err := f.SetSheetRow(sheet, cell, &row); err != nil {
				return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
			}
		}
	}

	return f.Write(w)
}
