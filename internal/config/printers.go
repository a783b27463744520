package config

import (
	"strings"

	"github.com/printspool/printspoold/internal/errs"
)

// PrinterRecord is one decoded `<Printer>`/`<DefaultPrinter>` block.
type PrinterRecord struct {
	Name         string
	IsDefault    bool
	Info         string
	Location     string
	DeviceURI    string
	State        string // "Idle" or "Stopped"
	StateMessage string
	Accepting    bool
	JobSheetsStart, JobSheetsEnd string
	QuotaPeriod, PageLimit, KLimit int
	AllowUser, DenyUser            []string
	OpPolicy, ErrorPolicy          string
}

// ClassRecord is one decoded `<Class>`/`<DefaultClass>` block: the
// printer keys plus repeatable Printer member lines (§6).
type ClassRecord struct {
	PrinterRecord
	Members []string
}

// BlockError pairs a malformed block's identity with the decode error,
// for "log and skip the offending block; continue" (§7 config-parse).
type BlockError struct {
	Tag, Name string
	Err       error
}

// ParsePrintersConf decodes printers.conf per §6. Malformed blocks are
// skipped and reported in errsOut rather than aborting the whole load.
func ParsePrintersConf(data string) (records []PrinterRecord, errsOut []BlockError, err error) {
	_, blocks, err := scanBlocks(data)
	if err != nil {
		return nil, nil, err
	}
	for _, b := range blocks {
		if b.Tag != "Printer" && b.Tag != "DefaultPrinter" {
			continue
		}
		rec, decErr := decodePrinterBlock(b)
		if decErr != nil {
			errsOut = append(errsOut, BlockError{Tag: b.Tag, Name: b.Name, Err: decErr})
			continue
		}
		rec.IsDefault = b.Tag == "DefaultPrinter"
		records = append(records, rec)
	}
	return records, errsOut, nil
}

// ParseClassesConf decodes classes.conf per §6.
func ParseClassesConf(data string) (records []ClassRecord, errsOut []BlockError, err error) {
	_, blocks, err := scanBlocks(data)
	if err != nil {
		return nil, nil, err
	}
	for _, b := range blocks {
		if b.Tag != "Class" && b.Tag != "DefaultClass" {
			continue
		}
		base, decErr := decodePrinterBlock(b)
		if decErr != nil {
			errsOut = append(errsOut, BlockError{Tag: b.Tag, Name: b.Name, Err: decErr})
			continue
		}
		rec := ClassRecord{PrinterRecord: base, Members: append([]string{}, b.Values["Printer"]...)}
		rec.IsDefault = b.Tag == "DefaultClass"
		records = append(records, rec)
	}
	return records, errsOut, nil
}

func decodePrinterBlock(b block) (PrinterRecord, error) {
	if b.Name == "" {
		return PrinterRecord{}, errs.New(errs.ConfigParse, "block missing a name")
	}

	rec := PrinterRecord{
		Name:         b.Name,
		Info:         b.first("Info"),
		Location:     b.first("Location"),
		DeviceURI:    b.first("DeviceURI"),
		State:        b.first("State"),
		StateMessage: b.first("StateMessage"),
		Accepting:    parseBoolSynonym(b.first("Accepting")),
		OpPolicy:     b.first("OpPolicy"),
		ErrorPolicy:  b.first("ErrorPolicy"),
	}

	if js := b.Values["JobSheets"]; len(js) > 0 {
		fields := strings.Fields(js[0])
		if len(fields) > 0 {
			rec.JobSheetsStart = fields[0]
		}
		if len(fields) > 1 {
			rec.JobSheetsEnd = fields[1]
		}
	}

	rec.QuotaPeriod = parseIntDefault(b.first("QuotaPeriod"), 0)
	rec.PageLimit = parseIntDefault(b.first("PageLimit"), 0)
	rec.KLimit = parseIntDefault(b.first("KLimit"), 0)

	rec.AllowUser = append([]string{}, b.Values["AllowUser"]...)
	rec.DenyUser = append([]string{}, b.Values["DenyUser"]...)
	if len(rec.AllowUser) > 0 && len(rec.DenyUser) > 0 {
		return PrinterRecord{}, errs.New(errs.ConfigParse, "AllowUser and DenyUser are mutually exclusive for "+b.Name)
	}

	if rec.State == "" {
		rec.State = "Idle"
	}
	return rec, nil
}
