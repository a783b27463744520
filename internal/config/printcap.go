package config

import (
	"fmt"
	"strings"
)

const printcapHeader = "# This file was automatically generated, do not edit manually.\n"

// PrintcapEntry is one printer/class the shadow file describes (§6).
type PrintcapEntry struct {
	Name       string
	Info       string
	RemoteHost string // empty for a local printer
}

// PrintcapFormat selects the shadow-file syntax.
type PrintcapFormat int

const (
	PrintcapColon PrintcapFormat = iota
	PrintcapTabular
)

// RenderPrintcap writes the printcap shadow file body for entries,
// always beginning with the fixed auto-generated header (§6).
func RenderPrintcap(entries []PrintcapEntry, format PrintcapFormat) string {
	var b strings.Builder
	b.WriteString(printcapHeader)
	for _, e := range entries {
		switch format {
		case PrintcapTabular:
			b.WriteString(e.Name)
			b.WriteByte('\n')
			b.WriteString("\t:info=" + e.Info + ":\n")
			if e.RemoteHost != "" {
				b.WriteString("\t:rm=" + e.RemoteHost + ":\n")
				b.WriteString("\t:rp=" + e.Name + ":\n")
			}
		default:
			line := fmt.Sprintf("%s|%s", e.Name, e.Info)
			if e.RemoteHost != "" {
				line += fmt.Sprintf(":rm=%s:rp=%s:", e.RemoteHost, e.Name)
			}
			b.WriteString(line + ":\n")
		}
	}
	return b.String()
}
