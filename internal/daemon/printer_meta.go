package daemon

import (
	"strings"
	"time"

	"github.com/printspool/printspoold/internal/config"
	"github.com/printspool/printspoold/internal/quota"
	"github.com/printspool/printspoold/internal/scheduler"
)

// printerMeta holds the printers.conf fields destination.Printer itself
// has no room for: the dispatch target, whether that target is another
// spooler (§4.8.1 "remote" skips the filter chain but still runs the
// back-end), the error policy driving §4.7's completion table, and the
// printer's quota limits (§5).
type printerMeta struct {
	DeviceURI   string
	Backend     string
	Remote      bool
	ErrorPolicy scheduler.ErrorPolicy
	Quota       quota.Limits
	OpPolicy    string
}

// remoteSchemes are device-uri schemes that hand the job to another
// print spooler rather than a locally-attached or network-attached
// device; per original_source/scheduler/printers.c's CUPS_PRINTER_REMOTE
// bit, only these skip local filtering (§4.8.1).
var remoteSchemes = map[string]bool{"ipp": true, "ipps": true, "http": true, "https": true, "lpd": true}

func deviceURIScheme(uri string) string {
	if idx := strings.Index(uri, "://"); idx >= 0 {
		return uri[:idx]
	}
	return ""
}

func buildPrinterMeta(rec config.PrinterRecord, defaultPeriod time.Duration) printerMeta {
	scheme := deviceURIScheme(rec.DeviceURI)
	period := defaultPeriod
	if rec.QuotaPeriod > 0 {
		period = time.Duration(rec.QuotaPeriod) * time.Second
	}
	return printerMeta{
		DeviceURI:   rec.DeviceURI,
		Backend:     scheme,
		Remote:      remoteSchemes[scheme],
		ErrorPolicy: errorPolicyFromName(rec.ErrorPolicy),
		Quota: quota.Limits{
			Period:    period,
			PageLimit: int64(rec.PageLimit),
			KLimit:    int64(rec.KLimit),
		},
		OpPolicy: rec.OpPolicy,
	}
}

func errorPolicyFromName(name string) scheduler.ErrorPolicy {
	switch name {
	case "abort-job":
		return scheduler.ErrorPolicyAbortJob
	case "retry-current-job":
		return scheduler.ErrorPolicyRetryCurrentJob
	case "retry-job":
		return scheduler.ErrorPolicyRetryJob
	default:
		return scheduler.ErrorPolicyStopPrinter
	}
}

// printerMetaFor looks up a printer's metadata, defaulting to
// stop-printer (printers.conf's own default, per printers.c) for a
// destination loaded with no matching printers.conf record.
func (r *Root) printerMetaFor(name string) printerMeta {
	if m, ok := r.meta[strings.ToLower(name)]; ok {
		return m
	}
	return printerMeta{ErrorPolicy: scheduler.ErrorPolicyStopPrinter}
}

func (r *Root) setMeta(name string, m printerMeta) {
	r.meta[strings.ToLower(name)] = m
}
