package daemon

import (
	"os"
	"strings"
	"time"

	"github.com/printspool/printspoold/internal/config"
	"github.com/printspool/printspoold/internal/destination"
	"github.com/printspool/printspoold/internal/errs"
	"github.com/printspool/printspoold/internal/event"
)

// loadDestinations populates Destinations/Events from printers.conf,
// classes.conf, and subscriptions.conf (§6), in that order since class
// member lookups and per-printer subscription filters both assume the
// printer table is already current.
func (r *Root) loadDestinations() error {
	if err := r.loadPrinters(); err != nil {
		return err
	}
	if err := r.loadClasses(); err != nil {
		return err
	}
	return r.loadSubscriptions()
}

// Reload re-reads the three conf files, logging the attempt; called
// from the reactor goroutine only (via main's SIGHUP-triggered
// MaybeReload), matching the single-writer discipline every other
// owning-root mutation follows.
func (r *Root) Reload() error {
	r.Log.Info().Log("reloading printers.conf/classes.conf/subscriptions.conf")
	return r.loadDestinations()
}

func readConfFile(path string) (string, bool, error) {
	if path == "" {
		return "", false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, errs.Wrap(errs.ConfigParse, "read "+path, err)
	}
	return string(data), true, nil
}

func (r *Root) loadPrinters() error {
	data, ok, err := readConfFile(r.Config.PrintersConfPath)
	if err != nil || !ok {
		return err
	}
	records, blockErrs, err := config.ParsePrintersConf(data)
	if err != nil {
		return errs.Wrap(errs.ConfigParse, "parse "+r.Config.PrintersConfPath, err)
	}
	r.logBlockErrors(r.Config.PrintersConfPath, blockErrs)

	defaultPeriod := time.Duration(r.Config.DefaultQuotaPeriodSeconds) * time.Second
	for _, rec := range records {
		if existing, ok := r.Destinations.Printer(rec.Name); ok {
			existing.Accepting = rec.Accepting
			r.setMeta(rec.Name, buildPrinterMeta(rec, defaultPeriod))
			continue
		}
		p := &destination.Printer{
			Name:                   rec.Name,
			State:                  printerStateFromName(rec.State),
			Accepting:              rec.Accepting,
			PrinterType:            "printer/" + rec.Name,
			Options:                make(map[string]*destination.Option),
			ResolverIterationLimit: r.Config.ConflictResolverMaxIter,
		}
		r.Destinations.AddPrinter(p)
		r.setMeta(rec.Name, buildPrinterMeta(rec, defaultPeriod))
	}
	return nil
}

func printerStateFromName(name string) destination.State {
	if strings.EqualFold(name, "Stopped") {
		return destination.StateStopped
	}
	return destination.StateIdle
}

func (r *Root) loadClasses() error {
	data, ok, err := readConfFile(r.Config.ClassesConfPath)
	if err != nil || !ok {
		return err
	}
	records, blockErrs, err := config.ParseClassesConf(data)
	if err != nil {
		return errs.Wrap(errs.ConfigParse, "parse "+r.Config.ClassesConfPath, err)
	}
	r.logBlockErrors(r.Config.ClassesConfPath, blockErrs)

	for _, rec := range records {
		r.Destinations.AddClass(&destination.Class{Name: rec.Name, Members: rec.Members})
	}
	return nil
}

func (r *Root) loadSubscriptions() error {
	data, ok, err := readConfFile(r.Config.SubscriptionsConfPath)
	if err != nil || !ok {
		return err
	}
	_, records, blockErrs, err := config.ParseSubscriptionsConf(data)
	if err != nil {
		return errs.Wrap(errs.ConfigParse, "parse "+r.Config.SubscriptionsConfPath, err)
	}
	r.logBlockErrors(r.Config.SubscriptionsConfPath, blockErrs)

	maxEvents := r.Config.MaxEventsPerSubscription
	if maxEvents <= 0 {
		maxEvents = 32
	}
	now := time.Now()
	for _, rec := range records {
		kinds := make([]event.Kind, 0, len(rec.Events))
		for _, e := range rec.Events {
			kinds = append(kinds, event.Kind(e))
		}
		if len(kinds) == 0 {
			kinds = []event.Kind{event.KindAll}
		}
		filter := event.Filter{Printer: rec.PrinterName, JobID: uint64(rec.JobID)}
		lease := time.Duration(rec.LeaseDuration) * time.Second

		if _, err := r.Events.Subscribe(kinds, filter, maxEvents, lease, now); err != nil {
			r.Log.Err().Err(err).Int("subscription", rec.ID).Log("skipping subscriptions.conf entry over a resource cap")
		}
	}
	return nil
}

func (r *Root) logBlockErrors(path string, blockErrs []config.BlockError) {
	for _, be := range blockErrs {
		r.Log.Err().Err(be.Err).Str("conf", path).Str("tag", be.Tag).Str("name", be.Name).Log("skipping malformed config block")
	}
}
