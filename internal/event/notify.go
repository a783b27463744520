package event

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/joeycumines/go-microbatch"
	"github.com/joeycumines/go-utilpkg/jsonenc"

	"github.com/printspool/printspoold/internal/errs"
)

// NotifierSpawner starts the external notifier program for a recipient
// URI, returning a writer connected to its stdin. Left as an interface
// so the owning root supplies the actual fork/exec (via os/exec or via
// internal/pipeline, matching which notifier backends are configured)
// without this package needing to know program-resolution rules.
type NotifierSpawner interface {
	Spawn(recipientURI string) (io.WriteCloser, *exec.Cmd, error)
}

// Notifier batches Records destined for one subscription and delivers
// them to its external notifier child, respawning on a broken pipe.
// Batching is via github.com/joeycumines/go-microbatch (size/interval
// bounded, matching §4.9's "batches outgoing event records" role);
// serialization is via github.com/joeycumines/go-utilpkg/jsonenc's
// low-allocation field appenders rather than encoding/json, matching
// the corpus's jsonenc usage for hot-path record encoding.
type Notifier struct {
	recipientURI string
	spawner      NotifierSpawner

	mu     sync.Mutex
	writer io.WriteCloser
	cmd    *exec.Cmd

	batcher *microbatch.Batcher[Record]
}

// NewNotifier constructs a notifier for one subscription's recipient
// URI. config may be nil to take microbatch's defaults (16 events / 50ms).
func NewNotifier(recipientURI string, spawner NotifierSpawner, config *microbatch.BatcherConfig) *Notifier {
	n := &Notifier{recipientURI: recipientURI, spawner: spawner}
	n.batcher = microbatch.NewBatcher[Record](config, n.deliverBatch)
	return n
}

// Deliver enqueues a record for batched delivery; it does not block on
// the write itself, only on the batcher accepting the job.
func (n *Notifier) Deliver(ctx context.Context, rec Record) error {
	_, err := n.batcher.Submit(ctx, rec)
	return err
}

// Close flushes any pending batch and terminates the notifier child.
func (n *Notifier) Close(ctx context.Context) error {
	err := n.batcher.Shutdown(ctx)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.writer != nil {
		_ = n.writer.Close()
	}
	if n.cmd != nil && n.cmd.Process != nil {
		_ = n.cmd.Process.Kill()
	}
	return err
}

func (n *Notifier) deliverBatch(ctx context.Context, recs []Record) error {
	w, err := n.ensureChild()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		line := encodeRecord(rec)
		if _, err := w.Write(line); err != nil {
			// Broken pipe: reap the dead child and respawn on the next
			// delivery attempt, per §4.9's notifier-delivery contract.
			n.mu.Lock()
			_ = n.writer.Close()
			n.writer = nil
			if n.cmd != nil && n.cmd.Process != nil {
				_ = n.cmd.Process.Kill()
				_ = n.cmd.Wait()
			}
			n.cmd = nil
			n.mu.Unlock()
			return errs.Wrap(errs.PeerClosed, "notifier write", err)
		}
	}
	return nil
}

func (n *Notifier) ensureChild() (io.WriteCloser, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.writer != nil {
		return n.writer, nil
	}
	w, cmd, err := n.spawner.Spawn(n.recipientURI)
	if err != nil {
		return nil, errs.Wrap(errs.ChildSpawnFailed, "spawn notifier "+n.recipientURI, err)
	}
	n.writer = w
	n.cmd = cmd
	return w, nil
}

// encodeRecord serializes one Record as a single JSON line using
// jsonenc's low-allocation field appenders.
func encodeRecord(rec Record) []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, '{')
	buf = jsonenc.InsertString(buf, len(buf), "seq")
	buf = append(buf, ':')
	buf = strconv.AppendUint(buf, rec.Seq, 10)
	buf = append(buf, ',')

	buf = jsonenc.InsertString(buf, len(buf), "kind")
	buf = append(buf, ':')
	buf = jsonenc.AppendString(buf, string(rec.Kind))
	buf = append(buf, ',')

	buf = jsonenc.InsertString(buf, len(buf), "time")
	buf = append(buf, ':')
	buf = jsonenc.AppendString(buf, rec.At.UTC().Format(time.RFC3339Nano))
	buf = append(buf, ',')

	buf = jsonenc.InsertString(buf, len(buf), "message")
	buf = append(buf, ':')
	buf = jsonenc.AppendString(buf, rec.Message)

	if rec.Printer != nil {
		buf = append(buf, ',')
		buf = jsonenc.InsertString(buf, len(buf), "printer")
		buf = append(buf, ':')
		buf = jsonenc.AppendString(buf, rec.Printer.Name)
	}
	if rec.Job != nil {
		buf = append(buf, ',')
		buf = jsonenc.InsertString(buf, len(buf), "job_id")
		buf = append(buf, ':')
		buf = strconv.AppendUint(buf, rec.Job.ID, 10)
		buf = append(buf, ',')
		buf = jsonenc.InsertString(buf, len(buf), "job_reason")
		buf = append(buf, ':')
		buf = jsonenc.AppendString(buf, rec.Job.Reason)
	}

	buf = append(buf, '}', '\n')
	return buf
}
