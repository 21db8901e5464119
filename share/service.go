package share

import (
	"os"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

// Options configures a Service.
type Options struct {
	Root    string // share root; created if missing
	Workers int    // concurrent upload writers; DefaultWorkers if < 1
	// Artifacts are files outside the share that are derived from it,
	// like a cached discovery QR code.  Purge removes them too.
	Artifacts []string
}

// Service owns the share root and bounds its upload writers.  Make one at
// startup and pass it to whatever serves requests; its methods are safe
// for concurrent use.
type Service struct {
	Tree      *Tree
	Workers   int
	artifacts []string
	writers   *writers
}

// Open prepares the share root described by opts.  Call Close when
// done.
func Open(opts Options) (svc *Service, err error) {
	tree, err := OpenTree(opts.Root)
	if err != nil {
		return
	}
	workers := opts.Workers
	if workers < 1 {
		workers = DefaultWorkers
	}
	svc = &Service{
		Tree:      tree,
		Workers:   workers,
		artifacts: opts.Artifacts,
		writers:   newWriters(workers),
	}
	log.WithFields(log.Fields{"root": tree.Root, "workers": workers}).Debug("share opened")
	return
}

// Root returns the absolute share root.
func (svc *Service) Root() string {
	return svc.Tree.Root
}

// Close refuses further uploads.  Writes already running finish
// first.
func (svc *Service) Close() {
	svc.writers.close()
}

// Mkdir sanitizes name and creates it as an empty directory.
func (svc *Service) Mkdir(name string) (path SafePath, err error) {
	path, err = Sanitize(name)
	if err != nil {
		return
	}
	err = svc.Tree.Mkdir(path)
	return
}

// OpenFile opens the stored file at the client path raw.
func (svc *Service) OpenFile(raw string) (file *os.File, info os.FileInfo, path SafePath, err error) {
	path, err = Sanitize(raw)
	if err != nil {
		return
	}
	file, info, err = svc.Tree.Open(path)
	return
}

// Delete removes the file or directory at the client path raw.
func (svc *Service) Delete(raw string) (err error) {
	path, err := Sanitize(raw)
	if err != nil {
		return
	}
	return svc.Tree.Remove(path)
}

// Purge empties the share root and deletes any cached artifacts.
// Removal is best-effort: every entry is attempted and the failures
// are returned together as a *PurgeError.
func (svc *Service) Purge() (err error) {
	var freed uint64
	for entry, werr := range svc.Tree.Walk() {
		if werr == nil && !entry.IsDir() {
			freed += uint64(entry.Size)
		}
	}

	var failures []PurgeFailure
	err = svc.Tree.PurgeAll()
	if perr, ok := err.(*PurgeError); ok {
		failures = append(failures, perr.Failures...)
	} else if err != nil {
		failures = append(failures, PurgeFailure{Path: ".", Err: err.Error()})
	}
	for _, fn := range svc.artifacts {
		rmerr := os.Remove(fn)
		if rmerr != nil && !os.IsNotExist(rmerr) {
			failures = append(failures, PurgeFailure{Path: fn, Err: rmerr.Error()})
		}
	}

	if len(failures) > 0 {
		log.WithField("failures", len(failures)).Warn("purge incomplete")
		return &PurgeError{Failures: failures}
	}
	log.Infof("purged %s, freed %s", svc.Tree.Root, humanize.IBytes(freed))
	return nil
}

// PurgeOnStart purges the share unless its root held someone else's
// files when lanshare first opened it.  Those roots are left alone and
// purged is false.
func (svc *Service) PurgeOnStart() (purged bool, err error) {
	if !svc.Tree.Owned {
		log.WithField("root", svc.Tree.Root).Warn("not purging a directory lanshare did not create")
		return false, nil
	}
	err = svc.Purge()
	return err == nil, err
}
