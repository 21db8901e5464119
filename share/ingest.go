package share

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// UploadItem is one file of an upload batch.  RelPath is set for folder
// uploads and carries the file's path inside the uploaded folder; when
// it is empty the file lands directly under the root as Name.  Open is
// called once, by the goroutine that writes the item.
type UploadItem struct {
	Name    string
	RelPath string
	Open    func() (io.ReadCloser, error)
}

// StoredFile is an item that was written successfully.
type StoredFile struct {
	Path string `json:"path" msgpack:"path"`
	Size int64  `json:"size" msgpack:"size"`
}

// Rejection is an item that was not stored, and why.
type Rejection struct {
	Name string `json:"name" msgpack:"name"`
	Path string `json:"path,omitempty" msgpack:"path,omitempty"`
	Err  error  `json:"-" msgpack:"-"`
}

// IngestResult holds the per-item outcome of an Ingest call.
type IngestResult struct {
	Batch    string
	Accepted []StoredFile
	Rejected []Rejection
}

func (res *IngestResult) AcceptedCount() int {
	return len(res.Accepted)
}

// RejectedPaths lists the client-supplied path (or name) of every
// rejected item.
func (res *IngestResult) RejectedPaths() (paths []string) {
	for _, r := range res.Rejected {
		if r.Path != "" {
			paths = append(paths, r.Path)
		} else {
			paths = append(paths, r.Name)
		}
	}
	return
}

type target struct {
	item UploadItem
	path SafePath
}

// Ingest stores every usable item of batch under the share root.
// Items are written concurrently, at most svc.Workers at a time across
// every batch, and Ingest returns only after all of them are done.  A bad item is
// recorded in Rejected and never stops its siblings; the call itself
// fails only with ErrEmptyBatch, when sanitizing leaves nothing to
// write.
//
// Items not yet started when ctx ends are rejected with ctx's error.
// Items already started run to completion.  Two items
// with the same final path race, and whichever finishes last wins.
func (svc *Service) Ingest(ctx context.Context, batch []UploadItem) (res *IngestResult, err error) {
	res = &IngestResult{Batch: uuid.New().String()}
	logger := log.WithField("batch", res.Batch)

	var targets []target
	for _, item := range batch {
		var path SafePath
		var perr error
		if item.RelPath != "" {
			path, perr = Sanitize(item.RelPath)
		} else {
			path, perr = SanitizeName(item.Name)
		}
		if perr != nil {
			logger.WithField("name", item.Name).Debugf("rejected: %v", perr)
			res.Rejected = append(res.Rejected, Rejection{Name: item.Name, Path: item.RelPath, Err: perr})
			continue
		}
		targets = append(targets, target{item: item, path: path})
	}
	if len(targets) == 0 {
		return res, errors.Wrapf(ErrEmptyBatch, "%d items submitted", len(batch))
	}

	var (
		mu   sync.Mutex
		done sync.WaitGroup
	)
	record := func(tg target, n int64, werr error) {
		mu.Lock()
		defer mu.Unlock()
		if werr != nil {
			res.Rejected = append(res.Rejected, Rejection{Name: tg.item.Name, Path: tg.path.String(), Err: werr})
			return
		}
		res.Accepted = append(res.Accepted, StoredFile{Path: tg.path.String(), Size: n})
	}

	for _, tg := range targets {
		serr := svc.writers.start(ctx, &done, func() {
			n, werr := svc.store(tg)
			if werr != nil {
				logger.WithField("path", tg.path).Warnf("store failed: %v", werr)
			} else {
				logger.WithFields(log.Fields{"path": tg.path, "size": humanize.IBytes(uint64(n))}).Debug("stored")
			}
			record(tg, n, werr)
		})
		if serr != nil {
			record(tg, 0, serr)
		}
	}
	done.Wait()

	logger.Infof("ingested %d of %d items", len(res.Accepted), len(batch))
	return res, nil
}

// store writes one item.  Folder uploads go through
// writeFileWithStructure, which makes sure the item's parent
// directories exist first.
func (svc *Service) store(tg target) (n int64, err error) {
	if tg.item.Open == nil {
		return 0, errors.Errorf("%s: no content", tg.path)
	}
	rd, err := tg.item.Open()
	if err != nil {
		return 0, fault(err, "open upload %s", tg.item.Name)
	}
	defer rd.Close()

	if tg.item.RelPath != "" {
		return svc.writeFileWithStructure(tg.path, rd)
	}
	return svc.Tree.WriteFile(tg.path, rd)
}

func (svc *Service) writeFileWithStructure(path SafePath, rd io.Reader) (n int64, err error) {
	segs := path.Segments()
	if len(segs) > 1 {
		parent, err := Sanitize(strings.Join(segs[:len(segs)-1], "/"))
		if err != nil {
			return 0, err
		}
		err = svc.Tree.EnsureDir(parent)
		if err != nil {
			return 0, err
		}
	}
	return svc.Tree.WriteFile(path, rd)
}
