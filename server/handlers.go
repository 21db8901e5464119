package server

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/t7a/lanshare/share"
)

//go:embed index.html
var static embed.FS

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := static.ReadFile("index.html")
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

type rejected struct {
	Name  string `json:"name" msgpack:"name"`
	Path  string `json:"path,omitempty" msgpack:"path,omitempty"`
	Error string `json:"error" msgpack:"error"`
	Kind  string `json:"kind" msgpack:"kind"`
}

type uploadResponse struct {
	Message  string             `json:"message" msgpack:"message"`
	Batch    string             `json:"batch" msgpack:"batch"`
	Accepted []share.StoredFile `json:"accepted" msgpack:"accepted"`
	Rejected []rejected         `json:"rejected" msgpack:"rejected"`
}

// uploadError is the error body plus the per-item reasons.
type uploadError struct {
	Error    string     `json:"error" msgpack:"error"`
	Kind     string     `json:"kind" msgpack:"kind"`
	Rejected []rejected `json:"rejected" msgpack:"rejected"`
}

// uploadBatch turns the multipart form into upload items.  Folder
// uploads send one "paths" value per "files" part, in the same order,
// because the part's filename loses its directories on the way in.
func uploadBatch(form *multipart.Form) (batch []share.UploadItem) {
	files := form.File["files"]
	paths := form.Value["paths"]
	for i, fh := range files {
		var rel string
		if i < len(paths) {
			rel = paths[i]
		}
		batch = append(batch, share.UploadItem{
			Name:    fh.Filename,
			RelPath: rel,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}
	return
}

// Pre-condition: multipart body with one or more "files" parts.
// Post-condition: every usable part is stored; the response lists what
// was accepted and what was rejected.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	err := r.ParseMultipartForm(s.opts.MaxMemory)
	if err != nil {
		writeError(w, errors.Wrapf(share.ErrEmptyBatch, "reading upload: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	res, err := s.svc.Ingest(r.Context(), uploadBatch(r.MultipartForm))
	resp := uploadResponse{Accepted: []share.StoredFile{}, Rejected: []rejected{}}
	if res != nil {
		resp.Batch = res.Batch
		resp.Accepted = append(resp.Accepted, res.Accepted...)
		for _, rj := range res.Rejected {
			resp.Rejected = append(resp.Rejected, rejected{
				Name:  rj.Name,
				Path:  rj.Path,
				Error: rj.Err.Error(),
				Kind:  share.Kind(rj.Err),
			})
		}
	}
	if err != nil {
		write(w, r, statusFor(err), uploadError{
			Error:    err.Error(),
			Kind:     share.Kind(err),
			Rejected: resp.Rejected,
		})
		return
	}
	if res.AcceptedCount() > 0 {
		s.changed("upload", "")
	}
	resp.Message = fmt.Sprintf("%d of %d files uploaded", res.AcceptedCount(), res.AcceptedCount()+len(res.Rejected))
	write(w, r, http.StatusOK, resp)
}

func (s *Server) etag(gen uint64) string {
	return strconv.Quote(strconv.FormatUint(gen, 10))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	// read the generation first; a change during the walk then only
	// costs the client a refetch
	etag := s.etag(s.Generation())
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	listing, err := s.svc.List()
	if err != nil {
		writeError(w, err)
		return
	}
	write(w, r, http.StatusOK, listing)
}

func attachment(w http.ResponseWriter, name string) {
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s", name, url.PathEscape(name)))
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	file, info, path, err := s.svc.OpenFile(mux.Vars(r)["path"])
	if err != nil {
		writeError(w, err)
		return
	}
	defer file.Close()
	attachment(w, path.Name())
	http.ServeContent(w, r, path.Name(), info.ModTime(), file)
}

func (s *Server) handleDownloadAll(w http.ResponseWriter, r *http.Request) {
	if s.opts.ArchiveMode == ArchiveDisk {
		sa, err := s.svc.StageArchive(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		defer sa.Close()
		w.Header().Set("Content-Type", "application/zip")
		attachment(w, sa.Name)
		http.ServeContent(w, r, sa.Name, time.Now(), sa)
		return
	}

	name, err := s.svc.ArchiveName()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	attachment(w, name)
	err = s.svc.WriteArchive(r.Context(), w)
	if errors.Is(err, share.ErrNotFound) {
		// emptied since ArchiveName looked; nothing written yet
		w.Header().Del("Content-Disposition")
		writeError(w, err)
		return
	}
	if err != nil {
		// headers are gone; all we can do is cut the stream short
		log.Warnf("download_all: %v", err)
	}
}

type folderRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleMkdir(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req)
	if err != nil {
		writeError(w, &share.PathError{Raw: "", Reason: "request body is not {\"name\": ...}"})
		return
	}
	path, err := s.svc.Mkdir(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	s.changed("mkdir", path.String())
	writeJSON(w, http.StatusCreated, map[string]string{"path": path.String() + "/"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["path"]
	err := s.svc.Delete(raw)
	if err != nil {
		writeError(w, err)
		return
	}
	s.changed("delete", raw)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": raw})
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.StorageInfo()
	if err != nil {
		writeError(w, err)
		return
	}
	write(w, r, http.StatusOK, info)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Purge()
	s.changed("cleanup", "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "shared files removed"})
}

func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	if s.opts.QR == nil {
		writeError(w, errors.Wrap(share.ErrNotFound, "qr code disabled"))
		return
	}
	buf, err := s.opts.QR.PNG()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(buf)))
	w.Write(buf)
}
