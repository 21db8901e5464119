package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/t7a/lanshare/share"
	"github.com/vmihailenco/msgpack"
)

const msgpackType = "application/msgpack"

type errorBody struct {
	Error    string               `json:"error" msgpack:"error"`
	Kind     string               `json:"kind" msgpack:"kind"`
	Failures []share.PurgeFailure `json:"failures,omitempty" msgpack:"failures,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	err := enc.Encode(v)
	if err != nil {
		log.Debugf("writing response: %v", err)
	}
}

// wantsMsgpack reports whether the client asked for msgpack instead of
// JSON.
func wantsMsgpack(r *http.Request) bool {
	for _, accept := range r.Header.Values("Accept") {
		if strings.Contains(accept, msgpackType) {
			return true
		}
	}
	return false
}

// write encodes v as msgpack or JSON, whichever the client prefers.
func write(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Add("Vary", "Accept")
	if !wantsMsgpack(r) {
		writeJSON(w, status, v)
		return
	}
	buf, err := msgpack.Marshal(v)
	if err != nil {
		writeError(w, errors.Wrap(err, "encoding msgpack"))
		return
	}
	w.Header().Set("Content-Type", msgpackType)
	w.WriteHeader(status)
	_, err = w.Write(buf)
	if err != nil {
		log.Debugf("writing response: %v", err)
	}
}

func statusFor(err error) int {
	switch share.Kind(err) {
	case "invalid_path", "empty_batch":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "conflict":
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError maps err to a status and the standard error body.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Kind: share.Kind(err)}
	var perr *share.PurgeError
	if errors.As(err, &perr) {
		body.Failures = perr.Failures
	}
	if status >= 500 {
		log.Errorf("%v", err)
	} else {
		log.Debugf("%v", err)
	}
	writeJSON(w, status, body)
}
