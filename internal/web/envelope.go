// Package web exposes the Builder and Reader over a small HTTP+WebSocket
// surface. Every synchronous endpoint answers with the JSON envelope
// {err_lvl, orig_req, ...}; long-running work is dispatched to the build
// queue and its progress streamed over the push channel.
package web

import (
	"encoding/json"
	"net/http"

	"proofmesh/internal/logging"
	"proofmesh/internal/perr"
)

// envelope is the standard JSON response wrapper.
type envelope map[string]interface{}

// writeEnvelope renders a response. A nil err means success (err_lvl 0);
// otherwise the error's code becomes err_lvl and its message err_msg.
// Internal details never leak: non-coded errors report a generic message.
func writeEnvelope(w http.ResponseWriter, r *http.Request, payload envelope, err error) {
	out := envelope{}
	for k, v := range payload {
		out[k] = v
	}
	out["orig_req"] = r.URL.RequestURI()
	if err == nil {
		out["err_lvl"] = 0
	} else {
		code := perr.CodeOf(err)
		if code <= 0 {
			logging.Get(logging.CategoryWeb).Error("internal error on %s: %v", r.URL.Path, err)
			out["err_lvl"] = int(perr.DBError)
			out["err_msg"] = "internal error"
		} else {
			out["err_lvl"] = int(code)
			out["err_msg"] = errMessage(err)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	data, marshalErr := json.Marshal(out)
	if marshalErr != nil {
		logging.Get(logging.CategoryWeb).Error("failed to marshal envelope: %v", marshalErr)
		http.Error(w, `{"err_lvl": 1}`, http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

// errMessage extracts a user-safe message: the Err's own message, without
// any wrapped cause.
func errMessage(err error) string {
	if pe, ok := err.(*perr.Err); ok {
		return pe.Msg
	}
	return err.Error()
}

// requiredParam fetches a query or form parameter, erroring when absent.
func requiredParam(r *http.Request, name string) (string, error) {
	v := r.FormValue(name)
	if v == "" {
		return "", perr.New(perr.MissingInput, "missing required input %q", name)
	}
	return v, nil
}

// maxInputLength bounds every string input.
const maxInputLength = 16384

// checkLength enforces the input length bound.
func checkLength(name, v string) error {
	if len(v) > maxInputLength {
		return perr.New(perr.InputTooLong, "input %q too long", name)
	}
	return nil
}
