package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/opssat/sidloc"
)

// ParametersResponse is the body of GET /api/parameters.
type ParametersResponse struct {
	Parameters map[string]string `json:"parameters"`
	Count      int               `json:"count"`
	State      string            `json:"state"`
	Time       time.Time         `json:"time"`
}

// ParametersHandler serves the current supervisor parameters snapshot.
func ParametersHandler(fd sidloc.FrontDoor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			writeCORS(w)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		params := fd.Parameters()
		writeJSON(w, http.StatusOK, ParametersResponse{
			Parameters: params,
			Count:      len(params),
			State:      fd.SubscriptionState().String(),
			Time:       time.Now().UTC(),
		})
	}
}

// StatusHandler serves the acquisition and subscription summary.
func StatusHandler(fd sidloc.FrontDoor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		writeJSON(w, http.StatusOK, fd.Status())
	}
}

// RecordHandler triggers an SDR enable request (the "record SDR samples" action).
func RecordHandler(fd sidloc.FrontDoor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		if err := fd.RecordSDRData(r.Context()); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
	}
}

// FetchHandler starts (enable=true, the default) or stops fetching supervisor parameters.
func FetchHandler(fd sidloc.FrontDoor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		enable := true
		if v := r.URL.Query().Get("enable"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			enable = b
		}
		var err error
		if enable {
			err = fd.StartFetchingData(r.Context())
		} else {
			err = fd.StopFetchingData(r.Context())
		}
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"state": fd.SubscriptionState().String()})
	}
}

// CloseHandler runs a user requested close.
func CloseHandler(fd sidloc.FrontDoor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": fd.OnClose(true)})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sidloc.ErrEmptyList):
		return http.StatusConflict
	case errors.Is(err, sidloc.ErrTransportFailure), errors.Is(err, sidloc.ErrRemoteToggleFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	writeCORS(w)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}
