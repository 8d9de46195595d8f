// Package locations accepts vehicle location updates over HTTP.
package locations

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kilianp07/fleetpulse/api/respond"
	"github.com/kilianp07/fleetpulse/core/model"
	"github.com/kilianp07/fleetpulse/core/pipeline"
)

// MaxBody bounds the size of a submitted batch.
const MaxBody = 4 << 20

// Submitter queues an update for processing without blocking.
type Submitter interface {
	Submit(u model.LocationUpdate) error
}

type result struct {
	Accepted int            `json:"accepted"`
	Rejected []rejectedItem `json:"rejected,omitempty"`
}

type rejectedItem struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// NewSubmitHandler returns the handler of POST /api/v1/locations. The body
// is one update or an array of updates. Valid updates are queued even when
// others are rejected; the response is 202 when at least one was accepted.
func NewSubmitHandler(sink Submitter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		updates, err := decode(http.MaxBytesReader(w, r.Body, MaxBody))
		if err != nil {
			respond.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		var res result
		for i, u := range updates {
			if err := sink.Submit(u); err != nil {
				if errors.Is(err, pipeline.ErrClosed) {
					respond.Error(w, http.StatusServiceUnavailable, err.Error())
					return
				}
				res.Rejected = append(res.Rejected, rejectedItem{Index: i, Error: err.Error()})
				continue
			}
			res.Accepted++
		}
		status := http.StatusAccepted
		if res.Accepted == 0 {
			status = http.StatusBadRequest
		}
		respond.JSON(w, status, res)
	})
}

func decode(r io.Reader) ([]model.LocationUpdate, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}
	if body[0] == '[' {
		var us []model.LocationUpdate
		if err := json.Unmarshal(body, &us); err != nil {
			return nil, fmt.Errorf("decode updates: %w", err)
		}
		if len(us) == 0 {
			return nil, errors.New("empty batch")
		}
		return us, nil
	}
	var u model.LocationUpdate
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("decode update: %w", err)
	}
	return []model.LocationUpdate{u}, nil
}
