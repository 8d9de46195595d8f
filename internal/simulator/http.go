package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kilianp07/fleetpulse/core/model"
)

// HTTPSender posts updates to the locations endpoint of the API.
type HTTPSender struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSender targets the API served at baseURL.
func NewHTTPSender(baseURL string) *HTTPSender {
	return &HTTPSender{BaseURL: strings.TrimRight(baseURL, "/"), Client: &http.Client{Timeout: 10 * time.Second}}
}

func (h *HTTPSender) Send(ctx context.Context, updates []model.LocationUpdate) error {
	return h.do(ctx, http.MethodPost, "/api/v1/locations", updates, http.StatusAccepted)
}

func (h *HTTPSender) SendProfile(ctx context.Context, c model.VehicleCandidate) error {
	return h.do(ctx, http.MethodPut, "/api/v1/vehicles/"+url.PathEscape(c.ID)+"/profile", c, http.StatusNoContent)
}

func (h *HTTPSender) do(ctx context.Context, method, path string, body any, want int) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, h.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
