package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/pmhub/hubsync/internal/hub"
)

// RemoteClient is the client core's view of the authoritative store: one
// document read, one full-replacement write, one snapshot stream.
type RemoteClient interface {
	LoadState(ctx context.Context) (*hub.StateDocument, error)
	SaveState(ctx context.Context, doc *hub.StateDocument) error
	WatchState(ctx context.Context) (<-chan *hub.StateDocument, error)
}

type HTTPRemoteOptions struct {
	BaseURL string
	HubID   string
	Token   string
	// HTTPClient defaults to a client with a 15s timeout.
	HTTPClient *http.Client
	Logger     Logger
}

// HTTPRemote talks to hubsyncd: JSON over HTTP for reads and writes, a
// WebSocket for the snapshot stream.
type HTTPRemote struct {
	baseURL    string
	hubID      string
	token      string
	httpClient *http.Client
	logger     Logger
}

func NewHTTPRemote(opts HTTPRemoteOptions) (*HTTPRemote, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", hub.ErrInvalidInput)
	}
	hubID := strings.TrimSpace(opts.HubID)
	if hubID == "" {
		hubID = "main"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPRemote{
		baseURL:    baseURL,
		hubID:      hubID,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

func (r *HTTPRemote) stateURL() string {
	return r.baseURL + "/v1/hubs/" + r.hubID + "/state"
}

func (r *HTTPRemote) watchURL() string {
	url := r.baseURL + "/v1/hubs/" + r.hubID + "/watch"
	if strings.HasPrefix(url, "https://") {
		url = "wss://" + strings.TrimPrefix(url, "https://")
	} else if strings.HasPrefix(url, "http://") {
		url = "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (r *HTTPRemote) decorate(req *http.Request) {
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	req.Header.Set("X-Correlation-Id", uuid.NewString())
}

func (r *HTTPRemote) LoadState(ctx context.Context) (*hub.StateDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.stateURL(), nil)
	if err != nil {
		return nil, err
	}
	r.decorate(req)
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hub.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var doc hub.StateDocument
		if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
			return nil, fmt.Errorf("%w: decode state: %v", hub.ErrStoreUnavailable, err)
		}
		return &doc, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, hub.ErrDocumentMissing
	default:
		return nil, fmt.Errorf("%w: state read returned %d", hub.ErrStoreUnavailable, resp.StatusCode)
	}
}

func (r *HTTPRemote) SaveState(ctx context.Context, doc *hub.StateDocument) error {
	if doc == nil {
		return hub.ErrInvalidInput
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", hub.ErrWriteFailed, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.stateURL(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	r.decorate(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", hub.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return nil
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", hub.ErrVersionConflict, readErrorMessage(resp.Body))
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return fmt.Errorf("%w: %s", hub.ErrInvalidInput, readErrorMessage(resp.Body))
	default:
		return fmt.Errorf("%w: state write returned %d", hub.ErrWriteFailed, resp.StatusCode)
	}
}

// WatchState dials the snapshot stream. The returned channel closes when ctx
// ends or the connection drops; reconnecting is the caller's choice.
func (r *HTTPRemote) WatchState(ctx context.Context) (<-chan *hub.StateDocument, error) {
	header := http.Header{}
	if r.token != "" {
		header.Set("Authorization", "Bearer "+r.token)
	}
	conn, _, err := websocket.Dial(ctx, r.watchURL(), &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", hub.ErrStoreUnavailable, err)
	}

	out := make(chan *hub.StateDocument, 8)
	go func() {
		defer close(out)
		defer conn.Close(websocket.StatusNormalClosure, "watch ended")
		for {
			var doc hub.StateDocument
			if err := wsjson.Read(ctx, conn, &doc); err != nil {
				if ctx.Err() == nil {
					r.logf("state watch closed: %v", err)
				}
				return
			}
			select {
			case out <- &doc:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (r *HTTPRemote) logf(format string, args ...any) {
	if r.logger == nil {
		return
	}
	r.logger.Printf(format, args...)
}

func readErrorMessage(body io.Reader) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(body).Decode(&payload); err != nil || payload.Message == "" {
		return "request rejected"
	}
	return payload.Message
}
