package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opssat/sidloc"
)

// Well known service names published by the central directory.
const (
	ServicePlatform   = "platform"
	ServiceSupervisor = "supervisor"
)

// DirectoryAdapter looks up service URIs in the central directory of the
// NMF provider.
type DirectoryAdapter struct {
	baseURL string
	client  *http.Client
	auth    sidloc.AuthStrategy
}

type directoryResponse struct {
	Services []struct {
		Name string `json:"name"`
		URI  string `json:"uri"`
	} `json:"services"`
}

func NewDirectoryAdapter(baseURL string, auth sidloc.AuthStrategy) *DirectoryAdapter {
	return &DirectoryAdapter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
		auth:    auth,
	}
}

// PollOnce fetches the current service listing.
func (d *DirectoryAdapter) PollOnce(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/api/services", nil)
	if err != nil {
		return nil, err
	}
	if d.auth != nil {
		if v, e := d.auth.AuthorizationValue(); e == nil && v != "" {
			req.Header.Set("Authorization", v)
		}
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sidloc.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading directory listing: %v", sidloc.ErrBackendUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, sidloc.ErrServiceNotFound
	case resp.StatusCode >= 500:
		return nil, sidloc.ErrBackendUnavailable
	default:
		return nil, errors.New(resp.Status)
	}
	var parsed directoryResponse
	if err := json.Unmarshal(b, &parsed); err != nil {
		return nil, fmt.Errorf("unexpected directory format: %w", err)
	}
	services := make(map[string]string, len(parsed.Services))
	for _, s := range parsed.Services {
		if s.Name != "" && s.URI != "" {
			services[s.Name] = s.URI
		}
	}
	return services, nil
}

// ResolveURIs fills empty ProviderURI / SupervisorURI of opts from the directory.
func ResolveURIs(ctx context.Context, opts *sidloc.Options) error {
	if opts.ProviderURI != "" && opts.SupervisorURI != "" {
		return nil
	}
	if opts.DirectoryURL == "" {
		return fmt.Errorf("%w: no service URIs and no directory configured", sidloc.ErrServiceNotFound)
	}
	d := NewDirectoryAdapter(opts.DirectoryURL, opts.Auth)
	services, err := d.PollOnce(ctx)
	if err != nil {
		return err
	}
	if opts.ProviderURI == "" {
		if opts.ProviderURI = services[ServicePlatform]; opts.ProviderURI == "" {
			return fmt.Errorf("%w: %s", sidloc.ErrServiceNotFound, ServicePlatform)
		}
	}
	if opts.SupervisorURI == "" {
		if opts.SupervisorURI = services[ServiceSupervisor]; opts.SupervisorURI == "" {
			return fmt.Errorf("%w: %s", sidloc.ErrServiceNotFound, ServiceSupervisor)
		}
	}
	return nil
}
