// internal/metadata/client.go
package metadata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcemeta "cloud.google.com/go/compute/metadata"
)

var (
	ErrMissingParameter = errors.New("missing job parameter")
	ErrInvalidParameter = errors.New("invalid job parameter")
)

// Instance identifies the VM the runner executes on.
type Instance struct {
	ProjectID string
	Zone      string
	Name      string
}

// Client reads job parameters from the instance metadata service. Every
// request carries the Metadata-Flavor header; GCE_METADATA_HOST overrides the
// service address.
type Client struct {
	md   *gcemeta.Client
	keys Keys
}

func NewClient(httpClient *http.Client, keys Keys) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{md: gcemeta.NewClient(httpClient), keys: keys}
}

// JobParameters fetches all four parameters and validates them. The
// credential token is optional; the others must be present.
func (c *Client) JobParameters(ctx context.Context) (JobParameters, error) {
	var p JobParameters
	fields := []struct {
		key      string
		dst      *string
		optional bool
	}{
		{c.keys.InputLocator, &p.InputLocator, false},
		{c.keys.OutputBucket, &p.OutputBucket, false},
		{c.keys.CredentialToken, &p.CredentialToken, true},
		{c.keys.JobID, &p.JobID, false},
	}

	for _, f := range fields {
		v, err := c.attribute(ctx, f.key)
		if err != nil {
			var notDefined gcemeta.NotDefinedError
			if errors.As(err, &notDefined) {
				if f.optional {
					continue
				}
				return JobParameters{}, fmt.Errorf("%w: attribute %s not set", ErrMissingParameter, f.key)
			}
			return JobParameters{}, fmt.Errorf("fetch attribute %s: %w", f.key, err)
		}
		*f.dst = v
	}

	if err := Validate(p); err != nil {
		return JobParameters{}, err
	}
	return p, nil
}

// Instance returns the project, zone and name of the running VM.
func (c *Client) Instance(ctx context.Context) (Instance, error) {
	project, err := c.md.ProjectIDWithContext(ctx)
	if err != nil {
		return Instance{}, fmt.Errorf("fetch project id: %w", err)
	}
	zone, err := c.md.ZoneWithContext(ctx)
	if err != nil {
		return Instance{}, fmt.Errorf("fetch zone: %w", err)
	}
	name, err := c.md.InstanceNameWithContext(ctx)
	if err != nil {
		return Instance{}, fmt.Errorf("fetch instance name: %w", err)
	}
	return Instance{ProjectID: project, Zone: zone, Name: name}, nil
}

func (c *Client) attribute(ctx context.Context, key string) (string, error) {
	v, err := c.md.InstanceAttributeValueWithContext(ctx, key)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(v), nil
}
