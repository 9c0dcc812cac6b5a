// Package gce wraps the Compute Engine instance calls the worker and the
// dispatcher need.
package gce

import (
	"context"
	"fmt"
	"sort"

	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

// InstanceRef names one VM.
type InstanceRef struct {
	Project string
	Zone    string
	Name    string
}

func (r InstanceRef) String() string {
	return fmt.Sprintf("projects/%s/zones/%s/instances/%s", r.Project, r.Zone, r.Name)
}

type Instances struct {
	svc *compute.InstancesService
}

func NewInstances(ctx context.Context, opts ...option.ClientOption) (*Instances, error) {
	svc, err := compute.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create compute service: %w", err)
	}
	return &Instances{svc: svc.Instances}, nil
}

// SetMetadata replaces the given keys on the instance, keeping every other
// item, guarded by the current metadata fingerprint.
func (i *Instances) SetMetadata(ctx context.Context, ref InstanceRef, items map[string]string) error {
	inst, err := i.svc.Get(ref.Project, ref.Zone, ref.Name).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get instance %s: %w", ref, err)
	}

	md := &compute.Metadata{}
	if inst.Metadata != nil {
		md.Fingerprint = inst.Metadata.Fingerprint
		for _, it := range inst.Metadata.Items {
			if it == nil {
				continue
			}
			if _, replaced := items[it.Key]; replaced {
				continue
			}
			md.Items = append(md.Items, it)
		}
	}
	for _, k := range sortedKeys(items) {
		v := items[k]
		md.Items = append(md.Items, &compute.MetadataItems{Key: k, Value: &v})
	}

	if _, err := i.svc.SetMetadata(ref.Project, ref.Zone, ref.Name, md).Context(ctx).Do(); err != nil {
		return fmt.Errorf("set metadata on %s: %w", ref, err)
	}
	return nil
}

func (i *Instances) Start(ctx context.Context, ref InstanceRef) error {
	if _, err := i.svc.Start(ref.Project, ref.Zone, ref.Name).Context(ctx).Do(); err != nil {
		return fmt.Errorf("start %s: %w", ref, err)
	}
	return nil
}

func (i *Instances) Stop(ctx context.Context, ref InstanceRef) error {
	if _, err := i.svc.Stop(ref.Project, ref.Zone, ref.Name).Context(ctx).Do(); err != nil {
		return fmt.Errorf("stop %s: %w", ref, err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
