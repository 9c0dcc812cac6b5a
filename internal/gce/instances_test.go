package gce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	compute "google.golang.org/api/compute/v1"
	"google.golang.org/api/option"
)

type fakeCompute struct {
	mu       sync.Mutex
	instance compute.Instance
	setBody  *compute.Metadata
	actions  []string
}

func (f *fakeCompute) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	const prefix = "/compute/v1/projects/proj/zones/us-east1-b/instances/worker"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	action := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")
	f.actions = append(f.actions, r.Method+" "+action)

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && action == "":
		_ = json.NewEncoder(w).Encode(&f.instance)
	case r.Method == http.MethodPost && action == "setMetadata":
		var md compute.Metadata
		if err := json.NewDecoder(r.Body).Decode(&md); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.setBody = &md
		_ = json.NewEncoder(w).Encode(&compute.Operation{Name: "op-set", Status: "DONE"})
	case r.Method == http.MethodPost && (action == "start" || action == "stop"):
		_ = json.NewEncoder(w).Encode(&compute.Operation{Name: "op-" + action, Status: "RUNNING"})
	default:
		http.Error(w, "unexpected call", http.StatusBadRequest)
	}
}

func newTestInstances(t *testing.T, fake *fakeCompute) *Instances {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	inst, err := NewInstances(context.Background(),
		option.WithEndpoint(srv.URL+"/compute/v1/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewInstances: %v", err)
	}
	return inst
}

var testRef = InstanceRef{Project: "proj", Zone: "us-east1-b", Name: "worker"}

func strPtr(s string) *string { return &s }

func TestSetMetadataMergesItemsWithFingerprint(t *testing.T) {
	fake := &fakeCompute{instance: compute.Instance{
		Name: "worker",
		Metadata: &compute.Metadata{
			Fingerprint: "fp-1",
			Items: []*compute.MetadataItems{
				{Key: "startup-script", Value: strPtr("#!/bin/sh")},
				{Key: "transcription-id", Value: strPtr("old-job")},
			},
		},
	}}
	inst := newTestInstances(t, fake)

	err := inst.SetMetadata(context.Background(), testRef, map[string]string{
		"transcription-id": "new-job",
		"gcs-input-path":   "gs://b/a.mp3",
	})
	if err != nil {
		t.Fatalf("SetMetadata returned error: %v", err)
	}

	if fake.setBody == nil {
		t.Fatal("setMetadata was not called")
	}
	if fake.setBody.Fingerprint != "fp-1" {
		t.Fatalf("fingerprint not forwarded: %q", fake.setBody.Fingerprint)
	}
	got := map[string]string{}
	for _, it := range fake.setBody.Items {
		got[it.Key] = *it.Value
	}
	want := map[string]string{
		"startup-script":   "#!/bin/sh",
		"transcription-id": "new-job",
		"gcs-input-path":   "gs://b/a.mp3",
	}
	if len(got) != len(want) || len(fake.setBody.Items) != len(want) {
		t.Fatalf("unexpected items: %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("item %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestStartAndStop(t *testing.T) {
	fake := &fakeCompute{}
	inst := newTestInstances(t, fake)

	if err := inst.Start(context.Background(), testRef); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := inst.Stop(context.Background(), testRef); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if strings.Join(fake.actions, ",") != "POST start,POST stop" {
		t.Fatalf("unexpected calls: %v", fake.actions)
	}
}

func TestInstanceRefString(t *testing.T) {
	if got := testRef.String(); got != "projects/proj/zones/us-east1-b/instances/worker" {
		t.Fatalf("unexpected ref %s", got)
	}
}
