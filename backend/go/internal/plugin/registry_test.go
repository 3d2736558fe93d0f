package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"Chimp/backend/go/pkg/logger"
)

func init() {
	logger.SetOutput(io.Discard)
}

type fakeUnit struct {
	desc      Descriptor
	serialize bool
	running   int32
	mu        sync.Mutex
	maxSeen   int
}

func (f *fakeUnit) Describe() Descriptor { return f.desc }

func (f *fakeUnit) Execute(ctx context.Context, ec *ExecutionContext, args map[string]string) (interface{}, error) {
	f.mu.Lock()
	f.running++
	if int(f.running) > f.maxSeen {
		f.maxSeen = int(f.running)
	}
	f.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	f.mu.Lock()
	f.running--
	f.mu.Unlock()
	return args["v"], nil
}

func (f *fakeUnit) SerializeExecutions() bool { return f.serialize }

func unitFactory(u *fakeUnit) Factory {
	return func() (WorkUnit, error) { return u, nil }
}

func named(name string) *fakeUnit {
	return &fakeUnit{desc: Descriptor{Name: name, Version: "1.0"}}
}

func TestLoadAllSkipsBrokenFactories(t *testing.T) {
	factories := []Factory{
		unitFactory(named("A")),
		func() (WorkUnit, error) { return nil, errors.New("boom") },
		func() (WorkUnit, error) { panic("kaboom") },
		unitFactory(&fakeUnit{desc: Descriptor{Name: ""}}),
		unitFactory(&fakeUnit{desc: Descriptor{Name: "Dup", Arguments: []Argument{{Key: "x"}, {Key: "x"}}}}),
		unitFactory(named("B")),
	}
	r, err := NewRegistry(factories, nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if n := r.LoadAll(); n != 2 {
		t.Fatalf("LoadAll loaded %d units, want 2", n)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("Names = %v", got)
	}
}

func TestLoadAllIsIdempotent(t *testing.T) {
	r, _ := NewRegistry([]Factory{unitFactory(named("A")), unitFactory(named("B"))}, nil, nil)
	r.LoadAll()
	first := r.Names()
	r.LoadAll()
	if second := r.Names(); !reflect.DeepEqual(first, second) {
		t.Errorf("names changed between loads: %v vs %v", first, second)
	}
}

func TestLastRegistrationWins(t *testing.T) {
	first := named("Same")
	second := named("Same")
	second.desc.Version = "2.0"
	r, _ := NewRegistry([]Factory{unitFactory(first), unitFactory(second)}, nil, nil)
	r.LoadAll()

	e, ok := r.Get("Same")
	if !ok {
		t.Fatalf("expected Same to be registered")
	}
	if e.Descriptor.Version != "2.0" {
		t.Errorf("version = %s, want the later registration", e.Descriptor.Version)
	}
	if len(r.Names()) != 1 {
		t.Errorf("duplicate names listed: %v", r.Names())
	}
}

func TestGetUnknownReturnsFalse(t *testing.T) {
	r, _ := NewRegistry(nil, nil, nil)
	r.LoadAll()
	if _, ok := r.Get("nothing"); ok {
		t.Errorf("Get on unknown name reported found")
	}
}

func TestEnabledFilters(t *testing.T) {
	r, err := NewRegistry([]Factory{
		unitFactory(named("Example Plugin")),
		unitFactory(named("Example 2 Plugin")),
		unitFactory(named("Linear Regression")),
	}, []string{"Example*"}, nil)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	r.LoadAll()
	want := []string{"Example Plugin", "Example 2 Plugin"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names = %v, want %v", got, want)
	}

	if _, err := NewRegistry(nil, []string{"[unclosed"}, nil); err == nil {
		t.Errorf("expected an error for an invalid glob")
	}
}

func TestListDetails(t *testing.T) {
	u := &fakeUnit{desc: Descriptor{
		Name:    "Example 2 Plugin",
		Version: "1.0",
		Arguments: []Argument{
			{Key: "start_value", Name: "Start value", Type: "int", Description: "first"},
			{Key: "alpha", Name: "Alpha", Type: "float", Description: "second", Optional: true},
		},
		Datasets: []Dataset{{Key: "dataset", Name: "Dataset", Description: "input"}},
	}}
	r, _ := NewRegistry([]Factory{unitFactory(u)}, nil, nil)
	r.LoadAll()

	names := r.List(false)
	if len(names) != 1 || names[0] != "Example 2 Plugin" {
		t.Fatalf("List(false) = %v", names)
	}

	data, err := json.Marshal(r.List(true))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	want := `[{"name":"Example 2 Plugin","version":"1.0","description":"",` +
		`"arguments":{"start_value":{"name":"Start value","type":"int","description":"first"},` +
		`"alpha":{"name":"Alpha","type":"float","description":"second","optional":true}},` +
		`"datasets":{"dataset":{"name":"Dataset","description":"input"}},"model_return_type":null}]`
	if string(data) != want {
		t.Errorf("details JSON =\n%s\nwant\n%s", data, want)
	}
}

func TestSerializedUnitsRunOneAtATime(t *testing.T) {
	u := named("Serial")
	u.serialize = true
	r, _ := NewRegistry([]Factory{unitFactory(u)}, nil, nil)
	r.LoadAll()
	e, _ := r.Get("Serial")
	if !e.Serialized() {
		t.Fatalf("entry not marked serialized")
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Execute(context.Background(), &ExecutionContext{}, nil)
		}()
	}
	wg.Wait()
	if u.maxSeen != 1 {
		t.Errorf("observed %d concurrent executions, want 1", u.maxSeen)
	}
}

func TestConcurrentGetDuringReload(t *testing.T) {
	r, _ := NewRegistry([]Factory{unitFactory(named("A"))}, nil, nil)
	r.LoadAll()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				if _, ok := r.Get("A"); !ok {
					t.Errorf("A disappeared during reload")
					return
				}
			}
		}
	}()
	for i := 0; i < 50; i++ {
		r.LoadAll()
	}
	close(stop)
	wg.Wait()
}

func TestDescriptorRejectsUnsafeDatasetKeys(t *testing.T) {
	for _, key := range []string{"..", ".", "a/b", `a\b`} {
		d := Descriptor{Name: "Unit", Datasets: []Dataset{{Key: key}}}
		if err := d.Validate(); err == nil {
			t.Errorf("dataset key %q accepted", key)
		}
	}
	d := Descriptor{Name: "Unit", Datasets: []Dataset{{Key: "a b"}, {Key: "a-b"}, {Key: "optional_ds"}}}
	if err := d.Validate(); err != nil {
		t.Errorf("distinct safe keys rejected: %v", err)
	}
}
