package media

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lumostream/socialcore/internal/bus"
	"github.com/lumostream/socialcore/internal/bus/inmemory"
	"github.com/lumostream/socialcore/internal/events"
)

type fakeMetadata struct {
	assets map[string]Asset
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{assets: make(map[string]Asset)}
}

func (f *fakeMetadata) Save(_ context.Context, a *Asset) error {
	f.assets[a.ID] = *a

	return nil
}

func (f *fakeMetadata) FindByIDs(_ context.Context, ids []string) ([]Asset, error) {
	var out []Asset

	for _, id := range ids {
		if a, ok := f.assets[id]; ok {
			out = append(out, a)
		}
	}

	return out, nil
}

func (f *fakeMetadata) Delete(_ context.Context, id string) error {
	delete(f.assets, id)

	return nil
}

type fakeObjects struct {
	data     map[string][]byte
	failures int
	removed  []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{data: make(map[string][]byte)}
}

func (f *fakeObjects) Put(_ context.Context, key, _ string, body []byte) (string, error) {
	f.data[key] = body

	return "https://cdn.test/" + key, nil
}

func (f *fakeObjects) Remove(_ context.Context, key string) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("storage unavailable")
	}

	delete(f.data, key)
	f.removed = append(f.removed, key)

	return nil
}

func newTestCleanup(t *testing.T) (*fakeMetadata, *fakeObjects, *inmemory.Broker) {
	t.Helper()

	meta := newFakeMetadata()
	objects := newFakeObjects()
	broker := inmemory.New(bus.Options{MaxRetries: 2})
	t.Cleanup(func() { _ = broker.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := NewConsumer(meta, objects, log)
	if err := c.Subscribe(context.Background(), broker); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	return meta, objects, broker
}

func seedAsset(meta *fakeMetadata, objects *fakeObjects, id string) {
	key := "obj-" + id
	objects.data[key] = []byte("bytes")
	meta.assets[id] = Asset{
		ID:        id,
		PublicID:  key,
		UserID:    "u1",
		CreatedAt: time.Now().UTC(),
	}
}

func TestConsumer_RemovesReferencedAssets(t *testing.T) {
	meta, objects, broker := newTestCleanup(t)

	seedAsset(meta, objects, "m1")
	seedAsset(meta, objects, "m2")
	seedAsset(meta, objects, "keep")

	e := events.PostDeleted{PostID: "p1", UserID: "u1", MediaIDs: []string{"m1", "m2"}}
	if err := broker.Publish(context.Background(), e.Topic(), e); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(meta.assets) != 1 {
		t.Fatalf("assets = %+v, want only the unreferenced one", meta.assets)
	}

	if _, ok := meta.assets["keep"]; !ok {
		t.Fatal("unreferenced asset must survive")
	}

	if len(objects.data) != 1 {
		t.Fatalf("objects = %d, want 1", len(objects.data))
	}
}

func TestConsumer_MissingMetadataIsSkipped(t *testing.T) {
	meta, objects, broker := newTestCleanup(t)

	seedAsset(meta, objects, "m1")

	e := events.PostDeleted{PostID: "p1", UserID: "u1", MediaIDs: []string{"m1", "gone"}}
	if err := broker.Publish(context.Background(), e.Topic(), e); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(meta.assets) != 0 {
		t.Fatalf("assets = %+v, want empty", meta.assets)
	}

	if len(broker.DeadLetters()) != 0 {
		t.Fatalf("dead letters = %+v, want none", broker.DeadLetters())
	}
}

func TestConsumer_NoMediaIsNoOp(t *testing.T) {
	_, objects, broker := newTestCleanup(t)

	e := events.PostDeleted{PostID: "p1", UserID: "u1"}
	if err := broker.Publish(context.Background(), e.Topic(), e); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(objects.removed) != 0 {
		t.Fatalf("removed = %v, want none", objects.removed)
	}
}

func TestConsumer_StorageOutageRetries(t *testing.T) {
	meta, objects, broker := newTestCleanup(t)

	seedAsset(meta, objects, "m1")
	objects.failures = 1

	e := events.PostDeleted{PostID: "p1", UserID: "u1", MediaIDs: []string{"m1"}}
	if err := broker.Publish(context.Background(), e.Topic(), e); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if len(meta.assets) != 0 {
		t.Fatal("cleanup must complete on retry")
	}

	if len(broker.DeadLetters()) != 0 {
		t.Fatalf("dead letters = %+v, want none", broker.DeadLetters())
	}
}

func TestConsumer_DuplicateDeliveryConverges(t *testing.T) {
	meta, objects, broker := newTestCleanup(t)

	seedAsset(meta, objects, "m1")

	e := events.PostDeleted{PostID: "p1", UserID: "u1", MediaIDs: []string{"m1"}}
	for i := 0; i < 2; i++ {
		if err := broker.Publish(context.Background(), e.Topic(), e); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if len(meta.assets) != 0 || len(objects.data) != 0 {
		t.Fatalf("assets = %+v objects = %+v, want both empty", meta.assets, objects.data)
	}
}

func TestService_SaveStoresObjectAndMetadata(t *testing.T) {
	meta := newFakeMetadata()
	objects := newFakeObjects()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewService(meta, objects, log)

	a, err := svc.Save(context.Background(), "u1", "pic.png", "image/png", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if a.PublicID == "" || a.URL != "https://cdn.test/"+a.PublicID {
		t.Fatalf("asset = %+v", a)
	}

	if _, ok := objects.data[a.PublicID]; !ok {
		t.Fatal("object body not stored")
	}

	if _, ok := meta.assets[a.ID]; !ok {
		t.Fatal("metadata not stored")
	}
}

func TestService_SaveRejectsEmptyBody(t *testing.T) {
	svc := NewService(newFakeMetadata(), newFakeObjects(),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := svc.Save(context.Background(), "u1", "pic.png", "image/png", nil); err == nil {
		t.Fatal("want error for empty body")
	}
}
