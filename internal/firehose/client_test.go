package firehose

import (
	"sync"
	"testing"

	"github.com/bluesky-social/indigo/api/atproto"

	"github.com/oyin-bo/atrepo/internal/models"
	"github.com/oyin-bo/atrepo/internal/repo"
)

// recordingHandler collects every event handed to it, for assertion.
type recordingHandler struct {
	mu     sync.Mutex
	events []models.ATEvent
}

func (r *recordingHandler) handle(e models.ATEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingHandler) collected() []models.ATEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ATEvent, len(r.events))
	copy(out, r.events)
	return out
}

func TestNewClient(t *testing.T) {
	client := NewClient("wss://bsky.network/xrpc/com.atproto.sync.subscribeRepos", repo.Options{})
	if client == nil {
		t.Fatal("NewClient should not return nil")
	}
	filters := client.GetFilters()
	if filters.Repository != "" || filters.Collection != "" {
		t.Errorf("expected empty filters initially, got %+v", filters)
	}
}

func TestUpdateAndGetFilters(t *testing.T) {
	client := NewClient("wss://example.invalid", repo.Options{})

	newFilters := models.FilterOptions{Repository: "did:plc:test123", Collection: "app.bsky.feed.post"}
	client.UpdateFilters(newFilters)

	got := client.GetFilters()
	if got != newFilters {
		t.Errorf("GetFilters() = %+v, want %+v", got, newFilters)
	}
}

func TestConcurrentFilterAccess(t *testing.T) {
	client := NewClient("wss://example.invalid", repo.Options{})
	done := make(chan bool, 2)

	go func() {
		for i := 0; i < 100; i++ {
			client.UpdateFilters(models.FilterOptions{Repository: "did:plc:test", Collection: "app.bsky.feed.post"})
		}
		done <- true
	}()
	go func() {
		for i := 0; i < 100; i++ {
			client.GetFilters()
		}
		done <- true
	}()
	<-done
	<-done

	if got := client.GetFilters().Repository; got != "did:plc:test" {
		t.Errorf("concurrent access left unexpected state: %s", got)
	}
}

func TestSetEventHandler(t *testing.T) {
	client := NewClient("wss://example.invalid", repo.Options{})
	rec := &recordingHandler{}
	client.SetEventHandler(rec.handle)

	if client.handler == nil {
		t.Fatal("expected handler to be set")
	}

	client.handler(models.ATEvent{Did: "did:plc:test123"})

	events := rec.collected()
	if len(events) != 1 || events[0].Did != "did:plc:test123" {
		t.Errorf("handler did not receive expected event, got %+v", events)
	}
}

func TestHandleRepoCommitFiltersByRepository(t *testing.T) {
	client := NewClient("wss://example.invalid", repo.Options{})
	rec := &recordingHandler{}
	client.SetEventHandler(rec.handle)
	client.UpdateFilters(models.FilterOptions{Repository: "did:plc:only-this-one"})

	// A commit whose repo doesn't match the filter must never reach the
	// CAR decoder or the handler.
	client.handleRepoCommit(&atproto.SyncSubscribeRepos_Commit{Repo: "did:plc:someone-else"})

	if len(rec.collected()) != 0 {
		t.Error("expected commit from non-matching repository to be filtered out before decoding")
	}
}
