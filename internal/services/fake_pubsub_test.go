package services

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/znsio/pubsub-relay-go/internal/models"
)

// fakePubsub is a minimal in-memory REST Pub/Sub with one topic feeding one
// subscription.
type fakePubsub struct {
	mu          sync.Mutex
	nextID      int
	publishReqs int
	pending     []models.ReceivedMessage
	outstanding map[string]models.ReceivedMessage
	acked       []string
	nacked      []string
	failPublish int
	// failPublish applies only once this many publish requests succeeded.
	failPublishAfter int
	failPull         int
	paths            []string
	published        map[string]int
}

func newFakePubsub(t *testing.T) (*fakePubsub, *httptest.Server) {
	f := &fakePubsub{outstanding: make(map[string]models.ReceivedMessage), published: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakePubsub) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, r.URL.Path)

	switch {
	case strings.HasSuffix(r.URL.Path, ":publish"):
		if f.failPublish > 0 && f.publishReqs >= f.failPublishAfter {
			f.failPublish--
			http.Error(w, `{"error":{"code":503}}`, http.StatusServiceUnavailable)
			return
		}
		var req models.PublishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.publishReqs++
		var ids []string
		for _, m := range req.Messages {
			f.nextID++
			id := strconv.Itoa(f.nextID)
			m.MessageID = id
			f.published[m.Data]++
			m.PublishTime = time.Now().UTC().Format(time.RFC3339Nano)
			f.pending = append(f.pending, models.ReceivedMessage{AckID: "ack-" + id, Message: m})
			ids = append(ids, id)
		}
		json.NewEncoder(w).Encode(models.PublishResponse{MessageIDs: ids})

	case strings.HasSuffix(r.URL.Path, ":pull"):
		if f.failPull > 0 {
			f.failPull--
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		var req models.PullRequest
		json.NewDecoder(r.Body).Decode(&req)
		n := req.MaxMessages
		if n > len(f.pending) {
			n = len(f.pending)
		}
		batch := f.pending[:n]
		f.pending = append([]models.ReceivedMessage(nil), f.pending[n:]...)
		for _, rm := range batch {
			f.outstanding[rm.AckID] = rm
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"receivedMessages": batch})

	case strings.HasSuffix(r.URL.Path, ":acknowledge"):
		var req models.AcknowledgeRequest
		json.NewDecoder(r.Body).Decode(&req)
		for _, id := range req.AckIDs {
			delete(f.outstanding, id)
		}
		f.acked = append(f.acked, req.AckIDs...)
		w.Write([]byte("{}"))

	case strings.HasSuffix(r.URL.Path, ":modifyAckDeadline"):
		var req models.ModifyAckDeadlineRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.AckDeadlineSeconds == 0 {
			for _, id := range req.AckIDs {
				if rm, ok := f.outstanding[id]; ok {
					delete(f.outstanding, id)
					f.pending = append(f.pending, rm)
				}
			}
			f.nacked = append(f.nacked, req.AckIDs...)
		}
		w.Write([]byte("{}"))

	default:
		http.NotFound(w, r)
	}
}

func (f *fakePubsub) enqueue(rm models.ReceivedMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, rm)
}

func (f *fakePubsub) snapshot() (pending int, publishReqs int, acked, nacked []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending), f.publishReqs, append([]string(nil), f.acked...), append([]string(nil), f.nacked...)
}

// publishCounts returns how many times each decoded payload was published.
func (f *fakePubsub) publishCounts() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.published))
	for data, n := range f.published {
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			decoded = []byte(data)
		}
		out[string(decoded)] += n
	}
	return out
}

func (f *fakePubsub) requestPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}
