package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/sirupsen/logrus"
	"github.com/xssnick/tonutils-go/address"

	"github.com/toncenter/jetton-lockup/models"
	"github.com/toncenter/jetton-lockup/msgs"
)

type recorder struct {
	mu     sync.Mutex
	frames [][]byte
	got    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) send(b []byte) error {
	r.mu.Lock()
	r.frames = append(r.frames, append([]byte(nil), b...))
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func (r *recorder) records(t *testing.T) []models.ClaimRecord {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	res := []models.ClaimRecord{}
	for _, f := range r.frames {
		var rec models.ClaimRecord
		if err := json.Unmarshal(f, &rec); err != nil {
			t.Fatalf("unmarshal %s: %v", f, err)
		}
		res = append(res, rec)
	}
	return res
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newClient(id string, send func([]byte) error) *streamClient {
	return &streamClient{id: id, lockups: mapset.NewSet[string](), send: send}
}

func TestHubFrames(t *testing.T) {
	hub := NewHub(quietLogger())
	c := newClient("c1", func([]byte) error { return nil })
	lk := testAddr(10).String()
	id := "req-1"

	frame := func(req models.StreamRequest) []byte {
		data, _ := json.Marshal(req)
		return data
	}

	st := hub.handleFrame(c, frame(models.StreamRequest{ID: &id, Operation: models.OpPing}))
	if st.Status != "pong" || st.ID == nil || *st.ID != id {
		t.Errorf("unexpected ping reply: %+v", st)
	}

	st = hub.handleFrame(c, frame(models.StreamRequest{Operation: models.OpSubscribe, Lockups: []string{testAddr(10).StringRaw()}}))
	if st.Status != "subscribed" || !c.lockups.Contains(lk) {
		t.Errorf("subscribe by raw address failed: %+v, %v", st, c.lockups)
	}

	st = hub.handleFrame(c, frame(models.StreamRequest{Operation: models.OpSubscribe, Lockups: []string{"bad"}}))
	if st.Error == "" {
		t.Errorf("expected error for bad address")
	}

	st = hub.handleFrame(c, frame(models.StreamRequest{Operation: models.OpUnsubscribe, Lockups: []string{lk}}))
	if st.Status != "unsubscribed" || c.lockups.Cardinality() != 0 {
		t.Errorf("unsubscribe failed: %+v, %v", st, c.lockups)
	}

	st = hub.handleFrame(c, frame(models.StreamRequest{Operation: "dance"}))
	if st.Error == "" {
		t.Errorf("expected error for unknown operation")
	}

	st = hub.handleFrame(c, []byte("{"))
	if st.Error == "" {
		t.Errorf("expected error for malformed frame")
	}
}

func TestHubSubscriptionLimit(t *testing.T) {
	hub := NewHub(quietLogger())
	c := newClient("c1", func([]byte) error { return nil })

	lockups := []string{}
	for i := 0; i <= maxStreamLockups; i++ {
		data := make([]byte, 32)
		data[0], data[1] = byte(i>>8), byte(i)
		lockups = append(lockups, address.NewAddress(0, 0, data).String())
	}
	data, _ := json.Marshal(models.StreamRequest{Operation: models.OpSubscribe, Lockups: lockups})
	st := hub.handleFrame(c, data)
	if st.Error == "" {
		t.Fatalf("expected subscription limit error")
	}
	if c.lockups.Cardinality() != 0 {
		t.Errorf("rejected subscribe must not change the set, got %d", c.lockups.Cardinality())
	}
}

func TestHubBroadcastFilters(t *testing.T) {
	hub := NewHub(quietLogger())
	a, b := newRecorder(), newRecorder()
	ca, cb := newClient("a", a.send), newClient("b", b.send)
	ca.lockups.Add("L1")
	cb.lockups.Add("L2")
	failing := newClient("f", func([]byte) error { return errors.New("closed") })
	failing.lockups.Add("L1")

	hub.register(ca)
	hub.register(cb)
	hub.register(failing)
	hub.Broadcast("L1", []byte(`{"lockup":"L1"}`))
	hub.unregister(ca)
	hub.Broadcast("L1", []byte(`{"lockup":"L1"}`))

	if len(a.records(t)) != 1 {
		t.Errorf("expected one frame for a, got %d", len(a.records(t)))
	}
	if len(b.records(t)) != 0 {
		t.Errorf("b is not subscribed to L1")
	}
}

func TestDeliveredEventsReachStream(t *testing.T) {
	h, hub, app, _ := setupTestServer(t)
	lk := deploy(t, app)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := h.cache.Events.Subscribe(ctx)
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	go hub.Run(ctx, sub)

	rec := newRecorder()
	client := newClient("ws", rec.send)
	client.lockups.Add(lk)
	hub.register(client)

	status, data := deliver(t, app, models.MessageRequest{
		Lockup: lk,
		Source: admin.String(),
		Value:  "1000000000",
		Body:   initializeBody(t),
	})
	if status != 200 {
		t.Fatalf("initialize: status %d: %s", status, data)
	}
	setClock(h, creationNow+61)
	_, _ = deliver(t, app, models.MessageRequest{
		Lockup: lk,
		Source: claimer.String(),
		Value:  "1000000000",
		Body:   models.EncodeBOC(msgs.ClaimTokens{QueryID: 3}.ToCell()),
	})

	for i := 0; i < 2; i++ {
		select {
		case <-rec.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 2 events, got %d", i)
		}
	}
	got := rec.records(t)
	if got[0].Kind != "initialized" || got[1].Kind != "claimed" || got[1].QueryID != 3 {
		t.Errorf("unexpected stream: %+v", got)
	}
}
