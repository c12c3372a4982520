package rank_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/visual/ranking-engine/internal/model"
	"github.com/visual/ranking-engine/internal/rank"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial failed: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	return conn
}

func TestWSHub_BroadcastsFinalizedRuns(t *testing.T) {
	h := rank.NewWSHub()
	go h.Run()

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()

	// A second client that goes away immediately: broadcasting must drop
	// it and keep delivering to the live one.
	dead := dialHub(t, srv)
	dead.Close()

	res := &model.RunResult{
		Day:       "2026-03-14",
		State:     model.PoolDistributed,
		PoolCents: 5000,
		TopTier:   make([]model.TopTierPayout, 2),
		Winners:   make([]model.WinnerPayout, 3),
	}

	received := make(chan rank.WSMessage, 1)
	go func() {
		var msg rank.WSMessage
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err == nil {
			received <- msg
		}
	}()

	// Registration happens on the hub goroutine; rebroadcast until the
	// client sees a message.
	deadline := time.After(5 * time.Second)
	for {
		h.RunFinalized(res)
		select {
		case msg := <-received:
			if msg.Type != "run_finalized" {
				t.Errorf("expected type=run_finalized, got %s", msg.Type)
			}
			if msg.Day != "2026-03-14" {
				t.Errorf("expected day=2026-03-14, got %s", msg.Day)
			}
			if msg.PoolCents != 5000 || msg.PoolEUR != "50.00" {
				t.Errorf("unexpected pool: %d / %s", msg.PoolCents, msg.PoolEUR)
			}
			if msg.TopTierCount != 2 || msg.WinnerCount != 3 {
				t.Errorf("unexpected counts: %d / %d", msg.TopTierCount, msg.WinnerCount)
			}
			return
		case <-deadline:
			t.Fatal("broadcast never reached the client")
		case <-time.After(20 * time.Millisecond):
			// retry
		}
	}
}

func TestWSHub_DryRunsNotBroadcast(t *testing.T) {
	h := rank.NewWSHub()
	go h.Run()

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()

	h.RunFinalized(&model.RunResult{Day: "2026-03-14", DryRun: true, PoolCents: 5000})

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var msg rank.WSMessage
	if err := conn.ReadJSON(&msg); err == nil {
		t.Errorf("dry run must not broadcast, got %+v", msg)
	}
}
