package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/campus-rides/internal/gateway"
	"github.com/example/campus-rides/internal/lifecycle"
	"github.com/example/campus-rides/internal/models"
)

func newTestServer(t *testing.T) (*Server, *gateway.MemoryGateway) {
	t.Helper()
	gw := gateway.NewMemoryGateway()
	s := NewServer(Options{
		Gateway:      gw,
		PollInterval: 20 * time.Millisecond,
	})
	t.Cleanup(s.Close)
	return s, gw
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func decodeState(t *testing.T, w *httptest.ResponseRecorder) stateResponse {
	t.Helper()
	var resp stateResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return resp
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestUnauthenticatedRequestWritesNothing(t *testing.T) {
	s, gw := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/rider/request", "", rideRequest{
		PickupName:  "Main Gate",
		Pickup:      models.Coord{Lat: 28.6139, Lon: 77.2090},
		DropoffName: "Library",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Sign in required") {
		t.Fatalf("expected auth toast in body, got %s", w.Body.String())
	}
	if gw.RideCount() != 0 {
		t.Fatalf("expected no durable record, got %d", gw.RideCount())
	}
}

func TestUnknownTokenRejected(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/rider/state", "bogus", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestRiderRequestAndState(t *testing.T) {
	s, gw := newTestServer(t)
	gw.RegisterSession("tok-r1", models.Identity{ID: "r1"})

	w := doJSON(t, s, http.MethodPost, "/api/rider/request", "tok-r1", rideRequest{
		PickupName:  "Main Gate",
		Pickup:      models.Coord{Lat: 28.6139, Lon: 77.2090},
		DropoffName: "Library",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var ride models.Ride
	if err := json.NewDecoder(w.Body).Decode(&ride); err != nil {
		t.Fatalf("decode ride: %v", err)
	}
	if ride.Status != models.StatusPending || ride.EstimatedFare < 20 {
		t.Fatalf("unexpected ride %+v", ride)
	}
	stored, ok := gw.Ride(ride.ID)
	if !ok || stored.Status != models.StatusPending {
		t.Fatalf("expected stored pending ride, got %+v ok=%v", stored, ok)
	}

	st := decodeState(t, doJSON(t, s, http.MethodGet, "/api/rider/state", "tok-r1", nil))
	if st.State != lifecycle.StateSearching {
		t.Fatalf("expected searching, got %s", st.State)
	}
	if len(st.Toasts) == 0 {
		t.Fatalf("expected a toast after requesting")
	}
}

func TestRiderRequestMissingLocation(t *testing.T) {
	s, gw := newTestServer(t)
	gw.RegisterSession("tok-r1", models.Identity{ID: "r1"})

	w := doJSON(t, s, http.MethodPost, "/api/rider/request", "tok-r1", rideRequest{
		PickupName: "Main Gate",
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestRiderPickupWrongState(t *testing.T) {
	s, gw := newTestServer(t)
	gw.RegisterSession("tok-r1", models.Identity{ID: "r1"})

	w := doJSON(t, s, http.MethodPost, "/api/rider/pickup", "tok-r1", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestRiderCancel(t *testing.T) {
	s, gw := newTestServer(t)
	gw.RegisterSession("tok-r1", models.Identity{ID: "r1"})

	w := doJSON(t, s, http.MethodPost, "/api/rider/request", "tok-r1", rideRequest{
		PickupName:  "Main Gate",
		Pickup:      models.Coord{Lat: 28.6139, Lon: 77.2090},
		DropoffName: "Library",
	})
	var ride models.Ride
	if err := json.NewDecoder(w.Body).Decode(&ride); err != nil {
		t.Fatalf("decode ride: %v", err)
	}

	w = doJSON(t, s, http.MethodPost, "/api/rider/cancel", "tok-r1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	stored, _ := gw.Ride(ride.ID)
	if stored.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", stored.Status)
	}
}

func TestDriverOnlineSeesPending(t *testing.T) {
	s, gw := newTestServer(t)
	gw.RegisterSession("tok-d1", models.Identity{ID: "d1"})
	rideID, err := gw.CreateRide(context.Background(), &models.Ride{
		RiderID:    "r1",
		PickupName: "Main Gate",
		Pickup:     models.Coord{Lat: 28.6139, Lon: 77.2090},
		Status:     models.StatusPending,
	})
	if err != nil {
		t.Fatalf("seed ride: %v", err)
	}

	w := doJSON(t, s, http.MethodPost, "/api/driver/online", "tok-d1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// the candidate pool fills asynchronously from the first poll
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := decodeState(t, doJSON(t, s, http.MethodGet, "/api/driver/state", "tok-d1", nil))
		if len(st.Candidates) == 1 && st.Candidates[0].ID == rideID {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("candidate never appeared: %+v", st)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDriverAcceptUnknownRide(t *testing.T) {
	s, gw := newTestServer(t)
	gw.RegisterSession("tok-d1", models.Identity{ID: "d1"})

	if w := doJSON(t, s, http.MethodPost, "/api/driver/online", "tok-d1", nil); w.Code != http.StatusOK {
		t.Fatalf("go online: %d", w.Code)
	}
	w := doJSON(t, s, http.MethodPost, "/api/driver/accept", "tok-d1", rideIDRequest{RideID: "nope"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestToastDismiss(t *testing.T) {
	s, gw := newTestServer(t)
	gw.RegisterSession("tok-r1", models.Identity{ID: "r1"})

	// a failed request pushes a toast
	doJSON(t, s, http.MethodPost, "/api/rider/request", "tok-r1", rideRequest{PickupName: "Main Gate"})

	st := decodeState(t, doJSON(t, s, http.MethodGet, "/api/rider/state", "tok-r1", nil))
	if len(st.Toasts) == 0 {
		t.Fatal("expected a toast")
	}
	w := doJSON(t, s, http.MethodPost, "/api/toasts/dismiss", "tok-r1", toastDismissRequest{ID: st.Toasts[0].ID})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var toasts []struct {
		Dismissed bool `json:"dismissed"`
	}
	if err := json.NewDecoder(w.Body).Decode(&toasts); err != nil {
		t.Fatalf("decode toasts: %v", err)
	}
	if len(toasts) == 0 || !toasts[0].Dismissed {
		t.Fatalf("expected dismissed toast, got %+v", toasts)
	}
}

func TestSignOutRevokesSession(t *testing.T) {
	s, gw := newTestServer(t)
	gw.RegisterSession("tok-r1", models.Identity{ID: "r1"})

	if w := doJSON(t, s, http.MethodGet, "/api/rider/state", "tok-r1", nil); w.Code != http.StatusOK {
		t.Fatalf("state before signout: %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodPost, "/api/signout", "tok-r1", nil); w.Code != http.StatusOK {
		t.Fatalf("signout: %d", w.Code)
	}
	if w := doJSON(t, s, http.MethodGet, "/api/rider/state", "tok-r1", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after signout, got %d", w.Code)
	}
}

func TestWebSocketStreamsStateAndToasts(t *testing.T) {
	s, gw := newTestServer(t)
	gw.RegisterSession("tok-r1", models.Identity{ID: "r1"})

	ts := httptest.NewServer(s)
	defer ts.Close()

	// mount the rider machine first so the ws replays its snapshot
	if w := doJSON(t, s, http.MethodGet, "/api/rider/state", "tok-r1", nil); w.Code != http.StatusOK {
		t.Fatalf("mount rider: %d", w.Code)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	hdr := http.Header{"Authorization": []string{"Bearer tok-r1"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer conn.Close()

	seen := map[string]bool{}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 2; i++ {
		var ev wsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read ws event: %v", err)
		}
		seen[ev.Type] = true
	}
	if !seen["state"] || !seen["toasts"] {
		t.Fatalf("expected initial state and toasts frames, got %v", seen)
	}

	// an action pushes a fresh state frame
	if w := doJSON(t, s, http.MethodPost, "/api/rider/request", "tok-r1", rideRequest{
		PickupName:  "Main Gate",
		Pickup:      models.Coord{Lat: 28.6139, Lon: 77.2090},
		DropoffName: "Library",
	}); w.Code != http.StatusCreated {
		t.Fatalf("request ride: %d", w.Code)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var ev wsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read pushed event: %v", err)
		}
		if ev.Type == "state" && ev.Snapshot != nil && ev.Snapshot.State == lifecycle.StateSearching {
			return
		}
	}
}

func TestWebSocketRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 handshake, got %+v", resp)
	}
}
