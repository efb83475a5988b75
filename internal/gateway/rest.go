package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/example/campus-rides/internal/models"
)

// RESTGateway talks to the hosted service's row API. Reads and writes go
// over HTTP with the service key plus the caller's bearer token; the change
// feed arrives over a websocket (realtime.go).
type RESTGateway struct {
	BaseURL string
	APIKey  string
	Token   string
	Client  *http.Client
}

func NewRESTGateway(baseURL, apiKey string) *RESTGateway {
	return &RESTGateway{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// WithToken returns a copy bound to one user's session token. The dashboard
// surface builds one per request so writes carry the acting identity.
func (g *RESTGateway) WithToken(token string) *RESTGateway {
	cp := *g
	cp.Token = token
	return &cp
}

func (g *RESTGateway) Session(ctx context.Context, token string) (models.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/auth/v1/user", nil)
	if err != nil {
		return models.Identity{}, err
	}
	g.setHeaders(req, token)
	resp, err := g.Client.Do(req)
	if err != nil {
		return models.Identity{}, fmt.Errorf("session lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return models.Identity{}, ErrUnauthenticated
	}
	if resp.StatusCode != http.StatusOK {
		return models.Identity{}, fmt.Errorf("session lookup: status %d", resp.StatusCode)
	}
	var id models.Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return models.Identity{}, err
	}
	if id.ID == "" {
		return models.Identity{}, ErrUnauthenticated
	}
	return id, nil
}

func (g *RESTGateway) SignOut(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/auth/v1/logout", nil)
	if err != nil {
		return err
	}
	g.setHeaders(req, token)
	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sign out: status %d", resp.StatusCode)
	}
	return nil
}

func (g *RESTGateway) CreateRide(ctx context.Context, r *models.Ride) (string, error) {
	body, _ := json.Marshal(r)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/rest/v1/rides", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	g.setHeaders(req, g.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	resp, err := g.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create ride: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("create ride: status %d", resp.StatusCode)
	}
	var rows []models.Ride
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("create ride: empty response")
	}
	*r = rows[0]
	return rows[0].ID, nil
}

func (g *RESTGateway) UpdateRide(ctx context.Context, id string, u RideUpdate) error {
	fields := map[string]any{}
	if u.Status != nil {
		fields["status"] = *u.Status
	}
	if u.DriverID != nil {
		fields["driver_id"] = *u.DriverID
	}
	if u.DriverLoc != nil {
		fields["driver_loc"] = *u.DriverLoc
	}
	if len(fields) == 0 {
		return nil
	}
	body, _ := json.Marshal(fields)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		g.BaseURL+"/rest/v1/rides?id=eq."+url.QueryEscape(id), bytes.NewReader(body))
	if err != nil {
		return err
	}
	g.setHeaders(req, g.Token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("update ride %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("update ride %s: status %d", id, resp.StatusCode)
	}
	return nil
}

func (g *RESTGateway) QueryRides(ctx context.Context, q RideQuery) ([]models.Ride, error) {
	v := url.Values{}
	if q.RiderID != "" {
		v.Set("rider_id", "eq."+q.RiderID)
	}
	if q.DriverID != "" {
		v.Set("driver_id", "eq."+q.DriverID)
	}
	if len(q.Statuses) > 0 {
		parts := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			parts[i] = string(s)
		}
		v.Set("status", "in.("+strings.Join(parts, ",")+")")
	}
	v.Set("order", "created_at.desc")
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/rest/v1/rides?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	g.setHeaders(req, g.Token)
	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query rides: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("query rides: status %d", resp.StatusCode)
	}
	var rows []models.Ride
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (g *RESTGateway) Profile(ctx context.Context, id string) (models.Profile, error) {
	u := g.BaseURL + "/rest/v1/profiles?id=eq." + url.QueryEscape(id) + "&limit=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.Profile{}, err
	}
	g.setHeaders(req, g.Token)
	resp, err := g.Client.Do(req)
	if err != nil {
		return models.Profile{}, fmt.Errorf("profile %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return models.Profile{}, fmt.Errorf("profile %s: status %d", id, resp.StatusCode)
	}
	var rows []models.Profile
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return models.Profile{}, err
	}
	if len(rows) == 0 {
		return models.Profile{}, ErrNotFound
	}
	return rows[0], nil
}

func (g *RESTGateway) setHeaders(req *http.Request, token string) {
	req.Header.Set("apikey", g.APIKey)
	if token == "" {
		token = g.APIKey
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
