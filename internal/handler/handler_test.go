package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/fleet-records-go/internal/analysis/behavior"
	"github.com/jengzang/fleet-records-go/internal/analysis/foundation"
	"github.com/jengzang/fleet-records-go/internal/analysis/stats"
	"github.com/jengzang/fleet-records-go/internal/database"
	"github.com/jengzang/fleet-records-go/internal/models"
	"github.com/jengzang/fleet-records-go/internal/repository"
	"github.com/jengzang/fleet-records-go/internal/service"
)

var base = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

type testServer struct {
	router *gin.Engine
	db     *sql.DB
	tasks  *service.AnalysisTaskService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	samples := repository.NewTelemetryRepository(db)
	trips := repository.NewTripRepository(db)
	points := repository.NewRoutePointRepository(db)
	clients := repository.NewClientLocationRepository(db)

	telemetry := service.NewTelemetryService(
		foundation.NewNormalizer(foundation.DefaultNormalizerConfig()),
		behavior.NewStopDetector(behavior.DefaultStopConfig()),
		samples, trips, points)
	geo := service.NewGeocodingService(clients, nil)
	tripSvc := service.NewTripService(trips, points, behavior.NewConsolidator(behavior.DefaultConsolidationConfig()))
	productivity := service.NewProductivityService(
		stats.NewProductivityAggregator(stats.DefaultProductivityConfig(), geo),
		tripSvc, trips, repository.NewProductivityRepository(db), time.Hour)
	tasks := service.NewAnalysisTaskService(repository.NewAnalysisTaskRepository(db), db)
	t.Cleanup(tasks.Shutdown)

	th := NewTelemetryHandler(telemetry)
	trh := NewTripHandler(tripSvc, productivity)
	ph := NewProductivityHandler(productivity)
	gh := NewGeocodingHandler(geo)
	ah := NewAnalysisTaskHandler(tasks)

	r := gin.New()
	r.POST("/telemetry", th.Ingest)
	r.GET("/vehicles", th.ListVehicles)
	r.GET("/vehicles/:id/status", th.GetStatus)
	r.GET("/vehicles/:id/route", trh.GetRoute)
	r.GET("/vehicles/:id/productivity", ph.GetHistory)
	r.GET("/vehicles/:id/trips", trh.GetTrips)
	r.GET("/vehicles/:id/parking", trh.GetParking)
	r.GET("/vehicles/:id/productivity/daily/:date", ph.GetDaily)
	r.GET("/vehicles/:id/productivity/report", ph.GetReport)
	r.GET("/trips/:id", trh.GetTripByID)
	r.GET("/clients", gh.ListClients)
	r.GET("/clients/match", gh.MatchClient)
	r.PUT("/clients", gh.UpsertClient)
	r.POST("/clients/reload", gh.ReloadGazetteer)
	r.POST("/analysis/backfill", ah.CreateBackfill)
	r.GET("/analysis/tasks", ah.ListTasks)
	r.GET("/analysis/tasks/:id", ah.GetTask)
	r.DELETE("/analysis/tasks/:id", ah.CancelTask)

	return &testServer{router: r, db: db, tasks: tasks}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: invalid JSON %q", method, path, w.Body.String())
	}
	return w.Code, resp
}

func sampleJSON(offset time.Duration, dy float64, ignition string) string {
	return fmt.Sprintf(`{"vehicleId":"ev-1","receivedAt":%q,"signals":[`+
		`{"type":"location","value":{"lat":%.7f,"lng":-122.4194}},`+
		`{"type":"ignitionState","value":%q}]}`,
		base.Add(offset).Format(time.RFC3339), 37.7749+dy/111320.0, ignition)
}

func TestIngestAcceptsAllBodyShapes(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
		want float64
	}{
		{"single", sampleJSON(0, 0, "off"), 1},
		{"array", "[" + sampleJSON(time.Minute, 0, "off") + "," + sampleJSON(2*time.Minute, 0, "off") + "]", 2},
		{"envelope", `{"samples":[` + sampleJSON(3*time.Minute, 0, "off") + `]}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := s.do(t, http.MethodPost, "/telemetry", tt.body)
			if code != http.StatusOK {
				t.Fatalf("status = %d, body %v", code, resp)
			}
			data := resp["data"].(map[string]interface{})
			if data["accepted"] != tt.want {
				t.Errorf("accepted = %v, want %v", data["accepted"], tt.want)
			}
		})
	}

	for _, body := range []string{"", "[]", "{not json"} {
		if code, _ := s.do(t, http.MethodPost, "/telemetry", body); code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, code)
		}
	}
}

func TestVehicleStatusEndpoint(t *testing.T) {
	s := newTestServer(t)

	if code, _ := s.do(t, http.MethodGet, "/vehicles/ev-1/status", ""); code != http.StatusNotFound {
		t.Errorf("unknown vehicle status = %d, want 404", code)
	}

	s.do(t, http.MethodPost, "/telemetry", "["+sampleJSON(0, 0, "off")+","+sampleJSON(time.Minute, 0, "off")+"]")
	code, resp := s.do(t, http.MethodGet, "/vehicles/ev-1/status", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, body %v", code, resp)
	}
	if resp["data"] == nil {
		t.Error("expected a status payload")
	}
}

func TestTripEndpoints(t *testing.T) {
	s := newTestServer(t)

	var samples []string
	samples = append(samples, sampleJSON(0, 0, "off"), sampleJSON(50*time.Minute, 0, "on"))
	for i := 0; i < 4; i++ {
		samples = append(samples, sampleJSON(time.Duration(55+5*i)*time.Minute, float64(500*(i+1)), "on"))
	}
	samples = append(samples, sampleJSON(80*time.Minute, 2000, "off"))
	if code, resp := s.do(t, http.MethodPost, "/telemetry", "["+strings.Join(samples, ",")+"]"); code != http.StatusOK {
		t.Fatalf("ingest status = %d, body %v", code, resp)
	}

	path := fmt.Sprintf("/vehicles/ev-1/trips?startTime=%d&endTime=%d", base.Unix(), base.Add(3*time.Hour).Unix())
	code, resp := s.do(t, http.MethodGet, path, "")
	if code != http.StatusOK {
		t.Fatalf("trips status = %d, body %v", code, resp)
	}
	data := resp["data"].(map[string]interface{})
	if data["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", data["count"])
	}
	id := data["trips"].([]interface{})[0].(map[string]interface{})["id"].(string)

	if code, _ := s.do(t, http.MethodGet, "/trips/"+id, ""); code != http.StatusOK {
		t.Errorf("trip by id status = %d", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/trips/missing", ""); code != http.StatusNotFound {
		t.Errorf("missing trip status = %d, want 404", code)
	}

	routePath := fmt.Sprintf("/vehicles/ev-1/route?startTime=%d&endTime=%d", base.Unix(), base.Add(3*time.Hour).Unix())
	code, resp = s.do(t, http.MethodGet, routePath, "")
	if code != http.StatusOK || resp["data"].(map[string]interface{})["count"] != float64(6) {
		t.Errorf("route = %d, %v", code, resp)
	}

	code, resp = s.do(t, http.MethodGet, "/vehicles", "")
	if code != http.StatusOK || resp["data"].(map[string]interface{})["count"] != float64(1) {
		t.Errorf("vehicles = %d, %v", code, resp)
	}

	bad := fmt.Sprintf("/vehicles/ev-1/trips?startTime=%d&endTime=%d", base.Unix(), base.Unix())
	if code, _ := s.do(t, http.MethodGet, bad, ""); code != http.StatusBadRequest {
		t.Errorf("empty range status = %d, want 400", code)
	}

	code, resp = s.do(t, http.MethodGet, "/vehicles/ev-1/parking?date=2025-03-10", "")
	if code != http.StatusOK {
		t.Fatalf("parking status = %d, body %v", code, resp)
	}
	if code, _ := s.do(t, http.MethodGet, "/vehicles/ev-1/parking", ""); code != http.StatusBadRequest {
		t.Errorf("parking without date status = %d, want 400", code)
	}
}

func TestProductivityEndpoints(t *testing.T) {
	s := newTestServer(t)

	code, resp := s.do(t, http.MethodGet, "/vehicles/ev-1/productivity/daily/2025-03-10", "")
	if code != http.StatusOK {
		t.Fatalf("daily status = %d, body %v", code, resp)
	}
	if code, _ := s.do(t, http.MethodGet, "/vehicles/ev-1/productivity/daily/10-03-2025", ""); code != http.StatusBadRequest {
		t.Errorf("malformed date status = %d, want 400", code)
	}

	code, resp = s.do(t, http.MethodGet, "/vehicles/ev-1/productivity?startDate=2025-03-01&endDate=2025-03-31", "")
	if code != http.StatusOK || resp["data"].(map[string]interface{})["count"] != float64(1) {
		t.Errorf("history = %d, %v", code, resp)
	}
	if code, _ := s.do(t, http.MethodGet, "/vehicles/ev-1/productivity?startDate=2025-03-01", ""); code != http.StatusBadRequest {
		t.Errorf("history without endDate status = %d, want 400", code)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"kind=weekly&startDate=2025-03-12", http.StatusOK},
		{"kind=monthly&startDate=2025-03-12", http.StatusOK},
		{"kind=custom&startDate=2025-03-10&endDate=2025-03-11", http.StatusOK},
		{"kind=custom&startDate=2025-03-10", http.StatusBadRequest},
		{"kind=custom&startDate=2025-03-11&endDate=2025-03-10", http.StatusBadRequest},
		{"kind=yearly", http.StatusBadRequest},
		{"kind=weekly&startDate=March", http.StatusBadRequest},
	}
	for _, tt := range tests {
		code, resp := s.do(t, http.MethodGet, "/vehicles/ev-1/productivity/report?"+tt.query, "")
		if code != tt.want {
			t.Errorf("%s: status = %d, want %d (%v)", tt.query, code, tt.want, resp)
		}
	}
}

func TestClientEndpoints(t *testing.T) {
	s := newTestServer(t)

	body := `{"address":"100 Market St","clientName":"Bayview Dental","lat":37.7749,"lng":-122.4194,"radiusMeters":100}`
	if code, resp := s.do(t, http.MethodPut, "/clients", body); code != http.StatusOK {
		t.Fatalf("upsert status = %d, body %v", code, resp)
	}
	if code, _ := s.do(t, http.MethodPut, "/clients", `{"address":"","clientName":"x"}`); code != http.StatusBadRequest {
		t.Errorf("invalid client status = %d, want 400", code)
	}

	code, resp := s.do(t, http.MethodPost, "/clients/reload", "")
	if code != http.StatusOK || resp["data"].(map[string]interface{})["count"] != float64(1) {
		t.Fatalf("reload = %d, %v", code, resp)
	}

	code, resp = s.do(t, http.MethodGet, "/clients/match?lat=37.77495&lng=-122.4194", "")
	if code != http.StatusOK {
		t.Fatalf("match status = %d, body %v", code, resp)
	}
	if code, _ := s.do(t, http.MethodGet, "/clients/match?lat=38.5&lng=-121.0", ""); code != http.StatusNotFound {
		t.Errorf("far away match status = %d, want 404", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/clients/match?lat=abc", ""); code != http.StatusBadRequest {
		t.Errorf("bad coordinates status = %d, want 400", code)
	}
}

func TestBackfillEndpoints(t *testing.T) {
	s := newTestServer(t)

	if code, _ := s.do(t, http.MethodPost, "/analysis/backfill", `{"start_time":200,"end_time":100}`); code != http.StatusBadRequest {
		t.Errorf("reversed range status = %d, want 400", code)
	}

	code, resp := s.do(t, http.MethodPost, "/analysis/backfill", `{"vehicle_ids":["ev-1"]}`)
	if code != http.StatusAccepted {
		t.Fatalf("backfill status = %d, body %v", code, resp)
	}
	s.tasks.Wait()

	id := resp["data"].(map[string]interface{})["id"].(float64)
	code, resp = s.do(t, http.MethodGet, fmt.Sprintf("/analysis/tasks/%d", int64(id)), "")
	if code != http.StatusOK {
		t.Fatalf("task status = %d, body %v", code, resp)
	}
	if code, _ := s.do(t, http.MethodGet, "/analysis/tasks/999", ""); code != http.StatusNotFound {
		t.Errorf("missing task status = %d, want 404", code)
	}
	if code, _ := s.do(t, http.MethodGet, "/analysis/tasks/abc", ""); code != http.StatusBadRequest {
		t.Errorf("bad task id status = %d, want 400", code)
	}

	pending := &models.AnalysisTask{SkillName: behavior.TripBackfillSkill, TaskType: models.TaskTypeIncremental}
	if err := repository.NewAnalysisTaskRepository(s.db).Create(context.Background(), pending); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if code, _ := s.do(t, http.MethodPost, "/analysis/backfill", `{}`); code != http.StatusConflict {
		t.Errorf("overlapping backfill status = %d, want 409", code)
	}

	code, resp = s.do(t, http.MethodGet, "/analysis/tasks", "")
	if code != http.StatusOK || len(resp["data"].(map[string]interface{})["tasks"].([]interface{})) != 2 {
		t.Errorf("list = %d, %v", code, resp)
	}
}
