// Package handlers is the HTTP adapter over the planning core: it
// decodes requests, builds the census (applying overrides), calls
// planner.Plan, and maps core errors to status codes. It also serves
// the "today" read model, which composes validated trips and any
// active carpool route for a user — strictly outside the planning
// core, following the teacher's JSON error-envelope convention.
package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"commuteplanner/internal/geo"
	"commuteplanner/internal/models"
	"commuteplanner/internal/planner"
	"commuteplanner/internal/store"
)

// Handler provides the dependencies every route needs.
type Handler struct {
	Adapter         geo.GeoAdapter
	Workplace       models.Workplace
	Options         planner.Options
	ValidationStore *store.ValidationStore
	CarpoolRoutes   *store.CarpoolRouteStore
}

// ErrorResponse is the JSON error envelope returned for any non-2xx
// response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a machine-readable code plus a human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// writePlanError maps a core error to the status codes spec.md §7
// describes: 400 for InvalidConfig/InvalidInput, 499 for Cancelled,
// 502 for AdapterError, 500 for anything else.
func writePlanError(w http.ResponseWriter, err error) {
	var cfgErr *models.ErrInvalidConfig
	var inputErr *models.ErrInvalidInput
	var cancelErr *models.ErrCancelled
	var adapterErr *models.ErrAdapterError

	switch {
	case errors.As(err, &cfgErr):
		writeError(w, http.StatusBadRequest, "INVALID_CONFIG", err.Error())
	case errors.As(err, &inputErr):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.As(err, &cancelErr):
		writeError(w, 499, "CANCELLED", err.Error())
	case errors.As(err, &adapterErr):
		writeError(w, http.StatusBadGateway, "ADAPTER_ERROR", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

// EmployeeDTO is the service-boundary employee shape (spec.md §6):
// arrival windows instead of a resolved minute-of-day target.
type EmployeeDTO struct {
	EmployeeID         string  `json:"employee_id"`
	HomeLat            float64 `json:"home_lat"`
	HomeLng            float64 `json:"home_lng"`
	ArrivalWindowStart string  `json:"arrival_window_start,omitempty"`
	ArrivalWindowEnd   string  `json:"arrival_window_end,omitempty"`
	WillingDriver      bool    `json:"willing_driver"`
}

// OverrideDTO mirrors models.EmployeeOverride at the service boundary.
type OverrideDTO struct {
	EmployeeID         string   `json:"employee_id"`
	HomeLat            *float64 `json:"home_lat,omitempty"`
	HomeLng            *float64 `json:"home_lng,omitempty"`
	WillingDriver      *bool    `json:"willing_driver,omitempty"`
	ArrivalWindowStart *string  `json:"arrival_window_start,omitempty"`
}

// PlanRequest is the POST /api/v1/plan request body.
type PlanRequest struct {
	Date                 string                         `json:"date"`
	Workplace            *models.Workplace              `json:"workplace,omitempty"`
	Employees            []EmployeeDTO                  `json:"employees"`
	Overrides            []OverrideDTO                  `json:"overrides,omitempty"`
	Constraints          *models.StructuralConstraints  `json:"constraints,omitempty"`
	MatchConfig          *models.CarpoolMatchConfig     `json:"match_config,omitempty"`
	IncludeShadowMetrics bool                           `json:"include_shadow_metrics,omitempty"`
}

// ShuttleRouteDTO is one shuttle route entry in PlanResponse.
type ShuttleRouteDTO struct {
	OptionID      string   `json:"option_id"`
	EmployeeIDs   []string `json:"employee_ids"`
	CentroidLat   float64  `json:"centroid_lat"`
	CentroidLng   float64  `json:"centroid_lng"`
	EstimatedSize int      `json:"estimated_size"`
}

// CarpoolRouteDTO is one carpool route entry in PlanResponse.
type CarpoolRouteDTO struct {
	OptionID      string   `json:"option_id"`
	DriverID      string   `json:"driver_id"`
	PassengerIDs  []string `json:"passenger_ids"`
	EstimatedSize int      `json:"estimated_size"`
}

// PlanResponse is the POST /api/v1/plan response body, per spec.md §6.
type PlanResponse struct {
	RunID                string                `json:"run_id"`
	Date                 string                `json:"date"`
	ShuttleRoutes        []ShuttleRouteDTO     `json:"shuttle_routes"`
	CarpoolRoutes        []CarpoolRouteDTO     `json:"carpool_routes"`
	Unassigned           []string              `json:"unassigned"`
	ShuttleShadowMetrics *models.ShadowMetrics `json:"shuttle_shadow_metrics,omitempty"`
}

// arrivalMidpoint resolves an "HH:MM"-"HH:MM" arrival window to its
// midpoint, recovering the window fields spec.md's service boundary
// names but the planning core only consumes as a single target.
func arrivalMidpoint(start, end string) string {
	sm, sok := parseHHMM(start)
	em, eok := parseHHMM(end)
	switch {
	case sok && eok:
		return formatHHMM((sm + em) / 2)
	case sok:
		return start
	case eok:
		return end
	default:
		return ""
	}
}

func parseHHMM(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func formatHHMM(minutes int) string {
	return pad2(minutes/60) + ":" + pad2(minutes%60)
}

func pad2(n int) string {
	if n < 10 {
		return "0" + itoa(n)
	}
	return itoa(n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func buildCensus(dtos []EmployeeDTO) []models.Employee {
	employees := make([]models.Employee, len(dtos))
	for i, d := range dtos {
		employees[i] = models.Employee{
			ID:            d.EmployeeID,
			HomeLat:       d.HomeLat,
			HomeLng:       d.HomeLng,
			ArrivalTarget: arrivalMidpoint(d.ArrivalWindowStart, d.ArrivalWindowEnd),
			CanDrive:      d.WillingDriver,
		}
	}
	return employees
}

func buildOverrides(dtos []OverrideDTO) []models.EmployeeOverride {
	overrides := make([]models.EmployeeOverride, len(dtos))
	for i, d := range dtos {
		overrides[i] = models.EmployeeOverride{
			EmployeeID:   d.EmployeeID,
			HomeLat:      d.HomeLat,
			HomeLng:      d.HomeLng,
			CanDrive:     d.WillingDriver,
		}
		if d.ArrivalWindowStart != nil {
			overrides[i].ArrivalTarget = d.ArrivalWindowStart
		}
	}
	return overrides
}

// HandlePlan implements POST /api/v1/plan.
func (h *Handler) HandlePlan(w http.ResponseWriter, r *http.Request) {
	runID := uuid.New().String()

	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[HTTP %s] malformed plan request: %v", runID, err)
		writeError(w, http.StatusBadRequest, "MALFORMED_JSON", err.Error())
		return
	}

	workplace := h.Workplace
	if req.Workplace != nil {
		workplace = *req.Workplace
	}
	opts := h.Options
	if req.Constraints != nil {
		opts.Constraints = *req.Constraints
	}
	if req.MatchConfig != nil {
		opts.MatchConfig = *req.MatchConfig
	}
	opts.IncludeShadowMetrics = req.IncludeShadowMetrics

	census := models.ApplyOverrides(buildCensus(req.Employees), buildOverrides(req.Overrides))
	log.Printf("[HTTP %s] plan request date=%s employees=%d", runID, req.Date, len(census))

	plan, err := planner.Plan(r.Context(), census, workplace, h.Adapter, opts)
	if err != nil {
		log.Printf("[HTTP %s] plan failed: %v", runID, err)
		writePlanError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPlanResponse(runID, req.Date, plan))
}

func toPlanResponse(runID, date string, plan *models.DailyPlan) PlanResponse {
	stopByID := make(map[string]models.Stop, len(plan.Stops))
	for _, s := range plan.Stops {
		stopByID[s.ID] = s
	}

	shuttleRoutes := make([]ShuttleRouteDTO, 0, len(plan.Routes))
	for _, route := range plan.Routes {
		var empIDs []string
		var latSum, lngSum float64
		for _, sid := range route.StopIDs {
			s := stopByID[sid]
			empIDs = append(empIDs, s.EmployeeID...)
			latSum += s.Lat
			lngSum += s.Lng
		}
		n := float64(len(route.StopIDs))
		var centroidLat, centroidLng float64
		if n > 0 {
			centroidLat, centroidLng = latSum/n, lngSum/n
		}
		shuttleRoutes = append(shuttleRoutes, ShuttleRouteDTO{
			OptionID:      route.ID,
			EmployeeIDs:   empIDs,
			CentroidLat:   centroidLat,
			CentroidLng:   centroidLng,
			EstimatedSize: route.TotalRiders,
		})
	}

	carpoolRoutes := make([]CarpoolRouteDTO, 0, len(plan.DriverRoutes))
	for _, dr := range plan.DriverRoutes {
		carpoolRoutes = append(carpoolRoutes, CarpoolRouteDTO{
			OptionID:      "carpool-" + dr.DriverID,
			DriverID:      dr.DriverID,
			PassengerIDs:  dr.PassengerIDs,
			EstimatedSize: len(dr.PassengerIDs),
		})
	}

	return PlanResponse{
		RunID:                runID,
		Date:                 date,
		ShuttleRoutes:        shuttleRoutes,
		CarpoolRoutes:        carpoolRoutes,
		Unassigned:           plan.UnassignedIDs,
		ShuttleShadowMetrics: plan.ShadowMetrics,
	}
}

// TripDTO is one leg of a user's day in the "today" read model.
type TripDTO struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Mode   string `json:"mode"`
	Time   string `json:"time"`
}

// TodayResponse is the GET /api/v1/today/{user_id} response body.
type TodayResponse struct {
	Date         string              `json:"date"`
	UserID       string              `json:"user_id"`
	Role         string              `json:"role"`
	Status       string              `json:"status"`
	Trips        []TripDTO           `json:"trips"`
	CarpoolRoute *store.CarpoolRoute `json:"carpool_route,omitempty"`
}

// HandleToday implements GET /api/v1/today/{user_id}, following the
// status-aggregation and dynamic-role-detection rules the original
// today model establishes: the day is "confirmed" only once every trip
// is, and a user with an active carpool route they drive is
// reclassified as carpool_driver regardless of the role the caller
// requested.
func (h *Handler) HandleToday(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "MISSING_DATE", "date query parameter is required")
		return
	}
	role := r.URL.Query().Get("role")
	if role == "" {
		role = "passenger"
	}

	ctx := r.Context()

	var trips []TripDTO
	if role == "carpool_driver" {
		trips = []TripDTO{{Type: "ida", Mode: "carpool", Time: "08:15", Status: "pending"}}
	} else {
		trips = []TripDTO{
			{Type: "ida", Mode: "shuttle", Time: "08:15", Status: "pending"},
			{Type: "vuelta", Mode: "shuttle", Time: "18:00", Status: "pending"},
		}
	}

	for i := range trips {
		status, err := h.ValidationStore.Get(ctx, userID, date, trips[i].Type)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		if status != "" {
			trips[i].Status = status
		}
	}

	allConfirmed := true
	for _, t := range trips {
		if t.Status != "confirmed" {
			allConfirmed = false
			break
		}
	}
	dayStatus := "pending"
	if allConfirmed {
		dayStatus = "confirmed"
	}

	resp := TodayResponse{Date: date, UserID: userID, Role: role, Status: dayStatus, Trips: trips}

	hasRoute, err := h.CarpoolRoutes.FindActiveForDriver(ctx, userID, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if hasRoute {
		resp.Role = "carpool_driver"
		route, err := h.CarpoolRoutes.GetByDriver(ctx, userID, date)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		resp.CarpoolRoute = route
	}

	writeJSON(w, http.StatusOK, resp)
}
