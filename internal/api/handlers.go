package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/npezzotti/go-locshare/internal/server"
)

type JoinRequest struct {
	RoomId      string `json:"roomId"`
	Name        string `json:"name"`
	DeviceId    string `json:"deviceId"`
	InviteToken string `json:"inviteToken"`
}

type JoinResponse struct {
	RoomId      string `json:"roomId"`
	UserId      string `json:"userId"`
	Name        string `json:"name"`
	DeviceId    string `json:"deviceId"`
	InviteToken string `json:"inviteToken"`
	InviteLink  string `json:"inviteLink"`
}

// LocationRequest takes lat/lng as pointers so an absent coordinate is
// distinguishable from zero and rejected.
type LocationRequest struct {
	RoomId   string   `json:"roomId"`
	UserId   string   `json:"userId"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Accuracy *float64 `json:"accuracy"`
}

type LeaveRequest struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId"`
}

type OkResponse struct {
	Ok bool `json:"ok"`
}

type HealthResponse struct {
	Ok    bool `json:"ok"`
	Rooms int  `json:"rooms"`
}

func (s *LocShareApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *LocShareApp) join(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("invalid request body")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	result, err := s.rs.Join(server.JoinParams{
		RoomId:      req.RoomId,
		Name:        req.Name,
		DeviceId:    req.DeviceId,
		InviteToken: req.InviteToken,
	})
	if err != nil {
		var errResp *ApiError
		switch {
		case errors.Is(err, server.ErrRoomIdRequired):
			errResp = NewBadRequestError("Room ID is required.")
		case errors.Is(err, server.ErrForbidden):
			errResp = NewForbiddenError()
		default:
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, JoinResponse{
		RoomId:      result.RoomId,
		UserId:      result.UserId,
		Name:        result.Name,
		DeviceId:    result.DeviceId,
		InviteToken: result.InviteToken,
		InviteLink:  s.inviteLink(r, result.RoomId, result.InviteToken),
	})
}

func (s *LocShareApp) updateLocation(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("invalid request body")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Lat == nil || req.Lng == nil {
		errResp := NewBadRequestError("Invalid location payload.")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.rs.UpdateLocation(req.RoomId, req.UserId, *req.Lat, *req.Lng, req.Accuracy); err != nil {
		var errResp *ApiError
		if errors.Is(err, server.ErrInvalidLocation) {
			errResp = NewBadRequestError("Invalid location payload.")
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, OkResponse{Ok: true})
}

// leave always succeeds: clients fire it during page teardown and cannot
// retry, so an unknown room or member is simply a no-op.
func (s *LocShareApp) leave(w http.ResponseWriter, r *http.Request) {
	var req LeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError("invalid request body")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.rs.Leave(req.RoomId, req.UserId)
	s.writeJson(w, http.StatusOK, OkResponse{Ok: true})
}

func (s *LocShareApp) roomSnapshot(w http.ResponseWriter, r *http.Request) {
	roomId := r.URL.Query().Get("roomId")
	if roomId == "" {
		errResp := NewBadRequestError("roomId query is required.")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	snapshot, err := s.rs.Snapshot(roomId, r.URL.Query().Get("token"))
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, server.ErrForbidden) {
			errResp = NewForbiddenError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, snapshot)
}

func (s *LocShareApp) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, HealthResponse{Ok: true, Rooms: s.rs.RoomCount()})
}

// notFound is the fallback for every unmatched path so the API speaks
// JSON on all responses.
func (s *LocShareApp) notFound(w http.ResponseWriter, _ *http.Request) {
	errResp := NewNotFoundError()
	s.writeJson(w, errResp.StatusCode, errResp)
}

// inviteLink builds the absolute share URL carrying the room key and
// invite token. The configured base URL wins; otherwise the link is
// derived from the request so it works behind a proxy.
func (s *LocShareApp) inviteLink(r *http.Request, roomId, token string) string {
	base := s.baseURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}

	q := url.Values{}
	q.Set("room", roomId)
	q.Set("token", token)

	return base + "/?" + q.Encode()
}
