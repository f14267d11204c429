package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/couponhub/internal/domain/user"
)

type registerUserRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	DOB       Date   `json:"dob"`
}

type updateUserRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	DOB       Date   `json:"dob"`
}

type tierResponse struct {
	UserLevel            int `json:"userLevel"`
	PrepaymentPercentage int `json:"prepaymentPercentage"`
	// DailyUploadLimit is null when uploads are unlimited.
	DailyUploadLimit *int `json:"dailyUploadLimit"`
}

type userResponse struct {
	UserID               string `json:"userId"`
	FirstName            string `json:"firstName"`
	LastName             string `json:"lastName"`
	Email                string `json:"email"`
	Phone                string `json:"phone,omitempty"`
	DOB                  string `json:"dob"`
	TotalCouponsUploaded int    `json:"totalCouponsUploaded"`
	tierResponse
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toTierResponse(t user.Tier) tierResponse {
	resp := tierResponse{UserLevel: t.Level, PrepaymentPercentage: t.PrepaymentPercentage}
	if !t.DailyUploadLimit.Unbounded() {
		limit := int(t.DailyUploadLimit)
		resp.DailyUploadLimit = &limit
	}
	return resp
}

func toUserResponse(u *user.User) userResponse {
	return userResponse{
		UserID:               u.ID,
		FirstName:            u.FirstName,
		LastName:             u.LastName,
		Email:                u.Email,
		Phone:                u.Phone,
		DOB:                  u.DOB.Format(time.DateOnly),
		TotalCouponsUploaded: u.TotalCouponsUploaded,
		tierResponse:         toTierResponse(u.Tier),
		CreatedAt:            u.CreatedAt,
		UpdatedAt:            u.UpdatedAt,
	}
}

func (h *Handler) registerUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := decodeBody(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	u, err := h.users.Register(r.Context(), user.RegisterRequest{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		DOB:       req.DOB.Time,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]userResponse, len(users))
	for i := range users {
		out[i] = toUserResponse(&users[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) findUserByEmail(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.FindByEmail(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeBody(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	u, err := h.users.UpdateProfile(r.Context(), chi.URLParam(r, "userId"), user.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		DOB:       req.DOB.Time,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Delete(r.Context(), chi.URLParam(r, "userId")); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getTier(w http.ResponseWriter, r *http.Request) {
	t, err := h.users.GetTier(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTierResponse(t))
}
