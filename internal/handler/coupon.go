package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/couponhub/internal/domain/coupon"
)

type createCouponRequest struct {
	UserID       string          `json:"userId"`
	CategoryName string          `json:"categoryName"`
	BrandName    string          `json:"brandName"`
	CouponCode   string          `json:"couponCode"`
	ExpireDate   Date            `json:"expireDate"`
	Percentage   decimal.Decimal `json:"percentage"`
	// TermsImage is the object-store reference of the uploaded evidence.
	TermsImage string `json:"termsAndConditionImage"`
}

type editCouponRequest struct {
	CategoryName *string          `json:"categoryName"`
	BrandName    *string          `json:"brandName"`
	ExpireDate   *Date            `json:"expireDate"`
	Percentage   *decimal.Decimal `json:"percentage"`
	TermsImage   *string          `json:"termsAndConditionImage"`
}

type couponResponse struct {
	CouponID     string    `json:"couponId"`
	UserID       string    `json:"userId"`
	CategoryName string    `json:"categoryName"`
	BrandName    string    `json:"brandName"`
	CouponCode   string    `json:"couponCode"`
	ExpireDate   time.Time `json:"expireDate"`
	Percentage   float64   `json:"percentage"`
	TermsImage   string    `json:"termsAndConditionImage"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toCouponResponse(c *coupon.Coupon) couponResponse {
	return couponResponse{
		CouponID:     c.ID,
		UserID:       c.UserID,
		CategoryName: c.CategoryName,
		BrandName:    c.BrandName,
		CouponCode:   c.Code,
		ExpireDate:   c.ExpireDate,
		Percentage:   c.Percentage.InexactFloat64(),
		TermsImage:   c.TermsImage,
		Status:       string(c.Status),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func toCouponList(list []coupon.Coupon) []couponResponse {
	out := make([]couponResponse, len(list))
	for i := range list {
		out[i] = toCouponResponse(&list[i])
	}
	return out
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := decodeBody(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.coupons.Create(r.Context(), coupon.CreateRequest{
		UserID:       req.UserID,
		CategoryName: req.CategoryName,
		BrandName:    req.BrandName,
		Code:         req.CouponCode,
		ExpireDate:   req.ExpireDate.Time,
		Percentage:   req.Percentage,
		TermsImage:   req.TermsImage,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCouponResponse(c))
}

func (h *Handler) listCoupons(w http.ResponseWriter, r *http.Request) {
	list, err := h.coupons.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponList(list))
}

func (h *Handler) listCouponsByCategory(w http.ResponseWriter, r *http.Request) {
	list, err := h.coupons.ListByCategory(r.Context(), r.URL.Query().Get("categoryName"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponList(list))
}

func (h *Handler) listCouponsByUser(w http.ResponseWriter, r *http.Request) {
	list, err := h.coupons.ListByUser(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponList(list))
}

func (h *Handler) getCoupon(w http.ResponseWriter, r *http.Request) {
	c, err := h.coupons.Get(r.Context(), chi.URLParam(r, "couponId"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponResponse(c))
}

func (h *Handler) editCoupon(w http.ResponseWriter, r *http.Request) {
	var req editCouponRequest
	if err := decodeBody(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	e := coupon.EditRequest{
		CategoryName: req.CategoryName,
		BrandName:    req.BrandName,
		Percentage:   req.Percentage,
		TermsImage:   req.TermsImage,
	}
	if req.ExpireDate != nil {
		e.ExpireDate = &req.ExpireDate.Time
	}
	c, err := h.coupons.Edit(r.Context(), chi.URLParam(r, "couponId"), e)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponResponse(c))
}

// updateCouponStatus takes its arguments from the query string:
// PUT /api/coupons/update-status?couponId=COUP001&status=approved.
func (h *Handler) updateCouponStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c, err := h.coupons.SetStatus(r.Context(), q.Get("couponId"), q.Get("status"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCouponResponse(c))
}
