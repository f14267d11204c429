// Package handler exposes the user, category and coupon services over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/couponhub/internal/domain"
	"github.com/xenking/couponhub/internal/domain/category"
	"github.com/xenking/couponhub/internal/domain/coupon"
	"github.com/xenking/couponhub/internal/domain/user"
)

// UserService is implemented by user.Service.
type UserService interface {
	Register(ctx context.Context, req user.RegisterRequest) (*user.User, error)
	UpdateProfile(ctx context.Context, id string, p user.ProfileUpdate) (*user.User, error)
	Get(ctx context.Context, id string) (*user.User, error)
	FindByEmail(ctx context.Context, email string) (*user.User, error)
	List(ctx context.Context) ([]user.User, error)
	Delete(ctx context.Context, id string) error
	GetTier(ctx context.Context, id string) (user.Tier, error)
}

// CategoryService is implemented by category.Service.
type CategoryService interface {
	Add(ctx context.Context, name string) (*category.Category, error)
	List(ctx context.Context) ([]category.Category, error)
}

// CouponService is implemented by coupon.Service.
type CouponService interface {
	Create(ctx context.Context, req coupon.CreateRequest) (*coupon.Coupon, error)
	SetStatus(ctx context.Context, id, target string) (*coupon.Coupon, error)
	Edit(ctx context.Context, id string, e coupon.EditRequest) (*coupon.Coupon, error)
	Get(ctx context.Context, id string) (*coupon.Coupon, error)
	List(ctx context.Context) ([]coupon.Coupon, error)
	ListByCategory(ctx context.Context, name string) ([]coupon.Coupon, error)
	ListByUser(ctx context.Context, userID string) ([]coupon.Coupon, error)
}

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the /api routes.
type Handler struct {
	users      UserService
	categories CategoryService
	coupons    CouponService
}

// NewHandler creates a Handler.
func NewHandler(users UserService, categories CategoryService, coupons CouponService) *Handler {
	return &Handler{users: users, categories: categories, coupons: coupons}
}

// Routes returns the router for everything under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.registerUser)
		r.Get("/", h.listUsers)
		r.Get("/search", h.findUserByEmail)
		r.Route("/{userId}", func(r chi.Router) {
			r.Get("/", h.getUser)
			r.Put("/", h.updateUser)
			r.Delete("/", h.deleteUser)
			r.Get("/tier", h.getTier)
		})
	})

	r.Route("/categories", func(r chi.Router) {
		r.Get("/", h.listCategories)
		r.Post("/", h.addCategory)
	})

	r.Route("/coupons", func(r chi.Router) {
		r.Post("/", h.createCoupon)
		r.Get("/", h.listCoupons)
		r.Get("/category", h.listCouponsByCategory)
		r.Get("/user/{userId}", h.listCouponsByUser)
		r.Put("/update-status", h.updateCouponStatus)
		r.Get("/{couponId}", h.getCoupon)
		r.Put("/{couponId}", h.editCoupon)
	})

	return r
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Code: code, Message: msg})
}

// errBadBody marks a request body that could not be decoded.
var errBadBody = errors.New("invalid request body")

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(errBadBody, err.Error())
	}
	return nil
}

// statusOf maps a service error onto an HTTP status. Zero means the error is
// not part of the domain taxonomy.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrMissingField),
		errors.Is(err, errBadBody),
		errors.Is(err, errBadDate),
		errors.Is(err, coupon.ErrInvalidStatus),
		errors.Is(err, coupon.ErrInvalidPercentage):
		return http.StatusBadRequest
	case errors.Is(err, user.ErrNotFound),
		errors.Is(err, coupon.ErrNotFound),
		errors.Is(err, coupon.ErrNoneInCategory),
		errors.Is(err, category.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, coupon.ErrDuplicateCode),
		errors.Is(err, user.ErrDuplicateEmail),
		errors.Is(err, category.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, coupon.ErrDailyLimitReached):
		return http.StatusTooManyRequests
	}
	return 0
}

// fail writes the response for err. Unknown errors are logged and hidden
// behind a generic 500.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	if code := statusOf(err); code != 0 {
		writeError(w, code, err.Error())
		return
	}
	zctx.From(r.Context()).Error("Request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// errBadDate is returned for a date that is neither RFC 3339 nor YYYY-MM-DD.
var errBadDate = errors.New("invalid date: use RFC 3339 or YYYY-MM-DD")

// Date accepts either a full RFC 3339 timestamp or a calendar date.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errBadDate
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return errBadDate
}
