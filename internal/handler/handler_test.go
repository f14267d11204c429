package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/couponhub/internal/domain"
	"github.com/xenking/couponhub/internal/domain/category"
	"github.com/xenking/couponhub/internal/domain/coupon"
	"github.com/xenking/couponhub/internal/domain/user"
)

// --- Mock implementations ---

type mockUsers struct {
	user    *user.User
	err     error
	gotReg  user.RegisterRequest
	gotID   string
	gotProf user.ProfileUpdate
}

func (m *mockUsers) Register(_ context.Context, req user.RegisterRequest) (*user.User, error) {
	m.gotReg = req
	return m.user, m.err
}

func (m *mockUsers) UpdateProfile(_ context.Context, id string, p user.ProfileUpdate) (*user.User, error) {
	m.gotID, m.gotProf = id, p
	return m.user, m.err
}

func (m *mockUsers) Get(_ context.Context, id string) (*user.User, error) {
	m.gotID = id
	return m.user, m.err
}

func (m *mockUsers) FindByEmail(_ context.Context, _ string) (*user.User, error) {
	return m.user, m.err
}

func (m *mockUsers) List(context.Context) ([]user.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []user.User{*m.user}, nil
}

func (m *mockUsers) Delete(_ context.Context, id string) error {
	m.gotID = id
	return m.err
}

func (m *mockUsers) GetTier(_ context.Context, id string) (user.Tier, error) {
	m.gotID = id
	if m.err != nil {
		return user.Tier{}, m.err
	}
	return m.user.Tier, nil
}

type mockCategories struct {
	err     error
	gotName string
}

func (m *mockCategories) Add(_ context.Context, name string) (*category.Category, error) {
	m.gotName = name
	if m.err != nil {
		return nil, m.err
	}
	return &category.Category{ID: "CAT-1a2b3c4d", Name: name}, nil
}

func (m *mockCategories) List(context.Context) ([]category.Category, error) {
	return []category.Category{{ID: "CAT-1a2b3c4d", Name: "Food"}}, m.err
}

type mockCoupons struct {
	coupon    *coupon.Coupon
	err       error
	gotCreate coupon.CreateRequest
	gotEdit   coupon.EditRequest
	gotID     string
	gotStatus string
	gotArg    string
}

func (m *mockCoupons) Create(_ context.Context, req coupon.CreateRequest) (*coupon.Coupon, error) {
	m.gotCreate = req
	return m.coupon, m.err
}

func (m *mockCoupons) SetStatus(_ context.Context, id, target string) (*coupon.Coupon, error) {
	m.gotID, m.gotStatus = id, target
	return m.coupon, m.err
}

func (m *mockCoupons) Edit(_ context.Context, id string, e coupon.EditRequest) (*coupon.Coupon, error) {
	m.gotID, m.gotEdit = id, e
	return m.coupon, m.err
}

func (m *mockCoupons) Get(_ context.Context, id string) (*coupon.Coupon, error) {
	m.gotID = id
	return m.coupon, m.err
}

func (m *mockCoupons) List(context.Context) ([]coupon.Coupon, error) {
	return m.list()
}

func (m *mockCoupons) ListByCategory(_ context.Context, name string) ([]coupon.Coupon, error) {
	m.gotArg = name
	return m.list()
}

func (m *mockCoupons) ListByUser(_ context.Context, userID string) ([]coupon.Coupon, error) {
	m.gotArg = userID
	return m.list()
}

func (m *mockCoupons) list() ([]coupon.Coupon, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []coupon.Coupon{*m.coupon}, nil
}

// --- Helpers ---

var testTime = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func sampleUser(total int) *user.User {
	return &user.User{
		ID:                   "USER001",
		FirstName:            "Ada",
		LastName:             "Lovelace",
		Email:                "ada@example.com",
		DOB:                  time.Date(1990, 12, 10, 0, 0, 0, 0, time.UTC),
		TotalCouponsUploaded: total,
		Tier:                 user.ComputeTier(total),
		CreatedAt:            testTime,
		UpdatedAt:            testTime,
	}
}

func sampleCoupon() *coupon.Coupon {
	return &coupon.Coupon{
		ID:           "COUP001",
		UserID:       "USER001",
		CategoryName: "Food",
		BrandName:    "Pizza Place",
		Code:         "SAVE15",
		ExpireDate:   testTime.AddDate(0, 1, 0),
		Percentage:   decimal.NewFromInt(15),
		TermsImage:   "uploads/terms.png",
		Status:       coupon.StatusNotVerified,
		CreatedAt:    testTime,
		UpdatedAt:    testTime,
	}
}

type fixture struct {
	users      *mockUsers
	categories *mockCategories
	coupons    *mockCoupons
	router     http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		users:      &mockUsers{user: sampleUser(0)},
		categories: &mockCategories{},
		coupons:    &mockCoupons{coupon: sampleCoupon()},
	}
	f.router = NewHandler(f.users, f.categories, f.coupons).Routes()
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

// --- Tests ---

func TestCreateCoupon(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodPost, "/coupons", `{
		"userId": "USER001",
		"categoryName": "Food",
		"brandName": "Pizza Place",
		"couponCode": "SAVE15",
		"expireDate": "2025-07-15",
		"percentage": 15,
		"termsAndConditionImage": "uploads/terms.png"
	}`)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	resp := decode[couponResponse](t, w)
	assert.Equal(t, "COUP001", resp.CouponID)
	assert.Equal(t, "not_verified", resp.Status)
	assert.Equal(t, 15.0, resp.Percentage)

	got := f.coupons.gotCreate
	assert.Equal(t, "SAVE15", got.Code)
	assert.Equal(t, time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC), got.ExpireDate)
	assert.True(t, decimal.NewFromInt(15).Equal(got.Percentage))
}

func TestCreateCoupon_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"missing field", &domain.MissingFieldError{Field: "couponCode"}, http.StatusBadRequest, "couponCode is required"},
		{"bad percentage", coupon.ErrInvalidPercentage, http.StatusBadRequest, coupon.ErrInvalidPercentage.Error()},
		{"unknown user", user.ErrNotFound, http.StatusNotFound, "user not found"},
		{"unknown category", category.ErrNotFound, http.StatusNotFound, "category not found"},
		{"duplicate code", coupon.ErrDuplicateCode, http.StatusConflict, "coupon code already exists"},
		{"quota", coupon.ErrDailyLimitReached, http.StatusTooManyRequests, "daily limit reached"},
		{"infrastructure", errors.Wrap(errors.New("conn refused"), "count uploads today"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.coupons.err = tt.err

			w := f.do(http.MethodPost, "/coupons", `{"userId":"USER001"}`)

			assert.Equal(t, tt.wantCode, w.Code)
			body := decode[errorResponse](t, w)
			assert.Equal(t, tt.wantCode, body.Code)
			assert.Equal(t, tt.wantMsg, body.Message)
		})
	}
}

func TestCreateCoupon_BadBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"bad date", `{"expireDate":"15/07/2025"}`},
		{"unknown field", `{"discount":10}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			w := f.do(http.MethodPost, "/coupons", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Empty(t, f.coupons.gotCreate.UserID, "service must not be called")
		})
	}
}

func TestUpdateCouponStatus(t *testing.T) {
	f := newFixture()
	f.coupons.coupon.Status = coupon.StatusApproved

	w := f.do(http.MethodPut, "/coupons/update-status?couponId=COUP001&status=approved", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "COUP001", f.coupons.gotID)
	assert.Equal(t, "approved", f.coupons.gotStatus)
	assert.Equal(t, "approved", decode[couponResponse](t, w).Status)

	f.coupons.err = coupon.ErrInvalidStatus
	w = f.do(http.MethodPut, "/coupons/update-status?couponId=COUP001&status=sold", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.coupons.err = coupon.ErrNotFound
	w = f.do(http.MethodPut, "/coupons/update-status?couponId=COUP404&status=approved", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEditCoupon(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodPut, "/coupons/COUP001", `{"brandName":"Burger Barn","expireDate":"2025-08-01T00:00:00Z"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "COUP001", f.coupons.gotID)
	require.NotNil(t, f.coupons.gotEdit.BrandName)
	assert.Equal(t, "Burger Barn", *f.coupons.gotEdit.BrandName)
	require.NotNil(t, f.coupons.gotEdit.ExpireDate)
	assert.Equal(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), *f.coupons.gotEdit.ExpireDate)
	assert.Nil(t, f.coupons.gotEdit.CategoryName)
	assert.Nil(t, f.coupons.gotEdit.Percentage)
}

func TestCouponListings(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodGet, "/coupons", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]couponResponse](t, w), 1)

	w = f.do(http.MethodGet, "/coupons/category?categoryName=Food", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Food", f.coupons.gotArg)

	w = f.do(http.MethodGet, "/coupons/user/USER001", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "USER001", f.coupons.gotArg)

	f.coupons.err = coupon.ErrNoneInCategory
	w = f.do(http.MethodGet, "/coupons/category?categoryName=Toys", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "no coupons found for this category", decode[errorResponse](t, w).Message)
	f.coupons.err = nil

	w = f.do(http.MethodGet, "/coupons/COUP001", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "COUP001", f.coupons.gotID)
}

func TestRegisterUser(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodPost, "/users", `{"firstName":"Ada","lastName":"Lovelace","email":"ada@example.com","dob":"1990-12-10"}`)

	require.Equal(t, http.StatusCreated, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, "USER001", resp["userId"])
	assert.Equal(t, "1990-12-10", resp["dob"])
	assert.EqualValues(t, 1, resp["userLevel"])
	assert.EqualValues(t, 7, resp["dailyUploadLimit"])
	assert.Equal(t, time.Date(1990, 12, 10, 0, 0, 0, 0, time.UTC), f.users.gotReg.DOB)

	f.users.err = user.ErrDuplicateEmail
	w = f.do(http.MethodPost, "/users", `{"firstName":"Ada","lastName":"Lovelace","email":"ada@example.com","dob":"1990-12-10"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetTier(t *testing.T) {
	tests := []struct {
		total     int
		wantLevel float64
		wantPct   float64
		wantLimit any
	}{
		{total: 49, wantLevel: 1, wantPct: 0, wantLimit: float64(7)},
		{total: 50, wantLevel: 2, wantPct: 1, wantLimit: float64(7)},
		{total: 100, wantLevel: 3, wantPct: 3, wantLimit: nil},
	}
	for _, tt := range tests {
		f := newFixture()
		f.users.user = sampleUser(tt.total)

		w := f.do(http.MethodGet, "/users/USER001/tier", "")

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "USER001", f.users.gotID)
		body := decode[map[string]any](t, w)
		assert.Equal(t, tt.wantLevel, body["userLevel"])
		assert.Equal(t, tt.wantPct, body["prepaymentPercentage"])
		assert.Equal(t, tt.wantLimit, body["dailyUploadLimit"])
	}
}

func TestUserRoutes(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodPut, "/users/USER001", `{"phone":"+1 555 0100"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "+1 555 0100", f.users.gotProf.Phone)

	w = f.do(http.MethodGet, "/users/search?email=ada@example.com", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/users", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]userResponse](t, w), 1)

	w = f.do(http.MethodDelete, "/users/USER001", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	f.users.err = user.ErrNotFound
	w = f.do(http.MethodGet, "/users/USER404", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCategories(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodPost, "/categories", `{"name":"Food"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Food", f.categories.gotName)
	assert.Equal(t, "CAT-1a2b3c4d", decode[categoryResponse](t, w).CategoryID)

	w = f.do(http.MethodGet, "/categories", "")
	require.Equal(t, http.StatusOK, w.Code)

	f.categories.err = category.ErrDuplicate
	w = f.do(http.MethodPost, "/categories", `{"name":"Food"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture()

	w := f.do(http.MethodGet, "/orders", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, http.StatusNotFound, decode[errorResponse](t, w).Code)

	w = f.do(http.MethodPatch, "/coupons", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
