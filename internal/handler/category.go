package handler

import (
	"net/http"
	"time"

	"github.com/xenking/couponhub/internal/domain/category"
)

type addCategoryRequest struct {
	Name string `json:"name"`
}

type categoryResponse struct {
	CategoryID string    `json:"categoryId"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toCategoryResponse(c *category.Category) categoryResponse {
	return categoryResponse{CategoryID: c.ID, Name: c.Name, CreatedAt: c.CreatedAt}
}

func (h *Handler) addCategory(w http.ResponseWriter, r *http.Request) {
	var req addCategoryRequest
	if err := decodeBody(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	c, err := h.categories.Add(r.Context(), req.Name)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryResponse(c))
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	list, err := h.categories.List(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	out := make([]categoryResponse, len(list))
	for i := range list {
		out[i] = toCategoryResponse(&list[i])
	}
	writeJSON(w, http.StatusOK, out)
}
