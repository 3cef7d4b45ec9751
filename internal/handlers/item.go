package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lostfound/apiserver/internal/services"
	"github.com/lostfound/apiserver/internal/store"
	"github.com/lostfound/apiserver/types"
)

const (
	defaultPage        = 1
	defaultLimit       = 100
	maxLimit           = 100
	maxMultipartMemory = 32 << 20
	maxUploadBytes     = 16 << 20
	dateLayout         = "2006-01-02"

	formFieldTitle    = "title"
	formFieldDesc     = "description"
	formFieldCategory = "category"
	formFieldLocation = "location"
	formFieldDate     = "date"
	formFieldType     = "type"
	formFieldFile     = "file"
)

// ItemHandler provides HTTP handlers for item reports.
type ItemHandler struct {
	itemService *services.ItemService
	userService *services.UserService
}

// NewItemHandler constructs a handler with the provided services.
func NewItemHandler(itemService *services.ItemService, userService *services.UserService) *ItemHandler {
	return &ItemHandler{
		itemService: itemService,
		userService: userService,
	}
}

// ItemRouter registers item routes on the given router.
func ItemRouter(
	r chi.Router,
	itemService *services.ItemService,
	userService *services.UserService,
	authMiddleware func(http.Handler) http.Handler,
) {
	handler := NewItemHandler(itemService, userService)

	r.With(authMiddleware).Post("/submit", handler.SubmitItem)
	r.With(authMiddleware).Get("/my-items", handler.MyItems)
	r.With(authMiddleware, handler.requireAdmin).Get("/pending", handler.PendingItems)
	r.With(authMiddleware, handler.requireAdmin).Post("/approve/{itemID}", handler.ApproveItem)
	r.With(authMiddleware, handler.requireAdmin).Post("/reject/{itemID}", handler.RejectItem)
	r.Get("/approved", handler.ApprovedItems)
	r.Get("/search", handler.SearchItems)
	r.Get("/{itemID}", handler.GetItem)
}

// SubmitItem accepts a multipart report form with an optional photo and
// inserts it with status pending, attributed to the caller.
func (h *ItemHandler) SubmitItem(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.userService)
	if !ok {
		return
	}

	req, err := parseItemForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.SubmittedBy = user.Username

	item, err := h.itemService.Submit(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to submit item")
		return
	}

	writeJSON(w, http.StatusCreated, SubmitItemResponse{
		Message: "Item submitted successfully",
		ID:      strconv.FormatInt(item.ID, 10),
	})
}

// MyItems lists the caller's own reports, any status.
func (h *ItemHandler) MyItems(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r, h.userService)
	if !ok {
		return
	}

	_, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.itemService.MyItems(r.Context(), user.Username, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list items")
		return
	}

	writeJSON(w, http.StatusOK, itemResponses(items))
}

// PendingItems lists the admin review queue.
func (h *ItemHandler) PendingItems(w http.ResponseWriter, r *http.Request) {
	_, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.itemService.Pending(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list pending items")
		return
	}

	writeJSON(w, http.StatusOK, itemResponses(items))
}

// ApprovedItems lists publicly visible reports.
func (h *ItemHandler) ApprovedItems(w http.ResponseWriter, r *http.Request) {
	_, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.itemService.Approved(r.Context(), offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list approved items")
		return
	}

	writeJSON(w, http.StatusOK, itemResponses(items))
}

// SearchItems filters approved reports by category, location, calendar day
// and keyword. All provided filters are ANDed together.
func (h *ItemHandler) SearchItems(w http.ResponseWriter, r *http.Request) {
	_, limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter := types.ItemFilter{
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
		Location: strings.TrimSpace(r.URL.Query().Get("location")),
		Keyword:  strings.TrimSpace(r.URL.Query().Get("keyword")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		day, err := time.Parse(dateLayout, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date format, use YYYY-MM-DD")
			return
		}
		filter.Day = &day
	}

	items, err := h.itemService.Search(r.Context(), filter, offset, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to search items")
		return
	}

	writeJSON(w, http.StatusOK, itemResponses(items))
}

// ApproveItem transitions a pending report to approved.
func (h *ItemHandler) ApproveItem(w http.ResponseWriter, r *http.Request) {
	h.moderateItem(w, r, h.itemService.Approve, "Item approved successfully")
}

// RejectItem transitions a pending report to rejected.
func (h *ItemHandler) RejectItem(w http.ResponseWriter, r *http.Request) {
	h.moderateItem(w, r, h.itemService.Reject, "Item rejected successfully")
}

func (h *ItemHandler) moderateItem(
	w http.ResponseWriter,
	r *http.Request,
	decide func(ctx context.Context, id int64, moderator string) error,
	message string,
) {
	user, ok := currentUser(w, r, h.userService)
	if !ok {
		return
	}

	id, err := parseItemID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := decide(r.Context(), id, user.Username); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "item not found")
		case errors.Is(err, store.ErrConflict):
			writeError(w, http.StatusConflict, "item has already been decided")
		default:
			writeError(w, http.StatusInternalServerError, "failed to update item")
		}
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: message})
}

// GetItem returns a single report by id. Publicly readable.
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseItemID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	item, err := h.itemService.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch item")
		return
	}

	writeJSON(w, http.StatusOK, itemResponse(item))
}

// SubmitItemResponse acknowledges a stored submission.
type SubmitItemResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// MessageResponse is a bare acknowledgement payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// ItemResponse is the wire shape of a report. The identifier is surfaced
// as a string under both "id" and, for older clients, "_id".
type ItemResponse struct {
	ID          string     `json:"id"`
	LegacyID    string     `json:"_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Location    string     `json:"location"`
	Type        string     `json:"type"`
	Date        time.Time  `json:"date"`
	Status      string     `json:"status"`
	ImagePath   string     `json:"image_path,omitempty"`
	SubmittedBy string     `json:"submitted_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ApprovedBy  string     `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	RejectedBy  string     `json:"rejected_by,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
}

func itemResponse(item types.Item) ItemResponse {
	id := strconv.FormatInt(item.ID, 10)
	return ItemResponse{
		ID:          id,
		LegacyID:    id,
		Title:       item.Title,
		Description: item.Description,
		Category:    item.Category,
		Location:    item.Location,
		Type:        item.Type,
		Date:        item.Date,
		Status:      item.Status,
		ImagePath:   item.ImagePath,
		SubmittedBy: item.SubmittedBy,
		CreatedAt:   item.CreatedAt,
		ApprovedBy:  item.ApprovedBy,
		ApprovedAt:  item.ApprovedAt,
		RejectedBy:  item.RejectedBy,
		RejectedAt:  item.RejectedAt,
	}
}

func itemResponses(items []types.Item) []ItemResponse {
	responses := make([]ItemResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, itemResponse(item))
	}
	return responses
}

func parsePagination(r *http.Request) (page, limit, offset int, err error) {
	page = defaultPage
	limit = defaultLimit

	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err = strconv.Atoi(raw)
		if err != nil || page < 1 {
			return 0, 0, 0, errors.New("invalid page")
		}
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, 0, errors.New("invalid limit")
		}
	}

	if limit > maxLimit {
		limit = maxLimit
	}

	offset = (page - 1) * limit
	return page, limit, offset, nil
}

func parseItemID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "itemID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid item id")
	}
	return id, nil
}

func parseItemForm(r *http.Request) (services.SubmitItemInput, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return services.SubmitItemInput{}, errors.New("invalid multipart form")
	}

	title := strings.TrimSpace(r.FormValue(formFieldTitle))
	if title == "" {
		return services.SubmitItemInput{}, errors.New("title is required")
	}

	description := strings.TrimSpace(r.FormValue(formFieldDesc))
	if description == "" {
		return services.SubmitItemInput{}, errors.New("description is required")
	}

	category := strings.TrimSpace(r.FormValue(formFieldCategory))
	if category == "" {
		return services.SubmitItemInput{}, errors.New("category is required")
	}

	location := strings.TrimSpace(r.FormValue(formFieldLocation))
	if location == "" {
		return services.SubmitItemInput{}, errors.New("location is required")
	}

	itemType := strings.TrimSpace(r.FormValue(formFieldType))
	if itemType != types.ItemTypeLost && itemType != types.ItemTypeFound {
		return services.SubmitItemInput{}, errors.New("type must be 'lost' or 'found'")
	}

	date, err := time.Parse(dateLayout, strings.TrimSpace(r.FormValue(formFieldDate)))
	if err != nil {
		return services.SubmitItemInput{}, errors.New("date must be in YYYY-MM-DD format")
	}

	file, err := parseUploadFile(r)
	if err != nil {
		return services.SubmitItemInput{}, err
	}

	return services.SubmitItemInput{
		Title:       title,
		Description: description,
		Category:    category,
		Location:    location,
		Type:        itemType,
		Date:        date,
		File:        file,
	}, nil
}

func parseUploadFile(r *http.Request) (*services.UploadFile, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}

	files := r.MultipartForm.File[formFieldFile]
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		return nil, errors.New("only one file is allowed")
	}

	fileHeader := files[0]
	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read uploaded file: %w", err)
	}

	data, err := readFileLimited(file, maxUploadBytes)
	_ = file.Close()
	if err != nil {
		return nil, err
	}

	return &services.UploadFile{
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.New("failed to read upload")
	}
	if int64(len(data)) > limit {
		return nil, errors.New("uploaded file too large")
	}
	return data, nil
}

func (h *ItemHandler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := currentUser(w, r, h.userService)
		if !ok {
			return
		}

		if !strings.EqualFold(user.Role, roleAdmin) {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
