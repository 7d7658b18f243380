/**
 * @description
 * HTTP handlers for the subscription API.
 * Handlers decode and validate requests, call the service layer and map its
 * sentinel errors onto status codes.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/subtrack/subscription-service/internal/app"
	"github.com/subtrack/subscription-service/internal/domain"
)

const maxRequestBodyBytes = 1 << 20

// SubscriptionService is the part of app.Service the handlers use.
type SubscriptionService interface {
	UserResolver
	Today() domain.Date

	CreateSubscription(ctx context.Context, userID uuid.UUID, in domain.NewSubscriptionInput) (*app.SubscriptionView, error)
	GetSubscription(ctx context.Context, userID, subscriptionID uuid.UUID) (*app.SubscriptionView, error)
	ListSubscriptions(ctx context.Context, userID uuid.UUID, status *domain.Status) ([]app.SubscriptionView, error)
	UpdateSubscription(ctx context.Context, userID, subscriptionID uuid.UUID, upd domain.SubscriptionUpdate) (*app.SubscriptionView, error)
	DeleteSubscription(ctx context.Context, userID, subscriptionID uuid.UUID) error
	SetActive(ctx context.Context, userID, subscriptionID uuid.UUID, active bool) (*app.SubscriptionView, error)
	Renew(ctx context.Context, userID, subscriptionID uuid.UUID, in domain.RenewalInput) (*app.SubscriptionView, error)
	ListHistory(ctx context.Context, userID, subscriptionID uuid.UUID) ([]domain.SubscriptionHistory, error)
	ListHistoryByUser(ctx context.Context, userID uuid.UUID) ([]domain.SubscriptionHistory, error)

	ListReminders(ctx context.Context, userID, subscriptionID uuid.UUID) ([]domain.Reminder, error)
	AddReminder(ctx context.Context, userID, subscriptionID uuid.UUID, daysBefore int, enabled bool) (*domain.Reminder, error)
	UpdateReminder(ctx context.Context, userID, subscriptionID, reminderID uuid.UUID, upd domain.ReminderUpdate) (*domain.Reminder, error)
	DeleteReminder(ctx context.Context, userID, subscriptionID, reminderID uuid.UUID) error
	DueReminders(ctx context.Context, userID uuid.UUID, today domain.Date) ([]domain.DueReminder, error)

	ListNotifications(ctx context.Context, userID uuid.UUID, opts domain.NotificationListOptions) ([]domain.InAppNotification, error)
	UnreadNotificationCount(ctx context.Context, userID uuid.UUID) (int, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllNotificationsRead(ctx context.Context, userID uuid.UUID) (int64, error)

	CreateCategory(ctx context.Context, userID uuid.UUID, name string, color *string) (*domain.Category, error)
	ListCategories(ctx context.Context, userID uuid.UUID) ([]domain.Category, error)

	BuildReport(ctx context.Context, userID uuid.UUID, today domain.Date) (*domain.SubscriptionReport, error)
}

// ReminderDispatcher runs the daily reminder sweep.
type ReminderDispatcher interface {
	RunDailySweep(ctx context.Context, today domain.Date) (*app.DispatchResult, error)
}

// Handler holds the services that handlers interact with.
type Handler struct {
	service    SubscriptionService
	dispatcher ReminderDispatcher
	validate   *validator.Validate
}

// NewHandler creates a new Handler with the given service and dispatcher.
func NewHandler(service SubscriptionService, dispatcher ReminderDispatcher) *Handler {
	return &Handler{
		service:    service,
		dispatcher: dispatcher,
		validate:   validator.New(),
	}
}

type createSubscriptionRequest struct {
	ServiceName       string              `json:"service_name" validate:"required,max=200"`
	DomainName        *string             `json:"domain_name" validate:"omitempty,max=253"`
	Vendor            *string             `json:"vendor" validate:"omitempty,max=200"`
	VendorLink        *string             `json:"vendor_link" validate:"omitempty,url"`
	Email             *string             `json:"email" validate:"omitempty,email"`
	Username          *string             `json:"username" validate:"omitempty,max=200"`
	Password          *string             `json:"password"`
	Notes             *string             `json:"notes" validate:"omitempty,max=5000"`
	PurchaseDate      domain.Date         `json:"purchase_date"`
	ExpiryDate        domain.Date         `json:"expiry_date"`
	PurchaseAmountPKR decimal.Decimal     `json:"purchase_amount_pkr"`
	PurchaseAmountUSD decimal.NullDecimal `json:"purchase_amount_usd"`
	CategoryID        *uuid.UUID          `json:"category_id"`
	ReminderDays      []int               `json:"reminder_days" validate:"omitempty,dive,min=0,max=400"`
}

type updateSubscriptionRequest struct {
	ServiceName   *string    `json:"service_name" validate:"omitempty,max=200"`
	DomainName    *string    `json:"domain_name" validate:"omitempty,max=253"`
	Vendor        *string    `json:"vendor" validate:"omitempty,max=200"`
	VendorLink    *string    `json:"vendor_link" validate:"omitempty,url"`
	Email         *string    `json:"email" validate:"omitempty,email"`
	Username      *string    `json:"username" validate:"omitempty,max=200"`
	Password      *string    `json:"password"`
	Notes         *string    `json:"notes" validate:"omitempty,max=5000"`
	CategoryID    *uuid.UUID `json:"category_id"`
	ClearCategory bool       `json:"clear_category"`
}

type renewSubscriptionRequest struct {
	PurchaseDate      domain.Date         `json:"purchase_date"`
	ExpiryDate        domain.Date         `json:"expiry_date"`
	PurchaseAmountPKR decimal.Decimal     `json:"purchase_amount_pkr"`
	PurchaseAmountUSD decimal.NullDecimal `json:"purchase_amount_usd"`
	Vendor            *string             `json:"vendor" validate:"omitempty,max=200"`
	VendorLink        *string             `json:"vendor_link" validate:"omitempty,url"`
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

type addReminderRequest struct {
	DaysBefore *int  `json:"days_before" validate:"required,min=0,max=400"`
	Enabled    *bool `json:"enabled"`
}

type updateReminderRequest struct {
	DaysBefore *int  `json:"days_before" validate:"omitempty,min=0,max=400"`
	Enabled    *bool `json:"enabled"`
}

type createCategoryRequest struct {
	Name  string  `json:"name" validate:"required,max=100"`
	Color *string `json:"color" validate:"omitempty,hexcolor"`
}

type dispatchRequest struct {
	Date *domain.Date `json:"date"`
}

func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var filter *domain.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		filter = &status
	}

	subs, err := h.service.ListSubscriptions(r.Context(), userID, filter)
	if err != nil {
		writeServiceError(w, "listing subscriptions", err)
		return
	}

	respondWithJSON(w, http.StatusOK, subs)
}

func (h *Handler) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req createSubscriptionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	sub, err := h.service.CreateSubscription(r.Context(), userID, domain.NewSubscriptionInput{
		ServiceName:       req.ServiceName,
		DomainName:        req.DomainName,
		Vendor:            req.Vendor,
		VendorLink:        req.VendorLink,
		Email:             req.Email,
		Username:          req.Username,
		Password:          req.Password,
		Notes:             req.Notes,
		PurchaseDate:      req.PurchaseDate,
		ExpiryDate:        req.ExpiryDate,
		PurchaseAmountPKR: req.PurchaseAmountPKR,
		PurchaseAmountUSD: req.PurchaseAmountUSD,
		CategoryID:        req.CategoryID,
		ReminderDays:      req.ReminderDays,
	})
	if err != nil {
		writeServiceError(w, "creating subscription", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, sub)
}

func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, subID, ok := userAndPathID(w, r, "id")
	if !ok {
		return
	}

	sub, err := h.service.GetSubscription(r.Context(), userID, subID)
	if err != nil {
		writeServiceError(w, "getting subscription", err)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	userID, subID, ok := userAndPathID(w, r, "id")
	if !ok {
		return
	}

	var req updateSubscriptionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	sub, err := h.service.UpdateSubscription(r.Context(), userID, subID, domain.SubscriptionUpdate{
		ServiceName:   req.ServiceName,
		DomainName:    req.DomainName,
		Vendor:        req.Vendor,
		VendorLink:    req.VendorLink,
		Email:         req.Email,
		Username:      req.Username,
		Password:      req.Password,
		Notes:         req.Notes,
		CategoryID:    req.CategoryID,
		ClearCategory: req.ClearCategory,
	})
	if err != nil {
		writeServiceError(w, "updating subscription", err)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	userID, subID, ok := userAndPathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.DeleteSubscription(r.Context(), userID, subID); err != nil {
		writeServiceError(w, "deleting subscription", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRenewSubscription(w http.ResponseWriter, r *http.Request) {
	userID, subID, ok := userAndPathID(w, r, "id")
	if !ok {
		return
	}

	var req renewSubscriptionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	sub, err := h.service.Renew(r.Context(), userID, subID, domain.RenewalInput{
		PurchaseDate:      req.PurchaseDate,
		ExpiryDate:        req.ExpiryDate,
		PurchaseAmountPKR: req.PurchaseAmountPKR,
		PurchaseAmountUSD: req.PurchaseAmountUSD,
		Vendor:            req.Vendor,
		VendorLink:        req.VendorLink,
	})
	if err != nil {
		writeServiceError(w, "renewing subscription", err)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleSetActive(w http.ResponseWriter, r *http.Request) {
	userID, subID, ok := userAndPathID(w, r, "id")
	if !ok {
		return
	}

	var req setActiveRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	sub, err := h.service.SetActive(r.Context(), userID, subID, *req.IsActive)
	if err != nil {
		writeServiceError(w, "toggling subscription", err)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

func (h *Handler) handleListHistory(w http.ResponseWriter, r *http.Request) {
	userID, subID, ok := userAndPathID(w, r, "id")
	if !ok {
		return
	}

	history, err := h.service.ListHistory(r.Context(), userID, subID)
	if err != nil {
		writeServiceError(w, "listing history", err)
		return
	}

	respondWithJSON(w, http.StatusOK, history)
}

func (h *Handler) handleListAllHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	history, err := h.service.ListHistoryByUser(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "listing history", err)
		return
	}

	respondWithJSON(w, http.StatusOK, history)
}

func (h *Handler) handleListReminders(w http.ResponseWriter, r *http.Request) {
	userID, subID, ok := userAndPathID(w, r, "id")
	if !ok {
		return
	}

	reminders, err := h.service.ListReminders(r.Context(), userID, subID)
	if err != nil {
		writeServiceError(w, "listing reminders", err)
		return
	}

	respondWithJSON(w, http.StatusOK, reminders)
}

func (h *Handler) handleAddReminder(w http.ResponseWriter, r *http.Request) {
	userID, subID, ok := userAndPathID(w, r, "id")
	if !ok {
		return
	}

	var req addReminderRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	reminder, err := h.service.AddReminder(r.Context(), userID, subID, *req.DaysBefore, enabled)
	if err != nil {
		writeServiceError(w, "adding reminder", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, reminder)
}

func (h *Handler) handleUpdateReminder(w http.ResponseWriter, r *http.Request) {
	userID, subID, ok := userAndPathID(w, r, "id")
	if !ok {
		return
	}
	reminderID, ok := pathID(w, r, "reminderID")
	if !ok {
		return
	}

	var req updateReminderRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	reminder, err := h.service.UpdateReminder(r.Context(), userID, subID, reminderID, domain.ReminderUpdate{
		DaysBefore: req.DaysBefore,
		Enabled:    req.Enabled,
	})
	if err != nil {
		writeServiceError(w, "updating reminder", err)
		return
	}

	respondWithJSON(w, http.StatusOK, reminder)
}

func (h *Handler) handleDeleteReminder(w http.ResponseWriter, r *http.Request) {
	userID, subID, ok := userAndPathID(w, r, "id")
	if !ok {
		return
	}
	reminderID, ok := pathID(w, r, "reminderID")
	if !ok {
		return
	}

	if err := h.service.DeleteReminder(r.Context(), userID, subID, reminderID); err != nil {
		writeServiceError(w, "deleting reminder", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDueReminders(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	due, err := h.service.DueReminders(r.Context(), userID, h.service.Today())
	if err != nil {
		writeServiceError(w, "listing due reminders", err)
		return
	}

	respondWithJSON(w, http.StatusOK, due)
}

func (h *Handler) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	query := r.URL.Query()
	opts := domain.NotificationListOptions{UnreadOnly: query.Get("unread") == "true"}
	var err error
	if opts.Limit, err = intQuery(query.Get("limit")); err != nil {
		http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
		return
	}
	if opts.Offset, err = intQuery(query.Get("offset")); err != nil {
		http.Error(w, "offset must be a non-negative integer", http.StatusBadRequest)
		return
	}

	items, err := h.service.ListNotifications(r.Context(), userID, opts)
	if err != nil {
		writeServiceError(w, "listing notifications", err)
		return
	}

	respondWithJSON(w, http.StatusOK, items)
}

func (h *Handler) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	count, err := h.service.UnreadNotificationCount(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "counting notifications", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]int{"unread": count})
}

func (h *Handler) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	userID, notificationID, ok := userAndPathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.MarkNotificationRead(r.Context(), userID, notificationID); err != nil {
		writeServiceError(w, "marking notification read", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	updated, err := h.service.MarkAllNotificationsRead(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "marking notifications read", err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (h *Handler) handleListCategories(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	categories, err := h.service.ListCategories(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "listing categories", err)
		return
	}

	respondWithJSON(w, http.StatusOK, categories)
}

func (h *Handler) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req createCategoryRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	category, err := h.service.CreateCategory(r.Context(), userID, req.Name, req.Color)
	if err != nil {
		writeServiceError(w, "creating category", err)
		return
	}

	respondWithJSON(w, http.StatusCreated, category)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	report, err := h.service.BuildReport(r.Context(), userID, h.service.Today())
	if err != nil {
		writeServiceError(w, "building report", err)
		return
	}

	respondWithJSON(w, http.StatusOK, report)
}

// handleRunDispatch runs the reminder sweep for the given date, or for the
// current business day when the body carries none.
func (h *Handler) handleRunDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	today := h.service.Today()
	if req.Date != nil && !req.Date.IsZero() {
		today = *req.Date
	}

	result, err := h.dispatcher.RunDailySweep(r.Context(), today)
	if err != nil {
		log.Printf("Error running reminder dispatch for %s: %v", today, err)
		if result != nil {
			respondWithJSON(w, http.StatusServiceUnavailable, result)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// decodeAndValidate writes a 400 and returns false when the body is malformed
// or fails validation.
func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := decodeJSON(r, dst); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			http.Error(w, "validation failed: "+strings.Join(fields, "; "), http.StatusBadRequest)
			return false
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func userAndPathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, uuid.UUID, bool) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return uuid.Nil, uuid.Nil, false
	}
	id, ok := pathID(w, r, param)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return userID, id, true
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid %s", param), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", raw)
	}
	return n, nil
}

// writeServiceError maps service errors onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		http.Error(w, "Not Found", http.StatusNotFound)
	case errors.Is(err, app.ErrInvalidPeriod), errors.Is(err, app.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, app.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, app.ErrRenewalFailed):
		log.Printf("Error %s: %v", action, err)
		http.Error(w, app.ErrRenewalFailed.Error(), http.StatusInternalServerError)
	default:
		log.Printf("Error %s: %v", action, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// respondWithJSON writes JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
