package grpc

import (
	"time"

	"marketplace/backend/internal/domain"
	"marketplace/backend/internal/store"
)

type Slot struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type GenerateSlotsRequest struct {
	ProviderID         string `json:"provider_id,omitempty"`
	Date               string `json:"date"`
	ServiceVariationID string `json:"service_variation_id"`
}

type GenerateSlotsResponse struct {
	Slots []Slot `json:"slots"`
}

type Booking struct {
	ID                 string    `json:"id"`
	ClientID           string    `json:"client_id"`
	ProviderID         string    `json:"provider_id"`
	ServiceVariationID string    `json:"service_variation_id"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	Status             string    `json:"status"`
	FinalPrice         string    `json:"final_price"`
	CancelledBy        string    `json:"cancelled_by,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type CreateBookingRequest struct {
	ServiceVariationID string    `json:"service_variation_id"`
	StartTime          time.Time `json:"start_time"`
}

type BookingResponse struct {
	Booking Booking `json:"booking"`
}

type CancelBookingRequest struct {
	BookingID string `json:"booking_id"`
}

type GetBookingRequest struct {
	BookingID string `json:"booking_id"`
}

type ListBookingsRequest struct {
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

type ListBookingsResponse struct {
	Bookings   []Booking `json:"bookings"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
	Total      int       `json:"total"`
	TotalPages int       `json:"total_pages"`
}

type AvailabilityWindow struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"provider_id"`
	DayOfWeek  int16     `json:"day_of_week"`
	StartTime  string    `json:"start_time"`
	EndTime    string    `json:"end_time"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type CreateAvailabilityRequest struct {
	DayOfWeek int16  `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// UpdateAvailabilityRequest leaves absent fields unchanged.
type UpdateAvailabilityRequest struct {
	ID        string  `json:"id"`
	DayOfWeek *int16  `json:"day_of_week,omitempty"`
	StartTime *string `json:"start_time,omitempty"`
	EndTime   *string `json:"end_time,omitempty"`
}

type AvailabilityResponse struct {
	Window AvailabilityWindow `json:"window"`
}

type DeleteAvailabilityRequest struct {
	ID string `json:"id"`
}

type DeleteAvailabilityResponse struct{}

// ListAvailabilityRequest lists the caller's windows when ProviderID is empty.
type ListAvailabilityRequest struct {
	ProviderID string `json:"provider_id,omitempty"`
}

type ListAvailabilityResponse struct {
	Windows []AvailabilityWindow `json:"windows"`
}

func toSlots(in []domain.Slot) []Slot {
	out := make([]Slot, 0, len(in))
	for _, s := range in {
		out = append(out, Slot{StartTime: s.Start.UTC(), EndTime: s.End.UTC()})
	}
	return out
}

func toBooking(b domain.Booking) Booking {
	return Booking{
		ID:                 b.ID.String(),
		ClientID:           b.ClientID,
		ProviderID:         b.ProviderID,
		ServiceVariationID: b.ServiceVariationID.String(),
		StartTime:          b.StartTime.UTC(),
		EndTime:            b.EndTime.UTC(),
		Status:             string(b.Status),
		FinalPrice:         b.FinalPrice.StringFixed(2),
		CancelledBy:        string(b.CancelledBy),
		CreatedAt:          b.CreatedAt.UTC(),
		UpdatedAt:          b.UpdatedAt.UTC(),
	}
}

func toBookingPage(p store.Page[domain.Booking]) *ListBookingsResponse {
	out := make([]Booking, 0, len(p.Items))
	for _, b := range p.Items {
		out = append(out, toBooking(b))
	}
	return &ListBookingsResponse{
		Bookings:   out,
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      p.Total,
		TotalPages: p.TotalPages,
	}
}

func toWindow(w domain.AvailabilityWindow) AvailabilityWindow {
	return AvailabilityWindow{
		ID:         w.ID.String(),
		ProviderID: w.ProviderID,
		DayOfWeek:  w.DayOfWeek,
		StartTime:  w.StartTime.String(),
		EndTime:    w.EndTime.String(),
		CreatedAt:  w.CreatedAt.UTC(),
		UpdatedAt:  w.UpdatedAt.UTC(),
	}
}
