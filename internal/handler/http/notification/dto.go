// Package notification provides the HTTP handlers of the send API:
// submitting a notification, reading the status of a request and looking
// up a single provider message.
package notification

import (
	"strings"
	"time"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/usecase/delivery"
)

// SendRequestDTO is the JSON body accepted by POST /notifications.
type SendRequestDTO struct {
	RecipientList []string `json:"recipientList" example:"+15550001,+15550002"`
	MediaTypeList []string `json:"mediaTypeList" example:"TEXT"`
	TextMessage   string   `json:"textMessage,omitempty" example:"Your order has shipped"`
	ImageURL      string   `json:"imageUrl,omitempty"`
	ImageCaption  string   `json:"imageCaption,omitempty"`
	VideoURL      string   `json:"videoUrl,omitempty"`
	VideoCaption  string   `json:"videoCaption,omitempty"`
}

// toEntity normalizes media names; unknown names are kept upper-cased so
// validation can report them.
func (d SendRequestDTO) toEntity() *entity.SendRequest {
	kinds := make([]entity.MediaKind, 0, len(d.MediaTypeList))
	for _, raw := range d.MediaTypeList {
		kind, err := entity.ParseMediaKind(raw)
		if err != nil {
			kind = entity.MediaKind(strings.ToUpper(strings.TrimSpace(raw)))
		}
		kinds = append(kinds, kind)
	}
	return &entity.SendRequest{
		Recipients:   d.RecipientList,
		MediaKinds:   kinds,
		TextMessage:  d.TextMessage,
		ImageURL:     d.ImageURL,
		ImageCaption: d.ImageCaption,
		VideoURL:     d.VideoURL,
		VideoCaption: d.VideoCaption,
	}
}

// DeliveryDTO is one recipient/media delivery in a status report.
type DeliveryDTO struct {
	Channel           string    `json:"channel"`
	Recipient         string    `json:"recipient"`
	MediaType         string    `json:"mediaType"`
	Status            string    `json:"status"`
	ProviderMessageID string    `json:"providerMessageId,omitempty"`
	FailureReason     string    `json:"failureReason,omitempty"`
	FallbackTriggered bool      `json:"fallbackTriggered"`
	FallbackChannel   string    `json:"fallbackChannel,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// StatusDTO is the body of GET /status/{requestId}.
type StatusDTO struct {
	RequestID  string        `json:"requestId"`
	Deliveries []DeliveryDTO `json:"deliveries"`
}

// EventDTO is one audited provider callback.
type EventDTO struct {
	ExternalStatus string    `json:"externalStatus"`
	MappedStatus   string    `json:"mappedStatus"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	ErrorDetails   string    `json:"errorDetails,omitempty"`
	Applied        bool      `json:"applied"`
	ReceivedAt     time.Time `json:"receivedAt"`
}

// MessageDTO is the body of GET /messages/{id}.
type MessageDTO struct {
	RequestID string      `json:"requestId"`
	Delivery  DeliveryDTO `json:"delivery"`
	Events    []EventDTO  `json:"events"`
}

func toDeliveryDTO(st *entity.DeliveryState) DeliveryDTO {
	return DeliveryDTO{
		Channel:           st.Channel.String(),
		Recipient:         st.Recipient,
		MediaType:         st.MediaKind.String(),
		Status:            string(st.Status),
		ProviderMessageID: st.ProviderMessageID,
		FailureReason:     st.FailureReason,
		FallbackTriggered: st.FallbackTriggered,
		FallbackChannel:   st.FallbackChannel.String(),
		CreatedAt:         st.CreatedAt,
		UpdatedAt:         st.UpdatedAt,
	}
}

func toStatusDTO(r *delivery.StatusReport) StatusDTO {
	out := StatusDTO{RequestID: r.RequestID, Deliveries: make([]DeliveryDTO, 0, len(r.Deliveries))}
	for _, st := range r.Deliveries {
		out.Deliveries = append(out.Deliveries, toDeliveryDTO(st))
	}
	return out
}

func toMessageDTO(r *delivery.MessageReport) MessageDTO {
	out := MessageDTO{
		RequestID: r.State.RequestID,
		Delivery:  toDeliveryDTO(r.State),
		Events:    make([]EventDTO, 0, len(r.Events)),
	}
	for _, ev := range r.Events {
		out.Events = append(out.Events, EventDTO{
			ExternalStatus: ev.ExternalStatus,
			MappedStatus:   string(ev.MappedStatus),
			ErrorCode:      ev.ErrorCode,
			ErrorDetails:   ev.ErrorDetails,
			Applied:        ev.Applied,
			ReceivedAt:     ev.ReceivedAt,
		})
	}
	return out
}
