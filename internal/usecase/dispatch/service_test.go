package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/infra/adapter/persistence/memory"
	"notification-gateway/internal/repository"
)

type stubDispatcher struct {
	mu     sync.Mutex
	inputs []DispatchInput
	queued bool
}

func (s *stubDispatcher) Dispatch(_ context.Context, in DispatchInput) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs = append(s.inputs, in)
	return Result{Queued: s.queued, Recipients: len(in.Recipients)}
}

type failingRequests struct{}

func (failingRequests) Save(context.Context, *entity.SendRequest) error { return errors.New("db down") }
func (failingRequests) Get(context.Context, string) (*entity.SendRequest, error) {
	return nil, nil
}

var allMedia = map[entity.MediaKind]bool{entity.MediaText: true, entity.MediaImage: true, entity.MediaVideo: true}

func newTestService(d Dispatcher, media map[entity.MediaKind]bool, requests repository.SendRequestRepository) *Service {
	svc := NewService(map[entity.Channel]ChannelSettings{
		entity.ChannelWhatsApp: {Dispatcher: d, Media: media},
	}, requests, nil)
	svc.newID = func() string { return "fixed-id" }
	return svc
}

func TestService_Send(t *testing.T) {
	imageAndText := func() *entity.SendRequest {
		return &entity.SendRequest{
			Recipients:   []string{"+1", "+2"},
			MediaKinds:   []entity.MediaKind{entity.MediaText, entity.MediaImage},
			TextMessage:  "hi",
			ImageURL:     "https://cdn.example.com/a.png",
			ImageCaption: "look",
		}
	}

	tests := []struct {
		name        string
		media       map[entity.MediaKind]bool
		queued      bool
		req         *entity.SendRequest
		wantStatus  int
		wantMessage string
		wantCalls   int
	}{
		{
			name:        "all media queued",
			media:       allMedia,
			queued:      true,
			req:         imageAndText(),
			wantStatus:  http.StatusOK,
			wantMessage: "Notification request added to queue successfully for WhatsApp.",
			wantCalls:   2,
		},
		{
			name:        "image disabled is partial",
			media:       map[entity.MediaKind]bool{entity.MediaText: true},
			queued:      true,
			req:         imageAndText(),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Notification request was only partially queued for WhatsApp.[IMAGE_MEDIA_DISABLED_ERROR]",
			wantCalls:   1,
		},
		{
			name:        "everything disabled",
			media:       map[entity.MediaKind]bool{},
			queued:      true,
			req:         imageAndText(),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Notification request couldn't be processed for WhatsApp.[TEXT_MEDIA_DISABLED_ERROR, IMAGE_MEDIA_DISABLED_ERROR]",
			wantCalls:   0,
		},
		{
			name:        "dispatcher refuses",
			media:       allMedia,
			queued:      false,
			req:         imageAndText(),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "Notification request couldn't be processed for WhatsApp.",
			wantCalls:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			d := &stubDispatcher{queued: tt.queued}
			store := memory.NewStore()
			svc := newTestService(d, tt.media, store.Repositories().Requests)

			// Act
			resp := svc.Send(context.Background(), entity.ChannelWhatsApp, tt.req)

			// Assert
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantMessage, resp.Message)
			assert.Equal(t, "fixed-id", resp.RequestID)
			assert.Len(t, d.inputs, tt.wantCalls)

			saved, err := store.Repositories().Requests.Get(context.Background(), "fixed-id")
			require.NoError(t, err)
			require.NotNil(t, saved)
			assert.Equal(t, "hi", saved.TextMessage)
		})
	}
}

func TestService_Send_ValidationHasNoSideEffects(t *testing.T) {
	d := &stubDispatcher{queued: true}
	store := memory.NewStore()
	svc := newTestService(d, allMedia, store.Repositories().Requests)

	resp := svc.Send(context.Background(), entity.ChannelWhatsApp, &entity.SendRequest{})

	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "Request Validation Failed: [Empty recipient list, Empty media type list]", resp.Message)
	assert.Empty(t, resp.RequestID)
	assert.Empty(t, d.inputs)
	saved, err := store.Repositories().Requests.Get(context.Background(), "fixed-id")
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestService_Send_UnconfiguredChannel(t *testing.T) {
	svc := newTestService(&stubDispatcher{queued: true}, allMedia, nil)
	resp := svc.Send(context.Background(), entity.ChannelTelegram, &entity.SendRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.Equal(t, "Channel Telegram is not configured.", resp.Message)
}

func TestService_Send_PersistFailureIsIgnored(t *testing.T) {
	d := &stubDispatcher{queued: true}
	svc := newTestService(d, allMedia, failingRequests{})
	resp := svc.Send(context.Background(), entity.ChannelWhatsApp, &entity.SendRequest{
		Recipients: []string{"+1"}, MediaKinds: []entity.MediaKind{entity.MediaText}, TextMessage: "hi",
	})
	assert.Equal(t, http.StatusOK, resp.Status)
	require.Len(t, d.inputs, 1)
	assert.Equal(t, "fixed-id", d.inputs[0].RequestID)
	assert.Equal(t, "hi", d.inputs[0].Content.Text)
}
