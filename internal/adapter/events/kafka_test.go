package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/simaogato/obligations-backend/internal/domain"
)

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	return m.Called().Error(0)
}

func TestKafkaPublisher_Publish(t *testing.T) {
	ctx := context.Background()
	writer := new(MockWriter)
	publisher := &KafkaPublisher{writer: writer}

	workspaceID := uuid.New()
	event := domain.NewEvent(domain.EventEntryLinked, workspaceID, uuid.New(), time.Now().UTC(), map[string]string{"link_source": "DIRECT"})

	writer.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 1 || string(msgs[0].Key) != workspaceID.String() {
			return false
		}
		var decoded domain.Event
		if err := json.Unmarshal(msgs[0].Value, &decoded); err != nil {
			return false
		}
		return decoded.ID == event.ID && decoded.Type == domain.EventEntryLinked &&
			string(msgs[0].Headers[0].Value) == string(domain.EventEntryLinked)
	})).Return(nil)

	require.NoError(t, publisher.Publish(ctx, event))
	writer.AssertExpectations(t)
}

func TestKafkaPublisher_WrapsWriterError(t *testing.T) {
	ctx := context.Background()
	writer := new(MockWriter)
	publisher := &KafkaPublisher{writer: writer}
	broker := errors.New("broker down")
	writer.On("WriteMessages", ctx, mock.Anything).Return(broker)

	err := publisher.Publish(ctx, domain.NewEvent(domain.EventAlertOpened, uuid.New(), uuid.New(), time.Now(), nil))

	assert.ErrorIs(t, err, broker)
	assert.Contains(t, err.Error(), "alert.opened")
}

func TestRecorder_OfType(t *testing.T) {
	r := NewRecorder()
	ws := uuid.New()
	_ = r.Publish(context.Background(), domain.NewEvent(domain.EventEntryLinked, ws, uuid.New(), time.Now(), nil))
	_ = r.Publish(context.Background(), domain.NewEvent(domain.EventDocumentPaid, ws, uuid.New(), time.Now(), nil))

	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.OfType(domain.EventDocumentPaid), 1)
}
