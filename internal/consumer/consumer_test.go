package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/goinginblind/scribe/internal/pkg/logger"
	"github.com/goinginblind/scribe/internal/store"
	"github.com/goinginblind/scribe/internal/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) ProcessOrder(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockCommitter struct {
	mock.Mock
}

func (m *MockCommitter) CommitMessage(msg *kafka.Message) ([]kafka.TopicPartition, error) {
	args := m.Called(msg)
	return nil, args.Error(0)
}

type MockDLQProducer struct {
	mock.Mock
}

func (m *MockDLQProducer) Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error {
	args := m.Called(msg, deliveryChan)
	return args.Error(0)
}

type MockUnhealthyMarker struct {
	mock.Mock
}

func (m *MockUnhealthyMarker) MarkUnhealthy() {
	m.Called()
}

func TestWorker_ProcessMessage(t *testing.T) {
	task := tasks.NewProcessTask(42, "payment_confirmed")
	payload, err := task.Encode()
	require.NoError(t, err)
	kafkaMsg := &kafka.Message{Value: payload, Key: []byte("42")}

	testCases := []struct {
		name            string
		message         *kafka.Message
		setupMocks      func(*MockProcessor, *MockCommitter, *MockDLQProducer, *MockUnhealthyMarker)
		maxRetries      int
		expectCommit    bool
		expectDLQ       bool
		expectUnhealthy bool
	}{
		{
			name:    "Success - Happy Path",
			message: kafkaMsg,
			setupMocks: func(p *MockProcessor, c *MockCommitter, d *MockDLQProducer, h *MockUnhealthyMarker) {
				p.On("ProcessOrder", mock.Anything, int64(42)).Return(nil).Once()
				c.On("CommitMessage", kafkaMsg).Return(nil).Once()
			},
			maxRetries:   3,
			expectCommit: true,
		},
		{
			name:    "Failure - Invalid JSON",
			message: &kafka.Message{Value: []byte("not-json")},
			setupMocks: func(p *MockProcessor, c *MockCommitter, d *MockDLQProducer, h *MockUnhealthyMarker) {
				d.On("Produce", mock.Anything, mock.Anything).Return(nil).Once()
				c.On("CommitMessage", mock.Anything).Return(nil).Once()
			},
			maxRetries:   3,
			expectCommit: true,
			expectDLQ:    true,
		},
		{
			name:    "Failure - Task without order id",
			message: &kafka.Message{Value: []byte(`{"task_id":"x","order_id":0}`)},
			setupMocks: func(p *MockProcessor, c *MockCommitter, d *MockDLQProducer, h *MockUnhealthyMarker) {
				d.On("Produce", mock.Anything, mock.Anything).Return(nil).Once()
				c.On("CommitMessage", mock.Anything).Return(nil).Once()
			},
			maxRetries:   3,
			expectCommit: true,
			expectDLQ:    true,
		},
		{
			name:    "Failure - Processor error (sent to DLQ)",
			message: kafkaMsg,
			setupMocks: func(p *MockProcessor, c *MockCommitter, d *MockDLQProducer, h *MockUnhealthyMarker) {
				p.On("ProcessOrder", mock.Anything, int64(42)).Return(errors.New("boom")).Once()
				d.On("Produce", mock.Anything, mock.Anything).Return(nil).Once()
				c.On("CommitMessage", kafkaMsg).Return(nil).Once()
			},
			maxRetries:   3,
			expectCommit: true,
			expectDLQ:    true,
		},
		{
			name:    "Success - Transient DB Error with Recovery",
			message: kafkaMsg,
			setupMocks: func(p *MockProcessor, c *MockCommitter, d *MockDLQProducer, h *MockUnhealthyMarker) {
				p.On("ProcessOrder", mock.Anything, int64(42)).
					Return(fmt.Errorf("loading order: %w", store.ErrConnectionFailed)).Once()
				p.On("ProcessOrder", mock.Anything, int64(42)).Return(nil).Once()
				c.On("CommitMessage", kafkaMsg).Return(nil).Once()
			},
			maxRetries:   3,
			expectCommit: true,
		},
		{
			name:    "Failure - Permanent DB Error",
			message: kafkaMsg,
			setupMocks: func(p *MockProcessor, c *MockCommitter, d *MockDLQProducer, h *MockUnhealthyMarker) {
				p.On("ProcessOrder", mock.Anything, int64(42)).Return(store.ErrConnectionFailed).Times(3)
				h.On("MarkUnhealthy").Return().Once()
			},
			maxRetries:      3,
			expectUnhealthy: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mockProcessor := new(MockProcessor)
			mockCommitter := new(MockCommitter)
			mockDLQ := new(MockDLQProducer)
			mockHealth := new(MockUnhealthyMarker)

			tc.setupMocks(mockProcessor, mockCommitter, mockDLQ, mockHealth)

			w := &worker{
				id: 1,
				deps: workerDependencies{
					processor:     mockProcessor,
					logger:        logger.NewMockLogger(),
					consumer:      mockCommitter,
					ctx:           context.Background(),
					healthChecker: mockHealth,
					dlqTopic:      "test-dlq",
					dlqPublisher:  mockDLQ,
				},
				maxRetries:   tc.maxRetries,
				retryBackoff: time.Millisecond,
			}
			w.processMessage(tc.message)

			mockProcessor.AssertExpectations(t)
			mockHealth.AssertExpectations(t)

			if tc.expectCommit {
				mockCommitter.AssertCalled(t, "CommitMessage", mock.Anything)
			} else {
				mockCommitter.AssertNotCalled(t, "CommitMessage", mock.Anything)
			}
			if tc.expectDLQ {
				mockDLQ.AssertCalled(t, "Produce", mock.Anything, mock.Anything)
			} else {
				mockDLQ.AssertNotCalled(t, "Produce", mock.Anything, mock.Anything)
			}
			if !tc.expectUnhealthy {
				mockHealth.AssertNotCalled(t, "MarkUnhealthy")
			}
		})
	}
}

func TestWorker_SendToDLQ(t *testing.T) {
	mockDLQ := new(MockDLQProducer)
	var produced *kafka.Message
	mockDLQ.On("Produce", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { produced = args.Get(0).(*kafka.Message) }).
		Return(nil).Once()

	w := &worker{deps: workerDependencies{
		logger:       logger.NewMockLogger(),
		dlqTopic:     "tasks-dlq",
		dlqPublisher: mockDLQ,
	}}
	original := &kafka.Message{
		Key:     []byte("7"),
		Value:   []byte("payload"),
		Headers: []kafka.Header{{Key: "trace", Value: []byte("abc")}},
	}

	w.sendToDLQ(original, errors.New("bad task"))

	require.NotNil(t, produced)
	assert.Equal(t, "tasks-dlq", *produced.TopicPartition.Topic)
	assert.Equal(t, original.Value, produced.Value)
	assert.Equal(t, original.Key, produced.Key)
	require.Len(t, produced.Headers, 2)
	assert.Equal(t, DLQReasonHeader, produced.Headers[1].Key)
	assert.Equal(t, "bad task", string(produced.Headers[1].Value))
	assert.Len(t, original.Headers, 1, "original headers must not be modified")
}

func TestWorker_RunStopsWhenJobsClosed(t *testing.T) {
	mockProcessor := new(MockProcessor)
	mockCommitter := new(MockCommitter)
	mockProcessor.On("ProcessOrder", mock.Anything, int64(9)).Return(nil).Once()
	mockCommitter.On("CommitMessage", mock.Anything).Return(nil).Once()

	payload, err := tasks.NewProcessTask(9, "operator").Encode()
	require.NoError(t, err)

	jobs := make(chan *kafka.Message, 1)
	jobs <- &kafka.Message{Value: payload}
	close(jobs)

	w := &worker{
		id: 1,
		deps: workerDependencies{
			processor: mockProcessor,
			logger:    logger.NewMockLogger(),
			consumer:  mockCommitter,
			ctx:       context.Background(),
		},
		jobs:       jobs,
		maxRetries: 1,
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		w.run(&wg)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after jobs channel closed")
	}
	mockProcessor.AssertExpectations(t)
	mockCommitter.AssertExpectations(t)
}

func TestWorker_ProcessMessageIgnoresShutdown(t *testing.T) {
	payload, err := tasks.NewProcessTask(5, "payment_confirmed").Encode()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mockProcessor := new(MockProcessor)
	mockCommitter := new(MockCommitter)
	mockProcessor.On("ProcessOrder", mock.MatchedBy(func(c context.Context) bool {
		return c.Err() == nil
	}), int64(5)).Return(nil).Once()
	mockCommitter.On("CommitMessage", mock.Anything).Return(nil).Once()

	w := &worker{
		id: 1,
		deps: workerDependencies{
			processor: mockProcessor,
			logger:    logger.NewMockLogger(),
			consumer:  mockCommitter,
			ctx:       ctx,
		},
		maxRetries: 1,
	}
	w.processMessage(&kafka.Message{Value: payload})

	mockProcessor.AssertExpectations(t)
	mockCommitter.AssertExpectations(t)
}
