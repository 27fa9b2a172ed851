package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mohsinalimat/watchparty/internal/fleet"
	"github.com/mohsinalimat/watchparty/internal/tasks"
)

type mockTerminator struct{ mock.Mock }

func (m *mockTerminator) Terminate(ctx context.Context, pool fleet.Pool, id string) error {
	return m.Called(ctx, pool, id).Error(0)
}

type mockFlusher struct{ mock.Mock }

func (m *mockFlusher) FlushAll(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func TestVBrowserResetHandler(t *testing.T) {
	pool := fleet.Pool{Provider: "DO", Region: "EU"}
	task, err := tasks.NewVBrowserResetTask(pool, "vm-1")
	require.NoError(t, err)

	term := new(mockTerminator)
	term.On("Terminate", mock.Anything, pool, "vm-1").Return(nil).Once()

	require.NoError(t, NewVBrowserResetHandler(term).ProcessTask(context.Background(), task))
	term.AssertExpectations(t)
}

func TestVBrowserResetHandler_RetriesOnFailure(t *testing.T) {
	pool := fleet.Pool{Provider: "DO"}
	task, err := tasks.NewVBrowserResetTask(pool, "vm-1")
	require.NoError(t, err)
	term := new(mockTerminator)
	term.On("Terminate", mock.Anything, pool, "vm-1").Return(errors.New("redis down"))

	err = NewVBrowserResetHandler(term).ProcessTask(context.Background(), task)

	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestVBrowserResetHandler_SkipsMalformedPayload(t *testing.T) {
	term := new(mockTerminator)
	task := asynq.NewTask(tasks.TypeVBrowserReset, []byte(`{"provider":"DO"}`))

	err := NewVBrowserResetHandler(term).ProcessTask(context.Background(), task)

	assert.ErrorIs(t, err, asynq.SkipRetry)
	term.AssertNotCalled(t, "Terminate", mock.Anything, mock.Anything, mock.Anything)
}

func TestRoomFlushHandler(t *testing.T) {
	flusher := new(mockFlusher)
	flusher.On("FlushAll", mock.Anything).Return(errors.New("one room failed")).Once()

	err := NewRoomFlushHandler(flusher).ProcessTask(context.Background(), tasks.NewRoomFlushTask())

	assert.NoError(t, err)
	flusher.AssertExpectations(t)
}
