package server

import (
	"context"
	"errors"
	"testing"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/stats"
	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestMarkRead(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)
	ids := []string{"m1", "m2"}
	db.On("MarkMessagesRead", mock.Anything, "chat1", ids, "reader").Return(ids, nil).Once()
	// second call finds nothing left to update
	db.On("MarkMessagesRead", mock.Anything, "chat1", ids, "reader").Return([]string{}, nil).Once()

	cs := newTestChatServer(t, db, stats.NewNoopStats())
	reader := newTestClient(cs, "r1", "reader")
	readerOther := newTestClient(cs, "r2", "reader")
	sender := newTestClient(cs, "s1", "sender")
	for _, c := range []*Client{reader, readerOther, sender} {
		cs.router.Join(c, "chat1")
	}

	expected := types.ReadReceipt{ChatId: "chat1", MessageIds: ids, ReadBy: "reader"}
	for i := 0; i < 2; i++ {
		err := cs.MarkRead(context.Background(), "chat1", ids, "reader", ExcludeConn("r1"))
		assert.NoError(t, err)

		assert.Empty(t, drain(reader), "expected the reader's connection to be excluded")
		assert.Len(t, drain(readerOther), 1)

		frames := framesWithEvent(drain(sender), EventMessageRead)
		if assert.Len(t, frames, 1, "expected one broadcast per call") {
			assert.Equal(t, expected, frames[0].Data)
		}
	}
}

func TestMarkReadStoreFailure(t *testing.T) {
	db := &database.MockChatRepository{}
	db.On("MarkMessagesRead", mock.Anything, "chat1", []string{"m1"}, "reader").Return([]string(nil), errors.New("timeout"))

	cs := newTestChatServer(t, db, stats.NewNoopStats())
	peer := newTestClient(cs, "p1", "peer")
	cs.router.Join(peer, "chat1")

	err := cs.MarkRead(context.Background(), "chat1", []string{"m1"}, "reader", Exclusion{})
	assert.Error(t, err)
	assert.Empty(t, drain(peer), "expected no broadcast when the write fails")
}

func TestMarkReadNoIds(t *testing.T) {
	cs := newTestChatServer(t, &database.MockChatRepository{}, stats.NewNoopStats())
	assert.Error(t, cs.MarkRead(context.Background(), "chat1", nil, "reader", Exclusion{}))
}
