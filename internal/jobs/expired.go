package jobs

import (
	"context"
	"log"
	"time"

	"github.com/samber/lo"

	"github.com/npezzotti/go-messenger/internal/database"
	"github.com/npezzotti/go-messenger/internal/stats"
)

const expiredRunTimeout = 30 * time.Second

// DeleteNotifier broadcasts message deletions to the members of a chat.
type DeleteNotifier interface {
	NotifyMessageDeleted(chatId, messageId string, participantIds []string)
}

// ExpiredMessageJob soft deletes self-destructing messages once their
// expiry has passed and tells each chat about them.
type ExpiredMessageJob struct {
	log      *log.Logger
	db       database.ChatRepository
	notifier DeleteNotifier
	stats    stats.StatsProvider
	now      func() time.Time
}

func NewExpiredMessageJob(logger *log.Logger, db database.ChatRepository, n DeleteNotifier, st stats.StatsProvider) *ExpiredMessageJob {
	return &ExpiredMessageJob{
		log:      logger,
		db:       db,
		notifier: n,
		stats:    st,
		now:      time.Now,
	}
}

// Run implements cron.Job.
func (j *ExpiredMessageJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), expiredRunTimeout)
	defer cancel()

	if _, err := j.RunOnce(ctx); err != nil {
		j.log.Printf("expired messages: %v", err)
	}
}

// RunOnce performs a single purge and returns the number of messages removed.
func (j *ExpiredMessageJob) RunOnce(ctx context.Context) (int, error) {
	expired, err := j.db.SoftDeleteExpiredMessages(ctx, j.now().UTC())
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}

	byChat := lo.GroupBy(expired, func(ref database.MessageRef) string {
		return ref.ChatId
	})
	for chatId, refs := range byChat {
		participantIds, err := j.db.GetParticipantIds(ctx, chatId)
		if err != nil {
			j.log.Printf("expired messages: participants of chat %s: %v", chatId, err)
			continue
		}
		for _, ref := range refs {
			j.notifier.NotifyMessageDeleted(chatId, ref.Id, participantIds)
		}
	}

	j.stats.Add(stats.ExpiredMessages, len(expired))
	j.log.Printf("expired %d message(s) in %d chat(s)", len(expired), len(byChat))

	return len(expired), nil
}
