package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatbridge/linecore/pkg/models"
	testdb "github.com/chatbridge/linecore/test/database"
)

// LINE retries deliveries, and retries can land on a different replica than
// the first attempt. The dedup unique index and the get-or-create retry must
// therefore hold across independent connection pools, not just within one
// process.
func TestConversationService_CrossReplica(t *testing.T) {
	shared := testdb.NewSharedTestDB(t)
	svcs := []*ConversationService{
		NewConversationService(shared.NewClient(t)),
		NewConversationService(shared.NewClient(t)),
	}
	botID := seedBot(t, shared.NewClient(t), "owner-1", "support-bot")
	ctx := context.Background()

	t.Run("concurrent redeliveries insert exactly one message", func(t *testing.T) {
		const attempts = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
			news int
			ids  = map[uuid.UUID]struct{}{}
		)
		for i := 0; i < attempts; i++ {
			svc := svcs[i%len(svcs)]
			wg.Add(1)
			go func() {
				defer wg.Done()
				msg, isNew, err := svc.AppendUserMessage(ctx, models.AppendUserMessageInput{
					BotID:         botID,
					LineUserID:    "U-replica",
					LineMessageID: strptr("wh-replica-1"),
					MessageType:   models.MessageTypeText,
					Content:       models.JSONMap{"text": "hello"},
				})
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if isNew {
					news++
				}
				ids[msg.ID] = struct{}{}
			}()
		}
		wg.Wait()

		require.Empty(t, errs)
		assert.Equal(t, 1, news, "exactly one delivery may win the insert")
		assert.Len(t, ids, 1, "every delivery must see the same stored message")

		page, err := svcs[0].ListMessages(ctx, botID, "U-replica", models.MessageFilters{})
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)
	})

	t.Run("concurrent first contact converges on one conversation", func(t *testing.T) {
		const attempts = 6
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
			ids  = map[uuid.UUID]struct{}{}
		)
		for i := 0; i < attempts; i++ {
			svc := svcs[i%len(svcs)]
			wg.Add(1)
			go func() {
				defer wg.Done()
				conv, err := svc.GetOrCreate(ctx, botID, "U-first-contact")
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				ids[conv.ID] = struct{}{}
			}()
		}
		wg.Wait()

		require.Empty(t, errs)
		assert.Len(t, ids, 1)
	})
}
