package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"boxoffice/config"
	"boxoffice/models"
	"boxoffice/monitoring"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestQueueService() (*QueueService, redismock.ClientMock) {
	db, mock := redismock.NewClientMock()

	cfg := &config.Config{
		AdmitCapacity:       2,
		QueuePositionUpdate: 2 * time.Second,
		HeartbeatTimeout:    90 * time.Second,
		QueueMaxLifetime:    30 * time.Minute,
		AdmissionTokenTTL:   2 * time.Minute,
	}

	service := &QueueService{
		Redis:    db,
		config:   cfg,
		monitor:  monitoring.NewMonitor(db),
		stopChan: make(chan struct{}),
	}

	return service, mock
}

func anyArgs(expected, actual []interface{}) error { return nil }

func TestQueueService_Join_Success(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	mock.CustomMatch(anyArgs).
		ExpectEval(enqueueScript, []string{
			"user:queue:evt1:user1",
			"queue:waiting:evt1:general",
		}, "any", "any", "any", "any", "any").SetVal([]interface{}{"ok", int64(3)})

	// a general-lane joiner stands behind the whole priority lane
	mock.ExpectLLen("queue:waiting:evt1:priority").SetVal(4)

	// the spawned admission pass sees a full processing set and stops
	mock.ExpectSCard("queue:processing:evt1").SetVal(2)

	ticket, err := service.Join(context.Background(), "evt1", "user1", "", "sess1")
	require.NoError(t, err)

	assert.Equal(t, models.QueueWaiting, ticket.Status)
	assert.Equal(t, models.LaneGeneral, ticket.Lane)
	assert.Equal(t, 7, ticket.Position)

	time.Sleep(100 * time.Millisecond)
}

func TestQueueService_Join_PriorityPositionIgnoresGeneralLane(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	mock.CustomMatch(anyArgs).
		ExpectEval(enqueueScript, []string{
			"user:queue:evt1:user1",
			"queue:waiting:evt1:priority",
		}, "any", "any", "any", "any", "any").SetVal([]interface{}{"ok", int64(2)})

	mock.ExpectSCard("queue:processing:evt1").SetVal(2)

	ticket, err := service.Join(context.Background(), "evt1", "user1", models.LanePriority, "sess1")
	require.NoError(t, err)

	assert.Equal(t, models.LanePriority, ticket.Lane)
	assert.Equal(t, 2, ticket.Position)

	time.Sleep(100 * time.Millisecond)
}

func TestQueueService_Join_AlreadyQueued(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	mock.CustomMatch(anyArgs).
		ExpectEval(enqueueScript, []string{
			"user:queue:evt1:user1",
			"queue:waiting:evt1:priority",
		}, "any", "any", "any", "any", "any").SetVal([]interface{}{"already_queued", int64(0)})

	_, err := service.Join(context.Background(), "evt1", "user1", models.LanePriority, "sess1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already_queued")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueService_ProcessQueue_DrainsPriorityFirst(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	entry := models.QueueEntry{
		UserID:    "user1",
		EventID:   "evt1",
		Lane:      models.LanePriority,
		JoinedAt:  time.Now(),
		SessionID: "sess1",
	}
	entryData, _ := json.Marshal(entry)

	mock.ExpectSCard("queue:processing:evt1").SetVal(0)
	// priority lane is popped before general
	mock.ExpectRPop("queue:waiting:evt1:priority").SetVal(string(entryData))
	mock.ExpectHGet("user:queue:evt1:user1", "session_id").SetVal("sess1")

	mock.CustomMatch(anyArgs).
		ExpectEval(admitScript, []string{
			"queue:processing:evt1",
			"user:queue:evt1:user1",
			"queue:token:any",
		}, "any", "any", "any", "any", "any").SetVal(int64(1))

	// second loop round: capacity reached
	mock.ExpectSCard("queue:processing:evt1").SetVal(2)

	service.ProcessQueue(context.Background(), "evt1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueService_ProcessQueue_SkipsStaleSession(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	entry := models.QueueEntry{
		UserID:    "user1",
		EventID:   "evt1",
		Lane:      models.LaneGeneral,
		JoinedAt:  time.Now(),
		SessionID: "old-session",
	}
	entryData, _ := json.Marshal(entry)

	mock.ExpectSCard("queue:processing:evt1").SetVal(0)
	mock.ExpectRPop("queue:waiting:evt1:priority").RedisNil()
	mock.ExpectRPop("queue:waiting:evt1:general").SetVal(string(entryData))
	mock.ExpectHGet("user:queue:evt1:user1", "session_id").SetVal("new-session")

	// stale entry dropped, loop continues to an empty queue
	mock.ExpectSCard("queue:processing:evt1").SetVal(0)
	mock.ExpectRPop("queue:waiting:evt1:priority").RedisNil()
	mock.ExpectRPop("queue:waiting:evt1:general").RedisNil()

	service.ProcessQueue(context.Background(), "evt1")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueService_ConsumeAdmission(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	mock.ExpectGetDel("queue:token:TOK123").SetVal("evt1:user1")

	binding, err := service.ConsumeAdmission(context.Background(), "TOK123")
	require.NoError(t, err)
	assert.Equal(t, "evt1:user1", binding)

	// a second redemption of the same token finds nothing
	mock.ExpectGetDel("queue:token:TOK123").RedisNil()

	_, err = service.ConsumeAdmission(context.Background(), "TOK123")
	assert.Equal(t, redis.Nil, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueService_Status_Waiting(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	mock.ExpectHGetAll("user:queue:evt1:user1").SetVal(map[string]string{
		"status":     models.QueueWaiting,
		"lane":       models.LaneGeneral,
		"session_id": "sess1",
	})
	mock.ExpectGet("queue:position:evt1:user1").SetVal("7")

	ticket, err := service.Status(context.Background(), "evt1", "user1")
	require.NoError(t, err)
	assert.Equal(t, models.QueueWaiting, ticket.Status)
	assert.Equal(t, 7, ticket.Position)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueService_Status_NotInQueue(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	mock.ExpectHGetAll("user:queue:evt1:ghost").SetVal(map[string]string{})

	_, err := service.Status(context.Background(), "evt1", "ghost")
	assert.Equal(t, redis.Nil, err)
}

func TestQueueService_Heartbeat(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	mock.ExpectExists("user:queue:evt1:user1").SetVal(1)
	mock.CustomMatch(anyArgs).
		ExpectHSet("user:queue:evt1:user1", "last_seen", 0).SetVal(1)

	require.NoError(t, service.Heartbeat(context.Background(), "evt1", "user1"))

	mock.ExpectExists("user:queue:evt1:ghost").SetVal(0)
	assert.Equal(t, redis.Nil, service.Heartbeat(context.Background(), "evt1", "ghost"))
}

func TestQueueService_MarkPaymentRetry(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	mock.ExpectExists("user:queue:evt1:user1").SetVal(1)
	mock.ExpectHSet("user:queue:evt1:user1", "status", models.QueuePaymentRetry).SetVal(1)

	require.NoError(t, service.MarkPaymentRetry(context.Background(), "evt1", "user1"))

	// a user no longer in the queue is a quiet no-op
	mock.ExpectExists("user:queue:evt1:ghost").SetVal(0)
	require.NoError(t, service.MarkPaymentRetry(context.Background(), "evt1", "ghost"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueService_ReleaseSlot(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	admitted := models.AdmittedEntry{
		UserID:     "user1",
		EventID:    "evt1",
		Lane:       models.LaneGeneral,
		AdmittedAt: time.Now(),
		SessionID:  "sess1",
		Token:      "TOK123",
	}
	member, _ := json.Marshal(admitted)

	mock.ExpectSMembers("queue:processing:evt1").SetVal([]string{string(member)})
	mock.ExpectSRem("queue:processing:evt1", string(member)).SetVal(1)
	mock.ExpectDel("user:queue:evt1:user1").SetVal(1)

	// the freed slot triggers another admission pass
	mock.ExpectSCard("queue:processing:evt1").SetVal(2)

	require.NoError(t, service.ReleaseSlot(context.Background(), "evt1", "user1"))

	time.Sleep(100 * time.Millisecond)
}

func TestQueueService_Metrics(t *testing.T) {
	service, mock := setupTestQueueService()
	defer mock.ClearExpect()

	mock.ExpectLLen("queue:waiting:evt1:priority").SetVal(4)
	mock.ExpectLLen("queue:waiting:evt1:general").SetVal(10)
	mock.ExpectSCard("queue:processing:evt1").SetVal(2)

	metrics, err := service.Metrics(context.Background(), "evt1")
	require.NoError(t, err)
	assert.Equal(t, 14, metrics.TotalInQueue)
	assert.Equal(t, 4, metrics.PriorityWaiting)
	assert.Equal(t, 10, metrics.GeneralWaiting)
	assert.Equal(t, 2, metrics.AdmittedCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
