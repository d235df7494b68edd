package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"boxoffice/config"
	"boxoffice/models"
	"boxoffice/monitoring"
	"boxoffice/utils"

	pubnub "github.com/pubnub/go"
	"github.com/redis/go-redis/v9"
)

// enqueueScript atomically checks membership and pushes the entry into
// the requested lane. Returns {result, queue_len}.
const enqueueScript = `
local userKey = KEYS[1]
local laneKey = KEYS[2]

if redis.call('EXISTS', userKey) == 1 then
	return {'already_queued', 0}
end

redis.call('LPUSH', laneKey, ARGV[1])
redis.call('HSET', userKey,
	'status', 'waiting',
	'lane', ARGV[2],
	'joined_at', ARGV[3],
	'session_id', ARGV[4],
	'last_seen', ARGV[3])
redis.call('EXPIRE', userKey, ARGV[5])

return {'ok', redis.call('LLEN', laneKey)}
`

// admitScript atomically checks processing capacity, moves the user into
// the processing set and issues the single-use admission token.
const admitScript = `
local processingKey = KEYS[1]
local userKey = KEYS[2]
local tokenKey = KEYS[3]

if redis.call('SCARD', processingKey) >= tonumber(ARGV[1]) then
	return 0
end

redis.call('SADD', processingKey, ARGV[2])
redis.call('HSET', userKey, 'status', 'admitted', 'token', ARGV[3])
redis.call('SET', tokenKey, ARGV[4], 'EX', ARGV[5])

return 1
`

// QueueService is the virtual waiting room: Redis-backed lanes in front
// of every on-sale event, bounded admission into the reservation flow,
// and single-use admission tokens. It never touches inventory.
type QueueService struct {
	Redis   *redis.Client
	pubnub  *pubnub.PubNub
	config  *config.Config
	monitor *monitoring.Monitor

	stopChan         chan struct{}
	wg               sync.WaitGroup
	activeGoroutines int64
}

func NewQueueService(redisClient *redis.Client, pn *pubnub.PubNub, cfg *config.Config, monitor *monitoring.Monitor) *QueueService {
	service := &QueueService{
		Redis:    redisClient,
		pubnub:   pn,
		config:   cfg,
		monitor:  monitor,
		stopChan: make(chan struct{}),
	}

	service.startBackgroundServices()

	return service
}

func (s *QueueService) startBackgroundServices() {
	s.wg.Add(1)
	go s.timeoutManager()

	s.wg.Add(1)
	go s.positionUpdater()

	s.wg.Add(1)
	go s.healthMonitor()

	slog.Info("queue: background services started", "goroutines", 3)
}

func laneKey(eventID, lane string) string {
	return fmt.Sprintf("queue:waiting:%s:%s", eventID, lane)
}

func processingKey(eventID string) string {
	return fmt.Sprintf("queue:processing:%s", eventID)
}

func userKey(eventID, userID string) string {
	return fmt.Sprintf("user:queue:%s:%s", eventID, userID)
}

func tokenKey(token string) string {
	return fmt.Sprintf("queue:token:%s", token)
}

// Join places the user into a waiting lane. Joining twice is rejected by
// the script, not by a racy read-then-push.
func (s *QueueService) Join(ctx context.Context, eventID, userID, lane, sessionID string) (*models.QueueTicket, error) {
	if lane != models.LanePriority {
		lane = models.LaneGeneral
	}

	entry := models.QueueEntry{
		UserID:    userID,
		EventID:   eventID,
		Lane:      lane,
		JoinedAt:  time.Now(),
		SessionID: sessionID,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	result, err := s.Redis.Eval(ctx, enqueueScript,
		[]string{userKey(eventID, userID), laneKey(eventID, lane)},
		string(data), lane, time.Now().Unix(), sessionID,
		int(s.config.QueueMaxLifetime.Seconds()),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: join: %w", err)
	}

	reply, ok := result.([]interface{})
	if !ok || len(reply) != 2 {
		return nil, fmt.Errorf("queue: join: unexpected script reply: %v", result)
	}
	if reply[0] != "ok" {
		return nil, fmt.Errorf("queue: join: %v", reply[0])
	}

	// the whole priority lane drains first, so a general-lane joiner
	// stands behind it
	position := int(reply[1].(int64))
	if lane == models.LaneGeneral {
		if ahead, err := s.Redis.LLen(ctx, laneKey(eventID, models.LanePriority)).Result(); err == nil {
			position += int(ahead)
		}
	}

	s.monitor.TrackQueueOperation("join", eventID, "success")

	go s.ProcessQueue(context.Background(), eventID)

	return &models.QueueTicket{
		EventID:  eventID,
		UserID:   userID,
		Lane:     lane,
		Status:   models.QueueWaiting,
		Position: position,
	}, nil
}

// Status returns the user's current place in the queue.
func (s *QueueService) Status(ctx context.Context, eventID, userID string) (*models.QueueTicket, error) {
	fields, err := s.Redis.HGetAll(ctx, userKey(eventID, userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, redis.Nil
	}

	ticket := &models.QueueTicket{
		EventID: eventID,
		UserID:  userID,
		Lane:    fields["lane"],
		Status:  fields["status"],
	}

	if ticket.Status == models.QueueWaiting {
		posKey := fmt.Sprintf("queue:position:%s:%s", eventID, userID)
		if pos, err := s.Redis.Get(ctx, posKey).Int(); err == nil {
			ticket.Position = pos
		}
	}

	if ticket.Status == models.QueueAdmitted {
		ticket.Token = fields["token"]
		if ttl, err := s.Redis.TTL(ctx, tokenKey(ticket.Token)).Result(); err == nil && ttl > 0 {
			ticket.ExpiresIn = int(ttl.Seconds())
		}
	}

	return ticket, nil
}

// Heartbeat records liveness; the timeout manager reaps stale sessions.
func (s *QueueService) Heartbeat(ctx context.Context, eventID, userID string) error {
	key := userKey(eventID, userID)
	exists, err := s.Redis.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return redis.Nil
	}
	return s.Redis.HSet(ctx, key, "last_seen", time.Now().Unix()).Err()
}

// Leave abandons the user's place: waiting entry removed from its lane,
// admitted slot released so the next user can move up.
func (s *QueueService) Leave(ctx context.Context, eventID, userID string) error {
	fields, err := s.Redis.HGetAll(ctx, userKey(eventID, userID)).Result()
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}

	switch fields["status"] {
	case models.QueueWaiting:
		s.removeFromLane(ctx, eventID, fields["lane"], userID)
		s.Redis.Del(ctx, userKey(eventID, userID))

	case models.QueueAdmitted:
		if token := fields["token"]; token != "" {
			s.Redis.Del(ctx, tokenKey(token))
		}
		s.ReleaseSlot(ctx, eventID, userID)
	}

	s.monitor.TrackQueueOperation("leave", eventID, "success")
	return nil
}

func (s *QueueService) removeFromLane(ctx context.Context, eventID, lane, userID string) {
	key := laneKey(eventID, lane)

	entries, err := s.Redis.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return
	}

	for _, entryData := range entries {
		var entry models.QueueEntry
		if err := json.Unmarshal([]byte(entryData), &entry); err != nil {
			continue
		}
		if entry.UserID == userID {
			s.Redis.LRem(ctx, key, 1, entryData)
			break
		}
	}
}

// ProcessQueue admits users while processing capacity remains, draining
// the priority lane before the general lane.
func (s *QueueService) ProcessQueue(ctx context.Context, eventID string) {
	admitted := 0

	for {
		count, err := s.Redis.SCard(ctx, processingKey(eventID)).Result()
		if err != nil {
			slog.Error("queue: processing count", "event", eventID, "error", err)
			break
		}
		if count >= int64(s.config.AdmitCapacity) {
			break
		}

		entry, ok := s.popNextWaiting(ctx, eventID)
		if !ok {
			break
		}

		if !s.validateUserSession(ctx, eventID, entry.UserID, entry.SessionID) {
			slog.Warn("queue: stale session skipped", "event", eventID, "user", entry.UserID)
			continue
		}

		if s.admitUser(ctx, eventID, entry) {
			admitted++
			s.monitor.TrackQueueOperation("admit", eventID, "success")
		}
	}

	if admitted > 0 {
		slog.Info("queue: admitted users", "event", eventID, "count", admitted)
	}
}

func (s *QueueService) popNextWaiting(ctx context.Context, eventID string) (models.QueueEntry, bool) {
	var entry models.QueueEntry

	for _, lane := range []string{models.LanePriority, models.LaneGeneral} {
		data, err := s.Redis.RPop(ctx, laneKey(eventID, lane)).Result()
		if err == redis.Nil {
			continue
		} else if err != nil {
			slog.Error("queue: pop", "event", eventID, "lane", lane, "error", err)
			return entry, false
		}

		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			slog.Error("queue: unmarshal entry", "error", err)
			continue
		}
		return entry, true
	}

	return entry, false
}

func (s *QueueService) validateUserSession(ctx context.Context, eventID, userID, sessionID string) bool {
	stored, err := s.Redis.HGet(ctx, userKey(eventID, userID), "session_id").Result()
	return err == nil && stored == sessionID
}

func (s *QueueService) admitUser(ctx context.Context, eventID string, entry models.QueueEntry) bool {
	token, err := utils.GenerateCode(16)
	if err != nil {
		slog.Error("queue: token mint", "error", err)
		return false
	}

	admittedEntry := models.AdmittedEntry{
		UserID:     entry.UserID,
		EventID:    entry.EventID,
		Lane:       entry.Lane,
		AdmittedAt: time.Now(),
		SessionID:  entry.SessionID,
		Token:      token,
	}
	admittedData, _ := json.Marshal(admittedEntry)

	result, err := s.Redis.Eval(ctx, admitScript,
		[]string{processingKey(eventID), userKey(eventID, entry.UserID), tokenKey(token)},
		s.config.AdmitCapacity,
		string(admittedData),
		token,
		fmt.Sprintf("%s:%s", eventID, entry.UserID),
		int(s.config.AdmissionTokenTTL.Seconds()),
	).Result()
	if err != nil {
		slog.Error("queue: admit script", "event", eventID, "user", entry.UserID, "error", err)
		return false
	}

	if result.(int64) != 1 {
		// capacity filled between the SCARD check and here; put the
		// entry back at the head of its lane
		raw, _ := json.Marshal(entry)
		s.Redis.RPush(ctx, laneKey(eventID, entry.Lane), raw)
		return false
	}

	s.notifyAdmitted(entry.UserID, eventID, token)
	slog.Info("queue: user admitted", "event", eventID, "user", entry.UserID, "lane", entry.Lane)
	return true
}

// MarkPaymentRetry flags an admitted user whose payment intent could not
// be created. They keep their processing slot to retry checkout; an
// abandoned retry is reclaimed by the heartbeat reaper like any other
// stale admitted session.
func (s *QueueService) MarkPaymentRetry(ctx context.Context, eventID, userID string) error {
	key := userKey(eventID, userID)
	exists, err := s.Redis.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return nil
	}
	return s.Redis.HSet(ctx, key, "status", models.QueuePaymentRetry).Err()
}

// ConsumeAdmission redeems an admission token exactly once via GETDEL.
// Returns the "<event>:<user>" binding the token was issued for.
func (s *QueueService) ConsumeAdmission(ctx context.Context, token string) (string, error) {
	value, err := s.Redis.GetDel(ctx, tokenKey(token)).Result()
	if err == redis.Nil {
		return "", redis.Nil
	} else if err != nil {
		return "", fmt.Errorf("queue: consume token: %w", err)
	}
	return value, nil
}

// ReleaseSlot frees the user's processing slot and pulls the next user in.
func (s *QueueService) ReleaseSlot(ctx context.Context, eventID, userID string) error {
	key := processingKey(eventID)

	members, err := s.Redis.SMembers(ctx, key).Result()
	if err != nil {
		return err
	}

	for _, member := range members {
		var admitted models.AdmittedEntry
		if err := json.Unmarshal([]byte(member), &admitted); err != nil {
			continue
		}

		if admitted.UserID == userID {
			s.Redis.SRem(ctx, key, member)
			s.Redis.Del(ctx, userKey(eventID, userID))
			break
		}
	}

	go s.ProcessQueue(context.Background(), eventID)
	return nil
}

// Metrics summarizes one event's queue for the admin dashboard.
func (s *QueueService) Metrics(ctx context.Context, eventID string) (*models.QueueMetrics, error) {
	priority, err := s.Redis.LLen(ctx, laneKey(eventID, models.LanePriority)).Result()
	if err != nil {
		return nil, err
	}
	general, err := s.Redis.LLen(ctx, laneKey(eventID, models.LaneGeneral)).Result()
	if err != nil {
		return nil, err
	}
	admitted, err := s.Redis.SCard(ctx, processingKey(eventID)).Result()
	if err != nil {
		return nil, err
	}

	return &models.QueueMetrics{
		EventID:         eventID,
		TotalInQueue:    int(priority + general),
		PriorityWaiting: int(priority),
		GeneralWaiting:  int(general),
		AdmittedCount:   int(admitted),
		LastUpdated:     time.Now(),
	}, nil
}

// timeoutManager reaps admitted users whose heartbeat went stale and
// waiting users past the queue lifetime. One goroutine for all events.
func (s *QueueService) timeoutManager() {
	defer s.wg.Done()
	atomic.AddInt64(&s.activeGoroutines, 1)
	defer atomic.AddInt64(&s.activeGoroutines, -1)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	slog.Info("queue: timeout manager started")

	for {
		select {
		case <-ticker.C:
			s.checkAllTimeouts()
		case <-s.stopChan:
			slog.Info("queue: timeout manager stopping")
			return
		}
	}
}

func (s *QueueService) checkAllTimeouts() {
	ctx := context.Background()
	reaped := 0

	keys, err := s.Redis.Keys(ctx, "queue:processing:*").Result()
	if err != nil {
		slog.Error("queue: list processing keys", "error", err)
		return
	}

	for _, key := range keys {
		eventID := key[len("queue:processing:"):]

		members, err := s.Redis.SMembers(ctx, key).Result()
		if err != nil {
			continue
		}

		for _, member := range members {
			var admitted models.AdmittedEntry
			if err := json.Unmarshal([]byte(member), &admitted); err != nil {
				continue
			}

			lastSeen, err := s.Redis.HGet(ctx, userKey(eventID, admitted.UserID), "last_seen").Int64()
			if err != nil {
				lastSeen = admitted.AdmittedAt.Unix()
			}

			if time.Since(time.Unix(lastSeen, 0)) > s.config.HeartbeatTimeout {
				slog.Warn("queue: admitted session stale",
					"event", eventID,
					"user", admitted.UserID,
					"idle", time.Since(time.Unix(lastSeen, 0)).String())

				if admitted.Token != "" {
					s.Redis.Del(ctx, tokenKey(admitted.Token))
				}
				s.Redis.SRem(ctx, key, member)
				s.Redis.Del(ctx, userKey(eventID, admitted.UserID))
				s.notifyTimedOut(admitted.UserID, eventID)

				s.monitor.TrackQueueOperation("timeout", eventID, "success")
				reaped++

				s.wg.Add(1)
				go func(eventID string) {
					defer s.wg.Done()
					atomic.AddInt64(&s.activeGoroutines, 1)
					defer atomic.AddInt64(&s.activeGoroutines, -1)

					s.ProcessQueue(ctx, eventID)
				}(eventID)
			}
		}
	}

	s.expireStaleWaiting(ctx)

	if reaped > 0 {
		slog.Info("queue: reaped stale sessions", "count", reaped, "events", len(keys))
	}
}

func (s *QueueService) expireStaleWaiting(ctx context.Context) {
	keys, err := s.Redis.Keys(ctx, "queue:waiting:*").Result()
	if err != nil {
		return
	}

	for _, key := range keys {
		entries, err := s.Redis.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			continue
		}

		for _, entryData := range entries {
			var entry models.QueueEntry
			if err := json.Unmarshal([]byte(entryData), &entry); err != nil {
				continue
			}

			if time.Since(entry.JoinedAt) > s.config.QueueMaxLifetime {
				s.Redis.LRem(ctx, key, 1, entryData)
				s.Redis.Del(ctx, userKey(entry.EventID, entry.UserID))
				slog.Info("queue: waiting entry expired", "event", entry.EventID, "user", entry.UserID)
			}
		}
	}
}

// positionUpdater refreshes waiting positions for all events and pushes
// throttled notifications.
func (s *QueueService) positionUpdater() {
	defer s.wg.Done()
	atomic.AddInt64(&s.activeGoroutines, 1)
	defer atomic.AddInt64(&s.activeGoroutines, -1)

	ticker := time.NewTicker(s.config.QueuePositionUpdate)
	defer ticker.Stop()

	slog.Info("queue: position updater started")

	for {
		select {
		case <-ticker.C:
			s.updateAllPositions()
		case <-s.stopChan:
			slog.Info("queue: position updater stopping")
			return
		}
	}
}

func (s *QueueService) updateAllPositions() {
	ctx := context.Background()

	events := map[string]bool{}
	keys, err := s.Redis.Keys(ctx, "queue:waiting:*").Result()
	if err != nil {
		slog.Error("queue: list waiting keys", "error", err)
		return
	}

	for _, key := range keys {
		// strip prefix and lane suffix to recover the event id
		rest := key[len("queue:waiting:"):]
		for _, lane := range []string{":" + models.LanePriority, ":" + models.LaneGeneral} {
			if len(rest) > len(lane) && rest[len(rest)-len(lane):] == lane {
				events[rest[:len(rest)-len(lane)]] = true
			}
		}
	}

	for eventID := range events {
		s.updateEventPositions(ctx, eventID)
	}
}

// updateEventPositions numbers users across both lanes in admit order:
// the whole priority lane drains before general positions start.
func (s *QueueService) updateEventPositions(ctx context.Context, eventID string) {
	position := 0

	for _, lane := range []string{models.LanePriority, models.LaneGeneral} {
		entries, err := s.Redis.LRange(ctx, laneKey(eventID, lane), 0, -1).Result()
		if err != nil {
			continue
		}

		// RPop admits from the tail, so the tail is position 1
		for i := len(entries) - 1; i >= 0; i-- {
			var entry models.QueueEntry
			if err := json.Unmarshal([]byte(entries[i]), &entry); err != nil {
				continue
			}

			position++

			posKey := fmt.Sprintf("queue:position:%s:%s", eventID, entry.UserID)
			s.Redis.Set(ctx, posKey, position, 15*time.Second)

			if s.shouldNotifyPosition(position) {
				s.notifyUserPosition(entry.UserID, eventID, position)
			}
		}
	}
}

func (s *QueueService) shouldNotifyPosition(position int) bool {
	if position <= 5 {
		return true
	} else if position <= 20 {
		return position%2 == 0
	} else if position <= 100 {
		return position%10 == 0
	}
	return position%50 == 0
}

func (s *QueueService) healthMonitor() {
	defer s.wg.Done()
	atomic.AddInt64(&s.activeGoroutines, 1)
	defer atomic.AddInt64(&s.activeGoroutines, -1)

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.logHealthStats()
		case <-s.stopChan:
			return
		}
	}
}

func (s *QueueService) logHealthStats() {
	ctx := context.Background()

	waitingKeys, _ := s.Redis.Keys(ctx, "queue:waiting:*").Result()
	processingKeys, _ := s.Redis.Keys(ctx, "queue:processing:*").Result()

	totalWaiting := 0
	totalAdmitted := 0

	for _, key := range waitingKeys {
		count, _ := s.Redis.LLen(ctx, key).Result()
		totalWaiting += int(count)
	}
	for _, key := range processingKeys {
		count, _ := s.Redis.SCard(ctx, key).Result()
		totalAdmitted += int(count)
	}

	memStats := &runtime.MemStats{}
	runtime.ReadMemStats(memStats)

	slog.Info("queue: health",
		"lanes", len(waitingKeys),
		"waiting", totalWaiting,
		"admitted", totalAdmitted,
		"goroutines", atomic.LoadInt64(&s.activeGoroutines),
		"alloc_mb", float64(memStats.Alloc)/1024/1024)
}

func (s *QueueService) notifyAdmitted(userID, eventID, token string) {
	if s.pubnub == nil {
		return
	}
	s.pubnub.Publish().
		Channel(fmt.Sprintf("user-%s", userID)).
		Message(map[string]any{
			"type":     "queue_status",
			"status":   models.QueueAdmitted,
			"event_id": eventID,
			"token":    token,
		}).
		Execute()
}

func (s *QueueService) notifyUserPosition(userID, eventID string, position int) {
	if s.pubnub == nil {
		return
	}

	message := fmt.Sprintf("You are #%d in line", position)
	if position == 1 {
		message = "You're next!"
	} else if position <= 5 {
		message = fmt.Sprintf("Almost there! You're #%d", position)
	}

	s.pubnub.Publish().
		Channel(fmt.Sprintf("user-%s", userID)).
		Message(map[string]any{
			"type":     "queue_position",
			"position": position,
			"event_id": eventID,
			"message":  message,
		}).
		Execute()
}

func (s *QueueService) notifyTimedOut(userID, eventID string) {
	if s.pubnub == nil {
		return
	}
	s.pubnub.Publish().
		Channel(fmt.Sprintf("user-%s", userID)).
		Message(map[string]any{
			"type":     "queue_timeout",
			"event_id": eventID,
			"message":  "Your session has timed out. Please rejoin the queue.",
		}).
		Execute()
}

// Shutdown stops the background goroutines and waits for them.
func (s *QueueService) Shutdown() {
	slog.Info("queue: shutting down")

	close(s.stopChan)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("queue: all goroutines stopped")
	case <-time.After(30 * time.Second):
		slog.Warn("queue: timeout waiting for goroutines")
	}
}
