package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/stayware/eventbus/pkg/config"
	"github.com/stayware/eventbus/pkg/event"
)

func testSettings() config.QueueSettings {
	return config.QueueSettings{
		Addr:       "localhost:6379",
		Stream:     "hotel-events",
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		ReadCount:  10,
		BlockWait:  10 * time.Millisecond,
		Cooldown:   time.Millisecond,
	}
}

func testEnvelope() *event.Envelope {
	e := &event.Envelope{
		EventID:  "evt-1",
		Type:     event.TypeReservation,
		Action:   event.ActionCreated,
		Priority: event.PriorityHigh,
		SyncMode: event.SyncRealtime,
		Targets:  []string{"hotel-pms"},
		TenantID: "t1",
		Data:     &event.ReservationData{ReservationID: "res-1", RoomNumber: "204"},
	}
	return e
}

// anyArgs accepts whatever arguments were issued; used where commands
// carry generated timestamps. The mock still requires the expectation
// to carry the same arity as the issued command, so expectations below
// spell out the full field set even when the matcher ignores values.
func anyArgs(expected, actual []interface{}) error { return nil }

// deliveryLogFields mirrors the hash the delivery trail writes; values
// are placeholders for the custom matcher.
func deliveryLogFields() map[string]interface{} {
	return map[string]interface{}{
		"event_id":        "",
		"event_type":      "",
		"source_system":   "",
		"target_systems":  "",
		"delivery_status": "",
		"delivery_time":   "",
		"retry_count":     "",
		"error_message":   "",
		"timestamp":       "",
	}
}

// wireFields mirrors the stream entry the engine appends.
func wireFields() map[string]interface{} {
	return map[string]interface{}{
		fieldEventType: "",
		fieldAction:    "",
		fieldData:      "",
		fieldPriority:  "",
		fieldSyncMode:  "",
		fieldTargets:   "",
		fieldOrigin:    "",
		fieldTenant:    "",
		fieldTimestamp: "",
	}
}

func expectDeliveryLogWrite(mock redismock.ClientMock, eventID string) {
	key := deliveryLogKeyPrefix + eventID
	mock.ExpectTxPipeline()
	mock.CustomMatch(anyArgs).ExpectHSet(key, deliveryLogFields()).SetVal(9)
	mock.ExpectExpire(key, deliveryLogRetention).SetVal(true)
	mock.ExpectTxPipelineExec()
}

func TestPublish_Success(t *testing.T) {
	client, mock := redismock.NewClientMock()
	q := NewEngine(client, testSettings())

	mock.CustomMatch(anyArgs).ExpectXAdd(&redis.XAddArgs{
		Stream: "hotel-events",
		Values: wireFields(),
	}).SetVal("1690000000000-0")
	expectDeliveryLogWrite(mock, "evt-1")

	id, err := q.Publish(context.Background(), "hotel-events", testEnvelope())
	assert.NoError(t, err)
	assert.Equal(t, "1690000000000-0", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_BrokerWriteFailed(t *testing.T) {
	client, mock := redismock.NewClientMock()
	q := NewEngine(client, testSettings())

	mock.CustomMatch(anyArgs).ExpectXAdd(&redis.XAddArgs{
		Stream: "hotel-events",
		Values: wireFields(),
	}).SetErr(errors.New("connection reset"))
	expectDeliveryLogWrite(mock, "evt-1") // failed entry still recorded

	id, err := q.Publish(context.Background(), "hotel-events", testEnvelope())
	assert.Error(t, err)
	assert.Empty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublish_NotConnected(t *testing.T) {
	client, _ := redismock.NewClientMock()
	q := NewEngine(client, testSettings())
	q.Disconnect()

	_, err := q.Publish(context.Background(), "hotel-events", testEnvelope())
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.ErrorIs(t, q.EnsureConsumerGroup(context.Background(), "hotel-events", "g"), ErrNotConnected)
	assert.ErrorIs(t, q.HealthCheck(context.Background()), ErrNotConnected)
	_, err = q.Stats(context.Background(), "hotel-events")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestEnsureConsumerGroup_Idempotent(t *testing.T) {
	client, mock := redismock.NewClientMock()
	q := NewEngine(client, testSettings())

	mock.ExpectXGroupCreateMkStream("hotel-events", "pms-group", "$").SetVal("OK")
	mock.ExpectXGroupCreateMkStream("hotel-events", "pms-group", "$").
		SetErr(errors.New("BUSYGROUP Consumer Group name already exists"))

	assert.NoError(t, q.EnsureConsumerGroup(context.Background(), "hotel-events", "pms-group"))
	assert.NoError(t, q.EnsureConsumerGroup(context.Background(), "hotel-events", "pms-group"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureConsumerGroup_OtherErrorPropagates(t *testing.T) {
	client, mock := redismock.NewClientMock()
	q := NewEngine(client, testSettings())

	mock.ExpectXGroupCreateMkStream("hotel-events", "pms-group", "$").
		SetErr(errors.New("LOADING Redis is loading the dataset"))

	err := q.EnsureConsumerGroup(context.Background(), "hotel-events", "pms-group")
	assert.Error(t, err)
}

func TestProcessMessage_BoundedRetryThenForceAck(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cfg := testSettings()
	cfg.MaxRetries = 2
	q := NewEngine(client, cfg)

	e := testEnvelope()
	values, err := encodeWireRecord(e)
	assert.NoError(t, err)
	msg := redis.XMessage{ID: "5-0", Values: values}

	var statuses []string
	captureStatus := func(expected, actual []interface{}) error {
		for i, a := range actual {
			if s, ok := a.(string); ok && s == "delivery_status" && i+1 < len(actual) {
				statuses = append(statuses, fmt.Sprint(actual[i+1]))
			}
		}
		return nil
	}
	key := deliveryLogKeyPrefix + e.EventID

	// Attempts 1 and 2: retrying entries, message left unacknowledged.
	for i := 0; i < 2; i++ {
		mock.ExpectTxPipeline()
		mock.CustomMatch(captureStatus).ExpectHSet(key, deliveryLogFields()).SetVal(9)
		mock.ExpectExpire(key, deliveryLogRetention).SetVal(true)
		mock.ExpectTxPipelineExec()
	}
	// Attempt 3 exceeds maxRetries: force-ack plus terminal failed entry.
	mock.ExpectXAck("hotel-events", "pms-group", "5-0").SetVal(1)
	mock.ExpectTxPipeline()
	mock.CustomMatch(captureStatus).ExpectHSet(key, deliveryLogFields()).SetVal(9)
	mock.ExpectExpire(key, deliveryLogRetention).SetVal(true)
	mock.ExpectTxPipelineExec()

	calls := 0
	alwaysFail := func(ctx context.Context, e *event.Envelope, messageID string) error {
		calls++
		return errors.New("downstream unavailable")
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		q.processMessage(ctx, "hotel-events", "pms-group", msg, alwaysFail)
	}

	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"retrying", "retrying", "failed"}, statuses)
	// The attempt ledger is cleared on force-ack; the message id is done.
	assert.Equal(t, 0, q.attempts.count("5-0"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessMessage_EventualSuccess(t *testing.T) {
	client, mock := redismock.NewClientMock()
	q := NewEngine(client, testSettings()) // maxRetries = 3

	e := testEnvelope()
	values, err := encodeWireRecord(e)
	assert.NoError(t, err)
	msg := redis.XMessage{ID: "6-0", Values: values}

	var statuses []string
	captureStatus := func(expected, actual []interface{}) error {
		for i, a := range actual {
			if s, ok := a.(string); ok && s == "delivery_status" && i+1 < len(actual) {
				statuses = append(statuses, fmt.Sprint(actual[i+1]))
			}
		}
		return nil
	}
	key := deliveryLogKeyPrefix + e.EventID

	for i := 0; i < 2; i++ {
		mock.ExpectTxPipeline()
		mock.CustomMatch(captureStatus).ExpectHSet(key, deliveryLogFields()).SetVal(9)
		mock.ExpectExpire(key, deliveryLogRetention).SetVal(true)
		mock.ExpectTxPipelineExec()
	}
	// Third attempt succeeds: the ack precedes the success entry.
	mock.ExpectXAck("hotel-events", "pms-group", "6-0").SetVal(1)
	mock.ExpectTxPipeline()
	mock.CustomMatch(captureStatus).ExpectHSet(key, deliveryLogFields()).SetVal(9)
	mock.ExpectExpire(key, deliveryLogRetention).SetVal(true)
	mock.ExpectTxPipelineExec()

	calls := 0
	failTwice := func(ctx context.Context, e *event.Envelope, messageID string) error {
		calls++
		if calls <= 2 {
			return errors.New("downstream unavailable")
		}
		return nil
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		q.processMessage(ctx, "hotel-events", "pms-group", msg, failTwice)
	}

	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"retrying", "retrying", "success"}, statuses)
	assert.Equal(t, 0, q.attempts.count("6-0"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessMessage_UndecodableEntryDropped(t *testing.T) {
	client, mock := redismock.NewClientMock()
	q := NewEngine(client, testSettings())

	msg := redis.XMessage{ID: "7-0", Values: map[string]interface{}{"garbage": "x"}}
	mock.ExpectXAck("hotel-events", "pms-group", "7-0").SetVal(1)

	called := false
	handler := func(ctx context.Context, e *event.Envelope, messageID string) error {
		called = true
		return nil
	}

	q.processMessage(context.Background(), "hotel-events", "pms-group", msg, handler)
	assert.False(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsume_RoundTrip(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cfg := testSettings()
	q := NewEngine(client, cfg)

	published := testEnvelope()
	values, err := encodeWireRecord(published)
	assert.NoError(t, err)

	mock.ExpectXGroupCreateMkStream("hotel-events", "pms-group", "$").SetVal("OK")
	mock.ExpectXPendingExt(&redis.XPendingExtArgs{
		Stream:   "hotel-events",
		Group:    "pms-group",
		Start:    "-",
		End:      "+",
		Count:    cfg.ReadCount,
		Consumer: "pms-1",
	}).SetVal([]redis.XPendingExt{})
	mock.ExpectXReadGroup(&redis.XReadGroupArgs{
		Group:    "pms-group",
		Consumer: "pms-1",
		Streams:  []string{"hotel-events", ">"},
		Count:    cfg.ReadCount,
		Block:    cfg.BlockWait,
	}).SetVal([]redis.XStream{{
		Stream:   "hotel-events",
		Messages: []redis.XMessage{{ID: "8-0", Values: values}},
	}})
	mock.ExpectXAck("hotel-events", "pms-group", "8-0").SetVal(1)
	expectDeliveryLogWrite(mock, published.EventID)

	var received *event.Envelope
	handler := func(ctx context.Context, e *event.Envelope, messageID string) error {
		received = e
		q.Disconnect() // one message is enough; stop the loop
		return nil
	}

	err = q.Consume(context.Background(), "hotel-events", "pms-group", "pms-1", handler)
	assert.NoError(t, err)
	assert.NotNil(t, received)

	// Logically equal to the published event modulo enrichment fields.
	assert.Equal(t, published.EventID, received.EventID)
	assert.Equal(t, published.Type, received.Type)
	assert.Equal(t, published.Action, received.Action)
	assert.Equal(t, published.Priority, received.Priority)
	assert.Equal(t, published.Targets, received.Targets)
	assert.Equal(t, published.TenantID, received.TenantID)
	assert.Equal(t, published.Data, received.Data)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStats_ReadOnlySnapshot(t *testing.T) {
	client, mock := redismock.NewClientMock()
	q := NewEngine(client, testSettings())

	mock.ExpectXInfoStream("hotel-events").SetVal(&redis.XInfoStream{
		Length:     42,
		FirstEntry: redis.XMessage{ID: "1-0"},
		LastEntry:  redis.XMessage{ID: "42-0"},
	})
	mock.ExpectXInfoGroups("hotel-events").SetVal([]redis.XInfoGroup{
		{Name: "pms-group", Consumers: 2, Pending: 3, LastDeliveredID: "40-0"},
	})

	stats, err := q.Stats(context.Background(), "hotel-events")
	assert.NoError(t, err)
	assert.Equal(t, int64(42), stats.Length)
	assert.Equal(t, "1-0", stats.FirstEntryID)
	assert.Equal(t, "42-0", stats.LastEntryID)
	assert.Len(t, stats.Groups, 1)
	assert.Equal(t, int64(3), stats.Groups[0].Pending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthCheck(t *testing.T) {
	client, mock := redismock.NewClientMock()
	q := NewEngine(client, testSettings())

	mock.ExpectPing().SetVal("PONG")
	assert.NoError(t, q.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
