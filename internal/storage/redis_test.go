package storage

import (
	"context"
	"testing"
	"time"

	"golang-intel-service/internal/channel"
	"golang-intel-service/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) (*RedisAdapter, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	adapter, err := NewRedisAdapter(context.Background(), "redis://"+server.Addr()+"/0", nil)
	require.Nil(t, err)
	t.Cleanup(func() { _ = adapter.Close() })
	return adapter, server
}

func TestKeyNaming(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("latest:market_data:AAPL", LatestKey(channel.MarketData, "AAPL"))
	assert.Equal("records:threat_data", RecordsChannel(channel.ThreatData))
}

func TestNewRedisAdapterErrors(t *testing.T) {
	assert := assert.New(t)

	// Case 1: unparseable URL
	_, err := NewRedisAdapter(context.Background(), "://nope", nil)
	assert.NotNil(err)

	// Case 2: nothing listening
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err = NewRedisAdapter(ctx, "redis://127.0.0.1:1/0", nil)
	assert.NotNil(err)
}

func TestMirrorEntryRoundTrip(t *testing.T) {
	assert := assert.New(t)
	adapter, server := newTestAdapter(t)
	ctx := context.Background()

	rec := model.Record{
		Category:  channel.MarketData,
		Key:       "AAPL",
		Payload:   model.Payload{"price": 101},
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	require.Nil(t, adapter.MirrorEntry(ctx, rec, 30*time.Second))
	assert.Equal(30*time.Second, server.TTL(LatestKey(channel.MarketData, "AAPL")))

	got, found, err := adapter.GetEntry(ctx, channel.MarketData, "AAPL")
	require.Nil(t, err)
	assert.True(found)
	assert.Equal(rec.Key, got.Key)
	assert.Equal(float64(101), got.Payload["price"])
	assert.True(rec.Timestamp.Equal(got.Timestamp))

	// Case 1: a miss is not an error
	_, found, err = adapter.GetEntry(ctx, channel.MarketData, "MSFT")
	assert.Nil(err)
	assert.False(found)

	// Case 2: the mirror expires with its TTL
	server.FastForward(31 * time.Second)
	_, found, err = adapter.GetEntry(ctx, channel.MarketData, "AAPL")
	assert.Nil(err)
	assert.False(found)

	// Case 3: a corrupted value is an error
	require.Nil(t, server.Set(LatestKey(channel.TradeData, "UK"), "not json"))
	_, _, err = adapter.GetEntry(ctx, channel.TradeData, "UK")
	assert.NotNil(err)
}

func TestPublishAndSubscribeRecords(t *testing.T) {
	assert := assert.New(t)
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	pubsub, err := adapter.SubscribeRecords(ctx, []channel.Category{channel.ThreatData})
	require.Nil(t, err)
	defer pubsub.Close()

	rec := model.Record{Category: channel.ThreatData, Key: "APT-29", Payload: model.Payload{"severity": "high"}}
	require.Nil(t, adapter.PublishRecord(ctx, rec))

	select {
	case msg := <-pubsub.Channel():
		assert.Equal(RecordsChannel(channel.ThreatData), msg.Channel)
		got, err := model.DecodeRecord([]byte(msg.Payload))
		require.Nil(t, err)
		assert.Equal("APT-29", got.Key)
		assert.Equal("high", got.Payload["severity"])
	case <-time.After(2 * time.Second):
		t.Fatal("published record was not received")
	}
}

func TestStatsCountsMirroredKeys(t *testing.T) {
	assert := assert.New(t)
	adapter, server := newTestAdapter(t)
	ctx := context.Background()

	require.Nil(t, adapter.MirrorEntry(ctx, model.Record{Category: channel.MarketData, Key: "AAPL"}, time.Minute))
	require.Nil(t, adapter.MirrorEntry(ctx, model.Record{Category: channel.TradeData, Key: "UK"}, time.Minute))
	require.Nil(t, server.Set("unrelated", "x"))

	stats, err := adapter.Stats(ctx)
	require.Nil(t, err)
	assert.Equal(2, stats["mirrored_keys"])
	assert.Equal("connected", stats["connection_status"])
}
