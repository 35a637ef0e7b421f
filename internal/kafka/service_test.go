package kafka

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/nipunap/kafkawatch/internal/config"
	"github.com/nipunap/kafkawatch/internal/events"
	"github.com/nipunap/kafkawatch/internal/pool"
)

func testService() *Service {
	cfg := &config.Config{Clusters: []config.ClusterConfig{
		{Name: "prod", Type: config.ClusterKafka, BootstrapServers: "localhost:9092"},
		{Name: "staging", Type: config.ClusterKafka, BootstrapServers: "localhost:9093"},
	}}
	return NewService(cfg, pool.New(discardLogger()), nil, nil, events.NewBus(), discardLogger())
}

func TestClustersListsRegistryOrder(t *testing.T) {
	s := testService()

	want := []string{"prod", "staging"}
	if got := s.Clusters(); !reflect.DeepEqual(got, want) {
		t.Errorf("Clusters() = %v, want %v", got, want)
	}
}

func TestUnknownClusterIsResourceNotFound(t *testing.T) {
	s := testService()

	_, err := s.ListTopics(context.Background(), "nope")
	if err == nil {
		t.Fatal("expected error for unknown cluster")
	}
	if got := CategoryOf(err); got != CategoryResourceNotFound {
		t.Errorf("CategoryOf = %s, want %s", got, CategoryResourceNotFound)
	}
}

func TestProduceUnknownClusterIsResourceNotFound(t *testing.T) {
	s := testService()

	err := s.Produce(context.Background(), "nope", "orders", nil, []byte("{}"))
	if got := CategoryOf(err); got != CategoryResourceNotFound {
		t.Errorf("CategoryOf = %s, want %s", got, CategoryResourceNotFound)
	}
}

func TestDisconnectUnknownClusterIsNoop(t *testing.T) {
	s := testService()

	// Must not panic or create pool entries.
	s.Disconnect(context.Background(), "never-connected")
	s.Close(context.Background())
}

func TestComputeLagFloorsAtZero(t *testing.T) {
	committed := kadm.OffsetResponses{
		"orders": {
			0: {Offset: kadm.Offset{Topic: "orders", Partition: 0, At: 90}},
			// Committed ahead of the fetched watermark: the two reads race.
			1: {Offset: kadm.Offset{Topic: "orders", Partition: 1, At: 120}},
			2: {Offset: kadm.Offset{Topic: "orders", Partition: 2, At: 5}, Err: errors.New("offsets load in progress")},
		},
		// No end offsets listed for this topic at all.
		"audit": {
			0: {Offset: kadm.Offset{Topic: "audit", Partition: 0, At: 7}},
		},
	}
	ends := kadm.ListedOffsets{
		"orders": {
			0: {Topic: "orders", Partition: 0, Offset: 100},
			1: {Topic: "orders", Partition: 1, Offset: 100},
			2: {Topic: "orders", Partition: 2, Offset: 100},
		},
	}

	total, samples := computeLag("prod", "payments", committed, ends)

	if total != 10 {
		t.Errorf("total = %d, want 10 (only partition 0 contributes)", total)
	}

	want := []LagSample{
		{Cluster: "prod", GroupID: "payments", Topic: "audit", Partition: 0, Lag: 0},
		{Cluster: "prod", GroupID: "payments", Topic: "orders", Partition: 0, Lag: 10},
		{Cluster: "prod", GroupID: "payments", Topic: "orders", Partition: 1, Lag: 0},
	}
	if !reflect.DeepEqual(samples, want) {
		t.Errorf("samples = %+v, want %+v", samples, want)
	}
}

func TestComputeLagEmptyCommits(t *testing.T) {
	total, samples := computeLag("prod", "idle", kadm.OffsetResponses{}, kadm.ListedOffsets{})
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
	if len(samples) != 0 {
		t.Errorf("samples = %+v, want none", samples)
	}
}

type fakeConsumer struct {
	batches []kgo.Fetches
	polls   int
	closed  bool
	onPoll  func(poll int)
}

func (f *fakeConsumer) PollFetches(ctx context.Context) kgo.Fetches {
	f.polls++
	if f.onPoll != nil {
		f.onPoll(f.polls)
	}
	if f.polls <= len(f.batches) {
		return f.batches[f.polls-1]
	}
	return kgo.Fetches{}
}

func (f *fakeConsumer) Close() { f.closed = true }

func fetchBatch(topic string, records ...*kgo.Record) kgo.Fetches {
	return kgo.Fetches{{
		Topics: []kgo.FetchTopic{{
			Topic:      topic,
			Partitions: []kgo.FetchPartition{{Records: records}},
		}},
	}}
}

func record(topic string, partition int32, offset int64, key, value string) *kgo.Record {
	return &kgo.Record{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Key:       []byte(key),
		Value:     []byte(value),
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
}

func consumeService(fake *fakeConsumer) *Service {
	s := testService()
	s.newConsumer = func(ctx context.Context, cfg config.ClusterConfig, opts ConsumeOptions) (consumer, error) {
		return fake, nil
	}
	return s
}

func TestConsumeCancellationKeepsPartialResult(t *testing.T) {
	fake := &fakeConsumer{
		batches: []kgo.Fetches{
			fetchBatch("orders",
				record("orders", 0, 40, "k1", "v1"),
				record("orders", 0, 41, "k2", "v2"),
			),
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fake.onPoll = func(poll int) {
		if poll == 2 {
			cancel()
		}
	}

	s := consumeService(fake)
	messages, err := s.Consume(ctx, "prod", ConsumeOptions{Topic: "orders", MaxMessages: 10, Offset: -1})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	if len(messages) != 2 {
		t.Fatalf("got %d messages, want the 2 collected before cancellation", len(messages))
	}
	if fake.polls != 2 {
		t.Errorf("polled %d times, want 2 (no polls after the cancel)", fake.polls)
	}
	if !fake.closed {
		t.Error("consumer not closed")
	}
}

func TestConsumeStopsAtMaxMessages(t *testing.T) {
	fake := &fakeConsumer{
		batches: []kgo.Fetches{
			fetchBatch("orders",
				record("orders", 0, 1, "a", "v1"),
				record("orders", 0, 2, "b", "v2"),
				record("orders", 0, 3, "c", "v3"),
				record("orders", 0, 4, "d", "v4"),
			),
		},
	}

	s := consumeService(fake)
	messages, err := s.Consume(context.Background(), "prod", ConsumeOptions{Topic: "orders", MaxMessages: 3, Offset: -1})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	if len(messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(messages))
	}
	if fake.polls != 1 {
		t.Errorf("polled %d times, want 1", fake.polls)
	}
	if messages[2].Offset != 3 {
		t.Errorf("last offset = %d, want 3", messages[2].Offset)
	}
}

func TestConsumeFilterEmitsSearchEvent(t *testing.T) {
	fake := &fakeConsumer{
		batches: []kgo.Fetches{
			fetchBatch("orders",
				record("orders", 0, 1, "k1", "alpha match"),
				record("orders", 0, 2, "k2", "nothing here"),
				record("orders", 0, 3, "k3", "another match"),
				record("orders", 0, 4, "k4", "nothing again"),
			),
		},
	}

	s := consumeService(fake)
	var got events.MessageSearch
	received := 0
	s.bus.On(events.KindMessageSearch, func(payload any) {
		received++
		got = payload.(events.MessageSearch)
	})

	messages, err := s.Consume(context.Background(), "prod", ConsumeOptions{
		Topic:       "orders",
		MaxMessages: 2,
		Filter:      "match",
		Offset:      -1,
	})
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}

	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2 matches", len(messages))
	}
	if received != 1 {
		t.Fatalf("received %d search events, want 1", received)
	}
	// Iteration stops once MaxMessages matches are in hand, so only the
	// first three records were scanned.
	want := events.MessageSearch{Cluster: "prod", Topic: "orders", Matched: 2, Scanned: 3}
	if got != want {
		t.Errorf("event = %+v, want %+v", got, want)
	}
}

func TestConsumeExplicitOffsetEmitsSeekEvent(t *testing.T) {
	fake := &fakeConsumer{
		batches: []kgo.Fetches{
			fetchBatch("orders", record("orders", 2, 7, "k", "v")),
		},
	}

	s := consumeService(fake)
	var got events.OffsetSeek
	s.bus.On(events.KindOffsetSeek, func(payload any) {
		got = payload.(events.OffsetSeek)
	})

	if _, err := s.Consume(context.Background(), "prod", ConsumeOptions{
		Topic:       "orders",
		MaxMessages: 1,
		Partition:   2,
		Offset:      7,
	}); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	want := events.OffsetSeek{Cluster: "prod", Topic: "orders", Partition: 2, Offset: 7}
	if got != want {
		t.Errorf("event = %+v, want %+v", got, want)
	}
}
