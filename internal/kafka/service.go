package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	awsauth "github.com/nipunap/kafkawatch/internal/aws"
	"github.com/nipunap/kafkawatch/internal/config"
	"github.com/nipunap/kafkawatch/internal/events"
	"github.com/nipunap/kafkawatch/internal/pool"
)

// Service is the per-operation entry point for cluster work. It is
// stateless beyond its collaborators, so concurrent use from multiple
// operations is safe; the pooled handles it obtains are shared.
type Service struct {
	registry *config.Config
	pool     *pool.Pool
	creds    *awsauth.Resolver
	brokers  *awsauth.BrokerResolver
	bus      *events.Bus
	logger   *slog.Logger

	// newConsumer builds the one-shot consumer Consume polls; replaced
	// in tests.
	newConsumer func(ctx context.Context, cfg config.ClusterConfig, opts ConsumeOptions) (consumer, error)
}

// NewService wires the facade. The bus may be shared with the monitor.
func NewService(registry *config.Config, connPool *pool.Pool, creds *awsauth.Resolver, brokers *awsauth.BrokerResolver, bus *events.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		registry: registry,
		pool:     connPool,
		creds:    creds,
		brokers:  brokers,
		bus:      bus,
		logger:   logger,
	}
	s.newConsumer = s.dialConsumer
	return s
}

// conn returns the pooled connection for the cluster, establishing it on
// first use. Establishment errors are category-tagged but otherwise
// unmodified.
func (s *Service) conn(ctx context.Context, cluster string) (*Conn, error) {
	cfg, err := s.registry.Cluster(cluster)
	if err != nil {
		return nil, CategorizeAs(CategoryResourceNotFound, err)
	}

	client, err := s.pool.Get(ctx, cluster, func(ctx context.Context) (pool.Client, error) {
		return NewConn(cfg, s.creds, s.brokers, s.logger), nil
	})
	if err != nil {
		return nil, Categorize(err)
	}

	return client.(*Conn), nil
}

// Disconnect drops the pooled connection for the cluster, if any.
func (s *Service) Disconnect(ctx context.Context, cluster string) {
	s.pool.Disconnect(ctx, cluster)
}

// Close tears down every pooled connection.
func (s *Service) Close(ctx context.Context) {
	s.pool.Dispose(ctx)
}

// Clusters lists the configured cluster names.
func (s *Service) Clusters() []string {
	return s.registry.ClusterNames()
}

// ListTopics returns every topic in the cluster, sorted by name.
func (s *Service) ListTopics(ctx context.Context, cluster string) ([]TopicInfo, error) {
	conn, err := s.conn(ctx, cluster)
	if err != nil {
		return nil, err
	}
	admin, _, err := conn.handles()
	if err != nil {
		return nil, Categorize(err)
	}

	details, err := admin.ListTopics(ctx)
	if err != nil {
		return nil, Categorize(err)
	}

	topics := make([]TopicInfo, 0, len(details))
	for name, detail := range details {
		topics = append(topics, TopicInfo{
			Name:              name,
			Partitions:        len(detail.Partitions),
			ReplicationFactor: replicationFactor(detail),
			Internal:          strings.HasPrefix(name, "__"),
		})
	}

	sort.Slice(topics, func(i, j int) bool { return topics[i].Name < topics[j].Name })

	return topics, nil
}

func replicationFactor(detail kadm.TopicDetail) int {
	for _, partition := range detail.Partitions {
		return len(partition.Replicas)
	}
	return 0
}

// DescribeTopic returns the full description of one topic: partition
// layout, configuration, and watermarks.
func (s *Service) DescribeTopic(ctx context.Context, cluster, topic string) (*TopicDetail, error) {
	conn, err := s.conn(ctx, cluster)
	if err != nil {
		return nil, err
	}
	admin, _, err := conn.handles()
	if err != nil {
		return nil, Categorize(err)
	}

	details, err := admin.ListTopics(ctx, topic)
	if err != nil {
		return nil, Categorize(err)
	}
	topicDetail, ok := details[topic]
	if !ok || topicDetail.Err != nil {
		if topicDetail.Err != nil {
			return nil, Categorize(topicDetail.Err)
		}
		return nil, CategorizeAs(CategoryResourceNotFound, fmt.Errorf("topic %q does not exist", topic))
	}

	detail := &TopicDetail{
		TopicInfo: TopicInfo{
			Name:              topic,
			Partitions:        len(topicDetail.Partitions),
			ReplicationFactor: replicationFactor(topicDetail),
			Internal:          strings.HasPrefix(topic, "__"),
		},
		Config: make(map[string]string),
	}

	configs, err := admin.DescribeTopicConfigs(ctx, topic)
	if err != nil {
		// Non-fatal: continue without configs
		s.logger.Warn("failed to fetch topic configs", "cluster", cluster, "topic", topic, "error", err)
	} else {
		for _, resource := range configs {
			for _, entry := range resource.Configs {
				if entry.Value != nil {
					detail.Config[entry.Key] = *entry.Value
				}
			}
		}
	}

	starts, err := admin.ListStartOffsets(ctx, topic)
	if err != nil {
		return nil, Categorize(err)
	}
	ends, err := admin.ListEndOffsets(ctx, topic)
	if err != nil {
		return nil, Categorize(err)
	}

	for partition := range topicDetail.Partitions {
		offsets := PartitionOffsets{Partition: partition}
		if ps, ok := starts[topic]; ok {
			if lo, ok := ps[partition]; ok {
				offsets.LowWatermark = lo.Offset
			}
		}
		if ps, ok := ends[topic]; ok {
			if lo, ok := ps[partition]; ok {
				offsets.HighWatermark = lo.Offset
			}
		}
		detail.Offsets = append(detail.Offsets, offsets)
	}
	sort.Slice(detail.Offsets, func(i, j int) bool {
		return detail.Offsets[i].Partition < detail.Offsets[j].Partition
	})

	return detail, nil
}

// CreateTopic creates a topic. An already-existing topic surfaces as a
// CategoryAlreadyExists error, which callers treat as benign.
func (s *Service) CreateTopic(ctx context.Context, cluster, topic string, partitions int32, replicas int16, configs map[string]*string) error {
	conn, err := s.conn(ctx, cluster)
	if err != nil {
		return err
	}
	admin, _, err := conn.handles()
	if err != nil {
		return Categorize(err)
	}

	responses, err := admin.CreateTopics(ctx, partitions, replicas, configs, topic)
	if err != nil {
		return Categorize(err)
	}
	for _, response := range responses {
		if response.Err != nil {
			return Categorize(response.Err)
		}
	}

	s.logger.Info("topic created", "cluster", cluster, "topic", topic, "partitions", partitions)

	return nil
}

// DeleteTopic deletes a topic.
func (s *Service) DeleteTopic(ctx context.Context, cluster, topic string) error {
	conn, err := s.conn(ctx, cluster)
	if err != nil {
		return err
	}
	admin, _, err := conn.handles()
	if err != nil {
		return Categorize(err)
	}

	responses, err := admin.DeleteTopics(ctx, topic)
	if err != nil {
		return Categorize(err)
	}
	for _, response := range responses {
		if response.Err != nil {
			return Categorize(response.Err)
		}
	}

	s.logger.Info("topic deleted", "cluster", cluster, "topic", topic)

	return nil
}

// ListBrokers returns the cluster's brokers sorted by node ID.
func (s *Service) ListBrokers(ctx context.Context, cluster string) ([]BrokerInfo, error) {
	conn, err := s.conn(ctx, cluster)
	if err != nil {
		return nil, err
	}
	admin, _, err := conn.handles()
	if err != nil {
		return nil, Categorize(err)
	}

	meta, err := admin.Metadata(ctx)
	if err != nil {
		return nil, Categorize(err)
	}

	brokers := make([]BrokerInfo, 0, len(meta.Brokers))
	for _, broker := range meta.Brokers {
		rack := ""
		if broker.Rack != nil {
			rack = *broker.Rack
		}
		brokers = append(brokers, BrokerInfo{
			ID:   broker.NodeID,
			Host: broker.Host,
			Port: broker.Port,
			Rack: rack,
		})
	}

	sort.Slice(brokers, func(i, j int) bool { return brokers[i].ID < brokers[j].ID })

	return brokers, nil
}

// ListGroups returns the cluster's consumer groups sorted by ID.
func (s *Service) ListGroups(ctx context.Context, cluster string) ([]GroupInfo, error) {
	conn, err := s.conn(ctx, cluster)
	if err != nil {
		return nil, err
	}
	admin, _, err := conn.handles()
	if err != nil {
		return nil, Categorize(err)
	}

	listed, err := admin.ListGroups(ctx)
	if err != nil {
		return nil, Categorize(err)
	}

	groups := make([]GroupInfo, 0, len(listed))
	for _, group := range listed {
		groups = append(groups, GroupInfo{
			GroupID:      group.Group,
			State:        group.State,
			ProtocolType: group.ProtocolType,
			Coordinator:  group.Coordinator,
		})
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].GroupID < groups[j].GroupID })

	return groups, nil
}

// DescribeGroup returns the full description of one consumer group,
// including members and per-partition lag.
func (s *Service) DescribeGroup(ctx context.Context, cluster, group string) (*GroupDetail, error) {
	conn, err := s.conn(ctx, cluster)
	if err != nil {
		return nil, err
	}
	admin, _, err := conn.handles()
	if err != nil {
		return nil, Categorize(err)
	}

	described, err := admin.DescribeGroups(ctx, group)
	if err != nil {
		return nil, Categorize(err)
	}
	groupDesc, ok := described[group]
	if !ok {
		return nil, CategorizeAs(CategoryResourceNotFound, fmt.Errorf("group %q does not exist", group))
	}
	if groupDesc.Err != nil {
		return nil, Categorize(groupDesc.Err)
	}

	detail := &GroupDetail{
		GroupInfo: GroupInfo{
			GroupID:      groupDesc.Group,
			State:        groupDesc.State,
			ProtocolType: groupDesc.ProtocolType,
			Coordinator:  groupDesc.Coordinator.NodeID,
		},
	}
	for _, member := range groupDesc.Members {
		detail.Members = append(detail.Members, GroupMember{
			MemberID:   member.MemberID,
			ClientID:   member.ClientID,
			ClientHost: member.ClientHost,
		})
	}

	total, samples, err := s.groupLag(ctx, admin, cluster, group)
	if err != nil {
		// Lag is supplementary detail; the group description stands on
		// its own when offsets cannot be fetched.
		s.logger.Warn("failed to compute group lag", "cluster", cluster, "group", group, "error", err)
	} else {
		detail.Lag = samples
		detail.TotalLag = total
	}

	return detail, nil
}

// GroupLag computes the group's total lag plus its per-partition
// samples.
func (s *Service) GroupLag(ctx context.Context, cluster, group string) (int64, []LagSample, error) {
	conn, err := s.conn(ctx, cluster)
	if err != nil {
		return 0, nil, err
	}
	admin, _, err := conn.handles()
	if err != nil {
		return 0, nil, Categorize(err)
	}

	return s.groupLag(ctx, admin, cluster, group)
}

func (s *Service) groupLag(ctx context.Context, admin *kadm.Client, cluster, group string) (int64, []LagSample, error) {
	committed, err := admin.FetchOffsets(ctx, group)
	if err != nil {
		return 0, nil, Categorize(err)
	}

	topics := make([]string, 0, len(committed))
	for topic := range committed {
		topics = append(topics, topic)
	}
	if len(topics) == 0 {
		return 0, nil, nil
	}

	ends, err := admin.ListEndOffsets(ctx, topics...)
	if err != nil {
		return 0, nil, Categorize(err)
	}

	total, samples := computeLag(cluster, group, committed, ends)
	return total, samples, nil
}

// computeLag pairs committed offsets with end-offset watermarks. Lag is
// the high watermark minus the committed offset, floored at zero: a
// committed offset racing ahead of the watermark read, or a partition
// whose watermark is missing, is clamped rather than reported negative.
// Partitions whose offset fetch errored are skipped.
func computeLag(cluster, group string, committed kadm.OffsetResponses, ends kadm.ListedOffsets) (int64, []LagSample) {
	var total int64
	samples := make([]LagSample, 0)

	for topic, partitions := range committed {
		for partition, offset := range partitions {
			if offset.Err != nil {
				continue
			}

			var high int64
			if ps, ok := ends[topic]; ok {
				if lo, ok := ps[partition]; ok {
					high = lo.Offset
				}
			}

			lag := high - offset.At
			if lag < 0 {
				lag = 0
			}

			total += lag
			samples = append(samples, LagSample{
				Cluster:   cluster,
				GroupID:   group,
				Topic:     topic,
				Partition: partition,
				Lag:       lag,
			})
		}
	}

	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Topic != samples[j].Topic {
			return samples[i].Topic < samples[j].Topic
		}
		return samples[i].Partition < samples[j].Partition
	})

	return total, samples
}

// GroupIDs returns the cluster's consumer-group IDs in listing order.
// This is the lag monitor's discovery call.
func (s *Service) GroupIDs(ctx context.Context, cluster string) ([]string, error) {
	groups, err := s.ListGroups(ctx, cluster)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(groups))
	for _, group := range groups {
		ids = append(ids, group.GroupID)
	}
	return ids, nil
}

// TotalGroupLag returns only the summed lag for one group.
func (s *Service) TotalGroupLag(ctx context.Context, cluster, group string) (int64, error) {
	total, _, err := s.GroupLag(ctx, cluster, group)
	return total, err
}

// Produce sends one record to the topic and waits for the broker ack.
// When the cluster has a schema registry configured, the value is
// checked for JSON well-formedness first and a schema_validation event
// is emitted either way.
func (s *Service) Produce(ctx context.Context, cluster, topic string, key, value []byte) error {
	cfg, err := s.registry.Cluster(cluster)
	if err != nil {
		return CategorizeAs(CategoryResourceNotFound, err)
	}

	conn, err := s.conn(ctx, cluster)
	if err != nil {
		return err
	}
	_, producer, err := conn.handles()
	if err != nil {
		return Categorize(err)
	}

	if cfg.SchemaRegistryURL != "" {
		valid := json.Valid(value)
		s.bus.Emit(events.KindSchemaValidation, events.SchemaValidation{
			Cluster: cluster,
			Topic:   topic,
			Valid:   valid,
		})
		if !valid {
			return CategorizeAs(CategoryUnknown, fmt.Errorf("value is not valid JSON for schema-validated topic %q", topic))
		}
	}

	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	if err := producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return Categorize(err)
	}

	return nil
}

// consumer is the poll surface Consume drives; *kgo.Client satisfies it.
type consumer interface {
	PollFetches(ctx context.Context) kgo.Fetches
	Close()
}

// Consume reads up to MaxMessages from the topic using a dedicated
// one-shot consumer. On cancellation the messages collected so far are
// returned with no error; no further polls are issued once the signal
// fires.
func (s *Service) Consume(ctx context.Context, cluster string, opts ConsumeOptions) ([]Message, error) {
	cfg, err := s.registry.Cluster(cluster)
	if err != nil {
		return nil, CategorizeAs(CategoryResourceNotFound, err)
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = 10
	}

	c, err := s.newConsumer(ctx, cfg, opts)
	if err != nil {
		return nil, Categorize(err)
	}
	defer c.Close()

	if opts.Offset >= 0 {
		s.bus.Emit(events.KindOffsetSeek, events.OffsetSeek{
			Cluster:   cluster,
			Topic:     opts.Topic,
			Partition: opts.Partition,
			Offset:    opts.Offset,
		})
	}

	messages := make([]Message, 0, opts.MaxMessages)
	scanned := 0

	for len(messages) < opts.MaxMessages {
		if ctx.Err() != nil {
			break
		}

		fetches := c.PollFetches(ctx)
		if fetches.IsClientClosed() {
			break
		}
		if ctx.Err() != nil {
			// Cancellation mid-poll: keep the partial result.
			break
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			first := errs[0]
			if errors.Is(first.Err, context.Canceled) || errors.Is(first.Err, context.DeadlineExceeded) {
				break
			}
			return nil, Categorize(fmt.Errorf("fetch topic %q partition %d: %w", first.Topic, first.Partition, first.Err))
		}

		iter := fetches.RecordIter()
		for !iter.Done() && len(messages) < opts.MaxMessages {
			rec := iter.Next()
			scanned++

			if opts.Filter != "" &&
				!strings.Contains(string(rec.Key), opts.Filter) &&
				!strings.Contains(string(rec.Value), opts.Filter) {
				continue
			}

			messages = append(messages, Message{
				Topic:     rec.Topic,
				Partition: rec.Partition,
				Offset:    rec.Offset,
				Key:       string(rec.Key),
				Value:     string(rec.Value),
				Timestamp: rec.Timestamp,
			})
		}
	}

	if opts.Filter != "" {
		s.bus.Emit(events.KindMessageSearch, events.MessageSearch{
			Cluster: cluster,
			Topic:   opts.Topic,
			Matched: len(messages),
			Scanned: scanned,
		})
	}

	return messages, nil
}

func (s *Service) dialConsumer(ctx context.Context, cfg config.ClusterConfig, opts ConsumeOptions) (consumer, error) {
	conn := NewConn(cfg, s.creds, s.brokers, s.logger)
	kgoOpts, err := conn.clientOpts(ctx)
	if err != nil {
		return nil, err
	}

	if opts.Offset >= 0 {
		kgoOpts = append(kgoOpts, kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{
			opts.Topic: {opts.Partition: kgo.NewOffset().At(opts.Offset)},
		}))
	} else {
		kgoOpts = append(kgoOpts,
			kgo.ConsumeTopics(opts.Topic),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		)
	}

	client, err := kgo.NewClient(kgoOpts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}
