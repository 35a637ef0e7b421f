package kafka

import "time"

// TopicInfo summarizes one topic.
type TopicInfo struct {
	Name              string `json:"name"`
	Partitions        int    `json:"partitions"`
	ReplicationFactor int    `json:"replication_factor"`
	Internal          bool   `json:"internal"` // system topics like __consumer_offsets
}

// PartitionOffsets carries the high and low watermarks of one partition.
type PartitionOffsets struct {
	Partition     int32 `json:"partition"`
	LowWatermark  int64 `json:"low_watermark"`
	HighWatermark int64 `json:"high_watermark"`
}

// TopicDetail is the full description of one topic.
type TopicDetail struct {
	TopicInfo
	Config  map[string]string  `json:"config"`
	Offsets []PartitionOffsets `json:"offsets"`
}

// BrokerInfo describes one broker.
type BrokerInfo struct {
	ID   int32  `json:"id"`
	Host string `json:"host"`
	Port int32  `json:"port"`
	Rack string `json:"rack,omitempty"`
}

// GroupInfo summarizes one consumer group.
type GroupInfo struct {
	GroupID      string `json:"group_id"`
	State        string `json:"state"`
	ProtocolType string `json:"protocol_type"`
	Coordinator  int32  `json:"coordinator"`
}

// GroupMember is one member of a consumer group.
type GroupMember struct {
	MemberID   string `json:"member_id"`
	ClientID   string `json:"client_id"`
	ClientHost string `json:"client_host"`
}

// GroupDetail is the full description of one consumer group including
// its per-partition lag.
type GroupDetail struct {
	GroupInfo
	Members  []GroupMember `json:"members"`
	Lag      []LagSample   `json:"lag"`
	TotalLag int64         `json:"total_lag"`
}

// LagSample is the lag of one group on one partition, computed as
// highWatermark minus committed offset and floored at zero: an offset
// racing ahead of the watermark is clamped, never reported negative.
type LagSample struct {
	Cluster   string `json:"cluster"`
	GroupID   string `json:"group_id"`
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	Lag       int64  `json:"lag"`
}

// ACLEntry is one access-control rule.
type ACLEntry struct {
	Principal    string `json:"principal"`
	Host         string `json:"host"`
	ResourceType string `json:"resource_type"` // topic | group | cluster
	ResourceName string `json:"resource_name"`
	Operation    string `json:"operation"`
	Permission   string `json:"permission"` // allow | deny
}

// Message is a consumed record.
type Message struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// ConsumeOptions controls a consume operation.
type ConsumeOptions struct {
	Topic       string
	MaxMessages int
	// Filter, when set, keeps only messages whose key or value contains
	// the substring.
	Filter string
	// Partition/Offset seek the consumer to an explicit position when
	// Offset >= 0.
	Partition int32
	Offset    int64
}
