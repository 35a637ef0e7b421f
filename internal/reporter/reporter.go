// Package reporter renders operation results as human-readable text or
// JSON.
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nipunap/kafkawatch/internal/aws"
	"github.com/nipunap/kafkawatch/internal/kafka"
)

// Formats accepted by New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Reporter writes results for one output format.
type Reporter struct {
	writer io.Writer
	format string
}

// New creates a reporter, rejecting unknown formats.
func New(w io.Writer, format string) (*Reporter, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = FormatText
	}
	if format != FormatText && format != FormatJSON {
		return nil, fmt.Errorf("invalid output format %q (expected text or json)", format)
	}
	return &Reporter{writer: w, format: format}, nil
}

func (r *Reporter) json(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if _, err := r.writer.Write(output); err != nil {
		return err
	}
	_, err = r.writer.Write([]byte("\n"))
	return err
}

// writef returns a sticky-error printf bound to the writer.
func (r *Reporter) writef() (func(format string, args ...any), *error) {
	var writeErr error
	return func(format string, args ...any) {
		if writeErr != nil {
			return
		}
		_, writeErr = fmt.Fprintf(r.writer, format, args...)
	}, &writeErr
}

// Topics renders a topic listing.
func (r *Reporter) Topics(topics []kafka.TopicInfo) error {
	if r.format == FormatJSON {
		return r.json(topics)
	}

	writef, writeErr := r.writef()
	writef("%-40s %10s %12s %9s\n", "TOPIC", "PARTITIONS", "REPLICATION", "INTERNAL")
	for _, topic := range topics {
		writef("%-40s %10d %12d %9t\n", topic.Name, topic.Partitions, topic.ReplicationFactor, topic.Internal)
	}
	writef("\n%d topics\n", len(topics))
	return *writeErr
}

// TopicDetail renders one topic's full description.
func (r *Reporter) TopicDetail(detail *kafka.TopicDetail) error {
	if r.format == FormatJSON {
		return r.json(detail)
	}

	writef, writeErr := r.writef()
	writef("Topic: %s\n", detail.Name)
	writef("  Partitions:         %d\n", detail.Partitions)
	writef("  Replication Factor: %d\n", detail.ReplicationFactor)
	writef("  Internal:           %t\n", detail.Internal)

	if len(detail.Offsets) > 0 {
		writef("  Offsets:\n")
		for _, offsets := range detail.Offsets {
			writef("    partition %d: low %d, high %d\n",
				offsets.Partition, offsets.LowWatermark, offsets.HighWatermark)
		}
	}

	if len(detail.Config) > 0 {
		writef("  Config:\n")
		for key, value := range detail.Config {
			writef("    %s = %s\n", key, value)
		}
	}

	return *writeErr
}

// Brokers renders a broker listing.
func (r *Reporter) Brokers(brokers []kafka.BrokerInfo) error {
	if r.format == FormatJSON {
		return r.json(brokers)
	}

	writef, writeErr := r.writef()
	writef("%-6s %-40s %6s %s\n", "ID", "HOST", "PORT", "RACK")
	for _, broker := range brokers {
		writef("%-6d %-40s %6d %s\n", broker.ID, broker.Host, broker.Port, broker.Rack)
	}
	return *writeErr
}

// Groups renders a consumer-group listing.
func (r *Reporter) Groups(groups []kafka.GroupInfo) error {
	if r.format == FormatJSON {
		return r.json(groups)
	}

	writef, writeErr := r.writef()
	writef("%-40s %-12s %-10s %11s\n", "GROUP", "STATE", "PROTOCOL", "COORDINATOR")
	for _, group := range groups {
		writef("%-40s %-12s %-10s %11d\n", group.GroupID, group.State, group.ProtocolType, group.Coordinator)
	}
	writef("\n%d consumer groups\n", len(groups))
	return *writeErr
}

// GroupDetail renders one group's full description including lag.
func (r *Reporter) GroupDetail(detail *kafka.GroupDetail) error {
	if r.format == FormatJSON {
		return r.json(detail)
	}

	writef, writeErr := r.writef()
	writef("Group: %s\n", detail.GroupID)
	writef("  State:       %s\n", detail.State)
	writef("  Protocol:    %s\n", detail.ProtocolType)
	writef("  Coordinator: %d\n", detail.Coordinator)
	writef("  Total Lag:   %d\n", detail.TotalLag)

	if len(detail.Members) > 0 {
		writef("  Members:\n")
		for _, member := range detail.Members {
			writef("    %s (client %s at %s)\n", member.MemberID, member.ClientID, member.ClientHost)
		}
	}

	if len(detail.Lag) > 0 {
		writef("  Lag:\n")
		for _, sample := range detail.Lag {
			writef("    %s[%d]: %d\n", sample.Topic, sample.Partition, sample.Lag)
		}
	}

	return *writeErr
}

// ACLs renders an ACL listing.
func (r *Reporter) ACLs(entries []kafka.ACLEntry) error {
	if r.format == FormatJSON {
		return r.json(entries)
	}

	writef, writeErr := r.writef()
	writef("%-30s %-15s %-10s %-30s %-16s %s\n", "PRINCIPAL", "HOST", "TYPE", "RESOURCE", "OPERATION", "PERMISSION")
	for _, entry := range entries {
		writef("%-30s %-15s %-10s %-30s %-16s %s\n",
			entry.Principal, entry.Host, entry.ResourceType, entry.ResourceName, entry.Operation, entry.Permission)
	}
	writef("\n%d ACL bindings\n", len(entries))
	return *writeErr
}

// Profiles renders AWS profile statuses.
func (r *Reporter) Profiles(profiles []aws.ProfileStatus) error {
	if r.format == FormatJSON {
		return r.json(profiles)
	}

	writef, writeErr := r.writef()
	writef("%-30s %-15s %s\n", "PROFILE", "STATE", "EXPIRES")
	for _, profile := range profiles {
		expiry := "-"
		if !profile.Expiry.IsZero() {
			expiry = profile.Expiry.Format(time.RFC3339)
		}
		writef("%-30s %-15s %s\n", profile.Name, profile.State, expiry)
	}
	return *writeErr
}

// Messages renders consumed records.
func (r *Reporter) Messages(messages []kafka.Message) error {
	if r.format == FormatJSON {
		return r.json(messages)
	}

	writef, writeErr := r.writef()
	for _, message := range messages {
		writef("%s[%d]@%d %s key=%q\n  %s\n",
			message.Topic, message.Partition, message.Offset,
			message.Timestamp.Format(time.RFC3339), message.Key, message.Value)
	}
	writef("\n%d messages\n", len(messages))
	return *writeErr
}
