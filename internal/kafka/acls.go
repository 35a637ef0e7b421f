package kafka

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
)

// ACLRequest describes one rule for create and delete operations.
type ACLRequest struct {
	Principal    string
	Host         string // empty means any host
	ResourceType string // topic | group | cluster
	ResourceName string // unused for cluster
	Operation    string // read, write, all, ...
	Deny         bool
}

// ListACLs describes every ACL binding visible on the cluster.
func (s *Service) ListACLs(ctx context.Context, cluster string) ([]ACLEntry, error) {
	conn, err := s.conn(ctx, cluster)
	if err != nil {
		return nil, err
	}
	admin, _, err := conn.handles()
	if err != nil {
		return nil, Categorize(err)
	}

	builder := kadm.NewACLs().
		AnyResource().
		Operations(kadm.OpAny).
		Allow().AllowHosts().
		Deny().DenyHosts().
		ResourcePatternType(kadm.ACLPatternAny)

	results, err := admin.DescribeACLs(ctx, builder)
	if err != nil {
		return nil, Categorize(err)
	}

	entries := make([]ACLEntry, 0)
	for _, result := range results {
		if result.Err != nil {
			return nil, Categorize(result.Err)
		}
		for _, described := range result.Described {
			entries = append(entries, ACLEntry{
				Principal:    described.Principal,
				Host:         described.Host,
				ResourceType: strings.ToLower(described.Type.String()),
				ResourceName: described.Name,
				Operation:    strings.ToLower(described.Operation.String()),
				Permission:   strings.ToLower(described.Permission.String()),
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ResourceName != entries[j].ResourceName {
			return entries[i].ResourceName < entries[j].ResourceName
		}
		return entries[i].Principal < entries[j].Principal
	})

	return entries, nil
}

// CreateACL creates one ACL binding.
func (s *Service) CreateACL(ctx context.Context, cluster string, req ACLRequest) error {
	conn, err := s.conn(ctx, cluster)
	if err != nil {
		return err
	}
	admin, _, err := conn.handles()
	if err != nil {
		return Categorize(err)
	}

	builder, err := buildACL(req)
	if err != nil {
		return err
	}

	results, err := admin.CreateACLs(ctx, builder)
	if err != nil {
		return Categorize(err)
	}
	for _, result := range results {
		if result.Err != nil {
			return Categorize(result.Err)
		}
	}

	s.logger.Info("acl created", "cluster", cluster,
		"principal", req.Principal, "resource", req.ResourceName, "operation", req.Operation)

	return nil
}

// DeleteACL deletes ACL bindings matching the rule.
func (s *Service) DeleteACL(ctx context.Context, cluster string, req ACLRequest) error {
	conn, err := s.conn(ctx, cluster)
	if err != nil {
		return err
	}
	admin, _, err := conn.handles()
	if err != nil {
		return Categorize(err)
	}

	builder, err := buildACL(req)
	if err != nil {
		return err
	}

	results, err := admin.DeleteACLs(ctx, builder)
	if err != nil {
		return Categorize(err)
	}
	for _, result := range results {
		if result.Err != nil {
			return Categorize(result.Err)
		}
	}

	s.logger.Info("acl deleted", "cluster", cluster,
		"principal", req.Principal, "resource", req.ResourceName, "operation", req.Operation)

	return nil
}

func buildACL(req ACLRequest) (*kadm.ACLBuilder, error) {
	operation, err := parseACLOperation(req.Operation)
	if err != nil {
		return nil, err
	}

	builder := kadm.NewACLs().
		Operations(operation).
		ResourcePatternType(kadm.ACLPatternLiteral)

	switch strings.ToLower(req.ResourceType) {
	case "topic":
		builder = builder.Topics(req.ResourceName)
	case "group":
		builder = builder.Groups(req.ResourceName)
	case "cluster":
		builder = builder.Clusters()
	default:
		return nil, fmt.Errorf("unknown ACL resource type %q (expected topic, group, or cluster)", req.ResourceType)
	}

	host := req.Host
	if host == "" {
		host = "*"
	}

	if req.Deny {
		builder = builder.Deny(req.Principal).DenyHosts(host)
	} else {
		builder = builder.Allow(req.Principal).AllowHosts(host)
	}

	return builder, nil
}

func parseACLOperation(operation string) (kadm.ACLOperation, error) {
	switch strings.ToLower(strings.TrimSpace(operation)) {
	case "all":
		return kadm.OpAll, nil
	case "read":
		return kadm.OpRead, nil
	case "write":
		return kadm.OpWrite, nil
	case "create":
		return kadm.OpCreate, nil
	case "delete":
		return kadm.OpDelete, nil
	case "alter":
		return kadm.OpAlter, nil
	case "describe":
		return kadm.OpDescribe, nil
	case "cluster_action":
		return kadm.OpClusterAction, nil
	case "describe_configs":
		return kadm.OpDescribeConfigs, nil
	case "alter_configs":
		return kadm.OpAlterConfigs, nil
	default:
		return kadm.OpUnknown, fmt.Errorf("unknown ACL operation %q", operation)
	}
}
