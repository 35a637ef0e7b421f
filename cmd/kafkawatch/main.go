package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nipunap/kafkawatch/internal/aws"
	"github.com/nipunap/kafkawatch/internal/config"
	"github.com/nipunap/kafkawatch/internal/events"
	"github.com/nipunap/kafkawatch/internal/kafka"
	"github.com/nipunap/kafkawatch/internal/logging"
	"github.com/nipunap/kafkawatch/internal/monitor"
	"github.com/nipunap/kafkawatch/internal/pool"
	"github.com/nipunap/kafkawatch/internal/reporter"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const defaultQueryTimeout = 30 * time.Second

func main() {
	logging.Init(false)

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	verbose    bool
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "kafkawatch",
		Short:         "kafkawatch manages Kafka and AWS MSK clusters",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Init(opts.verbose)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to cluster registry file")

	cmd.AddCommand(newTopicsCmd(opts))
	cmd.AddCommand(newGroupsCmd(opts))
	cmd.AddCommand(newBrokersCmd(opts))
	cmd.AddCommand(newACLsCmd(opts))
	cmd.AddCommand(newProduceCmd(opts))
	cmd.AddCommand(newConsumeCmd(opts))
	cmd.AddCommand(newMonitorCmd(opts))
	cmd.AddCommand(newProfilesCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "version: %s\n", Version); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(out, "commit:  %s\n", GitCommit); err != nil {
				return err
			}
			_, err := fmt.Fprintf(out, "date:    %s\n", BuildDate)
			return err
		},
	}
}

// app is the composition root shared by cluster-facing commands: one
// event bus, one credential resolver, one connection pool, one facade.
type app struct {
	cfg     *config.Config
	bus     *events.Bus
	service *kafka.Service
}

func buildApp(opts *rootOptions) (*app, error) {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	bus := events.NewBus()
	resolver := aws.NewResolver("", logger)
	brokers := aws.NewBrokerResolver()
	connPool := pool.New(logger)
	service := kafka.NewService(cfg, connPool, resolver, brokers, bus, logger)

	return &app{cfg: cfg, bus: bus, service: service}, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}

	cfg, found, err := config.Load()
	if err != nil {
		return nil, err
	}
	if found == "" && cfg == nil {
		return nil, errors.New("no cluster registry found: create " + config.DefaultFileName + " or pass --config")
	}
	slog.Debug("loaded cluster registry", "path", found)
	return cfg, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.service.Close(ctx)
	a.bus.RemoveAllListeners()
}

func opContext(cmd *cobra.Command, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return context.WithTimeout(cmd.Context(), timeout)
}

type clusterOptions struct {
	cluster string
	output  string
	timeout time.Duration
}

func addClusterFlags(cmd *cobra.Command, opts *clusterOptions) {
	flags := cmd.Flags()
	flags.StringVar(&opts.cluster, "cluster", "", "Cluster name from the registry")
	flags.StringVar(&opts.output, "output", "text", "Output format (text|json)")
	flags.DurationVar(&opts.timeout, "timeout", defaultQueryTimeout, "Operation timeout")
	if err := cmd.MarkFlagRequired("cluster"); err != nil {
		panic(err)
	}
}

func newTopicsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage topics",
	}

	var listOpts clusterOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List topics in a cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := opContext(cmd, listOpts.timeout)
			defer cancel()

			topics, err := a.service.ListTopics(ctx, listOpts.cluster)
			if err != nil {
				return err
			}

			rep, err := reporter.New(cmd.OutOrStdout(), listOpts.output)
			if err != nil {
				return err
			}
			return rep.Topics(topics)
		},
	}
	addClusterFlags(list, &listOpts)

	var describeOpts clusterOptions
	describe := &cobra.Command{
		Use:   "describe TOPIC",
		Short: "Describe one topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := opContext(cmd, describeOpts.timeout)
			defer cancel()

			detail, err := a.service.DescribeTopic(ctx, describeOpts.cluster, args[0])
			if err != nil {
				return err
			}

			rep, err := reporter.New(cmd.OutOrStdout(), describeOpts.output)
			if err != nil {
				return err
			}
			return rep.TopicDetail(detail)
		},
	}
	addClusterFlags(describe, &describeOpts)

	var createOpts clusterOptions
	var partitions int32
	var replicas int16
	create := &cobra.Command{
		Use:   "create TOPIC",
		Short: "Create a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := opContext(cmd, createOpts.timeout)
			defer cancel()

			err = a.service.CreateTopic(ctx, createOpts.cluster, args[0], partitions, replicas, nil)
			if kafka.IsBenignExists(err) {
				_, werr := fmt.Fprintf(cmd.OutOrStdout(), "Topic %q already exists.\n", args[0])
				return werr
			}
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Topic %q created.\n", args[0])
			return err
		},
	}
	addClusterFlags(create, &createOpts)
	create.Flags().Int32Var(&partitions, "partitions", 1, "Number of partitions")
	create.Flags().Int16Var(&replicas, "replication-factor", 1, "Replication factor")

	var deleteOpts clusterOptions
	del := &cobra.Command{
		Use:   "delete TOPIC",
		Short: "Delete a topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := opContext(cmd, deleteOpts.timeout)
			defer cancel()

			if err := a.service.DeleteTopic(ctx, deleteOpts.cluster, args[0]); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Topic %q deleted.\n", args[0])
			return err
		},
	}
	addClusterFlags(del, &deleteOpts)

	cmd.AddCommand(list, describe, create, del)
	return cmd
}

func newGroupsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Inspect consumer groups",
	}

	var listOpts clusterOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List consumer groups in a cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := opContext(cmd, listOpts.timeout)
			defer cancel()

			groups, err := a.service.ListGroups(ctx, listOpts.cluster)
			if err != nil {
				return err
			}

			rep, err := reporter.New(cmd.OutOrStdout(), listOpts.output)
			if err != nil {
				return err
			}
			return rep.Groups(groups)
		},
	}
	addClusterFlags(list, &listOpts)

	var describeOpts clusterOptions
	describe := &cobra.Command{
		Use:   "describe GROUP",
		Short: "Describe one consumer group, including lag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := opContext(cmd, describeOpts.timeout)
			defer cancel()

			detail, err := a.service.DescribeGroup(ctx, describeOpts.cluster, args[0])
			if err != nil {
				return err
			}

			rep, err := reporter.New(cmd.OutOrStdout(), describeOpts.output)
			if err != nil {
				return err
			}
			return rep.GroupDetail(detail)
		},
	}
	addClusterFlags(describe, &describeOpts)

	cmd.AddCommand(list, describe)
	return cmd
}

func newBrokersCmd(root *rootOptions) *cobra.Command {
	var opts clusterOptions
	cmd := &cobra.Command{
		Use:   "brokers",
		Short: "List brokers in a cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := opContext(cmd, opts.timeout)
			defer cancel()

			brokers, err := a.service.ListBrokers(ctx, opts.cluster)
			if err != nil {
				return err
			}

			rep, err := reporter.New(cmd.OutOrStdout(), opts.output)
			if err != nil {
				return err
			}
			return rep.Brokers(brokers)
		},
	}
	addClusterFlags(cmd, &opts)
	return cmd
}

func newACLsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acls",
		Short: "Manage access-control lists",
	}

	var listOpts clusterOptions
	list := &cobra.Command{
		Use:   "list",
		Short: "List ACL bindings in a cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := opContext(cmd, listOpts.timeout)
			defer cancel()

			entries, err := a.service.ListACLs(ctx, listOpts.cluster)
			if err != nil {
				return err
			}

			rep, err := reporter.New(cmd.OutOrStdout(), listOpts.output)
			if err != nil {
				return err
			}
			return rep.ACLs(entries)
		},
	}
	addClusterFlags(list, &listOpts)

	newRuleCmd := func(use, short string, run func(ctx context.Context, a *app, cluster string, req kafka.ACLRequest) error) *cobra.Command {
		var opts clusterOptions
		var req kafka.ACLRequest
		rule := &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := buildApp(root)
				if err != nil {
					return err
				}
				defer a.close()

				ctx, cancel := opContext(cmd, opts.timeout)
				defer cancel()

				return run(ctx, a, opts.cluster, req)
			},
		}
		addClusterFlags(rule, &opts)
		flags := rule.Flags()
		flags.StringVar(&req.Principal, "principal", "", "Principal (User:name)")
		flags.StringVar(&req.Host, "host", "*", "Host the rule applies to")
		flags.StringVar(&req.ResourceType, "resource-type", "topic", "Resource type (topic|group|cluster)")
		flags.StringVar(&req.ResourceName, "resource", "", "Resource name")
		flags.StringVar(&req.Operation, "operation", "", "Operation (read, write, all, ...)")
		flags.BoolVar(&req.Deny, "deny", false, "Create a deny rule instead of allow")
		for _, required := range []string{"principal", "operation"} {
			if err := rule.MarkFlagRequired(required); err != nil {
				panic(err)
			}
		}
		return rule
	}

	create := newRuleCmd("create", "Create an ACL binding",
		func(ctx context.Context, a *app, cluster string, req kafka.ACLRequest) error {
			return a.service.CreateACL(ctx, cluster, req)
		})
	del := newRuleCmd("delete", "Delete matching ACL bindings",
		func(ctx context.Context, a *app, cluster string, req kafka.ACLRequest) error {
			return a.service.DeleteACL(ctx, cluster, req)
		})

	cmd.AddCommand(list, create, del)
	return cmd
}

func newProduceCmd(root *rootOptions) *cobra.Command {
	var opts clusterOptions
	var topic, key, value string

	cmd := &cobra.Command{
		Use:   "produce",
		Short: "Produce one message to a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := opContext(cmd, opts.timeout)
			defer cancel()

			if err := a.service.Produce(ctx, opts.cluster, topic, []byte(key), []byte(value)); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Message sent to %q.\n", topic)
			return err
		},
	}
	addClusterFlags(cmd, &opts)
	flags := cmd.Flags()
	flags.StringVar(&topic, "topic", "", "Topic to produce to")
	flags.StringVar(&key, "key", "", "Message key")
	flags.StringVar(&value, "value", "", "Message value")
	for _, required := range []string{"topic", "value"} {
		if err := cmd.MarkFlagRequired(required); err != nil {
			panic(err)
		}
	}
	return cmd
}

func newConsumeCmd(root *rootOptions) *cobra.Command {
	var opts clusterOptions
	consumeOpts := kafka.ConsumeOptions{Offset: -1}

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Consume messages from a topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := opContext(cmd, opts.timeout)
			defer cancel()

			// Ctrl-C returns the messages collected so far.
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			messages, err := a.service.Consume(ctx, opts.cluster, consumeOpts)
			if err != nil {
				return err
			}

			rep, err := reporter.New(cmd.OutOrStdout(), opts.output)
			if err != nil {
				return err
			}
			return rep.Messages(messages)
		},
	}
	addClusterFlags(cmd, &opts)
	flags := cmd.Flags()
	flags.StringVar(&consumeOpts.Topic, "topic", "", "Topic to consume from")
	flags.IntVar(&consumeOpts.MaxMessages, "max-messages", 10, "Maximum messages to collect")
	flags.StringVar(&consumeOpts.Filter, "filter", "", "Keep only messages containing this substring")
	flags.Int32Var(&consumeOpts.Partition, "partition", 0, "Partition to seek on (with --offset)")
	flags.Int64Var(&consumeOpts.Offset, "offset", -1, "Start offset (-1 consumes from the beginning)")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(err)
	}
	return cmd
}

func newMonitorCmd(root *rootOptions) *cobra.Command {
	var (
		interval time.Duration
		warning  int64
		critical int64
		throttle time.Duration
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the consumer-lag monitor until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(root)
			if err != nil {
				return err
			}
			defer a.close()

			monitorCfg := a.cfg.Monitor
			monitorCfg.Enabled = true

			// Flags override the registry only when set explicitly.
			flags := cmd.Flags()
			if flags.Changed("interval") {
				monitorCfg.Interval = interval
			}
			if flags.Changed("warning-threshold") {
				monitorCfg.WarningThreshold = warning
			}
			if flags.Changed("critical-threshold") {
				monitorCfg.CriticalThreshold = critical
			}
			if flags.Changed("throttle-window") {
				monitorCfg.ThrottleWindow = throttle
			}
			if monitorCfg.WarningThreshold >= monitorCfg.CriticalThreshold {
				return fmt.Errorf("warning threshold (%d) must be below critical threshold (%d)",
					monitorCfg.WarningThreshold, monitorCfg.CriticalThreshold)
			}

			notifier := monitor.NotifierFunc(func(severity monitor.Severity, message string) {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", severity, message)
			})

			m := monitor.New(monitorCfg, a.service, notifier, a.bus, slog.Default())
			m.Start()
			defer m.Stop()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			return nil
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&interval, "interval", config.DefaultMonitorInterval, "Polling interval")
	flags.Int64Var(&warning, "warning-threshold", config.DefaultWarningThreshold, "Total lag that triggers a warning")
	flags.Int64Var(&critical, "critical-threshold", config.DefaultCriticalThreshold, "Total lag that triggers a critical alert")
	flags.DurationVar(&throttle, "throttle-window", config.DefaultThrottleWindow, "Minimum gap between notifications per cluster")

	return cmd
}

func newProfilesCmd(root *rootOptions) *cobra.Command {
	var output string
	var credentialsFile string

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List AWS profiles and their credential status",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver := aws.NewResolver(credentialsFile, slog.Default())
			profiles, err := resolver.ListProfiles()
			if err != nil {
				return err
			}

			rep, err := reporter.New(cmd.OutOrStdout(), output)
			if err != nil {
				return err
			}
			return rep.Profiles(profiles)
		},
	}
	cmd.Flags().StringVar(&output, "output", "text", "Output format (text|json)")
	cmd.Flags().StringVar(&credentialsFile, "credentials-file", "", "Path to AWS credentials file")
	return cmd
}
