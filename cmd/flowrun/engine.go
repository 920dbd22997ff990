package main

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	cli "github.com/urfave/cli/v3"

	"github.com/warriorguo/flowgraph"
	"github.com/warriorguo/flowgraph/otelhelper"
	"github.com/warriorguo/flowgraph/runlog"
	"github.com/warriorguo/flowgraph/store/postgres"
	"github.com/warriorguo/flowgraph/types"
	"github.com/warriorguo/flowgraph/utils"
)

const (
	serviceName = "flowrun"
)

// storeOption maps a store URL to the engine option selecting the backend.
func storeOption(raw string) (types.FlowOption, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.NewNotValid(err, "store url "+raw)
	}

	switch u.Scheme {
	case "", "mem", "memory":
		return types.EnableMemStore(), nil
	case "badger":
		return types.WithBadgerPath(u.Host + u.Path), nil
	case "sqlite":
		return types.WithSQLitePath(u.Host + u.Path), nil
	case "postgres", "postgresql":
		dsn, err := pq.ParseURL(raw)
		if err != nil {
			return nil, errors.NewNotValid(err, "store url "+u.Redacted())
		}
		config, err := postgres.ParseDSN(dsn)
		if err != nil {
			return nil, errors.Annotatef(err, "store url %s", u.Redacted())
		}
		return types.WithPostgresConfig(config), nil
	}
	return nil, errors.NotSupportedf("store scheme %s", u.Scheme)
}

type closer func() error

// runLogSink builds the extra sinks named by --log-sink.
func runLogSink(command *cli.Command) (types.RunLogSink, []closer, error) {
	sinks := make([]types.RunLogSink, 0)
	closers := make([]closer, 0)

	for _, name := range utils.UniqueSlice(command.StringSlice("log-sink")) {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "", "store":
		case "redis":
			client := redis.NewClient(&redis.Options{Addr: command.String("redis-addr")})
			sinks = append(sinks, runlog.NewRedisSink(client, runlog.DefaultRedisTTL))
			closers = append(closers, client.Close)
		case "kafka":
			publisher, err := runlog.NewKafkaPublisher(command.StringSlice("kafka-brokers"), runlog.NewWatermillLogger(log.WithField("component", "watermill")))
			if err != nil {
				return nil, closers, errors.Trace(err)
			}
			sinks = append(sinks, runlog.NewPublisherSink(publisher, command.String("log-topic")))
			closers = append(closers, publisher.Close)
		default:
			return nil, closers, errors.NotSupportedf("run log sink %s", name)
		}
	}

	switch len(sinks) {
	case 0:
		return nil, closers, nil
	case 1:
		return sinks[0], closers, nil
	}
	return runlog.NewMultiSink(sinks...), closers, nil
}

// openEngine builds the engine from the global flags, the returned func
// releases everything it opened.
func openEngine(ctx context.Context, command *cli.Command) (*flowgraph.Engine, func(), error) {
	closers := make([]closer, 0)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warnf("cleanup failed: %v", err)
			}
		}
	}

	opts := []types.FlowOption{types.WithContext(ctx)}

	storeOpt, err := storeOption(command.String("store"))
	if err != nil {
		return nil, cleanup, errors.Trace(err)
	}
	opts = append(opts, storeOpt)

	sink, sinkClosers, err := runLogSink(command)
	closers = append(closers, sinkClosers...)
	if err != nil {
		return nil, cleanup, errors.Trace(err)
	}
	if sink != nil {
		opts = append(opts, types.WithRunLogSink(sink))
	}

	if command.Bool("otel") {
		_, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return nil, cleanup, errors.Annotate(err, "setup tracing")
		}
		closers = append(closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return shutdown(ctx)
		})
	}

	engine, err := flowgraph.NewFlowEngine(opts...)
	if err != nil {
		return nil, cleanup, errors.Trace(err)
	}
	closers = append(closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return engine.Close(ctx)
	})
	return engine, cleanup, nil
}
