/*
Package eventengine wires the event bus, the event store and a pipeline of
processors into one Engine.

# Overview

Producers publish events onto a priority bus. The bus delivers each event to
its type subscribers and to every wildcard subscriber, which includes the
store and any processor without a type restriction. A processor's outputs
are published back onto the bus, so filters, aggregators, correlators and
anomaly detectors chain through subscription alone.

# Basic Usage

Build an engine from a config file and publish into it:

	engine, err := eventengine.FromFile("engine.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	if err := engine.Start(ctx); err != nil {
	    log.Fatal(err)
	}
	defer engine.Close()

	evt := event.New(event.PriceChange, event.SourceMarketData,
	    event.WithSubject("2330"),
	    event.WithField("price", 580.0))
	if err := engine.Publish(ctx, evt); err != nil {
	    log.Printf("publish: %v", err)
	}

	recent, err := engine.Query(ctx, store.Query{Subject: "2330", Limit: 20})

# Configuration

	bus:
	  queue_size: 10000
	  workers: 4
	store:
	  backend: sqlite        # sqlite, memory or redis
	  path: events.db
	  max_events: 100000
	observability:
	  log_level: info
	  metrics: prometheus    # none, otel or prometheus
	  tracing: true
	processors:
	  - name: tsmc-moves
	    kind: subject_aggregator
	    types: [price_change]
	    window: 60s
	    threshold: 5

See package pipeline for every processor kind. Engines built with FromFile
reload the file when it changes; store.max_events and
observability.log_level apply without a restart.

# Packages

  - event: the event model
  - bus: priority publish/subscribe
  - store: persistence and queries
  - processor: the stage contract, runners and composition
  - filter, aggregate, correlate, anomaly: built-in stages
  - pipeline: stages from declarative definitions
  - config: settings, loaders and hot reload
  - observability: logging, metrics and tracing helpers
*/
package eventengine
