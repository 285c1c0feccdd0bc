package main

import (
	"flag"
	"time"

	"github.com/illmade-knight/go-rowpublisher/pkg/config"
)

// cliFlags holds the raw command-line values. Only flags the user actually set
// override the loaded configuration.
type cliFlags struct {
	configFile   string
	debug        bool
	bootstrap    string
	topic        string
	input        string
	transport    string
	tsColumns    string
	flushEvery   int
	drainTimeout time.Duration
	maxRecords   int
	deadLetter   bool
	ledger       bool
	ensureTopic  bool
	projectID    string
}

func bindFlags(fs *flag.FlagSet) *cliFlags {
	f := &cliFlags{}
	fs.StringVar(&f.configFile, "config", "", "Optional YAML configuration file.")
	fs.BoolVar(&f.debug, "debug", false, "Enable debug logging.")
	fs.StringVar(&f.bootstrap, "bootstrap", "", "Broker endpoint (host:port for Kafka, tcp://host:port for MQTT).")
	fs.StringVar(&f.topic, "topic", "", "Destination topic.")
	fs.StringVar(&f.input, "input", "", "Parquet file path, local or gs://bucket/object.")
	fs.StringVar(&f.transport, "transport", "", "Transport: kafka, pubsub or mqtt.")
	fs.StringVar(&f.tsColumns, "timestamp-columns", "", "Comma separated columns rendered as text before publishing.")
	fs.IntVar(&f.flushEvery, "flush-every", 0, "Sends between flushes; 1 confirms each record before the next.")
	fs.DurationVar(&f.drainTimeout, "drain-timeout", 0, "Upper bound for the final drain; 0 waits indefinitely.")
	fs.IntVar(&f.maxRecords, "max-records", 0, "Publish at most this many records; 0 publishes all.")
	fs.BoolVar(&f.deadLetter, "dead-letter", false, "Publish failed records to the dead-letter topic.")
	fs.BoolVar(&f.ledger, "ledger", false, "Record delivery reports in BigQuery.")
	fs.BoolVar(&f.ensureTopic, "ensure-topic", false, "Create the Kafka topic if it does not exist.")
	fs.StringVar(&f.projectID, "project", "", "Google Cloud project for Pub/Sub and the ledger.")
	return f
}

// apply overlays every flag that was set on the command line.
func (f *cliFlags) apply(fs *flag.FlagSet, cfg *config.Config) {
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "bootstrap":
			cfg.BootstrapEndpoint = f.bootstrap
		case "topic":
			cfg.TopicName = f.topic
		case "input":
			cfg.InputPath = f.input
		case "transport":
			cfg.Transport = f.transport
		case "timestamp-columns":
			cfg.TimestampColumns = config.SplitList(f.tsColumns)
		case "flush-every":
			cfg.FlushEvery = f.flushEvery
		case "drain-timeout":
			cfg.DrainTimeout = f.drainTimeout
		case "max-records":
			cfg.MaxRecords = f.maxRecords
		case "dead-letter":
			cfg.DeadLetter.Enabled = f.deadLetter
		case "ledger":
			cfg.Ledger.Enabled = f.ledger
		case "ensure-topic":
			cfg.Kafka.EnsureTopic = f.ensureTopic
		case "project":
			cfg.Pubsub.ProjectID = f.projectID
		}
	})
}
