package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/acksell/ddbmodel/dynamodb/connection"
	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/acksell/ddbmodel/dynamodb/ddbiface"
	"github.com/acksell/ddbmodel/dynamodb/ddbstore"
	"github.com/acksell/ddbmodel/dynamodb/reconcile"
	"github.com/acksell/ddbmodel/dynamodb/schema"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// commonFlags are shared by every table command.
type commonFlags struct {
	schema    string
	table     string
	local     string
	envFile   string
	namespace string
	verbosity int
}

func newFlagSet(name, summary string) (*flag.FlagSet, *commonFlags) {
	defaults := LoadCLIConfig()
	if defaults.Schema == "" {
		defaults.Schema = "tables.yaml"
	}
	if defaults.EnvFile == "" {
		defaults.EnvFile = ".env"
	}

	fs := flag.NewFlagSet(name, flag.ExitOnError)
	f := &commonFlags{}
	fs.StringVar(&f.schema, "schema", defaults.Schema, "table schema file")
	fs.StringVar(&f.table, "table", "", "unprefixed table name (default: every declared table)")
	fs.StringVar(&f.local, "local", defaults.Local, "BadgerDB directory to use instead of DynamoDB")
	fs.StringVar(&f.envFile, "env", defaults.EnvFile, "file with DYNAMODB_* settings")
	fs.StringVar(&f.namespace, "namespace", "", "table name prefix (overrides the schema and environment)")
	fs.IntVar(&f.verbosity, "v", 0, "log verbosity")
	fs.Usage = func() {
		fmt.Printf("ddb %s - %s\n\nUsage:\n  ddb %s [flags]\n\nFlags:\n", name, summary, name)
		fs.PrintDefaults()
	}
	return fs, f
}

// session is a loaded schema with a client to apply it to.
type session struct {
	cfg    *schema.Config
	tables []*schema.TableSchema
	client ddbiface.Client
	log    logr.Logger
	close  func()
	// local is set for BadgerDB sessions.
	local bool
}

func (f *commonFlags) open(ctx context.Context) (*session, error) {
	stdr.SetVerbosity(f.verbosity)
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags))

	cfg, err := schema.Load(f.schema)
	if err != nil {
		return nil, err
	}

	s := &session{log: logger, close: func() {}}
	if f.local != "" {
		store, err := ddbstore.New(ddbstore.StoreOptions{Path: f.local, Logger: logger.WithName("store")})
		if err != nil {
			return nil, err
		}
		s.client = store
		s.local = true
		s.close = func() {
			if err := store.Close(); err != nil {
				logger.Error(err, "closing store")
			}
		}
	} else {
		settings, err := connection.Load(f.envFile)
		if err != nil {
			return nil, err
		}
		client, err := connection.NewClient(ctx, settings, logger)
		if err != nil {
			return nil, err
		}
		s.client = client
		cfg = cfg.WithNamespace(settings.Namespace)
	}
	if f.namespace != "" {
		cfg = cfg.WithNamespace(f.namespace)
	}
	s.cfg = cfg

	names := cfg.ListTableNames()
	if f.table != "" {
		names = []string{f.table}
	}
	for _, name := range names {
		ts, err := schema.Compile(cfg, name)
		if err != nil {
			s.close()
			return nil, err
		}
		s.tables = append(s.tables, ts)
	}
	return s, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runCreate() error {
	fs, f := newFlagSet("create", "Create declared tables that do not exist yet")
	wait := fs.Duration("wait", 0, "maximum time to wait for each table to become active (default: until interrupted)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	s, err := f.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	r := reconcile.New(s.client, reconcilerOptions(s.log, *wait)...)
	for _, ts := range s.tables {
		if _, err := r.Create(ctx, ts); err != nil {
			if ddberrors.IsTableAlreadyExists(err) {
				fmt.Printf("%s: exists\n", ts.TableName)
				continue
			}
			return err
		}
		fmt.Printf("%s: created\n", ts.TableName)
	}
	return nil
}

func runUpdate() error {
	fs, f := newFlagSet("update", "Bring throughput and global indexes in line with the schema")
	var (
		wait       = fs.Duration("wait", 0, "maximum time to wait for each change to finish (default: until interrupted)")
		throughput = fs.Bool("throughput", false, "also apply the declared table throughput")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	s, err := f.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	opts := reconcilerOptions(s.log, *wait)
	if s.local {
		opts = append(opts, reconcile.WithBatchedIndexUpdates())
	}
	r := reconcile.New(s.client, opts...)
	for _, ts := range s.tables {
		var tp *schema.Throughput
		if *throughput {
			tp = &ts.Throughput
		}
		plan, err := r.Update(ctx, ts, tp)
		if err != nil {
			return err
		}
		fmt.Println(plan.String())
	}
	return nil
}

func runPlan() error {
	fs, f := newFlagSet("plan", "Print the changes update would make")
	throughput := fs.Bool("throughput", false, "include the declared table throughput")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	s, err := f.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	r := reconcile.New(s.client, reconcile.WithLogger(s.log))
	for _, ts := range s.tables {
		exists, err := r.Exists(ctx, ts.TableName)
		if err != nil {
			return err
		}
		if !exists {
			fmt.Printf("%s: will be created\n", ts.TableName)
			continue
		}
		var tp *schema.Throughput
		if *throughput {
			tp = &ts.Throughput
		}
		plan, err := r.Plan(ctx, ts, tp)
		if err != nil {
			return err
		}
		fmt.Println(plan.String())
	}
	return nil
}

func runDescribe() error {
	fs, f := newFlagSet("describe", "Print the live description of declared tables")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	s, err := f.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	r := reconcile.New(s.client, reconcile.WithLogger(s.log))
	for _, ts := range s.tables {
		desc, err := r.Describe(ctx, ts)
		if err != nil {
			return err
		}
		printDescription(desc)
	}
	return nil
}

func printDescription(d *types.TableDescription) {
	fmt.Printf("%s\n", aws.ToString(d.TableName))
	fmt.Printf("  status: %s\n", d.TableStatus)
	fmt.Printf("  items: %d\n", aws.ToInt64(d.ItemCount))
	fmt.Printf("  key: %s\n", keyString(d.KeySchema))
	if pt := d.ProvisionedThroughput; pt != nil {
		fmt.Printf("  throughput: read=%d write=%d\n", aws.ToInt64(pt.ReadCapacityUnits), aws.ToInt64(pt.WriteCapacityUnits))
	}
	for _, lsi := range d.LocalSecondaryIndexes {
		fmt.Printf("  local index %s: %s\n", aws.ToString(lsi.IndexName), keyString(lsi.KeySchema))
	}
	for _, gsi := range d.GlobalSecondaryIndexes {
		fmt.Printf("  global index %s: %s [%s]\n", aws.ToString(gsi.IndexName), keyString(gsi.KeySchema), gsi.IndexStatus)
	}
}

func keyString(ks []types.KeySchemaElement) string {
	parts := make([]string, 0, len(ks))
	for _, k := range ks {
		parts = append(parts, fmt.Sprintf("%s %s", aws.ToString(k.AttributeName), k.KeyType))
	}
	return strings.Join(parts, ", ")
}

func runList() error {
	fs, f := newFlagSet("list", "List the tables in the namespace")
	all := fs.Bool("all", false, "list tables outside the namespace too")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	s, err := f.open(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	p := dynamodb.NewListTablesPaginator(s.client, &dynamodb.ListTablesInput{})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, name := range out.TableNames {
			inNamespace := strings.HasPrefix(name, s.cfg.Namespace)
			if !inNamespace && !*all {
				continue
			}
			status := "undeclared"
			if _, ok := s.cfg.Tables[s.cfg.ReverseTableName(name)]; ok && inNamespace {
				status = "declared"
			}
			fmt.Printf("%s\t%s\n", name, status)
		}
	}
	return nil
}

func reconcilerOptions(logger logr.Logger, wait time.Duration) []reconcile.Option {
	opts := []reconcile.Option{reconcile.WithLogger(logger)}
	if wait > 0 {
		opts = append(opts, reconcile.WithMaxWait(wait))
	}
	return opts
}
