package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"extrato/internal/amqp"
	"extrato/internal/cli"
	"extrato/internal/config"
	"extrato/internal/core"
	"extrato/internal/log"
	"extrato/internal/report"
	"extrato/internal/service"
	"extrato/internal/storage"
)

const usage = `Usage: extrato <command> [flags]

Commands:
  submit   enqueue a report task
  status   look up a task by id
  add      record a transaction
  limit    set or check category spending limits

Run 'extrato <command> -h' for command flags.`

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := cli.LoadAndValidateConfig(logger)
	db := cli.OpenDatabase(logger, cfg.SQLiteDBPath)
	defer db.Close()

	transactions := storage.NewTransactionRepo(db)
	tasks := storage.NewTaskRepo(db, cfg.ResultRetention)

	loc, err := cfg.Location()
	if err != nil {
		fatal("resolve bucket timezone: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var exitCode int
	switch os.Args[1] {
	case "submit":
		exitCode = runSubmit(ctx, cfg, transactions, tasks, loc, os.Args[2:])
	case "status":
		exitCode = runStatus(ctx, transactions, tasks, loc, os.Args[2:])
	case "add":
		exitCode = runAdd(ctx, transactions, os.Args[2:])
	case "limit":
		exitCode = runLimit(ctx, transactions, tasks, loc, os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", os.Args[1], usage)
		exitCode = 2
	}
	os.Exit(exitCode)
}

func newService(tasks *storage.TaskRepo, transactions *storage.TransactionRepo, broker service.Publisher, loc *time.Location) *service.Service {
	return service.New(tasks, broker, transactions, service.WithLocation(loc))
}

func runSubmit(ctx context.Context, cfg *config.Config, transactions *storage.TransactionRepo, tasks *storage.TaskRepo, loc *time.Location, args []string) int {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	clientID := fs.String("client", "", "client id (required)")
	daysBefore := fs.String("days-before", "", "relative window: number of days back from today")
	startDate := fs.String("start", "", "start date, dd/mm or dd/mm/yyyy")
	endDate := fs.String("end", "", "end date, dd/mm or dd/mm/yyyy")
	filters := fs.String("filters", "", "filter predicates as a JSON array")
	mode := fs.String("mode", "", "aggregation bucket: day, week, month or year")
	itemized := fs.Bool("itemized", false, "emit one row per transaction instead of buckets")
	fs.Parse(args)

	if *clientID == "" {
		fmt.Fprintln(os.Stderr, "submit: -client is required")
		return 2
	}

	raw := report.RawRequest{
		StartDate:  *startDate,
		EndDate:    *endDate,
		DaysBefore: *daysBefore,
	}
	if *filters != "" {
		if err := json.Unmarshal([]byte(*filters), &raw.Filters); err != nil {
			fmt.Fprintf(os.Stderr, "submit: invalid -filters JSON: %v\n", err)
			return 2
		}
	}
	if *itemized {
		raw.Aggregation = &report.RawAggregation{Activated: false}
	} else if *mode != "" {
		raw.Aggregation = &report.RawAggregation{Mode: *mode, Activated: true}
	}

	broker, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		fmt.Fprintf(os.Stderr, "submit: connect broker: %v\n", err)
		return 1
	}
	defer broker.Close()

	svc := newService(tasks, transactions, broker, loc)
	taskID, err := svc.Submit(ctx, *clientID, raw)
	if err != nil {
		if service.IsInvalidSpec(err) {
			fmt.Fprintf(os.Stderr, "submit: rejected: %v\n", err)
			return 2
		}
		fmt.Fprintf(os.Stderr, "submit: %v\n", err)
		return 1
	}

	fmt.Println(taskID)
	return 0
}

func runStatus(ctx context.Context, transactions *storage.TransactionRepo, tasks *storage.TaskRepo, loc *time.Location, args []string) int {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	id := fs.String("id", "", "task id (required)")
	showResult := fs.Bool("result", false, "print the report CSV when the task succeeded")
	fs.Parse(args)

	taskID, err := uuid.Parse(*id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: invalid -id: %v\n", err)
		return 2
	}

	svc := newService(tasks, transactions, noPublish{}, loc)
	env, err := svc.Status(ctx, taskID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "status: %v\n", err)
		return 1
	}

	fmt.Printf("task\t%s\nstatus\t%s\nattempts\t%d\ncreated\t%s\n",
		env.ID, env.Status, env.Attempts, env.CreatedAt.Format(time.RFC3339))
	if env.FinishedAt != nil {
		fmt.Printf("finished\t%s\n", env.FinishedAt.Format(time.RFC3339))
	}
	if env.Error != nil {
		fmt.Printf("error\t%s: %s\n", env.Error.Code, env.Error.Message)
	}
	if *showResult && env.Result != nil {
		fmt.Print(*env.Result)
	}
	return 0
}

func runAdd(ctx context.Context, transactions *storage.TransactionRepo, args []string) int {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	clientID := fs.String("client", "", "client id (required)")
	amount := fs.String("amount", "", "amount, decimal (required)")
	txType := fs.String("type", string(core.Expense), "transaction type: Expense or Income")
	methodID := fs.String("method", "", "payment method id")
	categoryID := fs.String("category", "", "category id (required)")
	description := fs.String("desc", "", "free-text description")
	at := fs.String("at", "", "timestamp, RFC3339 (default: now)")
	fs.Parse(args)

	money, err := core.ParseMoney(*amount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "add: invalid -amount: %v\n", err)
		return 2
	}
	typ, err := core.ParseTransactionType(*txType)
	if err != nil {
		fmt.Fprintf(os.Stderr, "add: invalid -type %q\n", *txType)
		return 2
	}

	ts := time.Now().UTC()
	if *at != "" {
		ts, err = time.Parse(time.RFC3339, *at)
		if err != nil {
			fmt.Fprintf(os.Stderr, "add: invalid -at: %v\n", err)
			return 2
		}
	}

	tx := core.Transaction{
		ID:          uuid.New(),
		ClientID:    *clientID,
		Amount:      money,
		Type:        typ,
		MethodID:    *methodID,
		CategoryID:  *categoryID,
		Description: *description,
		Timestamp:   ts,
	}
	if err := transactions.Insert(ctx, tx); err != nil {
		fmt.Fprintf(os.Stderr, "add: %v\n", err)
		return 1
	}

	fmt.Println(tx.ID)
	return 0
}

func runLimit(ctx context.Context, transactions *storage.TransactionRepo, tasks *storage.TaskRepo, loc *time.Location, args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "limit: expected 'set' or 'check' subcommand")
		return 2
	}

	switch args[0] {
	case "set":
		fs := flag.NewFlagSet("limit set", flag.ExitOnError)
		clientID := fs.String("client", "", "client id (required)")
		categoryID := fs.String("category", "", "category id (required)")
		value := fs.String("value", "", "monthly cap, decimal (required)")
		fs.Parse(args[1:])

		monthlyCap, err := core.ParseMoney(*value)
		if err != nil {
			fmt.Fprintf(os.Stderr, "limit set: invalid -value: %v\n", err)
			return 2
		}
		l := core.Limit{ClientID: *clientID, CategoryID: *categoryID, Value: monthlyCap}
		if err := transactions.SetLimit(ctx, l); err != nil {
			fmt.Fprintf(os.Stderr, "limit set: %v\n", err)
			return 1
		}
		return 0

	case "check":
		fs := flag.NewFlagSet("limit check", flag.ExitOnError)
		clientID := fs.String("client", "", "client id (required)")
		categoryID := fs.String("category", "", "category id (all limits when omitted)")
		fs.Parse(args[1:])

		svc := newService(tasks, transactions, noPublish{}, loc)

		var reports []service.LimitReport
		if *categoryID != "" {
			r, err := svc.CheckLimit(ctx, *clientID, *categoryID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "limit check: %v\n", err)
				return 1
			}
			reports = []service.LimitReport{r}
		} else {
			var err error
			reports, err = svc.CheckAllLimits(ctx, *clientID, nil)
			if err != nil {
				fmt.Fprintf(os.Stderr, "limit check: %v\n", err)
				return 1
			}
		}

		for _, r := range reports {
			state := "ok"
			if r.Exceeded {
				state = "EXCEEDED"
			}
			fmt.Printf("%s\tlimit %s\tspent %s\t%s\n", r.CategoryID, r.Limit, r.Spent, state)
		}
		return 0

	default:
		fmt.Fprintf(os.Stderr, "limit: unknown subcommand %q\n", args[0])
		return 2
	}
}

// noPublish backs read-only commands that never enqueue work.
type noPublish struct{}

func (noPublish) PublishTask(context.Context, uuid.UUID) error {
	return fmt.Errorf("publishing not available in this command")
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
