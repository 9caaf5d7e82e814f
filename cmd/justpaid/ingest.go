package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/justpaid/adapters/clock"
	"github.com/artpar/justpaid/adapters/idgen"
	"github.com/artpar/justpaid/app"
	"github.com/artpar/justpaid/core/formatter"
	"github.com/artpar/justpaid/domain/usage"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Submit usage events",
	Long: `Submit usage events, either a batch read from a JSON file or a single
event described with flags.

The file holds an events document: {"events": [{...}, ...]}. Use --file=-
to read it from stdin.

By default events are ingested synchronously. --async submits them as a
background job and prints the job id; --wait also waits for the job to
finish.

--generate-keys fills missing idempotency keys with ids derived from the
event itself, so submitting the same file twice reports duplicates instead
of billing twice.

Examples:
  justpaid ingest --file=events.json
  justpaid ingest --file=events.json --async --wait --max-wait=2m
  justpaid ingest --external-customer=acme --event=api_call --value=1 \
      --item=item_api_calls --generate-keys
  justpaid ingest --file=events.json --dry-run`,
	RunE: runIngest,
}

var (
	ingestFile         string
	ingestAsync        bool
	ingestWait         bool
	ingestGenerateKeys bool
	ingestDryRun       bool
	ingestMaxWait      time.Duration

	ingestEvent      string
	ingestCustomer   string
	ingestExternal   string
	ingestItem       string
	ingestValue      float64
	ingestKey        string
	ingestTimestamp  string
	ingestProperties map[string]string
)

// keyNamespace scopes derived idempotency keys.
const keyNamespace = "justpaid-cli"

func init() {
	rootCmd.AddCommand(ingestCmd)

	f := ingestCmd.Flags()
	f.StringVarP(&ingestFile, "file", "f", "", "events document to submit (- for stdin)")
	f.BoolVar(&ingestAsync, "async", false, "submit as a background job")
	f.BoolVar(&ingestWait, "wait", false, "wait for the background job to finish (implies --async)")
	f.BoolVar(&ingestGenerateKeys, "generate-keys", false, "derive missing idempotency keys from event contents")
	f.BoolVar(&ingestDryRun, "dry-run", false, "validate and summarize without submitting")
	f.DurationVar(&ingestMaxWait, "max-wait", 0, "give up waiting after this long (default from config)")

	f.StringVar(&ingestEvent, "event", "", "event name")
	f.StringVar(&ingestCustomer, "customer", "", "JustPaid customer id")
	f.StringVar(&ingestExternal, "external-customer", "", "your customer id")
	f.StringVar(&ingestItem, "item", "", "billable item id")
	f.Float64Var(&ingestValue, "value", 0, "event value")
	f.StringVar(&ingestKey, "key", "", "idempotency key")
	f.StringVar(&ingestTimestamp, "timestamp", "", "event time, RFC 3339 (default now)")
	f.StringToStringVar(&ingestProperties, "property", nil, "event property key=value (repeatable)")

	ingestCmd.MarkFlagsMutuallyExclusive("file", "event")
	addFormatFlags(ingestCmd)
}

var (
	summaryView = formatter.View{Kind: "usage summary", Columns: []string{"customer", "event_name", "count", "total"}}
	resultView  = formatter.View{Kind: "ingest result", Columns: []string{"created_events", "duplicates", "errors"}}
	ackView     = formatter.View{Kind: "job", Columns: []string{"job_id", "status", "created_at", "total_events"}}
)

// ingestResult flattens an EventResponse for display.
type ingestResult struct {
	CreatedEvents int               `json:"created_events"`
	Duplicates    []string          `json:"duplicates"`
	Errors        []usage.ErrorInfo `json:"errors"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	req, err := buildRequest(cmd)
	if err != nil {
		return err
	}
	if len(req.Events) == 0 {
		return errors.New("no events to submit")
	}

	if ingestDryRun {
		out, err := formatter.Lookup(outputFormat)
		if err != nil {
			return err
		}
		return printRecords(&env{out: out}, cmd, summaryView, usage.Aggregate(req.Events))
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}

	poll := pollConfig(e.cfg.Polling)
	if ingestMaxWait > 0 {
		poll.MaxWait = ingestMaxWait
	}
	waiter := app.NewJobWaiter(app.JobWaiterConfig{
		Jobs:   e.api,
		Clock:  clock.Real{},
		Logger: e.logger,
		Poll:   poll,
	})
	svc := app.NewUsageService(e.api, waiter, e.logger)
	ctx := cmd.Context()

	switch {
	case ingestWait:
		ack, res, err := svc.IngestAndWait(ctx, req)
		if errors.Is(err, app.ErrWaitTimeout) {
			fmt.Fprintf(cmd.ErrOrStderr(), "job %s is still running; check it later with: justpaid job status %s\n", ack.JobID, ack.JobID)
			if perr := printRecord(e, cmd, jobView, res.Response); perr != nil {
				return perr
			}
			return err
		}
		if err != nil {
			return err
		}
		return printRecord(e, cmd, jobView, res.Response)

	case ingestAsync:
		ack, err := svc.IngestAsync(ctx, req)
		if err != nil {
			return err
		}
		return printRecord(e, cmd, ackView, ack)

	default:
		resp, err := svc.Ingest(ctx, req)
		if err != nil {
			return err
		}
		return printRecord(e, cmd, resultView, ingestResult{
			CreatedEvents: resp.Info.CreatedEvents,
			Duplicates:    resp.Info.Duplicates,
			Errors:        resp.Errors,
		})
	}
}

// buildRequest reads the events document or builds a single event from the
// flags.
func buildRequest(cmd *cobra.Command) (usage.EventRequest, error) {
	if ingestFile != "" {
		data, err := readInput(cmd, ingestFile)
		if err != nil {
			return usage.EventRequest{}, err
		}
		if ingestGenerateKeys {
			if data, err = fillKeys(data, idgen.NewDerived(keyNamespace)); err != nil {
				return usage.EventRequest{}, err
			}
		}
		return usage.ParseEventRequest(data)
	}

	if ingestEvent == "" {
		return usage.EventRequest{}, errors.New("either --file or --event is required")
	}

	in := usage.EventInput{
		CustomerID:         ingestCustomer,
		EventName:          ingestEvent,
		Timestamp:          ingestTimestamp,
		IdempotencyKey:     ingestKey,
		ItemID:             ingestItem,
		ExternalCustomerID: ingestExternal,
	}
	if cmd.Flags().Changed("value") {
		in.EventValue = usage.EventValue(ingestValue)
	}
	if in.Timestamp == "" {
		in.Time = time.Now()
	}
	if len(ingestProperties) > 0 {
		in.Properties = make(map[string]any, len(ingestProperties))
		for k, v := range ingestProperties {
			in.Properties[k] = v
		}
	}
	if in.IdempotencyKey == "" && ingestGenerateKeys {
		ts := in.Timestamp
		if ts == "" {
			ts = usage.FormatTimestamp(in.Time)
		}
		value := ""
		if in.EventValue != nil {
			value = fmt.Sprint(*in.EventValue)
		}
		in.IdempotencyKey = idgen.NewDerived(keyNamespace).Derive(
			in.CustomerID, in.ExternalCustomerID, in.EventName, in.ItemID, ts, value)
	}

	ev, err := usage.NewEvent(in)
	if err != nil {
		return usage.EventRequest{}, err
	}
	return usage.NewEventRequest(ev), nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	return data, nil
}

// fillKeys sets idempotency_key on every event object of an events document
// that lacks one. The key is derived from the event's canonical JSON, so the
// same event always gets the same key. Anything that is not an events
// document is returned unchanged for the parser to reject.
func fillKeys(data []byte, gen idgen.Derived) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return data, nil
	}
	var events []json.RawMessage
	if err := json.Unmarshal(doc["events"], &events); err != nil {
		return data, nil
	}

	changed := false
	for i, raw := range events {
		var ev map[string]any
		if err := json.Unmarshal(raw, &ev); err != nil || ev == nil {
			continue
		}
		if key, ok := ev["idempotency_key"]; ok && key != nil && key != "" {
			continue
		}
		delete(ev, "idempotency_key")
		canonical, err := json.Marshal(ev)
		if err != nil {
			return nil, err
		}
		ev["idempotency_key"] = gen.Derive(string(canonical))
		if events[i], err = json.Marshal(ev); err != nil {
			return nil, err
		}
		changed = true
	}
	if !changed {
		return data, nil
	}

	var err error
	if doc["events"], err = json.Marshal(events); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
