package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/batch"
	"github.com/ayusman/mudra/internal/landmark"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/submit"
)

var replayOpts struct {
	noRecord bool
}

var replayCmd = &cobra.Command{
	Use:   "replay <frames.jsonl>",
	Short: "Submit a recorded JSON-lines file of landmark frames in batches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var st *store.Store
		if !replayOpts.noRecord {
			var err error
			if st, err = openStore(); err != nil {
				return err
			}
			defer st.Close()
		}

		rep, err := replayFile(cmd.Context(), args[0], loadSettings(st), st)
		if err != nil {
			return err
		}
		printReplay(os.Stdout, rep)
		return nil
	},
}

func init() {
	replayCmd.Flags().BoolVar(&replayOpts.noRecord, "no-record", false, "do not record predictions in the history")
	rootCmd.AddCommand(replayCmd)
}

// replayReport summarizes one replay run.
type replayReport struct {
	SessionID string
	Frames    int
	Leftover  int
	Outcomes  []submit.Outcome
}

// replayFile feeds every frame of path through a buffer and submits each full
// batch synchronously, so no frame is dropped. Frames left over at the end do
// not form a batch and are not sent.
func replayFile(ctx context.Context, path string, settings *session.Settings, st *store.Store) (*replayReport, error) {
	total, err := countLines(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	client := submit.NewClient(nil, cfg.Submit.Timeout())
	buf := batch.New(settings.Snapshot().BatchSize, client)

	rep := &replayReport{SessionID: uuid.New().String()}
	if st != nil {
		if err := st.Sessions().Create(&store.Session{ID: rep.SessionID, Source: store.SourceReplay}); err != nil {
			return nil, fmt.Errorf("record session: %w", err)
		}
		defer st.Sessions().End(rep.SessionID)
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Replaying"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)
	defer bar.Finish()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		bar.Add(1)
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var res landmark.Result
		if err := json.Unmarshal(scanner.Bytes(), &res); err != nil {
			return rep, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		rep.Frames++

		buf.SetThreshold(settings.Snapshot().BatchSize)
		state := buf.Append(res)
		if !state.Flushed {
			continue
		}

		snap := settings.Snapshot()
		ch, err := client.Start(ctx, state.Batch, snap.SubmitConfig())
		if err != nil {
			return rep, err
		}
		o := <-ch
		if o.Err != nil {
			log.Printf("Error in sending data to %s: %v", o.Endpoint, o.Err)
		}
		if st != nil {
			if err := st.Predictions().Create(session.PredictionRecord(rep.SessionID, snap.Mode, o)); err != nil {
				log.Printf("Failed to record prediction: %v", err)
			}
		}
		rep.Outcomes = append(rep.Outcomes, o)
	}
	if err := scanner.Err(); err != nil {
		return rep, err
	}

	rep.Leftover = buf.Len()
	return rep, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		n++
	}
	return n, scanner.Err()
}

func printReplay(w io.Writer, rep *replayReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tFRAMES\tSIGN\tSENTENCE\tLATENCY")
	fmt.Fprintln(tw, "-----\t------\t----\t--------\t-------")
	for i, o := range rep.Outcomes {
		sign := o.Result.Label
		if o.Err != nil {
			sign = "error: " + o.Err.Error()
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%dms\n", i+1, o.Frames, sign, o.Result.Sentence, o.Latency.Milliseconds())
	}
	tw.Flush()

	fmt.Fprintf(w, "\n%d frames, %d batches submitted, %d trailing frames not submitted\n", rep.Frames, len(rep.Outcomes), rep.Leftover)
}
