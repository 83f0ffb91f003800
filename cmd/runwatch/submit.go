package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/amishk599/runwatch/internal/history"
	"github.com/amishk599/runwatch/internal/model"
)

var (
	submitName       string
	submitResume     string
	submitResumeFile string
	submitJD         string
	submitJDFile     string
	submitTUI        bool
	submitDetach     bool
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit an agent run and watch it finish",
	Long: "Submits a candidate's resume and a job description to the agent service, then polls " +
		"the run until it completes or fails. With --detach, prints the task id and exits.",
	RunE: runSubmit,
}

func init() {
	f := submitCmd.Flags()
	f.StringVar(&submitName, "name", "", "candidate name")
	f.StringVar(&submitResume, "resume", "", "resume text")
	f.StringVar(&submitResumeFile, "resume-file", "", "resume file to upload")
	f.StringVar(&submitJD, "jd", "", "job description text")
	f.StringVar(&submitJDFile, "jd-file", "", "job description file to upload")
	f.BoolVar(&submitTUI, "tui", false, "show the interactive watch view")
	f.BoolVar(&submitDetach, "detach", false, "print the task id and exit without polling")

	submitCmd.MarkFlagsMutuallyExclusive("resume", "resume-file")
	submitCmd.MarkFlagsMutuallyExclusive("jd", "jd-file")
	submitCmd.MarkFlagsOneRequired("resume", "resume-file")
	submitCmd.MarkFlagsOneRequired("jd", "jd-file")
	submitCmd.MarkFlagsMutuallyExclusive("tui", "detach")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		exitf("failed to load config: %v", err)
	}

	resume, err := readDocument(submitResume, submitResumeFile)
	if err != nil {
		exitf("reading resume: %v", err)
	}
	jd, err := readDocument(submitJD, submitJDFile)
	if err != nil {
		exitf("reading job description: %v", err)
	}
	payload := model.NewAgentPayload(submitName, resume, jd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if submitDetach {
		if err := submitDetached(ctx, setupTransport(cfg), payload, os.Stdout); err != nil {
			exitf("%s", describeSubmitError(err))
		}
		return nil
	}

	logger := setupLogger(debug)
	if submitTUI {
		logger = silentLogger()
	}

	runs := make(chan []model.Snapshot, 1)
	s := newSession(cfg, historySink(submitTUI, runs), logger)
	defer s.close()

	if _, err := s.machine.Submit(ctx, payload); err != nil {
		exitf("%s", describeSubmitError(err))
	}

	st, cancelled, err := follow(ctx, stop, s, submitTUI, runs)
	if err != nil {
		exitf("watch view error: %v", err)
	}
	s.close()
	if code := report(st, cancelled); code != 0 {
		os.Exit(code)
	}
	return nil
}

// submitDetached submits the job and prints its task id. No status call is
// made; the run can be followed later with `runwatch watch`.
func submitDetached(ctx context.Context, tr model.Transport, payload model.Payload, w io.Writer) error {
	handle, err := tr.Submit(ctx, payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, handle)
	return err
}

// describeSubmitError keeps a rejection by the service apart from a service
// that could not be reached or answered garbage.
func describeSubmitError(err error) string {
	var te *model.TransportError
	if !errors.As(err, &te) {
		return fmt.Sprintf("submission failed: %v", err)
	}
	if te.Kind == model.ServerRejected {
		return "submission rejected: " + te.Message()
	}
	return "submission failed: " + te.Message()
}

// historySink prints refreshed history in plain mode and hands it to the
// watch view in TUI mode.
func historySink(useTUI bool, runs chan []model.Snapshot) history.Sink {
	if !useTUI {
		return func(recent []model.Snapshot) {
			fmt.Println("Recent runs:")
			printRuns(recent)
			fmt.Println()
		}
	}
	return func(recent []model.Snapshot) {
		select {
		case runs <- recent:
		default:
		}
	}
}

// readDocument returns the document given as text or as a file path.
func readDocument(text, path string) (model.Document, error) {
	if path == "" {
		return model.Document{Text: text}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Document{}, err
	}
	return model.Document{FileName: filepath.Base(path), Data: data}, nil
}
