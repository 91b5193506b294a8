package main

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ayusman/mudra/internal/landmark"
	"github.com/ayusman/mudra/internal/session"
	"github.com/ayusman/mudra/internal/source"
	"github.com/ayusman/mudra/internal/store"
	"github.com/ayusman/mudra/internal/submit"
	"github.com/ayusman/mudra/internal/tray"
)

var captureOpts struct {
	tray            bool
	serve           bool
	motionThreshold float64
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture from a local camera and predict signs server-side",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture(cmd.Context())
	},
}

func init() {
	captureCmd.Flags().BoolVar(&captureOpts.tray, "tray", false, "show a system tray menu")
	captureCmd.Flags().BoolVar(&captureOpts.serve, "serve", false, "also serve the settings API and web page")
	captureCmd.Flags().Float64Var(&captureOpts.motionThreshold, "motion", 0, "percentage of changed pixels required before detection (0 detects every frame)")
	rootCmd.AddCommand(captureCmd)
}

func runCapture(ctx context.Context) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	settings := loadSettings(st)

	pub, closePub, err := openPublisher()
	if err != nil {
		return err
	}
	defer closePub()

	det, err := source.NewHolisticDetector(source.HolisticConfig{
		Script: cfg.Capture.Script,
		Python: cfg.Capture.Python,
	})
	if err != nil {
		return fmt.Errorf("holistic detector unavailable: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var t *tray.Tray
	if captureOpts.tray {
		t = newCaptureTray(settings, st, cancel)
	}

	sess := session.New(session.Config{
		Settings:   settings,
		Client:     submit.NewClient(nil, cfg.Submit.Timeout()),
		Policy:     cfg.Batch.BusyPolicy,
		QueueLimit: cfg.Batch.QueueLimit,
		Store:      st,
		Source:     store.SourceCamera,
		Publisher:  pub,
		OnUpdate: func(u session.Update) {
			if t == nil {
				return
			}
			t.SetBusy(u.Busy)
			if u.Result != nil {
				t.SetPrediction(u.Result.Label, u.Result.Sentence)
			}
		},
	})

	capture := source.New(source.Config{
		Camera:          source.NewCamera(cfg.Capture.CameraID),
		Detector:        det,
		FPS:             cfg.Capture.FPS,
		MotionThreshold: captureOpts.motionThreshold,
		Sink:            func(r landmark.Result) { sess.Offer(r) },
	})
	if t != nil {
		t.OnToggle(capture.SetEnabled)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	run := func(fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil && ctx.Err() == nil {
				errs <- err
				cancel()
			}
		}()
	}

	run(func() error { return sess.Run(ctx) })
	run(func() error { return capture.Run(ctx) })
	if captureOpts.serve {
		run(func() error { return runServer(ctx, st, settings, nil, pub) })
	}

	if t != nil {
		// The tray owns the main thread until Quit
		go func() {
			<-ctx.Done()
			t.Quit()
		}()
		t.Run()
		cancel()
	} else {
		<-ctx.Done()
	}

	wg.Wait()
	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}

func newCaptureTray(settings *session.Settings, st *store.Store, quit func()) *tray.Tray {
	t := tray.New(settings.Snapshot().Mode)

	t.OnMode(func(mode submit.Mode) {
		next := settings.Snapshot()
		next.Mode = mode
		if err := settings.Apply(next, st); err != nil {
			log.Printf("Failed to switch mode: %v", err)
			return
		}
		log.Printf("Switched to %s model at %s", mode, submit.Resolve(next.SubmitConfig()))
	})
	settings.OnChange(func(s session.Snapshot) { t.SetMode(s.Mode) })

	t.OnSettings(func() {
		if err := openBrowser(settingsURL(cfg.Server.Addr)); err != nil {
			log.Printf("Failed to open browser: %v", err)
		}
	})
	t.OnQuit(quit)
	return t
}

func settingsURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
