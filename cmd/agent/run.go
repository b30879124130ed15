package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"device-agent/internal/application/port/output"
	"device-agent/internal/di"
	"device-agent/internal/domain/entity"
	"device-agent/internal/infrastructure/env"
	"device-agent/internal/infrastructure/logger"
)

func newRunCmd() *cobra.Command {
	var (
		task       string
		deviceType string
		maxSteps   int
		baseURL    string
		model      string
		apiKey     string
		serial     string
		connect    string
		wdaURL     string
		polish     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one task on a device",
		RunE: func(cmd *cobra.Command, args []string) error {
			envs := env.NewService()
			settings, err := loadSettings(settingsPath)
			if err != nil {
				return err
			}
			settings.applyEnv(envs)

			if task == "" {
				return fmt.Errorf("--task is required")
			}
			if deviceType == "" {
				deviceType = settings.DeviceType
			}
			if maxSteps == 0 {
				maxSteps = settings.MaxSteps
			}
			if baseURL == "" {
				baseURL = settings.BaseURL
			}
			if model == "" {
				model = settings.Model
			}
			if apiKey == "" {
				apiKey = settings.APIKey
			}
			if serial == "" {
				serial = settings.ADB.Serial
			}
			if connect == "" {
				connect = settings.ADB.Connect
			}
			if wdaURL == "" {
				wdaURL = settings.WDA.URL
			}
			if !cmd.Flags().Changed("polish") {
				polish = settings.Polish
			}

			runCfg := entity.RunConfig{
				BaseURL:      baseURL,
				Model:        model,
				APIKey:       apiKey,
				DeviceType:   entity.DeviceType(deviceType),
				DeviceSerial: serial,
				Task:         task,
				MaxSteps:     maxSteps,
				Polish:       polish,
			}
			if err := runCfg.Validate(); err != nil {
				return err
			}

			log, err := logger.NewZapAdapter(task)
			if err != nil {
				return err
			}

			diCfg := di.DefaultConfig()
			diCfg.ADB.Serial = serial
			diCfg.ADB.ConnectAddr = connect
			diCfg.HDC.Target = settings.HDC.Target
			if wdaURL != "" {
				diCfg.WDA.BaseURL = wdaURL
			}

			container := di.NewContainer(diCfg, log)
			defer container.Close()

			done := make(chan entity.ProgressEvent, 1)
			sink := output.SinkFunc(func(event entity.ProgressEvent) {
				switch event.Kind {
				case entity.EventOutputLine:
					fmt.Println(event.Line)
				case entity.EventStepStarted:
					fmt.Printf("--- step %d ---\n", event.Step)
				case entity.EventStepFinished:
					if event.Record != nil && event.Record.Err != "" {
						fmt.Printf("step %d finished with error: %s\n", event.Step, event.Record.Err)
					}
				case entity.EventRunEnded:
					done <- event
				}
			})

			handle, err := container.Controller.Start(runCfg, sink)
			if err != nil {
				return err
			}
			fmt.Printf("run %s started\n", handle)

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

			for {
				select {
				case <-interrupt:
					fmt.Println("\nstopping after the current step...")
					if err := container.Controller.Stop(handle); err != nil {
						fmt.Fprintln(os.Stderr, err)
					}
				case event := <-done:
					container.Controller.Wait(handle)
					fmt.Printf("\nrun ended: %s (%s)\n", event.State, event.Reason)
					if event.Line != "" {
						fmt.Println(event.Line)
					}
					if event.State != entity.StateCompleted {
						return fmt.Errorf("run %s: %s", event.State, event.Reason)
					}
					return nil
				}
			}
		},
	}

	cmd.Flags().StringVarP(&task, "task", "t", "", "Task description in natural language")
	cmd.Flags().StringVarP(&deviceType, "device", "d", "", "Device type: "+strings.Join([]string{
		string(entity.DeviceAndroid), string(entity.DeviceHarmony), string(entity.DeviceIOS),
	}, ", "))
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Step budget for the run")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "LLM endpoint base URL")
	cmd.Flags().StringVar(&model, "model", "", "Model name")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (prefer DEVICE_AGENT_API_KEY)")
	cmd.Flags().StringVar(&serial, "serial", "", "ADB device serial")
	cmd.Flags().StringVar(&connect, "connect", "", "ADB remote address (host:port)")
	cmd.Flags().StringVar(&wdaURL, "wda-url", "", "WebDriverAgent base URL")
	cmd.Flags().BoolVar(&polish, "polish", false, "Rewrite the task with the LLM before running")

	return cmd
}
