package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"device-agent/internal/di"
	"device-agent/internal/domain/entity"
	"device-agent/internal/infrastructure/logger"
)

func newDevicesCmd() *cobra.Command {
	var deviceType string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List reachable devices per backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(settingsPath)
			if err != nil {
				return err
			}

			diCfg := di.DefaultConfig()
			diCfg.ADB.Serial = settings.ADB.Serial
			diCfg.HDC.Target = settings.HDC.Target
			if settings.WDA.URL != "" {
				diCfg.WDA.BaseURL = settings.WDA.URL
			}

			container := di.NewContainer(diCfg, logger.NewNop())
			defer container.Close()

			types := []entity.DeviceType{entity.DeviceAndroid, entity.DeviceHarmony, entity.DeviceIOS}
			if deviceType != "" {
				types = []entity.DeviceType{entity.DeviceType(deviceType)}
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			for _, dt := range types {
				backend, ok := container.Backends.Get(dt)
				if !ok {
					fmt.Printf("%s: no backend registered\n", dt)
					continue
				}
				devices, err := backend.ListDevices(ctx)
				if err != nil {
					fmt.Printf("%s: %v\n", dt, err)
					continue
				}
				if len(devices) == 0 {
					fmt.Printf("%s: no devices\n", dt)
					continue
				}
				for _, dev := range devices {
					fmt.Printf("%s: %s\n", dt, dev)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&deviceType, "device", "d", "", "Restrict to one device type")
	return cmd
}
