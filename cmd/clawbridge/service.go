package main

import (
	"context"
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/clawbridge/internal/bridge"
)

// program adapts the bridge to the system service manager.
type program struct {
	cfgPath string
	cancel  context.CancelFunc
	done    chan error
}

func (p *program) Start(service.Service) error {
	cfg, err := loadConfig(p.cfgPath)
	if err != nil {
		return err
	}
	b, err := bridge.New(cfg, newLogger(cfg.LogLevel))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() { p.done <- b.Run(ctx) }()
	return nil
}

func (p *program) Stop(service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return <-p.done
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Run or manage the bridge as a system service",
	}
	cmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")

	newService := func(c *cobra.Command) (service.Service, error) {
		cfgPath, _ := c.Flags().GetString("config")
		args := []string{"service", "run"}
		if cfgPath != "" {
			args = append(args, "--config", cfgPath)
		}
		return service.New(&program{cfgPath: cfgPath}, &service.Config{
			Name:        "clawbridge",
			DisplayName: "clawbridge",
			Description: "Telegram approval bridge for coding-agent hooks",
			Arguments:   args,
		})
	}

	for _, action := range []string{"install", "uninstall", "start", "stop"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the system service", action),
			RunE: func(c *cobra.Command, _ []string) error {
				svc, err := newService(c)
				if err != nil {
					return err
				}
				if err := service.Control(svc, c.Use); err != nil {
					return err
				}
				fmt.Printf("Service %s: done\n", c.Use)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run under the service manager (invoked by the service itself)",
		RunE: func(c *cobra.Command, _ []string) error {
			svc, err := newService(c)
			if err != nil {
				return err
			}
			return svc.Run()
		},
	})

	return cmd
}
