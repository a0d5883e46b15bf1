package main

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/coachpo/pricebridge/internal/app/adapter"
	"github.com/coachpo/pricebridge/internal/infra/adapters"
)

func newAdaptersCommand(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "adapters",
		Short: "Print the metadata of every registered adapter as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := describeAdapters(adapters.NewRegistry())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}

func describeAdapters(registry *adapter.Registry) ([]byte, error) {
	data, err := json.MarshalIndent(registry.List(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode adapter metadata: %w", err)
	}
	return data, nil
}
