package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/playground/internal/httpapi"
	"github.com/aixgo-dev/playground/pkg/codec"
	"github.com/aixgo-dev/playground/pkg/location"
	"github.com/aixgo-dev/playground/pkg/playground"
)

func newEncodeCmd(flags *globalFlags) *cobra.Command {
	var programFile, envFile string
	var asURL bool

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print the share token for a program and environment",
		Long:  "Print the share token for a program and environment. A program file of - reads standard input.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var doc codec.Document
			var err error
			if doc.Program, err = readSource(cmd.InOrStdin(), programFile); err != nil {
				return err
			}
			if doc.Environment, err = readSource(cmd.InOrStdin(), envFile); err != nil {
				return err
			}

			token, err := codec.Encode(doc)
			if err != nil {
				return err
			}
			if !asURL {
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			}

			cfg, err := loadConfig(flags.configFile)
			if err != nil {
				return err
			}
			url, err := location.ShareURL(cfg.Location.BaseURL, token)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		},
	}
	cmd.Flags().StringVarP(&programFile, "program", "p", "", "program file")
	cmd.Flags().StringVarP(&envFile, "env", "e", "", "environment file")
	cmd.Flags().BoolVar(&asURL, "url", false, "print a share URL instead of the bare token")
	return cmd
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode TOKEN|URL",
		Short: "Print the program and environment carried by a share token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, ok := codec.Decode(location.ParseFragment(args[0]))
			if !ok {
				return playground.ErrInvalidToken
			}
			encoded, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the environment document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schema, err := httpapi.EnvironmentSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(schema))
			return nil
		},
	}
}

func readSource(stdin io.Reader, path string) (string, error) {
	switch path {
	case "":
		return "", nil
	case "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path) // #nosec G304 - path is supplied by the user
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
