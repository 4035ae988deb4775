package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/syncwave/syncwave/internal/engine"
	"github.com/syncwave/syncwave/internal/types"
)

func datasourceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "datasource",
		Aliases: []string{"ds"},
		Short:   "Manage datasources",
	}
	cmd.AddCommand(datasourceAddCmd(), datasourceListCmd(), datasourceRmCmd(), datasourceTestCmd())
	return cmd
}

func datasourceAddCmd() *cobra.Command {
	var (
		kind     string
		host     string
		port     int
		username string
		password string
		database string
	)
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a datasource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds := &types.Datasource{
				Name:            args[0],
				Kind:            types.DatasourceKind(kind),
				Host:            host,
				Port:            port,
				Username:        username,
				Password:        password,
				DefaultDatabase: database,
			}
			if err := eng.CreateDatasource(cmd.Context(), ds); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(ds)
			}
			fmt.Printf("created datasource %s (%s)\n", ds.ID, ds.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "relational", "endpoint kind: relational or search")
	cmd.Flags().StringVar(&host, "host", "localhost", "endpoint host")
	cmd.Flags().IntVar(&port, "port", 3306, "endpoint port")
	cmd.Flags().StringVar(&username, "user", "", "username")
	cmd.Flags().StringVar(&password, "password", "", "password (stored encrypted)")
	cmd.Flags().StringVar(&database, "database", "", "default database for unqualified units")
	return cmd
}

func datasourceListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List datasources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := eng.ListDatasources(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(list)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKIND\tADDRESS")
			for _, ds := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s:%d\n", ds.ID, ds.Name, ds.Kind, ds.Host, ds.Port)
			}
			return w.Flush()
		},
	}
}

func datasourceRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a datasource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return eng.DeleteDatasource(cmd.Context(), args[0])
		},
	}
}

func datasourceTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <id>",
		Short: "Probe a datasource: TCP reachability, then authentication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := eng.GetDatasource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return eng.TestConnection(cmd.Context(), ds, func(step engine.ConnectionStep) {
				if jsonOutput {
					_ = printJSON(step)
					return
				}
				mark := "ok"
				if !step.OK {
					mark = "failed: " + step.Message
				}
				fmt.Printf("%-5s %s (%dms)\n", step.Name, mark, step.Millis)
			})
		},
	}
}
